package theme

import (
	"fmt"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/flying-sheep/arborium/internal/render"
)

// Style describes the presentation of one tag.
type Style struct {
	// Color is a hex color, "#rgb" or "#rrggbb". Empty inherits the
	// theme foreground.
	Color     string `toml:"color"`
	Bold      bool   `toml:"bold"`
	Italic    bool   `toml:"italic"`
	Underline bool   `toml:"underline"`
}

// Theme maps presentation tags to styles.
type Theme struct {
	Name       string           `toml:"name"`
	Background string           `toml:"background"`
	Foreground string           `toml:"foreground"`
	Styles     map[string]Style `toml:"styles"`
}

// Load reads and validates a TOML theme file.
func Load(path string) (*Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading theme file %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("theme file %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a TOML theme definition and normalizes its colors.
func Parse(data []byte) (*Theme, error) {
	var t Theme
	if err := toml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if err := t.normalize(); err != nil {
		return nil, err
	}
	return &t, nil
}

// normalize checks every color and tag key, lowercasing colors to
// "#rrggbb" form so stylesheets are stable regardless of input casing.
func (t *Theme) normalize() error {
	known := make(map[string]bool, len(render.Tags()))
	for _, tag := range render.Tags() {
		known[tag] = true
	}

	var err error
	if t.Background, err = normalizeHex(t.Background, "background"); err != nil {
		return err
	}
	if t.Foreground, err = normalizeHex(t.Foreground, "foreground"); err != nil {
		return err
	}
	for tag, style := range t.Styles {
		if !known[tag] {
			return fmt.Errorf("%w: %q", ErrUnknownTag, tag)
		}
		if style.Color == "" {
			continue
		}
		style.Color, err = normalizeHex(style.Color, tag)
		if err != nil {
			return err
		}
		t.Styles[tag] = style
	}
	return nil
}

func normalizeHex(value, field string) (string, error) {
	if value == "" {
		return "", nil
	}
	// colorful accepts "#rgb" and "#rrggbb"; Hex() re-emits the long
	// lowercase form.
	c, err := colorful.Hex(value)
	if err != nil {
		return "", fmt.Errorf("%w: %s %q", ErrInvalidColor, field, value)
	}
	return c.Hex(), nil
}
