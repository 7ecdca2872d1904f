package theme

import "errors"

var (
	// ErrUnknownTheme reports a built-in theme name with no definition.
	ErrUnknownTheme = errors.New("unknown theme")

	// ErrInvalidColor reports a color value that does not parse as hex.
	ErrInvalidColor = errors.New("invalid color")

	// ErrUnknownTag reports a style keyed by a tag the renderer never
	// emits.
	ErrUnknownTag = errors.New("unknown style tag")
)
