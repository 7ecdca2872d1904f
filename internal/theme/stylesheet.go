package theme

import (
	"strings"

	"github.com/flying-sheep/arborium/internal/render"
)

// ContainerClass is the class carried by the element wrapping highlighted
// output; the tag rules are scoped under it.
const ContainerClass = "arborium"

// Stylesheet renders the theme as CSS. Rules appear in the renderer's
// tag order so output is deterministic for a given theme.
func (t *Theme) Stylesheet() string {
	var b strings.Builder

	b.WriteString("." + ContainerClass + " {")
	if t.Background != "" {
		b.WriteString(" background-color: " + t.Background + ";")
	}
	if t.Foreground != "" {
		b.WriteString(" color: " + t.Foreground + ";")
	}
	b.WriteString(" }\n")

	for _, tag := range render.Tags() {
		style, ok := t.Styles[tag]
		if !ok {
			continue
		}
		b.WriteString("." + ContainerClass + " " + render.TagPrefix + tag + " {")
		if style.Color != "" {
			b.WriteString(" color: " + style.Color + ";")
		}
		if style.Bold {
			b.WriteString(" font-weight: bold;")
		}
		if style.Italic {
			b.WriteString(" font-style: italic;")
		}
		if style.Underline {
			b.WriteString(" text-decoration: underline;")
		}
		b.WriteString(" }\n")
	}
	return b.String()
}
