package theme

import (
	"fmt"
	"sort"
)

// DefaultName is the theme used when none is configured.
const DefaultName = "arbor-dark"

// Builtin returns a copy of the named built-in theme.
func Builtin(name string) (*Theme, error) {
	src, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTheme, name)
	}
	t := src
	t.Styles = make(map[string]Style, len(src.Styles))
	for tag, style := range src.Styles {
		t.Styles[tag] = style
	}
	return &t, nil
}

// Names lists the built-in theme names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var builtins = map[string]Theme{
	"arbor-dark": {
		Name:       "arbor-dark",
		Background: "#1a1b26",
		Foreground: "#c0caf5",
		Styles: map[string]Style{
			"k":  {Color: "#bb9af7"},
			"f":  {Color: "#7aa2f7"},
			"s":  {Color: "#9ece6a"},
			"c":  {Color: "#565f89", Italic: true},
			"t":  {Color: "#2ac3de"},
			"v":  {Color: "#c0caf5"},
			"n":  {Color: "#ff9e64"},
			"o":  {Color: "#89ddff"},
			"p":  {Color: "#a9b1d6"},
			"tg": {Color: "#f7768e"},
			"at": {Color: "#e0af68"},
		},
	},
	"arbor-light": {
		Name:       "arbor-light",
		Background: "#fafafa",
		Foreground: "#383a42",
		Styles: map[string]Style{
			"k":  {Color: "#a626a4"},
			"f":  {Color: "#4078f2"},
			"s":  {Color: "#50a14f"},
			"c":  {Color: "#a0a1a7", Italic: true},
			"t":  {Color: "#0184bc"},
			"v":  {Color: "#383a42"},
			"n":  {Color: "#986801"},
			"o":  {Color: "#0184bc"},
			"p":  {Color: "#696c77"},
			"tg": {Color: "#e45649"},
			"at": {Color: "#986801"},
		},
	},
}
