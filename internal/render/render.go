package render

import (
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/flying-sheep/arborium/internal/wire"
)

// escaper rewrites the four HTML-special characters to named entities.
// Nothing else is altered, so output length is the only thing escaping
// changes, never offsets.
var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// Escape returns source with HTML-special characters replaced by named
// entities.
func Escape(source string) string {
	return escaper.Replace(source)
}

// Render emits the highlighted form of source: a strict partition into
// alternating plain and tagged escaped segments covering every code unit
// exactly once.
//
// Captures may arrive unsorted (plugins emit in query-evaluation order)
// and overlapping; sorting is stable so equal start offsets keep emission
// order, and an overlapping capture is skipped entirely. Out-of-bounds
// captures are skipped defensively even though the invoker validates
// first.
func Render(source string, captures []wire.Capture) string {
	if len(captures) == 0 {
		return Escape(source)
	}

	units := utf16.Encode([]rune(source))
	limit := uint32(len(units))

	sorted := make([]wire.Capture, len(captures))
	copy(sorted, captures)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	var b strings.Builder
	b.Grow(len(source) + len(source)/4)

	var pos uint32
	for _, c := range sorted {
		if !wire.ValidCapture(c, limit) {
			continue
		}
		if c.Start < pos {
			// Overlaps an already emitted region: first writer wins.
			continue
		}
		if c.Start > pos {
			b.WriteString(Escape(decode(units[pos:c.Start])))
		}

		text := Escape(decode(units[c.Start:c.End]))
		if tag := TagFor(c.Name); tag != "" {
			b.WriteString("<")
			b.WriteString(TagPrefix)
			b.WriteString(tag)
			b.WriteString(">")
			b.WriteString(text)
			b.WriteString("</")
			b.WriteString(TagPrefix)
			b.WriteString(tag)
			b.WriteString(">")
		} else {
			b.WriteString(text)
		}
		pos = c.End
	}

	if pos < limit {
		b.WriteString(Escape(decode(units[pos:])))
	}
	return b.String()
}

func decode(units []uint16) string {
	return string(utf16.Decode(units))
}
