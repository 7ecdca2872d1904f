package render

import "strings"

// TagPrefix is prepended to every presentation tag, producing elements
// like <a-k> for keywords.
const TagPrefix = "a-"

// TagFor classifies a capture name into a short presentation tag, or ""
// for names outside the shared vocabulary (rendered as plain escaped
// text). Classification is on the leading dot-separated segment, so
// "keyword.control.import" lands with "keyword".
func TagFor(name string) string {
	head := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		head = name[:i]
	}

	switch head {
	case "keyword", "include", "conditional", "repeat", "exception":
		return "k"
	case "function", "method", "constructor":
		return "f"
	case "string", "character":
		return "s"
	case "comment":
		return "c"
	case "type":
		return "t"
	case "variable", "parameter", "constant":
		return "v"
	case "number", "float":
		return "n"
	case "operator":
		return "o"
	case "punctuation":
		return "p"
	case "tag":
		return "tg"
	case "attribute", "property":
		return "at"
	default:
		return ""
	}
}

// Tags lists every presentation tag TagFor can produce, for stylesheet
// generation.
func Tags() []string {
	return []string{"k", "f", "s", "c", "t", "v", "n", "o", "p", "tg", "at"}
}
