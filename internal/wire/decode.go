package wire

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformedResult is returned when a plugin's result bytes are not a
// well-formed ParseResult document.
var ErrMalformedResult = errors.New("wire: malformed parse result")

// DecodeResult parses the JSON ParseResult a plugin wrote into guest
// memory.
//
// Shape:
//
//	{
//	  "spans": [{"start": 0, "end": 5, "capture": "keyword"}],
//	  "injections": [{"start": 8, "end": 20, "language": "css",
//	                  "includeChildren": false}]
//	}
//
// Individual malformed array entries are skipped; only a structurally
// unusable document is an error. A broken plugin degrades to fewer
// captures, never to a host failure.
func DecodeResult(data []byte) (ParseResult, error) {
	if !gjson.ValidBytes(data) {
		return ParseResult{}, fmt.Errorf("%w: invalid JSON", ErrMalformedResult)
	}

	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return ParseResult{}, fmt.Errorf("%w: top level is not an object", ErrMalformedResult)
	}

	var res ParseResult

	spans := doc.Get("spans")
	if spans.Exists() && spans.IsArray() {
		arr := spans.Array()
		res.Captures = make([]Capture, 0, len(arr))
		for _, s := range arr {
			name := s.Get("capture")
			start := s.Get("start")
			end := s.Get("end")
			if !name.Exists() || !start.Exists() || !end.Exists() {
				continue
			}
			res.Captures = append(res.Captures, Capture{
				Start: uint32(start.Uint()),
				End:   uint32(end.Uint()),
				Name:  name.String(),
			})
		}
	}

	injections := doc.Get("injections")
	if injections.Exists() && injections.IsArray() {
		arr := injections.Array()
		res.Injections = make([]Injection, 0, len(arr))
		for _, inj := range arr {
			lang := inj.Get("language")
			start := inj.Get("start")
			end := inj.Get("end")
			if !lang.Exists() || !start.Exists() || !end.Exists() {
				continue
			}
			res.Injections = append(res.Injections, Injection{
				Start:           uint32(start.Uint()),
				End:             uint32(end.Uint()),
				Language:        lang.String(),
				IncludeChildren: inj.Get("includeChildren").Bool(),
			})
		}
	}

	return res, nil
}
