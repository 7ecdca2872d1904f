package wire

import "unicode/utf16"

// Version is the wire protocol version. Host and plugin must agree on it
// exactly; a plugin reporting any other version is refused at
// instantiation.
const Version uint32 = 1

// HostModules are the import module names under which the host registers
// the capability environment. Both names resolve to the same handler set
// so that plugins compiled against either naming convention of the same
// logical interface instantiate successfully.
var HostModules = []string{
	"wasi_snapshot_preview1",
	"wasi_unstable",
}

// Exported function names a grammar plugin must provide.
const (
	// ExportABIVersion reports the plugin's wire version.
	// Signature: arb_abi_version() -> u32
	ExportABIVersion = "arb_abi_version"

	// ExportAlloc allocates guest memory for host-written input.
	// Signature: arb_alloc(len: u32) -> u32 (pointer)
	ExportAlloc = "arb_alloc"

	// ExportFree releases guest memory previously returned by arb_alloc
	// or referenced by an arb_highlight result.
	// Signature: arb_free(ptr: u32, len: u32)
	ExportFree = "arb_free"

	// ExportHighlight highlights UTF-8 source text written at ptr/len and
	// returns a packed pointer/length (ptr<<32 | len) of a JSON-encoded
	// ParseResult in guest memory. A zero return signals plugin failure.
	// Signature: arb_highlight(ptr: u32, len: u32) -> u64
	ExportHighlight = "arb_highlight"

	// ExportLanguageID optionally reports the plugin's language
	// identifier as a packed pointer/length of UTF-8 bytes.
	// Signature: arb_language_id() -> u64
	ExportLanguageID = "arb_language_id"
)

// CompatibleVersion reports whether a plugin's wire version can be served
// by this host. The policy is exact match; a mismatch requires a new
// plugin build, not a guess.
func CompatibleVersion(v uint32) bool {
	return v == Version
}

// Capture is a raw highlight annotation emitted by a plugin. Start and
// End are UTF-16 code unit offsets into the source text, End exclusive.
type Capture struct {
	Start uint32
	End   uint32
	Name  string
}

// Injection marks a range of the source that should be re-highlighted as
// another language (an embedded language block).
type Injection struct {
	Start           uint32
	End             uint32
	Language        string
	IncludeChildren bool
}

// ParseResult is everything a plugin reports for one highlight call.
type ParseResult struct {
	Captures   []Capture
	Injections []Injection
}

// Len16 returns the length of s in UTF-16 code units, the unit all wire
// offsets are expressed in.
func Len16(s string) uint32 {
	n := 0
	for _, r := range s {
		n += len(utf16.Encode([]rune{r}))
	}
	return uint32(n)
}

// ValidCapture reports whether c addresses a well-formed range of a
// source text of limit UTF-16 units. Plugins are untrusted; anything out
// of range is dropped by the caller rather than propagated.
func ValidCapture(c Capture, limit uint32) bool {
	return c.Start <= c.End && c.End <= limit
}

// ValidInjection reports whether inj addresses a non-empty, in-bounds
// range and names a language.
func ValidInjection(inj Injection, limit uint32) bool {
	return inj.Start < inj.End && inj.End <= limit && inj.Language != ""
}

// FilterCaptures returns the captures of rs that are valid for a source
// of limit UTF-16 units, preserving emission order. The second result is
// the number dropped.
func FilterCaptures(rs []Capture, limit uint32) ([]Capture, int) {
	kept := make([]Capture, 0, len(rs))
	for _, c := range rs {
		if ValidCapture(c, limit) {
			kept = append(kept, c)
		}
	}
	return kept, len(rs) - len(kept)
}

// PackPtrLen packs a guest pointer and length into the u64 return shape
// used by arb_highlight and arb_language_id.
func PackPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackPtrLen splits a packed u64 into guest pointer and length.
func UnpackPtrLen(v uint64) (ptr, length uint32) {
	return uint32(v >> 32), uint32(v)
}
