// Package render converts source text plus raw captures into tagged,
// escaped output.
//
// Rendering is deterministic: captures are stably sorted by start offset,
// overlaps are resolved first-writer-wins (a capture starting inside an
// already emitted region is discarded whole, never clipped), and every
// UTF-16 code unit of the source appears in the output exactly once.
// Offsets are computed against the unescaped source; escaping happens
// only at emission time.
package render
