// Package wire defines the versioned contract between the host and
// compiled grammar plugins.
//
// A grammar plugin is an opaque WebAssembly artifact. It exports a small,
// versioned set of functions (see the Export* constants) and imports the
// capability environment the host registers under the module names in
// HostModules. The data shapes exchanged across that boundary live here so
// that neither side depends on the other's internals.
//
// All offsets on the wire are UTF-16 code unit indices into the source
// text, not byte offsets and not rune offsets. This matches the string
// addressing of the environments the output is rendered into and must be
// preserved exactly for surrogate-pair correctness.
package wire
