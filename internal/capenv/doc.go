// Package capenv builds the capability environment presented to
// sandboxed grammar plugins.
//
// Every effectful import a plugin can declare resolves to a handler
// defined here, and none of them reaches real host state beyond an
// explicit allowlist: randomness is served from the host's cryptographic
// source and the wall clock is readable, everything else is a
// deterministic stub. The environment is registered under both host
// module names in wire.HostModules so plugins built against either naming
// convention of the interface link successfully.
//
// Stub contracts:
//   - arguments and environment variables: always empty
//   - standard input: immediate end-of-input
//   - standard output/error: writes succeed, report the full byte count,
//     and are discarded
//   - filesystem: no preopened directories, opens fail with ENOENT
//   - process exit: surfaces as a host-visible execution failure
//   - clock: real wall/monotonic time at a fixed 1ms stated resolution
package capenv
