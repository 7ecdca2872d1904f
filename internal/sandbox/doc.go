// Package sandbox executes compiled grammar plugins inside a
// capability-mediated WebAssembly runtime.
//
// The Engine interface hides the execution engine so that the registry
// and invoker can be exercised against fakes; the production
// implementation is wazero. A sandboxed call runs to completion once
// started, is serialized per instance (one call at a time), and any fault
// inside the sandbox surfaces as ErrTrap rather than a host crash. An
// instance that trapped is closed: its internal state is undefined and it
// must not serve further calls.
package sandbox
