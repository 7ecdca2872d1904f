package sandbox

import (
	"context"
	"errors"

	"github.com/flying-sheep/arborium/internal/wire"
)

// Execution errors.
var (
	// ErrTrap is returned when a sandboxed call faults, exhausts its
	// resources, times out, or explicitly signals a fatal error.
	ErrTrap = errors.New("plugin execution trapped")

	// ErrClosed is returned when calling into an instance that has been
	// closed or discarded after a trap.
	ErrClosed = errors.New("plugin instance is closed")
)

// Engine turns module bytes into live, sandboxed plugin instances.
type Engine interface {
	// Instantiate compiles and instantiates a grammar module against the
	// capability environment. It fails fast on malformed bytes, missing
	// exports, unsatisfiable imports, or a wire version mismatch.
	Instantiate(ctx context.Context, moduleBytes []byte) (Instance, error)

	// Close releases the engine and every instance created from it.
	Close(ctx context.Context) error
}

// Instance is one live plugin bound to one grammar module.
//
// Highlight is deterministic for a fixed instance and input; concurrent
// calls are serialized internally.
type Instance interface {
	// Highlight runs the plugin's entry point over source and returns
	// its raw, unvalidated parse result. Faults return ErrTrap and leave
	// the instance closed.
	Highlight(ctx context.Context, source string) (wire.ParseResult, error)

	// LanguageID reports the language identifier compiled into the
	// plugin, or "" if the plugin does not export one.
	LanguageID(ctx context.Context) (string, error)

	// Close tears down the instance. Safe to call more than once.
	Close(ctx context.Context) error
}
