package arborium

import (
	"github.com/flying-sheep/arborium/internal/registry"
	"github.com/flying-sheep/arborium/internal/sandbox"
	"github.com/flying-sheep/arborium/internal/theme"
)

// Error sentinels, inspectable with errors.Is on anything Highlight,
// Preload, or New return.
var (
	// ErrUnknownLanguage marks a language the catalog cannot resolve.
	ErrUnknownLanguage = registry.ErrUnknownLanguage

	// ErrFetch marks a failure obtaining a plugin artifact.
	ErrFetch = registry.ErrFetch

	// ErrInstantiate marks a plugin artifact that could not be loaded
	// into the sandbox.
	ErrInstantiate = registry.ErrInstantiate

	// ErrTrap marks a plugin that faulted, exited, or timed out during
	// a call.
	ErrTrap = sandbox.ErrTrap

	// ErrUnknownTheme marks an unrecognized built-in theme name.
	ErrUnknownTheme = theme.ErrUnknownTheme
)
