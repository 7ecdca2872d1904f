package registry

import "errors"

// Registry failure kinds. Each is a distinct, inspectable outcome; none
// crashes the host.
var (
	// ErrUnknownLanguage is returned when the catalog has no entry for
	// the requested identifier. Not worth retrying.
	ErrUnknownLanguage = errors.New("unknown language")

	// ErrFetch is returned when the module artifact could not be
	// obtained. The caller may retry.
	ErrFetch = errors.New("module fetch failed")

	// ErrInstantiate is returned when module bytes are malformed or the
	// module's required interface has no matching handler set. A new
	// plugin build is needed; retrying the same artifact cannot succeed.
	ErrInstantiate = errors.New("module instantiation failed")

	// ErrRegistryClosed is returned when acquiring from a closed
	// registry.
	ErrRegistryClosed = errors.New("registry is closed")
)
