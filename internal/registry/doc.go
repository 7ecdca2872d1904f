// Package registry maps language identifiers to live plugin instances.
//
// Acquire resolves a language through the catalog, fetches the module
// artifact, instantiates it in the sandbox, and caches the instance.
// Concurrent first loads of the same language join a single in-flight
// operation and share its outcome; a failed load populates nothing, so a
// later call retries from scratch. Nothing is retried automatically;
// retry policy belongs to the caller.
package registry
