// Package invoke runs acquired plugin instances and shapes their raw
// output into rendered results.
//
// The invoker owns the best-effort policy: malformed captures are
// dropped individually, a trapped or hung instance is discarded so the
// next acquire re-instantiates it, and language injections are resolved
// recursively up to a configured depth. Highlighting failure never
// prevents the source text from being emitted in escaped plain form.
package invoke
