// Package config holds the embedding-layer options: where plugin
// artifacts live, how they are fetched, and the runtime limits on
// sandboxed calls. Options load from a YAML file, with ARBORIUM_*
// environment variables taking precedence over file values.
package config
