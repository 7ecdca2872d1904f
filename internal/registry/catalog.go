package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// Catalog resolves a language identifier to a module artifact location.
// The location is opaque to the registry; only the Fetcher interprets it.
type Catalog interface {
	// Resolve returns the artifact location for languageID, or an error
	// wrapping ErrUnknownLanguage.
	Resolve(languageID string) (string, error)
}

// DirCatalog maps languages onto a directory of compiled plugins, one
// "<language>.wasm" per language.
type DirCatalog struct {
	// Dir is the plugin directory.
	Dir string
}

// Resolve returns the plugin path if the artifact file exists.
func (c DirCatalog) Resolve(languageID string) (string, error) {
	if !validLanguageID(languageID) {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, languageID)
	}
	path := filepath.Join(c.Dir, languageID+".wasm")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownLanguage, languageID)
	}
	return path, nil
}

// Languages lists the languages with an artifact present in the
// directory.
func (c DirCatalog) Languages() []string {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".wasm" {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".wasm"))
	}
	return out
}

// ManifestCatalog resolves languages through a static JSON manifest:
//
//	{
//	  "languages": {
//	    "javascript": {"artifact": "javascript.wasm", "aliases": ["js"]},
//	    "rust": {"artifact": "rust.wasm"}
//	  }
//	}
//
// Aliases resolve to the same artifact as their canonical language.
type ManifestCatalog struct {
	artifacts map[string]string
}

// LoadManifest reads and parses a catalog manifest file.
func LoadManifest(path string) (*ManifestCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest builds a catalog from manifest bytes.
func ParseManifest(data []byte) (*ManifestCatalog, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse manifest: invalid JSON")
	}
	languages := gjson.GetBytes(data, "languages")
	if !languages.IsObject() {
		return nil, fmt.Errorf(`parse manifest: missing "languages" object`)
	}

	c := &ManifestCatalog{artifacts: make(map[string]string)}
	var badEntry error
	languages.ForEach(func(key, value gjson.Result) bool {
		artifact := value.Get("artifact")
		if !artifact.Exists() || artifact.String() == "" {
			badEntry = fmt.Errorf("parse manifest: language %q has no artifact", key.String())
			return false
		}
		c.artifacts[key.String()] = artifact.String()
		for _, alias := range value.Get("aliases").Array() {
			c.artifacts[alias.String()] = artifact.String()
		}
		return true
	})
	if badEntry != nil {
		return nil, badEntry
	}
	return c, nil
}

// Resolve looks up languageID or one of its aliases.
func (c *ManifestCatalog) Resolve(languageID string) (string, error) {
	if artifact, ok := c.artifacts[languageID]; ok {
		return artifact, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownLanguage, languageID)
}

// Languages returns all resolvable identifiers, aliases included.
func (c *ManifestCatalog) Languages() []string {
	out := make([]string, 0, len(c.artifacts))
	for id := range c.artifacts {
		out = append(out, id)
	}
	return out
}

// validLanguageID rejects identifiers that could escape a directory
// lookup. Language identifiers are lowercase names like "javascript" or
// "c-sharp".
func validLanguageID(id string) bool {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return false
	}
	return true
}
