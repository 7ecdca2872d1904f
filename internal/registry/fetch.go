package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher obtains raw module bytes from a resolved artifact location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// FileFetcher reads artifacts from the local filesystem.
type FileFetcher struct {
	// Dir anchors relative locations when set. Absolute locations are
	// read as-is.
	Dir string
}

// Fetch reads the artifact file at location.
func (f FileFetcher) Fetch(_ context.Context, location string) ([]byte, error) {
	path := location
	if f.Dir != "" && !filepath.IsAbs(location) {
		path = filepath.Join(f.Dir, location)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return data, nil
}

// HTTPFetcher downloads artifacts relative to a base URL.
type HTTPFetcher struct {
	// BaseURL is prepended to relative artifact locations.
	BaseURL string

	// Client defaults to a client with a 30s timeout.
	Client *http.Client
}

// MaxArtifactSize bounds a fetched module. Compiled grammar plugins are
// single-digit megabytes; anything larger is a broken or hostile
// artifact.
const MaxArtifactSize = 64 << 20

// Fetch downloads the artifact at location, resolved against BaseURL
// when relative.
func (f *HTTPFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	target, err := f.resolve(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetch, target, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if len(data) > MaxArtifactSize {
		return nil, fmt.Errorf("%w: artifact exceeds %d bytes", ErrFetch, MaxArtifactSize)
	}
	return data, nil
}

func (f *HTTPFetcher) resolve(location string) (string, error) {
	if strings.Contains(location, "://") {
		return location, nil
	}
	base, err := url.Parse(f.BaseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
