package registry

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "go.wasm")
	want := []byte{0x00, 0x61, 0x73, 0x6d}
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FileFetcher{}.Fetch(context.Background(), path)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("bytes = %v, want %v", got, want)
	}

	_, err = FileFetcher{}.Fetch(context.Background(), filepath.Join(dir, "missing.wasm"))
	if !errors.Is(err, ErrFetch) {
		t.Errorf("err = %v, want ErrFetch", err)
	}
}

func TestFileFetcherDir(t *testing.T) {
	dir := t.TempDir()
	want := []byte{0x00, 0x61, 0x73, 0x6d}
	if err := os.WriteFile(filepath.Join(dir, "go.wasm"), want, 0o644); err != nil {
		t.Fatal(err)
	}

	// Relative locations anchor on Dir; absolute ones do not.
	got, err := FileFetcher{Dir: dir}.Fetch(context.Background(), "go.wasm")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("bytes = %v, want %v", got, want)
	}

	got, err = FileFetcher{Dir: t.TempDir()}.Fetch(context.Background(), filepath.Join(dir, "go.wasm"))
	if err != nil {
		t.Fatalf("Fetch absolute: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("bytes = %v, want %v", got, want)
	}
}

func TestHTTPFetcher(t *testing.T) {
	want := []byte("wasm-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/plugins/go.wasm" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(want)
	}))
	defer srv.Close()

	f := &HTTPFetcher{BaseURL: srv.URL + "/plugins/"}

	got, err := f.Fetch(context.Background(), "go.wasm")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("bytes = %q, want %q", got, want)
	}

	if _, err := f.Fetch(context.Background(), "missing.wasm"); !errors.Is(err, ErrFetch) {
		t.Errorf("404: err = %v, want ErrFetch", err)
	}
}

func TestHTTPFetcherAbsoluteLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// An absolute location bypasses the base URL.
	f := &HTTPFetcher{BaseURL: "http://invalid.example/"}
	got, err := f.Fetch(context.Background(), srv.URL+"/direct.wasm")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "ok" {
		t.Errorf("bytes = %q", got)
	}
}

func TestHTTPFetcherConnectionError(t *testing.T) {
	f := &HTTPFetcher{BaseURL: "http://127.0.0.1:1/"}
	if _, err := f.Fetch(context.Background(), "go.wasm"); !errors.Is(err, ErrFetch) {
		t.Errorf("err = %v, want ErrFetch", err)
	}
}
