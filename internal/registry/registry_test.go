package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flying-sheep/arborium/internal/sandbox"
	"github.com/flying-sheep/arborium/internal/wire"
)

type fakeInstance struct {
	id     int
	closed atomic.Bool
}

func (f *fakeInstance) Highlight(context.Context, string) (wire.ParseResult, error) {
	return wire.ParseResult{}, nil
}

func (f *fakeInstance) LanguageID(context.Context) (string, error) { return "", nil }

func (f *fakeInstance) Close(context.Context) error {
	f.closed.Store(true)
	return nil
}

type fakeEngine struct {
	mu        sync.Mutex
	instances int
	err       error
}

func (e *fakeEngine) Instantiate(context.Context, []byte) (sandbox.Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.instances++
	return &fakeInstance{id: e.instances}, nil
}

func (e *fakeEngine) Close(context.Context) error { return nil }

type fakeCatalog struct{ unknown bool }

func (c fakeCatalog) Resolve(languageID string) (string, error) {
	if c.unknown {
		return "", fmt.Errorf("%w: %s", ErrUnknownLanguage, languageID)
	}
	return languageID + ".wasm", nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	fetches int
	errs    []error // consumed one per fetch; nil entries succeed
	block   chan struct{}
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.mu.Lock()
	f.fetches++
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return []byte{0}, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func newTestRegistry(t *testing.T, catalog Catalog, fetcher Fetcher, engine sandbox.Engine, max int) *Registry {
	t.Helper()
	r, err := New(catalog, fetcher, engine, max)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestAcquireCachesInstance(t *testing.T) {
	fetcher := &fakeFetcher{}
	r := newTestRegistry(t, fakeCatalog{}, fetcher, &fakeEngine{}, 0)
	ctx := context.Background()

	first, err := r.Acquire(ctx, "go")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	second, err := r.Acquire(ctx, "go")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if first != second {
		t.Error("sequential Acquire returned different instances")
	}
	if fetcher.count() != 1 {
		t.Errorf("fetches = %d, want 1", fetcher.count())
	}
}

func TestConcurrentAcquireSingleLoad(t *testing.T) {
	fetcher := &fakeFetcher{block: make(chan struct{})}
	r := newTestRegistry(t, fakeCatalog{}, fetcher, &fakeEngine{}, 0)
	ctx := context.Background()

	const callers = 8
	results := make(chan sandbox.Instance, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			inst, err := r.Acquire(ctx, "rust")
			if err != nil {
				errs <- err
				return
			}
			results <- inst
		}()
	}

	// Let every caller reach the in-flight join before the fetch
	// completes.
	time.Sleep(50 * time.Millisecond)
	close(fetcher.block)

	var first sandbox.Instance
	for i := 0; i < callers; i++ {
		select {
		case err := <-errs:
			t.Fatalf("Acquire: %v", err)
		case inst := <-results:
			if first == nil {
				first = inst
			} else if inst != first {
				t.Error("concurrent callers observed different instances")
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for Acquire")
		}
	}
	if fetcher.count() != 1 {
		t.Errorf("fetches = %d, want exactly 1 for concurrent first use", fetcher.count())
	}
}

func TestAcquireUnknownLanguage(t *testing.T) {
	fetcher := &fakeFetcher{}
	r := newTestRegistry(t, fakeCatalog{unknown: true}, fetcher, &fakeEngine{}, 0)

	_, err := r.Acquire(context.Background(), "klingon")
	if !errors.Is(err, ErrUnknownLanguage) {
		t.Fatalf("err = %v, want ErrUnknownLanguage", err)
	}
	if fetcher.count() != 0 {
		t.Errorf("fetches = %d, want 0 for unknown language", fetcher.count())
	}
}

func TestAcquireFetchFailureIsNotCached(t *testing.T) {
	fetcher := &fakeFetcher{errs: []error{errors.New("connection refused")}}
	r := newTestRegistry(t, fakeCatalog{}, fetcher, &fakeEngine{}, 0)
	ctx := context.Background()

	if _, err := r.Acquire(ctx, "go"); !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
	// Failure populated nothing; a later call retries and succeeds.
	if _, err := r.Acquire(ctx, "go"); err != nil {
		t.Fatalf("retry Acquire: %v", err)
	}
	if fetcher.count() != 2 {
		t.Errorf("fetches = %d, want 2", fetcher.count())
	}
}

func TestAcquireInstantiationFailure(t *testing.T) {
	engine := &fakeEngine{err: errors.New("unsatisfied import")}
	r := newTestRegistry(t, fakeCatalog{}, &fakeFetcher{}, engine, 0)

	_, err := r.Acquire(context.Background(), "go")
	if !errors.Is(err, ErrInstantiate) {
		t.Fatalf("err = %v, want ErrInstantiate", err)
	}
	if r.Len() != 0 {
		t.Error("failed load must not populate the cache")
	}
}

func TestDiscardForcesReinstantiation(t *testing.T) {
	fetcher := &fakeFetcher{}
	r := newTestRegistry(t, fakeCatalog{}, fetcher, &fakeEngine{}, 0)
	ctx := context.Background()

	first, err := r.Acquire(ctx, "go")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	r.Discard(ctx, "go", first)

	if !first.(*fakeInstance).closed.Load() {
		t.Error("discarded instance was not closed")
	}

	second, err := r.Acquire(ctx, "go")
	if err != nil {
		t.Fatalf("Acquire after discard: %v", err)
	}
	if second == first {
		t.Error("Acquire after discard returned the discarded instance")
	}
	if fetcher.count() != 2 {
		t.Errorf("fetches = %d, want 2", fetcher.count())
	}
}

func TestDiscardDoesNotAffectOtherLanguages(t *testing.T) {
	r := newTestRegistry(t, fakeCatalog{}, &fakeFetcher{}, &fakeEngine{}, 0)
	ctx := context.Background()

	goInst, _ := r.Acquire(ctx, "go")
	rustInst, _ := r.Acquire(ctx, "rust")

	r.Discard(ctx, "go", goInst)

	again, err := r.Acquire(ctx, "rust")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if again != rustInst {
		t.Error("discard of one language invalidated another")
	}
	if rustInst.(*fakeInstance).closed.Load() {
		t.Error("unrelated instance was closed")
	}
}

func TestDiscardStaleInstance(t *testing.T) {
	r := newTestRegistry(t, fakeCatalog{}, &fakeFetcher{}, &fakeEngine{}, 0)
	ctx := context.Background()

	first, _ := r.Acquire(ctx, "go")
	r.Invalidate("go")
	second, _ := r.Acquire(ctx, "go")

	// Discarding the stale handle must not evict the fresh one.
	r.Discard(ctx, "go", first)
	current, err := r.Acquire(ctx, "go")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if current != second {
		t.Error("stale discard evicted the fresh instance")
	}
}

func TestEvictionClosesInstance(t *testing.T) {
	r := newTestRegistry(t, fakeCatalog{}, &fakeFetcher{}, &fakeEngine{}, 1)
	ctx := context.Background()

	first, _ := r.Acquire(ctx, "go")
	if _, err := r.Acquire(ctx, "rust"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !first.(*fakeInstance).closed.Load() {
		t.Error("evicted instance was not closed")
	}
}

func TestCloseRegistry(t *testing.T) {
	r := newTestRegistry(t, fakeCatalog{}, &fakeFetcher{}, &fakeEngine{}, 0)
	ctx := context.Background()

	inst, _ := r.Acquire(ctx, "go")
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !inst.(*fakeInstance).closed.Load() {
		t.Error("Close did not close cached instances")
	}
	if _, err := r.Acquire(ctx, "go"); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("err = %v, want ErrRegistryClosed", err)
	}
}
