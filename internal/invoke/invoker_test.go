package invoke

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/flying-sheep/arborium/internal/registry"
	"github.com/flying-sheep/arborium/internal/sandbox"
	"github.com/flying-sheep/arborium/internal/wire"
)

// scriptedInstance plays back a fixed result or error per call.
type scriptedInstance struct {
	mu     sync.Mutex
	result wire.ParseResult
	err    error
	calls  int
	closed bool
}

func (s *scriptedInstance) Highlight(context.Context, string) (wire.ParseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		s.closed = true
		return wire.ParseResult{}, s.err
	}
	return s.result, nil
}

func (s *scriptedInstance) LanguageID(context.Context) (string, error) { return "", nil }

func (s *scriptedInstance) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// scriptedEngine hands out per-language instances in order.
type scriptedEngine struct {
	mu        sync.Mutex
	instances map[string][]*scriptedInstance
}

func (e *scriptedEngine) Instantiate(_ context.Context, moduleBytes []byte) (sandbox.Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lang := string(moduleBytes)
	queue := e.instances[lang]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted instance for %q", lang)
	}
	inst := queue[0]
	e.instances[lang] = queue[1:]
	return inst, nil
}

func (e *scriptedEngine) Close(context.Context) error { return nil }

type identityCatalog struct{ known map[string]bool }

func (c identityCatalog) Resolve(languageID string) (string, error) {
	if !c.known[languageID] {
		return "", fmt.Errorf("%w: %s", registry.ErrUnknownLanguage, languageID)
	}
	return languageID, nil
}

type identityFetcher struct{}

func (identityFetcher) Fetch(_ context.Context, location string) ([]byte, error) {
	return []byte(location), nil
}

func newTestInvoker(t *testing.T, engine *scriptedEngine, cfg Config) (*Invoker, *registry.Registry) {
	t.Helper()
	known := make(map[string]bool)
	for lang := range engine.instances {
		known[lang] = true
	}
	reg, err := registry.New(identityCatalog{known: known}, identityFetcher{}, engine, 0)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return New(reg, cfg), reg
}

func TestHighlightRendersValidCaptures(t *testing.T) {
	engine := &scriptedEngine{instances: map[string][]*scriptedInstance{
		"go": {{result: wire.ParseResult{Captures: []wire.Capture{
			{Start: 0, End: 4, Name: "keyword"},
			{Start: 3, End: 1, Name: "string"},   // inverted: dropped
			{Start: 5, End: 999, Name: "string"}, // out of bounds: dropped
		}}}},
	}}
	inv, _ := newTestInvoker(t, engine, Config{})

	got, err := inv.Highlight(context.Background(), "go", "func main()")
	if err != nil {
		t.Fatalf("Highlight: %v", err)
	}
	want := "<a-k>func</a-k> main()"
	if got != want {
		t.Errorf("Highlight = %q, want %q", got, want)
	}
}

func TestHighlightAllCapturesInvalid(t *testing.T) {
	engine := &scriptedEngine{instances: map[string][]*scriptedInstance{
		"go": {{result: wire.ParseResult{Captures: []wire.Capture{
			{Start: 9, End: 2, Name: "keyword"},
			{Start: 0, End: 9999, Name: "string"},
		}}}},
	}}
	inv, _ := newTestInvoker(t, engine, Config{})

	// Broken output still succeeds: plain escaped text, never a failure.
	got, err := inv.Highlight(context.Background(), "go", `a < "b"`)
	if err != nil {
		t.Fatalf("Highlight: %v", err)
	}
	want := "a &lt; &quot;b&quot;"
	if got != want {
		t.Errorf("Highlight = %q, want %q", got, want)
	}
}

func TestHighlightTrapDiscardsInstance(t *testing.T) {
	healthy := &scriptedInstance{result: wire.ParseResult{
		Captures: []wire.Capture{{Start: 0, End: 2, Name: "keyword"}},
	}}
	engine := &scriptedEngine{instances: map[string][]*scriptedInstance{
		"go": {
			{err: fmt.Errorf("%w: out of bounds", sandbox.ErrTrap)},
			healthy,
		},
	}}
	inv, reg := newTestInvoker(t, engine, Config{})
	ctx := context.Background()

	if _, err := inv.Highlight(ctx, "go", "if x"); !errors.Is(err, sandbox.ErrTrap) {
		t.Fatalf("err = %v, want ErrTrap", err)
	}
	if reg.Len() != 0 {
		t.Error("trapped instance was not discarded from the cache")
	}

	// Retry forces re-instantiation and succeeds.
	got, err := inv.Highlight(ctx, "go", "if x")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got != "<a-k>if</a-k> x" {
		t.Errorf("retry = %q", got)
	}
}

func TestTrapIsolation(t *testing.T) {
	engine := &scriptedEngine{instances: map[string][]*scriptedInstance{
		"go":   {{err: fmt.Errorf("%w: boom", sandbox.ErrTrap)}},
		"rust": {{result: wire.ParseResult{Captures: []wire.Capture{{Start: 0, End: 2, Name: "keyword"}}}}},
	}}
	inv, reg := newTestInvoker(t, engine, Config{})
	ctx := context.Background()

	if _, err := inv.Highlight(ctx, "rust", "fn f()"); err != nil {
		t.Fatalf("rust: %v", err)
	}
	if _, err := inv.Highlight(ctx, "go", "func"); !errors.Is(err, sandbox.ErrTrap) {
		t.Fatalf("go err = %v, want ErrTrap", err)
	}

	// The rust instance survived go's trap.
	if reg.Len() != 1 {
		t.Errorf("cache len = %d, want 1", reg.Len())
	}
	if _, err := inv.Highlight(ctx, "rust", "fn f()"); err != nil {
		t.Errorf("rust after go trap: %v", err)
	}
}

func TestHighlightUnknownLanguage(t *testing.T) {
	engine := &scriptedEngine{instances: map[string][]*scriptedInstance{}}
	inv, _ := newTestInvoker(t, engine, Config{})

	_, err := inv.Highlight(context.Background(), "klingon", "nuqneH")
	if !errors.Is(err, registry.ErrUnknownLanguage) {
		t.Fatalf("err = %v, want ErrUnknownLanguage", err)
	}
}

func TestHighlightInjections(t *testing.T) {
	// "abc DEF ghi": outer highlights "abc", injects [4,7) as inner.
	engine := &scriptedEngine{instances: map[string][]*scriptedInstance{
		"outer": {{result: wire.ParseResult{
			Captures: []wire.Capture{
				{Start: 0, End: 3, Name: "keyword"},
				{Start: 2, End: 6, Name: "comment"}, // crosses the boundary: dropped
			},
			Injections: []wire.Injection{{Start: 4, End: 7, Language: "inner"}},
		}}},
		"inner": {{result: wire.ParseResult{
			Captures: []wire.Capture{{Start: 0, End: 3, Name: "string"}},
		}}},
	}}
	inv, _ := newTestInvoker(t, engine, Config{})

	got, err := inv.Highlight(context.Background(), "outer", "abc DEF ghi")
	if err != nil {
		t.Fatalf("Highlight: %v", err)
	}
	want := "<a-k>abc</a-k> <a-s>DEF</a-s> ghi"
	if got != want {
		t.Errorf("Highlight = %q, want %q", got, want)
	}
}

func TestHighlightInjectionLanguageUnavailable(t *testing.T) {
	engine := &scriptedEngine{instances: map[string][]*scriptedInstance{
		"outer": {{result: wire.ParseResult{
			Captures:   []wire.Capture{{Start: 4, End: 7, Name: "string"}},
			Injections: []wire.Injection{{Start: 4, End: 7, Language: "missing"}},
		}}},
	}}
	inv, _ := newTestInvoker(t, engine, Config{})

	// The injected range degrades to the outer grammar; the call still
	// succeeds.
	got, err := inv.Highlight(context.Background(), "outer", "abc DEF ghi")
	if err != nil {
		t.Fatalf("Highlight: %v", err)
	}
	want := "abc <a-s>DEF</a-s> ghi"
	if got != want {
		t.Errorf("Highlight = %q, want %q", got, want)
	}
}

func TestHighlightInjectionDepthLimit(t *testing.T) {
	// Both layers inject; with depth 1 only the first level recurses.
	inner := &scriptedInstance{result: wire.ParseResult{
		Captures:   []wire.Capture{{Start: 0, End: 3, Name: "string"}},
		Injections: []wire.Injection{{Start: 0, End: 3, Language: "outer"}},
	}}
	engine := &scriptedEngine{instances: map[string][]*scriptedInstance{
		"outer": {{result: wire.ParseResult{
			Injections: []wire.Injection{{Start: 0, End: 3, Language: "inner"}},
		}}},
		"inner": {inner},
	}}
	inv, _ := newTestInvoker(t, engine, Config{MaxInjectionDepth: 1})

	got, err := inv.Highlight(context.Background(), "outer", "DEF")
	if err != nil {
		t.Fatalf("Highlight: %v", err)
	}
	if got != "<a-s>DEF</a-s>" {
		t.Errorf("Highlight = %q", got)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1 (no recursion past depth limit)", inner.calls)
	}
}

func TestHighlightOverlappingInjections(t *testing.T) {
	engine := &scriptedEngine{instances: map[string][]*scriptedInstance{
		"outer": {{result: wire.ParseResult{
			Injections: []wire.Injection{
				{Start: 0, End: 5, Language: "inner"},
				{Start: 3, End: 8, Language: "inner"}, // overlaps: dropped whole
			},
		}}},
		"inner": {{result: wire.ParseResult{
			Captures: []wire.Capture{{Start: 0, End: 5, Name: "number"}},
		}}},
	}}
	inv, _ := newTestInvoker(t, engine, Config{})

	got, err := inv.Highlight(context.Background(), "outer", "01234 rest")
	if err != nil {
		t.Fatalf("Highlight: %v", err)
	}
	want := "<a-n>01234</a-n> rest"
	if got != want {
		t.Errorf("Highlight = %q, want %q", got, want)
	}
}
