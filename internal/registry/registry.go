package registry

import (
	"context"
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/flying-sheep/arborium/internal/sandbox"
)

// DefaultMaxInstances bounds the instance cache. Eviction closes the
// evicted instance; a later Acquire re-instantiates it.
const DefaultMaxInstances = 64

// Registry caches live plugin instances keyed by language identifier.
type Registry struct {
	catalog Catalog
	fetcher Fetcher
	engine  sandbox.Engine
	log     logrus.FieldLogger

	group singleflight.Group

	mu     sync.Mutex
	cache  *lru.Cache[string, sandbox.Instance]
	closed bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// New creates a registry over the given catalog, fetcher, and engine.
func New(catalog Catalog, fetcher Fetcher, engine sandbox.Engine, maxInstances int, opts ...Option) (*Registry, error) {
	if maxInstances <= 0 {
		maxInstances = DefaultMaxInstances
	}

	r := &Registry{
		catalog: catalog,
		fetcher: fetcher,
		engine:  engine,
		log:     newDiscardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	cache, err := lru.NewWithEvict[string, sandbox.Instance](maxInstances,
		func(languageID string, inst sandbox.Instance) {
			_ = inst.Close(context.Background())
		})
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Acquire returns a ready instance for languageID, loading and caching
// it on first use. Concurrent callers for the same not-yet-cached
// language join one in-flight load and observe its single outcome. A
// caller whose context ends while waiting detaches; the load itself
// continues for the others.
func (r *Registry) Acquire(ctx context.Context, languageID string) (sandbox.Instance, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if inst, ok := r.cache.Get(languageID); ok {
		r.mu.Unlock()
		return inst, nil
	}
	r.mu.Unlock()

	ch := r.group.DoChan(languageID, func() (interface{}, error) {
		// Detached from the first caller's context: every waiter shares
		// this load.
		return r.load(context.WithoutCancel(ctx), languageID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(sandbox.Instance), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load performs the resolve → fetch → instantiate sequence. A failure at
// any step populates nothing; the in-flight marker clears when the
// singleflight call returns, so a later Acquire retries from scratch.
func (r *Registry) load(ctx context.Context, languageID string) (sandbox.Instance, error) {
	// A load finishing just before ours started may have populated the
	// cache already.
	r.mu.Lock()
	if inst, ok := r.cache.Get(languageID); ok {
		r.mu.Unlock()
		return inst, nil
	}
	r.mu.Unlock()

	location, err := r.catalog.Resolve(languageID)
	if err != nil {
		return nil, err
	}

	moduleBytes, err := r.fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}

	inst, err := r.engine.Instantiate(ctx, moduleBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInstantiate, err)
	}

	if id, err := inst.LanguageID(ctx); err == nil && id != "" && id != languageID {
		// Aliases make a mismatch legitimate; worth a note, not a
		// refusal.
		r.log.WithFields(logrus.Fields{
			"requested": languageID,
			"reported":  id,
		}).Debug("plugin reports different language id")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = inst.Close(ctx)
		return nil, ErrRegistryClosed
	}
	r.cache.Add(languageID, inst)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"language": languageID,
		"size":     len(moduleBytes),
	}).Info("plugin loaded")
	return inst, nil
}

// Discard drops inst from the cache and closes it. Used after a trap:
// the instance's internal state is undefined, and the next Acquire for
// the language must re-instantiate. Other languages are unaffected.
func (r *Registry) Discard(ctx context.Context, languageID string, inst sandbox.Instance) {
	r.mu.Lock()
	if cur, ok := r.cache.Peek(languageID); ok && cur == inst {
		// Evict callback closes it.
		r.cache.Remove(languageID)
		r.mu.Unlock()
		r.log.WithField("language", languageID).Warn("plugin instance discarded")
		return
	}
	r.mu.Unlock()
	// Already replaced or never cached; just close this one.
	_ = inst.Close(ctx)
}

// Invalidate drops any cached instance for languageID, closing it. The
// next Acquire loads a fresh artifact.
func (r *Registry) Invalidate(languageID string) {
	r.mu.Lock()
	removed := r.cache.Remove(languageID)
	r.mu.Unlock()
	if removed {
		r.log.WithField("language", languageID).Debug("cached plugin invalidated")
	}
}

// Len returns the number of cached instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}

// Close closes every cached instance and refuses further loads.
func (r *Registry) Close(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.cache.Purge()
	return nil
}

func newDiscardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
