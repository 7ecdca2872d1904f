// Package arborium highlights source code by running sandboxed grammar
// plugins compiled to wasm. A Highlighter loads plugin artifacts from a
// local directory or a remote registry, executes them in a capability
// environment with no filesystem or network reach, and renders their
// captures as HTML with custom <a-*> elements styled by a theme.
package arborium

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flying-sheep/arborium/internal/config"
	"github.com/flying-sheep/arborium/internal/invoke"
	"github.com/flying-sheep/arborium/internal/registry"
	"github.com/flying-sheep/arborium/internal/render"
	"github.com/flying-sheep/arborium/internal/sandbox"
	"github.com/flying-sheep/arborium/internal/theme"
)

// Options configures a Highlighter. Exactly one of PluginDir or BaseURL
// must be set.
type Options struct {
	// PluginDir is a local directory of <language>.wasm artifacts.
	PluginDir string

	// BaseURL is a remote artifact root; requires Manifest.
	BaseURL string

	// Manifest is the path of a JSON catalog mapping language ids to
	// artifact locations and aliases. Optional with PluginDir, required
	// with BaseURL.
	Manifest string

	// Theme names a built-in theme, or the path of a TOML theme file
	// when it ends in ".toml". Empty selects the default theme.
	Theme string

	// CallTimeout bounds a single plugin call. Zero selects the
	// default.
	CallTimeout time.Duration

	// MaxInstances bounds the live plugin cache. Zero selects the
	// default.
	MaxInstances int

	// MaxInjectionDepth bounds recursion into embedded languages. Zero
	// selects the default.
	MaxInjectionDepth int

	// Watch invalidates cached plugins when their artifact changes on
	// disk. Only meaningful with PluginDir.
	Watch bool

	// Degrade makes Highlight swallow execution failures and return
	// escaped plain text with a nil error. Without it the escaped
	// fallback is returned alongside the error.
	Degrade bool

	// Logger defaults to a discard logger.
	Logger logrus.FieldLogger

	// HTTPClient overrides the artifact download client.
	HTTPClient *http.Client
}

// FromConfig maps a loaded configuration onto Options.
func FromConfig(c config.Options) Options {
	return Options{
		PluginDir:         c.PluginDir,
		BaseURL:           c.BaseURL,
		Manifest:          c.Manifest,
		Theme:             c.Theme,
		CallTimeout:       c.CallTimeout.Std(),
		MaxInstances:      c.MaxInstances,
		MaxInjectionDepth: c.MaxInjectionDepth,
		Watch:             c.Watch,
	}
}

// Highlighter is the public entry point. Safe for concurrent use.
type Highlighter struct {
	engine   *sandbox.WazeroEngine
	registry *registry.Registry
	invoker  *invoke.Invoker
	watcher  *registry.Watcher
	theme    *theme.Theme
	catalog  registry.Catalog
	degrade  bool
}

// New builds a Highlighter from opts. The context covers construction
// only; a cancelation later does not tear the Highlighter down.
func New(ctx context.Context, opts Options) (*Highlighter, error) {
	cfg := config.Options{
		PluginDir:         opts.PluginDir,
		BaseURL:           opts.BaseURL,
		Manifest:          opts.Manifest,
		Theme:             opts.Theme,
		CallTimeout:       config.Duration(opts.CallTimeout),
		MaxInstances:      opts.MaxInstances,
		MaxInjectionDepth: opts.MaxInjectionDepth,
		Watch:             opts.Watch,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	th, err := loadTheme(cfg.Theme)
	if err != nil {
		return nil, err
	}

	catalog, fetcher, err := buildSource(cfg, opts.HTTPClient)
	if err != nil {
		return nil, err
	}

	log := opts.Logger

	engine, err := sandbox.NewWazeroEngine(ctx, log)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(catalog, fetcher, engine, cfg.MaxInstances, registry.WithLogger(log))
	if err != nil {
		_ = engine.Close(ctx)
		return nil, err
	}

	h := &Highlighter{
		engine:   engine,
		registry: reg,
		invoker: invoke.New(reg, invoke.Config{
			CallTimeout:       cfg.CallTimeout.Std(),
			MaxInjectionDepth: cfg.MaxInjectionDepth,
			Logger:            log,
		}),
		theme:   th,
		catalog: catalog,
		degrade: opts.Degrade,
	}

	if cfg.Watch {
		w, err := registry.WatchDir(cfg.PluginDir, reg, log)
		if err != nil {
			_ = h.Close(ctx)
			return nil, fmt.Errorf("watching %s: %w", cfg.PluginDir, err)
		}
		h.watcher = w
	}
	return h, nil
}

func loadTheme(name string) (*theme.Theme, error) {
	if strings.HasSuffix(name, ".toml") {
		return theme.Load(name)
	}
	return theme.Builtin(name)
}

func buildSource(cfg config.Options, client *http.Client) (registry.Catalog, registry.Fetcher, error) {
	if cfg.BaseURL != "" {
		catalog, err := registry.LoadManifest(cfg.Manifest)
		if err != nil {
			return nil, nil, err
		}
		return catalog, &registry.HTTPFetcher{BaseURL: cfg.BaseURL, Client: client}, nil
	}
	if cfg.Manifest != "" {
		catalog, err := registry.LoadManifest(cfg.Manifest)
		if err != nil {
			return nil, nil, err
		}
		return catalog, registry.FileFetcher{Dir: cfg.PluginDir}, nil
	}
	return registry.DirCatalog{Dir: cfg.PluginDir}, registry.FileFetcher{}, nil
}

// Highlight runs the language's plugin over source and returns an HTML
// fragment. On failure it returns the escaped source as a safe
// fallback, with the error unless Degrade is on. The fragment is
// usable as-is inside an element carrying the theme's container class.
func (h *Highlighter) Highlight(ctx context.Context, languageID, source string) (string, error) {
	out, err := h.invoker.Highlight(ctx, languageID, source)
	if err != nil {
		if h.degrade {
			return render.Escape(source), nil
		}
		return render.Escape(source), err
	}
	return out, nil
}

// Preload loads and caches the language's plugin without highlighting
// anything. Useful to surface artifact problems at startup.
func (h *Highlighter) Preload(ctx context.Context, languageID string) error {
	_, err := h.registry.Acquire(ctx, languageID)
	return err
}

// Languages lists the language identifiers the catalog can resolve,
// aliases included. Empty when the catalog cannot enumerate.
func (h *Highlighter) Languages() []string {
	if l, ok := h.catalog.(interface{ Languages() []string }); ok {
		return l.Languages()
	}
	return nil
}

// Stylesheet returns the theme's CSS.
func (h *Highlighter) Stylesheet() string {
	return h.theme.Stylesheet()
}

// Close releases every plugin instance and the sandbox runtime.
func (h *Highlighter) Close(ctx context.Context) error {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
	_ = h.registry.Close(ctx)
	return h.engine.Close(ctx)
}

// Escape returns source with &, <, > and " replaced by entities. The
// same escaping Highlight applies, exposed for fallback paths.
func Escape(source string) string {
	return render.Escape(source)
}

// ContainerClass is the CSS class the stylesheet scopes its rules
// under; wrap highlighted fragments in an element carrying it.
const ContainerClass = theme.ContainerClass
