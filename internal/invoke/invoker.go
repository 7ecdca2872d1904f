package invoke

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/sirupsen/logrus"

	"github.com/flying-sheep/arborium/internal/registry"
	"github.com/flying-sheep/arborium/internal/render"
	"github.com/flying-sheep/arborium/internal/sandbox"
	"github.com/flying-sheep/arborium/internal/wire"
)

// Defaults for Config zero values.
const (
	// DefaultCallTimeout bounds one sandboxed call. Generously above
	// normal highlighting latency; this is a safety net against hung
	// modules, not a performance target.
	DefaultCallTimeout = 10 * time.Second

	// DefaultMaxInjectionDepth bounds nested language injections.
	DefaultMaxInjectionDepth = 3
)

// Config configures an Invoker.
type Config struct {
	// CallTimeout bounds a single plugin call; expiry counts as a trap
	// and discards the instance. <= 0 selects DefaultCallTimeout.
	CallTimeout time.Duration

	// MaxInjectionDepth limits recursion into embedded languages.
	// <= 0 selects DefaultMaxInjectionDepth.
	MaxInjectionDepth int

	// Logger defaults to a discard logger.
	Logger logrus.FieldLogger
}

// Invoker executes plugins through the registry and renders their
// output.
type Invoker struct {
	registry    *registry.Registry
	log         logrus.FieldLogger
	callTimeout time.Duration
	maxDepth    int
}

// New creates an Invoker over reg.
func New(reg *registry.Registry, cfg Config) *Invoker {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxInjectionDepth <= 0 {
		cfg.MaxInjectionDepth = DefaultMaxInjectionDepth
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Invoker{
		registry:    reg,
		log:         log,
		callTimeout: cfg.CallTimeout,
		maxDepth:    cfg.MaxInjectionDepth,
	}
}

// Highlight produces tagged, escaped output for source in the given
// language. Acquisition and execution failures are returned as-is for
// the caller to inspect; the caller decides whether to degrade to plain
// escaped text.
func (inv *Invoker) Highlight(ctx context.Context, languageID, source string) (string, error) {
	return inv.highlight(ctx, languageID, source, 0)
}

func (inv *Invoker) highlight(ctx context.Context, languageID, source string, depth int) (string, error) {
	inst, err := inv.registry.Acquire(ctx, languageID)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, inv.callTimeout)
	defer cancel()

	start := time.Now()
	result, err := inst.Highlight(callCtx, source)
	if err != nil {
		if errors.Is(err, sandbox.ErrTrap) || errors.Is(err, sandbox.ErrClosed) {
			// State after a trap is undefined; force re-instantiation on
			// the next acquire. Other languages keep their instances.
			inv.registry.Discard(ctx, languageID, inst)
		}
		return "", err
	}

	limit := wire.Len16(source)
	captures, dropped := wire.FilterCaptures(result.Captures, limit)
	if dropped > 0 {
		inv.log.WithFields(logrus.Fields{
			"language": languageID,
			"dropped":  dropped,
		}).Warn("plugin emitted out-of-bounds captures")
	}

	inv.log.WithFields(logrus.Fields{
		"language": languageID,
		"size":     len(source),
		"captures": len(captures),
		"elapsed":  time.Since(start),
	}).Debug("highlight call complete")

	injections := inv.usableInjections(result.Injections, limit, depth)
	if len(injections) == 0 {
		return render.Render(source, captures), nil
	}
	return inv.renderWithInjections(ctx, source, captures, injections, depth)
}

// usableInjections validates, sorts, and de-overlaps injection ranges.
// Past the depth limit everything is rendered with the outer grammar.
func (inv *Invoker) usableInjections(injections []wire.Injection, limit uint32, depth int) []wire.Injection {
	if depth >= inv.maxDepth || len(injections) == 0 {
		return nil
	}

	valid := make([]wire.Injection, 0, len(injections))
	for _, inj := range injections {
		if wire.ValidInjection(inj, limit) {
			valid = append(valid, inj)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Start < valid[j].Start
	})

	// First writer wins, same policy as capture overlap.
	kept := valid[:0]
	var pos uint32
	for _, inj := range valid {
		if inj.Start < pos {
			continue
		}
		kept = append(kept, inj)
		pos = inj.End
	}
	return kept
}

// renderWithInjections splits the source at injection boundaries,
// rendering the gaps with the outer grammar's captures and each
// injection with its embedded language. An injection whose language
// cannot be highlighted degrades to the outer grammar for that range
// only.
func (inv *Invoker) renderWithInjections(ctx context.Context, source string, captures []wire.Capture, injections []wire.Injection, depth int) (string, error) {
	units := utf16.Encode([]rune(source))

	var b strings.Builder
	b.Grow(len(source) + len(source)/4)

	var pos uint32
	for _, inj := range injections {
		if inj.Start > pos {
			b.WriteString(render.Render(decode(units[pos:inj.Start]), sliceCaptures(captures, pos, inj.Start)))
		}

		segment := decode(units[inj.Start:inj.End])
		html, err := inv.highlight(ctx, inj.Language, segment, depth+1)
		if err != nil {
			inv.log.WithFields(logrus.Fields{
				"language": inj.Language,
			}).WithError(err).Debug("injection degraded to outer grammar")
			html = render.Render(segment, sliceCaptures(captures, inj.Start, inj.End))
		}
		b.WriteString(html)
		pos = inj.End
	}
	if pos < uint32(len(units)) {
		b.WriteString(render.Render(decode(units[pos:]), sliceCaptures(captures, pos, uint32(len(units)))))
	}
	return b.String(), nil
}

// sliceCaptures keeps the captures fully inside [lo, hi), rebased to lo.
// Captures crossing a boundary are dropped, mirroring the overlap
// policy.
func sliceCaptures(captures []wire.Capture, lo, hi uint32) []wire.Capture {
	var out []wire.Capture
	for _, c := range captures {
		if c.Start >= lo && c.End <= hi {
			out = append(out, wire.Capture{Start: c.Start - lo, End: c.End - lo, Name: c.Name})
		}
	}
	return out
}

func decode(units []uint16) string {
	return string(utf16.Decode(units))
}
