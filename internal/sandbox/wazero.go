package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/flying-sheep/arborium/internal/capenv"
	"github.com/flying-sheep/arborium/internal/wire"
)

// WazeroEngine runs plugins on the wazero WebAssembly runtime. One
// capability environment backs every instance; plugins never receive
// ambient host access.
type WazeroEngine struct {
	rt      wazero.Runtime
	log     logrus.FieldLogger
	counter atomic.Uint64
}

// NewWazeroEngine creates a runtime with the capability environment
// installed under every wire contract module name. Contexts passed to
// Instance.Highlight cancel in-flight calls (the runtime closes the
// module when its context is done).
func NewWazeroEngine(ctx context.Context, log logrus.FieldLogger) (*WazeroEngine, error) {
	if log == nil {
		log = discardLogger()
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true))

	if err := capenv.New().Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("install capability environment: %w", err)
	}

	return &WazeroEngine{rt: rt, log: log}, nil
}

// Instantiate compiles moduleBytes and binds it to the capability
// environment, validating the wire contract before the instance is
// handed out.
func (e *WazeroEngine) Instantiate(ctx context.Context, moduleBytes []byte) (Instance, error) {
	compiled, err := e.rt.CompileModule(ctx, moduleBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}

	name := fmt.Sprintf("plugin-%d", e.counter.Add(1))
	mod, err := e.rt.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(name).WithStartFunctions("_initialize"))
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("instantiate module: %w", err)
	}

	inst, err := newWazeroInstance(ctx, mod)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}
	e.log.WithField("module", name).Debug("plugin instantiated")
	return inst, nil
}

// Close tears down the runtime and all instances created from it.
func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.rt.Close(ctx)
}

// wazeroInstance wraps one instantiated module. Calls are serialized by
// mu: a wasm instance is not reentrant, and serializing per instance
// (never per registry) keeps unrelated languages contention-free.
type wazeroInstance struct {
	mu     sync.Mutex
	mod    api.Module
	closed bool

	alloc      api.Function
	free       api.Function
	highlight  api.Function
	languageID api.Function // optional export
}

func newWazeroInstance(ctx context.Context, mod api.Module) (*wazeroInstance, error) {
	if mod.Memory() == nil {
		return nil, errors.New("module exports no memory")
	}

	inst := &wazeroInstance{mod: mod}
	for _, req := range []struct {
		name string
		fn   *api.Function
	}{
		{wire.ExportAlloc, &inst.alloc},
		{wire.ExportFree, &inst.free},
		{wire.ExportHighlight, &inst.highlight},
	} {
		f := mod.ExportedFunction(req.name)
		if f == nil {
			return nil, fmt.Errorf("module does not export %q", req.name)
		}
		*req.fn = f
	}
	inst.languageID = mod.ExportedFunction(wire.ExportLanguageID)

	abi := mod.ExportedFunction(wire.ExportABIVersion)
	if abi == nil {
		return nil, fmt.Errorf("module does not export %q", wire.ExportABIVersion)
	}
	res, err := abi.Call(ctx)
	if err != nil {
		return nil, fmt.Errorf("query wire version: %w", err)
	}
	if v := uint32(res[0]); !wire.CompatibleVersion(v) {
		return nil, fmt.Errorf("unsupported wire version %d (host speaks %d)", v, wire.Version)
	}

	return inst, nil
}

// Highlight marshals source into guest memory, runs the entry point, and
// decodes the result. Any fault closes the instance: guest state after a
// trap is undefined.
func (i *wazeroInstance) Highlight(ctx context.Context, source string) (wire.ParseResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return wire.ParseResult{}, ErrClosed
	}

	src := []byte(source)
	var srcPtr uint32
	if len(src) > 0 {
		res, err := i.alloc.Call(ctx, uint64(len(src)))
		if err != nil {
			return wire.ParseResult{}, i.trap(ctx, err)
		}
		srcPtr = uint32(res[0])
		if !i.mod.Memory().Write(srcPtr, src) {
			return wire.ParseResult{}, i.trap(ctx, errors.New("source buffer out of bounds"))
		}
	}

	res, err := i.highlight.Call(ctx, uint64(srcPtr), uint64(len(src)))
	if err != nil {
		return wire.ParseResult{}, i.trap(ctx, err)
	}

	packed := res[0]
	if packed == 0 {
		return wire.ParseResult{}, i.trap(ctx, errors.New("plugin reported failure"))
	}

	ptr, length := wire.UnpackPtrLen(packed)
	view, ok := i.mod.Memory().Read(ptr, length)
	if !ok {
		return wire.ParseResult{}, i.trap(ctx, errors.New("result buffer out of bounds"))
	}
	// The view aliases guest memory; copy before freeing.
	data := make([]byte, len(view))
	copy(data, view)

	// Best-effort release of guest buffers.
	if len(src) > 0 {
		_, _ = i.free.Call(ctx, uint64(srcPtr), uint64(len(src)))
	}
	_, _ = i.free.Call(ctx, uint64(ptr), uint64(length))

	result, err := wire.DecodeResult(data)
	if err != nil {
		return wire.ParseResult{}, i.trap(ctx, err)
	}
	return result, nil
}

// LanguageID queries the optional language identifier export.
func (i *wazeroInstance) LanguageID(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return "", ErrClosed
	}
	if i.languageID == nil {
		return "", nil
	}

	res, err := i.languageID.Call(ctx)
	if err != nil {
		return "", i.trap(ctx, err)
	}
	ptr, length := wire.UnpackPtrLen(res[0])
	if length == 0 {
		return "", nil
	}
	view, ok := i.mod.Memory().Read(ptr, length)
	if !ok {
		return "", i.trap(ctx, errors.New("language id out of bounds"))
	}
	id := string(view)
	_, _ = i.free.Call(ctx, uint64(ptr), uint64(length))
	return id, nil
}

// Close tears down the instance. Idempotent.
func (i *wazeroInstance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	return i.mod.Close(ctx)
}

// trap records a fault, closes the instance, and returns the classified
// error. Caller holds mu.
func (i *wazeroInstance) trap(ctx context.Context, cause error) error {
	i.closed = true
	_ = i.mod.Close(ctx)
	return classifyTrap(cause)
}

// classifyTrap wraps a sandboxed fault as ErrTrap, keeping the most
// useful cause text.
func classifyTrap(cause error) error {
	var exitErr *sys.ExitError
	switch {
	case errors.As(cause, &exitErr):
		return fmt.Errorf("%w: plugin exited with code %d", ErrTrap, exitErr.ExitCode())
	case errors.Is(cause, context.DeadlineExceeded):
		return fmt.Errorf("%w: call deadline exceeded", ErrTrap)
	default:
		return fmt.Errorf("%w: %v", ErrTrap, cause)
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
