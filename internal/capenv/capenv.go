package capenv

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/flying-sheep/arborium/internal/wire"
)

// WASI preview1 errno values used by the stub handlers.
const (
	errnoSuccess uint32 = 0
	errnoBadf    uint32 = 8
	errnoFault   uint32 = 21
	errnoInval   uint32 = 28
	errnoIO      uint32 = 29
	errnoNoent   uint32 = 44
	errnoNosys   uint32 = 52
	errnoSpipe   uint32 = 70
)

// clockResolutionNs is the stated clock granularity. Plugins get no
// promise of sub-millisecond precision.
const clockResolutionNs = uint64(time.Millisecond)

// Environment is the process-wide set of effect handlers. It carries no
// per-call mutable state and is safe to share across every plugin
// instance in a runtime.
type Environment struct {
	epoch time.Time
}

// New creates a capability environment. The monotonic clock presented to
// plugins starts at zero here.
func New() *Environment {
	return &Environment{epoch: time.Now()}
}

// Instantiate registers the handler set into rt under every host module
// name of the wire contract, so a plugin built against any supported
// naming convention resolves its imports.
func (e *Environment) Instantiate(ctx context.Context, rt wazero.Runtime) error {
	for _, name := range wire.HostModules {
		if err := e.instantiateAs(ctx, rt, name); err != nil {
			return err
		}
	}
	return nil
}

func (e *Environment) instantiateAs(ctx context.Context, rt wazero.Runtime, name string) error {
	i32 := api.ValueTypeI32
	i64 := api.ValueTypeI64

	b := rt.NewHostModuleBuilder(name)
	export := func(name string, fn func(context.Context, api.Module, []uint64), params, results []api.ValueType) {
		b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(fn), params, results).
			Export(name)
	}

	export("args_get", e.emptyListGet, []api.ValueType{i32, i32}, []api.ValueType{i32})
	export("args_sizes_get", e.emptyListSizesGet, []api.ValueType{i32, i32}, []api.ValueType{i32})
	export("environ_get", e.emptyListGet, []api.ValueType{i32, i32}, []api.ValueType{i32})
	export("environ_sizes_get", e.emptyListSizesGet, []api.ValueType{i32, i32}, []api.ValueType{i32})
	export("clock_res_get", e.clockResGet, []api.ValueType{i32, i32}, []api.ValueType{i32})
	export("clock_time_get", e.clockTimeGet, []api.ValueType{i32, i64, i32}, []api.ValueType{i32})
	export("fd_close", e.fdClose, []api.ValueType{i32}, []api.ValueType{i32})
	export("fd_fdstat_get", e.fdFdstatGet, []api.ValueType{i32, i32}, []api.ValueType{i32})
	export("fd_prestat_get", e.fdPrestatGet, []api.ValueType{i32, i32}, []api.ValueType{i32})
	export("fd_prestat_dir_name", e.fdPrestatDirName, []api.ValueType{i32, i32, i32}, []api.ValueType{i32})
	export("fd_read", e.fdRead, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	export("fd_seek", e.fdSeek, []api.ValueType{i32, i64, i32, i32}, []api.ValueType{i32})
	export("fd_write", e.fdWrite, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	export("path_open", e.pathOpen,
		[]api.ValueType{i32, i32, i32, i32, i32, i64, i64, i32, i32}, []api.ValueType{i32})
	export("poll_oneoff", e.pollOneoff, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	export("proc_exit", e.procExit, []api.ValueType{i32}, nil)
	export("random_get", e.randomGet, []api.ValueType{i32, i32}, []api.ValueType{i32})
	export("sched_yield", e.schedYield, nil, []api.ValueType{i32})

	_, err := b.Instantiate(ctx)
	return err
}

// emptyListSizesGet serves args_sizes_get and environ_sizes_get: there
// are no arguments and no environment variables, ever.
func (e *Environment) emptyListSizesGet(_ context.Context, mod api.Module, stack []uint64) {
	countPtr, bufSizePtr := uint32(stack[0]), uint32(stack[1])
	mem := mod.Memory()
	if !mem.WriteUint32Le(countPtr, 0) || !mem.WriteUint32Le(bufSizePtr, 0) {
		stack[0] = uint64(errnoFault)
		return
	}
	stack[0] = uint64(errnoSuccess)
}

// emptyListGet serves args_get and environ_get. With zero entries there
// is nothing to write.
func (e *Environment) emptyListGet(_ context.Context, _ api.Module, stack []uint64) {
	stack[0] = uint64(errnoSuccess)
}

func (e *Environment) clockResGet(_ context.Context, mod api.Module, stack []uint64) {
	resultPtr := uint32(stack[1])
	if !mod.Memory().WriteUint64Le(resultPtr, clockResolutionNs) {
		stack[0] = uint64(errnoFault)
		return
	}
	stack[0] = uint64(errnoSuccess)
}

func (e *Environment) clockTimeGet(_ context.Context, mod api.Module, stack []uint64) {
	clockID := uint32(stack[0])
	resultPtr := uint32(stack[2])

	var now uint64
	switch clockID {
	case 0: // realtime
		now = uint64(time.Now().UnixNano())
	case 1: // monotonic
		now = uint64(time.Since(e.epoch).Nanoseconds())
	default:
		stack[0] = uint64(errnoInval)
		return
	}

	if !mod.Memory().WriteUint64Le(resultPtr, now) {
		stack[0] = uint64(errnoFault)
		return
	}
	stack[0] = uint64(errnoSuccess)
}

func (e *Environment) fdClose(_ context.Context, _ api.Module, stack []uint64) {
	if fd := uint32(stack[0]); fd > 2 {
		stack[0] = uint64(errnoBadf)
		return
	}
	stack[0] = uint64(errnoSuccess)
}

func (e *Environment) fdFdstatGet(_ context.Context, mod api.Module, stack []uint64) {
	fd, bufPtr := uint32(stack[0]), uint32(stack[1])
	if fd > 2 {
		stack[0] = uint64(errnoBadf)
		return
	}
	// fdstat is 24 bytes: filetype u8, flags u16, rights u64 x2.
	// Character device, no flags, no rights.
	buf := make([]byte, 24)
	buf[0] = 2 // character_device
	if !mod.Memory().Write(bufPtr, buf) {
		stack[0] = uint64(errnoFault)
		return
	}
	stack[0] = uint64(errnoSuccess)
}

// fdPrestatGet reports no preopened directories. A plugin that needs
// real file access fails here instead of silently running on wrong data.
func (e *Environment) fdPrestatGet(_ context.Context, _ api.Module, stack []uint64) {
	stack[0] = uint64(errnoBadf)
}

func (e *Environment) fdPrestatDirName(_ context.Context, _ api.Module, stack []uint64) {
	stack[0] = uint64(errnoBadf)
}

// fdRead serves standard input: immediate end-of-input.
func (e *Environment) fdRead(_ context.Context, mod api.Module, stack []uint64) {
	fd, nreadPtr := uint32(stack[0]), uint32(stack[3])
	if fd != 0 {
		stack[0] = uint64(errnoBadf)
		return
	}
	if !mod.Memory().WriteUint32Le(nreadPtr, 0) {
		stack[0] = uint64(errnoFault)
		return
	}
	stack[0] = uint64(errnoSuccess)
}

func (e *Environment) fdSeek(_ context.Context, _ api.Module, stack []uint64) {
	if fd := uint32(stack[0]); fd > 2 {
		stack[0] = uint64(errnoBadf)
		return
	}
	stack[0] = uint64(errnoSpipe)
}

// fdWrite accepts and discards writes to stdout/stderr, reporting the
// full byte count so the plugin never blocks or retries believing output
// failed.
func (e *Environment) fdWrite(_ context.Context, mod api.Module, stack []uint64) {
	fd := uint32(stack[0])
	iovs := uint32(stack[1])
	iovsLen := uint32(stack[2])
	nwrittenPtr := uint32(stack[3])

	if fd != 1 && fd != 2 {
		stack[0] = uint64(errnoBadf)
		return
	}

	mem := mod.Memory()
	var total uint32
	for i := uint32(0); i < iovsLen; i++ {
		// iovec is {buf: u32, len: u32}
		n, ok := mem.ReadUint32Le(iovs + i*8 + 4)
		if !ok {
			stack[0] = uint64(errnoFault)
			return
		}
		total += n
	}
	if !mem.WriteUint32Le(nwrittenPtr, total) {
		stack[0] = uint64(errnoFault)
		return
	}
	stack[0] = uint64(errnoSuccess)
}

// pathOpen reports every path as absent; there is no filesystem.
func (e *Environment) pathOpen(_ context.Context, _ api.Module, stack []uint64) {
	stack[0] = uint64(errnoNoent)
}

func (e *Environment) pollOneoff(_ context.Context, _ api.Module, stack []uint64) {
	stack[0] = uint64(errnoNosys)
}

// procExit turns a plugin's exit request into a host-visible execution
// failure instead of a real process exit.
func (e *Environment) procExit(ctx context.Context, mod api.Module, stack []uint64) {
	code := uint32(stack[0])
	_ = mod.CloseWithExitCode(ctx, code)
	panic(sys.NewExitError(code))
}

// randomGet is the one channel connected to genuine host entropy.
func (e *Environment) randomGet(_ context.Context, mod api.Module, stack []uint64) {
	bufPtr, bufLen := uint32(stack[0]), uint32(stack[1])
	b := make([]byte, bufLen)
	if _, err := rand.Read(b); err != nil {
		stack[0] = uint64(errnoIO)
		return
	}
	if !mod.Memory().Write(bufPtr, b) {
		stack[0] = uint64(errnoFault)
		return
	}
	stack[0] = uint64(errnoSuccess)
}

func (e *Environment) schedYield(_ context.Context, _ api.Module, stack []uint64) {
	stack[0] = uint64(errnoSuccess)
}
