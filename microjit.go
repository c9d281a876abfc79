// Package microjit is the orchestrator façade of spec §6 (Component 9): the
// one entry point an embedder touches to turn a rectified IR function into a
// callable, backed by one of the three compilation-agent concurrency
// policies (internal/agent).
//
// Grounded on tetratelabs-wazero's top-level Runtime/CompiledModule split
// (wazero.go: NewRuntime(ctx, config), rt.CompileModule, mod.Instantiate) —
// collapsed here to a single Orchestrator since spec.md describes one
// compilation cache per process, not wazero's module/instance distinction.
package microjit

import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"

	"github.com/cycastic-cumberland/microjit/internal/agent"
	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/jitlog"
	"github.com/cycastic-cumberland/microjit/internal/planner"
	"github.com/cycastic-cumberland/microjit/internal/vstack"
)

// Orchestrator owns one compilation agent and the defaults new virtual
// stacks are built with. Its destruction (Close) is spec §5's "only
// sanctioned shutdown": it drains the agent's task queue, joins any worker
// threads, and tears down the cache.
type Orchestrator struct {
	ag                agent.Agent
	vstackDefaultSize uint64
	vstackBufferSize  uint64
	log               *zap.Logger
}

func New(cfg *Config) *Orchestrator {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Orchestrator{
		ag:                agent.New(cfg.policy, cfg.logger, cfg.startingPoolSize),
		vstackDefaultSize: cfg.vstackDefaultSize,
		vstackBufferSize:  cfg.vstackBufferSize,
		log:               jitlog.Named(cfg.logger, "orchestrator"),
	}
}

// Compile returns a Callable bound to fn. It does not compile fn eagerly —
// the underlying agent's GetOrCreate runs lazily on first invocation (or
// explicitly via Callable.Warm), matching spec §4.8's trampoline-driven lazy
// compilation.
func (o *Orchestrator) Compile(fn *ir.RectifiedFunction) (*Callable, error) {
	if fn == nil {
		return nil, fmt.Errorf("microjit: cannot compile a nil function")
	}
	return &Callable{fn: fn, orch: o}, nil
}

// IsCompiled reports whether fn currently has a published entry, without
// triggering a compile (SPEC_FULL.md §C.1).
func (o *Orchestrator) IsCompiled(fn *ir.RectifiedFunction) bool {
	return o.ag.IsCompiled(fn)
}

// Remove evicts fn's cache entry and releases its executable pages, if any
// (SPEC_FULL.md §C.1/§C.3a). Reports false on a lookup miss (spec §7's
// LookupMiss, expressed as a plain bool per SPEC_FULL.md §A.2).
func (o *Orchestrator) Remove(fn *ir.RectifiedFunction) bool {
	return o.ag.Remove(fn)
}

// Close drains and joins the underlying agent (spec §5).
func (o *Orchestrator) Close() error {
	return o.ag.Close()
}

// Callable is spec §6's "Callable" surface: two call shapes — one that
// accepts a caller-provided virtual stack, one that creates a fresh virtual
// stack per call using the orchestrator's configured defaults.
type Callable struct {
	fn   *ir.RectifiedFunction
	orch *Orchestrator
}

// Warm compiles fn now rather than on first Call, surfacing a
// CompilationError immediately instead of at the first invocation.
func (c *Callable) Warm() error {
	_, err := c.orch.ag.GetOrCreate(c.fn)
	return err
}

// Recompile discards fn's cached entry, if any, and compiles it again,
// publishing the new entry for every existing call site to pick up on their
// next call (SPEC_FULL.md §C.2, grounded on the original orchestrator's
// FunctionInstance::recompile — clearing the cached std::function and
// forcing the next call_internal through the compiler again). Unlike Warm,
// this always runs the compiler, even when an entry is already cached.
func (c *Callable) Recompile() error {
	_, err := c.orch.ag.Recompile(c.fn)
	return err
}

// Call creates a fresh virtual stack sized per the orchestrator's defaults,
// invokes fn on it, and discards the stack. args[i] must point to a value
// shaped like the function's i'th declared argument type; ret may be nil for
// a void function, otherwise it must point to storage shaped like the
// return type.
func (c *Callable) Call(args []unsafe.Pointer, ret unsafe.Pointer) error {
	vs := vstack.New(c.orch.vstackDefaultSize, c.orch.vstackBufferSize)
	return c.CallWithStack(vs, args, ret)
}

// CallWithStack is Callable's other surface (spec §6): the caller owns vs
// for the duration of the call and is responsible for not sharing it across
// concurrent invocations (spec §5's "each virtual stack instance is owned
// exclusively by its invoking thread").
func (c *Callable) CallWithStack(vs *vstack.Stack, args []unsafe.Pointer, ret unsafe.Pointer) error {
	if len(args) != len(c.fn.Args) {
		return fmt.Errorf("microjit: %s expects %d arguments, got %d", c.fn.Name, len(c.fn.Args), len(args))
	}
	entry, err := c.orch.ag.GetOrCreate(c.fn)
	if err != nil {
		return err
	}

	retSize := uint64(c.fn.ReturnType.Size())
	offsets := planner.PlanArguments(c.fn.Args, retSize)
	frameSize := retSize
	if len(offsets) > 0 {
		frameSize = offsets[0]
	}

	vs.CreateStackFrame(frameSize)
	frameBase := vs.RBP()

	for i, t := range c.fn.Args {
		dst := unsafe.Pointer(frameBase - uintptr(offsets[i]))
		if t.IsPrimitive() {
			copyBytes(dst, args[i], t.Size())
		} else {
			t.CopyCtor()(dst, args[i])
		}
	}

	entry(vs.Handle())

	for i := len(c.fn.Args) - 1; i >= 0; i-- {
		t := c.fn.Args[i]
		if t.IsPrimitive() {
			continue
		}
		addr := unsafe.Pointer(frameBase - uintptr(offsets[i]))
		t.Dtor()(addr)
	}

	if ret != nil && !c.fn.ReturnType.IsVoid() {
		retAddr := unsafe.Pointer(frameBase - uintptr(retSize))
		if c.fn.ReturnType.IsPrimitive() {
			copyBytes(ret, retAddr, c.fn.ReturnType.Size())
		} else {
			c.fn.ReturnType.CopyCtor()(ret, retAddr)
			c.fn.ReturnType.Dtor()(retAddr)
		}
	}

	vs.LeaveStackFrame()
	return nil
}

func copyBytes(dst, src unsafe.Pointer, n uint32) {
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}
