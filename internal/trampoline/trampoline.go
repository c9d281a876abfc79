// Package trampoline implements the two trampoline flavors of spec §4.8
// (Component 7): the indirection layer that lets emitted code call a
// lazily-compiled JIT function, or a host-native function, without the call
// site needing to know which.
//
// Grounded on tetratelabs-wazero's callEngine.callFunction dispatch
// (internal/engine/compiler/engine.go), which also routes every call site
// through a uniform indirect-call surface backed by either a compiled
// function or a host Go function — generalized here to a concrete JIT/Native
// split matching spec §4.8's two trampoline shapes.
package trampoline

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/planner"
	"github.com/cycastic-cumberland/microjit/internal/vstack"
)

// EmittedEntry is the calling convention every compiled function entry
// point conforms to: a single argument, the vstack ABI handle, matching
// spec §6's trampoline ABI ("called with (trampoline_handle, vstack*)").
type EmittedEntry func(vs *vstack.ABIHandle)

// Resolver produces (or returns the cached) emitted entry for fn, i.e. the
// compilation agent's get_or_create. JIT does not call the agent directly to
// avoid an import cycle; the agent supplies this closure at trampoline
// construction time.
type Resolver func(fn *ir.RectifiedFunction) (EmittedEntry, error)

// JIT is spec §4.8's JIT trampoline: a host-function pointer (Target, keyed
// by the compilation cache), a recompile callback (Resolve), and a
// double-pointer to the current emitted entry (entry, published by Call).
type JIT struct {
	Target  *ir.RectifiedFunction
	Resolve Resolver

	entry EmittedEntry
}

// NewJIT constructs a JIT trampoline. The entry starts unpublished; the
// first Call compiles lazily.
func NewJIT(target *ir.RectifiedFunction, resolve Resolver) *JIT {
	return &JIT{Target: target, Resolve: resolve}
}

// EntryPtr exposes the double-pointer slot spec §4.8 describes the
// trampoline as owning, for a recompile path (e.g. after cache eviction)
// that wants to invalidate the published entry directly.
func (j *JIT) EntryPtr() *EmittedEntry { return &j.entry }

// Call implements spec §4.8's JIT trampoline call sequence: invoke the
// recompile callback (idempotent — a no-op republish when already compiled),
// publish through the double-pointer, then jump through it. The emitted
// call site loads the trampoline handle into rdi and the vstack handle into
// rsi before reaching here (spec §4.7 step 5); this function plays the role
// of the "call final" helper that opens its own native frame.
func Call(handle *JIT, vs *vstack.ABIHandle) error {
	entry, err := handle.Resolve(handle.Target)
	if err != nil {
		return fmt.Errorf("trampoline: compiling %s: %w", handle.Target.Name, err)
	}
	handle.entry = entry
	handle.entry(vs)
	return nil
}

// Native is spec §4.8's native trampoline: a plain Go function value plus
// its argument/return type descriptors, invoked through reflect rather than
// a raw function pointer so arguments marshalled off the virtual stack can
// be assembled into a call without a hand-written per-architecture calling
// thunk (DESIGN.md).
type Native struct {
	sig     *ir.NativeSignature
	fn      reflect.Value
	argOff  []uint64
	retSize uint64
}

// NewNative precomputes sig's argument offsets the same way the frame
// planner lays out a callee frame (spec §4.7 step 3 writes arguments using
// exactly this offset scheme), so the native trampoline reads them back from
// the identical addresses emitted code wrote them to.
func NewNative(sig *ir.NativeSignature) *Native {
	return &Native{
		sig:     sig,
		fn:      reflect.ValueOf(sig.Func),
		argOff:  planner.PlanArguments(sig.Args, uint64(sig.ReturnType.Size())),
		retSize: uint64(sig.ReturnType.Size()),
	}
}

// NativeCall implements the native trampoline's call sequence (spec §4.8):
// read each argument out of the callee frame built by the caller, invoke the
// wrapped Go function via reflect, then store a non-void result into the
// reserved return slot using the return type's copy ctor (composite) or a
// direct byte copy (primitive).
func NativeCall(handle *Native, vs *vstack.ABIHandle) {
	base := *vs.RBP
	args := make([]reflect.Value, len(handle.sig.Args))
	for i := range handle.sig.Args {
		addr := base - uintptr(handle.argOff[i])
		args[i] = reflect.NewAt(handle.fn.Type().In(i), unsafe.Pointer(addr)).Elem()
	}

	results := handle.fn.Call(args)

	if handle.sig.ReturnType.IsVoid() {
		return
	}
	retAddr := base - handle.retSize
	dst := unsafe.Pointer(retAddr)
	if handle.sig.ReturnType.IsPrimitive() {
		reflect.NewAt(results[0].Type(), dst).Elem().Set(results[0])
		return
	}
	// results[0] is a fresh, non-addressable Value; pin it through a
	// reflect.New'd cell so the copy ctor has a real source address.
	boxed := reflect.New(results[0].Type())
	boxed.Elem().Set(results[0])
	ctor := handle.sig.ReturnType.CopyCtor()
	ctor(dst, unsafe.Pointer(boxed.Pointer()))
}
