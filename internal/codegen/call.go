// Nested invocation ABI, spec §4.7.
package codegen

import (
	"encoding/binary"
	"unsafe"

	"github.com/cycastic-cumberland/microjit/internal/asm"
	"github.com/cycastic-cumberland/microjit/internal/asm/amd64"
	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/planner"
	"github.com/cycastic-cumberland/microjit/internal/trampoline"
	"github.com/cycastic-cumberland/microjit/internal/types"
	"github.com/cycastic-cumberland/microjit/internal/vstack"
)

// callLayout mirrors the frame planner's PlanArguments (spec §4.3) over a
// call site's own argument list: offset[i] is byte distance below the
// callee's vrbp that argument i lands at, and retSize occupies the region
// immediately below vrbp (offset 0..retSize) ahead of every argument —
// exactly how a callee addresses its own incoming arguments, reused here
// from the caller's side to write them into place.
type callLayout struct {
	offset  []uint64
	retSize uint64
}

func planCallLayout(args []types.Descriptor, returnType types.Descriptor) callLayout {
	retSize := uint64(returnType.Size())
	return callLayout{offset: planner.PlanArguments(args, retSize), retSize: retSize}
}

// loadVstackHandle loads this function's own incoming vstack handle pointer
// into dst, for passing on to create_stack_frame/leave_stack_frame/the
// trampoline call as the vstack handle argument.
func (g *Generator) loadVstackHandle(dst asm.Register) {
	g.a.MovLoad(8, dst, g.slot(g.vstackSlot))
}

// emitCreateStackFrame calls vstack.CreateStackFrameABI(handle, size) (spec
// §4.7 step 2).
func (g *Generator) emitCreateStackFrame(size uint64) {
	g.loadVstackHandle(amd64.RegArg0)
	g.a.MovImmReg(8, amd64.RegArg1, size)
	g.callHostFunc(vstack.CreateStackFrameABI)
}

// emitLeaveStackFrame calls vstack.LeaveStackFrameABI(handle) (spec §4.7
// step 6).
func (g *Generator) emitLeaveStackFrame() {
	g.loadVstackHandle(amd64.RegArg0)
	g.callHostFunc(vstack.LeaveStackFrameABI)
}

// spillCalleeVRBP reads the vstack handle's current rbp cell value — the
// base of the frame create_stack_frame just opened — and spills it to
// calleeVrbpSlot (spec §4.7 step 2's "refresh cached vrbp into r10",
// persisted to memory rather than a register; see the Generator.
// calleeVrbpSlot doc comment for why).
func (g *Generator) spillCalleeVRBP() {
	g.loadVstackHandle(amd64.RegScratchAddr1)
	g.a.MovLoad(8, amd64.RegScratchAddr1, amd64.Addr(amd64.RegScratchAddr1, 8)) // handle->RBP (cell address)
	g.a.MovLoad(8, amd64.RegScratchAddr1, amd64.Addr(amd64.RegScratchAddr1, 0)) // *handle->RBP (value)
	g.a.MovStore(8, g.slot(g.calleeVrbpSlot), amd64.RegScratchAddr1)
}

// calleeAddr loads calleeVrbpSlot into dst and subtracts offset, yielding
// the address of a byte region within the callee frame. Recomputed fresh on
// every use rather than cached in a register, since any intervening ctor,
// dtor or trampoline call is free to clobber caller-saved registers.
func (g *Generator) calleeAddr(dst asm.Register, offset uint64) amd64.Mem {
	g.a.MovLoad(8, dst, g.slot(g.calleeVrbpSlot))
	g.a.SubRegImm(8, dst, uint32(offset))
	return amd64.Addr(dst, 0)
}

// nestedArgSourceAddr resolves a call argument's source operand to a Mem.
// IR construction restricts a call argument to an immediate or a variable
// (checkCallArgs in internal/ir/scope.go) — never a raw Argument reference
// or an expression.
func (g *Generator) nestedArgSourceAddr(v ir.Value) amd64.Mem {
	switch v.Kind {
	case ir.ValueVariable:
		return g.varAddr(v.Var)
	case ir.ValueImmediate:
		return amd64.RIPData(g.a.AddStaticData(v.Bytes))
	default:
		panic("codegen: call argument must be an immediate or a variable")
	}
}

// emitCopyArgIn lowers a single nested-call argument (spec §4.7 step 3) at
// its precomputed offset: a primitive store for primitive types, a copy
// ctor call (dst=callee frame address, src=the source operand) for
// composites.
func (g *Generator) emitCopyArgIn(t types.Descriptor, offset uint64, source ir.Value) {
	if t.IsPrimitive() {
		dst := g.calleeAddr(amd64.RegScratchAddr1, offset)
		if t.IsFloat() {
			g.loadValueFloat(source, amd64.RegLeftFloat)
			if t.Size() == 8 {
				g.a.MovsdStore(dst, amd64.RegLeftFloat)
			} else {
				g.a.MovssStore(dst, amd64.RegLeftFloat)
			}
		} else {
			g.loadValueInt(source, amd64.RegLeft)
			g.a.MovStore(int(t.Size()), dst, amd64.RegLeft)
		}
		return
	}
	src := g.nestedArgSourceAddr(source)
	g.a.Lea(amd64.RegArg1, src)
	g.calleeAddr(amd64.RegArg0, offset)
	g.callHostFunc(t.CopyCtor())
}

// emitDestructArgOut runs t's destructor over the callee-frame argument at
// offset (spec §4.7 step 7's reverse sweep over non-primitive arguments).
func (g *Generator) emitDestructArgOut(t types.Descriptor, offset uint64) {
	if t.IsPrimitive() {
		return
	}
	g.calleeAddr(amd64.RegArg0, offset)
	g.callHostFunc(t.Dtor())
}

// emitWrappedTrampolineCall invokes a trampoline entry point (spec §9's
// "Nested-call ABI wrapping native frames" design note): opens its own
// native frame around the call with push/mov/leave rather than a bare
// call/ret pair. The source this spec was distilled from opens such a frame
// because a particular toolchain otherwise miscompiled the trampoline call;
// the discipline is kept here unconditionally since it costs three
// instructions and nothing downstream depends on its absence.
func (g *Generator) emitWrappedTrampolineCall(fn interface{}) {
	g.a.PushRBP()
	g.a.MovRBPRSP()
	g.callHostFunc(fn)
	g.a.Leave()
}

// invokeTarget abstracts over the two trampoline flavors so emitInvoke can
// share one call sequence: loadHandle places the trampoline handle pointer
// in rdi, and call is the Go function the emitted code actually invokes
// (trampoline.Call for JIT, trampoline.NativeCall for native), reflected
// into a raw code address by callHostFunc exactly as any other host call.
type invokeTarget struct {
	loadHandle func()
	call       interface{}
}

// emitInvoke lowers the call site shared by InvokeJit and InvokeNative (spec
// §4.7): open the callee frame, copy in arguments, call the trampoline,
// collapse the frame, destruct the arguments, and copy out a non-void
// return. Spec step 1 ("cache the caller's vrbp in r11") and the
// corresponding "caller-relative address... from r11" in step 3 have no
// counterpart below: a call argument can only be an immediate or a variable
// (never a raw Argument reference), so every source operand this function
// ever reads is addressed the same way the rest of the generator already
// addresses it — see DESIGN.md.
func (g *Generator) emitInvoke(args []ir.Value, argTypes []types.Descriptor, returnType types.Descriptor, retVar ir.VarID, hasRet bool, target invokeTarget) {
	layout := planCallLayout(argTypes, returnType)
	// PlanArguments accumulates from the last argument to the first, so
	// offset[0] — the first argument's offset — is the largest, i.e. the
	// full frame size (every argument's size plus the return slot).
	frameSize := layout.retSize
	if len(layout.offset) > 0 {
		frameSize = layout.offset[0]
	}

	g.emitCreateStackFrame(frameSize)
	g.spillCalleeVRBP()

	for i, v := range args {
		g.emitCopyArgIn(argTypes[i], layout.offset[i], v)
	}

	target.loadHandle()
	g.loadVstackHandle(amd64.RegArg1)
	g.emitWrappedTrampolineCall(target.call)

	g.emitLeaveStackFrame()

	for i := len(args) - 1; i >= 0; i-- {
		g.emitDestructArgOut(argTypes[i], layout.offset[i])
	}

	if !hasRet || returnType.IsVoid() {
		return
	}
	retSlot := g.calleeAddr(amd64.RegScratchAddr1, layout.retSize)
	dst := g.varAddr(retVar)
	if returnType.IsPrimitive() {
		width := int(returnType.Size())
		if returnType.IsFloat() {
			if width == 8 {
				g.a.MovsdLoad(amd64.RegLeftFloat, retSlot)
				g.a.MovsdStore(dst, amd64.RegLeftFloat)
			} else {
				g.a.MovssLoad(amd64.RegLeftFloat, retSlot)
				g.a.MovssStore(dst, amd64.RegLeftFloat)
			}
		} else {
			g.a.MovLoad(width, amd64.RegLeft, retSlot)
			g.a.MovStore(width, dst, amd64.RegLeft)
		}
		return
	}
	g.a.Lea(amd64.RegArg1, retSlot)
	g.a.Lea(amd64.RegArg0, dst)
	g.callHostFunc(returnType.CopyCtor())
	g.calleeAddr(amd64.RegArg0, layout.retSize)
	g.callHostFunc(returnType.Dtor())
}

func (g *Generator) emitInvokeJit(instr *ir.Instruction) error {
	target := instr.JitTarget
	handle := g.ctx.jitHandle(target)
	g.emitInvoke(instr.Args, argTypesOf(target), target.ReturnType, instr.Var, instr.HasVar, invokeTarget{
		loadHandle: func() { g.loadDataPointer(amd64.RegArg0, unsafe.Pointer(handle)) },
		call:       trampoline.Call,
	})
	return nil
}

func (g *Generator) emitInvokeNative(instr *ir.Instruction) error {
	sig := instr.NativeTarget
	handle := g.ctx.nativeHandle(sig)
	g.emitInvoke(instr.Args, sig.Args, sig.ReturnType, instr.Var, instr.HasVar, invokeTarget{
		loadHandle: func() { g.loadDataPointer(amd64.RegArg0, unsafe.Pointer(handle)) },
		call:       trampoline.NativeCall,
	})
	return nil
}

func argTypesOf(fn *ir.RectifiedFunction) []types.Descriptor {
	out := make([]types.Descriptor, len(fn.Args))
	copy(out, fn.Args)
	return out
}

// loadDataPointer embeds ptr's raw address in the static-data pool and loads
// it into dst — the same RIP-relative-load idiom callHostFunc uses for a
// call target, reused here for a plain data pointer (a trampoline handle,
// spec §4.7 step 5).
func (g *Generator) loadDataPointer(dst asm.Register, ptr unsafe.Pointer) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(uintptr(ptr)))
	label := g.a.AddStaticData(b[:])
	g.a.MovLoad(8, dst, amd64.RIPData(label))
}
