// Package codegen implements the x86-64 code generator of spec §4.5-§4.7
// (Component 6): prologue/epilogue emission, per-instruction lowering,
// primitive binary arithmetic/comparison, branch/loop control flow with
// destructor emission on every exit path, and the nested-call ABI over the
// virtual stack.
//
// Grounded on tetratelabs-wazero's internal/engine/compiler/compiler.go (the
// "compiler" interface's one-method-per-IR-kind shape, generalized here to a
// single switch over ir.InstrKind per spec §9's tagged-sum design) and
// compiler_amd64.go (prologue/epilogue structure: save frame pointer, reserve
// stack, bind a single exit label, restore and return).
package codegen

import (
	"fmt"
	"sync"

	"github.com/cycastic-cumberland/microjit/internal/asm"
	"github.com/cycastic-cumberland/microjit/internal/asm/amd64"
	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/jiterrors"
	"github.com/cycastic-cumberland/microjit/internal/planner"
	"github.com/cycastic-cumberland/microjit/internal/trampoline"
)

const pointerSize = 8

// Context carries the state shared across every compilation an agent
// (internal/agent) performs: the trampoline registry of spec §4.7/§4.8. A
// nested InvokeJit/InvokeNative to the same target from any call site, in
// any function, shares one trampoline instance — recompilation (spec §4.9's
// recompile) has to invalidate every caller's view of that target at once,
// which only works if there is exactly one published entry pointer per
// target, not one per call site.
type Context struct {
	resolve trampoline.Resolver

	mu       sync.Mutex
	jitTramp map[*ir.RectifiedFunction]*trampoline.JIT
	natTramp map[*ir.NativeSignature]*trampoline.Native
}

// NewContext builds a Context backed by resolve, the agent's get_or_create.
func NewContext(resolve trampoline.Resolver) *Context {
	return &Context{
		resolve:  resolve,
		jitTramp: make(map[*ir.RectifiedFunction]*trampoline.JIT),
		natTramp: make(map[*ir.NativeSignature]*trampoline.Native),
	}
}

func (c *Context) jitHandle(fn *ir.RectifiedFunction) *trampoline.JIT {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.jitTramp[fn]; ok {
		return h
	}
	h := trampoline.NewJIT(fn, c.resolve)
	c.jitTramp[fn] = h
	return h
}

func (c *Context) nativeHandle(sig *ir.NativeSignature) *trampoline.Native {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.natTramp[sig]; ok {
		return h
	}
	h := trampoline.NewNative(sig)
	c.natTramp[sig] = h
	return h
}

// activeScope is one entry of the explicit worklist the generator keeps
// while walking the scope tree, mirroring internal/planner's frame walk: pos
// is the index of the instruction about to be (or currently being) emitted
// in scope, i.e. the exact "scope_offset" boundary the destructor sweep
// compares against.
type activeScope struct {
	scope *ir.Scope
	pos   int
}

// Generator lowers one RectifiedFunction into machine code. It is not
// reentrant or safe for concurrent use — Generate allocates a fresh one for
// every compilation, under every agent policy.
type Generator struct {
	a        *amd64.Assembler
	fn       *ir.RectifiedFunction
	frame    *planner.FrameInfo
	branches map[*ir.Instruction]*planner.BranchInfo
	ctx      *Context

	exit asm.Label

	vstackSlot int32
	vrbpSlot   int32
	// calleeVrbpSlot holds the base pointer of whatever nested-call frame is
	// currently open (spec §4.7's r10), spilled to the native frame rather
	// than kept live in a register: every argument/return address the
	// nested-call sequence touches is a fixed offset from this value
	// (internal/planner.PlanArguments's layout, reused verbatim for a
	// callee's frame as seen from the caller), so nothing depends on r10
	// surviving across the intervening ctor/dtor/trampoline calls, each of
	// which is free to clobber any caller-saved register.
	calleeVrbpSlot int32
	frameSize      uint32

	loopStack []asm.Label
	active    []activeScope
}

// Generate lowers fn to machine code, returning the assembled byte slice
// (instruction stream immediately followed by the static-data pool) or a
// CompilationError wrapping the first validation failure encountered. ctx
// supplies the trampoline registry shared across every function the calling
// agent compiles; callers that never lower a call instruction may pass nil.
func Generate(fn *ir.RectifiedFunction, ctx *Context) ([]byte, error) {
	g := &Generator{
		a:     amd64.New(),
		fn:    fn,
		frame: planner.PlanFrame(fn),
		ctx:   ctx,
	}
	g.branches = planner.PlanBranches(fn, func() int { return int(g.a.NewLabel()) })
	g.layoutFrame()
	g.exit = g.a.NewLabel()

	g.emitPrologue()
	if err := g.emitScope(fn.Main); err != nil {
		return nil, jiterrors.NewCompilationError(fn.Name, err)
	}
	g.emitEpilogue()

	code, err := g.a.Assemble()
	if err != nil {
		return nil, jiterrors.NewCompilationError(fn.Name, err)
	}
	return code, nil
}

// layoutFrame reserves the fixed ABI slots spec §4.5 places at the bottom of
// every native frame (vstack handle, cached vrbp, the nested-call scratch
// slot) beneath the planner's locals, keeping the whole allocation 16-byte
// aligned.
func (g *Generator) layoutFrame() {
	local := uint32(g.frame.MaxFrameSize)
	g.vstackSlot = -(int32(local) + pointerSize)
	g.vrbpSlot = -(int32(local) + 2*pointerSize)
	g.calleeVrbpSlot = -(int32(local) + 3*pointerSize)
	g.frameSize = local + 32 // three 8-byte slots, padded to keep 16-byte alignment
}

func (g *Generator) slot(off int32) amd64.Mem { return amd64.Addr(amd64.BP, off) }

// emitPrologue implements spec §4.5's "Prologue": save the native base
// pointer, allocate the frame, stash the vstack handle (passed in rdi per
// the System V first-argument register), and cache the vstack's current rbp
// value so argument/variable addressing never needs to re-dereference the
// handle.
func (g *Generator) emitPrologue() {
	g.a.PushRBP()
	g.a.MovRBPRSP()
	g.a.SubRSPImm(g.frameSize)

	g.a.MovStore(8, g.slot(g.vstackSlot), amd64.RegArg0)

	// rax = handle->RBP (offset 8 in vstack.ABIHandle); rax = *rax (the rbp
	// cell's current value); cache it in the vrbp slot.
	g.a.MovLoad(8, amd64.AX, amd64.Addr(amd64.RegArg0, 8))
	g.a.MovLoad(8, amd64.AX, amd64.Addr(amd64.AX, 0))
	g.a.MovStore(8, g.slot(g.vrbpSlot), amd64.AX)
}

// emitEpilogue binds the function's single exit label and emits the native
// leave/ret pair (spec §4.5's "Epilogue").
func (g *Generator) emitEpilogue() {
	g.a.Bind(g.exit)
	g.a.Leave()
	g.a.Ret()
}

// loadVRBP loads the cached caller-relative virtual base pointer into dst.
func (g *Generator) loadVRBP(dst asm.Register) {
	g.a.MovLoad(8, dst, g.slot(g.vrbpSlot))
}

func (g *Generator) pushLoop(end asm.Label) { g.loopStack = append(g.loopStack, end) }
func (g *Generator) popLoop()               { g.loopStack = g.loopStack[:len(g.loopStack)-1] }
func (g *Generator) currentLoopEnd() (asm.Label, error) {
	if len(g.loopStack) == 0 {
		return 0, fmt.Errorf("break outside of a loop")
	}
	return g.loopStack[len(g.loopStack)-1], nil
}

// emitScope walks scope's instructions in order, pushing an activeScope
// frame so nested Return/Break lowering can see the whole ancestor chain's
// construction progress.
func (g *Generator) emitScope(scope *ir.Scope) error {
	idx := len(g.active)
	g.active = append(g.active, activeScope{scope: scope})
	defer func() { g.active = g.active[:idx] }()

	for i := range scope.Instructions {
		g.active[idx].pos = i
		if err := g.emitInstr(scope, &scope.Instructions[i]); err != nil {
			return err
		}
	}
	// Natural scope exit: single-scope destructor sweep (spec §4.5, "On
	// natural scope exit, run the single-scope destructor sweep").
	g.sweepScope(scope, len(scope.Instructions))
	return nil
}

func (g *Generator) branchInfo(instr *ir.Instruction) *planner.BranchInfo {
	return g.branches[instr]
}
