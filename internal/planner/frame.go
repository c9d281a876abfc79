// Package planner implements spec §4.3 (frame planner, Component 4) and
// §4.4 (branch planner, Component 5): the two tree-walking passes that turn
// a rectified function's scope tree into the FrameInfo and BranchInfo the
// code generator consumes.
//
// Grounded on tetratelabs-wazero's compiler_value_location.go
// (valueLocationStack tracking a stack pointer ceiling as it walks
// instructions) for the "walk once, track a running cumulative size and its
// maximum" shape, generalized from wazero's register/stack-slot allocation
// (which microjit does not need — spec §1 scopes dynamic register
// allocation out) down to pure frame-offset bookkeeping.
package planner

import (
	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/types"
)

// FrameInfo is spec §3's per-function frame layout product: a VariableRef ->
// offset map (negative, from the native rbp), an argument-index -> offset
// slice (positive, from the caller's virtual rbp), and the two maxima the
// code generator's prologue and destructor sweeper need.
type FrameInfo struct {
	VarOffset      map[ir.VarID]int64
	ArgOffset      []uint64
	MaxFrameSize   uint64
	MaxLiveObjects int
}

func align16(n uint64) uint64 { return (n + 15) &^ 15 }

// PlanArguments computes each argument's offset in the caller's virtual
// frame (spec §4.3). Offsets are byte distances below the frame's vrbp: the
// return slot occupies the first returnSize bytes, and the arguments follow
// beneath it, accumulated from the last argument to the first. The last
// argument therefore sits just under the return slot (smallest offset,
// highest address) and the first argument deepest (largest offset, which is
// also the whole frame size).
func PlanArguments(args []types.Descriptor, returnSize uint64) []uint64 {
	offsets := make([]uint64, len(args))
	offset := returnSize
	for i := len(args) - 1; i >= 0; i-- {
		offset += uint64(args[i].Size())
		offsets[i] = offset
	}
	return offsets
}

// frameWalkState is the per-scope bookkeeping pushed/popped as the planner's
// explicit worklist descends into and resumes from child scopes (spec §4.3:
// "push the current scope state (resuming at the next instruction) and
// descend... a re-entered scope resumes at its saved cumulative size").
type frameWalkState struct {
	scope      *ir.Scope
	instrIndex int
	size       uint64
	live       int
}

// PlanFrame walks fn's scope tree in document order (spec §4.3) and returns
// its FrameInfo.
func PlanFrame(fn *ir.RectifiedFunction) *FrameInfo {
	info := &FrameInfo{
		VarOffset: make(map[ir.VarID]int64),
		ArgOffset: PlanArguments(fn.Args, uint64(fn.ReturnType.Size())),
	}

	stack := []frameWalkState{{scope: fn.Main}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.instrIndex >= len(top.scope.Instructions) {
			stack = stack[:len(stack)-1]
			continue
		}
		instr := top.scope.Instructions[top.instrIndex]
		top.instrIndex++

		switch instr.Kind {
		case ir.InstrDeclareVariable:
			allocateVar(info, top, fn.Variable(instr.Var))
		case ir.InstrScopeCreate, ir.InstrBranchIf, ir.InstrBranchElse, ir.InstrBranchWhile:
			stack = append(stack, frameWalkState{scope: fn.ScopeByID(instr.Child), size: top.size, live: top.live})
		}
	}

	info.MaxFrameSize = align16(info.MaxFrameSize)
	return info
}

// allocateVar implements spec §4.3's DeclareVariable step: pad to a 16-byte
// boundary first for types >= 16 bytes, add the type's size, and record the
// negative offset from the native base pointer.
func allocateVar(info *FrameInfo, state *frameWalkState, v *ir.Variable) {
	size := uint64(v.Type.Size())
	if size >= 16 {
		state.size = align16(state.size)
	}
	state.size += size
	info.VarOffset[v.ID] = -int64(state.size)
	state.live++
	if state.live > info.MaxLiveObjects {
		info.MaxLiveObjects = state.live
	}
	if state.size > info.MaxFrameSize {
		info.MaxFrameSize = state.size
	}
}
