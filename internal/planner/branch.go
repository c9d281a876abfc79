package planner

import "github.com/cycastic-cumberland/microjit/internal/ir"

// LabelTriple is a branch's three code-generator handles: begin, end and
// loop_end. The code generator's Assembler defines what a label actually is
// (an index into its pending-patch table); the planner only decides which
// instructions share which triple.
type LabelTriple struct {
	Begin   int
	End     int
	LoopEnd int
}

// BranchInfo is a single branch instruction's plan product: its label triple
// plus an optional pointer to the else instruction it is paired with, per
// spec §4.4: "if the immediately next sibling branch is an else, link it as
// the else branch of the previous one."
type BranchInfo struct {
	Labels LabelTriple
	Else   *ir.Instruction
}

// PlanBranches assigns a fresh label triple to every branch instruction
// reachable from fn's main scope, in breadth-first order (spec §4.4), and
// pairs each if with an immediately following else in the same scope.
// newLabel is called once per triple slot (three times per branch) and is
// expected to hand back a fresh Assembler label — kept as a callback so the
// planner does not need to depend on the assembler package. The returned map
// is keyed by instruction identity (the Instruction's address within its
// owning scope's stable, post-rectification slice), since scope_offset alone
// is only unique within a single scope.
func PlanBranches(fn *ir.RectifiedFunction, newLabel func() int) map[*ir.Instruction]*BranchInfo {
	info := make(map[*ir.Instruction]*BranchInfo)

	visited := map[ir.ScopeID]bool{fn.Main.ID: true}
	queue := []*ir.Scope{fn.Main}
	for len(queue) > 0 {
		scope := queue[0]
		queue = queue[1:]

		var pendingIf *ir.Instruction
		for i := range scope.Instructions {
			instr := &scope.Instructions[i]
			if !instr.Kind.IsBranch() {
				pendingIf = nil
				continue
			}

			bi := &BranchInfo{Labels: LabelTriple{Begin: newLabel(), End: newLabel(), LoopEnd: newLabel()}}
			info[instr] = bi

			if instr.Kind == ir.InstrBranchElse && pendingIf != nil {
				info[pendingIf].Else = instr
			}
			if instr.Kind == ir.InstrBranchIf {
				pendingIf = instr
			} else {
				pendingIf = nil
			}
		}

		for _, child := range scope.Children {
			if visited[child] {
				continue
			}
			visited[child] = true
			queue = append(queue, fn.ScopeByID(child))
		}
	}

	return info
}
