package codegen

import (
	"github.com/cycastic-cumberland/microjit/internal/asm/amd64"
	"github.com/cycastic-cumberland/microjit/internal/ir"
)

// liveComposites returns, in construction order, every non-primitive
// variable that scope has constructed (via Construct or CopyConstruct) among
// its first limit instructions. DeclareVariable alone does not count: spec
// §4.5's sweep "skips variables whose scope_offset exceeds the current
// iterator position", and a variable's actual construction instruction (not
// its declaration) is what makes it live for destruction purposes.
func liveComposites(scope *ir.Scope, limit int) []*ir.Variable {
	if limit > len(scope.Instructions) {
		limit = len(scope.Instructions)
	}
	var out []*ir.Variable
	for i := 0; i < limit; i++ {
		instr := scope.Instructions[i]
		if instr.Kind != ir.InstrConstruct && instr.Kind != ir.InstrCopyConstruct {
			continue
		}
		v := scope.Func().Variable(instr.Var)
		if !v.Type.IsPrimitive() {
			out = append(out, v)
		}
	}
	return out
}

// emitDestruct calls v's destructor with its address loaded into rdi, the
// fixed first-argument scratch register spec §4.5 assigns to ctor/dtor
// calls.
func (g *Generator) emitDestruct(v *ir.Variable) {
	off, ok := g.frame.VarOffset[v.ID]
	if !ok {
		return
	}
	g.a.Lea(amd64.RegArg0, g.slot(int32(off)))
	g.callHostFunc(v.Type.Dtor())
}

// sweepScope runs scope's destructor sweep over its first limit
// instructions, tearing down live composites in construction order. The
// original microjit_x86_64 code generator's single_scope_destructor_call
// walks a scope's variable list forward, stopping at the first
// not-yet-constructed variable; it never reverses the list, so this follows
// suit rather than unwinding LIFO.
func (g *Generator) sweepScope(scope *ir.Scope, limit int) {
	for _, v := range liveComposites(scope, limit) {
		g.emitDestruct(v)
	}
}

// sweepActive runs the full iterative destructor sweep spec §4.5 assigns to
// Return: every scope still on the generator's worklist stack, innermost
// first, each bounded by its own saved iterator position.
func (g *Generator) sweepActive() {
	for i := len(g.active) - 1; i >= 0; i-- {
		as := g.active[i]
		g.sweepScope(as.scope, as.pos)
	}
}
