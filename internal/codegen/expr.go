// Primitive binary expression lowering, spec §4.6.
package codegen

import (
	"github.com/cycastic-cumberland/microjit/internal/asm"
	"github.com/cycastic-cumberland/microjit/internal/asm/amd64"
	"github.com/cycastic-cumberland/microjit/internal/ir"
)

func intCompareCond(op ir.Op, signed bool) asm.Cond {
	switch op {
	case ir.OpEq:
		return asm.CondEqual
	case ir.OpNe:
		return asm.CondNotEqual
	case ir.OpGt:
		if signed {
			return asm.CondSignedGreater
		}
		return asm.CondUnsignedAbove
	case ir.OpGe:
		if signed {
			return asm.CondSignedGreaterOrEqual
		}
		return asm.CondUnsignedAboveOrEqual
	case ir.OpLt:
		if signed {
			return asm.CondSignedLess
		}
		return asm.CondUnsignedBelow
	case ir.OpLe:
		if signed {
			return asm.CondSignedLessOrEqual
		}
		return asm.CondUnsignedBelowOrEqual
	default:
		panic("codegen: non-comparison op reached intCompareCond")
	}
}

// evalIntExpr lowers an integer-operand expression, leaving its result in
// al/ax/eax/rax (spec §4.5's RegLeft).
func (g *Generator) evalIntExpr(e ir.Expression) {
	width := int(e.LHS.Type.Size())
	signed := e.LHS.Type.IsSignedInt()

	g.loadValueInt(e.LHS, amd64.RegLeft)
	g.loadValueInt(e.RHS, amd64.RegScratchAddr1)

	switch e.Op {
	case ir.OpAdd:
		g.a.AddRegReg(width, amd64.RegLeft, amd64.RegScratchAddr1)
	case ir.OpSub:
		g.a.SubRegReg(width, amd64.RegLeft, amd64.RegScratchAddr1)
	case ir.OpMul:
		g.a.ImulRegReg(width, amd64.RegLeft, amd64.RegScratchAddr1)
	case ir.OpDiv, ir.OpMod:
		if signed {
			g.a.Cdq(width)
			g.a.IdivReg(width, amd64.RegScratchAddr1)
		} else {
			g.a.XorRegReg(width, amd64.DX, amd64.DX)
			g.a.DivReg(width, amd64.RegScratchAddr1)
		}
		if e.Op == ir.OpMod {
			g.a.MovRegReg(width, amd64.RegLeft, amd64.DX)
		}
	default: // comparison
		g.a.CmpRegReg(width, amd64.RegLeft, amd64.RegScratchAddr1)
		g.a.SetccReg(intCompareCond(e.Op, signed), amd64.RegLeft)
	}
}

// evalFloatEqNe lowers == and != with NaN-safe semantics (spec §4.6): the
// comparison is "true" only when the operands are both equal and ordered
// (neither is NaN). Implemented with the textbook SETE+SETNP+AND idiom
// rather than spec's literal "cmovne" phrasing — simpler and exactly
// equivalent, see DESIGN.md.
func (g *Generator) evalFloatEqNe(isF64 bool, equal bool) {
	if isF64 {
		g.a.UcomisdRegReg(amd64.RegLeftFloat, amd64.RegRightFloat)
	} else {
		g.a.UcomissRegReg(amd64.RegLeftFloat, amd64.RegRightFloat)
	}
	g.a.SetccReg(asm.CondEqual, amd64.RegLeft)        // al = ZF (equal-or-unordered)
	g.a.SetpReg(amd64.RegScratchAddr1)                // bl = PF (unordered)
	g.a.XorRegImm8(amd64.RegScratchAddr1, 1)          // bl = !PF (ordered)
	g.a.AndRegReg(1, amd64.RegLeft, amd64.RegScratchAddr1) // al = equal AND ordered
	if !equal {
		g.a.XorRegImm8(amd64.RegLeft, 1)
	}
}

// evalFloatRelational lowers <, <=, > and >= (spec §4.6: "comiss/sd +
// seta/setb/setnb/setna").
func (g *Generator) evalFloatRelational(e ir.Expression, isF64 bool) {
	if isF64 {
		g.a.ComisdRegReg(amd64.RegLeftFloat, amd64.RegRightFloat)
	} else {
		g.a.ComissRegReg(amd64.RegLeftFloat, amd64.RegRightFloat)
	}
	var cond asm.Cond
	switch e.Op {
	case ir.OpGt:
		cond = asm.CondUnsignedAbove
	case ir.OpGe:
		cond = asm.CondUnsignedAboveOrEqual
	case ir.OpLt:
		cond = asm.CondUnsignedBelow
	case ir.OpLe:
		cond = asm.CondUnsignedBelowOrEqual
	default:
		panic("codegen: non-relational op reached evalFloatRelational")
	}
	g.a.SetccReg(cond, amd64.RegLeft)
}

// evalFloatExpr lowers a float-operand expression. Arithmetic results are
// left in xmm1 (RegLeftFloat); comparison results are left in al, matching
// evalIntExpr's comparison convention so callers need not distinguish.
func (g *Generator) evalFloatExpr(e ir.Expression) (resultInFloatReg bool) {
	isF64 := e.LHS.Type.Size() == 8
	g.loadValueFloat(e.LHS, amd64.RegLeftFloat)
	g.loadValueFloat(e.RHS, amd64.RegRightFloat)

	switch e.Op {
	case ir.OpAdd:
		if isF64 {
			g.a.AddsdRegReg(amd64.RegLeftFloat, amd64.RegRightFloat)
		} else {
			g.a.AddssRegReg(amd64.RegLeftFloat, amd64.RegRightFloat)
		}
		return true
	case ir.OpSub:
		if isF64 {
			g.a.SubsdRegReg(amd64.RegLeftFloat, amd64.RegRightFloat)
		} else {
			g.a.SubssRegReg(amd64.RegLeftFloat, amd64.RegRightFloat)
		}
		return true
	case ir.OpMul:
		if isF64 {
			g.a.MulsdRegReg(amd64.RegLeftFloat, amd64.RegRightFloat)
		} else {
			g.a.MulssRegReg(amd64.RegLeftFloat, amd64.RegRightFloat)
		}
		return true
	case ir.OpDiv:
		if isF64 {
			g.a.DivsdRegReg(amd64.RegLeftFloat, amd64.RegRightFloat)
		} else {
			g.a.DivssRegReg(amd64.RegLeftFloat, amd64.RegRightFloat)
		}
		return true
	case ir.OpEq, ir.OpNe:
		g.evalFloatEqNe(isF64, e.Op == ir.OpEq)
		return false
	default:
		g.evalFloatRelational(e, isF64)
		return false
	}
}

// evalExpr lowers e and reports whether its result lives in xmm1
// (RegLeftFloat) or in al/ax/eax/rax (RegLeft).
func (g *Generator) evalExpr(e ir.Expression) (resultInFloatReg bool) {
	if e.LHS.Type.IsFloat() {
		return g.evalFloatExpr(e)
	}
	g.evalIntExpr(e)
	return false
}

// storeExprResult lowers e and stores its result into dst, at e.ResultType's
// width and register kind.
func (g *Generator) storeExprResult(e ir.Expression, dst amd64.Mem) {
	if g.evalExpr(e) {
		if e.ResultType.Size() == 8 {
			g.a.MovsdStore(dst, amd64.RegLeftFloat)
		} else {
			g.a.MovssStore(dst, amd64.RegLeftFloat)
		}
		return
	}
	g.a.MovStore(int(e.ResultType.Size()), dst, amd64.RegLeft)
}

// evalConditionToAL lowers a boolean condition Value into al, for Branch(If)
// and Branch(While) (spec §4.5: "For branch-eval paths, the comparison
// result is left in al").
func (g *Generator) evalConditionToAL(cond ir.Value) {
	if cond.Kind == ir.ValueExpression {
		g.evalExpr(*cond.Expr)
		return
	}
	g.loadValueInt(cond, amd64.RegLeft)
}
