// Per-instruction lowering, spec §4.5.
package codegen

import (
	"fmt"

	"github.com/cycastic-cumberland/microjit/internal/asm"
	"github.com/cycastic-cumberland/microjit/internal/asm/amd64"
	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/jiterrors"
	"github.com/cycastic-cumberland/microjit/internal/types"
)

func (g *Generator) emitInstr(scope *ir.Scope, instr *ir.Instruction) error {
	switch instr.Kind {
	case ir.InstrDeclareVariable:
		return nil
	case ir.InstrConstruct:
		return g.emitConstruct(instr)
	case ir.InstrCopyConstruct:
		return g.emitCopyConstruct(instr)
	case ir.InstrAssign:
		return g.emitAssign(instr)
	case ir.InstrReturn:
		return g.emitReturn(instr)
	case ir.InstrScopeCreate:
		return g.emitScope(g.fn.ScopeByID(instr.Child))
	case ir.InstrConvert:
		return g.emitConvert(instr)
	case ir.InstrPrimitiveConvert:
		return jiterrors.NewUnsupportedTargetError("primitive-to-primitive conversion is not implemented")
	case ir.InstrInvokeJit:
		return g.emitInvokeJit(instr)
	case ir.InstrInvokeNative:
		return g.emitInvokeNative(instr)
	case ir.InstrBranchIf:
		return g.emitBranchIf(instr)
	case ir.InstrBranchElse:
		return g.emitBranchElse(instr)
	case ir.InstrBranchWhile:
		return g.emitBranchWhile(instr)
	case ir.InstrBreak:
		return g.emitBreak()
	default:
		return fmt.Errorf("codegen: unhandled instruction kind %s", instr.Kind)
	}
}

// emitConstruct lowers default-construction: "load address of the local
// into rdi; call the type's default ctor" (spec §4.5). CtorFunc serves both
// default and copy construction (src nil vs non-nil, per its doc comment in
// internal/types), so the default path simply passes a null second argument.
func (g *Generator) emitConstruct(instr *ir.Instruction) error {
	v := g.fn.Variable(instr.Var)
	g.a.Lea(amd64.RegArg0, g.varAddr(v.ID))
	g.a.MovImmReg(8, amd64.RegArg1, 0)
	g.callHostFunc(v.Type.CopyCtor())
	return nil
}

func (g *Generator) emitCopyConstruct(instr *ir.Instruction) error {
	v := g.fn.Variable(instr.Var)
	g.emitCopyOrAssign(v.ID, v.Type, instr.Source)
	return nil
}

func (g *Generator) emitAssign(instr *ir.Instruction) error {
	v := g.fn.Variable(instr.Var)
	if instr.Source.Kind == ir.ValueExpression {
		g.storeExprResult(*instr.Source.Expr, g.varAddr(v.ID))
		return nil
	}
	g.emitCopyOrAssign(v.ID, v.Type, instr.Source)
	return nil
}

// emitCopyOrAssign implements the shared mechanics of CopyConstruct and
// Assign-from-{immediate,argument,variable} (spec §4.5): primitives get a
// direct width-keyed move; composites get their address-pair passed to the
// type's copy ctor.
func (g *Generator) emitCopyOrAssign(dst ir.VarID, t types.Descriptor, source ir.Value) {
	if t.IsPrimitive() {
		g.storePrimitiveValue(t, g.varAddr(dst), source)
		return
	}
	g.a.Lea(amd64.RegArg0, g.varAddr(dst))
	switch source.Kind {
	case ir.ValueImmediate:
		label := g.a.AddStaticData(source.Bytes)
		g.a.Lea(amd64.RegArg1, amd64.RIPData(label))
	case ir.ValueArgument:
		g.argAddrReg(source.ArgIndex, amd64.RegArg1)
	case ir.ValueVariable:
		g.a.Lea(amd64.RegArg1, g.varAddr(source.Var))
	}
	g.callHostFunc(t.CopyCtor())
}

// storePrimitiveValue implements spec §4.5's primitive fast paths: an
// immediate materializes directly into memory (through a register first for
// 8-byte values, since x86-64 has no 64-bit immediate store); an argument or
// variable source is loaded then stored.
func (g *Generator) storePrimitiveValue(t types.Descriptor, dst amd64.Mem, source ir.Value) {
	width := int(t.Size())
	if t.IsFloat() {
		g.loadValueFloat(source, amd64.RegLeftFloat)
		if width == 8 {
			g.a.MovsdStore(dst, amd64.RegLeftFloat)
		} else {
			g.a.MovssStore(dst, amd64.RegLeftFloat)
		}
		return
	}
	if source.Kind == ir.ValueImmediate && width <= 4 {
		g.a.MovImmMem(width, dst, uint32(decodeImmediateUint(source.Bytes, width)))
		return
	}
	g.loadValueInt(source, amd64.RegLeft)
	g.a.MovStore(width, dst, amd64.RegLeft)
}

// emitConvert lowers a non-primitive Convert instruction onto the
// destination type's copy ctor, treating conversion as a converting
// construction from a foreign-typed source address — the same CtorFunc
// shape already used for ordinary copy construction (DESIGN.md).
// PrimitiveConvert, not this instruction, is the unimplemented path spec §9
// calls out.
func (g *Generator) emitConvert(instr *ir.Instruction) error {
	dst := g.fn.Variable(instr.Var)
	src := g.fn.Variable(instr.ConvertFrom)
	g.a.Lea(amd64.RegArg0, g.varAddr(dst.ID))
	g.a.Lea(amd64.RegArg1, g.varAddr(src.ID))
	g.callHostFunc(dst.Type.CopyCtor())
	return nil
}

func (g *Generator) returnSlotAddrReg(reg asm.Register) {
	g.loadVRBP(reg)
	g.a.SubRegImm(8, reg, g.fn.ReturnType.Size())
}

// emitReturn implements spec §4.5's Return lowering: copy the return value
// (if any) into the caller's return slot, run the full destructor sweep over
// every scope still active, then jump to the single exit label.
func (g *Generator) emitReturn(instr *ir.Instruction) error {
	if instr.HasVar {
		v := g.fn.Variable(instr.Var)
		if v.Type.IsPrimitive() {
			width := int(v.Type.Size())
			g.returnSlotAddrReg(amd64.RegScratchAddr1)
			dst := amd64.Addr(amd64.RegScratchAddr1, 0)
			if v.Type.IsFloat() {
				if width == 8 {
					g.a.MovsdLoad(amd64.RegLeftFloat, g.varAddr(v.ID))
					g.a.MovsdStore(dst, amd64.RegLeftFloat)
				} else {
					g.a.MovssLoad(amd64.RegLeftFloat, g.varAddr(v.ID))
					g.a.MovssStore(dst, amd64.RegLeftFloat)
				}
			} else {
				g.a.MovLoad(width, amd64.RegLeft, g.varAddr(v.ID))
				g.a.MovStore(width, dst, amd64.RegLeft)
			}
		} else {
			g.returnSlotAddrReg(amd64.RegArg0)
			g.a.Lea(amd64.RegArg1, g.varAddr(v.ID))
			g.callHostFunc(v.Type.CopyCtor())
		}
	}
	g.sweepActive()
	g.a.JmpLabel(g.exit)
	return nil
}

// emitBranchIf lowers Branch(If) (spec §4.5): evaluate the condition into
// al, branch past the body to the else's begin (if paired) or this branch's
// own end, then descend.
func (g *Generator) emitBranchIf(instr *ir.Instruction) error {
	bi := g.branchInfo(instr)
	g.evalConditionToAL(instr.Cond)
	g.a.CmpRegImm8(amd64.RegLeft, 0)

	var elseInfo *ir.Instruction
	if bi.Else != nil {
		elseInfo = bi.Else
		g.a.JccLabel(asm.CondEqual, asm.Label(g.branchInfo(elseInfo).Labels.Begin))
	} else {
		g.a.JccLabel(asm.CondEqual, asm.Label(bi.Labels.End))
	}

	if err := g.emitScope(g.fn.ScopeByID(instr.Child)); err != nil {
		return err
	}

	if elseInfo != nil {
		ei := g.branchInfo(elseInfo)
		g.a.JmpLabel(asm.Label(ei.Labels.End))
		g.a.Bind(asm.Label(ei.Labels.Begin))
	} else {
		g.a.Bind(asm.Label(bi.Labels.End))
	}
	return nil
}

// emitBranchElse lowers Branch(Else): descend into the body, then bind this
// branch's own end label (which emitBranchIf already jumped to, past the
// else, when the condition was true).
func (g *Generator) emitBranchElse(instr *ir.Instruction) error {
	bi := g.branchInfo(instr)
	if err := g.emitScope(g.fn.ScopeByID(instr.Child)); err != nil {
		return err
	}
	g.a.Bind(asm.Label(bi.Labels.End))
	return nil
}

// emitBranchWhile lowers Branch(While) (spec §4.5): jump to the bottom
// condition check first, bind begin at the top of the body, push the loop
// end label for Break, descend, then emit the bottom condition test and the
// backward branch.
func (g *Generator) emitBranchWhile(instr *ir.Instruction) error {
	bi := g.branchInfo(instr)
	g.a.JmpLabel(asm.Label(bi.Labels.End))
	g.a.Bind(asm.Label(bi.Labels.Begin))

	g.pushLoop(asm.Label(bi.Labels.LoopEnd))
	err := g.emitScope(g.fn.ScopeByID(instr.Child))
	g.popLoop()
	if err != nil {
		return err
	}

	g.a.Bind(asm.Label(bi.Labels.End))
	g.evalConditionToAL(instr.Cond)
	g.a.CmpRegImm8(amd64.RegLeft, 0)
	g.a.JccLabel(asm.CondNotEqual, asm.Label(bi.Labels.Begin))
	g.a.Bind(asm.Label(bi.Labels.LoopEnd))
	return nil
}

// emitBreak lowers Break (spec §4.5): a single-scope destructor sweep over
// the current scope's progress so far, then an unconditional jump to the
// innermost loop's loop_end label.
func (g *Generator) emitBreak() error {
	cur := g.active[len(g.active)-1]
	g.sweepScope(cur.scope, cur.pos)
	end, err := g.currentLoopEnd()
	if err != nil {
		return err
	}
	g.a.JmpLabel(end)
	return nil
}
