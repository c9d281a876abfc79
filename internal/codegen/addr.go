package codegen

import (
	"encoding/binary"

	"github.com/cycastic-cumberland/microjit/internal/asm"
	"github.com/cycastic-cumberland/microjit/internal/asm/amd64"
	"github.com/cycastic-cumberland/microjit/internal/ir"
)

// varAddr returns the native-frame memory operand for a local variable,
// per the frame planner's VarOffset map.
func (g *Generator) varAddr(id ir.VarID) amd64.Mem {
	return g.slot(int32(g.frame.VarOffset[id]))
}

// argAddrReg computes argument idx's caller-relative address directly into
// reg (spec §4.5's "From argument: compute caller-relative address vrbp +
// ... + arg_offset"). Arguments sit below vrbp on the downward-growing
// virtual stack, so the offset the frame planner computed is subtracted, not
// added.
func (g *Generator) argAddrReg(idx int, reg asm.Register) {
	g.loadVRBP(reg)
	g.a.SubRegImm(8, reg, uint32(g.frame.ArgOffset[idx]))
}

// argAddr is argAddrReg wrapped as a Mem, for callers that want to
// load/store through it rather than pass the raw address on to a ctor call.
func (g *Generator) argAddr(idx int, scratch asm.Register) amd64.Mem {
	g.argAddrReg(idx, scratch)
	return amd64.Addr(scratch, 0)
}

// decodeImmediateUint reads an Immediate Value's little-endian byte payload
// as an unsigned integer of the given width, for materializing it with
// MovImmReg/MovImmMem.
func decodeImmediateUint(bytes []byte, width int) uint64 {
	var b [8]byte
	copy(b[:], bytes)
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b[:2]))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b[:4]))
	default:
		return binary.LittleEndian.Uint64(b[:8])
	}
}

// loadValueInt loads a primitive Immediate/Variable/Argument int-kind Value
// into the general-purpose register dst.
func (g *Generator) loadValueInt(v ir.Value, dst asm.Register) {
	width := int(v.Type.Size())
	switch v.Kind {
	case ir.ValueImmediate:
		g.a.MovImmReg(width, dst, decodeImmediateUint(v.Bytes, width))
	case ir.ValueVariable:
		g.a.MovLoad(width, dst, g.varAddr(v.Var))
	case ir.ValueArgument:
		g.a.MovLoad(width, dst, g.argAddr(v.ArgIndex, dst))
	}
}

// loadValueFloat loads a primitive Immediate/Variable/Argument float-kind
// Value into the XMM register dst.
func (g *Generator) loadValueFloat(v ir.Value, dst asm.Register) {
	isF64 := v.Type.Size() == 8
	load := g.a.MovssLoad
	if isF64 {
		load = g.a.MovsdLoad
	}
	switch v.Kind {
	case ir.ValueImmediate:
		label := g.a.AddStaticData(v.Bytes)
		load(dst, amd64.RIPData(label))
	case ir.ValueVariable:
		load(dst, g.varAddr(v.Var))
	case ir.ValueArgument:
		load(dst, g.argAddr(v.ArgIndex, amd64.RegScratchAddr1))
	}
}
