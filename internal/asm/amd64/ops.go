package amd64

import (
	"encoding/binary"
	"math"

	"github.com/cycastic-cumberland/microjit/internal/asm"
)

// Addr builds a [Base+Disp] memory operand.
func Addr(base asm.Register, disp int32) Mem { return addr(base, disp) }

// RIPData builds a [RIP+label] memory operand referring to a static-data
// label created with Assembler.AddStaticData.
func RIPData(l asm.Label) Mem { return Mem{RIPRelative: true, DataLabel: l} }

// --- data movement ---

// MovRegReg moves width bytes from src to dst, both general-purpose
// registers. width must be 1, 2, 4 or 8.
func (a *Assembler) MovRegReg(width int, dst, src asm.Register) {
	if width == 1 {
		a.emitRegReg([]byte{0x88}, width, src, dst)
		return
	}
	if width == 2 {
		a.emitByte(0x66)
	}
	a.emitRegReg([]byte{0x89}, width, src, dst)
}

// MovLoad loads width bytes from memory m into general-purpose register dst.
func (a *Assembler) MovLoad(width int, dst asm.Register, m Mem) {
	switch width {
	case 1:
		a.emitRegMem([]byte{0x8A}, width, dst, m)
	case 2:
		a.emitByte(0x66)
		a.emitRegMem([]byte{0x8B}, width, dst, m)
	default:
		a.emitRegMem([]byte{0x8B}, width, dst, m)
	}
}

// MovStore stores width bytes from general-purpose register src into memory m.
func (a *Assembler) MovStore(width int, m Mem, src asm.Register) {
	switch width {
	case 1:
		a.emitRegMem([]byte{0x88}, width, src, m)
	case 2:
		a.emitByte(0x66)
		a.emitRegMem([]byte{0x89}, width, src, m)
	default:
		a.emitRegMem([]byte{0x89}, width, src, m)
	}
}

// MovImmReg materializes imm into a general-purpose register as a full
// 64-bit value; width is not consulted, so any extension of a narrower
// constant is whatever the caller already encoded in imm.
func (a *Assembler) MovImmReg(width int, dst asm.Register, imm uint64) {
	// REX.W + B8+rd + imm64 always works regardless of width; simplest and
	// correct since every narrower store below truncates from the full
	// register anyway.
	if extended(dst) {
		a.emitByte(rex(true, false, false, true))
	} else {
		a.emitByte(rex(true, false, false, false))
	}
	a.emitByte(0xB8 + (index(dst) & 7))
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], imm)
	a.emitBytes(b[:]...)
}

// MovImmMem stores an immediate of width bytes (1, 2 or 4) directly into
// memory, per spec §4.5's "materialize a 1/2/4/8-byte store directly" for
// primitive CopyConstruct/Assign from an immediate. 8-byte immediates must go
// through MovImmReg + MovStore since x86-64 has no 64-bit immediate store.
func (a *Assembler) MovImmMem(width int, m Mem, imm uint32) {
	switch width {
	case 1:
		a.emitOpcodeMem([]byte{0xC6}, 0, width, m)
		a.emitByte(byte(imm))
	case 2:
		a.emitByte(0x66)
		a.emitOpcodeMem([]byte{0xC7}, 0, width, m)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(imm))
		a.emitBytes(b[:]...)
	default:
		a.emitOpcodeMem([]byte{0xC7}, 0, width, m)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], imm)
		a.emitBytes(b[:]...)
	}
}

// Lea loads the effective address of m into general-purpose register dst.
func (a *Assembler) Lea(dst asm.Register, m Mem) {
	a.emitRegMem([]byte{0x8D}, 8, dst, m)
}

// Push pushes a 64-bit general-purpose register.
func (a *Assembler) Push(r asm.Register) {
	if extended(r) {
		a.emitByte(rex(false, false, false, true))
	}
	a.emitByte(0x50 + (index(r) & 7))
}

// Pop pops into a 64-bit general-purpose register.
func (a *Assembler) Pop(r asm.Register) {
	if extended(r) {
		a.emitByte(rex(false, false, false, true))
	}
	a.emitByte(0x58 + (index(r) & 7))
}

// --- integer arithmetic, spec §4.6 ---

// intWidth clamps a sub-32-bit arithmetic width up to 4, matching microjit's
// choice to perform integer arithmetic in a 32- or 64-bit register and
// truncate on store: x86-64 has no ADD/SUB/IMUL
// r8/r16 2-operand forms worth the added encoding complexity for operand
// sizes the System V ABI itself always promotes in registers.
func intWidth(width int) int {
	if width < 4 {
		return 4
	}
	return width
}

func (a *Assembler) AddRegReg(width int, dst, src asm.Register) {
	a.emitRegReg([]byte{0x01}, intWidth(width), src, dst)
}

func (a *Assembler) SubRegReg(width int, dst, src asm.Register) {
	a.emitRegReg([]byte{0x29}, intWidth(width), src, dst)
}

// ImulRegReg: dst *= src (two-operand IMUL, 0F AF /r).
func (a *Assembler) ImulRegReg(width int, dst, src asm.Register) {
	a.emitRegReg([]byte{0x0F, 0xAF}, intWidth(width), dst, src)
}

// Cdq sign-extends EAX into EDX:EAX (32-bit) or RAX into RDX:RAX (64-bit),
// required before IDIV.
func (a *Assembler) Cdq(width int) {
	if intWidth(width) == 8 {
		a.emitByte(rex(true, false, false, false))
	}
	a.emitByte(0x99)
}

// XorRegReg zeroes dst via dst ^= dst when used for unsigned DIV's RDX clear,
// per spec §4.6 ("zero rdx").
func (a *Assembler) XorRegReg(width int, dst, src asm.Register) {
	a.emitRegReg([]byte{0x31}, intWidth(width), src, dst)
}

// IdivReg: RDX:RAX /= r (signed), quotient in RAX, remainder in RDX.
func (a *Assembler) IdivReg(width int, r asm.Register) {
	a.emitOpcodeReg([]byte{0xF7}, 7, intWidth(width), r)
}

// DivReg: RDX:RAX /= r (unsigned).
func (a *Assembler) DivReg(width int, r asm.Register) {
	a.emitOpcodeReg([]byte{0xF7}, 6, intWidth(width), r)
}

func (a *Assembler) CmpRegReg(width int, a1, a2 asm.Register) {
	a.emitRegReg([]byte{0x39}, intWidth(width), a2, a1)
}

// AndRegReg: dst &= src.
func (a *Assembler) AndRegReg(width int, dst, src asm.Register) {
	a.emitRegReg([]byte{0x21}, intWidth(width), src, dst)
}

// AddRegImm adds a 32-bit immediate to dst (sign-extended for 64-bit dst).
func (a *Assembler) AddRegImm(width int, dst asm.Register, imm uint32) {
	a.emitOpcodeReg([]byte{0x81}, 0, intWidth(width), dst)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], imm)
	a.emitBytes(b[:]...)
}

// SubRegImm subtracts a 32-bit immediate from dst.
func (a *Assembler) SubRegImm(width int, dst asm.Register, imm uint32) {
	a.emitOpcodeReg([]byte{0x81}, 5, intWidth(width), dst)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], imm)
	a.emitBytes(b[:]...)
}

// CmpRegImm8 compares the low byte of reg against an 8-bit immediate
// (CMP r/m8, imm8), spec §4.5's "compare to 0" after a boolean is evaluated
// into al.
func (a *Assembler) CmpRegImm8(reg asm.Register, imm byte) {
	a.emitOpcodeReg([]byte{0x80}, 7, 1, reg)
	a.emitByte(imm)
}

// XorRegImm8 XORs an 8-bit immediate into the low byte of dst, used to negate
// a 0/1 boolean flag byte (e.g. turning a float-equality result into its
// inequality negation).
func (a *Assembler) XorRegImm8(dst asm.Register, imm byte) {
	a.emitOpcodeReg([]byte{0x80}, 6, 1, dst)
	a.emitByte(imm)
}

// condCode maps asm.Cond to the low nibble shared by Jcc/SETcc opcodes.
func condCode(c asm.Cond) byte {
	switch c {
	case asm.CondEqual:
		return 0x4
	case asm.CondNotEqual:
		return 0x5
	case asm.CondSignedGreater:
		return 0xF
	case asm.CondSignedGreaterOrEqual:
		return 0xD
	case asm.CondSignedLess:
		return 0xC
	case asm.CondSignedLessOrEqual:
		return 0xE
	case asm.CondUnsignedAbove:
		return 0x7
	case asm.CondUnsignedAboveOrEqual:
		return 0x3
	case asm.CondUnsignedBelow:
		return 0x2
	case asm.CondUnsignedBelowOrEqual:
		return 0x6
	default:
		panic("amd64: unknown condition code")
	}
}

// SetccReg writes the 1-byte flag result of cond into the low byte of dst
// (the rest of the register is left untouched by SETcc).
func (a *Assembler) SetccReg(cond asm.Cond, dst asm.Register) {
	a.emitOpcodeReg([]byte{0x0F, 0x90 + condCode(cond)}, 0, 1, dst)
}

// SetpReg writes the parity flag (PF) into the low byte of dst: 1 when the
// immediately preceding comparison was unordered (a NaN operand), used by
// the float equality/inequality lowering of spec §4.6.
func (a *Assembler) SetpReg(dst asm.Register) {
	a.emitOpcodeReg([]byte{0x0F, 0x9A}, 0, 1, dst)
}

// JmpLabel emits an unconditional near jump to l. Always uses the 5-byte
// rel32 form: microjit does not optimize for short (rel8) jumps, a documented
// simplification relative to wazero's short/long jump selection.
func (a *Assembler) JmpLabel(l asm.Label) {
	a.emitByte(0xE9)
	a.emitRel32Placeholder(l)
}

// JccLabel emits a conditional near jump to l.
func (a *Assembler) JccLabel(cond asm.Cond, l asm.Label) {
	a.emitByte(0x0F)
	a.emitByte(0x80 + condCode(cond))
	a.emitRel32Placeholder(l)
}

// CallReg emits an indirect call through a general-purpose register (FF /2),
// the nested-invocation ABI's call-through-trampoline-handle mechanism (spec
// §4.7 step 5).
func (a *Assembler) CallReg(r asm.Register) {
	a.emitOpcodeReg([]byte{0xFF}, 2, 8, r)
}

// CmovneRegReg: dst = src if ZF==0. No lowering path calls it; the
// floating-point equality lowering combines SETE and SETP instead.
func (a *Assembler) CmovneRegReg(width int, dst, src asm.Register) {
	a.emitRegReg([]byte{0x0F, 0x45}, intWidth(width), dst, src)
}

// --- prologue/epilogue primitives ---

// PushRBP/MovRBPRSP are named wrappers kept separate from the general
// register-register movers so the prologue reads the way spec §4.5 describes
// it ("save base pointer"); the epilogue's inverse is the single native LEAVE
// instruction below.
func (a *Assembler) PushRBP()   { a.Push(BP) }
func (a *Assembler) MovRBPRSP() { a.MovRegReg(8, BP, SP) }

// Leave emits the native LEAVE instruction (mov rsp,rbp; pop rbp).
func (a *Assembler) Leave() { a.emitByte(0xC9) }

// Ret emits a near return.
func (a *Assembler) Ret() { a.emitByte(0xC3) }

// SubRSPImm reserves size bytes on the native stack (sub rsp, imm32).
func (a *Assembler) SubRSPImm(size uint32) { a.SubRegImm(8, SP, size) }

// --- SSE2 scalar float, spec §4.6 ---

const (
	prefixF3 = 0xF3 // MOVSS/ADDSS/... mandatory prefix
	prefixF2 = 0xF2 // MOVSD/ADDSD/... mandatory prefix
	prefix66 = 0x66 // 16-bit operand size / packed-double mandatory prefix
)

func (a *Assembler) sseRegReg(prefix byte, opcode []byte, dst, src asm.Register) {
	a.emitRegRegP(prefix, opcode, 4, dst, src)
}

func (a *Assembler) sseRegMem(prefix byte, opcode []byte, dst asm.Register, m Mem) {
	a.emitRegMemP(prefix, opcode, 4, dst, m)
}

func (a *Assembler) MovssLoad(dst asm.Register, m Mem)  { a.sseRegMem(prefixF3, []byte{0x0F, 0x10}, dst, m) }
func (a *Assembler) MovssStore(m Mem, src asm.Register) { a.sseRegMem(prefixF3, []byte{0x0F, 0x11}, src, m) }
func (a *Assembler) MovsdLoad(dst asm.Register, m Mem)  { a.sseRegMem(prefixF2, []byte{0x0F, 0x10}, dst, m) }
func (a *Assembler) MovsdStore(m Mem, src asm.Register) { a.sseRegMem(prefixF2, []byte{0x0F, 0x11}, src, m) }

func (a *Assembler) AddssRegReg(dst, src asm.Register) { a.sseRegReg(prefixF3, []byte{0x0F, 0x58}, dst, src) }
func (a *Assembler) SubssRegReg(dst, src asm.Register) { a.sseRegReg(prefixF3, []byte{0x0F, 0x5C}, dst, src) }
func (a *Assembler) MulssRegReg(dst, src asm.Register) { a.sseRegReg(prefixF3, []byte{0x0F, 0x59}, dst, src) }
func (a *Assembler) DivssRegReg(dst, src asm.Register) { a.sseRegReg(prefixF3, []byte{0x0F, 0x5E}, dst, src) }

func (a *Assembler) AddsdRegReg(dst, src asm.Register) { a.sseRegReg(prefixF2, []byte{0x0F, 0x58}, dst, src) }
func (a *Assembler) SubsdRegReg(dst, src asm.Register) { a.sseRegReg(prefixF2, []byte{0x0F, 0x5C}, dst, src) }
func (a *Assembler) MulsdRegReg(dst, src asm.Register) { a.sseRegReg(prefixF2, []byte{0x0F, 0x59}, dst, src) }
func (a *Assembler) DivsdRegReg(dst, src asm.Register) { a.sseRegReg(prefixF2, []byte{0x0F, 0x5E}, dst, src) }

func (a *Assembler) UcomissRegReg(a1, a2 asm.Register) { a.sseRegReg(0, []byte{0x0F, 0x2E}, a1, a2) }
func (a *Assembler) UcomisdRegReg(a1, a2 asm.Register) { a.sseRegReg(prefix66, []byte{0x0F, 0x2E}, a1, a2) }
func (a *Assembler) ComissRegReg(a1, a2 asm.Register)  { a.sseRegReg(0, []byte{0x0F, 0x2F}, a1, a2) }
func (a *Assembler) ComisdRegReg(a1, a2 asm.Register)  { a.sseRegReg(prefix66, []byte{0x0F, 0x2F}, a1, a2) }

// Float32Bits/Float64Bits are convenience helpers for building the
// static-data blobs that back RIP-relative float immediates.
func Float32Bits(f float32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
	return b[:]
}

func Float64Bits(f float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
	return b[:]
}
