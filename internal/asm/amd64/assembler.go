package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/cycastic-cumberland/microjit/internal/asm"
)

// Mem is a memory operand: either [Base+Disp] or, when RIPRelative is set,
// [RIP+Disp] where Disp is resolved against DataLabel during Assemble (used
// to reach the static-data pool microjit embeds immediately after the code,
// mirroring wazero's codeStaticData convention referenced from compile()).
type Mem struct {
	Base        asm.Register
	Disp        int32
	RIPRelative bool
	DataLabel   asm.Label
}

func addr(base asm.Register, disp int32) Mem { return Mem{Base: base, Disp: disp} }

// Assembler accumulates a single function body's machine code as a flat byte
// buffer with a forward/backward label-patch list, instead of wazero's
// node-graph (see package doc for why). Every Emit* method appends
// immediately; Bind records a label's current offset; Assemble resolves all
// pending relocations and appends the static-data pool.
type Assembler struct {
	code  []byte
	data  []byte
	label []int // label id -> code offset, -1 until Bind
	reloc []relocation
}

type relocation struct {
	// dispPos is the offset of the 4-byte little-endian displacement field to
	// patch; the field encodes target-(dispPos+4), i.e. a rel32/RIP-relative
	// displacement measured from the first byte after the field.
	dispPos int
	label   asm.Label
}

// New returns an empty Assembler.
func New() *Assembler {
	return &Assembler{}
}

// NewLabel allocates a fresh, unbound label.
func (a *Assembler) NewLabel() asm.Label {
	a.label = append(a.label, -1)
	return asm.Label(len(a.label) - 1)
}

// Bind fixes label at the current write position (the address of the next
// emitted instruction).
func (a *Assembler) Bind(l asm.Label) {
	a.label[l] = len(a.code)
}

// Offset returns the current length of the code buffer, used by callers that
// need to know a position before it is bound as a label (e.g. the code
// generator's debug dump).
func (a *Assembler) Offset() int { return len(a.code) }

// AddStaticData appends bytes to the data pool (emitted immediately after the
// code section) and returns a label bound to its offset within that pool;
// resolved to an absolute code-buffer offset during Assemble.
func (a *Assembler) AddStaticData(bytes []byte) asm.Label {
	l := a.NewLabel()
	// Data-pool offsets are negative-biased: store as (offset-in-data)+2,
	// negated, so Assemble can distinguish "code label" (>=0, set by Bind)
	// and "unbound" (-1) from "pending data label" before the final code
	// length is known.
	a.label[l] = -(len(a.data) + 2)
	a.data = append(a.data, bytes...)
	return l
}

func (a *Assembler) emitByte(b byte) { a.code = append(a.code, b) }

func (a *Assembler) emitBytes(bs ...byte) { a.code = append(a.code, bs...) }

// emitRel32Placeholder appends 4 zero bytes and registers a relocation so the
// displacement is patched in during Assemble.
func (a *Assembler) emitRel32Placeholder(l asm.Label) {
	a.reloc = append(a.reloc, relocation{dispPos: len(a.code), label: l})
	a.emitBytes(0, 0, 0, 0)
}

func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 1 << 3
	}
	if r {
		v |= 1 << 2
	}
	if x {
		v |= 1 << 1
	}
	if b {
		v |= 1
	}
	return v
}

// needsRexForByte reports whether a REX prefix is mandatory even without W/R/X/B
// bits set, because an 8-bit operand refers to one of SPL/BPL/SIL/DIL (whose
// encoding without REX instead addresses AH/CH/DH/BH).
func needsRexForByte(reg asm.Register) bool {
	i := index(reg)
	return i >= 4 && i < 8 && !IsXMM(reg)
}

// emitRegRegP emits a ModRM byte for two register operands (mod=11) and
// any REX prefix it requires, given the instruction width in bytes. prefix is
// an optional mandatory legacy prefix byte (0x66/0xF2/0xF3), emitted before
// REX per the x86-64 prefix-ordering rule; pass 0 for none.
func (a *Assembler) emitRegRegP(prefix byte, opcode []byte, width int, reg, rm asm.Register) {
	if prefix != 0 {
		a.emitByte(prefix)
	}
	w := width == 8
	r := extended(reg)
	b := extended(rm)
	needRex := w || r || b || needsRexForByte(reg) || needsRexForByte(rm)
	if needRex {
		a.emitByte(rex(w, r, false, b))
	}
	a.emitBytes(opcode...)
	a.emitByte(0xC0 | (index(reg)&7)<<3 | (index(rm) & 7))
}

func (a *Assembler) emitRegReg(opcode []byte, width int, reg, rm asm.Register) {
	a.emitRegRegP(0, opcode, width, reg, rm)
}

// emitRegMem emits ModRM(+SIB)+disp32 for a register operand combined with a
// [Base+Disp] or [RIP+Disp] memory operand.
func (a *Assembler) emitRegMemP(prefix byte, opcode []byte, width int, reg asm.Register, m Mem) {
	if prefix != 0 {
		a.emitByte(prefix)
	}
	w := width == 8
	r := extended(reg)
	b := !m.RIPRelative && extended(m.Base)
	needRex := w || r || b || needsRexForByte(reg)
	if needRex {
		a.emitByte(rex(w, r, false, b))
	}
	a.emitBytes(opcode...)
	if m.RIPRelative {
		a.emitByte(0x00 | (index(reg)&7)<<3 | 0x05)
		a.emitRel32Placeholder(m.DataLabel)
		return
	}
	baseIdx := index(m.Base) & 7
	a.emitByte(0x80 | (index(reg)&7)<<3 | baseIdx)
	if baseIdx == 4 { // SP/R12 require a SIB byte even for [base+disp32]
		a.emitByte(0x24)
	}
	var d [4]byte
	binary.LittleEndian.PutUint32(d[:], uint32(m.Disp))
	a.emitBytes(d[:]...)
}

// emitOpcodeMem emits ModRM(+SIB)+disp32 where the ModRM.reg field is a fixed
// opcode extension (/digit) rather than a register, used by instructions like
// PUSH [mem] or the /digit forms of IDIV/DIV/CALL.
func (a *Assembler) emitOpcodeMem(opcode []byte, digit byte, width int, m Mem) {
	a.emitRegMem(opcode, width, asm.Register(digit), m)
}

func (a *Assembler) emitOpcodeReg(opcode []byte, digit byte, width int, rm asm.Register) {
	a.emitRegReg(opcode, width, asm.Register(digit), rm)
}

func (a *Assembler) emitRegMem(opcode []byte, width int, reg asm.Register, m Mem) {
	a.emitRegMemP(0, opcode, width, reg, m)
}

// Assemble resolves every jump/RIP-relative relocation and returns the final
// machine code: the instruction stream immediately followed by the
// static-data pool (wazero's codeStaticData convention, see package doc).
func (a *Assembler) Assemble() ([]byte, error) {
	codeLen := len(a.code)
	out := make([]byte, codeLen+len(a.data))
	copy(out, a.code)
	copy(out[codeLen:], a.data)

	resolve := func(l asm.Label) (int, error) {
		v := a.label[l]
		if v == -1 {
			return 0, fmt.Errorf("amd64: label %d used but never bound", l)
		}
		if v >= 0 {
			return v, nil
		}
		// Pending data label: decode the (offset-in-data)+2, negated encoding.
		return codeLen + (-v - 2), nil
	}

	for _, r := range a.reloc {
		target, err := resolve(r.label)
		if err != nil {
			return nil, err
		}
		rel := int32(target - (r.dispPos + 4))
		binary.LittleEndian.PutUint32(out[r.dispPos:], uint32(rel))
	}
	return out, nil
}
