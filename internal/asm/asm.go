// Package asm defines the architecture-neutral vocabulary (register handles,
// label handles, condition codes) shared by the concrete amd64 encoder in
// internal/asm/amd64. Splitting a small neutral package from the concrete
// encoder mirrors tetratelabs-wazero's internal/asm (generic) /
// internal/asm/amd64 (concrete) split — kept here even though spec §1 scopes
// non-x86 backends out. The fixed scratch-register assignment itself is named
// in internal/asm/amd64/registers.go.
package asm

// Register is an opaque handle into an architecture's register file.
type Register int

// NilRegister marks the absence of a register, e.g. a value::Location that
// lives on the stack rather than in a register.
const NilRegister Register = -1

// Label identifies a position in the instruction stream to be resolved during
// Assemble. Labels are created with NewLabel and bound exactly once with
// Assembler.Bind.
type Label int

// Cond is a condition code used by conditional jumps and SETcc.
type Cond int

const (
	CondEqual Cond = iota
	CondNotEqual
	CondSignedLess
	CondSignedLessOrEqual
	CondSignedGreater
	CondSignedGreaterOrEqual
	CondUnsignedBelow
	CondUnsignedBelowOrEqual
	CondUnsignedAbove
	CondUnsignedAboveOrEqual
)
