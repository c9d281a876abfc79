// Package amd64 is microjit's hand-rolled x86-64 encoder: a direct byte
// emitter with a forward-patch label mechanism, used by internal/codegen to
// lower the IR (spec §4.5-§4.7).
//
// Grounded on tetratelabs-wazero's internal/asm/amd64 (consts.go's register
// and instruction enumerations, impl.go's REX/ModRM construction), simplified
// from wazero's general-purpose node-graph assembler — which exists there to
// support wazero's full dynamic register allocator over an open instruction
// set — down to a single-pass byte emitter with a label patch list, since
// spec §4.5 fixes the scratch register assignment up front and §1 explicitly
// scopes "register allocation beyond a handful of fixed scratch registers"
// out. The register naming (Go-assembler style, e.g. AX/DI/R10) follows
// wazero's and the Go toolchain's (ymm135-go's src/cmd_local/internal/obj/x86)
// convention.
package amd64

import "github.com/cycastic-cumberland/microjit/internal/asm"

// General-purpose registers, numbered exactly as the x86-64 ModRM/REX.B
// encoding expects (0=AX ... 15=R15), so Register value doubles as its own
// encoding index.
const (
	AX asm.Register = iota
	CX
	DX
	BX
	SP
	BP
	SI
	DI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// XMM vector/scalar-float registers, numbered 0-15 exactly as SSE encoding
// expects. Declared in a disjoint numeric range from the GP registers so a
// Register value alone never confuses the two register files.
const (
	X0 asm.Register = 64 + iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
)

// IsXMM reports whether r names a vector/scalar-float register.
func IsXMM(r asm.Register) bool { return r >= X0 && r <= X15 }

// index returns the 0-15 encoding index shared by ModRM.reg/rm and
// REX.R/X/B, regardless of which register file r belongs to.
func index(r asm.Register) byte {
	if IsXMM(r) {
		return byte(r - X0)
	}
	return byte(r)
}

// extended reports whether r needs a REX.R/X/B=1 bit (register 8-15 in its
// file).
func extended(r asm.Register) bool {
	return index(r) >= 8
}

// Fixed scratch-register assignment, spec §4.5. Named once here so the
// planner, the code generator and its tests all agree on which physical
// register plays which role; never touched by the (non-existent, per spec)
// register allocator.
const (
	// RegArg0 (rdi) carries the first argument to ctor/dtor/copy_ctor calls,
	// conforming to the host (System V AMD64) ABI.
	RegArg0 = DI
	// RegArg1 (rsi) carries the copy-source argument to copy_ctor calls.
	RegArg1 = SI
	// RegScratchAddr1/2/3 (rbx, rcx, rdx) are intermediate address/value
	// scratch registers.
	RegScratchAddr1 = BX
	RegScratchAddr2 = CX
	RegScratchAddr3 = DX
	// RegVStackBaseCallee/Caller (r10, r11) name the callee-frame and
	// caller-frame virtual-stack base roles of nested calls. The code
	// generator uses neither register: it keeps the callee's vrbp in a
	// native-frame slot (Generator.calleeVrbpSlot).
	RegVStackBaseCallee = R10
	RegVStackBaseCaller = R11
	// RegLeft/RegLeftFloat (rax, xmm1) hold the left operand of a primitive
	// binary operation; RegScratchAddr1 (rbx) and RegRightFloat (xmm2) hold
	// the right operand.
	RegLeft      = AX
	RegLeftFloat = X1

	RegRightFloat = X2
)
