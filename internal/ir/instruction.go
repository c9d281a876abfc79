package ir

import (
	"github.com/cycastic-cumberland/microjit/internal/types"
)

// InstrKind discriminates the Instruction tagged sum of spec §3.
type InstrKind int

const (
	InstrDeclareVariable InstrKind = iota
	InstrConstruct
	InstrCopyConstruct
	InstrAssign
	InstrReturn
	InstrScopeCreate
	InstrConvert
	InstrPrimitiveConvert
	InstrInvokeJit
	InstrInvokeNative
	InstrBranchIf
	InstrBranchElse
	InstrBranchWhile
	InstrBreak
)

func (k InstrKind) String() string {
	switch k {
	case InstrDeclareVariable:
		return "DeclareVariable"
	case InstrConstruct:
		return "Construct"
	case InstrCopyConstruct:
		return "CopyConstruct"
	case InstrAssign:
		return "Assign"
	case InstrReturn:
		return "Return"
	case InstrScopeCreate:
		return "ScopeCreate"
	case InstrConvert:
		return "Convert"
	case InstrPrimitiveConvert:
		return "PrimitiveConvert"
	case InstrInvokeJit:
		return "InvokeJit"
	case InstrInvokeNative:
		return "InvokeNative"
	case InstrBranchIf:
		return "Branch(If)"
	case InstrBranchElse:
		return "Branch(Else)"
	case InstrBranchWhile:
		return "Branch(While)"
	case InstrBreak:
		return "Break"
	default:
		return "?"
	}
}

// IsBranch reports whether k is one of the three branch kinds the branch
// planner (spec §4.4) assigns label triples to.
func (k InstrKind) IsBranch() bool {
	return k == InstrBranchIf || k == InstrBranchElse || k == InstrBranchWhile
}

// NativeSignature describes an externally defined function invoked through
// InstrInvokeNative: a callable plus the type information the native
// trampoline (spec §4.8) needs to unmarshal arguments from the virtual
// stack. Func holds a plain (non-closure) Go function value rather than an
// unsafe.Pointer: the native trampoline invokes it through reflect, which
// needs the function's type to marshal arguments — a bare code address
// carries none.
type NativeSignature struct {
	Name       string
	Args       []types.Descriptor
	ReturnType types.Descriptor
	Func       interface{}
}

// Instruction is spec §3's closed tagged sum over every IR instruction kind,
// implemented as a single discriminated struct per spec §9's design note
// rather than an interface hierarchy (fields unused by Kind are left at
// their zero value). Offset is the scope_offset: a monotonically increasing
// ordinal assigned when the instruction is appended to its Scope.
type Instruction struct {
	Kind   InstrKind
	Offset InstrIndex

	// Var is the instruction's primary target variable: the declared
	// variable for DeclareVariable/Construct/CopyConstruct, the assignment
	// target for Assign, the source for Return, the optional destination for
	// InvokeJit/InvokeNative, and the "to" operand for Convert.
	Var VarID
	// HasVar disambiguates "no variable" (void Return) from VarID's zero
	// value, which is otherwise a valid handle.
	HasVar bool

	// Source carries the right-hand operand of CopyConstruct/Assign.
	Source Value

	// Child is the sub-scope of ScopeCreate/BranchIf/BranchElse/BranchWhile.
	Child ScopeID

	// Cond carries the boolean condition of BranchIf/BranchWhile.
	Cond Value

	// JitTarget/NativeTarget/Args carry an invocation's callee and argument
	// list.
	JitTarget    *RectifiedFunction
	NativeTarget *NativeSignature
	Args         []Value

	// ConvertFrom is the source variable of a Convert instruction (Var holds
	// the destination).
	ConvertFrom VarID
}
