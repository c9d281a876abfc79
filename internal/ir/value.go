package ir

import "github.com/cycastic-cumberland/microjit/internal/types"

// ValueKind discriminates the Value tagged sum of spec §3.
type ValueKind int

const (
	ValueImmediate ValueKind = iota
	ValueArgument
	ValueVariable
	ValueExpression
)

// Value is spec §3's tagged sum: Immediate(Type, bytes) | Argument(index) |
// Variable(VariableRef) | Expression(AbstractOperation). Every field not
// relevant to Kind is left at its zero value.
type Value struct {
	Kind Kind
	Type types.Descriptor

	// Bytes backs ValueImmediate: the raw little-endian representation of the
	// constant, exactly Type.Size() bytes long. In the source design this
	// buffer is heap-owned and freed with the immediate's destructor on drop;
	// in Go it is simply owned by this Value and reclaimed by the GC, but the
	// field stays modeled as an explicit byte slice (not a native Go
	// constant) so the code generator's immediate-lowering path is agnostic
	// to whether the represented type is primitive or composite.
	Bytes []byte

	// ArgIndex backs ValueArgument: the value's position in the enclosing
	// function's signature.
	ArgIndex int

	// Var backs ValueVariable: a back-reference to a declaration node.
	Var VarID

	// Expr backs ValueExpression.
	Expr *Expression
}

// Kind is an alias kept distinct from ValueKind only to read naturally as
// Value.Kind in call sites; both are the same underlying enum.
type Kind = ValueKind

// Immediate constructs a ValueImmediate carrying exactly t.Size() bytes.
func Immediate(t types.Descriptor, bytes []byte) Value {
	return Value{Kind: ValueImmediate, Type: t, Bytes: bytes}
}

// Argument constructs a ValueArgument referring to position idx in the
// enclosing function's signature; callers obtain t from that signature.
func Argument(t types.Descriptor, idx int) Value {
	return Value{Kind: ValueArgument, Type: t, ArgIndex: idx}
}

// VariableValue constructs a ValueVariable referring to v, whose type is t.
func VariableValue(t types.Descriptor, v VarID) Value {
	return Value{Kind: ValueVariable, Type: t, Var: v}
}

// ExpressionValue constructs a ValueExpression wrapping e.
func ExpressionValue(e *Expression) Value {
	return Value{Kind: ValueExpression, Type: e.ResultType, Expr: e}
}

// IsOperandShape reports whether v may appear as a call argument or as an
// operand of a binary expression: spec §3 restricts both positions to
// immediates and variables, never a nested expression or a raw argument
// reference (arguments must be copied into a variable first to be used as an
// operand, and expressions may never be passed to a call — spec §9's open
// question).
func (v Value) IsOperandShape() bool {
	return v.Kind == ValueImmediate || v.Kind == ValueVariable
}

// Op enumerates the binary operators of spec §4.2/§4.6. The IR has no unary
// operators (spec §1 non-goal; reserved in the source design but never
// reachable through this builder).
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// IsComparison reports whether op produces a boolean result rather than a
// same-type arithmetic result.
func (op Op) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	default:
		return false
	}
}

func (op Op) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	default:
		return "?"
	}
}

// Expression is spec §3's AbstractOperation: a primitive binary expression
// with its operands and inferred result type, produced by
// NewBinaryExpression and never constructed any other way (the only producer
// of a ValueExpression).
type Expression struct {
	Op         Op
	LHS, RHS   Value
	ResultType types.Descriptor
}
