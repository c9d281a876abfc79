package ir

import "github.com/cycastic-cumberland/microjit/internal/jiterrors"

// NewBinaryExpression is spec §4.2's
// create_primitive_binary_expression_parser: it typechecks the four operand
// shapes (imm/imm, imm/var, var/imm, var/var — Arguments and nested
// Expressions are rejected by IsOperandShape) and returns a ValueExpression
// carrying the inferred result type: the shared operand type for arithmetic,
// types.Bool for comparisons.
func NewBinaryExpression(op Op, lhs, rhs Value) (Value, error) {
	if !lhs.IsOperandShape() || !rhs.IsOperandShape() {
		return Value{}, jiterrors.NewValidationError(jiterrors.KindInvalidOperandShape,
			"binary expression operands must be immediates or variables, got %v and %v", lhs.Kind, rhs.Kind)
	}
	if !lhs.Type.IsPrimitive() || !rhs.Type.IsPrimitive() {
		return Value{}, jiterrors.NewValidationError(jiterrors.KindUnsupportedOperator,
			"binary expression %s requires primitive operands", op)
	}
	if lhs.Type.ID() != rhs.Type.ID() {
		return Value{}, jiterrors.NewValidationError(jiterrors.KindTypeMismatch,
			"binary expression %s operand types differ: %s vs %s", op, lhs.Type.Name(), rhs.Type.Name())
	}
	if op == OpMod && lhs.Type.IsFloat() {
		return Value{}, jiterrors.NewValidationError(jiterrors.KindFloatModulo,
			"modulo is not defined on floating-point type %s", lhs.Type.Name())
	}

	resultType := lhs.Type
	if op.IsComparison() {
		resultType = boolType
	}
	return ExpressionValue(&Expression{Op: op, LHS: lhs, RHS: rhs, ResultType: resultType}), nil
}
