package jiterrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorMessageIncludesKindAndDetail(t *testing.T) {
	err := NewValidationError(KindTypeMismatch, "expected %s, got %s", "i32", "f64")
	require.Equal(t, "ir validation: type mismatch: expected i32, got f64", err.Error())
}

func TestValidationErrorWithoutMessageFallsBackToKindOnly(t *testing.T) {
	err := &IRValidationError{Kind: KindSameVariable}
	require.Equal(t, "ir validation: source and destination variable are identical", err.Error())
}

func TestCompilationErrorUnwrapsUnderlyingError(t *testing.T) {
	inner := errors.New("bad opcode")
	err := NewCompilationError("myFunc", inner)
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "myFunc")
}

func TestUnsupportedTargetErrorMessage(t *testing.T) {
	err := NewUnsupportedTargetError("no backend for %s", "arm64")
	require.Equal(t, "unsupported target: no backend for arm64", err.Error())
}
