package jitlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNopDiscardsLogs(t *testing.T) {
	log := Nop()
	require.NotNil(t, log)
	// Core().Enabled should report false for every level on a nop logger;
	// this is the contract callers rely on to make logging free by default.
	require.False(t, log.Core().Enabled(0))
}

func TestNamedScopesUnderComponent(t *testing.T) {
	base := Nop()
	child := Named(base, "agent.pooled")
	require.NotNil(t, child)
}

func TestNamedWithNilBaseFallsBackToNop(t *testing.T) {
	child := Named(nil, "codegen")
	require.NotNil(t, child)
}
