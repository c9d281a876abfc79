package vstack

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestNewStackStartsEmpty(t *testing.T) {
	s := New(4096, 128)
	require.Equal(t, uint64(0), s.Allocated())
	require.Equal(t, uint64(4096), s.Capacity())
	require.Equal(t, s.RSP(), s.RBP())
	require.Equal(t, s.BaseAddr(), s.RSP())
}

func TestCreateAndLeaveStackFrameRoundTrip(t *testing.T) {
	s := New(4096, 128)
	base := s.RSP()

	s.CreateStackFrame(64)
	require.Equal(t, base-uintptr(8+64), s.RSP(), "frame size plus the saved-rbp slot must be subtracted")
	require.Equal(t, base-8, s.RBP())
	require.True(t, s.Allocated() > 0)

	s.LeaveStackFrame()
	require.Equal(t, base, s.RSP())
	require.Equal(t, base, s.RBP())
	require.Equal(t, uint64(0), s.Allocated())
}

func TestNestedStackFrames(t *testing.T) {
	s := New(4096, 128)
	base := s.RSP()

	s.CreateStackFrame(32)
	mid := s.RSP()
	s.CreateStackFrame(16)
	require.True(t, s.RSP() < mid)

	s.LeaveStackFrame()
	require.Equal(t, mid, s.RSP())

	s.LeaveStackFrame()
	require.Equal(t, base, s.RSP())
}

func TestHandleAddressesAliasStackFields(t *testing.T) {
	s := New(1024, 64)
	h := s.Handle()
	require.Equal(t, s.RSP(), *h.RSP)
	require.Equal(t, s.RBP(), *h.RBP)

	// Mutating through the handle must be visible through the Stack's own
	// accessors, since emitted code only ever sees the handle.
	*h.RSP -= 8
	require.Equal(t, s.RSP(), *h.RSP)
}

func TestCreateStackFrameABIMatchesStackMethod(t *testing.T) {
	s := New(1024, 64)
	h := s.Handle()
	CreateStackFrameABI(h, 40)
	require.Equal(t, s.RSP(), *h.RSP)

	savedRBP := *(*uintptr)(unsafe.Pointer(s.RSP() + 40))
	require.Equal(t, s.BaseAddr(), savedRBP)

	LeaveStackFrameABI(h)
	require.Equal(t, s.BaseAddr(), s.RSP())
	require.Equal(t, s.BaseAddr(), s.RBP())
}

func TestAllocatedWithinCapacityDoesNotOverflow(t *testing.T) {
	s := New(128, 16)
	s.CreateStackFrame(64)
	require.NotPanics(t, func() { s.CheckOverflow() })
}
