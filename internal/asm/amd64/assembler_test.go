package amd64

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetEmitsSingleByte(t *testing.T) {
	a := New()
	a.Ret()
	code, err := a.Assemble()
	require.NoError(t, err)
	require.Equal(t, []byte{0xC3}, code)
}

func TestUnboundLabelFailsAssemble(t *testing.T) {
	a := New()
	l := a.NewLabel()
	a.JmpLabel(l)
	_, err := a.Assemble()
	require.Error(t, err)
}

func TestJmpLabelForwardRelocationResolvesCorrectly(t *testing.T) {
	a := New()
	end := a.NewLabel()
	a.JmpLabel(end) // 5 bytes: E9 + rel32
	a.Ret()         // 1 byte, at offset 5
	a.Bind(end)
	a.Ret() // at offset 6

	code, err := a.Assemble()
	require.NoError(t, err)
	require.Len(t, code, 7)
	require.Equal(t, byte(0xE9), code[0])

	rel := int32(binary.LittleEndian.Uint32(code[1:5]))
	// displacement is measured from the first byte after the 4-byte field
	// (offset 5) to the bound target (offset 6).
	require.Equal(t, int32(1), rel)
}

func TestBackwardJumpRelocationIsNegative(t *testing.T) {
	a := New()
	top := a.NewLabel()
	a.Bind(top) // offset 0
	a.Ret()     // offset 0, 1 byte; next write at offset 1
	a.JmpLabel(top)

	code, err := a.Assemble()
	require.NoError(t, err)
	rel := int32(binary.LittleEndian.Uint32(code[2:6]))
	// jump opcode at offset 1, rel32 field at offset 2-5; field end is offset
	// 6; target is offset 0 => rel = 0 - 6 = -6.
	require.Equal(t, int32(-6), rel)
}

func TestAddStaticDataAppendsAfterCodeAndRIPRelativeResolves(t *testing.T) {
	a := New()
	label := a.AddStaticData([]byte{0xAA, 0xBB, 0xCC, 0xDD})
	a.Lea(RegArg0, RIPData(label))
	a.Ret()

	code, err := a.Assemble()
	require.NoError(t, err)

	// code section: Lea (REX.W + 8D + ModRM + rel32) then Ret, then 4 data
	// bytes appended at the very end.
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, code[len(code)-4:])

	rel := int32(binary.LittleEndian.Uint32(code[3:7]))
	dataOffset := len(code) - 4
	require.Equal(t, int32(dataOffset-7), rel)
}

func TestMovImmRegAndCmpRegImm8RoundTrip(t *testing.T) {
	a := New()
	a.MovImmReg(4, AX, 5)
	a.CmpRegImm8(AX, 0)
	a.Ret()
	code, err := a.Assemble()
	require.NoError(t, err)
	require.NotEmpty(t, code)
	require.Equal(t, byte(0xC3), code[len(code)-1])
}

func TestOffsetTracksCodeLength(t *testing.T) {
	a := New()
	require.Equal(t, 0, a.Offset())
	a.Ret()
	require.Equal(t, 1, a.Offset())
}
