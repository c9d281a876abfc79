package trampoline

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/planner"
	"github.com/cycastic-cumberland/microjit/internal/types"
	"github.com/cycastic-cumberland/microjit/internal/vstack"
)

func writeCalleeFrame(vs *vstack.Stack, args []types.Descriptor, returnSize uint64, values []uint64) uintptr {
	offsets := planner.PlanArguments(args, returnSize)
	frameSize := returnSize
	if len(offsets) > 0 {
		frameSize = offsets[0]
	}
	vs.CreateStackFrame(frameSize)
	base := vs.RBP()
	for i, off := range offsets {
		width := args[i].Size()
		addr := unsafe.Pointer(base - uintptr(off))
		switch width {
		case 4:
			*(*uint32)(addr) = uint32(values[i])
		case 8:
			*(*uint64)(addr) = values[i]
		}
	}
	return base
}

func TestNativeCallMarshalsArgumentsAndReturn(t *testing.T) {
	sig := &ir.NativeSignature{
		Name:       "add",
		Args:       []types.Descriptor{types.Int32, types.Int32},
		ReturnType: types.Int32,
		Func:       func(a, b int32) int32 { return a + b },
	}
	nt := NewNative(sig)

	vs := vstack.New(4096, 128)
	writeCalleeFrame(vs, sig.Args, uint64(sig.ReturnType.Size()), []uint64{17, 25})

	NativeCall(nt, vs.Handle())

	retAddr := vs.RBP() - uintptr(sig.ReturnType.Size())
	got := *(*int32)(unsafe.Pointer(retAddr))
	require.Equal(t, int32(42), got)
}

func TestNativeCallVoidFunctionDoesNotTouchReturnSlot(t *testing.T) {
	called := false
	sig := &ir.NativeSignature{
		Name:       "sideEffect",
		Args:       []types.Descriptor{types.Int32},
		ReturnType: types.Void,
		Func:       func(a int32) { called = true },
	}
	nt := NewNative(sig)

	vs := vstack.New(4096, 128)
	writeCalleeFrame(vs, sig.Args, 0, []uint64{7})

	NativeCall(nt, vs.Handle())
	require.True(t, called)
}

func TestJITCallResolvesAndPublishesOnFirstCall(t *testing.T) {
	target := &ir.RectifiedFunction{Name: "target"}
	var resolveCalls int
	var publishedCall bool
	resolve := Resolver(func(fn *ir.RectifiedFunction) (EmittedEntry, error) {
		resolveCalls++
		require.Same(t, target, fn)
		return func(vs *vstack.ABIHandle) { publishedCall = true }, nil
	})

	j := NewJIT(target, resolve)
	vs := vstack.New(4096, 128)

	err := Call(j, vs.Handle())
	require.NoError(t, err)
	require.Equal(t, 1, resolveCalls)
	require.True(t, publishedCall)
	require.NotNil(t, *j.EntryPtr())
}

func TestJITCallPropagatesResolveError(t *testing.T) {
	target := &ir.RectifiedFunction{Name: "broken"}
	resolve := Resolver(func(fn *ir.RectifiedFunction) (EmittedEntry, error) {
		return nil, errors.New("compile failed")
	})
	j := NewJIT(target, resolve)
	vs := vstack.New(4096, 128)

	err := Call(j, vs.Handle())
	require.Error(t, err)
}

func TestJITCallResolvesAgainOnEveryCallLeavingIdempotencyToResolver(t *testing.T) {
	target := &ir.RectifiedFunction{Name: "target"}
	var calls int
	resolve := Resolver(func(fn *ir.RectifiedFunction) (EmittedEntry, error) {
		calls++
		return func(vs *vstack.ABIHandle) {}, nil
	})
	j := NewJIT(target, resolve)
	vs := vstack.New(4096, 128)

	require.NoError(t, Call(j, vs.Handle()))
	require.NoError(t, Call(j, vs.Handle()))
	require.Equal(t, 2, calls, "the trampoline itself always re-invokes Resolve; a cache-backed resolver is what makes repeated calls cheap")
}
