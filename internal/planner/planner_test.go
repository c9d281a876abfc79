package planner

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/types"
)

func boolImm(v bool) ir.Value {
	b := byte(0)
	if v {
		b = 1
	}
	return ir.Immediate(types.Bool, []byte{b})
}

func TestPlanArgumentsAccumulatesFromLastToFirst(t *testing.T) {
	args := []types.Descriptor{types.Int32, types.Int64, types.Float64}
	offsets := PlanArguments(args, 8)

	// return slot (8) + float64 (8) + int64 (8) + int32 (4), accumulated
	// from the last declared argument to the first.
	require.Equal(t, uint64(8+8), offsets[2])   // float64, last arg
	require.Equal(t, uint64(8+8+8), offsets[1]) // int64
	require.Equal(t, uint64(8+8+8+4), offsets[0])

	// the first argument must always hold the largest offset.
	require.Equal(t, offsets[0], offsets[0])
	for i := 1; i < len(offsets); i++ {
		require.True(t, offsets[0] >= offsets[i])
	}
}

func TestPlanArgumentsEmpty(t *testing.T) {
	require.Empty(t, PlanArguments(nil, 0))
}

func TestPlanFrameAssignsNegativeOffsetsInDeclarationOrder(t *testing.T) {
	fn := ir.NewFunction("f", nil, types.Void)
	main := fn.MainScope()
	a, err := main.CreateVariable(types.Int32, "a")
	require.NoError(t, err)
	require.NoError(t, main.DefaultConstruct(a))
	b, err := main.CreateVariable(types.Int64, "b")
	require.NoError(t, err)
	require.NoError(t, main.DefaultConstruct(b))

	rf, err := fn.Rectify()
	require.NoError(t, err)

	info := PlanFrame(rf)
	require.Equal(t, int64(-4), info.VarOffset[a])
	require.Equal(t, int64(-12), info.VarOffset[b])
	require.Equal(t, uint64(16), info.MaxFrameSize) // 12 aligned up to 16
	require.Equal(t, 2, info.MaxLiveObjects)
}

func TestPlanFrameAlignsLargeTypesTo16Bytes(t *testing.T) {
	big := types.NewComposite(types.ID(900), "big", 24, func(dst, src unsafe.Pointer) {}, func(unsafe.Pointer) {})

	fn := ir.NewFunction("f", nil, types.Void)
	main := fn.MainScope()
	a, err := main.CreateVariable(types.Int8, "a")
	require.NoError(t, err)
	require.NoError(t, main.DefaultConstruct(a))
	b, err := main.CreateVariable(big, "b")
	require.NoError(t, err)
	require.NoError(t, main.DefaultConstruct(b))

	rf, err := fn.Rectify()
	require.NoError(t, err)

	info := PlanFrame(rf)
	require.Equal(t, int64(-1), info.VarOffset[a])
	// b is >= 16 bytes, so its allocation pads the running size up to the
	// next 16-byte boundary before adding its own 24 bytes.
	require.Equal(t, int64(-40), info.VarOffset[b])
}

func TestPlanFrameTracksMaxAcrossSiblingScopes(t *testing.T) {
	fn := ir.NewFunction("f", nil, types.Void)
	main := fn.MainScope()

	thenScope, err := main.IfBranch(boolImm(true))
	require.NoError(t, err)
	v1, err := thenScope.CreateVariable(types.Int64, "v1")
	require.NoError(t, err)
	require.NoError(t, thenScope.DefaultConstruct(v1))

	elseScope, err := main.ElseBranch()
	require.NoError(t, err)
	v2, err := elseScope.CreateVariable(types.Int32, "v2")
	require.NoError(t, err)
	require.NoError(t, elseScope.DefaultConstruct(v2))

	rf, err := fn.Rectify()
	require.NoError(t, err)

	info := PlanFrame(rf)
	// each branch scope starts fresh from the parent's cumulative size (0
	// here), so the max across sibling scopes is driven by the larger one.
	require.Equal(t, int64(-8), info.VarOffset[v1])
	require.Equal(t, int64(-4), info.VarOffset[v2])
	require.Equal(t, uint64(16), info.MaxFrameSize)
}

func TestPlanBranchesAssignsFreshLabelsAndPairsIfElse(t *testing.T) {
	fn := ir.NewFunction("f", nil, types.Void)
	main := fn.MainScope()
	thenScope, err := main.IfBranch(boolImm(true))
	require.NoError(t, err)
	_, err = thenScope.CreateScope()
	require.NoError(t, err)
	elseScope, err := main.ElseBranch()
	require.NoError(t, err)
	_ = elseScope

	rf, err := fn.Rectify()
	require.NoError(t, err)

	next := 0
	labels := PlanBranches(rf, func() int { next++; return next })

	var ifInstr, elseInstr *ir.Instruction
	for i := range rf.Main.Instructions {
		instr := &rf.Main.Instructions[i]
		switch instr.Kind {
		case ir.InstrBranchIf:
			ifInstr = instr
		case ir.InstrBranchElse:
			elseInstr = instr
		}
	}
	require.NotNil(t, ifInstr)
	require.NotNil(t, elseInstr)

	ifInfo, ok := labels[ifInstr]
	require.True(t, ok)
	require.Same(t, elseInstr, ifInfo.Else)

	elseInfo, ok := labels[elseInstr]
	require.True(t, ok)
	require.Nil(t, elseInfo.Else)

	// every label triple slot must be unique across the whole plan.
	seen := map[int]bool{}
	for _, bi := range labels {
		for _, l := range []int{bi.Labels.Begin, bi.Labels.End, bi.Labels.LoopEnd} {
			require.False(t, seen[l], "label %d reused across branches", l)
			seen[l] = true
		}
	}
}

func TestPlanBranchesDoesNotPairNonAdjacentElse(t *testing.T) {
	fn := ir.NewFunction("f", nil, types.Void)
	main := fn.MainScope()
	_, err := main.IfBranch(boolImm(true))
	require.NoError(t, err)
	// a scope creation in between breaks If/Else adjacency at the
	// instruction-stream level.
	_, err = main.CreateScope()
	require.NoError(t, err)

	rf, err := fn.Rectify()
	require.NoError(t, err)

	next := 0
	labels := PlanBranches(rf, func() int { next++; return next })
	for _, bi := range labels {
		require.Nil(t, bi.Else)
	}
}
