package microjit

import (
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/types"
)

// counterCounts tracks how many times a Counter composite's copy constructor
// and destructor actually ran, for scenario 3's "construction counter equals
// destruction counter at end" invariant (spec §8.3).
type counterCounts struct {
	ctor int
	dtor int
}

// newCounterType declares an 8-byte composite whose copy ctor/dtor record
// into counts, standing in for spec §8.3's instrumented String.
func newCounterType(counts *counterCounts) types.Descriptor {
	copyCtor := func(dst, src unsafe.Pointer) {
		*(*int64)(dst) = *(*int64)(src)
		counts.ctor++
	}
	dtor := func(unsafe.Pointer) {
		counts.dtor++
	}
	return types.NewComposite(types.ID(1001), "Counter", 8, copyCtor, dtor)
}

// TestNestedJitCallDestructorBalance builds spec §8's scenario 3: g(s) is
// invoked twice from f(s), each call copy-constructing s into the callee
// frame and destructing that copy on return, exercising emitInvoke's
// argument in/out sweep (internal/codegen/call.go) with a composite type.
func TestNestedJitCallDestructorBalance(t *testing.T) {
	var counts counterCounts
	counter := newCounterType(&counts)

	g := ir.NewFunction("g", []types.Descriptor{counter}, types.Int32)
	gMain := g.MainScope()
	gr, err := gMain.CreateVariable(types.Int32, "r")
	require.NoError(t, err)
	require.NoError(t, gMain.CopyConstructFromImmediate(gr, ir.Immediate(types.Int32, i32Bytes(99))))
	require.NoError(t, gMain.FunctionReturn(&gr))
	gRectified, err := g.Rectify()
	require.NoError(t, err)

	f := ir.NewFunction("f", []types.Descriptor{counter}, types.Int32)
	fMain := f.MainScope()
	s, err := fMain.CreateVariable(counter, "s")
	require.NoError(t, err)
	require.NoError(t, fMain.CopyConstructFromArgument(s, 0))

	r1, err := fMain.CreateVariable(types.Int32, "r1")
	require.NoError(t, err)
	require.NoError(t, fMain.InvokeJit(gRectified, []ir.Value{ir.VariableValue(counter, s)}, &r1))

	r2, err := fMain.CreateVariable(types.Int32, "r2")
	require.NoError(t, err)
	require.NoError(t, fMain.InvokeJit(gRectified, []ir.Value{ir.VariableValue(counter, s)}, &r2))

	sum, err := fMain.CreateVariable(types.Int32, "sum")
	require.NoError(t, err)
	require.NoError(t, fMain.CopyConstructFromImmediate(sum, ir.Immediate(types.Int32, i32Bytes(0))))
	expr, err := ir.NewBinaryExpression(ir.OpAdd, ir.VariableValue(types.Int32, r1), ir.VariableValue(types.Int32, r2))
	require.NoError(t, err)
	require.NoError(t, fMain.AssignFromExpression(sum, expr))
	require.NoError(t, fMain.FunctionReturn(&sum))
	fRectified, err := f.Rectify()
	require.NoError(t, err)

	o := New(NewConfig())
	defer o.Close()
	callable, err := o.Compile(fRectified)
	require.NoError(t, err)

	var arg int64 = 7
	var ret int32
	require.NoError(t, callable.Call([]unsafe.Pointer{unsafe.Pointer(&arg)}, unsafe.Pointer(&ret)))
	require.Equal(t, int32(198), ret)
	require.Equal(t, counts.ctor, counts.dtor)
	require.Equal(t, 4, counts.ctor)
}

// buildWhileBreak builds spec §8's scenario 4: "int32 f(n) { int32 i = 0;
// while (i < n) { if (i == 5) break; i = i + 1; } return i; }", exercising
// emitBranchWhile/emitBreak/sweepScope (internal/codegen/lower.go,
// destruct.go) through real compiled and executed code.
func buildWhileBreak(t *testing.T) *ir.RectifiedFunction {
	t.Helper()
	fn := ir.NewFunction("countUpToBreak", []types.Descriptor{types.Int32}, types.Int32)
	main := fn.MainScope()
	i, err := main.CreateVariable(types.Int32, "i")
	require.NoError(t, err)
	require.NoError(t, main.CopyConstructFromImmediate(i, ir.Immediate(types.Int32, i32Bytes(0))))
	n, err := main.CreateVariable(types.Int32, "n")
	require.NoError(t, err)
	require.NoError(t, main.CopyConstructFromArgument(n, 0))

	loopCond, err := ir.NewBinaryExpression(ir.OpLt, ir.VariableValue(types.Int32, i), ir.VariableValue(types.Int32, n))
	require.NoError(t, err)
	body, err := main.WhileBranch(loopCond)
	require.NoError(t, err)

	eq, err := ir.NewBinaryExpression(ir.OpEq, ir.VariableValue(types.Int32, i), ir.Immediate(types.Int32, i32Bytes(5)))
	require.NoError(t, err)
	eqVar, err := body.CreateVariable(types.Bool, "eq")
	require.NoError(t, err)
	require.NoError(t, body.AssignFromExpression(eqVar, eq))
	thenScope, err := body.IfBranch(ir.VariableValue(types.Bool, eqVar))
	require.NoError(t, err)
	require.NoError(t, thenScope.BreakLoop())

	inc, err := ir.NewBinaryExpression(ir.OpAdd, ir.VariableValue(types.Int32, i), ir.Immediate(types.Int32, i32Bytes(1)))
	require.NoError(t, err)
	require.NoError(t, body.AssignFromExpression(i, inc))

	require.NoError(t, main.FunctionReturn(&i))
	rf, err := fn.Rectify()
	require.NoError(t, err)
	return rf
}

func TestWhileLoopEarlyBreak(t *testing.T) {
	o := New(NewConfig())
	defer o.Close()

	fn := buildWhileBreak(t)
	callable, err := o.Compile(fn)
	require.NoError(t, err)

	var n, ret int32

	n, ret = 100, 0
	require.NoError(t, callable.Call([]unsafe.Pointer{unsafe.Pointer(&n)}, unsafe.Pointer(&ret)))
	require.Equal(t, int32(5), ret)

	n, ret = 3, 0
	require.NoError(t, callable.Call([]unsafe.Pointer{unsafe.Pointer(&n)}, unsafe.Pointer(&ret)))
	require.Equal(t, int32(3), ret)
}

// buildFloatEqual builds spec §8's scenario 6: "bool f(a: f64, b: f64) {
// return a == b; }", exercising evalFloatEqNe (internal/codegen/expr.go)'s
// NaN-aware comparison lowering through real compiled and executed code.
func buildFloatEqual(t *testing.T) *ir.RectifiedFunction {
	t.Helper()
	fn := ir.NewFunction("floatEqual", []types.Descriptor{types.Float64, types.Float64}, types.Bool)
	main := fn.MainScope()
	a, err := main.CreateVariable(types.Float64, "a")
	require.NoError(t, err)
	require.NoError(t, main.CopyConstructFromArgument(a, 0))
	b, err := main.CreateVariable(types.Float64, "b")
	require.NoError(t, err)
	require.NoError(t, main.CopyConstructFromArgument(b, 1))

	expr, err := ir.NewBinaryExpression(ir.OpEq, ir.VariableValue(types.Float64, a), ir.VariableValue(types.Float64, b))
	require.NoError(t, err)
	r, err := main.CreateVariable(types.Bool, "r")
	require.NoError(t, err)
	require.NoError(t, main.AssignFromExpression(r, expr))
	require.NoError(t, main.FunctionReturn(&r))
	rf, err := fn.Rectify()
	require.NoError(t, err)
	return rf
}

func TestFloatEqualityWithNaN(t *testing.T) {
	o := New(NewConfig())
	defer o.Close()

	fn := buildFloatEqual(t)
	callable, err := o.Compile(fn)
	require.NoError(t, err)

	nan := math.NaN()
	var ret bool
	require.NoError(t, callable.Call([]unsafe.Pointer{unsafe.Pointer(&nan), unsafe.Pointer(&nan)}, unsafe.Pointer(&ret)))
	require.False(t, ret)

	one := 1.0
	require.NoError(t, callable.Call([]unsafe.Pointer{unsafe.Pointer(&one), unsafe.Pointer(&one)}, unsafe.Pointer(&ret)))
	require.True(t, ret)
}
