package microjit

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/cycastic-cumberland/microjit/internal/agent"
	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/types"
)

func i32Bytes(v int32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// buildIdentity builds "int32 identity(int32 x) { return x; }", spec §8's
// simplest end-to-end scenario.
func buildIdentity(t *testing.T) *ir.RectifiedFunction {
	t.Helper()
	fn := ir.NewFunction("identity", []types.Descriptor{types.Int32}, types.Int32)
	main := fn.MainScope()
	v, err := main.CreateVariable(types.Int32, "x")
	require.NoError(t, err)
	require.NoError(t, main.CopyConstructFromArgument(v, 0))
	require.NoError(t, main.FunctionReturn(&v))
	rf, err := fn.Rectify()
	require.NoError(t, err)
	return rf
}

// buildAdd builds "int32 add(int32 a, int32 b) { return a + b; }".
func buildAdd(t *testing.T) *ir.RectifiedFunction {
	t.Helper()
	fn := ir.NewFunction("add", []types.Descriptor{types.Int32, types.Int32}, types.Int32)
	main := fn.MainScope()
	a, err := main.CreateVariable(types.Int32, "a")
	require.NoError(t, err)
	require.NoError(t, main.CopyConstructFromArgument(a, 0))
	b, err := main.CreateVariable(types.Int32, "b")
	require.NoError(t, err)
	require.NoError(t, main.CopyConstructFromArgument(b, 1))
	sum, err := main.CreateVariable(types.Int32, "sum")
	require.NoError(t, err)
	expr, err := ir.NewBinaryExpression(ir.OpAdd, ir.VariableValue(types.Int32, a), ir.VariableValue(types.Int32, b))
	require.NoError(t, err)
	require.NoError(t, main.CopyConstructFromImmediate(sum, ir.Immediate(types.Int32, i32Bytes(0))))
	require.NoError(t, main.AssignFromExpression(sum, expr))
	require.NoError(t, main.FunctionReturn(&sum))
	rf, err := fn.Rectify()
	require.NoError(t, err)
	return rf
}

// buildBranchPick builds a function selecting between two immediates based on
// an argument comparison: "int32 pick(int32 a) { int32 r; if (a < 0) { r =
// -1; } else { r = 1; } return r; }".
func buildBranchPick(t *testing.T) *ir.RectifiedFunction {
	t.Helper()
	fn := ir.NewFunction("pick", []types.Descriptor{types.Int32}, types.Int32)
	main := fn.MainScope()
	a, err := main.CreateVariable(types.Int32, "a")
	require.NoError(t, err)
	require.NoError(t, main.CopyConstructFromArgument(a, 0))
	r, err := main.CreateVariable(types.Int32, "r")
	require.NoError(t, err)
	require.NoError(t, main.CopyConstructFromImmediate(r, ir.Immediate(types.Int32, i32Bytes(0))))

	cond, err := ir.NewBinaryExpression(ir.OpLt, ir.VariableValue(types.Int32, a), ir.Immediate(types.Int32, i32Bytes(0)))
	require.NoError(t, err)
	condVar, err := main.CreateVariable(types.Bool, "cond")
	require.NoError(t, err)
	require.NoError(t, main.AssignFromExpression(condVar, cond))

	thenScope, err := main.IfBranch(ir.VariableValue(types.Bool, condVar))
	require.NoError(t, err)
	require.NoError(t, thenScope.AssignFromImmediate(r, ir.Immediate(types.Int32, i32Bytes(-1))))

	elseScope, err := main.ElseBranch()
	require.NoError(t, err)
	require.NoError(t, elseScope.AssignFromImmediate(r, ir.Immediate(types.Int32, i32Bytes(1))))

	require.NoError(t, main.FunctionReturn(&r))
	rf, err := fn.Rectify()
	require.NoError(t, err)
	return rf
}

func TestOrchestratorIdentityCall(t *testing.T) {
	o := New(NewConfig())
	defer o.Close()

	fn := buildIdentity(t)
	callable, err := o.Compile(fn)
	require.NoError(t, err)
	require.False(t, o.IsCompiled(fn))

	var arg int32 = 42
	var ret int32
	err = callable.Call([]unsafe.Pointer{unsafe.Pointer(&arg)}, unsafe.Pointer(&ret))
	require.NoError(t, err)
	require.Equal(t, int32(42), ret)
	require.True(t, o.IsCompiled(fn))
}

func TestOrchestratorAddCall(t *testing.T) {
	o := New(NewConfig())
	defer o.Close()

	fn := buildAdd(t)
	callable, err := o.Compile(fn)
	require.NoError(t, err)

	a, b := int32(17), int32(25)
	var ret int32
	err = callable.Call([]unsafe.Pointer{unsafe.Pointer(&a), unsafe.Pointer(&b)}, unsafe.Pointer(&ret))
	require.NoError(t, err)
	require.Equal(t, int32(42), ret)
}

func TestOrchestratorBranchCall(t *testing.T) {
	o := New(NewConfig())
	defer o.Close()

	fn := buildBranchPick(t)
	callable, err := o.Compile(fn)
	require.NoError(t, err)

	neg := int32(-5)
	var ret int32
	require.NoError(t, callable.Call([]unsafe.Pointer{unsafe.Pointer(&neg)}, unsafe.Pointer(&ret)))
	require.Equal(t, int32(-1), ret)

	pos := int32(5)
	require.NoError(t, callable.Call([]unsafe.Pointer{unsafe.Pointer(&pos)}, unsafe.Pointer(&ret)))
	require.Equal(t, int32(1), ret)
}

func TestOrchestratorArgumentCountMismatch(t *testing.T) {
	o := New(NewConfig())
	defer o.Close()

	fn := buildIdentity(t)
	callable, err := o.Compile(fn)
	require.NoError(t, err)

	err = callable.Call(nil, nil)
	require.Error(t, err)
}

func TestOrchestratorCompileRejectsNil(t *testing.T) {
	o := New(NewConfig())
	defer o.Close()
	_, err := o.Compile(nil)
	require.Error(t, err)
}

func TestOrchestratorWarmWithoutCalling(t *testing.T) {
	o := New(NewConfig())
	defer o.Close()

	fn := buildIdentity(t)
	callable, err := o.Compile(fn)
	require.NoError(t, err)

	require.False(t, o.IsCompiled(fn))
	require.NoError(t, callable.Warm())
	require.True(t, o.IsCompiled(fn))
}

func TestOrchestratorRecompile(t *testing.T) {
	o := New(NewConfig())
	defer o.Close()

	fn := buildIdentity(t)
	callable, err := o.Compile(fn)
	require.NoError(t, err)
	require.NoError(t, callable.Warm())
	require.True(t, o.IsCompiled(fn))

	require.NoError(t, callable.Recompile())
	require.True(t, o.IsCompiled(fn))

	var arg, ret int32 = 11, 0
	require.NoError(t, callable.Call([]unsafe.Pointer{unsafe.Pointer(&arg)}, unsafe.Pointer(&ret)))
	require.Equal(t, int32(11), ret)
}

func TestOrchestratorRemove(t *testing.T) {
	o := New(NewConfig())
	defer o.Close()

	fn := buildIdentity(t)
	callable, err := o.Compile(fn)
	require.NoError(t, err)
	require.NoError(t, callable.Warm())

	require.True(t, o.Remove(fn))
	require.False(t, o.IsCompiled(fn))
	require.False(t, o.Remove(fn))
}

func TestOrchestratorSerializedPolicyIdentity(t *testing.T) {
	o := New(NewConfig().WithPolicy(agent.PolicySerialized))
	defer o.Close()

	fn := buildIdentity(t)
	callable, err := o.Compile(fn)
	require.NoError(t, err)

	var arg, ret int32 = 7, 0
	require.NoError(t, callable.Call([]unsafe.Pointer{unsafe.Pointer(&arg)}, unsafe.Pointer(&ret)))
	require.Equal(t, int32(7), ret)
}

func TestOrchestratorPooledPolicyIdentity(t *testing.T) {
	o := New(NewConfig().WithPolicy(agent.PolicyPooled).WithStartingPoolSize(2))
	defer o.Close()

	fn := buildIdentity(t)
	callable, err := o.Compile(fn)
	require.NoError(t, err)

	var arg, ret int32 = -9, 0
	require.NoError(t, callable.Call([]unsafe.Pointer{unsafe.Pointer(&arg)}, unsafe.Pointer(&ret)))
	require.Equal(t, int32(-9), ret)
}

func TestConfigDefaults(t *testing.T) {
	c := NewConfig()
	require.Equal(t, uint64(8<<20), c.vstackDefaultSize)
	require.Equal(t, uint64(128), c.vstackBufferSize)
	require.Equal(t, 4, c.startingPoolSize)
	require.Equal(t, agent.PolicySingleUnsafe, c.policy)
}

func TestConfigWithersChain(t *testing.T) {
	c := NewConfig().
		WithVStackDefaultSize(1 << 10).
		WithVStackBufferSize(64).
		WithStartingPoolSize(8).
		WithPolicy(agent.PolicyPooled)
	require.Equal(t, uint64(1<<10), c.vstackDefaultSize)
	require.Equal(t, uint64(64), c.vstackBufferSize)
	require.Equal(t, 8, c.startingPoolSize)
	require.Equal(t, agent.PolicyPooled, c.policy)
}

func TestConfigWithLoggerIgnoresNil(t *testing.T) {
	c := NewConfig()
	orig := c.logger
	c.WithLogger(nil)
	require.Same(t, orig, c.logger)
}
