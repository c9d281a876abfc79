package agent

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cycastic-cumberland/microjit/internal/ir"
)

// countingCompiler counts invocations and returns a trivial, never-executed
// machine-code stub: a single x86-64 ret (0xC3). Tests in this package only
// ever check cache bookkeeping, never call the synthesized entry point.
func countingCompiler(n *int32) Compiler {
	return CompilerFunc(func(fn *ir.RectifiedFunction) ([]byte, error) {
		atomic.AddInt32(n, 1)
		return []byte{0xC3}, nil
	})
}

func dummyFn(name string) *ir.RectifiedFunction {
	return &ir.RectifiedFunction{Name: name}
}

func TestSingleUnsafeCachesAfterFirstCompile(t *testing.T) {
	var compiles int32
	a := &SingleUnsafe{log: zap.NewNop(), cache: make(map[*ir.RectifiedFunction]*entry), compiler: countingCompiler(&compiles)}

	fn := dummyFn("f")
	require.False(t, a.IsCompiled(fn))

	_, err := a.GetOrCreate(fn)
	require.NoError(t, err)
	require.Equal(t, int32(1), compiles)
	require.True(t, a.IsCompiled(fn))

	_, err = a.GetOrCreate(fn)
	require.NoError(t, err)
	require.Equal(t, int32(1), compiles, "a second GetOrCreate on a cached key must not recompile")

	require.True(t, a.Remove(fn))
	require.False(t, a.IsCompiled(fn))
	require.False(t, a.Remove(fn), "removing an absent key reports false")
}

func TestSingleUnsafeRecompileReplacesEntry(t *testing.T) {
	var compiles int32
	a := &SingleUnsafe{log: zap.NewNop(), cache: make(map[*ir.RectifiedFunction]*entry), compiler: countingCompiler(&compiles)}
	fn := dummyFn("f")

	_, err := a.GetOrCreate(fn)
	require.NoError(t, err)
	_, err = a.Recompile(fn)
	require.NoError(t, err)
	require.Equal(t, int32(2), compiles)
}

func newTestSerialized(compiler Compiler) *Serialized {
	s := &Serialized{log: zap.NewNop(), compiler: compiler, tasks: make(chan task), done: make(chan struct{})}
	go s.run()
	return s
}

func TestSerializedCachesAfterFirstCompile(t *testing.T) {
	var compiles int32
	s := newTestSerialized(countingCompiler(&compiles))
	defer s.Close()

	fn := dummyFn("f")
	require.False(t, s.IsCompiled(fn))

	_, err := s.GetOrCreate(fn)
	require.NoError(t, err)
	_, err = s.GetOrCreate(fn)
	require.NoError(t, err)
	require.Equal(t, int32(1), compiles)
	require.True(t, s.IsCompiled(fn))
}

func TestSerializedConcurrentMissesAreFullySerialized(t *testing.T) {
	var compiles int32
	s := newTestSerialized(countingCompiler(&compiles))
	defer s.Close()

	fn := dummyFn("f")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetOrCreate(fn)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), compiles, "every request funnels through one worker goroutine, so only the first miss compiles")
}

func TestSerializedRemove(t *testing.T) {
	var compiles int32
	s := newTestSerialized(countingCompiler(&compiles))
	defer s.Close()

	fn := dummyFn("f")
	_, err := s.GetOrCreate(fn)
	require.NoError(t, err)
	require.True(t, s.Remove(fn))
	require.False(t, s.IsCompiled(fn))
}

func newTestPooled(compiler Compiler, startingSize int) *Pooled {
	a := &Pooled{
		log:      zap.NewNop(),
		cache:    make(map[*ir.RectifiedFunction]*entry),
		inflight: make(map[*ir.RectifiedFunction]*pendingCompile),
		pool:     newPool(startingSize),
	}
	a.compilers.New = func() interface{} { return compiler }
	return a
}

func TestPooledCachesAfterFirstCompile(t *testing.T) {
	var compiles int32
	a := newTestPooled(countingCompiler(&compiles), 2)
	defer a.Close()

	fn := dummyFn("f")
	_, err := a.GetOrCreate(fn)
	require.NoError(t, err)
	_, err = a.GetOrCreate(fn)
	require.NoError(t, err)
	require.Equal(t, int32(1), compiles)
}

func TestPooledConcurrentMissesCompileAtMostOnce(t *testing.T) {
	var compiles int32
	a := newTestPooled(countingCompiler(&compiles), 4)
	defer a.Close()

	fn := dummyFn("f")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.GetOrCreate(fn)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), compiles, "concurrent misses on the same key must share one in-flight compile")
	require.True(t, a.IsCompiled(fn))
}

func TestPooledDistinctKeysCompileConcurrently(t *testing.T) {
	var compiles int32
	a := newTestPooled(countingCompiler(&compiles), 4)
	defer a.Close()

	fns := []*ir.RectifiedFunction{dummyFn("a"), dummyFn("b"), dummyFn("c")}
	var wg sync.WaitGroup
	for _, fn := range fns {
		fn := fn
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.GetOrCreate(fn)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(3), compiles)
	stats := a.StatsSnapshot()
	require.Equal(t, 3, stats.Compiled)
}

func TestPooledRecompileAlwaysRunsAndReplacesCache(t *testing.T) {
	var compiles int32
	a := newTestPooled(countingCompiler(&compiles), 2)
	defer a.Close()

	fn := dummyFn("f")
	_, err := a.GetOrCreate(fn)
	require.NoError(t, err)
	_, err = a.Recompile(fn)
	require.NoError(t, err)
	require.Equal(t, int32(2), compiles)
}

func TestPooledRemove(t *testing.T) {
	var compiles int32
	a := newTestPooled(countingCompiler(&compiles), 2)
	defer a.Close()

	fn := dummyFn("f")
	_, err := a.GetOrCreate(fn)
	require.NoError(t, err)
	require.True(t, a.Remove(fn))
	require.False(t, a.IsCompiled(fn))
	require.False(t, a.Remove(fn))
}

func TestPolicyStringer(t *testing.T) {
	require.Equal(t, "single-unsafe", PolicySingleUnsafe.String())
	require.Equal(t, "serialized", PolicySerialized.String())
	require.Equal(t, "pooled", PolicyPooled.String())
}

func TestNewDispatchesOnPolicy(t *testing.T) {
	a := New(PolicySingleUnsafe, zap.NewNop(), 1)
	require.IsType(t, &SingleUnsafe{}, a)
	require.NoError(t, a.Close())

	b := New(PolicySerialized, zap.NewNop(), 1)
	require.IsType(t, &Serialized{}, b)
	require.NoError(t, b.Close())

	c := New(PolicyPooled, zap.NewNop(), 1)
	require.IsType(t, &Pooled{}, c)
	require.NoError(t, c.Close())
}

// TestPooledCloseJoinsWorkers is a smoke test that Close returns promptly
// (the pool's workers must observe the closed queue rather than block
// forever in cond.Wait).
func TestPooledCloseJoinsWorkers(t *testing.T) {
	var compiles int32
	a := newTestPooled(countingCompiler(&compiles), 3)

	done := make(chan struct{})
	go func() {
		require.NoError(t, a.Close())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return in time; worker pool likely failed to join")
	}
}
