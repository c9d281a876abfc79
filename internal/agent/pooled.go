package agent

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cycastic-cumberland/microjit/internal/codegen"
	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/jitlog"
	"github.com/cycastic-cumberland/microjit/internal/memexec"
	"github.com/cycastic-cumberland/microjit/internal/trampoline"
)

// Pooled is spec §4.9's pooled policy: a reader-writer lock protects the
// cache map; compile misses are scheduled on a priority thread-pool at
// medium priority; recompile takes the write lock only for the final
// publication step, so parallel misses for distinct keys proceed
// concurrently.
type Pooled struct {
	log  *zap.Logger
	ctx  *codegen.Context
	pool *pool

	mu       sync.RWMutex
	cache    map[*ir.RectifiedFunction]*entry
	inflight map[*ir.RectifiedFunction]*pendingCompile

	// compilers stands in for spec §4.9's "thread-local compiler instance,
	// lazily instantiated using a factory" — goroutines have no stable
	// OS-thread-local storage, so a sync.Pool of reusable Compiler values,
	// handed to whichever worker is running a given compile task, is the
	// idiomatic Go substitute.
	compilers sync.Pool
}

// NewPooled builds a Pooled agent with startingPoolSize initial workers
// (spec §6's starting_pool_size).
func NewPooled(log *zap.Logger, startingPoolSize int) *Pooled {
	a := &Pooled{
		log:      jitlog.Named(log, "agent.pooled"),
		cache:    make(map[*ir.RectifiedFunction]*entry),
		inflight: make(map[*ir.RectifiedFunction]*pendingCompile),
	}
	a.ctx = codegen.NewContext(a.GetOrCreate)
	a.compilers.New = func() interface{} {
		return CompilerFunc(func(fn *ir.RectifiedFunction) ([]byte, error) {
			return codegen.Generate(fn, a.ctx)
		})
	}
	a.pool = newPool(startingPoolSize)
	return a
}

func (a *Pooled) IsCompiled(fn *ir.RectifiedFunction) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.cache[fn]
	return ok
}

// pendingCompile is the in-flight record for a key currently being compiled.
// A second GetOrCreate miss for the same fn finds this under a.mu, releases
// the lock, and waits on done instead of submitting a second compile task —
// this is what keeps compilation at-most-once per key under the pooled
// policy (spec §8), since otherwise two misses racing the write lock would
// each schedule their own pool task.
type pendingCompile struct {
	done chan struct{}
	e    *entry
	err  error
}

func (a *Pooled) GetOrCreate(fn *ir.RectifiedFunction) (trampoline.EmittedEntry, error) {
	a.mu.RLock()
	e, ok := a.cache[fn]
	a.mu.RUnlock()
	if ok {
		return e.entry, nil
	}
	return a.compileShared(fn)
}

// compileShared runs (or joins) the single in-flight compile for fn.
func (a *Pooled) compileShared(fn *ir.RectifiedFunction) (trampoline.EmittedEntry, error) {
	a.mu.Lock()
	if e, ok := a.cache[fn]; ok {
		a.mu.Unlock()
		return e.entry, nil
	}
	if pc, ok := a.inflight[fn]; ok {
		a.mu.Unlock()
		<-pc.done
		if pc.err != nil {
			return nil, pc.err
		}
		return pc.e.entry, nil
	}
	pc := &pendingCompile{done: make(chan struct{})}
	a.inflight[fn] = pc
	a.mu.Unlock()

	type result struct {
		e   *entry
		err error
	}
	done := make(chan result, 1)
	a.pool.submit(priorityMedium, func() {
		c := a.compilers.Get().(Compiler)
		e, err := compileEntry(a.log, c, fn)
		a.compilers.Put(c)
		done <- result{e: e, err: err}
	})
	r := <-done

	a.mu.Lock()
	if r.err == nil {
		if old, ok := a.cache[fn]; ok {
			memexec.Free(old.seg)
		}
		a.cache[fn] = r.e
	}
	delete(a.inflight, fn)
	pc.e, pc.err = r.e, r.err
	close(pc.done)
	a.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	return r.e.entry, nil
}

// Recompile forces a fresh compile of fn and republishes it, bypassing any
// cached entry. Unlike GetOrCreate it is not deduplicated against a
// concurrent in-flight compile of the same key: a caller invoking Recompile
// explicitly is asking for a new compile regardless of what else is running.
func (a *Pooled) Recompile(fn *ir.RectifiedFunction) (trampoline.EmittedEntry, error) {
	type result struct {
		e   *entry
		err error
	}
	done := make(chan result, 1)
	a.pool.submit(priorityMedium, func() {
		c := a.compilers.Get().(Compiler)
		e, err := compileEntry(a.log, c, fn)
		a.compilers.Put(c)
		done <- result{e: e, err: err}
	})
	r := <-done
	if r.err != nil {
		return nil, r.err
	}
	a.mu.Lock()
	if old, ok := a.cache[fn]; ok {
		memexec.Free(old.seg)
	}
	a.cache[fn] = r.e
	a.mu.Unlock()
	return r.e.entry, nil
}

func (a *Pooled) Remove(fn *ir.RectifiedFunction) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.cache[fn]
	if !ok {
		return false
	}
	memexec.Free(e.seg)
	delete(a.cache, fn)
	return true
}

// Stats is a read-only snapshot of the pooled agent's state
// (SPEC_FULL.md §C.4). The cache size is read under the same read lock as a
// cache lookup; queue depth and worker count are read under the pool's own
// locks, so the three fields are not one atomic snapshot.
type Stats struct {
	QueueDepth int
	Workers    int
	Compiled   int
}

// StatsSnapshot reports the pooled agent's current queue depth, worker
// count and cache size.
func (a *Pooled) StatsSnapshot() Stats {
	a.mu.RLock()
	n := len(a.cache)
	a.mu.RUnlock()
	return Stats{QueueDepth: a.pool.q.depth(), Workers: a.pool.workerCount(), Compiled: n}
}

// Close drains the pool, joins every worker, and releases every cached
// segment.
func (a *Pooled) Close() error {
	a.pool.close()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.cache {
		memexec.Free(e.seg)
	}
	return nil
}
