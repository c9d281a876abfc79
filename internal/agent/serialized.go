package agent

import (
	"go.uber.org/zap"

	"github.com/cycastic-cumberland/microjit/internal/codegen"
	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/jitlog"
	"github.com/cycastic-cumberland/microjit/internal/memexec"
	"github.com/cycastic-cumberland/microjit/internal/trampoline"
)

// taskKind discriminates a serialized-agent request.
type taskKind int

const (
	taskIsCompiled taskKind = iota
	taskGetOrCreate
	taskRecompile
	taskRemove
)

type task struct {
	kind taskKind
	fn   *ir.RectifiedFunction
	resp chan taskResult
}

type taskResult struct {
	entry trampoline.EmittedEntry
	ok    bool
	err   error
}

// Serialized is spec §4.9's serialized policy: a dedicated worker goroutine
// owns the cache map outright; every public method enqueues a task and
// blocks on its completion, so at most one compilation runs at a time and
// get_or_create is naturally idempotent (lookup and insert both happen on
// the worker).
type Serialized struct {
	log      *zap.Logger
	compiler Compiler
	tasks    chan task
	done     chan struct{}
}

// NewSerialized builds a Serialized agent and starts its worker goroutine.
func NewSerialized(log *zap.Logger) *Serialized {
	s := &Serialized{
		log:   jitlog.Named(log, "agent.serialized"),
		tasks: make(chan task),
		done:  make(chan struct{}),
	}
	ctx := codegen.NewContext(s.GetOrCreate)
	s.compiler = CompilerFunc(func(fn *ir.RectifiedFunction) ([]byte, error) {
		return codegen.Generate(fn, ctx)
	})
	go s.run()
	return s
}

func (s *Serialized) run() {
	cache := make(map[*ir.RectifiedFunction]*entry)

	for t := range s.tasks {
		switch t.kind {
		case taskIsCompiled:
			_, ok := cache[t.fn]
			t.resp <- taskResult{ok: ok}
		case taskGetOrCreate:
			if e, ok := cache[t.fn]; ok {
				t.resp <- taskResult{entry: e.entry, ok: true}
				continue
			}
			fallthrough
		case taskRecompile:
			e, err := compileEntry(s.log, s.compiler, t.fn)
			if err != nil {
				t.resp <- taskResult{err: err}
				continue
			}
			if old, ok := cache[t.fn]; ok {
				memexec.Free(old.seg)
			}
			cache[t.fn] = e
			t.resp <- taskResult{entry: e.entry, ok: true}
		case taskRemove:
			e, ok := cache[t.fn]
			if ok {
				memexec.Free(e.seg)
				delete(cache, t.fn)
			}
			t.resp <- taskResult{ok: ok}
		}
	}

	for _, e := range cache {
		memexec.Free(e.seg)
	}
	close(s.done)
}

func (s *Serialized) do(kind taskKind, fn *ir.RectifiedFunction) taskResult {
	resp := make(chan taskResult, 1)
	s.tasks <- task{kind: kind, fn: fn, resp: resp}
	return <-resp
}

func (s *Serialized) IsCompiled(fn *ir.RectifiedFunction) bool {
	return s.do(taskIsCompiled, fn).ok
}

func (s *Serialized) GetOrCreate(fn *ir.RectifiedFunction) (trampoline.EmittedEntry, error) {
	r := s.do(taskGetOrCreate, fn)
	return r.entry, r.err
}

func (s *Serialized) Recompile(fn *ir.RectifiedFunction) (trampoline.EmittedEntry, error) {
	r := s.do(taskRecompile, fn)
	return r.entry, r.err
}

func (s *Serialized) Remove(fn *ir.RectifiedFunction) bool {
	return s.do(taskRemove, fn).ok
}

// Close stops the worker, draining no further tasks (spec §5's "only
// sanctioned shutdown... drains the task queue, joins worker threads"), and
// releases every cached segment.
func (s *Serialized) Close() error {
	close(s.tasks)
	<-s.done
	return nil
}
