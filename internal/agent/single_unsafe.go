package agent

import (
	"go.uber.org/zap"

	"github.com/cycastic-cumberland/microjit/internal/codegen"
	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/jitlog"
	"github.com/cycastic-cumberland/microjit/internal/memexec"
	"github.com/cycastic-cumberland/microjit/internal/trampoline"
)

// SingleUnsafe is spec §4.9's single-unsafe policy: no synchronization, all
// methods execute on the caller's thread. The client is responsible for
// serializing access externally.
type SingleUnsafe struct {
	log      *zap.Logger
	ctx      *codegen.Context
	compiler Compiler
	cache    map[*ir.RectifiedFunction]*entry
}

// NewSingleUnsafe builds a SingleUnsafe agent.
func NewSingleUnsafe(log *zap.Logger) *SingleUnsafe {
	a := &SingleUnsafe{
		log:   jitlog.Named(log, "agent.single_unsafe"),
		cache: make(map[*ir.RectifiedFunction]*entry),
	}
	a.ctx = codegen.NewContext(a.GetOrCreate)
	a.compiler = CompilerFunc(func(fn *ir.RectifiedFunction) ([]byte, error) {
		return codegen.Generate(fn, a.ctx)
	})
	return a
}

func (a *SingleUnsafe) IsCompiled(fn *ir.RectifiedFunction) bool {
	_, ok := a.cache[fn]
	return ok
}

func (a *SingleUnsafe) GetOrCreate(fn *ir.RectifiedFunction) (trampoline.EmittedEntry, error) {
	if e, ok := a.cache[fn]; ok {
		return e.entry, nil
	}
	return a.Recompile(fn)
}

func (a *SingleUnsafe) Recompile(fn *ir.RectifiedFunction) (trampoline.EmittedEntry, error) {
	e, err := compileEntry(a.log, a.compiler, fn)
	if err != nil {
		return nil, err
	}
	if old, ok := a.cache[fn]; ok {
		memexec.Free(old.seg)
	}
	a.cache[fn] = e
	return e.entry, nil
}

func (a *SingleUnsafe) Remove(fn *ir.RectifiedFunction) bool {
	e, ok := a.cache[fn]
	if !ok {
		return false
	}
	memexec.Free(e.seg)
	delete(a.cache, fn)
	return true
}

func (a *SingleUnsafe) Close() error {
	for _, e := range a.cache {
		memexec.Free(e.seg)
	}
	a.cache = make(map[*ir.RectifiedFunction]*entry)
	return nil
}
