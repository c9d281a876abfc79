// Package agent implements the compilation cache and its three concurrency
// policies from spec §4.9 (Component 8): SingleUnsafe, Serialized and
// Pooled. Every policy wraps the same cache contract — IsCompiled,
// GetOrCreate, Recompile, Remove — around a map keyed by rectified-function
// identity, differing only in how that map is synchronized.
//
// Grounded on tetratelabs-wazero's internal/engine/compiler engine_cache.go
// (a host-process-lifetime map from module identity to compiled code,
// looked up on instantiation, populated on first compile) generalized from
// wazero's single per-process cache to spec §4.9's three pluggable
// synchronization disciplines.
package agent

import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"

	"github.com/cycastic-cumberland/microjit/internal/disasm"
	"github.com/cycastic-cumberland/microjit/internal/ir"
	"github.com/cycastic-cumberland/microjit/internal/memexec"
	"github.com/cycastic-cumberland/microjit/internal/trampoline"
)

// Agent is the policy-agnostic surface spec §4.9 describes: is_compiled,
// get_or_create, recompile, remove.
type Agent interface {
	IsCompiled(fn *ir.RectifiedFunction) bool
	GetOrCreate(fn *ir.RectifiedFunction) (trampoline.EmittedEntry, error)
	Recompile(fn *ir.RectifiedFunction) (trampoline.EmittedEntry, error)
	Remove(fn *ir.RectifiedFunction) bool
	Close() error
}

// Policy selects one of the three concurrency disciplines spec §4.9
// describes, consumed by the orchestrator's Config.WithPolicy.
type Policy int

const (
	PolicySingleUnsafe Policy = iota
	PolicySerialized
	PolicyPooled
)

func (p Policy) String() string {
	switch p {
	case PolicySingleUnsafe:
		return "single-unsafe"
	case PolicySerialized:
		return "serialized"
	case PolicyPooled:
		return "pooled"
	default:
		return "unknown"
	}
}

// New builds the Agent for the given policy. startingPoolSize is only
// consulted for PolicyPooled (spec §6's starting_pool_size configuration
// option).
func New(p Policy, log *zap.Logger, startingPoolSize int) Agent {
	switch p {
	case PolicySerialized:
		return NewSerialized(log)
	case PolicyPooled:
		return NewPooled(log, startingPoolSize)
	default:
		return NewSingleUnsafe(log)
	}
}

// entry is one published cache slot: the mapped executable pages plus the
// callable entry point synthesized over them.
type entry struct {
	seg   *memexec.Segment
	entry trampoline.EmittedEntry
}

// Compiler lowers a rectified function to machine code. SingleUnsafe and
// Serialized build one from the factory at construction and reuse it for
// every compile; Pooled reuses pooled instances, matching spec §4.9's "thread-local compiler
// instance... lazily instantiated using a factory".
type Compiler interface {
	Compile(fn *ir.RectifiedFunction) ([]byte, error)
}

// CompilerFunc adapts a plain function to Compiler.
type CompilerFunc func(fn *ir.RectifiedFunction) ([]byte, error)

func (f CompilerFunc) Compile(fn *ir.RectifiedFunction) ([]byte, error) { return f(fn) }

// compileEntry runs the shared compile→map-executable→log pipeline every
// policy's Recompile funnels through: spec §4.9's "invokes the code
// generator; on success, writes the entry... on failure, returns a null
// entry and does not mutate the map" — the map mutation itself is each
// policy's own responsibility, kept out of this helper so lock discipline
// stays local to the caller.
func compileEntry(log *zap.Logger, c Compiler, fn *ir.RectifiedFunction) (*entry, error) {
	log.Debug("compile start", zap.String("func", fn.Name))
	code, err := c.Compile(fn)
	if err != nil {
		log.Warn("compile failed", zap.String("func", fn.Name), zap.Error(err))
		return nil, err
	}
	seg, err := memexec.Alloc(code)
	if err != nil {
		return nil, fmt.Errorf("agent: mapping executable memory for %s: %w", fn.Name, err)
	}
	var ep trampoline.EmittedEntry
	memexec.AsFunc(seg, unsafe.Pointer(&ep))
	if ce := log.Check(zap.DebugLevel, "disassembly"); ce != nil {
		lines := disasm.Function(fn.Name, code)
		ce.Write(zap.String("func", fn.Name), zap.String("asm", disasm.Render(fn.Name, lines)))
	}
	log.Info("compile complete", zap.String("func", fn.Name), zap.Int("bytes", len(code)))
	return &entry{seg: seg, entry: ep}, nil
}
