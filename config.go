package microjit

import (
	"go.uber.org/zap"

	"github.com/cycastic-cumberland/microjit/internal/agent"
)

// Config carries the orchestrator's construction-time knobs, spec §6's
// "Recognized configuration options". Defaults exactly match spec §6:
// vstack_default_size=8<<20, vstack_buffer_size=128, starting_pool_size=4.
//
// Grounded on tetratelabs-wazero's RuntimeConfig/NewRuntimeConfig
// functional-options pattern (config.go): a struct of plain fields plus
// chainable With* setters, never parsed from a file or environment variable
// (spec §6: "No persisted state, no CLI, no environment variables").
type Config struct {
	vstackDefaultSize uint64
	vstackBufferSize  uint64
	startingPoolSize  int
	logger            *zap.Logger
	policy            agent.Policy
}

// NewConfig returns a Config populated with spec §6's defaults.
func NewConfig() *Config {
	return &Config{
		vstackDefaultSize: 8 << 20,
		vstackBufferSize:  128,
		startingPoolSize:  4,
		logger:            zap.NewNop(),
		policy:            agent.PolicySingleUnsafe,
	}
}

// WithVStackDefaultSize sets the byte size a Callable's auto-managed virtual
// stack surface allocates when the caller does not supply its own.
func (c *Config) WithVStackDefaultSize(bytes uint64) *Config {
	c.vstackDefaultSize = bytes
	return c
}

// WithVStackBufferSize sets the trailing safety zone appended past a
// virtual stack's nominal capacity (spec §4.1).
func (c *Config) WithVStackBufferSize(bytes uint64) *Config {
	c.vstackBufferSize = bytes
	return c
}

// WithStartingPoolSize sets the pooled agent's initial worker count (only
// consulted when the policy is PolicyPooled).
func (c *Config) WithStartingPoolSize(n int) *Config {
	c.startingPoolSize = n
	return c
}

// WithLogger installs l as the orchestrator's zap logger, propagated to the
// compilation agent's log sites (SPEC_FULL.md §A.1); the code generator does
// not log. Defaults to a no-op logger.
func (c *Config) WithLogger(l *zap.Logger) *Config {
	if l != nil {
		c.logger = l
	}
	return c
}

// WithPolicy selects the compilation agent's concurrency discipline.
func (c *Config) WithPolicy(p agent.Policy) *Config {
	c.policy = p
	return c
}
