package ir

import "github.com/cycastic-cumberland/microjit/internal/types"

// boolType is the fixed result type of every comparison expression.
var boolType = types.Bool

// VarID indexes into a Function's variable arena. Replaces the source
// design's refcounted Variable handle (spec §9).
type VarID int

// ScopeID indexes into a Function's scope arena. Replaces the source
// design's raw parent-scope pointer (spec §9). noScope marks "no parent",
// used only by the main scope.
type ScopeID int

const noScope ScopeID = -1

// InstrIndex is the scope_offset of spec §3: a monotonically increasing
// ordinal assigned to an instruction at the moment it is appended to its
// parent scope.
type InstrIndex int
