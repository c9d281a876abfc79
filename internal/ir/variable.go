package ir

import "github.com/cycastic-cumberland/microjit/internal/types"

// Variable is a declaration node: spec §3's back-reference target of a
// ValueVariable. Parent identifies the scope that owns it, per spec's
// ownership rules (§3, §4.2).
type Variable struct {
	ID     VarID
	Type   types.Descriptor
	Parent ScopeID
	Name   string
}
