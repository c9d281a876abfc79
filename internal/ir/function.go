package ir

import "github.com/cycastic-cumberland/microjit/internal/types"

// Function is the mutable builder for an IR function: spec §4.2's entry
// point ("Function builder: create typed function shell, open nested scopes,
// append instructions, return rectified function handle" — §6). Scopes and
// variables are owned by two per-function arenas (spec §9), indexed by
// ScopeID/VarID rather than linked by raw pointers.
type Function struct {
	Name       string
	Args       []types.Descriptor
	ReturnType types.Descriptor

	scopes    []*Scope
	variables []*Variable
	main      ScopeID
	rectified bool
}

// NewFunction creates an empty function shell with the given argument types
// and return type (types.Void for a void-returning function) and opens its
// main scope.
func NewFunction(name string, args []types.Descriptor, returnType types.Descriptor) *Function {
	f := &Function{Name: name, Args: args, ReturnType: returnType}
	f.main = f.newScope(noScope)
	return f
}

func (f *Function) newScope(parent ScopeID) ScopeID {
	id := ScopeID(len(f.scopes))
	f.scopes = append(f.scopes, &Scope{ID: id, Parent: parent, fn: f})
	return id
}

func (f *Function) scope(id ScopeID) *Scope { return f.scopes[id] }

// MainScope returns the function's root scope builder.
func (f *Function) MainScope() *Scope { return f.scope(f.main) }

// ArgType returns the declared type of argument idx, and whether idx is in
// range.
func (f *Function) ArgType(idx int) (types.Descriptor, bool) {
	if idx < 0 || idx >= len(f.Args) {
		return types.Descriptor{}, false
	}
	return f.Args[idx], true
}

// Variable looks up a declared variable by handle.
func (f *Function) Variable(id VarID) *Variable { return f.variables[id] }

// Rectify freezes the function: spec §3's "Lifecycles" — an IR function is
// rectified (frozen with its scope tree) before the orchestrator or planner
// ever sees it. After Rectify, every builder method on every scope of this
// function returns an error instead of mutating it.
func (f *Function) Rectify() (*RectifiedFunction, error) {
	f.rectified = true
	return &RectifiedFunction{
		Name:       f.Name,
		Args:       f.Args,
		ReturnType: f.ReturnType,
		Main:       f.scope(f.main),
		scopes:     f.scopes,
		variables:  f.variables,
	}, nil
}

// RectifiedFunction is spec §3's immutable metadata: argument type list,
// return-type descriptor and main scope. Identity is the host pointer — used
// as the compilation cache's key (spec §4.9), so callers must keep the same
// *RectifiedFunction alive across calls that should share a cache entry
// rather than re-rectifying the same Function repeatedly.
type RectifiedFunction struct {
	Name       string
	Args       []types.Descriptor
	ReturnType types.Descriptor
	Main       *Scope

	scopes    []*Scope
	variables []*Variable
}

// Variable looks up a declared variable by handle, for use by the planner
// and code generator walking a rectified scope tree.
func (r *RectifiedFunction) Variable(id VarID) *Variable { return r.variables[id] }

// Scopes returns every scope in the function, in creation order (main scope
// first), for planner/codegen traversal.
func (r *RectifiedFunction) Scopes() []*Scope { return r.scopes }

// ScopeByID looks up a child scope by handle, for use by the planner and
// code generator descending into ScopeCreate/BranchIf/BranchElse/BranchWhile
// instructions.
func (r *RectifiedFunction) ScopeByID(id ScopeID) *Scope { return r.scopes[id] }

// IsVoid reports whether the function returns nothing (spec §3: "a
// function's return type is void iff its return slot size is zero").
func (r *RectifiedFunction) IsVoid() bool { return r.ReturnType.IsVoid() }
