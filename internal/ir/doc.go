// Package ir implements spec §3-§4.2 (Component 3): the typed intermediate
// representation microjit compiles — values, instructions, scopes and
// functions — together with its construction-time validation.
//
// Grounded on spec §9's own design notes: Variable/Scope/Instruction
// back-references become indices into one arena per function (VarID,
// ScopeID) instead of tetratelabs-wazero's refcounted wasm.Module /
// moduleEngine graph (which microjit has no use for — there is no module,
// import or export concept here, only a single function's scope tree); the
// polymorphic Instruction/Value/Operation hierarchies become tagged-sum
// structs with a Kind discriminant switched on by the planner and code
// generator, rather than an interface hierarchy — mirroring how
// tetratelabs-wazero's own wazeroir.Operation* types are named and consumed
// by internal/engine/compiler's compiler interface (each compileXxx method
// takes one concrete operation struct), generalized here to one closed
// struct per IR node category instead of wazeroir's many leaf types, since
// spec §3 closes the Instruction sum over a fixed, small list of kinds.
package ir
