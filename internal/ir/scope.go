package ir

import (
	"github.com/cycastic-cumberland/microjit/internal/jiterrors"
	"github.com/cycastic-cumberland/microjit/internal/types"
)

// Scope is spec §3's RectifiedScope: an ordered instruction sequence plus its
// child-scope list, variable list and branch list, with a parent pointer
// (noScope for the main scope) and a back-reference to its owning function
// (the "handle to the function's arguments declaration"). Before Rectify it
// also serves as the builder every spec §4.2 operation is a method of.
type Scope struct {
	ID       ScopeID
	Parent   ScopeID
	fn     *Function
	isLoop bool // true for a while-branch's body scope, for break validation

	Instructions []Instruction
	Children     []ScopeID
	Variables    []VarID
	Branches     []InstrIndex
}

// Func returns the scope's owning function.
func (s *Scope) Func() *Function { return s.fn }

func (s *Scope) append(instr Instruction) *Instruction {
	instr.Offset = InstrIndex(len(s.Instructions))
	s.Instructions = append(s.Instructions, instr)
	return &s.Instructions[len(s.Instructions)-1]
}

// ownsDirectly reports whether v is declared directly in s (spec §3: "A
// scope 'owns' a variable iff that variable's parent pointer equals the
// scope").
func (s *Scope) ownsDirectly(v VarID) bool {
	return s.fn.Variable(v).Parent == s.ID
}

// ownsInAllScope reports whether v is owned by s or by any transitive
// ancestor of s (spec §3: "in all scope").
func (s *Scope) ownsInAllScope(v VarID) bool {
	parent := s.fn.Variable(v).Parent
	for cur := s.ID; ; {
		if parent == cur {
			return true
		}
		if cur == noScope {
			return false
		}
		cur = s.fn.scope(cur).Parent
	}
}

func (s *Scope) checkMutable() error {
	if s.fn.rectified {
		return jiterrors.NewValidationError(jiterrors.KindInvalidOperandShape, "function already rectified")
	}
	return nil
}

// CreateVariable appends a declaration owned by s and returns its handle
// (spec §4.2: "appends a declaration with a fresh parent pointer = self").
func (s *Scope) CreateVariable(t types.Descriptor, name string) (VarID, error) {
	if err := s.checkMutable(); err != nil {
		return 0, err
	}
	id := VarID(len(s.fn.variables))
	s.fn.variables = append(s.fn.variables, &Variable{ID: id, Type: t, Parent: s.ID, Name: name})
	s.Variables = append(s.Variables, id)
	s.append(Instruction{Kind: InstrDeclareVariable, Var: id, HasVar: true})
	return id, nil
}

func (s *Scope) requireOwnedDirectly(v VarID) error {
	if !s.ownsDirectly(v) {
		return jiterrors.NewValidationError(jiterrors.KindUnownedVariable,
			"variable %s must be owned by the current scope, not merely visible in it", s.fn.Variable(v).Name)
	}
	return nil
}

func (s *Scope) requireOwnedInAllScope(v VarID) error {
	if !s.ownsInAllScope(v) {
		return jiterrors.NewValidationError(jiterrors.KindUnownedVariable,
			"variable %s is not owned by the current scope or any enclosing scope", s.fn.Variable(v).Name)
	}
	return nil
}

func requireTypeMatch(want, got types.Descriptor) error {
	if !types.Equal(want, got) {
		return jiterrors.NewValidationError(jiterrors.KindTypeMismatch,
			"expected type %s, got %s", want.Name(), got.Name())
	}
	return nil
}

// DefaultConstruct appends a Construct instruction invoking v's default
// constructor. v must be owned directly by s.
func (s *Scope) DefaultConstruct(v VarID) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if err := s.requireOwnedDirectly(v); err != nil {
		return err
	}
	s.append(Instruction{Kind: InstrConstruct, Var: v, HasVar: true})
	return nil
}

// CopyConstructFromImmediate appends a CopyConstruct instruction
// initializing v from an immediate value. v must be owned directly by s and
// imm's type must match v's.
func (s *Scope) CopyConstructFromImmediate(v VarID, imm Value) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if err := s.requireOwnedDirectly(v); err != nil {
		return err
	}
	if imm.Kind != ValueImmediate {
		return jiterrors.NewValidationError(jiterrors.KindInvalidOperandShape, "expected an immediate value")
	}
	if err := requireTypeMatch(s.fn.Variable(v).Type, imm.Type); err != nil {
		return err
	}
	s.append(Instruction{Kind: InstrCopyConstruct, Var: v, HasVar: true, Source: imm})
	return nil
}

// CopyConstructFromArgument appends a CopyConstruct instruction initializing
// v from the enclosing function's argIdx-th argument.
func (s *Scope) CopyConstructFromArgument(v VarID, argIdx int) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if err := s.requireOwnedDirectly(v); err != nil {
		return err
	}
	argType, ok := s.fn.ArgType(argIdx)
	if !ok {
		return jiterrors.NewValidationError(jiterrors.KindArgumentIndexOutOfRange,
			"argument index %d out of range for %d-argument function", argIdx, len(s.fn.Args))
	}
	if err := requireTypeMatch(s.fn.Variable(v).Type, argType); err != nil {
		return err
	}
	s.append(Instruction{Kind: InstrCopyConstruct, Var: v, HasVar: true, Source: Argument(argType, argIdx)})
	return nil
}

// CopyConstructFromVariable appends a CopyConstruct instruction initializing
// v from another, already-visible variable other. v must be owned directly
// by s, other must be owned in all-scope, and v must differ from other.
func (s *Scope) CopyConstructFromVariable(v, other VarID) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if v == other {
		return jiterrors.NewValidationError(jiterrors.KindSameVariable, "copy-construction source and destination must differ")
	}
	if err := s.requireOwnedDirectly(v); err != nil {
		return err
	}
	if err := s.requireOwnedInAllScope(other); err != nil {
		return err
	}
	otherType := s.fn.Variable(other).Type
	if err := requireTypeMatch(s.fn.Variable(v).Type, otherType); err != nil {
		return err
	}
	s.append(Instruction{Kind: InstrCopyConstruct, Var: v, HasVar: true, Source: VariableValue(otherType, other)})
	return nil
}

// assign appends an Assign instruction after validating source against v's
// type; v may be owned by any enclosing scope (spec §4.2: "the left-hand
// side may be owned by any enclosing scope").
func (s *Scope) assign(v VarID, source Value) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if err := s.requireOwnedInAllScope(v); err != nil {
		return err
	}
	if err := requireTypeMatch(s.fn.Variable(v).Type, source.Type); err != nil {
		return err
	}
	s.append(Instruction{Kind: InstrAssign, Var: v, HasVar: true, Source: source})
	return nil
}

// AssignFromImmediate appends an Assign instruction storing imm into v.
func (s *Scope) AssignFromImmediate(v VarID, imm Value) error {
	if imm.Kind != ValueImmediate {
		return jiterrors.NewValidationError(jiterrors.KindInvalidOperandShape, "expected an immediate value")
	}
	return s.assign(v, imm)
}

// AssignFromArgument appends an Assign instruction storing argument argIdx
// into v.
func (s *Scope) AssignFromArgument(v VarID, argIdx int) error {
	argType, ok := s.fn.ArgType(argIdx)
	if !ok {
		return jiterrors.NewValidationError(jiterrors.KindArgumentIndexOutOfRange,
			"argument index %d out of range for %d-argument function", argIdx, len(s.fn.Args))
	}
	return s.assign(v, Argument(argType, argIdx))
}

// AssignFromVariable appends an Assign instruction storing other into v;
// other must be owned in all-scope and must differ from v.
func (s *Scope) AssignFromVariable(v, other VarID) error {
	if v == other {
		return jiterrors.NewValidationError(jiterrors.KindSameVariable, "assignment source and destination must differ")
	}
	if err := s.requireOwnedInAllScope(other); err != nil {
		return err
	}
	otherType := s.fn.Variable(other).Type
	return s.assign(v, VariableValue(otherType, other))
}

// AssignFromExpression appends an Assign instruction storing the result of a
// primitive binary expression into v.
func (s *Scope) AssignFromExpression(v VarID, expr Value) error {
	if expr.Kind != ValueExpression {
		return jiterrors.NewValidationError(jiterrors.KindInvalidOperandShape, "expected an expression value")
	}
	return s.assign(v, expr)
}

// InvokeJit appends a call to target with args, optionally storing the
// result into ret. Spec §4.2: args must match target.Args pairwise by type;
// expressions may not be passed directly; ret, if present, must be owned in
// all-scope and must match target's return type.
func (s *Scope) InvokeJit(target *RectifiedFunction, args []Value, ret *VarID) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if err := s.checkCallArgs(target.Args, args); err != nil {
		return err
	}
	instr := Instruction{Kind: InstrInvokeJit, JitTarget: target, Args: args}
	if ret != nil {
		if err := s.requireOwnedInAllScope(*ret); err != nil {
			return err
		}
		if err := requireTypeMatch(s.fn.Variable(*ret).Type, target.ReturnType); err != nil {
			return err
		}
		instr.Var, instr.HasVar = *ret, true
	} else if !target.ReturnType.IsVoid() {
		return jiterrors.NewValidationError(jiterrors.KindReturnShapeMismatch,
			"call to non-void function %s must capture its result", target.Name)
	}
	s.append(instr)
	return nil
}

// InvokeNative appends a call to an externally defined function, with the
// same argument/return validation as InvokeJit.
func (s *Scope) InvokeNative(target *NativeSignature, args []Value, ret *VarID) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if err := s.checkCallArgs(target.Args, args); err != nil {
		return err
	}
	instr := Instruction{Kind: InstrInvokeNative, NativeTarget: target, Args: args}
	if ret != nil {
		if err := s.requireOwnedInAllScope(*ret); err != nil {
			return err
		}
		if err := requireTypeMatch(s.fn.Variable(*ret).Type, target.ReturnType); err != nil {
			return err
		}
		instr.Var, instr.HasVar = *ret, true
	} else if !target.ReturnType.IsVoid() {
		return jiterrors.NewValidationError(jiterrors.KindReturnShapeMismatch,
			"call to non-void function %s must capture its result", target.Name)
	}
	s.append(instr)
	return nil
}

func (s *Scope) checkCallArgs(want []types.Descriptor, got []Value) error {
	if len(want) != len(got) {
		return jiterrors.NewValidationError(jiterrors.KindArgumentIndexOutOfRange,
			"call expects %d arguments, got %d", len(want), len(got))
	}
	for i, v := range got {
		if !v.IsOperandShape() {
			return jiterrors.NewValidationError(jiterrors.KindInvalidOperandShape,
				"call argument %d must be an immediate or a variable, not an expression", i)
		}
		if v.Kind == ValueVariable {
			if err := s.requireOwnedInAllScope(v.Var); err != nil {
				return err
			}
		}
		if err := requireTypeMatch(want[i], v.Type); err != nil {
			return err
		}
	}
	return nil
}

// FunctionReturn appends a Return instruction. ret is nil for a void return;
// otherwise its variable must be owned in all-scope and its type must match
// the function's declared return type (spec §4.2, invariant in §3).
func (s *Scope) FunctionReturn(ret *VarID) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	instr := Instruction{Kind: InstrReturn}
	if ret == nil {
		if !s.fn.ReturnType.IsVoid() {
			return jiterrors.NewValidationError(jiterrors.KindReturnShapeMismatch,
				"function %s returns %s, a value must be supplied", s.fn.Name, s.fn.ReturnType.Name())
		}
	} else {
		if err := s.requireOwnedInAllScope(*ret); err != nil {
			return err
		}
		if err := requireTypeMatch(s.fn.ReturnType, s.fn.Variable(*ret).Type); err != nil {
			return err
		}
		instr.Var, instr.HasVar = *ret, true
	}
	s.append(instr)
	return nil
}

// CreateScope opens an unconditional nested scope (spec §4.2's create_scope):
// appends a ScopeCreate instruction and returns the child scope builder.
func (s *Scope) CreateScope() (*Scope, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	child := s.fn.newScope(s.ID)
	s.Children = append(s.Children, child)
	s.append(Instruction{Kind: InstrScopeCreate, Child: child})
	return s.fn.scope(child), nil
}

// IfBranch appends a BranchIf instruction and returns the "then" body's
// scope builder. cond must be a boolean-typed immediate, variable or
// expression.
func (s *Scope) IfBranch(cond Value) (*Scope, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	if err := requireTypeMatch(types.Bool, cond.Type); err != nil {
		return nil, err
	}
	child := s.fn.newScope(s.ID)
	s.Children = append(s.Children, child)
	instr := s.append(Instruction{Kind: InstrBranchIf, Child: child, Cond: cond})
	s.Branches = append(s.Branches, instr.Offset)
	return s.fn.scope(child), nil
}

// ElseBranch appends a BranchElse instruction and returns its body's scope
// builder. It must immediately follow an IfBranch in the same scope — the
// branch planner (spec §4.4) pairs adjacent If/Else nodes positionally, so a
// dangling Else would silently bind to the wrong If or none at all.
func (s *Scope) ElseBranch() (*Scope, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	if len(s.Instructions) == 0 || s.Instructions[len(s.Instructions)-1].Kind != InstrBranchIf {
		return nil, jiterrors.NewValidationError(jiterrors.KindInvalidOperandShape,
			"else_branch must immediately follow an if_branch in the same scope")
	}
	child := s.fn.newScope(s.ID)
	s.Children = append(s.Children, child)
	instr := s.append(Instruction{Kind: InstrBranchElse, Child: child})
	s.Branches = append(s.Branches, instr.Offset)
	return s.fn.scope(child), nil
}

// WhileBranch appends a BranchWhile instruction and returns the loop body's
// scope builder, marked so BreakLoop can validate it is used inside a loop.
func (s *Scope) WhileBranch(cond Value) (*Scope, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	if err := requireTypeMatch(types.Bool, cond.Type); err != nil {
		return nil, err
	}
	child := s.fn.newScope(s.ID)
	s.Children = append(s.Children, child)
	body := s.fn.scope(child)
	body.isLoop = true
	instr := s.append(Instruction{Kind: InstrBranchWhile, Child: child, Cond: cond})
	s.Branches = append(s.Branches, instr.Offset)
	return body, nil
}

// BreakLoop appends a Break instruction. s (or one of its ancestors up to
// the nearest enclosing loop body) must be inside a while-loop body.
func (s *Scope) BreakLoop() error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	for cur := s; cur != nil; {
		if cur.isLoop {
			s.append(Instruction{Kind: InstrBreak})
			return nil
		}
		if cur.Parent == noScope {
			break
		}
		cur = s.fn.scope(cur.Parent)
	}
	return jiterrors.NewValidationError(jiterrors.KindInvalidOperandShape, "break used outside of a while loop")
}
