// Package ir defines the flavor-independent intermediate representation
// that every frontend (RSS/JS/Lua/Scheme, see lang/frontend/*) lowers its
// source syntax to (spec.md §4.2, "Shared IR"). The backend compiler
// (lang/backend) only ever sees this IR; it never knows which surface
// syntax produced it. The node shapes mirror the teacher's lang/ast
// package's Stmt/Expr split but are flattened to the handful of kinds
// spec.md actually names, dropping everything position-table related that
// the teacher's real-source-position printer needs but this IR does not.
package ir

// Stmt is implemented by every statement kind named in spec.md §4.2.
type Stmt interface {
	stmtNode()
	Line() int
}

// Expr is implemented by every expression kind named in spec.md §4.2.
type Expr interface {
	exprNode()
	Line() int
}

type Base struct{ LineNo int }

func (b Base) Line() int { return b.LineNo }

// Let declares a new local binding initialized to Value.
type Let struct {
	Base
	Name  string
	Value Expr
}

func (Let) stmtNode() {}

// Assign stores Value into the existing binding Name.
type Assign struct {
	Base
	Name  string
	Value Expr
}

func (Assign) stmtNode() {}

// If is a conditional; Else may be nil.
type If struct {
	Base
	Cond Expr
	Then []Stmt
	Else []Stmt
}

func (If) stmtNode() {}

// While is a pretest loop.
type While struct {
	Base
	Cond Expr
	Body []Stmt
}

func (While) stmtNode() {}

// For is a 3-clause loop; Init, Cond and Step may each be nil (Cond nil
// means "always true").
type For struct {
	Base
	Init Stmt
	Cond Expr
	Step Stmt
	Body []Stmt
}

func (For) stmtNode() {}

// Break exits the innermost enclosing loop.
type Break struct{ Base }

func (Break) stmtNode() {}

// Continue jumps to the innermost enclosing loop's next iteration.
type Continue struct{ Base }

func (Continue) stmtNode() {}

// ExprStmt evaluates Value and discards its result.
type ExprStmt struct {
	Base
	Value Expr
}

func (ExprStmt) stmtNode() {}

// FunctionDecl declares a named, non-recursive function. Frontends accept
// recursive definitions; lang/backend rejects them at compile time
// (spec.md §4.4).
type FunctionDecl struct {
	Base
	Name   string
	Params []string
	Body   []Stmt
}

func (FunctionDecl) stmtNode() {}

// Return yields Value (nil means an implicit null) as the enclosing
// function's result. Like Match, this is not named in spec.md §4.2's
// grammar, but is required by §4.4's own description of how a function's
// body compiles ("return statements... branch to an exit label"); added
// here as a supplement (see DESIGN.md).
type Return struct {
	Base
	Value Expr
}

func (Return) stmtNode() {}

// MatchArm is one arm of a Match: its body runs when Subject equals
// Literal. A nil Literal marks the "_" catch-all arm (spec.md §4.4: "_
// compiles to an unconditional branch").
type MatchArm struct {
	Literal Expr
	Body    []Stmt
}

// Match compiles to the linear ceq/brfalse guard chain described in
// spec.md §4.4. It is not part of the Expr/Stmt grammar spec.md §4.2
// enumerates for the shared IR, but §4.4 describes its lowering in enough
// detail that it is clearly part of the intended language; it is added
// here as a supplement (see DESIGN.md).
type Match struct {
	Base
	Subject Expr
	Arms    []MatchArm
}

func (Match) stmtNode() {}

// Import resolves path through the source loader (lang/loader); Alias, if
// non-empty, is the local binding name (defaults to the module's declared
// name).
type Import struct {
	Base
	Path  string
	Alias string
}

func (Import) stmtNode() {}

// --- expressions ---

// IntLit is an integer literal.
type IntLit struct {
	Base
	Value int64
}

func (IntLit) exprNode() {}

// FloatLit is a floating point literal.
type FloatLit struct {
	Base
	Value float64
}

func (FloatLit) exprNode() {}

// BoolLit is a boolean literal.
type BoolLit struct {
	Base
	Value bool
}

func (BoolLit) exprNode() {}

// StringLit is a string literal.
type StringLit struct {
	Base
	Value string
}

func (StringLit) exprNode() {}

// NullLit is the null literal.
type NullLit struct{ Base }

func (NullLit) exprNode() {}

// Var references a binding by name: a local, a captured closure variable,
// a function parameter, or (if none of those resolve) a host import.
type Var struct {
	Base
	Name string
}

func (Var) exprNode() {}

// BinOp is a binary operator application. Op is one of "+", "-", "*", "/",
// "==", "!=", "<", ">", "<=", ">=", "&&", "||", "<<", ">>".
type BinOp struct {
	Base
	Op          string
	Left, Right Expr
}

func (BinOp) exprNode() {}

// UnaryOp is a unary operator application. Op is one of "-", "!", "try",
// "must".
type UnaryOp struct {
	Base
	Op      string
	Operand Expr
}

func (UnaryOp) exprNode() {}

// Call invokes the function or host import bound to Name.
type Call struct {
	Base
	Name string
	Args []Expr
}

func (Call) exprNode() {}

// MethodCall invokes Name as a method on Receiver. The backend lowers this
// to a host call against an import named Name itself (the receiver is not
// part of the import name), since the VM has no object model beyond
// scalars (spec.md Non-goals).
type MethodCall struct {
	Base
	Receiver Expr
	Name     string
	Args     []Expr
}

func (MethodCall) exprNode() {}

// MemberAccess reads Field off Receiver. Optional marks a?.b: a null
// receiver (or a missing intermediate) yields Null instead of faulting.
type MemberAccess struct {
	Base
	Receiver Expr
	Field    string
	Optional bool
}

func (MemberAccess) exprNode() {}

// Closure is an anonymous function capturing Captures by value at
// declaration time. Per spec.md §4.2 it is not first-class: the lowering
// only accepts a Closure as the direct Value of a Let, and only supports
// invoking it later by that bound name (enforced by the frontend/backend,
// not representable any other way in this IR).
type Closure struct {
	Base
	Params   []string
	Captures []string
	Body     []Stmt
}

func (Closure) exprNode() {}

// Unit is one frontend's output: the statements of a single parsed source
// file, ready for the source loader. Its imports are the Import statements
// among Stmts, in the order written.
type Unit struct {
	Filename string
	Stmts    []Stmt
}
