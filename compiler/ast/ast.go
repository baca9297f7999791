// Package ast defines the syntax tree produced by the parser.
//
// Nodes form a tree; every node owns its children. Expression nodes carry
// a T field, nil until the analyzer fills it in. The safety checker marks
// guarded calls via Audit/AuditOp. Positions are 1-based.
package ast

import (
	"github.com/slatelang/slate/compiler/token"
	"github.com/slatelang/slate/compiler/tp"
)

type (
	Pos struct {
		Line int
		Col  int
	}

	Node interface {
		Position() Pos
	}

	Stmt interface {
		Node
		stmtNode()
	}

	Expr interface {
		Node
		exprNode()
		Type() tp.Type
	}

	// Module is one compilation unit.
	Module struct {
		Pos        Pos
		Decorators []*Decorator // module-level, before any declaration
		Name       string       // dotted path from the module declaration, may be empty
		Imports    []*Import
		Funcs      []*FuncDecl
	}

	// Import binds external module names. Names is empty for
	// `import a.b` and holds the imported idents for `from a.b import x, y`.
	Import struct {
		Pos   Pos
		Path  string
		Names []string
	}

	// Decorator is compile-time configuration attached to a declaration.
	// Arguments are name: constant pairs in source order.
	Decorator struct {
		Pos  Pos
		Name string
		Args []DecoratorArg
	}

	DecoratorArg struct {
		Pos   Pos
		Name  string
		Value *Literal
	}

	FuncDecl struct {
		Pos        Pos
		Decorators []*Decorator
		Name       string
		Params     []*Param
		Results    []tp.Type
		Body       *Block
	}

	Param struct {
		Pos  Pos
		Name string
		Type tp.Type
	}

	Block struct {
		Pos   Pos
		Stmts []Stmt
	}

	// VarDecl is a let (immutable) or var (mutable) binding.
	// Ann is the source annotation, nil when inferred. T is the resolved
	// binding type.
	VarDecl struct {
		Pos     Pos
		Mutable bool
		Name    string
		Ann     tp.Type
		Init    Expr
		T       tp.Type
	}

	// Assign covers plain and compound assignment. Op is token.Assign or
	// one of the compound kinds; LHS must be an lvalue.
	Assign struct {
		Pos Pos
		Op  token.Kind
		LHS Expr
		RHS Expr
	}

	If struct {
		Pos   Pos
		Cond  Expr
		Then  *Block
		Elifs []ElseIf
		Else  *Block
	}

	ElseIf struct {
		Pos  Pos
		Cond Expr
		Then *Block
	}

	While struct {
		Pos  Pos
		Cond Expr
		Body *Block
	}

	// For is the counted loop `for v in range(from, to)`.
	// From is the zero literal when the source used the one-argument form.
	For struct {
		Pos    Pos
		Var    string
		VarPos Pos
		From   Expr
		To     Expr
		Body   *Block
	}

	Match struct {
		Pos     Pos
		Subject Expr
		Cases   []*Case
	}

	// Case is one match arm: a literal (Lo), an inclusive range (Lo..Hi),
	// or the wildcard `_`.
	Case struct {
		Pos  Pos
		Lo   *Literal
		Hi   *Literal
		Wild bool
		Body *Block
	}

	Return struct {
		Pos  Pos
		Vals []Expr
	}

	ExprStmt struct {
		Pos Pos
		X   Expr
	}

	PassStmt struct {
		Pos Pos
	}

	BreakStmt struct {
		Pos Pos
	}

	ContinueStmt struct {
		Pos Pos
	}

	// DeferStmt runs X before every return of the enclosing function,
	// last declared first. Legal only directly in the function body block.
	DeferStmt struct {
		Pos Pos
		X   Stmt
	}

	LitKind int

	Literal struct {
		Pos   Pos
		Kind  LitKind
		Str   string  // raw digits, decoded string/char text, or bare name
		Int   uint64  // IntLit and CharLit value, BoolLit 0 or 1
		Float float64 // FloatLit value
		T     tp.Type
	}

	Ident struct {
		Pos  Pos
		Name string
		T    tp.Type
	}

	Binary struct {
		Pos  Pos
		Op   token.Kind
		L, R Expr
		T    tp.Type
	}

	Unary struct {
		Pos Pos
		Op  token.Kind // Sub, Not, Tilde, Amp (address), Mul (deref)
		X   Expr
		T   tp.Type
	}

	// Call. Audit is set by the safety checker for Logged operations;
	// AuditOp is the qualified operation name for the audit-log call.
	Call struct {
		Pos     Pos
		Fn      Expr
		Args    []Expr
		Audit   bool
		AuditOp string
		T       tp.Type
	}

	TupleExpr struct {
		Pos   Pos
		Elems []Expr
		T     tp.Type
	}

	Index struct {
		Pos Pos
		X   Expr
		Idx Expr
		T   tp.Type
	}

	Member struct {
		Pos  Pos
		X    Expr
		Name string
		T    tp.Type
	}

	// TryChain evaluates Primary; on a failure status it tries each
	// secondary in order, then Fallback, whose value is authoritative.
	TryChain struct {
		Pos         Pos
		Primary     Expr
		Secondaries []Expr
		Fallback    Expr
		T           tp.Type
	}
)

const (
	IntLit LitKind = iota
	FloatLit
	StringLit
	CharLit
	BoolLit
	NameLit // bare identifier in a decorator argument
)

func (x *Module) Position() Pos       { return x.Pos }
func (x *Import) Position() Pos       { return x.Pos }
func (x *Decorator) Position() Pos    { return x.Pos }
func (x *FuncDecl) Position() Pos     { return x.Pos }
func (x *Param) Position() Pos        { return x.Pos }
func (x *Block) Position() Pos        { return x.Pos }
func (x *VarDecl) Position() Pos      { return x.Pos }
func (x *Assign) Position() Pos       { return x.Pos }
func (x *If) Position() Pos           { return x.Pos }
func (x *While) Position() Pos        { return x.Pos }
func (x *For) Position() Pos          { return x.Pos }
func (x *Match) Position() Pos        { return x.Pos }
func (x *Case) Position() Pos         { return x.Pos }
func (x *Return) Position() Pos       { return x.Pos }
func (x *ExprStmt) Position() Pos     { return x.Pos }
func (x *PassStmt) Position() Pos     { return x.Pos }
func (x *BreakStmt) Position() Pos    { return x.Pos }
func (x *ContinueStmt) Position() Pos { return x.Pos }
func (x *DeferStmt) Position() Pos    { return x.Pos }
func (x *Literal) Position() Pos      { return x.Pos }
func (x *Ident) Position() Pos        { return x.Pos }
func (x *Binary) Position() Pos       { return x.Pos }
func (x *Unary) Position() Pos        { return x.Pos }
func (x *Call) Position() Pos         { return x.Pos }
func (x *TupleExpr) Position() Pos    { return x.Pos }
func (x *Index) Position() Pos        { return x.Pos }
func (x *Member) Position() Pos       { return x.Pos }
func (x *TryChain) Position() Pos     { return x.Pos }

func (x *VarDecl) stmtNode()      {}
func (x *Assign) stmtNode()       {}
func (x *If) stmtNode()           {}
func (x *While) stmtNode()        {}
func (x *For) stmtNode()          {}
func (x *Match) stmtNode()        {}
func (x *Return) stmtNode()       {}
func (x *ExprStmt) stmtNode()     {}
func (x *PassStmt) stmtNode()     {}
func (x *BreakStmt) stmtNode()    {}
func (x *ContinueStmt) stmtNode() {}
func (x *DeferStmt) stmtNode()    {}

func (x *Literal) exprNode()   {}
func (x *Ident) exprNode()     {}
func (x *Binary) exprNode()    {}
func (x *Unary) exprNode()     {}
func (x *Call) exprNode()      {}
func (x *TupleExpr) exprNode() {}
func (x *Index) exprNode()     {}
func (x *Member) exprNode()    {}
func (x *TryChain) exprNode()  {}

func (x *Literal) Type() tp.Type   { return x.T }
func (x *Ident) Type() tp.Type     { return x.T }
func (x *Binary) Type() tp.Type    { return x.T }
func (x *Unary) Type() tp.Type     { return x.T }
func (x *Call) Type() tp.Type      { return x.T }
func (x *TupleExpr) Type() tp.Type { return x.T }
func (x *Index) Type() tp.Type     { return x.T }
func (x *Member) Type() tp.Type    { return x.T }
func (x *TryChain) Type() tp.Type  { return x.T }

// QualName flattens an Ident or Member chain rooted in an Ident into a
// dotted name. ok is false for any other shape.
func QualName(e Expr) (name string, ok bool) {
	switch x := e.(type) {
	case *Ident:
		return x.Name, true
	case *Member:
		base, ok := QualName(x.X)
		if !ok {
			return "", false
		}

		return base + "." + x.Name, true
	}

	return "", false
}

// Decorator returns the first attached decorator with the given name.
func (x *FuncDecl) Decorator(name string) *Decorator {
	for _, d := range x.Decorators {
		if d.Name == name {
			return d
		}
	}

	return nil
}

// Arg returns the named decorator argument value.
func (d *Decorator) Arg(name string) *Literal {
	for _, a := range d.Args {
		if a.Name == name {
			return a.Value
		}
	}

	return nil
}
