// Package analyze is the semantic pass. It resolves names, infers and
// checks types, and annotates the tree in place so later stages never
// re-derive a type. Checking continues past errors: one broken
// expression yields Unknown and the walk goes on, so a single run
// reports as much as it can.
package analyze

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slatelang/slate/compiler/abi"
	"github.com/slatelang/slate/compiler/ast"
	"github.com/slatelang/slate/compiler/diag"
	"github.com/slatelang/slate/compiler/token"
	"github.com/slatelang/slate/compiler/tp"
)

type (
	// Info is the typed summary of a checked unit. Code generation
	// resolves calls through it instead of rebuilding scopes.
	Info struct {
		Funcs   map[string]Func   // declared functions by name
		Imports map[string]bool   // imported dotted module paths
		Bound   map[string]string // bare name -> qualified external
	}

	Func struct {
		Name string
		Sig  tp.Func
		Decl *ast.FuncDecl
	}

	sym struct {
		name string
		t    tp.Type
		pos  ast.Pos
		mut  bool
		fn   bool   // function, not a value
		bi   bool   // predeclared builtin
		ext  string // external name for bound imports and builtins
	}

	scope struct {
		par  *scope
		syms map[string]*sym
	}

	checker struct {
		ext  *abi.Table
		info *Info
		ds   []diag.Diagnostic

		uni *scope // builtins and status constants
		mod *scope // module functions and bound imports

		ret []tp.Type // results of the function being checked

		tr tlog.Span
	}
)

// Analyze type checks a parsed unit against the external table.
// A nil table means abi.Default. The returned Info is complete even
// when diagnostics carry errors; callers decide whether to proceed.
func Analyze(ctx context.Context, m *ast.Module, ext *abi.Table) (info *Info, ds []diag.Diagnostic) {
	tr := tlog.SpawnFromContext(ctx, "analyze", "module", m.Name, "funcs", len(m.Funcs))
	defer func() {
		tr.Finish("diags", len(ds), "errs", diag.CountErrors(ds))
	}()

	if ext == nil {
		ext = abi.Default()
	}

	c := &checker{
		ext: ext,
		info: &Info{
			Funcs:   map[string]Func{},
			Imports: map[string]bool{},
			Bound:   map[string]string{},
		},
		tr: tr,
	}

	c.uni = universe(ext)
	c.mod = newScope(c.uni)

	c.imports(m)
	c.signatures(m)

	for _, fn := range m.Funcs {
		c.function(fn)
	}

	return c.info, c.ds
}

// universe is the outermost scope: status constants and builtins.
// It is rebuilt per run so checking stays idempotent.
func universe(ext *abi.Table) *scope {
	u := newScope(nil)

	for name := range abi.Statuses {
		u.syms[name] = &sym{name: name, t: tp.Status}
	}

	for name, extName := range abi.Builtins {
		sig, ok := ext.Lookup(extName)
		if !ok {
			continue
		}

		u.syms[name] = &sym{
			name: name,
			t:    tp.Func{Params: sig.Params, Results: sig.Results},
			fn:   true,
			bi:   true,
			ext:  extName,
		}
	}

	// len needs per-type handling, see checker.lenCall
	u.syms["len"] = &sym{name: "len", fn: true, bi: true}

	return u
}

func (c *checker) imports(m *ast.Module) {
	for _, im := range m.Imports {
		if len(im.Names) == 0 {
			if !c.ext.HasModule(im.Path) {
				c.err(im.Pos, diag.UndefinedSymbol, "unknown module %v", im.Path)
				continue
			}

			c.info.Imports[im.Path] = true

			continue
		}

		for _, name := range im.Names {
			q := im.Path + "." + name

			sig, ok := c.ext.Lookup(q)
			if !ok {
				c.err(im.Pos, diag.UndefinedSymbol, "module %v has no member %v", im.Path, name)
				continue
			}

			c.define(c.mod, &sym{
				name: name,
				t:    tp.Func{Params: sig.Params, Results: sig.Results},
				pos:  im.Pos,
				fn:   true,
				ext:  q,
			})

			c.info.Bound[name] = q
		}
	}
}

// signatures is the first pass. Every function becomes visible before
// any body is checked, so declaration order never matters.
func (c *checker) signatures(m *ast.Module) {
	for _, fn := range m.Funcs {
		params := make([]tp.Type, len(fn.Params))
		for i, p := range fn.Params {
			params[i] = p.Type
		}

		sig := tp.Func{Params: params, Results: fn.Results}

		c.define(c.mod, &sym{name: fn.Name, t: sig, pos: fn.Pos, fn: true})

		if _, ok := c.info.Funcs[fn.Name]; ok {
			continue
		}

		c.info.Funcs[fn.Name] = Func{Name: fn.Name, Sig: sig, Decl: fn}
	}
}

func (c *checker) function(fn *ast.FuncDecl) {
	c.tr.V("func").Printw("check function", "name", fn.Name)

	c.ret = fn.Results
	defer func() { c.ret = nil }()

	sc := newScope(c.mod)

	for _, p := range fn.Params {
		c.define(sc, &sym{name: p.Name, t: p.Type, pos: p.Pos})
	}

	c.block(sc, fn.Body)
}

func (c *checker) block(par *scope, b *ast.Block) {
	sc := newScope(par)

	for _, s := range b.Stmts {
		c.stmt(sc, s)
	}
}

func (c *checker) stmt(sc *scope, s ast.Stmt) {
	switch s := s.(type) {
	case *ast.VarDecl:
		c.varDecl(sc, s)
	case *ast.Assign:
		c.assign(sc, s)
	case *ast.If:
		c.boolCond(sc, s.Cond, "if")
		c.block(sc, s.Then)

		for _, e := range s.Elifs {
			c.boolCond(sc, e.Cond, "elif")
			c.block(sc, e.Then)
		}

		if s.Else != nil {
			c.block(sc, s.Else)
		}
	case *ast.While:
		c.boolCond(sc, s.Cond, "while")
		c.block(sc, s.Body)
	case *ast.For:
		c.forStmt(sc, s)
	case *ast.Match:
		c.match(sc, s)
	case *ast.Return:
		c.returns(sc, s)
	case *ast.ExprStmt:
		c.expr(sc, s.X, nil)
	case *ast.DeferStmt:
		c.stmt(sc, s.X)
	case *ast.PassStmt, *ast.BreakStmt, *ast.ContinueStmt:
	default:
		panic(s)
	}
}

func (c *checker) varDecl(sc *scope, d *ast.VarDecl) {
	if d.Init != nil {
		t := c.expr(sc, d.Init, d.Ann)

		switch {
		case d.Ann != nil:
			if !unknown(t) && !tp.Compatible(d.Ann, t) {
				c.err(d.Pos, diag.OperandMismatch, "cannot initialize %v binding with %v", d.Ann, t)
			}

			d.T = d.Ann
		case isVoid(t):
			c.err(d.Pos, diag.OperandMismatch, "cannot bind a void value to %v", d.Name)

			d.T = tp.Unknown{}
		default:
			d.T = t
		}
	} else {
		d.T = d.Ann
	}

	c.define(sc, &sym{name: d.Name, t: d.T, pos: d.Pos, mut: d.Mutable})
}

func (c *checker) assign(sc *scope, s *ast.Assign) {
	lt := c.lvalue(sc, s.LHS)
	rt := c.expr(sc, s.RHS, lt)

	if unknown(lt) || unknown(rt) {
		return
	}

	if s.Op == token.Assign {
		if !tp.Compatible(lt, rt) {
			c.err(s.Pos, diag.OperandMismatch, "cannot assign %v to %v", rt, lt)
		}

		return
	}

	// compound assignment follows the binary operator rules
	if !tp.Equal(lt, rt) {
		c.err(s.Pos, diag.OperandMismatch, "invalid operands %v and %v for %v", lt, rt, s.Op)
		return
	}

	if !arithOK(compound(s.Op), lt) {
		c.err(s.Pos, diag.OperandMismatch, "operator %v is not defined on %v", s.Op, lt)
	}
}

// lvalue types the assignment target and enforces mutability.
// Writes through a pointer or a slice are always allowed: the binding
// itself is not modified. Writes into a value rooted in an immutable
// binding are not.
func (c *checker) lvalue(sc *scope, e ast.Expr) tp.Type {
	t := c.expr(sc, e, nil)

	root := e
	direct := true

loop:
	for {
		switch x := root.(type) {
		case *ast.Index:
			switch x.X.Type().(type) {
			case tp.Slice, tp.Ptr:
				return t
			}

			if tp.Equal(x.X.Type(), tp.String) {
				c.err(x.Pos, diag.OperandMismatch, "strings are immutable")
				return t
			}

			root = x.X
			direct = false
		case *ast.Unary:
			if x.Op == token.Mul {
				return t
			}

			break loop
		case *ast.Ident:
			s := sc.lookup(x.Name)
			if s == nil || s.fn {
				return t
			}

			if !s.mut {
				if direct {
					c.err(x.Pos, diag.OperandMismatch, "cannot assign to immutable binding %v", x.Name)
				} else {
					c.err(x.Pos, diag.OperandMismatch, "cannot modify value of immutable binding %v", x.Name)
				}
			}

			return t
		default:
			break loop
		}
	}

	c.err(e.Position(), diag.OperandMismatch, "expression is not assignable")

	return t
}

func (c *checker) boolCond(sc *scope, e ast.Expr, kw string) {
	t := c.expr(sc, e, tp.Bool)

	if !unknown(t) && !tp.Equal(t, tp.Bool) {
		c.err(e.Position(), diag.OperandMismatch, "%v condition must be bool, got %v", kw, t)
	}
}

func (c *checker) forStmt(sc *scope, s *ast.For) {
	ft := c.expr(sc, s.From, nil)
	tt := c.expr(sc, s.To, ft)

	t := ft
	if unknown(t) {
		t = tt
	}

	if !unknown(ft) && !unknown(tt) {
		if !tp.IsInteger(ft) || !tp.Equal(ft, tt) {
			c.err(s.Pos, diag.OperandMismatch, "range bounds must be the same integer type, got %v and %v", ft, tt)
		}
	}

	body := newScope(sc)
	c.define(body, &sym{name: s.Var, t: t, pos: s.VarPos})

	for _, st := range s.Body.Stmts {
		c.stmt(body, st)
	}
}

func (c *checker) match(sc *scope, m *ast.Match) {
	st := c.expr(sc, m.Subject, nil)

	ok := !unknown(st)

	if ok && !matchable(st) {
		c.err(m.Subject.Position(), diag.OperandMismatch, "match subject must be an integer, char or bool, got %v", st)

		ok = false
	}

	wild := false
	bools := 0

	for _, cs := range m.Cases {
		if wild {
			c.err(cs.Pos, diag.UnreachableCase, "case after wildcard can never match")
		}

		if cs.Wild {
			wild = true

			c.block(sc, cs.Body)
			continue
		}

		if ok {
			c.caseLit(cs.Lo, st)

			if cs.Hi != nil {
				c.caseLit(cs.Hi, st)
				c.caseRange(cs)
			}

			if tp.Equal(st, tp.Bool) && cs.Lo.Kind == ast.BoolLit {
				bools |= 1 << cs.Lo.Int
			}
		}

		c.block(sc, cs.Body)
	}

	if ok && !wild && bools != 3 {
		c.err(m.Pos, diag.NonExhaustiveMatch, "match on %v is not exhaustive, add a wildcard case", st)
	}
}

func (c *checker) caseLit(l *ast.Literal, st tp.Type) {
	t := c.literal(l, st)

	if !tp.Equal(t, st) {
		c.err(l.Pos, diag.OperandMismatch, "case pattern is %v, match subject is %v", t, st)
	}
}

// caseRange rejects ranges that cannot match anything.
func (c *checker) caseRange(cs *ast.Case) {
	if cs.Lo.Kind != cs.Hi.Kind {
		c.err(cs.Hi.Pos, diag.OperandMismatch, "range bounds must be the same kind of literal")
		return
	}

	if cs.Lo.Kind == ast.BoolLit {
		c.err(cs.Pos, diag.OperandMismatch, "bool is not a range pattern")
		return
	}

	lo, hi := cs.Lo.Int, cs.Hi.Int

	if tp.SignedInt(cs.Lo.T) {
		if int64(lo) > int64(hi) {
			c.err(cs.Pos, diag.UnreachableCase, "empty range %d .. %d", int64(lo), int64(hi))
		}

		return
	}

	if lo > hi {
		c.err(cs.Pos, diag.UnreachableCase, "empty range %d .. %d", lo, hi)
	}
}

func (c *checker) returns(sc *scope, r *ast.Return) {
	want := c.ret

	if len(r.Vals) == 0 {
		if len(want) != 0 {
			c.err(r.Pos, diag.ReturnArityMismatch, "function returns %d values, return has none", len(want))
		}

		return
	}

	if len(want) == 0 {
		c.err(r.Pos, diag.ReturnArityMismatch, "function returns no values, return has %d", len(r.Vals))

		for _, v := range r.Vals {
			c.expr(sc, v, nil)
		}

		return
	}

	// a single tuple value may satisfy a multi-value result
	if len(r.Vals) == 1 && len(want) > 1 {
		t := c.expr(sc, r.Vals[0], tp.Tuple{Elems: want})

		if tup, ok := t.(tp.Tuple); ok && len(tup.Elems) == len(want) {
			for i, et := range tup.Elems {
				if !tp.Compatible(want[i], et) {
					c.err(r.Pos, diag.ReturnTypeMismatch, "return value %d is %v, function returns %v", i+1, et, want[i])
				}
			}

			return
		}

		if !unknown(t) {
			c.err(r.Pos, diag.ReturnArityMismatch, "function returns %d values, return has 1", len(want))
		}

		return
	}

	if len(r.Vals) != len(want) {
		c.err(r.Pos, diag.ReturnArityMismatch, "function returns %d values, return has %d", len(want), len(r.Vals))

		for _, v := range r.Vals {
			c.expr(sc, v, nil)
		}

		return
	}

	for i, v := range r.Vals {
		t := c.expr(sc, v, want[i])

		if !unknown(t) && !tp.Compatible(want[i], t) {
			c.err(v.Position(), diag.ReturnTypeMismatch, "return value %d is %v, function returns %v", i+1, t, want[i])
		}
	}
}

func (c *checker) define(sc *scope, s *sym) {
	if prev, ok := sc.syms[s.name]; ok {
		c.err(s.pos, diag.DuplicateDeclaration, "%v already declared at %d:%d", s.name, prev.pos.Line, prev.pos.Col)
		return
	}

	if sc == c.mod {
		if prev := c.uni.syms[s.name]; prev != nil && prev.bi {
			c.err(s.pos, diag.DuplicateDeclaration, "%v redeclares a builtin", s.name)
			return
		}
	}

	sc.syms[s.name] = s
}

func (c *checker) err(p ast.Pos, code diag.Code, f string, args ...any) {
	c.ds = append(c.ds, diag.Errorf(diag.Types, code, p.Line, p.Col, f, args...))
}

func (c *checker) warn(p ast.Pos, code diag.Code, f string, args ...any) {
	c.ds = append(c.ds, diag.Warnf(diag.Types, code, p.Line, p.Col, f, args...))
}

func newScope(par *scope) *scope {
	return &scope{par: par, syms: map[string]*sym{}}
}

func (s *scope) lookup(name string) *sym {
	for sc := s; sc != nil; sc = sc.par {
		if x, ok := sc.syms[name]; ok {
			return x
		}
	}

	return nil
}

func matchable(t tp.Type) bool {
	return tp.IsInteger(t) || tp.Equal(t, tp.Char) || tp.Equal(t, tp.Bool)
}

func arithOK(op token.Kind, t tp.Type) bool {
	switch op {
	case token.Add, token.Sub, token.Mul, token.Div, token.Pow:
		return tp.IsNumeric(t)
	case token.Mod, token.Amp, token.Pipe, token.Caret, token.Shl, token.Shr:
		return tp.IsInteger(t)
	}

	return false
}

// compound maps a compound assignment operator to its binary operator.
func compound(op token.Kind) token.Kind {
	switch op {
	case token.AddAssign:
		return token.Add
	case token.SubAssign:
		return token.Sub
	case token.MulAssign:
		return token.Mul
	case token.DivAssign:
		return token.Div
	case token.ModAssign:
		return token.Mod
	}

	panic(op)
}

func unknown(t tp.Type) bool {
	_, ok := t.(tp.Unknown)
	return ok || t == nil
}

func isVoid(t tp.Type) bool {
	_, ok := t.(tp.Void)
	return ok
}
