package analyze

import (
	"strings"

	"github.com/slatelang/slate/compiler/ast"
	"github.com/slatelang/slate/compiler/diag"
	"github.com/slatelang/slate/compiler/token"
	"github.com/slatelang/slate/compiler/tp"
)

// expr checks e and annotates it in place. want is the context type
// used for integer and float literal inference and may be nil.
// After an error the result is Unknown, never nil, so the walk can
// keep going.
func (c *checker) expr(sc *scope, e ast.Expr, want tp.Type) tp.Type {
	switch e := e.(type) {
	case *ast.Literal:
		return c.literal(e, want)
	case *ast.Ident:
		return c.ident(sc, e)
	case *ast.Binary:
		e.T = c.binary(sc, e, want)
		return e.T
	case *ast.Unary:
		e.T = c.unary(sc, e, want)
		return e.T
	case *ast.Call:
		return c.call(sc, e)
	case *ast.TupleExpr:
		return c.tuple(sc, e, want)
	case *ast.Index:
		e.T = c.index(sc, e)
		return e.T
	case *ast.Member:
		return c.member(sc, e)
	case *ast.TryChain:
		e.T = c.tryChain(sc, e, want)
		return e.T
	default:
		panic(e)
	}
}

// literal infers a literal type. An integer literal takes the wanted
// integer type when the value fits, i32 otherwise; a float literal
// takes a wanted float type, f64 otherwise.
func (c *checker) literal(l *ast.Literal, want tp.Type) tp.Type {
	switch l.Kind {
	case ast.IntLit:
		l.T = c.intLit(l, want)
	case ast.FloatLit:
		if p, ok := want.(tp.Prim); ok && (p == tp.F32 || p == tp.F64) {
			l.T = p
		} else {
			l.T = tp.F64
		}
	case ast.StringLit:
		l.T = tp.String
	case ast.CharLit:
		l.T = tp.Char
	case ast.BoolLit:
		l.T = tp.Bool
	default:
		panic(l.Kind)
	}

	return l.T
}

func (c *checker) intLit(l *ast.Literal, want tp.Type) tp.Type {
	if want != nil && tp.IsInteger(want) {
		if !fitsInt(l.Int, want) {
			c.err(l.Pos, diag.OperandMismatch, "literal %v overflows %v", l.Str, want)
		}

		return want
	}

	// the default chain reads the literal as a plain magnitude; negation
	// is folded separately in negLit
	switch {
	case l.Int>>31 == 0:
		return tp.I32
	case l.Int>>63 == 0:
		return tp.I64
	}

	return tp.U64
}

// fitsInt reports whether the literal bit pattern fits t. For signed
// types the pattern is read as two's complement, which also covers
// negated case patterns.
func fitsInt(v uint64, t tp.Type) bool {
	bits := t.Size() * 8

	if tp.SignedInt(t) {
		if bits == 64 {
			return true
		}

		s := int64(v)
		lim := int64(1) << (bits - 1)

		return s >= -lim && s < lim
	}

	if bits == 64 {
		return true
	}

	return v>>bits == 0
}

func (c *checker) ident(sc *scope, e *ast.Ident) tp.Type {
	s := sc.lookup(e.Name)

	switch {
	case s == nil:
		c.err(e.Pos, diag.UndefinedSymbol, "undefined: %v", e.Name)

		e.T = tp.Unknown{}
	case s.fn:
		c.err(e.Pos, diag.OperandMismatch, "%v is a function, not a value", e.Name)

		e.T = tp.Unknown{}
	default:
		e.T = s.t
	}

	return e.T
}

func (c *checker) binary(sc *scope, e *ast.Binary, want tp.Type) tp.Type {
	switch e.Op {
	case token.And, token.Or:
		c.boolOperand(sc, e.L, e.Op)
		c.boolOperand(sc, e.R, e.Op)

		return tp.Bool
	case token.Eq, token.Ne, token.Lt, token.Gt, token.Le, token.Ge:
		lt, rt := c.pair(sc, e.L, e.R, nil)

		if unknown(lt) || unknown(rt) {
			return tp.Bool
		}

		switch {
		case !tp.Equal(lt, rt):
			c.err(e.Pos, diag.OperandMismatch, "mismatched operands %v and %v for %v", lt, rt, e.Op)
		case !cmpOK(e.Op, lt):
			c.err(e.Pos, diag.OperandMismatch, "operator %v is not defined on %v", e.Op, lt)
		}

		return tp.Bool
	}

	lt, rt := c.pair(sc, e.L, e.R, want)

	t := lt
	if unknown(t) {
		t = rt
	}

	if unknown(lt) || unknown(rt) {
		return t
	}

	switch {
	case !tp.Equal(lt, rt):
		c.err(e.Pos, diag.OperandMismatch, "mismatched operands %v and %v for %v", lt, rt, e.Op)
	case !arithOK(e.Op, lt):
		c.err(e.Pos, diag.OperandMismatch, "operator %v is not defined on %v", e.Op, lt)
	}

	return t
}

// pair checks two operands with literal inference flowing from the
// typed side to the literal side, so 1 + x takes the type of x.
func (c *checker) pair(sc *scope, l, r ast.Expr, want tp.Type) (lt, rt tp.Type) {
	if isLit(l) && !isLit(r) {
		rt = c.expr(sc, r, want)
		lt = c.expr(sc, l, pick(rt, want))

		return lt, rt
	}

	lt = c.expr(sc, l, want)
	rt = c.expr(sc, r, pick(lt, want))

	return lt, rt
}

func (c *checker) boolOperand(sc *scope, e ast.Expr, op token.Kind) {
	t := c.expr(sc, e, tp.Bool)

	if !unknown(t) && !tp.Equal(t, tp.Bool) {
		c.err(e.Position(), diag.OperandMismatch, "operand of %v must be bool, got %v", op, t)
	}
}

func (c *checker) unary(sc *scope, e *ast.Unary, want tp.Type) tp.Type {
	switch e.Op {
	case token.Sub:
		if l, ok := e.X.(*ast.Literal); ok && l.Kind == ast.IntLit {
			return c.negLit(l, want)
		}

		t := c.expr(sc, e.X, want)

		if !unknown(t) && !tp.IsNumeric(t) {
			c.err(e.Pos, diag.OperandMismatch, "operator - is not defined on %v", t)
		}

		return t
	case token.Not:
		t := c.expr(sc, e.X, tp.Bool)

		if !unknown(t) && !tp.Equal(t, tp.Bool) {
			c.err(e.Pos, diag.OperandMismatch, "operand of not must be bool, got %v", t)
		}

		return tp.Bool
	case token.Tilde:
		t := c.expr(sc, e.X, want)

		if !unknown(t) && !tp.IsInteger(t) {
			c.err(e.Pos, diag.OperandMismatch, "operator ~ is not defined on %v", t)
		}

		return t
	case token.Amp:
		t := c.expr(sc, e.X, nil)
		if unknown(t) {
			return t
		}

		return tp.Ptr{Elem: t}
	case token.Mul:
		t := c.expr(sc, e.X, nil)

		if p, ok := t.(tp.Ptr); ok {
			return p.Elem
		}

		if !unknown(t) {
			c.err(e.Pos, diag.OperandMismatch, "cannot dereference %v", t)
		}

		return tp.Unknown{}
	default:
		panic(e.Op)
	}
}

// negLit folds negation into the literal so -128 fits i8 and -2147483648
// stays an i32.
func (c *checker) negLit(l *ast.Literal, want tp.Type) tp.Type {
	if want != nil && tp.SignedInt(want) {
		lim := uint64(1) << (want.Size()*8 - 1)

		if l.Int > lim {
			c.err(l.Pos, diag.OperandMismatch, "literal -%v overflows %v", l.Str, want)
		}

		l.T = want

		return want
	}

	switch {
	case l.Int <= 1<<31:
		l.T = tp.I32
	case l.Int <= 1<<63:
		l.T = tp.I64
	default:
		c.err(l.Pos, diag.OperandMismatch, "literal -%v overflows i64", l.Str)

		l.T = tp.I64
	}

	return l.T
}

func (c *checker) call(sc *scope, e *ast.Call) tp.Type {
	switch fn := e.Fn.(type) {
	case *ast.Ident:
		return c.callNamed(sc, e, fn)
	case *ast.Member:
		return c.callQualified(sc, e, fn)
	}

	c.expr(sc, e.Fn, nil)
	c.err(e.Pos, diag.OperandMismatch, "expression is not callable")
	c.argsAny(sc, e)

	e.T = tp.Unknown{}

	return e.T
}

func (c *checker) callNamed(sc *scope, e *ast.Call, fn *ast.Ident) tp.Type {
	s := sc.lookup(fn.Name)

	switch {
	case s == nil:
		c.err(fn.Pos, diag.UndefinedSymbol, "undefined: %v", fn.Name)
	case !s.fn:
		c.err(fn.Pos, diag.OperandMismatch, "%v is not a function", fn.Name)
	}

	if s == nil || !s.fn {
		c.argsAny(sc, e)

		e.T = tp.Unknown{}

		return e.T
	}

	if s.bi && s.name == "len" {
		return c.lenCall(sc, e)
	}

	sig := s.t.(tp.Func)
	fn.T = sig

	c.args(sc, e, fn.Name, sig.Params)

	e.T = resultType(sig.Results)

	return e.T
}

func (c *checker) callQualified(sc *scope, e *ast.Call, fn *ast.Member) tp.Type {
	e.T = tp.Unknown{}

	q, ok := ast.QualName(fn)
	if !ok {
		c.expr(sc, fn.X, nil)
		c.err(fn.Pos, diag.OperandMismatch, "expression is not callable")
		c.argsAny(sc, e)

		return e.T
	}

	// a local binding shadows the module namespace
	if root := q[:strings.IndexByte(q, '.')]; sc.lookup(root) != nil {
		c.err(fn.Pos, diag.OperandMismatch, "%v is not a module", root)
		c.argsAny(sc, e)

		return e.T
	}

	sig, ok := c.ext.Lookup(q)
	if !ok {
		c.err(fn.Pos, diag.UndefinedSymbol, "undefined external function %v", q)
		c.argsAny(sc, e)

		return e.T
	}

	if !c.imported(q) {
		mod := q[:strings.LastIndexByte(q, '.')]
		c.err(fn.Pos, diag.UndefinedSymbol, "module %v is not imported", mod)
	}

	c.args(sc, e, q, sig.Params)

	e.T = resultType(sig.Results)

	return e.T
}

// imported reports whether the qualified name q lives under an
// imported module path.
func (c *checker) imported(q string) bool {
	for p := range c.info.Imports {
		if strings.HasPrefix(q, p+".") {
			return true
		}
	}

	return false
}

func (c *checker) args(sc *scope, e *ast.Call, name string, params []tp.Type) {
	if len(e.Args) != len(params) {
		c.err(e.Pos, diag.OperandMismatch, "wrong number of arguments to %v: have %d, want %d", name, len(e.Args), len(params))
	}

	for i, a := range e.Args {
		var want tp.Type
		if i < len(params) {
			want = params[i]
		}

		t := c.expr(sc, a, want)

		if want == nil || unknown(t) {
			continue
		}

		if !tp.Compatible(want, t) {
			c.err(a.Position(), diag.OperandMismatch, "argument %d to %v is %v, want %v", i+1, name, t, want)
		}
	}
}

func (c *checker) argsAny(sc *scope, e *ast.Call) {
	for _, a := range e.Args {
		c.expr(sc, a, nil)
	}
}

// lenCall handles the only signature the external table cannot express:
// len accepts a string, array or slice.
func (c *checker) lenCall(sc *scope, e *ast.Call) tp.Type {
	e.T = tp.I64

	if len(e.Args) != 1 {
		c.err(e.Pos, diag.OperandMismatch, "wrong number of arguments to len: have %d, want 1", len(e.Args))
		c.argsAny(sc, e)

		return e.T
	}

	t := c.expr(sc, e.Args[0], nil)

	switch t.(type) {
	case tp.Array, tp.Slice, tp.Unknown:
		return e.T
	}

	if !tp.Equal(t, tp.String) {
		c.err(e.Args[0].Position(), diag.OperandMismatch, "len is not defined on %v", t)
	}

	return e.T
}

func resultType(rs []tp.Type) tp.Type {
	switch len(rs) {
	case 0:
		return tp.Void{}
	case 1:
		return rs[0]
	}

	return tp.Tuple{Elems: rs}
}

func (c *checker) tuple(sc *scope, e *ast.TupleExpr, want tp.Type) tp.Type {
	wants := make([]tp.Type, len(e.Elems))

	if w, ok := want.(tp.Tuple); ok && len(w.Elems) == len(e.Elems) {
		copy(wants, w.Elems)
	}

	ts := make([]tp.Type, len(e.Elems))
	for i, x := range e.Elems {
		ts[i] = c.expr(sc, x, wants[i])
	}

	e.T = tp.Tuple{Elems: ts}

	return e.T
}

func (c *checker) index(sc *scope, e *ast.Index) tp.Type {
	xt := c.expr(sc, e.X, nil)
	it := c.expr(sc, e.Idx, tp.I64)

	if !unknown(it) && !tp.IsInteger(it) {
		c.err(e.Idx.Position(), diag.OperandMismatch, "index must be an integer, got %v", it)
	}

	idx, con := constIndex(e.Idx)

	switch t := xt.(type) {
	case tp.Array:
		if con && (idx < 0 || idx >= int64(t.Len)) {
			c.err(e.Idx.Position(), diag.IndexOutOfBounds, "index %d out of range [0:%d)", idx, t.Len)
		}

		return t.Elem
	case tp.Slice:
		return t.Elem
	case tp.Ptr:
		return t.Elem
	case tp.Tuple:
		if !con {
			c.err(e.Idx.Position(), diag.OperandMismatch, "tuple index must be a constant")
			return tp.Unknown{}
		}

		if idx < 0 || idx >= int64(len(t.Elems)) {
			c.err(e.Idx.Position(), diag.IndexOutOfBounds, "index %d out of range [0:%d)", idx, len(t.Elems))
			return tp.Unknown{}
		}

		return t.Elems[idx]
	case tp.Unknown:
		return t
	}

	if tp.Equal(xt, tp.String) {
		return tp.Char
	}

	c.err(e.Pos, diag.OperandMismatch, "cannot index %v", xt)

	return tp.Unknown{}
}

// constIndex folds a literal index, negation included.
func constIndex(e ast.Expr) (int64, bool) {
	switch x := e.(type) {
	case *ast.Literal:
		if x.Kind == ast.IntLit {
			return int64(x.Int), true
		}
	case *ast.Unary:
		if x.Op == token.Sub {
			if v, ok := constIndex(x.X); ok {
				return -v, true
			}
		}
	}

	return 0, false
}

func (c *checker) member(sc *scope, e *ast.Member) tp.Type {
	e.T = tp.Unknown{}

	if q, ok := ast.QualName(e); ok {
		root := q[:strings.IndexByte(q, '.')]

		if sc.lookup(root) == nil {
			if _, found := c.ext.Lookup(q); found {
				c.err(e.Pos, diag.OperandMismatch, "external function %v is not a value, call it", q)
				return e.T
			}

			if c.ext.HasModule(q) {
				c.err(e.Pos, diag.OperandMismatch, "module %v is not a value", q)
				return e.T
			}

			c.err(e.Pos, diag.UndefinedSymbol, "undefined: %v", q)

			return e.T
		}
	}

	t := c.expr(sc, e.X, nil)

	if !unknown(t) {
		c.err(e.Pos, diag.OperandMismatch, "%v has no member %v", t, e.Name)
	}

	return e.T
}

// tryChain checks the fallback first: its type is authoritative for
// the whole chain.
func (c *checker) tryChain(sc *scope, e *ast.TryChain, want tp.Type) tp.Type {
	ft := c.expr(sc, e.Fallback, want)

	pt := c.expr(sc, e.Primary, ft)
	c.clause(e.Primary, pt, ft)

	for _, s := range e.Secondaries {
		st := c.expr(sc, s, ft)
		c.clause(s, st, ft)
	}

	if !unknown(ft) && !tp.CarriesStatus(ft) {
		c.warn(e.Pos, diag.OperandMismatch, "try_chain over %v cannot detect failure, only the primary clause will run", ft)
	}

	return ft
}

func (c *checker) clause(e ast.Expr, t, ft tp.Type) {
	if unknown(t) || unknown(ft) {
		return
	}

	if !tp.Compatible(ft, t) {
		c.err(e.Position(), diag.OperandMismatch, "clause yields %v, fallback yields %v", t, ft)
	}
}

func cmpOK(op token.Kind, t tp.Type) bool {
	if op == token.Eq || op == token.Ne {
		return tp.Comparable(t) || tp.Equal(t, tp.String)
	}

	return tp.Ordered(t)
}

func isLit(e ast.Expr) bool {
	switch x := e.(type) {
	case *ast.Literal:
		return true
	case *ast.Unary:
		if x.Op == token.Sub {
			return isLit(x.X)
		}
	}

	return false
}

func pick(t, fallback tp.Type) tp.Type {
	if unknown(t) {
		return fallback
	}

	return t
}
