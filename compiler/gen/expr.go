package gen

import (
	"github.com/slatelang/slate/compiler/abi"
	"github.com/slatelang/slate/compiler/ast"
	"github.com/slatelang/slate/compiler/diag"
	"github.com/slatelang/slate/compiler/ir"
	"github.com/slatelang/slate/compiler/token"
	"github.com/slatelang/slate/compiler/tp"
)

func (g *gen) expr(e ast.Expr) ir.Reg {
	switch e := e.(type) {
	case *ast.Literal:
		return g.literal(e)
	case *ast.Ident:
		return g.identExpr(e)
	case *ast.Binary:
		return g.binary(e)
	case *ast.Unary:
		return g.unary(e)
	case *ast.Call:
		return g.callExpr(e, true)
	case *ast.TupleExpr:
		var es []ir.Reg
		for _, x := range e.Elems {
			es = append(es, g.expr(x))
		}

		r := g.reg()
		g.emit(ir.MakeTuple{Dst: r, Type: lower(e.T), Elems: es})

		return r
	case *ast.Index:
		return g.indexExpr(e)
	case *ast.TryChain:
		return g.tryChain(e)
	}

	panic(e)
}

func (g *gen) literal(l *ast.Literal) ir.Reg {
	r := g.reg()

	switch l.Kind {
	case ast.IntLit, ast.CharLit, ast.BoolLit:
		g.emit(ir.Imm{Dst: r, Type: lower(l.T), Val: l.Int})
	case ast.FloatLit:
		g.emit(ir.FImm{Dst: r, Type: lower(l.T), Val: l.Float})
	case ast.StringLit:
		g.emit(ir.SImm{Dst: r, Str: g.intern(l.Str)})
	default:
		panic(l.Kind)
	}

	return r
}

func (g *gen) identExpr(e *ast.Ident) ir.Reg {
	if b, ok := g.lookup(e.Name); ok {
		r := g.reg()
		g.emit(ir.Load{Dst: r, Type: lower(b.t), Addr: b.slot})

		return r
	}

	if st, ok := abi.Statuses[e.Name]; ok {
		r := g.reg()
		g.emit(ir.Imm{Dst: r, Type: tp.Status, Val: uint64(uint32(st))})

		return r
	}

	panic(e.Name)
}

func (g *gen) binary(e *ast.Binary) ir.Reg {
	switch e.Op {
	case token.And, token.Or:
		return g.logical(e)
	case token.Eq, token.Ne, token.Lt, token.Gt, token.Le, token.Ge:
		return g.compare(e)
	}

	l := g.expr(e.L)
	r := g.expr(e.R)

	d := g.reg()
	g.emit(ir.Bin{Dst: d, Op: binOp(e.Op), Type: lower(e.T), L: l, R: r})

	return d
}

func (g *gen) compare(e *ast.Binary) ir.Reg {
	lt := e.L.Type()

	l := g.expr(e.L)
	r := g.expr(e.R)

	// string equality goes through the runtime
	if tp.Equal(lt, tp.String) {
		eq := g.reg()
		g.callExt("sl_string_eq", []ir.Reg{l, r}, []ir.Reg{eq})

		if e.Op == token.Eq {
			return eq
		}

		d := g.reg()
		g.emit(ir.Un{Dst: d, Op: ir.Not, Type: tp.Bool, X: eq})

		return d
	}

	d := g.reg()
	g.emit(ir.Cmp{Dst: d, Cond: ir.Cond(e.Op.String()), Type: lower(lt), L: l, R: r})

	return d
}

// logical lowers and/or with short circuit through a bool slot.
func (g *gen) logical(e *ast.Binary) ir.Reg {
	slot := g.reg()
	g.emit(ir.Alloc{Dst: slot, Type: tp.Bool})

	l := g.expr(e.L)
	g.emit(ir.Store{Addr: slot, Type: tp.Bool, Val: l})

	rhs, done := g.label(), g.label()

	if e.Op == token.And {
		g.emit(ir.BCond{Cond: l, To: rhs, Else: done})
	} else {
		g.emit(ir.BCond{Cond: l, To: done, Else: rhs})
	}

	g.start(rhs)

	r := g.expr(e.R)
	g.emit(ir.Store{Addr: slot, Type: tp.Bool, Val: r})
	g.br(done)

	g.start(done)

	d := g.reg()
	g.emit(ir.Load{Dst: d, Type: tp.Bool, Addr: slot})

	return d
}

func (g *gen) unary(e *ast.Unary) ir.Reg {
	switch e.Op {
	case token.Sub:
		if l, ok := e.X.(*ast.Literal); ok {
			r := g.reg()

			switch l.Kind {
			case ast.IntLit:
				g.emit(ir.Imm{Dst: r, Type: lower(e.T), Val: uint64(-int64(l.Int))})
			case ast.FloatLit:
				g.emit(ir.FImm{Dst: r, Type: lower(e.T), Val: -l.Float})
			default:
				panic(l.Kind)
			}

			return r
		}

		x := g.expr(e.X)

		d := g.reg()
		g.emit(ir.Un{Dst: d, Op: ir.Neg, Type: lower(e.T), X: x})

		return d
	case token.Not:
		x := g.expr(e.X)

		d := g.reg()
		g.emit(ir.Un{Dst: d, Op: ir.Not, Type: tp.Bool, X: x})

		return d
	case token.Tilde:
		x := g.expr(e.X)

		d := g.reg()
		g.emit(ir.Un{Dst: d, Op: ir.BNot, Type: lower(e.T), X: x})

		return d
	case token.Amp:
		a, _ := g.addr(e.X)
		return a
	case token.Mul:
		p := g.expr(e.X)

		d := g.reg()
		g.emit(ir.Load{Dst: d, Type: lower(e.T), Addr: p})

		return d
	}

	panic(e.Op)
}

// addr returns the address of an lvalue and its source type. Taking
// the address of a plain value spills it to a fresh slot.
func (g *gen) addr(e ast.Expr) (ir.Reg, tp.Type) {
	switch e := e.(type) {
	case *ast.Ident:
		if b, ok := g.lookup(e.Name); ok {
			return b.slot, b.t
		}
	case *ast.Index:
		return g.indexAddr(e)
	case *ast.Unary:
		if e.Op == token.Mul {
			return g.expr(e.X), e.T
		}
	}

	t := e.Type()

	slot := g.reg()
	g.emit(ir.Alloc{Dst: slot, Type: lower(t)})

	v := g.expr(e)
	g.emit(ir.Store{Addr: slot, Type: lower(t), Val: v})

	return slot, t
}

// indexAddr computes the element address for an indexing expression.
// Slice accesses are bounds checked at runtime; array accesses only
// when the index is not a checked constant.
func (g *gen) indexAddr(e *ast.Index) (ir.Reg, tp.Type) {
	switch t := e.X.Type().(type) {
	case tp.Array:
		base, _ := g.addr(e.X)
		idx := g.expr(e.Idx)

		if _, con := constIdx(e.Idx); !con {
			ln := g.reg()
			g.emit(ir.Imm{Dst: ln, Type: tp.I64, Val: uint64(t.Len)})
			g.callExt("sl_bounds_check", []ir.Reg{idx, ln}, nil)
		}

		a := g.reg()
		g.emit(ir.Elem{Dst: a, Type: lower(t.Elem), Base: base, Index: idx})

		return a, t.Elem
	case tp.Slice:
		base, _ := g.addr(e.X)

		sv := g.reg()
		g.emit(ir.Load{Dst: sv, Type: lower(t), Addr: base})

		idx := g.expr(e.Idx)

		ln := g.reg()
		g.callExt("sl_slice_len", []ir.Reg{sv}, []ir.Reg{ln})
		g.callExt("sl_bounds_check", []ir.Reg{idx, ln}, nil)

		a := g.reg()
		g.emit(ir.Elem{Dst: a, Type: lower(t.Elem), Base: base, Index: idx})

		return a, t.Elem
	case tp.Ptr:
		p := g.expr(e.X)
		idx := g.expr(e.Idx)

		a := g.reg()
		g.emit(ir.Elem{Dst: a, Type: lower(t.Elem), Base: p, Index: idx})

		return a, t.Elem
	case tp.Tuple:
		base, _ := g.addr(e.X)
		idx := g.expr(e.Idx)

		a := g.reg()
		g.emit(ir.Elem{Dst: a, Type: lower(e.T), Base: base, Index: idx})

		return a, e.T
	}

	panic(e.X.Type())
}

func (g *gen) indexExpr(e *ast.Index) ir.Reg {
	switch e.X.Type().(type) {
	case tp.Tuple:
		tup := g.expr(e.X)
		idx, _ := constIdx(e.Idx)

		d := g.reg()
		g.emit(ir.TupleGet{Dst: d, Type: lower(e.T), Tuple: tup, Index: int(idx)})

		return d
	case tp.Prim:
		// string indexing
		s := g.expr(e.X)
		i := g.expr(e.Idx)

		d := g.reg()
		g.callExt("sl_string_index", []ir.Reg{s, i}, []ir.Reg{d})

		return d
	}

	a, t := g.indexAddr(e)

	d := g.reg()
	g.emit(ir.Load{Dst: d, Type: lower(t), Addr: a})

	return d
}

func (g *gen) callExpr(e *ast.Call, wantValue bool) ir.Reg {
	if id, ok := e.Fn.(*ast.Ident); ok && id.Name == "len" {
		return g.lenExpr(e)
	}

	name, extern, nres, ok := g.resolve(e)
	if !ok {
		q, _ := ast.QualName(e.Fn)
		g.errAt(e.Pos, diag.UnknownExternal, "unknown external function %v", q)

		r := g.reg()
		g.emit(ir.Imm{Dst: r, Type: tp.I32, Val: 0})

		return r
	}

	if e.Audit {
		s := g.reg()
		g.emit(ir.SImm{Dst: s, Str: g.intern(e.AuditOp)})
		g.callExt("sl_audit_log", []ir.Reg{s}, nil)
	}

	var args []ir.Reg
	for _, a := range e.Args {
		args = append(args, g.expr(a))
	}

	var dsts []ir.Reg
	if wantValue {
		for i := 0; i < nres; i++ {
			dsts = append(dsts, g.reg())
		}
	}

	if extern {
		g.declareExtern(name)
	}

	g.emit(ir.Call{Dsts: dsts, Func: name, Args: args, Extern: extern})

	switch {
	case len(dsts) == 0:
		return -1
	case len(dsts) == 1:
		return dsts[0]
	}

	r := g.reg()
	g.emit(ir.MakeTuple{Dst: r, Type: lower(e.T), Elems: dsts})

	return r
}

// resolve maps a call target to its ir function name. Builtins and
// from-imported names map to their runtime symbols.
func (g *gen) resolve(e *ast.Call) (name string, extern bool, nres int, ok bool) {
	switch fn := e.Fn.(type) {
	case *ast.Ident:
		if f, found := g.info.Funcs[fn.Name]; found {
			return fn.Name, false, len(f.Sig.Results), true
		}

		if q, found := g.info.Bound[fn.Name]; found {
			if sig, found := g.ext.Lookup(q); found {
				return q, true, len(sig.Results), true
			}

			return "", false, 0, false
		}

		if q, found := abi.Builtins[fn.Name]; found {
			if sig, found := g.ext.Lookup(q); found {
				return q, true, len(sig.Results), true
			}
		}
	case *ast.Member:
		q, _ := ast.QualName(fn)

		if sig, found := g.ext.Lookup(q); found {
			return q, true, len(sig.Results), true
		}
	}

	return "", false, 0, false
}

func (g *gen) lenExpr(e *ast.Call) ir.Reg {
	arg := e.Args[0]

	switch t := arg.Type().(type) {
	case tp.Array:
		r := g.reg()
		g.emit(ir.Imm{Dst: r, Type: tp.I64, Val: uint64(t.Len)})

		return r
	case tp.Slice:
		v := g.expr(arg)

		d := g.reg()
		g.callExt("sl_slice_len", []ir.Reg{v}, []ir.Reg{d})

		return d
	}

	v := g.expr(arg)

	d := g.reg()
	g.callExt("sl_string_len", []ir.Reg{v}, []ir.Reg{d})

	return d
}

// tryChain lowers to a clause ladder merging through one slot. Each
// clause runs only if every earlier one failed; the fallback value is
// stored unconditionally.
func (g *gen) tryChain(e *ast.TryChain) ir.Reg {
	t := e.T
	lt := lower(t)

	if !tp.CarriesStatus(t) {
		// no status to test, see the checker warning
		return g.expr(e.Primary)
	}

	slot := g.reg()
	g.emit(ir.Alloc{Dst: slot, Type: lt})

	done := g.label()

	clauses := make([]ast.Expr, 0, 1+len(e.Secondaries))
	clauses = append(clauses, e.Primary)
	clauses = append(clauses, e.Secondaries...)

	for _, cl := range clauses {
		v := g.expr(cl)
		st := g.statusOf(v, cl.Type())

		zero := g.reg()
		g.emit(ir.Imm{Dst: zero, Type: tp.Status, Val: 0})

		c := g.reg()
		g.emit(ir.Cmp{Dst: c, Cond: "==", Type: tp.Status, L: st, R: zero})

		store, next := g.label(), g.label()
		g.emit(ir.BCond{Cond: c, To: store, Else: next})

		g.start(store)
		g.emit(ir.Store{Addr: slot, Type: lt, Val: v})
		g.emit(ir.B{To: done})

		g.start(next)
	}

	fb := g.expr(e.Fallback)
	g.emit(ir.Store{Addr: slot, Type: lt, Val: fb})
	g.br(done)

	g.start(done)

	d := g.reg()
	g.emit(ir.Load{Dst: d, Type: lt, Addr: slot})

	return d
}

// statusOf extracts the status of a clause value: the value itself for
// a bare status, the first element for tuples and results.
func (g *gen) statusOf(v ir.Reg, t tp.Type) ir.Reg {
	switch t.(type) {
	case tp.Prim:
		return v
	case tp.Tuple, tp.Result:
		d := g.reg()
		g.emit(ir.TupleGet{Dst: d, Type: tp.Status, Tuple: v, Index: 0})

		return d
	}

	panic(t)
}

func (g *gen) callExt(name string, args, dsts []ir.Reg) {
	g.declareExtern(name)
	g.emit(ir.Call{Dsts: dsts, Func: name, Args: args, Extern: true})
}

func (g *gen) declareExtern(name string) {
	if g.externs[name] {
		return
	}

	g.externs[name] = true

	sig, ok := g.ext.Lookup(name)
	if !ok {
		panic(name)
	}

	g.m.Externs = append(g.m.Externs, ir.Extern{Name: name, Params: lowerList(sig.Params), Results: lowerList(sig.Results)})
}

func binOp(k token.Kind) ir.Op {
	switch k {
	case token.Add:
		return ir.Add
	case token.Sub:
		return ir.Sub
	case token.Mul:
		return ir.Mul
	case token.Div:
		return ir.Div
	case token.Mod:
		return ir.Mod
	case token.Pow:
		return ir.Pow
	case token.Amp:
		return ir.And
	case token.Pipe:
		return ir.Or
	case token.Caret:
		return ir.Xor
	case token.Shl:
		return ir.Shl
	case token.Shr:
		return ir.Shr
	}

	panic(k)
}

func constIdx(e ast.Expr) (int64, bool) {
	switch x := e.(type) {
	case *ast.Literal:
		if x.Kind == ast.IntLit {
			return int64(x.Int), true
		}
	case *ast.Unary:
		if x.Op == token.Sub {
			if v, ok := constIdx(x.X); ok {
				return -v, true
			}
		}
	}

	return 0, false
}
