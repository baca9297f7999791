// Package gen lowers the checked tree to ir. Lowering is slot based:
// bindings and control-flow merges go through stack slots, so the
// output needs no phi nodes. Statements emitted after a terminator
// land in unreachable blocks, which are swept before the module is
// verified.
package gen

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slatelang/slate/compiler/abi"
	"github.com/slatelang/slate/compiler/analyze"
	"github.com/slatelang/slate/compiler/ast"
	"github.com/slatelang/slate/compiler/diag"
	"github.com/slatelang/slate/compiler/ir"
	"github.com/slatelang/slate/compiler/token"
	"github.com/slatelang/slate/compiler/tp"
)

type (
	gen struct {
		ext  *abi.Table
		info *analyze.Info

		m *ir.Module

		strings map[string]int
		externs map[string]bool

		f         *ir.Func
		blk       *ir.Block
		nextLabel int

		results []tp.Type // source result types of the current function

		sc     *scope
		defers []deferred
		loops  []loopCtx

		ds []diag.Diagnostic
		tr tlog.Span
	}

	binding struct {
		slot ir.Reg
		t    tp.Type
	}

	scope struct {
		par *scope
		m   map[string]binding
	}

	loopCtx struct {
		brk  ir.Label
		cont ir.Label
	}

	// deferred keeps the registration scope: names resolve as they did
	// at the defer statement, not at the return.
	deferred struct {
		s  ast.Stmt
		sc *scope
	}
)

// Generate lowers m to an ir module. ext must be the table the checker
// ran with. target is exe, dll or driver; only exe requires a main
// function.
func Generate(ctx context.Context, m *ast.Module, info *analyze.Info, ext *abi.Table, target string) (im *ir.Module, ds []diag.Diagnostic) {
	tr := tlog.SpawnFromContext(ctx, "gen", "module", m.Name, "target", target)
	defer func() {
		tr.Finish("funcs", len(im.Funcs), "diags", len(ds))
	}()

	if ext == nil {
		ext = abi.Default()
	}

	name := m.Name
	if name == "" {
		name = "main"
	}

	g := &gen{
		ext:     ext,
		info:    info,
		m:       &ir.Module{Name: name, Target: target},
		strings: map[string]int{},
		externs: map[string]bool{},
		tr:      tr,
	}

	g.metadata(m)

	if target == "exe" {
		g.checkMain()
	}

	for _, fn := range m.Funcs {
		g.function(fn)
	}

	err := ir.Verify(g.m)
	if err != nil {
		g.ds = append(g.ds, diag.Errorf(diag.Codegen, diag.InternalInvariantViolation, 1, 1, "generated ir does not verify: %v", err))
	}

	return g.m, g.ds
}

// metadata collects service and hook declarations for the runtime.
func (g *gen) metadata(m *ast.Module) {
	for _, fn := range m.Funcs {
		if d := fn.Decorator("service"); d != nil {
			if a := d.Arg("name"); a != nil {
				g.m.Services = append(g.m.Services, ir.Service{Name: a.Str, Func: fn.Name})
			}
		}

		if d := fn.Decorator("hook"); d != nil {
			if a := d.Arg("event"); a != nil {
				g.m.Hooks = append(g.m.Hooks, ir.Hook{Event: a.Str, Func: fn.Name})
			}
		}
	}
}

func (g *gen) checkMain() {
	fn, ok := g.info.Funcs["main"]
	if !ok {
		g.errAt(ast.Pos{Line: 1, Col: 1}, diag.UndefinedSymbol, "target exe requires a main function")
		return
	}

	d := fn.Decl

	if len(d.Params) != 0 {
		g.errAt(d.Pos, diag.OperandMismatch, "main takes no parameters")
	}

	switch {
	case len(d.Results) == 0:
	case len(d.Results) == 1 && (tp.Equal(d.Results[0], tp.Status) || tp.Equal(d.Results[0], tp.I32)):
	default:
		g.errAt(d.Pos, diag.OperandMismatch, "main must return nothing or a status")
	}
}

func (g *gen) function(fn *ast.FuncDecl) {
	tr := g.tr.V("func")
	tr.Printw("lower function", "name", fn.Name)

	f := &ir.Func{Name: fn.Name, Results: lowerList(fn.Results)}

	g.f = f
	g.blk = nil
	g.nextLabel = 0
	g.results = fn.Results
	g.sc = &scope{m: map[string]binding{}}
	g.defers = nil
	g.loops = nil

	g.start(g.label())

	for _, p := range fn.Params {
		f.Params = append(f.Params, ir.Param{Name: p.Name, Type: lower(p.Type), Reg: g.reg()})
	}

	// params are copied into slots so loads stay uniform
	for i, p := range fn.Params {
		slot := g.reg()
		g.emit(ir.Alloc{Dst: slot, Type: lower(p.Type)})
		g.emit(ir.Store{Addr: slot, Type: lower(p.Type), Val: f.Params[i].Reg})
		g.bind(p.Name, slot, p.Type)
	}

	if d := fn.Decorator("resilient"); d != nil {
		f.Resilient = resilience(d)
	}

	g.block(fn.Body)

	if !g.sealed() {
		g.emitDefers()
		g.emit(ir.Ret{Vals: g.zeroResults(fn.Results)})
	}

	if tr.If("sweep") {
		tr.Printw("reachability", "func", fn.Name, "blocks", len(f.Blocks), "reachable", ir.Reachable(f))
	}

	removed := ir.SweepUnreachable(f)
	if removed != 0 {
		tr.Printw("swept unreachable blocks", "func", fn.Name, "removed", removed)
	}

	g.m.Funcs = append(g.m.Funcs, f)
}

func resilience(d *ast.Decorator) *ir.Resilience {
	r := &ir.Resilience{MaxAttempts: 3, Backoff: "none"}

	if a := d.Arg("max_attempts"); a != nil {
		r.MaxAttempts = int(a.Int)
	}

	if a := d.Arg("timeout"); a != nil {
		r.TimeoutMs = int(a.Int)
	}

	if a := d.Arg("backoff"); a != nil {
		r.Backoff = a.Str
	}

	return r
}

func (g *gen) block(b *ast.Block) {
	g.sc = &scope{par: g.sc, m: map[string]binding{}}

	for _, s := range b.Stmts {
		g.stmt(s)
	}

	g.sc = g.sc.par
}

func (g *gen) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.VarDecl:
		g.varDecl(s)
	case *ast.Assign:
		g.assign(s)
	case *ast.If:
		g.ifStmt(s)
	case *ast.While:
		g.while(s)
	case *ast.For:
		g.forStmt(s)
	case *ast.Match:
		g.match(s)
	case *ast.Return:
		g.ret(s)
	case *ast.ExprStmt:
		if c, ok := s.X.(*ast.Call); ok {
			g.callExpr(c, false)
			return
		}

		g.expr(s.X)
	case *ast.DeferStmt:
		g.defers = append(g.defers, deferred{s: s.X, sc: g.sc})
	case *ast.BreakStmt:
		g.emit(ir.B{To: g.loops[len(g.loops)-1].brk})
	case *ast.ContinueStmt:
		g.emit(ir.B{To: g.loops[len(g.loops)-1].cont})
	case *ast.PassStmt:
	default:
		panic(s)
	}
}

func (g *gen) varDecl(d *ast.VarDecl) {
	t := lower(d.T)

	slot := g.reg()
	g.emit(ir.Alloc{Dst: slot, Type: t})

	if d.Init != nil {
		v := g.expr(d.Init)
		g.emit(ir.Store{Addr: slot, Type: t, Val: v})
	}

	g.bind(d.Name, slot, d.T)
}

func (g *gen) assign(s *ast.Assign) {
	addr, t := g.addr(s.LHS)
	lt := lower(t)

	if s.Op == token.Assign {
		v := g.expr(s.RHS)
		g.emit(ir.Store{Addr: addr, Type: lt, Val: v})

		return
	}

	cur := g.reg()
	g.emit(ir.Load{Dst: cur, Type: lt, Addr: addr})

	r := g.expr(s.RHS)

	v := g.reg()
	g.emit(ir.Bin{Dst: v, Op: compoundOp(s.Op), Type: lt, L: cur, R: r})

	g.emit(ir.Store{Addr: addr, Type: lt, Val: v})
}

func (g *gen) ifStmt(s *ast.If) {
	type arm struct {
		cond ast.Expr
		body *ast.Block
	}

	arms := make([]arm, 0, 1+len(s.Elifs))
	arms = append(arms, arm{s.Cond, s.Then})

	for _, e := range s.Elifs {
		arms = append(arms, arm{e.Cond, e.Then})
	}

	end := g.label()

	for _, a := range arms {
		body, next := g.label(), g.label()

		c := g.expr(a.cond)
		g.emit(ir.BCond{Cond: c, To: body, Else: next})

		g.start(body)
		g.block(a.body)
		g.br(end)

		g.start(next)
	}

	if s.Else != nil {
		g.block(s.Else)
	}

	g.br(end)
	g.start(end)
}

func (g *gen) while(s *ast.While) {
	cond, body, end := g.label(), g.label(), g.label()

	g.br(cond)
	g.start(cond)

	c := g.expr(s.Cond)
	g.emit(ir.BCond{Cond: c, To: body, Else: end})

	g.start(body)

	g.loops = append(g.loops, loopCtx{brk: end, cont: cond})
	g.block(s.Body)
	g.loops = g.loops[:len(g.loops)-1]

	g.br(cond)
	g.start(end)
}

// forStmt lowers a counted loop. The bound is evaluated once, before
// the first iteration; continue jumps to the increment.
func (g *gen) forStmt(s *ast.For) {
	vt := s.From.Type()
	lt := lower(vt)

	from := g.expr(s.From)
	to := g.expr(s.To)

	slot := g.reg()
	g.emit(ir.Alloc{Dst: slot, Type: lt})
	g.emit(ir.Store{Addr: slot, Type: lt, Val: from})

	cond, body, incr, end := g.label(), g.label(), g.label(), g.label()

	g.br(cond)
	g.start(cond)

	i := g.reg()
	g.emit(ir.Load{Dst: i, Type: lt, Addr: slot})

	c := g.reg()
	g.emit(ir.Cmp{Dst: c, Cond: "<", Type: lt, L: i, R: to})
	g.emit(ir.BCond{Cond: c, To: body, Else: end})

	g.start(body)

	g.sc = &scope{par: g.sc, m: map[string]binding{}}
	g.bind(s.Var, slot, vt)

	g.loops = append(g.loops, loopCtx{brk: end, cont: incr})
	g.block(s.Body)
	g.loops = g.loops[:len(g.loops)-1]

	g.sc = g.sc.par

	g.br(incr)
	g.start(incr)

	cur := g.reg()
	g.emit(ir.Load{Dst: cur, Type: lt, Addr: slot})

	one := g.reg()
	g.emit(ir.Imm{Dst: one, Type: lt, Val: 1})

	next := g.reg()
	g.emit(ir.Bin{Dst: next, Op: ir.Add, Type: lt, L: cur, R: one})
	g.emit(ir.Store{Addr: slot, Type: lt, Val: next})

	g.emit(ir.B{To: cond})
	g.start(end)
}

// match lowers to a ladder of compare blocks. Ranges are inclusive on
// both ends.
func (g *gen) match(s *ast.Match) {
	st := s.Subject.Type()
	lt := lower(st)

	subj := g.expr(s.Subject)

	end := g.label()

	for _, cs := range s.Cases {
		if cs.Wild {
			g.block(cs.Body)
			g.br(end)

			break
		}

		body, next := g.label(), g.label()

		if cs.Hi == nil {
			v := g.caseVal(cs.Lo, lt)

			c := g.reg()
			g.emit(ir.Cmp{Dst: c, Cond: "==", Type: lt, L: subj, R: v})
			g.emit(ir.BCond{Cond: c, To: body, Else: next})
		} else {
			lo := g.caseVal(cs.Lo, lt)

			c1 := g.reg()
			g.emit(ir.Cmp{Dst: c1, Cond: ">=", Type: lt, L: subj, R: lo})

			mid := g.label()
			g.emit(ir.BCond{Cond: c1, To: mid, Else: next})
			g.start(mid)

			hi := g.caseVal(cs.Hi, lt)

			c2 := g.reg()
			g.emit(ir.Cmp{Dst: c2, Cond: "<=", Type: lt, L: subj, R: hi})
			g.emit(ir.BCond{Cond: c2, To: body, Else: next})
		}

		g.start(body)
		g.block(cs.Body)
		g.br(end)

		g.start(next)
	}

	g.br(end)
	g.start(end)
}

func (g *gen) caseVal(l *ast.Literal, t tp.Type) ir.Reg {
	r := g.reg()
	g.emit(ir.Imm{Dst: r, Type: t, Val: l.Int})

	return r
}

func (g *gen) ret(s *ast.Return) {
	var vals []ir.Reg

	switch {
	case len(s.Vals) == 0:
	case len(s.Vals) == 1 && len(g.results) > 1:
		// a tuple value satisfying a multi-value result is unpacked
		tup := g.expr(s.Vals[0])

		for i, rt := range g.results {
			d := g.reg()
			g.emit(ir.TupleGet{Dst: d, Type: lower(rt), Tuple: tup, Index: i})
			vals = append(vals, d)
		}
	default:
		for _, v := range s.Vals {
			vals = append(vals, g.expr(v))
		}
	}

	g.emitDefers()
	g.emit(ir.Ret{Vals: vals})
}

// emitDefers lowers registered defers in reverse order before a
// return. Each runs on the scope it was registered in.
func (g *gen) emitDefers() {
	save := g.sc

	for i := len(g.defers) - 1; i >= 0; i-- {
		d := g.defers[i]

		g.sc = d.sc
		g.stmt(d.s)
	}

	g.sc = save
}

func (g *gen) zeroResults(results []tp.Type) []ir.Reg {
	var vals []ir.Reg

	for _, t := range results {
		vals = append(vals, g.zero(t))
	}

	return vals
}

// zero materializes the zero value of t. Aggregates go through a fresh
// slot, which is zero initialized by definition.
func (g *gen) zero(t tp.Type) ir.Reg {
	switch x := t.(type) {
	case tp.Prim:
		r := g.reg()

		switch x {
		case tp.F32, tp.F64:
			g.emit(ir.FImm{Dst: r, Type: x, Val: 0})
		case tp.String:
			g.emit(ir.SImm{Dst: r, Str: g.intern("")})
		default:
			g.emit(ir.Imm{Dst: r, Type: x, Val: 0})
		}

		return r
	case tp.Ptr:
		r := g.reg()
		g.emit(ir.Imm{Dst: r, Type: x, Val: 0})

		return r
	case tp.Tuple:
		var es []ir.Reg
		for _, e := range x.Elems {
			es = append(es, g.zero(e))
		}

		r := g.reg()
		g.emit(ir.MakeTuple{Dst: r, Type: lower(x), Elems: es})

		return r
	case tp.Result:
		return g.zero(lower(x))
	}

	slot := g.reg()
	g.emit(ir.Alloc{Dst: slot, Type: lower(t)})

	r := g.reg()
	g.emit(ir.Load{Dst: r, Type: lower(t), Addr: slot})

	return r
}

func (g *gen) bind(name string, slot ir.Reg, t tp.Type) {
	g.sc.m[name] = binding{slot: slot, t: t}
}

func (g *gen) lookup(name string) (binding, bool) {
	for sc := g.sc; sc != nil; sc = sc.par {
		if b, ok := sc.m[name]; ok {
			return b, true
		}
	}

	return binding{}, false
}

func (g *gen) reg() ir.Reg {
	r := ir.Reg(g.f.NRegs)
	g.f.NRegs++

	return r
}

func (g *gen) label() ir.Label {
	l := ir.Label(g.nextLabel)
	g.nextLabel++

	return l
}

func (g *gen) start(l ir.Label) {
	b := &ir.Block{Label: l}
	g.f.Blocks = append(g.f.Blocks, b)
	g.blk = b
}

func (g *gen) sealed() bool {
	n := len(g.blk.Code)
	return n != 0 && ir.Terminator(g.blk.Code[n-1])
}

// emit appends to the current block. Code after a terminator goes to a
// fresh block, which ends up unreachable and is swept.
func (g *gen) emit(x any) {
	if g.sealed() {
		g.start(g.label())
	}

	g.blk.Code = append(g.blk.Code, x)
}

// br branches to l unless the block already ended.
func (g *gen) br(l ir.Label) {
	if g.sealed() {
		return
	}

	g.blk.Code = append(g.blk.Code, ir.B{To: l})
}

func (g *gen) intern(s string) int {
	if i, ok := g.strings[s]; ok {
		return i
	}

	i := len(g.m.Strings)
	g.m.Strings = append(g.m.Strings, s)
	g.strings[s] = i

	return i
}

func (g *gen) errAt(p ast.Pos, code diag.Code, f string, args ...any) {
	g.ds = append(g.ds, diag.Errorf(diag.Codegen, code, p.Line, p.Col, f, args...))
}

// lower maps source types to their ir representation:
// result[T] is a (status, T) tuple.
func lower(t tp.Type) tp.Type {
	switch x := t.(type) {
	case tp.Result:
		return tp.Tuple{Elems: []tp.Type{tp.Status, lower(x.Inner)}}
	case tp.Tuple:
		es := make([]tp.Type, len(x.Elems))
		for i, e := range x.Elems {
			es[i] = lower(e)
		}

		return tp.Tuple{Elems: es}
	case tp.Array:
		return tp.Array{Elem: lower(x.Elem), Len: x.Len}
	case tp.Slice:
		return tp.Slice{Elem: lower(x.Elem)}
	case tp.Ptr:
		return tp.Ptr{Elem: lower(x.Elem)}
	}

	return t
}

func lowerList(ts []tp.Type) []tp.Type {
	if ts == nil {
		return nil
	}

	r := make([]tp.Type, len(ts))
	for i, t := range ts {
		r[i] = lower(t)
	}

	return r
}

func compoundOp(k token.Kind) ir.Op {
	switch k {
	case token.AddAssign:
		return ir.Add
	case token.SubAssign:
		return ir.Sub
	case token.MulAssign:
		return ir.Mul
	case token.DivAssign:
		return ir.Div
	case token.ModAssign:
		return ir.Mod
	}

	panic(k)
}
