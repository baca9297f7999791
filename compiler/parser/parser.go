// Package parser turns the token stream into an ast.Module.
//
// It is a recursive-descent parser with one token of lookahead and
// precedence climbing for binary expressions. On a malformed statement it
// reports a diagnostic, skips to the next line at the same nesting level
// and goes on, so one run collects every independent error.
package parser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slatelang/slate/compiler/ast"
	"github.com/slatelang/slate/compiler/diag"
	"github.com/slatelang/slate/compiler/token"
	"github.com/slatelang/slate/compiler/tp"
)

type (
	parser struct {
		toks []token.Token
		i    int

		depth int // block nesting inside the current function
		loops int // enclosing loop count

		ds []diag.Diagnostic

		tr tlog.Span
	}

	parseError struct {
		Code diag.Code
		Line int
		Col  int
		Msg  string
	}
)

func (e *parseError) Error() string { return e.Msg }

// Parse consumes the whole token stream and builds the module. The
// module is usable even when diagnostics were produced; declarations
// that failed to parse are simply absent.
func Parse(ctx context.Context, toks []token.Token) (m *ast.Module, ds []diag.Diagnostic) {
	tr := tlog.SpawnFromContext(ctx, "parse", "tokens", len(toks))
	defer func() {
		tr.Finish("funcs", len(m.Funcs), "diags", len(ds))
	}()

	if len(toks) == 0 || toks[len(toks)-1].Kind != token.EOF {
		toks = append(toks, token.Token{Kind: token.EOF, Line: 1, Col: 1})
	}

	p := &parser{toks: toks, tr: tr}

	m = p.module()

	return m, p.ds
}

func (p *parser) module() *ast.Module {
	m := &ast.Module{Pos: pos(p.cur())}

	p.skipNewlines()

	// leading decorators bind by kind: safety_level configures the unit,
	// anything else waits for the first function
	var pending []*ast.Decorator

	for p.at(token.At) {
		d, err := p.decorator()
		if err != nil {
			p.report(err)
			p.sync()

			continue
		}

		if d == nil {
			continue
		}

		if registry[d.Name].module {
			m.Decorators = append(m.Decorators, d)
		} else {
			pending = append(pending, d)
		}

		p.skipNewlines()
	}

	if p.at(token.Module) {
		if len(pending) != 0 {
			p.report(p.errAt(pending[0].Pos, diag.MalformedDecorator, "decorator @%v applies to functions, not the module", pending[0].Name))
			pending = nil
		}

		p.moduleDecl(m)
	}

	for p.at(token.Import) || p.at(token.From) {
		if len(pending) != 0 {
			p.report(p.errAt(pending[0].Pos, diag.MalformedDecorator, "decorator @%v applies to functions, not imports", pending[0].Name))
			pending = nil
		}

		im, err := p.importStmt()
		if err != nil {
			p.report(err)
			p.sync()

			continue
		}

		m.Imports = append(m.Imports, im)
		p.skipNewlines()
	}

	for !p.at(token.EOF) {
		p.skipNewlines()

		if p.at(token.EOF) {
			break
		}

		decos := pending
		pending = nil

		bad := false

		for p.at(token.At) {
			d, err := p.decorator()
			if err != nil {
				p.report(err)
				p.sync()

				bad = true

				continue
			}

			if d != nil {
				decos = append(decos, d)
			}

			p.skipNewlines()
		}

		if bad && !p.at(token.Func) {
			continue
		}

		switch {
		case p.at(token.Func):
			fn, err := p.funcDecl(decos)
			if err != nil {
				p.report(err)
				p.syncDecl()

				continue
			}

			m.Funcs = append(m.Funcs, fn)
		case p.cur().Kind.IsReserved():
			p.report(p.unexpected(token.Func))
			p.syncDecl()
		default:
			p.report(p.unexpected(token.Func))
			p.syncDecl()
		}
	}

	return m
}

func (p *parser) moduleDecl(m *ast.Module) {
	p.adv() // module

	path, err := p.dottedName()
	if err != nil {
		p.report(err)
		p.sync()

		return
	}

	m.Name = path

	if err = p.endLine(); err != nil {
		p.report(err)
		p.sync()
	}
}

func (p *parser) importStmt() (im *ast.Import, err error) {
	t := p.cur()

	if p.eat(token.Import) {
		path, err := p.dottedName()
		if err != nil {
			return nil, err
		}

		if err = p.endLine(); err != nil {
			return nil, err
		}

		return &ast.Import{Pos: pos(t), Path: path}, nil
	}

	p.adv() // from

	path, err := p.dottedName()
	if err != nil {
		return nil, err
	}

	if _, err = p.expect(token.Import); err != nil {
		return nil, err
	}

	im = &ast.Import{Pos: pos(t), Path: path}

	for {
		n, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}

		im.Names = append(im.Names, n.Lexeme)

		if !p.eat(token.Comma) {
			break
		}
	}

	if err = p.endLine(); err != nil {
		return nil, err
	}

	return im, nil
}

func (p *parser) dottedName() (string, error) {
	var b strings.Builder

	n, err := p.expect(token.Ident)
	if err != nil {
		return "", err
	}

	b.WriteString(n.Lexeme)

	for p.eat(token.Dot) {
		n, err = p.expect(token.Ident)
		if err != nil {
			return "", err
		}

		b.WriteString(".")
		b.WriteString(n.Lexeme)
	}

	return b.String(), nil
}

func (p *parser) funcDecl(decos []*ast.Decorator) (fn *ast.FuncDecl, err error) {
	t := p.cur()
	p.adv() // func

	name, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}

	fn = &ast.FuncDecl{Pos: pos(t), Decorators: decos, Name: name.Lexeme}

	if _, err = p.expect(token.LParen); err != nil {
		return nil, err
	}

	for !p.at(token.RParen) {
		pn, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}

		if _, err = p.expect(token.Colon); err != nil {
			return nil, err
		}

		pt, err := p.typ()
		if err != nil {
			return nil, err
		}

		fn.Params = append(fn.Params, &ast.Param{Pos: pos(pn), Name: pn.Lexeme, Type: pt})

		if !p.eat(token.Comma) {
			break
		}
	}

	if _, err = p.expect(token.RParen); err != nil {
		return nil, err
	}

	if p.eat(token.Arrow) {
		fn.Results, err = p.results()
		if err != nil {
			return nil, err
		}
	}

	if _, err = p.expect(token.Colon); err != nil {
		return nil, err
	}

	fn.Body, err = p.block()
	if err != nil {
		return nil, err
	}

	return fn, nil
}

// results parses the return type list: a single type, or a
// parenthesized list for multi-return.
func (p *parser) results() ([]tp.Type, error) {
	if !p.at(token.LParen) {
		t, err := p.typ()
		if err != nil {
			return nil, err
		}

		return []tp.Type{t}, nil
	}

	p.adv() // (

	var rs []tp.Type

	for {
		t, err := p.typ()
		if err != nil {
			return nil, err
		}

		rs = append(rs, t)

		if !p.eat(token.Comma) {
			break
		}
	}

	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}

	return rs, nil
}

func (p *parser) typ() (tp.Type, error) {
	t := p.cur()

	switch t.Kind {
	case token.I8:
		p.adv()
		return tp.I8, nil
	case token.I16:
		p.adv()
		return tp.I16, nil
	case token.I32:
		p.adv()
		return tp.I32, nil
	case token.I64:
		p.adv()
		return tp.I64, nil
	case token.U8:
		p.adv()
		return tp.U8, nil
	case token.U16:
		p.adv()
		return tp.U16, nil
	case token.U32:
		p.adv()
		return tp.U32, nil
	case token.U64:
		p.adv()
		return tp.U64, nil
	case token.F32:
		p.adv()
		return tp.F32, nil
	case token.F64:
		p.adv()
		return tp.F64, nil
	case token.Bool:
		p.adv()
		return tp.Bool, nil
	case token.StringType:
		p.adv()
		return tp.String, nil
	case token.CharType:
		p.adv()
		return tp.Char, nil
	case token.Status:
		p.adv()
		return tp.Status, nil
	case token.Handle:
		p.adv()
		return tp.Handle, nil
	case token.Void:
		p.adv()
		return tp.Void{}, nil
	case token.Ptr:
		p.adv()

		el, err := p.bracketType()
		if err != nil {
			return nil, err
		}

		return tp.Ptr{Elem: el}, nil
	case token.Slice:
		p.adv()

		el, err := p.bracketType()
		if err != nil {
			return nil, err
		}

		return tp.Slice{Elem: el}, nil
	case token.Result:
		p.adv()

		el, err := p.bracketType()
		if err != nil {
			return nil, err
		}

		return tp.Result{Inner: el}, nil
	case token.Array:
		p.adv()

		if _, err := p.expect(token.LBracket); err != nil {
			return nil, err
		}

		el, err := p.typ()
		if err != nil {
			return nil, err
		}

		if _, err = p.expect(token.Comma); err != nil {
			return nil, err
		}

		sz, err := p.expect(token.Int)
		if err != nil {
			return nil, err
		}

		n, err := parseInt(sz.Lexeme)
		if err != nil || n == 0 {
			return nil, p.errAt(pos(sz), diag.UnexpectedToken, "array size must be a positive integer literal")
		}

		if _, err := p.expect(token.RBracket); err != nil {
			return nil, err
		}

		return tp.Array{Elem: el, Len: int(n)}, nil
	case token.TupleType:
		p.adv()

		if _, err := p.expect(token.LParen); err != nil {
			return nil, err
		}

		var els []tp.Type

		for {
			el, err := p.typ()
			if err != nil {
				return nil, err
			}

			els = append(els, el)

			if !p.eat(token.Comma) {
				break
			}
		}

		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}

		return tp.Tuple{Elems: els}, nil
	case token.LParen:
		p.adv()

		var els []tp.Type

		for {
			el, err := p.typ()
			if err != nil {
				return nil, err
			}

			els = append(els, el)

			if !p.eat(token.Comma) {
				break
			}
		}

		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}

		if len(els) == 1 {
			return els[0], nil
		}

		return tp.Tuple{Elems: els}, nil
	}

	return nil, p.errAt(pos(t), diag.UnexpectedToken, "expected type, found %v", t)
}

func (p *parser) bracketType() (tp.Type, error) {
	if _, err := p.expect(token.LBracket); err != nil {
		return nil, err
	}

	el, err := p.typ()
	if err != nil {
		return nil, err
	}

	if _, err = p.expect(token.RBracket); err != nil {
		return nil, err
	}

	return el, nil
}

// block parses NEWLINE INDENT statement+ DEDENT.
func (p *parser) block() (*ast.Block, error) {
	if err := p.endLine(); err != nil {
		return nil, err
	}

	ind, err := p.expect(token.Indent)
	if err != nil {
		return nil, err
	}

	b := &ast.Block{Pos: pos(ind)}

	p.depth++

	for !p.at(token.Dedent) && !p.at(token.EOF) {
		s, err := p.stmt()
		if err != nil {
			p.report(err)
			p.sync()

			continue
		}

		b.Stmts = append(b.Stmts, s)
	}

	p.depth--

	p.eat(token.Dedent)

	return b, nil
}

func (p *parser) stmt() (ast.Stmt, error) {
	t := p.cur()

	switch t.Kind {
	case token.Return:
		p.adv()

		r := &ast.Return{Pos: pos(t)}

		if !p.at(token.Newline) && !p.at(token.Dedent) && !p.at(token.EOF) {
			for {
				v, err := p.expr()
				if err != nil {
					return nil, err
				}

				r.Vals = append(r.Vals, v)

				if !p.eat(token.Comma) {
					break
				}
			}
		}

		if err := p.endLine(); err != nil {
			return nil, err
		}

		return r, nil
	case token.If:
		return p.ifStmt()
	case token.While:
		return p.whileStmt()
	case token.For:
		return p.forStmt()
	case token.Match:
		return p.matchStmt()
	case token.Pass:
		p.adv()

		if err := p.endLine(); err != nil {
			return nil, err
		}

		return &ast.PassStmt{Pos: pos(t)}, nil
	case token.Break:
		p.adv()

		if p.loops == 0 {
			return nil, p.errAt(pos(t), diag.UnexpectedToken, "break outside a loop")
		}

		if err := p.endLine(); err != nil {
			return nil, err
		}

		return &ast.BreakStmt{Pos: pos(t)}, nil
	case token.Continue:
		p.adv()

		if p.loops == 0 {
			return nil, p.errAt(pos(t), diag.UnexpectedToken, "continue outside a loop")
		}

		if err := p.endLine(); err != nil {
			return nil, err
		}

		return &ast.ContinueStmt{Pos: pos(t)}, nil
	case token.Defer:
		p.adv()

		if p.depth != 1 {
			return nil, p.errAt(pos(t), diag.UnexpectedToken, "defer is only allowed at the top level of a function body")
		}

		s, err := p.stmt()
		if err != nil {
			return nil, err
		}

		switch s.(type) {
		case *ast.ExprStmt, *ast.Assign:
		default:
			return nil, p.errAt(pos(t), diag.UnexpectedToken, "defer takes a call or an assignment")
		}

		return &ast.DeferStmt{Pos: pos(t), X: s}, nil
	case token.Let, token.Var:
		return p.varDecl()
	case token.Struct, token.Enum, token.Trait, token.Impl:
		return nil, p.errAt(pos(t), diag.UnexpectedToken, "%v declarations are reserved and not supported", t.Kind)
	}

	x, err := p.expr()
	if err != nil {
		return nil, err
	}

	switch op := p.cur().Kind; op {
	case token.Assign, token.AddAssign, token.SubAssign, token.MulAssign, token.DivAssign, token.ModAssign:
		p.adv()

		rhs, err := p.expr()
		if err != nil {
			return nil, err
		}

		if err = p.endLine(); err != nil {
			return nil, err
		}

		if !lvalue(x) {
			return nil, p.errAt(x.Position(), diag.UnexpectedToken, "cannot assign to this expression")
		}

		return &ast.Assign{Pos: pos(t), Op: op, LHS: x, RHS: rhs}, nil
	}

	if err = p.endLine(); err != nil {
		return nil, err
	}

	return &ast.ExprStmt{Pos: pos(t), X: x}, nil
}

func lvalue(x ast.Expr) bool {
	switch x := x.(type) {
	case *ast.Ident:
		return true
	case *ast.Index:
		return true
	case *ast.Member:
		return true
	case *ast.Unary:
		return x.Op == token.Mul // pointer deref
	}

	return false
}

func (p *parser) varDecl() (ast.Stmt, error) {
	t := p.cur()
	p.adv() // let | var

	name, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}

	d := &ast.VarDecl{Pos: pos(t), Mutable: t.Kind == token.Var, Name: name.Lexeme}

	if p.eat(token.Colon) {
		d.Ann, err = p.typ()
		if err != nil {
			return nil, err
		}
	}

	if p.eat(token.Assign) {
		d.Init, err = p.expr()
		if err != nil {
			return nil, err
		}
	}

	switch {
	case d.Init == nil && !d.Mutable:
		return nil, p.errAt(pos(t), diag.UnexpectedToken, "let binding requires an initializer")
	case d.Init == nil && d.Ann == nil:
		return nil, p.errAt(pos(t), diag.UnexpectedToken, "var without initializer requires a type annotation")
	}

	if err = p.endLine(); err != nil {
		return nil, err
	}

	return d, nil
}

func (p *parser) ifStmt() (ast.Stmt, error) {
	t := p.cur()
	p.adv() // if

	cond, err := p.expr()
	if err != nil {
		return nil, err
	}

	if _, err = p.expect(token.Colon); err != nil {
		return nil, err
	}

	s := &ast.If{Pos: pos(t), Cond: cond}

	s.Then, err = p.block()
	if err != nil {
		return nil, err
	}

	for p.at(token.Elif) {
		et := p.cur()
		p.adv()

		ec, err := p.expr()
		if err != nil {
			return nil, err
		}

		if _, err = p.expect(token.Colon); err != nil {
			return nil, err
		}

		eb, err := p.block()
		if err != nil {
			return nil, err
		}

		s.Elifs = append(s.Elifs, ast.ElseIf{Pos: pos(et), Cond: ec, Then: eb})
	}

	if p.eat(token.Else) {
		if _, err = p.expect(token.Colon); err != nil {
			return nil, err
		}

		s.Else, err = p.block()
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (p *parser) whileStmt() (ast.Stmt, error) {
	t := p.cur()
	p.adv() // while

	cond, err := p.expr()
	if err != nil {
		return nil, err
	}

	if _, err = p.expect(token.Colon); err != nil {
		return nil, err
	}

	p.loops++
	body, err := p.block()
	p.loops--

	if err != nil {
		return nil, err
	}

	return &ast.While{Pos: pos(t), Cond: cond, Body: body}, nil
}

// forStmt parses `for v in range(a, b)`. The one argument form counts
// from zero.
func (p *parser) forStmt() (ast.Stmt, error) {
	t := p.cur()
	p.adv() // for

	v, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}

	if _, err = p.expect(token.In); err != nil {
		return nil, err
	}

	rt := p.cur()

	rng, err := p.postfix()
	if err != nil {
		return nil, err
	}

	call, ok := rng.(*ast.Call)
	if !ok {
		return nil, p.errAt(pos(rt), diag.UnexpectedToken, "for loops iterate over range(...)")
	}

	if name, _ := ast.QualName(call.Fn); name != "range" {
		return nil, p.errAt(pos(rt), diag.UnexpectedToken, "for loops iterate over range(...)")
	}

	s := &ast.For{Pos: pos(t), Var: v.Lexeme, VarPos: pos(v)}

	switch len(call.Args) {
	case 1:
		s.From = &ast.Literal{Pos: pos(rt), Kind: ast.IntLit, Str: "0"}
		s.To = call.Args[0]
	case 2:
		s.From = call.Args[0]
		s.To = call.Args[1]
	default:
		return nil, p.errAt(pos(rt), diag.UnexpectedToken, "range takes one or two arguments, got %d", len(call.Args))
	}

	if _, err = p.expect(token.Colon); err != nil {
		return nil, err
	}

	p.loops++
	s.Body, err = p.block()
	p.loops--

	if err != nil {
		return nil, err
	}

	return s, nil
}

func (p *parser) matchStmt() (ast.Stmt, error) {
	t := p.cur()
	p.adv() // match

	subj, err := p.expr()
	if err != nil {
		return nil, err
	}

	if _, err = p.expect(token.Colon); err != nil {
		return nil, err
	}

	if err = p.endLine(); err != nil {
		return nil, err
	}

	if _, err = p.expect(token.Indent); err != nil {
		return nil, err
	}

	s := &ast.Match{Pos: pos(t), Subject: subj}

	for p.at(token.Case) {
		c, err := p.caseClause()
		if err != nil {
			p.report(err)
			p.sync()

			continue
		}

		s.Cases = append(s.Cases, c)
	}

	if !p.at(token.Dedent) && !p.at(token.EOF) {
		err = p.unexpected(token.Case, token.Dedent)
		p.report(err)
		p.sync()
	}

	p.eat(token.Dedent)

	if len(s.Cases) == 0 {
		return nil, p.errAt(pos(t), diag.UnexpectedToken, "match requires at least one case")
	}

	return s, nil
}

func (p *parser) caseClause() (*ast.Case, error) {
	t := p.cur()
	p.adv() // case

	c := &ast.Case{Pos: pos(t)}

	if p.at(token.Ident) && p.cur().Lexeme == "_" {
		p.adv()
		c.Wild = true
	} else {
		lo, err := p.caseLit()
		if err != nil {
			return nil, err
		}

		c.Lo = lo

		if p.eat(token.Range) {
			c.Hi, err = p.caseLit()
			if err != nil {
				return nil, err
			}
		}
	}

	if _, err := p.expect(token.Colon); err != nil {
		return nil, err
	}

	var err error

	c.Body, err = p.block()
	if err != nil {
		return nil, err
	}

	return c, nil
}

// caseLit parses a case pattern literal: int, char, bool, optionally
// negated int.
func (p *parser) caseLit() (*ast.Literal, error) {
	t := p.cur()

	neg := p.eat(token.Sub)

	l, err := p.literal()
	if err != nil {
		return nil, err
	}

	if !neg {
		return l, nil
	}

	if l.Kind != ast.IntLit {
		return nil, p.errAt(pos(t), diag.UnexpectedToken, "only integer patterns can be negated")
	}

	l.Pos = pos(t)
	l.Int = uint64(-int64(l.Int))
	l.Str = "-" + l.Str

	return l, nil
}

func (p *parser) literal() (*ast.Literal, error) {
	t := p.cur()

	switch t.Kind {
	case token.Int:
		p.adv()

		v, err := parseInt(t.Lexeme)
		if err != nil {
			return nil, p.errAt(pos(t), diag.UnexpectedToken, "invalid integer literal %q", t.Lexeme)
		}

		return &ast.Literal{Pos: pos(t), Kind: ast.IntLit, Str: t.Lexeme, Int: v}, nil
	case token.Float:
		p.adv()

		v, err := strconv.ParseFloat(strings.ReplaceAll(t.Lexeme, "_", ""), 64)
		if err != nil {
			return nil, p.errAt(pos(t), diag.UnexpectedToken, "invalid float literal %q", t.Lexeme)
		}

		return &ast.Literal{Pos: pos(t), Kind: ast.FloatLit, Str: t.Lexeme, Float: v}, nil
	case token.String:
		p.adv()

		return &ast.Literal{Pos: pos(t), Kind: ast.StringLit, Str: t.Lexeme}, nil
	case token.Char:
		p.adv()

		var v uint64
		if t.Lexeme != "" {
			r, _ := utf8.DecodeRuneInString(t.Lexeme)
			v = uint64(r)
		}

		return &ast.Literal{Pos: pos(t), Kind: ast.CharLit, Str: t.Lexeme, Int: v}, nil
	case token.True:
		p.adv()

		return &ast.Literal{Pos: pos(t), Kind: ast.BoolLit, Str: "true", Int: 1}, nil
	case token.False:
		p.adv()

		return &ast.Literal{Pos: pos(t), Kind: ast.BoolLit, Str: "false"}, nil
	}

	return nil, p.unexpected(token.Int, token.Float, token.String, token.Char, token.True, token.False)
}

func parseInt(lex string) (uint64, error) {
	s := strings.ReplaceAll(lex, "_", "")

	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		return strconv.ParseUint(s[2:], 16, 64)
	case strings.HasPrefix(s, "0b"), strings.HasPrefix(s, "0B"):
		return strconv.ParseUint(s[2:], 2, 64)
	}

	return strconv.ParseUint(s, 10, 64)
}

func (p *parser) expr() (ast.Expr, error) {
	return p.binary(1)
}

// binPrec returns the binding power of a binary operator, 0 for
// non-operators.
func binPrec(k token.Kind) int {
	switch k {
	case token.Or:
		return 1
	case token.And:
		return 2
	case token.Eq, token.Ne:
		return 3
	case token.Lt, token.Gt, token.Le, token.Ge:
		return 4
	case token.Pipe:
		return 5
	case token.Caret:
		return 6
	case token.Amp:
		return 7
	case token.Shl, token.Shr:
		return 8
	case token.Add, token.Sub:
		return 9
	case token.Mul, token.Div, token.Mod:
		return 10
	case token.Pow:
		return 11
	}

	return 0
}

func (p *parser) binary(min int) (ast.Expr, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}

	for {
		t := p.cur()

		prec := binPrec(t.Kind)
		if prec == 0 || prec < min {
			return l, nil
		}

		p.adv()

		next := prec + 1
		if t.Kind == token.Pow { // right-associative
			next = prec
		}

		r, err := p.binary(next)
		if err != nil {
			return nil, err
		}

		l = &ast.Binary{Pos: pos(t), Op: t.Kind, L: l, R: r}
	}
}

func (p *parser) unary() (ast.Expr, error) {
	t := p.cur()

	switch t.Kind {
	case token.Sub, token.Not, token.Tilde, token.Amp, token.Mul:
		p.adv()

		x, err := p.unary()
		if err != nil {
			return nil, err
		}

		return &ast.Unary{Pos: pos(t), Op: t.Kind, X: x}, nil
	}

	return p.postfix()
}

func (p *parser) postfix() (ast.Expr, error) {
	x, err := p.primary()
	if err != nil {
		return nil, err
	}

	for {
		t := p.cur()

		switch t.Kind {
		case token.LParen:
			p.adv()

			c := &ast.Call{Pos: pos(t), Fn: x}

			for !p.at(token.RParen) {
				a, err := p.expr()
				if err != nil {
					return nil, err
				}

				c.Args = append(c.Args, a)

				if !p.eat(token.Comma) {
					break
				}
			}

			if _, err = p.expect(token.RParen); err != nil {
				return nil, err
			}

			x = c
		case token.LBracket:
			p.adv()

			idx, err := p.expr()
			if err != nil {
				return nil, err
			}

			if _, err = p.expect(token.RBracket); err != nil {
				return nil, err
			}

			x = &ast.Index{Pos: pos(t), X: x, Idx: idx}
		case token.Dot:
			p.adv()

			n, err := p.expect(token.Ident)
			if err != nil {
				return nil, err
			}

			x = &ast.Member{Pos: pos(t), X: x, Name: n.Lexeme}
		default:
			return x, nil
		}
	}
}

func (p *parser) primary() (ast.Expr, error) {
	t := p.cur()

	switch t.Kind {
	case token.Int, token.Float, token.String, token.Char, token.True, token.False:
		return p.literal()
	case token.Ident:
		p.adv()

		return &ast.Ident{Pos: pos(t), Name: t.Lexeme}, nil
	case token.TryChain:
		return p.tryChain()
	case token.LParen:
		p.adv()

		var els []ast.Expr

		for {
			e, err := p.expr()
			if err != nil {
				return nil, err
			}

			els = append(els, e)

			if !p.eat(token.Comma) {
				break
			}
		}

		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}

		if len(els) == 1 {
			return els[0], nil
		}

		return &ast.TupleExpr{Pos: pos(t), Elems: els}, nil
	}

	return nil, p.unexpected(token.Ident, token.Int, token.LParen)
}

// tryChain parses the clause sequence. fallback is mandatory and
// terminal.
func (p *parser) tryChain() (ast.Expr, error) {
	t := p.cur()
	p.adv() // try_chain

	if _, err := p.expect(token.Colon); err != nil {
		return nil, err
	}

	if err := p.endLine(); err != nil {
		return nil, err
	}

	if _, err := p.expect(token.Indent); err != nil {
		return nil, err
	}

	c := &ast.TryChain{Pos: pos(t)}

	if _, err := p.expect(token.Primary); err != nil {
		return nil, err
	}

	var err error

	c.Primary, err = p.clauseBody()
	if err != nil {
		return nil, err
	}

	for p.at(token.Secondary) {
		p.adv()

		s, err := p.clauseBody()
		if err != nil {
			return nil, err
		}

		c.Secondaries = append(c.Secondaries, s)
	}

	if !p.at(token.Fallback) {
		return nil, p.errAt(pos(p.cur()), diag.MissingFallback, "try_chain requires a fallback clause")
	}

	p.adv()

	c.Fallback, err = p.clauseBody()
	if err != nil {
		return nil, err
	}

	switch p.cur().Kind {
	case token.Primary, token.Secondary, token.Fallback:
		return nil, p.errAt(pos(p.cur()), diag.UnexpectedToken, "fallback must be the last try_chain clause")
	}

	if _, err = p.expect(token.Dedent); err != nil {
		return nil, err
	}

	return c, nil
}

// clauseBody parses `: expr` inline or an indented single expression.
func (p *parser) clauseBody() (ast.Expr, error) {
	if _, err := p.expect(token.Colon); err != nil {
		return nil, err
	}

	if !p.at(token.Newline) {
		x, err := p.expr()
		if err != nil {
			return nil, err
		}

		if err = p.endLine(); err != nil {
			return nil, err
		}

		return x, nil
	}

	if err := p.endLine(); err != nil {
		return nil, err
	}

	if _, err := p.expect(token.Indent); err != nil {
		return nil, err
	}

	x, err := p.expr()
	if err != nil {
		return nil, err
	}

	if err = p.endLine(); err != nil {
		return nil, err
	}

	if _, err = p.expect(token.Dedent); err != nil {
		return nil, err
	}

	return x, nil
}

func pos(t token.Token) ast.Pos { return ast.Pos{Line: t.Line, Col: t.Col} }

func (p *parser) cur() token.Token { return p.toks[p.i] }

func (p *parser) at(k token.Kind) bool { return p.toks[p.i].Kind == k }

func (p *parser) adv() {
	if p.tr.If("next_token") {
		p.tr.Printw("next token", "tok", p.toks[p.i], "from", loc.Callers(1, 3))
	}

	if p.i+1 < len(p.toks) {
		p.i++
	}
}

func (p *parser) eat(k token.Kind) bool {
	if !p.at(k) {
		return false
	}

	p.adv()

	return true
}

func (p *parser) expect(k token.Kind) (token.Token, error) {
	t := p.cur()
	if t.Kind != k {
		return t, p.unexpected(k)
	}

	p.adv()

	return t, nil
}

// endLine consumes the statement-terminating NEWLINE. DEDENT and EOF
// also close a line so the last statement of a block parses cleanly.
func (p *parser) endLine() error {
	switch p.cur().Kind {
	case token.Newline:
		p.adv()
		return nil
	case token.Dedent, token.EOF:
		return nil
	}

	return p.unexpected(token.Newline)
}

func (p *parser) skipNewlines() {
	for p.at(token.Newline) {
		p.adv()
	}
}

func (p *parser) unexpected(want ...token.Kind) error {
	t := p.cur()

	var b strings.Builder

	b.WriteString("expected ")

	for i, k := range want {
		if i != 0 {
			b.WriteString(" or ")
		}

		b.WriteString(k.String())
	}

	fmt.Fprintf(&b, ", found %v", t)

	return &parseError{Code: diag.UnexpectedToken, Line: t.Line, Col: t.Col, Msg: b.String()}
}

func (p *parser) errAt(pos ast.Pos, code diag.Code, f string, args ...any) error {
	return &parseError{Code: code, Line: pos.Line, Col: pos.Col, Msg: fmt.Sprintf(f, args...)}
}

func (p *parser) report(err error) {
	e, ok := err.(*parseError)
	if !ok {
		panic(err)
	}

	p.ds = append(p.ds, diag.Errorf(diag.Parse, e.Code, e.Line, e.Col, "%v", e.Msg))
}

// sync recovers after a bad statement: skip to the start of the next
// line at the same nesting level. Nested blocks passed on the way are
// skipped whole.
func (p *parser) sync() {
	d := 0

	for {
		switch p.cur().Kind {
		case token.EOF:
			return
		case token.Indent:
			d++
		case token.Dedent:
			if d == 0 {
				return
			}

			d--
		case token.Newline:
			if d == 0 {
				p.adv()
				return
			}
		}

		p.adv()
	}
}

// syncDecl recovers at top level: skip to the next decorator or func
// at nesting depth zero.
func (p *parser) syncDecl() {
	d := 0

	for {
		switch p.cur().Kind {
		case token.EOF:
			return
		case token.Indent:
			d++
		case token.Dedent:
			if d > 0 {
				d--
			}
		case token.Func, token.At:
			if d == 0 {
				return
			}
		}

		p.adv()
	}
}
