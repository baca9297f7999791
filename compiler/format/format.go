// Package format renders the tree for inspection, one node per line
// with children indented. Resolved types trail the expressions that
// carry them, so the dump shows what the checker inferred.
package format

import (
	"fmt"
	"strings"

	"github.com/slatelang/slate/compiler/ast"
)

func Format(b []byte, m *ast.Module) []byte {
	for _, d := range m.Decorators {
		b = deco(b, 0, d)
	}

	if m.Name != "" {
		b = app(b, 0, "module %v\n", m.Name)
	}

	for _, im := range m.Imports {
		if len(im.Names) == 0 {
			b = app(b, 0, "import %v\n", im.Path)
		} else {
			b = app(b, 0, "from %v import %v\n", im.Path, strings.Join(im.Names, ", "))
		}
	}

	for i, fn := range m.Funcs {
		if i != 0 || m.Name != "" || len(m.Imports) != 0 || len(m.Decorators) != 0 {
			b = append(b, '\n')
		}

		b = function(b, fn)
	}

	return b
}

func function(b []byte, fn *ast.FuncDecl) []byte {
	for _, d := range fn.Decorators {
		b = deco(b, 0, d)
	}

	b = app(b, 0, "func %v(", fn.Name)

	for i, p := range fn.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = app(b, 0, "%v: %v", p.Name, p.Type)
	}

	b = append(b, ')')

	switch len(fn.Results) {
	case 0:
	case 1:
		b = app(b, 0, " -> %v", fn.Results[0])
	default:
		b = append(b, " -> ("...)

		for i, t := range fn.Results {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = app(b, 0, "%v", t)
		}

		b = append(b, ')')
	}

	b = append(b, '\n')

	return block(b, 1, fn.Body)
}

func deco(b []byte, d int, x *ast.Decorator) []byte {
	b = app(b, d, "@%v", x.Name)

	if len(x.Args) != 0 {
		b = append(b, '(')

		for i, a := range x.Args {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = app(b, 0, "%v: ", a.Name)
			b = lit(b, a.Value)
		}

		b = append(b, ')')
	}

	return append(b, '\n')
}

func block(b []byte, d int, x *ast.Block) []byte {
	for _, s := range x.Stmts {
		b = stmt(b, d, s)
	}

	return b
}

func stmt(b []byte, d int, s ast.Stmt) []byte {
	switch s := s.(type) {
	case *ast.VarDecl:
		kw := "let"
		if s.Mutable {
			kw = "var"
		}

		b = app(b, d, "%v %v %v\n", kw, s.Name, s.T)

		if s.Init != nil {
			b = expr(b, d+1, s.Init)
		}
	case *ast.Assign:
		b = app(b, d, "assign %v\n", s.Op)
		b = expr(b, d+1, s.LHS)
		b = expr(b, d+1, s.RHS)
	case *ast.If:
		b = app(b, d, "if\n")
		b = expr(b, d+1, s.Cond)
		b = block(b, d+1, s.Then)

		for _, e := range s.Elifs {
			b = app(b, d, "elif\n")
			b = expr(b, d+1, e.Cond)
			b = block(b, d+1, e.Then)
		}

		if s.Else != nil {
			b = app(b, d, "else\n")
			b = block(b, d+1, s.Else)
		}
	case *ast.While:
		b = app(b, d, "while\n")
		b = expr(b, d+1, s.Cond)
		b = block(b, d+1, s.Body)
	case *ast.For:
		b = app(b, d, "for %v\n", s.Var)
		b = expr(b, d+1, s.From)
		b = expr(b, d+1, s.To)
		b = block(b, d+1, s.Body)
	case *ast.Match:
		b = app(b, d, "match\n")
		b = expr(b, d+1, s.Subject)

		for _, c := range s.Cases {
			switch {
			case c.Wild:
				b = app(b, d+1, "case _\n")
			case c.Hi != nil:
				b = app(b, d+1, "case ")
				b = lit(b, c.Lo)
				b = append(b, ".."...)
				b = lit(b, c.Hi)
				b = append(b, '\n')
			default:
				b = app(b, d+1, "case ")
				b = lit(b, c.Lo)
				b = append(b, '\n')
			}

			b = block(b, d+2, c.Body)
		}
	case *ast.Return:
		b = app(b, d, "return\n")

		for _, v := range s.Vals {
			b = expr(b, d+1, v)
		}
	case *ast.ExprStmt:
		b = expr(b, d, s.X)
	case *ast.DeferStmt:
		b = app(b, d, "defer\n")
		b = stmt(b, d+1, s.X)
	case *ast.PassStmt:
		b = app(b, d, "pass\n")
	case *ast.BreakStmt:
		b = app(b, d, "break\n")
	case *ast.ContinueStmt:
		b = app(b, d, "continue\n")
	default:
		b = app(b, d, "stmt %T\n", s)
	}

	return b
}

func expr(b []byte, d int, e ast.Expr) []byte {
	switch e := e.(type) {
	case *ast.Literal:
		b = app(b, d, "lit ")
		b = lit(b, e)
		b = app(b, 0, " %v\n", e.T)
	case *ast.Ident:
		b = app(b, d, "ident %v %v\n", e.Name, e.T)
	case *ast.Binary:
		b = app(b, d, "binary %v %v\n", e.Op, e.T)
		b = expr(b, d+1, e.L)
		b = expr(b, d+1, e.R)
	case *ast.Unary:
		b = app(b, d, "unary %v %v\n", e.Op, e.T)
		b = expr(b, d+1, e.X)
	case *ast.Call:
		b = app(b, d, "call %v", target(e.Fn))

		if e.Audit {
			b = append(b, " audited"...)
		}

		b = app(b, 0, " %v\n", e.T)

		for _, a := range e.Args {
			b = expr(b, d+1, a)
		}
	case *ast.TupleExpr:
		b = app(b, d, "tuple %v\n", e.T)

		for _, x := range e.Elems {
			b = expr(b, d+1, x)
		}
	case *ast.Index:
		b = app(b, d, "index %v\n", e.T)
		b = expr(b, d+1, e.X)
		b = expr(b, d+1, e.Idx)
	case *ast.Member:
		b = app(b, d, "member %v %v\n", e.Name, e.T)
		b = expr(b, d+1, e.X)
	case *ast.TryChain:
		b = app(b, d, "try_chain %v\n", e.T)
		b = expr(b, d+1, e.Primary)

		for _, s := range e.Secondaries {
			b = expr(b, d+1, s)
		}

		b = app(b, d+1, "fallback\n")
		b = expr(b, d+2, e.Fallback)
	default:
		b = app(b, d, "expr %T\n", e)
	}

	return b
}

// target renders a call target without type noise.
func target(e ast.Expr) string {
	if q, ok := ast.QualName(e); ok {
		return q
	}

	return fmt.Sprintf("%T", e)
}

func lit(b []byte, l *ast.Literal) []byte {
	switch l.Kind {
	case ast.StringLit:
		return fmt.Appendf(b, "%q", l.Str)
	case ast.CharLit:
		return fmt.Appendf(b, "%q", rune(l.Int))
	}

	return append(b, l.Str...)
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"

	b = append(b, tabs[:d]...)
	b = fmt.Appendf(b, f, args...)

	return b
}
