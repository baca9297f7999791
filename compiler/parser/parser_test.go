package parser

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slatelang/slate/compiler/ast"
	"github.com/slatelang/slate/compiler/diag"
	"github.com/slatelang/slate/compiler/lexer"
	"github.com/slatelang/slate/compiler/token"
	"github.com/slatelang/slate/compiler/tp"
)

func parse(t *testing.T, src string) (*ast.Module, []diag.Diagnostic) {
	t.Helper()

	toks, ds := lexer.Tokenize(context.Background(), []byte(src))
	require.Empty(t, ds, "lexer diagnostics")

	return Parse(context.Background(), toks)
}

func parseOK(t *testing.T, src string) *ast.Module {
	t.Helper()

	m, ds := parse(t, src)
	require.Empty(t, ds, "parser diagnostics")

	return m
}

func TestAddFunction(t *testing.T) {
	m := parseOK(t, `func add(a: i32, b: i32) -> i32:
    return a + b
`)

	require.Len(t, m.Funcs, 1)

	fn := m.Funcs[0]
	assert.Equal(t, "add", fn.Name)

	require.Len(t, fn.Params, 2)
	assert.Equal(t, "a", fn.Params[0].Name)
	assert.Equal(t, tp.Type(tp.I32), fn.Params[0].Type)
	assert.Equal(t, "b", fn.Params[1].Name)

	require.Len(t, fn.Results, 1)
	assert.Equal(t, tp.Type(tp.I32), fn.Results[0])

	require.Len(t, fn.Body.Stmts, 1)

	ret, ok := fn.Body.Stmts[0].(*ast.Return)
	require.True(t, ok)
	require.Len(t, ret.Vals, 1)

	sum, ok := ret.Vals[0].(*ast.Binary)
	require.True(t, ok)
	assert.Equal(t, token.Add, sum.Op)
}

func TestModuleHeader(t *testing.T) {
	m := parseOK(t, `module agent.core

import windows.registry
from core.time import now_ms, sleep_ms

func main():
    pass
`)

	assert.Equal(t, "agent.core", m.Name)

	require.Len(t, m.Imports, 2)
	assert.Equal(t, "windows.registry", m.Imports[0].Path)
	assert.Empty(t, m.Imports[0].Names)
	assert.Equal(t, "core.time", m.Imports[1].Path)
	assert.Equal(t, []string{"now_ms", "sleep_ms"}, m.Imports[1].Names)
}

func TestDecorators(t *testing.T) {
	m := parseOK(t, `@safety_level(mode: SAFE)
module demo

@unsafe
@resilient(max_attempts: 5, backoff: "linear")
func poke():
    pass
`)

	require.Len(t, m.Decorators, 1)
	assert.Equal(t, "safety_level", m.Decorators[0].Name)

	mode := m.Decorators[0].Arg("mode")
	require.NotNil(t, mode)
	assert.Equal(t, "SAFE", mode.Str)

	require.Len(t, m.Funcs, 1)

	fn := m.Funcs[0]
	require.NotNil(t, fn.Decorator("unsafe"))

	res := fn.Decorator("resilient")
	require.NotNil(t, res)
	assert.Equal(t, uint64(5), res.Arg("max_attempts").Int)
	assert.Equal(t, "linear", res.Arg("backoff").Str)
}

func TestBadDecorators(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
	}{
		{"unknown", "@nonsense\nfunc f():\n    pass\n"},
		{"bad mode", "@safety_level(mode: SOMETIMES)\nfunc f():\n    pass\n"},
		{"missing required", "@service\nfunc f():\n    pass\n"},
		{"wrong kind", "@resilient(max_attempts: \"lots\")\nfunc f():\n    pass\n"},
		{"unknown option", "@unsafe(level: 11)\nfunc f():\n    pass\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, ds := parse(t, tc.src)
			require.NotEmpty(t, ds)

			assert.Equal(t, diag.MalformedDecorator, ds[0].Code)

			// the function itself still parses
			require.Len(t, m.Funcs, 1)
		})
	}
}

func TestControlFlow(t *testing.T) {
	m := parseOK(t, `func f(n: i32) -> i32:
    var acc = 0
    if n < 0:
        acc = 1
    elif n == 0:
        acc = 2
    else:
        acc = 3
    while acc < 100:
        acc += 1
        if acc == 50:
            break
        continue
    for i in range(10):
        acc += i
    for j in range(2, n):
        pass
    return acc
`)

	fn := m.Funcs[0]
	require.Len(t, fn.Body.Stmts, 6)

	ifs, ok := fn.Body.Stmts[1].(*ast.If)
	require.True(t, ok)
	require.Len(t, ifs.Elifs, 1)
	require.NotNil(t, ifs.Else)

	loop, ok := fn.Body.Stmts[3].(*ast.For)
	require.True(t, ok)
	assert.Equal(t, "i", loop.Var)

	from, ok := loop.From.(*ast.Literal)
	require.True(t, ok)
	assert.Equal(t, uint64(0), from.Int)
}

func TestMatch(t *testing.T) {
	m := parseOK(t, `func classify(c: char) -> i32:
    match c:
        case 'a'..'z':
            return 1
        case '0':
            return 2
        case _:
            return 3
`)

	match, ok := m.Funcs[0].Body.Stmts[0].(*ast.Match)
	require.True(t, ok)
	require.Len(t, match.Cases, 3)

	assert.NotNil(t, match.Cases[0].Hi)
	assert.Nil(t, match.Cases[1].Hi)
	assert.True(t, match.Cases[2].Wild)
}

func TestNegatedCasePattern(t *testing.T) {
	m := parseOK(t, `func sign(n: i32) -> i32:
    match n:
        case -1:
            return -1
        case _:
            return 0
`)

	cs := m.Funcs[0].Body.Stmts[0].(*ast.Match).Cases[0]

	assert.Equal(t, "-1", cs.Lo.Str)
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), cs.Lo.Int)
}

func TestMatchRequiresCase(t *testing.T) {
	_, ds := parse(t, `func f(n: i32):
    match n:
        pass
`)

	require.NotEmpty(t, ds)
}

func TestBreakPlacement(t *testing.T) {
	_, ds := parse(t, `func f():
    break
`)

	require.Len(t, ds, 1)
	assert.Contains(t, ds[0].Message, "break outside a loop")
}

func TestContinuePlacement(t *testing.T) {
	_, ds := parse(t, `func f():
    if true:
        continue
`)

	require.Len(t, ds, 1)
	assert.Contains(t, ds[0].Message, "continue outside a loop")
}

func TestBreakInsideMatchArm(t *testing.T) {
	parseOK(t, `func f():
    while true:
        match 1:
            case 1:
                break
            case _:
                pass
`)
}

func TestDeferPlacement(t *testing.T) {
	parseOK(t, `func f():
    defer release(1)
    pass
`)

	_, ds := parse(t, `func f():
    if true:
        defer release(1)
`)
	require.Len(t, ds, 1)
	assert.Contains(t, ds[0].Message, "top level of a function body")

	_, ds = parse(t, `func f():
    defer return
`)
	require.NotEmpty(t, ds)
}

func TestTryChain(t *testing.T) {
	m := parseOK(t, `func read() -> i32:
    let v = try_chain:
        primary: fetch(1)
        secondary: fetch(2)
        secondary: fetch(3)
        fallback: 0
    return v
`)

	decl := m.Funcs[0].Body.Stmts[0].(*ast.VarDecl)

	chain, ok := decl.Init.(*ast.TryChain)
	require.True(t, ok)
	require.Len(t, chain.Secondaries, 2)
	require.NotNil(t, chain.Fallback)

	lit, ok := chain.Fallback.(*ast.Literal)
	require.True(t, ok)
	assert.Equal(t, uint64(0), lit.Int)
}

func TestTryChainRequiresFallback(t *testing.T) {
	_, ds := parse(t, `func read() -> i32:
    let v = try_chain:
        primary: fetch(1)
    return v
`)

	require.NotEmpty(t, ds)
	assert.Equal(t, diag.MissingFallback, ds[0].Code)
}

func TestTypes(t *testing.T) {
	m := parseOK(t, `func f(p: ptr[u8], s: slice[i32], a: array[f64, 4], r: result[string], t: tuple(i32, bool)) -> (status, handle):
    pass
`)

	ps := m.Funcs[0].Params
	require.Len(t, ps, 5)

	assert.Equal(t, tp.Ptr{Elem: tp.U8}, ps[0].Type)
	assert.Equal(t, tp.Slice{Elem: tp.I32}, ps[1].Type)
	assert.Equal(t, tp.Array{Elem: tp.F64, Len: 4}, ps[2].Type)
	assert.Equal(t, tp.Result{Inner: tp.String}, ps[3].Type)
	assert.Equal(t, tp.Tuple{Elems: []tp.Type{tp.I32, tp.Bool}}, ps[4].Type)

	rs := m.Funcs[0].Results
	require.Len(t, rs, 2)
	assert.Equal(t, tp.Type(tp.Status), rs[0])
	assert.Equal(t, tp.Type(tp.Handle), rs[1])
}

func TestPrecedence(t *testing.T) {
	m := parseOK(t, `func f() -> i32:
    return 1 + 2 * 3
`)

	sum := m.Funcs[0].Body.Stmts[0].(*ast.Return).Vals[0].(*ast.Binary)
	assert.Equal(t, token.Add, sum.Op)

	mul, ok := sum.R.(*ast.Binary)
	require.True(t, ok)
	assert.Equal(t, token.Mul, mul.Op)
}

func TestPowRightAssociative(t *testing.T) {
	m := parseOK(t, `func f() -> i32:
    return 2 ** 3 ** 2
`)

	outer := m.Funcs[0].Body.Stmts[0].(*ast.Return).Vals[0].(*ast.Binary)
	require.Equal(t, token.Pow, outer.Op)

	inner, ok := outer.R.(*ast.Binary)
	require.True(t, ok)
	assert.Equal(t, token.Pow, inner.Op)
}

func TestQualifiedCall(t *testing.T) {
	m := parseOK(t, `func f():
    windows.registry.read_value("HKLM", "key")
`)

	call := m.Funcs[0].Body.Stmts[0].(*ast.ExprStmt).X.(*ast.Call)

	name, ok := ast.QualName(call.Fn)
	require.True(t, ok)
	assert.Equal(t, "windows.registry.read_value", name)
	assert.Len(t, call.Args, 2)
}

func TestCompoundAssign(t *testing.T) {
	m := parseOK(t, `func f(s: slice[i32]):
    s[0] += 2
`)

	as := m.Funcs[0].Body.Stmts[0].(*ast.Assign)
	assert.Equal(t, token.AddAssign, as.Op)

	_, ok := as.LHS.(*ast.Index)
	assert.True(t, ok)
}

func TestAssignTargetValidated(t *testing.T) {
	_, ds := parse(t, `func f():
    f() = 1
`)

	require.NotEmpty(t, ds)
	assert.Contains(t, ds[0].Message, "cannot assign")
}

func TestErrorRecovery(t *testing.T) {
	m, ds := parse(t, `func f():
    let = 5
    let ok = 1

func g():
    return ]
`)

	// one error per broken line, both functions survive
	assert.Equal(t, 2, diag.CountErrors(ds))
	require.Len(t, m.Funcs, 2)
	assert.Equal(t, "f", m.Funcs[0].Name)
	assert.Equal(t, "g", m.Funcs[1].Name)
}

func TestReservedDeclarations(t *testing.T) {
	_, ds := parse(t, `func f():
    pass

struct Point:
    pass
`)

	require.NotEmpty(t, ds)
	assert.True(t, strings.Contains(ds[0].Message, "reserved") || strings.Contains(ds[0].Message, "func"))
}
