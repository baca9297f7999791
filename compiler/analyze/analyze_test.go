package analyze

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slatelang/slate/compiler/ast"
	"github.com/slatelang/slate/compiler/diag"
	"github.com/slatelang/slate/compiler/lexer"
	"github.com/slatelang/slate/compiler/parser"
	"github.com/slatelang/slate/compiler/tp"
)

func check(t *testing.T, src string) (*ast.Module, *Info, []diag.Diagnostic) {
	t.Helper()

	ctx := context.Background()

	toks, ds := lexer.Tokenize(ctx, []byte(src))
	require.Empty(t, ds, "lexer diagnostics")

	m, ds := parser.Parse(ctx, toks)
	require.Empty(t, ds, "parser diagnostics")

	info, ds := Analyze(ctx, m, nil)

	return m, info, ds
}

func checkOK(t *testing.T, src string) (*ast.Module, *Info) {
	t.Helper()

	m, info, ds := check(t, src)
	require.False(t, diag.HasErrors(ds), "diagnostics: %v", ds)

	return m, info
}

func codes(ds []diag.Diagnostic) []diag.Code {
	cs := make([]diag.Code, len(ds))
	for i, d := range ds {
		cs[i] = d.Code
	}

	return cs
}

func TestAddFunction(t *testing.T) {
	m, info := checkOK(t, `func add(a: i32, b: i32) -> i32:
    return a + b
`)

	fn, ok := info.Funcs["add"]
	require.True(t, ok)
	assert.Equal(t, []tp.Type{tp.I32, tp.I32}, fn.Sig.Params)
	assert.Equal(t, []tp.Type{tp.I32}, fn.Sig.Results)

	sum := m.Funcs[0].Body.Stmts[0].(*ast.Return).Vals[0].(*ast.Binary)
	assert.Equal(t, tp.Type(tp.I32), sum.T)
	assert.Equal(t, tp.Type(tp.I32), sum.L.Type())
}

func TestUndefinedSymbols(t *testing.T) {
	// independent errors in separate functions are all reported in one run
	_, _, ds := check(t, `func f() -> i32:
    return missing_a

func g() -> i32:
    return missing_b

func h():
    missing_c(1)
`)

	require.Equal(t, 3, diag.CountErrors(ds))

	lines := map[int]bool{}

	for _, d := range ds {
		assert.Equal(t, diag.UndefinedSymbol, d.Code)
		lines[d.Line] = true
	}

	assert.Len(t, lines, 3)
}

func TestDeclarationOrder(t *testing.T) {
	// signatures are collected before bodies, so forward calls work
	checkOK(t, `func f() -> i32:
    return g()

func g() -> i32:
    return 1
`)
}

func TestLiteralDefaults(t *testing.T) {
	m, _ := checkOK(t, `func f():
    let a = 1
    let b = 3000000000
    let c = 10000000000000000000
    let d = 1.5
    let e = 'x'
    let s = "hi"
    let t = true
`)

	want := []tp.Type{tp.I32, tp.I64, tp.U64, tp.F64, tp.Char, tp.String, tp.Bool}

	for i, wt := range want {
		d := m.Funcs[0].Body.Stmts[i].(*ast.VarDecl)
		assert.Equal(t, wt, d.T, d.Name)
	}
}

func TestAnnotatedLiterals(t *testing.T) {
	checkOK(t, `func f():
    var a: u8 = 200
    var b: i64 = 5
`)

	_, _, ds := check(t, `func f():
    var a: u8 = 300
`)
	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Equal(t, diag.OperandMismatch, ds[0].Code)
	assert.Contains(t, ds[0].Message, "overflows u8")
}

func TestNoImplicitWidening(t *testing.T) {
	_, _, ds := check(t, `func f(a: i32, b: i64):
    let c = a + b
`)

	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Contains(t, ds[0].Message, "mismatched operands")
}

func TestImmutability(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
		msg  string
	}{
		{"let binding", "func f():\n    let x = 1\n    x = 2\n", "cannot assign to immutable binding x"},
		{"parameter", "func f(n: i32):\n    n = 5\n", "cannot assign to immutable binding n"},
		{"string index", "func f(s: string):\n    s[0] = 'a'\n", "strings are immutable"},
		{"array in let", "func mk() -> array[i32, 2]:\n    var a: array[i32, 2]\n    return a\n\nfunc f():\n    let b = mk()\n    b[0] = 1\n", "cannot modify value of immutable binding b"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, ds := check(t, tc.src)
			require.Equal(t, 1, diag.CountErrors(ds), "diags: %v", ds)
			assert.Contains(t, ds[0].Message, tc.msg)
		})
	}

	checkOK(t, `func f(s: slice[i32]):
    var n = 1
    n = 2
    s[0] = 3
`)
}

func TestMatchExhaustiveness(t *testing.T) {
	_, _, ds := check(t, `func f(n: i32):
    match n:
        case 1:
            pass
`)
	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Equal(t, diag.NonExhaustiveMatch, ds[0].Code)

	checkOK(t, `func f(n: i32):
    match n:
        case 1:
            pass
        case _:
            pass
`)

	// both bool values cover the subject without a wildcard
	checkOK(t, `func f(b: bool):
    match b:
        case true:
            pass
        case false:
            pass
`)
}

func TestUnreachableCases(t *testing.T) {
	_, _, ds := check(t, `func f(n: i32):
    match n:
        case _:
            pass
        case 1:
            pass
`)
	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Equal(t, diag.UnreachableCase, ds[0].Code)

	_, _, ds = check(t, `func f(n: i32):
    match n:
        case 5..1:
            pass
        case _:
            pass
`)
	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Contains(t, ds[0].Message, "empty range")
}

func TestMatchSubject(t *testing.T) {
	_, _, ds := check(t, `func f(s: string):
    match s:
        case _:
            pass
`)

	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Contains(t, ds[0].Message, "match subject")
}

func TestCasePatternType(t *testing.T) {
	_, _, ds := check(t, `func f(n: i32):
    match n:
        case 'a':
            pass
        case _:
            pass
`)

	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Contains(t, ds[0].Message, "case pattern is char, match subject is i32")
}

func TestTryChainFallbackType(t *testing.T) {
	m, _ := checkOK(t, `from core.io import read_file

func load() -> (status, string):
    let v = try_chain:
        primary: read_file("a.conf")
        secondary: read_file("b.conf")
        fallback: (GENERIC_ERROR, "defaults")
    return v
`)

	d := m.Funcs[0].Body.Stmts[0].(*ast.VarDecl)
	assert.Equal(t, tp.Tuple{Elems: []tp.Type{tp.Status, tp.String}}, d.T)
}

func TestTryChainClauseMismatch(t *testing.T) {
	_, _, ds := check(t, `func load() -> i32:
    let v = try_chain:
        primary: "nope"
        fallback: 0
    return v
`)

	require.NotEmpty(t, ds)
	assert.Contains(t, ds[0].Message, "clause yields string, fallback yields i32")
}

func TestTryChainWithoutStatusWarns(t *testing.T) {
	_, _, ds := check(t, `func f() -> i32:
    let v = try_chain:
        primary: 1
        fallback: 0
    return v
`)

	assert.False(t, diag.HasErrors(ds))
	require.Len(t, ds, 1)
	assert.Equal(t, diag.Warning, ds[0].Severity)
	assert.Contains(t, ds[0].Message, "cannot detect failure")
}

func TestResultAcceptsStatusTuple(t *testing.T) {
	checkOK(t, `func find(n: i32) -> result[i32]:
    if n > 0:
        return (SUCCESS, n)
    return (NOT_FOUND, 0)
`)
}

func TestDuplicates(t *testing.T) {
	_, _, ds := check(t, `func f():
    pass

func f():
    pass
`)
	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Equal(t, diag.DuplicateDeclaration, ds[0].Code)

	_, _, ds = check(t, `func f():
    let x = 1
    let x = 2
`)
	require.Equal(t, []diag.Code{diag.DuplicateDeclaration}, codes(ds))

	_, _, ds = check(t, `func print(s: string):
    pass
`)
	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Contains(t, ds[0].Message, "redeclares a builtin")
}

func TestShadowingInNestedBlock(t *testing.T) {
	checkOK(t, `func f():
    let x = 1
    if true:
        let x = "inner"
`)
}

func TestImports(t *testing.T) {
	_, info := checkOK(t, `import windows.registry
from core.time import now_ms

func f() -> u64:
    windows.registry.create_key("HKLM\\Software\\Test")
    return now_ms()
`)

	assert.True(t, info.Imports["windows.registry"])
	assert.Equal(t, "core.time.now_ms", info.Bound["now_ms"])
}

func TestImportErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
		msg  string
	}{
		{"unknown module", "import no.such.module\n\nfunc f():\n    pass\n", "unknown module"},
		{"unknown member", "from core.time import warp\n\nfunc f():\n    pass\n", "has no member warp"},
		{"not imported", "func f():\n    windows.file.delete(\"a\")\n", "module windows.file is not imported"},
		{"unknown external", "import windows.registry\n\nfunc f():\n    windows.registry.burn()\n", "undefined external function"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, ds := check(t, tc.src)
			require.Equal(t, 1, diag.CountErrors(ds), "diags: %v", ds)
			assert.Equal(t, diag.UndefinedSymbol, ds[0].Code)
			assert.Contains(t, ds[0].Message, tc.msg)
		})
	}
}

func TestBuiltinCalls(t *testing.T) {
	checkOK(t, `func f() -> i64:
    print("hello")
    let line = read_line()
    return len(line)
`)

	_, _, ds := check(t, `func f():
    print(42)
`)
	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Contains(t, ds[0].Message, "argument 1 to print is i32, want string")
}

func TestLen(t *testing.T) {
	checkOK(t, `func f(a: array[i32, 3], s: slice[u8], str: string) -> i64:
    return len(a) + len(s) + len(str)
`)

	_, _, ds := check(t, `func f(n: i32) -> i64:
    return len(n)
`)
	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Contains(t, ds[0].Message, "len is not defined on i32")
}

func TestCallChecks(t *testing.T) {
	_, _, ds := check(t, `func two(a: i32, b: i32):
    pass

func f():
    two(1)
`)
	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Contains(t, ds[0].Message, "wrong number of arguments to two: have 1, want 2")

	_, _, ds = check(t, `func f():
    let g = 1
    g(2)
`)
	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Contains(t, ds[0].Message, "g is not a function")
}

func TestReturnChecks(t *testing.T) {
	_, _, ds := check(t, `func f() -> i32:
    return
`)
	require.Equal(t, []diag.Code{diag.ReturnArityMismatch}, codes(ds))

	_, _, ds = check(t, `func f() -> i32:
    return "no"
`)
	require.Equal(t, []diag.Code{diag.ReturnTypeMismatch}, codes(ds))

	checkOK(t, `from windows.file import read

func f() -> (status, string):
    return read("a.txt")
`)

	// status is i32-backed, a literal return is fine
	checkOK(t, `func f() -> status:
    return 5
`)
}

func TestTupleIndex(t *testing.T) {
	m, _ := checkOK(t, `func pair() -> (status, u64):
    return (SUCCESS, 7)

func f() -> u64:
    let p = pair()
    return p[1]
`)

	ret := m.Funcs[1].Body.Stmts[1].(*ast.Return)
	assert.Equal(t, tp.Type(tp.U64), ret.Vals[0].Type())

	_, _, ds := check(t, `func f():
    let p = (1, "x")
    let i = 1
    let v = p[i]
`)
	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Contains(t, ds[0].Message, "tuple index must be a constant")
}

func TestIndexBounds(t *testing.T) {
	_, _, ds := check(t, `func f(a: array[i32, 3]) -> i32:
    return a[3]
`)

	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Equal(t, diag.IndexOutOfBounds, ds[0].Code)
}

func TestConditionsMustBeBool(t *testing.T) {
	_, _, ds := check(t, `func f(n: i32):
    if n:
        pass
`)

	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Contains(t, ds[0].Message, "if condition must be bool, got i32")
}

func TestForBounds(t *testing.T) {
	checkOK(t, `func f(n: i32):
    for i in range(0, n):
        print(status_string(SUCCESS))
`)

	_, _, ds := check(t, `func f():
    for i in range(1.5):
        pass
`)
	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Contains(t, ds[0].Message, "range bounds")
}

func TestVoidBinding(t *testing.T) {
	_, _, ds := check(t, `func f():
    let x = print("hi")
`)

	require.Equal(t, 1, diag.CountErrors(ds))
	assert.Contains(t, ds[0].Message, "void")
}

func TestReanalysisIsIdempotent(t *testing.T) {
	ctx := context.Background()

	toks, _ := lexer.Tokenize(ctx, []byte(`func f(a: i32) -> i32:
    let x = missing + 1
    return a
`))
	m, _ := parser.Parse(ctx, toks)

	_, first := Analyze(ctx, m, nil)
	_, second := Analyze(ctx, m, nil)

	assert.Equal(t, first, second)
}
