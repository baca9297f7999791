package gen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slatelang/slate/compiler/analyze"
	"github.com/slatelang/slate/compiler/diag"
	"github.com/slatelang/slate/compiler/ir"
	"github.com/slatelang/slate/compiler/lexer"
	"github.com/slatelang/slate/compiler/parser"
	"github.com/slatelang/slate/compiler/safety"
)

func build(t *testing.T, src, target string) (*ir.Module, []diag.Diagnostic) {
	t.Helper()

	ctx := context.Background()

	toks, ds := lexer.Tokenize(ctx, []byte(src))
	require.Empty(t, ds, "lexer diagnostics")

	m, ds := parser.Parse(ctx, toks)
	require.Empty(t, ds, "parser diagnostics")

	info, ds := analyze.Analyze(ctx, m, nil)
	require.False(t, diag.HasErrors(ds), "analyze diagnostics: %v", ds)

	return Generate(ctx, m, info, nil, target)
}

func listing(t *testing.T, src string) string {
	t.Helper()

	m, ds := build(t, src, "dll")
	require.Empty(t, ds, "codegen diagnostics: %v", ds)

	return string(ir.Print(m))
}

func TestAddFunction(t *testing.T) {
	got := listing(t, `func add(a: i32, b: i32) -> i32:
    return a + b
`)

	assert.Equal(t, `module main
target dll

func add(a r0: i32, b r1: i32) -> i32
b0:
	r2 = alloc i32
	store i32 [r2], r0
	r3 = alloc i32
	store i32 [r3], r1
	r4 = load i32 [r2]
	r5 = load i32 [r3]
	r6 = add i32 r4, r5
	ret r6
`, got)
}

func TestStatusConstant(t *testing.T) {
	got := listing(t, `func missing() -> status:
    return NOT_FOUND
`)

	assert.Equal(t, `module main
target dll

func missing() -> status
b0:
	r0 = imm status 4
	ret r0
`, got)
}

func TestFloatReturn(t *testing.T) {
	got := listing(t, `func half() -> f64:
    return 1.5
`)

	assert.Equal(t, `module main
target dll

func half() -> f64
b0:
	r0 = fimm f64 1.5
	ret r0
`, got)
}

func TestModuleName(t *testing.T) {
	got := listing(t, `module agent.core

func noop():
    pass
`)

	assert.Equal(t, `module agent.core
target dll

func noop()
b0:
	ret
`, got)
}

// TestIfLowering pins the arm ladder: each condition branches to its
// body or the next test, arm bodies jump to the common end. Here every
// arm returns, so the end block is unreachable and swept together with
// the fall-off epilogue generated into it.
func TestIfLowering(t *testing.T) {
	got := listing(t, `func sign(x: i32) -> i32:
    if x > 10:
        return 1
    elif x > 5:
        return 2
    else:
        return 3
`)

	assert.Equal(t, `module main
target dll

func sign(x r0: i32) -> i32
b0:
	r1 = alloc i32
	store i32 [r1], r0
	r2 = load i32 [r1]
	r3 = imm i32 10
	r4 = cmp > i32 r2, r3
	bcond r4, b2, b3
b2:
	r5 = imm i32 1
	ret r5
b3:
	r6 = load i32 [r1]
	r7 = imm i32 5
	r8 = cmp > i32 r6, r7
	bcond r8, b4, b5
b4:
	r9 = imm i32 2
	ret r9
b5:
	r10 = imm i32 3
	ret r10
`, got)
}

func TestWhileLowering(t *testing.T) {
	got := listing(t, `func spin():
    var i: i32 = 3
    while i > 0:
        i = i - 1
`)

	assert.Equal(t, `module main
target dll

func spin()
b0:
	r0 = alloc i32
	r1 = imm i32 3
	store i32 [r0], r1
	b b1
b1:
	r2 = load i32 [r0]
	r3 = imm i32 0
	r4 = cmp > i32 r2, r3
	bcond r4, b2, b3
b2:
	r5 = load i32 [r0]
	r6 = imm i32 1
	r7 = sub i32 r5, r6
	store i32 [r0], r7
	b b1
b3:
	ret
`, got)
}

func TestBreakLowering(t *testing.T) {
	got := listing(t, `func first() -> i32:
    while true:
        break
    return 7
`)

	assert.Equal(t, `module main
target dll

func first() -> i32
b0:
	b b1
b1:
	r0 = imm bool 1
	bcond r0, b2, b3
b2:
	b b3
b3:
	r1 = imm i32 7
	ret r1
`, got)
}

// TestForLowering pins the counted loop shape: the bound is evaluated
// once before the loop, the variable lives in a slot, continue meets
// the increment block.
func TestForLowering(t *testing.T) {
	got := listing(t, `func sum() -> i32:
    var s: i32 = 0
    for i in range(0, 3):
        s += i
    return s
`)

	assert.Equal(t, `module main
target dll

func sum() -> i32
b0:
	r0 = alloc i32
	r1 = imm i32 0
	store i32 [r0], r1
	r2 = imm i32 0
	r3 = imm i32 3
	r4 = alloc i32
	store i32 [r4], r2
	b b1
b1:
	r5 = load i32 [r4]
	r6 = cmp < i32 r5, r3
	bcond r6, b2, b4
b2:
	r7 = load i32 [r0]
	r8 = load i32 [r4]
	r9 = add i32 r7, r8
	store i32 [r0], r9
	b b3
b3:
	r10 = load i32 [r4]
	r11 = imm i32 1
	r12 = add i32 r10, r11
	store i32 [r4], r12
	b b1
b4:
	r13 = load i32 [r0]
	ret r13
`, got)
}

// TestMatchLowering pins the compare ladder. The range case tests the
// low bound first and short circuits to the next case; both ends are
// inclusive.
func TestMatchLowering(t *testing.T) {
	got := listing(t, `func grade(x: i32) -> i32:
    match x:
        case 0:
            return 1
        case 1..2:
            return 2
        case _:
            return 3
`)

	assert.Equal(t, `module main
target dll

func grade(x r0: i32) -> i32
b0:
	r1 = alloc i32
	store i32 [r1], r0
	r2 = load i32 [r1]
	r3 = imm i32 0
	r4 = cmp == i32 r2, r3
	bcond r4, b2, b3
b2:
	r5 = imm i32 1
	ret r5
b3:
	r6 = imm i32 1
	r7 = cmp >= i32 r2, r6
	bcond r7, b6, b5
b6:
	r8 = imm i32 2
	r9 = cmp <= i32 r2, r8
	bcond r9, b4, b5
b4:
	r10 = imm i32 2
	ret r10
b5:
	r11 = imm i32 3
	ret r11
`, got)
}

// TestLogicalLowering pins short circuit evaluation: the right operand
// runs in its own block and both paths merge through a bool slot.
func TestLogicalLowering(t *testing.T) {
	got := listing(t, `func both(a: bool, b: bool) -> bool:
    return a and b

func either(a: bool, b: bool) -> bool:
    return a or b
`)

	assert.Equal(t, `module main
target dll

func both(a r0: bool, b r1: bool) -> bool
b0:
	r2 = alloc bool
	store bool [r2], r0
	r3 = alloc bool
	store bool [r3], r1
	r4 = alloc bool
	r5 = load bool [r2]
	store bool [r4], r5
	bcond r5, b1, b2
b1:
	r6 = load bool [r3]
	store bool [r4], r6
	b b2
b2:
	r7 = load bool [r4]
	ret r7

func either(a r0: bool, b r1: bool) -> bool
b0:
	r2 = alloc bool
	store bool [r2], r0
	r3 = alloc bool
	store bool [r3], r1
	r4 = alloc bool
	r5 = load bool [r2]
	store bool [r4], r5
	bcond r5, b2, b1
b1:
	r6 = load bool [r3]
	store bool [r4], r6
	b b2
b2:
	r7 = load bool [r4]
	ret r7
`, got)
}

func TestStringEquality(t *testing.T) {
	got := listing(t, `func eq(a: string, b: string) -> bool:
    return a == b

func ne(a: string, b: string) -> bool:
    return a != b
`)

	assert.Equal(t, `module main
target dll

extern sl_string_eq(string, string) -> bool

func eq(a r0: string, b r1: string) -> bool
b0:
	r2 = alloc string
	store string [r2], r0
	r3 = alloc string
	store string [r3], r1
	r4 = load string [r2]
	r5 = load string [r3]
	r6 = call sl_string_eq r4, r5
	ret r6

func ne(a r0: string, b r1: string) -> bool
b0:
	r2 = alloc string
	store string [r2], r0
	r3 = alloc string
	store string [r3], r1
	r4 = load string [r2]
	r5 = load string [r3]
	r6 = call sl_string_eq r4, r5
	r7 = not bool r6
	ret r7
`, got)
}

func TestBuiltinCall(t *testing.T) {
	got := listing(t, `@unsafe
func buf() -> ptr[u8]:
    return alloc(64)
`)

	assert.Equal(t, `module main
target dll

extern sl_alloc(u64) -> ptr[u8]

func buf() -> ptr[u8]
b0:
	r0 = imm u64 64
	r1 = call sl_alloc r0
	ret r1
`, got)
}

func TestPointerAccess(t *testing.T) {
	got := listing(t, `func peek(p: ptr[u8]) -> u8:
    return *p

func poke(p: ptr[u8]):
    *p = 7
`)

	assert.Equal(t, `module main
target dll

func peek(p r0: ptr[u8]) -> u8
b0:
	r1 = alloc ptr[u8]
	store ptr[u8] [r1], r0
	r2 = load ptr[u8] [r1]
	r3 = load u8 [r2]
	ret r3

func poke(p r0: ptr[u8])
b0:
	r1 = alloc ptr[u8]
	store ptr[u8] [r1], r0
	r2 = load ptr[u8] [r1]
	r3 = imm u8 7
	store u8 [r2], r3
	ret
`, got)
}

func TestLenLowering(t *testing.T) {
	got := listing(t, `func arr() -> i64:
    var a: array[i32, 4]
    return len(a)

func slc(s: slice[u8]) -> i64:
    return len(s)

func txt(s: string) -> i64:
    return len(s)
`)

	assert.Equal(t, `module main
target dll

extern sl_slice_len(slice[u8]) -> i64
extern sl_string_len(string) -> i64

func arr() -> i64
b0:
	r0 = alloc array[i32, 4]
	r1 = imm i64 4
	ret r1

func slc(s r0: slice[u8]) -> i64
b0:
	r1 = alloc slice[u8]
	store slice[u8] [r1], r0
	r2 = load slice[u8] [r1]
	r3 = call sl_slice_len r2
	ret r3

func txt(s r0: string) -> i64
b0:
	r1 = alloc string
	store string [r1], r0
	r2 = load string [r1]
	r3 = call sl_string_len r2
	ret r3
`, got)
}

// TestArrayIndex pins the bounds check policy: a constant index into an
// array is checked at compile time and carries no runtime check, a
// dynamic one calls sl_bounds_check against the known length.
func TestArrayIndex(t *testing.T) {
	got := listing(t, `func fixed(a: array[i32, 3]) -> i32:
    return a[1]

func dyn(a: array[i32, 3], i: i64) -> i32:
    return a[i]
`)

	assert.Equal(t, `module main
target dll

extern sl_bounds_check(i64, i64)

func fixed(a r0: array[i32, 3]) -> i32
b0:
	r1 = alloc array[i32, 3]
	store array[i32, 3] [r1], r0
	r2 = imm i64 1
	r3 = elem i32 r1[r2]
	r4 = load i32 [r3]
	ret r4

func dyn(a r0: array[i32, 3], i r1: i64) -> i32
b0:
	r2 = alloc array[i32, 3]
	store array[i32, 3] [r2], r0
	r3 = alloc i64
	store i64 [r3], r1
	r4 = load i64 [r3]
	r5 = imm i64 3
	call sl_bounds_check r4, r5
	r6 = elem i32 r2[r4]
	r7 = load i32 [r6]
	ret r7
`, got)
}

func TestSliceIndex(t *testing.T) {
	got := listing(t, `func get(s: slice[u8], i: i64) -> u8:
    return s[i]
`)

	assert.Equal(t, `module main
target dll

extern sl_slice_len(slice[u8]) -> i64
extern sl_bounds_check(i64, i64)

func get(s r0: slice[u8], i r1: i64) -> u8
b0:
	r2 = alloc slice[u8]
	store slice[u8] [r2], r0
	r3 = alloc i64
	store i64 [r3], r1
	r4 = load slice[u8] [r2]
	r5 = load i64 [r3]
	r6 = call sl_slice_len r4
	call sl_bounds_check r5, r6
	r7 = elem u8 r2[r5]
	r8 = load u8 [r7]
	ret r8
`, got)
}

// TestTryChainLowering pins the clause ladder: each clause stores into
// the merge slot and jumps to the end when its status is SUCCESS, the
// fallback stores unconditionally.
func TestTryChainLowering(t *testing.T) {
	got := listing(t, `func attempt() -> status:
    return SUCCESS

func f() -> status:
    let v = try_chain:
        primary: attempt()
        fallback: 1
    return v
`)

	assert.Equal(t, `module main
target dll

func attempt() -> status
b0:
	r0 = imm status 0
	ret r0

func f() -> status
b0:
	r0 = alloc status
	r1 = alloc status
	r2 = call attempt
	r3 = imm status 0
	r4 = cmp == status r2, r3
	bcond r4, b2, b3
b2:
	store status [r1], r2
	b b1
b3:
	r5 = imm status 1
	store status [r1], r5
	b b1
b1:
	r6 = load status [r1]
	store status [r0], r6
	r7 = load status [r0]
	ret r7
`, got)
}

// TestDeferReplay pins that defers run before the implicit return, in
// reverse registration order, and that the deferred argument is
// evaluated at replay time.
func TestDeferReplay(t *testing.T) {
	got := listing(t, `func greet():
    defer println("bye")
    println("hi")
`)

	assert.Equal(t, `module main
target dll

extern sl_println(string)

string s0 = "hi"
string s1 = "bye"

func greet()
b0:
	r0 = str s0
	call sl_println r0
	r1 = str s1
	call sl_println r1
	ret
`, got)
}

func TestStringInterning(t *testing.T) {
	m, ds := build(t, `func f():
    print("x")
    print("x")
`, "dll")
	require.Empty(t, ds)

	assert.Equal(t, []string{"x"}, m.Strings)
	assert.Equal(t, `module main
target dll

extern sl_print(string)

string s0 = "x"

func f()
b0:
	r0 = str s0
	call sl_print r0
	r1 = str s0
	call sl_print r1
	ret
`, string(ir.Print(m)))
}

func TestResultLowering(t *testing.T) {
	got := listing(t, `func find() -> result[i32]:
    return (NOT_FOUND, 0)
`)

	assert.Equal(t, `module main
target dll

func find() -> tuple(status, i32)
b0:
	r0 = imm status 4
	r1 = imm i32 0
	r2 = tuple tuple(status, i32) r0, r1
	ret r2
`, got)
}

// TestTupleUnpackReturn pins that a single tuple-typed value satisfying
// a multi-value result is unpacked element by element.
func TestTupleUnpackReturn(t *testing.T) {
	got := listing(t, `import windows.registry

func read() -> (status, string):
    return windows.registry.read_value("a", "b")
`)

	assert.Equal(t, `module main
target dll

extern windows.registry.read_value(string, string) -> tuple(status, string)

string s0 = "a"
string s1 = "b"

func read() -> (status, string)
b0:
	r0 = str s0
	r1 = str s1
	r2 = call windows.registry.read_value r0, r1
	r3 = get status r2.0
	r4 = get string r2.1
	ret r3, r4
`, got)
}

func TestZeroFillReturn(t *testing.T) {
	got := listing(t, `func stub() -> (status, string):
    pass
`)

	assert.Equal(t, `module main
target dll

string s0 = ""

func stub() -> (status, string)
b0:
	r0 = imm status 0
	r1 = str s0
	ret r0, r1
`, got)
}

// TestAuditedCall drives the full pipeline with the safe policy: the
// checker marks the logged operation and the generator inserts the
// sl_audit_log call with the interned operation name right before it.
// Re-checking under the unsafe policy clears the mark.
func TestAuditedCall(t *testing.T) {
	ctx := context.Background()

	src := `import windows.file

func cleanup() -> status:
    return windows.file.delete("tmp.log")
`

	toks, ds := lexer.Tokenize(ctx, []byte(src))
	require.Empty(t, ds)

	m, ds := parser.Parse(ctx, toks)
	require.Empty(t, ds)

	info, ds := analyze.Analyze(ctx, m, nil)
	require.False(t, diag.HasErrors(ds))

	ds = safety.Check(ctx, m, safety.Policy{Mode: safety.Safe})
	require.Empty(t, ds)

	im, ds := Generate(ctx, m, info, nil, "dll")
	require.Empty(t, ds)

	assert.Equal(t, `module main
target dll

extern sl_audit_log(string)
extern windows.file.delete(string) -> status

string s0 = "windows.file.delete"
string s1 = "tmp.log"

func cleanup() -> status
b0:
	r0 = str s0
	call sl_audit_log r0
	r1 = str s1
	r2 = call windows.file.delete r1
	ret r2
`, string(ir.Print(im)))

	ds = safety.Check(ctx, m, safety.Policy{Mode: safety.Unsafe})
	require.Empty(t, ds)

	im, ds = Generate(ctx, m, info, nil, "dll")
	require.Empty(t, ds)

	assert.NotContains(t, string(ir.Print(im)), "sl_audit_log")
}

func TestServiceHookResilient(t *testing.T) {
	got := listing(t, `@service(name: "agentd")
func serve():
    pass

@hook(event: "startup")
@resilient(max_attempts: 5, backoff: "linear")
func boot():
    pass
`)

	assert.Equal(t, `module main
target dll

service "agentd" -> serve
hook startup -> boot

func serve()
b0:
	ret

func boot()
  resilient attempts=5 timeout=0 backoff=linear
b0:
	ret
`, got)
}

func TestResilientDefaults(t *testing.T) {
	got := listing(t, `@resilient
func retry():
    pass
`)

	assert.Contains(t, got, "resilient attempts=3 timeout=0 backoff=none")
}

func TestExeTarget(t *testing.T) {
	m, ds := build(t, `func main() -> status:
    return SUCCESS
`, "exe")
	require.Empty(t, ds)

	got := string(ir.Print(m))
	assert.Contains(t, got, "target exe")
	assert.Contains(t, got, "func main() -> status")
}

func TestMainChecks(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
		code diag.Code
		msg  string
	}{
		{
			"missing",
			"func helper():\n    pass\n",
			diag.UndefinedSymbol,
			"target exe requires a main function",
		},
		{
			"params",
			"func main(n: i32):\n    pass\n",
			diag.OperandMismatch,
			"main takes no parameters",
		},
		{
			"bad result",
			"func main() -> string:\n    return \"x\"\n",
			diag.OperandMismatch,
			"main must return nothing or a status",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, ds := build(t, tc.src, "exe")

			require.Len(t, ds, 1)
			assert.Equal(t, diag.Codegen, ds[0].Stage)
			assert.Equal(t, tc.code, ds[0].Code)
			assert.Equal(t, tc.msg, ds[0].Message)
		})
	}

	// i32 is the status alias, so it is a valid main result
	_, ds := build(t, "func main() -> i32:\n    return 0\n", "exe")
	assert.Empty(t, ds)
}

func TestSweepDropsCodeAfterReturn(t *testing.T) {
	m, ds := build(t, `func f() -> i32:
    return 1
    return 2
`, "dll")
	require.Empty(t, ds)

	require.Len(t, m.Funcs, 1)
	assert.Len(t, m.Funcs[0].Blocks, 1)
	assert.NotContains(t, string(ir.Print(m)), "imm i32 2")
}
