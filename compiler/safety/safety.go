// Package safety enforces the operation policy. Qualified external
// operations carry a fixed classification: Blocked operations are
// compile errors outside unsafe code, Logged operations are allowed
// but marked under the safe policy so code generation inserts an
// audit-log call before them. Raw pointer use outside unsafe code is
// an error on its own.
//
// The checker runs after type analysis and reads the annotated types;
// it never changes them. Its only writes are the audit marks on calls.
package safety

import (
	"context"
	"strings"

	"tlog.app/go/tlog"

	"github.com/slatelang/slate/compiler/ast"
	"github.com/slatelang/slate/compiler/diag"
	"github.com/slatelang/slate/compiler/token"
	"github.com/slatelang/slate/compiler/tp"
)

type (
	Mode int

	// Ruleset is the custom-mode policy. Entries are qualified
	// operation names, or module prefixes ending in ".*".
	// Custom mode permits only operations the allow list matches,
	// and a name matched by both lists is blocked.
	Ruleset struct {
		Allow []string
		Block []string
	}

	// Policy is the effective configuration for one compilation.
	// A @safety_level decorator on the module overrides Mode.
	Policy struct {
		Mode  Mode
		Rules Ruleset
	}

	checker struct {
		pol  Policy
		mode Mode // module mode after the decorator override

		bound map[string]string // from-imported bare name -> qualified operation

		unsafe bool // current function is exempt

		ds []diag.Diagnostic
		tr tlog.Span
	}
)

const (
	Safe Mode = iota
	Unsafe
	Custom
)

// classification of qualified operations. Everything else is allowed.
var (
	blocked = map[string]bool{
		"windows.process.inject_dll":           true,
		"windows.process.open_process":         true,
		"windows.process.create_remote_thread": true,
		"windows.memory.read_process":          true,
		"windows.memory.write_process":         true,
		"windows.hooks.install_global":         true,
		"kernel.driver.load":                   true,
		"kernel.driver.unload":                 true,
		"syscall.raw":                          true,
	}

	logged = map[string]bool{
		"windows.registry.write_value": true,
		"windows.registry.create_key":  true,
		"windows.registry.delete_key":  true,
		"windows.service.create":       true,
		"windows.service.delete":       true,
		"windows.service.start":        true,
		"windows.service.stop":         true,
		"windows.process.terminate":    true,
		"windows.file.delete":          true,
	}
)

func (m Mode) String() string {
	switch m {
	case Safe:
		return "safe"
	case Unsafe:
		return "unsafe"
	case Custom:
		return "custom"
	}

	return "mode?"
}

// ParseMode accepts the mode spellings of the command line and the
// @safety_level decorator.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(s) {
	case "safe":
		return Safe, true
	case "unsafe":
		return Unsafe, true
	case "custom":
		return Custom, true
	}

	return Safe, false
}

// Check verifies m against the policy and marks logged operations.
// Marks are idempotent: checking twice yields the same tree and the
// same diagnostics.
func Check(ctx context.Context, m *ast.Module, pol Policy) (ds []diag.Diagnostic) {
	tr := tlog.SpawnFromContext(ctx, "safety", "mode", pol.Mode)
	defer func() {
		tr.Finish("diags", len(ds), "errs", diag.CountErrors(ds))
	}()

	c := &checker{pol: pol, mode: pol.Mode, bound: map[string]string{}, tr: tr}

	if d := moduleDecorator(m); d != nil {
		if arg := d.Arg("mode"); arg != nil {
			if md, ok := ParseMode(arg.Str); ok {
				c.mode = md
			}
		}
	}

	// from-imported names are classified under their qualified name,
	// importing an operation does not launder it
	for _, im := range m.Imports {
		for _, name := range im.Names {
			c.bound[name] = im.Path + "." + name
		}
	}

	tr.Printw("effective mode", "mode", c.mode)

	for _, fn := range m.Funcs {
		c.function(fn)
	}

	return c.ds
}

func moduleDecorator(m *ast.Module) *ast.Decorator {
	for _, d := range m.Decorators {
		if d.Name == "safety_level" {
			return d
		}
	}

	return nil
}

func (c *checker) function(fn *ast.FuncDecl) {
	c.unsafe = c.mode == Unsafe || fn.Decorator("unsafe") != nil
	defer func() { c.unsafe = false }()

	if !c.unsafe {
		c.signature(fn)
	}

	c.block(fn.Body)
}

// signature flags raw pointers in the declared interface of a safe
// function. One diagnostic per parameter or result list, not per use.
func (c *checker) signature(fn *ast.FuncDecl) {
	for _, p := range fn.Params {
		if tp.HasPointer(p.Type) {
			c.err(p.Pos, diag.MissingUnsafeMarker, "parameter %v of %v is a raw pointer, mark the function @unsafe", p.Name, fn.Name)
		}
	}

	for _, r := range fn.Results {
		if tp.HasPointer(r) {
			c.err(fn.Pos, diag.MissingUnsafeMarker, "%v returns a raw pointer, mark the function @unsafe", fn.Name)
			break
		}
	}
}

func (c *checker) block(b *ast.Block) {
	for _, s := range b.Stmts {
		c.stmt(s)
	}
}

func (c *checker) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.VarDecl:
		if s.Init != nil {
			c.expr(s.Init)
		}

		if s.Init == nil && tp.HasPointer(s.T) && !c.unsafe {
			c.err(s.Pos, diag.MissingUnsafeMarker, "%v is a raw pointer, pointer use requires @unsafe", s.Name)
		}
	case *ast.Assign:
		c.expr(s.LHS)
		c.expr(s.RHS)
	case *ast.If:
		c.expr(s.Cond)
		c.block(s.Then)

		for _, e := range s.Elifs {
			c.expr(e.Cond)
			c.block(e.Then)
		}

		if s.Else != nil {
			c.block(s.Else)
		}
	case *ast.While:
		c.expr(s.Cond)
		c.block(s.Body)
	case *ast.For:
		c.expr(s.From)
		c.expr(s.To)
		c.block(s.Body)
	case *ast.Match:
		c.expr(s.Subject)

		for _, cs := range s.Cases {
			c.block(cs.Body)
		}
	case *ast.Return:
		for _, v := range s.Vals {
			c.expr(v)
		}
	case *ast.ExprStmt:
		c.expr(s.X)
	case *ast.DeferStmt:
		c.stmt(s.X)
	case *ast.PassStmt, *ast.BreakStmt, *ast.ContinueStmt:
	default:
		panic(s)
	}
}

func (c *checker) expr(e ast.Expr) {
	switch e := e.(type) {
	case *ast.Literal:
	case *ast.Ident:
	case *ast.Binary:
		c.expr(e.L)
		c.expr(e.R)
	case *ast.Unary:
		c.expr(e.X)

		if !c.unsafe && (e.Op == token.Amp || e.Op == token.Mul) {
			c.err(e.Pos, diag.MissingUnsafeMarker, "pointer operation requires @unsafe")
		}
	case *ast.Call:
		c.call(e)
	case *ast.TupleExpr:
		for _, x := range e.Elems {
			c.expr(x)
		}
	case *ast.Index:
		c.expr(e.X)
		c.expr(e.Idx)

		if _, ok := e.X.Type().(tp.Ptr); ok && !c.unsafe {
			c.err(e.Pos, diag.MissingUnsafeMarker, "pointer indexing requires @unsafe")
		}
	case *ast.Member:
		c.expr(e.X)
	case *ast.TryChain:
		c.expr(e.Primary)

		for _, s := range e.Secondaries {
			c.expr(s)
		}

		c.expr(e.Fallback)
	default:
		panic(e)
	}
}

func (c *checker) call(e *ast.Call) {
	for _, a := range e.Args {
		c.expr(a)
	}

	q, qualified := "", false

	switch fn := e.Fn.(type) {
	case *ast.Member:
		q, qualified = ast.QualName(fn)
	case *ast.Ident:
		q, qualified = c.bound[fn.Name], c.bound[fn.Name] != ""
	}

	if qualified {
		c.operation(e, q)
	}

	if !c.unsafe && tp.HasPointer(e.T) {
		c.err(e.Pos, diag.MissingUnsafeMarker, "call returns a raw pointer, pointer use requires @unsafe")
	}
}

// operation applies the classification to one qualified call.
func (c *checker) operation(e *ast.Call, q string) {
	// audit marks exist only under the safe policy; a re-check under
	// another mode clears them
	mark := logged[q] && c.mode == Safe && !c.unsafe

	e.Audit = mark
	e.AuditOp = ""

	if mark {
		e.AuditOp = q

		c.tr.V("audit").Printw("audit mark", "op", q, "line", e.Pos.Line)
	}

	if c.unsafe {
		return
	}

	deny := blocked[q]

	// custom mode allows an operation only when the allow list matches
	// it and the block list does not
	if c.mode == Custom {
		deny = !match(c.pol.Rules.Allow, q) || match(c.pol.Rules.Block, q)
	}

	if deny {
		c.err(e.Pos, diag.BlockedOperation, "operation %v is blocked under the %v policy", q, c.mode)
	}
}

// match reports whether q matches an exact name or a ".*" prefix
// pattern from the list.
func match(list []string, q string) bool {
	for _, pat := range list {
		if pat == q {
			return true
		}

		if strings.HasSuffix(pat, ".*") && strings.HasPrefix(q, pat[:len(pat)-1]) {
			return true
		}
	}

	return false
}

func (c *checker) err(p ast.Pos, code diag.Code, f string, args ...any) {
	c.ds = append(c.ds, diag.Errorf(diag.Safety, code, p.Line, p.Col, f, args...))
}
