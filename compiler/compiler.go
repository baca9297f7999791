package compiler

import (
	"context"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slatelang/slate/compiler/abi"
	"github.com/slatelang/slate/compiler/analyze"
	"github.com/slatelang/slate/compiler/ast"
	"github.com/slatelang/slate/compiler/diag"
	"github.com/slatelang/slate/compiler/gen"
	"github.com/slatelang/slate/compiler/ir"
	"github.com/slatelang/slate/compiler/lexer"
	"github.com/slatelang/slate/compiler/parser"
	"github.com/slatelang/slate/compiler/safety"
)

// Options configure one compilation.
type Options struct {
	// Target is exe, dll or driver. Only exe requires a main function.
	// Empty means exe.
	Target string

	// Safety is the enforcement policy. The zero value is safe mode.
	Safety safety.Policy

	// Externs overrides the external function table. nil means abi.Default.
	Externs *abi.Table
}

// CompileFile compiles one source file. The returned error covers i/o
// only; compilation problems come back as diagnostics.
func CompileFile(ctx context.Context, name string, opts Options) (*ir.Module, []diag.Diagnostic, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	m, ds := Compile(ctx, text, opts)

	return m, ds, nil
}

// Compile runs the full pipeline on one compilation unit. Checking
// stages collect diagnostics as far as the unit stays usable; code is
// generated only when none of them reported errors. The returned
// module is nil exactly when ds contains errors.
func Compile(ctx context.Context, text []byte, opts Options) (*ir.Module, []diag.Diagnostic) {
	m, info, ds := Check(ctx, text, opts)
	if diag.HasErrors(ds) {
		return nil, ds
	}

	target := opts.Target
	if target == "" {
		target = "exe"
	}

	im, gds := gen.Generate(ctx, m, info, opts.Externs, target)

	ds = append(ds, gds...)
	if diag.HasErrors(gds) {
		return nil, ds
	}

	return im, ds
}

// Check runs the front half of the pipeline: tokenize, parse, type
// check and safety check. It is what `slate check` runs; Compile
// builds on it. Later stages keep running over whatever parsed, so one
// run reports parse, type and safety diagnostics together; only a unit
// with no usable declarations stops the pipeline early.
func Check(ctx context.Context, text []byte, opts Options) (*ast.Module, *analyze.Info, []diag.Diagnostic) {
	toks, ds := lexer.Tokenize(ctx, text)
	if diag.HasErrors(ds) {
		return nil, nil, ds
	}

	m, pds := parser.Parse(ctx, toks)

	ds = append(ds, pds...)
	if diag.HasErrors(pds) && len(m.Funcs) == 0 {
		return m, nil, ds
	}

	info, ads := analyze.Analyze(ctx, m, opts.Externs)
	ds = append(ds, ads...)

	sds := safety.Check(ctx, m, opts.Safety)
	ds = append(ds, sds...)

	return m, info, ds
}
