package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slatelang/slate/compiler"
	"github.com/slatelang/slate/compiler/diag"
	"github.com/slatelang/slate/compiler/format"
	"github.com/slatelang/slate/compiler/ir"
	"github.com/slatelang/slate/compiler/lexer"
	"github.com/slatelang/slate/compiler/safety"
)

func main() {
	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "compile files and print the ir listing",
		Action:      compileAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("target", "exe", "build target: exe, dll or driver"),
			cli.NewFlag("output,o", "", "write the listing to a file instead of stdout"),
		},
	}

	checkCmd := &cli.Command{
		Name:        "check",
		Description: "run all checks without generating code",
		Action:      checkAct,
		Args:        cli.Args{},
	}

	tokensCmd := &cli.Command{
		Name:        "tokens",
		Description: "dump the token stream",
		Action:      tokensAct,
		Args:        cli.Args{},
	}

	astCmd := &cli.Command{
		Name:        "ast",
		Description: "dump the checked tree",
		Action:      astAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "slate",
		Description: "slate is a tool for compiling slate source code",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("safety", "safe", "enforcement mode: safe, unsafe or custom"),
			cli.NewFlag("allow", "", "comma separated operations to allow in custom mode"),
			cli.NewFlag("block", "", "comma separated operations to block in custom mode"),
			cli.NewFlag("verbosity,v", "", "tlog verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			compileCmd,
			checkCmd,
			tokensCmd,
			astCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.DefaultLogger = tlog.New(tlog.NewConsoleWriter(os.Stderr, tlog.LstdFlags))
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func compileAct(c *cli.Command) error {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	opts, err := options(c)
	if err != nil {
		return err
	}

	opts.Target = c.String("target")

	switch opts.Target {
	case "exe", "dll", "driver":
	default:
		return errors.New("unknown target %q", opts.Target)
	}

	var listing []byte

	for _, a := range c.Args {
		m, ds, err := compiler.CompileFile(ctx, a, opts)
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		report(a, ds)

		if m == nil {
			return errors.New("compile %v: %d errors", a, diag.CountErrors(ds))
		}

		listing = append(listing, ir.Print(m)...)
	}

	if out := c.String("output"); out != "" {
		err = os.WriteFile(out, listing, 0o644)
		if err != nil {
			return errors.Wrap(err, "write output")
		}

		return nil
	}

	fmt.Printf("%s", listing)

	return nil
}

func checkAct(c *cli.Command) error {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	opts, err := options(c)
	if err != nil {
		return err
	}

	failed := 0

	for _, a := range c.Args {
		text, err := os.ReadFile(a)
		if err != nil {
			return errors.Wrap(err, "read %v", a)
		}

		_, _, ds := compiler.Check(ctx, text, opts)

		report(a, ds)

		if diag.HasErrors(ds) {
			failed++
		}
	}

	if failed != 0 {
		return errors.New("%d of %d files failed", failed, len(c.Args))
	}

	return nil
}

func tokensAct(c *cli.Command) error {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	for _, a := range c.Args {
		text, err := os.ReadFile(a)
		if err != nil {
			return errors.Wrap(err, "read %v", a)
		}

		toks, ds := lexer.Tokenize(ctx, text)

		report(a, ds)

		for _, t := range toks {
			fmt.Printf("%d:%d\t%v\n", t.Line, t.Col, t)
		}
	}

	return nil
}

func astAct(c *cli.Command) error {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	opts, err := options(c)
	if err != nil {
		return err
	}

	for _, a := range c.Args {
		text, err := os.ReadFile(a)
		if err != nil {
			return errors.Wrap(err, "read %v", a)
		}

		m, _, ds := compiler.Check(ctx, text, opts)

		report(a, ds)

		if m == nil {
			return errors.New("parse %v: %d errors", a, diag.CountErrors(ds))
		}

		fmt.Printf("%s", format.Format(nil, m))
	}

	return nil
}

func options(c *cli.Command) (compiler.Options, error) {
	mode, ok := safety.ParseMode(c.String("safety"))
	if !ok {
		return compiler.Options{}, errors.New("unknown safety mode %q", c.String("safety"))
	}

	return compiler.Options{
		Safety: safety.Policy{
			Mode: mode,
			Rules: safety.Ruleset{
				Allow: list(c.String("allow")),
				Block: list(c.String("block")),
			},
		},
	}, nil
}

func list(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	return parts
}

func report(file string, ds []diag.Diagnostic) {
	if len(ds) == 0 {
		return
	}

	_ = diag.Report(os.Stderr, file, ds)
}
