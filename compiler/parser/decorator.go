package parser

import (
	"github.com/slatelang/slate/compiler/ast"
	"github.com/slatelang/slate/compiler/diag"
	"github.com/slatelang/slate/compiler/token"
)

type (
	decoSpec struct {
		module   bool // applies to the unit, not a function
		required []string
		opts     map[string]optSpec
	}

	optSpec struct {
		kinds  []ast.LitKind
		values []string // allowed spellings for name/string options, nil for any
	}
)

// registry is the closed set of recognized decorators. Unknown names
// and unknown or ill-typed options are parse errors, never ignored.
var registry = map[string]decoSpec{
	"safety_level": {
		module:   true,
		required: []string{"mode"},
		opts: map[string]optSpec{
			"mode": {kinds: []ast.LitKind{ast.NameLit, ast.StringLit}, values: []string{"SAFE", "UNSAFE", "CUSTOM"}},
		},
	},
	"unsafe": {},
	"hook": {
		required: []string{"event"},
		opts: map[string]optSpec{
			"event": {kinds: []ast.LitKind{ast.NameLit, ast.StringLit}},
		},
	},
	"service": {
		required: []string{"name"},
		opts: map[string]optSpec{
			"name": {kinds: []ast.LitKind{ast.StringLit}},
		},
	},
	"resilient": {
		opts: map[string]optSpec{
			"max_attempts": {kinds: []ast.LitKind{ast.IntLit}},
			"timeout":      {kinds: []ast.LitKind{ast.IntLit}},
			"backoff":      {kinds: []ast.LitKind{ast.NameLit, ast.StringLit}, values: []string{"exponential", "linear", "none"}},
		},
	},
}

// decorator parses one @name(...) line. Structural damage propagates as
// an error; a decorator that parses but fails registry validation is
// reported here and dropped (nil, nil), so parsing continues on the
// next line.
func (p *parser) decorator() (*ast.Decorator, error) {
	t := p.cur()
	p.adv() // @

	name, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}

	d := &ast.Decorator{Pos: pos(t), Name: name.Lexeme}

	if p.eat(token.LParen) {
		for !p.at(token.RParen) {
			an, err := p.expect(token.Ident)
			if err != nil {
				return nil, err
			}

			if _, err = p.expect(token.Colon); err != nil {
				return nil, err
			}

			av, err := p.decoValue()
			if err != nil {
				return nil, err
			}

			d.Args = append(d.Args, ast.DecoratorArg{Pos: pos(an), Name: an.Lexeme, Value: av})

			if !p.eat(token.Comma) {
				break
			}
		}

		if _, err = p.expect(token.RParen); err != nil {
			return nil, err
		}
	}

	if err = p.endLine(); err != nil {
		return nil, err
	}

	if !p.validateDeco(d) {
		return nil, nil
	}

	return d, nil
}

// decoValue parses a decorator argument: a literal constant or a bare
// identifier.
func (p *parser) decoValue() (*ast.Literal, error) {
	t := p.cur()

	if t.Kind == token.Ident {
		p.adv()

		return &ast.Literal{Pos: pos(t), Kind: ast.NameLit, Str: t.Lexeme}, nil
	}

	return p.literal()
}

func (p *parser) validateDeco(d *ast.Decorator) bool {
	spec, ok := registry[d.Name]
	if !ok {
		p.deco(d.Pos, "unknown decorator @%v", d.Name)

		return false
	}

	valid := true
	seen := map[string]bool{}

	for _, a := range d.Args {
		opt, ok := spec.opts[a.Name]
		if !ok {
			p.deco(a.Pos, "decorator @%v does not recognize option %v", d.Name, a.Name)

			valid = false

			continue
		}

		if seen[a.Name] {
			p.deco(a.Pos, "duplicate option %v in @%v", a.Name, d.Name)

			valid = false

			continue
		}

		seen[a.Name] = true

		if !kindOK(opt.kinds, a.Value.Kind) {
			p.deco(a.Pos, "@%v option %v has the wrong argument kind", d.Name, a.Name)

			valid = false

			continue
		}

		if opt.values != nil && !valueOK(opt.values, a.Value.Str) {
			p.deco(a.Pos, "@%v option %v must be one of %v, got %q", d.Name, a.Name, opt.values, a.Value.Str)

			valid = false
		}
	}

	for _, req := range spec.required {
		if !seen[req] {
			p.deco(d.Pos, "decorator @%v requires option %v", d.Name, req)

			valid = false
		}
	}

	return valid
}

func (p *parser) deco(pos ast.Pos, f string, args ...any) {
	p.ds = append(p.ds, diag.Errorf(diag.Parse, diag.MalformedDecorator, pos.Line, pos.Col, f, args...))
}

func kindOK(kinds []ast.LitKind, k ast.LitKind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}

	return false
}

func valueOK(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}

	return false
}
