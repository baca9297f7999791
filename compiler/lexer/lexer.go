package lexer

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slatelang/slate/compiler/diag"
	"github.com/slatelang/slate/compiler/token"
)

// Tokenize converts src into the full token stream for one compilation
// unit. Indentation becomes INDENT/DEDENT pairs, content lines end with
// NEWLINE, and the stream always ends with DEDENTs closing every open
// level followed by a single EOF. Blank lines and comment-only lines
// contribute no tokens.
//
// All lexical problems are collected into diagnostics; the returned
// stream is always usable by the parser.
func Tokenize(ctx context.Context, src []byte) (toks []token.Token, ds []diag.Diagnostic) {
	tr := tlog.SpawnFromContext(ctx, "lex", "src_len", len(src))
	defer func() {
		tr.Finish("tokens", len(toks), "diags", len(ds))
	}()

	l := &lexer{
		src:     src,
		line:    1,
		col:     1,
		indents: []int{0},
		tr:      tr,
	}

	for l.i < len(l.src) {
		width, ok := l.lineStart()
		if !ok {
			break
		}

		l.structure(width)
		l.content()
	}

	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.emit(token.Dedent, "")
	}

	l.emit(token.EOF, "")

	if l.tr.If("tokens") {
		for _, t := range l.toks {
			l.tr.Printw("token", "line", t.Line, "col", t.Col, "tok", t.String())
		}
	}

	return l.toks, l.ds
}

type lexer struct {
	src []byte
	i   int

	line, col int

	indents []int

	toks []token.Token
	ds   []diag.Diagnostic

	tr tlog.Span
}

// lineStart skips blank and comment-only lines and measures the
// indentation width of the next content line. ok is false at stream end.
func (l *lexer) lineStart() (width int, ok bool) {
	for l.i < len(l.src) {
		width = 0

		for l.i < len(l.src) {
			switch l.src[l.i] {
			case ' ':
				width++
			case '\t':
				width += 4
			case '\r':
			default:
				goto measured
			}

			l.adv()
		}

	measured:
		if l.i == len(l.src) {
			return 0, false
		}

		switch c := l.src[l.i]; {
		case c == '\n':
			l.adv()
		case c == '#' && !l.blockStart():
			l.lineComment()
		case c == '#':
			l.blockComment()

			// content may follow the closing marker on the same line
			if l.skipPad(); l.i < len(l.src) && l.src[l.i] != '\n' && l.src[l.i] != '#' {
				return width, true
			}
		default:
			return width, true
		}
	}

	return 0, false
}

// structure compares width against the indent stack and emits
// INDENT/DEDENT tokens. A dedent to a width that matches no open level
// is InconsistentIndentation; the lexer aligns to the nearest popped
// level and goes on.
func (l *lexer) structure(width int) {
	top := l.indents[len(l.indents)-1]

	if width > top {
		l.indents = append(l.indents, width)
		l.emit(token.Indent, "")

		return
	}

	for width < l.indents[len(l.indents)-1] {
		l.indents = l.indents[:len(l.indents)-1]
		l.emit(token.Dedent, "")
	}

	if width != l.indents[len(l.indents)-1] {
		l.err(diag.InconsistentIndentation, "indentation width %d matches no open block", width)
	}
}

// content lexes tokens until the end of the logical line and emits the
// trailing NEWLINE.
func (l *lexer) content() {
	for l.i < len(l.src) {
		c := l.src[l.i]

		switch {
		case c == '\n':
			line, col := l.line, l.col
			l.adv()
			l.emitAt(token.Newline, "", line, col)

			return
		case c == ' ' || c == '\t' || c == '\r':
			l.adv()
		case c == '#' && l.blockStart():
			l.blockComment()
		case c == '#':
			l.lineComment()
		case c == '"':
			l.str()
		case c == '\'':
			l.char()
		case c >= '0' && c <= '9':
			l.number()
		case isIdent0(c):
			l.ident()
		default:
			l.operator()
		}
	}

	l.emit(token.Newline, "")
}

func (l *lexer) blockStart() bool {
	return l.i+2 < len(l.src) && l.src[l.i+1] == '#' && l.src[l.i+2] == '#'
}

func (l *lexer) lineComment() {
	for l.i < len(l.src) && l.src[l.i] != '\n' {
		l.adv()
	}
}

func (l *lexer) blockComment() {
	line, col := l.line, l.col

	l.adv() // #
	l.adv() // #
	l.adv() // #

	for l.i < len(l.src) {
		if l.src[l.i] == '#' && l.blockStart() {
			l.adv()
			l.adv()
			l.adv()

			return
		}

		l.adv()
	}

	l.errAt(line, col, diag.Unterminated, "unterminated block comment")
}

func (l *lexer) skipPad() {
	for l.i < len(l.src) && (l.src[l.i] == ' ' || l.src[l.i] == '\t' || l.src[l.i] == '\r') {
		l.adv()
	}
}

func (l *lexer) str() {
	line, col := l.line, l.col

	l.adv() // "

	var b []byte

	for l.i < len(l.src) {
		c := l.src[l.i]

		switch c {
		case '"':
			l.adv()
			l.emitAt(token.String, string(b), line, col)

			return
		case '\n':
			l.errAt(line, col, diag.Unterminated, "unterminated string literal")
			l.emitAt(token.String, string(b), line, col)

			return
		case '\\':
			l.adv()

			if l.i == len(l.src) {
				continue
			}

			b = append(b, unescape(l.src[l.i]))
			l.adv()
		default:
			b = append(b, c)
			l.adv()
		}
	}

	l.errAt(line, col, diag.Unterminated, "unterminated string literal")
	l.emitAt(token.String, string(b), line, col)
}

func (l *lexer) char() {
	line, col := l.line, l.col

	l.adv() // '

	var c byte

	switch {
	case l.i == len(l.src) || l.src[l.i] == '\n':
		l.errAt(line, col, diag.Unterminated, "unterminated char literal")

		return
	case l.src[l.i] == '\\':
		l.adv()

		if l.i < len(l.src) {
			c = unescape(l.src[l.i])
			l.adv()
		}
	default:
		c = l.src[l.i]
		l.adv()
	}

	if l.i == len(l.src) || l.src[l.i] != '\'' {
		l.errAt(line, col, diag.Unterminated, "unterminated char literal")
	} else {
		l.adv()
	}

	l.emitAt(token.Char, string([]byte{c}), line, col)
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case '0':
		return 0
	}

	// \\, \", \' and anything unrecognized stand for themselves
	return c
}

func (l *lexer) number() {
	line, col := l.line, l.col
	start := l.i

	if l.src[l.i] == '0' && l.i+1 < len(l.src) && (l.src[l.i+1] == 'x' || l.src[l.i+1] == 'X') {
		l.adv()
		l.adv()

		for l.i < len(l.src) && (isHex(l.src[l.i]) || l.src[l.i] == '_') {
			l.adv()
		}

		l.emitAt(token.Int, string(l.src[start:l.i]), line, col)

		return
	}

	if l.src[l.i] == '0' && l.i+1 < len(l.src) && (l.src[l.i+1] == 'b' || l.src[l.i+1] == 'B') {
		l.adv()
		l.adv()

		for l.i < len(l.src) && (l.src[l.i] == '0' || l.src[l.i] == '1' || l.src[l.i] == '_') {
			l.adv()
		}

		l.emitAt(token.Int, string(l.src[start:l.i]), line, col)

		return
	}

	float := false

	for l.i < len(l.src) && (isDigit(l.src[l.i]) || l.src[l.i] == '_') {
		l.adv()
	}

	// a '.' starts a fraction only when a digit follows; '..' is a range
	if l.i+1 < len(l.src) && l.src[l.i] == '.' && isDigit(l.src[l.i+1]) {
		float = true
		l.adv()

		for l.i < len(l.src) && (isDigit(l.src[l.i]) || l.src[l.i] == '_') {
			l.adv()
		}
	}

	if l.i < len(l.src) && (l.src[l.i] == 'e' || l.src[l.i] == 'E') {
		j := l.i + 1

		if j < len(l.src) && (l.src[j] == '+' || l.src[j] == '-') {
			j++
		}

		if j < len(l.src) && isDigit(l.src[j]) {
			float = true

			for l.i < j {
				l.adv()
			}

			for l.i < len(l.src) && isDigit(l.src[l.i]) {
				l.adv()
			}
		}
	}

	kind := token.Int
	if float {
		kind = token.Float
	}

	l.emitAt(kind, string(l.src[start:l.i]), line, col)
}

func (l *lexer) ident() {
	line, col := l.line, l.col
	start := l.i

	for l.i < len(l.src) && isIdent(l.src[l.i]) {
		l.adv()
	}

	lex := string(l.src[start:l.i])

	if k, ok := token.Keywords[lex]; ok {
		l.emitAt(k, lex, line, col)

		return
	}

	l.emitAt(token.Ident, lex, line, col)
}

func (l *lexer) operator() {
	line, col := l.line, l.col
	c := l.src[l.i]

	two := byte(0)
	if l.i+1 < len(l.src) {
		two = l.src[l.i+1]
	}

	emit2 := func(k token.Kind) {
		l.adv()
		l.adv()
		l.emitAt(k, "", line, col)
	}

	emit1 := func(k token.Kind) {
		l.adv()
		l.emitAt(k, "", line, col)
	}

	switch c {
	case '+':
		if two == '=' {
			emit2(token.AddAssign)
		} else {
			emit1(token.Add)
		}
	case '-':
		switch two {
		case '>':
			emit2(token.Arrow)
		case '=':
			emit2(token.SubAssign)
		default:
			emit1(token.Sub)
		}
	case '*':
		switch two {
		case '*':
			emit2(token.Pow)
		case '=':
			emit2(token.MulAssign)
		default:
			emit1(token.Mul)
		}
	case '/':
		if two == '=' {
			emit2(token.DivAssign)
		} else {
			emit1(token.Div)
		}
	case '%':
		if two == '=' {
			emit2(token.ModAssign)
		} else {
			emit1(token.Mod)
		}
	case '=':
		if two == '=' {
			emit2(token.Eq)
		} else {
			emit1(token.Assign)
		}
	case '!':
		if two == '=' {
			emit2(token.Ne)
		} else {
			l.err(diag.InvalidCharacter, "unexpected character %q", string(c))
			l.adv()
		}
	case '<':
		switch two {
		case '=':
			emit2(token.Le)
		case '<':
			emit2(token.Shl)
		default:
			emit1(token.Lt)
		}
	case '>':
		switch two {
		case '=':
			emit2(token.Ge)
		case '>':
			emit2(token.Shr)
		default:
			emit1(token.Gt)
		}
	case '&':
		emit1(token.Amp)
	case '|':
		emit1(token.Pipe)
	case '^':
		emit1(token.Caret)
	case '~':
		emit1(token.Tilde)
	case '(':
		emit1(token.LParen)
	case ')':
		emit1(token.RParen)
	case '[':
		emit1(token.LBracket)
	case ']':
		emit1(token.RBracket)
	case '{':
		emit1(token.LBrace)
	case '}':
		emit1(token.RBrace)
	case ',':
		emit1(token.Comma)
	case '.':
		if two == '.' {
			emit2(token.Range)
		} else {
			emit1(token.Dot)
		}
	case ':':
		emit1(token.Colon)
	case ';':
		emit1(token.Semi)
	case '@':
		emit1(token.At)
	default:
		l.err(diag.InvalidCharacter, "unexpected character %q", string(c))
		l.adv()
	}
}

func (l *lexer) adv() {
	if l.src[l.i] == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}

	l.i++
}

func (l *lexer) emit(k token.Kind, lex string) {
	l.emitAt(k, lex, l.line, l.col)
}

func (l *lexer) emitAt(k token.Kind, lex string, line, col int) {
	l.toks = append(l.toks, token.Token{Kind: k, Lexeme: lex, Line: line, Col: col})
}

func (l *lexer) err(code diag.Code, f string, args ...any) {
	l.errAt(l.line, l.col, code, f, args...)
}

func (l *lexer) errAt(line, col int, code diag.Code, f string, args ...any) {
	l.ds = append(l.ds, diag.Errorf(diag.Lex, code, line, col, f, args...))
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHex(c byte) bool {
	return isDigit(c) || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func isIdent0(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdent(c byte) bool { return isIdent0(c) || isDigit(c) }
