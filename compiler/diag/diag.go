package diag

import (
	"fmt"
	"io"

	"nikand.dev/go/heap"
)

type (
	// Severity ranks a diagnostic. Only Error makes a compilation fail.
	Severity int

	// Stage names the pipeline stage that produced a diagnostic.
	Stage int

	// Code is the stable machine-readable identity of a diagnostic.
	// Codes are append-only.
	Code int

	// Diagnostic is the unit of user-facing compiler output.
	// Line and Col are 1-based; Col counts bytes.
	Diagnostic struct {
		Severity Severity
		Stage    Stage
		Code     Code
		Message  string
		Line     int
		Col      int
	}
)

const (
	Info Severity = iota
	Warning
	Error
)

const (
	Lex Stage = iota
	Parse
	Types
	Safety
	Codegen
)

const (
	Unterminated Code = iota
	InvalidCharacter
	InconsistentIndentation

	UnexpectedToken
	MissingFallback
	MalformedDecorator

	UndefinedSymbol
	OperandMismatch
	ReturnArityMismatch
	ReturnTypeMismatch
	IndexOutOfBounds
	DuplicateDeclaration
	NonExhaustiveMatch

	BlockedOperation
	MissingUnsafeMarker

	UnknownExternal
	UnreachableCase
	InternalInvariantViolation
)

// New builds a diagnostic with a printf-style message.
func New(sev Severity, st Stage, code Code, line, col int, f string, args ...any) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Stage:    st,
		Code:     code,
		Message:  fmt.Sprintf(f, args...),
		Line:     line,
		Col:      col,
	}
}

// Errorf is New with Error severity.
func Errorf(st Stage, code Code, line, col int, f string, args ...any) Diagnostic {
	return New(Error, st, code, line, col, f, args...)
}

// Warnf is New with Warning severity.
func Warnf(st Stage, code Code, line, col int, f string, args ...any) Diagnostic {
	return New(Warning, st, code, line, col, f, args...)
}

// HasErrors reports whether ds contains at least one Error diagnostic.
func HasErrors(ds []Diagnostic) bool {
	for _, d := range ds {
		if d.Severity == Error {
			return true
		}
	}

	return false
}

// CountErrors returns the number of Error diagnostics in ds.
func CountErrors(ds []Diagnostic) (n int) {
	for _, d := range ds {
		if d.Severity == Error {
			n++
		}
	}

	return n
}

type ordered struct {
	d   Diagnostic
	seq int
}

func orderedLess(d []ordered, i, j int) bool {
	if d[i].d.Line != d[j].d.Line {
		return d[i].d.Line < d[j].d.Line
	}
	if d[i].d.Col != d[j].d.Col {
		return d[i].d.Col < d[j].d.Col
	}

	return d[i].seq < d[j].seq
}

// Report writes ds to w in source order (line, then column), one per line,
// regardless of emission order. Equal positions keep emission order.
func Report(w io.Writer, file string, ds []Diagnostic) error {
	h := heap.Heap[ordered]{Less: orderedLess}

	for i, d := range ds {
		h.Push(ordered{d: d, seq: i})
	}

	var b []byte

	for h.Len() != 0 {
		o := h.Pop()
		b = o.d.Append(b[:0], file)
		b = append(b, '\n')

		_, err := w.Write(b)
		if err != nil {
			return err
		}
	}

	return nil
}

// Append renders the diagnostic to b in file:line:col form.
func (d Diagnostic) Append(b []byte, file string) []byte {
	if file != "" {
		b = append(b, file...)
		b = append(b, ':')
	}

	b = fmt.Appendf(b, "%d:%d: %v: %v: %v (%v)", d.Line, d.Col, d.Severity, d.Stage, d.Message, d.Code)

	return b
}

func (d Diagnostic) String() string {
	return string(d.Append(nil, ""))
}

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	}

	return fmt.Sprintf("severity[%d]", int(s))
}

func (s Stage) String() string {
	switch s {
	case Lex:
		return "lex"
	case Parse:
		return "parse"
	case Types:
		return "types"
	case Safety:
		return "safety"
	case Codegen:
		return "codegen"
	}

	return fmt.Sprintf("stage[%d]", int(s))
}

func (c Code) String() string {
	switch c {
	case Unterminated:
		return "Unterminated"
	case InvalidCharacter:
		return "InvalidCharacter"
	case InconsistentIndentation:
		return "InconsistentIndentation"
	case UnexpectedToken:
		return "UnexpectedToken"
	case MissingFallback:
		return "MissingFallback"
	case MalformedDecorator:
		return "MalformedDecorator"
	case UndefinedSymbol:
		return "UndefinedSymbol"
	case OperandMismatch:
		return "OperandMismatch"
	case ReturnArityMismatch:
		return "ReturnArityMismatch"
	case ReturnTypeMismatch:
		return "ReturnTypeMismatch"
	case IndexOutOfBounds:
		return "IndexOutOfBounds"
	case DuplicateDeclaration:
		return "DuplicateDeclaration"
	case NonExhaustiveMatch:
		return "NonExhaustiveMatch"
	case BlockedOperation:
		return "BlockedOperation"
	case MissingUnsafeMarker:
		return "MissingUnsafeMarker"
	case UnknownExternal:
		return "UnknownExternal"
	case UnreachableCase:
		return "UnreachableCase"
	case InternalInvariantViolation:
		return "InternalInvariantViolation"
	}

	return fmt.Sprintf("code[%d]", int(c))
}
