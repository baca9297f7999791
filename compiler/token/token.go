package token

import "fmt"

type (
	// Kind is the closed set of token kinds.
	Kind int

	// Token is one lexical element. Lexeme is the raw source text for
	// identifiers and numbers, the decoded content for string and char
	// literals, and the canonical spelling for the rest.
	// Line and Col are 1-based; Col counts bytes.
	Token struct {
		Kind   Kind
		Lexeme string
		Line   int
		Col    int
	}
)

const (
	Illegal Kind = iota
	EOF
	Newline
	Indent
	Dedent

	Ident
	Int    // 10, 0xff, 0b1010, 1_000_000
	Float  // 1.5, 2e9, 2.5e-3
	String // "text"
	Char   // 'c'

	// Keywords.
	Func
	Let
	Var
	If
	Elif
	Else
	While
	For
	In
	Match
	Case
	Return
	Import
	From
	Module
	Defer
	TryChain
	Primary
	Secondary
	Fallback
	True
	False
	And
	Or
	Not
	Pass
	Break
	Continue

	// Reserved keywords. Lexed, always rejected by the parser.
	Struct
	Enum
	Trait
	Impl

	// Type keywords.
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	F32
	F64
	Bool
	StringType
	CharType
	Void
	Ptr
	Array
	Slice
	TupleType
	Status
	Handle
	Result

	// Operators.
	Add    // +
	Sub    // -
	Mul    // *
	Div    // /
	Mod    // %
	Pow    // **
	Eq     // ==
	Ne     // !=
	Lt     // <
	Gt     // >
	Le     // <=
	Ge     // >=
	Assign // =
	AddAssign
	SubAssign
	MulAssign
	DivAssign
	ModAssign
	Amp    // &
	Pipe   // |
	Caret  // ^
	Tilde  // ~
	Shl    // <<
	Shr    // >>

	// Punctuation.
	LParen
	RParen
	LBracket
	RBracket
	LBrace
	RBrace
	Comma
	Dot
	Colon
	Semi
	Arrow // ->
	Range // ..
	At    // @
)

// Keywords maps source spellings to keyword and type-keyword kinds.
var Keywords = map[string]Kind{
	"func":      Func,
	"let":       Let,
	"var":       Var,
	"if":        If,
	"elif":      Elif,
	"else":      Else,
	"while":     While,
	"for":       For,
	"in":        In,
	"match":     Match,
	"case":      Case,
	"return":    Return,
	"import":    Import,
	"from":      From,
	"module":    Module,
	"defer":     Defer,
	"try_chain": TryChain,
	"primary":   Primary,
	"secondary": Secondary,
	"fallback":  Fallback,
	"true":      True,
	"false":     False,
	"and":       And,
	"or":        Or,
	"not":       Not,
	"pass":      Pass,
	"break":     Break,
	"continue":  Continue,

	"struct": Struct,
	"enum":   Enum,
	"trait":  Trait,
	"impl":   Impl,

	"i8":     I8,
	"i16":    I16,
	"i32":    I32,
	"i64":    I64,
	"u8":     U8,
	"u16":    U16,
	"u32":    U32,
	"u64":    U64,
	"f32":    F32,
	"f64":    F64,
	"bool":   Bool,
	"string": StringType,
	"char":   CharType,
	"void":   Void,
	"ptr":    Ptr,
	"array":  Array,
	"slice":  Slice,
	"tuple":  TupleType,
	"status": Status,
	"handle": Handle,
	"result": Result,
}

var names = map[Kind]string{
	Illegal: "ILLEGAL",
	EOF:     "EOF",
	Newline: "NEWLINE",
	Indent:  "INDENT",
	Dedent:  "DEDENT",

	Ident:  "identifier",
	Int:    "int literal",
	Float:  "float literal",
	String: "string literal",
	Char:   "char literal",

	Add:       "+",
	Sub:       "-",
	Mul:       "*",
	Div:       "/",
	Mod:       "%",
	Pow:       "**",
	Eq:        "==",
	Ne:        "!=",
	Lt:        "<",
	Gt:        ">",
	Le:        "<=",
	Ge:        ">=",
	Assign:    "=",
	AddAssign: "+=",
	SubAssign: "-=",
	MulAssign: "*=",
	DivAssign: "/=",
	ModAssign: "%=",
	Amp:       "&",
	Pipe:      "|",
	Caret:     "^",
	Tilde:     "~",
	Shl:       "<<",
	Shr:       ">>",

	LParen:   "(",
	RParen:   ")",
	LBracket: "[",
	RBracket: "]",
	LBrace:   "{",
	RBrace:   "}",
	Comma:    ",",
	Dot:      ".",
	Colon:    ":",
	Semi:     ";",
	Arrow:    "->",
	Range:    "..",
	At:       "@",
}

func init() {
	for s, k := range Keywords {
		names[k] = s
	}
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}

	return fmt.Sprintf("kind[%d]", int(k))
}

// IsKeyword reports whether k is a keyword, including reserved and type keywords.
func (k Kind) IsKeyword() bool { return k >= Func && k <= Result }

// IsType reports whether k names a builtin type.
func (k Kind) IsType() bool { return k >= I8 && k <= Result }

// IsReserved reports whether k is reserved for future use.
func (k Kind) IsReserved() bool { return k >= Struct && k <= Impl }

// IsLit reports whether k is a literal kind, bool keywords included.
func (k Kind) IsLit() bool {
	return k == Int || k == Float || k == String || k == Char || k == True || k == False
}

func (t Token) String() string {
	switch t.Kind {
	case Ident, Int, Float, String, Char:
		return fmt.Sprintf("%v(%v)", t.Kind, t.Lexeme)
	}

	return t.Kind.String()
}
