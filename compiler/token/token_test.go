package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywords(t *testing.T) {
	assert.Equal(t, Func, Keywords["func"])
	assert.Equal(t, TryChain, Keywords["try_chain"])
	assert.Equal(t, Fallback, Keywords["fallback"])
	assert.Equal(t, StringType, Keywords["string"])
	assert.Equal(t, Result, Keywords["result"])
	assert.Equal(t, Struct, Keywords["struct"])

	_, ok := Keywords["str"]
	assert.False(t, ok)

	_, ok = Keywords["main"]
	assert.False(t, ok)
}

func TestClasses(t *testing.T) {
	assert.True(t, Func.IsKeyword())
	assert.True(t, Continue.IsKeyword())
	assert.True(t, Impl.IsKeyword())
	assert.True(t, Result.IsKeyword())
	assert.False(t, Ident.IsKeyword())
	assert.False(t, Add.IsKeyword())

	assert.True(t, I8.IsType())
	assert.True(t, StringType.IsType())
	assert.True(t, Result.IsType())
	assert.False(t, Impl.IsType())
	assert.False(t, Func.IsType())

	assert.True(t, Struct.IsReserved())
	assert.True(t, Impl.IsReserved())
	assert.False(t, I8.IsReserved())
	assert.False(t, Match.IsReserved())

	assert.True(t, Int.IsLit())
	assert.True(t, Float.IsLit())
	assert.True(t, String.IsLit())
	assert.True(t, Char.IsLit())
	assert.True(t, True.IsLit())
	assert.True(t, False.IsLit())
	assert.False(t, Ident.IsLit())
	assert.False(t, Pass.IsLit())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "func", Func.String())
	assert.Equal(t, "string", StringType.String())
	assert.Equal(t, "identifier", Ident.String())
	assert.Equal(t, "int literal", Int.String())
	assert.Equal(t, "INDENT", Indent.String())
	assert.Equal(t, "DEDENT", Dedent.String())
	assert.Equal(t, "**", Pow.String())
	assert.Equal(t, "<=", Le.String())
	assert.Equal(t, "->", Arrow.String())
	assert.Equal(t, "..", Range.String())
	assert.Equal(t, "kind[999]", Kind(999).String())
}

func TestTokenString(t *testing.T) {
	assert.Equal(t, "identifier(main)", Token{Kind: Ident, Lexeme: "main"}.String())
	assert.Equal(t, "int literal(0xff)", Token{Kind: Int, Lexeme: "0xff"}.String())
	assert.Equal(t, "string literal(hi)", Token{Kind: String, Lexeme: "hi"}.String())
	assert.Equal(t, "while", Token{Kind: While}.String())
	assert.Equal(t, ",", Token{Kind: Comma}.String())
}
