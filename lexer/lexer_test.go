package lexer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func types(tokens []Token) []TokenType {
	out := make([]TokenType, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Type
	}
	return out
}

func TestLexPipeline(t *testing.T) {
	tokens, err := Lex(`json | where status >= 500 | count by level`)
	require.NoError(t, err)
	require.Equal(t, []TokenType{
		TokenIdent, TokenPipe, TokenIdent, TokenIdent, TokenGte, TokenInt,
		TokenPipe, TokenIdent, TokenBy, TokenIdent, TokenEOF,
	}, types(tokens))
}

func TestLexParseStage(t *testing.T) {
	tokens, err := Lex(`parse "* - *" as ip, user`)
	require.NoError(t, err)
	require.Equal(t, []TokenType{
		TokenIdent, TokenString, TokenAs, TokenIdent, TokenComma, TokenIdent, TokenEOF,
	}, types(tokens))
	require.Equal(t, "* - *", tokens[1].Val)
}

func TestLexStringEscapes(t *testing.T) {
	tokens, err := Lex(`"a\"b" "tab\there" "back\\slash"`)
	require.NoError(t, err)
	require.Equal(t, `a"b`, tokens[0].Val)
	require.Equal(t, "tab\there", tokens[1].Val)
	require.Equal(t, `back\slash`, tokens[2].Val)
}

func TestLexUnknownEscapePreserved(t *testing.T) {
	tokens, err := Lex(`"50\%"`)
	require.NoError(t, err)
	require.Equal(t, `50\%`, tokens[0].Val)
}

func TestLexUnterminatedString(t *testing.T) {
	_, err := Lex(`parse "abc`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unterminated string")
}

func TestLexNumbers(t *testing.T) {
	tokens, err := Lex(`42 3.14 0.5`)
	require.NoError(t, err)
	require.Equal(t, []TokenType{TokenInt, TokenFloat, TokenFloat, TokenEOF}, types(tokens))
	require.Equal(t, "42", tokens[0].Val)
	require.Equal(t, "3.14", tokens[1].Val)
}

func TestLexNegativeNumber(t *testing.T) {
	tokens, err := Lex(`where latency > -5`)
	require.NoError(t, err)
	require.Equal(t, []TokenType{TokenIdent, TokenIdent, TokenGt, TokenInt, TokenEOF}, types(tokens))
	require.Equal(t, "-5", tokens[3].Val)
}

func TestLexDurations(t *testing.T) {
	for _, in := range []string{"5m", "30s", "1h30m", "100ms"} {
		tokens, err := Lex(in)
		require.NoError(t, err, in)
		require.Equal(t, TokenDuration, tokens[0].Type, in)
		require.Equal(t, in, tokens[0].Val)
	}
}

func TestLexOperators(t *testing.T) {
	tokens, err := Lex(`== != < > <= >= + - * / ( ) ,`)
	require.NoError(t, err)
	require.Equal(t, []TokenType{
		TokenEq, TokenNeq, TokenLt, TokenGt, TokenLte, TokenGte,
		TokenPlus, TokenMinus, TokenStar, TokenSlash,
		TokenLParen, TokenRParen, TokenComma, TokenEOF,
	}, types(tokens))
}

func TestLexKeywords(t *testing.T) {
	tokens, err := Lex(`and or not true false null as by from except`)
	require.NoError(t, err)
	require.Equal(t, []TokenType{
		TokenAnd, TokenOr, TokenNot, TokenTrue, TokenFalse, TokenNull,
		TokenAs, TokenBy, TokenFrom, TokenExcept, TokenEOF,
	}, types(tokens))
}

func TestLexSingleEqualsError(t *testing.T) {
	_, err := Lex(`where level = "error"`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "did you mean '=='")
}

func TestLexBareBangError(t *testing.T) {
	_, err := Lex(`where ! ready`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "did you mean '!='")
}

func TestLexIdentsWithUnderscores(t *testing.T) {
	tokens, err := Lex(`_timeslice response_ms`)
	require.NoError(t, err)
	require.Equal(t, []TokenType{TokenIdent, TokenIdent, TokenEOF}, types(tokens))
	require.Equal(t, "_timeslice", tokens[0].Val)
}

func TestLexPositions(t *testing.T) {
	tokens, err := Lex(`json | count`)
	require.NoError(t, err)
	require.Equal(t, 0, tokens[0].Pos)
	require.Equal(t, 5, tokens[1].Pos)
	require.Equal(t, 7, tokens[2].Pos)
}
