package parser_test

import (
	"errors"
	"testing"

	"github.com/leapstack-labs/querylineage/pkg/core"
	"github.com/leapstack-labs/querylineage/pkg/dialects/mssql"
	"github.com/leapstack-labs/querylineage/pkg/dialects/postgres"
	"github.com/leapstack-labs/querylineage/pkg/dialects/snowflake"
	"github.com/leapstack-labs/querylineage/pkg/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenTypes(tokens []parser.Token) []parser.TokenType {
	out := make([]parser.TokenType, len(tokens))
	for i, t := range tokens {
		out[i] = t.Type
	}
	return out
}

func TestLexer_Tokens(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []parser.TokenType
	}{
		{
			name:  "simple select",
			input: "SELECT a, b FROM t;",
			want: []parser.TokenType{
				parser.TOKEN_SELECT, parser.TOKEN_IDENT, parser.TOKEN_COMMA, parser.TOKEN_IDENT,
				parser.TOKEN_FROM, parser.TOKEN_IDENT, parser.TOKEN_SEMICOLON, parser.TOKEN_EOF,
			},
		},
		{
			name:  "qualified star",
			input: "SELECT t.* FROM s.t",
			want: []parser.TokenType{
				parser.TOKEN_SELECT, parser.TOKEN_IDENT, parser.TOKEN_DOT, parser.TOKEN_STAR,
				parser.TOKEN_FROM, parser.TOKEN_IDENT, parser.TOKEN_DOT, parser.TOKEN_IDENT, parser.TOKEN_EOF,
			},
		},
		{
			name:  "comments are skipped",
			input: "-- leading\nSELECT /* inline /* nested */ */ 1",
			want:  []parser.TokenType{parser.TOKEN_SELECT, parser.TOKEN_NUMBER, parser.TOKEN_EOF},
		},
		{
			name:  "operators collapse",
			input: "a >= 1 AND b <> 2",
			want: []parser.TokenType{
				parser.TOKEN_IDENT, parser.TOKEN_OP, parser.TOKEN_NUMBER, parser.TOKEN_IDENT,
				parser.TOKEN_IDENT, parser.TOKEN_OP, parser.TOKEN_NUMBER, parser.TOKEN_EOF,
			},
		},
		{
			name:  "prefixed strings",
			input: "N'x' E'y'",
			want:  []parser.TokenType{parser.TOKEN_STRING, parser.TOKEN_STRING, parser.TOKEN_EOF},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := parser.Tokenize(tt.input, postgres.Postgres)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tokenTypes(tokens))
		})
	}
}

func TestLexer_QuotedIdentifiers(t *testing.T) {
	tokens, err := parser.Tokenize(`[Sales Data].[Orders] "a""b"`, mssql.MSSQL)
	require.NoError(t, err)
	require.Len(t, tokens, 5)

	assert.Equal(t, parser.TOKEN_QIDENT, tokens[0].Type)
	assert.Equal(t, "[Sales Data]", tokens[0].Literal)
	assert.Equal(t, parser.TOKEN_DOT, tokens[1].Type)
	assert.Equal(t, "[Orders]", tokens[2].Literal)
	assert.Equal(t, `"a""b"`, tokens[3].Literal)
}

func TestLexer_DialectSpecific(t *testing.T) {
	t.Run("mssql temp tables and variables are identifiers", func(t *testing.T) {
		tokens, err := parser.Tokenize("#tmp @var", mssql.MSSQL)
		require.NoError(t, err)
		assert.Equal(t, []parser.TokenType{parser.TOKEN_IDENT, parser.TOKEN_IDENT, parser.TOKEN_EOF}, tokenTypes(tokens))
		assert.Equal(t, "#tmp", tokens[0].Literal)
		assert.Equal(t, "@var", tokens[1].Literal)
	})

	t.Run("snowflake stages", func(t *testing.T) {
		tokens, err := parser.Tokenize("@raw_stage/2024/ @~/x", snowflake.Snowflake)
		require.NoError(t, err)
		assert.Equal(t, []parser.TokenType{parser.TOKEN_STAGE, parser.TOKEN_STAGE, parser.TOKEN_EOF}, tokenTypes(tokens))
		assert.Equal(t, "@raw_stage/2024/", tokens[0].Literal)
	})

	t.Run("postgres casts params and dollar strings", func(t *testing.T) {
		tokens, err := parser.Tokenize("$1::date $$it's$$ $tag$x$tag$", postgres.Postgres)
		require.NoError(t, err)
		assert.Equal(t, []parser.TokenType{
			parser.TOKEN_PARAM, parser.TOKEN_DCOLON, parser.TOKEN_IDENT,
			parser.TOKEN_STRING, parser.TOKEN_STRING, parser.TOKEN_EOF,
		}, tokenTypes(tokens))
		assert.Equal(t, "it's", tokens[3].Literal)
		assert.Equal(t, "x", tokens[4].Literal)
	})

	t.Run("backslash does not escape in strings", func(t *testing.T) {
		tokens, err := parser.Tokenize(`'C:\' x`, mssql.MSSQL)
		require.NoError(t, err)
		assert.Equal(t, `C:\`, tokens[0].Literal)
		assert.Equal(t, parser.TOKEN_IDENT, tokens[1].Type)
	})
}

func TestLexer_Positions(t *testing.T) {
	tokens, err := parser.Tokenize("SELECT a\n  FROM t", nil)
	require.NoError(t, err)

	assert.Equal(t, parser.Position{Line: 1, Column: 1, Offset: 0}, tokens[0].Pos)
	assert.Equal(t, 2, tokens[2].Pos.Line)
	assert.Equal(t, 3, tokens[2].Pos.Column)
}

func TestLexer_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		msg   string
	}{
		{"unterminated string", "SELECT 'abc", parser.ErrUnterminatedString},
		{"unterminated identifier", "SELECT [abc FROM t", parser.ErrUnterminatedIdent},
		{"unterminated comment", "SELECT 1 /* never closed", parser.ErrUnterminatedComment},
		{"unterminated dollar string", "SELECT $$abc", parser.ErrUnterminatedString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Tokenize(tt.input, mssql.MSSQL)
			require.Error(t, err)

			var lexErr *parser.LexError
			require.ErrorAs(t, err, &lexErr)
			assert.Equal(t, tt.msg, lexErr.Message)
			assert.True(t, errors.Is(err, core.ErrUnparsableQuery))
		})
	}
}
