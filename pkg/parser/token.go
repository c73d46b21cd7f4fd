package parser

import "fmt"

// TokenType represents the type of a lexical token.
type TokenType int

//nolint:revive // TOKEN_* names are intentionally ALL_CAPS for SQL token conventions
const (
	TOKEN_EOF TokenType = iota
	TOKEN_ILLEGAL

	TOKEN_IDENT  // orders, #tmp, @var
	TOKEN_QIDENT // "Orders", [Orders], `orders` (raw text, delimiters kept)
	TOKEN_NUMBER // 123, 45.67, 1e10
	TOKEN_STRING // 'hello', $$body$$
	TOKEN_PARAM  // ?, $1, :name
	TOKEN_STAGE  // @my_stage/path (Snowflake)

	TOKEN_OP        // any operator with no structural meaning: + - * / = <> || ...
	TOKEN_STAR      // *
	TOKEN_DOT       // .
	TOKEN_COMMA     // ,
	TOKEN_SEMICOLON // ;
	TOKEN_LPAREN    // (
	TOKEN_RPAREN    // )
	TOKEN_DCOLON    // ::

	keywordStart

	// Keywords (alphabetical)
	TOKEN_ALL
	TOKEN_ALTER
	TOKEN_ANTI
	TOKEN_APPLY
	TOKEN_AS
	TOKEN_ASOF
	TOKEN_BY
	TOKEN_CASE
	TOKEN_CLONE
	TOKEN_COPY
	TOKEN_CREATE
	TOKEN_CROSS
	TOKEN_DEFAULT
	TOKEN_DELETE
	TOKEN_DISTINCT
	TOKEN_ELSE
	TOKEN_END
	TOKEN_EXCEPT
	TOKEN_FETCH
	TOKEN_FINAL
	TOKEN_FOR
	TOKEN_FROM
	TOKEN_FULL
	TOKEN_GROUP
	TOKEN_HAVING
	TOKEN_IF
	TOKEN_INNER
	TOKEN_INSERT
	TOKEN_INTERSECT
	TOKEN_INTO
	TOKEN_JOIN
	TOKEN_LATERAL
	TOKEN_LEFT
	TOKEN_LIKE
	TOKEN_LIMIT
	TOKEN_MATERIALIZED
	TOKEN_MERGE
	TOKEN_MINUS
	TOKEN_NATURAL
	TOKEN_NOT
	TOKEN_NULL
	TOKEN_OFFSET
	TOKEN_ON
	TOKEN_ONLY
	TOKEN_OPTION
	TOKEN_OR
	TOKEN_ORDER
	TOKEN_OUTER
	TOKEN_OUTPUT
	TOKEN_OVERWRITE
	TOKEN_PIVOT
	TOKEN_POSITIONAL
	TOKEN_QUALIFY
	TOKEN_RECURSIVE
	TOKEN_REPLACE
	TOKEN_RETURNING
	TOKEN_RIGHT
	TOKEN_SAMPLE
	TOKEN_SELECT
	TOKEN_SEMI
	TOKEN_SET
	TOKEN_TABLE
	TOKEN_TABLESAMPLE
	TOKEN_TEMP
	TOKEN_THEN
	TOKEN_TO
	TOKEN_TOP
	TOKEN_UNION
	TOKEN_UNPIVOT
	TOKEN_UPDATE
	TOKEN_USING
	TOKEN_VALUES
	TOKEN_VIEW
	TOKEN_WHEN
	TOKEN_WHERE
	TOKEN_WINDOW
	TOKEN_WITH

	keywordEnd
)

// Token represents a lexical token with position information.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

// Position represents a location in the source text.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
	Offset int // 0-based byte offset
}

// IsKeyword reports whether the token is a keyword.
func (t Token) IsKeyword() bool {
	return t.Type > keywordStart && t.Type < keywordEnd
}

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	for kw, typ := range keywords {
		if typ == t {
			return kw
		}
	}
	return fmt.Sprintf("TOKEN(%d)", t)
}

// tokenNames maps non-keyword token types to their string representations.
var tokenNames = map[TokenType]string{
	TOKEN_EOF:     "EOF",
	TOKEN_ILLEGAL: "ILLEGAL",

	TOKEN_IDENT:  "IDENT",
	TOKEN_QIDENT: "QUOTED_IDENT",
	TOKEN_NUMBER: "NUMBER",
	TOKEN_STRING: "STRING",
	TOKEN_PARAM:  "PARAM",
	TOKEN_STAGE:  "STAGE",

	TOKEN_OP:        "OPERATOR",
	TOKEN_STAR:      "*",
	TOKEN_DOT:       ".",
	TOKEN_COMMA:     ",",
	TOKEN_SEMICOLON: ";",
	TOKEN_LPAREN:    "(",
	TOKEN_RPAREN:    ")",
	TOKEN_DCOLON:    "::",
}
