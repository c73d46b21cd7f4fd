package parser

import (
	"fmt"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// ParseError represents a parsing error with position information.
type ParseError struct {
	Pos     Position
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Unwrap makes errors.Is(err, core.ErrUnparsableQuery) hold.
func (e *ParseError) Unwrap() error {
	return core.ErrUnparsableQuery
}

// LexError represents a lexical analysis error.
type LexError struct {
	Pos     Position
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lexer error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Unwrap makes errors.Is(err, core.ErrUnparsableQuery) hold.
func (e *LexError) Unwrap() error {
	return core.ErrUnparsableQuery
}

// Common error messages
const (
	ErrUnexpectedToken     = "unexpected %s, expected %s"
	ErrUnterminatedString  = "unterminated string literal"
	ErrUnterminatedIdent   = "unterminated quoted identifier"
	ErrUnterminatedComment = "unterminated block comment"
	ErrEmptyStatement      = "empty statement"
	ErrNoLineage           = "%s statement carries no lineage (%s)"
	ErrUnsupported         = "unsupported statement starting with %s"
	ErrMultipleTargets     = "script writes %d different tables; parse it statement by statement"
)

// describe renders a token for error messages.
func describe(tok Token) string {
	switch tok.Type {
	case TOKEN_EOF:
		return "end of input"
	case TOKEN_ILLEGAL:
		return "invalid input"
	}
	return fmt.Sprintf("%q", tok.Literal)
}
