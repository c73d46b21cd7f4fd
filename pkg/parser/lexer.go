package parser

import (
	"strings"

	"github.com/leapstack-labs/querylineage/pkg/dialect"
)

// Lexer tokenizes SQL input using the identifier rules of a dialect.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)

	dialect *dialect.Dialect
	err     *LexError // first lexical error, if any
}

// NewLexer creates a new Lexer for the given input. A nil dialect means ANSI
// double-quoted identifiers only.
func NewLexer(input string, d *dialect.Dialect) *Lexer {
	l := &Lexer{
		input:   input,
		line:    1,
		col:     0,
		dialect: d,
	}
	l.readChar()
	return l
}

// Err returns the first lexical error encountered.
func (l *Lexer) Err() error {
	if l.err == nil {
		return nil
	}
	return l.err
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // ASCII NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// currentPos returns the current position.
func (l *Lexer) currentPos() Position {
	return Position{
		Line:   l.line,
		Column: l.col,
		Offset: l.pos,
	}
}

func (l *Lexer) fail(pos Position, msg string) {
	if l.err == nil {
		l.err = &LexError{Pos: pos, Message: msg}
	}
}

// closeQuote returns the identifier delimiter closing ch for the dialect.
func (l *Lexer) closeQuote(ch byte) (byte, bool) {
	if l.dialect == nil {
		if ch == '"' {
			return '"', true
		}
		return 0, false
	}
	return l.dialect.Identifiers.CloseFor(ch)
}

func (l *Lexer) isIdentStart(ch byte) bool {
	if isLetter(ch) || ch == '_' {
		return true
	}
	return l.dialect != nil && l.dialect.IsIdentStart(ch)
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.currentPos()
	if l.atEOF() {
		return Token{Type: TOKEN_EOF, Pos: pos}
	}

	if closeCh, ok := l.closeQuote(l.ch); ok {
		return l.readQuotedIdentifier(pos, closeCh)
	}

	switch l.ch {
	case '\'':
		return l.readString(pos)
	case '*':
		return l.single(TOKEN_STAR, pos)
	case ',':
		return l.single(TOKEN_COMMA, pos)
	case ';':
		return l.single(TOKEN_SEMICOLON, pos)
	case '(':
		return l.single(TOKEN_LPAREN, pos)
	case ')':
		return l.single(TOKEN_RPAREN, pos)
	case '?':
		return l.single(TOKEN_PARAM, pos)
	case '.':
		if isDigit(l.peekChar()) {
			return Token{Type: TOKEN_NUMBER, Literal: l.readNumber(), Pos: pos}
		}
		return l.single(TOKEN_DOT, pos)
	case ':':
		if l.peekChar() == ':' {
			l.readChar()
			l.readChar()
			return Token{Type: TOKEN_DCOLON, Literal: "::", Pos: pos}
		}
		if isLetter(l.peekChar()) || l.peekChar() == '_' {
			start := l.pos
			l.readChar()
			l.readWord()
			return Token{Type: TOKEN_PARAM, Literal: l.input[start:l.pos], Pos: pos}
		}
		return l.single(TOKEN_OP, pos)
	case '$':
		return l.readDollar(pos)
	}

	if l.isIdentStart(l.ch) {
		// N'...', E'...', X'...', B'...' are string literals with a prefix.
		if l.peekChar() == '\'' && strings.IndexByte("nNeExXbB", l.ch) >= 0 {
			l.readChar()
			return l.readString(pos)
		}
		start := l.pos
		l.readChar()
		l.readWord()
		lit := l.input[start:l.pos]
		return Token{Type: LookupIdent(strings.ToLower(lit)), Literal: lit, Pos: pos}
	}

	if isDigit(l.ch) {
		return Token{Type: TOKEN_NUMBER, Literal: l.readNumber(), Pos: pos}
	}

	if l.ch == '@' && isStageStart(l.peekChar()) {
		return l.readStage(pos)
	}

	if isOperatorChar(l.ch) {
		start := l.pos
		for isOperatorChar(l.ch) && !l.atCommentStart() {
			l.readChar()
		}
		return Token{Type: TOKEN_OP, Literal: l.input[start:l.pos], Pos: pos}
	}

	// Anything else ({, }, [, ] in dialects that don't quote with them, ...)
	// is passed through as an operator; the parser decides whether it matters.
	return l.single(TOKEN_OP, pos)
}

func (l *Lexer) single(t TokenType, pos Position) Token {
	tok := Token{Type: t, Literal: string(l.ch), Pos: pos}
	l.readChar()
	return tok
}

func (l *Lexer) atCommentStart() bool {
	return (l.ch == '-' && l.peekChar() == '-') || (l.ch == '/' && l.peekChar() == '*')
}

// skipWhitespaceAndComments skips whitespace, line comments and block comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' || l.ch == '\v' {
			l.readChar()
		}

		switch {
		case l.ch == '-' && l.peekChar() == '-':
			for l.ch != '\n' && !l.atEOF() {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.skipBlockComment()
		default:
			return
		}
	}
}

// skipBlockComment skips a (possibly nested) block comment.
func (l *Lexer) skipBlockComment() {
	pos := l.currentPos()
	l.readChar() // skip '/'
	l.readChar() // skip '*'

	depth := 1
	for !l.atEOF() {
		switch {
		case l.ch == '*' && l.peekChar() == '/':
			l.readChar()
			l.readChar()
			depth--
			if depth == 0 {
				return
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			depth++
		default:
			l.readChar()
		}
	}
	l.fail(pos, ErrUnterminatedComment)
}

// readString reads a single-quoted string literal.
// Handles doubled single quotes as escape: 'it''s' -> it's
func (l *Lexer) readString(pos Position) Token {
	l.readChar() // skip opening quote

	var result strings.Builder
	for !l.atEOF() {
		if l.ch == '\'' {
			if l.peekChar() == '\'' {
				result.WriteByte('\'')
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing quote
			return Token{Type: TOKEN_STRING, Literal: result.String(), Pos: pos}
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	l.fail(pos, ErrUnterminatedString)
	return Token{Type: TOKEN_ILLEGAL, Literal: result.String(), Pos: pos}
}

// readQuotedIdentifier reads a delimited identifier. The literal keeps its
// delimiters so the dialect normalizer sees exactly what was written.
func (l *Lexer) readQuotedIdentifier(pos Position, closeCh byte) Token {
	start := l.pos
	l.readChar() // skip opening delimiter

	for !l.atEOF() {
		if l.ch == closeCh {
			if l.peekChar() == closeCh {
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar()
			return Token{Type: TOKEN_QIDENT, Literal: l.input[start:l.pos], Pos: pos}
		}
		l.readChar()
	}
	l.fail(pos, ErrUnterminatedIdent)
	return Token{Type: TOKEN_ILLEGAL, Literal: l.input[start:l.pos], Pos: pos}
}

// readDollar reads $1 parameters and $$...$$ / $tag$...$tag$ strings.
func (l *Lexer) readDollar(pos Position) Token {
	start := l.pos
	if isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
		return Token{Type: TOKEN_PARAM, Literal: l.input[start:l.pos], Pos: pos}
	}

	// Dollar-quote tag: $$ or $ident$
	end := l.readPos
	for end < len(l.input) && isWordChar(l.input[end]) && l.input[end] != '$' {
		end++
	}
	if end >= len(l.input) || l.input[end] != '$' {
		return l.single(TOKEN_OP, pos)
	}
	tag := l.input[start : end+1]
	bodyStart := end + 1
	idx := strings.Index(l.input[bodyStart:], tag)
	if idx < 0 {
		for !l.atEOF() {
			l.readChar()
		}
		l.fail(pos, ErrUnterminatedString)
		return Token{Type: TOKEN_ILLEGAL, Literal: l.input[start:], Pos: pos}
	}
	stop := bodyStart + idx + len(tag)
	for l.pos < stop && !l.atEOF() {
		l.readChar()
	}
	return Token{Type: TOKEN_STRING, Literal: l.input[bodyStart : bodyStart+idx], Pos: pos}
}

// readStage reads a Snowflake stage reference: @stage, @~/path, @%table/file.
func (l *Lexer) readStage(pos Position) Token {
	start := l.pos
	l.readChar() // skip '@'
	for !l.atEOF() && !isStageStop(l.ch) {
		l.readChar()
	}
	return Token{Type: TOKEN_STAGE, Literal: l.input[start:l.pos], Pos: pos}
}

// readWord consumes identifier continuation characters.
func (l *Lexer) readWord() {
	for isWordChar(l.ch) || (l.dialect != nil && l.dialect.IsIdentStart(l.ch)) {
		l.readChar()
	}
}

// readNumber reads a numeric literal (integer, decimal, or scientific).
func (l *Lexer) readNumber() string {
	start := l.pos

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == '.' && (isDigit(l.peekChar()) || !isWordChar(l.peekChar())) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if (l.ch == 'e' || l.ch == 'E') && (isDigit(l.peekChar()) || l.peekChar() == '+' || l.peekChar() == '-') {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	return l.input[start:l.pos]
}

// isLetter reports whether ch is an ASCII letter or part of a multi-byte
// UTF-8 sequence; non-ASCII text only ever appears inside names.
func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch >= 0x80
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isWordChar(ch byte) bool {
	return isLetter(ch) || isDigit(ch) || ch == '_' || ch == '$'
}

func isOperatorChar(ch byte) bool {
	return strings.IndexByte("+-/%=<>!|&^~", ch) >= 0
}

func isStageStart(ch byte) bool {
	return isLetter(ch) || ch == '_' || ch == '~' || ch == '%' || ch == '"'
}

func isStageStop(ch byte) bool {
	return strings.IndexByte(" \t\r\n,;()", ch) >= 0
}

// Tokenize returns all tokens from the input, ending with TOKEN_EOF.
func Tokenize(input string, d *dialect.Dialect) ([]Token, error) {
	l := NewLexer(input, d)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TOKEN_EOF {
			break
		}
	}
	return tokens, l.Err()
}
