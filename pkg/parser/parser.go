// Package parser extracts table references from SQL statements.
//
// # Usage
//
//	d, _ := dialect.Get("postgres")
//	q, err := parser.Parse("INSERT INTO sales.orders SELECT * FROM staging.raw_orders", d)
//	if errors.Is(err, core.ErrUnparsableQuery) {
//	    // skip the record
//	}
//
// The parser is a tolerant recursive descent parser. It does not build an AST:
// it walks just enough of the grammar to find the table a statement writes and
// every table it reads, and skips over everything else (expressions, hints,
// vendor options) while still descending into subqueries.
//
// # Grammar Overview
//
//	statement   → [WITH cte_list] (query | insert | update | delete | merge)
//	            | create | alter_view | copy
//	query       → term {(UNION|INTERSECT|EXCEPT|MINUS) [ALL|DISTINCT] term} [tail]
//	term        → select_core | VALUES rows | TABLE name | '(' query ')'
//	select_core → SELECT [DISTINCT|TOP n] items [INTO name] [FROM from_list] [tail]
//	from_list   → factor {(',' factor | join)}
//	factor      → [LATERAL] (name [alias] | '(' query ')' alias | function(...) [alias])
//
// See each file for the rules of that section.
package parser

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/querylineage/pkg/core"
	"github.com/leapstack-labs/querylineage/pkg/dialect"
)

// Option configures a parse.
type Option func(*options)

type options struct {
	columns bool
}

// WithColumns enables best-effort column-level lineage.
func WithColumns() Option {
	return func(o *options) {
		o.columns = true
	}
}

// cte is a common table expression visible in the current scope.
type cte struct {
	ref        core.TableReference // how the body referred to the name, if it did
	referenced bool
}

// Parser extracts table references from SQL.
type Parser struct {
	lexer   *Lexer
	token   Token // current token
	peek    Token // lookahead token
	peek2   Token // second lookahead token
	errors  []error
	dialect *dialect.Dialect // required
	opts    options

	// Per-statement state, reset by resetStatement.
	sources *core.TableSet
	ctes    []map[string]*cte
	into    *core.TableReference // SELECT ... INTO target
	depth   int                  // query nesting depth
}

// NewParser creates a new parser for the given SQL input.
func NewParser(sql string, d *dialect.Dialect, opts ...Option) *Parser {
	p := &Parser{
		lexer:   NewLexer(sql, d),
		dialect: d,
	}
	for _, o := range opts {
		o(&p.opts)
	}
	// Read three tokens to initialize current, peek, and peek2
	p.nextToken()
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses sql and returns its reference set. A script of several
// statements is merged into one result as long as it writes at most one table;
// use ParseScript for per-statement results.
//
// Errors wrap core.ErrUnparsableQuery.
func Parse(sql string, d *dialect.Dialect, opts ...Option) (*core.ParsedQuery, error) {
	stmts, err := ParseScript(sql, d, opts...)
	if err != nil {
		return nil, err
	}
	if len(stmts) == 1 {
		return stmts[0], nil
	}
	return merge(stmts)
}

// ParseScript parses every statement in sql. Statements that never carry
// lineage (GRANT, DROP, SET, ...) are skipped; if nothing else is left the
// script is reported as unparsable.
func ParseScript(sql string, d *dialect.Dialect, opts ...Option) ([]*core.ParsedQuery, error) {
	if d == nil {
		return nil, dialect.ErrDialectRequired
	}
	if strings.TrimSpace(sql) == "" {
		return nil, &ParseError{Pos: Position{Line: 1, Column: 1}, Message: ErrEmptyStatement}
	}
	return NewParser(sql, d, opts...).parseScript()
}

func (p *Parser) parseScript() ([]*core.ParsedQuery, error) {
	var (
		out      []*core.ParsedQuery
		skipped  *ParseError
		startTok Token
	)

	for {
		for p.match(TOKEN_SEMICOLON) {
		}
		if p.check(TOKEN_EOF) {
			break
		}
		if p.isBatchSeparator() {
			p.nextToken()
			continue
		}

		startTok = p.token
		q, reason := p.parseStatement()
		if err := p.err(); err != nil {
			return nil, err
		}
		if q != nil {
			out = append(out, q)
		} else if skipped == nil {
			skipped = &ParseError{
				Pos:     startTok.Pos,
				Message: fmt.Sprintf(ErrNoLineage, strings.ToUpper(startTok.Literal), reason),
			}
		}

		if !p.atStatementBoundary() {
			p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "end of statement"))
			return nil, p.err()
		}
	}

	if err := p.err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if skipped != nil {
			return nil, skipped
		}
		return nil, &ParseError{Pos: p.token.Pos, Message: ErrEmptyStatement}
	}
	return out, nil
}

// merge combines the results of a multi-statement script.
func merge(stmts []*core.ParsedQuery) (*core.ParsedQuery, error) {
	sources := core.NewTableSet()
	targets := core.NewTableSet()
	out := &core.ParsedQuery{Kind: stmts[0].Kind}

	for _, q := range stmts {
		for _, s := range q.Sources {
			sources.Add(s)
		}
		if q.Target != nil {
			targets.Add(*q.Target)
			t := *q.Target
			out.Target = &t
			out.Kind = q.Kind
			out.Columns = append(out.Columns, q.Columns...)
		}
	}
	if targets.Len() > 1 {
		return nil, &ParseError{Pos: Position{Line: 1, Column: 1}, Message: fmt.Sprintf(ErrMultipleTargets, targets.Len())}
	}
	out.Sources = sources.Sorted()
	return out, nil
}

// parseStatement parses one statement. A nil result with a reason means the
// statement was recognized as carrying no lineage and skipped.
func (p *Parser) parseStatement() (*core.ParsedQuery, string) {
	p.resetStatement()

	switch p.token.Type {
	case TOKEN_WITH:
		return p.parseWithStatement(), ""
	case TOKEN_SELECT, TOKEN_VALUES, TOKEN_LPAREN, TOKEN_TABLE, TOKEN_FROM:
		return p.parseSelectStatement(), ""
	case TOKEN_INSERT:
		return p.parseInsert(), ""
	case TOKEN_UPDATE:
		return p.parseUpdate(), ""
	case TOKEN_DELETE:
		return p.parseDelete(), ""
	case TOKEN_MERGE:
		return p.parseMerge(), ""
	case TOKEN_COPY:
		return p.parseCopy(), ""
	case TOKEN_CREATE:
		return p.parseCreate()
	case TOKEN_ALTER:
		return p.parseAlter()
	}

	if nl, ok := lookupNoLineage(p.token); ok {
		p.nextToken()
		p.skipStatement(nl.toSemicolon)
		return nil, nl.reason
	}

	p.addError(fmt.Sprintf(ErrUnsupported, describe(p.token)))
	return nil, ""
}

func (p *Parser) resetStatement() {
	p.sources = core.NewTableSet()
	p.ctes = nil
	p.into = nil
	p.depth = 0
}

// result builds the ParsedQuery of the current statement.
func (p *Parser) result(kind core.StatementKind, target *core.TableReference, cols []core.ColumnLineage) *core.ParsedQuery {
	if len(p.errors) > 0 {
		return nil
	}
	return &core.ParsedQuery{
		Kind:    kind,
		Sources: p.sources.Sorted(),
		Target:  target,
		Columns: cols,
	}
}

// err returns the first lexical or syntax error. Lexical errors win because
// they are the cause of whatever the parser tripped over afterwards.
func (p *Parser) err() error {
	if err := p.lexer.Err(); err != nil {
		return err
	}
	if len(p.errors) > 0 {
		return p.errors[0]
	}
	return nil
}

// failed reports whether parsing should stop.
func (p *Parser) failed() bool {
	return len(p.errors) > 0 || p.lexer.err != nil
}

// atStatementBoundary reports whether the current token may follow a complete
// statement. SQL Server batches separate statements with whitespace only.
func (p *Parser) atStatementBoundary() bool {
	switch p.token.Type {
	case TOKEN_EOF, TOKEN_SEMICOLON, TOKEN_WITH:
		return true
	}
	if isStatementStarter(p.token) || p.isBatchSeparator() {
		return true
	}
	_, ok := lookupNoLineage(p.token)
	return ok
}

func (p *Parser) isBatchSeparator() bool {
	return p.checkWord("go")
}

// skipStatement consumes tokens up to the end of the current statement. Unless
// toSemicolon is set it also stops before a keyword that starts a new statement
// outside parentheses.
func (p *Parser) skipStatement(toSemicolon bool) {
	depth := 0
	for !p.check(TOKEN_EOF) && !p.check(TOKEN_ILLEGAL) {
		switch p.token.Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			if depth > 0 {
				depth--
			}
		case TOKEN_SEMICOLON:
			if depth == 0 {
				return
			}
		}
		if depth == 0 && !toSemicolon && p.atNextStatement() {
			return
		}
		p.nextToken()
	}
}

// atNextStatement reports whether the current token starts another statement.
func (p *Parser) atNextStatement() bool {
	return isStatementStarter(p.token) || p.check(TOKEN_WITH) || isStatementWord(p.token)
}

// ---------- Token Helpers ----------

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.token = p.peek
	p.peek = p.peek2
	p.peek2 = p.lexer.NextToken()
}

// check returns true if the current token is of the given type.
func (p *Parser) check(t TokenType) bool {
	return p.token.Type == t
}

// checkPeek returns true if the peek token is of the given type.
func (p *Parser) checkPeek(t TokenType) bool {
	return p.peek.Type == t
}

// checkWord reports whether the current token is the bare word w.
func (p *Parser) checkWord(w string) bool {
	return p.token.Type == TOKEN_IDENT && strings.EqualFold(p.token.Literal, w)
}

// checkOp reports whether the current token is the operator op.
func (p *Parser) checkOp(op string) bool {
	return p.token.Type == TOKEN_OP && p.token.Literal == op
}

// match consumes the current token if it matches and returns true.
func (p *Parser) match(t TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	return false
}

// matchWord consumes the current token if it is the bare word w.
func (p *Parser) matchWord(w string) bool {
	if p.checkWord(w) {
		p.nextToken()
		return true
	}
	return false
}

// expect consumes the current token if it matches, otherwise adds an error.
func (p *Parser) expect(t TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), t))
	return false
}

// addError adds a parse error.
func (p *Parser) addError(msg string) {
	p.errors = append(p.errors, &ParseError{
		Pos:     p.token.Pos,
		Message: msg,
	})
}

// ---------- Names ----------

// parseName reads a possibly qualified name such as a.b.c, [a].[b] or db..t.
// Empty parts are kept as "" and dropped by the dialect normalizer.
func (p *Parser) parseName() ([]string, bool) {
	if !isNameToken(p.token) {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "name"))
		return nil, false
	}
	parts := []string{p.token.Literal}
	p.nextToken()

	for p.check(TOKEN_DOT) {
		p.nextToken()
		for p.check(TOKEN_DOT) {
			parts = append(parts, "")
			p.nextToken()
		}
		if !isNameToken(p.token) && !p.token.IsKeyword() {
			p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "name"))
			return nil, false
		}
		parts = append(parts, p.token.Literal)
		p.nextToken()
	}
	return parts, true
}

// tableRef normalizes name parts into a table reference.
func (p *Parser) tableRef(parts []string) (core.TableReference, bool) {
	ref, ok := p.dialect.ReferenceFromParts(parts)
	if !ok {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "table name"))
	}
	return ref, ok
}

// addTable records a table read by the statement. Names that resolve to a
// common table expression in scope are not tables and are not recorded.
func (p *Parser) addTable(parts []string) (core.TableReference, bool) {
	ref, ok := p.dialect.ReferenceFromParts(parts)
	if !ok {
		return core.TableReference{}, false
	}
	if countParts(parts) == 1 {
		if c := p.lookupCTE(ref.Key); c != nil {
			if !c.referenced {
				c.ref, c.referenced = ref, true
			}
			return core.TableReference{}, false
		}
	}
	p.sources.Add(ref)
	return ref, true
}

func countParts(parts []string) int {
	n := 0
	for _, part := range parts {
		if part != "" {
			n++
		}
	}
	return n
}

// normalize strips decoration from a single identifier.
func (p *Parser) normalize(lit string) string {
	name, _ := p.dialect.Normalize(lit)
	return name
}

// ---------- CTE Scopes ----------

func (p *Parser) pushScope() {
	p.ctes = append(p.ctes, make(map[string]*cte))
}

func (p *Parser) popScope() {
	if len(p.ctes) > 0 {
		p.ctes = p.ctes[:len(p.ctes)-1]
	}
}

func (p *Parser) declareCTE(name string) *cte {
	if len(p.ctes) == 0 {
		p.pushScope()
	}
	c := &cte{}
	p.ctes[len(p.ctes)-1][core.FoldKey(name)] = c
	return c
}

func (p *Parser) lookupCTE(key string) *cte {
	for i := len(p.ctes) - 1; i >= 0; i-- {
		if c, ok := p.ctes[i][key]; ok {
			return c
		}
	}
	return nil
}

// Classify returns the kind of the first statement in sql from its leading
// keyword alone, without parsing it. Unrecognized statements are KindOther.
func Classify(sql string, d *dialect.Dialect) core.StatementKind {
	l := NewLexer(sql, d)
	tok := l.NextToken()
	for tok.Type == TOKEN_SEMICOLON {
		tok = l.NextToken()
	}
	return classify(tok)
}
