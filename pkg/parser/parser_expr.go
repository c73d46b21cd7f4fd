package parser

import (
	"sort"
	"strings"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// Expressions are never parsed into a tree. They are scanned token by token
// until a token that cannot belong to them, descending into every
// parenthesized query on the way so that tables read by subqueries
// (IN, EXISTS, scalar subqueries, derived tables in expressions) are found.

// scanOpts selects which tokens end a scanned expression. EOF, ';' and an
// unbalanced ')' always end it; clause keywords end it outside groups.
type scanOpts struct {
	comma bool // ',' ends the expression
	alias bool // AS or an implicit alias ends it (select items)
	join  bool // join keywords end it (ON conditions)
	when  bool // WHEN and THEN end it (MERGE)
	group bool // inside parentheses: only ')' ends it
}

// colRef is a column reference found while scanning.
type colRef struct {
	qualifier string // normalized qualifier, empty when unqualified
	column    string
}

// scanResult describes a scanned expression.
type scanResult struct {
	refs  []colRef
	units int  // column references and other tokens consumed
	star  bool // the expression is * or t.*
}

// bare reports whether the expression was exactly one column reference.
func (r scanResult) bare() bool {
	return r.units == 1 && len(r.refs) == 1
}

// scan consumes an expression and returns what it referenced.
func (p *Parser) scan(opts scanOpts) scanResult {
	var res scanResult
	prev := Token{Type: TOKEN_EOF}
	caseDepth := 0

	for !p.failed() {
		tok := p.token
		switch tok.Type {
		case TOKEN_EOF, TOKEN_SEMICOLON, TOKEN_ILLEGAL, TOKEN_RPAREN:
			return res
		case TOKEN_LPAREN:
			p.scanGroup(&res)
			res.units++
			prev = Token{Type: TOKEN_RPAREN}
			continue
		}

		if !opts.group && caseDepth == 0 && p.endsExpr(tok, prev, opts) {
			return res
		}

		switch tok.Type {
		case TOKEN_CASE:
			caseDepth++
		case TOKEN_END:
			if caseDepth > 0 {
				caseDepth--
			}
		case TOKEN_STAR:
			if prev.Type == TOKEN_EOF {
				res.star = true
			}
		}

		if p.opts.columns && p.startsColumnRef(tok, prev) {
			if ref, star := p.readColumnRef(); star {
				res.star = true
			} else if ref.column != "" {
				res.refs = append(res.refs, ref)
			}
			res.units++
			prev = tok
			p.nextToken()
			continue
		}

		res.units++
		prev = tok
		p.nextToken()
	}
	return res
}

// scanGroup consumes a parenthesized group. A group that starts a query is
// parsed as a subquery; anything else is scanned with its column references
// added to res.
func (p *Parser) scanGroup(res *scanResult) {
	if p.startsQuery(p.peek) {
		p.nextToken()
		p.parseQuery()
		p.expect(TOKEN_RPAREN)
		return
	}
	p.nextToken()
	inner := p.scan(scanOpts{group: true})
	if res != nil {
		res.refs = append(res.refs, inner.refs...)
	}
	p.expect(TOKEN_RPAREN)
}

// skipGroup consumes a parenthesized group, still descending into subqueries.
func (p *Parser) skipGroup() {
	p.scanGroup(nil)
}

// skipRest consumes the remainder of a statement.
func (p *Parser) skipRest() {
	for !p.failed() && !p.check(TOKEN_EOF) && !p.check(TOKEN_SEMICOLON) && !p.check(TOKEN_RPAREN) {
		if p.check(TOKEN_LPAREN) {
			p.skipGroup()
			continue
		}
		p.nextToken()
	}
}

// startsQuery reports whether tok begins a query.
func (p *Parser) startsQuery(tok Token) bool {
	switch tok.Type {
	case TOKEN_SELECT, TOKEN_WITH, TOKEN_VALUES:
		return true
	}
	return false
}

// endsExpr reports whether tok ends an expression at nesting depth zero.
func (p *Parser) endsExpr(tok, prev Token, opts scanOpts) bool {
	switch {
	case tok.Type == TOKEN_COMMA:
		return opts.comma
	case tok.Type == TOKEN_EXCEPT && prev.Type == TOKEN_STAR:
		// SELECT * EXCEPT (col): a projection modifier, not a set operator.
		return false
	case isClauseKeyword(tok), tok.Type == TOKEN_WITH, tok.Type == TOKEN_ON:
		return true
	case p.isBatchSeparator():
		return true
	case isStatementStarter(tok):
		return !p.checkPeek(TOKEN_LPAREN)
	case opts.join && isJoinKeyword(tok):
		return !p.checkPeek(TOKEN_LPAREN)
	case opts.when && (tok.Type == TOKEN_WHEN || tok.Type == TOKEN_THEN):
		return true
	case opts.alias && tok.Type == TOKEN_AS:
		return true
	case opts.alias:
		return p.isImplicitAlias(tok, prev)
	}
	return false
}

// isImplicitAlias reports whether tok is an alias written without AS.
func (p *Parser) isImplicitAlias(tok, prev Token) bool {
	if !isAliasToken(tok) || isExprWord(tok) || isStatementWord(tok) || !endsOperand(prev) {
		return false
	}
	return !p.checkPeek(TOKEN_LPAREN) && !p.checkPeek(TOKEN_DOT)
}

// endsOperand reports whether tok can be the last token of an operand.
func endsOperand(tok Token) bool {
	switch tok.Type {
	case TOKEN_IDENT:
		return !isExprWord(tok)
	case TOKEN_QIDENT, TOKEN_NUMBER, TOKEN_STRING, TOKEN_PARAM, TOKEN_RPAREN,
		TOKEN_STAR, TOKEN_END, TOKEN_NULL:
		return true
	}
	return false
}

// startsColumnRef reports whether tok begins a column reference.
func (p *Parser) startsColumnRef(tok, prev Token) bool {
	if !isAliasToken(tok) || isExprWord(tok) {
		return false
	}
	if strings.HasPrefix(tok.Literal, "@") {
		return false // variable
	}
	switch prev.Type {
	case TOKEN_DOT, TOKEN_DCOLON, TOKEN_AS:
		return false
	}
	switch p.peek.Type {
	case TOKEN_LPAREN, TOKEN_STRING:
		return false // function call or typed literal
	}
	return true
}

// readColumnRef reads a column reference chain starting at the current token.
// The current token is left on the last part of the chain.
func (p *Parser) readColumnRef() (colRef, bool) {
	parts := []string{p.token.Literal}
	for p.checkPeek(TOKEN_DOT) {
		switch {
		case p.peek2.Type == TOKEN_STAR:
			p.nextToken()
			p.nextToken()
			return colRef{}, true
		case isNameToken(p.peek2) || p.peek2.IsKeyword():
			p.nextToken()
			p.nextToken()
			parts = append(parts, p.token.Literal)
		default:
			return colRef{}, false
		}
	}

	ref := colRef{column: p.normalize(parts[len(parts)-1])}
	if len(parts) > 1 {
		ref.qualifier = p.normalize(strings.Join(parts[:len(parts)-1], "."))
	}
	return ref, false
}

// ---------- Column Resolution ----------

// selectScope holds the tables visible to one SELECT for column resolution.
type selectScope struct {
	tables  []core.TableReference
	aliases map[string]core.TableReference // folded alias -> table; zero for derived tables
	derived bool                           // FROM contains subqueries, functions or CTEs
}

func newSelectScope() *selectScope {
	return &selectScope{aliases: make(map[string]core.TableReference)}
}

// bind makes ref reachable under alias, or under its own name and last part
// when no alias was written.
func (sc *selectScope) bind(alias string, ref core.TableReference) {
	if alias != "" {
		sc.aliases[core.FoldKey(alias)] = ref
		return
	}
	if ref.IsZero() {
		return
	}
	for _, key := range []string{ref.Key, lastPart(ref.Key)} {
		if _, ok := sc.aliases[key]; !ok {
			sc.aliases[key] = ref
		}
	}
}

func lastPart(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// resolve maps column references to source columns. Unqualified columns are
// attributed to the only table in scope, or to fallback when the scope has no
// table of its own (UPDATE t SET a = b).
func (sc *selectScope) resolve(refs []colRef, fallback *core.TableReference) []core.SourceColumn {
	out := make([]core.SourceColumn, 0, len(refs))
	for _, r := range refs {
		out = append(out, core.SourceColumn{Table: sc.tableFor(r, fallback), Column: r.column})
	}
	return out
}

func (sc *selectScope) tableFor(r colRef, fallback *core.TableReference) string {
	if r.qualifier != "" {
		if t, ok := sc.aliases[core.FoldKey(r.qualifier)]; ok {
			return t.Name
		}
		if fallback != nil && (fallback.Key == core.FoldKey(r.qualifier) || lastPart(fallback.Key) == core.FoldKey(r.qualifier)) {
			return fallback.Name
		}
		return ""
	}
	if sc.derived {
		return ""
	}
	switch len(sc.tables) {
	case 0:
		if fallback != nil {
			return fallback.Name
		}
	case 1:
		return sc.tables[0].Name
	}
	return ""
}

// dedupeSources sorts source columns and removes case-insensitive duplicates.
func dedupeSources(in []core.SourceColumn) []core.SourceColumn {
	if len(in) == 0 {
		return nil
	}
	type key struct{ table, column string }
	seen := make(map[key]struct{}, len(in))
	out := make([]core.SourceColumn, 0, len(in))
	for _, s := range in {
		k := key{core.FoldKey(s.Table), core.FoldKey(s.Column)}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Column < out[j].Column
	})
	return out
}
