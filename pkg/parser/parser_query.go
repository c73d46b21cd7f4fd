package parser

import (
	"fmt"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// ---------- Query Expressions ----------
//
// query       → [WITH cte_list] term {set_op term} [tail]
// set_op      → (UNION | INTERSECT | EXCEPT | MINUS) [ALL | DISTINCT] [BY NAME]
// term        → select_core | VALUES rows | TABLE name | FROM from_list [select_core] | '(' query ')'
// cte_list    → [RECURSIVE] cte {',' cte}
// cte         → name ['(' columns ')'] AS [NOT] [MATERIALIZED] '(' query ')'

// selectItem is one projected column.
type selectItem struct {
	name    string // output column name, empty when unknown
	sources []core.SourceColumn
}

// queryInfo is the projection of a query, used for column lineage.
type queryInfo struct {
	items []selectItem
	star  bool // the projection contains * so positions are unknown
	setOp bool
}

// union merges the projection of another set-operation branch position by position.
func (q *queryInfo) union(o *queryInfo) *queryInfo {
	out := &queryInfo{items: q.items, star: q.star || o.star, setOp: true}
	if len(o.items) != len(q.items) {
		return out
	}
	out.items = make([]selectItem, len(q.items))
	for i := range q.items {
		sources := make([]core.SourceColumn, 0, len(q.items[i].sources)+len(o.items[i].sources))
		sources = append(sources, q.items[i].sources...)
		sources = append(sources, o.items[i].sources...)
		out.items[i] = selectItem{name: q.items[i].name, sources: sources}
	}
	return out
}

// columnLineage maps target columns to the projection of q. With no explicit
// target list the projection's own output names are used.
func columnLineage(targets []string, q *queryInfo) []core.ColumnLineage {
	if q == nil || q.star || len(q.items) == 0 {
		return nil
	}
	if targets != nil && len(targets) != len(q.items) {
		return nil
	}
	var out []core.ColumnLineage
	for i, it := range q.items {
		name := it.name
		if targets != nil {
			name = targets[i]
		}
		srcs := resolvedOnly(it.sources)
		if name == "" || len(srcs) == 0 {
			continue
		}
		out = append(out, core.ColumnLineage{Target: name, Sources: dedupeSources(srcs)})
	}
	return out
}

// resolvedOnly drops source columns whose table could not be determined.
func resolvedOnly(in []core.SourceColumn) []core.SourceColumn {
	out := in[:0:0]
	for _, s := range in {
		if s.Table != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseSelectStatement parses a query used as a statement.
func (p *Parser) parseSelectStatement() *core.ParsedQuery {
	q := p.parseQuery()
	if p.into != nil {
		var cols []core.ColumnLineage
		if p.opts.columns {
			cols = columnLineage(nil, q)
		}
		return p.result(core.KindCreateTableAs, p.into, cols)
	}
	return p.result(core.KindSelect, nil, nil)
}

// parseWithStatement parses WITH followed by a query or a DML statement.
func (p *Parser) parseWithStatement() *core.ParsedQuery {
	p.parseWith()
	defer p.popScope()
	if p.failed() {
		return nil
	}

	switch p.token.Type {
	case TOKEN_INSERT:
		return p.parseInsert()
	case TOKEN_UPDATE:
		return p.parseUpdate()
	case TOKEN_DELETE:
		return p.parseDelete()
	case TOKEN_MERGE:
		return p.parseMerge()
	}
	return p.parseSelectStatement()
}

// parseQuery parses a query expression.
func (p *Parser) parseQuery() *queryInfo {
	p.depth++
	defer func() { p.depth-- }()

	if p.check(TOKEN_WITH) {
		p.parseWith()
		defer p.popScope()
	}

	q := p.parseQueryTerm()
	for !p.failed() && isSetOperator(p.token) {
		p.nextToken()
		if !p.match(TOKEN_ALL) {
			p.match(TOKEN_DISTINCT)
		}
		if p.check(TOKEN_BY) && p.peek.Type == TOKEN_IDENT {
			p.nextToken() // BY
			p.nextToken() // NAME
		}
		q = q.union(p.parseQueryTerm())
	}
	p.parseQueryTail()
	return q
}

func (p *Parser) parseQueryTerm() *queryInfo {
	switch p.token.Type {
	case TOKEN_LPAREN:
		p.nextToken()
		q := p.parseQuery()
		p.expect(TOKEN_RPAREN)
		return q
	case TOKEN_SELECT:
		return p.parseSelectCore(nil)
	case TOKEN_VALUES:
		p.parseValues()
		return &queryInfo{}
	case TOKEN_TABLE:
		p.nextToken()
		if parts, ok := p.parseName(); ok {
			p.addTable(parts)
		}
		return &queryInfo{star: true}
	case TOKEN_FROM:
		// FROM-first syntax: FROM t [SELECT ...]
		p.nextToken()
		sc := newSelectScope()
		p.parseFromList(sc)
		if p.check(TOKEN_SELECT) {
			return p.parseSelectCore(sc)
		}
		p.parseQueryTail()
		return &queryInfo{star: true}
	}
	p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "query"))
	return &queryInfo{}
}

// parseWith parses a WITH clause and opens the scope holding its names. The
// caller closes the scope once the statement using the CTEs is parsed.
//
// A CTE is declared before its body is parsed so that a recursive reference
// resolves to it. Without RECURSIVE, a body that mentions its own name but has
// no set operation cannot be recursive; the name then denotes the real table
// and is recorded as a source.
func (p *Parser) parseWith() {
	p.expect(TOKEN_WITH)
	recursive := p.match(TOKEN_RECURSIVE)
	p.pushScope()

	for !p.failed() {
		if !isNameToken(p.token) {
			p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "CTE name"))
			return
		}
		c := p.declareCTE(p.normalize(p.token.Literal))
		p.nextToken()

		if p.check(TOKEN_LPAREN) {
			p.skipGroup()
		}
		if !p.expect(TOKEN_AS) {
			return
		}
		p.match(TOKEN_NOT)
		p.match(TOKEN_MATERIALIZED)
		if !p.expect(TOKEN_LPAREN) {
			return
		}

		var body *queryInfo
		if p.startsQuery(p.token) || p.check(TOKEN_LPAREN) || p.check(TOKEN_TABLE) {
			body = p.parseQuery()
		} else {
			// Data-modifying CTE bodies (DELETE ... RETURNING) are only scanned.
			p.scan(scanOpts{group: true})
		}
		if !p.expect(TOKEN_RPAREN) {
			return
		}

		if c.referenced && !recursive && (body == nil || !body.setOp) {
			p.sources.Add(c.ref)
		}

		if !p.match(TOKEN_COMMA) {
			return
		}
	}
}

// ---------- SELECT ----------
//
// select_core → SELECT [ALL | DISTINCT [ON (...)]] [TOP n [PERCENT] [WITH TIES]]
//               items [INTO name] [FROM from_list] [tail]

// pendingItem is a select item whose column references are not resolved yet;
// resolution needs the FROM clause, which follows the select list.
type pendingItem struct {
	name string
	refs []colRef
	star bool
}

// parseSelectCore parses one SELECT. sc is non-nil for FROM-first syntax.
func (p *Parser) parseSelectCore(sc *selectScope) *queryInfo {
	p.expect(TOKEN_SELECT)
	p.parseSelectModifiers()

	var items []pendingItem
	for !p.failed() {
		items = append(items, p.parseSelectItem())
		if !p.match(TOKEN_COMMA) {
			break
		}
	}

	if sc == nil {
		sc = newSelectScope()
	}
	if p.match(TOKEN_INTO) {
		p.parseSelectInto()
	}
	if p.match(TOKEN_FROM) {
		p.parseFromList(sc)
	}
	p.parseQueryTail()

	q := &queryInfo{}
	if !p.opts.columns {
		return q
	}
	for _, it := range items {
		if it.star {
			q.star = true
		}
		q.items = append(q.items, selectItem{name: it.name, sources: sc.resolve(it.refs, nil)})
	}
	return q
}

func (p *Parser) parseSelectModifiers() {
	if !p.match(TOKEN_ALL) && p.match(TOKEN_DISTINCT) && p.match(TOKEN_ON) && p.check(TOKEN_LPAREN) {
		p.skipGroup()
	}
	p.parseTop()
}

// parseTop skips TOP n | TOP (expr) [PERCENT] [WITH TIES].
func (p *Parser) parseTop() {
	if !p.match(TOKEN_TOP) {
		return
	}
	if p.check(TOKEN_LPAREN) {
		p.skipGroup()
	} else {
		p.nextToken()
	}
	p.matchWord("percent")
	if p.check(TOKEN_WITH) && p.peek.Type == TOKEN_IDENT {
		p.nextToken()
		p.nextToken()
	}
}

// parseSelectItem parses one projected expression with its alias.
func (p *Parser) parseSelectItem() pendingItem {
	var it pendingItem
	bare := ""

	for !p.failed() {
		res := p.scan(scanOpts{comma: true, alias: true})
		it.refs = append(it.refs, res.refs...)
		it.star = it.star || res.star
		if res.bare() && bare == "" {
			bare = res.refs[0].column
		} else if res.units > 0 {
			bare = "-"
		}

		aliased := true
		switch {
		case p.match(TOKEN_AS):
			it.name = p.aliasName()
		case isAliasToken(p.token):
			it.name = p.aliasName()
		default:
			aliased = false
		}

		if p.check(TOKEN_COMMA) || p.atSelectListEnd() || (res.units == 0 && !aliased) {
			break
		}
	}

	if it.name == "" && bare != "-" {
		it.name = bare
	}
	return it
}

// aliasName consumes an alias token and returns its normalized text.
func (p *Parser) aliasName() string {
	tok := p.token
	switch {
	case tok.Type == TOKEN_STRING:
		p.nextToken()
		return tok.Literal
	case isNameToken(tok) || tok.IsKeyword():
		p.nextToken()
		return p.normalize(tok.Literal)
	}
	p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(tok), "alias"))
	return ""
}

func (p *Parser) atSelectListEnd() bool {
	switch p.token.Type {
	case TOKEN_EOF, TOKEN_SEMICOLON, TOKEN_RPAREN, TOKEN_ILLEGAL, TOKEN_WITH:
		return true
	}
	return isClauseKeyword(p.token) || isStatementStarter(p.token)
}

// parseSelectInto records the target of SELECT ... INTO t. Only the outermost
// query can create a table this way.
func (p *Parser) parseSelectInto() {
	p.match(TOKEN_TEMP)
	p.matchWord("unlogged")
	p.match(TOKEN_TABLE)
	parts, ok := p.parseName()
	if !ok {
		return
	}
	ref, ok := p.tableRef(parts)
	if ok && p.depth == 1 && p.into == nil {
		p.into = &ref
	}
}

// parseQueryTail skips the clauses after FROM: WHERE, GROUP BY, HAVING,
// QUALIFY, WINDOW, ORDER BY, LIMIT, OFFSET, FETCH, FOR, OPTION and the
// DML-only OUTPUT and RETURNING. Subqueries inside them are still parsed.
func (p *Parser) parseQueryTail() {
	for !p.failed() {
		switch p.token.Type {
		case TOKEN_WHERE, TOKEN_HAVING, TOKEN_QUALIFY, TOKEN_WINDOW,
			TOKEN_LIMIT, TOKEN_OFFSET, TOKEN_FETCH, TOKEN_OPTION, TOKEN_RETURNING:
			p.nextToken()
			p.scan(scanOpts{})
		case TOKEN_GROUP, TOKEN_ORDER:
			p.nextToken()
			p.match(TOKEN_BY)
			p.scan(scanOpts{})
		case TOKEN_FOR:
			// FOR UPDATE [OF t], FOR XML PATH(''), FOR JSON AUTO
			p.nextToken()
			p.match(TOKEN_UPDATE)
			p.scan(scanOpts{})
		case TOKEN_OUTPUT:
			p.parseOutput()
		case TOKEN_WITH:
			// GROUP BY ... WITH ROLLUP | CUBE, FETCH ... WITH TIES
			if p.peek.Type != TOKEN_IDENT || p.peek2.Type == TOKEN_AS || p.peek2.Type == TOKEN_LPAREN {
				return
			}
			p.nextToken()
			p.nextToken()
		default:
			return
		}
	}
}

// parseOutput skips an OUTPUT clause, including OUTPUT ... INTO @t (cols).
func (p *Parser) parseOutput() {
	p.expect(TOKEN_OUTPUT)
	p.scan(scanOpts{})
	if p.match(TOKEN_INTO) {
		if _, ok := p.parseName(); ok && p.check(TOKEN_LPAREN) {
			p.skipGroup()
		}
	}
}

// parseValues skips VALUES (...), (...).
func (p *Parser) parseValues() {
	p.expect(TOKEN_VALUES)
	for !p.failed() {
		if p.check(TOKEN_LPAREN) {
			p.skipGroup()
		} else {
			p.scan(scanOpts{comma: true})
		}
		if !p.match(TOKEN_COMMA) {
			return
		}
	}
}
