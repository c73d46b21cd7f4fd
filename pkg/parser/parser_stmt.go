package parser

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// ---------- Writing Statements ----------
//
// insert  → INSERT [OVERWRITE | OR (REPLACE | IGNORE)] [INTO] [TABLE] name [hints] [PARTITION (...)]
//           ['(' columns ')'] [BY NAME] [OUTPUT ...] (query | VALUES rows | DEFAULT VALUES | EXEC ...)
//           [ON CONFLICT ... | ON DUPLICATE KEY ...] [RETURNING ...]
// update  → UPDATE [TOP (n)] [ONLY] name [[AS] alias] [hints] SET assignments [OUTPUT ...] [FROM from_list] [tail]
// delete  → DELETE [TOP (n)] [FROM] [ONLY] name [[AS] alias] [hints] [OUTPUT ...] [(FROM | USING) from_list] [tail]
// merge   → MERGE [TOP (n)] [INTO] name [[AS] alias] USING factor ON expr {WHEN ... THEN action}
// create  → CREATE [OR REPLACE | OR ALTER] {modifier} (TABLE | VIEW) [IF NOT EXISTS] name
//           ['(' columns ')'] {option} (AS query | CLONE name)
// alter   → ALTER VIEW name ['(' columns ')'] {option} AS query
// copy    → COPY [INTO] (name ['(' columns ')'] FROM source | name TO dest | '(' query ')' TO dest
//                       | location FROM (name | '(' query ')'))

// tableModifierWords may appear between CREATE and TABLE/VIEW.
var tableModifierWords = map[string]struct{}{
	"dynamic": {}, "external": {}, "global": {}, "hybrid": {}, "iceberg": {}, "local": {},
	"secure": {}, "transient": {}, "unlogged": {}, "volatile": {}, "streaming": {}, "live": {},
}

func (p *Parser) parseInsert() *core.ParsedQuery {
	p.expect(TOKEN_INSERT)
	if p.match(TOKEN_OR) {
		p.nextToken() // REPLACE | IGNORE
	}
	p.match(TOKEN_OVERWRITE)
	if p.check(TOKEN_ALL) || p.checkWord("first") {
		p.addError(fmt.Sprintf(ErrUnsupported, "multi-table INSERT"))
		return nil
	}
	p.match(TOKEN_INTO)
	p.match(TOKEN_TABLE)

	parts, ok := p.parseName()
	if !ok {
		return nil
	}
	target, ok := p.tableRef(parts)
	if !ok {
		return nil
	}

	p.parseTableModifiers()
	if p.checkWord("partition") && p.checkPeek(TOKEN_LPAREN) {
		p.nextToken()
		p.skipGroup()
	}
	if p.match(TOKEN_AS) {
		p.nextToken() // INSERT INTO t AS alias (Postgres)
	}

	var cols []string
	if p.check(TOKEN_LPAREN) && !p.startsQuery(p.peek) {
		cols = p.parseColumnList()
	}
	if p.check(TOKEN_BY) && p.peek.Type == TOKEN_IDENT {
		p.nextToken() // BY
		p.nextToken() // NAME
		cols = nil
	}
	if p.check(TOKEN_OUTPUT) {
		p.parseOutput()
	}

	var q *queryInfo
	switch {
	case p.match(TOKEN_DEFAULT):
		p.expect(TOKEN_VALUES)
	case p.check(TOKEN_VALUES):
		p.parseValues()
	case p.startsQuery(p.token), p.check(TOKEN_LPAREN), p.check(TOKEN_TABLE), p.check(TOKEN_FROM):
		q = p.parseQuery()
	case p.checkWord("exec"), p.checkWord("execute"):
		p.nextToken()
		p.scan(scanOpts{})
	default:
		p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "query or VALUES"))
		return nil
	}

	if p.check(TOKEN_ON) {
		p.skipRest() // ON CONFLICT ... DO UPDATE, ON DUPLICATE KEY UPDATE
	}
	if p.match(TOKEN_RETURNING) {
		p.scan(scanOpts{})
	}

	var lineage []core.ColumnLineage
	if p.opts.columns && cols != nil {
		lineage = columnLineage(cols, q)
	}
	return p.result(core.KindInsert, &target, lineage)
}

// parseUpdate handles both UPDATE t SET ... FROM s and the SQL Server form
// UPDATE a SET ... FROM t a JOIN s, where the target is an alias declared in FROM.
func (p *Parser) parseUpdate() *core.ParsedQuery {
	p.expect(TOKEN_UPDATE)
	p.parseTop()
	p.match(TOKEN_ONLY)

	parts, ok := p.parseName()
	if !ok {
		return nil
	}
	targetAlias := p.parseTargetAlias(TOKEN_SET)
	p.parseTableModifiers()

	if !p.expect(TOKEN_SET) {
		return nil
	}
	assigns := p.parseAssignments(false)

	sc := newSelectScope()
	if p.check(TOKEN_OUTPUT) {
		p.parseOutput()
	}
	if p.match(TOKEN_FROM) {
		p.parseFromList(sc)
	}
	p.parseQueryTail()

	target, ok := p.resolveTarget(parts, sc)
	if !ok {
		return nil
	}

	var lineage []core.ColumnLineage
	if p.opts.columns {
		if targetAlias != "" {
			sc.bind(targetAlias, target)
		}
		lineage = assignmentLineage(assigns, sc, &target)
	}
	return p.result(core.KindUpdate, &target, lineage)
}

func (p *Parser) parseDelete() *core.ParsedQuery {
	p.expect(TOKEN_DELETE)
	p.parseTop()
	p.match(TOKEN_FROM)
	p.match(TOKEN_ONLY)

	parts, ok := p.parseName()
	if !ok {
		return nil
	}
	p.parseTargetAlias(TOKEN_FROM, TOKEN_USING, TOKEN_WHERE)
	p.parseTableModifiers()
	if p.check(TOKEN_OUTPUT) {
		p.parseOutput()
	}

	sc := newSelectScope()
	if p.match(TOKEN_FROM) || p.match(TOKEN_USING) {
		p.parseFromList(sc)
	}
	p.parseQueryTail()

	target, ok := p.resolveTarget(parts, sc)
	if !ok {
		return nil
	}
	return p.result(core.KindDelete, &target, nil)
}

func (p *Parser) parseMerge() *core.ParsedQuery {
	p.expect(TOKEN_MERGE)
	p.parseTop()
	p.match(TOKEN_INTO)

	parts, ok := p.parseName()
	if !ok {
		return nil
	}
	target, ok := p.tableRef(parts)
	if !ok {
		return nil
	}
	p.parseTableModifiers()
	targetAlias := p.parseTargetAlias(TOKEN_USING)

	sc := newSelectScope()
	if !p.expect(TOKEN_USING) {
		return nil
	}
	p.parseTableFactor(sc)
	sc.bind(targetAlias, target)

	if !p.expect(TOKEN_ON) {
		return nil
	}
	p.scan(scanOpts{when: true})

	var assigns []assignment
	for !p.failed() && p.match(TOKEN_WHEN) {
		p.match(TOKEN_NOT)
		p.matchWord("matched")
		if p.match(TOKEN_BY) {
			p.nextToken() // TARGET | SOURCE
		}
		if p.matchWord("and") {
			p.scan(scanOpts{when: true})
		}
		if !p.expect(TOKEN_THEN) {
			return nil
		}
		assigns = append(assigns, p.parseMergeAction()...)
	}
	p.parseQueryTail()

	var lineage []core.ColumnLineage
	if p.opts.columns {
		lineage = assignmentLineage(assigns, sc, nil)
	}
	return p.result(core.KindMerge, &target, lineage)
}

// parseMergeAction parses UPDATE SET, DELETE, INSERT and DO NOTHING.
func (p *Parser) parseMergeAction() []assignment {
	switch {
	case p.match(TOKEN_UPDATE):
		if !p.expect(TOKEN_SET) {
			return nil
		}
		if p.match(TOKEN_STAR) {
			return nil
		}
		return p.parseAssignments(true)

	case p.match(TOKEN_DELETE):
		return nil

	case p.match(TOKEN_INSERT):
		var cols []string
		if p.check(TOKEN_LPAREN) {
			cols = p.parseColumnList()
		}
		if p.match(TOKEN_STAR) || p.matchWord("row") {
			return nil
		}
		if !p.expect(TOKEN_VALUES) {
			return nil
		}
		values := p.parseValueTuple()
		if len(cols) != len(values) {
			return nil
		}
		out := make([]assignment, len(cols))
		for i := range cols {
			out[i] = assignment{column: cols[i], refs: values[i].refs}
		}
		return out

	case p.matchWord("do"):
		p.matchWord("nothing")
		return nil
	}
	p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "MERGE action"))
	return nil
}

// parseCreate parses CREATE TABLE ... AS, CREATE VIEW ... AS and CREATE TABLE
// ... CLONE. Other CREATE statements carry no lineage and are skipped.
func (p *Parser) parseCreate() (*core.ParsedQuery, string) {
	p.expect(TOKEN_CREATE)
	if p.match(TOKEN_OR) {
		p.nextToken() // REPLACE | ALTER
	}

	kind := core.KindCreateTableAs
	for {
		switch {
		case p.match(TOKEN_TABLE):
		case p.match(TOKEN_VIEW):
			kind = core.KindCreateView
		case p.match(TOKEN_TEMP), p.match(TOKEN_MATERIALIZED), p.match(TOKEN_RECURSIVE):
			continue
		case p.check(TOKEN_IDENT) && isTableModifier(p.token):
			p.nextToken()
			continue
		default:
			// CREATE PROCEDURE/FUNCTION/TRIGGER bodies span the whole batch.
			toEnd := p.checkWord("procedure") || p.checkWord("proc") || p.checkWord("function") || p.checkWord("trigger")
			for toEnd && !p.check(TOKEN_EOF) && !p.check(TOKEN_ILLEGAL) {
				p.nextToken()
			}
			p.skipStatement(true)
			return nil, "DDL"
		}
		break
	}

	if p.match(TOKEN_IF) {
		p.match(TOKEN_NOT)
		p.matchWord("exists")
	}
	parts, ok := p.parseName()
	if !ok {
		return nil, ""
	}
	target, ok := p.tableRef(parts)
	if !ok {
		return nil, ""
	}
	return p.parseCreateBody(kind, target)
}

// parseAlter parses ALTER VIEW v AS query. Other ALTER statements carry no
// lineage and are skipped.
func (p *Parser) parseAlter() (*core.ParsedQuery, string) {
	p.expect(TOKEN_ALTER)
	p.match(TOKEN_MATERIALIZED)
	if !p.match(TOKEN_VIEW) {
		p.skipStatement(true)
		return nil, "DDL"
	}
	parts, ok := p.parseName()
	if !ok {
		return nil, ""
	}
	target, ok := p.tableRef(parts)
	if !ok {
		return nil, ""
	}

	return p.parseCreateBody(core.KindCreateView, target)
}

// parseCreateBody parses everything after the name of a created table or view.
func (p *Parser) parseCreateBody(kind core.StatementKind, target core.TableReference) (*core.ParsedQuery, string) {
	var cols []string
	if p.check(TOKEN_LPAREN) && !p.startsQuery(p.peek) {
		cols = p.parseColumnList()
	}

	// Vendor options: COPY GRANTS, WITH (...), USING DELTA, COMMENT = '...',
	// PARTITIONED BY (...), TBLPROPERTIES (...), TARGET_LAG = '...', ...
	for !p.failed() && !p.check(TOKEN_AS) && !p.check(TOKEN_CLONE) && !p.check(TOKEN_SELECT) &&
		!p.check(TOKEN_EOF) && !p.check(TOKEN_SEMICOLON) && !p.check(TOKEN_ILLEGAL) && !p.atDMLStart() {
		if p.check(TOKEN_LPAREN) {
			p.skipGroup()
			continue
		}
		p.nextToken()
	}

	switch {
	case p.match(TOKEN_AS), p.check(TOKEN_SELECT):
		if !p.startsQuery(p.token) && !p.check(TOKEN_LPAREN) {
			p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "query"))
			return nil, ""
		}
		q := p.parseQuery()
		if p.check(TOKEN_WITH) && p.peek.Type == TOKEN_IDENT &&
			(strings.EqualFold(p.peek.Literal, "data") || strings.EqualFold(p.peek.Literal, "no")) {
			p.nextToken() // WITH [NO] DATA
			p.matchWord("no")
			p.matchWord("data")
		}
		var lineage []core.ColumnLineage
		if p.opts.columns {
			lineage = columnLineage(cols, q)
		}
		return p.result(kind, &target, lineage), ""

	case p.match(TOKEN_CLONE):
		parts, ok := p.parseName()
		if !ok {
			return nil, ""
		}
		p.addTable(parts)
		p.parseTableModifiers()
		return p.result(kind, &target, nil), ""
	}

	// CREATE TABLE t (col type, ...) defines structure only.
	p.skipStatement(false)
	return nil, "DDL"
}

// atDMLStart reports whether the current token starts a statement that can
// follow DDL in a batch without a separator.
func (p *Parser) atDMLStart() bool {
	switch p.token.Type {
	case TOKEN_INSERT, TOKEN_UPDATE, TOKEN_DELETE, TOKEN_MERGE, TOKEN_CREATE, TOKEN_ALTER:
		return true
	}
	return false
}

func (p *Parser) parseCopy() *core.ParsedQuery {
	p.expect(TOKEN_COPY)
	p.match(TOKEN_INTO)

	switch p.token.Type {
	case TOKEN_STAGE, TOKEN_STRING:
		// Unload: COPY INTO @stage FROM t | (query)
		p.nextToken()
		if !p.expect(TOKEN_FROM) {
			return nil
		}
		p.parseCopySource(true)
		p.skipRest()
		return p.result(core.KindCopy, nil, nil)

	case TOKEN_LPAREN:
		// COPY (query) TO 'file'
		p.nextToken()
		p.parseQuery()
		p.expect(TOKEN_RPAREN)
		p.skipRest()
		return p.result(core.KindCopy, nil, nil)
	}

	parts, ok := p.parseName()
	if !ok {
		return nil
	}
	if p.check(TOKEN_LPAREN) {
		p.parseColumnList()
	}

	switch {
	case p.match(TOKEN_FROM):
		target, ok := p.tableRef(parts)
		if !ok {
			return nil
		}
		p.parseCopySource(false)
		p.skipRest()
		return p.result(core.KindCopy, &target, nil)
	case p.match(TOKEN_TO):
		p.addTable(parts)
		p.skipRest()
		return p.result(core.KindCopy, nil, nil)
	}
	p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "FROM or TO"))
	return nil
}

// parseCopySource parses the source of a COPY. A transforming subquery reads
// tables; locations (stages, files, STDIN) do not. A bare name is a table only
// when unloading.
func (p *Parser) parseCopySource(nameIsTable bool) {
	switch {
	case p.check(TOKEN_LPAREN) && p.startsQuery(p.peek):
		p.nextToken()
		p.parseQuery()
		p.expect(TOKEN_RPAREN)
	case nameIsTable && isNameToken(p.token):
		if parts, ok := p.parseName(); ok {
			p.addTable(parts)
		}
	}
}

// ---------- Shared Helpers ----------

// assignment is one SET column = expr (or INSERT column/value pair).
type assignment struct {
	column string
	refs   []colRef
}

// parseAssignments parses col = expr {, col = expr}. With inMerge the list
// also ends at WHEN.
func (p *Parser) parseAssignments(inMerge bool) []assignment {
	var out []assignment
	for !p.failed() {
		var cols []string
		if p.check(TOKEN_LPAREN) {
			cols = p.parseColumnList() // (a, b) = (SELECT ...)
		} else {
			parts, ok := p.parseName()
			if !ok {
				return nil
			}
			cols = []string{p.normalize(parts[len(parts)-1])}
		}

		if p.token.Type != TOKEN_OP || !strings.HasSuffix(p.token.Literal, "=") {
			p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "'='"))
			return nil
		}
		p.nextToken()

		res := p.scan(scanOpts{comma: true, when: inMerge})
		for _, c := range cols {
			if c != "" && !strings.HasPrefix(c, "@") {
				out = append(out, assignment{column: c, refs: res.refs})
			}
		}
		if !p.match(TOKEN_COMMA) {
			return out
		}
	}
	return out
}

func assignmentLineage(assigns []assignment, sc *selectScope, fallback *core.TableReference) []core.ColumnLineage {
	var out []core.ColumnLineage
	for _, a := range assigns {
		srcs := resolvedOnly(sc.resolve(a.refs, fallback))
		if len(srcs) == 0 {
			continue
		}
		out = append(out, core.ColumnLineage{Target: a.column, Sources: dedupeSources(srcs)})
	}
	return out
}

// parseValueTuple parses '(' expr {, expr} ')'.
func (p *Parser) parseValueTuple() []scanResult {
	if !p.expect(TOKEN_LPAREN) {
		return nil
	}
	var out []scanResult
	for !p.failed() && !p.check(TOKEN_RPAREN) {
		out = append(out, p.scan(scanOpts{comma: true}))
		if !p.match(TOKEN_COMMA) {
			break
		}
	}
	p.expect(TOKEN_RPAREN)
	return out
}

// parseColumnList parses '(' col [definition] {, col [definition]} ')' and
// returns the column names.
func (p *Parser) parseColumnList() []string {
	if !p.expect(TOKEN_LPAREN) {
		return nil
	}
	var cols []string
	for !p.failed() && !p.check(TOKEN_RPAREN) && !p.check(TOKEN_EOF) && !p.check(TOKEN_SEMICOLON) {
		if isNameToken(p.token) || p.token.IsKeyword() {
			name := p.token.Literal
			p.nextToken()
			for p.check(TOKEN_DOT) && (isNameToken(p.peek) || p.peek.IsKeyword()) {
				p.nextToken()
				name = p.token.Literal
				p.nextToken()
			}
			cols = append(cols, p.normalize(name))
		}
		// Skip a column definition: type, constraints, defaults.
		for !p.failed() && !p.check(TOKEN_COMMA) && !p.check(TOKEN_RPAREN) &&
			!p.check(TOKEN_EOF) && !p.check(TOKEN_SEMICOLON) {
			if p.check(TOKEN_LPAREN) {
				p.skipGroup()
				continue
			}
			p.nextToken()
		}
		p.match(TOKEN_COMMA)
	}
	p.expect(TOKEN_RPAREN)
	return cols
}

// parseTargetAlias parses the optional alias of a DML target. Tokens in stop
// end the alias position.
func (p *Parser) parseTargetAlias(stop ...TokenType) string {
	for _, t := range stop {
		if p.check(t) {
			return ""
		}
	}
	if p.match(TOKEN_AS) {
		return p.aliasName()
	}
	if isAliasToken(p.token) && !isExprWord(p.token) && !isStatementWord(p.token) {
		return p.aliasName()
	}
	return ""
}

// resolveTarget turns the name written after UPDATE or DELETE into the table it
// denotes. In the SQL Server form the name is an alias bound in FROM.
func (p *Parser) resolveTarget(parts []string, sc *selectScope) (core.TableReference, bool) {
	if countParts(parts) == 1 {
		if ref, ok := sc.aliases[core.FoldKey(p.normalize(parts[0]))]; ok && !ref.IsZero() {
			return ref, true
		}
	}
	return p.tableRef(parts)
}

func isTableModifier(tok Token) bool {
	_, ok := tableModifierWords[strings.ToLower(tok.Literal)]
	return ok
}
