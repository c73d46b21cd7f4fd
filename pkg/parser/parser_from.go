package parser

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// ---------- FROM Clause ----------
//
// from_list   → factor {(',' factor | join)}
// join        → [NATURAL] [INNER | LEFT | RIGHT | FULL] [OUTER] [SEMI | ANTI | ASOF | POSITIONAL] JOIN factor
//               [ON expr | USING '(' columns ')' | MATCH_CONDITION '(' expr ')' [ON expr]]
//             | CROSS JOIN factor
//             | (CROSS | OUTER) APPLY factor
// factor      → [LATERAL] [ONLY] primary [modifiers] [[AS] alias ['(' columns ')']] [modifiers]
// primary     → name | name '(' args ')' | '(' query ')' | '(' from_list ')'
//             | TABLE '(' ... ')' | VALUES rows | 'file' | @stage
// modifiers   → WITH '(' hints ')' | TABLESAMPLE ... | FINAL | PIVOT '(' ... ')' | UNPIVOT '(' ... ')'
//             | AT '(' ... ')' | BEFORE '(' ... ')' | CHANGES '(' ... ')'
//             | VERSION AS OF v | TIMESTAMP AS OF t | FOR SYSTEM_TIME AS OF t

// parseFromList parses a FROM list, binding every table it reads into sc.
func (p *Parser) parseFromList(sc *selectScope) {
	p.parseTableFactor(sc)
	for !p.failed() {
		switch {
		case p.match(TOKEN_COMMA):
			p.parseTableFactor(sc)
		case p.atJoin():
			p.parseJoin(sc)
		default:
			return
		}
	}
}

func (p *Parser) atJoin() bool {
	return isJoinKeyword(p.token) && !p.check(TOKEN_LATERAL) && !p.checkPeek(TOKEN_LPAREN)
}

func (p *Parser) parseJoin(sc *selectScope) {
	for isJoinKeyword(p.token) && !p.check(TOKEN_JOIN) && !p.check(TOKEN_LATERAL) {
		p.nextToken()
	}

	if p.match(TOKEN_APPLY) {
		p.parseTableFactor(sc)
		return
	}
	if !p.expect(TOKEN_JOIN) {
		return
	}
	p.parseTableFactor(sc)

	switch {
	case p.match(TOKEN_ON):
		p.scan(scanOpts{comma: true, join: true})
	case p.match(TOKEN_USING):
		if p.check(TOKEN_LPAREN) {
			p.skipGroup()
		}
	case p.checkWord("match_condition") && p.checkPeek(TOKEN_LPAREN):
		p.nextToken()
		p.skipGroup()
		if p.match(TOKEN_ON) {
			p.scan(scanOpts{comma: true, join: true})
		}
	}
}

// parseTableFactor parses one FROM item.
func (p *Parser) parseTableFactor(sc *selectScope) {
	p.match(TOKEN_LATERAL)
	p.match(TOKEN_ONLY)

	switch p.token.Type {
	case TOKEN_LPAREN:
		if p.startsQuery(p.peek) || p.checkPeek(TOKEN_LPAREN) && p.startsQuery(p.peek2) {
			p.nextToken()
			p.parseQuery()
			p.expect(TOKEN_RPAREN)
			sc.derived = true
			p.parseTableAlias(sc, nil)
			return
		}
		// Parenthesized join: (a JOIN b ON ...)
		p.nextToken()
		p.parseFromList(sc)
		p.expect(TOKEN_RPAREN)
		p.parseTableAlias(sc, nil)
		return

	case TOKEN_TABLE:
		// TABLE(FLATTEN(...)), TABLE(my_udtf(...))
		p.nextToken()
		if p.check(TOKEN_LPAREN) {
			p.skipGroup()
		}
		sc.derived = true
		p.parseTableAlias(sc, nil)
		return

	case TOKEN_STRING, TOKEN_STAGE, TOKEN_PARAM:
		// Files, stages and bound parameters are not tables.
		p.nextToken()
		sc.derived = true
		p.parseTableAlias(sc, nil)
		return

	case TOKEN_VALUES:
		p.parseValues()
		sc.derived = true
		p.parseTableAlias(sc, nil)
		return
	}

	parts, ok := p.parseName()
	if !ok {
		return
	}

	if p.check(TOKEN_LPAREN) {
		// Table-valued function: generate_series(...), read_parquet(...), OPENJSON(...)
		p.skipGroup()
		sc.derived = true
		p.parseTableAlias(sc, nil)
		return
	}

	ref, isTable := p.addTable(parts)
	if !isTable {
		// A CTE: visible under its own name, but its columns are not a table's.
		sc.derived = true
		sc.aliases[core.FoldKey(p.normalize(parts[len(parts)-1]))] = ref
		p.parseTableAlias(sc, nil)
		return
	}
	sc.tables = append(sc.tables, ref)
	p.parseTableAlias(sc, &ref)
}

// parseTableAlias parses the modifiers and alias after a FROM item and binds
// the alias to ref. A nil ref marks a derived table.
func (p *Parser) parseTableAlias(sc *selectScope, ref *core.TableReference) {
	p.parseTableModifiers()

	alias := ""
	switch {
	case p.match(TOKEN_AS):
		if isNameToken(p.token) || p.token.IsKeyword() {
			alias = p.normalize(p.token.Literal)
			p.nextToken()
		} else {
			p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.token), "alias"))
			return
		}
	case isAliasToken(p.token) && !isExprWord(p.token) && !isStatementWord(p.token):
		alias = p.normalize(p.token.Literal)
		p.nextToken()
	}

	if alias != "" && p.check(TOKEN_LPAREN) {
		p.skipGroup() // column aliases
	}
	p.parseTableModifiers()

	switch {
	case ref != nil:
		sc.bind(alias, *ref)
	case alias != "":
		sc.bind(alias, core.TableReference{})
	}
}

// parseTableModifiers skips hints, sampling and time-travel clauses.
func (p *Parser) parseTableModifiers() {
	for !p.failed() {
		switch {
		case p.check(TOKEN_WITH) && p.checkPeek(TOKEN_LPAREN):
			p.nextToken()
			p.skipGroup()
		case p.check(TOKEN_TABLESAMPLE) || p.check(TOKEN_SAMPLE):
			p.nextToken()
			if p.check(TOKEN_IDENT) && p.checkPeek(TOKEN_LPAREN) {
				p.nextToken() // BERNOULLI, SYSTEM, ROW, BLOCK
			}
			if p.check(TOKEN_LPAREN) {
				p.skipGroup()
			} else if p.check(TOKEN_NUMBER) {
				p.nextToken()
				p.matchWord("percent")
				p.matchWord("rows")
			}
			if (p.checkWord("repeatable") || p.checkWord("seed")) && p.checkPeek(TOKEN_LPAREN) {
				p.nextToken()
				p.skipGroup()
			}
		case p.check(TOKEN_FINAL):
			p.nextToken()
		case p.check(TOKEN_PIVOT) || p.check(TOKEN_UNPIVOT):
			p.nextToken()
			if p.matchWord("include") || p.matchWord("exclude") {
				p.matchWord("nulls")
			}
			if p.check(TOKEN_LPAREN) {
				p.skipGroup()
			}
		case (p.checkWord("at") || p.checkWord("before") || p.checkWord("changes")) && p.checkPeek(TOKEN_LPAREN):
			p.nextToken()
			p.skipGroup()
		case (p.checkWord("version") || p.checkWord("timestamp")) && p.checkPeek(TOKEN_AS):
			p.nextToken() // VERSION
			p.nextToken() // AS
			p.matchWord("of")
			p.nextToken() // version or timestamp literal
		case p.check(TOKEN_FOR) && p.peek.Type == TOKEN_IDENT && strings.EqualFold(p.peek.Literal, "system_time"):
			// FOR SYSTEM_TIME AS OF t
			p.nextToken()
			p.nextToken()
			if p.match(TOKEN_AS) {
				p.matchWord("of")
				p.nextToken()
			}
		default:
			return
		}
	}
}
