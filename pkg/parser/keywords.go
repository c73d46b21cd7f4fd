package parser

import (
	"strings"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// keywords maps lowercase keyword text to its token type.
var keywords = map[string]TokenType{
	"all":          TOKEN_ALL,
	"alter":        TOKEN_ALTER,
	"anti":         TOKEN_ANTI,
	"apply":        TOKEN_APPLY,
	"as":           TOKEN_AS,
	"asof":         TOKEN_ASOF,
	"by":           TOKEN_BY,
	"case":         TOKEN_CASE,
	"clone":        TOKEN_CLONE,
	"copy":         TOKEN_COPY,
	"create":       TOKEN_CREATE,
	"cross":        TOKEN_CROSS,
	"default":      TOKEN_DEFAULT,
	"delete":       TOKEN_DELETE,
	"distinct":     TOKEN_DISTINCT,
	"else":         TOKEN_ELSE,
	"end":          TOKEN_END,
	"except":       TOKEN_EXCEPT,
	"fetch":        TOKEN_FETCH,
	"final":        TOKEN_FINAL,
	"for":          TOKEN_FOR,
	"from":         TOKEN_FROM,
	"full":         TOKEN_FULL,
	"group":        TOKEN_GROUP,
	"having":       TOKEN_HAVING,
	"if":           TOKEN_IF,
	"inner":        TOKEN_INNER,
	"insert":       TOKEN_INSERT,
	"intersect":    TOKEN_INTERSECT,
	"into":         TOKEN_INTO,
	"join":         TOKEN_JOIN,
	"lateral":      TOKEN_LATERAL,
	"left":         TOKEN_LEFT,
	"like":         TOKEN_LIKE,
	"limit":        TOKEN_LIMIT,
	"materialized": TOKEN_MATERIALIZED,
	"merge":        TOKEN_MERGE,
	"minus":        TOKEN_MINUS,
	"natural":      TOKEN_NATURAL,
	"not":          TOKEN_NOT,
	"null":         TOKEN_NULL,
	"offset":       TOKEN_OFFSET,
	"on":           TOKEN_ON,
	"only":         TOKEN_ONLY,
	"option":       TOKEN_OPTION,
	"or":           TOKEN_OR,
	"order":        TOKEN_ORDER,
	"outer":        TOKEN_OUTER,
	"output":       TOKEN_OUTPUT,
	"overwrite":    TOKEN_OVERWRITE,
	"pivot":        TOKEN_PIVOT,
	"positional":   TOKEN_POSITIONAL,
	"qualify":      TOKEN_QUALIFY,
	"recursive":    TOKEN_RECURSIVE,
	"replace":      TOKEN_REPLACE,
	"returning":    TOKEN_RETURNING,
	"right":        TOKEN_RIGHT,
	"sample":       TOKEN_SAMPLE,
	"select":       TOKEN_SELECT,
	"semi":         TOKEN_SEMI,
	"set":          TOKEN_SET,
	"table":        TOKEN_TABLE,
	"tablesample":  TOKEN_TABLESAMPLE,
	"temp":         TOKEN_TEMP,
	"temporary":    TOKEN_TEMP,
	"then":         TOKEN_THEN,
	"to":           TOKEN_TO,
	"top":          TOKEN_TOP,
	"union":        TOKEN_UNION,
	"unpivot":      TOKEN_UNPIVOT,
	"update":       TOKEN_UPDATE,
	"using":        TOKEN_USING,
	"values":       TOKEN_VALUES,
	"view":         TOKEN_VIEW,
	"when":         TOKEN_WHEN,
	"where":        TOKEN_WHERE,
	"window":       TOKEN_WINDOW,
	"with":         TOKEN_WITH,
}

// LookupIdent returns the keyword token type for a lowercase word, or TOKEN_IDENT.
func LookupIdent(word string) TokenType {
	if t, ok := keywords[word]; ok {
		return t
	}
	return TOKEN_IDENT
}

// softKeywords may also appear as table or column names.
var softKeywords = map[TokenType]struct{}{
	TOKEN_ASOF: {}, TOKEN_CLONE: {}, TOKEN_COPY: {}, TOKEN_DEFAULT: {}, TOKEN_FINAL: {},
	TOKEN_MATERIALIZED: {}, TOKEN_MINUS: {}, TOKEN_OPTION: {}, TOKEN_OUTPUT: {},
	TOKEN_OVERWRITE: {}, TOKEN_POSITIONAL: {}, TOKEN_RECURSIVE: {}, TOKEN_REPLACE: {},
	TOKEN_SAMPLE: {}, TOKEN_TEMP: {}, TOKEN_VIEW: {}, TOKEN_SEMI: {}, TOKEN_ANTI: {},
	TOKEN_APPLY: {}, TOKEN_IF: {}, TOKEN_TO: {}, TOKEN_TOP: {},
}

// isNameToken reports whether tok can be part of a table or column name.
func isNameToken(tok Token) bool {
	switch tok.Type {
	case TOKEN_IDENT, TOKEN_QIDENT:
		return true
	}
	_, soft := softKeywords[tok.Type]
	return soft
}

// isAliasToken reports whether tok can be an implicit alias (no AS).
func isAliasToken(tok Token) bool {
	return tok.Type == TOKEN_IDENT || tok.Type == TOKEN_QIDENT
}

// clauseKeywords end a select-list item, a FROM item or a WHERE expression.
var clauseKeywords = map[TokenType]struct{}{
	TOKEN_FROM: {}, TOKEN_INTO: {}, TOKEN_WHERE: {}, TOKEN_GROUP: {}, TOKEN_HAVING: {},
	TOKEN_QUALIFY: {}, TOKEN_WINDOW: {}, TOKEN_ORDER: {}, TOKEN_LIMIT: {}, TOKEN_OFFSET: {},
	TOKEN_FETCH: {}, TOKEN_FOR: {}, TOKEN_OPTION: {}, TOKEN_RETURNING: {}, TOKEN_OUTPUT: {},
	TOKEN_UNION: {}, TOKEN_INTERSECT: {}, TOKEN_EXCEPT: {}, TOKEN_MINUS: {},
}

// setOperators combine query terms.
var setOperators = map[TokenType]struct{}{
	TOKEN_UNION: {}, TOKEN_INTERSECT: {}, TOKEN_EXCEPT: {}, TOKEN_MINUS: {},
}

// joinKeywords start (or are part of) a join in a FROM clause.
var joinKeywords = map[TokenType]struct{}{
	TOKEN_JOIN: {}, TOKEN_INNER: {}, TOKEN_LEFT: {}, TOKEN_RIGHT: {}, TOKEN_FULL: {},
	TOKEN_OUTER: {}, TOKEN_CROSS: {}, TOKEN_NATURAL: {}, TOKEN_SEMI: {}, TOKEN_ANTI: {},
	TOKEN_ASOF: {}, TOKEN_POSITIONAL: {}, TOKEN_LATERAL: {},
}

func isClauseKeyword(tok Token) bool {
	_, ok := clauseKeywords[tok.Type]
	return ok
}

func isSetOperator(tok Token) bool {
	_, ok := setOperators[tok.Type]
	return ok
}

func isJoinKeyword(tok Token) bool {
	_, ok := joinKeywords[tok.Type]
	return ok
}

// statementKinds classifies a statement by its leading keyword. Anything not
// listed falls back to core.KindOther.
var statementKinds = map[TokenType]core.StatementKind{
	TOKEN_SELECT: core.KindSelect,
	TOKEN_VALUES: core.KindSelect,
	TOKEN_LPAREN: core.KindSelect,
	TOKEN_WITH:   core.KindSelect, // refined by the statement after the CTEs
	TOKEN_INSERT: core.KindInsert,
	TOKEN_UPDATE: core.KindUpdate,
	TOKEN_DELETE: core.KindDelete,
	TOKEN_MERGE:  core.KindMerge,
	TOKEN_CREATE: core.KindCreateTableAs, // refined to CREATE_VIEW by parseCreate
	TOKEN_ALTER:  core.KindCreateView,    // only ALTER VIEW ... AS has lineage
	TOKEN_COPY:   core.KindCopy,
}

// classify returns the statement kind for a leading token.
func classify(tok Token) core.StatementKind {
	if k, ok := statementKinds[tok.Type]; ok {
		return k
	}
	return core.KindOther
}

// noLineage describes a statement kind that never carries lineage.
type noLineage struct {
	reason string
	// toSemicolon statements embed other statement keywords (GRANT SELECT ON t,
	// EXPLAIN SELECT ...), so they are skipped up to the next ';' only.
	toSemicolon bool
}

// noLineageStatements are keyed by the lowercase leading word. They are
// reported with a stable reason instead of a syntax error.
var noLineageStatements = map[string]noLineage{
	"analyze":  {reason: "maintenance"},
	"begin":    {reason: "transaction control"},
	"call":     {reason: "procedure call"},
	"comment":  {reason: "DDL", toSemicolon: true},
	"commit":   {reason: "transaction control"},
	"declare":  {reason: "procedural"},
	"deny":     {reason: "DCL", toSemicolon: true},
	"describe": {reason: "metadata", toSemicolon: true},
	"drop":     {reason: "DDL"},
	"exec":     {reason: "procedure call"},
	"execute":  {reason: "procedure call"},
	"explain":  {reason: "metadata", toSemicolon: true},
	"grant":    {reason: "DCL", toSemicolon: true},
	"kill":     {reason: "session control"},
	"print":    {reason: "procedural"},
	"revoke":   {reason: "DCL", toSemicolon: true},
	"rollback": {reason: "transaction control"},
	"set":      {reason: "session control"},
	"show":     {reason: "metadata"},
	"truncate": {reason: "DDL"},
	"use":      {reason: "session control"},
	"vacuum":   {reason: "maintenance"},
}

// isStatementWord reports whether tok is a bare word that starts a statement
// (GO, DECLARE, PRINT, ...). Such words are never taken as implicit aliases.
func isStatementWord(tok Token) bool {
	if tok.Type != TOKEN_IDENT {
		return false
	}
	if strings.EqualFold(tok.Literal, "go") {
		return true
	}
	_, ok := lookupNoLineage(tok)
	return ok
}

func lookupNoLineage(tok Token) (noLineage, bool) {
	nl, ok := noLineageStatements[strings.ToLower(tok.Literal)]
	return nl, ok
}

// exprWords are identifiers that act as operators or literal prefixes inside
// expressions. They are never taken as implicit aliases or column references.
var exprWords = map[string]struct{}{
	"and": {}, "any": {}, "asc": {}, "at": {}, "between": {}, "collate": {},
	"current": {}, "date": {}, "desc": {}, "escape": {}, "exists": {},
	"false": {}, "filter": {}, "first": {}, "following": {}, "glob": {},
	"ilike": {}, "in": {}, "interval": {}, "is": {}, "isnull": {}, "last": {},
	"notnull": {}, "nulls": {}, "over": {}, "partition": {}, "preceding": {},
	"range": {}, "regexp": {}, "rlike": {}, "row": {}, "rows": {},
	"similar": {}, "some": {}, "time": {}, "timestamp": {}, "true": {},
	"unbounded": {}, "unknown": {}, "within": {}, "zone": {},
}

func isExprWord(tok Token) bool {
	if tok.Type != TOKEN_IDENT {
		return false
	}
	_, ok := exprWords[strings.ToLower(tok.Literal)]
	return ok
}

// statementStarters begin a new statement. SQL Server batches may omit the ';'
// between statements, so expression scanning stops at them.
var statementStarters = map[TokenType]struct{}{
	TOKEN_SELECT: {}, TOKEN_INSERT: {}, TOKEN_UPDATE: {}, TOKEN_DELETE: {},
	TOKEN_MERGE: {}, TOKEN_CREATE: {}, TOKEN_ALTER: {}, TOKEN_COPY: {},
}

func isStatementStarter(tok Token) bool {
	_, ok := statementStarters[tok.Type]
	return ok
}
