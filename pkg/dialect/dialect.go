// Package dialect provides SQL dialect configuration for query-log lineage extraction.
//
// A Dialect bundles everything the generic lineage pipeline needs to know about one
// database engine: how identifiers are quoted, which schema qualifier is a
// placeholder for "the current default schema", how its query log is read, and
// which statements the log query should exclude up front. Concrete dialects are
// registered from pkg/dialects/*/ packages.
package dialect

import (
	"strconv"
	"strings"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// SentinelPolicy decides what Normalize does with the default-schema sentinel.
type SentinelPolicy string

const (
	// SentinelStrip removes the sentinel qualifier so "<default>.t" and "t" compare equal.
	SentinelStrip SentinelPolicy = "strip"
	// SentinelKeep leaves qualifiers untouched. Used when the sentinel is ambiguous.
	SentinelKeep SentinelPolicy = "keep"
)

// ParseSentinelPolicy converts a configuration string into a policy.
func ParseSentinelPolicy(s string) (SentinelPolicy, error) {
	switch SentinelPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case SentinelStrip:
		return SentinelStrip, nil
	case SentinelKeep:
		return SentinelKeep, nil
	}
	return "", core.InvalidConfigf("unknown default schema policy %q (want strip or keep)", s)
}

// PlaceholderStyle defines how the log query binds window parameters.
type PlaceholderStyle int

const (
	// PlaceholderQuestion uses ? for parameters.
	PlaceholderQuestion PlaceholderStyle = iota
	// PlaceholderDollar uses $1, $2 for parameters.
	PlaceholderDollar
	// PlaceholderAtP uses @p1, @p2 for parameters.
	PlaceholderAtP
)

// QuotePair is one identifier delimiter pair, e.g. [ and ].
type QuotePair struct {
	Open  byte
	Close byte
}

// IdentifierConfig defines how identifiers are quoted.
type IdentifierConfig struct {
	Quotes []QuotePair
	// ExtraStart lists characters besides letters and _ that may start an
	// identifier (# and @ for SQL Server temp tables and variables).
	ExtraStart string
}

// CloseFor returns the closing delimiter for an opening one.
func (c IdentifierConfig) CloseFor(open byte) (byte, bool) {
	for _, q := range c.Quotes {
		if q.Open == open {
			return q.Close, true
		}
	}
	return 0, false
}

// Dialect represents a SQL dialect configuration.
type Dialect struct {
	Name        string
	Identifiers IdentifierConfig

	// DefaultSchema is the schema unqualified names resolve to ("dbo", "public", "main").
	DefaultSchema string
	// SchemaSentinel is a placeholder qualifier meaning "current default schema",
	// e.g. "<default>" in SQL Server lineage output. Empty means none.
	SchemaSentinel string
	// SentinelPolicy controls whether SchemaSentinel is stripped during normalization.
	SentinelPolicy SentinelPolicy

	Placeholder PlaceholderStyle

	// LogQuery reads the query log. The first column is the statement text, the
	// second the execution timestamp; any other columns become record metadata.
	// It binds two parameters: window start (inclusive) and end (exclusive).
	// The marker {{filter}} is replaced with " AND (LogFilter)" or removed.
	LogQuery string
	// LogFilter is a SQL predicate pushed down into LogQuery.
	LogFilter string
}

// FilterMarker is replaced in LogQuery by the push-down filter.
const FilterMarker = "{{filter}}"

// RenderLogQuery returns LogQuery with the filter marker resolved.
func (d *Dialect) RenderLogQuery() string {
	return RenderQuery(d.LogQuery, d.LogFilter)
}

// RenderQuery resolves the filter marker in query.
func RenderQuery(query, filter string) string {
	repl := ""
	if f := strings.TrimSpace(filter); f != "" {
		repl = " AND (" + f + ")"
	}
	return strings.ReplaceAll(query, FilterMarker, repl)
}

// IsIdentStart reports whether ch may start an unquoted identifier.
func (d *Dialect) IsIdentStart(ch byte) bool {
	return strings.IndexByte(d.Identifiers.ExtraStart, ch) >= 0
}

// WithSentinelPolicy returns a copy of the dialect using policy p.
func (d *Dialect) WithSentinelPolicy(p SentinelPolicy) *Dialect {
	cp := *d
	cp.SentinelPolicy = p
	return &cp
}

// WithLogFilter returns a copy of the dialect with a different push-down filter.
func (d *Dialect) WithLogFilter(filter string) *Dialect {
	cp := *d
	cp.LogFilter = filter
	return &cp
}

// FormatPlaceholder returns the placeholder for the given 1-based parameter index.
func (d *Dialect) FormatPlaceholder(index int) string {
	switch d.Placeholder {
	case PlaceholderDollar:
		return "$" + strconv.Itoa(index)
	case PlaceholderAtP:
		return "@p" + strconv.Itoa(index)
	default:
		return "?"
	}
}

// Builder provides a fluent API for constructing dialects.
type Builder struct {
	dialect *Dialect
}

// NewDialect creates a new dialect builder with ANSI double-quote identifiers.
func NewDialect(name string) *Builder {
	return &Builder{
		dialect: &Dialect{
			Name: name,
			Identifiers: IdentifierConfig{
				Quotes: []QuotePair{{Open: '"', Close: '"'}},
			},
			SentinelPolicy: SentinelKeep,
		},
	}
}

// Quotes replaces the identifier delimiters. Pairs are given as "[]", "``", `""`.
func (b *Builder) Quotes(pairs ...string) *Builder {
	b.dialect.Identifiers.Quotes = nil
	for _, p := range pairs {
		if len(p) != 2 {
			continue
		}
		b.dialect.Identifiers.Quotes = append(b.dialect.Identifiers.Quotes, QuotePair{Open: p[0], Close: p[1]})
	}
	return b
}

// IdentStart allows extra characters at the start of unquoted identifiers.
func (b *Builder) IdentStart(chars string) *Builder {
	b.dialect.Identifiers.ExtraStart = chars
	return b
}

// DefaultSchema sets the default schema name.
func (b *Builder) DefaultSchema(schema string) *Builder {
	b.dialect.DefaultSchema = schema
	return b
}

// Sentinel sets the default-schema sentinel and its policy.
func (b *Builder) Sentinel(token string, policy SentinelPolicy) *Builder {
	b.dialect.SchemaSentinel = token
	b.dialect.SentinelPolicy = policy
	return b
}

// PlaceholderStyle sets how log query parameters are formatted.
func (b *Builder) PlaceholderStyle(style PlaceholderStyle) *Builder {
	b.dialect.Placeholder = style
	return b
}

// LogQuery sets the query used to read the log.
func (b *Builder) LogQuery(q string) *Builder {
	b.dialect.LogQuery = strings.TrimSpace(q)
	return b
}

// LogFilter sets the push-down exclusion predicate.
func (b *Builder) LogFilter(f string) *Builder {
	b.dialect.LogFilter = strings.TrimSpace(f)
	return b
}

// Build returns the constructed dialect.
func (b *Builder) Build() *Dialect {
	return b.dialect
}
