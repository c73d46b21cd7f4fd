// Package ansi provides the base ANSI SQL dialect.
//
// ANSI quotes identifiers with double quotes, has no default-schema sentinel and
// no query log of its own; it is the fallback for logs whose engine has no
// dedicated dialect.
package ansi

import (
	"github.com/leapstack-labs/querylineage/pkg/dialect"
)

func init() {
	dialect.Register(ANSI)
}

// ANSI is the base ANSI SQL dialect.
var ANSI = dialect.NewDialect("ansi").
	Quotes(`""`).
	PlaceholderStyle(dialect.PlaceholderQuestion).
	Build()
