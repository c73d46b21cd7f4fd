// Package filter decides which query log records are worth parsing.
//
// A filter is a Starlark boolean expression evaluated once per record. It is
// an exclusion predicate: records for which it is truthy are skipped.
//
//	contains(text, "information_schema") or dialect == "mssql" and startswith(text, "EXEC")
//
// The expression sees these predeclared names:
//
//	text         the statement text
//	dialect      the record's dialect name
//	executed_at  execution time in unix seconds
//	metadata     a frozen dict of the record's extra columns
//	contains(s, sub), startswith(s, prefix), endswith(s, suffix),
//	icontains(s, sub), matches(s, regex)
//
// Evaluation has no side effects: the compiled expression and every value
// passed to it are frozen, and each call runs on a fresh thread.
package filter

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/querylineage/pkg/core"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// maxSteps bounds the work one evaluation may do.
const maxSteps = 100_000

// params are the names bound for each record, in call order.
var params = []string{"text", "dialect", "executed_at", "metadata"}

var fileOptions = &syntax.FileOptions{}

// Filter is a compiled exclusion predicate. The zero value and a nil *Filter
// process every record.
type Filter struct {
	expr   string
	fn     *starlark.Function
	logger *slog.Logger
}

// Option configures a Filter.
type Option func(*Filter)

// WithLogger sets the logger used to report evaluation errors.
func WithLogger(l *slog.Logger) Option {
	return func(f *Filter) {
		f.logger = l
	}
}

// Compile parses and resolves expr. An empty expression yields a filter that
// processes everything. A malformed expression, or one that names anything
// other than the predeclared values, is an ErrInvalidConfiguration.
func Compile(expr string, opts ...Option) (*Filter, error) {
	f := &Filter{expr: strings.TrimSpace(expr), logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(f)
	}
	if f.expr == "" {
		return f, nil
	}

	if _, err := fileOptions.ParseExpr("filter", f.expr, 0); err != nil {
		return nil, core.InvalidConfigf("filter: %v", err)
	}

	// The expression becomes the body of a lambda over the record fields so
	// it is parsed and resolved once, then called per record.
	src := "lambda " + strings.Join(params, ", ") + ": (" + f.expr + "\n)"
	maker, err := starlark.ExprFuncOptions(fileOptions, "filter", src, builtins)
	if err != nil {
		return nil, core.InvalidConfigf("filter: %v", err)
	}
	v, err := starlark.Call(newThread(), maker, nil, nil)
	if err != nil {
		return nil, core.InvalidConfigf("filter: %v", err)
	}
	fn, ok := v.(*starlark.Function)
	if !ok {
		return nil, core.InvalidConfigf("filter: expression did not compile to a function")
	}
	fn.Freeze()
	f.fn = fn
	return f, nil
}

// MustCompile is like Compile but panics on error. For tests and constants.
func MustCompile(expr string) *Filter {
	f, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Excludes reports whether rec matches the exclusion expression. Evaluation
// errors are returned so callers can decide; ShouldProcess fails open.
func (f *Filter) Excludes(rec core.QueryLogRecord) (bool, error) {
	if f == nil || f.fn == nil {
		return false, nil
	}

	meta, err := toStarlark(rec.Metadata)
	if err != nil {
		return false, fmt.Errorf("metadata: %w", err)
	}
	meta.Freeze()

	var executedAt starlark.Value = starlark.None
	if !rec.ExecutedAt.IsZero() {
		executedAt = starlark.MakeInt64(rec.ExecutedAt.Unix())
	}

	args := starlark.Tuple{
		starlark.String(rec.Text),
		starlark.String(rec.Dialect),
		executedAt,
		meta,
	}
	v, err := starlark.Call(newThread(), f.fn, args, nil)
	if err != nil {
		return false, err
	}
	return bool(v.Truth()), nil
}

// ShouldProcess reports whether rec should be parsed. A record whose
// evaluation fails is processed; the error is logged at debug level.
func (f *Filter) ShouldProcess(rec core.QueryLogRecord) bool {
	excluded, err := f.Excludes(rec)
	if err != nil {
		f.logger.Debug("filter evaluation failed, processing record",
			slog.String("filter", f.expr),
			slog.String("error", err.Error()))
		return true
	}
	return !excluded
}

func newThread() *starlark.Thread {
	t := &starlark.Thread{
		Name:  "filter",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	t.SetMaxExecutionSteps(maxSteps)
	return t
}
