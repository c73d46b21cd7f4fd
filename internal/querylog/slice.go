package querylog

import (
	"context"
	"iter"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// SliceSource serves records from memory. Records outside the window are
// skipped, as a log query would.
type SliceSource []core.QueryLogRecord

// Records yields the records executed inside w, in slice order.
func (s SliceSource) Records(ctx context.Context, w core.TimeWindow) iter.Seq2[core.QueryLogRecord, error] {
	return func(yield func(core.QueryLogRecord, error) bool) {
		for _, rec := range s {
			if err := ctx.Err(); err != nil {
				yield(core.QueryLogRecord{}, err)
				return
			}
			if !w.Contains(rec.ExecutedAt) {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}
