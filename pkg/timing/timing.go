// Package timing measures how long pipeline stages take and logs the result.
//
// Eager work is wrapped with Measure or MeasureValue. Lazy sequences are
// wrapped with MeasureSeq, which times the whole iteration rather than the
// call that builds the sequence: the clock starts when the consumer first
// pulls and stops after the last element, so producer and consumer time are
// both included.
package timing

import (
	"fmt"
	"iter"
	"log/slog"
	"math"
	"strconv"
	"time"
)

// Measure runs fn and logs its duration at debug level.
func Measure(logger *slog.Logger, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	logDuration(logger, name, time.Now().Sub(start), err)
	return err
}

// MeasureValue runs fn and logs its duration at debug level.
func MeasureValue[T any](logger *slog.Logger, name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	logDuration(logger, name, time.Now().Sub(start), err)
	return v, err
}

// MeasureSeq wraps a lazy sequence. Every element is yielded through
// unchanged. The duration is logged exactly once per iteration: after the
// last element, or when the consumer stops early.
func MeasureSeq[T any](logger *slog.Logger, name string, seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		start := time.Now()
		var lastErr error
		defer func() {
			logDuration(logger, name, time.Now().Sub(start), lastErr)
		}()

		for v, err := range seq {
			if err != nil {
				lastErr = err
			}
			if !yield(v, err) {
				return
			}
		}
	}
}

func logDuration(logger *slog.Logger, name string, d time.Duration, err error) {
	if logger == nil {
		return
	}
	attrs := []any{
		slog.String("operation", name),
		slog.Duration("duration", d),
		slog.String("elapsed", FormatDuration(d)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logger.Debug(name+" executed in "+FormatDuration(d), attrs...)
}

// FormatDuration renders d for humans:
//
//	"2day(s) 3h 4m 5.5s", "3h 4m 5.5s", "4m 5.5s", "5.5s"
//
// Seconds are rounded to two decimals; the largest non-zero unit decides
// which form is used.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	total := d.Seconds()
	days := int64(total) / 86400
	hours := (int64(total) % 86400) / 3600
	minutes := (int64(total) % 3600) / 60
	seconds := math.Round((total-float64(int64(total)/60*60))*100) / 100

	secs := strconv.FormatFloat(seconds, 'f', -1, 64)
	switch {
	case days > 0:
		return fmt.Sprintf("%dday(s) %dh %dm %ss", days, hours, minutes, secs)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ss", hours, minutes, secs)
	case minutes > 0:
		return fmt.Sprintf("%dm %ss", minutes, secs)
	}
	return secs + "s"
}
