package querylog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/querylineage/pkg/core"
	"github.com/leapstack-labs/querylineage/pkg/dialect"
)

// File formats.
const (
	FormatJSONL = "jsonl"
	FormatYAML  = "yaml"
)

// Record field names accepted in log files, in lookup order.
var (
	textFields = []string{"text", "query_text", "query", "statement"}
	timeFields = []string{"executed_at", "start_time", "timestamp", "time"}
)

// FileSource reads an exported query log.
//
// JSON lines files hold one object per record. YAML files hold one record
// mapping per document, or documents that are lists of records. Each record
// needs a statement text and an execution time; an optional "dialect" field
// overrides the configured dialect and every other field becomes metadata.
type FileSource struct {
	Path    string
	Format  string
	Dialect string
	Logger  *slog.Logger
}

// NewFileSource creates a file source. An empty format is detected from the
// file extension.
func NewFileSource(path, format string, d *dialect.Dialect, logger *slog.Logger) (*FileSource, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if d == nil {
		return nil, core.InvalidConfigf("%v", dialect.ErrDialectRequired)
	}
	if path == "" {
		return nil, core.InvalidConfigf("file source requires source.path")
	}
	f, err := detectFormat(path, format)
	if err != nil {
		return nil, err
	}
	return &FileSource{Path: path, Format: f, Dialect: d.Name, Logger: logger}, nil
}

func newFileSourceFromConfig(cfg Config, d *dialect.Dialect, logger *slog.Logger) (Source, error) {
	return NewFileSource(cfg.Path, cfg.Format, d, logger)
}

func detectFormat(path, format string) (string, error) {
	switch strings.ToLower(format) {
	case FormatJSONL, "json", "ndjson":
		return FormatJSONL, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	case "":
	default:
		return "", core.InvalidConfigf("unknown source format %q (want jsonl or yaml)", format)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", core.InvalidConfigf("cannot detect format of %s; set source.format", path)
}

// Records reads the file as the sequence is consumed and yields the records
// executed inside w. Malformed records are skipped and logged.
func (s *FileSource) Records(ctx context.Context, w core.TimeWindow) iter.Seq2[core.QueryLogRecord, error] {
	return func(yield func(core.QueryLogRecord, error) bool) {
		f, err := os.Open(s.Path)
		if err != nil {
			yield(core.QueryLogRecord{}, fmt.Errorf("failed to open query log: %w", err))
			return
		}
		defer func() { _ = f.Close() }()

		var docs iter.Seq2[map[string]any, error]
		if s.Format == FormatYAML {
			docs = yamlRecords(f)
		} else {
			docs = jsonRecords(f)
		}

		n := 0
		for fields, err := range docs {
			if err != nil {
				yield(core.QueryLogRecord{}, fmt.Errorf("failed to decode %s: %w", s.Path, err))
				return
			}
			if err := ctx.Err(); err != nil {
				yield(core.QueryLogRecord{}, err)
				return
			}
			n++

			rec, err := s.toRecord(fields)
			if err != nil {
				s.Logger.Debug("skipping log record",
					slog.String("path", s.Path),
					slog.Int("record", n),
					slog.String("reason", err.Error()))
				continue
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

func (s *FileSource) toRecord(fields map[string]any) (core.QueryLogRecord, error) {
	rec := core.QueryLogRecord{Dialect: s.Dialect}
	used := make(map[string]bool, 3)

	textKey, ok := firstField(fields, textFields)
	if !ok {
		return rec, errors.New("no statement text")
	}
	rec.Text, _ = asString(fields[textKey])
	if strings.TrimSpace(rec.Text) == "" {
		return rec, errors.New("empty statement text")
	}
	used[textKey] = true

	timeKey, ok := firstField(fields, timeFields)
	if !ok {
		return rec, errors.New("no execution time")
	}
	t, err := asTime(fields[timeKey])
	if err != nil {
		return rec, err
	}
	rec.ExecutedAt = t
	used[timeKey] = true

	if d, ok := fields["dialect"].(string); ok && d != "" {
		rec.Dialect = d
		used["dialect"] = true
	}

	for k, v := range fields {
		if used[k] {
			continue
		}
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any, len(fields))
		}
		rec.Metadata[k] = asMetadata(v)
	}
	return rec, nil
}

func firstField(fields map[string]any, names []string) (string, bool) {
	for _, name := range names {
		if v, ok := fields[name]; ok && v != nil {
			return name, true
		}
	}
	return "", false
}

// jsonRecords decodes a stream of JSON objects.
func jsonRecords(r io.Reader) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		dec := json.NewDecoder(r)
		dec.UseNumber()
		for {
			var fields map[string]any
			err := dec.Decode(&fields)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if fields == nil {
				continue
			}
			if !yield(fields, nil) {
				return
			}
		}
	}
}

// yamlRecords decodes a multi-document YAML stream. A document may be a
// single record or a list of records.
func yamlRecords(r io.Reader) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		dec := yaml.NewDecoder(r)
		for {
			var doc any
			err := dec.Decode(&doc)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}

			switch v := doc.(type) {
			case map[string]any:
				if !yield(v, nil) {
					return
				}
			case []any:
				for _, item := range v {
					m, ok := item.(map[string]any)
					if !ok {
						continue
					}
					if !yield(m, nil) {
						return
					}
				}
			}
		}
	}
}
