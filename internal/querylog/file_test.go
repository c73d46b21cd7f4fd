package querylog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/querylineage/internal/testutil"
	"github.com/leapstack-labs/querylineage/pkg/core"
	"github.com/leapstack-labs/querylineage/pkg/dialects/mssql"
	"github.com/leapstack-labs/querylineage/pkg/dialects/postgres"
	"github.com/leapstack-labs/querylineage/pkg/filter"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func texts(recs []core.QueryLogRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Text
	}
	return out
}

func TestFileSource_JSONL(t *testing.T) {
	path := writeFile(t, "log.jsonl", `
{"text": "INSERT INTO a SELECT * FROM b", "executed_at": "2024-03-02T10:00:00Z", "user": "etl", "rows": 42}
{"query_text": "SELECT 1", "start_time": 1709373600}
{"text": "SELECT * FROM outside", "executed_at": "2024-02-01T00:00:00Z"}
{"text": "SELECT * FROM at_end", "executed_at": "2024-03-08T00:00:00Z"}
{"executed_at": "2024-03-02T10:00:00Z"}
{"text": "SELECT * FROM no_time"}
{"text": "UPDATE t SET x = 1", "executed_at": "2024-03-03 08:00:00", "dialect": "mssql"}
`)
	src, err := NewFileSource(path, "", postgres.Postgres, testutil.NewTestLogger(t))
	require.NoError(t, err)

	recs, err := collect(t, src)
	require.NoError(t, err)
	require.Equal(t, []string{"INSERT INTO a SELECT * FROM b", "SELECT 1", "UPDATE t SET x = 1"}, texts(recs))

	first := recs[0]
	assert.Equal(t, "postgres", first.Dialect)
	assert.Equal(t, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), first.ExecutedAt)
	assert.Equal(t, "etl", first.Metadata["user"])
	assert.NotContains(t, first.Metadata, "text")
	assert.NotContains(t, first.Metadata, "executed_at")

	assert.Nil(t, recs[1].Metadata)
	assert.Equal(t, "mssql", recs[2].Dialect)
}

func TestFileSource_NumericMetadata(t *testing.T) {
	path := writeFile(t, "log.jsonl", `
{"text": "INSERT INTO a SELECT * FROM b", "executed_at": "2024-03-02T10:00:00Z", "duration_ms": 5000, "cost": 1.5, "stats": {"rows": 7}}
{"text": "INSERT INTO c SELECT * FROM d", "executed_at": "2024-03-02T11:00:00Z", "duration_ms": 20}
`)
	src, err := NewFileSource(path, "", postgres.Postgres, testutil.NewTestLogger(t))
	require.NoError(t, err)

	recs, err := collect(t, src)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, int64(5000), recs[0].Metadata["duration_ms"])
	assert.Equal(t, 1.5, recs[0].Metadata["cost"])
	assert.Equal(t, map[string]any{"rows": int64(7)}, recs[0].Metadata["stats"])

	slow, err := filter.Compile(`metadata["duration_ms"] > 1000`)
	require.NoError(t, err)
	assert.False(t, slow.ShouldProcess(recs[0]), "slow statement is excluded")
	assert.True(t, slow.ShouldProcess(recs[1]))
}

func TestFileSource_YAML(t *testing.T) {
	path := writeFile(t, "log.yaml", `
text: INSERT INTO [dbo].[Sales] SELECT * FROM staging.sales
executed_at: "2024-03-02T10:00:00Z"
database_name: warehouse
---
- text: SELECT * FROM dbo.orders
  executed_at: "2024-03-04 12:30:00"
- text: MERGE INTO t USING s ON t.id = s.id WHEN MATCHED THEN DELETE
  executed_at: 1709373600
- not a record
---
text: SELECT 1
executed_at: "2023-12-31T23:59:59Z"
`)
	src, err := NewFileSource(path, "", mssql.MSSQL, nil)
	require.NoError(t, err)

	recs, err := collect(t, src)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "INSERT INTO [dbo].[Sales] SELECT * FROM staging.sales", recs[0].Text)
	assert.Equal(t, "warehouse", recs[0].Metadata["database_name"])
	assert.Equal(t, "mssql", recs[0].Dialect)
	assert.Equal(t, time.Date(2024, 3, 4, 12, 30, 0, 0, time.UTC), recs[1].ExecutedAt)
	assert.Equal(t, time.Unix(1709373600, 0).UTC(), recs[2].ExecutedAt)
}

func TestFileSource_DecodeError(t *testing.T) {
	path := writeFile(t, "log.jsonl", `{"text": "SELECT 1", "executed_at": "2024-03-02T10:00:00Z"}
{"text": `)
	src, err := NewFileSource(path, "", postgres.Postgres, nil)
	require.NoError(t, err)

	recs, err := collect(t, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode")
	assert.Len(t, recs, 1)
}

func TestFileSource_MissingFile(t *testing.T) {
	src, err := NewFileSource(filepath.Join(t.TempDir(), "missing.jsonl"), "", postgres.Postgres, nil)
	require.NoError(t, err)

	_, err = collect(t, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open query log")
}

func TestFileSource_Cancelled(t *testing.T) {
	path := writeFile(t, "log.jsonl", `{"text": "SELECT 1", "executed_at": "2024-03-02T10:00:00Z"}`)
	src, err := NewFileSource(path, "", postgres.Postgres, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, err := range src.Records(ctx, testWindow) {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path      string
		format    string
		want      string
		expectErr bool
	}{
		{"log.jsonl", "", FormatJSONL, false},
		{"log.NDJSON", "", FormatJSONL, false},
		{"log.yml", "", FormatYAML, false},
		{"log.txt", "yaml", FormatYAML, false},
		{"log.txt", "json", FormatJSONL, false},
		{"log.txt", "", "", true},
		{"log.jsonl", "csv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path+"/"+tt.format, func(t *testing.T) {
			got, err := detectFormat(tt.path, tt.format)
			if tt.expectErr {
				assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSliceSource(t *testing.T) {
	src := SliceSource{
		{Text: "a", ExecutedAt: testWindow.Start},
		{Text: "b", ExecutedAt: testWindow.Start.Add(-time.Nanosecond)},
		{Text: "c", ExecutedAt: testWindow.End.Add(-time.Nanosecond)},
		{Text: "d", ExecutedAt: testWindow.End},
	}

	recs, err := collect(t, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, texts(recs))
}

func TestNew(t *testing.T) {
	path := writeFile(t, "log.jsonl", "")

	tests := []struct {
		name      string
		cfg       Config
		wantType  any
		expectErr bool
	}{
		{name: "file", cfg: Config{Type: "file", Path: path}, wantType: &FileSource{}},
		{name: "no type", cfg: Config{}, expectErr: true},
		{name: "unknown type", cfg: Config{Type: "kafka"}, expectErr: true},
		{name: "file without path", cfg: Config{Type: "file"}, expectErr: true},
		{name: "sql without default driver", cfg: Config{Type: "sql", Query: "SELECT q, t FROM l"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := New(tt.cfg, mssql.MSSQL, nil)
			if tt.expectErr {
				assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, src)
		})
	}
}

func TestTypes(t *testing.T) {
	assert.Equal(t, []string{"file", "sql"}, Types())

	err := (&UnknownSourceError{Type: "x", Available: Types()}).Error()
	assert.Equal(t, `unknown source type "x" (available: [file sql])`, err)
}
