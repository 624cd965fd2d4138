// Package query answers aggregate queries over exported Parquet files and
// the in-memory history.
//
// Exported files are read through an in-memory DuckDB instance. Windows
// still held in memory are merged in so a query sees data that has not yet
// been exported. Identical concurrent queries share one execution.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"golang.org/x/sync/singleflight"

	"github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/history"
	"github.com/fleetops/fleetring/internal/logging"
	"github.com/fleetops/fleetring/internal/parquet"
	"github.com/fleetops/fleetring/internal/telemetry"
)

// Options configures the query service.
type Options struct {
	// ExportDir holds the exported aggregate files.
	ExportDir string

	// MemoryLimit is the DuckDB memory limit, e.g. "1GB". Empty keeps
	// the DuckDB default.
	MemoryLimit string

	// Timeout bounds each query. Zero means no timeout.
	Timeout time.Duration

	// MaxRows caps the rows returned by a query. Zero means unlimited.
	MaxRows int
}

// Service provides query capabilities over stored aggregates.
type Service struct {
	opts  Options
	db    *sql.DB
	store *history.Store // optional hot data

	group singleflight.Group

	// Statistics
	queries atomic.Int64
	rows    atomic.Int64
	shared  atomic.Int64
	errors  atomic.Int64
}

// AggregateQuery selects the aggregates of one series in a time range.
type AggregateQuery struct {
	Key   telemetry.Key
	Start time.Time // inclusive
	End   time.Time // exclusive
	Limit int

	// SkipHot excludes windows held in the in-memory history.
	SkipHot bool
}

func (q AggregateQuery) cacheKey() string {
	return fmt.Sprintf("%s|%d|%d|%d|%t", q.Key, q.Start.UnixMilli(), q.End.UnixMilli(), q.Limit, q.SkipHot)
}

// New opens an in-memory DuckDB instance. store may be nil.
func New(opts Options, store *history.Store) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if opts.MemoryLimit != "" {
		if _, err := db.Exec("SET memory_limit=" + quoteLiteral(opts.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		opts:  opts,
		db:    db,
		store: store,
	}, nil
}

// Close closes the DuckDB instance.
func (s *Service) Close() error {
	return s.db.Close()
}

// Aggregates returns the aggregates matching q ordered by window start.
// Exported and in-memory windows with the same start are reported once.
func (s *Service) Aggregates(ctx context.Context, q AggregateQuery) ([]telemetry.Aggregate, error) {
	if q.Key.IsZero() {
		return nil, fmt.Errorf("query key: %w", errors.ErrInvalidInput)
	}
	if !q.End.IsZero() && q.End.Before(q.Start) {
		return nil, fmt.Errorf("query range %s..%s: %w", q.Start, q.End, errors.ErrInvalidInput)
	}

	v, err, shared := s.group.Do(q.cacheKey(), func() (any, error) {
		return s.doAggregates(ctx, q)
	})
	if shared {
		s.shared.Add(1)
	}
	if err != nil {
		s.errors.Add(1)
		return nil, err
	}

	// Callers sharing a result must not alias each other's slice.
	return slices.Clone(v.([]telemetry.Aggregate)), nil
}

func (s *Service) doAggregates(ctx context.Context, q AggregateQuery) ([]telemetry.Aggregate, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	startMs, endMs := q.Start.UnixMilli(), q.End.UnixMilli()
	if q.End.IsZero() {
		endMs = 1<<63 - 1
	}

	cold, err := s.queryParquet(ctx, q.Key, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query parquet: %w", err)
	}

	var hot []telemetry.Aggregate
	if !q.SkipHot && s.store != nil {
		hot = s.queryHistory(q.Key, startMs, endMs)
	}

	results := mergeResults(cold, hot)

	limit := q.Limit
	if s.opts.MaxRows > 0 && (limit <= 0 || limit > s.opts.MaxRows) {
		limit = s.opts.MaxRows
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	s.queries.Add(1)
	s.rows.Add(int64(len(results)))
	return results, nil
}

// queryParquet reads matching rows from every exported file.
func (s *Service) queryParquet(ctx context.Context, key telemetry.Key, startMs, endMs int64) ([]telemetry.Aggregate, error) {
	if s.opts.ExportDir == "" {
		return nil, nil
	}

	// read_parquet fails on a glob without matches.
	files, err := parquet.ListFiles(s.opts.ExportDir)
	if err != nil {
		return nil, fmt.Errorf("list export files: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	pattern := filepath.Join(s.opts.ExportDir, "*"+parquet.Ext)
	query := `
		SELECT
			equipment_id, sensor_type, timestamp_ms,
			count, sum, min, max, avg,
			p50, p90, p95, p99,
			first_ts, last_ts
		FROM read_parquet(` + quoteLiteral(pattern) + `)
		WHERE equipment_id = $1
		  AND sensor_type = $2
		  AND timestamp_ms >= $3
		  AND timestamp_ms < $4
		ORDER BY timestamp_ms
	`

	rows, err := s.db.QueryContext(ctx, query, key.EquipmentID, key.SensorType, startMs, endMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAggregates(rows)
}

// scanAggregates scans rows into aggregates.
func scanAggregates(rows *sql.Rows) ([]telemetry.Aggregate, error) {
	var results []telemetry.Aggregate

	for rows.Next() {
		var a telemetry.Aggregate
		var p50, p90, p95, p99 sql.NullFloat64

		err := rows.Scan(
			&a.EquipmentID, &a.SensorType, &a.TimestampMs,
			&a.Count, &a.Sum, &a.Min, &a.Max, &a.Avg,
			&p50, &p90, &p95, &p99,
			&a.FirstTs, &a.LastTs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if p50.Valid {
			a.SetPercentiles(p50.Float64, p90.Float64, p95.Float64, p99.Float64)
		}
		results = append(results, a)
	}

	return results, rows.Err()
}

// queryHistory returns in-memory aggregates of key within the range.
func (s *Service) queryHistory(key telemetry.Key, startMs, endMs int64) []telemetry.Aggregate {
	aggs, err := s.store.Aggregates(key, 0)
	if err != nil {
		return nil
	}
	return slices.DeleteFunc(aggs, func(a telemetry.Aggregate) bool {
		return a.TimestampMs < startMs || a.TimestampMs >= endMs
	})
}

// mergeResults merges exported and in-memory aggregates by window start.
// In-memory windows win on conflict.
func mergeResults(cold, hot []telemetry.Aggregate) []telemetry.Aggregate {
	if len(hot) == 0 {
		return cold
	}

	seen := make(map[int64]struct{}, len(hot))
	results := make([]telemetry.Aggregate, 0, len(cold)+len(hot))
	for _, a := range hot {
		seen[a.TimestampMs] = struct{}{}
		results = append(results, a)
	}
	for _, a := range cold {
		if _, ok := seen[a.TimestampMs]; !ok {
			results = append(results, a)
		}
	}

	slices.SortStableFunc(results, func(a, b telemetry.Aggregate) int {
		switch {
		case a.TimestampMs < b.TimestampMs:
			return -1
		case a.TimestampMs > b.TimestampMs:
			return 1
		}
		return 0
	})
	return results
}

// ExecuteSQL runs an ad-hoc query. The token {{exports}} is replaced with a
// read_parquet call over the export directory.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]any, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	if strings.Contains(query, "{{exports}}") {
		pattern := filepath.Join(s.opts.ExportDir, "*"+parquet.Ext)
		query = strings.ReplaceAll(query, "{{exports}}", "read_parquet("+quoteLiteral(pattern)+")")
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.errors.Add(1)
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	for rows.Next() {
		if s.opts.MaxRows > 0 && len(results) >= s.opts.MaxRows {
			logging.Component("query").Warn("result truncated", "max_rows", s.opts.MaxRows)
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.queries.Add(1)
	s.rows.Add(int64(len(results)))
	return results, rows.Err()
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	return Stats{
		QueriesExecuted: s.queries.Load(),
		RowsReturned:    s.rows.Load(),
		SharedResults:   s.shared.Load(),
		Errors:          s.errors.Load(),
	}
}

// Stats holds service statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	SharedResults   int64 // calls whose result was shared with another caller
	Errors          int64
}

// quoteLiteral quotes s as a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
