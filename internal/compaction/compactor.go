// Package compaction merges the many small export files written during one
// hour into a single file per hour.
//
// Rows keep their window resolution; only the file count changes. When the
// same window of a series appears in more than one file, the copy from the
// newest file wins.
package compaction

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/fleetops/fleetring/internal/logging"
	"github.com/fleetops/fleetring/internal/parquet"
	"github.com/fleetops/fleetring/internal/telemetry"
)

// Options configures a Compactor.
type Options struct {
	// Dir is the export directory.
	Dir string

	// MinAge is how long after the end of an hour its files are merged.
	MinAge time.Duration

	// Parquet holds the writer options of merged files.
	Parquet parquet.Options
}

// Compactor merges export files per UTC hour.
type Compactor struct {
	opts Options

	// Statistics
	runs         atomic.Int64
	groups       atomic.Int64
	filesRead    atomic.Int64
	filesWritten atomic.Int64
	filesRemoved atomic.Int64
	rows         atomic.Int64
	failures     atomic.Int64
}

// New creates a compactor. It is not safe to run concurrently with itself.
func New(opts Options) *Compactor {
	return &Compactor{opts: opts}
}

// Result describes one compaction run.
type Result struct {
	Groups       int
	FilesRead    int
	FilesWritten int
	FilesRemoved int
	Rows         int
	Duration     time.Duration
}

// group is the set of files whose names fall into one hour.
type group struct {
	hour  time.Time
	files []parquet.File
}

// Run merges every hour that ended at least MinAge before now and holds
// more than one file. A failing hour is logged and skipped; the first
// error is returned after all hours were tried.
func (c *Compactor) Run(now time.Time) (Result, error) {
	start := time.Now()
	var result Result

	groups, err := c.plan(now)
	if err != nil {
		return result, err
	}

	log := logging.Component("compaction")
	var firstErr error

	for _, g := range groups {
		rows, removed, err := c.merge(g)
		if err != nil {
			c.failures.Add(1)
			log.Error("compaction failed", "hour", g.hour.Format(time.RFC3339), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		result.Groups++
		result.FilesRead += len(g.files)
		result.FilesWritten++
		result.FilesRemoved += removed
		result.Rows += rows

		log.Debug("hour compacted",
			"hour", g.hour.Format(time.RFC3339),
			"files", len(g.files),
			"rows", rows,
		)
	}

	result.Duration = time.Since(start)

	c.runs.Add(1)
	c.groups.Add(int64(result.Groups))
	c.filesRead.Add(int64(result.FilesRead))
	c.filesWritten.Add(int64(result.FilesWritten))
	c.filesRemoved.Add(int64(result.FilesRemoved))
	c.rows.Add(int64(result.Rows))

	if result.Groups > 0 {
		log.Info("compaction completed",
			"hours", result.Groups,
			"files_read", result.FilesRead,
			"rows", result.Rows,
			"duration", result.Duration,
		)
	}
	return result, firstErr
}

// plan groups the export files by hour and keeps the hours ready for
// merging.
func (c *Compactor) plan(now time.Time) ([]group, error) {
	files, err := parquet.ListFiles(c.opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("list export files: %w", err)
	}

	cutoff := now.Add(-c.opts.MinAge)
	byHour := make(map[time.Time][]parquet.File)

	for _, f := range files {
		t, err := parquet.ParseFileTime(f.Name)
		if err != nil {
			continue // not an export file
		}
		hour := t.Truncate(time.Hour)
		if hour.Add(time.Hour).After(cutoff) {
			continue
		}
		byHour[hour] = append(byHour[hour], f)
	}

	var groups []group
	for hour, fs := range byHour {
		if len(fs) < 2 {
			continue
		}
		groups = append(groups, group{hour: hour, files: fs})
	}
	slices.SortFunc(groups, func(a, b group) int {
		return a.hour.Compare(b.hour)
	})
	return groups, nil
}

// merge writes the rows of g into one file named after the hour and
// removes the sources. The merged file is renamed into place before any
// source is removed.
func (c *Compactor) merge(g group) (rows, removed int, err error) {
	type windowKey struct {
		key telemetry.Key
		ts  int64
	}

	// ListFiles orders by name, so later files overwrite earlier ones.
	byWindow := make(map[windowKey]telemetry.Aggregate)
	for _, f := range g.files {
		aggs, err := parquet.ReadAggregates(f.Path)
		if err != nil {
			return 0, 0, fmt.Errorf("read %s: %w", f.Name, err)
		}
		for _, a := range aggs {
			byWindow[windowKey{a.Key(), a.TimestampMs}] = a
		}
	}

	merged := make([]telemetry.Aggregate, 0, len(byWindow))
	for _, a := range byWindow {
		merged = append(merged, a)
	}
	slices.SortFunc(merged, func(a, b telemetry.Aggregate) int {
		return cmp.Or(
			cmp.Compare(a.TimestampMs, b.TimestampMs),
			cmp.Compare(a.EquipmentID, b.EquipmentID),
			cmp.Compare(a.SensorType, b.SensorType),
		)
	})

	out := filepath.Join(c.opts.Dir, parquet.FileName(g.hour))
	tmp := out + ".tmp"

	if err := parquet.WriteAggregates(tmp, merged, c.opts.Parquet); err != nil {
		os.Remove(tmp)
		return 0, 0, err
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return 0, 0, fmt.Errorf("rename merged file: %w", err)
	}

	for _, f := range g.files {
		if f.Path == out {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			logging.Component("compaction").Warn("remove merged source failed", "file", f.Name, "error", err)
			continue
		}
		removed++
	}

	return len(merged), removed, nil
}

// Stats returns lifetime statistics.
func (c *Compactor) Stats() Stats {
	return Stats{
		Runs:         c.runs.Load(),
		HoursMerged:  c.groups.Load(),
		FilesRead:    c.filesRead.Load(),
		FilesWritten: c.filesWritten.Load(),
		FilesRemoved: c.filesRemoved.Load(),
		Rows:         c.rows.Load(),
		Failures:     c.failures.Load(),
	}
}

// Stats holds compactor statistics.
type Stats struct {
	Runs         int64
	HoursMerged  int64
	FilesRead    int64
	FilesWritten int64
	FilesRemoved int64
	Rows         int64
	Failures     int64
}
