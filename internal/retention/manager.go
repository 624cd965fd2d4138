// Package retention removes exported files and WAL segments once they
// exceed their configured age.
package retention

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fleetops/fleetring/internal/logging"
	"github.com/fleetops/fleetring/internal/parquet"
	"github.com/fleetops/fleetring/internal/wal"
)

// Class identifies a kind of persisted data.
type Class string

const (
	ClassExport Class = "export"
	ClassWAL    Class = "wal"
)

// Options configures a Manager. A zero retention disables cleanup of that
// class.
type Options struct {
	ExportDir       string
	ExportRetention time.Duration

	WALDir       string
	WALRetention time.Duration
}

// SegmentDeleter deletes WAL segments. *wal.Writer refuses to delete its
// active segment.
type SegmentDeleter interface {
	DeleteSegment(path string) error
}

// Manager handles cleanup of expired data.
type Manager struct {
	mu      sync.Mutex
	opts    Options
	deleter SegmentDeleter
	now     func() time.Time
	stats   Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime  time.Time
	Runs         int64
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// CleanupResult holds the result of cleaning one class.
type CleanupResult struct {
	Class        Class
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Deleted      []string
	Errors       []error
}

// New creates a retention manager. deleter may be nil, in which case the
// newest WAL segment is always kept.
func New(opts Options, deleter SegmentDeleter) *Manager {
	return &Manager{
		opts:    opts,
		deleter: deleter,
		now:     time.Now,
	}
}

// RunCleanup deletes expired files of every class.
func (m *Manager) RunCleanup() []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := m.cleanup(false)

	m.stats.LastRunTime = m.now()
	m.stats.Runs++
	for _, r := range results {
		m.stats.FilesDeleted += int64(r.FilesDeleted)
		m.stats.BytesFreed += r.BytesFreed
		m.stats.FilesSkipped += int64(r.FilesSkipped)
		m.stats.Errors += int64(len(r.Errors))
	}

	log := logging.Component("retention")
	for _, r := range results {
		if r.FilesDeleted > 0 || len(r.Errors) > 0 {
			log.Info("cleanup finished",
				"class", r.Class,
				"deleted", r.FilesDeleted,
				"freed", formatBytes(r.BytesFreed),
				"errors", len(r.Errors),
			)
		}
	}

	return results
}

// DryRun reports what RunCleanup would delete without deleting anything.
func (m *Manager) DryRun() []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanup(true)
}

func (m *Manager) cleanup(dryRun bool) []CleanupResult {
	now := m.now()
	return []CleanupResult{
		m.cleanupExports(now, dryRun),
		m.cleanupWAL(now, dryRun),
	}
}

// cleanupExports deletes export files whose name time is before the cutoff.
func (m *Manager) cleanupExports(now time.Time, dryRun bool) CleanupResult {
	result := CleanupResult{Class: ClassExport}
	if m.opts.ExportDir == "" || m.opts.ExportRetention <= 0 {
		return result
	}
	cutoff := now.Add(-m.opts.ExportRetention)

	files, err := parquet.ListFiles(m.opts.ExportDir)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("list files: %w", err))
		return result
	}

	for _, f := range files {
		fileTime, err := parquet.ParseFileTime(f.Name)
		if err != nil || fileTime.After(cutoff) {
			result.FilesSkipped++
			continue
		}

		if !dryRun {
			if err := os.Remove(f.Path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", f.Path, err))
				continue
			}
		}

		result.FilesDeleted++
		result.BytesFreed += f.Size
		result.Deleted = append(result.Deleted, f.Path)
	}

	return result
}

// cleanupWAL deletes closed segments last modified before the cutoff.
func (m *Manager) cleanupWAL(now time.Time, dryRun bool) CleanupResult {
	result := CleanupResult{Class: ClassWAL}
	if m.opts.WALDir == "" || m.opts.WALRetention <= 0 {
		return result
	}
	cutoff := now.Add(-m.opts.WALRetention)

	segments, err := wal.ListSegments(m.opts.WALDir)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("list segments: %w", err))
		return result
	}

	for i, seg := range segments {
		// Without a writer to ask, the newest segment may be the active one.
		if m.deleter == nil && i == len(segments)-1 {
			result.FilesSkipped++
			continue
		}
		if seg.ModTime.After(cutoff) {
			result.FilesSkipped++
			continue
		}

		if !dryRun {
			if err := m.deleteSegment(seg.Path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", seg.Path, err))
				continue
			}
		}

		result.FilesDeleted++
		result.BytesFreed += seg.Size
		result.Deleted = append(result.Deleted, seg.Path)
	}

	return result
}

func (m *Manager) deleteSegment(path string) error {
	if m.deleter != nil {
		return m.deleter.DeleteSegment(path)
	}
	return os.Remove(path)
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
}

// GetDiskUsage returns disk usage per class.
func (m *Manager) GetDiskUsage() map[Class]DiskUsage {
	usage := make(map[Class]DiskUsage, 2)

	if files, err := parquet.ListFiles(m.opts.ExportDir); err == nil && m.opts.ExportDir != "" {
		var u DiskUsage
		for _, f := range files {
			u.FileCount++
			u.TotalSize += f.Size
		}
		usage[ClassExport] = u
	}

	if segments, err := wal.ListSegments(m.opts.WALDir); err == nil && m.opts.WALDir != "" {
		var u DiskUsage
		for _, s := range segments {
			u.FileCount++
			u.TotalSize += s.Size
		}
		usage[ClassWAL] = u
	}

	return usage
}

// FormatDiskUsage returns a human-readable disk usage summary.
func (m *Manager) FormatDiskUsage() string {
	usage := m.GetDiskUsage()

	var b strings.Builder
	var totalSize int64
	var totalFiles int

	b.WriteString("Disk Usage:\n")
	for _, class := range []Class{ClassExport, ClassWAL} {
		u := usage[class]
		totalSize += u.TotalSize
		totalFiles += u.FileCount
		fmt.Fprintf(&b, "  %s: %d files, %s\n", class, u.FileCount, formatBytes(u.TotalSize))
	}
	fmt.Fprintf(&b, "  Total: %d files, %s\n", totalFiles, formatBytes(totalSize))

	return b.String()
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
