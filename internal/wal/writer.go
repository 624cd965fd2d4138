// Package wal implements a segmented write-ahead log for telemetry
// readings. Readings are logged before they reach in-memory history so the
// history can be rebuilt after a restart.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/logging"
	"github.com/fleetops/fleetring/internal/telemetry"
)

// Writer appends reading batches to segment files with CRC checksums.
//
// File format:
//   - Header: 8 bytes magic + 4 bytes version
//   - Records: [4 bytes length][4 bytes crc32][payload]
type Writer struct {
	mu sync.Mutex

	dir            string
	currentSegment *os.File
	currentPath    string
	currentSize    int64
	segmentSeq     int64
	closed         bool

	writer *bufio.Writer

	opts Options

	// Statistics
	stats WriterStats
}

// Sync modes.
const (
	SyncAsync = "async" // buffered, synced by the caller on an interval
	SyncSync  = "sync"  // flushed after each batch
	SyncFsync = "fsync" // flushed and fsynced after each batch
)

// Options configures the WAL writer.
type Options struct {
	// MaxSegmentSize is the maximum size of a segment file before rotation.
	// Default: 64MB
	MaxSegmentSize int64

	// SyncMode controls how writes reach the disk.
	SyncMode string

	// SyncInterval is the interval for async sync mode.
	// Default: 1s
	SyncInterval time.Duration

	// BufferSize is the size of the write buffer.
	// Default: 64KB
	BufferSize int
}

// DefaultOptions returns default WAL options.
func DefaultOptions() Options {
	return Options{
		MaxSegmentSize: 64 * 1024 * 1024,
		SyncMode:       SyncAsync,
		SyncInterval:   time.Second,
		BufferSize:     64 * 1024,
	}
}

// WriterStats holds WAL writer statistics.
type WriterStats struct {
	SegmentsCreated int64
	RecordsWritten  int64
	ReadingsWritten int64
	BytesWritten    int64
	SyncsPerformed  int64
	Errors          int64
}

const (
	walMagic         = 0x464C5452574C0001 // "FLTRWL" + 0001
	walVersion       = 1
	headerSize       = 12 // 8 bytes magic + 4 bytes version
	recordHeaderSize = 8  // 4 bytes length + 4 bytes crc
	maxRecordSize    = 64 * 1024 * 1024
	segmentExt       = ".wal"
)

// NewWriter creates a WAL writer in dir. Numbering continues after the
// highest existing segment; existing segments are never appended to.
func NewWriter(dir string, opts Options) (*Writer, error) {
	defaults := DefaultOptions()
	if opts.MaxSegmentSize <= 0 {
		opts.MaxSegmentSize = defaults.MaxSegmentSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = defaults.SyncInterval
	}
	switch opts.SyncMode {
	case "":
		opts.SyncMode = SyncAsync
	case SyncAsync, SyncSync, SyncFsync:
	default:
		return nil, fmt.Errorf("sync mode %q: %w", opts.SyncMode, errors.ErrInvalidConfig)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	w := &Writer{
		dir:  dir,
		opts: opts,
	}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	if len(segments) > 0 {
		w.segmentSeq = segments[len(segments)-1].Seq + 1
	}

	if err := w.rotateUnlocked(); err != nil {
		return nil, fmt.Errorf("create initial segment: %w", err)
	}

	return w, nil
}

// Write logs a batch of readings as one record.
func (w *Writer) Write(readings []telemetry.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	payload := encodeReadings(readings)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrWriterClosed
	}

	recordSize := int64(recordHeaderSize + len(payload))
	if w.currentSize+recordSize > w.opts.MaxSegmentSize && w.currentSize > headerSize {
		if err := w.rotateUnlocked(); err != nil {
			w.stats.Errors++
			return fmt.Errorf("rotate segment: %w", err)
		}
	}

	if err := w.writeRecord(payload); err != nil {
		w.stats.Errors++
		return fmt.Errorf("write record: %w", err)
	}

	w.stats.RecordsWritten++
	w.stats.ReadingsWritten += int64(len(readings))
	w.stats.BytesWritten += recordSize

	if w.opts.SyncMode != SyncAsync {
		if err := w.syncUnlocked(); err != nil {
			w.stats.Errors++
			return fmt.Errorf("sync: %w", err)
		}
	}

	return nil
}

func (w *Writer) writeRecord(payload []byte) error {
	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := w.writer.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.writer.Write(payload); err != nil {
		return err
	}

	w.currentSize += int64(recordHeaderSize + len(payload))
	return nil
}

// Sync flushes buffered data to disk.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.syncUnlocked()
}

func (w *Writer) syncUnlocked() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if w.opts.SyncMode == SyncFsync {
		if err := w.currentSegment.Sync(); err != nil {
			return err
		}
	}
	w.stats.SyncsPerformed++
	return nil
}

// Rotate closes the current segment and starts a new one.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.ErrWriterClosed
	}
	return w.rotateUnlocked()
}

func (w *Writer) rotateUnlocked() error {
	if w.currentSegment != nil {
		if err := w.writer.Flush(); err != nil {
			logging.Component("wal").Warn("flush on rotate failed", "segment", w.currentPath, "error", err)
		}
		w.currentSegment.Close()
	}

	path := filepath.Join(w.dir, segmentName(w.segmentSeq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", path, err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], walMagic)
	binary.LittleEndian.PutUint32(header[8:12], walVersion)

	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write header: %w", err)
	}

	w.currentSegment = f
	w.currentPath = path
	w.currentSize = headerSize
	w.writer = bufio.NewWriterSize(f, w.opts.BufferSize)
	w.segmentSeq++
	w.stats.SegmentsCreated++

	return nil
}

// Close flushes and closes the current segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	flushErr := w.writer.Flush()
	if err := w.currentSegment.Close(); err != nil {
		return err
	}
	return flushErr
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Options returns the effective writer options.
func (w *Writer) Options() Options {
	return w.opts
}

// Dir returns the WAL directory.
func (w *Writer) Dir() string {
	return w.dir
}

// CurrentSegment returns the current segment path.
func (w *Writer) CurrentSegment() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentPath
}

// DeleteSegment deletes a closed segment file.
func (w *Writer) DeleteSegment(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if path == w.currentPath {
		return fmt.Errorf("cannot delete current segment %s", path)
	}
	return os.Remove(path)
}

// DeleteSegmentsBefore deletes all closed segments with a sequence number
// below seq.
func (w *Writer) DeleteSegmentsBefore(seq int64) (int, error) {
	segments, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, s := range segments {
		if s.Seq >= seq {
			break
		}
		if err := w.DeleteSegment(s.Path); err != nil {
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Segment describes a segment file.
type Segment struct {
	Path    string
	Seq     int64
	Size    int64
	ModTime time.Time
}

func segmentName(seq int64) string {
	return fmt.Sprintf("%016d%s", seq, segmentExt)
}

// ListSegments returns the segments in dir ordered by sequence number.
func ListSegments(dir string) ([]Segment, error) {
	return listSegments(dir)
}

func listSegments(dir string) ([]Segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segments []Segment
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if len(name) != 16+len(segmentExt) || filepath.Ext(name) != segmentExt {
			continue
		}

		var seq int64
		if _, err := fmt.Sscanf(name, "%016d.wal", &seq); err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		segments = append(segments, Segment{
			Path:    filepath.Join(dir, name),
			Seq:     seq,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	slices.SortFunc(segments, func(a, b Segment) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})

	return segments, nil
}
