package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/telemetry"
)

// Options configures the Parquet writers.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// PageBufferSize is the page buffer size in bytes. Zero keeps the
	// library default.
	PageBufferSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
	}
}

// ParseCompressionType parses a compression name. Empty means zstd.
func ParseCompressionType(s string) (CompressionType, error) {
	switch s {
	case "snappy":
		return CompressionSnappy, nil
	case "zstd", "":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "gzip":
		return CompressionGzip, nil
	case "none":
		return CompressionNone, nil
	default:
		return CompressionZstd, fmt.Errorf("compression %q: %w", s, errors.ErrInvalidConfig)
	}
}

// String returns the compression name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionGzip:
		return "gzip"
	default:
		return "none"
	}
}

func (c CompressionType) codec() compress.Codec {
	switch c {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// rowWriter writes rows of type R to one file.
type rowWriter[R any] struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[R]
	rowCount int64
	closed   bool
}

func newRowWriter[R any](path string, opts Options) (*rowWriter[R], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(opts.Compression.codec()),
	}
	if opts.PageBufferSize > 0 {
		writerOpts = append(writerOpts, parquet.PageBufferSize(opts.PageBufferSize))
	}

	return &rowWriter[R]{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[R](f, writerOpts...),
	}, nil
}

func (w *rowWriter[R]) write(rows []R) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.rowCount += int64(n)
	return nil
}

// Close flushes the footer and closes the file.
func (w *rowWriter[R]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *rowWriter[R]) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *rowWriter[R]) Path() string {
	return w.path
}

// AggregateWriter writes aggregates to a Parquet file.
type AggregateWriter struct {
	*rowWriter[AggregateRow]
}

// NewAggregateWriter creates an aggregate writer at path.
func NewAggregateWriter(path string, opts Options) (*AggregateWriter, error) {
	w, err := newRowWriter[AggregateRow](path, opts)
	if err != nil {
		return nil, err
	}
	return &AggregateWriter{w}, nil
}

// Write appends aggregates to the file.
func (w *AggregateWriter) Write(aggs []telemetry.Aggregate) error {
	if len(aggs) == 0 {
		return nil
	}
	rows := make([]AggregateRow, len(aggs))
	for i := range aggs {
		rows[i] = AggregateToRow(&aggs[i])
	}
	return w.write(rows)
}

// ReadingWriter writes raw readings to a Parquet file.
type ReadingWriter struct {
	*rowWriter[ReadingRow]
}

// NewReadingWriter creates a reading writer at path.
func NewReadingWriter(path string, opts Options) (*ReadingWriter, error) {
	w, err := newRowWriter[ReadingRow](path, opts)
	if err != nil {
		return nil, err
	}
	return &ReadingWriter{w}, nil
}

// Write appends readings to the file.
func (w *ReadingWriter) Write(readings []telemetry.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	rows := make([]ReadingRow, len(readings))
	for i := range readings {
		rows[i] = ReadingToRow(&readings[i])
	}
	return w.write(rows)
}

// WriteAggregates writes aggs to a new file at path in one call.
func WriteAggregates(path string, aggs []telemetry.Aggregate, opts Options) error {
	w, err := NewAggregateWriter(path, opts)
	if err != nil {
		return err
	}
	if err := w.Write(aggs); err != nil {
		w.Close()
		os.Remove(path)
		return err
	}
	return w.Close()
}
