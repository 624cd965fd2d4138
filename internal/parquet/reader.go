package parquet

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/fleetops/fleetring/internal/telemetry"
)

// rowReader reads rows of type R from one file.
type rowReader[R any] struct {
	file   *os.File
	reader *parquet.GenericReader[R]
	path   string
}

func newRowReader[R any](path string) (*rowReader[R], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &rowReader[R]{
		file:   f,
		reader: parquet.NewGenericReader[R](f, parquet.ReadBufferSize(1024*1024)),
		path:   path,
	}, nil
}

// read reads up to n rows. It returns io.EOF only when no rows are left.
func (r *rowReader[R]) read(n int) ([]R, error) {
	rows := make([]R, n)
	count, err := r.reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if count == 0 && err == io.EOF {
		return nil, io.EOF
	}
	return rows[:count], nil
}

func (r *rowReader[R]) readAll() ([]R, error) {
	rows := make([]R, r.reader.NumRows())
	var off int
	for off < len(rows) {
		n, err := r.reader.Read(rows[off:])
		off += n
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return rows[:off], nil
}

// NumRows returns the total number of rows in the file.
func (r *rowReader[R]) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *rowReader[R]) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *rowReader[R]) Path() string {
	return r.path
}

// AggregateReader reads aggregates from a Parquet file.
type AggregateReader struct {
	*rowReader[AggregateRow]
}

// NewAggregateReader opens an aggregate file.
func NewAggregateReader(path string) (*AggregateReader, error) {
	r, err := newRowReader[AggregateRow](path)
	if err != nil {
		return nil, err
	}
	return &AggregateReader{r}, nil
}

// Read reads up to n aggregates. Returns io.EOF when the file is exhausted.
func (r *AggregateReader) Read(n int) ([]telemetry.Aggregate, error) {
	rows, err := r.read(n)
	if err != nil {
		return nil, err
	}
	return toAggregates(rows), nil
}

// ReadAll reads all aggregates.
func (r *AggregateReader) ReadAll() ([]telemetry.Aggregate, error) {
	rows, err := r.readAll()
	if err != nil {
		return nil, err
	}
	return toAggregates(rows), nil
}

func toAggregates(rows []AggregateRow) []telemetry.Aggregate {
	out := make([]telemetry.Aggregate, len(rows))
	for i := range rows {
		out[i] = RowToAggregate(&rows[i])
	}
	return out
}

// ReadingReader reads raw readings from a Parquet file.
type ReadingReader struct {
	*rowReader[ReadingRow]
}

// NewReadingReader opens a reading file.
func NewReadingReader(path string) (*ReadingReader, error) {
	r, err := newRowReader[ReadingRow](path)
	if err != nil {
		return nil, err
	}
	return &ReadingReader{r}, nil
}

// ReadAll reads all readings.
func (r *ReadingReader) ReadAll() ([]telemetry.Reading, error) {
	rows, err := r.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]telemetry.Reading, len(rows))
	for i := range rows {
		out[i] = RowToReading(&rows[i])
	}
	return out, nil
}

// ReadAggregates reads every aggregate in the file at path.
func ReadAggregates(path string) ([]telemetry.Aggregate, error) {
	r, err := NewAggregateReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}
