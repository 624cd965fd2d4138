package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/logging"
	"github.com/fleetops/fleetring/internal/telemetry"
)

// Reader reads reading batches from one segment file.
type Reader struct {
	path string
	file *os.File

	// Statistics
	stats ReaderStats
}

// ReaderStats holds WAL reader statistics.
type ReaderStats struct {
	RecordsRead    int64
	ReadingsRead   int64
	BytesRead      int64
	CorruptRecords int64
}

func (s *ReaderStats) add(o ReaderStats) {
	s.RecordsRead += o.RecordsRead
	s.ReadingsRead += o.ReadingsRead
	s.BytesRead += o.BytesRead
	s.CorruptRecords += o.CorruptRecords
}

// NewReader opens a segment file and verifies its header.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	if magic := binary.LittleEndian.Uint64(header[0:8]); magic != walMagic {
		f.Close()
		return nil, fmt.Errorf("invalid magic %x: %w", magic, errors.ErrCorruptRecord)
	}

	if version := binary.LittleEndian.Uint32(header[8:12]); version != walVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	return &Reader{
		path: path,
		file: f,
	}, nil
}

// ReadRecord reads the next record from the segment.
// Returns io.EOF when there are no more records. A truncated tail, as left
// by a crash mid-write, is reported as io.ErrUnexpectedEOF.
func (r *Reader) ReadRecord() ([]telemetry.Reading, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.file, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	if length > maxRecordSize {
		return nil, fmt.Errorf("record too large (%d bytes): %w", length, errors.ErrCorruptRecord)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	if actual := crc32.ChecksumIEEE(payload); actual != expectedCRC {
		return nil, fmt.Errorf("crc mismatch: expected %x, got %x: %w", expectedCRC, actual, errors.ErrCorruptRecord)
	}

	readings, err := decodeReadings(payload)
	if err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}

	r.stats.RecordsRead++
	r.stats.ReadingsRead += int64(len(readings))
	r.stats.BytesRead += int64(recordHeaderSize + len(payload))

	return readings, nil
}

// ReadAll reads all readings from the segment. Records that fail their
// checksum or do not decode are counted and skipped. A read error other
// than a bad record ends the scan.
func (r *Reader) ReadAll() ([]telemetry.Reading, error) {
	var all []telemetry.Reading

	for {
		readings, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.stats.CorruptRecords++
			if errors.Is(err, errors.ErrCorruptRecord) {
				continue
			}
			// Torn tail or I/O error: nothing after this point is trustworthy.
			logging.Component("wal").Warn("segment truncated",
				"segment", r.path,
				"error", err,
			)
			break
		}
		all = append(all, readings...)
	}

	return all, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// ReadSegment reads all readings from a segment file.
func ReadSegment(path string) ([]telemetry.Reading, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.ReadAll()
}

// ReadAllSegments reads all readings from multiple segment files in order.
func ReadAllSegments(paths []string) ([]telemetry.Reading, error) {
	var all []telemetry.Reading

	for _, path := range paths {
		readings, err := ReadSegment(path)
		if err != nil {
			return nil, fmt.Errorf("read segment %s: %w", path, err)
		}
		all = append(all, readings...)
	}

	return all, nil
}

// Replay feeds every reading of every segment in dir to fn, in log order.
// Unreadable segments are logged and skipped. Replay stops at the first
// error returned by fn.
func Replay(dir string, fn func(telemetry.Reading) error) (ReaderStats, error) {
	var total ReaderStats
	log := logging.Component("wal")

	segments, err := listSegments(dir)
	if err != nil {
		return total, fmt.Errorf("list segments: %w", err)
	}

	for _, seg := range segments {
		r, err := NewReader(seg.Path)
		if err != nil {
			log.Warn("skipping unreadable segment", "segment", seg.Path, "error", err)
			continue
		}

		readings, _ := r.ReadAll()
		total.add(r.Stats())
		r.Close()

		for _, reading := range readings {
			if err := fn(reading); err != nil {
				return total, err
			}
		}
	}

	return total, nil
}

// Iterator iterates over readings in a segment.
type Iterator struct {
	reader   *Reader
	buffer   []telemetry.Reading
	position int
	current  telemetry.Reading
	done     bool
	err      error
}

// NewIterator creates an iterator for a segment file.
func NewIterator(path string) (*Iterator, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	return &Iterator{reader: r}, nil
}

// Next advances to the next reading.
// Returns false when there are no more readings or an error occurred.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	for it.position >= len(it.buffer) {
		readings, err := it.reader.ReadRecord()
		if err == io.EOF {
			it.done = true
			return false
		}
		if err != nil {
			it.err = err
			return false
		}
		it.buffer = readings
		it.position = 0
	}

	it.current = it.buffer[it.position]
	it.position++
	return true
}

// Reading returns the current reading.
func (it *Iterator) Reading() telemetry.Reading {
	return it.current
}

// Err returns any error encountered during iteration.
func (it *Iterator) Err() error {
	return it.err
}

// Close closes the iterator.
func (it *Iterator) Close() error {
	return it.reader.Close()
}
