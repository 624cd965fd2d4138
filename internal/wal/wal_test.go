package wal

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/telemetry"
	"github.com/fleetops/fleetring/internal/testutil"
)

var pumpPressure = telemetry.NewKey("pump-1", "pressure")

func testReadings(n int) []telemetry.Reading {
	return testutil.Sequence(pumpPressure, n, testutil.BaseTimestampMs, 100*time.Millisecond)
}

func TestEncodeDecode(t *testing.T) {
	readings := []telemetry.Reading{
		{EquipmentID: "pump-1", SensorType: "pressure", Value: 42.5, Unit: "bar", TimestampMs: 1704067200123},
		{EquipmentID: "fan-2", SensorType: "rpm", Value: -0.25, Unit: "", TimestampMs: 1704067200456},
		{EquipmentID: "fan-2", SensorType: "rpm", Value: 0, Unit: "rpm", TimestampMs: 1704067200999},
	}

	decoded, err := decodeReadings(encodeReadings(readings))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(decoded) != len(readings) {
		t.Fatalf("expected %d readings, got %d", len(readings), len(decoded))
	}
	for i := range readings {
		if decoded[i] != readings[i] {
			t.Errorf("reading %d: expected %+v, got %+v", i, readings[i], decoded[i])
		}
	}
}

func TestDecode_Corrupt(t *testing.T) {
	data := encodeReadings(testReadings(2))

	if _, err := decodeReadings(data[:len(data)-3]); !errors.Is(err, errors.ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord for truncated payload, got %v", err)
	}
}

func TestWriter_Basic(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if err := w.Write(testReadings(10)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(nil); err != nil {
		t.Fatalf("empty Write: %v", err)
	}

	stats := w.Stats()
	if stats.RecordsWritten != 1 || stats.ReadingsWritten != 10 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.SegmentsCreated != 1 {
		t.Errorf("expected 1 segment, got %d", stats.SegmentsCreated)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Write(testReadings(1)); !errors.Is(err, errors.ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
}

func TestWriter_InvalidSyncMode(t *testing.T) {
	opts := DefaultOptions()
	opts.SyncMode = "later"

	if _, err := NewWriter(t.TempDir(), opts); !errors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestWriter_Rotation(t *testing.T) {
	dir := t.TempDir()

	opts := DefaultOptions()
	opts.MaxSegmentSize = 1024

	w, err := NewWriter(dir, opts)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	for i := 0; i < 10; i++ {
		if err := w.Write(testReadings(10)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	if w.Stats().SegmentsCreated < 2 {
		t.Errorf("expected rotation, got %d segments", w.Stats().SegmentsCreated)
	}

	segments, err := ListSegments(dir)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	for i := 1; i < len(segments); i++ {
		if segments[i].Seq <= segments[i-1].Seq {
			t.Errorf("segments not ordered: %d after %d", segments[i].Seq, segments[i-1].Seq)
		}
	}
}

func TestReader_MultipleRecords(t *testing.T) {
	dir := t.TempDir()

	opts := DefaultOptions()
	opts.SyncMode = SyncSync
	w, err := NewWriter(dir, opts)
	if err != nil {
		t.Fatal(err)
	}

	batch := testReadings(30)
	for i := 0; i < 3; i++ {
		if err := w.Write(batch[i*10 : (i+1)*10]); err != nil {
			t.Fatal(err)
		}
	}
	path := w.CurrentSegment()
	w.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	for i := 0; i < 3; i++ {
		got, err := r.ReadRecord()
		if err != nil {
			t.Fatalf("ReadRecord %d: %v", i, err)
		}
		if len(got) != 10 || got[0] != batch[i*10] {
			t.Errorf("record %d: unexpected contents", i)
		}
	}
	if _, err := r.ReadRecord(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}

	stats := r.Stats()
	if stats.RecordsRead != 3 || stats.ReadingsRead != 30 {
		t.Errorf("unexpected reader stats %+v", stats)
	}
}

func TestReadAllSegments(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	w.Write(testReadings(5))
	w.Rotate()
	w.Write(testReadings(7))
	w.Close()

	segments, _ := ListSegments(dir)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}

	paths := []string{segments[0].Path, segments[1].Path}
	all, err := ReadAllSegments(paths)
	if err != nil {
		t.Fatalf("ReadAllSegments: %v", err)
	}
	if len(all) != 12 {
		t.Errorf("expected 12 readings, got %d", len(all))
	}
}

func TestReader_SkipsCorruptRecord(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	w.Write(testReadings(3))
	w.Write(testReadings(4))
	path := w.CurrentSegment()
	w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a payload byte of the first record.
	data[headerSize+recordHeaderSize+2] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("expected the 4 readings of the intact record, got %d", len(got))
	}
	if r.Stats().CorruptRecords != 1 {
		t.Errorf("expected 1 corrupt record, got %d", r.Stats().CorruptRecords)
	}
}

func TestReader_TornTail(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	w.Write(testReadings(3))
	w.Write(testReadings(4))
	path := w.CurrentSegment()
	w.Close()

	info, _ := os.Stat(path)
	if err := os.Truncate(path, info.Size()-5); err != nil {
		t.Fatal(err)
	}

	got, err := ReadSegment(path)
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 readings before the torn record, got %d", len(got))
	}
}

func TestIterator(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	want := testReadings(25)
	w.Write(want[:10])
	w.Write(want[10:])
	path := w.CurrentSegment()
	w.Close()

	it, err := NewIterator(path)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	var i int
	for it.Next() {
		if got := it.Reading(); got != want[i] {
			t.Errorf("reading %d: expected %+v, got %+v", i, want[i], got)
		}
		i++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if i != len(want) {
		t.Errorf("expected %d readings, got %d", len(want), i)
	}
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	want := testReadings(20)
	w.Write(want[:8])
	w.Rotate()
	w.Write(want[8:])
	w.Close()

	// A foreign file in the directory is ignored.
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)

	var got []telemetry.Reading
	stats, err := Replay(dir, func(r telemetry.Reading) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != len(want) || stats.ReadingsRead != int64(len(want)) {
		t.Fatalf("expected %d readings, got %d (stats %+v)", len(want), len(got), stats)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reading %d out of order", i)
		}
	}
}

func TestWriter_Recovery(t *testing.T) {
	dir := t.TempDir()

	w1, err := NewWriter(dir, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	w1.Write(testReadings(5))
	first := w1.CurrentSegment()
	w1.Close()

	w2, err := NewWriter(dir, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()

	if w2.CurrentSegment() == first {
		t.Fatal("reopened writer must start a new segment")
	}

	got, err := ReadSegment(first)
	if err != nil || len(got) != 5 {
		t.Errorf("previous segment should be intact, got %d readings (%v)", len(got), err)
	}
}

func TestWriter_DeleteSegments(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		w.Write(testReadings(2))
		w.Rotate()
	}

	if err := w.DeleteSegment(w.CurrentSegment()); err == nil {
		t.Error("deleting the current segment should fail")
	}

	deleted, err := w.DeleteSegmentsBefore(2)
	if err != nil {
		t.Fatalf("DeleteSegmentsBefore: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}

	segments, _ := ListSegments(dir)
	if len(segments) != 2 || segments[0].Seq != 2 {
		t.Errorf("unexpected remaining segments %+v", segments)
	}
}

func TestReader_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0000000000000000.wal")
	os.WriteFile(path, []byte("definitely not a wal header"), 0644)

	if _, err := NewReader(path); !errors.Is(err, errors.ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord, got %v", err)
	}
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.wal")); err == nil {
		t.Error("expected error for missing file")
	}
}

func BenchmarkWriter_Write(b *testing.B) {
	w, err := NewWriter(b.TempDir(), DefaultOptions())
	if err != nil {
		b.Fatal(err)
	}
	defer w.Close()

	batch := testReadings(100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Write(batch)
	}
}
