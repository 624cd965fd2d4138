package parquet

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

func testAggregates(n int) []telemetry.Aggregate {
	out := make([]telemetry.Aggregate, n)
	for i := range out {
		ts := testutil.BaseTimestampMs + int64(i)*1000
		out[i] = telemetry.Aggregate{
			EquipmentID: "pump-1",
			SensorType:  "pressure",
			TimestampMs: ts,
			Count:       4,
			Sum:         75,
			Min:         10,
			Max:         30,
			Avg:         18.75,
			FirstTs:     ts,
			LastTs:      ts + 800,
		}
	}
	return out
}

func TestAggregateWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aggs", FileName(time.Now()))

	aggs := testAggregates(50)
	aggs[3].SetPercentiles(11, 25, 28, 29.5)

	w, err := NewAggregateWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewAggregateWriter: %v", err)
	}
	if err := w.Write(aggs[:20]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(aggs[20:]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if w.RowCount() != 50 {
		t.Errorf("expected 50 rows, got %d", w.RowCount())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadAggregates(path)
	if err != nil {
		t.Fatalf("ReadAggregates: %v", err)
	}
	if len(got) != len(aggs) {
		t.Fatalf("expected %d aggregates, got %d", len(aggs), len(got))
	}

	for i := range aggs {
		a, g := aggs[i], got[i]
		if g.Key() != a.Key() || g.TimestampMs != a.TimestampMs || g.Count != a.Count {
			t.Errorf("[%d] identity mismatch: %+v", i, g)
		}
		if g.Min != a.Min || g.Max != a.Max || g.Avg != a.Avg || g.Sum != a.Sum {
			t.Errorf("[%d] stats mismatch: %+v", i, g)
		}
		if g.HasPercentiles() != a.HasPercentiles() {
			t.Errorf("[%d] percentile presence mismatch", i)
		}
	}
	if p := got[3].P95; p == nil || *p != 28 {
		t.Errorf("expected P95=28, got %v", p)
	}
}

func TestReadingWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.parquet")
	key := telemetry.NewKey("fan-2", "rpm")
	readings := testutil.Sequence(key, 100, testutil.BaseTimestampMs, 10*time.Millisecond)

	w, err := NewReadingWriter(path, Options{Compression: CompressionSnappy})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(readings); err != nil {
		t.Fatal(err)
	}
	w.Close()

	r, err := NewReadingReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.NumRows() != 100 {
		t.Errorf("expected 100 rows, got %d", r.NumRows())
	}
	got, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	for i := range readings {
		if got[i] != readings[i] {
			t.Fatalf("[%d] expected %+v, got %+v", i, readings[i], got[i])
		}
	}
}

func TestAggregateReader_ReadChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.parquet")
	if err := WriteAggregates(path, testAggregates(25), DefaultOptions()); err != nil {
		t.Fatal(err)
	}

	r, err := NewAggregateReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var total int
	for {
		chunk, err := r.Read(10)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		total += len(chunk)
	}
	if total != 25 {
		t.Errorf("expected 25 aggregates, got %d", total)
	}
}

func TestCompressionTypes(t *testing.T) {
	for _, ct := range []CompressionType{CompressionNone, CompressionSnappy, CompressionZstd, CompressionLZ4, CompressionGzip} {
		t.Run(ct.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.parquet")
			if err := WriteAggregates(path, testAggregates(10), Options{Compression: ct}); err != nil {
				t.Fatalf("write: %v", err)
			}
			got, err := ReadAggregates(path)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if len(got) != 10 {
				t.Errorf("expected 10 rows, got %d", len(got))
			}
		})
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		in   string
		want CompressionType
	}{
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"gzip", CompressionGzip},
		{"none", CompressionNone},
	}
	for _, tt := range tests {
		got, err := ParseCompressionType(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseCompressionType(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}

	if _, err := ParseCompressionType("brotli"); !errors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestWriteToClosedWriter(t *testing.T) {
	w, err := NewAggregateWriter(filepath.Join(t.TempDir(), "closed.parquet"), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	w.Close()

	if err := w.Write(testAggregates(1)); !errors.Is(err, errors.ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
	if err := w.Write(nil); err != nil {
		t.Errorf("empty write should be a no-op, got %v", err)
	}
}

func TestFileNames(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 250*int(time.Millisecond), time.UTC)

	name := FileName(ts)
	if name != "2024-03-09_14-05-07.250.parquet" {
		t.Errorf("unexpected file name %s", name)
	}

	parsed, err := ParseFileTime(filepath.Join("/some/dir", name))
	if err != nil {
		t.Fatalf("ParseFileTime: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("expected %v, got %v", ts, parsed)
	}

	if _, err := ParseFileTime("notes.txt"); err == nil {
		t.Error("expected error for non-parquet file")
	}
	if _, err := ParseFileTime("latest.parquet"); err == nil {
		t.Error("expected error for unparseable name")
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		path := filepath.Join(dir, FileName(base.Add(offset)))
		if err := WriteAggregates(path, testAggregates(1), DefaultOptions()); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0644)

	files, err := ListFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
	if files[0].Name != FileName(base) {
		t.Errorf("expected oldest first, got %s", files[0].Name)
	}

	missing, err := ListFiles(filepath.Join(dir, "missing"))
	if err != nil || len(missing) != 0 {
		t.Errorf("missing directory should list nothing, got %v, %v", missing, err)
	}
}

func TestWatermarks(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first := testAggregates(5)
	second := testAggregates(3)
	fan := testAggregates(2)
	for i := range fan {
		fan[i].EquipmentID, fan[i].SensorType = "fan-2", "rpm"
	}

	WriteAggregates(filepath.Join(dir, FileName(base)), first, DefaultOptions())
	WriteAggregates(filepath.Join(dir, FileName(base.Add(time.Minute))), append(second, fan...), DefaultOptions())

	marks, err := Watermarks(dir)
	if err != nil {
		t.Fatalf("Watermarks: %v", err)
	}
	if got := marks[telemetry.NewKey("pump-1", "pressure")]; got != first[4].TimestampMs {
		t.Errorf("pump watermark: expected %d, got %d", first[4].TimestampMs, got)
	}
	if got := marks[telemetry.NewKey("fan-2", "rpm")]; got != fan[1].TimestampMs {
		t.Errorf("fan watermark: expected %d, got %d", fan[1].TimestampMs, got)
	}
}
