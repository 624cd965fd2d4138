package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fleetops/fleetring/internal/telemetry"
)

// FileTimeLayout is the UTC time layout of exported file names.
const FileTimeLayout = "2006-01-02_15-04-05.000"

// Ext is the file extension of Parquet files.
const Ext = ".parquet"

// FileName returns the export file name for t.
func FileName(t time.Time) string {
	return t.UTC().Format(FileTimeLayout) + Ext
}

// ParseFileTime extracts the timestamp from an export file name.
func ParseFileTime(name string) (time.Time, error) {
	base := filepath.Base(name)
	if filepath.Ext(base) != Ext {
		return time.Time{}, fmt.Errorf("not a parquet file: %s", name)
	}
	return time.Parse(FileTimeLayout, strings.TrimSuffix(base, Ext))
}

// File describes a Parquet file on disk.
type File struct {
	Name string
	Path string
	Size int64
}

// ListFiles lists Parquet files in dir, ordered by name (oldest first for
// files named by FileName). A missing directory yields no files.
func ListFiles(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != Ext {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, File{
			Name: entry.Name(),
			Path: filepath.Join(dir, entry.Name()),
			Size: info.Size(),
		})
	}

	slices.SortFunc(files, func(a, b File) int {
		return strings.Compare(a.Name, b.Name)
	})
	return files, nil
}

// Watermarks returns the newest exported window start per series across
// all aggregate files in dir.
func Watermarks(dir string) (map[telemetry.Key]int64, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}

	marks := make(map[telemetry.Key]int64)
	for _, f := range files {
		aggs, err := ReadAggregates(f.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		for i := range aggs {
			key := aggs[i].Key()
			if ts, ok := marks[key]; !ok || aggs[i].TimestampMs > ts {
				marks[key] = aggs[i].TimestampMs
			}
		}
	}
	return marks, nil
}
