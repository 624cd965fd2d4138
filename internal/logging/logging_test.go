package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestComponentAttribute(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, false)

	Component("history").Info("series created", "series", "pump-1/temperature")

	out := buf.String()
	if !strings.Contains(out, "component=history") {
		t.Errorf("missing component attribute: %s", out)
	}
	if !strings.Contains(out, "series=pump-1/temperature") {
		t.Errorf("missing series attribute: %s", out)
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, true)

	ctx := ContextWithSeries(context.Background(), "crane-7/load")
	WithContext(ctx).Warn("stale")

	if !strings.Contains(buf.String(), `"series":"crane-7/load"`) {
		t.Errorf("missing series in JSON output: %s", buf.String())
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetring.log")
	w := OpenFile(FileOptions{Path: path, MaxSizeMB: 1, MaxBackups: 2})

	InitWriter(w, slog.LevelInfo, true)
	defer InitWriter(os.Stdout, slog.LevelInfo, false)

	Component("ingest").Info("service started", "wal", true)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"ingest"`) || !strings.Contains(string(data), "service started") {
		t.Errorf("unexpected log file content %q", data)
	}
}
