// Package config loads and validates the fleetring YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration.
type Config struct {
	// DataDir is the root directory for WAL segments and exports.
	DataDir string `yaml:"data_dir"`

	// History sizes the per-series ring buffers.
	History HistoryConfig `yaml:"history"`

	// Aggregation configures windowed aggregation.
	Aggregation AggregationConfig `yaml:"aggregation"`

	// WAL configures the Write-Ahead Log.
	WAL WALConfig `yaml:"wal"`

	// Export configures periodic Parquet export of aggregates.
	Export ExportConfig `yaml:"export"`

	// Retention defines how long exported files and WAL segments are kept.
	Retention RetentionConfig `yaml:"retention"`

	// Query configures the DuckDB query engine.
	Query QueryConfig `yaml:"query"`

	// Logging configures the global logger.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// HistoryConfig sizes the per-series ring buffers.
type HistoryConfig struct {
	// RawCapacity is the number of raw readings kept per series.
	// At 1Hz, 3600 is one hour of history.
	RawCapacity int `yaml:"raw_capacity"`

	// AggregateCapacity is the number of window aggregates kept per series.
	AggregateCapacity int `yaml:"aggregate_capacity"`
}

// AggregationConfig configures windowed aggregation.
type AggregationConfig struct {
	// Window is the aggregation window size.
	Window time.Duration `yaml:"window"`

	// Percentile configures DDSketch percentile calculation.
	Percentile PercentileConfig `yaml:"percentile"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// WALConfig configures the Write-Ahead Log.
type WALConfig struct {
	// Enabled turns on WAL writes and replay on start.
	Enabled bool `yaml:"enabled"`

	// Dir is the WAL directory. Defaults to {DataDir}/wal.
	Dir string `yaml:"dir"`

	// SyncMode is the sync mode: async, sync, fsync.
	SyncMode string `yaml:"sync_mode"`

	// SyncInterval is the sync interval for async mode.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// MaxSegmentSize is the maximum segment size before rotation.
	MaxSegmentSize int64 `yaml:"max_segment_size"`
}

// ExportConfig configures periodic Parquet export of aggregates.
type ExportConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir is the export directory. Defaults to {DataDir}/aggregates.
	Dir string `yaml:"dir"`

	// Interval is how often completed aggregates are written out.
	Interval time.Duration `yaml:"interval"`

	// Compression is the Parquet codec: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`

	// CompactAfter is the age after which the files of one hour are
	// merged into a single file. Zero disables compaction.
	CompactAfter time.Duration `yaml:"compact_after"`
}

// RetentionConfig defines how long persisted data is kept.
type RetentionConfig struct {
	// Export is the retention for exported Parquet files.
	Export time.Duration `yaml:"export"`

	// WAL is the retention for closed WAL segments.
	WAL time.Duration `yaml:"wal"`

	// Interval is how often cleanup runs.
	Interval time.Duration `yaml:"interval"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned.
	MaxRows int `yaml:"max_rows"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`

	// File, when set, replaces stdout with a size-rotated log file.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration on top of the defaults.
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/fleetring",
		History: HistoryConfig{
			RawCapacity:       3600,
			AggregateCapacity: 43200,
		},
		Aggregation: AggregationConfig{
			Window: time.Second,
			Percentile: PercentileConfig{
				Enabled:  false,
				Accuracy: 0.01,
			},
		},
		WAL: WALConfig{
			Enabled:        true,
			SyncMode:       "async",
			SyncInterval:   time.Second,
			MaxSegmentSize: 64 * 1024 * 1024, // 64MB
		},
		Export: ExportConfig{
			Enabled:      true,
			Interval:     time.Minute,
			Compression:  "zstd",
			CompactAfter: 2 * time.Hour,
		},
		Retention: RetentionConfig{
			Export:   30 * 24 * time.Hour,
			WAL:      24 * time.Hour,
			Interval: time.Hour,
		},
		Query: QueryConfig{
			MemoryLimit: "1GB",
			Timeout:     30 * time.Second,
			MaxRows:     100000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9464",
		},
	}
}

// WALDir returns the WAL directory path.
func (c *Config) WALDir() string {
	if c.WAL.Dir != "" {
		return c.WAL.Dir
	}
	return filepath.Join(c.DataDir, "wal")
}

// ExportDir returns the Parquet export directory path.
func (c *Config) ExportDir() string {
	if c.Export.Dir != "" {
		return c.Export.Dir
	}
	return filepath.Join(c.DataDir, "aggregates")
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.WAL.Enabled {
		dirs = append(dirs, c.WALDir())
	}
	if c.Export.Enabled {
		dirs = append(dirs, c.ExportDir())
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
