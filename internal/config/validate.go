package config

import (
	"errors"
	"fmt"

	ferrors "github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/logging"
)

// Validate checks the configuration for errors. The result wraps
// errors.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	if err := c.History.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("history: %w", err))
	}

	if err := c.Aggregation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("aggregation: %w", err))
	}

	if err := c.WAL.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("wal: %w", err))
	}

	if err := c.Export.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}

	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics: listen is required when enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ferrors.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks the history configuration.
func (c *HistoryConfig) Validate() error {
	var errs []error

	if c.RawCapacity <= 0 {
		errs = append(errs, errors.New("raw_capacity must be positive"))
	}
	if c.AggregateCapacity <= 0 {
		errs = append(errs, errors.New("aggregate_capacity must be positive"))
	}

	return errors.Join(errs...)
}

// Validate checks the aggregation configuration.
func (c *AggregationConfig) Validate() error {
	var errs []error

	if c.Window <= 0 {
		errs = append(errs, errors.New("window must be positive"))
	} else if c.Window%1e6 != 0 {
		errs = append(errs, errors.New("window must be a whole number of milliseconds"))
	}

	if c.Percentile.Enabled {
		if c.Percentile.Accuracy <= 0 || c.Percentile.Accuracy >= 1 {
			errs = append(errs, errors.New("percentile.accuracy must be between 0 and 1"))
		}
	}

	return errors.Join(errs...)
}

// Validate checks the WAL configuration.
func (c *WALConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	validSyncModes := map[string]bool{
		"async": true,
		"sync":  true,
		"fsync": true,
		"":      true, // Empty defaults to async
	}
	if !validSyncModes[c.SyncMode] {
		errs = append(errs, errors.New("sync_mode must be one of: async, sync, fsync"))
	}

	if (c.SyncMode == "async" || c.SyncMode == "") && c.SyncInterval <= 0 {
		errs = append(errs, errors.New("sync_interval must be positive for async mode"))
	}

	if c.MaxSegmentSize < 0 {
		errs = append(errs, errors.New("max_segment_size must be non-negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if c.CompactAfter < 0 {
		errs = append(errs, errors.New("compact_after must be non-negative"))
	}

	validAlgorithms := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Compression] {
		errs = append(errs, errors.New("compression must be one of: snappy, zstd, lz4, gzip, none"))
	}

	return errors.Join(errs...)
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.Export < 0 {
		errs = append(errs, errors.New("export retention must be non-negative"))
	}
	if c.WAL < 0 {
		errs = append(errs, errors.New("wal retention must be non-negative"))
	}
	if (c.Export > 0 || c.WAL > 0) && c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive when a retention is set"))
	}

	return errors.Join(errs...)
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Level); err != nil {
		errs = append(errs, err)
	}
	if c.File != "" && c.MaxSizeMB <= 0 {
		errs = append(errs, errors.New("max_size_mb must be positive when file is set"))
	}
	if c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		errs = append(errs, errors.New("max_backups and max_age_days must be non-negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	if c.MaxRows <= 0 {
		errs = append(errs, errors.New("max_rows must be positive"))
	}

	return errors.Join(errs...)
}
