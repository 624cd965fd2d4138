// Package ingest runs the fleetring pipeline:
// readings → WAL → history (ring buffers + windows) → Parquet export.
//
// Background workers (export, WAL sync, retention, metrics) run under one
// errgroup and stop together.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/sync/errgroup"

	"github.com/fleetops/fleetring/internal/aggregate"
	"github.com/fleetops/fleetring/internal/compaction"
	"github.com/fleetops/fleetring/internal/config"
	"github.com/fleetops/fleetring/internal/errors"
	"github.com/fleetops/fleetring/internal/history"
	"github.com/fleetops/fleetring/internal/logging"
	"github.com/fleetops/fleetring/internal/metrics"
	"github.com/fleetops/fleetring/internal/parquet"
	"github.com/fleetops/fleetring/internal/retention"
	"github.com/fleetops/fleetring/internal/telemetry"
	"github.com/fleetops/fleetring/internal/wal"
)

const (
	// metricsInterval is how often store gauges are refreshed.
	metricsInterval = 5 * time.Second

	// Attempts and initial backoff of one export write.
	exportAttempts   = 3
	exportRetryDelay = 100 * time.Millisecond
)

// Service orchestrates the ingestion pipeline.
type Service struct {
	cfg *config.Config

	// Components
	store     *history.Store
	wal       *wal.Writer // nil when the WAL is disabled
	retention *retention.Manager
	compactor *compaction.Compactor // nil when compaction is disabled
	metrics   *metrics.Metrics
	export    parquet.Options

	// Closed windows waiting for export
	pendingMu sync.Mutex
	pending   []telemetry.Aggregate

	// Newest exported window per key, found on disk by Recover
	watermarks map[telemetry.Key]int64

	// State
	lifecycle sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	flushCh   chan struct{}

	// Statistics
	stats stats
}

type stats struct {
	received  atomic.Int64
	ingested  atomic.Int64
	rejected  atomic.Int64
	batches   atomic.Int64
	completed atomic.Int64
	exports   atomic.Int64
	exported  atomic.Int64
	replayed  atomic.Int64
	errors    atomic.Int64
}

// New builds the pipeline from cfg. m may be nil, in which case a private
// metrics instance is created.
func New(cfg *config.Config, m *metrics.Metrics) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New(false)
	}

	store, err := history.NewStore(history.Options{
		RawCapacity:       cfg.History.RawCapacity,
		AggregateCapacity: cfg.History.AggregateCapacity,
		Window:            cfg.Aggregation.Window,
		Aggregation: aggregate.Options{
			Percentiles: cfg.Aggregation.Percentile.Enabled,
			Accuracy:    cfg.Aggregation.Percentile.Accuracy,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create history store: %w", err)
	}

	compression, err := parquet.ParseCompressionType(cfg.Export.Compression)
	if err != nil {
		return nil, err
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		store:   store,
		metrics: m,
		export:  parquet.Options{Compression: compression},
		flushCh: make(chan struct{}, 1),
	}

	var deleter retention.SegmentDeleter
	if cfg.WAL.Enabled {
		w, err := wal.NewWriter(cfg.WALDir(), wal.Options{
			MaxSegmentSize: cfg.WAL.MaxSegmentSize,
			SyncMode:       cfg.WAL.SyncMode,
			SyncInterval:   cfg.WAL.SyncInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("create WAL writer: %w", err)
		}
		s.wal = w
		deleter = w
	}

	retOpts := retention.Options{}
	if cfg.Export.Enabled {
		retOpts.ExportDir = cfg.ExportDir()
		retOpts.ExportRetention = cfg.Retention.Export
	}
	if cfg.WAL.Enabled {
		retOpts.WALDir = cfg.WALDir()
		retOpts.WALRetention = cfg.Retention.WAL
	}
	s.retention = retention.New(retOpts, deleter)

	if cfg.Export.Enabled && cfg.Export.CompactAfter > 0 {
		s.compactor = compaction.New(compaction.Options{
			Dir:     cfg.ExportDir(),
			MinAge:  cfg.Export.CompactAfter,
			Parquet: s.export,
		})
	}

	return s, nil
}

// Recover replays the WAL into history. Windows closed during replay are
// queued for export unless an export file already holds them. Must be
// called before Start.
func (s *Service) Recover() error {
	if s.running.Load() {
		return fmt.Errorf("recover: %w", errors.ErrAlreadyRunning)
	}
	if !s.cfg.WAL.Enabled {
		return nil
	}

	log := logging.Component("ingest")
	start := time.Now()

	if s.cfg.Export.Enabled {
		marks, err := parquet.Watermarks(s.cfg.ExportDir())
		if err != nil {
			// Re-exporting is preferable to losing windows.
			log.Warn("cannot read export watermarks", "error", err)
		}
		s.watermarks = marks
	}

	var rejected int64
	st, err := wal.Replay(s.cfg.WALDir(), func(r telemetry.Reading) error {
		agg, err := s.store.Push(r)
		if err != nil {
			rejected++
			return nil
		}
		s.stats.replayed.Add(1)
		if agg != nil {
			s.enqueue(*agg)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay wal: %w", err)
	}

	log.Info("wal replayed",
		"records", st.RecordsRead,
		"readings", st.ReadingsRead,
		"corrupt_records", st.CorruptRecords,
		"rejected", rejected,
		"series", s.store.Len(),
		"duration", time.Since(start),
	)
	return nil
}

// Start starts the background workers. They stop when ctx is cancelled or
// Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running.Load() {
		return errors.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.group = g

	if s.cfg.Export.Enabled {
		g.Go(func() error {
			s.runTicker(gctx, s.cfg.Export.Interval, s.flushCh, s.exportTick)
			return nil
		})
	}
	if s.wal != nil && s.wal.Options().SyncMode == wal.SyncAsync {
		g.Go(func() error {
			s.runTicker(gctx, s.wal.Options().SyncInterval, nil, s.syncWAL)
			return nil
		})
	}
	if s.cfg.Retention.Interval > 0 {
		g.Go(func() error {
			s.runTicker(gctx, s.cfg.Retention.Interval, nil, s.runRetention)
			return nil
		})
	}
	g.Go(func() error {
		s.runTicker(gctx, metricsInterval, nil, s.observe)
		return nil
	})

	s.running.Store(true)
	logging.Component("ingest").Info("service started",
		"wal", s.wal != nil,
		"export", s.cfg.Export.Enabled,
		"window", s.cfg.Aggregation.Window,
	)
	return nil
}

// runTicker calls fn on every tick and on every signal on trigger until
// ctx is done.
func (s *Service) runTicker(ctx context.Context, interval time.Duration, trigger <-chan struct{}, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		case <-trigger:
			fn()
		}
	}
}

// Stop stops the workers, closes every open window, exports what is
// pending and closes the WAL.
func (s *Service) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.cancel()
	err := s.group.Wait()

	for _, agg := range s.store.Flush() {
		s.enqueue(agg)
	}
	if s.cfg.Export.Enabled {
		if exportErr := s.exportPending(); exportErr != nil {
			err = errors.Join(err, exportErr)
		}
	}
	s.observe()

	if s.wal != nil {
		if closeErr := s.wal.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close WAL: %w", closeErr))
		}
	}

	logging.Component("ingest").Info("service stopped",
		"ingested", s.stats.ingested.Load(),
		"exported", s.stats.exported.Load(),
	)
	return err
}

// Ingest logs and applies a batch of readings. Invalid readings are
// rejected individually; the rest of the batch is still applied. The
// returned error reports rejected readings or a WAL failure, in which case
// nothing was applied.
func (s *Service) Ingest(readings []telemetry.Reading) error {
	if !s.running.Load() {
		return errors.ErrNotRunning
	}
	if len(readings) == 0 {
		return nil
	}

	start := time.Now()
	s.stats.received.Add(int64(len(readings)))

	valid := readings
	var firstErr error
	var rejected int
	for i := range readings {
		if err := readings[i].Validate(); err != nil {
			if firstErr == nil {
				firstErr = err
				valid = make([]telemetry.Reading, 0, len(readings))
				valid = append(valid, readings[:i]...)
			}
			rejected++
			continue
		}
		if firstErr != nil {
			valid = append(valid, readings[i])
		}
	}

	if rejected > 0 {
		s.stats.rejected.Add(int64(rejected))
		s.metrics.ReadingsRejected.Add(float64(rejected))
	}

	if s.wal != nil && len(valid) > 0 {
		if err := s.wal.Write(valid); err != nil {
			s.stats.errors.Add(1)
			s.metrics.WALErrors.Inc()
			return fmt.Errorf("WAL write: %w", err)
		}
		s.metrics.WALRecords.Inc()
	}

	for _, r := range valid {
		agg, err := s.store.Push(r)
		if err != nil {
			// Already validated; only reachable through a store bug.
			s.stats.errors.Add(1)
			continue
		}
		if agg != nil {
			s.enqueue(*agg)
		}
	}

	s.stats.ingested.Add(int64(len(valid)))
	s.stats.batches.Add(1)
	s.metrics.ReadingsIngested.Add(float64(len(valid)))
	s.metrics.IngestDuration.Observe(time.Since(start).Seconds())

	if firstErr != nil {
		return fmt.Errorf("%d of %d readings rejected: %w", rejected, len(readings), firstErr)
	}
	return nil
}

// enqueue records a closed window and queues it for export unless an
// export file already holds it.
func (s *Service) enqueue(agg telemetry.Aggregate) {
	s.stats.completed.Add(1)
	s.metrics.AggregatesCompleted.Inc()

	if !s.cfg.Export.Enabled {
		return
	}
	if mark, ok := s.watermarks[agg.Key()]; ok && agg.TimestampMs <= mark {
		return
	}

	s.pendingMu.Lock()
	s.pending = append(s.pending, agg)
	n := len(s.pending)
	s.pendingMu.Unlock()

	s.metrics.PendingExport.Set(float64(n))
}

// exportTick closes idle windows, exports everything pending and merges
// old export files. Export and compaction share this goroutine so they never
// touch the export directory concurrently.
func (s *Service) exportTick() {
	// Leave one full interval of slack for readings that arrive late.
	grace := max(s.cfg.Aggregation.Window, s.cfg.Export.Interval)
	for _, agg := range s.store.FlushBefore(time.Now().Add(-grace).UnixMilli()) {
		s.enqueue(agg)
	}

	if err := s.exportPending(); err != nil {
		logging.Component("ingest").Error("export failed", "error", err)
	}

	if s.compactor != nil {
		// Failures are logged by the compactor and retried next tick.
		result, _ := s.compactor.Run(time.Now())
		s.metrics.CompactedFiles.Add(float64(result.FilesRead))
	}
}

// exportPending writes pending aggregates to a new Parquet file. On
// failure they stay queued for the next attempt.
func (s *Service) exportPending() error {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	path := s.exportPath(start)

	err := retry.Do(
		func() error {
			return parquet.WriteAggregates(path, batch, s.export)
		},
		retry.Attempts(exportAttempts),
		retry.Delay(exportRetryDelay),
		retry.OnRetry(func(n uint, err error) {
			logging.Component("ingest").Warn("export attempt failed", "attempt", n+1, "file", filepath.Base(path), "error", err)
		}),
	)
	if err != nil {
		s.pendingMu.Lock()
		s.pending = append(batch, s.pending...)
		s.pendingMu.Unlock()

		s.stats.errors.Add(1)
		s.metrics.ExportErrors.Inc()
		return fmt.Errorf("write %s: %w", path, err)
	}

	s.stats.exports.Add(1)
	s.stats.exported.Add(int64(len(batch)))
	s.metrics.ExportFiles.Inc()
	s.metrics.ExportRows.Add(float64(len(batch)))
	s.metrics.ExportDuration.Observe(time.Since(start).Seconds())
	s.metrics.PendingExport.Set(float64(s.PendingExports()))

	logging.Component("ingest").Debug("aggregates exported", "file", filepath.Base(path), "rows", len(batch))
	return nil
}

// exportPath names a new export file after t, moving forward one
// millisecond at a time past files that already exist.
func (s *Service) exportPath(t time.Time) string {
	for {
		path := filepath.Join(s.cfg.ExportDir(), parquet.FileName(t))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		t = t.Add(time.Millisecond)
	}
}

func (s *Service) syncWAL() {
	if err := s.wal.Sync(); err != nil {
		s.stats.errors.Add(1)
		s.metrics.WALErrors.Inc()
		logging.Component("ingest").Error("wal sync failed", "error", err)
	}
}

func (s *Service) runRetention() {
	for _, r := range s.retention.RunCleanup() {
		if r.FilesDeleted > 0 {
			s.metrics.RetentionDeleted.WithLabelValues(string(r.Class)).Add(float64(r.FilesDeleted))
		}
	}
}

func (s *Service) observe() {
	s.metrics.ObserveStore(s.store.Stats())
}

// ForceExport triggers an export on the export worker.
func (s *Service) ForceExport() {
	select {
	case s.flushCh <- struct{}{}:
	default:
		// Export already pending
	}
}

// PendingExports returns the number of closed windows not yet exported.
func (s *Service) PendingExports() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Store returns the history store for queries.
func (s *Service) Store() *history.Store {
	return s.store
}

// Compactor returns the export compactor, or nil when compaction is
// disabled.
func (s *Service) Compactor() *compaction.Compactor {
	return s.compactor
}

// Retention returns the retention manager.
func (s *Service) Retention() *retention.Manager {
	return s.retention
}

// IsRunning returns whether the workers are running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Stats returns current statistics.
func (s *Service) Stats() Stats {
	st := Stats{
		Running:           s.running.Load(),
		ReadingsReceived:  s.stats.received.Load(),
		ReadingsIngested:  s.stats.ingested.Load(),
		ReadingsRejected:  s.stats.rejected.Load(),
		ReadingsReplayed:  s.stats.replayed.Load(),
		BatchesProcessed:  s.stats.batches.Load(),
		WindowsCompleted:  s.stats.completed.Load(),
		ExportsCompleted:  s.stats.exports.Load(),
		AggregatesWritten: s.stats.exported.Load(),
		PendingExports:    s.PendingExports(),
		Errors:            s.stats.errors.Load(),
		History:           s.store.Stats(),
	}
	if s.wal != nil {
		st.WAL = s.wal.Stats()
	}
	return st
}

// Stats holds combined service statistics.
type Stats struct {
	Running           bool
	ReadingsReceived  int64
	ReadingsIngested  int64
	ReadingsRejected  int64
	ReadingsReplayed  int64
	BatchesProcessed  int64
	WindowsCompleted  int64
	ExportsCompleted  int64
	AggregatesWritten int64
	PendingExports    int
	Errors            int64
	History           history.Stats
	WAL               wal.WriterStats
}
