// fleetringd is the telemetry history daemon. It reads newline-delimited
// JSON readings from stdin or a file, keeps bounded history, aggregates per
// window and exports closed windows to Parquet.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetops/fleetring/internal/config"
	"github.com/fleetops/fleetring/internal/ingest"
	"github.com/fleetops/fleetring/internal/logging"
	"github.com/fleetops/fleetring/internal/metrics"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "fleetring.yaml", "config file path")
	input := flag.String("input", "-", "JSON lines input file (- for stdin)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	batchSize := flag.Int("batch", 500, "readings per ingest batch")
	flushEvery := flag.Duration("flush", time.Second, "max delay before a partial batch is ingested")
	flag.Parse()

	if err := run(*cfgPath, *input, *dataDir, *batchSize, *flushEvery); err != nil {
		fmt.Fprintf(os.Stderr, "fleetringd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, input, dataDir string, batchSize int, flushEvery time.Duration) error {
	// Load config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = config.DefaultConfig()
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	if cfg.Logging.File != "" {
		w := logging.OpenFile(logging.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
		defer w.Close()
		logging.InitWriter(w, level, cfg.Logging.JSON)
	} else {
		logging.Init(level, cfg.Logging.JSON)
	}
	log := logging.Component("main")
	log.Info("fleetringd starting", "version", Version, "data_dir", cfg.DataDir)

	// =========================================================================
	// Pipeline
	// =========================================================================

	m := metrics.New(true)

	svc, err := ingest.New(cfg, m)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := svc.Recover(); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	// =========================================================================
	// Metrics endpoint
	// =========================================================================

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("metrics listening", "addr", cfg.Metrics.Listen)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	// =========================================================================
	// Input
	// =========================================================================

	in := os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			svc.Stop()
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	src := newLineSource(in, batchSize, flushEvery)
	readErr := src.Run(ctx, svc.Ingest)
	if readErr != nil {
		log.Error("input failed", "error", readErr)
	}
	log.Info("input finished",
		"lines", src.Stats().Lines,
		"malformed", src.Stats().Malformed,
		"rejected_batches", src.Stats().RejectedBatches,
	)

	// =========================================================================
	// Shutdown
	// =========================================================================

	log.Info("shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}

	stopErr := svc.Stop()
	st := svc.Stats()
	log.Info("stopped",
		"ingested", st.ReadingsIngested,
		"rejected", st.ReadingsRejected,
		"windows", st.WindowsCompleted,
		"exported", st.AggregatesWritten,
	)

	return errors.Join(readErr, stopErr)
}
