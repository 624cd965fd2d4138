// fleetctl inspects fleetring data offline. It replays the write-ahead log
// into an in-memory history store and answers commands against it and the
// exported Parquet files.
//
// Usage:
//
//	fleetctl -config fleetring.yaml              # interactive shell
//	fleetctl -config fleetring.yaml keys         # single command
//	fleetctl -json < commands.txt                # batch
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/fleetops/fleetring/internal/aggregate"
	"github.com/fleetops/fleetring/internal/config"
	"github.com/fleetops/fleetring/internal/history"
	"github.com/fleetops/fleetring/internal/logging"
	"github.com/fleetops/fleetring/internal/query"
	"github.com/fleetops/fleetring/internal/telemetry"
	"github.com/fleetops/fleetring/internal/wal"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "fleetring.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	jsonOut := flag.Bool("json", false, "print results as JSON")
	noQuery := flag.Bool("no-query", false, "do not open the Parquet query engine")
	verbose := flag.Bool("v", false, "log replay details")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	logging.InitWriter(os.Stderr, level, false)

	if err := run(*cfgPath, *dataDir, *jsonOut, *noQuery, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "fleetctl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, dataDir string, jsonOut, noQuery bool, args []string) error {
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

	store, err := loadStore(cfg)
	if err != nil {
		return err
	}

	sh := &shell{store: store, out: os.Stdout, json: jsonOut}

	if !noQuery && cfg.Export.Enabled {
		q, err := query.New(query.Options{
			ExportDir:   cfg.ExportDir(),
			MemoryLimit: cfg.Query.MemoryLimit,
			Timeout:     cfg.Query.Timeout,
			MaxRows:     cfg.Query.MaxRows,
		}, store)
		if err != nil {
			return fmt.Errorf("open query engine: %w", err)
		}
		defer q.Close()
		sh.query = q
	}

	ctx := context.Background()

	if len(args) > 0 {
		return sh.exec(ctx, strings.Join(args, " "))
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Printf("fleetctl %s: %d series loaded. Type 'help' for commands.\n", Version, store.Len())
		sh.runPrompt(ctx)
		return nil
	}
	return sh.runBatch(ctx, bufio.NewScanner(os.Stdin))
}

// loadStore replays every WAL segment into a fresh history store. Readings
// still in an open window stay pending, as they would in the daemon.
func loadStore(cfg *config.Config) (*history.Store, error) {
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
		return nil, err
	}

	if !cfg.WAL.Enabled {
		return store, nil
	}

	var rejected int
	st, err := wal.Replay(cfg.WALDir(), func(r telemetry.Reading) error {
		if _, err := store.Push(r); err != nil {
			rejected++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}

	logging.Component("fleetctl").Info("wal replayed",
		"records", st.RecordsRead,
		"readings", st.ReadingsRead,
		"corrupt_records", st.CorruptRecords,
		"rejected", rejected,
	)
	return store, nil
}
