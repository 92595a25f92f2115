package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"

	"stockledger/internal/config"
	"stockledger/internal/db"
	"stockledger/internal/excel"
	"stockledger/internal/guard"
	"stockledger/internal/importer"
	"stockledger/internal/logger"
	"stockledger/internal/repository"
	"stockledger/internal/service"
)

type options struct {
	filePath   string
	locationID string
	chunkSize  int
	retries    int
	dryRun     bool
}

func main() {
	opts := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogEncoding, cfg.Development)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	rows, err := readHistoryRows(opts.filePath)
	if err != nil {
		log.Fatalf("read history file: %v", err)
	}
	if opts.dryRun {
		log.Printf("parsed %d history rows from %s, nothing imported", len(rows), opts.filePath)
		return
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, zl)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, zl); err != nil {
		log.Fatalf("migration error: %v", err)
	}
	reader := db.OpenReader(pool)
	defer reader.Close()

	chunkSize := cfg.ImportChunkSize
	if opts.chunkSize > 0 {
		chunkSize = opts.chunkSize
	}
	retries := cfg.ImportChunkRetries
	if opts.retries > 0 {
		retries = opts.retries
	}
	svc := service.New(repository.New(pool, reader), guard.NewMemory(cfg.IdempotencyTTL), zl, service.Options{
		ImportChunkSize: chunkSize,
		ImportRetries:   retries,
	})

	report, err := svc.ImportHistory(ctx, opts.locationID, rows)
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		log.Fatalf("write report: %v", err)
	}
	if failed := report.Failed(); len(failed) > 0 {
		log.Fatalf("import finished with %d failed chunk(s)", len(failed))
	}
	log.Printf(
		"import complete: rows=%d imported=%d skipped_skus=%d chunks=%d",
		report.Rows,
		report.Imported,
		len(report.Skipped),
		len(report.Chunks),
	)
}

func parseFlags() options {
	var opts options
	flag.StringVar(
		&opts.filePath,
		"file",
		"../history.xlsx",
		"path to the history export (.xlsx or .csv)",
	)
	flag.StringVar(
		&opts.locationID,
		"location",
		"",
		"location the history belongs to",
	)
	flag.IntVar(
		&opts.chunkSize,
		"chunk-size",
		0,
		"rows per chunk (defaults to IMPORT_CHUNK_SIZE)",
	)
	flag.IntVar(
		&opts.retries,
		"retries",
		0,
		"attempts per chunk (defaults to IMPORT_CHUNK_RETRIES)",
	)
	flag.BoolVar(
		&opts.dryRun,
		"dry-run",
		false,
		"parse the file and report the row count without importing",
	)
	flag.Parse()
	if opts.locationID == "" && !opts.dryRun {
		log.Fatalf("--location is required")
	}
	if opts.chunkSize < 0 || opts.retries < 0 {
		log.Fatalf("invalid --chunk-size/--retries: must not be negative")
	}
	return opts
}

func readHistoryRows(path string) ([]importer.Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return excel.ParseHistoryRows(filepath.Base(path), file)
}
