package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"canna-directory/config"
	"canna-directory/services"
	"canna-directory/storage"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Änderungen nur berichten, nicht schreiben")
	category := flag.String("category", "", "nur Einträge dieser Kategorie bearbeiten")
	batchSize := flag.Int("batch-size", 0, "Einträge pro Seite (0 = STANDARDIZE_BATCH_SIZE)")
	pause := flag.Duration("pause", 0, "Pause zwischen Seiten (0 = STANDARDIZE_PAUSE, negativ = keine)")
	flag.Parse()

	logging, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	db, err := storage.OpenPostgres(cfg)
	if err != nil {
		logging.Fatal("Failed to connect to directory database", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := services.StandardizeOptions{
		BatchSize: *batchSize,
		Pause:     *pause,
		DryRun:    *dryRun,
		Category:  *category,
	}
	standardizer := services.NewStandardizer(storage.NewGormClient(db, logging), services.StandardizeOptions{
		BatchSize: cfg.StandardizeBatchSize,
		Pause:     cfg.StandardizePause,
	}, logging)
	report, err := standardizer.Run(ctx, opts)
	if err != nil {
		logging.Fatal("Standardization failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logging.Fatal("Writing report failed", zap.Error(err))
	}
}
