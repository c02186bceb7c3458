package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/remedyhq/pdf-processor/internal/common"
	"github.com/remedyhq/pdf-processor/internal/download"
	"github.com/remedyhq/pdf-processor/internal/pdftext"
	"github.com/remedyhq/pdf-processor/internal/processing"
	repo "github.com/remedyhq/pdf-processor/internal/repository"
)

func main() {
	workers := flag.Int("workers", 0, "number of concurrent worker loops (overrides WORKER_CONCURRENCY)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	common.LoadDotEnv(logger)
	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if *workers > 0 {
		cfg.Worker.Concurrency = *workers
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pool, err := repo.Open(ctx, repo.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("opening DB", "error", err)
		os.Exit(1)
	}
	defer repo.Close(pool, logger)

	if err := repo.HealthCheck(ctx, pool, 2*time.Second, logger); err != nil {
		logger.Error("DB health check failed", "error", err)
		os.Exit(1)
	}

	store, err := repo.NewDocumentStore(pool, cfg.Worker.Table, logger)
	if err != nil {
		logger.Error("invalid document store config", "error", err)
		os.Exit(2)
	}

	downloader := download.NewDownloader(download.Config{
		MaxBytes:     int64(cfg.HTTP.MaxPDFMB * 1024 * 1024),
		Timeout:      cfg.HTTP.RequestTimeout,
		RetryTotal:   cfg.HTTP.RetryTotal,
		RetryBackoff: cfg.HTTP.RetryBackoff,
		UserAgent:    cfg.HTTP.UserAgent,
	}, logger)
	extractor := pdftext.NewExtractor(logger)

	logger.Info("worker starting",
		"table", cfg.Worker.Table,
		"batch_size", cfg.Worker.BatchSize,
		"max_attempts", cfg.Worker.MaxAttempts,
		"concurrency", cfg.Worker.Concurrency)

	// Each loop opens its own batch transactions from the shared pool, so
	// concurrent loops coexist the same way separate worker processes do.
	out := &syncWriter{w: os.Stdout}
	g, gctx := errgroup.WithContext(ctx)
	results := make([]processing.RunStats, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		p := processing.NewProcessor(
			logger.With("worker", i),
			store, downloader, extractor,
			cfg.Worker.BatchSize, cfg.Worker.MaxAttempts, out)
		idx := i
		g.Go(func() error {
			stats, err := p.Run(gctx)
			results[idx] = stats
			return err
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("worker run failed", "error", err)
		os.Exit(1)
	}

	var total processing.RunStats
	for _, r := range results {
		total.Rows += r.Rows
		total.Succeeded += r.Succeeded
		total.Failed += r.Failed
	}
	if cfg.Worker.Concurrency > 1 && total.Rows > 0 {
		fmt.Printf("All workers done. rows=%d success=%d failures=%d\n",
			total.Rows, total.Succeeded, total.Failed)
	}
}

// syncWriter serializes report lines from concurrent worker loops.
type syncWriter struct {
	mu sync.Mutex
	w  *os.File
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
