package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/remedyhq/pdf-processor/internal/common"
	"github.com/remedyhq/pdf-processor/internal/export"
	repo "github.com/remedyhq/pdf-processor/internal/repository"
)

func printHeader(title string) {
	fmt.Println("\n" + title)
	fmt.Println(strings.Repeat("-", len(title)))
}

func main() {
	xlsxOut := flag.String("xlsx", "", "also write the report as an XLSX workbook to this path")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	common.LoadDotEnv(logger)
	cfg := common.LoadConfig()
	if cfg.Database.DSN == "" {
		fmt.Fprintln(os.Stderr, "ERROR: DB_URL env var is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pool, err := repo.Open(ctx, repo.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening DB: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	stats, err := repo.NewStatsReader(pool, cfg.Worker.Table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	if err := report(ctx, stats); err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		os.Exit(1)
	}

	if *xlsxOut != "" {
		svc := export.NewService(stats, logger)
		data, err := svc.ExportStatsXLSX(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "xlsx export: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*xlsxOut, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", *xlsxOut, err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote %s\n", *xlsxOut)
	}
}

func report(ctx context.Context, stats *repo.StatsReader) error {
	overview, err := stats.Overview(ctx)
	if err != nil {
		return err
	}
	printHeader("Overview")
	fmt.Printf("Total documents       : %d\n", overview.Total)
	fmt.Printf("Processed             : %d\n", overview.Processed)
	fmt.Printf("Unprocessed           : %d\n", overview.Unprocessed)
	fmt.Printf("With last_error       : %d\n", overview.WithError)
	fmt.Printf("Processed last 24h    : %d\n", overview.ProcessedLast24h)

	buckets, err := stats.AttemptBuckets(ctx)
	if err != nil {
		return err
	}
	printHeader("Process attempts (all rows)")
	for _, b := range buckets {
		fmt.Printf("Attempts %5s: %d\n", b.Label, b.Count)
	}

	errs, err := stats.RecentErrors(ctx, 10)
	if err != nil {
		return err
	}
	printHeader("Recent errors (top 10)")
	if len(errs) == 0 {
		fmt.Println("None")
	}
	for _, e := range errs {
		at := ""
		if e.ProcessedAt != nil {
			at = e.ProcessedAt.Format(time.RFC3339)
		}
		fmt.Printf("- %s  attempts=%d  at=%s  err=%s\n", e.ID, e.Attempts, at, e.Error)
	}

	mimes, err := stats.MimeCounts(ctx, 10)
	if err != nil {
		return err
	}
	printHeader("MIME types (top 10 by count)")
	for _, m := range mimes {
		fmt.Printf("%-30s %d\n", m.Mime, m.Count)
	}

	sizes, err := stats.SizeStats(ctx)
	if err != nil {
		return err
	}
	printHeader("Size (bytes) for processed rows")
	if sizes.N == 0 {
		fmt.Println("No size data yet.")
	} else {
		fmt.Printf("N         : %d\n", sizes.N)
		fmt.Printf("Min / Max : %d / %d\n", sizes.Min, sizes.Max)
		fmt.Printf("P25/50/75 : %.0f / %.0f / %.0f\n", sizes.P25, sizes.Median, sizes.P75)
		fmt.Printf("Mean      : %d\n", sizes.Mean)
	}

	oldest, err := stats.OldestUnprocessed(ctx, 10)
	if err != nil {
		return err
	}
	printHeader("Oldest unprocessed (top 10 by id)")
	if len(oldest) == 0 {
		fmt.Println("Queue empty")
	}
	for _, q := range oldest {
		errMsg := q.Error
		if len(errMsg) > 100 {
			errMsg = errMsg[:100] + "…"
		}
		fmt.Printf("- %s  attempts=%d  err=%s\n", q.ID, q.Attempts, errMsg)
	}
	return nil
}
