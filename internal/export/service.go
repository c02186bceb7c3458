package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/remedyhq/pdf-processor/internal/repository"
)

// Service is a tiny façade over the stats reader that produces XLSX bytes
// for the reporting view.
type Service struct {
	stats  *repository.StatsReader
	logger *slog.Logger
}

func NewService(stats *repository.StatsReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{stats: stats, logger: logger}
}

// ExportStatsXLSX returns a workbook (as bytes) with the same content as the
// console report: overview counts, the attempt histogram, and error samples.
func (s *Service) ExportStatsXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()

	overview, err := s.stats.Overview(ctx)
	if err != nil {
		return nil, fmt.Errorf("query overview: %w", err)
	}
	buckets, err := s.stats.AttemptBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("query attempt buckets: %w", err)
	}
	errs, err := s.stats.RecentErrors(ctx, 50)
	if err != nil {
		return nil, fmt.Errorf("query recent errors: %w", err)
	}

	f := excelize.NewFile()

	const overviewSheet = "Overview"
	if err := f.SetSheetName("Sheet1", overviewSheet); err != nil {
		return nil, err
	}
	write := func(sheet string, col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	overviewRows := []struct {
		label string
		value int64
	}{
		{"Total documents", overview.Total},
		{"Processed", overview.Processed},
		{"Unprocessed", overview.Unprocessed},
		{"With last_error", overview.WithError},
		{"Processed last 24h", overview.ProcessedLast24h},
	}
	for i, r := range overviewRows {
		write(overviewSheet, 1, i+1, r.label)
		write(overviewSheet, 2, i+1, r.value)
	}

	attemptRow := len(overviewRows) + 2
	write(overviewSheet, 1, attemptRow, "Process attempts")
	for i, b := range buckets {
		write(overviewSheet, 1, attemptRow+1+i, b.Label)
		write(overviewSheet, 2, attemptRow+1+i, b.Count)
	}
	_ = f.SetColWidth(overviewSheet, "A", "A", 24)

	const errorSheet = "Errors"
	if _, err := f.NewSheet(errorSheet); err != nil {
		return nil, err
	}
	headers := []string{"ID", "Attempts", "Processed At", "Error"}
	for i, h := range headers {
		write(errorSheet, i+1, 1, h)
	}
	for i, e := range errs {
		row := i + 2
		write(errorSheet, 1, row, e.ID.String())
		write(errorSheet, 2, row, e.Attempts)
		if e.ProcessedAt != nil {
			write(errorSheet, 3, row, e.ProcessedAt.Format(time.RFC3339))
		}
		write(errorSheet, 4, row, truncate(e.Error, 140))
	}
	_ = f.SetColWidth(errorSheet, "A", "A", 38)
	_ = f.SetColWidth(errorSheet, "C", "C", 22)
	_ = f.SetColWidth(errorSheet, "D", "D", 80)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"errors", len(errs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
