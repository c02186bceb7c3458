package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/remedyhq/pdf-processor/internal/common"
)

// StatsReader serves the read-only reporting view over the documents table.
// It never mutates rows.
type StatsReader struct {
	pool  *pgxpool.Pool
	table string
}

func NewStatsReader(pool *pgxpool.Pool, table string) (*StatsReader, error) {
	if !tableIdentPattern.MatchString(table) {
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("invalid table identifier %q", table), common.ErrInvalidInput)
	}
	return &StatsReader{pool: pool, table: table}, nil
}

type Overview struct {
	Total            int64
	Processed        int64
	Unprocessed      int64
	WithError        int64
	ProcessedLast24h int64
}

type AttemptBucket struct {
	Label string
	Count int64
}

type ErrorSample struct {
	ID          uuid.UUID
	Attempts    int
	Error       string
	ProcessedAt *time.Time
}

type MimeCount struct {
	Mime  string
	Count int64
}

type SizeStats struct {
	N      int64
	Min    int64
	P25    float64
	Median float64
	P75    float64
	Max    int64
	Mean   int64
}

type QueueItem struct {
	ID       uuid.UUID
	PDFURL   string
	Attempts int
	Error    string
}

func (r *StatsReader) Overview(ctx context.Context) (Overview, error) {
	var o Overview
	sql := fmt.Sprintf(`
		SELECT
		  count(*),
		  count(*) FILTER (WHERE processed = TRUE),
		  count(*) FILTER (WHERE last_error IS NOT NULL),
		  count(*) FILTER (WHERE processed = TRUE AND processed_at >= now() - interval '24 hours')
		FROM %s
	`, r.table)
	err := r.pool.QueryRow(ctx, sql).Scan(&o.Total, &o.Processed, &o.WithError, &o.ProcessedLast24h)
	if err != nil {
		return Overview{}, common.WrapError(err, "overview query")
	}
	o.Unprocessed = o.Total - o.Processed
	return o, nil
}

// attemptBuckets mirrors the dashboard's histogram: exact counts up to the
// default attempt ceiling, then coarser ranges.
var attemptBuckets = []struct {
	lo, hi int
}{
	{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 5},
	{6, 10}, {11, 20}, {21, 9999},
}

func (r *StatsReader) AttemptBuckets(ctx context.Context) ([]AttemptBucket, error) {
	out := make([]AttemptBucket, 0, len(attemptBuckets))
	sql := fmt.Sprintf(`SELECT count(*) FROM %s WHERE process_attempts BETWEEN $1 AND $2`, r.table)
	for _, b := range attemptBuckets {
		var c int64
		if err := r.pool.QueryRow(ctx, sql, b.lo, b.hi).Scan(&c); err != nil {
			return nil, common.WrapError(err, "attempt bucket query")
		}
		label := fmt.Sprintf("%d", b.lo)
		if b.lo != b.hi {
			if b.hi >= 9999 {
				label = fmt.Sprintf("%d+", b.lo)
			} else {
				label = fmt.Sprintf("%d-%d", b.lo, b.hi)
			}
		}
		out = append(out, AttemptBucket{Label: label, Count: c})
	}
	return out, nil
}

func (r *StatsReader) RecentErrors(ctx context.Context, limit int) ([]ErrorSample, error) {
	sql := fmt.Sprintf(`
		SELECT id, process_attempts, LEFT(last_error, 140), processed_at
		FROM %s
		WHERE last_error IS NOT NULL
		ORDER BY COALESCE(processed_at, '-infinity'::timestamptz) DESC
		LIMIT $1
	`, r.table)
	rows, err := r.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, common.WrapError(err, "recent errors query")
	}
	defer rows.Close()

	var out []ErrorSample
	for rows.Next() {
		var s ErrorSample
		if err := rows.Scan(&s.ID, &s.Attempts, &s.Error, &s.ProcessedAt); err != nil {
			return nil, common.WrapError(err, "scan error sample")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *StatsReader) MimeCounts(ctx context.Context, limit int) ([]MimeCount, error) {
	sql := fmt.Sprintf(`
		SELECT COALESCE(mime, 'unknown'), count(*) AS n
		FROM %s
		GROUP BY 1
		ORDER BY n DESC
		LIMIT $1
	`, r.table)
	rows, err := r.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, common.WrapError(err, "mime counts query")
	}
	defer rows.Close()

	var out []MimeCount
	for rows.Next() {
		var m MimeCount
		if err := rows.Scan(&m.Mime, &m.Count); err != nil {
			return nil, common.WrapError(err, "scan mime count")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SizeStats summarizes bytes for processed rows that recorded a size.
// N == 0 means no size data yet.
func (r *StatsReader) SizeStats(ctx context.Context) (SizeStats, error) {
	var s SizeStats
	sql := fmt.Sprintf(`
		SELECT
		  count(*),
		  COALESCE(MIN(bytes), 0),
		  COALESCE(PERCENTILE_CONT(0.25) WITHIN GROUP (ORDER BY bytes), 0),
		  COALESCE(PERCENTILE_CONT(0.50) WITHIN GROUP (ORDER BY bytes), 0),
		  COALESCE(PERCENTILE_CONT(0.75) WITHIN GROUP (ORDER BY bytes), 0),
		  COALESCE(MAX(bytes), 0),
		  COALESCE(ROUND(AVG(bytes)), 0)
		FROM %s
		WHERE processed = TRUE AND bytes IS NOT NULL
	`, r.table)
	err := r.pool.QueryRow(ctx, sql).Scan(&s.N, &s.Min, &s.P25, &s.Median, &s.P75, &s.Max, &s.Mean)
	if err != nil {
		return SizeStats{}, common.WrapError(err, "size stats query")
	}
	return s, nil
}

func (r *StatsReader) OldestUnprocessed(ctx context.Context, limit int) ([]QueueItem, error) {
	sql := fmt.Sprintf(`
		SELECT id, pdf_url, process_attempts, COALESCE(last_error, '')
		FROM %s
		WHERE processed = FALSE
		ORDER BY id
		LIMIT $1
	`, r.table)
	rows, err := r.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, common.WrapError(err, "oldest unprocessed query")
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		var q QueueItem
		if err := rows.Scan(&q.ID, &q.PDFURL, &q.Attempts, &q.Error); err != nil {
			return nil, common.WrapError(err, "scan queue item")
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
