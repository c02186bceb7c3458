// Package processing drives the claim → download → extract → write-back loop
// over the documents table.
package processing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/remedyhq/pdf-processor/internal/download"
	"github.com/remedyhq/pdf-processor/internal/repository"
)

// Fetcher retrieves raw document bytes plus best-effort metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, download.Metadata, error)
}

// TextExtractor turns raw document bytes into a text blob.
type TextExtractor interface {
	ExtractText(data []byte) (string, error)
}

// Processor coordinates batches: each batch is one outer transaction holding
// the row locks; each row resolves to exactly one success or failure write.
type Processor struct {
	logger      *slog.Logger
	store       repository.DocumentStore
	fetcher     Fetcher
	extractor   TextExtractor
	batchSize   int
	maxAttempts int
	out         io.Writer
}

// BatchStats counts one batch's outcomes.
type BatchStats struct {
	Claimed   int
	Succeeded int
	Failed    int
}

// RunStats accumulates outcomes across all batches of one run.
type RunStats struct {
	Batches   int
	Rows      int
	Succeeded int
	Failed    int
}

func NewProcessor(
	logger *slog.Logger,
	store repository.DocumentStore,
	fetcher Fetcher,
	extractor TextExtractor,
	batchSize int,
	maxAttempts int,
	out io.Writer,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if out == nil {
		out = io.Discard
	}
	return &Processor{
		logger:      logger,
		store:       store,
		fetcher:     fetcher,
		extractor:   extractor,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		out:         out,
	}
}

// Run claims and processes batches until a batch comes back smaller than the
// configured size, then reports run totals. Only claim/commit errors abort
// the run; per-row errors are recorded on their rows and processing moves on.
func (p *Processor) Run(ctx context.Context) (RunStats, error) {
	var total RunStats

	for {
		total.Batches++
		stats, err := p.processBatch(ctx, total.Batches)
		if err != nil {
			return total, err
		}

		if stats.Claimed == 0 {
			if total.Batches == 1 {
				fmt.Fprintln(p.out, "Nothing to process.")
			}
			break
		}

		total.Rows += stats.Claimed
		total.Succeeded += stats.Succeeded
		total.Failed += stats.Failed

		if stats.Claimed < p.batchSize {
			break
		}
	}

	if total.Rows > 0 {
		fmt.Fprintf(p.out, "All batches done. rows=%d success=%d failures=%d\n",
			total.Rows, total.Succeeded, total.Failed)
	}
	p.logger.Info("worker.run.done",
		"batches", total.Batches, "rows", total.Rows,
		"success", total.Succeeded, "failures", total.Failed)
	return total, nil
}

// processBatch claims up to batchSize rows inside a fresh outer transaction,
// resolves each row, and commits. The commit is the durability point for the
// whole batch, failure markers included; a crash before it leaves every
// claimed row untouched and claimable again.
func (p *Processor) processBatch(ctx context.Context, batchNo int) (BatchStats, error) {
	var stats BatchStats

	tx, err := p.store.BeginBatch(ctx)
	if err != nil {
		return stats, err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			p.logger.Warn("worker.batch.rollback_error", "batch", batchNo, "err", err)
		}
	}()

	docs, err := tx.Claim(ctx, p.batchSize, p.maxAttempts)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(docs)
	if len(docs) == 0 {
		return stats, tx.Commit(ctx)
	}

	fmt.Fprintf(p.out, "Processing batch %d (%d document(s))...\n", batchNo, len(docs))

	for _, doc := range docs {
		start := time.Now()

		text, meta, digest, err := p.processDocument(ctx, doc.PDFURL)
		if err != nil {
			p.recordFailure(ctx, tx, doc, err, &stats)
			continue
		}

		err = tx.MarkSuccess(ctx, doc.ID, repository.SuccessFields{
			RawText:  text,
			Bytes:    meta.ContentLength,
			Mime:     meta.Mime,
			Filename: meta.Filename,
			SHA256:   digest,
		})
		if err != nil {
			p.recordFailure(ctx, tx, doc, err, &stats)
			continue
		}

		stats.Succeeded++
		fmt.Fprintf(p.out, "ok   %s  %d chars  %.2fs  (%s)\n",
			doc.ID, len(text), time.Since(start).Seconds(), meta.Mime)
		p.logger.Debug("worker.row.ok", "id", doc.ID, "chars", len(text), "bytes", meta.ContentLength)
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, err
	}
	fmt.Fprintf(p.out, "Done. ok=%d fail=%d\n", stats.Succeeded, stats.Failed)
	return stats, nil
}

// processDocument runs the per-row pipeline: fetch, extract, fingerprint.
// The fingerprint is computed for every downloaded payload, even though only
// the success write persists it.
func (p *Processor) processDocument(ctx context.Context, url string) (string, download.Metadata, string, error) {
	data, meta, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", meta, "", err
	}
	digest := Fingerprint(data)
	text, err := p.extractor.ExtractText(data)
	if err != nil {
		return "", meta, digest, err
	}
	return text, meta, digest, nil
}

// recordFailure writes the row's failure outcome and keeps the batch going.
// If even the failure write fails, the row is left for a later run; its
// savepoint rollback already protected the outer transaction.
func (p *Processor) recordFailure(ctx context.Context, tx repository.BatchTx, doc repository.ClaimedDoc, cause error, stats *BatchStats) {
	stats.Failed++
	msg := cause.Error()
	fmt.Fprintf(p.out, "fail %s  %s\n", doc.ID, msg)
	p.logger.Warn("worker.row.failed", "id", doc.ID, "err", msg)

	if err := tx.MarkFailure(ctx, doc.ID, msg); err != nil {
		p.logger.Error("worker.row.failure_write_failed", "id", doc.ID, "err", err)
	}
}

// Fingerprint returns the hex sha256 digest of data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
