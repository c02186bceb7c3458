package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/remedyhq/pdf-processor/internal/common"
)

// maxErrorLen bounds last_error so oversized HTML error pages and stack
// traces cannot bloat the table.
const maxErrorLen = 800

const pgUniqueViolation = "23505"

// tableIdentPattern accepts an optionally schema-qualified identifier.
// The table name is interpolated into SQL (it cannot be a bind parameter),
// so anything else is rejected at construction time.
var tableIdentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClaimedDoc is one row leased by Claim: the identifier and where to fetch from.
type ClaimedDoc struct {
	ID     uuid.UUID
	PDFURL string
}

// SuccessFields carries everything a successful extraction writes back.
// Mime and Filename may be empty; they are stored as NULL.
type SuccessFields struct {
	RawText  string
	Bytes    int64
	Mime     string
	Filename string
	SHA256   string
}

// BatchTx is one outer batch transaction over the documents table.
//
// Claim leases rows for the lifetime of this transaction; MarkSuccess and
// MarkFailure each run inside their own savepoint so a failed row write rolls
// back alone instead of poisoning the batch. Nothing is durable until Commit.
type BatchTx interface {
	Claim(ctx context.Context, limit, maxAttempts int) ([]ClaimedDoc, error)
	MarkSuccess(ctx context.Context, id uuid.UUID, f SuccessFields) error
	MarkFailure(ctx context.Context, id uuid.UUID, msg string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DocumentStore opens batch transactions against the documents table.
type DocumentStore interface {
	BeginBatch(ctx context.Context) (BatchTx, error)
}

type documentStore struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

func NewDocumentStore(pool *pgxpool.Pool, table string, log *slog.Logger) (DocumentStore, error) {
	if !tableIdentPattern.MatchString(table) {
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("invalid table identifier %q", table), common.ErrInvalidInput)
	}
	if log == nil {
		log = slog.Default()
	}
	return &documentStore{pool: pool, table: table, log: log}, nil
}

func (s *documentStore) BeginBatch(ctx context.Context) (BatchTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		s.log.Error("begin batch tx failed", "err", err)
		return nil, common.WrapError(err, "begin batch transaction")
	}
	return &documentBatch{tx: tx, table: s.table, log: s.log}, nil
}

type documentBatch struct {
	tx    pgx.Tx
	table string
	log   *slog.Logger
}

// Claim locks up to limit eligible rows for this transaction. SKIP LOCKED
// keeps concurrent workers from blocking on each other's leases: rows already
// held elsewhere are excluded rather than waited on.
func (b *documentBatch) Claim(ctx context.Context, limit, maxAttempts int) ([]ClaimedDoc, error) {
	sql := fmt.Sprintf(`
		SELECT id, pdf_url
		FROM %s
		WHERE processed IS DISTINCT FROM TRUE
		  AND pdf_url IS NOT NULL
		  AND process_attempts < $1
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, b.table)

	rows, err := b.tx.Query(ctx, sql, maxAttempts, limit)
	if err != nil {
		b.log.Error("claim query failed", "err", err)
		return nil, common.WrapError(err, "claim batch")
	}
	defer rows.Close()

	var docs []ClaimedDoc
	for rows.Next() {
		var d ClaimedDoc
		if err := rows.Scan(&d.ID, &d.PDFURL); err != nil {
			return nil, common.WrapError(err, "scan claimed row")
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapError(err, "read claimed rows")
	}
	return docs, nil
}

// MarkSuccess applies the success transition inside a savepoint.
//
// Field policy matches the table's write discipline: bytes and mime reflect
// the latest attempt, filename and downloaded_at keep their first value.
// A sha256 collision with another row surfaces as DUPLICATE_CONTENT and
// leaves the row untouched.
func (b *documentBatch) MarkSuccess(ctx context.Context, id uuid.UUID, f SuccessFields) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET
		  raw_text = $1,
		  processed = TRUE,
		  processed_at = now(),
		  process_attempts = process_attempts + 1,
		  last_error = NULL,
		  downloaded_at = COALESCE(downloaded_at, now()),
		  bytes = $2,
		  mime = $3,
		  filename = COALESCE(filename, $4),
		  sha256 = $5
		WHERE id = $6
	`, b.table)

	sub, err := b.tx.Begin(ctx) // SAVEPOINT
	if err != nil {
		return common.WrapError(err, "begin row savepoint")
	}
	_, err = sub.Exec(ctx, sql,
		f.RawText, f.Bytes, nullIfEmpty(f.Mime), nullIfEmpty(f.Filename), f.SHA256, id)
	if err != nil {
		_ = sub.Rollback(ctx)
		if isUniqueViolation(err) {
			return common.NewAppError(common.CodeDuplicate, "sha256 already recorded for another document", err)
		}
		return common.NewAppError(common.CodeDBWrite, "success write failed", err)
	}
	if err := sub.Commit(ctx); err != nil {
		return common.NewAppError(common.CodeDBWrite, "release row savepoint", err)
	}
	return nil
}

// MarkFailure records a failed attempt inside a savepoint. The row stays
// claimable until process_attempts reaches the ceiling.
func (b *documentBatch) MarkFailure(ctx context.Context, id uuid.UUID, msg string) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET
		  process_attempts = process_attempts + 1,
		  last_error = $1,
		  processed = FALSE
		WHERE id = $2
	`, b.table)

	sub, err := b.tx.Begin(ctx) // SAVEPOINT
	if err != nil {
		return common.WrapError(err, "begin row savepoint")
	}
	if _, err := sub.Exec(ctx, sql, TruncateError(msg), id); err != nil {
		_ = sub.Rollback(ctx)
		return common.NewAppError(common.CodeDBWrite, "failure write failed", err)
	}
	if err := sub.Commit(ctx); err != nil {
		return common.NewAppError(common.CodeDBWrite, "release row savepoint", err)
	}
	return nil
}

func (b *documentBatch) Commit(ctx context.Context) error {
	return b.tx.Commit(ctx)
}

func (b *documentBatch) Rollback(ctx context.Context) error {
	err := b.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// TruncateError bounds a failure message to maxErrorLen bytes.
func TruncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen]
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
