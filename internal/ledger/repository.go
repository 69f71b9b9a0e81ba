package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "msgvault/pkg/errors"
)

type Repository interface {
	StartBatch(ctx context.Context, op OperationType) (*Batch, error)
	CompleteBatch(ctx context.Context, batchID string, m Metrics) error
	FailBatch(ctx context.Context, batchID string, errMsg string, m Metrics) error
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	ListRecent(ctx context.Context, limit int) ([]Batch, error)
	FindStale(ctx context.Context, threshold time.Duration) ([]Batch, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &SQLiteRepository{db: db}
}

// NewBatchID builds an id that sorts by start time and stays unique across
// restarts, e.g. batch_20250114_093045_1a2b3c4d.
func NewBatchID(now time.Time) string {
	return fmt.Sprintf("batch_%s_%s",
		now.Format("20060102_150405"),
		strings.SplitN(uuid.New().String(), "-", 2)[0],
	)
}

func (r *SQLiteRepository) StartBatch(ctx context.Context, op OperationType) (*Batch, error) {
	now := time.Now().UTC()
	batch := &Batch{
		ID:            NewBatchID(now),
		OperationType: op,
		Status:        StatusStarted,
		CreatedAt:     now,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO processing_batches (id, operation_type, status, created_at)
		VALUES (?, ?, ?, ?)
	`, batch.ID, string(op), string(StatusStarted), now)
	if err != nil {
		return nil, fmt.Errorf("failed to start batch: %w", err)
	}

	return batch, nil
}

// CompleteBatch transitions started -> completed. A batch already in a
// terminal state is never rewritten.
func (r *SQLiteRepository) CompleteBatch(ctx context.Context, batchID string, m Metrics) error {
	return r.close(ctx, batchID, StatusCompleted, "", m)
}

// FailBatch transitions started -> failed with the triggering error.
func (r *SQLiteRepository) FailBatch(ctx context.Context, batchID string, errMsg string, m Metrics) error {
	return r.close(ctx, batchID, StatusFailed, errMsg, m)
}

func (r *SQLiteRepository) close(ctx context.Context, batchID string, status Status, errMsg string, m Metrics) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE processing_batches
		SET status = ?, records_processed = ?, records_affected = ?,
		    duplicate_count = ?, failed_count = ?, error_message = ?,
		    duration_ms = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`,
		string(status), m.RecordsProcessed, m.RecordsAffected,
		m.DuplicateCount, m.FailedCount, nullableString(errMsg),
		m.DurationMS, time.Now().UTC(),
		batchID, string(StatusStarted),
	)
	if err != nil {
		return fmt.Errorf("failed to close batch %s: %w", batchID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrBatchNotActive.WithDetail("message",
			fmt.Sprintf("batch %s is missing or already terminal", batchID))
	}

	return nil
}

func (r *SQLiteRepository) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, batchID)

	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("batch %s not found", batchID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return batch, nil
}

func (r *SQLiteRepository) ListRecent(ctx context.Context, limit int) ([]Batch, error) {
	return r.list(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// FindStale returns batches still in started state past the liveness
// threshold. These are crashed runs awaiting recovery.
func (r *SQLiteRepository) FindStale(ctx context.Context, threshold time.Duration) ([]Batch, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	return r.list(ctx,
		selectColumns+` WHERE status = ? AND created_at < ? ORDER BY created_at ASC`,
		string(StatusStarted), cutoff)
}

const selectColumns = `
	SELECT id, operation_type, status, records_processed, records_affected,
	       duplicate_count, failed_count, error_message, duration_ms,
	       created_at, completed_at
	FROM processing_batches`

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...interface{}) ([]Batch, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, *batch)
	}

	return batches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner) (*Batch, error) {
	var batch Batch
	var op, status string
	var errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&batch.ID, &op, &status, &batch.RecordsProcessed, &batch.RecordsAffected,
		&batch.DuplicateCount, &batch.FailedCount, &errMsg, &batch.DurationMS,
		&batch.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	batch.OperationType = OperationType(op)
	batch.Status = Status(status)
	if errMsg.Valid {
		batch.ErrorMessage = errMsg.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		batch.CompletedAt = &t
	}

	return &batch, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
