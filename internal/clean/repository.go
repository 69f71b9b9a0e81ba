package clean

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"msgvault/internal/capture"
	"msgvault/internal/staging"
	pkgerrors "msgvault/pkg/errors"
	"msgvault/pkg/metrics"
)

type Repository interface {
	ContainsFingerprint(ctx context.Context, fingerprint string) (bool, error)
	CommitBatch(ctx context.Context, batchID string, accepted []staging.Message, duplicateRawIDs []int64) (*CommitResult, error)
	ListByBatch(ctx context.Context, batchID string) ([]Message, error)
	ListByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]Message, error)
	Count(ctx context.Context) (int64, error)
}

type SQLiteRepository struct {
	db      *sql.DB
	capture capture.Repository
}

func NewRepository(db *sql.DB, captureRepo capture.Repository) Repository {
	return &SQLiteRepository{db: db, capture: captureRepo}
}

// ContainsFingerprint is the dedup membership check, an O(1) lookup over the
// store's unique fingerprint index.
func (r *SQLiteRepository) ContainsFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages_clean WHERE fingerprint = ?)`, fingerprint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	return exists == 1, nil
}

// CommitBatch writes every accepted row and flips the batch's resolved
// captures (accepted and duplicate) to processed, all inside one
// transaction. A uniqueness violation on any row means the clean store
// changed under us; the whole transaction rolls back and the caller gets a
// commit conflict.
func (r *SQLiteRepository) CommitBatch(ctx context.Context, batchID string, accepted []staging.Message, duplicateRawIDs []int64) (*CommitResult, error) {
	start := time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO messages_clean
			(raw_message_id, staging_message_id, group_name, sender, content, msg_type,
			 captured_at, fingerprint, batch_id, quality_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	rawIDs := make([]int64, 0, len(accepted)+len(duplicateRawIDs))

	for _, msg := range accepted {
		_, err := tx.ExecContext(ctx, insert,
			msg.RawMessageID, msg.ID, msg.GroupName, msg.Sender, msg.Content,
			msg.MsgType, msg.CapturedAt, msg.Fingerprint, batchID, 1.0, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				metrics.ObserveCommitDuration(time.Since(start), "conflict")
				return nil, pkgerrors.ErrConflict.WithCause(err).WithDetail("message",
					fmt.Sprintf("fingerprint %s already committed by a concurrent batch", msg.Fingerprint))
			}
			metrics.ObserveCommitDuration(time.Since(start), "error")
			return nil, fmt.Errorf("failed to insert clean message for capture %d: %w", msg.RawMessageID, err)
		}
		rawIDs = append(rawIDs, msg.RawMessageID)
	}

	rawIDs = append(rawIDs, duplicateRawIDs...)
	if err := r.capture.MarkProcessedIn(ctx, tx, rawIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		metrics.ObserveCommitDuration(time.Since(start), "error")
		if isUniqueViolation(err) {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrConflict)
		}
		return nil, fmt.Errorf("failed to commit batch %s: %w", batchID, err)
	}

	duration := time.Since(start)
	metrics.ObserveCommitDuration(duration, "committed")

	return &CommitResult{
		BatchID:    batchID,
		Committed:  len(accepted),
		RawUpdated: len(rawIDs),
		Duration:   duration,
	}, nil
}

func (r *SQLiteRepository) ListByBatch(ctx context.Context, batchID string) ([]Message, error) {
	return r.list(ctx, selectColumns+` WHERE batch_id = ? ORDER BY id ASC`, batchID)
}

// ListByTimeRange is the downstream extraction read path: rows captured in
// [from, to), newest last.
func (r *SQLiteRepository) ListByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]Message, error) {
	return r.list(ctx,
		selectColumns+` WHERE captured_at >= ? AND captured_at < ? ORDER BY captured_at ASC, id ASC LIMIT ?`,
		from, to, limit)
}

func (r *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages_clean`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count clean messages: %w", err)
	}
	return count, nil
}

const selectColumns = `
	SELECT id, raw_message_id, staging_message_id, group_name, sender, content,
	       msg_type, captured_at, fingerprint, batch_id, quality_score, created_at
	FROM messages_clean`

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...interface{}) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clean messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		var msg Message
		var stagingID sql.NullInt64
		if err := rows.Scan(
			&msg.ID, &msg.RawMessageID, &stagingID, &msg.GroupName, &msg.Sender,
			&msg.Content, &msg.MsgType, &msg.CapturedAt, &msg.Fingerprint,
			&msg.BatchID, &msg.QualityScore, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan clean message: %w", err)
		}
		if stagingID.Valid {
			id := stagingID.Int64
			msg.StagingMessageID = &id
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
