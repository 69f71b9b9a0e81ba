package staging

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"msgvault/internal/capture"
	pkgerrors "msgvault/pkg/errors"
)

// Fingerprinter computes the deduplication key for a message's semantic
// fields. Satisfied by dedup.Fingerprinter.
type Fingerprinter interface {
	Fingerprint(group, sender, content string) string
}

type Repository interface {
	Stage(ctx context.Context, batchID string, msgs []capture.Message) ([]Message, error)
	ListByBatch(ctx context.Context, batchID string) ([]Message, error)
	SetValidationStatus(ctx context.Context, ids []int64, status ValidationStatus) error
	Clear(ctx context.Context, batchID string) error
	CountByBatch(ctx context.Context, batchID string) (int64, error)
}

type SQLiteRepository struct {
	db          *sql.DB
	fingerprint Fingerprinter
}

func NewRepository(db *sql.DB, fp Fingerprinter) Repository {
	return &SQLiteRepository{db: db, fingerprint: fp}
}

// Stage copies the given captures into the staging buffer under batchID,
// computing fingerprints and assigning ascending batch sequence numbers.
// The whole call fails with a staging error if any capture is already staged
// in a live batch; nothing is written in that case.
func (r *SQLiteRepository) Stage(ctx context.Context, batchID string, msgs []capture.Message) ([]Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin staging transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.checkNotStaged(ctx, tx, msgs); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	staged := make([]Message, 0, len(msgs))

	insert := `
		INSERT INTO messages_staging
			(raw_message_id, group_name, sender, content, msg_type, captured_at,
			 fingerprint, batch_id, batch_seq, validation_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for seq, msg := range msgs {
		row := Message{
			RawMessageID:     msg.ID,
			GroupName:        msg.GroupName,
			Sender:           msg.Sender,
			Content:          msg.Content,
			MsgType:          msg.MsgType,
			CapturedAt:       msg.CapturedAt,
			Fingerprint:      r.fingerprint.Fingerprint(msg.GroupName, msg.Sender, msg.Content),
			BatchID:          batchID,
			BatchSeq:         seq,
			ValidationStatus: StatusPending,
			CreatedAt:        now,
		}

		res, err := tx.ExecContext(ctx, insert,
			row.RawMessageID, row.GroupName, row.Sender, row.Content, row.MsgType,
			row.CapturedAt, row.Fingerprint, row.BatchID, row.BatchSeq,
			string(row.ValidationStatus), row.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to stage message %d: %w", msg.ID, err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read staged row id: %w", err)
		}
		row.ID = id
		staged = append(staged, row)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit staging transaction: %w", err)
	}

	return staged, nil
}

func (r *SQLiteRepository) checkNotStaged(ctx context.Context, tx *sql.Tx, msgs []capture.Message) error {
	ids := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
	}

	query := fmt.Sprintf(
		`SELECT raw_message_id, batch_id FROM messages_staging WHERE raw_message_id IN (%s) LIMIT 1`,
		placeholders(len(ids)),
	)

	var rawID int64
	var batchID string
	err := tx.QueryRowContext(ctx, query, ids...).Scan(&rawID, &batchID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check staged messages: %w", err)
	}

	return pkgerrors.ErrStaging.
		WithDetail("message", fmt.Sprintf("capture %d is already staged in batch %s", rawID, batchID)).
		WithDetail("raw_message_id", rawID).
		WithDetail("batch_id", batchID)
}

// ListByBatch returns the batch's rows in staging order, the input order the
// deduplication tie-break depends on.
func (r *SQLiteRepository) ListByBatch(ctx context.Context, batchID string) ([]Message, error) {
	query := `
		SELECT id, raw_message_id, group_name, sender, content, msg_type, captured_at,
		       fingerprint, batch_id, batch_seq, validation_status, created_at
		FROM messages_staging
		WHERE batch_id = ?
		ORDER BY batch_seq ASC
	`

	rows, err := r.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staged messages: %w", err)
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
		var status string
		if err := rows.Scan(
			&msg.ID, &msg.RawMessageID, &msg.GroupName, &msg.Sender, &msg.Content,
			&msg.MsgType, &msg.CapturedAt, &msg.Fingerprint, &msg.BatchID,
			&msg.BatchSeq, &status, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan staged message: %w", err)
		}
		msg.ValidationStatus = ValidationStatus(status)
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (r *SQLiteRepository) SetValidationStatus(ctx context.Context, ids []int64, status ValidationStatus) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`UPDATE messages_staging SET validation_status = ? WHERE id IN (%s)`,
		placeholders(len(ids)),
	)

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, string(status))
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update validation status: %w", err)
	}
	return nil
}

// Clear purges a batch's staged rows. Safe to call on an empty or
// already-cleared batch.
func (r *SQLiteRepository) Clear(ctx context.Context, batchID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM messages_staging WHERE batch_id = ?`, batchID); err != nil {
		return fmt.Errorf("failed to clear staging batch %s: %w", batchID, err)
	}
	return nil
}

func (r *SQLiteRepository) CountByBatch(ctx context.Context, batchID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages_staging WHERE batch_id = ?`, batchID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count staged messages: %w", err)
	}
	return count, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
