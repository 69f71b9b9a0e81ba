package capture

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	pkgerrors "msgvault/pkg/errors"
)

type Repository interface {
	Save(ctx context.Context, msg *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	ListUnprocessed(ctx context.Context, limit, maxAttempts int) ([]Message, error)
	MarkProcessedIn(ctx context.Context, tx *sql.Tx, ids []int64) error
	RecordFailure(ctx context.Context, ids []int64, errMsg string, maxAttempts int) error
	Counts(ctx context.Context) (StoreCounts, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &SQLiteRepository{db: db}
}

// Save appends a captured message. Rows in the capture store are never
// mutated or deleted by the pipeline afterwards, apart from processing state.
func (r *SQLiteRepository) Save(ctx context.Context, msg *Message) error {
	now := time.Now().UTC()
	if msg.CapturedAt.IsZero() {
		msg.CapturedAt = now
	}
	msg.RecordedAt = now
	msg.UpdatedAt = now
	msg.ProcessedStatus = StatusUnprocessed

	query := `
		INSERT INTO messages_raw
			(group_name, sender, content, msg_type, captured_at, recorded_at,
			 processed_status, processing_attempts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`

	res, err := r.db.ExecContext(ctx, query,
		msg.GroupName, msg.Sender, msg.Content, msg.MsgType,
		msg.CapturedAt, msg.RecordedAt, int(msg.ProcessedStatus), msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save captured message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read captured message id: %w", err)
	}
	msg.ID = id

	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Message, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("captured message %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get captured message: %w", err)
	}
	return msg, nil
}

// ListUnprocessed returns unprocessed captures in ascending id order, the
// deterministic input order deduplication relies on. Rows at or past the
// retry ceiling are excluded.
func (r *SQLiteRepository) ListUnprocessed(ctx context.Context, limit, maxAttempts int) ([]Message, error) {
	query := selectColumns + `
		WHERE processed_status = ? AND processing_attempts < ?
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, int(StatusUnprocessed), maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan captured message: %w", err)
		}
		messages = append(messages, *msg)
	}

	return messages, rows.Err()
}

// MarkProcessedIn flips the given rows to processed inside the caller's
// transaction so the status change lands atomically with the clean commit.
func (r *SQLiteRepository) MarkProcessedIn(ctx context.Context, tx *sql.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`UPDATE messages_raw SET processed_status = ?, updated_at = ? WHERE id IN (%s)`,
		placeholders(len(ids)),
	)

	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, int(StatusProcessed), time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark messages processed: %w", err)
	}
	return nil
}

// RecordFailure increments attempts for the given rows and records the error.
// A row whose attempts reach the ceiling becomes terminally failed; otherwise
// it stays unprocessed and re-enters the next batch.
func (r *SQLiteRepository) RecordFailure(ctx context.Context, ids []int64, errMsg string, maxAttempts int) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE messages_raw
		SET processing_attempts = processing_attempts + 1,
		    processed_status = CASE WHEN processing_attempts + 1 >= ? THEN ? ELSE ? END,
		    last_attempt_at = ?,
		    processing_error = ?,
		    updated_at = ?
		WHERE id IN (%s)
	`, placeholders(len(ids)))

	now := time.Now().UTC()
	args := make([]interface{}, 0, len(ids)+6)
	args = append(args, maxAttempts, int(StatusFailed), int(StatusUnprocessed), now, errMsg, now)
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record processing failure: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Counts(ctx context.Context) (StoreCounts, error) {
	query := `
		SELECT
			COUNT(*),
			SUM(CASE WHEN processed_status = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN processed_status = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN processed_status = 2 THEN 1 ELSE 0 END)
		FROM messages_raw
	`

	var counts StoreCounts
	var unprocessed, processed, failed sql.NullInt64
	err := r.db.QueryRowContext(ctx, query).Scan(&counts.Total, &unprocessed, &processed, &failed)
	if err != nil {
		return StoreCounts{}, fmt.Errorf("failed to count captured messages: %w", err)
	}
	counts.Unprocessed = unprocessed.Int64
	counts.Processed = processed.Int64
	counts.Failed = failed.Int64

	return counts, nil
}

const selectColumns = `
	SELECT id, group_name, sender, content, msg_type, captured_at, recorded_at,
	       processed_status, processing_attempts, last_attempt_at, processing_error, updated_at
	FROM messages_raw`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var status int
	var lastAttempt sql.NullTime
	var procErr sql.NullString

	err := row.Scan(
		&msg.ID, &msg.GroupName, &msg.Sender, &msg.Content, &msg.MsgType,
		&msg.CapturedAt, &msg.RecordedAt, &status, &msg.ProcessingAttempts,
		&lastAttempt, &procErr, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.ProcessedStatus = ProcessedStatus(status)
	if lastAttempt.Valid {
		t := lastAttempt.Time
		msg.LastAttemptAt = &t
	}
	if procErr.Valid {
		msg.ProcessingError = procErr.String
	}

	return &msg, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
