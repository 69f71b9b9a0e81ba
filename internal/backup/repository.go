package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pkgerrors "msgvault/pkg/errors"
)

type Repository interface {
	Insert(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, id string) (*Snapshot, error)
	List(ctx context.Context, snapType SnapshotType) ([]Snapshot, error)
	ListExpired(ctx context.Context, now time.Time) ([]Snapshot, error)
	Delete(ctx context.Context, id string) error
	MarkRestored(ctx context.Context, id string) error
	Statistics(ctx context.Context) (*Statistics, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, snap *Snapshot) error {
	tables, err := json.Marshal(snap.SourceTables)
	if err != nil {
		return fmt.Errorf("failed to encode source tables: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshot_metadata
			(id, file_path, snapshot_type, source_tables, record_count, size_bytes,
			 checksum, compressed, notes, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.ID, snap.FilePath, string(snap.Type), string(tables),
		snap.RecordCount, snap.SizeBytes, snap.Checksum, boolToInt(snap.Compressed),
		nullableString(snap.Notes), snap.CreatedAt, snap.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot metadata: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Snapshot, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("snapshot %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

// List returns snapshots newest first, optionally filtered by type.
func (r *SQLiteRepository) List(ctx context.Context, snapType SnapshotType) ([]Snapshot, error) {
	query := selectColumns + ` ORDER BY created_at DESC, id DESC`
	args := []interface{}{}
	if snapType != "" {
		query = selectColumns + ` WHERE snapshot_type = ? ORDER BY created_at DESC, id DESC`
		args = append(args, string(snapType))
	}
	return r.list(ctx, query, args...)
}

func (r *SQLiteRepository) ListExpired(ctx context.Context, now time.Time) ([]Snapshot, error) {
	return r.list(ctx, selectColumns+` WHERE expires_at < ? ORDER BY expires_at ASC`, now)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM snapshot_metadata WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete snapshot metadata: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkRestored(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE snapshot_metadata SET restored_at = ? WHERE id = ?`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to mark snapshot restored: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{CountByType: make(map[string]int64)}

	var totalSize sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(size_bytes) FROM snapshot_metadata`).Scan(&stats.TotalCount, &totalSize)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate snapshot statistics: %w", err)
	}
	stats.TotalSizeBytes = totalSize.Int64

	rows, err := r.db.QueryContext(ctx,
		`SELECT snapshot_type, COUNT(*) FROM snapshot_metadata GROUP BY snapshot_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count snapshots by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var snapType string
		var count int64
		if err := rows.Scan(&snapType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot counts: %w", err)
		}
		stats.CountByType[snapType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	latest, err := r.list(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		stats.Latest = &latest[0]
	}

	return stats, nil
}

const selectColumns = `
	SELECT id, file_path, snapshot_type, source_tables, record_count, size_bytes,
	       checksum, compressed, notes, created_at, expires_at, restored_at
	FROM snapshot_metadata`

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...interface{}) ([]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, *snap)
	}

	return snaps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var snapType, tables string
	var compressed int
	var notes sql.NullString
	var restoredAt sql.NullTime

	err := row.Scan(
		&snap.ID, &snap.FilePath, &snapType, &tables, &snap.RecordCount,
		&snap.SizeBytes, &snap.Checksum, &compressed, &notes,
		&snap.CreatedAt, &snap.ExpiresAt, &restoredAt,
	)
	if err != nil {
		return nil, err
	}

	snap.Type = SnapshotType(snapType)
	snap.Compressed = compressed == 1
	if err := json.Unmarshal([]byte(tables), &snap.SourceTables); err != nil {
		return nil, fmt.Errorf("failed to decode source tables: %w", err)
	}
	if notes.Valid {
		snap.Notes = notes.String
	}
	if restoredAt.Valid {
		t := restoredAt.Time
		snap.RestoredAt = &t
	}

	return &snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
