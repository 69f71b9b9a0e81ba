package backup

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"msgvault/internal/config"
	"msgvault/internal/logger"
	pkgerrors "msgvault/pkg/errors"
	"msgvault/pkg/metrics"
)

// snapshotTables are the logical stores captured in every snapshot.
var snapshotTables = []string{
	"messages_raw", "messages_staging", "messages_clean",
	"processing_batches", "snapshot_metadata",
}

// restoreTables are the stores a restore rewrites. Capture rows are never
// rolled back and the ledger is audit history.
var restoreTables = []string{"messages_staging", "messages_clean"}

// Manager takes verifiable file-level snapshots of the store and restores
// from them on batch failure.
type Manager struct {
	db     *sql.DB
	dbPath string
	cfg    config.BackupConfig
	repo   Repository
	logger logger.Logger
}

func NewManager(db *sql.DB, dbPath string, cfg config.BackupConfig, repo Repository, log logger.Logger) (*Manager, error) {
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	return &Manager{
		db:     db,
		dbPath: dbPath,
		cfg:    cfg,
		repo:   repo,
		logger: log,
	}, nil
}

func (m *Manager) Dir() string {
	return m.cfg.Dir
}

// Create checkpoints the WAL, copies the store file and records verified
// metadata. The call blocks until the snapshot is flushed and checksummed.
func (m *Manager) Create(ctx context.Context, snapType SnapshotType, notes string) (*Snapshot, error) {
	// Fold WAL pages into the main file so the copy is complete on its own.
	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("failed to checkpoint store: %w", err)
	}

	now := time.Now().UTC()
	path := filepath.Join(m.cfg.Dir, m.snapshotFilename(snapType, now))

	size, err := m.copyStoreFile(path)
	if err != nil {
		metrics.SnapshotsTotal.WithLabelValues(string(snapType), "error").Inc()
		return nil, err
	}

	checksum, err := fileChecksum(path)
	if err != nil {
		metrics.SnapshotsTotal.WithLabelValues(string(snapType), "error").Inc()
		return nil, err
	}

	recordCount, err := m.totalRecordCount(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:           "snap_" + strings.SplitN(uuid.New().String(), "-", 2)[0] + "_" + now.Format("20060102_150405"),
		FilePath:     path,
		Type:         snapType,
		SourceTables: snapshotTables,
		RecordCount:  recordCount,
		SizeBytes:    size,
		Checksum:     checksum,
		Compressed:   m.cfg.Compression,
		Notes:        notes,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(m.cfg.RetentionDays) * 24 * time.Hour),
	}

	if m.cfg.VerifyAfterCreate {
		if err := m.Verify(snap); err != nil {
			os.Remove(path)
			metrics.SnapshotsTotal.WithLabelValues(string(snapType), "error").Inc()
			return nil, err
		}
	}

	if err := m.repo.Insert(ctx, snap); err != nil {
		os.Remove(path)
		return nil, err
	}

	metrics.SnapshotsTotal.WithLabelValues(string(snapType), "created").Inc()
	metrics.SnapshotSizeBytes.Set(float64(size))

	m.logger.InfowCtx(ctx, "Snapshot created",
		"snapshot_id", snap.ID,
		"type", string(snapType),
		"size_bytes", size,
		"records", recordCount,
	)

	if snapType == TypeAuto {
		if err := m.pruneAutoSnapshots(ctx); err != nil {
			m.logger.WarnwCtx(ctx, "Failed to prune old auto snapshots", "error", err)
		}
	}

	return snap, nil
}

// Verify recomputes the snapshot file checksum against the recorded one.
// A mismatch means the snapshot cannot be trusted for restore.
func (m *Manager) Verify(snap *Snapshot) error {
	checksum, err := fileChecksum(snap.FilePath)
	if err != nil {
		return pkgerrors.ErrCorruptSnapshot.WithCause(err).
			WithDetail("message", fmt.Sprintf("snapshot %s is unreadable", snap.ID))
	}

	if checksum != snap.Checksum {
		return pkgerrors.ErrCorruptSnapshot.
			WithDetail("message", fmt.Sprintf("snapshot %s checksum mismatch", snap.ID)).
			WithDetail("expected", snap.Checksum).
			WithDetail("actual", checksum)
	}

	return nil
}

// Restore rewrites the staging and clean stores from the snapshot. The
// checksum is verified before anything is touched; a corrupt snapshot halts
// the pipeline instead of risking silent data loss.
func (m *Manager) Restore(ctx context.Context, snap *Snapshot) error {
	if err := m.Verify(snap); err != nil {
		metrics.SnapshotRestoresTotal.WithLabelValues("corrupt").Inc()
		return err
	}

	sourcePath := snap.FilePath
	if snap.Compressed {
		decompressed, err := m.decompressToTemp(snap.FilePath)
		if err != nil {
			metrics.SnapshotRestoresTotal.WithLabelValues("error").Inc()
			return err
		}
		defer os.Remove(decompressed)
		sourcePath = decompressed
	}

	if err := m.copyTablesFrom(ctx, sourcePath, restoreTables); err != nil {
		metrics.SnapshotRestoresTotal.WithLabelValues("error").Inc()
		return err
	}

	if err := m.repo.MarkRestored(ctx, snap.ID); err != nil {
		m.logger.WarnwCtx(ctx, "Restore succeeded but metadata update failed",
			"snapshot_id", snap.ID, "error", err)
	}

	metrics.SnapshotRestoresTotal.WithLabelValues("restored").Inc()
	m.logger.InfowCtx(ctx, "Store restored from snapshot",
		"snapshot_id", snap.ID,
		"tables", restoreTables,
	)

	return nil
}

// PurgeExpired removes snapshots past their expiry, files and metadata both.
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	expired, err := m.repo.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, snap := range expired {
		if err := m.removeSnapshot(ctx, snap); err != nil {
			return purged, err
		}
		purged++
	}

	if purged > 0 {
		m.logger.InfowCtx(ctx, "Expired snapshots purged", "count", purged)
	}

	return purged, nil
}

func (m *Manager) Statistics(ctx context.Context) (*Statistics, error) {
	return m.repo.Statistics(ctx)
}

func (m *Manager) List(ctx context.Context, snapType SnapshotType) ([]Snapshot, error) {
	return m.repo.List(ctx, snapType)
}

func (m *Manager) Get(ctx context.Context, id string) (*Snapshot, error) {
	return m.repo.Get(ctx, id)
}

// snapshotFilename sorts by creation time; the uuid segment keeps rapid
// snapshots within the same second from colliding.
func (m *Manager) snapshotFilename(snapType SnapshotType, now time.Time) string {
	ts := now.Format("20060102_150405") + "_" + strings.SplitN(uuid.New().String(), "-", 2)[0]
	var name string
	switch snapType {
	case TypeManual:
		name = fmt.Sprintf("manual_backup_%s.db", ts)
	case TypePreOperation:
		name = fmt.Sprintf("pre_dedup_%s.db", ts)
	default:
		name = fmt.Sprintf("auto_backup_%s.db", ts)
	}
	if m.cfg.Compression {
		name += ".sz"
	}
	return name
}

func (m *Manager) copyStoreFile(dst string) (int64, error) {
	src, err := os.Open(m.dbPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open store file: %w", err)
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer out.Close()

	if m.cfg.Compression {
		w := snappy.NewBufferedWriter(out)
		if _, err := io.Copy(w, src); err != nil {
			return 0, fmt.Errorf("failed to write compressed snapshot: %w", err)
		}
		if err := w.Close(); err != nil {
			return 0, fmt.Errorf("failed to flush compressed snapshot: %w", err)
		}
	} else {
		if _, err := io.Copy(out, src); err != nil {
			return 0, fmt.Errorf("failed to write snapshot: %w", err)
		}
	}

	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync snapshot file: %w", err)
	}

	info, err := out.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat snapshot file: %w", err)
	}

	return info.Size(), nil
}

func (m *Manager) decompressToTemp(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(m.cfg.Dir, "restore_*.db")
	if err != nil {
		return "", fmt.Errorf("failed to create restore temp file: %w", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, snappy.NewReader(in)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to decompress snapshot: %w", err)
	}

	return tmp.Name(), nil
}

// copyTablesFrom attaches the snapshot file and replaces each listed table's
// contents inside one transaction. ATTACH is per-connection, so everything
// runs on a single pinned connection.
func (m *Manager) copyTablesFrom(ctx context.Context, sourcePath string, tables []string) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to pin connection for restore: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS snap`, sourcePath); err != nil {
		return fmt.Errorf("failed to attach snapshot: %w", err)
	}
	defer conn.ExecContext(ctx, `DETACH DATABASE snap`)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin restore transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM main.%s`, table)); err != nil {
			return fmt.Errorf("failed to clear table %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO main.%s SELECT * FROM snap.%s`, table, table)); err != nil {
			return fmt.Errorf("failed to restore table %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit restore: %w", err)
	}

	return nil
}

func (m *Manager) totalRecordCount(ctx context.Context) (int64, error) {
	var total int64
	err := m.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM messages_raw)
		     + (SELECT COUNT(*) FROM messages_staging)
		     + (SELECT COUNT(*) FROM messages_clean)
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count store records: %w", err)
	}
	return total, nil
}

func (m *Manager) pruneAutoSnapshots(ctx context.Context) error {
	autos, err := m.repo.List(ctx, TypeAuto)
	if err != nil {
		return err
	}

	for i := m.cfg.MaxAutoSnapshots; i < len(autos); i++ {
		if err := m.removeSnapshot(ctx, autos[i]); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) removeSnapshot(ctx context.Context, snap Snapshot) error {
	if err := os.Remove(snap.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot file %s: %w", snap.FilePath, err)
	}
	return m.repo.Delete(ctx, snap.ID)
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to checksum file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
