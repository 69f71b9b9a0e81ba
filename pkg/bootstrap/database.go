package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"msgvault/internal/config"
	"msgvault/internal/logger"
	"msgvault/pkg/migrations"
)

type StoreConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewStoreConnector(cfg *config.Config, log logger.Logger) *StoreConnector {
	return &StoreConnector{
		Config: cfg,
		Logger: log,
	}
}

// OpenStore opens the store database file, creating its directory when missing.
// WAL mode keeps capture producers and the pipeline reader from blocking each
// other; a single connection serializes writers at the store level.
func (sc *StoreConnector) OpenStore(ctx context.Context) (*sql.DB, error) {
	dbPath := sc.Config.Database.Path

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		dbPath, sc.Config.Database.BusyTimeoutMS)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	if sc.Config.Database.RunMigrations {
		if err := migrations.Run(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate store: %w", err)
		}
		sc.Logger.Info("Store migrations applied")
	}

	sc.Logger.Infow("Store opened", "path", dbPath)
	return db, nil
}

func (sc *StoreConnector) ShutdownStore(db *sql.DB) []error {
	var errs []error

	if db != nil {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close error: %w", err))
		}
	}

	return errs
}
