package health

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type CheckerRegistry struct {
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{
		checkers: make([]Checker, 0),
	}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, checker)
}

func (r *CheckerRegistry) Check(ctx context.Context) Health {
	results := make(map[string]CheckResult)
	allHealthy := true

	for _, checker := range r.checkers {
		err := checker.Check(ctx)
		result := CheckResult{
			Timestamp: time.Now(),
		}

		if err != nil {
			result.Status = StatusUnhealthy
			result.Message = err.Error()
			allHealthy = false
		} else {
			result.Status = StatusHealthy
		}

		results[checker.Name()] = result
	}

	overallStatus := StatusHealthy
	if !allHealthy {
		overallStatus = StatusUnhealthy
	}

	return Health{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

type StoreChecker struct {
	db *sql.DB
}

func NewStoreChecker(db *sql.DB) *StoreChecker {
	return &StoreChecker{db: db}
}

func (c *StoreChecker) Name() string {
	return "store"
}

func (c *StoreChecker) Check(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}

	var result string
	if err := c.db.QueryRowContext(ctx, "PRAGMA quick_check(1)").Scan(&result); err != nil {
		return fmt.Errorf("store quick_check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("store quick_check reported: %s", result)
	}
	return nil
}

type SnapshotDirChecker struct {
	dir string
}

func NewSnapshotDirChecker(dir string) *SnapshotDirChecker {
	return &SnapshotDirChecker{dir: dir}
}

func (c *SnapshotDirChecker) Name() string {
	return "snapshot_dir"
}

func (c *SnapshotDirChecker) Check(ctx context.Context) error {
	info, err := os.Stat(c.dir)
	if err != nil {
		return fmt.Errorf("snapshot directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("snapshot path %s is not a directory", c.dir)
	}
	return nil
}
