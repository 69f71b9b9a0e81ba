package ledger

import (
	"time"
)

type OperationType string

const (
	OpDedup   OperationType = "dedup"
	OpBackup  OperationType = "backup"
	OpMigrate OperationType = "migrate"
)

type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Batch records one pipeline run. Once the status reaches a terminal state
// the row is immutable; a failed run is retried as a new batch, never by
// reopening this one.
type Batch struct {
	ID               string        `json:"id"`
	OperationType    OperationType `json:"operation_type"`
	Status           Status        `json:"status"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsAffected  int           `json:"records_affected"`
	DuplicateCount   int           `json:"duplicate_count"`
	FailedCount      int           `json:"failed_count"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	DurationMS       int64         `json:"duration_ms"`
	CreatedAt        time.Time     `json:"created_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// Metrics is what a closing batch reports.
type Metrics struct {
	RecordsProcessed int
	RecordsAffected  int
	DuplicateCount   int
	FailedCount      int
	DurationMS       int64
}
