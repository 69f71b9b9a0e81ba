package backup

import (
	"time"
)

type SnapshotType string

const (
	TypeAuto         SnapshotType = "auto"
	TypeManual       SnapshotType = "manual"
	TypePreOperation SnapshotType = "pre-operation"
)

// Snapshot is a verifiable point-in-time copy of the store file, taken
// before a batch mutates the clean store and kept until expiry.
type Snapshot struct {
	ID           string       `json:"id"`
	FilePath     string       `json:"file_path"`
	Type         SnapshotType `json:"type"`
	SourceTables []string     `json:"source_tables"`
	RecordCount  int64        `json:"record_count"`
	SizeBytes    int64        `json:"size_bytes"`
	Checksum     string       `json:"checksum"`
	Compressed   bool         `json:"compressed"`
	Notes        string       `json:"notes,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
	RestoredAt   *time.Time   `json:"restored_at,omitempty"`
}

type Statistics struct {
	TotalCount     int64            `json:"total_count"`
	TotalSizeBytes int64            `json:"total_size_bytes"`
	CountByType    map[string]int64 `json:"count_by_type"`
	Latest         *Snapshot        `json:"latest,omitempty"`
}
