package dedup

import (
	"msgvault/internal/staging"
)

// Result is the partition deduplication produced for one batch. It carries
// no side effects: writing Accepted to the clean store is the committer's
// job, after validation.
type Result struct {
	BatchID         string
	Accepted        []staging.Message
	UniqueCount     int
	DuplicateCount  int
	FailedCount     int
	DuplicateRawIDs []int64
	FailedRawIDs    []int64
}
