package clean

import (
	"time"
)

// Message is a committed, deduplicated record. The fingerprint is unique
// across the whole store; raw_message_id points back at the capture for
// audit, staging_message_id is a non-enforced audit reference that survives
// staging purges.
type Message struct {
	ID               int64     `json:"id"`
	RawMessageID     int64     `json:"raw_message_id"`
	StagingMessageID *int64    `json:"staging_message_id,omitempty"`
	GroupName        string    `json:"group_name"`
	Sender           string    `json:"sender"`
	Content          string    `json:"content"`
	MsgType          string    `json:"msg_type"`
	CapturedAt       time.Time `json:"captured_at"`
	Fingerprint      string    `json:"fingerprint"`
	BatchID          string    `json:"batch_id"`
	QualityScore     float64   `json:"quality_score"`
	CreatedAt        time.Time `json:"created_at"`
}

type CommitResult struct {
	BatchID    string        `json:"batch_id"`
	Committed  int           `json:"committed"`
	RawUpdated int           `json:"raw_updated"`
	Duration   time.Duration `json:"-"`
}
