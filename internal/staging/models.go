package staging

import (
	"time"
)

// ValidationStatus tracks what deduplication decided about a staged row.
type ValidationStatus string

const (
	StatusPending   ValidationStatus = "pending"
	StatusAccepted  ValidationStatus = "accepted"
	StatusDuplicate ValidationStatus = "duplicate"
	StatusInvalid   ValidationStatus = "invalid"
)

// Message is a batch-scoped copy of a captured message plus its fingerprint.
// Rows never outlive their batch: they are purged on completion or rollback.
type Message struct {
	ID               int64            `json:"id"`
	RawMessageID     int64            `json:"raw_message_id"`
	GroupName        string           `json:"group_name"`
	Sender           string           `json:"sender"`
	Content          string           `json:"content"`
	MsgType          string           `json:"msg_type"`
	CapturedAt       time.Time        `json:"captured_at"`
	Fingerprint      string           `json:"fingerprint"`
	BatchID          string           `json:"batch_id"`
	BatchSeq         int              `json:"batch_seq"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	CreatedAt        time.Time        `json:"created_at"`
}
