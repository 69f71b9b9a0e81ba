package capture

import (
	"time"
)

// ProcessedStatus values for a captured message. The payload of a captured
// message never changes after the initial insert; only the processing state
// does.
type ProcessedStatus int

const (
	StatusUnprocessed ProcessedStatus = 0
	StatusProcessed   ProcessedStatus = 1
	StatusFailed      ProcessedStatus = 2
)

func (s ProcessedStatus) String() string {
	switch s {
	case StatusUnprocessed:
		return "unprocessed"
	case StatusProcessed:
		return "processed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Message struct {
	ID                 int64           `json:"id"`
	GroupName          string          `json:"group_name"`
	Sender             string          `json:"sender"`
	Content            string          `json:"content"`
	MsgType            string          `json:"msg_type"`
	CapturedAt         time.Time       `json:"captured_at"`
	RecordedAt         time.Time       `json:"recorded_at"`
	ProcessedStatus    ProcessedStatus `json:"processed_status"`
	ProcessingAttempts int             `json:"processing_attempts"`
	LastAttemptAt      *time.Time      `json:"last_attempt_at,omitempty"`
	ProcessingError    string          `json:"processing_error,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// IncomingMessage is the tuple delivered by the capture producer.
type IncomingMessage struct {
	GroupName  string    `json:"group_name" binding:"required"`
	Sender     string    `json:"sender" binding:"required"`
	Content    string    `json:"content"`
	MsgType    string    `json:"msg_type" binding:"required"`
	CapturedAt time.Time `json:"captured_at"`
}

type StoreCounts struct {
	Total       int64 `json:"total"`
	Unprocessed int64 `json:"unprocessed"`
	Processed   int64 `json:"processed"`
	Failed      int64 `json:"failed"`
}
