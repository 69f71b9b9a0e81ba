package capture_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgvault/internal/capture"
	"msgvault/internal/logger"
	"msgvault/internal/testutil"
	pkgerrors "msgvault/pkg/errors"
)

func newCaptureService(t *testing.T) *capture.Service {
	t.Helper()
	db, _ := testutil.OpenStore(t)
	return capture.NewService(capture.NewRepository(db), logger.NopLogger())
}

func TestIngestStoresMessage(t *testing.T) {
	svc := newCaptureService(t)

	msg, err := svc.Ingest(context.Background(), capture.IncomingMessage{
		GroupName:  "family",
		Sender:     "alice",
		Content:    "hello",
		MsgType:    "text",
		CapturedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Greater(t, msg.ID, int64(0))
	assert.Equal(t, capture.StatusUnprocessed, msg.ProcessedStatus)
}

func TestIngestAllowsEmptyContent(t *testing.T) {
	svc := newCaptureService(t)

	msg, err := svc.Ingest(context.Background(), capture.IncomingMessage{
		GroupName: "family",
		Sender:    "alice",
		MsgType:   "image",
	})
	require.NoError(t, err)
	assert.Empty(t, msg.Content)
	assert.False(t, msg.CapturedAt.IsZero(), "missing capture time defaults to now")
}

func TestIngestValidation(t *testing.T) {
	svc := newCaptureService(t)

	tests := []struct {
		name string
		in   capture.IncomingMessage
	}{
		{
			name: "missing group",
			in:   capture.IncomingMessage{Sender: "alice", MsgType: "text"},
		},
		{
			name: "missing sender",
			in:   capture.IncomingMessage{GroupName: "family", MsgType: "text"},
		},
		{
			name: "missing msg type",
			in:   capture.IncomingMessage{GroupName: "family", Sender: "alice"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(context.Background(), tt.in)
			assert.True(t, pkgerrors.IsValidation(err))
		})
	}
}
