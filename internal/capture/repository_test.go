package capture_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgvault/internal/capture"
	"msgvault/internal/testutil"
	pkgerrors "msgvault/pkg/errors"
)

func saveMessage(t *testing.T, repo capture.Repository, group, sender, content string) *capture.Message {
	t.Helper()
	msg := &capture.Message{
		GroupName:  group,
		Sender:     sender,
		Content:    content,
		MsgType:    "text",
		CapturedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Save(context.Background(), msg))
	return msg
}

func TestSaveAssignsIDAndDefaults(t *testing.T) {
	db, _ := testutil.OpenStore(t)
	repo := capture.NewRepository(db)

	msg := saveMessage(t, repo, "family", "alice", "hello")
	assert.Greater(t, msg.ID, int64(0))
	assert.Equal(t, capture.StatusUnprocessed, msg.ProcessedStatus)

	got, err := repo.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "family", got.GroupName)
	assert.Equal(t, "alice", got.Sender)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, 0, got.ProcessingAttempts)
}

func TestGetByIDNotFound(t *testing.T) {
	db, _ := testutil.OpenStore(t)
	repo := capture.NewRepository(db)

	_, err := repo.GetByID(context.Background(), 9999)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestListUnprocessedOrderAndLimit(t *testing.T) {
	db, _ := testutil.OpenStore(t)
	repo := capture.NewRepository(db)
	ctx := context.Background()

	first := saveMessage(t, repo, "g", "a", "one")
	second := saveMessage(t, repo, "g", "a", "two")
	third := saveMessage(t, repo, "g", "a", "three")

	msgs, err := repo.ListUnprocessed(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, second.ID, msgs[1].ID)
	assert.Equal(t, third.ID, msgs[2].ID)

	limited, err := repo.ListUnprocessed(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, first.ID, limited[0].ID)
}

func TestMarkProcessedIn(t *testing.T) {
	db, _ := testutil.OpenStore(t)
	repo := capture.NewRepository(db)
	ctx := context.Background()

	msg := saveMessage(t, repo, "g", "a", "one")
	rest := saveMessage(t, repo, "g", "a", "two")

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, repo.MarkProcessedIn(ctx, tx, []int64{msg.ID}))
	require.NoError(t, tx.Commit())

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, capture.StatusProcessed, got.ProcessedStatus)

	// The other row is untouched and still pending.
	pending, err := repo.ListUnprocessed(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rest.ID, pending[0].ID)
}

func TestMarkProcessedRollbackLeavesUnprocessed(t *testing.T) {
	db, _ := testutil.OpenStore(t)
	repo := capture.NewRepository(db)
	ctx := context.Background()

	msg := saveMessage(t, repo, "g", "a", "one")

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, repo.MarkProcessedIn(ctx, tx, []int64{msg.ID}))
	require.NoError(t, tx.Rollback())

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, capture.StatusUnprocessed, got.ProcessedStatus)
}

func TestRecordFailureRetriesThenFails(t *testing.T) {
	db, _ := testutil.OpenStore(t)
	repo := capture.NewRepository(db)
	ctx := context.Background()

	msg := saveMessage(t, repo, "g", "a", "flaky")
	const maxRetries = 3

	// Attempts below the ceiling keep the row eligible for the next pass.
	for attempt := 1; attempt < maxRetries; attempt++ {
		require.NoError(t, repo.RecordFailure(ctx, []int64{msg.ID}, "transient", maxRetries))

		got, err := repo.GetByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, capture.StatusUnprocessed, got.ProcessedStatus)
		assert.Equal(t, attempt, got.ProcessingAttempts)
		assert.Equal(t, "transient", got.ProcessingError)
	}

	// The final attempt flips the row to failed.
	require.NoError(t, repo.RecordFailure(ctx, []int64{msg.ID}, "still broken", maxRetries))

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, capture.StatusFailed, got.ProcessedStatus)
	assert.Equal(t, maxRetries, got.ProcessingAttempts)

	pending, err := repo.ListUnprocessed(ctx, 10, maxRetries)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCounts(t *testing.T) {
	db, _ := testutil.OpenStore(t)
	repo := capture.NewRepository(db)
	ctx := context.Background()

	processedMsg := saveMessage(t, repo, "g", "a", "one")
	saveMessage(t, repo, "g", "a", "two")
	failedMsg := saveMessage(t, repo, "g", "a", "three")

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, repo.MarkProcessedIn(ctx, tx, []int64{processedMsg.ID}))
	require.NoError(t, tx.Commit())

	require.NoError(t, repo.RecordFailure(ctx, []int64{failedMsg.ID}, "bad", 1))

	counts, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Total)
	assert.Equal(t, int64(1), counts.Unprocessed)
	assert.Equal(t, int64(1), counts.Processed)
	assert.Equal(t, int64(1), counts.Failed)
}
