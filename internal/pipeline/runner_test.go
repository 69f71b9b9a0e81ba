package pipeline_test

import (
	"context"
	"database/sql"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgvault/internal/backup"
	"msgvault/internal/capture"
	"msgvault/internal/clean"
	"msgvault/internal/config"
	"msgvault/internal/dedup"
	"msgvault/internal/ledger"
	"msgvault/internal/logger"
	"msgvault/internal/pipeline"
	"msgvault/internal/staging"
	"msgvault/internal/testutil"
	pkgerrors "msgvault/pkg/errors"
	"msgvault/pkg/metrics"
)

type runnerFixture struct {
	db          *sql.DB
	captureRepo capture.Repository
	stagingRepo staging.Repository
	cleanRepo   clean.Repository
	ledgerRepo  ledger.Repository
	snapshots   *backup.Manager
	runner      *pipeline.Runner
}

type runnerOptions struct {
	preOpSnapshots bool
	staleThreshold time.Duration
	cleanIndex     dedup.CleanIndex
}

func newRunnerFixture(t *testing.T, opts runnerOptions) *runnerFixture {
	t.Helper()
	db, dbPath := testutil.OpenStore(t)

	fp := dedup.NewFingerprinter(config.DedupConfig{
		HashAlgorithm: "sha256",
		Normalization: config.NormalizationConfig{TrimSpace: true, CollapseWhitespace: true, CaseFold: true},
	})

	captureRepo := capture.NewRepository(db)
	stagingRepo := staging.NewRepository(db, fp)
	cleanRepo := clean.NewRepository(db, captureRepo)
	ledgerRepo := ledger.NewRepository(db)

	cleanIndex := opts.cleanIndex
	if cleanIndex == nil {
		cleanIndex = cleanRepo
	}
	deduper := dedup.NewService(stagingRepo, cleanIndex, fp, logger.NopLogger())

	backupCfg := config.BackupConfig{
		Dir:               filepath.Join(t.TempDir(), "snapshots"),
		RetentionDays:     30,
		MaxAutoSnapshots:  10,
		VerifyAfterCreate: true,
	}
	snapshots, err := backup.NewManager(db, dbPath, backupCfg, backup.NewRepository(db), logger.NopLogger())
	require.NoError(t, err)

	staleThreshold := opts.staleThreshold
	if staleThreshold == 0 {
		staleThreshold = time.Hour
	}

	pipelineCfg := config.PipelineConfig{
		IntervalSeconds:     300,
		FetchLimit:          100,
		MaxRetries:          3,
		StaleBatchThreshold: staleThreshold,
		CommitRetry: config.RetryConfig{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2.0,
			MaxElapsedTime:  time.Second,
		},
	}

	return &runnerFixture{
		db:          db,
		captureRepo: captureRepo,
		stagingRepo: stagingRepo,
		cleanRepo:   cleanRepo,
		ledgerRepo:  ledgerRepo,
		snapshots:   snapshots,
		runner: pipeline.NewRunner(
			captureRepo, stagingRepo, cleanRepo, ledgerRepo,
			deduper, snapshots, pipelineCfg, opts.preOpSnapshots, logger.NopLogger(),
		),
	}
}

func (f *runnerFixture) capture(t *testing.T, group, sender, content string) capture.Message {
	t.Helper()
	msg := &capture.Message{
		GroupName:  group,
		Sender:     sender,
		Content:    content,
		MsgType:    "text",
		CapturedAt: time.Now().UTC(),
	}
	require.NoError(t, f.captureRepo.Save(context.Background(), msg))
	return *msg
}

func TestRunHappyPath(t *testing.T) {
	f := newRunnerFixture(t, runnerOptions{})
	ctx := context.Background()

	f.capture(t, "G", "A", "hello")
	f.capture(t, "G", "A", "Hello ") // duplicate of the first
	f.capture(t, "G", "B", "hello")

	report, err := f.runner.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 2, report.UniqueCount)
	assert.Equal(t, 1, report.DuplicateCount)
	assert.Equal(t, 0, report.FailedCount)
	assert.Equal(t, 2, report.Committed)

	count, err := f.cleanRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Staging is purged on completion.
	stagingCount, err := f.stagingRepo.CountByBatch(ctx, report.BatchID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stagingCount)

	batch, err := f.ledgerRepo.GetBatch(ctx, report.BatchID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, batch.Status)
	assert.Equal(t, 3, batch.RecordsProcessed)
	assert.Equal(t, 2, batch.RecordsAffected)
	assert.Equal(t, 1, batch.DuplicateCount)

	counts, err := f.captureRepo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Unprocessed)
	assert.Equal(t, int64(3), counts.Processed)
}

func TestRunNothingPendingOpensNoBatch(t *testing.T) {
	f := newRunnerFixture(t, runnerOptions{})
	ctx := context.Background()

	report, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.BatchID)
	assert.Equal(t, 0, report.Fetched)

	batches, err := f.ledgerRepo.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestRunIsIdempotent(t *testing.T) {
	f := newRunnerFixture(t, runnerOptions{})
	ctx := context.Background()

	f.capture(t, "G", "A", "hello")

	first, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Committed)

	// Everything was resolved; the second pass is a no-op.
	second, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Fetched)

	count, err := f.cleanRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRunResolvesCrossBatchDuplicates(t *testing.T) {
	f := newRunnerFixture(t, runnerOptions{})
	ctx := context.Background()

	f.capture(t, "G", "A", "hello")
	first, err := f.runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Committed)

	// The same content arrives again later; it resolves as a duplicate
	// against the clean store and its capture row still gets closed out.
	dup := f.capture(t, "G", "A", "HELLO")
	second, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.DuplicateCount)
	assert.Equal(t, 0, second.Committed)

	raw, err := f.captureRepo.GetByID(ctx, dup.ID)
	require.NoError(t, err)
	assert.Equal(t, capture.StatusProcessed, raw.ProcessedStatus)
}

func TestRunRecordsMalformedFailures(t *testing.T) {
	f := newRunnerFixture(t, runnerOptions{})
	ctx := context.Background()

	blank := f.capture(t, "", "", " ")
	f.capture(t, "G", "A", "hello")

	report, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FailedCount)
	assert.Equal(t, 1, report.Committed)

	raw, err := f.captureRepo.GetByID(ctx, blank.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, raw.ProcessingAttempts)
	assert.Equal(t, capture.StatusUnprocessed, raw.ProcessedStatus)
}

func TestRecoverStaleBatch(t *testing.T) {
	f := newRunnerFixture(t, runnerOptions{staleThreshold: -time.Second})
	ctx := context.Background()

	// Simulate a crash: a batch was started and staged, then the process
	// died before commit.
	msg := f.capture(t, "G", "A", "hello")
	crashed, err := f.ledgerRepo.StartBatch(ctx, ledger.OpDedup)
	require.NoError(t, err)
	_, err = f.stagingRepo.Stage(ctx, crashed.ID, []capture.Message{msg})
	require.NoError(t, err)

	report, err := f.runner.Run(ctx)
	require.NoError(t, err)

	// The abandoned batch was failed and its staging purged.
	old, err := f.ledgerRepo.GetBatch(ctx, crashed.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, old.Status)

	stagingCount, err := f.stagingRepo.CountByBatch(ctx, crashed.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stagingCount)

	// The capture row was re-processed under the new batch.
	assert.Equal(t, 1, report.Committed)
	newBatch, err := f.ledgerRepo.GetBatch(ctx, report.BatchID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, newBatch.Status)
}

// blindCleanIndex never reports membership, forcing dedup to accept rows
// whose fingerprints are already committed. The uniqueness index then
// rejects them at commit time.
type blindCleanIndex struct{}

func (blindCleanIndex) ContainsFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	return false, nil
}

func TestRunCommitConflictRestoresAndFails(t *testing.T) {
	f := newRunnerFixture(t, runnerOptions{
		preOpSnapshots: true,
		cleanIndex:     blindCleanIndex{},
	})
	ctx := context.Background()

	f.capture(t, "G", "A", "hello")
	first, err := f.runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Committed)

	// The same fingerprint arrives again. The blind index lets it through
	// to commit, where the unique index rejects it.
	f.capture(t, "G", "A", "hello")

	report, err := f.runner.Run(ctx)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
	assert.True(t, report.Restored)

	// The batch is failed, the clean store matches the pre-operation
	// snapshot, and the capture row is untouched for a later retry.
	batch, err := f.ledgerRepo.GetBatch(ctx, report.BatchID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, batch.Status)

	count, err := f.cleanRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// panickyCleanIndex stands in for a repository whose backing store has gone
// away mid-pass.
type panickyCleanIndex struct{}

func (panickyCleanIndex) ContainsFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	panic("clean index unavailable")
}

func TestRunRecoversFromPanic(t *testing.T) {
	f := newRunnerFixture(t, runnerOptions{cleanIndex: panickyCleanIndex{}})
	ctx := context.Background()

	f.capture(t, "G", "A", "hello")

	_, err := f.runner.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, pkgerrors.ToHTTPStatus(err))

	// The pass died mid-batch, so the batch is left started for stale
	// recovery, exactly like a process crash.
	batches, err := f.ledgerRepo.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, ledger.StatusStarted, batches[0].Status)
}

// commitObservations counts observations recorded on the commit duration
// histogram across all status labels.
func commitObservations(t *testing.T) uint64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(metrics.CommitDuration))
	families, err := reg.Gather()
	require.NoError(t, err)

	var total uint64
	for _, family := range families {
		for _, m := range family.GetMetric() {
			total += m.GetHistogram().GetSampleCount()
		}
	}
	return total
}

func TestRunObservesCommitDurationOncePerAttempt(t *testing.T) {
	f := newRunnerFixture(t, runnerOptions{})
	ctx := context.Background()

	f.capture(t, "G", "A", "hello")

	before := commitObservations(t)
	_, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, commitObservations(t))
}

func TestRunSerializesBatches(t *testing.T) {
	f := newRunnerFixture(t, runnerOptions{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.capture(t, "G", "A", time.Now().Add(time.Duration(i)).String())
	}

	done := make(chan error, 2)
	go func() {
		_, err := f.runner.Run(ctx)
		done <- err
	}()
	go func() {
		_, err := f.runner.Run(ctx)
		done <- err
	}()

	require.NoError(t, <-done)
	require.NoError(t, <-done)

	// One run resolves everything, the other is a no-op; either way no
	// message lands twice.
	count, err := f.cleanRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}
