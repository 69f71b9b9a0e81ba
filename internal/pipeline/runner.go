package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"msgvault/internal/backup"
	"msgvault/internal/capture"
	"msgvault/internal/clean"
	"msgvault/internal/config"
	"msgvault/internal/dedup"
	"msgvault/internal/ledger"
	"msgvault/internal/logger"
	"msgvault/internal/staging"
	pkgerrors "msgvault/pkg/errors"
	"msgvault/pkg/logging"
	"msgvault/pkg/metrics"
	"msgvault/pkg/retry"
)

// RunReport summarizes one pipeline pass for the CLI and the API.
type RunReport struct {
	BatchID        string        `json:"batch_id,omitempty"`
	Fetched        int           `json:"fetched"`
	UniqueCount    int           `json:"unique_count"`
	DuplicateCount int           `json:"duplicate_count"`
	FailedCount    int           `json:"failed_count"`
	Committed      int           `json:"committed"`
	Restored       bool          `json:"restored"`
	Duration       time.Duration `json:"-"`
	DurationMS     int64         `json:"duration_ms"`
}

// Runner drives one capture-to-clean pass: stage, deduplicate, commit,
// record. Only one batch runs at a time.
type Runner struct {
	captureRepo capture.Repository
	stagingRepo staging.Repository
	cleanRepo   clean.Repository
	ledgerRepo  ledger.Repository
	deduper     *dedup.Service
	snapshots   *backup.Manager
	cfg         config.PipelineConfig
	preOpSnaps  bool
	logger      logger.Logger

	mu sync.Mutex
}

func NewRunner(
	captureRepo capture.Repository,
	stagingRepo staging.Repository,
	cleanRepo clean.Repository,
	ledgerRepo ledger.Repository,
	deduper *dedup.Service,
	snapshots *backup.Manager,
	cfg config.PipelineConfig,
	preOpSnaps bool,
	log logger.Logger,
) *Runner {
	return &Runner{
		captureRepo: captureRepo,
		stagingRepo: stagingRepo,
		cleanRepo:   cleanRepo,
		ledgerRepo:  ledgerRepo,
		deduper:     deduper,
		snapshots:   snapshots,
		cfg:         cfg,
		preOpSnaps:  preOpSnaps,
		logger:      log,
	}
}

// RecoverStale fails batches left in started state by a crash and clears
// their staging rows. Their capture rows stay unprocessed, so the next pass
// picks them up again.
func (r *Runner) RecoverStale(ctx context.Context) (int, error) {
	stale, err := r.ledgerRepo.FindStale(ctx, r.cfg.StaleBatchThreshold)
	if err != nil {
		return 0, err
	}

	for _, batch := range stale {
		if err := r.stagingRepo.Clear(ctx, batch.ID); err != nil {
			return 0, err
		}
		err := r.ledgerRepo.FailBatch(ctx, batch.ID, "batch abandoned, recovered at startup", ledger.Metrics{})
		if err != nil && !pkgerrors.IsBatchNotActive(err) {
			return 0, err
		}
		metrics.StaleBatchesRecovered.Inc()
		r.logger.WarnwCtx(ctx, "Recovered stale batch", "batch_id", batch.ID)
	}

	return len(stale), nil
}

// Run executes one full pipeline pass. When nothing is pending it returns
// an empty report without opening a batch. A panic mid-pass surfaces as a
// fatal internal error; the abandoned batch is picked up by stale recovery.
func (r *Runner) Run(ctx context.Context) (report *RunReport, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = pkgerrors.RecoverPanic(rec)
			r.logger.ErrorwCtx(ctx, "Panic recovered during pipeline pass", "error", err)
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.RecoverStale(ctx); err != nil {
		return nil, err
	}

	pending, err := r.captureRepo.ListUnprocessed(ctx, r.cfg.FetchLimit, r.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		r.logger.DebugwCtx(ctx, "No unprocessed messages, skipping pass")
		return &RunReport{}, nil
	}

	started := time.Now()
	batch, err := r.ledgerRepo.StartBatch(ctx, ledger.OpDedup)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithBatchID(ctx, batch.ID)

	r.logger.InfowCtx(ctx, "Pipeline batch started",
		"batch_id", batch.ID,
		"pending", len(pending),
	)

	report, err = r.process(ctx, batch.ID, pending, started)
	if err != nil {
		metrics.PipelineBatchesTotal.WithLabelValues("failed").Inc()
		return report, err
	}

	report.Duration = time.Since(started)
	report.DurationMS = report.Duration.Milliseconds()
	metrics.PipelineBatchesTotal.WithLabelValues("completed").Inc()
	metrics.ObserveBatchDuration(report.Duration)
	r.updateGauges(ctx)

	if _, err := r.snapshots.PurgeExpired(ctx); err != nil {
		r.logger.WarnwCtx(ctx, "Failed to purge expired snapshots", "error", err)
	}

	r.logger.InfowCtx(ctx, "Pipeline batch completed",
		"batch_id", batch.ID,
		"unique", report.UniqueCount,
		"duplicates", report.DuplicateCount,
		"failed", report.FailedCount,
		"duration_ms", report.DurationMS,
	)

	return report, nil
}

func (r *Runner) process(ctx context.Context, batchID string, pending []capture.Message, started time.Time) (*RunReport, error) {
	report := &RunReport{BatchID: batchID, Fetched: len(pending)}

	var preOp *backup.Snapshot
	if r.preOpSnaps {
		snap, err := r.snapshots.Create(ctx, backup.TypePreOperation, "before batch "+batchID)
		if err != nil {
			r.failBatch(ctx, batchID, fmt.Sprintf("pre-operation snapshot failed: %v", err), report)
			return report, err
		}
		preOp = snap
	}

	if _, err := r.stagingRepo.Stage(ctx, batchID, pending); err != nil {
		// Staging never touches the clean store; clearing the batch rows
		// is the whole rollback.
		if clearErr := r.stagingRepo.Clear(ctx, batchID); clearErr != nil {
			r.logger.ErrorwCtx(ctx, "Failed to clear staging after stage error",
				"batch_id", batchID, "error", clearErr)
		}
		r.failBatch(ctx, batchID, err.Error(), report)
		return report, err
	}

	result, err := r.deduper.Deduplicate(ctx, batchID)
	if err != nil {
		if clearErr := r.stagingRepo.Clear(ctx, batchID); clearErr != nil {
			r.logger.ErrorwCtx(ctx, "Failed to clear staging after dedup error",
				"batch_id", batchID, "error", clearErr)
		}
		r.failBatch(ctx, batchID, err.Error(), report)
		return report, err
	}
	report.UniqueCount = result.UniqueCount
	report.DuplicateCount = result.DuplicateCount
	report.FailedCount = result.FailedCount

	commit, err := r.commitWithRetry(ctx, batchID, result)
	if err != nil {
		restoreErr := r.rollbackFromSnapshot(ctx, batchID, preOp)
		if restoreErr != nil {
			r.failBatch(ctx, batchID, err.Error(), report)
			return report, restoreErr
		}
		report.Restored = preOp != nil
		r.failBatch(ctx, batchID, err.Error(), report)
		return report, err
	}
	report.Committed = commit.Committed

	if len(result.FailedRawIDs) > 0 {
		if err := r.captureRepo.RecordFailure(ctx, result.FailedRawIDs, "malformed record", r.cfg.MaxRetries); err != nil {
			r.logger.ErrorwCtx(ctx, "Failed to record malformed messages",
				"batch_id", batchID, "error", err)
		}
	}

	if err := r.stagingRepo.Clear(ctx, batchID); err != nil {
		r.logger.ErrorwCtx(ctx, "Failed to clear staging after commit",
			"batch_id", batchID, "error", err)
	}

	err = r.ledgerRepo.CompleteBatch(ctx, batchID, ledger.Metrics{
		RecordsProcessed: len(pending),
		RecordsAffected:  commit.Committed,
		DuplicateCount:   result.DuplicateCount,
		FailedCount:      result.FailedCount,
		DurationMS:       time.Since(started).Milliseconds(),
	})
	if err != nil {
		return report, err
	}

	return report, nil
}

func (r *Runner) commitWithRetry(ctx context.Context, batchID string, result *dedup.Result) (*clean.CommitResult, error) {
	policy := retry.Policy{
		MaxAttempts:     r.cfg.CommitRetry.MaxAttempts,
		InitialInterval: r.cfg.CommitRetry.InitialInterval,
		MaxInterval:     r.cfg.CommitRetry.MaxInterval,
		Multiplier:      r.cfg.CommitRetry.Multiplier,
		MaxElapsedTime:  r.cfg.CommitRetry.MaxElapsedTime,
	}

	// CommitBatch records its own duration per attempt.
	var commit *clean.CommitResult
	err := retry.Retry(ctx, policy, func() error {
		res, err := r.cleanRepo.CommitBatch(ctx, batchID, result.Accepted, result.DuplicateRawIDs)
		if err != nil {
			return err
		}
		commit = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commit, nil
}

// rollbackFromSnapshot restores the pre-operation snapshot after a failed
// commit. A corrupt snapshot is fatal: the store state is unknown and the
// pipeline must halt rather than keep writing.
func (r *Runner) rollbackFromSnapshot(ctx context.Context, batchID string, preOp *backup.Snapshot) error {
	if preOp == nil {
		// Without a pre-operation snapshot the commit transaction rollback
		// already left the clean store untouched; only staging needs clearing.
		if err := r.stagingRepo.Clear(ctx, batchID); err != nil {
			r.logger.ErrorwCtx(ctx, "Failed to clear staging after commit failure",
				"batch_id", batchID, "error", err)
		}
		return nil
	}

	if err := r.snapshots.Restore(ctx, preOp); err != nil {
		if pkgerrors.IsCorruptSnapshot(err) {
			r.logger.ErrorwCtx(ctx, "Pre-operation snapshot is corrupt, halting pipeline",
				"batch_id", batchID, "snapshot_id", preOp.ID)
			return err
		}
		r.logger.ErrorwCtx(ctx, "Snapshot restore failed",
			"batch_id", batchID, "snapshot_id", preOp.ID, "error", err)
		return err
	}

	return nil
}

func (r *Runner) failBatch(ctx context.Context, batchID string, errMsg string, report *RunReport) {
	err := r.ledgerRepo.FailBatch(ctx, batchID, errMsg, ledger.Metrics{
		RecordsProcessed: report.Fetched,
		DuplicateCount:   report.DuplicateCount,
		FailedCount:      report.FailedCount,
	})
	if err != nil && !pkgerrors.IsBatchNotActive(err) {
		r.logger.ErrorwCtx(ctx, "Failed to mark batch failed",
			"batch_id", batchID, "error", err)
	}
}

func (r *Runner) updateGauges(ctx context.Context) {
	if counts, err := r.captureRepo.Counts(ctx); err == nil {
		metrics.CaptureBacklog.Set(float64(counts.Unprocessed))
	}
	if total, err := r.cleanRepo.Count(ctx); err == nil {
		metrics.CleanStoreSize.Set(float64(total))
	}
}

// RunLoop runs passes on a fixed interval until the context is cancelled.
// A corrupt snapshot error stops the loop; everything else is logged and
// retried on the next tick.
func (r *Runner) RunLoop(ctx context.Context) error {
	interval := time.Duration(r.cfg.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Infow("Pipeline loop started", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			r.logger.Infow("Pipeline loop stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				if pkgerrors.IsCorruptSnapshot(err) {
					return err
				}
				r.logger.Errorw("Pipeline pass failed", "error", err)
			}
		}
	}
}
