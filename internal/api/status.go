package api

import (
	"context"
	"time"

	"msgvault/internal/backup"
	"msgvault/internal/capture"
	"msgvault/internal/clean"
	"msgvault/internal/ledger"
	pkgerrors "msgvault/pkg/errors"
)

// PipelineStatus is the operator-facing view of the whole store: backlog,
// clean size, last batch outcome and snapshot totals.
type PipelineStatus struct {
	Capture     capture.StoreCounts `json:"capture"`
	CleanCount  int64               `json:"clean_count"`
	LastBatch   *ledger.Batch       `json:"last_batch,omitempty"`
	Snapshots   *backup.Statistics  `json:"snapshots"`
	GeneratedAt time.Time           `json:"generated_at"`
}

type StatusService struct {
	captureRepo capture.Repository
	cleanRepo   clean.Repository
	ledgerRepo  ledger.Repository
	snapshots   *backup.Manager
}

func NewStatusService(
	captureRepo capture.Repository,
	cleanRepo clean.Repository,
	ledgerRepo ledger.Repository,
	snapshots *backup.Manager,
) *StatusService {
	return &StatusService{
		captureRepo: captureRepo,
		cleanRepo:   cleanRepo,
		ledgerRepo:  ledgerRepo,
		snapshots:   snapshots,
	}
}

func (s *StatusService) Collect(ctx context.Context) (*PipelineStatus, error) {
	counts, err := s.captureRepo.Counts(ctx)
	if err != nil {
		return nil, err
	}

	cleanCount, err := s.cleanRepo.Count(ctx)
	if err != nil {
		return nil, err
	}

	var lastBatch *ledger.Batch
	recent, err := s.ledgerRepo.ListRecent(ctx, 1)
	if err != nil && !pkgerrors.IsNotFound(err) {
		return nil, err
	}
	if len(recent) > 0 {
		lastBatch = &recent[0]
	}

	stats, err := s.snapshots.Statistics(ctx)
	if err != nil {
		return nil, err
	}

	return &PipelineStatus{
		Capture:     counts,
		CleanCount:  cleanCount,
		LastBatch:   lastBatch,
		Snapshots:   stats,
		GeneratedAt: time.Now().UTC(),
	}, nil
}
