package dedup

import (
	"context"
	"fmt"
	"strings"

	"msgvault/internal/logger"
	"msgvault/internal/staging"
	"msgvault/pkg/metrics"
)

// CleanIndex is the clean store's fingerprint membership view, an O(1)
// unique-index lookup.
type CleanIndex interface {
	ContainsFingerprint(ctx context.Context, fingerprint string) (bool, error)
}

type Service struct {
	staging     staging.Repository
	clean       CleanIndex
	fingerprint *Fingerprinter
	logger      logger.Logger
}

func NewService(stagingRepo staging.Repository, clean CleanIndex, fp *Fingerprinter, log logger.Logger) *Service {
	return &Service{
		staging:     stagingRepo,
		clean:       clean,
		fingerprint: fp,
		logger:      log,
	}
}

// Deduplicate partitions a batch's staged rows into accepted, duplicate and
// failed, in staging order. First occurrence within the batch wins regardless
// of timestamps; rows whose fingerprint already exists in the clean store are
// duplicates; a row with no semantic content at all is failed. The result is
// a pure function of the staged input and the clean store's committed state,
// so re-running after a restore reproduces the same partition.
func (s *Service) Deduplicate(ctx context.Context, batchID string) (*Result, error) {
	staged, err := s.staging.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load staged batch %s: %w", batchID, err)
	}

	result := &Result{BatchID: batchID}
	acceptedInBatch := make(map[string]struct{}, len(staged))

	var acceptedIDs, duplicateIDs, invalidIDs []int64

	for _, msg := range staged {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if s.isMalformed(msg) {
			result.FailedCount++
			result.FailedRawIDs = append(result.FailedRawIDs, msg.RawMessageID)
			invalidIDs = append(invalidIDs, msg.ID)
			metrics.DedupMessagesTotal.WithLabelValues("failed").Inc()
			continue
		}

		if _, seen := acceptedInBatch[msg.Fingerprint]; seen {
			result.DuplicateCount++
			result.DuplicateRawIDs = append(result.DuplicateRawIDs, msg.RawMessageID)
			duplicateIDs = append(duplicateIDs, msg.ID)
			metrics.DedupMessagesTotal.WithLabelValues("duplicate").Inc()
			continue
		}

		exists, err := s.clean.ContainsFingerprint(ctx, msg.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("failed to check clean store for message %d: %w", msg.RawMessageID, err)
		}
		if exists {
			result.DuplicateCount++
			result.DuplicateRawIDs = append(result.DuplicateRawIDs, msg.RawMessageID)
			duplicateIDs = append(duplicateIDs, msg.ID)
			metrics.DedupMessagesTotal.WithLabelValues("duplicate").Inc()
			continue
		}

		acceptedInBatch[msg.Fingerprint] = struct{}{}
		result.Accepted = append(result.Accepted, msg)
		result.UniqueCount++
		acceptedIDs = append(acceptedIDs, msg.ID)
		metrics.DedupMessagesTotal.WithLabelValues("unique").Inc()
	}

	if err := s.staging.SetValidationStatus(ctx, acceptedIDs, staging.StatusAccepted); err != nil {
		return nil, err
	}
	if err := s.staging.SetValidationStatus(ctx, duplicateIDs, staging.StatusDuplicate); err != nil {
		return nil, err
	}
	if err := s.staging.SetValidationStatus(ctx, invalidIDs, staging.StatusInvalid); err != nil {
		return nil, err
	}

	s.logger.InfowCtx(ctx, "Batch deduplicated",
		"batch_id", batchID,
		"staged", len(staged),
		"unique", result.UniqueCount,
		"duplicate", result.DuplicateCount,
		"failed", result.FailedCount,
	)

	return result, nil
}

// isMalformed reports a row with no semantic content at all. An empty content
// is still a valid distinct message as long as group or sender carry meaning.
func (s *Service) isMalformed(msg staging.Message) bool {
	return strings.TrimSpace(msg.GroupName) == "" &&
		strings.TrimSpace(msg.Sender) == "" &&
		s.fingerprint.Normalize(msg.Content) == ""
}
