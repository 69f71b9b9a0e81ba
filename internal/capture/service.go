package capture

import (
	"context"

	"msgvault/internal/logger"
	pkgerrors "msgvault/pkg/errors"
	"msgvault/pkg/metrics"
)

// Service is the ingest surface for capture producers. Producers deliver
// (group, sender, content, messageType, capturedAt) tuples; everything else
// is assigned here.
type Service struct {
	repo   Repository
	logger logger.Logger
}

func NewService(repo Repository, log logger.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: log,
	}
}

func (s *Service) Ingest(ctx context.Context, in IncomingMessage) (*Message, error) {
	if err := validateIncoming(in); err != nil {
		metrics.CapturedMessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	msg := &Message{
		GroupName:  in.GroupName,
		Sender:     in.Sender,
		Content:    in.Content,
		MsgType:    in.MsgType,
		CapturedAt: in.CapturedAt,
	}

	if err := s.repo.Save(ctx, msg); err != nil {
		metrics.CapturedMessagesTotal.WithLabelValues("error").Inc()
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	metrics.CapturedMessagesTotal.WithLabelValues("stored").Inc()
	s.logger.DebugwCtx(ctx, "Captured message stored",
		"id", msg.ID,
		"group", msg.GroupName,
		"sender", msg.Sender,
	)

	return msg, nil
}

func validateIncoming(in IncomingMessage) error {
	// Content may legitimately be empty; the other fields may not.
	if in.GroupName == "" {
		return pkgerrors.ErrValidation.WithDetail("message", "group_name is required")
	}
	if in.Sender == "" {
		return pkgerrors.ErrValidation.WithDetail("message", "sender is required")
	}
	if in.MsgType == "" {
		return pkgerrors.ErrValidation.WithDetail("message", "msg_type is required")
	}
	return nil
}
