package service

import (
	"context"
	"encoding/json"
	"time"

	"classjudge/internal/common/mq"
	"classjudge/internal/judge/model"
	"classjudge/internal/judge/sandbox/result"
	appErr "classjudge/pkg/errors"
	"classjudge/pkg/utils/contextkey"
	"classjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// HandleMessage processes one queued evaluation.
// Returning an error asks the queue to redeliver the message.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var payload model.EvaluationMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		// Redelivery cannot fix a malformed body.
		logger.Error(ctx, "decode evaluation message failed", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if payload.SubmissionID == "" {
		logger.Error(ctx, "evaluation message without submission id", zap.String("message_id", msg.ID))
		return nil
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, payload.SubmissionID)
	req := payload.Request()

	if err := s.validate(req); err != nil {
		s.finishInvalid(ctx, payload, err)
		return nil
	}

	claimed, err := s.statusRepo.Claim(ctx, payload.SubmissionID, s.claimTTL)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Info(ctx, "skip duplicate delivery", zap.String("message_id", msg.ID))
		return nil
	}

	if !s.tryAcquireSlot() {
		s.unclaim(ctx, payload.SubmissionID)
		return s.requeueForPoolFull(ctx, msg)
	}
	defer s.releaseSlot()

	receivedAt := payload.EnqueuedAt
	if receivedAt == 0 {
		receivedAt = time.Now().Unix()
	}
	res, err := s.run(ctx, req, receivedAt)
	if err != nil {
		s.finishInvalid(ctx, payload, err)
		return nil
	}
	if ctx.Err() != nil && res.Outcome == result.OutcomeSystemError {
		// Interrupted by shutdown; the next delivery redoes it.
		s.unclaim(context.WithoutCancel(ctx), payload.SubmissionID)
		return ctx.Err()
	}
	return nil
}

// finishInvalid records a terminal status for a message that can never succeed.
func (s *Service) finishInvalid(ctx context.Context, payload model.EvaluationMessage, cause error) {
	logger.Warn(ctx, "reject evaluation message", zap.Error(cause))
	res := result.Failure(result.OutcomeSystemError, appErr.GetError(cause).Message)
	res.SubmissionID = payload.SubmissionID
	res.Language = payload.LanguageID
	s.finish(ctx, payload.Request(), res, payload.EnqueuedAt)
}

func (s *Service) unclaim(ctx context.Context, submissionID string) {
	if err := s.statusRepo.Unclaim(ctx, submissionID); err != nil {
		logger.Warn(ctx, "release submission claim failed", zap.Error(err))
	}
}

func encodeMessage(payload model.EvaluationMessage) (*mq.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "encode evaluation message failed")
	}
	msg := mq.NewMessage(body)
	msg.ID = payload.SubmissionID
	return msg, nil
}
