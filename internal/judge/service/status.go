package service

import (
	"context"
	"time"

	"classjudge/internal/judge/model"
	"classjudge/internal/judge/sandbox"
	"classjudge/internal/judge/sandbox/result"
	"classjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

func (s *Service) persistStatus(ctx context.Context, status model.JudgeStatusResponse) error {
	ctxStatus := ctx
	if s.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctxStatus, cancel = context.WithTimeout(ctx, s.statusTimeout)
		defer cancel()
	}
	return s.statusRepo.Save(ctxStatus, status)
}

// ReportStatus updates intermediate judge status in cache.
func (s *Service) ReportStatus(ctx context.Context, update sandbox.StatusUpdate) error {
	if update.Trial {
		return nil
	}
	status := model.JudgeStatusResponse{
		SubmissionID: update.SubmissionID,
		Status:       update.Status,
		Language:     update.Language,
		Progress: model.Progress{
			TotalTests: update.TotalTests,
			DoneTests:  update.DoneTests,
		},
	}
	return s.persistStatus(ctx, status)
}

// finish stores the final status and announces it. Trial runs leave no trace.
func (s *Service) finish(ctx context.Context, req sandbox.EvaluateRequest, res result.AggregateResult, receivedAt int64) {
	if req.Trial {
		return
	}
	if res.SubmissionID == "" {
		res.SubmissionID = req.SubmissionID
	}
	ctx = context.WithoutCancel(ctx)
	final := model.FinalStatus(res, receivedAt, time.Now().Unix())
	if err := s.persistStatus(ctx, final); err != nil {
		logger.Warn(ctx, "save final status failed", zap.String("submission_id", final.SubmissionID), zap.Error(err))
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishFinalStatus(ctx, final); err != nil {
		logger.Warn(ctx, "publish final status failed", zap.String("submission_id", final.SubmissionID), zap.Error(err))
	}
}
