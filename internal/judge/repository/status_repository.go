package repository

import (
	"context"
	"encoding/json"
	"time"

	"classjudge/internal/common/cache"
	"classjudge/internal/judge/model"
	appErr "classjudge/pkg/errors"
)

const (
	statusKeyPrefix = "judge:status:"
	claimKeyPrefix  = "judge:claim:"
)

func statusKey(id string) string { return statusKeyPrefix + id }
func claimKey(id string) string  { return claimKeyPrefix + id }

// StatusRepository keeps submission status documents and delivery claims in Redis.
type StatusRepository struct {
	cache cache.Cache
	TTL   time.Duration
}

func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration) *StatusRepository {
	return &StatusRepository{cache: cacheClient, TTL: ttl}
}

// ready rejects calls on a repository without a cache and, when checkID is set, an empty id.
func (r *StatusRepository) ready(submissionID string, checkID bool) error {
	if checkID && submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("status store is not configured")
	}
	return nil
}

// Get loads the latest status. A missing or expired document is SubmissionNotFound.
func (r *StatusRepository) Get(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error) {
	var status model.JudgeStatusResponse
	if err := r.ready(submissionID, true); err != nil {
		return status, err
	}
	raw, err := r.cache.Get(ctx, statusKey(submissionID))
	switch {
	case err != nil:
		return status, appErr.Wrapf(err, appErr.CacheError, "read status %s failed", submissionID)
	case raw == "":
		return status, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", submissionID)
	}
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return model.JudgeStatusResponse{}, appErr.Wrapf(err, appErr.CacheError, "status %s is corrupt", submissionID)
	}
	return status, nil
}

// Save overwrites the status document and refreshes its jittered TTL.
func (r *StatusRepository) Save(ctx context.Context, status model.JudgeStatusResponse) error {
	if err := r.ready(status.SubmissionID, true); err != nil {
		return err
	}
	doc, err := json.Marshal(status)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode status %s failed", status.SubmissionID)
	}
	if err := r.cache.Set(ctx, statusKey(status.SubmissionID), string(doc), cache.JitterTTL(r.TTL)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write status %s failed", status.SubmissionID)
	}
	return nil
}

// Claim marks a submission as taken by this consumer.
// It returns false when another delivery already claimed it.
func (r *StatusRepository) Claim(ctx context.Context, submissionID string, ttl time.Duration) (bool, error) {
	if err := r.ready(submissionID, true); err != nil {
		return false, err
	}
	won, err := r.cache.SetNX(ctx, claimKey(submissionID), time.Now().Unix(), ttl)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "claim %s failed", submissionID)
	}
	return won, nil
}

// Unclaim drops the claim so a redelivery can evaluate the submission again.
func (r *StatusRepository) Unclaim(ctx context.Context, submissionID string) error {
	if err := r.ready(submissionID, false); err != nil {
		return err
	}
	if err := r.cache.Del(ctx, claimKey(submissionID)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "release claim %s failed", submissionID)
	}
	return nil
}

func (r *StatusRepository) Ping(ctx context.Context) error {
	if err := r.ready("", false); err != nil {
		return err
	}
	return r.cache.Ping(ctx)
}
