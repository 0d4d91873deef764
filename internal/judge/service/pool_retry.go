package service

import (
	"context"
	"maps"
	"strconv"
	"time"

	"classjudge/internal/common/mq"
	appErr "classjudge/pkg/errors"
	"classjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// poolRetryHeader counts how often a delivery bounced off a full worker pool.
const poolRetryHeader = "x-pool-retry"

// PoolRetryConfig controls requeueing of messages that found the worker pool full.
type PoolRetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// DeadLetterTopic receives messages after MaxRetries; empty drops them.
	DeadLetterTopic string
}

func (c PoolRetryConfig) exhausted(attempt int) bool {
	return c.MaxRetries > 0 && attempt >= c.MaxRetries
}

// acquireSlot blocks for up to slotWait for a free evaluation slot.
func (s *Service) acquireSlot(ctx context.Context) error {
	if s.tryAcquireSlot() {
		return nil
	}
	wait := time.NewTimer(s.slotWait)
	defer wait.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-wait.C:
		return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) tryAcquireSlot() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Service) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
}

// requeueForPoolFull puts msg back on the evaluate topic after a backoff,
// or hands it to the dead letter topic once the attempts run out.
func (s *Service) requeueForPoolFull(ctx context.Context, msg *mq.Message) error {
	if s.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("retry queue is not configured")
	}
	attempt := poolAttempt(msg)
	fields := []zap.Field{zap.String("message_id", msg.ID), zap.Int("retry_count", attempt)}

	if s.poolRetry.exhausted(attempt) {
		dlq := s.poolRetry.DeadLetterTopic
		if dlq == "" {
			logger.Warn(ctx, "pool retries exhausted, dropping message", fields...)
			return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
		}
		logger.Warn(ctx, "pool retries exhausted, dead-lettering message", append(fields, zap.String("topic", dlq))...)
		return s.queue.Publish(ctx, dlq, cloneForRetry(msg, attempt))
	}

	delay := poolBackoff(attempt, s.poolRetry.BaseDelay, s.poolRetry.MaxDelay)
	if err := pause(ctx, delay); err != nil {
		return err
	}
	logger.Info(ctx, "requeued after full worker pool", append(fields, zap.Duration("delay", delay))...)
	return s.queue.Publish(ctx, s.evaluateTopic, cloneForRetry(msg, attempt+1))
}

func poolAttempt(msg *mq.Message) int {
	raw, _ := msg.GetHeader(poolRetryHeader)
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return 0
}

// cloneForRetry copies msg with a fresh timestamp and the given attempt count.
func cloneForRetry(msg *mq.Message, attempt int) *mq.Message {
	next := *msg
	next.Timestamp = time.Now()
	next.RetryCount = 0
	next.Headers = maps.Clone(msg.Headers)
	next.SetHeader(poolRetryHeader, strconv.Itoa(attempt))
	return &next
}

// poolBackoff is base << attempt, capped at max. A zero base disables it.
func poolBackoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for ; attempt > 0; attempt-- {
		if max > 0 && delay >= max {
			break
		}
		delay <<= 1
	}
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
