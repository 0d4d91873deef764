package mq

import (
	"context"
	"sync"
	"time"

	"classjudge/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	fetchBackoffMin = 100 * time.Millisecond
	fetchBackoffMax = 5 * time.Second
)

// SubscribeOptions tunes one topic consumer.
type SubscribeOptions struct {
	ConsumerGroup string
	// PrefetchCount is the per-worker buffer of fetched messages. Default 1.
	PrefetchCount int
	// Concurrency is the number of handler goroutines. Default 1.
	Concurrency int
	// MaxRetries before the message goes to DeadLetterTopic. Default 3.
	MaxRetries int
	RetryDelay time.Duration
	// DeadLetterTopic receives messages that exhausted retries; empty drops them.
	DeadLetterTopic string
	// MessageTTL applies to messages published without an expiration.
	MessageTTL time.Duration
}

func (o *SubscribeOptions) SetDefaults() {
	if o.PrefetchCount <= 0 {
		o.PrefetchCount = 1
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
}

type subscription struct {
	queue   *KafkaQueue
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	parent  context.Context

	reader *kafka.Reader
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// start launches one fetch loop feeding Concurrency handler goroutines.
func (s *subscription) start() {
	cfg := s.queue.cfg
	s.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       s.topic,
		GroupID:     s.opts.ConsumerGroup,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
		Dialer:      s.queue.dialer,
	})
	s.ctx, s.stop = context.WithCancel(s.parent)

	deliveries := make(chan kafka.Message, s.opts.Concurrency*s.opts.PrefetchCount)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(deliveries)
		s.fetch(deliveries)
	}()
	for i := 0; i < s.opts.Concurrency; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for km := range deliveries {
				s.deliver(km)
			}
		}()
	}
}

func (s *subscription) fetch(out chan<- kafka.Message) {
	backoff := fetchBackoffMin
	for {
		km, err := s.reader.FetchMessage(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			logger.Warn(s.ctx, "kafka fetch failed", zap.String("topic", s.topic), zap.Duration("backoff", backoff), zap.Error(err))
			if !s.sleep(backoff) {
				return
			}
			backoff = min(backoff*2, fetchBackoffMax)
			continue
		}
		backoff = fetchBackoffMin
		select {
		case out <- km:
		case <-s.ctx.Done():
			return
		}
	}
}

// deliver runs the handler until it succeeds, retries run out or the consumer stops.
// A message interrupted by shutdown stays uncommitted and is redelivered to the group.
func (s *subscription) deliver(km kafka.Message) {
	m := decode(km)
	if m.MaxRetries == 0 {
		m.MaxRetries = s.opts.MaxRetries
	}
	if m.Expiration == 0 {
		m.Expiration = s.opts.MessageTTL
	}
	ctx := deliveryContext(s.ctx, m)
	if m.Expired(time.Now()) {
		logger.Warn(ctx, "drop expired message", zap.String("topic", s.topic), zap.String("id", m.ID))
		s.commit(ctx, km)
		return
	}

	for {
		err := s.handler(ctx, m)
		if err == nil {
			s.commit(ctx, km)
			return
		}
		if s.ctx.Err() != nil {
			return
		}
		m.RetryCount++
		if m.RetryCount > m.MaxRetries {
			s.deadLetter(ctx, m, err)
			s.commit(ctx, km)
			return
		}
		logger.Warn(ctx, "message handler failed, retrying",
			zap.String("topic", s.topic),
			zap.Int("retry", m.RetryCount),
			zap.Error(err),
		)
		if !s.sleep(s.opts.RetryDelay) {
			return
		}
	}
}

func (s *subscription) deadLetter(ctx context.Context, m *Message, cause error) {
	logger.Error(ctx, "message exhausted retries", zap.String("topic", s.topic), zap.String("id", m.ID), zap.Error(cause))
	if s.opts.DeadLetterTopic == "" {
		return
	}
	if err := s.queue.Publish(ctx, s.opts.DeadLetterTopic, m); err != nil {
		logger.Error(ctx, "publish dead letter failed", zap.String("id", m.ID), zap.Error(err))
	}
}

func (s *subscription) commit(ctx context.Context, km kafka.Message) {
	if err := s.reader.CommitMessages(s.ctx, km); err != nil && s.ctx.Err() == nil {
		logger.Warn(ctx, "commit message failed", zap.String("topic", s.topic), zap.Error(err))
	}
}

func (s *subscription) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *subscription) cancel() {
	if s.stop != nil {
		s.stop()
	}
}

func (s *subscription) wait() {
	s.wg.Wait()
	if s.reader != nil {
		_ = s.reader.Close()
		s.reader = nil
	}
}
