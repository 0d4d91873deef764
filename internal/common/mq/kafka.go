package mq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

var errClosed = errors.New("message queue is closed")

// KafkaConfig holds broker, producer and fetch settings.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafka.Compression

	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	DialTimeout time.Duration
}

func (c *KafkaConfig) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.MinBytes == 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxWait == 0 {
		c.MaxWait = time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireOne
	}
}

// KafkaQueue publishes evaluation and status messages and runs topic consumers.
type KafkaQueue struct {
	cfg    KafkaConfig
	dialer *kafka.Dialer
	writer *kafka.Writer

	mu      sync.Mutex
	subs    []*subscription
	started bool
	closed  bool
}

func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	cfg.applyDefaults()
	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
	return &KafkaQueue{
		cfg:    cfg,
		dialer: dialer,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: cfg.RequiredAcks,
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			Compression:  cfg.Compression,
			Transport: &kafka.Transport{
				ClientID: cfg.ClientID,
				Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
					return dialer.DialContext(ctx, network, address)
				},
			},
		},
	}, nil
}

// Publish writes message to topic keyed by message.ID, so one submission stays on one partition.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	switch {
	case message == nil:
		return errors.New("message is nil")
	case topic == "":
		return errors.New("topic is required")
	}
	stampTrace(ctx, message)
	return k.writer.WriteMessages(ctx, encode(topic, message))
}

// SubscribeWithOptions registers handler for topic. Consumption begins at Start,
// or immediately when the queue is already started. A nil opts uses defaults.
func (k *KafkaQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var o SubscribeOptions
	if opts != nil {
		o = *opts
	}
	o.SetDefaults()
	if o.ConsumerGroup == "" {
		o.ConsumerGroup = fmt.Sprintf("classjudge-%s", topic)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sub := &subscription{queue: k, topic: topic, handler: handler, opts: o, parent: ctx}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errClosed
	}
	k.subs = append(k.subs, sub)
	if k.started {
		sub.start()
	}
	return nil
}

func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errClosed
	}
	if !k.started {
		for _, sub := range k.subs {
			sub.start()
		}
		k.started = true
	}
	return nil
}

// Stop cancels every consumer, waits for in-flight handlers and closes readers.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, sub := range k.subs {
		sub.cancel()
	}
	for _, sub := range k.subs {
		sub.wait()
	}
	k.started = false
	return nil
}

// Ping dials the first broker.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	already := k.closed
	k.closed = true
	k.mu.Unlock()
	if already {
		return nil
	}
	_ = k.Stop()
	return k.writer.Close()
}
