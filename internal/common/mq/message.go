// Package mq moves judge messages over Kafka.
package mq

import (
	"context"
	"time"

	"classjudge/pkg/utils/contextkey"
)

// HeaderTraceID carries the publisher's trace id to consumers.
const HeaderTraceID = "x-trace-id"

// Producer publishes messages.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// HandlerFunc handles one delivery. A non-nil error schedules a retry.
type HandlerFunc func(ctx context.Context, message *Message) error

// Message is a queue payload plus the delivery metadata that travels in Kafka headers.
type Message struct {
	ID         string
	Body       []byte
	Headers    map[string]string
	Timestamp  time.Time
	RetryCount int
	MaxRetries int
	// Expiration drops the message unhandled once it is older than this.
	Expiration time.Duration
}

func NewMessage(body []byte) *Message {
	return &Message{
		Body:       body,
		Headers:    map[string]string{},
		Timestamp:  time.Now(),
		MaxRetries: 3,
	}
}

func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	m.Headers[key] = value
}

func (m *Message) GetHeader(key string) (string, bool) {
	v, ok := m.Headers[key]
	return v, ok
}

// Expired reports whether the message outlived its expiration at now.
func (m *Message) Expired(now time.Time) bool {
	if m.Expiration <= 0 || m.Timestamp.IsZero() {
		return false
	}
	return now.Sub(m.Timestamp) > m.Expiration
}

// stampTrace copies the trace id in ctx onto m unless m already carries one.
func stampTrace(ctx context.Context, m *Message) {
	if _, ok := m.GetHeader(HeaderTraceID); ok {
		return
	}
	if id, ok := ctx.Value(contextkey.TraceID).(string); ok && id != "" {
		m.SetHeader(HeaderTraceID, id)
	}
}

// deliveryContext returns ctx carrying the trace and message ids of m for logging.
func deliveryContext(ctx context.Context, m *Message) context.Context {
	if id, ok := m.GetHeader(HeaderTraceID); ok && id != "" {
		ctx = context.WithValue(ctx, contextkey.TraceID, id)
	}
	if m.ID != "" {
		ctx = context.WithValue(ctx, contextkey.SubmissionID, m.ID)
	}
	return ctx
}
