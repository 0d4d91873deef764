package mq

import (
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reserved headers hold Message metadata and never appear in Message.Headers.
const (
	headerID         = "x-message-id"
	headerTimestamp  = "x-message-ts"
	headerRetryCount = "x-message-retry"
	headerMaxRetries = "x-message-max-retries"
	headerExpiration = "x-message-expiration-ms"
)

func encode(topic string, m *Message) kafka.Message {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	reserved := [...][2]string{
		{headerID, m.ID},
		{headerTimestamp, m.Timestamp.Format(time.RFC3339Nano)},
		{headerRetryCount, positive(int64(m.RetryCount))},
		{headerMaxRetries, positive(int64(m.MaxRetries))},
		{headerExpiration, positive(m.Expiration.Milliseconds())},
	}
	headers := make([]kafka.Header, 0, len(m.Headers)+len(reserved))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	for _, h := range reserved {
		if h[1] != "" {
			headers = append(headers, kafka.Header{Key: h[0], Value: []byte(h[1])})
		}
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(m.ID),
		Value:   m.Body,
		Headers: headers,
		Time:    m.Timestamp,
	}
}

func positive(v int64) string {
	if v <= 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func decode(km kafka.Message) *Message {
	m := &Message{
		ID:        string(km.Key),
		Body:      km.Value,
		Headers:   map[string]string{},
		Timestamp: km.Time,
	}
	for _, h := range km.Headers {
		v := string(h.Value)
		switch h.Key {
		case headerID:
			m.ID = v
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				m.Timestamp = ts
			}
		case headerRetryCount:
			m.RetryCount = int(parsePositive(v))
		case headerMaxRetries:
			m.MaxRetries = int(parsePositive(v))
		case headerExpiration:
			m.Expiration = time.Duration(parsePositive(v)) * time.Millisecond
		default:
			m.Headers[h.Key] = v
		}
	}
	return m
}

func parsePositive(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
