package mq

import (
	"testing"
	"time"
)

func TestEncodeDecodeKeepsMetadata(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &Message{
		ID:         "sub-1",
		Body:       []byte(`{"x":1}`),
		Headers:    map[string]string{"x-pool-retry": "2"},
		Timestamp:  ts,
		RetryCount: 2,
		MaxRetries: 5,
		Expiration: 30 * time.Second,
	}
	km := encode("judge.evaluate", in)
	if km.Topic != "judge.evaluate" || string(km.Key) != "sub-1" {
		t.Fatalf("unexpected kafka message: topic=%s key=%s", km.Topic, km.Key)
	}

	out := decode(km)
	if out.ID != "sub-1" || string(out.Body) != `{"x":1}` || !out.Timestamp.Equal(ts) {
		t.Fatalf("unexpected decoded message: %+v", out)
	}
	if out.RetryCount != 2 || out.MaxRetries != 5 || out.Expiration != 30*time.Second {
		t.Fatalf("retry metadata lost: %+v", out)
	}
	if v, ok := out.GetHeader("x-pool-retry"); !ok || v != "2" {
		t.Fatalf("expected custom header, got %q", v)
	}
	if _, ok := out.GetHeader(headerID); ok {
		t.Fatalf("reserved header leaked into Headers")
	}
}

func TestEncodeOmitsZeroMetadata(t *testing.T) {
	km := encode("t", &Message{Body: []byte("b")})
	for _, h := range km.Headers {
		if h.Key != headerTimestamp {
			t.Fatalf("unexpected header %s", h.Key)
		}
	}
	if km.Time.IsZero() {
		t.Fatalf("timestamp should be stamped")
	}
}

func TestDecodeFallsBackToKey(t *testing.T) {
	km := encode("t", &Message{ID: "k"})
	km.Headers = nil
	if got := decode(km).ID; got != "k" {
		t.Fatalf("expected key fallback, got %q", got)
	}
}

func TestDecodeIgnoresBadNumbers(t *testing.T) {
	km := encode("t", &Message{ID: "k", RetryCount: 1})
	for i := range km.Headers {
		if km.Headers[i].Key == headerRetryCount {
			km.Headers[i].Value = []byte("-4")
		}
	}
	if got := decode(km).RetryCount; got != 0 {
		t.Fatalf("negative retry count should decode as 0, got %d", got)
	}
}
