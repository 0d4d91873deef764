package engine

import (
	"io"
	"sync"
)

// limitedWriter forwards at most limit bytes to w and drops the rest.
// onOverflow runs once, the first time the limit is crossed.
type limitedWriter struct {
	mu         sync.Mutex
	w          io.Writer
	limit      int64
	written    int64
	overflowed bool
	onOverflow func()
}

func newLimitedWriter(w io.Writer, limit int64, onOverflow func()) *limitedWriter {
	return &limitedWriter{w: w, limit: limit, onOverflow: onOverflow}
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(p)
	remaining := l.limit - l.written
	if remaining <= 0 {
		l.overflow()
		return n, nil
	}
	chunk := p
	if int64(len(chunk)) > remaining {
		chunk = chunk[:remaining]
	}
	written, err := l.w.Write(chunk)
	l.written += int64(written)
	if err != nil {
		return written, err
	}
	if len(chunk) < n {
		l.overflow()
	}
	// report the full length so the copying goroutine keeps draining the pipe
	return n, nil
}

func (l *limitedWriter) overflow() {
	if l.overflowed {
		return
	}
	l.overflowed = true
	if l.onOverflow != nil {
		l.onOverflow()
	}
}

func (l *limitedWriter) Overflowed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overflowed
}
