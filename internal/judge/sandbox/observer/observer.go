// Package observer defines metrics hooks for sandbox execution.
package observer

import "context"

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64)
	ObserveRun(ctx context.Context, languageID string, reason string, timeMs int64)
	ObserveEvaluation(ctx context.Context, languageID string, outcome string, score int)
}

// NoopMetricsRecorder is a default recorder that does nothing.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64) {
}

func (NoopMetricsRecorder) ObserveRun(ctx context.Context, languageID string, reason string, timeMs int64) {
}

func (NoopMetricsRecorder) ObserveEvaluation(ctx context.Context, languageID string, outcome string, score int) {
}
