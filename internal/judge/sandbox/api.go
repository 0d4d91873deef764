// Package sandbox evaluates submitted programs against ordered test cases.
package sandbox

import (
	"context"

	"classjudge/internal/judge/sandbox/result"
	"classjudge/internal/judge/sandbox/spec"
)

// TestCase is one ordered test of a submission.
type TestCase = spec.TestCase

// Evaluator is the entrypoint used by the judge service.
type Evaluator interface {
	Evaluate(ctx context.Context, req EvaluateRequest) (result.AggregateResult, error)
}

// EvaluateRequest contains everything needed to evaluate one submission.
type EvaluateRequest struct {
	SubmissionID string     `json:"submission_id,omitempty"`
	LanguageID   string     `json:"language"`
	SourceText   string     `json:"source"`
	TestCases    []TestCase `json:"test_cases"`
	// Trial marks a run that callers must not persist.
	Trial bool `json:"trial,omitempty"`
	// DataPack names the test data pack that relative file paths point into.
	// The service resolves it before the request reaches a worker.
	DataPack       string `json:"data_pack,omitempty"`
	DataPackSHA256 string `json:"data_pack_sha256,omitempty"`
}

// StatusUpdate is a progress snapshot sent while cases are running.
type StatusUpdate struct {
	SubmissionID string
	Status       result.JudgeStatus
	Language     string
	TotalTests   int
	DoneTests    int
	Trial        bool
}

// StatusReporter receives progress snapshots. Implementations drop Trial updates.
type StatusReporter interface {
	ReportStatus(ctx context.Context, update StatusUpdate) error
}
