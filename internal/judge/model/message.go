package model

import "classjudge/internal/judge/sandbox"

// EvaluationMessage is the Kafka payload for queued evaluations.
type EvaluationMessage struct {
	SubmissionID string             `json:"submission_id"`
	LanguageID   string             `json:"language"`
	SourceText   string             `json:"source"`
	TestCases    []sandbox.TestCase `json:"test_cases"`
	Trial        bool               `json:"trial,omitempty"`
	DataPack     string             `json:"data_pack,omitempty"`
	PackSHA256   string             `json:"data_pack_sha256,omitempty"`
	EnqueuedAt   int64              `json:"enqueued_at"`
}

// Request converts the message into a worker request.
func (m EvaluationMessage) Request() sandbox.EvaluateRequest {
	return sandbox.EvaluateRequest{
		SubmissionID:   m.SubmissionID,
		LanguageID:     m.LanguageID,
		SourceText:     m.SourceText,
		TestCases:      m.TestCases,
		Trial:          m.Trial,
		DataPack:       m.DataPack,
		DataPackSHA256: m.PackSHA256,
	}
}
