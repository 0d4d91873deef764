package model

import "classjudge/internal/judge/sandbox/result"

// Progress tracks how many test cases have finished.
type Progress struct {
	TotalTests int `json:"total_tests"`
	DoneTests  int `json:"done_tests"`
}

// Timestamps records submission lifecycle times in unix seconds.
type Timestamps struct {
	ReceivedAt int64 `json:"received_at,omitempty"`
	FinishedAt int64 `json:"finished_at,omitempty"`
}

// JudgeStatusResponse is the stored and returned status of a submission.
type JudgeStatusResponse struct {
	SubmissionID string             `json:"submission_id"`
	Status       result.JudgeStatus `json:"status"`
	Language     string             `json:"language,omitempty"`
	Outcome      result.Outcome     `json:"outcome,omitempty"`
	Progress     Progress           `json:"progress"`
	Timestamps   Timestamps         `json:"timestamps"`
	// Report is set once Status is final.
	Report *result.Report `json:"report,omitempty"`
}

// FinalStatus builds the terminal status for an evaluated submission.
func FinalStatus(res result.AggregateResult, receivedAt, finishedAt int64) JudgeStatusResponse {
	status := result.StatusFinished
	if res.Outcome == result.OutcomeSystemError {
		status = result.StatusFailed
	}
	report := res.Report()
	return JudgeStatusResponse{
		SubmissionID: res.SubmissionID,
		Status:       status,
		Language:     res.Language,
		Outcome:      res.Outcome,
		Progress:     Progress{TotalTests: res.TotalCount, DoneTests: len(res.Cases)},
		Timestamps:   Timestamps{ReceivedAt: receivedAt, FinishedAt: finishedAt},
		Report:       &report,
	}
}

// StatusEventType identifies a status event kind.
type StatusEventType string

const StatusEventFinal StatusEventType = "final"

// StatusEvent is published when a submission reaches a final status.
type StatusEvent struct {
	Type      StatusEventType     `json:"type"`
	Status    JudgeStatusResponse `json:"status"`
	CreatedAt int64               `json:"created_at"`
}
