// Package result defines execution results, per-case verdicts and the aggregate.
package result

import "math"

// JudgeStatus represents the lifecycle state of a submission.
type JudgeStatus string

const (
	StatusPending   JudgeStatus = "Pending"
	StatusCompiling JudgeStatus = "Compiling"
	StatusRunning   JudgeStatus = "Running"
	StatusFinished  JudgeStatus = "Finished"
	StatusFailed    JudgeStatus = "Failed"
)

// IsFinal reports whether no further updates follow this status.
func (s JudgeStatus) IsFinal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Outcome classifies how an evaluation ended.
type Outcome string

const (
	OutcomeCompleted           Outcome = "Completed"
	OutcomeCompileError        Outcome = "CompileError"
	OutcomeUnsupportedLanguage Outcome = "UnsupportedLanguage"
	OutcomeSystemError         Outcome = "SystemError"
)

// FailureReason explains why a test case did not pass.
type FailureReason string

const (
	ReasonNone                FailureReason = ""
	ReasonWrongAnswer         FailureReason = "wrong_answer"
	ReasonRuntimeError        FailureReason = "runtime_error"
	ReasonTimeLimitExceeded   FailureReason = "time_limit_exceeded"
	ReasonOutputLimitExceeded FailureReason = "output_limit_exceeded"
	ReasonSystemError         FailureReason = "system_error"
)

// RunResult captures raw process execution data.
type RunResult struct {
	ExitCode            int
	TimeMs              int64
	Stdout              []byte
	Stderr              []byte
	TimedOut            bool
	OutputLimitExceeded bool
}

// Failed reports whether the process did not finish cleanly.
func (r RunResult) Failed() bool {
	return r.TimedOut || r.OutputLimitExceeded || r.ExitCode != 0
}

// CompileResult contains compilation outcomes.
type CompileResult struct {
	OK       bool
	ExitCode int
	TimeMs   int64
	// Error is the scrubbed diagnostic shown to the submitter.
	Error string
	// Cmd is the argv that runs the prepared program.
	Cmd []string
}

// CaseVerdict is the outcome of one test case.
type CaseVerdict struct {
	Index         int           `json:"index"`
	Passed        bool          `json:"passed"`
	ActualOutput  string        `json:"actual_output"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	ExitCode      int           `json:"exit_code"`
	TimeMs        int64         `json:"time_ms"`
	Diff          string        `json:"diff,omitempty"`
}

// AggregateResult is the full-submission summary.
type AggregateResult struct {
	SubmissionID string
	Language     string
	Outcome      Outcome
	// Error is set for every outcome except OutcomeCompleted.
	Error       string
	PassedCount int
	TotalCount  int
	Score       int
	AllPassed   bool
	Cases       []CaseVerdict
}

// Aggregate tallies verdicts into a completed result.
func Aggregate(cases []CaseVerdict) AggregateResult {
	passed := 0
	for _, c := range cases {
		if c.Passed {
			passed++
		}
	}
	total := len(cases)
	return AggregateResult{
		Outcome:     OutcomeCompleted,
		PassedCount: passed,
		TotalCount:  total,
		Score:       Score(passed, total),
		AllPassed:   passed == total,
		Cases:       cases,
	}
}

// Score returns round(passed/total*100), or 0 when total is 0.
func Score(passed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(passed) / float64(total) * 100))
}

// Failure builds a result that carries only an error message.
func Failure(outcome Outcome, message string) AggregateResult {
	return AggregateResult{Outcome: outcome, Error: message}
}

// Report is the wire form of an AggregateResult.
// Error results carry no score fields at all.
type Report struct {
	Error       string        `json:"error,omitempty"`
	PassedCount *int          `json:"passed_count,omitempty"`
	TotalCount  *int          `json:"total_count,omitempty"`
	Score       *int          `json:"score,omitempty"`
	AllPassed   *bool         `json:"all_passed,omitempty"`
	Cases       []CaseVerdict `json:"cases,omitempty"`
}

// Report converts r to its wire form.
func (r AggregateResult) Report() Report {
	if r.Outcome != OutcomeCompleted {
		msg := r.Error
		if msg == "" {
			msg = "Execution error"
		}
		return Report{Error: msg}
	}
	passed, total, score, all := r.PassedCount, r.TotalCount, r.Score, r.AllPassed
	return Report{
		PassedCount: &passed,
		TotalCount:  &total,
		Score:       &score,
		AllPassed:   &all,
		Cases:       r.Cases,
	}
}
