package result_test

import (
	"encoding/json"
	"strings"
	"testing"

	"classjudge/internal/judge/sandbox/result"
)

func verdicts(passed ...bool) []result.CaseVerdict {
	out := make([]result.CaseVerdict, len(passed))
	for i, p := range passed {
		out[i] = result.CaseVerdict{Index: i, Passed: p}
		if !p {
			out[i].FailureReason = result.ReasonWrongAnswer
		}
	}
	return out
}

func TestAggregateTwoOfThree(t *testing.T) {
	res := result.Aggregate(verdicts(true, false, true))
	if res.Outcome != result.OutcomeCompleted {
		t.Fatalf("expected completed, got %s", res.Outcome)
	}
	if res.PassedCount != 2 || res.TotalCount != 3 {
		t.Fatalf("expected 2/3, got %d/%d", res.PassedCount, res.TotalCount)
	}
	if res.Score != 67 {
		t.Fatalf("expected score 67, got %d", res.Score)
	}
	if res.AllPassed {
		t.Fatalf("expected all_passed false")
	}
}

func TestAggregateAllPassedAndEmpty(t *testing.T) {
	res := result.Aggregate(verdicts(true, true))
	if !res.AllPassed || res.Score != 100 {
		t.Fatalf("expected all passed with 100, got %+v", res)
	}
	empty := result.Aggregate(nil)
	if empty.Score != 0 || empty.TotalCount != 0 || !empty.AllPassed {
		t.Fatalf("unexpected empty aggregate: %+v", empty)
	}
}

func TestScore(t *testing.T) {
	cases := []struct {
		passed, total, want int
	}{
		{0, 0, 0},
		{0, 4, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 2, 50},
		{1, 8, 13},
		{5, 5, 100},
	}
	for _, tc := range cases {
		if got := result.Score(tc.passed, tc.total); got != tc.want {
			t.Fatalf("Score(%d, %d) = %d, want %d", tc.passed, tc.total, got, tc.want)
		}
	}
}

func TestScoreMonotonic(t *testing.T) {
	for total := 1; total <= 25; total++ {
		prev := -1
		for passed := 0; passed <= total; passed++ {
			s := result.Score(passed, total)
			if s < prev {
				t.Fatalf("score decreased at %d/%d: %d < %d", passed, total, s, prev)
			}
			if s < 0 || s > 100 {
				t.Fatalf("score out of range at %d/%d: %d", passed, total, s)
			}
			prev = s
		}
	}
}

func TestReportErrorCarriesNoScoreFields(t *testing.T) {
	for _, res := range []result.AggregateResult{
		result.Failure(result.OutcomeCompileError, "Main.py:1: SyntaxError"),
		result.Failure(result.OutcomeUnsupportedLanguage, "Unsupported language"),
		result.Failure(result.OutcomeSystemError, ""),
	} {
		data, err := json.Marshal(res.Report())
		if err != nil {
			t.Fatalf("marshal report: %v", err)
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(data, &fields); err != nil {
			t.Fatalf("unmarshal report: %v", err)
		}
		if len(fields) != 1 || fields["error"] == "" {
			t.Fatalf("expected only error field, got %s", data)
		}
	}
	if msg := result.Failure(result.OutcomeSystemError, "").Report().Error; msg != "Execution error" {
		t.Fatalf("expected generic message, got %q", msg)
	}
}

func TestReportCompletedIncludesZeroValues(t *testing.T) {
	res := result.Aggregate(verdicts(false))
	data, err := json.Marshal(res.Report())
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"passed_count":0`, `"total_count":1`, `"score":0`, `"all_passed":false`, `"failure_reason":"wrong_answer"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %s in %s", want, s)
		}
	}
	if strings.Contains(s, `"error"`) {
		t.Fatalf("completed report must not carry error: %s", s)
	}
}

func TestRunResultFailed(t *testing.T) {
	if (result.RunResult{}).Failed() {
		t.Fatalf("clean run reported as failed")
	}
	for _, r := range []result.RunResult{{ExitCode: 1}, {TimedOut: true}, {OutputLimitExceeded: true}} {
		if !r.Failed() {
			t.Fatalf("expected failure for %+v", r)
		}
	}
}

func TestJudgeStatusIsFinal(t *testing.T) {
	if !result.StatusFinished.IsFinal() || !result.StatusFailed.IsFinal() {
		t.Fatalf("finished and failed are final")
	}
	if result.StatusRunning.IsFinal() || result.StatusPending.IsFinal() {
		t.Fatalf("running and pending are not final")
	}
}
