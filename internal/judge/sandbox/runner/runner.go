package runner

import (
	"context"

	"classjudge/internal/judge/sandbox/profile"
	"classjudge/internal/judge/sandbox/result"
	"classjudge/internal/judge/sandbox/spec"
	"classjudge/internal/judge/sandbox/workspace"
)

// CompileRequest describes one compilation task.
type CompileRequest struct {
	SubmissionID string
	Workspace    *workspace.Workspace
	Language     profile.LanguageSpec
	Profile      profile.TaskProfile
	SourceText   string
}

// RunRequest describes one test case execution.
type RunRequest struct {
	SubmissionID string
	Index        int
	Workspace    *workspace.Workspace
	Language     profile.LanguageSpec
	Profile      profile.TaskProfile
	// Cmd is the argv returned by a successful Compile.
	Cmd      []string
	TestCase spec.TestCase
}

// Runner orchestrates compile and run workflows.
//
// Compile reports user errors through CompileResult; Run reports process
// failures through the verdict. A returned error is always a system failure.
type Runner interface {
	Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error)
	Run(ctx context.Context, req RunRequest) (result.CaseVerdict, error)
}
