package runner

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"unicode/utf8"

	"classjudge/internal/judge/sandbox/compare"
	"classjudge/internal/judge/sandbox/engine"
	"classjudge/internal/judge/sandbox/observer"
	"classjudge/internal/judge/sandbox/profile"
	"classjudge/internal/judge/sandbox/result"
	"classjudge/internal/judge/sandbox/spec"
	"classjudge/internal/judge/sandbox/workspace"
	appErr "classjudge/pkg/errors"
	"classjudge/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

var compileFailedMessage = appErr.CompilationError.Message()

const (
	compileTimeoutMessage  = "Compilation timed out"
	maxDiagnosticBytes     = 16 * 1024
	maxActualPreviewBytes  = 64 * 1024
	tempOutputPrefixFormat = "out_%d"
)

// DefaultRunner implements compile/run workflows on top of an engine.
type DefaultRunner struct {
	eng     engine.Engine
	metrics observer.MetricsRecorder
}

// NewRunner creates a new runner backed by the process engine.
func NewRunner(eng engine.Engine) *DefaultRunner {
	return NewRunnerWithObserver(eng, observer.NoopMetricsRecorder{})
}

// NewRunnerWithObserver creates a new runner with metrics hooks.
func NewRunnerWithObserver(eng engine.Engine, metrics observer.MetricsRecorder) *DefaultRunner {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &DefaultRunner{eng: eng, metrics: metrics}
}

// Compile writes the source into the workspace and runs the compile step, if any.
func (r *DefaultRunner) Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error) {
	if err := validateCompileRequest(req); err != nil {
		return result.CompileResult{}, err
	}
	ws := req.Workspace
	if _, err := ws.WriteFile(req.Language.SourceFile, []byte(req.SourceText)); err != nil {
		return result.CompileResult{}, err
	}

	runCmd, err := buildCommand(req.Language.RunCmdTpl, req.Language, ws)
	if err != nil {
		return result.CompileResult{}, err
	}
	if !req.Language.CompileEnabled || strings.TrimSpace(req.Language.CompileCmdTpl) == "" {
		return result.CompileResult{OK: true, Cmd: runCmd}, nil
	}

	compileCmd, err := buildCommand(req.Language.CompileCmdTpl, req.Language, ws)
	if err != nil {
		return result.CompileResult{}, err
	}
	runSpec := spec.RunSpec{
		SubmissionID: req.SubmissionID,
		WorkDir:      ws.Dir,
		Cmd:          compileCmd,
		Env:          req.Language.Env,
		Limits:       req.Profile.DefaultLimits,
	}

	runRes, runErr := r.eng.Run(ctx, runSpec)
	compileRes := result.CompileResult{
		ExitCode: runRes.ExitCode,
		TimeMs:   runRes.TimeMs,
	}
	switch {
	case runErr != nil:
		// a missing toolchain is reported the same way a failed compile is
		logger.Warn(ctx, "compile step could not start",
			zap.String("language", req.Language.ID),
			zap.Strings("cmd", compileCmd),
			zap.Error(runErr),
		)
		compileRes.Error = diagnostic(ws, []byte(runErr.Error()), compileFailedMessage)
	case runRes.TimedOut:
		compileRes.Error = compileTimeoutMessage
	case runRes.ExitCode != 0 || runRes.OutputLimitExceeded:
		text := runRes.Stderr
		if len(strings.TrimSpace(string(text))) == 0 {
			text = runRes.Stdout
		}
		compileRes.Error = diagnostic(ws, text, compileFailedMessage)
	default:
		compileRes.OK = true
		compileRes.Cmd = runCmd
	}
	r.metrics.ObserveCompile(ctx, req.Language.ID, compileRes.OK, compileRes.TimeMs)
	return compileRes, nil
}

// Run executes one test case and judges its output.
func (r *DefaultRunner) Run(ctx context.Context, req RunRequest) (result.CaseVerdict, error) {
	if err := validateRunRequest(req); err != nil {
		return result.CaseVerdict{Index: req.Index}, err
	}
	ws := req.Workspace
	tc := req.TestCase

	if tc.InputFileName != "" {
		if err := ws.Remove(tc.InputFileName); err != nil {
			logger.Warn(ctx, "stale input could not be removed", zap.String("file", tc.InputFileName), zap.Error(err))
			return setupFailed(req.Index), nil
		}
		if _, err := ws.WriteFile(tc.InputFileName, []byte(tc.Input)); err != nil {
			return result.CaseVerdict{Index: req.Index}, err
		}
	}

	runSpec := spec.RunSpec{
		SubmissionID: req.SubmissionID,
		WorkDir:      ws.Dir,
		Cmd:          req.Cmd,
		Env:          req.Language.Env,
		Limits:       applyMultiplier(req.Profile.DefaultLimits, req.Language.TimeMultiplier),
	}

	var verdict result.CaseVerdict
	var err error
	switch {
	case tc.Kind == spec.KindText:
		verdict, err = r.runText(ctx, req, runSpec)
	case tc.RedirectsStdout():
		verdict, err = r.runRedirected(ctx, req, runSpec)
	default:
		verdict, err = r.runNamedOutput(ctx, req, runSpec)
	}
	if err != nil {
		return verdict, err
	}
	r.metrics.ObserveRun(ctx, req.Language.ID, string(verdict.FailureReason), verdict.TimeMs)
	return verdict, nil
}

func (r *DefaultRunner) runText(ctx context.Context, req RunRequest, runSpec spec.RunSpec) (result.CaseVerdict, error) {
	runSpec.Stdin = []byte(req.TestCase.Input)
	runRes, runErr := r.eng.Run(ctx, runSpec)
	actual := string(runRes.Stdout)
	return judgeText(req, runRes, runErr, actual, req.TestCase.ExpectedOutput), nil
}

// runRedirected binds stdin to the input file and stdout to a fresh temp
// file, then compares that file byte for byte.
func (r *DefaultRunner) runRedirected(ctx context.Context, req RunRequest, runSpec spec.RunSpec) (result.CaseVerdict, error) {
	ws := req.Workspace
	tempName := ws.TempName(fmt.Sprintf(tempOutputPrefixFormat, req.Index))
	tempPath, err := ws.Path(tempName)
	if err != nil {
		return result.CaseVerdict{Index: req.Index}, appErr.Workspace(err, "temp output")
	}
	defer func() {
		if err := ws.Remove(tempName); err != nil {
			logger.Warn(ctx, "remove temp output failed", zap.String("file", tempName), zap.Error(err))
		}
	}()

	runSpec.StdinPath = req.TestCase.InputPath
	runSpec.StdoutPath = tempPath
	runRes, runErr := r.eng.Run(ctx, runSpec)

	verdict := baseVerdict(req.Index, runRes, runErr)
	actual, _ := os.ReadFile(tempPath)
	verdict.ActualOutput = preview(actual)
	if verdict.FailureReason != result.ReasonNone {
		return verdict, nil
	}
	if compare.Files(tempPath, req.TestCase.ExpectedOutputPath) {
		verdict.Passed = true
		return verdict, nil
	}
	verdict.FailureReason = result.ReasonWrongAnswer
	if expected, err := os.ReadFile(req.TestCase.ExpectedOutputPath); err == nil {
		verdict.Diff = compare.Diff(string(expected), string(actual))
	}
	return verdict, nil
}

// runNamedOutput runs the program and reads the file it is expected to write.
func (r *DefaultRunner) runNamedOutput(ctx context.Context, req RunRequest, runSpec spec.RunSpec) (result.CaseVerdict, error) {
	ws := req.Workspace
	name := req.TestCase.OutputName()
	outputPath, err := ws.Path(name)
	if err != nil {
		return result.CaseVerdict{Index: req.Index}, appErr.Workspace(err, "output path")
	}
	expected, err := expectedText(req.TestCase)
	if err != nil {
		return result.CaseVerdict{Index: req.Index}, err
	}
	// a file left by the previous case must not count as this case's output
	if err := ws.Remove(name); err != nil {
		logger.Warn(ctx, "stale output could not be removed", zap.String("file", name), zap.Error(err))
		return setupFailed(req.Index), nil
	}

	runSpec.Stdin = []byte(req.TestCase.Input)
	runRes, runErr := r.eng.Run(ctx, runSpec)

	actual, overflow := readOutputFile(outputPath, outputLimit(runSpec.Limits))
	if overflow {
		runRes.OutputLimitExceeded = true
	}
	return judgeText(req, runRes, runErr, actual, expected), nil
}

// setupFailed fails a case whose workspace files the program left in a
// state the next run cannot start from.
func setupFailed(index int) result.CaseVerdict {
	return result.CaseVerdict{Index: index, ExitCode: -1, FailureReason: result.ReasonRuntimeError}
}

func outputLimit(limits spec.ResourceLimit) int64 {
	if limits.OutputBytes > 0 {
		return limits.OutputBytes
	}
	return profile.DefaultOutputBytes
}

// readOutputFile reads at most limit bytes of a program-written file and
// reports whether it held more. Anything but a regular file reads as empty.
func readOutputFile(path string, limit int64) (string, bool) {
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return "", false
	}
	if int64(len(data)) > limit {
		return string(data[:limit]), true
	}
	return string(data), false
}

func judgeText(req RunRequest, runRes result.RunResult, runErr error, actual, expected string) result.CaseVerdict {
	verdict := baseVerdict(req.Index, runRes, runErr)
	verdict.ActualOutput = preview([]byte(actual))
	if verdict.FailureReason != result.ReasonNone {
		return verdict
	}
	if compare.Text(actual, expected) {
		verdict.Passed = true
		return verdict
	}
	verdict.FailureReason = result.ReasonWrongAnswer
	verdict.Diff = compare.Diff(expected, actual)
	return verdict
}

func baseVerdict(index int, runRes result.RunResult, runErr error) result.CaseVerdict {
	return result.CaseVerdict{
		Index:         index,
		ExitCode:      runRes.ExitCode,
		TimeMs:        runRes.TimeMs,
		FailureReason: mapFailure(runRes, runErr),
	}
}

func mapFailure(res result.RunResult, runErr error) result.FailureReason {
	if runErr != nil {
		return result.ReasonRuntimeError
	}
	if res.TimedOut {
		return result.ReasonTimeLimitExceeded
	}
	if res.OutputLimitExceeded {
		return result.ReasonOutputLimitExceeded
	}
	if res.ExitCode != 0 {
		return result.ReasonRuntimeError
	}
	return result.ReasonNone
}

func expectedText(tc spec.TestCase) (string, error) {
	if tc.ExpectedOutput != "" || tc.ExpectedOutputPath == "" {
		return tc.ExpectedOutput, nil
	}
	data, err := os.ReadFile(tc.ExpectedOutputPath)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "read expected output failed")
	}
	return string(data), nil
}

func validateCompileRequest(req CompileRequest) error {
	if req.Workspace == nil {
		return appErr.ValidationError("workspace", "required")
	}
	if req.Language.SourceFile == "" {
		return appErr.ValidationError("source_file", "required")
	}
	return nil
}

func validateRunRequest(req RunRequest) error {
	if req.Workspace == nil {
		return appErr.ValidationError("workspace", "required")
	}
	if len(req.Cmd) == 0 {
		return appErr.ValidationError("cmd", "required")
	}
	switch req.TestCase.Kind {
	case spec.KindText, spec.KindFile:
	default:
		return appErr.ValidationError("kind", "unknown test case kind")
	}
	return nil
}

// buildCommand splits tpl into argv and substitutes placeholders per field,
// so workspace paths containing spaces stay a single argument.
func buildCommand(tpl string, lang profile.LanguageSpec, ws *workspace.Workspace) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("command template is required")
	}
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("command is empty after expansion")
	}

	replacer := strings.NewReplacer(
		"{src}", joinOrEmpty(ws, lang.SourceFile),
		"{bin}", joinOrEmpty(ws, lang.BinaryFile),
		"{workdir}", ws.Dir,
	)
	for i, f := range fields {
		fields[i] = replacer.Replace(f)
	}
	return fields, nil
}

func joinOrEmpty(ws *workspace.Workspace, name string) string {
	if name == "" {
		return ""
	}
	p, err := ws.Path(name)
	if err != nil {
		return ""
	}
	return p
}

func applyMultiplier(limits spec.ResourceLimit, multiplier float64) spec.ResourceLimit {
	if multiplier <= 0 || limits.WallTimeMs <= 0 {
		return limits
	}
	limits.WallTimeMs = int64(math.Ceil(float64(limits.WallTimeMs) * multiplier))
	return limits
}

func diagnostic(ws *workspace.Workspace, raw []byte, fallback string) string {
	text := strings.TrimSpace(ws.Scrub(string(raw)))
	if text == "" {
		return fallback
	}
	return truncate(text, maxDiagnosticBytes)
}

func preview(data []byte) string {
	return truncate(string(data), maxActualPreviewBytes)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (truncated)"
}
