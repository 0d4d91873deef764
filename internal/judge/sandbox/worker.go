package sandbox

import (
	"context"
	"strconv"

	"classjudge/internal/judge/sandbox/config"
	"classjudge/internal/judge/sandbox/observer"
	"classjudge/internal/judge/sandbox/profile"
	"classjudge/internal/judge/sandbox/result"
	"classjudge/internal/judge/sandbox/runner"
	"classjudge/internal/judge/sandbox/spec"
	"classjudge/internal/judge/sandbox/workspace"
	appErr "classjudge/pkg/errors"
	"classjudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Worker runs the full evaluation of one submission.
type Worker struct {
	runner         runner.Runner
	langRepo       config.LanguageSpecRepository
	profileRepo    config.TaskProfileRepository
	provisioner    workspace.Provisioner
	metrics        observer.MetricsRecorder
	statusReporter StatusReporter
}

// NewWorker creates a new worker with required dependencies.
func NewWorker(
	runner runner.Runner,
	langRepo config.LanguageSpecRepository,
	profileRepo config.TaskProfileRepository,
	provisioner workspace.Provisioner,
) *Worker {
	return &Worker{
		runner:      runner,
		langRepo:    langRepo,
		profileRepo: profileRepo,
		provisioner: provisioner,
		metrics:     observer.NoopMetricsRecorder{},
	}
}

// SetStatusReporter injects a status reporter for intermediate updates.
func (w *Worker) SetStatusReporter(reporter StatusReporter) {
	w.statusReporter = reporter
}

// SetMetrics injects a metrics recorder.
func (w *Worker) SetMetrics(metrics observer.MetricsRecorder) {
	if metrics != nil {
		w.metrics = metrics
	}
}

// Evaluate compiles the submission and runs every test case in order.
//
// Unsupported languages and compile failures come back as results with
// Error set and a nil error. A non-nil error is a system failure; the
// returned result then carries the generic message shown to submitters.
func (w *Worker) Evaluate(ctx context.Context, req EvaluateRequest) (result.AggregateResult, error) {
	if w.runner == nil || w.langRepo == nil || w.profileRepo == nil || w.provisioner == nil {
		return systemFailure(req), appErr.New(appErr.JudgeSystemError).WithMessage("worker dependencies are not initialized")
	}
	if req.SubmissionID == "" {
		req.SubmissionID = uuid.NewString()
	}

	// Resolve before touching the filesystem.
	lang, err := w.langRepo.GetLanguageSpec(ctx, req.LanguageID)
	if err != nil {
		if appErr.Is(err, appErr.LanguageNotSupported) {
			res := stamp(req, result.Failure(result.OutcomeUnsupportedLanguage, appErr.LanguageNotSupported.Message()))
			w.metrics.ObserveEvaluation(ctx, req.LanguageID, string(res.Outcome), 0)
			return res, nil
		}
		return systemFailure(req), appErr.Wrapf(err, appErr.JudgeSystemError, "load language spec failed")
	}
	if err := validateTestCases(req.TestCases); err != nil {
		return result.AggregateResult{}, err
	}
	compileProfile, runProfile, err := w.loadProfiles(ctx, lang)
	if err != nil {
		return systemFailure(req), err
	}

	ws, err := w.provisioner.Provision(ctx, req.SubmissionID)
	if err != nil {
		logger.Error(ctx, "provision workspace failed", zap.String("submission_id", req.SubmissionID), zap.Error(err))
		return w.finishSystem(ctx, req), err
	}
	defer func() {
		if err := ws.Release(); err != nil {
			logger.Warn(ctx, "release workspace failed", zap.String("dir", ws.Dir), zap.Error(err))
		}
	}()

	total := len(req.TestCases)
	w.reportStatus(ctx, req, result.StatusCompiling, total, 0)
	compileRes, err := w.runner.Compile(ctx, runner.CompileRequest{
		SubmissionID: req.SubmissionID,
		Workspace:    ws,
		Language:     lang,
		Profile:      compileProfile,
		SourceText:   req.SourceText,
	})
	if err != nil {
		logger.Error(ctx, "compile step failed", zap.String("submission_id", req.SubmissionID), zap.Error(err))
		return w.finishSystem(ctx, req), err
	}
	if !compileRes.OK {
		res := stamp(req, result.Failure(result.OutcomeCompileError, compileRes.Error))
		w.metrics.ObserveEvaluation(ctx, lang.ID, string(res.Outcome), 0)
		return res, nil
	}

	w.reportStatus(ctx, req, result.StatusRunning, total, 0)
	cases := make([]result.CaseVerdict, 0, total)
	for i, tc := range req.TestCases {
		if err := ctx.Err(); err != nil {
			return w.finishSystem(ctx, req), appErr.Wrapf(err, appErr.JudgeSystemError, "evaluation cancelled")
		}
		verdict, err := w.runner.Run(ctx, runner.RunRequest{
			SubmissionID: req.SubmissionID,
			Index:        i,
			Workspace:    ws,
			Language:     lang,
			Profile:      runProfile,
			Cmd:          compileRes.Cmd,
			TestCase:     tc,
		})
		if err != nil {
			logger.Error(ctx, "test case run failed",
				zap.String("submission_id", req.SubmissionID),
				zap.Int("index", i),
				zap.Error(err),
			)
			return w.finishSystem(ctx, req), err
		}
		verdict.Index = i
		cases = append(cases, verdict)
		w.reportStatus(ctx, req, result.StatusRunning, total, len(cases))
	}

	res := stamp(req, result.Aggregate(cases))
	res.Language = lang.ID
	w.metrics.ObserveEvaluation(ctx, lang.ID, string(res.Outcome), res.Score)
	logger.Info(ctx, "evaluation finished",
		zap.String("submission_id", req.SubmissionID),
		zap.String("language", lang.ID),
		zap.Int("passed", res.PassedCount),
		zap.Int("total", res.TotalCount),
		zap.Int("score", res.Score),
	)
	return res, nil
}

func (w *Worker) loadProfiles(ctx context.Context, lang profile.LanguageSpec) (profile.TaskProfile, profile.TaskProfile, error) {
	runProfile, err := w.profileRepo.GetTaskProfile(ctx, profile.TaskTypeRun, lang.ID)
	if err != nil {
		return profile.TaskProfile{}, profile.TaskProfile{}, appErr.Wrapf(err, appErr.JudgeSystemError, "load run profile failed")
	}
	var compileProfile profile.TaskProfile
	if lang.CompileEnabled {
		compileProfile, err = w.profileRepo.GetTaskProfile(ctx, profile.TaskTypeCompile, lang.ID)
		if err != nil {
			return profile.TaskProfile{}, profile.TaskProfile{}, appErr.Wrapf(err, appErr.JudgeSystemError, "load compile profile failed")
		}
	}
	return compileProfile, runProfile, nil
}

func (w *Worker) finishSystem(ctx context.Context, req EvaluateRequest) result.AggregateResult {
	res := systemFailure(req)
	w.metrics.ObserveEvaluation(ctx, req.LanguageID, string(res.Outcome), 0)
	return res
}

func (w *Worker) reportStatus(ctx context.Context, req EvaluateRequest, status result.JudgeStatus, totalTests, doneTests int) {
	if w.statusReporter == nil {
		return
	}
	err := w.statusReporter.ReportStatus(ctx, StatusUpdate{
		SubmissionID: req.SubmissionID,
		Status:       status,
		Language:     req.LanguageID,
		TotalTests:   totalTests,
		DoneTests:    doneTests,
		Trial:        req.Trial,
	})
	if err != nil {
		logger.Warn(ctx, "report status failed", zap.String("submission_id", req.SubmissionID), zap.Error(err))
	}
}

func systemFailure(req EvaluateRequest) result.AggregateResult {
	return stamp(req, result.Failure(result.OutcomeSystemError, appErr.JudgeSystemError.Message()))
}

func stamp(req EvaluateRequest, res result.AggregateResult) result.AggregateResult {
	res.SubmissionID = req.SubmissionID
	if res.Language == "" {
		res.Language = req.LanguageID
	}
	return res
}

func validateTestCases(cases []TestCase) error {
	for i, tc := range cases {
		field := "test_cases[" + strconv.Itoa(i) + "]"
		switch tc.Kind {
		case spec.KindText:
		case spec.KindFile:
			if tc.InputPath != "" && tc.ExpectedOutputPath == "" {
				return appErr.ValidationError(field+".expected_output_path", "required with input_path")
			}
			if tc.InputPath == "" && tc.OutputFileName != "" && !spec.IsRelativeName(tc.OutputFileName) {
				return appErr.ValidationError(field+".output_file_name", "must be a relative file name")
			}
		default:
			return appErr.ValidationError(field+".kind", "must be text or file")
		}
		if tc.InputFileName != "" && !spec.IsRelativeName(tc.InputFileName) {
			return appErr.ValidationError(field+".input_file_name", "must be a relative file name")
		}
	}
	return nil
}
