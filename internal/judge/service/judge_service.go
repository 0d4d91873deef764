package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"classjudge/internal/common/mq"
	"classjudge/internal/judge/datapack"
	"classjudge/internal/judge/model"
	"classjudge/internal/judge/repository"
	"classjudge/internal/judge/sandbox"
	"classjudge/internal/judge/sandbox/profile"
	"classjudge/internal/judge/sandbox/result"
	"classjudge/internal/judge/sandbox/spec"
	appErr "classjudge/pkg/errors"
	"classjudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxSourceBytes = 256 << 10
	defaultMaxTestCases   = 200
	defaultSlotWait       = 2 * time.Second
	defaultClaimTTL       = 10 * time.Minute
)

// LanguageLister lists the registered languages.
type LanguageLister interface {
	Languages() []profile.LanguageSpec
}

// DataPackSource provides local copies of test data packs.
type DataPackSource interface {
	Acquire(ctx context.Context, pack datapack.Pack) (string, func(), error)
	Ping(ctx context.Context) error
}

// Service handles judge tasks.
type Service struct {
	evaluator      sandbox.Evaluator
	languages      LanguageLister
	statusRepo     *repository.StatusRepository
	publisher      repository.FinalStatusPublisher
	queue          mq.Producer
	packs          DataPackSource
	evaluateTopic  string
	dataRoot       string
	maxSourceBytes int
	maxTestCases   int
	workerTimeout  time.Duration
	statusTimeout  time.Duration
	claimTTL       time.Duration
	slotWait       time.Duration
	poolRetry      PoolRetryConfig
	sem            chan struct{}
}

// Config holds service dependencies and settings.
type Config struct {
	Evaluator  sandbox.Evaluator
	Languages  LanguageLister
	StatusRepo *repository.StatusRepository
	// Publisher and Queue are optional; without a queue only synchronous runs work.
	Publisher repository.FinalStatusPublisher
	Queue     mq.Producer
	// DataPacks is optional; without it requests naming a data pack are rejected.
	DataPacks      DataPackSource
	EvaluateTopic  string
	DataRoot       string
	MaxSourceBytes int
	MaxTestCases   int
	WorkerTimeout  time.Duration
	StatusTimeout  time.Duration
	ClaimTTL       time.Duration
	SlotWait       time.Duration
	PoolRetry      PoolRetryConfig
	WorkerPoolSize int
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language lister is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cfg.Queue != nil && cfg.EvaluateTopic == "" {
		return nil, fmt.Errorf("evaluate topic is required with a queue")
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.MaxTestCases <= 0 {
		cfg.MaxTestCases = defaultMaxTestCases
	}
	if cfg.SlotWait <= 0 {
		cfg.SlotWait = defaultSlotWait
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = defaultClaimTTL
	}
	dataRoot := cfg.DataRoot
	if dataRoot != "" {
		abs, err := filepath.Abs(dataRoot)
		if err != nil {
			return nil, fmt.Errorf("resolve data root failed: %w", err)
		}
		dataRoot = abs
	}
	return &Service{
		evaluator:      cfg.Evaluator,
		languages:      cfg.Languages,
		statusRepo:     cfg.StatusRepo,
		publisher:      cfg.Publisher,
		queue:          cfg.Queue,
		packs:          cfg.DataPacks,
		evaluateTopic:  cfg.EvaluateTopic,
		dataRoot:       dataRoot,
		maxSourceBytes: cfg.MaxSourceBytes,
		maxTestCases:   cfg.MaxTestCases,
		workerTimeout:  cfg.WorkerTimeout,
		statusTimeout:  cfg.StatusTimeout,
		claimTTL:       cfg.ClaimTTL,
		slotWait:       cfg.SlotWait,
		poolRetry:      cfg.PoolRetry,
		sem:            make(chan struct{}, poolSize),
	}, nil
}

// Evaluate runs a submission synchronously.
// Unexpected failures are logged and come back as the generic error result.
func (s *Service) Evaluate(ctx context.Context, req sandbox.EvaluateRequest) (result.AggregateResult, error) {
	if req.SubmissionID == "" {
		req.SubmissionID = uuid.NewString()
	}
	if err := s.validate(req); err != nil {
		return result.AggregateResult{}, err
	}
	if err := s.acquireSlot(ctx); err != nil {
		return result.AggregateResult{}, err
	}
	defer s.releaseSlot()
	return s.run(ctx, req, time.Now().Unix())
}

// Submit validates a submission and queues it for asynchronous evaluation.
func (s *Service) Submit(ctx context.Context, req sandbox.EvaluateRequest) (model.JudgeStatusResponse, error) {
	if s.queue == nil {
		return model.JudgeStatusResponse{}, appErr.New(appErr.ServiceUnavailable).WithMessage("judge queue is not configured")
	}
	if req.Trial {
		return model.JudgeStatusResponse{}, appErr.ValidationError("trial", "trial runs are synchronous only")
	}
	if req.SubmissionID == "" {
		req.SubmissionID = uuid.NewString()
	}
	if err := s.validate(req); err != nil {
		return model.JudgeStatusResponse{}, err
	}

	now := time.Now().Unix()
	pending := model.JudgeStatusResponse{
		SubmissionID: req.SubmissionID,
		Status:       result.StatusPending,
		Language:     req.LanguageID,
		Progress:     model.Progress{TotalTests: len(req.TestCases)},
		Timestamps:   model.Timestamps{ReceivedAt: now},
	}
	if err := s.persistStatus(ctx, pending); err != nil {
		return model.JudgeStatusResponse{}, err
	}

	msg, err := encodeMessage(model.EvaluationMessage{
		SubmissionID: req.SubmissionID,
		LanguageID:   req.LanguageID,
		SourceText:   req.SourceText,
		TestCases:    req.TestCases,
		DataPack:     req.DataPack,
		PackSHA256:   req.DataPackSHA256,
		EnqueuedAt:   now,
	})
	if err != nil {
		return model.JudgeStatusResponse{}, err
	}
	if err := s.queue.Publish(ctx, s.evaluateTopic, msg); err != nil {
		return model.JudgeStatusResponse{}, appErr.Wrapf(err, appErr.ServiceUnavailable, "enqueue submission failed")
	}
	logger.Info(ctx, "submission queued",
		zap.String("submission_id", req.SubmissionID),
		zap.String("language", req.LanguageID),
		zap.Int("tests", len(req.TestCases)),
	)
	return pending, nil
}

// GetStatus returns the stored status of a submission.
func (s *Service) GetStatus(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error) {
	return s.statusRepo.Get(ctx, submissionID)
}

// Languages returns the registered languages.
func (s *Service) Languages() []model.LanguageInfo {
	specs := s.languages.Languages()
	out := make([]model.LanguageInfo, 0, len(specs))
	for _, lang := range specs {
		out = append(out, model.LanguageInfo{
			ID:       lang.ID,
			Name:     lang.Name,
			Version:  lang.Version,
			Compiled: lang.CompileEnabled,
		})
	}
	return out
}

// Health checks the status store, then the queue and data pack storage when configured.
func (s *Service) Health(ctx context.Context) error {
	if err := s.statusRepo.Ping(ctx); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "status store unavailable")
	}
	if q, ok := s.queue.(interface{ Ping(context.Context) error }); ok {
		if err := q.Ping(ctx); err != nil {
			return appErr.Wrapf(err, appErr.ServiceUnavailable, "judge queue unavailable")
		}
	}
	if s.packs != nil {
		return s.packs.Ping(ctx)
	}
	return nil
}

// run evaluates an already validated request and records the final status.
func (s *Service) run(ctx context.Context, req sandbox.EvaluateRequest, receivedAt int64) (result.AggregateResult, error) {
	root := s.dataRoot
	if req.DataPack != "" {
		dir, release, err := s.packs.Acquire(ctx, datapack.Pack{ID: req.DataPack, SHA256: req.DataPackSHA256})
		if err != nil {
			if appErr.Is(err, appErr.ValidationFailed) || appErr.Is(err, appErr.DataPackNotFound) {
				return result.AggregateResult{}, err
			}
			logger.Error(ctx, "acquire data pack failed",
				zap.String("submission_id", req.SubmissionID),
				zap.String("data_pack", req.DataPack),
				zap.Error(err),
			)
			res := result.Failure(result.OutcomeSystemError, appErr.JudgeSystemError.Message())
			res.SubmissionID = req.SubmissionID
			res.Language = req.LanguageID
			if ctx.Err() == nil {
				s.finish(ctx, req, res, receivedAt)
			}
			return res, nil
		}
		defer release()
		root = dir
	}
	cases, err := resolveCases(root, req.TestCases)
	if err != nil {
		return result.AggregateResult{}, err
	}
	req.TestCases = cases

	ctxWorker := ctx
	if s.workerTimeout > 0 {
		var cancel context.CancelFunc
		ctxWorker, cancel = context.WithTimeout(ctx, s.workerTimeout)
		defer cancel()
	}
	res, err := s.evaluator.Evaluate(ctxWorker, req)
	if err != nil {
		if appErr.Is(err, appErr.ValidationFailed) {
			return result.AggregateResult{}, err
		}
		logger.Error(ctx, "evaluation failed",
			zap.String("submission_id", req.SubmissionID),
			zap.String("language", req.LanguageID),
			zap.Error(err),
		)
	}
	if ctx.Err() != nil && res.Outcome == result.OutcomeSystemError {
		return res, nil
	}
	s.finish(ctx, req, res, receivedAt)
	return res, nil
}

func (s *Service) validate(req sandbox.EvaluateRequest) error {
	if strings.TrimSpace(req.LanguageID) == "" {
		return appErr.ValidationError("language", "required")
	}
	if len(req.SourceText) > s.maxSourceBytes {
		return appErr.New(appErr.CodeTooLarge).WithDetail("limit_bytes", s.maxSourceBytes)
	}
	if len(req.TestCases) > s.maxTestCases {
		return appErr.ValidationError("test_cases", "at most "+strconv.Itoa(s.maxTestCases)+" cases")
	}
	if req.DataPack != "" {
		if s.packs == nil {
			return appErr.ValidationError("data_pack", "data packs are disabled")
		}
		if !datapack.ValidID(req.DataPack) {
			return appErr.ValidationError("data_pack", "invalid pack id")
		}
	}
	for i, tc := range req.TestCases {
		paths := [2][2]string{{"input_path", tc.InputPath}, {"expected_output_path", tc.ExpectedOutputPath}}
		for _, fp := range paths {
			if fp[1] == "" {
				continue
			}
			if req.DataPack == "" && s.dataRoot == "" {
				return appErr.ValidationError(caseField(i, fp[0]), "file paths are disabled")
			}
			if !spec.IsRelativeName(fp[1]) {
				return appErr.ValidationError(caseField(i, fp[0]), "must be relative to the data root")
			}
		}
	}
	return nil
}

// resolveCases rewrites root relative paths to absolute ones.
func resolveCases(root string, cases []sandbox.TestCase) ([]sandbox.TestCase, error) {
	out := make([]sandbox.TestCase, len(cases))
	for i, tc := range cases {
		if tc.InputPath != "" {
			p, err := safeJoin(root, tc.InputPath)
			if err != nil {
				return nil, err
			}
			tc.InputPath = p
		}
		if tc.ExpectedOutputPath != "" {
			p, err := safeJoin(root, tc.ExpectedOutputPath)
			if err != nil {
				return nil, err
			}
			tc.ExpectedOutputPath = p
		}
		out[i] = tc
	}
	return out, nil
}

func caseField(index int, field string) string {
	return "test_cases[" + strconv.Itoa(index) + "]." + field
}

func safeJoin(basePath, relPath string) (string, error) {
	if basePath == "" {
		return "", appErr.New(appErr.InvalidParams).WithMessage("data root is not configured")
	}
	if relPath == "" {
		return "", appErr.ValidationError("path", "required")
	}
	clean := filepath.Clean(relPath)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", appErr.New(appErr.InvalidParams).WithMessage("invalid relative path")
	}
	full := filepath.Join(basePath, clean)
	if !strings.HasPrefix(full, filepath.Clean(basePath)+string(filepath.Separator)) {
		return "", appErr.New(appErr.InvalidParams).WithMessage("path traversal detected")
	}
	return full, nil
}
