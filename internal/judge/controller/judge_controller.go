package controller

import (
	"strings"

	"classjudge/internal/judge/sandbox"
	"classjudge/internal/judge/sandbox/result"
	"classjudge/internal/judge/service"
	"classjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// JudgeController handles judge HTTP endpoints.
type JudgeController struct {
	judgeService *service.Service
}

// NewJudgeController creates a new controller.
func NewJudgeController(judgeService *service.Service) *JudgeController {
	return &JudgeController{judgeService: judgeService}
}

// EvaluateRequest is the body of run and submit calls.
type EvaluateRequest struct {
	SubmissionID string             `json:"submission_id"`
	Language     string             `json:"language" binding:"required"`
	Source       string             `json:"source"`
	TestCases    []sandbox.TestCase `json:"test_cases"`
	Trial        bool               `json:"trial"`
	DataPack     string             `json:"data_pack"`
	PackSHA256   string             `json:"data_pack_sha256"`
}

func (r EvaluateRequest) toSandbox() sandbox.EvaluateRequest {
	return sandbox.EvaluateRequest{
		SubmissionID:   strings.TrimSpace(r.SubmissionID),
		LanguageID:     r.Language,
		SourceText:     r.Source,
		TestCases:      r.TestCases,
		Trial:          r.Trial,
		DataPack:       strings.TrimSpace(r.DataPack),
		DataPackSHA256: strings.TrimSpace(r.PackSHA256),
	}
}

// RunResponse is the report of a synchronous run.
type RunResponse struct {
	SubmissionID string `json:"submission_id"`
	result.Report
}

// SubmitResponse acknowledges a queued submission.
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	ReceivedAt   int64  `json:"received_at"`
}

// Run evaluates a submission and returns its report.
func (h *JudgeController) Run(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	res, err := h.judgeService.Evaluate(c.Request.Context(), req.toSandbox())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, RunResponse{SubmissionID: res.SubmissionID, Report: res.Report()})
}

// Submit queues a submission.
func (h *JudgeController) Submit(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	status, err := h.judgeService.Submit(c.Request.Context(), req.toSandbox())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, SubmitResponse{
		SubmissionID: status.SubmissionID,
		Status:       string(status.Status),
		ReceivedAt:   status.Timestamps.ReceivedAt,
	})
}

// GetStatus returns status for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.judgeService.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Languages lists registered languages.
func (h *JudgeController) Languages(c *gin.Context) {
	response.Success(c, h.judgeService.Languages())
}

// Healthz reports liveness of the service and its status store.
func (h *JudgeController) Healthz(c *gin.Context) {
	if err := h.judgeService.Health(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

// RegisterRoutes mounts the judge endpoints on r.
func (h *JudgeController) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/v1/judge")
	api.POST("/run", h.Run)
	api.POST("/submissions", h.Submit)
	api.GET("/submissions/:id", h.GetStatus)
	api.GET("/languages", h.Languages)
	r.GET("/healthz", h.Healthz)
}
