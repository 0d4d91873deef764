package errors

import "net/http"

// ErrorCode identifies an error across logs and API responses.
//
// 10000-10999 are shared service codes, 13000-13999 belong to submissions,
// judging and test data.
type ErrorCode int

const (
	Success             ErrorCode = 10000
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	CacheError ErrorCode = 10200

	ValidationFailed ErrorCode = 10300

	SubmissionNotFound   ErrorCode = 13000
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003

	JudgeQueueFull   ErrorCode = 13100
	JudgeSystemError ErrorCode = 13101
	CompilationError ErrorCode = 13102
	WorkspaceError   ErrorCode = 13107

	DataPackNotFound ErrorCode = 13200
)

type codeInfo struct {
	message string
	status  int
}

var codes = map[ErrorCode]codeInfo{
	Success:             {"Success", http.StatusOK},
	InternalServerError: {"Internal server error", http.StatusInternalServerError},
	InvalidParams:       {"Invalid parameters", http.StatusBadRequest},
	NotFound:            {"Resource not found", http.StatusNotFound},
	ServiceUnavailable:  {"Service temporarily unavailable", http.StatusServiceUnavailable},
	Timeout:             {"Request timeout", http.StatusGatewayTimeout},

	CacheError:       {"Cache operation failed", http.StatusInternalServerError},
	ValidationFailed: {"Validation failed", http.StatusBadRequest},

	SubmissionNotFound:   {"Submission not found", http.StatusNotFound},
	CodeTooLarge:         {"Code is too large", http.StatusBadRequest},
	LanguageNotSupported: {"Unsupported language", http.StatusBadRequest},

	JudgeQueueFull:   {"Judge queue is full, please try again later", http.StatusTooManyRequests},
	JudgeSystemError: {"Execution error", http.StatusInternalServerError},
	CompilationError: {"Compilation error", http.StatusBadRequest},
	// Workspace failures surface with the same generic text as any system error.
	WorkspaceError: {"Execution error", http.StatusInternalServerError},

	DataPackNotFound: {"Data pack not found", http.StatusNotFound},
}

// Message returns the default client-facing text for c.
func (c ErrorCode) Message() string {
	if info, ok := codes[c]; ok {
		return info.message
	}
	return "Unknown error"
}

// HTTPStatus is the response status for c; unknown codes are 500.
func (c ErrorCode) HTTPStatus() int {
	if info, ok := codes[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}
