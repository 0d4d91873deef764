// Package response renders the JSON envelope every HTTP handler replies with.
package response

import (
	"net/http"

	"classjudge/pkg/errors"
	"classjudge/pkg/utils/contextkey"
	"classjudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope. Code is errors.Success on success.
type Response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    interface{}      `json:"data,omitempty"`
	Details interface{}      `json:"details,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

func write(c *gin.Context, status int, resp Response) {
	resp.TraceID = c.GetString(string(contextkey.TraceID))
	c.JSON(status, resp)
}

func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, Response{Code: errors.Success, Message: "Success", Data: data})
}

// Accepted answers 202 for work that finishes asynchronously.
func Accepted(c *gin.Context, data interface{}) {
	write(c, http.StatusAccepted, Response{Code: errors.Success, Message: "Accepted", Data: data})
}

// Error renders err with the HTTP status of its code. Server-side failures
// are logged at error with the stack; client errors only at warn.
func Error(c *gin.Context, err error) {
	e := errors.GetError(err)
	status := e.Code.HTTPStatus()
	fields := []zap.Field{
		zap.Int("code", int(e.Code)),
		zap.String("message", e.Error()),
		zap.Any("details", e.Details),
	}
	if status >= http.StatusInternalServerError {
		if e.Err != nil {
			fields = append(fields, zap.NamedError("cause", e.Err))
		}
		logger.Error(c.Request.Context(), "request failed", append(fields, zap.String("stack", e.Stack))...)
	} else {
		logger.Warn(c.Request.Context(), "request rejected", fields...)
	}

	resp := Response{Code: e.Code, Message: e.Error()}
	if len(e.Details) > 0 {
		resp.Details = e.Details
	}
	write(c, status, resp)
}

// BadRequest rejects a malformed request body or parameter.
func BadRequest(c *gin.Context, message string) {
	if message == "" {
		message = errors.InvalidParams.Message()
	}
	logger.Warn(c.Request.Context(), "request rejected", zap.String("message", message))
	write(c, errors.InvalidParams.HTTPStatus(), Response{Code: errors.InvalidParams, Message: message})
}
