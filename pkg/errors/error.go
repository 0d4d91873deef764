package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

const maxStackDepth = 10

// Error carries an application code, a client-safe message and optional details.
// Err holds the underlying cause and is never shown to clients.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
	Stack   string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.Message()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func build(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Details: map[string]interface{}{},
		Err:     cause,
		Stack:   callers(4),
	}
}

// New returns an error with the default message of code.
func New(code ErrorCode) *Error {
	return build(code, code.Message(), nil)
}

func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return build(code, fmt.Sprintf(format, args...), nil)
}

// Wrap tags err with code. An *Error is retagged in place; other errors
// become the cause of a new *Error that reuses their text.
func Wrap(err error, code ErrorCode) *Error {
	switch e := err.(type) {
	case nil:
		return nil
	case *Error:
		e.Code = code
		return e
	default:
		return build(code, err.Error(), err)
	}
}

// Wrapf wraps err under a new message, keeping err as the cause.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return build(code, fmt.Sprintf(format, args...), err)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

func find(err error) (*Error, bool) {
	var e *Error
	if err != nil && stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain.
// Foreign errors report InternalServerError and nil reports Success.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	if e, ok := find(err); ok {
		return e.Code
	}
	return InternalServerError
}

// GetError returns the first *Error in err's chain, wrapping foreign errors as internal.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := find(err); ok {
		return e
	}
	return Wrap(err, InternalServerError)
}

func Is(err error, code ErrorCode) bool {
	e, ok := find(err)
	return ok && e.Code == code
}

func callers(skip int) string {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		}
		if !more {
			return b.String()
		}
	}
}

// ValidationError reports a rejected request field.
func ValidationError(field, reason string) *Error {
	return New(ValidationFailed).WithDetail("field", field).WithDetail("reason", reason)
}

func UnsupportedLanguage(languageID string) *Error {
	return New(LanguageNotSupported).WithDetail("language", languageID)
}

// Workspace wraps a scratch directory failure for operation op.
func Workspace(err error, op string) *Error {
	return Wrapf(err, WorkspaceError, "workspace %s failed", op).WithDetail("op", op)
}
