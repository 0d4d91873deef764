// Package contextkey names the request-scoped values the service stores in a context.
package contextkey

// Key is the type of every context key in this package.
type Key string

const (
	TraceID      Key = "trace_id"
	RequestID    Key = "request_id"
	SubmissionID Key = "submission_id"
)
