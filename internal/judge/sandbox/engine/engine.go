// Package engine runs one external process under wall time and output limits.
package engine

import (
	"context"

	"classjudge/internal/judge/sandbox/result"
	"classjudge/internal/judge/sandbox/spec"
)

// Engine executes a RunSpec.
//
// A non-nil error means the process could not be started at all. Timeouts,
// output overflow and non-zero exits are reported through the RunResult.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
}
