//go:build !linux

package engine

import (
	"context"
	"fmt"

	"classjudge/internal/judge/sandbox/result"
	"classjudge/internal/judge/sandbox/spec"
)

type stubEngine struct{}

// NewEngine returns an engine that refuses to run; process groups are linux only.
func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	return result.RunResult{ExitCode: -1}, fmt.Errorf("process engine is only supported on linux")
}
