// Package spec describes a single process run and its resource limits.
package spec

import "time"

// ResourceLimit describes the limits enforced on one process invocation.
type ResourceLimit struct {
	WallTimeMs  int64 `yaml:"wallTimeMs" json:"wall_time_ms"`
	OutputBytes int64 `yaml:"outputBytes" json:"output_bytes"`
}

// WallTime returns the wall clock limit as a duration.
func (l ResourceLimit) WallTime() time.Duration {
	return time.Duration(l.WallTimeMs) * time.Millisecond
}

// Merge returns l with zero fields filled from fallback.
func (l ResourceLimit) Merge(fallback ResourceLimit) ResourceLimit {
	if l.WallTimeMs <= 0 {
		l.WallTimeMs = fallback.WallTimeMs
	}
	if l.OutputBytes <= 0 {
		l.OutputBytes = fallback.OutputBytes
	}
	return l
}

// RunSpec is everything the engine needs to start one process.
//
// Stdin comes from StdinPath when set, otherwise from Stdin. Stdout is
// written to StdoutPath when set, otherwise captured in memory. Both sinks
// are bounded by Limits.OutputBytes.
type RunSpec struct {
	SubmissionID string
	WorkDir      string
	Cmd          []string
	Env          []string
	Stdin        []byte
	StdinPath    string
	StdoutPath   string
	Limits       ResourceLimit
}
