package profile

import (
	"time"

	"classjudge/internal/judge/sandbox/spec"
)

// TaskType identifies the sandbox task category.
type TaskType string

const (
	TaskTypeCompile TaskType = "compile"
	TaskTypeRun     TaskType = "run"
)

const (
	DefaultCompileTimeout = 10 * time.Second
	DefaultRunTimeout     = 5 * time.Second
	DefaultOutputBytes    = 1 << 20
)

// TaskProfile defines resource limits for a task type.
// An empty LanguageID applies to every language.
type TaskProfile struct {
	LanguageID    string             `yaml:"languageID"`
	TaskType      TaskType           `yaml:"taskType"`
	DefaultLimits spec.ResourceLimit `yaml:"limits"`
}

// DefaultProfiles returns the language independent compile and run profiles.
func DefaultProfiles() []TaskProfile {
	return []TaskProfile{
		{
			TaskType: TaskTypeCompile,
			DefaultLimits: spec.ResourceLimit{
				WallTimeMs:  DefaultCompileTimeout.Milliseconds(),
				OutputBytes: DefaultOutputBytes,
			},
		},
		{
			TaskType: TaskTypeRun,
			DefaultLimits: spec.ResourceLimit{
				WallTimeMs:  DefaultRunTimeout.Milliseconds(),
				OutputBytes: DefaultOutputBytes,
			},
		},
	}
}
