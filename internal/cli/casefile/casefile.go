// Package casefile loads test case files for the command line judge.
package casefile

import (
	"fmt"
	"os"
	"path/filepath"

	"classjudge/internal/judge/sandbox/spec"

	"gopkg.in/yaml.v3"
)

// File is a YAML document describing a submission's tests.
//
//	language: python
//	testCases:
//	  - kind: text
//	    input: "1 2\n"
//	    expectedOutput: "3\n"
type File struct {
	Language  string          `yaml:"language"`
	TestCases []spec.TestCase `yaml:"testCases"`
}

// Load parses path. When resolvePaths is set, relative input and expected
// output paths are made absolute against the file's directory.
func Load(path string, resolvePaths bool) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read case file failed: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse case file failed: %w", err)
	}
	for i := range f.TestCases {
		if f.TestCases[i].Kind == "" {
			f.TestCases[i].Kind = spec.KindText
		}
	}
	if !resolvePaths {
		return f, nil
	}
	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return File{}, fmt.Errorf("resolve case file dir failed: %w", err)
	}
	for i := range f.TestCases {
		tc := &f.TestCases[i]
		tc.InputPath = resolve(base, tc.InputPath)
		tc.ExpectedOutputPath = resolve(base, tc.ExpectedOutputPath)
	}
	return f, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
