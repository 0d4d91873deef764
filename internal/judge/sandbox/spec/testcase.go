package spec

import (
	"path/filepath"
	"strings"
)

// TestCaseKind selects how input is supplied and how output is judged.
type TestCaseKind string

const (
	// KindText feeds Input on stdin and compares stdout as text.
	KindText TestCaseKind = "text"
	// KindFile compares a file: either redirected stdout (InputPath set)
	// or a file the program writes itself (OutputFileName).
	KindFile TestCaseKind = "file"
)

// DefaultOutputFileName is read when a file case names no output file.
const DefaultOutputFileName = "output.txt"

// TestCase is one ordered test of a submission.
type TestCase struct {
	Kind               TestCaseKind `json:"kind" yaml:"kind"`
	Input              string       `json:"input,omitempty" yaml:"input"`
	ExpectedOutput     string       `json:"expected_output,omitempty" yaml:"expectedOutput"`
	InputPath          string       `json:"input_path,omitempty" yaml:"inputPath"`
	ExpectedOutputPath string       `json:"expected_output_path,omitempty" yaml:"expectedOutputPath"`
	// OutputFileName is the file the program writes when InputPath is empty.
	OutputFileName string `json:"output_file_name,omitempty" yaml:"outputFileName"`
	// InputFileName, when set, receives Input inside the workspace before the run.
	InputFileName string `json:"input_file_name,omitempty" yaml:"inputFileName"`
}

// RedirectsStdout reports whether the case runs with stdin and stdout bound to files.
func (tc TestCase) RedirectsStdout() bool {
	return tc.Kind == KindFile && tc.InputPath != ""
}

// OutputName returns the program-written output file name.
func (tc TestCase) OutputName() string {
	if tc.OutputFileName != "" {
		return tc.OutputFileName
	}
	return DefaultOutputFileName
}

// IsRelativeName reports whether name stays inside the directory it is joined to.
func IsRelativeName(name string) bool {
	if name == "" || filepath.IsAbs(name) {
		return false
	}
	clean := filepath.Clean(name)
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, ".."+string(filepath.Separator))
}
