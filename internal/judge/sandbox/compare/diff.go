package compare

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const maxDiffLines = 200

// Diff renders a unified diff of the normalized outputs for display.
// It returns "" when the outputs match.
func Diff(expected, actual string) string {
	exp, act := Normalize(expected), Normalize(actual)
	if exp == act {
		return ""
	}
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(exp + "\n"),
		B:        difflib.SplitLines(act + "\n"),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  1,
	}
	out, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return ""
	}
	lines := strings.SplitAfter(out, "\n")
	if len(lines) > maxDiffLines {
		out = strings.Join(lines[:maxDiffLines], "") + "...\n"
	}
	return out
}
