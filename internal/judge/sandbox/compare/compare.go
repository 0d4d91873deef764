// Package compare decides whether produced output matches the expected output.
//
// Text comparison normalizes line endings and ignores trailing whitespace.
// Byte comparison is exact. Neither ever fails.
package compare

import (
	"bytes"
	"io"
	"os"
	"strings"

	"vimagination.zapto.org/dos2unix"
)

// Normalize converts CRLF line endings to LF and trims trailing whitespace.
// Interior whitespace is preserved.
func Normalize(s string) string {
	if strings.IndexByte(s, '\r') >= 0 {
		if converted, err := io.ReadAll(dos2unix.DOS2Unix(strings.NewReader(s))); err == nil {
			s = string(converted)
		}
	}
	return strings.TrimRight(s, " \t\r\n\v\f")
}

// Text reports whether actual equals expected after normalization.
func Text(actual, expected string) bool {
	return Normalize(actual) == Normalize(expected)
}

// Bytes reports exact byte equality.
func Bytes(actual, expected []byte) bool {
	return bytes.Equal(actual, expected)
}

// Files reports whether two files have identical content.
// An unreadable file never matches.
func Files(actualPath, expectedPath string) bool {
	actual, err := os.ReadFile(actualPath)
	if err != nil {
		return false
	}
	expected, err := os.ReadFile(expectedPath)
	if err != nil {
		return false
	}
	return Bytes(actual, expected)
}
