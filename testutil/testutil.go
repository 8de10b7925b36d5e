package testutil

import (
	"os"
	"strings"
	"testing"
)

// TempLogFile creates a temporary log file with the given initial content.
// The file is removed when the test finishes.
func TempLogFile(t *testing.T, content string) string {
	t.Helper()

	tmpFile, err := os.CreateTemp(t.TempDir(), "test_auth_*.log")
	if err != nil {
		t.Fatalf("Failed to create temp log file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("Failed to write to temp log file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("Failed to close temp log file: %v", err)
	}

	return tmpFile.Name()
}

// AppendLines appends the given lines to a log file, each terminated with a
// newline, the way a syslog writer would.
func AppendLines(t *testing.T, path string, lines ...string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("Failed to open log file for append: %v", err)
	}
	defer f.Close()

	var content strings.Builder
	for _, line := range lines {
		content.WriteString(line)
		content.WriteString("\n")
	}
	if _, err := f.WriteString(content.String()); err != nil {
		t.Fatalf("Failed to append to log file: %v", err)
	}
}

// TempFilePath returns a path inside the test's temp dir without creating
// the file.
func TempFilePath(t *testing.T, name string) string {
	t.Helper()
	return t.TempDir() + string(os.PathSeparator) + name
}
