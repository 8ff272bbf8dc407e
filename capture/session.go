package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const unknownKey = "unknown"

var keyReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	"..", "_",
	"\x00", "",
	":", "_",
)

// SanitizeKey makes a subject id or mode safe to use as one path element.
func SanitizeKey(s string) string {
	s = strings.TrimSpace(s)
	for {
		next := keyReplacer.Replace(s)
		if next == s {
			break
		}
		s = next
	}
	if s == "" || s == "." {
		return unknownKey
	}
	return s
}

// SessionName is the directory name for a (subject, mode) pair.
func SessionName(subjectID, mode string) string {
	return SanitizeKey(subjectID) + "_" + SanitizeKey(mode)
}

// EnsureSession creates <root>/<subject>_<mode> if needed and returns its path.
func EnsureSession(root, subjectID, mode string) (string, error) {
	dir := filepath.Join(root, SessionName(subjectID, mode))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session directory %s: %w", dir, err)
	}
	return dir, nil
}
