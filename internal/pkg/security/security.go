// Package security provides input validation for files read from disk and
// sanitization of untrusted strings before they are logged.
package security

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	apperrors "github.com/ricesearch/rank-tree/internal/pkg/errors"
)

const (
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 1024

	// MaxDataFileSize is the largest dataset file accepted.
	MaxDataFileSize = 256 << 20

	// maxLogLength bounds sanitized log values.
	maxLogLength = 200
)

// ValidateDataFile checks that path names a regular file no larger than
// maxSize bytes. A non-positive maxSize disables the size check.
func ValidateDataFile(path string, maxSize int64) error {
	if path == "" {
		return apperrors.ValidationError("data path is empty")
	}
	if strings.ContainsRune(path, 0) {
		return apperrors.ValidationError("data path contains null byte")
	}
	if len(path) > MaxPathLength {
		return apperrors.ValidationError(fmt.Sprintf("data path exceeds %d characters", MaxPathLength))
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.NotFoundError("data file").WithDetail("path", SanitizeForLog(path))
		}
		return apperrors.Wrap(apperrors.CodeValidation, "cannot stat data file", err)
	}
	if !info.Mode().IsRegular() {
		return apperrors.ValidationError("data path is not a regular file").
			WithDetail("path", SanitizeForLog(path))
	}
	if maxSize > 0 && info.Size() > maxSize {
		return apperrors.ValidationError(fmt.Sprintf("data file is %s, limit is %s",
			formatSize(info.Size()), formatSize(maxSize)))
	}
	return nil
}

// SanitizeForLog makes s safe to log: line breaks and tabs are escaped,
// other control characters are dropped and the result is truncated.
func SanitizeForLog(s string) string {
	return SanitizeForLogWithLength(s, maxLogLength)
}

// SanitizeForLogWithLength sanitizes a string for logging with a custom max length.
func SanitizeForLogWithLength(s string, maxLen int) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(min(len(s), maxLen+10))

	count := 0
	for _, r := range s {
		if count >= maxLen {
			b.WriteString("...")
			break
		}

		switch r {
		case '\n':
			b.WriteString("\\n")
			count += 2
		case '\r':
			b.WriteString("\\r")
			count += 2
		case '\t':
			b.WriteString("\\t")
			count += 2
		default:
			if !unicode.IsControl(r) {
				b.WriteRune(r)
				count++
			}
		}
	}

	return b.String()
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
