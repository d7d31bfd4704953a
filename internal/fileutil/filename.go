package fileutil

import (
	"regexp"
	"strings"
)

// SanitizeForFilename sanitizes a target name for safe use in filenames
func SanitizeForFilename(input string) string {
	if input == "" {
		return "Capture"
	}

	// Replace illegal filename characters with underscores
	// Illegal chars: / \ : * ? " < > |
	illegalChars := regexp.MustCompile(`[\/\\:*?"<>|]`)
	sanitized := illegalChars.ReplaceAllString(input, "_")

	// Pulse source names carry dot-separated card paths; keep the tail
	// readable by collapsing separators the same way as whitespace.
	whitespace := regexp.MustCompile(`[\s_.]+`)
	sanitized = whitespace.ReplaceAllString(sanitized, "-")

	// Remove leading/trailing hyphens
	sanitized = strings.Trim(sanitized, "-")

	// Limit length to 50 characters for reasonable filenames
	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
		// Remove trailing hyphen if truncation created one
		sanitized = strings.TrimRight(sanitized, "-")
	}

	// Fallback if sanitization resulted in empty string
	if sanitized == "" {
		return "Capture"
	}

	return sanitized
}
