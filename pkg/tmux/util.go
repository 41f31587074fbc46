package tmux

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const maxSessionName = 50

// SanitizeForTmuxSession creates a valid tmux session name from a string.
// It replaces spaces and special characters with hyphens, converts to lowercase,
// and ensures the name is a reasonable length.
func SanitizeForTmuxSession(title string) string {
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, title)

	sanitized = strings.ToLower(sanitized)

	for strings.Contains(sanitized, "--") {
		sanitized = strings.ReplaceAll(sanitized, "--", "-")
	}
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		sanitized = "session"
	}
	if len(sanitized) > maxSessionName {
		sanitized = sanitized[:maxSessionName]
	}
	return sanitized
}

// SessionNameFor derives the session name for a task. IDs that survive
// sanitizing unchanged map to prefix+id. Any other ID is suffixed with "--"
// and 8 hex digits of the original's sha256; sanitized names never contain
// "--", so the two forms cannot collide.
func SessionNameFor(prefix, taskID string) string {
	sanitized := SanitizeForTmuxSession(taskID)
	if sanitized == taskID {
		return prefix + sanitized
	}

	sum := sha256.Sum256([]byte(taskID))
	digest := hex.EncodeToString(sum[:4])
	if keep := maxSessionName - len(digest) - 2; len(sanitized) > keep {
		sanitized = strings.TrimRight(sanitized[:keep], "-")
	}
	return prefix + sanitized + "--" + digest
}
