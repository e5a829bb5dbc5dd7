package scraper

import (
	"path/filepath"
	"strings"

	"github.com/xaenox/guildscribe/internal/models"
)

// SentinelThreadName is the name the platform gives auto-created threads.
const SentinelThreadName = "."

// IsRelevantThread keeps every named thread. Sentinel threads need at least
// minMessages messages and one message from a human.
func IsRelevantThread(thread *models.Thread, messages []*models.Message, minMessages int) bool {
	if strings.TrimSpace(thread.Name) != SentinelThreadName {
		return true
	}
	if len(messages) < minMessages {
		return false
	}
	for _, m := range messages {
		if !m.IsBot {
			return true
		}
	}
	return false
}

var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".log":  true,
	".json": true,
	".csv":  true,
	".py":   true,
	".go":   true,
	".yaml": true,
	".yml":  true,
}

// IsTextAttachment reports whether an attachment is small text worth downloading.
func IsTextAttachment(a RawAttachment) bool {
	if a.Size > maxDownload {
		return false
	}
	if strings.HasPrefix(a.ContentType, "text/") {
		return true
	}
	return textExtensions[strings.ToLower(filepath.Ext(a.Filename))]
}
