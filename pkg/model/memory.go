package model

import (
	"strings"
)

// MemoryRecord is the summary of one thread, stored as a single post in the
// memory channel whose body is the thread root ID, a newline, and the text.
type MemoryRecord struct {
	RootID PostID
	Text   string
}

// Body composes the message body stored in the memory channel
func (r *MemoryRecord) Body() string {
	return string(r.RootID) + "\n" + r.Text
}

// IsMemoryOf reports whether a memory channel message belongs to the thread
func IsMemoryOf(message string, rootID PostID) bool {
	return strings.HasPrefix(message, string(rootID))
}

// MemoryText strips the leading root ID line from a memory channel message
func MemoryText(message string) string {
	_, text, found := strings.Cut(message, "\n")
	if !found {
		return ""
	}
	return text
}
