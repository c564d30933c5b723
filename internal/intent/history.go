package intent

import (
	"strings"

	"github.com/kalambet/cybermentor/internal/logging"
)

const (
	historyEntries  = 6 // three user/assistant turns
	historyEntryLen = 300
	// NoHistory is the formatted form of an empty history.
	NoHistory = "(no conversation history)"
)

// Turn is one conversation message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FormatHistory renders the last six entries as "User:" / "Assistant:"
// lines, each truncated to 300 runes. Other roles are skipped.
func FormatHistory(history []Turn) string {
	if len(history) > historyEntries {
		history = history[len(history)-historyEntries:]
	}
	var lines []string
	for _, t := range history {
		content := logging.Excerpt(t.Content, historyEntryLen)
		switch t.Role {
		case "user":
			lines = append(lines, "User: "+content)
		case "assistant":
			lines = append(lines, "Assistant: "+content)
		}
	}
	if len(lines) == 0 {
		return NoHistory
	}
	return strings.Join(lines, "\n")
}
