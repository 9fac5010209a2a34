package support

import (
	"fmt"
	"strings"
	"time"
)

// TranscriptLine is one turn handed to staff with an escalation.
type TranscriptLine struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// FormatTranscript renders the last `max` lines as plain text for staff.
func FormatTranscript(lines []TranscriptLine, max int) string {
	if len(lines) == 0 {
		return ""
	}
	if max > 0 && len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	var sb strings.Builder
	for _, l := range lines {
		role := "Customer"
		switch l.Role {
		case "assistant":
			role = "Bot"
		case "system":
			role = "System"
		}
		content := strings.TrimSpace(l.Content)
		if r := []rune(content); len(r) > 280 {
			content = string(r[:277]) + "..."
		}
		if l.Timestamp.IsZero() {
			sb.WriteString(fmt.Sprintf("%s: %s\n", role, content))
			continue
		}
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", l.Timestamp.UTC().Format("15:04"), role, content))
	}
	return strings.TrimRight(sb.String(), "\n")
}
