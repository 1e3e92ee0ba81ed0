package views

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tui/styles"

	"github.com/charmbracelet/lipgloss"
)

// logEntry is the subset of a daemon JSON log line the dashboard shows.
type logEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Channel string    `json:"channel"`
	Error   string    `json:"error"`
}

func parseLogLine(line string) (logEntry, bool) {
	var e logEntry
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return e, false
	}
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return e, false
	}
	return e, true
}

func levelStyle(level string) lipgloss.Style {
	switch strings.ToUpper(level) {
	case "DEBUG", "TRACE":
		return styles.Muted
	case "INFO":
		return styles.LogInfo
	case "WARN":
		return styles.StatusPending
	case "ERROR", "FATAL", "PANIC":
		return styles.StatusError
	}
	return lipgloss.NewStyle()
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return s[:max-1] + "…"
}
