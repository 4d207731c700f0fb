package cli

import (
	"fmt"
	"math"
	"strings"
	"time"

	"market-alerts/internal/models"
)

// FormatValue formats a metric value with precision that scales with its
// magnitude.
func FormatValue(v float64) string {
	abs := math.Abs(v)
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return fmt.Sprintf("%v", v)
	case abs >= 1000:
		return fmt.Sprintf("%.0f", v)
	case abs >= 1:
		return fmt.Sprintf("%.2f", v)
	default:
		return fmt.Sprintf("%.4f", v)
	}
}

// FormatDateTime formats a timestamp in local time.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// FormatLastTriggered formats an optional trigger time.
func FormatLastTriggered(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return FormatDateTime(*t)
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatConditions joins a rule's condition labels. Disabled conditions are
// marked.
func FormatConditions(rule *models.AlertRule) string {
	parts := make([]string, 0, len(rule.Conditions))
	for _, c := range rule.Conditions {
		label := c.Label()
		if !c.Enabled {
			label += " (off)"
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, "; ")
}

// FormatChannels joins channel names.
func FormatChannels(channels []models.ChannelKind) string {
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
