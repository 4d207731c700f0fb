package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"market-alerts/internal/config"
	"market-alerts/internal/models"
)

// DesktopChannel prints alerts to the operator's terminal, coloured by
// severity. High and critical alerts ring the terminal bell.
type DesktopChannel struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	color   bool
	bell    bool
}

// NewDesktopChannel creates a new DesktopChannel writing to out, or stdout when nil.
func NewDesktopChannel(cfg config.DesktopConfig, out io.Writer) *DesktopChannel {
	bell := out == nil
	if out == nil {
		out = color.Output
	}
	return &DesktopChannel{
		out:     out,
		enabled: cfg.Enabled,
		color:   cfg.Color,
		bell:    bell,
	}
}

// Kind returns the channel kind.
func (d *DesktopChannel) Kind() models.ChannelKind { return models.ChannelDesktop }

// IsEnabled returns whether the channel is enabled.
func (d *DesktopChannel) IsEnabled() bool { return d.enabled }

// Send writes the formatted alert.
func (d *DesktopChannel) Send(ctx context.Context, message string, t models.Trigger) error {
	line := FormatDesktop(t, message, d.color)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.bell && (t.Severity == models.SeverityHigh || t.Severity == models.SeverityCritical) {
		fmt.Fprint(d.out, "\a")
	}
	_, err := fmt.Fprintln(d.out, line)
	return err
}

// FormatDesktop formats a trigger for terminal display.
func FormatDesktop(t models.Trigger, message string, colorEnabled bool) string {
	header := fmt.Sprintf("[%s] %s %s", t.Timestamp.Format("15:04:05"), severityEmoji(t.Severity), strings.ToUpper(string(t.Severity)))
	if colorEnabled {
		c := severityPrinter(t.Severity)
		c.EnableColor()
		header = c.Sprint(header)
	}

	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString(" | ")
	sb.WriteString(t.InstrumentID)
	sb.WriteString(" | ")
	sb.WriteString(t.Message)
	if message != "" && message != t.Message {
		for _, l := range strings.Split(message, "\n") {
			sb.WriteString("\n    ")
			sb.WriteString(l)
		}
	}
	return sb.String()
}

func severityPrinter(s models.Severity) *color.Color {
	switch s {
	case models.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case models.SeverityHigh:
		return color.New(color.FgRed)
	case models.SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}
