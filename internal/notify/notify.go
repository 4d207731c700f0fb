// Package notify delivers alert triggers to notification channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"market-alerts/internal/config"
	"market-alerts/internal/errors"
	"market-alerts/internal/models"
	"market-alerts/pkg/utils"
)

// Channel defines the interface for a notification channel.
type Channel interface {
	Kind() models.ChannelKind
	IsEnabled() bool
	Send(ctx context.Context, message string, t models.Trigger) error
}

// RenderMessage formats a trigger as plain text.
func RenderMessage(t models.Trigger) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s %s alert: %s\n", severityEmoji(t.Severity), strings.ToUpper(string(t.Severity)), t.RuleName))
	sb.WriteString(t.Message)
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Symbol: %s\nCondition: %s\nCurrent value: %.4f\nThreshold: %.4f\nTime: %s",
		t.InstrumentID, t.Condition, t.Value, t.Threshold, t.Timestamp.Format("2006-01-02 15:04:05")))
	return sb.String()
}

// Title returns a one-line summary of a trigger.
func Title(t models.Trigger) string {
	return fmt.Sprintf("%s %s: %s", severityEmoji(t.Severity), t.InstrumentID, t.RuleName)
}

func severityEmoji(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "🚨"
	case models.SeverityHigh:
		return "⚠️"
	case models.SeverityMedium:
		return "📢"
	default:
		return "ℹ️"
	}
}

// severityColor returns the RGB colour used by chat attachments.
func severityColor(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 0x8B0000
	case models.SeverityHigh:
		return 0xFF0000
	case models.SeverityMedium:
		return 0xFFA500
	default:
		return 0x00FF00
	}
}

// NewChannels builds every channel from configuration, enabled or not.
func NewChannels(cfg config.NotificationConfig, retry utils.RetryConfig) []Channel {
	client := &http.Client{Timeout: 10 * time.Second}
	return []Channel{
		NewEmailChannel(cfg.Email),
		NewSlackChannel(cfg.Slack, client, retry),
		NewDiscordChannel(cfg.Discord, client, retry),
		NewDesktopChannel(cfg.Desktop, nil),
		NewWebhookChannel(cfg.Webhook, client, retry),
		NewSMSChannel(cfg.SMS, client, retry),
	}
}

// RatesPerMinute maps each channel to its configured send rate. 0 means unlimited.
func RatesPerMinute(cfg config.NotificationConfig) map[models.ChannelKind]int {
	return map[models.ChannelKind]int{
		models.ChannelEmail:   cfg.Email.RatePerMinute,
		models.ChannelSlack:   cfg.Slack.RatePerMinute,
		models.ChannelDiscord: cfg.Discord.RatePerMinute,
		models.ChannelDesktop: cfg.Desktop.RatePerMinute,
		models.ChannelWebhook: cfg.Webhook.RatePerMinute,
		models.ChannelSMS:     cfg.SMS.RatePerMinute,
	}
}

// statusError is a non-2xx response. 4xx responses other than 429 are not retried.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("returned status %d", e.code)
	}
	return fmt.Sprintf("returned status %d: %s", e.code, e.body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// httpRequest describes one outbound call made by an HTTP channel.
type httpRequest struct {
	URL         string
	Body        []byte
	ContentType string
	Header      map[string]string
	Username    string
	Password    string
}

// postJSON encodes payload and posts it with retries.
func postJSON(ctx context.Context, client *http.Client, retry utils.RetryConfig, url string, payload interface{}, header map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	return post(ctx, client, retry, httpRequest{URL: url, Body: body, ContentType: "application/json", Header: header})
}

func post(ctx context.Context, client *http.Client, retry utils.RetryConfig, r httpRequest) error {
	retry.Retryable = retryable
	return utils.Retry(ctx, retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Body))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", r.ContentType)
		req.Header.Set("User-Agent", "MarketAlerts/1.0")
		for k, v := range r.Header {
			req.Header.Set(k, v)
		}
		if r.Username != "" {
			req.SetBasicAuth(r.Username, r.Password)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
		}
		io.Copy(io.Discard, resp.Body)
		return nil
	})
}
