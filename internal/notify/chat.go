package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"market-alerts/internal/config"
	"market-alerts/internal/errors"
	"market-alerts/internal/models"
	"market-alerts/pkg/utils"
)

// SlackChannel posts attachments to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	channel    string
	enabled    bool
	client     *http.Client
	retry      utils.RetryConfig
}

// NewSlackChannel creates a new SlackChannel.
func NewSlackChannel(cfg config.SlackConfig, client *http.Client, retry utils.RetryConfig) *SlackChannel {
	return &SlackChannel{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		enabled:    cfg.Enabled,
		client:     client,
		retry:      retry,
	}
}

// Kind returns the channel kind.
func (s *SlackChannel) Kind() models.ChannelKind { return models.ChannelSlack }

// IsEnabled returns whether the channel is enabled.
func (s *SlackChannel) IsEnabled() bool { return s.enabled }

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	TS     int64        `json:"ts"`
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username"`
	IconEmoji   string            `json:"icon_emoji"`
	Attachments []slackAttachment `json:"attachments"`
}

// Send posts the trigger to Slack.
func (s *SlackChannel) Send(ctx context.Context, message string, t models.Trigger) error {
	if s.webhookURL == "" {
		return errors.NewChannelError(string(s.Kind()), errors.ErrChannelNotConfigured)
	}

	color := "warning"
	if t.Severity == models.SeverityHigh || t.Severity == models.SeverityCritical {
		color = "danger"
	}

	payload := slackPayload{
		Channel:   s.channel,
		Username:  "Market Alerts",
		IconEmoji: ":chart_with_upwards_trend:",
		Attachments: []slackAttachment{{
			Color: color,
			Title: Title(t),
			Text:  message,
			Fields: []slackField{
				{Title: "Symbol", Value: t.InstrumentID, Short: true},
				{Title: "Type", Value: string(t.Kind), Short: true},
				{Title: "Current value", Value: fmt.Sprintf("%.4f", t.Value), Short: true},
				{Title: "Threshold", Value: fmt.Sprintf("%.4f", t.Threshold), Short: true},
				{Title: "Severity", Value: string(t.Severity), Short: true},
				{Title: "Triggered at", Value: t.Timestamp.Format("2006-01-02 15:04:05"), Short: true},
			},
			Footer: "market-alerts",
			TS:     t.Timestamp.Unix(),
		}},
	}

	if err := postJSON(ctx, s.client, s.retry, s.webhookURL, payload, nil); err != nil {
		return errors.NewChannelError(string(s.Kind()), err)
	}
	return nil
}

// DiscordChannel posts embeds to a Discord webhook.
type DiscordChannel struct {
	webhookURL string
	enabled    bool
	client     *http.Client
	retry      utils.RetryConfig
}

// NewDiscordChannel creates a new DiscordChannel.
func NewDiscordChannel(cfg config.DiscordConfig, client *http.Client, retry utils.RetryConfig) *DiscordChannel {
	return &DiscordChannel{
		webhookURL: cfg.WebhookURL,
		enabled:    cfg.Enabled,
		client:     client,
		retry:      retry,
	}
}

// Kind returns the channel kind.
func (d *DiscordChannel) Kind() models.ChannelKind { return models.ChannelDiscord }

// IsEnabled returns whether the channel is enabled.
func (d *DiscordChannel) IsEnabled() bool { return d.enabled }

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Color       int               `json:"color"`
	Fields      []discordField    `json:"fields"`
	Footer      map[string]string `json:"footer"`
	Timestamp   string            `json:"timestamp"`
}

// Send posts the trigger to Discord.
func (d *DiscordChannel) Send(ctx context.Context, message string, t models.Trigger) error {
	if d.webhookURL == "" {
		return errors.NewChannelError(string(d.Kind()), errors.ErrChannelNotConfigured)
	}

	embed := discordEmbed{
		Title:       Title(t),
		Description: message,
		Color:       severityColor(t.Severity),
		Fields: []discordField{
			{Name: "Symbol", Value: t.InstrumentID, Inline: true},
			{Name: "Type", Value: string(t.Kind), Inline: true},
			{Name: "Current value", Value: fmt.Sprintf("%.4f", t.Value), Inline: true},
			{Name: "Threshold", Value: fmt.Sprintf("%.4f", t.Threshold), Inline: true},
			{Name: "Severity", Value: string(t.Severity), Inline: true},
		},
		Footer:    map[string]string{"text": "market-alerts"},
		Timestamp: t.Timestamp.Format(time.RFC3339),
	}

	payload := map[string]interface{}{"embeds": []discordEmbed{embed}}
	if err := postJSON(ctx, d.client, d.retry, d.webhookURL, payload, nil); err != nil {
		return errors.NewChannelError(string(d.Kind()), err)
	}
	return nil
}
