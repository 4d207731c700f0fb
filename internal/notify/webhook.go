package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"market-alerts/internal/config"
	"market-alerts/internal/errors"
	"market-alerts/internal/models"
	"market-alerts/pkg/utils"
)

// WebhookChannel posts the full trigger as JSON to a generic endpoint.
type WebhookChannel struct {
	url     string
	headers map[string]string
	enabled bool
	client  *http.Client
	retry   utils.RetryConfig
}

// NewWebhookChannel creates a new WebhookChannel.
func NewWebhookChannel(cfg config.WebhookConfig, client *http.Client, retry utils.RetryConfig) *WebhookChannel {
	return &WebhookChannel{
		url:     cfg.URL,
		headers: cfg.Headers,
		enabled: cfg.Enabled,
		client:  client,
		retry:   retry,
	}
}

// Kind returns the channel kind.
func (w *WebhookChannel) Kind() models.ChannelKind { return models.ChannelWebhook }

// IsEnabled returns whether the channel is enabled.
func (w *WebhookChannel) IsEnabled() bool { return w.enabled }

// WebhookPayload is the body posted by WebhookChannel.
type WebhookPayload struct {
	AlertID   string                 `json:"alert_id"`
	RuleID    string                 `json:"rule_id"`
	RuleName  string                 `json:"rule_name"`
	Symbol    string                 `json:"symbol"`
	AlertType models.ConditionKind   `json:"alert_type"`
	Value     float64                `json:"current_value"`
	Threshold float64                `json:"threshold_value"`
	Severity  models.Severity        `json:"severity"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Send posts the trigger.
func (w *WebhookChannel) Send(ctx context.Context, message string, t models.Trigger) error {
	if w.url == "" {
		return errors.NewChannelError(string(w.Kind()), errors.ErrChannelNotConfigured)
	}

	payload := WebhookPayload{
		AlertID:   t.ID,
		RuleID:    t.RuleID,
		RuleName:  t.RuleName,
		Symbol:    t.InstrumentID,
		AlertType: t.Kind,
		Value:     t.Value,
		Threshold: t.Threshold,
		Severity:  t.Severity,
		Message:   message,
		Timestamp: t.Timestamp.Format(time.RFC3339),
		Metadata:  t.Metadata,
	}

	if err := postJSON(ctx, w.client, w.retry, w.url, payload, w.headers); err != nil {
		return errors.NewChannelError(string(w.Kind()), err)
	}
	return nil
}

// SMSMaxLength is the maximum body length sent to the gateway.
const SMSMaxLength = 160

// SMSChannel sends short messages through an HTTP SMS gateway using a
// form-encoded POST with basic auth, one request per recipient.
type SMSChannel struct {
	gatewayURL string
	accountID  string
	token      string
	from       string
	to         []string
	enabled    bool
	client     *http.Client
	retry      utils.RetryConfig
}

// NewSMSChannel creates a new SMSChannel.
func NewSMSChannel(cfg config.SMSConfig, client *http.Client, retry utils.RetryConfig) *SMSChannel {
	return &SMSChannel{
		gatewayURL: cfg.GatewayURL,
		accountID:  cfg.AccountID,
		token:      cfg.Token,
		from:       cfg.From,
		to:         cfg.To,
		enabled:    cfg.Enabled,
		client:     client,
		retry:      retry,
	}
}

// Kind returns the channel kind.
func (s *SMSChannel) Kind() models.ChannelKind { return models.ChannelSMS }

// IsEnabled returns whether the channel is enabled.
func (s *SMSChannel) IsEnabled() bool { return s.enabled }

// SMSBody renders the short text sent by SMSChannel.
func SMSBody(t models.Trigger) string {
	body := fmt.Sprintf("[%s] %s %s %.2f (thr %.2f) %s",
		strings.ToUpper(string(t.Severity)), t.InstrumentID, t.Kind, t.Value, t.Threshold, t.RuleName)
	if r := []rune(body); len(r) > SMSMaxLength {
		body = string(r[:SMSMaxLength])
	}
	return body
}

// Send sends the trigger summary to every recipient. The first failure is
// returned after all recipients were attempted.
func (s *SMSChannel) Send(ctx context.Context, message string, t models.Trigger) error {
	if s.gatewayURL == "" || len(s.to) == 0 {
		return errors.NewChannelError(string(s.Kind()), errors.ErrChannelNotConfigured)
	}

	body := SMSBody(t)
	var firstErr error
	for _, to := range s.to {
		form := url.Values{}
		form.Set("From", s.from)
		form.Set("To", to)
		form.Set("Body", body)

		err := post(ctx, s.client, s.retry, httpRequest{
			URL:         s.gatewayURL,
			Body:        []byte(form.Encode()),
			ContentType: "application/x-www-form-urlencoded",
			Username:    s.accountID,
			Password:    s.token,
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sending to %s: %w", to, err)
		}
	}

	if firstErr != nil {
		return errors.NewChannelError(string(s.Kind()), firstErr)
	}
	return nil
}
