// Package security masks credentials before configuration is displayed or
// logged.
package security

import (
	"net/url"
	"strings"

	"market-alerts/internal/config"
)

// sensitiveHeaders are webhook headers whose values are masked.
var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"x-auth-token":  true,
	"cookie":        true,
}

// MaskCredential masks a credential value for logging.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskURL keeps the scheme and host of a URL and masks its path, query and
// user info. Incoming webhook URLs embed their token in the path.
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return MaskCredential(raw)
	}
	masked := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		masked += "/****"
	}
	if u.RawQuery != "" {
		masked += "?****"
	}
	return masked
}

// RedactConfig returns a copy of cfg with every credential masked.
func RedactConfig(cfg *config.Config) *config.Config {
	out := *cfg
	n := &out.Notifications

	n.Email.Password = MaskCredential(n.Email.Password)
	n.Slack.WebhookURL = MaskURL(n.Slack.WebhookURL)
	n.Discord.WebhookURL = MaskURL(n.Discord.WebhookURL)
	n.Webhook.URL = MaskURL(n.Webhook.URL)
	n.SMS.Token = MaskCredential(n.SMS.Token)

	if len(n.Webhook.Headers) > 0 {
		headers := make(map[string]string, len(n.Webhook.Headers))
		for k, v := range n.Webhook.Headers {
			if sensitiveHeaders[strings.ToLower(k)] {
				v = MaskCredential(v)
			}
			headers[k] = v
		}
		n.Webhook.Headers = headers
	}
	return &out
}
