package security

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"market-alerts/internal/config"
)

// MaskCredential never reveals more than eight characters and preserves length.
func TestProperty_MaskCredential(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("masked value keeps length and hides the middle", prop.ForAll(
		func(secret string) bool {
			masked := MaskCredential(secret)
			if len(masked) != len(secret) {
				return false
			}
			visible := len(masked) - strings.Count(masked, "*")
			return len(secret) == 0 || (visible <= 8 && visible < len(secret))
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestMaskURL(t *testing.T) {
	assert.Equal(t, "https://hooks.slack.com/****", MaskURL("https://hooks.slack.com/services/T000/B000/XXXX"))
	assert.Equal(t, "https://example.com/****?****", MaskURL("https://example.com/hook?token=abc"))
	assert.Equal(t, "https://example.com", MaskURL("https://example.com"))
	assert.Equal(t, "", MaskURL(""))
	assert.NotContains(t, MaskURL("not a url with secret"), "secret")
}

func TestRedactConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.Email.Password = "hunter2hunter2"
	cfg.Notifications.Slack.WebhookURL = "https://hooks.slack.com/services/T000/B000/XXXX"
	cfg.Notifications.SMS.Token = "abcdefghijkl"
	cfg.Notifications.Webhook.Headers = map[string]string{
		"Authorization": "Bearer topsecretvalue",
		"X-Source":      "alertd",
	}

	redacted := RedactConfig(cfg)

	assert.Equal(t, "hunt******ter2", redacted.Notifications.Email.Password)
	assert.Equal(t, "https://hooks.slack.com/****", redacted.Notifications.Slack.WebhookURL)
	assert.Equal(t, "abcd****ijkl", redacted.Notifications.SMS.Token)
	assert.NotContains(t, redacted.Notifications.Webhook.Headers["Authorization"], "topsecret")
	assert.Equal(t, "alertd", redacted.Notifications.Webhook.Headers["X-Source"])

	// The original is untouched.
	assert.Equal(t, "hunter2hunter2", cfg.Notifications.Email.Password)
	assert.Equal(t, "Bearer topsecretvalue", cfg.Notifications.Webhook.Headers["Authorization"])
}
