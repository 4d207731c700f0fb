package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-alerts/internal/config"
	"market-alerts/internal/errors"
	"market-alerts/internal/models"
	"market-alerts/pkg/utils"
)

func fastRetry(attempts int) utils.RetryConfig {
	return utils.RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

type captured struct {
	header http.Header
	body   []byte
}

func captureServer(t *testing.T, status int) (*httptest.Server, *captured, *int32) {
	t.Helper()
	var calls int32
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		c.header = r.Header.Clone()
		c.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, c, &calls
}

func TestSlackChannel_Send(t *testing.T) {
	srv, got, _ := captureServer(t, http.StatusOK)
	ch := NewSlackChannel(config.SlackConfig{Enabled: true, WebhookURL: srv.URL, Channel: "#alerts"}, srv.Client(), fastRetry(1))

	tr := testTrigger("t1")
	require.NoError(t, ch.Send(context.Background(), RenderMessage(tr), tr))

	var payload slackPayload
	require.NoError(t, json.Unmarshal(got.body, &payload))
	assert.Equal(t, "#alerts", payload.Channel)
	require.Len(t, payload.Attachments, 1)
	assert.Equal(t, "danger", payload.Attachments[0].Color)
	assert.Equal(t, "X", payload.Attachments[0].Fields[0].Value)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
}

func TestDiscordChannel_Send(t *testing.T) {
	srv, got, _ := captureServer(t, http.StatusNoContent)
	ch := NewDiscordChannel(config.DiscordConfig{Enabled: true, WebhookURL: srv.URL}, srv.Client(), fastRetry(1))

	tr := testTrigger("t1")
	tr.Severity = models.SeverityMedium
	require.NoError(t, ch.Send(context.Background(), "body", tr))

	var payload struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	require.NoError(t, json.Unmarshal(got.body, &payload))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, 0xFFA500, payload.Embeds[0].Color)
	assert.Equal(t, "body", payload.Embeds[0].Description)
}

func TestWebhookChannel_SendCarriesTriggerAndHeaders(t *testing.T) {
	srv, got, _ := captureServer(t, http.StatusAccepted)
	ch := NewWebhookChannel(config.WebhookConfig{
		Enabled: true,
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "secret"},
	}, srv.Client(), fastRetry(1))

	tr := testTrigger("t1")
	tr.Metadata = map[string]interface{}{"history_size": 4}
	require.NoError(t, ch.Send(context.Background(), "msg", tr))

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(got.body, &payload))
	assert.Equal(t, "t1", payload.AlertID)
	assert.Equal(t, "rule-1", payload.RuleID)
	assert.Equal(t, models.ConditionPriceAbove, payload.AlertType)
	assert.Equal(t, 101.5, payload.Value)
	assert.Equal(t, "2024-03-01T10:00:00Z", payload.Timestamp)
	assert.EqualValues(t, 4, payload.Metadata["history_size"])
	assert.Equal(t, "secret", got.header.Get("X-Token"))
}

func TestHTTPChannel_RetriesServerErrorsOnly(t *testing.T) {
	srv, _, calls := captureServer(t, http.StatusInternalServerError)
	ch := NewWebhookChannel(config.WebhookConfig{Enabled: true, URL: srv.URL}, srv.Client(), fastRetry(3))
	err := ch.Send(context.Background(), "msg", testTrigger("t1"))
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))

	bad, _, badCalls := captureServer(t, http.StatusBadRequest)
	ch = NewWebhookChannel(config.WebhookConfig{Enabled: true, URL: bad.URL}, bad.Client(), fastRetry(3))
	err = ch.Send(context.Background(), "msg", testTrigger("t1"))
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(badCalls))
	assert.Contains(t, err.Error(), "400")
}

func TestSMSChannel_Send(t *testing.T) {
	srv, got, calls := captureServer(t, http.StatusCreated)
	ch := NewSMSChannel(config.SMSConfig{
		Enabled:    true,
		GatewayURL: srv.URL,
		AccountID:  "AC1",
		Token:      "tok",
		From:       "+100",
		To:         []string{"+200", "+300"},
	}, srv.Client(), fastRetry(1))

	require.NoError(t, ch.Send(context.Background(), "ignored", testTrigger("t1")))
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(got.body))
	req.Header.Set("Content-Type", got.header.Get("Content-Type"))
	require.NoError(t, req.ParseForm())
	assert.Equal(t, "+300", req.PostForm.Get("To"))
	assert.Equal(t, "+100", req.PostForm.Get("From"))
	assert.True(t, strings.HasPrefix(req.PostForm.Get("Body"), "[HIGH] X"))

	user, pass, ok := (&http.Request{Header: got.header}).BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "AC1", user)
	assert.Equal(t, "tok", pass)
}

func TestSMSBodyIsTruncated(t *testing.T) {
	tr := testTrigger("t1")
	tr.RuleName = strings.Repeat("long rule name ", 20)
	assert.Len(t, []rune(SMSBody(tr)), SMSMaxLength)
}

func TestChannelsRequireEndpoint(t *testing.T) {
	client := &http.Client{}
	channels := []Channel{
		NewSlackChannel(config.SlackConfig{Enabled: true}, client, fastRetry(1)),
		NewDiscordChannel(config.DiscordConfig{Enabled: true}, client, fastRetry(1)),
		NewWebhookChannel(config.WebhookConfig{Enabled: true}, client, fastRetry(1)),
		NewSMSChannel(config.SMSConfig{Enabled: true}, client, fastRetry(1)),
		NewEmailChannel(config.EmailConfig{Enabled: true}),
	}
	for _, ch := range channels {
		err := ch.Send(context.Background(), "msg", testTrigger("t1"))
		assert.True(t, errors.Is(err, errors.ErrChannelNotConfigured), "channel %s", ch.Kind())
	}
}

func TestNewChannelsCoversEveryKind(t *testing.T) {
	channels := NewChannels(config.NotificationConfig{Desktop: config.DesktopConfig{Enabled: true}}, fastRetry(1))

	kinds := make(map[models.ChannelKind]bool)
	for _, ch := range channels {
		kinds[ch.Kind()] = ch.IsEnabled()
	}
	assert.Len(t, kinds, len(models.ChannelKinds()))
	assert.True(t, kinds[models.ChannelDesktop])
	assert.False(t, kinds[models.ChannelSlack])
}

func TestRenderMessage(t *testing.T) {
	msg := RenderMessage(testTrigger("t1"))
	assert.Contains(t, msg, "HIGH alert: breakout")
	assert.Contains(t, msg, "Symbol: X")
	assert.Contains(t, msg, "Current value: 101.5000")
	assert.Contains(t, msg, "Time: 2024-03-01 10:00:00")
}

func TestBuildEmail(t *testing.T) {
	tr := testTrigger("t1")
	tr.Metadata = map[string]interface{}{"rule_name": "breakout"}
	email := BuildEmail("alerts@example.com", []string{"a@example.com", "b@example.com"}, "body", tr)

	assert.Contains(t, email, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, email, "Subject: [HIGH] X: breakout\r\n")
	assert.Contains(t, email, "\r\n\r\nbody")
	assert.Contains(t, email, `"rule_name": "breakout"`)
}

func TestDesktopChannel(t *testing.T) {
	var buf bytes.Buffer
	ch := NewDesktopChannel(config.DesktopConfig{Enabled: true}, &buf)

	tr := testTrigger("t1")
	require.NoError(t, ch.Send(context.Background(), tr.Message, tr))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "[10:00:00]"))
	assert.Contains(t, out, "HIGH | X | breakout")
	assert.NotContains(t, out, "\a")
	assert.NotContains(t, out, "\x1b[")
}

func TestFormatDesktopColor(t *testing.T) {
	tr := testTrigger("t1")
	line := FormatDesktop(tr, "extra line", true)
	assert.Contains(t, line, "\x1b[")
	assert.Contains(t, line, "\n    extra line")
}
