package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"market-alerts/internal/models"
	"market-alerts/pkg/utils"
)

// Pusher accepts snapshot updates. AlertBridge implements it.
type Pusher interface {
	PushSnapshot(update models.SnapshotUpdate, ts time.Time) error
}

// FeedConfig holds configuration for the websocket feed client.
type FeedConfig struct {
	URL     string
	Header  http.Header
	Symbols []string
	// InitialDelay and MaxDelay bound the reconnect backoff.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// ReadTimeout closes a connection that has been silent this long. 0 disables it.
	ReadTimeout time.Duration
}

// subscribeMessage is sent once per connection when symbols are configured.
type subscribeMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// WebSocketFeed reads JSON snapshot updates from an upstream websocket and
// pushes them into the bridge. Messages may be a single object or an array.
type WebSocketFeed struct {
	config FeedConfig
	pusher Pusher
	dialer *websocket.Dialer
	logger zerolog.Logger

	connects atomic.Uint64
	messages atomic.Uint64
}

// NewWebSocketFeed creates a new feed client.
func NewWebSocketFeed(config FeedConfig, pusher Pusher, logger zerolog.Logger) *WebSocketFeed {
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	return &WebSocketFeed{
		config: config,
		pusher: pusher,
		dialer: websocket.DefaultDialer,
		logger: logger.With().Str("component", "feed").Str("url", config.URL).Logger(),
	}
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff after failures.
func (f *WebSocketFeed) Run(ctx context.Context) error {
	attempt := 0
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			attempt = 0
		}

		delay := utils.CalculateBackoff(attempt, f.config.InitialDelay, f.config.MaxDelay, 2.0)
		f.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Feed disconnected")
		attempt++

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session runs one connection until it fails or ctx is cancelled.
// It returns nil if at least one message was read before the connection ended.
func (f *WebSocketFeed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.config.URL, f.config.Header)
	if err != nil {
		return fmt.Errorf("dialing feed: %w", err)
	}
	defer conn.Close()
	f.connects.Add(1)
	f.logger.Info().Msg("Feed connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if len(f.config.Symbols) > 0 {
		if err := conn.WriteJSON(subscribeMessage{Action: "subscribe", Symbols: f.config.Symbols}); err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
	}

	received := false
	for {
		if f.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if received {
				return nil
			}
			return fmt.Errorf("reading feed: %w", err)
		}
		received = true
		f.handle(data)
	}
}

func (f *WebSocketFeed) handle(data []byte) {
	updates, err := DecodeUpdates(data)
	if err != nil {
		f.logger.Debug().Err(err).Msg("Undecodable feed message")
		return
	}
	for _, u := range updates {
		f.messages.Add(1)
		if err := f.pusher.PushSnapshot(u, time.Time{}); err != nil {
			f.logger.Debug().Err(err).Str("instrument", u.InstrumentID).Msg("Feed update rejected")
		}
	}
}

// DecodeUpdates decodes a JSON snapshot update or an array of them.
func DecodeUpdates(data []byte) ([]models.SnapshotUpdate, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var updates []models.SnapshotUpdate
		if err := json.Unmarshal(data, &updates); err != nil {
			return nil, err
		}
		return updates, nil
	}
	var u models.SnapshotUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return []models.SnapshotUpdate{u}, nil
}

// FeedStats contains feed counters.
type FeedStats struct {
	Connects uint64 `json:"connects"`
	Messages uint64 `json:"messages"`
}

// Stats returns feed counters.
func (f *WebSocketFeed) Stats() FeedStats {
	return FeedStats{
		Connects: f.connects.Load(),
		Messages: f.messages.Load(),
	}
}
