package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-alerts/internal/alerts"
	"market-alerts/internal/config"
	"market-alerts/internal/models"
	"market-alerts/internal/notify"
	"market-alerts/internal/store"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Driver = "memory"
	cfg.API.Enabled = false
	cfg.Engine.TickInterval = time.Hour
	return cfg
}

func TestEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	out := &syncBuffer{}

	e, err := New(testConfig(), zerolog.Nop(), Options{
		Channels: []notify.Channel{notify.NewDesktopChannel(config.DesktopConfig{Enabled: true}, out)},
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx))
	defer e.Shutdown(ctx)

	rule := alerts.NewRule("X volume", []models.AlertCondition{{
		InstrumentID:  "X",
		Kind:          models.ConditionVolumeSpike,
		Operator:      models.OpGreater,
		Threshold:     3,
		WindowMinutes: 5,
	}}, models.ChannelDesktop)
	require.NoError(t, e.Registry().Add(ctx, rule))

	volumes := []float64{1000, 1000, 1000, 1000, 5000}
	for i, v := range volumes {
		ts := now.Add(time.Duration(i-len(volumes)+1) * time.Second)
		require.NoError(t, e.Bridge().PushSnapshot(models.SnapshotUpdate{InstrumentID: "X", Price: 100, Volume: v}, ts))
	}

	triggers := e.Monitor().Tick(ctx, now)
	require.Len(t, triggers, 1)
	assert.InDelta(t, 5.0, triggers[0].Value, 1e-9)

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "X volume") }, 2*time.Second, 10*time.Millisecond)

	history, err := e.Store().QueryTriggerHistory(ctx, store.TriggerFilter{InstrumentID: "X"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rule.ID, history[0].RuleID)

	// Cooldown holds the rule on the next scan.
	assert.Empty(t, e.Monitor().Tick(ctx, now.Add(10*time.Second)))

	status := e.Status()
	assert.True(t, status.Running)
	assert.Equal(t, 1, status.TotalRules)
	assert.Equal(t, 1, status.EnabledRules)
	assert.Equal(t, 1, status.Instruments)
	assert.Equal(t, uint64(5), status.Bridge.Accepted)
	require.Eventually(t, func() bool { return e.Status().Dispatcher.Sent == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, status.Feed)
}

const rulesFile = `
rules:
  - name: Y below
    channels: [desktop]
    conditions:
      - symbol: Y
        kind: price_below
        threshold: 50
`

func TestEngine_PersistsAcrossRestartsAndSkipsDuplicateImports(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesFile), 0600))

	cfg := testConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = filepath.Join(dir, "alerts.db")
	cfg.Engine.RulesFile = path

	for i := 0; i < 2; i++ {
		e, err := New(cfg, zerolog.Nop(), Options{Channels: []notify.Channel{}})
		require.NoError(t, err)
		require.NoError(t, e.Start(ctx))

		rules := e.Registry().List()
		require.Len(t, rules, 1, "start %d", i)
		assert.Equal(t, "Y below", rules[0].Name)

		require.NoError(t, e.Shutdown(ctx))
	}
}

func TestEngine_StatusOverAPI(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.API.Enabled = true
	cfg.API.Listen = "127.0.0.1:0"

	e, err := New(cfg, zerolog.Nop(), Options{Channels: []notify.Channel{}})
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx))
	defer e.Shutdown(ctx)

	resp, err := http.Get("http://" + e.APIAddr() + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Running)
	assert.Zero(t, status.TotalRules)

	resp2, err := http.Get("http://" + e.APIAddr() + "/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Dispatcher.Workers = 0
	_, err := New(cfg, zerolog.Nop(), Options{})
	assert.Error(t, err)
}
