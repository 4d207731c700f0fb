package alerts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-alerts/internal/errors"
	"market-alerts/internal/models"
)

const sampleRules = `
rules:
  - id: aapl-breakout
    name: AAPL breakout
    severity: high
    channels: [slack, email]
    cooldown_minutes: 15
    conditions:
      - symbol: AAPL
        kind: price_above
        threshold: 200
      - symbol: AAPL
        kind: volume_spike
        operator: ">="
        threshold: 3
        window_minutes: 5
        enabled: false
  - name: MSFT momentum
    conditions:
      - symbol: MSFT
        kind: momentum_shift
        threshold: 2
`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(sampleRules))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	first := rules[0]
	assert.Equal(t, "aapl-breakout", first.ID)
	assert.Equal(t, models.SeverityHigh, first.Severity)
	assert.Equal(t, []models.ChannelKind{models.ChannelSlack, models.ChannelEmail}, first.Channels)
	assert.Equal(t, 15, first.CooldownMinutes)
	assert.True(t, first.Enabled)
	require.Len(t, first.Conditions, 2)
	assert.True(t, first.Conditions[0].Enabled)
	assert.False(t, first.Conditions[1].Enabled)
	assert.Equal(t, models.OpGreaterEqual, first.Conditions[1].Operator)

	second := rules[1]
	assert.NotEmpty(t, second.ID)
	assert.Equal(t, models.SeverityMedium, second.Severity)
	assert.Equal(t, DefaultCooldownMinutes, second.CooldownMinutes)
	assert.Equal(t, models.OpGreater, second.Conditions[0].EffectiveOperator())
}

func TestParseRulesRejectsInvalid(t *testing.T) {
	_, err := ParseRules([]byte(`
rules:
  - name: broken
    conditions:
      - symbol: AAPL
        kind: rsi_above
        threshold: 70
`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRule))
}

func TestLoadRuleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0644))

	rules, err := LoadRuleFile(path)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	_, err = LoadRuleFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
