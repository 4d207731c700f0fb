package models

import (
	"fmt"
	"strings"
	"time"
)

// ConditionKind is the metric a condition watches.
type ConditionKind string

const (
	ConditionPriceAbove      ConditionKind = "price_above"
	ConditionPriceBelow      ConditionKind = "price_below"
	ConditionPercentChange   ConditionKind = "percent_change"
	ConditionVolumeSpike     ConditionKind = "volume_spike"
	ConditionVWAPDeviation   ConditionKind = "vwap_deviation"
	ConditionVolatilitySpike ConditionKind = "volatility_spike"
	ConditionSpread          ConditionKind = "spread"
	ConditionMomentumShift   ConditionKind = "momentum_shift"
	ConditionCustom          ConditionKind = "custom"
)

// ConditionKinds lists every supported condition kind.
var ConditionKinds = []ConditionKind{
	ConditionPriceAbove,
	ConditionPriceBelow,
	ConditionPercentChange,
	ConditionVolumeSpike,
	ConditionVWAPDeviation,
	ConditionVolatilitySpike,
	ConditionSpread,
	ConditionMomentumShift,
	ConditionCustom,
}

// Valid reports whether k is a known condition kind.
func (k ConditionKind) Valid() bool {
	for _, known := range ConditionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Operator is a comparison operator applied to (value, threshold).
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// DefaultOperator returns the operator implied by a condition kind when a rule
// leaves it empty.
func (k ConditionKind) DefaultOperator() Operator {
	if k == ConditionPriceBelow {
		return OpLess
	}
	return OpGreater
}

// Severity represents alert importance.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ChannelKind identifies a notification channel.
type ChannelKind string

const (
	ChannelEmail   ChannelKind = "email"
	ChannelSlack   ChannelKind = "slack"
	ChannelDiscord ChannelKind = "discord"
	ChannelDesktop ChannelKind = "desktop"
	ChannelWebhook ChannelKind = "webhook"
	ChannelSMS     ChannelKind = "sms"
)

// ChannelKinds returns every supported channel kind in display order.
func ChannelKinds() []ChannelKind {
	return []ChannelKind{ChannelDesktop, ChannelEmail, ChannelSlack, ChannelDiscord, ChannelWebhook, ChannelSMS}
}

// Valid reports whether c is a known channel kind.
func (c ChannelKind) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSlack, ChannelDiscord, ChannelDesktop, ChannelWebhook, ChannelSMS:
		return true
	}
	return false
}

// ParseChannels parses a comma separated channel list.
func ParseChannels(s string) ([]ChannelKind, error) {
	var out []ChannelKind
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		c := ChannelKind(part)
		if !c.Valid() {
			return nil, fmt.Errorf("unknown channel %q", part)
		}
		out = append(out, c)
	}
	return out, nil
}

// AlertCondition is one condition of a rule.
type AlertCondition struct {
	InstrumentID string        `json:"symbol" yaml:"symbol"`
	Kind         ConditionKind `json:"kind" yaml:"kind"`
	Operator     Operator      `json:"operator" yaml:"operator"`
	Threshold    float64       `json:"threshold" yaml:"threshold"`
	// WindowMinutes is the evaluation window; 0 selects the metric default.
	WindowMinutes int    `json:"window_minutes" yaml:"window_minutes"`
	Expression    string `json:"expression,omitempty" yaml:"expression,omitempty"` // custom metric name
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled       bool   `json:"enabled" yaml:"enabled"`

	LastTriggered *time.Time `json:"last_triggered,omitempty" yaml:"-"`
	TriggerCount  int        `json:"trigger_count" yaml:"-"`
}

// EffectiveOperator returns the operator, falling back to the kind default.
func (c AlertCondition) EffectiveOperator() Operator {
	if c.Operator == "" {
		return c.Kind.DefaultOperator()
	}
	return c.Operator
}

// SameDefinition reports whether c and o describe the same check, ignoring
// trigger bookkeeping.
func (c AlertCondition) SameDefinition(o AlertCondition) bool {
	return c.InstrumentID == o.InstrumentID &&
		c.Kind == o.Kind &&
		c.EffectiveOperator() == o.EffectiveOperator() &&
		c.Threshold == o.Threshold &&
		c.WindowMinutes == o.WindowMinutes &&
		c.Expression == o.Expression
}

// Label returns a human readable form such as "AAPL momentum_shift > 10".
func (c AlertCondition) Label() string {
	if c.Description != "" {
		return c.Description
	}
	return fmt.Sprintf("%s %s %s %g", c.InstrumentID, c.Kind, c.EffectiveOperator(), c.Threshold)
}

// AlertRule represents a set of conditions with notification settings.
// Conditions are evaluated in order and the first match wins.
type AlertRule struct {
	ID              string           `json:"id" yaml:"id"`
	Name            string           `json:"name" yaml:"name"`
	Description     string           `json:"description" yaml:"description"`
	Conditions      []AlertCondition `json:"conditions" yaml:"conditions"`
	Severity        Severity         `json:"severity" yaml:"severity"`
	Channels        []ChannelKind    `json:"channels" yaml:"channels"`
	CooldownMinutes int              `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	Enabled         bool             `json:"enabled" yaml:"enabled"`
	CreatedAt       time.Time        `json:"created_at" yaml:"-"`
	LastTriggered   *time.Time       `json:"last_triggered,omitempty" yaml:"-"`
}

// Cooldown returns the cooldown as a duration.
func (r *AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// InCooldown reports whether the rule fired less than a cooldown ago.
func (r *AlertRule) InCooldown(now time.Time) bool {
	if r.LastTriggered == nil {
		return false
	}
	return now.Before(r.LastTriggered.Add(r.Cooldown()))
}

// Clone returns a deep copy of the rule.
func (r *AlertRule) Clone() *AlertRule {
	c := *r
	c.Conditions = make([]AlertCondition, len(r.Conditions))
	for i, cond := range r.Conditions {
		if cond.LastTriggered != nil {
			t := *cond.LastTriggered
			cond.LastTriggered = &t
		}
		c.Conditions[i] = cond
	}
	c.Channels = append([]ChannelKind(nil), r.Channels...)
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		c.LastTriggered = &t
	}
	return &c
}

// Trigger is an immutable record of one rule firing.
type Trigger struct {
	ID           string                 `json:"id"`
	RuleID       string                 `json:"rule_id"`
	RuleName     string                 `json:"rule_name"`
	InstrumentID string                 `json:"symbol"`
	Kind         ConditionKind          `json:"kind"`
	Condition    string                 `json:"condition"`
	Value        float64                `json:"current_value"`
	Threshold    float64                `json:"threshold"`
	Severity     Severity               `json:"severity"`
	Message      string                 `json:"message"`
	Timestamp    time.Time              `json:"timestamp"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}
