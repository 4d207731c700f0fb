package alerts

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"market-alerts/internal/models"
)

// ConditionSpec is the authoring form of a condition. Enabled defaults to true.
type ConditionSpec struct {
	InstrumentID  string               `json:"symbol" yaml:"symbol"`
	Kind          models.ConditionKind `json:"kind" yaml:"kind"`
	Operator      models.Operator      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Threshold     float64              `json:"threshold" yaml:"threshold"`
	WindowMinutes int                  `json:"window_minutes,omitempty" yaml:"window_minutes,omitempty"`
	Expression    string               `json:"expression,omitempty" yaml:"expression,omitempty"`
	Description   string               `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled       *bool                `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// RuleSpec is the authoring form of a rule, accepted by the rule file loader
// and the admin API. Missing fields take the NewRule defaults.
type RuleSpec struct {
	ID              string               `json:"id,omitempty" yaml:"id,omitempty"`
	Name            string               `json:"name" yaml:"name"`
	Description     string               `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions      []ConditionSpec      `json:"conditions" yaml:"conditions"`
	Severity        models.Severity      `json:"severity,omitempty" yaml:"severity,omitempty"`
	Channels        []models.ChannelKind `json:"channels,omitempty" yaml:"channels,omitempty"`
	CooldownMinutes *int                 `json:"cooldown_minutes,omitempty" yaml:"cooldown_minutes,omitempty"`
	Enabled         *bool                `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// Rule converts the spec into a validated rule.
func (s RuleSpec) Rule() (*models.AlertRule, error) {
	rule := &models.AlertRule{
		ID:              s.ID,
		Name:            s.Name,
		Description:     s.Description,
		Severity:        s.Severity,
		Channels:        append([]models.ChannelKind(nil), s.Channels...),
		CooldownMinutes: DefaultCooldownMinutes,
		Enabled:         true,
		CreatedAt:       time.Now(),
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Severity == "" {
		rule.Severity = models.SeverityMedium
	}
	if len(rule.Channels) == 0 {
		rule.Channels = []models.ChannelKind{models.ChannelDesktop}
	}
	if s.CooldownMinutes != nil {
		rule.CooldownMinutes = *s.CooldownMinutes
	}
	if s.Enabled != nil {
		rule.Enabled = *s.Enabled
	}
	for _, c := range s.Conditions {
		cond := models.AlertCondition{
			InstrumentID:  c.InstrumentID,
			Kind:          c.Kind,
			Operator:      c.Operator,
			Threshold:     c.Threshold,
			WindowMinutes: c.WindowMinutes,
			Expression:    c.Expression,
			Description:   c.Description,
			Enabled:       true,
		}
		if c.Enabled != nil {
			cond.Enabled = *c.Enabled
		}
		rule.Conditions = append(rule.Conditions, cond)
	}

	if err := Validate(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// ruleFile is the top-level YAML document.
type ruleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// ParseRules decodes a YAML rule document.
func ParseRules(data []byte) ([]*models.AlertRule, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}

	rules := make([]*models.AlertRule, 0, len(doc.Rules))
	for i, spec := range doc.Rules {
		rule, err := spec.Rule()
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, spec.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRuleFile reads and decodes a YAML rule file.
func LoadRuleFile(path string) ([]*models.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return ParseRules(data)
}
