package alerts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"market-alerts/internal/errors"
	"market-alerts/internal/logging"
	"market-alerts/internal/metrics"
	"market-alerts/internal/models"
	"market-alerts/internal/store"
)

// DefaultCooldownMinutes is applied by NewRule.
const DefaultCooldownMinutes = 60

// RuleRegistry owns the set of alert rules. Every registered rule has been
// persisted; a failed save leaves the registry unchanged.
type RuleRegistry struct {
	mu      sync.RWMutex
	rules   map[string]*models.AlertRule
	store   store.AlertStore
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry backed by st.
func NewRegistry(st store.AlertStore, logger zerolog.Logger, m *metrics.Metrics) *RuleRegistry {
	return &RuleRegistry{
		rules:   make(map[string]*models.AlertRule),
		store:   st,
		logger:  logging.WithComponent(logger, "registry"),
		metrics: m,
	}
}

// NewRule builds a rule with a generated ID and defaults for severity,
// channels and cooldown.
func NewRule(name string, conditions []models.AlertCondition, channels ...models.ChannelKind) *models.AlertRule {
	for i := range conditions {
		conditions[i].Enabled = true
	}
	if len(channels) == 0 {
		channels = []models.ChannelKind{models.ChannelDesktop}
	}
	return &models.AlertRule{
		ID:              uuid.NewString(),
		Name:            name,
		Conditions:      conditions,
		Severity:        models.SeverityMedium,
		Channels:        channels,
		CooldownMinutes: DefaultCooldownMinutes,
		Enabled:         true,
		CreatedAt:       time.Now(),
	}
}

// Validate checks a rule for structural errors.
func Validate(rule *models.AlertRule) error {
	if rule == nil {
		return errors.NewValidationError("rule", nil, "rule is nil")
	}
	if rule.ID == "" {
		return errors.NewValidationError("id", rule.ID, "id is required")
	}
	if rule.Name == "" {
		return errors.NewValidationError("name", rule.Name, "name is required")
	}
	if len(rule.Conditions) == 0 {
		return errors.NewValidationError("conditions", 0, "at least one condition is required")
	}
	if !rule.Severity.Valid() {
		return errors.NewValidationError("severity", rule.Severity, "unknown severity")
	}
	if rule.CooldownMinutes < 0 {
		return errors.NewValidationError("cooldown_minutes", rule.CooldownMinutes, "must not be negative")
	}
	for _, ch := range rule.Channels {
		if !ch.Valid() {
			return errors.NewValidationError("channels", ch, "unknown channel")
		}
	}
	for i, cond := range rule.Conditions {
		field := fmt.Sprintf("conditions[%d]", i)
		if cond.InstrumentID == "" {
			return errors.NewValidationError(field+".symbol", cond.InstrumentID, "instrument is required")
		}
		if !cond.Kind.Valid() {
			return errors.NewValidationError(field+".kind", cond.Kind, "unknown condition kind")
		}
		if cond.Operator != "" && !cond.Operator.Valid() {
			return errors.NewValidationError(field+".operator", cond.Operator, "unknown operator")
		}
		if cond.WindowMinutes < 0 {
			return errors.NewValidationError(field+".window_minutes", cond.WindowMinutes, "must not be negative")
		}
		if cond.Kind == models.ConditionCustom && cond.Expression == "" {
			return errors.NewValidationError(field+".expression", cond.Expression, "custom conditions need a metric name")
		}
	}
	return nil
}

// Add validates, registers and persists a rule. If persistence fails the
// registration is rolled back, restoring any rule it replaced.
func (r *RuleRegistry) Add(ctx context.Context, rule *models.AlertRule) error {
	if err := Validate(rule); err != nil {
		return err
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	rule = rule.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	previous, replaced := r.rules[rule.ID]
	r.rules[rule.ID] = rule

	if err := r.store.SaveRule(ctx, rule); err != nil {
		if replaced {
			r.rules[rule.ID] = previous
		} else {
			delete(r.rules, rule.ID)
		}

		err = errors.NewRuleError(rule.ID, "add", fmt.Errorf("%w: %v", errors.ErrPersistence, err))
		logging.LogRuleChange(r.logger, rule.ID, "add", err)
		return err
	}

	logging.LogRuleChange(r.logger, rule.ID, "add", nil)
	r.metrics.SetRules(len(r.rules))
	return nil
}

// Remove deletes a rule from the store and the registry.
func (r *RuleRegistry) Remove(ctx context.Context, ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[ruleID]; !ok {
		return errors.NewRuleError(ruleID, "remove", errors.ErrRuleNotFound)
	}
	if err := r.store.DeleteRule(ctx, ruleID); err != nil && !errors.Is(err, errors.ErrRuleNotFound) {
		err = errors.NewRuleError(ruleID, "remove", fmt.Errorf("%w: %v", errors.ErrPersistence, err))
		logging.LogRuleChange(r.logger, ruleID, "remove", err)
		return err
	}
	delete(r.rules, ruleID)

	logging.LogRuleChange(r.logger, ruleID, "remove", nil)
	r.metrics.SetRules(len(r.rules))
	return nil
}

// Enable enables a rule.
func (r *RuleRegistry) Enable(ctx context.Context, ruleID string) error {
	return r.setEnabled(ctx, ruleID, true)
}

// Disable disables a rule.
func (r *RuleRegistry) Disable(ctx context.Context, ruleID string) error {
	return r.setEnabled(ctx, ruleID, false)
}

func (r *RuleRegistry) setEnabled(ctx context.Context, ruleID string, enabled bool) error {
	op := "disable"
	if enabled {
		op = "enable"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.rules[ruleID]
	if !ok {
		return errors.NewRuleError(ruleID, op, errors.ErrRuleNotFound)
	}
	if current.Enabled == enabled {
		return nil
	}

	updated := current.Clone()
	updated.Enabled = enabled
	if err := r.store.SaveRule(ctx, updated); err != nil {
		err = errors.NewRuleError(ruleID, op, fmt.Errorf("%w: %v", errors.ErrPersistence, err))
		logging.LogRuleChange(r.logger, ruleID, op, err)
		return err
	}
	r.rules[ruleID] = updated

	logging.LogRuleChange(r.logger, ruleID, op, nil)
	return nil
}

// Get returns a copy of a rule.
func (r *RuleRegistry) Get(ruleID string) (*models.AlertRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[ruleID]
	if !ok {
		return nil, errors.NewRuleError(ruleID, "get", errors.ErrRuleNotFound)
	}
	return rule.Clone(), nil
}

// List returns copies of all rules ordered by creation time then ID.
func (r *RuleRegistry) List() []*models.AlertRule {
	return r.collect(false)
}

// Enabled returns copies of the enabled rules in the same order as List.
func (r *RuleRegistry) Enabled() []*models.AlertRule {
	return r.collect(true)
}

func (r *RuleRegistry) collect(enabledOnly bool) []*models.AlertRule {
	r.mu.RLock()
	out := make([]*models.AlertRule, 0, len(r.rules))
	for _, rule := range r.rules {
		if enabledOnly && !rule.Enabled {
			continue
		}
		out = append(out, rule.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of registered rules.
func (r *RuleRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// MarkTriggered records a firing of condition condIdx at the given time and
// returns an updated copy of the rule. It returns false while the rule is
// cooling down, and when the stored rule no longer matches the evaluated
// condition (replaced or disabled since the scan copy was taken).
func (r *RuleRegistry) MarkTriggered(ruleID string, condIdx int, evaluated models.AlertCondition, at time.Time) (*models.AlertRule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[ruleID]
	if !ok || !rule.Enabled || condIdx < 0 || condIdx >= len(rule.Conditions) {
		return nil, false
	}
	cond := &rule.Conditions[condIdx]
	if !cond.Enabled || !cond.SameDefinition(evaluated) {
		return nil, false
	}
	if rule.InCooldown(at) {
		return nil, false
	}

	ts := at
	rule.LastTriggered = &ts
	condTs := at
	cond.LastTriggered = &condTs
	cond.TriggerCount++
	return rule.Clone(), true
}

// Persist saves the registry's current copy of a rule. Used after triggers,
// where failures are logged by the caller and not rolled back.
func (r *RuleRegistry) Persist(ctx context.Context, ruleID string) error {
	rule, err := r.Get(ruleID)
	if err != nil {
		return err
	}
	return r.store.SaveRule(ctx, rule)
}

// Load replaces the registry's contents with the rules in the store.
// Invalid stored rules are skipped with a warning.
func (r *RuleRegistry) Load(ctx context.Context) (int, error) {
	rules, err := r.store.LoadRules(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "loading rules")
	}

	loaded := make(map[string]*models.AlertRule, len(rules))
	for _, rule := range rules {
		if err := Validate(rule); err != nil {
			r.logger.Warn().Err(err).Str("rule_id", rule.ID).Msg("Skipping invalid stored rule")
			continue
		}
		loaded[rule.ID] = rule
	}

	r.mu.Lock()
	r.rules = loaded
	r.mu.Unlock()

	r.metrics.SetRules(len(loaded))
	r.logger.Info().Int("rules", len(loaded)).Msg("Rules loaded")
	return len(loaded), nil
}
