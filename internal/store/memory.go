package store

import (
	"context"
	"sort"
	"sync"

	"market-alerts/internal/errors"
	"market-alerts/internal/models"
)

// MemoryStore implements AlertStore in process memory. Failures can be
// injected per operation.
type MemoryStore struct {
	mu       sync.RWMutex
	rules    map[string]*models.AlertRule
	triggers []models.Trigger

	saveRuleErr    error
	saveTriggerErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string]*models.AlertRule)}
}

// FailSaveRule makes subsequent SaveRule calls return err. nil clears it.
func (m *MemoryStore) FailSaveRule(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveRuleErr = err
}

// FailSaveTrigger makes subsequent SaveTrigger calls return err. nil clears it.
func (m *MemoryStore) FailSaveTrigger(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveTriggerErr = err
}

// SaveRule stores a copy of rule.
func (m *MemoryStore) SaveRule(ctx context.Context, rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveRuleErr != nil {
		return m.saveRuleErr
	}
	m.rules[rule.ID] = rule.Clone()
	return nil
}

// LoadRules returns copies of all rules ordered by creation time.
func (m *MemoryStore) LoadRules(ctx context.Context) ([]*models.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rules := make([]*models.AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		rules = append(rules, r.Clone())
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].ID < rules[j].ID
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

// DeleteRule removes a rule.
func (m *MemoryStore) DeleteRule(ctx context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[ruleID]; !ok {
		return errors.NewRuleError(ruleID, "delete", errors.ErrRuleNotFound)
	}
	delete(m.rules, ruleID)
	return nil
}

// SaveTrigger appends a trigger.
func (m *MemoryStore) SaveTrigger(ctx context.Context, trigger *models.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveTriggerErr != nil {
		return m.saveTriggerErr
	}
	m.triggers = append(m.triggers, *trigger)
	return nil
}

// QueryTriggerHistory returns matching triggers newest first.
func (m *MemoryStore) QueryTriggerHistory(ctx context.Context, filter TriggerFilter) ([]models.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Trigger
	for i := len(m.triggers) - 1; i >= 0; i-- {
		t := m.triggers[i]
		if filter.InstrumentID != "" && t.InstrumentID != filter.InstrumentID {
			continue
		}
		if filter.RuleID != "" && t.RuleID != filter.RuleID {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit := filter.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
