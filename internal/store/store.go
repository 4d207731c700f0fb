// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"market-alerts/internal/models"
)

// DefaultHistoryLimit is applied when a trigger query does not set a limit.
const DefaultHistoryLimit = 100

// AlertStore defines the interface for rule and trigger persistence.
type AlertStore interface {
	// Rules
	SaveRule(ctx context.Context, rule *models.AlertRule) error
	LoadRules(ctx context.Context) ([]*models.AlertRule, error)
	DeleteRule(ctx context.Context, ruleID string) error

	// Triggers
	SaveTrigger(ctx context.Context, trigger *models.Trigger) error
	QueryTriggerHistory(ctx context.Context, filter TriggerFilter) ([]models.Trigger, error)

	// Lifecycle
	Close() error
}

// TriggerFilter represents filters for querying trigger history.
type TriggerFilter struct {
	InstrumentID string
	RuleID       string
	Limit        int
}

func (f TriggerFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return f.Limit
}
