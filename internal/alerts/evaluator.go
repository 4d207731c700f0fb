// Package alerts provides rule management, condition evaluation and the
// background monitoring loop.
package alerts

import (
	"math"
	"sync"
	"time"

	"market-alerts/internal/analysis"
	"market-alerts/internal/models"
)

// Epsilon is the tolerance used by == and != comparisons.
const Epsilon = 1e-6

// CustomMetric computes a user supplied statistic for a custom condition.
// Returning false means the metric is unavailable.
type CustomMetric func(cond models.AlertCondition, current models.Snapshot, history []models.Snapshot, now time.Time) (float64, bool)

// Evaluator evaluates single conditions against market data.
type Evaluator struct {
	mu      sync.RWMutex
	customs map[string]CustomMetric
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{customs: make(map[string]CustomMetric)}
}

// RegisterCustom makes a named metric available to custom conditions.
func (e *Evaluator) RegisterCustom(name string, fn CustomMetric) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.customs[name] = fn
}

// Metric computes the raw value a condition compares against its threshold.
func (e *Evaluator) Metric(cond models.AlertCondition, current models.Snapshot, history []models.Snapshot, now time.Time) (float64, bool) {
	switch cond.Kind {
	case models.ConditionPriceAbove, models.ConditionPriceBelow:
		return current.Price, true
	case models.ConditionPercentChange:
		return analysis.PercentChange(current, history, cond.WindowMinutes, now)
	case models.ConditionVolumeSpike:
		return analysis.VolumeRate(current, history, cond.WindowMinutes, now)
	case models.ConditionVWAPDeviation:
		return analysis.VWAPDeviation(current, history, cond.WindowMinutes, now)
	case models.ConditionVolatilitySpike:
		return analysis.Volatility(current, history, cond.WindowMinutes, now)
	case models.ConditionSpread:
		return analysis.Spread(current)
	case models.ConditionMomentumShift:
		return analysis.Momentum(current, history, cond.WindowMinutes, now)
	case models.ConditionCustom:
		e.mu.RLock()
		fn, ok := e.customs[cond.Expression]
		e.mu.RUnlock()
		if !ok {
			return 0, false
		}
		return fn(cond, current, history, now)
	default:
		return 0, false
	}
}

// Evaluate returns the computed value and true only when the metric is
// available and the comparison holds.
func (e *Evaluator) Evaluate(cond models.AlertCondition, current models.Snapshot, history []models.Snapshot, now time.Time) (float64, bool) {
	value, ok := e.Metric(cond, current, history, now)
	if !ok || math.IsNaN(value) {
		return 0, false
	}
	if !Compare(cond.EffectiveOperator(), value, cond.Threshold) {
		return 0, false
	}
	return value, true
}

// Compare applies op to (value, threshold).
func Compare(op models.Operator, value, threshold float64) bool {
	switch op {
	case models.OpGreater:
		return value > threshold
	case models.OpLess:
		return value < threshold
	case models.OpGreaterEqual:
		return value >= threshold
	case models.OpLessEqual:
		return value <= threshold
	case models.OpEqual:
		return math.Abs(value-threshold) < Epsilon
	case models.OpNotEqual:
		return math.Abs(value-threshold) >= Epsilon
	default:
		return false
	}
}
