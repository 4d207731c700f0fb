package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"market-alerts/internal/logging"
	"market-alerts/internal/metrics"
	"market-alerts/internal/models"
	"market-alerts/internal/store"
)

// DefaultTickInterval is the monitoring cadence.
const DefaultTickInterval = time.Second

// SnapshotSource is the read side of the snapshot cache.
type SnapshotSource interface {
	CurrentAt(instrumentID string, now time.Time) (models.Snapshot, bool)
	History(instrumentID string) []models.Snapshot
}

// DataSource supplies a snapshot when the cache has none or it is stale.
type DataSource interface {
	Snapshot(ctx context.Context, instrumentID string) (*models.Snapshot, error)
}

// DataSourceFunc adapts a function to DataSource.
type DataSourceFunc func(ctx context.Context, instrumentID string) (*models.Snapshot, error)

// Snapshot calls f.
func (f DataSourceFunc) Snapshot(ctx context.Context, instrumentID string) (*models.Snapshot, error) {
	return f(ctx, instrumentID)
}

// Dispatcher accepts triggers for asynchronous delivery. Enqueue must not block.
type Dispatcher interface {
	Enqueue(trigger models.Trigger, channels []models.ChannelKind) bool
}

// MonitorConfig holds monitoring loop configuration.
type MonitorConfig struct {
	TickInterval time.Duration
	// Clock returns the evaluation time for each tick. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{TickInterval: DefaultTickInterval, Clock: time.Now}
}

// Monitor periodically evaluates enabled rules and hands triggers to the
// dispatcher.
type Monitor struct {
	config     MonitorConfig
	registry   *RuleRegistry
	evaluator  *Evaluator
	snapshots  SnapshotSource
	dispatcher Dispatcher
	store      store.AlertStore
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	hookMu    sync.RWMutex
	sources   map[string]DataSource
	callbacks []func(models.Trigger)
}

// NewMonitor creates a stopped monitor.
func NewMonitor(
	config MonitorConfig,
	registry *RuleRegistry,
	evaluator *Evaluator,
	snapshots SnapshotSource,
	dispatcher Dispatcher,
	st store.AlertStore,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *Monitor {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Monitor{
		config:     config,
		registry:   registry,
		evaluator:  evaluator,
		snapshots:  snapshots,
		dispatcher: dispatcher,
		store:      st,
		logger:     logging.WithComponent(logger, "monitor"),
		metrics:    m,
		sources:    make(map[string]DataSource),
	}
}

// SetDataSource registers a fallback data source for an instrument.
func (m *Monitor) SetDataSource(instrumentID string, ds DataSource) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.sources[instrumentID] = ds
}

// DataSources returns the number of registered data sources.
func (m *Monitor) DataSources() int {
	m.hookMu.RLock()
	defer m.hookMu.RUnlock()
	return len(m.sources)
}

// OnTrigger registers a callback run for every trigger after dispatch hand-off.
func (m *Monitor) OnTrigger(fn func(models.Trigger)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Callbacks returns the number of registered trigger callbacks.
func (m *Monitor) Callbacks() int {
	m.hookMu.RLock()
	defer m.hookMu.RUnlock()
	return len(m.callbacks)
}

// Start launches the background loop. Calling it while running logs a
// warning and does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.logger.Warn().Msg("Monitor already running")
		return
	}
	m.running = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)

	m.logger.Info().Dur("interval", m.config.TickInterval).Msg("Monitor started")
}

// Stop signals the loop and waits for it to exit. No trigger is produced
// after Stop returns. The lock is held until the loop has exited so a
// concurrent Start cannot overlap a draining loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}

	m.cancel()
	<-m.done
	m.running = false
	m.logger.Info().Msg("Monitor stopped")
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx, m.config.Clock())
		}
	}
}

// Tick runs one scan over all enabled rules at the given time and returns the
// triggers it produced.
func (m *Monitor) Tick(ctx context.Context, now time.Time) []models.Trigger {
	start := time.Now()
	defer func() { m.metrics.ObserveScan(time.Since(start)) }()

	var triggers []models.Trigger
	for _, rule := range m.registry.Enabled() {
		if ctx.Err() != nil {
			break
		}
		if rule.InCooldown(now) {
			continue
		}
		if t, ok := m.evaluateRule(ctx, rule, now); ok {
			triggers = append(triggers, t)
		}
	}
	return triggers
}

// evaluateRule evaluates one rule, recovering from any panic so other rules
// in the same scan are unaffected.
func (m *Monitor) evaluateRule(ctx context.Context, rule *models.AlertRule, now time.Time) (trigger models.Trigger, fired bool) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.EvaluationFailed()
			log := logging.WithRule(m.logger, rule.ID)
			log.Error().
				Interface("panic", r).
				Msg("Rule evaluation panicked")
			fired = false
		}
	}()

	for idx, cond := range rule.Conditions {
		if !cond.Enabled {
			continue
		}
		current, ok := m.snapshot(ctx, cond.InstrumentID, now)
		if !ok {
			continue
		}
		history := m.snapshots.History(cond.InstrumentID)
		value, ok := m.evaluator.Evaluate(cond, current, history, now)
		if !ok {
			continue
		}
		return m.fire(ctx, rule, idx, current, len(history), value, now)
	}
	return models.Trigger{}, false
}

// snapshot returns the cached snapshot for an instrument, falling back to its
// data source when the cache entry is missing or stale.
func (m *Monitor) snapshot(ctx context.Context, instrumentID string, now time.Time) (models.Snapshot, bool) {
	if snap, ok := m.snapshots.CurrentAt(instrumentID, now); ok {
		return snap, true
	}

	m.hookMu.RLock()
	ds := m.sources[instrumentID]
	m.hookMu.RUnlock()
	if ds == nil {
		return models.Snapshot{}, false
	}

	snap, err := ds.Snapshot(ctx, instrumentID)
	if err != nil {
		log := logging.WithInstrument(m.logger, instrumentID)
		log.Debug().Err(err).Msg("Data source failed")
		return models.Snapshot{}, false
	}
	if snap == nil {
		return models.Snapshot{}, false
	}
	return *snap, true
}

// fire records the trigger for the condition that was evaluated. The trigger
// is dropped when the rule was replaced or disabled since the scan began.
func (m *Monitor) fire(ctx context.Context, rule *models.AlertRule, idx int, current models.Snapshot, historySize int, value float64, now time.Time) (models.Trigger, bool) {
	cond := rule.Conditions[idx]
	updated, ok := m.registry.MarkTriggered(rule.ID, idx, cond, now)
	if !ok {
		return models.Trigger{}, false
	}

	trigger := models.Trigger{
		ID:           uuid.NewString(),
		RuleID:       rule.ID,
		RuleName:     rule.Name,
		InstrumentID: cond.InstrumentID,
		Kind:         cond.Kind,
		Condition:    cond.Label(),
		Value:        value,
		Threshold:    cond.Threshold,
		Severity:     rule.Severity,
		Message: fmt.Sprintf("%s: %s condition met (%.4g %s %g)",
			cond.InstrumentID, cond.Kind, value, cond.EffectiveOperator(), cond.Threshold),
		Timestamp: now,
		Metadata: map[string]interface{}{
			"rule_name":      rule.Name,
			"snapshot":       current.Fields(),
			"history_size":   historySize,
			"window_minutes": cond.WindowMinutes,
			"trigger_count":  updated.Conditions[idx].TriggerCount,
		},
	}

	logging.LogTrigger(m.logger, trigger.ID, rule.ID, trigger.InstrumentID, string(trigger.Kind),
		string(trigger.Severity), value, cond.Threshold)
	m.metrics.TriggerFired(string(trigger.Severity))

	log := logging.WithRule(m.logger, rule.ID)
	if err := m.registry.Persist(ctx, rule.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to persist triggered rule")
	}
	if m.store != nil {
		if err := m.store.SaveTrigger(ctx, &trigger); err != nil {
			log.Warn().Err(err).Str("trigger_id", trigger.ID).Msg("Failed to save trigger")
		}
	}

	if m.dispatcher != nil && !m.dispatcher.Enqueue(trigger, updated.Channels) {
		log.Warn().Str("trigger_id", trigger.ID).Msg("Trigger not queued for dispatch")
	}

	m.runCallbacks(trigger)
	return trigger, true
}

func (m *Monitor) runCallbacks(trigger models.Trigger) {
	m.hookMu.RLock()
	callbacks := append([]func(models.Trigger){}, m.callbacks...)
	m.hookMu.RUnlock()

	for _, fn := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error().Interface("panic", r).Str("trigger_id", trigger.ID).Msg("Trigger callback panicked")
				}
			}()
			fn(trigger)
		}()
	}
}
