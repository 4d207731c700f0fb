// Package engine wires the alert engine's components together and owns their
// lifecycle.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"market-alerts/internal/alerts"
	"market-alerts/internal/api"
	"market-alerts/internal/config"
	"market-alerts/internal/logging"
	"market-alerts/internal/metrics"
	"market-alerts/internal/models"
	"market-alerts/internal/notify"
	"market-alerts/internal/resilience"
	"market-alerts/internal/store"
	"market-alerts/internal/stream"
	"market-alerts/pkg/utils"
)

// Options overrides components normally built from configuration.
type Options struct {
	// Store replaces the store selected by config.Store.
	Store store.AlertStore
	// Channels replaces the notification channels built from config.
	Channels []notify.Channel
	// Clock drives the snapshot cache and the monitoring loop. Defaults to time.Now.
	Clock func() time.Time
}

// Engine owns every component of the alert engine.
type Engine struct {
	config *config.Config
	logger zerolog.Logger

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics

	store      store.AlertStore
	snapshots  *stream.SnapshotStore
	bridge     *stream.AlertBridge
	feed       *stream.WebSocketFeed
	evaluator  *alerts.Evaluator
	registry   *alerts.RuleRegistry
	dispatcher *notify.Dispatcher
	monitor    *alerts.Monitor
	api        *api.Server

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	feedDone  chan struct{}
}

// OpenStore opens the store selected by configuration.
func OpenStore(cfg config.StoreConfig) (store.AlertStore, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite", "":
		return store.NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// New builds an engine from configuration. Nothing runs until Start.
func New(cfg *config.Config, logger zerolog.Logger, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	st := opts.Store
	if st == nil {
		var err error
		if st, err = OpenStore(cfg.Store); err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	e := &Engine{
		config:       cfg,
		logger:       logging.WithComponent(logger, "engine"),
		promRegistry: promRegistry,
		metrics:      m,
		store:        st,
	}

	e.snapshots = stream.NewSnapshotStoreWithConfig(stream.StoreConfig{
		HistoryCapacity: cfg.Engine.HistoryCapacity,
		StalenessTTL:    cfg.Engine.StalenessTTL,
		Clock:           clock,
	})
	e.bridge = stream.NewAlertBridgeWithConfig(e.snapshots, logger, m, stream.BridgeConfig{BufferSize: cfg.Feed.BufferSize})
	if cfg.Feed.Enabled {
		e.feed = stream.NewWebSocketFeed(stream.FeedConfig{
			URL:          cfg.Feed.URL,
			Symbols:      cfg.Feed.Symbols,
			InitialDelay: cfg.Feed.InitialDelay,
			MaxDelay:     cfg.Feed.MaxDelay,
			ReadTimeout:  cfg.Feed.ReadTimeout,
		}, e.bridge, logger)
	}

	channels := opts.Channels
	if channels == nil {
		channels = notify.NewChannels(cfg.Notifications, retryConfig(cfg.Dispatcher))
	}
	e.dispatcher = notify.NewDispatcher(dispatcherConfig(cfg), channels, logger, m)

	e.evaluator = alerts.NewEvaluator()
	e.registry = alerts.NewRegistry(st, logger, m)
	e.monitor = alerts.NewMonitor(
		alerts.MonitorConfig{TickInterval: cfg.Engine.TickInterval, Clock: clock},
		e.registry, e.evaluator, e.snapshots, e.dispatcher, st, logger, m,
	)

	if cfg.API.Enabled {
		e.api = api.NewServer(api.Deps{
			Registry: e.registry,
			Store:    st,
			Pusher:   e.bridge,
			Status:   func() interface{} { return e.Status() },
			Gatherer: promRegistry,
		}, logger)
	}

	return e, nil
}

func retryConfig(cfg config.DispatcherConfig) utils.RetryConfig {
	retry := utils.DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryInitialWait > 0 {
		retry.InitialDelay = cfg.RetryInitialWait
	}
	return retry
}

func dispatcherConfig(cfg *config.Config) notify.DispatcherConfig {
	breaker := resilience.DefaultCircuitBreakerConfig()
	breaker.FailureThreshold = cfg.Dispatcher.BreakerFailures
	if cfg.Dispatcher.BreakerCooldown > 0 {
		breaker.Timeout = cfg.Dispatcher.BreakerCooldown
	}
	return notify.DispatcherConfig{
		Workers:       cfg.Dispatcher.Workers,
		QueueSize:     cfg.Dispatcher.QueueSize,
		SendTimeout:   cfg.Dispatcher.SendTimeout,
		MaxInFlight:   cfg.Dispatcher.MaxInFlight,
		Breaker:       breaker,
		RatePerMinute: notify.RatesPerMinute(cfg.Notifications),
	}
}

// Start loads persisted rules, imports the configured rules file and starts
// every background component.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	n, err := e.registry.Load(ctx)
	if err != nil {
		return err
	}
	e.logger.Info().Int("rules", n).Msg("Rules loaded")

	if path := e.config.Engine.RulesFile; path != "" {
		rules, err := alerts.LoadRuleFile(path)
		if err != nil {
			return err
		}
		added, err := e.ImportRules(ctx, rules)
		if err != nil {
			return err
		}
		e.logger.Info().Str("file", path).Int("imported", added).Msg("Rules file imported")
	}

	if e.api != nil {
		if err := e.api.Start(e.config.API.Listen); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.dispatcher.Start()
	e.bridge.Start(runCtx)
	e.monitor.Start(runCtx)

	if e.feed != nil {
		e.feedDone = make(chan struct{})
		go func(done chan struct{}) {
			defer close(done)
			e.feed.Run(runCtx)
		}(e.feedDone)
	}

	e.running = true
	e.startedAt = time.Now()
	e.logger.Info().Msg("Engine started")
	return nil
}

// Shutdown stops every component in reverse dependency order and closes the
// store. The monitor is stopped first so no trigger is produced afterwards.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	if e.running {
		e.monitor.Stop()
		e.cancel()
		if e.feedDone != nil {
			<-e.feedDone
			e.feedDone = nil
		}
		e.bridge.Stop()
		e.dispatcher.Stop()
		if e.api != nil {
			if err := e.api.Shutdown(ctx); err != nil {
				firstErr = err
			}
		}
		e.running = false
	}

	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	e.logger.Info().Msg("Engine stopped")
	return firstErr
}

// ImportRules adds rules, replacing rules with the same ID. A rule without a
// matching ID whose name is already registered is skipped so re-importing a
// file of ID-less rules does not duplicate them.
func (e *Engine) ImportRules(ctx context.Context, rules []*models.AlertRule) (int, error) {
	return ImportRules(ctx, e.registry, rules, e.logger)
}

// ImportRules adds rules to registry with the semantics of Engine.ImportRules.
func ImportRules(ctx context.Context, registry *alerts.RuleRegistry, rules []*models.AlertRule, logger zerolog.Logger) (int, error) {
	names := make(map[string]bool)
	for _, r := range registry.List() {
		names[r.Name] = true
	}

	added := 0
	for _, rule := range rules {
		if _, err := registry.Get(rule.ID); err != nil && names[rule.Name] {
			logger.Debug().Str("rule", rule.Name).Msg("Rule already registered, skipping")
			continue
		}
		if err := registry.Add(ctx, rule); err != nil {
			return added, err
		}
		names[rule.Name] = true
		added++
	}
	return added, nil
}

// Status summarises the engine.
type Status struct {
	Running      bool                             `json:"running"`
	StartedAt    *time.Time                       `json:"started_at,omitempty"`
	TotalRules   int                              `json:"total_rules"`
	EnabledRules int                              `json:"enabled_rules"`
	Instruments  int                              `json:"tracked_instruments"`
	DataSources  int                              `json:"data_sources"`
	Callbacks    int                              `json:"callbacks"`
	Dispatcher   notify.DispatcherStats           `json:"dispatcher"`
	Channels     []resilience.CircuitBreakerStats `json:"channels"`
	Bridge       stream.BridgeStats               `json:"bridge"`
	Feed         *stream.FeedStats                `json:"feed,omitempty"`
}

// Status returns a snapshot of the engine's state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running, startedAt := e.running, e.startedAt
	e.mu.Unlock()

	s := Status{
		Running:      running && e.monitor.Running(),
		TotalRules:   e.registry.Len(),
		EnabledRules: len(e.registry.Enabled()),
		Instruments:  len(e.snapshots.Instruments()),
		DataSources:  e.monitor.DataSources(),
		Callbacks:    e.monitor.Callbacks(),
		Dispatcher:   e.dispatcher.Stats(),
		Channels:     e.dispatcher.Breakers(),
		Bridge:       e.bridge.Stats(),
	}
	if running {
		s.StartedAt = &startedAt
	}
	if e.feed != nil {
		fs := e.feed.Stats()
		s.Feed = &fs
	}
	return s
}

// Registry returns the rule registry.
func (e *Engine) Registry() *alerts.RuleRegistry { return e.registry }

// Store returns the persistence store.
func (e *Engine) Store() store.AlertStore { return e.store }

// Bridge returns the ingestion bridge.
func (e *Engine) Bridge() *stream.AlertBridge { return e.bridge }

// Snapshots returns the snapshot cache.
func (e *Engine) Snapshots() *stream.SnapshotStore { return e.snapshots }

// Evaluator returns the condition evaluator, for registering custom metrics.
func (e *Engine) Evaluator() *alerts.Evaluator { return e.evaluator }

// Monitor returns the monitoring loop, for data sources and callbacks.
func (e *Engine) Monitor() *alerts.Monitor { return e.monitor }

// Dispatcher returns the notification dispatcher.
func (e *Engine) Dispatcher() *notify.Dispatcher { return e.dispatcher }

// Gatherer returns the Prometheus registry.
func (e *Engine) Gatherer() prometheus.Gatherer { return e.promRegistry }

// APIAddr returns the admin API's bound address, or "" when disabled.
func (e *Engine) APIAddr() string {
	if e.api == nil {
		return ""
	}
	return e.api.Addr()
}
