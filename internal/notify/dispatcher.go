package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"market-alerts/internal/errors"
	"market-alerts/internal/logging"
	"market-alerts/internal/metrics"
	"market-alerts/internal/models"
	"market-alerts/internal/resilience"
)

// Status is the outcome of one channel send.
type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result is the outcome of sending one trigger to one channel.
type Result struct {
	Channel  models.ChannelKind
	Status   Status
	Err      error
	Duration time.Duration
}

// DispatcherConfig holds dispatcher configuration.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
	// MaxInFlight bounds concurrent channel sends for one trigger.
	MaxInFlight int
	Breaker     resilience.CircuitBreakerConfig
	// RatePerMinute limits sends per channel. Missing or 0 means unlimited.
	RatePerMinute map[models.ChannelKind]int
}

// DefaultDispatcherConfig returns the default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:     4,
		QueueSize:   256,
		SendTimeout: 10 * time.Second,
		MaxInFlight: 4,
		Breaker:     resilience.DefaultCircuitBreakerConfig(),
	}
}

type job struct {
	trigger  models.Trigger
	channels []models.ChannelKind
}

// Dispatcher fans triggers out to notification channels. Triggers are queued
// by Enqueue and sent by a fixed pool of workers; each channel is attempted
// independently so one failing channel never blocks the others.
type Dispatcher struct {
	config   DispatcherConfig
	channels map[models.ChannelKind]Channel
	breakers map[models.ChannelKind]*resilience.CircuitBreaker
	limiters map[models.ChannelKind]*rate.Limiter
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	queue chan job
	mu    sync.Mutex
	state int // 0 idle, 1 running, 2 stopped
	quit  chan struct{}
	wg    sync.WaitGroup

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	sent     atomic.Uint64
	failed   atomic.Uint64
	skipped  atomic.Uint64
}

// NewDispatcher creates a dispatcher over the given channels.
func NewDispatcher(config DispatcherConfig, channels []Channel, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = defaults.MaxInFlight
	}

	d := &Dispatcher{
		config:   config,
		channels: make(map[models.ChannelKind]Channel, len(channels)),
		breakers: make(map[models.ChannelKind]*resilience.CircuitBreaker, len(channels)),
		limiters: make(map[models.ChannelKind]*rate.Limiter),
		logger:   logging.WithComponent(logger, "dispatcher"),
		metrics:  m,
		queue:    make(chan job, config.QueueSize),
		quit:     make(chan struct{}),
	}

	for _, ch := range channels {
		kind := ch.Kind()
		d.channels[kind] = ch
		d.breakers[kind] = resilience.NewCircuitBreaker(string(kind), config.Breaker)
		if n := config.RatePerMinute[kind]; n > 0 {
			d.limiters[kind] = rate.NewLimiter(rate.Limit(float64(n)/60.0), n)
		}
	}
	return d
}

// Start starts the worker pool.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != 0 {
		return
	}
	d.state = 1

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info().Int("workers", d.config.Workers).Int("queue_size", d.config.QueueSize).Msg("Dispatcher started")
}

// Stop stops the workers after their in-flight sends finish. Triggers still
// queued are abandoned.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.state != 1 {
		d.state = 2
		d.mu.Unlock()
		return
	}
	d.state = 2
	close(d.quit)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info().Int("abandoned", len(d.queue)).Msg("Dispatcher stopped")
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.quit:
			return
		case j := <-d.queue:
			d.metrics.SetQueueDepth(len(d.queue))
			d.Dispatch(context.Background(), j.trigger, j.channels)
		}
	}
}

// Enqueue queues a trigger without blocking. It returns false when the
// dispatcher is stopped or the queue is full.
func (d *Dispatcher) Enqueue(t models.Trigger, channels []models.ChannelKind) bool {
	d.mu.Lock()
	stopped := d.state == 2
	d.mu.Unlock()
	if stopped {
		return false
	}

	select {
	case d.queue <- job{trigger: t, channels: append([]models.ChannelKind(nil), channels...)}:
		d.enqueued.Add(1)
		d.metrics.SetQueueDepth(len(d.queue))
		return true
	default:
		d.dropped.Add(1)
		d.metrics.DispatchDropped()
		d.logger.Warn().Str("trigger_id", t.ID).Str("rule_id", t.RuleID).Msg("Dispatch queue full, trigger dropped")
		return false
	}
}

// Dispatch sends a trigger to each channel concurrently and returns one
// result per requested channel, in request order. Duplicate channels are
// sent once.
func (d *Dispatcher) Dispatch(ctx context.Context, t models.Trigger, channels []models.ChannelKind) []Result {
	channels = unique(channels)
	results := make([]Result, len(channels))
	message := RenderMessage(t)

	p := pool.New().WithMaxGoroutines(d.config.MaxInFlight)
	for i, kind := range channels {
		i, kind := i, kind
		p.Go(func() {
			results[i] = d.send(ctx, kind, message, t)
		})
	}
	p.Wait()

	return results
}

// send attempts one channel. It never panics.
func (d *Dispatcher) send(ctx context.Context, kind models.ChannelKind, message string, t models.Trigger) (res Result) {
	start := time.Now()
	res = Result{Channel: kind}

	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Err = errors.NewChannelError(string(kind), fmt.Errorf("panic: %v", r))
		}
		res.Duration = time.Since(start)
		d.record(t, res)
	}()

	ch, ok := d.channels[kind]
	if !ok {
		res.Status = StatusFailed
		res.Err = errors.NewChannelError(string(kind), errors.ErrChannelNotConfigured)
		return res
	}
	if !ch.IsEnabled() {
		res.Status = StatusSkipped
		res.Err = errors.NewChannelError(string(kind), errors.ErrChannelDisabled)
		return res
	}
	if lim := d.limiters[kind]; lim != nil && !lim.Allow() {
		res.Status = StatusSkipped
		res.Err = errors.NewChannelError(string(kind), errors.ErrRateLimited)
		return res
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	err := d.breakers[kind].Execute(sendCtx, func(ctx context.Context) error {
		return ch.Send(ctx, message, t)
	})
	if err != nil {
		if sendCtx.Err() == context.DeadlineExceeded {
			err = errors.NewChannelError(string(kind), fmt.Errorf("%w: %v", errors.ErrTimeout, err))
		}
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	res.Status = StatusSent
	return res
}

func (d *Dispatcher) record(t models.Trigger, res Result) {
	switch res.Status {
	case StatusSent:
		d.sent.Add(1)
	case StatusFailed:
		d.failed.Add(1)
	case StatusSkipped:
		d.skipped.Add(1)
	}
	d.metrics.NotificationSent(string(res.Channel), string(res.Status))
	logging.LogDispatch(d.logger, t.ID, string(res.Channel), string(res.Status), res.Duration, failureOnly(res))
}

func failureOnly(res Result) error {
	if res.Status == StatusFailed {
		return res.Err
	}
	return nil
}

func unique(channels []models.ChannelKind) []models.ChannelKind {
	seen := make(map[models.ChannelKind]bool, len(channels))
	out := make([]models.ChannelKind, 0, len(channels))
	for _, c := range channels {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// DispatcherStats contains dispatcher counters.
type DispatcherStats struct {
	Workers    int    `json:"workers"`
	QueueDepth int    `json:"queue_depth"`
	QueueSize  int    `json:"queue_size"`
	Enqueued   uint64 `json:"enqueued"`
	Dropped    uint64 `json:"dropped"`
	Sent       uint64 `json:"sent"`
	Failed     uint64 `json:"failed"`
	Skipped    uint64 `json:"skipped"`
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Workers:    d.config.Workers,
		QueueDepth: len(d.queue),
		QueueSize:  d.config.QueueSize,
		Enqueued:   d.enqueued.Load(),
		Dropped:    d.dropped.Load(),
		Sent:       d.sent.Load(),
		Failed:     d.failed.Load(),
		Skipped:    d.skipped.Load(),
	}
}

// Breakers returns the state of every channel's circuit breaker.
func (d *Dispatcher) Breakers() []resilience.CircuitBreakerStats {
	out := make([]resilience.CircuitBreakerStats, 0, len(d.breakers))
	for _, kind := range models.ChannelKinds() {
		if cb, ok := d.breakers[kind]; ok {
			out = append(out, cb.Stats())
		}
	}
	return out
}
