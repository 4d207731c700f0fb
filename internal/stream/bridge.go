package stream

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"market-alerts/internal/errors"
	"market-alerts/internal/metrics"
	"market-alerts/internal/models"
)

// Sink receives validated snapshots. SnapshotStore implements it.
type Sink interface {
	Update(instrumentID string, snap models.Snapshot, ts time.Time)
}

// BridgeConfig holds configuration for the AlertBridge.
type BridgeConfig struct {
	// BufferSize is the size of the asynchronous publish buffer.
	BufferSize int
}

// DefaultBridgeConfig returns the default bridge configuration.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{BufferSize: 1000}
}

// AlertBridge adapts pushed market data into SnapshotStore updates.
// Producers either call PushSnapshot synchronously or Publish into a buffered
// channel drained by the bridge's own goroutine.
type AlertBridge struct {
	sink    Sink
	logger  zerolog.Logger
	metrics *metrics.Metrics

	updates chan models.SnapshotUpdate
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	accepted atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

// NewAlertBridge creates a bridge that writes into sink.
func NewAlertBridge(sink Sink, logger zerolog.Logger, m *metrics.Metrics) *AlertBridge {
	return NewAlertBridgeWithConfig(sink, logger, m, DefaultBridgeConfig())
}

// NewAlertBridgeWithConfig creates a bridge with custom configuration.
func NewAlertBridgeWithConfig(sink Sink, logger zerolog.Logger, m *metrics.Metrics, config BridgeConfig) *AlertBridge {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBridgeConfig().BufferSize
	}
	return &AlertBridge{
		sink:    sink,
		logger:  logger.With().Str("component", "bridge").Logger(),
		metrics: m,
		updates: make(chan models.SnapshotUpdate, config.BufferSize),
	}
}

// PushSnapshot validates an update and writes it to the sink. A zero ts falls
// back to the update's own timestamp, then to the sink's clock.
func (b *AlertBridge) PushSnapshot(update models.SnapshotUpdate, ts time.Time) error {
	if err := validateUpdate(update); err != nil {
		b.rejected.Add(1)
		b.metrics.SnapshotIngested("rejected")
		b.logger.Debug().Err(err).Str("instrument", update.InstrumentID).Msg("Snapshot rejected")
		return err
	}
	if ts.IsZero() {
		ts = update.Timestamp
	}
	b.sink.Update(update.InstrumentID, update.Snapshot(ts), ts)
	b.accepted.Add(1)
	b.metrics.SnapshotIngested("accepted")
	return nil
}

// Publish enqueues an update without blocking. It returns false when the
// buffer is full and the update was dropped.
func (b *AlertBridge) Publish(update models.SnapshotUpdate) bool {
	select {
	case b.updates <- update:
		return true
	default:
		b.dropped.Add(1)
		b.metrics.SnapshotIngested("dropped")
		return false
	}
}

// Start begins draining the publish buffer.
func (b *AlertBridge) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true

	ctx, b.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	b.done = done
	go func() {
		defer close(done)
		b.Run(ctx, b.updates)
	}()
}

// Stop stops the drain loop and waits for it to exit. Start blocks until
// the previous loop is gone.
func (b *AlertBridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}

	b.cancel()
	<-b.done
	b.started = false
}

// Run pushes every update received on in until ctx is done or in is closed.
func (b *AlertBridge) Run(ctx context.Context, in <-chan models.SnapshotUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-in:
			if !ok {
				return
			}
			_ = b.PushSnapshot(update, time.Time{})
		}
	}
}

// BridgeStats contains bridge counters.
type BridgeStats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Dropped  uint64 `json:"dropped"`
	Buffered int    `json:"buffered"`
}

// Stats returns bridge counters.
func (b *AlertBridge) Stats() BridgeStats {
	return BridgeStats{
		Accepted: b.accepted.Load(),
		Rejected: b.rejected.Load(),
		Dropped:  b.dropped.Load(),
		Buffered: len(b.updates),
	}
}

func validateUpdate(u models.SnapshotUpdate) error {
	if u.InstrumentID == "" {
		return errors.NewSnapshotError("", "missing instrument id")
	}
	if !finite(u.Price) || u.Price < 0 {
		return errors.NewSnapshotError(u.InstrumentID, "price must be a non-negative number")
	}
	if !finite(u.Volume) || u.Volume < 0 {
		return errors.NewSnapshotError(u.InstrumentID, "volume must be a non-negative number")
	}
	for _, v := range []*float64{u.Bid, u.Ask, u.High, u.Low, u.VWAP, u.ChangePercent} {
		if v != nil && !finite(*v) {
			return errors.NewSnapshotError(u.InstrumentID, "optional field is not a finite number")
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
