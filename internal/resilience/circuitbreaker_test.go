package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"market-alerts/internal/errors"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("slack", CircuitBreakerConfig{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		Clock:            clock.Now,
	})

	fail := func(context.Context) error { return errors.New("boom") }
	ok := func(context.Context) error { return nil }

	assert.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, CircuitOpen, cb.State())

	calls := 0
	err := cb.Execute(ctx, func(context.Context) error { calls++; return nil })
	assert.True(t, errors.Is(err, errors.ErrCircuitOpen))
	assert.Zero(t, calls, "open circuit rejects without calling")

	clock.now = clock.now.Add(time.Minute)
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, CircuitClosed, cb.State())

	stats := cb.Stats()
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalRejected)
	assert.Equal(t, int64(2), stats.TotalFailures)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("sms", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Second, Clock: clock.Now})

	fail := func(context.Context) error { return errors.New("boom") }
	cb.Execute(ctx, fail)
	assert.Equal(t, CircuitOpen, cb.State())

	clock.now = clock.now.Add(2 * time.Second)
	cb.Execute(ctx, fail)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_DisabledWithZeroThreshold(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("email", CircuitBreakerConfig{})

	for i := 0; i < 10; i++ {
		cb.Execute(ctx, func(context.Context) error { return errors.New("boom") })
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreaker("webhook", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())
}
