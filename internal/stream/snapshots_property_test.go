package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-alerts/internal/models"
)

var epoch = time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)

// Feature: market-alerts, Property 1: History ring eviction
// Validates: SnapshotStore history capacity
//
// Property: For any capacity N and any k >= 0, after inserting N+k snapshots
// the history holds exactly N entries and they are the most recent N, oldest first.
func TestProperty_RingEviction(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("history keeps the most recent N snapshots", prop.ForAll(
		func(capacity, extra int) bool {
			s := NewSnapshotStoreWithConfig(StoreConfig{HistoryCapacity: capacity})
			total := capacity + extra
			for i := 0; i < total; i++ {
				s.Update("X", models.Snapshot{Price: float64(i)}, epoch.Add(time.Duration(i)*time.Second))
			}

			history := s.History("X")
			if len(history) != capacity || s.Len("X") != capacity {
				return false
			}
			for i, snap := range history {
				if snap.Price != float64(total-capacity+i) {
					return false
				}
			}
			latest, ok := s.CurrentAt("X", epoch.Add(time.Duration(total-1)*time.Second))
			return ok && latest.Price == history[len(history)-1].Price
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 120),
	))

	properties.TestingRun(t)
}

// Feature: market-alerts, Property 2: Staleness
// Validates: SnapshotStore TTL
//
// Property: CurrentAt reports unavailable exactly when now - insertedAt > TTL.
func TestProperty_Staleness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("current honours the TTL", prop.ForAll(
		func(ttlMillis, ageMillis int64) bool {
			ttl := time.Duration(ttlMillis) * time.Millisecond
			age := time.Duration(ageMillis) * time.Millisecond
			s := NewSnapshotStoreWithConfig(StoreConfig{StalenessTTL: ttl})
			s.Update("X", models.Snapshot{Price: 1}, epoch)

			_, ok := s.CurrentAt("X", epoch.Add(age))
			return ok == (age <= ttl)
		},
		gen.Int64Range(1, 120_000),
		gen.Int64Range(0, 240_000),
	))

	properties.TestingRun(t)
}

func TestSnapshotStore_UnknownInstrument(t *testing.T) {
	s := NewSnapshotStore()

	_, ok := s.CurrentAt("NOPE", epoch)
	assert.False(t, ok)
	assert.Nil(t, s.History("NOPE"))
	assert.Zero(t, s.Len("NOPE"))
}

func TestSnapshotStore_HistoryIsACopy(t *testing.T) {
	s := NewSnapshotStore()
	s.Update("X", models.Snapshot{Price: 100}, epoch)

	h := s.History("X")
	h[0].Price = 999

	assert.Equal(t, 100.0, s.History("X")[0].Price)
}

func TestSnapshotStore_UpdateStampsSnapshot(t *testing.T) {
	clock := epoch.Add(time.Minute)
	s := NewSnapshotStoreWithConfig(StoreConfig{Clock: func() time.Time { return clock }})

	s.Update("X", models.Snapshot{InstrumentID: "ignored", Price: 10}, time.Time{})

	cur, ok := s.Current("X")
	require.True(t, ok)
	assert.Equal(t, "X", cur.InstrumentID)
	assert.Equal(t, clock, cur.Timestamp)
	assert.Equal(t, DefaultHistoryCapacity, s.Capacity())
	assert.Equal(t, DefaultStalenessTTL, s.TTL())
}

func TestSnapshotStore_ConcurrentReadersSeeLatestInHistory(t *testing.T) {
	s := NewSnapshotStoreWithConfig(StoreConfig{HistoryCapacity: 16})
	const writes = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			s.Update("X", models.Snapshot{Price: float64(i)}, epoch.Add(time.Duration(i)*time.Millisecond))
		}
	}()

	violations := make(chan string, 1)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < writes; i++ {
				h := s.History("X")
				if len(h) > 16 {
					select {
					case violations <- "history exceeded capacity":
					default:
					}
					return
				}
				for j := 1; j < len(h); j++ {
					if h[j].Price != h[j-1].Price+1 {
						select {
						case violations <- "history out of order":
						default:
						}
						return
					}
				}
				_ = s.Instruments()
			}
		}()
	}
	wg.Wait()
	close(violations)

	for v := range violations {
		t.Fatal(v)
	}
	assert.Equal(t, 16, s.Len("X"))
	assert.Equal(t, []string{"X"}, s.Instruments())
}
