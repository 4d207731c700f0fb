package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"market-alerts/internal/models"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// series builds one snapshot per price, one second apart, ending at now.
func series(prices []float64, volumes []float64) []models.Snapshot {
	out := make([]models.Snapshot, len(prices))
	start := now.Add(-time.Duration(len(prices)-1) * time.Second)
	for i, p := range prices {
		s := models.Snapshot{InstrumentID: "X", Price: p, Timestamp: start.Add(time.Duration(i) * time.Second)}
		if volumes != nil {
			s.Volume = volumes[i]
		}
		out[i] = s
	}
	return out
}

// Feature: market-alerts, Property 3: Unwindowed volume rate
// Validates: analysis.VolumeRate
//
// Property: with a non-positive window the volume rate is the latest volume,
// whatever the history holds.
func TestProperty_VolumeRateUnwindowedIsLatestVolume(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("window <= 0 returns current volume", prop.ForAll(
		func(volumes []float64, window int) bool {
			history := series(make([]float64, len(volumes)), volumes)
			current := models.Snapshot{Volume: volumes[len(volumes)-1]}
			v, ok := VolumeRate(current, history, window, now)
			return ok && v == current.Volume
		},
		gen.SliceOfN(8, gen.Float64Range(0, 1e7)),
		gen.IntRange(-10, 0),
	))

	properties.TestingRun(t)
}

// Feature: market-alerts, Property 4: Volatility scale invariance
// Validates: analysis.Volatility
//
// Property: multiplying every price by the same positive factor leaves the
// volatility unchanged, within floating point tolerance.
func TestProperty_VolatilityScaleInvariant(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("volatility(k*p) == volatility(p)", prop.ForAll(
		func(prices []float64, k float64) bool {
			scaled := make([]float64, len(prices))
			for i, p := range prices {
				scaled[i] = p * k
			}
			a, okA := Volatility(models.Snapshot{}, series(prices, nil), 1, now)
			b, okB := Volatility(models.Snapshot{}, series(scaled, nil), 1, now)
			if !okA || !okB {
				return false
			}
			return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(a))
		},
		gen.SliceOfN(10, gen.Float64Range(1, 10_000)),
		gen.Float64Range(0.001, 1000),
	))

	properties.TestingRun(t)
}

func TestFilterWindow(t *testing.T) {
	history := []models.Snapshot{
		{Price: 1, Timestamp: now.Add(-3 * time.Minute)},
		{Price: 2, Timestamp: now.Add(-2 * time.Minute)},
		{Price: 3, Timestamp: now.Add(-time.Minute)},
		{Price: 4, Timestamp: now},
	}

	assert.Len(t, FilterWindow(history, 0, now), 4)
	assert.Len(t, FilterWindow(history, 10, now), 4)

	// The cutoff is inclusive.
	got := FilterWindow(history, 2, now)
	assert.Len(t, got, 3)
	assert.Equal(t, 2.0, got[0].Price)
}

func TestVolumeRate(t *testing.T) {
	history := series([]float64{1, 1, 1, 1, 1}, []float64{1000, 1000, 1000, 1000, 5000})
	current := history[len(history)-1]

	v, ok := VolumeRate(current, history, 5, now)
	assert.True(t, ok)
	assert.InDelta(t, 5.0, v, 1e-9)

	// Too few samples falls back to the raw volume.
	v, ok = VolumeRate(current, history[4:], 5, now)
	assert.True(t, ok)
	assert.Equal(t, 5000.0, v)

	// Zero baseline falls back too.
	zero := series([]float64{1, 1}, []float64{0, 700})
	v, _ = VolumeRate(zero[1], zero, 5, now)
	assert.Equal(t, 700.0, v)
}

func TestVWAPDeviation(t *testing.T) {
	history := series([]float64{10, 20}, []float64{100, 300})

	// VWAP = (10*100 + 20*300) / 400 = 17.5
	v, ok := VWAPDeviation(models.Snapshot{Price: 21}, history, 0, now)
	assert.True(t, ok)
	assert.InDelta(t, 20.0, v, 1e-9)

	v, ok = VWAPDeviation(models.Snapshot{Price: 99, VWAP: models.Float(100)}, nil, 0, now)
	assert.True(t, ok)
	assert.InDelta(t, -1.0, v, 1e-9)

	_, ok = VWAPDeviation(models.Snapshot{Price: 10}, series([]float64{10, 11}, []float64{0, 0}), 0, now)
	assert.False(t, ok)
}

func TestVolatility(t *testing.T) {
	_, ok := Volatility(models.Snapshot{}, series([]float64{100, 101}, nil), 0, now)
	assert.False(t, ok, "one return is not enough")

	v, ok := Volatility(models.Snapshot{}, series([]float64{100, 110, 99}, nil), 0, now)
	assert.True(t, ok)
	// Returns are +10% and -10%, population stddev 10.
	assert.InDelta(t, 10.0, v, 1e-9)

	v, ok = Volatility(models.Snapshot{}, series([]float64{50, 50, 50, 50}, nil), 0, now)
	assert.True(t, ok)
	assert.Zero(t, v)
}

func TestMomentum(t *testing.T) {
	v, ok := Momentum(models.Snapshot{}, series([]float64{100, 100, 100, 115}, nil), 1, now)
	assert.True(t, ok)
	assert.InDelta(t, 15.0, v, 1e-9)

	_, ok = Momentum(models.Snapshot{}, series([]float64{0, 10}, nil), 1, now)
	assert.False(t, ok)

	_, ok = Momentum(models.Snapshot{}, series([]float64{10}, nil), 1, now)
	assert.False(t, ok)

	// Samples older than the default five minutes are ignored.
	old := []models.Snapshot{
		{Price: 50, Timestamp: now.Add(-10 * time.Minute)},
		{Price: 100, Timestamp: now.Add(-time.Minute)},
		{Price: 110, Timestamp: now},
	}
	v, ok = Momentum(models.Snapshot{}, old, 0, now)
	assert.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-9)
}

func TestPercentChange(t *testing.T) {
	history := series([]float64{200, 210, 220}, nil)

	v, ok := PercentChange(models.Snapshot{Price: 220}, history, 0, now)
	assert.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-9)

	v, ok = PercentChange(models.Snapshot{Price: 220, ChangePercent: models.Float(-2.5)}, history, 0, now)
	assert.True(t, ok)
	assert.Equal(t, -2.5, v)

	_, ok = PercentChange(models.Snapshot{Price: 1}, history[:1], 0, now)
	assert.False(t, ok)
}

func TestSpread(t *testing.T) {
	v, ok := Spread(models.Snapshot{Bid: models.Float(100), Ask: models.Float(100.5)})
	assert.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-9)

	_, ok = Spread(models.Snapshot{Bid: models.Float(0), Ask: models.Float(1)})
	assert.False(t, ok)
	_, ok = Spread(models.Snapshot{Ask: models.Float(1)})
	assert.False(t, ok)
}
