// Package analysis provides the windowed market statistics alert conditions
// are evaluated against. Every function is pure and reports availability with
// a boolean instead of an error: missing data means "condition not met".
package analysis

import (
	"time"

	"github.com/montanaflynn/stats"

	"market-alerts/internal/models"
)

// Default windows substituted when a condition's window is 0 or negative.
const (
	DefaultVolatilityWindow    = 10
	DefaultMomentumWindow      = 5
	DefaultVWAPDeviationWindow = 15
)

// FilterWindow drops history entries older than now - windowMinutes; the
// cutoff itself is inclusive. A non-positive window returns the whole history.
func FilterWindow(history []models.Snapshot, windowMinutes int, now time.Time) []models.Snapshot {
	if windowMinutes <= 0 {
		return history
	}
	cutoff := now.Add(-time.Duration(windowMinutes) * time.Minute)
	out := make([]models.Snapshot, 0, len(history))
	for _, s := range history {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func withDefault(windowMinutes, fallback int) int {
	if windowMinutes <= 0 {
		return fallback
	}
	return windowMinutes
}

func prices(history []models.Snapshot) []float64 {
	out := make([]float64, len(history))
	for i, s := range history {
		out[i] = s.Price
	}
	return out
}

// VolumeRate returns the current volume relative to the mean volume of the
// earlier samples in the window. With no window, fewer than two samples or a
// non-positive baseline it returns the current volume.
func VolumeRate(current models.Snapshot, history []models.Snapshot, windowMinutes int, now time.Time) (float64, bool) {
	if windowMinutes <= 0 {
		return current.Volume, true
	}
	window := FilterWindow(history, windowMinutes, now)
	if len(window) < 2 {
		return current.Volume, true
	}

	volumes := make([]float64, 0, len(window)-1)
	for _, s := range window[:len(window)-1] {
		volumes = append(volumes, s.Volume)
	}
	baseline, err := stats.Mean(volumes)
	if err != nil || baseline <= 0 {
		return current.Volume, true
	}
	return current.Volume / baseline, true
}

// VWAP returns the volume weighted average price of the window.
func VWAP(history []models.Snapshot) (float64, bool) {
	var pv, vol float64
	for _, s := range history {
		if s.Volume <= 0 {
			continue
		}
		pv += s.Price * s.Volume
		vol += s.Volume
	}
	if vol <= 0 {
		return 0, false
	}
	return pv / vol, true
}

// VWAPDeviation returns (price - vwap) / vwap * 100. The snapshot's own VWAP
// is preferred; otherwise it is computed over the window (default 15 minutes).
func VWAPDeviation(current models.Snapshot, history []models.Snapshot, windowMinutes int, now time.Time) (float64, bool) {
	var vwap float64
	if current.VWAP != nil {
		vwap = *current.VWAP
	} else {
		window := FilterWindow(history, withDefault(windowMinutes, DefaultVWAPDeviationWindow), now)
		v, ok := VWAP(window)
		if !ok {
			return 0, false
		}
		vwap = v
	}
	if vwap == 0 {
		return 0, false
	}
	return (current.Price - vwap) / vwap * 100, true
}

// Returns computes consecutive percent returns. Pairs with a zero base are skipped.
func Returns(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		prev := series[i-1]
		if prev == 0 {
			continue
		}
		out = append(out, (series[i]-prev)/prev*100)
	}
	return out
}

// Volatility returns the population standard deviation of percent returns in
// the window (default 10 minutes). At least two returns are required.
func Volatility(current models.Snapshot, history []models.Snapshot, windowMinutes int, now time.Time) (float64, bool) {
	window := FilterWindow(history, withDefault(windowMinutes, DefaultVolatilityWindow), now)
	returns := Returns(prices(window))
	if len(returns) < 2 {
		return 0, false
	}
	sd, err := stats.StandardDeviationPopulation(returns)
	if err != nil {
		return 0, false
	}
	return sd, true
}

// Momentum returns the percent change between the first and last price in the
// window (default 5 minutes).
func Momentum(current models.Snapshot, history []models.Snapshot, windowMinutes int, now time.Time) (float64, bool) {
	window := FilterWindow(history, withDefault(windowMinutes, DefaultMomentumWindow), now)
	if len(window) < 2 {
		return 0, false
	}
	first, last := window[0].Price, window[len(window)-1].Price
	if first == 0 {
		return 0, false
	}
	return (last - first) / first * 100, true
}

// PercentChange returns the snapshot's reported change percent, or the change
// of the current price against the oldest price in the window. A zero window
// uses the whole history.
func PercentChange(current models.Snapshot, history []models.Snapshot, windowMinutes int, now time.Time) (float64, bool) {
	if current.ChangePercent != nil {
		return *current.ChangePercent, true
	}
	window := FilterWindow(history, windowMinutes, now)
	if len(window) < 2 {
		return 0, false
	}
	base := window[0].Price
	if base == 0 {
		return 0, false
	}
	return (current.Price - base) / base * 100, true
}

// Spread returns (ask - bid) / bid * 100 when both quotes are present and bid > 0.
func Spread(current models.Snapshot) (float64, bool) {
	if current.Bid == nil || current.Ask == nil || *current.Bid <= 0 {
		return 0, false
	}
	return (*current.Ask - *current.Bid) / *current.Bid * 100, true
}
