// Package models provides domain models for the alert engine.
package models

import (
	"time"
)

// Snapshot represents one instrument's market reading at a point in time.
// Optional fields are nil when the feed did not supply them.
type Snapshot struct {
	InstrumentID  string
	Price         float64
	Volume        float64
	Bid           *float64
	Ask           *float64
	High          *float64
	Low           *float64
	VWAP          *float64
	ChangePercent *float64
	Timestamp     time.Time
}

// SnapshotUpdate is the wire form of a pushed market snapshot.
type SnapshotUpdate struct {
	InstrumentID  string    `json:"symbol"`
	Price         float64   `json:"price"`
	Volume        float64   `json:"volume"`
	Bid           *float64  `json:"bid,omitempty"`
	Ask           *float64  `json:"ask,omitempty"`
	High          *float64  `json:"high,omitempty"`
	Low           *float64  `json:"low,omitempty"`
	VWAP          *float64  `json:"vwap,omitempty"`
	ChangePercent *float64  `json:"change_percent,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
}

// Snapshot converts the update into a Snapshot stamped with ts.
func (u SnapshotUpdate) Snapshot(ts time.Time) Snapshot {
	return Snapshot{
		InstrumentID:  u.InstrumentID,
		Price:         u.Price,
		Volume:        u.Volume,
		Bid:           u.Bid,
		Ask:           u.Ask,
		High:          u.High,
		Low:           u.Low,
		VWAP:          u.VWAP,
		ChangePercent: u.ChangePercent,
		Timestamp:     ts,
	}
}

// Fields flattens the snapshot into a map, leaving out absent optional fields.
// It is used for trigger metadata and notification payloads.
func (s Snapshot) Fields() map[string]interface{} {
	m := map[string]interface{}{
		"price":     s.Price,
		"volume":    s.Volume,
		"timestamp": s.Timestamp.Format(time.RFC3339Nano),
	}
	optional := map[string]*float64{
		"bid":            s.Bid,
		"ask":            s.Ask,
		"high":           s.High,
		"low":            s.Low,
		"vwap":           s.VWAP,
		"change_percent": s.ChangePercent,
	}
	for k, v := range optional {
		if v != nil {
			m[k] = *v
		}
	}
	return m
}

// Float returns a pointer to v. Handy for filling optional snapshot fields.
func Float(v float64) *float64 {
	return &v
}
