package models

import (
	"time"
)

// EventType tags an event flowing through the trader loop.
type EventType string

const (
	EventMarket EventType = "MARKET"
	EventSignal EventType = "SIGNAL"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
}

// NewMarketEvent returns a MARKET event stamped with ts.
func NewMarketEvent(ts time.Time) Event {
	return Event{Type: EventMarket, Timestamp: ts}
}

// RateObservation is a raw liquidity index reading for one token.
type RateObservation struct {
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
	Index     float64   `json:"index"`
}

// Elapsed returns the seconds between two observations.
func (o RateObservation) Elapsed(earlier RateObservation) float64 {
	return o.Timestamp.Sub(earlier.Timestamp).Seconds()
}
