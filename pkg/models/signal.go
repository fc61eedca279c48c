package models

import (
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Opposite returns the direction that unwinds d.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// Signal is a single-unit directional instruction for one token.
type Signal struct {
	ID        string    `json:"id"`
	Strategy  string    `json:"strategy"`
	Token     string    `json:"token"`
	Direction Direction `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
	ZScore    float64   `json:"z_score"`
}

func NewSignal(strategy, token string, direction Direction, ts time.Time, z float64) Signal {
	return Signal{
		ID:        uuid.NewString(),
		Strategy:  strategy,
		Token:     token,
		Direction: direction,
		Timestamp: ts,
		ZScore:    z,
	}
}
