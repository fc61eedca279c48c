package models

// PositionState is the invested state of a spread strategy.
type PositionState string

const (
	PositionFlat        PositionState = "FLAT"
	PositionLongSpread  PositionState = "LONG_SPREAD"
	PositionShortSpread PositionState = "SHORT_SPREAD"
)

func (s PositionState) Invested() bool {
	return s == PositionLongSpread || s == PositionShortSpread
}

// Leg is one token's share of an open spread position.
type Leg struct {
	Index     int       `json:"index"`
	Token     string    `json:"token"`
	Weight    float64   `json:"weight"`
	Units     int       `json:"units"`
	Direction Direction `json:"direction"`
}
