package strategy

import (
	"time"

	"github.com/gregtusar/statarb/pkg/models"
)

// Position is the invested state together with the legs opened on entry.
type Position struct {
	State models.PositionState `json:"state"`
	Legs  []models.Leg         `json:"legs,omitempty"`
}

func FlatPosition() Position {
	return Position{State: models.PositionFlat}
}

// Decision is everything the state machine looks at on one tick.
type Decision struct {
	ZScore     float64
	Deviations float64
	Tokens     []string
	Anchor     int
	// Hedge holds the anchor-normalized weights. It is only read when Dynamic is set.
	Hedge   []float64
	Dynamic bool
	Sizing  SizingPolicy
	Qty     int
}

// Transition applies the entry and unwind rules and returns the next
// position with the legs to trade, in emission order.
func Transition(pos Position, in Decision) (Position, []models.Leg) {
	switch pos.State {
	case models.PositionFlat, "":
		if in.ZScore < -in.Deviations {
			legs := entryLegs(in, models.DirectionLong)
			return Position{State: models.PositionLongSpread, Legs: legs}, legs
		}
		if in.ZScore > in.Deviations {
			legs := entryLegs(in, models.DirectionShort)
			return Position{State: models.PositionShortSpread, Legs: legs}, legs
		}
	case models.PositionLongSpread:
		if in.ZScore > 0 {
			return FlatPosition(), unwindLegs(pos.Legs)
		}
	case models.PositionShortSpread:
		if in.ZScore < 0 {
			return FlatPosition(), unwindLegs(pos.Legs)
		}
	}
	return pos, nil
}

// entryLegs puts the anchor first with anchorDir. Other legs take the
// opposite side, except that in dynamic mode a negative weight flips them
// onto the anchor's side.
func entryLegs(in Decision, anchorDir models.Direction) []models.Leg {
	legs := make([]models.Leg, 0, len(in.Tokens))
	legs = append(legs, in.leg(in.Anchor, anchorDir))
	for i := range in.Tokens {
		if i == in.Anchor {
			continue
		}
		dir := anchorDir.Opposite()
		if in.Dynamic && in.Hedge[i] < 0 {
			dir = anchorDir
		}
		legs = append(legs, in.leg(i, dir))
	}
	return legs
}

// leg sizes one token. Without a dynamic hedge every leg is a single unit;
// otherwise the hedge weight scaled by Qty goes through the sizing policy.
func (in Decision) leg(i int, dir models.Direction) models.Leg {
	l := models.Leg{Index: i, Token: in.Tokens[i], Direction: dir, Weight: 1, Units: 1}
	if in.Dynamic {
		qty := in.Qty
		if qty <= 0 {
			qty = 1
		}
		l.Weight = in.Hedge[i]
		l.Units = in.Sizing(in.Hedge[i] * float64(qty))
	}
	return l
}

func unwindLegs(open []models.Leg) []models.Leg {
	out := make([]models.Leg, len(open))
	for i, l := range open {
		l.Direction = l.Direction.Opposite()
		out[i] = l
	}
	return out
}

// ExpandSignals emits one single-unit signal per unit of every leg, stamped
// with the latest observation time of the leg's token.
func ExpandSignals(source string, legs []models.Leg, latest []models.RateObservation, z float64) []models.Signal {
	var out []models.Signal
	for _, l := range legs {
		token := l.Token
		var ts time.Time
		if l.Index < len(latest) {
			ts = latest[l.Index].Timestamp
			if latest[l.Index].Token != "" {
				token = latest[l.Index].Token
			}
		}
		for u := 0; u < l.Units; u++ {
			out = append(out, models.NewSignal(source, token, l.Direction, ts, z))
		}
	}
	return out
}
