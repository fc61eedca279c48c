package strategy

import (
	"fmt"
	"math"

	"github.com/gregtusar/statarb/pkg/rates"
)

// HedgeEstimator produces a hedge weight per token and a scalar spread from
// the rate panel of one tick. Step must not mutate the receiver; it returns
// the estimator to use on the next tick.
type HedgeEstimator interface {
	Name() string
	Step(panel rates.Panel) (HedgeEstimator, Estimate, error)
	// Anchor is the index of the leg whose weight normalizes the hedge vector.
	Anchor(tokens int) int
	Sizing() SizingPolicy
}

// Estimate is the output of one estimator step.
type Estimate struct {
	Weights []float64
	Spread  float64
}

// SizingPolicy turns an absolute normalized hedge weight into whole units.
type SizingPolicy func(w float64) int

func FloorUnits(w float64) int { return int(math.Floor(math.Abs(w))) }

func CeilUnits(w float64) int { return int(math.Ceil(math.Abs(w))) }

// Normalize divides the weights by the anchor weight.
func Normalize(weights []float64, anchor int) ([]float64, error) {
	if anchor < 0 || anchor >= len(weights) {
		return nil, fmt.Errorf("anchor %d out of range for %d weights", anchor, len(weights))
	}
	a := weights[anchor]
	if a == 0 || math.IsNaN(a) || math.IsInf(a, 0) {
		return nil, fmt.Errorf("anchor weight %v: %w", a, ErrZeroAnchor)
	}
	out := make([]float64, len(weights))
	for i, w := range weights {
		out[i] = w / a
	}
	return out, nil
}

// Rescale multiplies normalized weights back by the original anchor weight.
func Rescale(normed []float64, anchorWeight float64) []float64 {
	out := make([]float64, len(normed))
	for i, w := range normed {
		out[i] = w * anchorWeight
	}
	return out
}

// NewEstimator builds the estimator registered under name.
func NewEstimator(name string, tokens int, p Params) (HedgeEstimator, error) {
	switch name {
	case KalmanName:
		return NewKalmanFilter(tokens, p.Delta, p.ObservationNoise), nil
	case JohansenName:
		return NewJohansen(), nil
	default:
		return nil, fmt.Errorf("unknown hedge estimator %q", name)
	}
}
