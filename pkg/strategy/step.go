package strategy

import (
	"fmt"

	"github.com/gregtusar/statarb/pkg/models"
	"github.com/gregtusar/statarb/pkg/rates"
)

// Params are fixed for the lifetime of a strategy.
type Params struct {
	Lookback          int
	Deviations        float64
	Delta             float64
	ObservationNoise  float64
	Qty               int
	UseDynamicHedge   bool
	ExcludeZeroSpread bool
}

func DefaultParams() Params {
	return Params{
		Lookback:          10,
		Deviations:        1.0,
		Delta:             1e-4,
		ObservationNoise:  1e-3,
		Qty:               1,
		ExcludeZeroSpread: true,
	}
}

// State is everything that carries over from one tick to the next.
type State struct {
	Estimator HedgeEstimator
	Spread    SpreadTracker
	Position  Position
	Days      int
}

func NewState(estimator HedgeEstimator, p Params) State {
	return State{
		Estimator: estimator,
		Spread:    NewSpreadTracker(p.Lookback, p.ExcludeZeroSpread),
		Position:  FlatPosition(),
	}
}

// Result describes what a tick computed.
type Result struct {
	Days    int                  `json:"days"`
	Spread  float64              `json:"spread"`
	ZScore  float64              `json:"z_score"`
	Ready   bool                 `json:"ready"`
	Trading bool                 `json:"trading"`
	Weights []float64            `json:"weights"`
	Hedge   []float64            `json:"hedge,omitempty"`
	From    models.PositionState `json:"from"`
	To      models.PositionState `json:"to"`
}

// Step is the per-tick transition. On error the input state is returned
// unchanged so that a failed tick has no effect.
func Step(p Params, st State, panel rates.Panel) (State, Result, []models.Signal, error) {
	est, estimate, err := st.Estimator.Step(panel)
	if err != nil {
		return st, Result{}, nil, err
	}

	next := State{
		Estimator: est,
		Spread:    st.Spread.Record(estimate.Spread),
		Position:  st.Position,
		Days:      st.Days + 1,
	}
	res := Result{
		Days:    next.Days,
		Spread:  estimate.Spread,
		Weights: estimate.Weights,
		From:    st.Position.State,
		To:      st.Position.State,
		Trading: next.Days > p.Lookback,
	}

	z, err := next.Spread.ZScore(estimate.Spread)
	if err != nil {
		if !res.Trading {
			return next, res, nil, nil
		}
		return st, res, nil, fmt.Errorf("tick %d: %w", next.Days, err)
	}
	res.ZScore, res.Ready = z, true
	if !res.Trading {
		return next, res, nil, nil
	}

	dynamic := p.UseDynamicHedge || est.Name() == JohansenName
	anchor := est.Anchor(len(panel.Tokens))
	if dynamic {
		hedge, err := Normalize(estimate.Weights, anchor)
		if err != nil {
			return st, res, nil, fmt.Errorf("tick %d: %w", next.Days, err)
		}
		res.Hedge = hedge
	}

	pos, legs := Transition(st.Position, Decision{
		ZScore:     z,
		Deviations: p.Deviations,
		Tokens:     panel.Tokens,
		Anchor:     anchor,
		Hedge:      res.Hedge,
		Dynamic:    dynamic,
		Sizing:     est.Sizing(),
		Qty:        p.Qty,
	})
	next.Position = pos
	res.To = pos.State

	return next, res, ExpandSignals("statarb-"+est.Name(), legs, panel.Latest, z), nil
}
