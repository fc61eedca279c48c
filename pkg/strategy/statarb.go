// Package strategy implements the hedge estimators, spread tracking and the
// position state machine of the statistical arbitrage strategy.
package strategy

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/statarb/pkg/models"
	"github.com/gregtusar/statarb/pkg/rates"
)

// StatArb owns the strategy state and advances it one MARKET event at a time.
// It is not safe for concurrent use; the trader loop serializes calls.
type StatArb struct {
	tokens     []string
	params     Params
	source     rates.Source
	annualizer rates.Annualizer
	state      State
	logger     *logrus.Logger
}

func NewStatArb(tokens []string, estimator HedgeEstimator, source rates.Source, annualizer rates.Annualizer, params Params, logger *logrus.Logger) (*StatArb, error) {
	if len(tokens) < 2 {
		return nil, fmt.Errorf("statarb needs at least 2 tokens, got %d", len(tokens))
	}
	if params.Lookback < 2 {
		return nil, fmt.Errorf("lookback window must be at least 2, got %d", params.Lookback)
	}
	if need := MinJohansenLookback(len(tokens)); estimator.Name() == JohansenName && params.Lookback < need {
		return nil, fmt.Errorf("johansen with %d tokens needs a lookback window of at least %d, got %d: %w",
			len(tokens), need, params.Lookback, ErrInsufficientHistory)
	}
	return &StatArb{
		tokens:     append([]string(nil), tokens...),
		params:     params,
		source:     source,
		annualizer: annualizer,
		state:      NewState(estimator, params),
		logger:     logger,
	}, nil
}

func (s *StatArb) Name() string { return "statarb-" + s.state.Estimator.Name() }

func (s *StatArb) Tokens() []string { return append([]string(nil), s.tokens...) }

// State returns the committed state.
func (s *StatArb) State() State { return s.state }

// CalculateSignals processes one event. Only MARKET events do anything. The
// returned Result is nil when the event was ignored or the tick failed.
func (s *StatArb) CalculateSignals(ctx context.Context, event models.Event) ([]models.Signal, *Result, error) {
	if event.Type != models.EventMarket {
		return nil, nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	panel, ok, err := rates.BuildPanel(s.source, s.annualizer, s.tokens, s.params.Lookback)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrDataGap
	}

	next, res, signals, err := Step(s.params, s.state, panel)
	if err != nil {
		return nil, nil, err
	}
	s.state = next

	s.logger.WithFields(logrus.Fields{
		"strategy": s.Name(),
		"days":     res.Days,
		"spread":   res.Spread,
		"z_score":  res.ZScore,
		"ready":    res.Ready,
		"position": res.To,
	}).Debug("Processed market tick")

	if res.From != res.To {
		s.logger.WithFields(logrus.Fields{
			"strategy": s.Name(),
			"from":     res.From,
			"to":       res.To,
			"z_score":  res.ZScore,
			"signals":  len(signals),
		}).Info("Position transition")
	}
	return signals, &res, nil
}
