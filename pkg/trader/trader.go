package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/statarb/pkg/metrics"
	"github.com/gregtusar/statarb/pkg/models"
	"github.com/gregtusar/statarb/pkg/rates"
	"github.com/gregtusar/statarb/pkg/sink"
	"github.com/gregtusar/statarb/pkg/strategy"
)

// Trader runs the strategy on one event at a time and dispatches the
// resulting signals. Events are processed strictly in submission order.
type Trader struct {
	strategy    *strategy.StatArb
	sink        sink.Sink
	events      chan models.Event
	logger      *logrus.Logger
	mu          sync.RWMutex
	snapshot    Snapshot
	recent      []models.Signal
	recentLimit int
	stopCh      chan struct{}
	done        chan struct{}
}

// Snapshot is a read-only view of the trader for the API.
type Snapshot struct {
	Strategy   string            `json:"strategy"`
	Tokens     []string          `json:"tokens"`
	Days       int               `json:"days"`
	Position   strategy.Position `json:"position"`
	LastResult *strategy.Result  `json:"last_result,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func NewTrader(strat *strategy.StatArb, out sink.Sink, logger *logrus.Logger) *Trader {
	return &Trader{
		strategy: strat,
		sink:     out,
		events:   make(chan models.Event, 1024),
		logger:   logger,
		snapshot: Snapshot{
			Strategy: strat.Name(),
			Tokens:   strat.Tokens(),
			Position: strategy.FlatPosition(),
		},
		recentLimit: 500,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (t *Trader) Start(ctx context.Context) error {
	t.logger.WithField("strategy", t.strategy.Name()).Info("Starting statarb trader")
	go t.run(ctx)
	return nil
}

// Stop ends the event loop and waits for the in-flight tick to finish.
func (t *Trader) Stop() {
	t.logger.Info("Stopping statarb trader")
	close(t.stopCh)
	<-t.done
}

// Submit queues an event for the loop.
func (t *Trader) Submit(ctx context.Context, event models.Event) error {
	select {
	case <-t.stopCh:
		return fmt.Errorf("trader stopped")
	default:
	}
	select {
	case t.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopCh:
		return fmt.Errorf("trader stopped")
	}
}

func (t *Trader) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case event := <-t.events:
			_ = t.HandleEvent(ctx, event)
		}
	}
}

// HandleEvent runs one event through the strategy and dispatches its signals.
// Callers other than the loop must not overlap calls.
func (t *Trader) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != models.EventMarket {
		return nil
	}

	signals, res, err := t.strategy.CalculateSignals(ctx, event)
	if err != nil {
		t.recordError(err)
		return err
	}
	metrics.TicksTotal.WithLabelValues("ok").Inc()
	if res != nil && res.Ready {
		metrics.ZScore.Set(res.ZScore)
	}

	for _, sig := range signals {
		if err := t.sink.Put(ctx, sig); err != nil {
			t.logger.WithError(err).WithFields(logrus.Fields{
				"signal_id": sig.ID,
				"token":     sig.Token,
			}).Error("Failed to dispatch signal")
			continue
		}
		metrics.SignalsTotal.WithLabelValues(sig.Token, string(sig.Direction)).Inc()
		t.logger.WithFields(logrus.Fields{
			"token":     sig.Token,
			"direction": sig.Direction,
			"z_score":   sig.ZScore,
		}).Info("Signal emitted")
	}

	state := t.strategy.State()
	metrics.Position.Set(positionValue(state.Position.State))

	t.mu.Lock()
	t.snapshot.Days = state.Days
	t.snapshot.Position = state.Position
	t.snapshot.LastResult = res
	t.snapshot.LastError = ""
	t.snapshot.UpdatedAt = time.Now().UTC()
	t.recent = append(t.recent, signals...)
	if overflow := len(t.recent) - t.recentLimit; overflow > 0 {
		t.recent = append([]models.Signal(nil), t.recent[overflow:]...)
	}
	t.mu.Unlock()
	return nil
}

func (t *Trader) recordError(err error) {
	entry := t.logger.WithError(err).WithField("strategy", t.strategy.Name())
	outcome := "error"
	switch {
	case strategy.IsSkippable(err):
		outcome = "skipped"
		entry.Debug("Skipping tick")
	case errors.Is(err, strategy.ErrDegenerateVariance):
		outcome = "degenerate"
		entry.Warn("Spread variance is zero, no z-score")
	case errors.Is(err, strategy.ErrSingularForecast), errors.Is(err, strategy.ErrZeroAnchor), errors.Is(err, rates.ErrZeroElapsed):
		entry.Error("Numerical failure, tick discarded")
	default:
		entry.Error("Tick failed")
	}
	metrics.TicksTotal.WithLabelValues(outcome).Inc()

	t.mu.Lock()
	t.snapshot.LastError = err.Error()
	t.snapshot.UpdatedAt = time.Now().UTC()
	t.mu.Unlock()
}

func (t *Trader) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := t.snapshot
	snap.Tokens = append([]string(nil), t.snapshot.Tokens...)
	return snap
}

// RecentSignals returns up to limit signals, newest first.
func (t *Trader) RecentSignals(limit int) []models.Signal {
	if limit <= 0 {
		limit = 50
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Signal, 0, limit)
	for i := len(t.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, t.recent[i])
	}
	return out
}

func positionValue(s models.PositionState) float64 {
	switch s {
	case models.PositionLongSpread:
		return 1
	case models.PositionShortSpread:
		return -1
	default:
		return 0
	}
}
