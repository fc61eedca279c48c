package trader

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/statarb/pkg/metrics"
	"github.com/gregtusar/statarb/pkg/models"
	"github.com/gregtusar/statarb/pkg/rates"
	"github.com/gregtusar/statarb/pkg/sink"
	"github.com/gregtusar/statarb/pkg/strategy"
)

// replay hands out a fixed spread sequence with constant weights.
type replay struct {
	spreads []float64
	pos     int
}

func (r *replay) Name() string { return "replay" }

func (r *replay) Anchor(tokens int) int { return tokens - 1 }

func (r *replay) Sizing() strategy.SizingPolicy { return strategy.FloorUnits }

func (r *replay) Step(rates.Panel) (strategy.HedgeEstimator, strategy.Estimate, error) {
	next := &replay{spreads: r.spreads, pos: r.pos + 1}
	return next, strategy.Estimate{Weights: []float64{-1.7, 1}, Spread: r.spreads[r.pos]}, nil
}

var t0 = time.Unix(1700000000, 0).UTC()

type fixture struct {
	trader *Trader
	store  *rates.WindowStore
	mem    *sink.MemorySink
	day    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	spreads := []float64{1.1, 0.9, 1.1, 0.9, 1.1, 0.9, 1.1, 0.9, 1.1, 0.9, 1.0, 0.5, 0.8, 1.5}
	p := strategy.DefaultParams()
	p.UseDynamicHedge = true
	store := rates.NewWindowStore(64)
	strat, err := strategy.NewStatArb([]string{"A", "B"}, &replay{spreads: spreads}, store, rates.NewAPYAnnualizer(p.Lookback), p, logger)
	require.NoError(t, err)

	mem := sink.NewMemorySink()
	return &fixture{trader: NewTrader(strat, mem, logger), store: store, mem: mem}
}

// observe adds one day of index readings for both tokens.
func (f *fixture) observe(t *testing.T) time.Time {
	t.Helper()
	ts := t0.Add(time.Duration(f.day) * 24 * time.Hour)
	for i, tok := range []string{"A", "B"} {
		idx := 1 + float64(f.day)*0.0001*float64(i+1)
		require.NoError(t, f.store.Add(models.RateObservation{Token: tok, Timestamp: ts, Index: idx}))
	}
	f.day++
	return ts
}

func TestHandleEventDataGap(t *testing.T) {
	f := newFixture(t)
	before := testutil.ToFloat64(metrics.TicksTotal.WithLabelValues("skipped"))

	ts := f.observe(t)
	err := f.trader.HandleEvent(context.Background(), models.NewMarketEvent(ts))
	assert.True(t, errors.Is(err, strategy.ErrDataGap))

	snap := f.trader.Snapshot()
	assert.Equal(t, 0, snap.Days)
	assert.Contains(t, snap.LastError, "data gap")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.TicksTotal.WithLabelValues("skipped")))
}

func TestHandleEventIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.trader.HandleEvent(context.Background(), models.Event{Type: models.EventSignal}))
	assert.Nil(t, f.trader.Snapshot().LastResult)
}

func TestHandleEventDispatchesSignals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Fill the first window without ticking.
	for i := 0; i < 9; i++ {
		f.observe(t)
	}
	for tick := 1; tick <= 14; tick++ {
		ts := f.observe(t)
		require.NoError(t, f.trader.HandleEvent(ctx, models.NewMarketEvent(ts)), "tick %d", tick)

		switch tick {
		case 12:
			snap := f.trader.Snapshot()
			assert.Equal(t, models.PositionLongSpread, snap.Position.State)
			require.NotNil(t, snap.LastResult)
			assert.Equal(t, models.PositionLongSpread, snap.LastResult.To)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Position))
		case 14:
			assert.Equal(t, models.PositionFlat, f.trader.Snapshot().Position.State)
		}
	}

	dispatched := f.mem.Drain()
	require.Len(t, dispatched, 4)
	assert.Equal(t, models.DirectionLong, dispatched[0].Direction)
	assert.Equal(t, models.DirectionShort, dispatched[3].Direction)

	recent := f.trader.RecentSignals(3)
	require.Len(t, recent, 3)
	assert.Equal(t, dispatched[3].ID, recent[0].ID)
	assert.Equal(t, dispatched[1].ID, recent[2].ID)

	snap := f.trader.Snapshot()
	assert.Equal(t, 14, snap.Days)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, "statarb-replay", snap.Strategy)
}

func TestLoopProcessesSubmittedEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.trader.Start(ctx))

	ts := f.observe(t)
	require.NoError(t, f.trader.Submit(ctx, models.NewMarketEvent(ts)))
	assert.Eventually(t, func() bool {
		return f.trader.Snapshot().LastError != ""
	}, 2*time.Second, 10*time.Millisecond)

	f.trader.Stop()
	assert.Error(t, f.trader.Submit(ctx, models.NewMarketEvent(ts)))
}
