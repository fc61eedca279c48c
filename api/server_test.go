package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/statarb/pkg/models"
	"github.com/gregtusar/statarb/pkg/strategy"
	"github.com/gregtusar/statarb/pkg/trader"
)

type fakeTrader struct {
	snap      trader.Snapshot
	signals   []models.Signal
	lastLimit int
}

func (f *fakeTrader) Snapshot() trader.Snapshot { return f.snap }

func (f *fakeTrader) RecentSignals(limit int) []models.Signal {
	f.lastLimit = limit
	if limit < len(f.signals) {
		return f.signals[:limit]
	}
	return f.signals
}

func newTestServer(t *testing.T, ft *fakeTrader) *httptest.Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	srv := httptest.NewServer(NewServer(ft, logger, "0").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeTrader{})

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestState(t *testing.T) {
	ft := &fakeTrader{snap: trader.Snapshot{
		Strategy:  "statarb-kalman",
		Tokens:    []string{"A", "B"},
		Days:      12,
		Position:  strategy.Position{State: models.PositionLongSpread},
		UpdatedAt: time.Unix(1700000000, 0).UTC(),
	}}
	srv := newTestServer(t, ft)

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got trader.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "statarb-kalman", got.Strategy)
	assert.Equal(t, 12, got.Days)
	assert.Equal(t, models.PositionLongSpread, got.Position.State)
}

func TestStateMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &fakeTrader{})

	resp, err := http.Post(srv.URL+"/api/state", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSignalsLimit(t *testing.T) {
	ft := &fakeTrader{signals: []models.Signal{
		models.NewSignal("s", "A", models.DirectionLong, time.Unix(3, 0), -2),
		models.NewSignal("s", "B", models.DirectionShort, time.Unix(2, 0), -2),
		models.NewSignal("s", "A", models.DirectionShort, time.Unix(1, 0), 2),
	}}
	srv := newTestServer(t, ft)

	resp, err := http.Get(srv.URL + "/api/signals?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got []models.Signal
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got, 2)
	assert.Equal(t, 2, ft.lastLimit)
	assert.Equal(t, ft.signals[0].ID, got[0].ID)
}

func TestSignalsBadLimit(t *testing.T) {
	srv := newTestServer(t, &fakeTrader{})

	resp, err := http.Get(srv.URL + "/api/signals?limit=zero")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOptionsPreflight(t *testing.T) {
	srv := newTestServer(t, &fakeTrader{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/signals", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeTrader{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "statarb_")
}
