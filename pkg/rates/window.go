// Package rates holds raw liquidity index history and turns it into
// annualized rate series.
package rates

import (
	"fmt"
	"sync"

	"github.com/gregtusar/statarb/pkg/models"
)

// Source supplies the last n raw index observations for a token, oldest first.
type Source interface {
	LatestRates(token string, n int) ([]models.RateObservation, error)
}

// WindowStore is an in-memory Source fed by the market data feed. Each token
// keeps at most capacity observations.
type WindowStore struct {
	capacity int
	history  map[string][]models.RateObservation
	mu       sync.RWMutex
}

func NewWindowStore(capacity int) *WindowStore {
	if capacity <= 0 {
		capacity = 256
	}
	return &WindowStore{
		capacity: capacity,
		history:  make(map[string][]models.RateObservation),
	}
}

// Add appends an observation. Observations that are not strictly newer than
// the latest stored one for the token are rejected.
func (ws *WindowStore) Add(obs models.RateObservation) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	hist := ws.history[obs.Token]
	if n := len(hist); n > 0 && !obs.Timestamp.After(hist[n-1].Timestamp) {
		return fmt.Errorf("observation for %s at %s is not newer than %s",
			obs.Token, obs.Timestamp, hist[n-1].Timestamp)
	}
	hist = append(hist, obs)
	if overflow := len(hist) - ws.capacity; overflow > 0 {
		hist = append([]models.RateObservation(nil), hist[overflow:]...)
	}
	ws.history[obs.Token] = hist
	return nil
}

// LatestRates returns a copy of up to n most recent observations. Fewer than n
// are returned while the token is still filling up.
func (ws *WindowStore) LatestRates(token string, n int) ([]models.RateObservation, error) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	hist, ok := ws.history[token]
	if !ok {
		return nil, fmt.Errorf("token %s: no observations", token)
	}
	if n > len(hist) {
		n = len(hist)
	}
	out := make([]models.RateObservation, n)
	copy(out, hist[len(hist)-n:])
	return out, nil
}

// Len returns the number of stored observations for token.
func (ws *WindowStore) Len(token string) int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.history[token])
}
