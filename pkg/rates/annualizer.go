package rates

import (
	"errors"
	"fmt"
	"math"

	"github.com/gregtusar/statarb/pkg/models"
)

const SecondsInYear = 31536000

// Sentinel marks a rate that is not yet available. A compounded rate can never
// reach -100%, so anything at or below it is treated as missing.
const Sentinel = -1.0

var ErrZeroElapsed = errors.New("zero elapsed time between observations")

// Annualizer maps a raw index window to a series of annualized rates, one
// shorter than the input.
type Annualizer interface {
	Annualize(window []models.RateObservation) ([]float64, error)
}

// APYAnnualizer compounds the growth of the liquidity index against a trailing
// observation up to Lookback steps back.
type APYAnnualizer struct {
	Lookback int
}

func NewAPYAnnualizer(lookback int) APYAnnualizer {
	return APYAnnualizer{Lookback: lookback}
}

func (a APYAnnualizer) Annualize(window []models.RateObservation) ([]float64, error) {
	if len(window) < 2 {
		return nil, nil
	}
	apys := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		base := 0
		if a.Lookback <= i {
			base = i - a.Lookback
		}
		elapsed := window[i].Elapsed(window[base])
		if elapsed == 0 {
			return nil, fmt.Errorf("%s at %s: %w", window[i].Token, window[i].Timestamp, ErrZeroElapsed)
		}
		growth := window[i].Index/window[base].Index - 1.0
		periods := SecondsInYear / elapsed
		apys = append(apys, math.Pow(1+growth, periods)-1)
	}
	return apys, nil
}

// Valid reports whether r is a usable rate.
func Valid(r float64) bool {
	return r > Sentinel && !math.IsNaN(r) && !math.IsInf(r, 0)
}
