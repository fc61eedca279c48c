package rates

import (
	"fmt"

	"github.com/gregtusar/statarb/pkg/models"
)

// Panel is the windowed rate history of every token at one tick. Series are
// aligned with Tokens and share the same length; the last element of each is
// the current cross-section.
type Panel struct {
	Tokens []string
	Series [][]float64
	Latest []models.RateObservation
}

// BuildPanel reads a window of n observations per token and annualizes it.
// The returned bool is false when any token lacks a usable current rate.
func BuildPanel(src Source, ann Annualizer, tokens []string, n int) (Panel, bool, error) {
	p := Panel{
		Tokens: tokens,
		Series: make([][]float64, len(tokens)),
		Latest: make([]models.RateObservation, len(tokens)),
	}
	length := -1
	for i, token := range tokens {
		window, err := src.LatestRates(token, n)
		if err != nil {
			return Panel{}, false, nil
		}
		if len(window) < n {
			return Panel{}, false, nil
		}
		series, err := ann.Annualize(window)
		if err != nil {
			return Panel{}, false, fmt.Errorf("annualize %s: %w", token, err)
		}
		if len(series) == 0 || !Valid(series[len(series)-1]) {
			return Panel{}, false, nil
		}
		if length >= 0 && len(series) != length {
			return Panel{}, false, nil
		}
		length = len(series)
		p.Series[i] = series
		p.Latest[i] = window[len(window)-1]
	}
	return p, true, nil
}

// CrossSection returns the current rate of every token.
func (p Panel) CrossSection() []float64 {
	out := make([]float64, len(p.Series))
	for i, s := range p.Series {
		out[i] = s[len(s)-1]
	}
	return out
}

// Rows returns the number of observations per series.
func (p Panel) Rows() int {
	if len(p.Series) == 0 {
		return 0
	}
	return len(p.Series[0])
}
