package strategy

import "errors"

var (
	// ErrDataGap means at least one token has no usable rate this tick.
	ErrDataGap = errors.New("rate data gap")
	// ErrInsufficientHistory means the rate window is too short for the estimator.
	ErrInsufficientHistory = errors.New("insufficient rate history")
	// ErrDegenerateVariance means the spread history has zero standard deviation.
	ErrDegenerateVariance = errors.New("degenerate spread variance")
	// ErrSingularForecast means the estimator hit a non-positive or singular variance.
	ErrSingularForecast = errors.New("singular forecast variance")
	// ErrZeroAnchor means the anchor hedge weight is zero and cannot normalize.
	ErrZeroAnchor = errors.New("zero anchor hedge weight")
)

// IsSkippable reports whether err only means "wait for more data".
func IsSkippable(err error) bool {
	return errors.Is(err, ErrDataGap) || errors.Is(err, ErrInsufficientHistory)
}
