package strategy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/gregtusar/statarb/pkg/rates"
)

const (
	KalmanName = "kalman"

	// ObservedIndex is the token whose rate is the filter's observation.
	ObservedIndex = 1
)

// KalmanFilter estimates the hedge ratios as the hidden state of a linear
// Gaussian state-space model. The design vector is every rate except the last
// plus a constant, and the observation is the rate at ObservedIndex.
type KalmanFilter struct {
	theta *mat.VecDense
	c     *mat.Dense
	w     *mat.Dense
	v     float64
	prior bool
}

// NewKalmanFilter starts from a zero state with system noise delta/(1-delta)·I
// and observation noise vt.
func NewKalmanFilter(tokens int, delta, vt float64) *KalmanFilter {
	w := mat.NewDense(tokens, tokens, nil)
	for i := 0; i < tokens; i++ {
		w.Set(i, i, delta/(1-delta))
	}
	return &KalmanFilter{
		theta: mat.NewVecDense(tokens, nil),
		c:     mat.NewDense(tokens, tokens, nil),
		w:     w,
		v:     vt,
	}
}

func (kf *KalmanFilter) Name() string { return KalmanName }

// Anchor is the last token, whose design coefficient is the constant term.
func (kf *KalmanFilter) Anchor(tokens int) int { return tokens - 1 }

func (kf *KalmanFilter) Sizing() SizingPolicy { return FloorUnits }

// Step runs one predict/update cycle on the current cross-section. The spread
// is the forecast error of the observation.
func (kf *KalmanFilter) Step(panel rates.Panel) (HedgeEstimator, Estimate, error) {
	x := panel.CrossSection()
	k := kf.theta.Len()
	if len(x) != k {
		return nil, Estimate{}, fmt.Errorf("kalman: %d rates for %d states", len(x), k)
	}
	if k <= ObservedIndex {
		return nil, Estimate{}, fmt.Errorf("kalman: need at least %d tokens", ObservedIndex+1)
	}

	f := make([]float64, k)
	copy(f, x[:k-1])
	f[k-1] = 1.0
	F := mat.NewVecDense(k, f)
	y := x[ObservedIndex]

	r := mat.NewDense(k, k, nil)
	if kf.prior {
		r.Add(kf.c, kf.w)
	}

	yhat := mat.Dot(F, kf.theta)
	et := y - yhat

	q := mat.Inner(F, r, F) + kf.v
	if !(q > 0) || math.IsInf(q, 0) {
		return nil, Estimate{}, fmt.Errorf("kalman: forecast variance %v: %w", q, ErrSingularForecast)
	}

	rf := mat.NewVecDense(k, nil)
	rf.MulVec(r, F)
	gain := mat.NewVecDense(k, nil)
	gain.ScaleVec(1/q, rf)

	theta := mat.NewVecDense(k, nil)
	theta.AddScaledVec(kf.theta, et, gain)

	fr := mat.NewVecDense(k, nil)
	fr.MulVec(r.T(), F)
	corr := mat.NewDense(k, k, nil)
	corr.Outer(1, gain, fr)
	c := mat.NewDense(k, k, nil)
	c.Sub(r, corr)

	next := &KalmanFilter{theta: theta, c: c, w: kf.w, v: kf.v, prior: true}
	return next, Estimate{Weights: next.Theta(), Spread: et}, nil
}

// Theta returns a copy of the hidden state.
func (kf *KalmanFilter) Theta() []float64 {
	out := make([]float64, kf.theta.Len())
	for i := range out {
		out[i] = kf.theta.AtVec(i)
	}
	return out
}

// Covariance returns a copy of the state covariance.
func (kf *KalmanFilter) Covariance() *mat.Dense {
	return mat.DenseCopyOf(kf.c)
}

// HasPrior reports whether the predictive covariance is defined.
func (kf *KalmanFilter) HasPrior() bool { return kf.prior }
