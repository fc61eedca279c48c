package strategy

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/gregtusar/statarb/pkg/rates"
)

const JohansenName = "johansen"

// Johansen re-runs the cointegration test on the full rate window every tick
// and hedges along the leading eigenvector. It keeps no state between ticks
// besides the last result, which is only kept for inspection.
type Johansen struct {
	last *JohansenResult
}

func NewJohansen() *Johansen { return &Johansen{} }

// MinJohansenLookback is the shortest lookback window whose lookback-1 rate
// rows leave CointJohansen enough degrees of freedom for tokens series.
func MinJohansenLookback(tokens int) int { return tokens + 5 }

func (j *Johansen) Name() string { return JohansenName }

// Anchor is the first token.
func (j *Johansen) Anchor(int) int { return 0 }

func (j *Johansen) Sizing() SizingPolicy { return CeilUnits }

func (j *Johansen) Last() *JohansenResult { return j.last }

// Step tests the panel and values the spread as the leading eigenvector
// applied to the current cross-section.
func (j *Johansen) Step(panel rates.Panel) (HedgeEstimator, Estimate, error) {
	res, err := CointJohansen(panel.Series)
	if err != nil {
		return nil, Estimate{}, err
	}
	lead := res.Leading()
	x := panel.CrossSection()
	var spread float64
	for i, w := range lead {
		spread += w * x[i]
	}
	return &Johansen{last: &res}, Estimate{Weights: lead, Spread: spread}, nil
}

// JohansenResult holds the eigen decomposition of a Johansen test with a
// constant term and one lagged difference, sorted by descending eigenvalue.
type JohansenResult struct {
	Eigenvalues  []float64
	Eigenvectors *mat.Dense
	TraceStats   []float64
	MaxEigStats  []float64
}

// Leading returns the eigenvector of the largest eigenvalue.
func (r JohansenResult) Leading() []float64 {
	return mat.Col(nil, 0, r.Eigenvectors)
}

// CointJohansen runs the test on series, one slice per variable, all of the
// same length. Eigenvectors are scaled to unit length in the S_kk metric and
// signed so that their first component is non-negative.
func CointJohansen(series [][]float64) (JohansenResult, error) {
	k := len(series)
	if k < 2 {
		return JohansenResult{}, fmt.Errorf("johansen: need at least 2 series, got %d", k)
	}
	t := len(series[0])
	for _, s := range series {
		if len(s) != t {
			return JohansenResult{}, fmt.Errorf("johansen: series lengths differ")
		}
	}
	n := t - 2
	if n < k+2 {
		return JohansenResult{}, fmt.Errorf("johansen: %d observations for %d series: %w", t, k, ErrInsufficientHistory)
	}

	levels := make([][]float64, t)
	for i := range levels {
		levels[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			levels[i][j] = series[j][i]
		}
	}
	levels = demean(levels)

	diffs := make([][]float64, t-1)
	for i := range diffs {
		diffs[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			diffs[i][j] = levels[i+1][j] - levels[i][j]
		}
	}

	// Regressors are the one-period lagged differences.
	z := toDense(demean(diffs[:n]))
	dx := toDense(demean(diffs[1:]))
	lx := toDense(demean(levels[1 : t-1]))

	r0t, err := residuals(dx, z)
	if err != nil {
		return JohansenResult{}, err
	}
	rkt, err := residuals(lx, z)
	if err != nil {
		return JohansenResult{}, err
	}

	skk := moment(rkt, rkt, n)
	sk0 := moment(rkt, r0t, n)
	s00 := moment(r0t, r0t, n)

	var s00Inv, skkInv mat.Dense
	if err := s00Inv.Inverse(s00); err != nil {
		return JohansenResult{}, fmt.Errorf("johansen: invert S00: %w", ErrSingularForecast)
	}
	if err := skkInv.Inverse(skk); err != nil {
		return JohansenResult{}, fmt.Errorf("johansen: invert Skk: %w", ErrSingularForecast)
	}

	var sig, tmp, m mat.Dense
	tmp.Mul(sk0, &s00Inv)
	sig.Mul(&tmp, sk0.T())
	m.Mul(&skkInv, &sig)

	var eig mat.Eigen
	if ok := eig.Factorize(&m, mat.EigenRight); !ok {
		return JohansenResult{}, fmt.Errorf("johansen: eigen decomposition failed: %w", ErrSingularForecast)
	}
	values := eig.Values(nil)
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return real(values[order[a]]) > real(values[order[b]])
	})

	res := JohansenResult{
		Eigenvalues:  make([]float64, k),
		Eigenvectors: mat.NewDense(k, k, nil),
		TraceStats:   make([]float64, k),
		MaxEigStats:  make([]float64, k),
	}
	for col, idx := range order {
		res.Eigenvalues[col] = real(values[idx])
		v := mat.NewVecDense(k, nil)
		for row := 0; row < k; row++ {
			v.SetVec(row, real(vecs.At(row, idx)))
		}
		norm := mat.Inner(v, skk, v)
		if !(norm > 0) {
			return JohansenResult{}, fmt.Errorf("johansen: degenerate eigenvector: %w", ErrSingularForecast)
		}
		scale := 1 / math.Sqrt(norm)
		if v.AtVec(0) < 0 {
			scale = -scale
		}
		for row := 0; row < k; row++ {
			res.Eigenvectors.Set(row, col, v.AtVec(row)*scale)
		}
	}

	for i := 0; i < k; i++ {
		var sum float64
		for j := i; j < k; j++ {
			sum += math.Log(1 - res.Eigenvalues[j])
		}
		res.TraceStats[i] = -float64(n) * sum
		res.MaxEigStats[i] = -float64(n) * math.Log(1-res.Eigenvalues[i])
	}
	return res, nil
}

func demean(rows [][]float64) [][]float64 {
	if len(rows) == 0 {
		return rows
	}
	cols := len(rows[0])
	means := make([]float64, cols)
	for _, r := range rows {
		for j, v := range r {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(len(rows))
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = make([]float64, cols)
		for j, v := range r {
			out[i][j] = v - means[j]
		}
	}
	return out
}

func toDense(rows [][]float64) *mat.Dense {
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), cols, data)
}

// residuals regresses y on x by least squares and returns y minus the fit.
func residuals(y, x *mat.Dense) (*mat.Dense, error) {
	var beta mat.Dense
	if err := beta.Solve(x, y); err != nil {
		return nil, fmt.Errorf("johansen: regress on lagged differences: %w", ErrSingularForecast)
	}
	var fit, r mat.Dense
	fit.Mul(x, &beta)
	r.Sub(y, &fit)
	return &r, nil
}

func moment(a, b *mat.Dense, n int) *mat.Dense {
	var out mat.Dense
	out.Mul(a.T(), b)
	out.Scale(1/float64(n), &out)
	return &out
}
