package frontier

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrNotPositiveDefinite is returned by Cholesky when a pivot residual is not
// strictly positive.
var ErrNotPositiveDefinite = errors.New("matrix is not positive definite")

// Covariance builds Σ[i][j] = ρ[i][j]·σ[i]·σ[j] from a correlation matrix and
// per-asset standard deviations. Only the lower triangle of correlation is read,
// so the result is symmetric by construction.
func Covariance(correlation [][]float64, stdevs []float64) *mat.SymDense {
	n := len(stdevs)
	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sigma.SetSym(i, j, correlation[i][j]*stdevs[i]*stdevs[j])
		}
	}
	return sigma
}

// DiagonalCovariance builds diag(σ²), the covariance of uncorrelated assets.
func DiagonalCovariance(stdevs []float64) *mat.SymDense {
	n := len(stdevs)
	sigma := mat.NewSymDense(n, nil)
	for i, s := range stdevs {
		sigma.SetSym(i, i, s*s)
	}
	return sigma
}

// Cholesky returns the lower-triangular L with Σ = L·Lᵗ.
func Cholesky(sigma mat.Symmetric) (*mat.TriDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(sigma); !ok {
		return nil, ErrNotPositiveDefinite
	}

	l := new(mat.TriDense)
	chol.LTo(l)
	return l, nil
}

// DiagonalFactor returns L = diag(σ), the factor used when the base covariance
// cannot be factorized and assets are treated as uncorrelated.
func DiagonalFactor(stdevs []float64) *mat.TriDense {
	n := len(stdevs)
	l := mat.NewTriDense(n, mat.Lower, nil)
	for i, s := range stdevs {
		l.SetTri(i, i, s)
	}
	return l
}

// StreamSource returns the random source owned by one history. Streams for the
// same seed and different indexes are independent, and the same (seed, index)
// pair always yields the same sequence.
func StreamSource(seed uint64, stream int) rand.Source {
	return rand.NewPCG(seed, uint64(stream))
}

// Sampler draws correlated return vectors x = μ + L·z, z ~ N(0, I).
// A Sampler is not safe for concurrent use; give each goroutine its own.
type Sampler struct {
	l      *mat.TriDense
	mu     *mat.VecDense
	normal distuv.Normal
	z      *mat.VecDense
}

// NewSampler creates a sampler over factor l and mean mu reading variates
// from src.
func NewSampler(l *mat.TriDense, mu []float64, src rand.Source) *Sampler {
	n := len(mu)
	return &Sampler{
		l:      l,
		mu:     mat.NewVecDense(n, append([]float64(nil), mu...)),
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		z:      mat.NewVecDense(n, nil),
	}
}

// Sample returns one draw.
func (s *Sampler) Sample() []float64 {
	n := s.mu.Len()
	for i := 0; i < n; i++ {
		s.z.SetVec(i, s.normal.Rand())
	}

	x := mat.NewVecDense(n, nil)
	x.MulVec(s.l, s.z)
	x.AddVec(x, s.mu)
	return x.RawVector().Data
}

// History draws t samples into a t×n matrix, one observation per row.
func (s *Sampler) History(t int) *mat.Dense {
	n := s.mu.Len()
	history := mat.NewDense(t, n, nil)
	for r := 0; r < t; r++ {
		history.SetRow(r, s.Sample())
	}
	return history
}

// Estimate returns the sample mean and the sample covariance (normalised by
// T−1) of a T×N history.
func Estimate(history mat.Matrix) ([]float64, *mat.SymDense, error) {
	t, n := history.Dims()
	if t < 2 {
		return nil, nil, fmt.Errorf("%w: need at least 2 observations, got %d", ErrInvalidInput, t)
	}

	mu := make([]float64, n)
	col := make([]float64, t)
	for j := 0; j < n; j++ {
		mat.Col(col, j, history)
		mu[j] = stat.Mean(col, nil)
	}

	sigma := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(sigma, history, nil)
	return mu, sigma, nil
}

// PortfolioReturn returns w·μ.
func PortfolioReturn(w, mu []float64) float64 {
	return floats.Dot(w, mu)
}

// PortfolioVariance returns wᵗΣw.
func PortfolioVariance(w []float64, sigma mat.Symmetric) float64 {
	v := mat.NewVecDense(len(w), w)
	return mat.Inner(v, sigma, v)
}

// PortfolioRisk returns √(wᵗΣw). Variance is floored at zero so rounding on a
// near-singular Σ cannot produce NaN.
func PortfolioRisk(w []float64, sigma mat.Symmetric) float64 {
	return math.Sqrt(math.Max(PortfolioVariance(w, sigma), 0))
}
