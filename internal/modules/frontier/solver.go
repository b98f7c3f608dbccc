package frontier

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Default tuning for ProjectedGradientSolver. The learning rate assumes returns
// and volatilities expressed as decimals (0.07, not 7); inputs in percent need
// a step roughly 10⁴ times smaller.
const (
	DefaultIterations       = 1000
	DefaultProjectionRounds = 10
	DefaultLearningRate     = 0.5
	DefaultMuNormFloor      = 1e-12
)

const budgetTolerance = 1e-12

// Problem is one constrained minimum-variance problem:
//
//	minimize   wᵗΣw
//	subject to Σw = 1
//	           w·μ = Target (only when Target != nil)
//	           Min[i] ≤ w[i] ≤ Max[i]
type Problem struct {
	Mu     []float64
	Sigma  mat.Symmetric
	Target *float64
	Min    []float64
	Max    []float64
}

// Residuals report how far a solution is from satisfying each constraint.
type Residuals struct {
	Budget float64 `json:"budget" msgpack:"budget"` // |Σw − 1|
	Return float64 `json:"return" msgpack:"return"` // |w·μ − target|, 0 without a target
	Bound  float64 `json:"bound" msgpack:"bound"`   // largest box violation
}

// Solution is a solver result. Return and Risk are measured against the same
// (μ, Σ) the problem was posed with.
type Solution struct {
	Weights   []float64
	Return    float64
	Risk      float64
	Residuals Residuals
}

// Solver solves a Problem. Implementations must always return a result and
// must not block; infeasibility shows up in Residuals, never as an error.
type Solver interface {
	Solve(p Problem) Solution
}

// SolverConfig holds the iteration budget of ProjectedGradientSolver.
type SolverConfig struct {
	Iterations       int
	ProjectionRounds int
	LearningRate     float64
	MuNormFloor      float64
}

// DefaultSolverConfig returns the stock tuning.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		Iterations:       DefaultIterations,
		ProjectionRounds: DefaultProjectionRounds,
		LearningRate:     DefaultLearningRate,
		MuNormFloor:      DefaultMuNormFloor,
	}
}

// ProjectedGradientSolver runs a fixed number of gradient steps on wᵗΣw, each
// followed by rounds of alternating projection onto the box, the budget
// hyperplane and the target-return hyperplane. A final pass restores the box
// and the budget exactly, so whatever the alternating projection could not
// reconcile is left in Residuals.Return.
type ProjectedGradientSolver struct {
	cfg SolverConfig
}

// NewProjectedGradientSolver creates a solver. Zero fields in cfg fall back to
// the defaults.
func NewProjectedGradientSolver(cfg SolverConfig) *ProjectedGradientSolver {
	def := DefaultSolverConfig()
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.ProjectionRounds <= 0 {
		cfg.ProjectionRounds = def.ProjectionRounds
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.MuNormFloor <= 0 {
		cfg.MuNormFloor = def.MuNormFloor
	}
	return &ProjectedGradientSolver{cfg: cfg}
}

// Config returns the effective tuning.
func (s *ProjectedGradientSolver) Config() SolverConfig {
	return s.cfg
}

// Solve implements Solver.
func (s *ProjectedGradientSolver) Solve(p Problem) Solution {
	n := len(p.Mu)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}

	muNorm2 := math.Max(floats.Dot(p.Mu, p.Mu), s.cfg.MuNormFloor)
	wv := mat.NewVecDense(n, w)
	grad := mat.NewVecDense(n, nil)

	for iter := 0; iter < s.cfg.Iterations; iter++ {
		// Descent direction only; the factor 2 of ∇(wᵗΣw) is folded into η.
		grad.MulVec(p.Sigma, wv)
		wv.AddScaledVec(wv, -s.cfg.LearningRate, grad)

		for round := 0; round < s.cfg.ProjectionRounds; round++ {
			clampToBounds(w, p.Min, p.Max)

			shift := (floats.Sum(w) - 1) / float64(n)
			for i := range w {
				w[i] -= shift
			}

			if p.Target != nil {
				step := (floats.Dot(w, p.Mu) - *p.Target) / muNorm2
				floats.AddScaled(w, -step, p.Mu)
			}
		}
	}

	restoreBudget(w, p.Min, p.Max)
	return newSolution(w, p)
}

// GlobalMinimumVariance solves the problem without a return target.
func GlobalMinimumVariance(s Solver, mu []float64, sigma mat.Symmetric, min, max []float64) Solution {
	return s.Solve(Problem{Mu: mu, Sigma: sigma, Min: min, Max: max})
}

func newSolution(w []float64, p Problem) Solution {
	return Solution{
		Weights:   w,
		Return:    PortfolioReturn(w, p.Mu),
		Risk:      PortfolioRisk(w, p.Sigma),
		Residuals: residuals(w, p),
	}
}

func residuals(w []float64, p Problem) Residuals {
	r := Residuals{
		Budget: math.Abs(floats.Sum(w) - 1),
		Bound:  boundViolation(w, p.Min, p.Max),
	}
	if p.Target != nil {
		r.Return = math.Abs(PortfolioReturn(w, p.Mu) - *p.Target)
	}
	return r
}

func clampToBounds(w, min, max []float64) {
	for i := range w {
		w[i] = math.Max(min[i], math.Min(max[i], w[i]))
	}
}

// restoreBudget clamps w into the box and spreads the remaining budget miss
// over the assets that still have room. Every pass either closes the miss or
// saturates at least one asset, so len(w)+1 passes suffice when Σmin ≤ 1 ≤ Σmax.
func restoreBudget(w, min, max []float64) {
	clampToBounds(w, min, max)
	for pass := 0; pass <= len(w); pass++ {
		miss := 1 - floats.Sum(w)
		if math.Abs(miss) <= budgetTolerance {
			return
		}
		room := func(i int) bool {
			if miss > 0 {
				return w[i] < max[i]
			}
			return w[i] > min[i]
		}
		free := 0
		for i := range w {
			if room(i) {
				free++
			}
		}
		if free == 0 {
			return
		}
		shift := miss / float64(free)
		for i := range w {
			if room(i) {
				w[i] += shift
			}
		}
		clampToBounds(w, min, max)
	}
}

func boundViolation(w, min, max []float64) float64 {
	var worst float64
	for i := range w {
		worst = math.Max(worst, min[i]-w[i])
		worst = math.Max(worst, w[i]-max[i])
	}
	return worst
}
