package frontier

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// DefaultPenaltyWeight scales the quadratic penalties on the budget and
// target-return constraints.
const DefaultPenaltyWeight = 1000.0

// PenaltySolver minimizes wᵗΣw plus quadratic penalties on the equality
// constraints with gonum's quasi-Newton methods, evaluating every candidate on
// its projection onto the box. The minimizer is then moved back inside the box
// with the budget restored exactly.
type PenaltySolver struct {
	penaltyWeight float64
}

// NewPenaltySolver creates a penalty solver. A non-positive weight selects
// DefaultPenaltyWeight.
func NewPenaltySolver(penaltyWeight float64) *PenaltySolver {
	if penaltyWeight <= 0 {
		penaltyWeight = DefaultPenaltyWeight
	}
	return &PenaltySolver{penaltyWeight: penaltyWeight}
}

// Solve implements Solver.
func (s *PenaltySolver) Solve(p Problem) Solution {
	n := len(p.Mu)
	proj := make([]float64, n)
	sigmaW := mat.NewVecDense(n, nil)

	project := func(x []float64) []float64 {
		copy(proj, x)
		clampToBounds(proj, p.Min, p.Max)
		return proj
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			w := project(x)
			budget := floats.Sum(w) - 1
			obj := PortfolioVariance(w, p.Sigma) + s.penaltyWeight*budget*budget
			if p.Target != nil {
				miss := PortfolioReturn(w, p.Mu) - *p.Target
				obj += s.penaltyWeight * miss * miss
			}
			return obj
		},
		Grad: func(grad, x []float64) {
			w := project(x)
			sigmaW.MulVec(p.Sigma, mat.NewVecDense(n, w))
			budget := floats.Sum(w) - 1
			for i := range grad {
				grad[i] = 2*sigmaW.AtVec(i) + 2*s.penaltyWeight*budget
			}
			if p.Target != nil {
				miss := PortfolioReturn(w, p.Mu) - *p.Target
				floats.AddScaled(grad, 2*s.penaltyWeight*miss, p.Mu)
			}
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	x := initial
	result, err := optimize.Minimize(problem, initial, nil, &optimize.BFGS{})
	if err != nil || !converged(result.Status) {
		result, err = optimize.Minimize(problem, initial, nil, &optimize.NelderMead{})
	}
	if err == nil && result != nil {
		x = result.X
	}

	w := make([]float64, n)
	copy(w, x)
	restoreBudget(w, p.Min, p.Max)

	return newSolution(w, p)
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence:
		return true
	}
	return false
}
