// Package frontier computes resampled (Michaud) efficient frontiers.
//
// A run builds the base covariance from the caller's assumptions, simulates
// many short return histories from it, solves a full frontier on every
// history's estimates, and averages the weights rank by rank. The averaged
// portfolios are then scored against the base assumptions.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultPoints is the number of portfolios on every frontier.
const DefaultPoints = 50

// Asset is one asset class of the optimization universe.
type Asset struct {
	ID         string  `json:"id" msgpack:"id"`
	Return     float64 `json:"return" msgpack:"return"`
	Volatility float64 `json:"stdev" msgpack:"stdev"`
	MinWeight  float64 `json:"min_weight" msgpack:"min_weight"`
	MaxWeight  float64 `json:"max_weight" msgpack:"max_weight"`
}

// Input is everything a single resampling run consumes. Asset order defines
// the index mapping of Correlation and of every weight vector produced.
type Input struct {
	Assets             []Asset     `json:"assets" msgpack:"assets"`
	Correlation        [][]float64 `json:"correlation" msgpack:"correlation"`
	ForecastConfidence int         `json:"forecast_confidence" msgpack:"forecast_confidence"` // T
	NumSimulations     int         `json:"num_simulations" msgpack:"num_simulations"`         // N
	Seed               uint64      `json:"seed" msgpack:"seed"`
}

// RankedPortfolio is one averaged portfolio of the final frontier.
// Return and Risk are measured against the base assumptions.
type RankedPortfolio struct {
	Rank      int       `json:"rank" msgpack:"rank"`
	Weights   []float64 `json:"weights" msgpack:"weights"`
	Return    float64   `json:"return" msgpack:"return"`
	Risk      float64   `json:"risk" msgpack:"risk"`
	Residuals Residuals `json:"residuals" msgpack:"residuals"`
}

// Summary describes the shape of a frontier.
type Summary struct {
	MinRisk            float64 `json:"min_risk" msgpack:"min_risk"`
	MaxRisk            float64 `json:"max_risk" msgpack:"max_risk"`
	MinReturn          float64 `json:"min_return" msgpack:"min_return"`
	MaxReturn          float64 `json:"max_return" msgpack:"max_return"`
	MonotonicRisk      bool    `json:"monotonic_risk" msgpack:"monotonic_risk"`
	MeanBudgetResidual float64 `json:"mean_budget_residual" msgpack:"mean_budget_residual"`
	MaxBoundResidual   float64 `json:"max_bound_residual" msgpack:"max_bound_residual"`
}

// DegradedWarning is attached to results whose base covariance could not be
// factorized.
const DegradedWarning = "base covariance is not positive definite; " +
	"assets were sampled as uncorrelated and reported risk uses diag(σ²), not the given correlation"

// Result is the output of a resampling run.
type Result struct {
	RunID              string            `json:"run_id" msgpack:"run_id"`
	Key                string            `json:"key" msgpack:"key"`
	ComputedAt         time.Time         `json:"computed_at" msgpack:"computed_at"`
	Portfolios         []RankedPortfolio `json:"portfolios" msgpack:"portfolios"`
	Summary            Summary           `json:"summary" msgpack:"summary"`
	Degraded           bool              `json:"degraded" msgpack:"degraded"`
	Warnings           []string          `json:"warnings,omitempty" msgpack:"warnings"`
	Seed               uint64            `json:"seed" msgpack:"seed"`
	Points             int               `json:"points" msgpack:"points"`
	ForecastConfidence int               `json:"forecast_confidence" msgpack:"forecast_confidence"`
	NumSimulations     int               `json:"num_simulations" msgpack:"num_simulations"`
	Cached             bool              `json:"cached" msgpack:"-"`
}

// ProgressFunc is told after every completed history. Calls are serialised.
type ProgressFunc func(done, total int)

// Options configure an Engine.
type Options struct {
	Points     int  // portfolios per frontier, DefaultPoints when zero
	Workers    int  // concurrent histories, GOMAXPROCS when zero
	SortByRisk bool // re-sort the averaged frontier by final risk
}

// Engine runs resampled frontier optimizations.
type Engine struct {
	solver Solver
	opts   Options
	log    zerolog.Logger
}

// NewEngine creates an engine over the given solver.
func NewEngine(solver Solver, opts Options, log zerolog.Logger) *Engine {
	if opts.Points <= 0 {
		opts.Points = DefaultPoints
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		solver: solver,
		opts:   opts,
		log:    log.With().Str("component", "frontier_engine").Logger(),
	}
}

// Options returns the effective engine options.
func (e *Engine) Options() Options {
	return e.opts
}

// base holds the per-run base assumptions.
type base struct {
	mu       []float64
	stdevs   []float64
	sigma    *mat.SymDense
	factor   *mat.TriDense
	min      []float64
	max      []float64
	degraded bool
}

// history is one simulated history's frontier: weights and return residual by rank.
type history struct {
	weights   [][]float64
	returnRes []float64
}

// Resample runs the full resampling procedure.
func (e *Engine) Resample(ctx context.Context, in Input) (*Result, error) {
	return e.ResampleWithProgress(ctx, in, nil)
}

// ResampleWithProgress is Resample with a progress callback. A cancelled
// context abandons the histories not yet started and yields no result.
func (e *Engine) ResampleWithProgress(ctx context.Context, in Input, progress ProgressFunc) (*Result, error) {
	if err := Validate(in, e.opts.Points); err != nil {
		return nil, err
	}

	start := time.Now()
	e.log.Info().
		Int("assets", len(in.Assets)).
		Int("forecast_confidence", in.ForecastConfidence).
		Int("num_simulations", in.NumSimulations).
		Int("points", e.opts.Points).
		Uint64("seed", in.Seed).
		Msg("Starting resampled frontier run")

	b := e.buildBase(in)
	var warnings []string
	if b.degraded {
		warnings = append(warnings, DegradedWarning)
		e.log.Warn().Msg("Base covariance not positive definite, falling back to diagonal factor")
	}

	histories := make([]history, in.NumSimulations)
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for sim := 0; sim < in.NumSimulations; sim++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := e.simulate(b, in, sim)
			if err != nil {
				return fmt.Errorf("history %d: %w", sim, err)
			}
			histories[sim] = h

			mu.Lock()
			done++
			if progress != nil {
				progress(done, in.NumSimulations)
			}
			mu.Unlock()

			e.log.Debug().Int("history", sim).Msg("History frontier complete")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	portfolios := e.average(b, histories)
	if e.opts.SortByRisk {
		sortByRisk(portfolios)
	}

	result := &Result{
		Portfolios:         portfolios,
		Summary:            summarize(portfolios),
		Degraded:           b.degraded,
		Warnings:           warnings,
		Seed:               in.Seed,
		Points:             e.opts.Points,
		ForecastConfidence: in.ForecastConfidence,
		NumSimulations:     in.NumSimulations,
	}

	e.log.Info().
		Dur("duration", time.Since(start)).
		Bool("degraded", b.degraded).
		Bool("monotonic_risk", result.Summary.MonotonicRisk).
		Msg("Resampled frontier run complete")

	return result, nil
}

// BaseGlobalMinimumVariance solves the global minimum variance portfolio on the
// base (non-resampled) assumptions.
func (e *Engine) BaseGlobalMinimumVariance(in Input) (Solution, bool, error) {
	if err := Validate(in, e.opts.Points); err != nil {
		return Solution{}, false, err
	}
	b := e.buildBase(in)
	return GlobalMinimumVariance(e.solver, b.mu, b.sigma, b.min, b.max), b.degraded, nil
}

func (e *Engine) buildBase(in Input) base {
	n := len(in.Assets)
	b := base{
		mu:     make([]float64, n),
		stdevs: make([]float64, n),
		min:    make([]float64, n),
		max:    make([]float64, n),
	}
	for i, a := range in.Assets {
		b.mu[i] = a.Return
		b.stdevs[i] = a.Volatility
		b.min[i] = a.MinWeight
		b.max[i] = a.MaxWeight
	}

	b.sigma = Covariance(in.Correlation, b.stdevs)
	factor, err := Cholesky(b.sigma)
	if errors.Is(err, ErrNotPositiveDefinite) {
		// The sampling model and the final scoring must agree, so both use
		// the uncorrelated covariance.
		b.degraded = true
		b.sigma = DiagonalCovariance(b.stdevs)
		factor = DiagonalFactor(b.stdevs)
	}
	b.factor = factor
	return b
}

func (e *Engine) simulate(b base, in Input, sim int) (history, error) {
	sampler := NewSampler(b.factor, b.mu, StreamSource(in.Seed, sim))
	muSim, sigmaSim, err := Estimate(sampler.History(in.ForecastConfidence))
	if err != nil {
		return history{}, err
	}

	lo, hi := floats.Min(muSim), floats.Max(muSim)
	points := e.opts.Points
	h := history{
		weights:   make([][]float64, points),
		returnRes: make([]float64, points),
	}
	for p := 0; p < points; p++ {
		target := lo
		if points > 1 {
			target = lo + float64(p)/float64(points-1)*(hi-lo)
		}
		sol := e.solver.Solve(Problem{
			Mu:     muSim,
			Sigma:  sigmaSim,
			Target: &target,
			Min:    b.min,
			Max:    b.max,
		})
		h.weights[p] = sol.Weights
		h.returnRes[p] = sol.Residuals.Return
	}
	return h, nil
}

// average reduces histories rank by rank in history order, so the result does
// not depend on which worker finished first.
func (e *Engine) average(b base, histories []history) []RankedPortfolio {
	n := len(b.mu)
	count := float64(len(histories))
	portfolios := make([]RankedPortfolio, e.opts.Points)

	for p := range portfolios {
		w := make([]float64, n)
		var returnRes float64
		for _, h := range histories {
			floats.Add(w, h.weights[p])
			returnRes += h.returnRes[p]
		}
		floats.Scale(1/count, w)

		res := residuals(w, Problem{Mu: b.mu, Sigma: b.sigma, Min: b.min, Max: b.max})
		res.Return = returnRes / count

		portfolios[p] = RankedPortfolio{
			Rank:      p,
			Weights:   w,
			Return:    PortfolioReturn(w, b.mu),
			Risk:      PortfolioRisk(w, b.sigma),
			Residuals: res,
		}
	}
	return portfolios
}

func sortByRisk(portfolios []RankedPortfolio) {
	sort.SliceStable(portfolios, func(i, j int) bool {
		return portfolios[i].Risk < portfolios[j].Risk
	})
	for i := range portfolios {
		portfolios[i].Rank = i
	}
}

func summarize(portfolios []RankedPortfolio) Summary {
	if len(portfolios) == 0 {
		return Summary{}
	}
	s := Summary{
		MinRisk:       math.Inf(1),
		MaxRisk:       math.Inf(-1),
		MinReturn:     math.Inf(1),
		MaxReturn:     math.Inf(-1),
		MonotonicRisk: true,
	}
	for i, p := range portfolios {
		s.MinRisk = math.Min(s.MinRisk, p.Risk)
		s.MaxRisk = math.Max(s.MaxRisk, p.Risk)
		s.MinReturn = math.Min(s.MinReturn, p.Return)
		s.MaxReturn = math.Max(s.MaxReturn, p.Return)
		s.MeanBudgetResidual += p.Residuals.Budget
		s.MaxBoundResidual = math.Max(s.MaxBoundResidual, p.Residuals.Bound)
		if i > 0 && p.Risk < portfolios[i-1].Risk {
			s.MonotonicRisk = false
		}
	}
	s.MeanBudgetResidual /= float64(len(portfolios))
	return s
}
