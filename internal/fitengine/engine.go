// Package fitengine provides a binned Poisson-likelihood fit engine for
// multi-template models. Point estimates come from a Nelder-Mead
// minimization with Hessian-based uncertainties; marginalized estimates
// come from a Metropolis-Hastings chain.
package fitengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/samplemv"

	"mtf-ensembles/internal/ensemble"
	"mtf-ensembles/internal/model"
)

// ErrNoData is returned when a fit is requested before LoadData.
var ErrNoData = errors.New("fitengine: no data loaded")

// Config tunes the engine.
type Config struct {
	// MaxIterations bounds the minimizer's major iterations.
	MaxIterations int
	// Samples is the length of the Markov chain kept for marginalization.
	Samples int
	// BurnIn is the number of initial chain steps discarded.
	BurnIn int
	// Seed is combined with the stream given to Seed to drive the chain.
	Seed uint64
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 5000
	}
	if c.Samples <= 0 {
		c.Samples = 4000
	}
	if c.BurnIn <= 0 {
		c.BurnIn = 1000
	}
	return c
}

// Engine implements ensemble.FitEngine and ensemble.Seeder.
type Engine struct {
	model *model.Model
	cfg   Config
	data  []model.Histogram
	src   *rand.PCG
}

// New creates an engine for m.
func New(m *model.Model, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		model: m,
		cfg:   cfg,
		src:   rand.NewPCG(cfg.Seed, 0),
	}
}

// Factory returns an ensemble.EngineFactory producing independent engines.
func Factory(m *model.Model, cfg Config) ensemble.EngineFactory {
	return func() (ensemble.FitEngine, error) {
		return New(m, cfg), nil
	}
}

// Reset drops the loaded data.
func (e *Engine) Reset() {
	e.data = nil
	e.src.Seed(e.cfg.Seed, 0)
}

// Seed positions the chain's random source on the given stream.
func (e *Engine) Seed(stream uint64) {
	e.src.Seed(e.cfg.Seed, stream)
}

// LoadData validates and stores a copy of the pseudo-data.
func (e *Engine) LoadData(data ensemble.PseudoDataSet) error {
	if len(data.Channels) != len(e.model.Channels) {
		return fmt.Errorf("fitengine: got %d channels, model has %d", len(data.Channels), len(e.model.Channels))
	}
	loaded := make([]model.Histogram, len(data.Channels))
	for c, h := range data.Channels {
		if h.Len() != e.model.Channels[c].NumBins() {
			return fmt.Errorf("fitengine: channel %q has %d bins, expected %d", e.model.Channels[c].Name, h.Len(), e.model.Channels[c].NumBins())
		}
		for b, v := range h.Contents {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("fitengine: channel %q bin %d has invalid content %v", e.model.Channels[c].Name, b, v)
			}
		}
		loaded[c] = h.Clone()
	}
	e.data = loaded
	return nil
}

// FitPointEstimate minimizes the negative log-likelihood.
func (e *Engine) FitPointEstimate(ctx context.Context, settings ensemble.FitSettings) (ensemble.FitOutcome, error) {
	if e.data == nil {
		return ensemble.FitOutcome{}, ErrNoData
	}
	l := newLikelihood(e.model, e.data, settings)
	out := ensemble.FitOutcome{Mode: ensemble.ModePointEstimate}

	best, status := e.minimize(l)
	cov, ok := covariance(l, best)
	if !ok && status == ensemble.StatusConverged {
		status = ensemble.StatusNumericalFailure
	}

	out.Estimates = e.estimates(l, best, func(i int) (float64, float64) {
		if !ok {
			return 0, 0
		}
		s := math.Sqrt(cov.At(i, i))
		return s, s
	})
	out.Status = status
	e.quality(l, best, &out)
	return out, nil
}

// FitBySampling marginalizes the posterior with a Metropolis-Hastings
// chain started at the mode. Estimates are posterior medians with the
// central 68.27% interval as uncertainties.
func (e *Engine) FitBySampling(ctx context.Context, settings ensemble.FitSettings) (ensemble.FitOutcome, error) {
	if e.data == nil {
		return ensemble.FitOutcome{}, ErrNoData
	}
	l := newLikelihood(e.model, e.data, settings)
	out := ensemble.FitOutcome{Mode: ensemble.ModeSampling}

	mode, status := e.minimize(l)
	dim := l.dim()
	if dim == 0 {
		out.Status = status
		out.Estimates = e.estimates(l, mode, func(int) (float64, float64) { return 0, 0 })
		e.quality(l, mode, &out)
		return out, nil
	}

	mode, _ = l.clamp(mode)
	sigma := proposalCovariance(l, mode)
	proposal, ok := samplemv.NewProposalNormal(sigma, e.src)
	if !ok {
		out.Status = ensemble.StatusNumericalFailure
		out.Estimates = e.estimates(l, mode, func(int) (float64, float64) { return 0, 0 })
		e.quality(l, mode, &out)
		return out, nil
	}

	chain := mat.NewDense(e.cfg.Samples, dim, nil)
	mh := samplemv.MetropolisHastingser{
		Initial:  mode,
		Target:   posterior{l},
		Proposal: proposal,
		Src:      e.src,
		BurnIn:   e.cfg.BurnIn,
		Rate:     1,
	}
	mh.Sample(chain)

	medians := make([]float64, dim)
	lows := make([]float64, dim)
	highs := make([]float64, dim)
	moved := true
	col := make([]float64, e.cfg.Samples)
	for i := 0; i < dim; i++ {
		mat.Col(col, i, chain)
		sort.Float64s(col)
		medians[i] = stat.Quantile(0.5, stat.Empirical, col, nil)
		lows[i] = medians[i] - stat.Quantile(0.15865, stat.Empirical, col, nil)
		highs[i] = stat.Quantile(0.84135, stat.Empirical, col, nil) - medians[i]
		if col[0] == col[len(col)-1] {
			moved = false
		}
	}

	if !moved && status == ensemble.StatusConverged {
		status = ensemble.StatusNotConverged
	}
	out.Status = status
	out.Estimates = e.estimates(l, medians, func(i int) (float64, float64) {
		return lows[i], highs[i]
	})
	e.quality(l, mode, &out)
	return out, nil
}

// minimize runs Nelder-Mead from the model's starting point.
func (e *Engine) minimize(l *likelihood) ([]float64, ensemble.FitStatus) {
	start := l.start()
	if l.dim() == 0 {
		return start, ensemble.StatusConverged
	}

	problem := optimize.Problem{Func: l.nll}
	settings := &optimize.Settings{
		MajorIterations: e.cfg.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Iterations: 200,
		},
	}
	res, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
	if res == nil {
		return start, ensemble.StatusNumericalFailure
	}

	best, _ := l.clamp(res.X)
	switch {
	case math.IsNaN(res.F) || math.IsInf(res.F, 0):
		return best, ensemble.StatusNumericalFailure
	case err != nil:
		return best, ensemble.StatusNotConverged
	case res.Status == optimize.IterationLimit,
		res.Status == optimize.FunctionEvaluationLimit,
		res.Status == optimize.RuntimeLimit:
		return best, ensemble.StatusNotConverged
	}
	return best, ensemble.StatusConverged
}

// estimates maps free-parameter results onto all parameter names. Fixed
// parameters are reported at their starting value with zero uncertainty.
func (e *Engine) estimates(l *likelihood, x []float64, errs func(i int) (float64, float64)) map[string]ensemble.Estimate {
	full := l.full(x)
	out := make(map[string]ensemble.Estimate, len(l.params))
	for idx, p := range l.params {
		out[p.Name] = ensemble.Estimate{Value: full[idx]}
	}
	for i, idx := range l.free {
		lo, hi := errs(i)
		out[l.params[idx].Name] = ensemble.Estimate{Value: full[idx], ErrLow: lo, ErrHigh: hi}
	}
	return out
}

// quality fills the log-likelihood and the goodness-of-fit p-value, using
// the deviance against the saturated model as a chi-square statistic.
func (e *Engine) quality(l *likelihood, x []float64, out *ensemble.FitOutcome) {
	out.LogLikelihood = -l.nll(x)
	dev, bins := l.deviance(x)
	ndf := bins - l.dim()
	switch {
	case math.IsNaN(dev) || math.IsInf(dev, 0):
		out.PValue = 0
	case ndf <= 0:
		out.PValue = 1
	default:
		out.PValue = distuv.ChiSquared{K: float64(ndf)}.Survival(dev)
	}
}

// covariance inverts the numerical Hessian of the negative log-likelihood.
func covariance(l *likelihood, x []float64) (*mat.SymDense, bool) {
	n := l.dim()
	if n == 0 {
		return nil, true
	}
	hess := mat.NewSymDense(n, nil)
	fd.Hessian(hess, l.nll, x, nil)

	var chol mat.Cholesky
	if ok := chol.Factorize(hess); !ok {
		return nil, false
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, false
	}
	for i := 0; i < n; i++ {
		v := cov.At(i, i)
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, false
		}
	}
	return &cov, true
}

// proposalCovariance scales the mode covariance by the usual 2.38^2/d
// factor, falling back to a diagonal of one percent of each range.
func proposalCovariance(l *likelihood, mode []float64) *mat.SymDense {
	n := l.dim()
	if cov, ok := covariance(l, mode); ok {
		scale := 2.38 * 2.38 / float64(n)
		out := mat.NewSymDense(n, nil)
		out.ScaleSym(scale, cov)
		return out
	}
	out := mat.NewSymDense(n, nil)
	for i, idx := range l.free {
		p := l.params[idx]
		w := (p.Max - p.Min) / 100
		if !(w > 0) {
			w = 0.01
		}
		out.SetSym(i, i, w*w)
	}
	return out
}

// posterior adapts the likelihood to gonum's distmv.LogProber.
type posterior struct {
	l *likelihood
}

func (p posterior) LogProb(x []float64) float64 {
	return p.l.logProb(x)
}
