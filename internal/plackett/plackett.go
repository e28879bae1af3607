// Package plackett fits Plackett-Luce models with ties to sets of rankings.
//
// A tied choice set S is chosen from the available items A with probability
// proportional to delta_|S| * (prod_{i in S} alpha_i)^(1/|S|), normalised
// over every subset of A up to the largest modelled tie order. alpha are the
// item worths and delta the tie parameters (delta_1 = 1).
package plackett

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/ricesearch/rank-tree/internal/itempar"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/pkg/logger"
	"github.com/ricesearch/rank-tree/internal/ranking"
)

// WarningKind classifies fitting warnings.
type WarningKind string

const (
	WarnNotConverged WarningKind = "not_converged"
	WarnBoundary     WarningKind = "boundary"
)

// boundaryLog is the log-parameter magnitude treated as an estimate on the
// boundary of the parameter space.
const boundaryLog = 25

// Warning is a non-fatal condition reported by a fit.
type Warning struct {
	Kind    WarningKind
	Message string
}

// Options controls a fit.
type Options struct {
	// Start holds worth-scale item parameters followed by raw tie
	// parameters. Worths need not sum to one. Nil starts from equal worths.
	Start []float64

	// Weights has one entry per ranking. Nil weights every ranking 1.
	Weights []float64

	// MaxIter bounds optimiser iterations. Zero evaluates Start without
	// optimising.
	MaxIter int

	Tol     float64
	NPseudo float64

	// MaxTied is the number of tie orders modelled. Zero uses the length of
	// Start, or else the largest tie in the rankings.
	MaxTied int

	// Ref is recorded on the model as its default reference item.
	Ref itempar.Reference
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxIter: 500,
		Tol:     1e-7,
		NPseudo: 0.5,
	}
}

// Model is a fitted Plackett-Luce model.
type Model struct {
	Items     []string
	LogWorth  []float64 // first item fixed at 0
	LogTie    []float64 // orders 2..MaxTied
	MaxTied   int
	Ref       itempar.Reference
	NegLogLik float64 // observed rankings only, pseudo-rankings excluded
	NObs      int

	Iterations int
	Converged  bool
	Warnings   []Warning
}

// Coefficients returns the model parameters on the requested scale. An unset
// ref falls back to the model's own reference, then to the first item.
func (m *Model) Coefficients(ref itempar.Reference, scale itempar.Scale) (*itempar.Vector, error) {
	idx, err := itempar.Resolve(m.Items, ref, m.Ref)
	if err != nil {
		return nil, err
	}
	return itempar.FromLogWorth(m.Items, m.LogWorth, m.LogTie, idx, scale)
}

// DF returns the number of free parameters.
func (m *Model) DF() int {
	return len(m.Items) - 1 + len(m.LogTie)
}

// LogLik returns the log-likelihood of the observed rankings.
func (m *Model) LogLik() float64 {
	return -m.NegLogLik
}

// Fitter estimates Plackett-Luce models.
type Fitter struct {
	log *logger.Logger
}

// NewFitter creates a fitter. log may be nil.
func NewFitter(log *logger.Logger) *Fitter {
	if log == nil {
		log = logger.Discard()
	}
	return &Fitter{log: log}
}

// Fit estimates worth and tie parameters from rankings over items.
func (f *Fitter) Fit(ctx context.Context, items []string, rankings []ranking.Ranking, opts Options) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeTimeout, "fit cancelled", err)
	}
	n := len(items)
	if n < 2 {
		return nil, errors.ValidationError("at least two items are required")
	}
	if opts.Weights != nil && len(opts.Weights) != len(rankings) {
		return nil, errors.ValidationError(fmt.Sprintf("have %d rankings but %d weights", len(rankings), len(opts.Weights)))
	}
	if opts.MaxIter < 0 {
		return nil, errors.ValidationError("max iterations must not be negative")
	}

	maxTied := opts.MaxTied
	if maxTied == 0 {
		if opts.Start != nil {
			maxTied = len(opts.Start) - n + 1
		} else {
			maxTied = 1
			for _, r := range rankings {
				if t := r.MaxTied(); t > maxTied {
					maxTied = t
				}
			}
		}
	}
	if maxTied < 1 {
		return nil, errors.ValidationError(fmt.Sprintf("start has %d values for %d items", len(opts.Start), n))
	}

	p, err := startParams(n, maxTied, opts.Start)
	if err != nil {
		return nil, err
	}

	choices, err := compile(rankings, opts.Weights, maxTied)
	if err != nil {
		return nil, err
	}

	m := &Model{
		Items:   items,
		MaxTied: maxTied,
		Ref:     opts.Ref,
		NObs:    len(rankings),
	}

	if opts.MaxIter == 0 {
		m.LogWorth, m.LogTie = p.logWorth, p.logTie
		m.NegLogLik = negLogLik(choices, p, maxTied, nil)
		m.Warnings = append(m.Warnings, Warning{
			Kind:    WarnNotConverged,
			Message: "iteration limit 0 reached, parameters evaluated as supplied",
		})
		return m, nil
	}

	x, iters, converged, warn, err := f.optimize(choices, p, maxTied, opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeTimeout, "fit cancelled", err)
	}

	p = unpack(x, n, maxTied)
	m.LogWorth, m.LogTie = p.logWorth, p.logTie
	m.NegLogLik = negLogLik(choices, p, maxTied, nil)
	m.Iterations = iters
	m.Converged = converged
	if warn != nil {
		m.Warnings = append(m.Warnings, *warn)
	}
	for i, v := range x {
		if math.Abs(v) > boundaryLog {
			m.Warnings = append(m.Warnings, Warning{
				Kind:    WarnBoundary,
				Message: fmt.Sprintf("parameter %d is on the boundary (log value %.1f)", i+2, v),
			})
			break
		}
	}

	f.log.Debug("plackett-luce fit",
		"items", n,
		"rankings", len(rankings),
		"max_tied", maxTied,
		"iterations", iters,
		"converged", converged,
		"neg_loglik", m.NegLogLik,
	)
	return m, nil
}

// optimize minimises the penalised negative log-likelihood over every
// parameter except the first item's log-worth.
func (f *Fitter) optimize(choices []choice, start params, maxTied int, opts Options) ([]float64, int, bool, *Warning, error) {
	n := len(start.logWorth)
	tol := opts.Tol
	if tol <= 0 {
		tol = DefaultOptions().Tol
	}

	objective := func(x []float64, grad []float64) float64 {
		p := unpack(x, n, maxTied)
		var full []float64
		if grad != nil {
			full = make([]float64, n+maxTied-1)
		}
		v := negLogLik(choices, p, maxTied, full)
		v += pseudoNegLogLik(p, opts.NPseudo, full)
		if grad != nil {
			copy(grad, full[1:])
		}
		return v
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return objective(x, nil)
		},
		Grad: func(grad, x []float64) {
			objective(x, grad)
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: tol,
		MajorIterations:   opts.MaxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   tol,
			Iterations: 20,
		},
	}

	res, err := optimize.Minimize(problem, pack(start), settings, &optimize.BFGS{})
	if res == nil {
		return nil, 0, false, nil, errors.FitError("optimizer failed", err)
	}
	for _, v := range res.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, 0, false, nil, errors.FitError("optimizer produced non-finite parameters", err)
		}
	}

	switch {
	case err != nil:
		return res.X, res.MajorIterations, false, &Warning{
			Kind:    WarnNotConverged,
			Message: fmt.Sprintf("optimizer stopped early: %v", err),
		}, nil
	case res.Status == optimize.IterationLimit:
		return res.X, res.MajorIterations, false, &Warning{
			Kind:    WarnNotConverged,
			Message: fmt.Sprintf("iteration limit %d reached", opts.MaxIter),
		}, nil
	default:
		return res.X, res.MajorIterations, true, nil, nil
	}
}

// startParams converts worth-scale Start to log parameters with the first
// item at zero.
func startParams(n, maxTied int, start []float64) (params, error) {
	p := params{
		logWorth: make([]float64, n),
		logTie:   make([]float64, maxTied-1),
	}
	if start == nil {
		for i := range p.logTie {
			p.logTie[i] = math.Log(0.1)
		}
		return p, nil
	}

	if len(start) != n+maxTied-1 {
		return params{}, errors.ValidationError(fmt.Sprintf("start has %d values, want %d items plus %d tie parameters", len(start), n, maxTied-1))
	}
	lw, lt, err := itempar.FromWorth(start[:n], start[n:])
	if err != nil {
		return params{}, err
	}
	for i := range lw {
		p.logWorth[i] = lw[i] - lw[0]
	}
	copy(p.logTie, lt)
	return p, nil
}

func pack(p params) []float64 {
	x := make([]float64, 0, len(p.logWorth)-1+len(p.logTie))
	x = append(x, p.logWorth[1:]...)
	return append(x, p.logTie...)
}

func unpack(x []float64, n, maxTied int) params {
	p := params{
		logWorth: make([]float64, n),
		logTie:   make([]float64, maxTied-1),
	}
	copy(p.logWorth[1:], x[:n-1])
	copy(p.logTie, x[n-1:])
	return p
}
