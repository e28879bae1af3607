package tree

import (
	"context"
	"fmt"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ricesearch/rank-tree/internal/config"
	"github.com/ricesearch/rank-tree/internal/dataset"
	"github.com/ricesearch/rank-tree/internal/frame"
	"github.com/ricesearch/rank-tree/internal/itempar"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/pkg/logger"
	"github.com/ricesearch/rank-tree/internal/pkg/security"
	"github.com/ricesearch/rank-tree/internal/plackett"
	"github.com/ricesearch/rank-tree/internal/ranking"
)

// Fitter fits a ranking model to a subset of rankings.
type Fitter interface {
	Fit(ctx context.Context, items []string, rankings []ranking.Ranking, opts plackett.Options) (*plackett.Model, error)
}

// Builder grows trees by greedy binary splitting. At each node the best
// cutpoint of every covariate is found, each covariate's likelihood ratio is
// tested against the parent model and the most significant one is split on
// while its adjusted p-value stays below Alpha.
type Builder struct {
	fitter Fitter
	cfg    config.TreeConfig
	opts   plackett.Options
	log    *logger.Logger
}

// NewBuilder creates a builder. opts supplies MaxIter, Tol and NPseudo for
// every node fit.
func NewBuilder(fitter Fitter, cfg config.TreeConfig, opts plackett.Options, log *logger.Logger) *Builder {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxCandidates < 1 {
		cfg.MaxCandidates = 1
	}
	return &Builder{
		fitter: fitter,
		cfg:    cfg,
		opts:   opts,
		log:    log,
	}
}

// Build grows a tree on a model frame. ref becomes the default reference of
// every node model.
func (b *Builder) Build(ctx context.Context, mf *dataset.ModelFrame, ref itempar.Reference) (*Tree, error) {
	if mf.Response == nil {
		return nil, errors.MissingResponseError(mf.Formula.Response)
	}
	resp := mf.Response
	if resp.NumGroups() != mf.Covariates.NumRows() {
		return nil, errors.ValidationError(fmt.Sprintf("have %d ranking groups but %d covariate rows", resp.NumGroups(), mf.Covariates.NumRows()))
	}
	if _, err := itempar.Resolve(resp.Items(), ref); err != nil {
		return nil, err
	}

	opts := b.opts
	opts.Start = nil
	opts.Weights = nil
	opts.MaxTied = resp.MaxTied()
	opts.Ref = ref

	g := &grower{
		b:          b,
		resp:       resp,
		covs:       mf.Covariates,
		covariates: mf.Formula.Covariates,
		opts:       opts,
		fitted:     make([]int, resp.NumGroups()),
	}
	all := make([]int, resp.NumGroups())
	for i := range all {
		all[i] = i
	}
	if _, err := g.grow(ctx, all, 0, nil); err != nil {
		return nil, err
	}

	t := New(g.nodes)
	t.Items = resp.Items()
	t.Formula = mf.Formula
	t.Ref = ref
	t.FitOptions = opts
	t.Fitted = g.fitted
	t.LogLik = g.loglik

	b.log.Info("tree fitted",
		"formula", security.SanitizeForLog(mf.Formula.String()),
		"groups", resp.NumGroups(),
		"nodes", len(g.nodes),
		"splits", t.NumSplits(),
		"loglik", t.LogLik,
		"df", t.DF(),
	)
	return t, nil
}

type grower struct {
	b          *Builder
	resp       *ranking.Grouped
	covs       *frame.Frame
	covariates []string
	opts       plackett.Options

	nodes  []*Node
	fitted []int
	loglik float64
	nextID int
}

type candidate struct {
	split       *Split
	left, right []int
	leftModel   *plackett.Model
	rightModel  *plackett.Model
	negLogLik   float64
}

func (g *grower) fit(ctx context.Context, groups []int) (*plackett.Model, error) {
	rs, ws := g.resp.Select(groups)
	opts := g.opts
	opts.Weights = ws
	return g.b.fitter.Fit(ctx, g.resp.Items(), rs, opts)
}

// grow creates the node for groups and its subtree, returning the node id.
// model is the already fitted model for groups, if any.
func (g *grower) grow(ctx context.Context, groups []int, depth int, model *plackett.Model) (int, error) {
	g.nextID++
	node := &Node{ID: g.nextID, NObs: len(groups)}
	g.nodes = append(g.nodes, node)

	if model == nil {
		var err error
		model, err = g.fit(ctx, groups)
		if err != nil {
			return 0, fmt.Errorf("node %d: %w", node.ID, err)
		}
	}

	if depth < g.b.cfg.MaxDepth && len(groups) >= 2*g.b.cfg.MinSize {
		best, err := g.bestSplit(ctx, node.ID, groups, model)
		if err != nil {
			return 0, err
		}
		if best != nil {
			node.Split = best.split
			if node.Left, err = g.grow(ctx, best.left, depth+1, best.leftModel); err != nil {
				return 0, err
			}
			if node.Right, err = g.grow(ctx, best.right, depth+1, best.rightModel); err != nil {
				return 0, err
			}
			return node.ID, nil
		}
	}

	node.Model = FullModel{Model: model}
	g.loglik += model.LogLik()
	for _, gi := range groups {
		g.fitted[gi] = node.ID
	}
	return node.ID, nil
}

func (g *grower) bestSplit(ctx context.Context, id int, groups []int, parent *plackett.Model) (*candidate, error) {
	var cands []*candidate
	for _, name := range g.covariates {
		cs, err := g.candidates(name, groups)
		if err != nil {
			return nil, err
		}
		cands = append(cands, cs...)
	}
	if len(cands) == 0 {
		return nil, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.b.cfg.Workers)
	for _, c := range cands {
		eg.Go(func() error {
			var err error
			if c.leftModel, err = g.fit(egCtx, c.left); err != nil {
				return err
			}
			if c.rightModel, err = g.fit(egCtx, c.right); err != nil {
				return err
			}
			c.negLogLik = c.leftModel.NegLogLik + c.rightModel.NegLogLik
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("node %d split search: %w", id, err)
	}

	bestBy := make(map[string]*candidate)
	for _, c := range cands {
		cur := bestBy[c.split.Covariate]
		if cur == nil || c.negLogLik < cur.negLogLik {
			bestBy[c.split.Covariate] = c
		}
	}

	chi := distuv.ChiSquared{K: float64(parent.DF())}
	var winner *candidate
	bestP := math.Inf(1)
	for _, name := range g.covariates {
		c := bestBy[name]
		if c == nil {
			continue
		}
		lr := max(2*(parent.NegLogLik-c.negLogLik), 0)
		p := chi.Survival(lr)
		if g.b.cfg.Bonferroni {
			p = min(1, p*float64(len(bestBy)))
		}
		g.b.log.Debug("split test",
			"node", id,
			"split", c.split.String(),
			"lr", lr,
			"p_value", p,
		)
		if p < bestP {
			bestP = p
			winner = c
		}
	}

	if winner == nil || bestP >= g.b.cfg.Alpha {
		return nil, nil
	}
	return winner, nil
}

// side places a group: -1 missing, 0 left, 1 right.
type side func(group int) int

// partition splits groups by place and sends missing groups to the larger
// child. It returns nil when either child would be smaller than MinSize.
func (g *grower) partition(s *Split, groups []int, place side) *candidate {
	var left, right, missing []int
	for _, gi := range groups {
		switch place(gi) {
		case 0:
			left = append(left, gi)
		case 1:
			right = append(right, gi)
		default:
			missing = append(missing, gi)
		}
	}
	s.MissingLeft = len(left) >= len(right)
	if s.MissingLeft {
		left = append(left, missing...)
	} else {
		right = append(right, missing...)
	}
	if len(left) < g.b.cfg.MinSize || len(right) < g.b.cfg.MinSize {
		return nil
	}
	return &candidate{split: s, left: left, right: right}
}

func (g *grower) candidates(name string, groups []int) ([]*candidate, error) {
	col, ok := g.covs.Column(name)
	if !ok {
		return nil, errors.ValidationError(fmt.Sprintf("covariate %q not found in data", name)).WithDetail("column", name)
	}

	var out []*candidate
	switch col.Kind {
	case frame.Numeric:
		var vals []float64
		for _, gi := range groups {
			if v := col.Num[gi]; !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		slices.Sort(vals)
		vals = slices.Compact(vals)
		if len(vals) < 2 {
			return nil, nil
		}

		cuts := vals[:len(vals)-1]
		if m := g.b.cfg.MaxCandidates; len(cuts) > m {
			thinned := make([]float64, m)
			for i := range thinned {
				thinned[i] = cuts[i*len(cuts)/m]
			}
			cuts = thinned
		}

		for _, thr := range cuts {
			s := &Split{Covariate: name, Kind: frame.Numeric, Threshold: thr}
			c := g.partition(s, groups, func(gi int) int {
				v := col.Num[gi]
				switch {
				case math.IsNaN(v):
					return -1
				case v <= thr:
					return 0
				default:
					return 1
				}
			})
			if c != nil {
				out = append(out, c)
			}
		}

	case frame.Factor:
		present := make([]bool, len(col.Levels))
		for _, gi := range groups {
			if code := col.Codes[gi]; code >= 0 {
				present[code] = true
			}
		}
		var codes []int
		for code, ok := range present {
			if ok {
				codes = append(codes, code)
			}
		}
		if len(codes) < 2 {
			return nil, nil
		}

		// One level against the rest; with two levels both splits coincide.
		n := len(codes)
		if n == 2 {
			n = 1
		}
		for _, code := range codes[:n] {
			s := &Split{Covariate: name, Kind: frame.Factor, Left: []string{col.Levels[code]}}
			for _, other := range codes {
				if other != code {
					s.Right = append(s.Right, col.Levels[other])
				}
			}
			c := g.partition(s, groups, func(gi int) int {
				switch col.Codes[gi] {
				case -1:
					return -1
				case code:
					return 0
				default:
					return 1
				}
			})
			if c != nil {
				out = append(out, c)
			}
		}
	}
	return out, nil
}
