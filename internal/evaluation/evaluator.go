// Package evaluation scores fitted trees on new data: an information
// criterion from evaluate-only refits of every terminal node, and
// agreement between predicted and observed rankings.
package evaluation

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/rank-tree/internal/config"
	"github.com/ricesearch/rank-tree/internal/dataset"
	"github.com/ricesearch/rank-tree/internal/itempar"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/pkg/logger"
	"github.com/ricesearch/rank-tree/internal/plackett"
	"github.com/ricesearch/rank-tree/internal/predict"
	"github.com/ricesearch/rank-tree/internal/ranking"
	"github.com/ricesearch/rank-tree/internal/tree"
)

// Evaluator scores trees against data.
type Evaluator struct {
	fitter  tree.Fitter
	workers int
	log     *logger.Logger
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(fitter tree.Fitter, cfg config.EvalConfig, log *logger.Logger) *Evaluator {
	if log == nil {
		log = logger.Discard()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Evaluator{
		fitter:  fitter,
		workers: workers,
		log:     log,
	}
}

// InformationCriterion returns -2 LogLik + 2 DF. Without newData it is the
// tree's in-sample criterion. With newData every terminal node's frozen
// parameters are evaluated on the new groups routed to it; DF stays that of
// the original fit.
func (e *Evaluator) InformationCriterion(ctx context.Context, t *tree.Tree, newData *dataset.Dataset) (*Result, error) {
	if newData == nil {
		return &Result{
			AIC:      t.AIC(),
			LogLik:   t.LogLik,
			DF:       t.DF(),
			Groups:   t.NObs(),
			InSample: true,
		}, nil
	}

	mf, err := e.modelFrame(t, newData, true)
	if err != nil {
		return nil, err
	}
	ids, err := predict.Route(t, mf.Covariates)
	if err != nil {
		return nil, err
	}

	byNode := make(map[int][]int)
	for g, id := range ids {
		byNode[id] = append(byNode[id], g)
	}

	terminal := t.Terminal()
	scores := make([]NodeScore, len(terminal))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.workers)
	for i, id := range terminal {
		eg.Go(func() error {
			s, err := e.scoreNode(egCtx, t, id, mf.Response, byNode[id])
			if err != nil {
				return fmt.Errorf("node %d: %w", id, err)
			}
			scores[i] = s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		DF:     t.DF(),
		Groups: len(ids),
		Nodes:  scores,
	}
	negLogLik := 0.0
	for _, s := range scores {
		negLogLik += s.NegLogLik
	}
	res.LogLik = -negLogLik
	res.AIC = 2*negLogLik + 2*float64(res.DF)

	e.log.Debug("scored new data",
		"groups", res.Groups,
		"nodes", len(terminal),
		"loglik", res.LogLik,
		"aic", res.AIC,
	)
	return res, nil
}

func (e *Evaluator) modelFrame(t *tree.Tree, data *dataset.Dataset, requireResponse bool) (*dataset.ModelFrame, error) {
	mf, err := data.ModelFrame(t.Formula, requireResponse)
	if err != nil {
		return nil, err
	}
	if mf.Response != nil && !slices.Equal(mf.Response.Items(), t.Items) {
		return nil, errors.ValidationError(fmt.Sprintf("data has items %v, tree has %v", mf.Response.Items(), t.Items))
	}
	return mf, nil
}

// scoreNode evaluates a node's fixed parameters on the given groups without
// optimising. An empty node scores zero.
func (e *Evaluator) scoreNode(ctx context.Context, t *tree.Tree, id int, resp *ranking.Grouped, groups []int) (NodeScore, error) {
	score := NodeScore{NodeID: id, Groups: len(groups)}
	if len(groups) == 0 {
		return score, nil
	}

	n, ok := t.Node(id)
	if !ok {
		return score, errors.MalformedTreeError(fmt.Sprintf("node %d does not exist", id))
	}
	v, err := tree.Extract(n, itempar.Reference{}, itempar.Worth)
	if err != nil {
		return score, err
	}

	rs, ws := resp.Select(groups)
	opts := t.FitOptions
	opts.Start = v.Full()
	opts.Weights = ws
	opts.MaxIter = 0
	opts.MaxTied = n.Model.MaxTied()

	m, err := e.fitter.Fit(ctx, t.Items, rs, opts)
	if err != nil {
		return score, err
	}

	// An evaluate-only fit always reports non-convergence; anything else is
	// passed on.
	log := e.log.WithNode(id)
	for _, w := range m.Warnings {
		if w.Kind == plackett.WarnNotConverged {
			continue
		}
		log.Warn("refit warning", "kind", string(w.Kind), "message", w.Message)
		score.Warnings = append(score.Warnings, w.Message)
	}

	score.Rankings = len(rs)
	score.NegLogLik = m.NegLogLik
	return score, nil
}

// Agreement compares each observed ranking in data with the ordering
// predicted for its group.
func (e *Evaluator) Agreement(t *tree.Tree, data *dataset.Dataset) ([]AgreementResult, error) {
	mf, err := e.modelFrame(t, data, true)
	if err != nil {
		return nil, err
	}
	p, err := predict.Predict(t, mf.Covariates, predict.Options{Type: predict.TypeRank})
	if err != nil {
		return nil, err
	}

	var results []AgreementResult
	for g := 0; g < p.Len(); g++ {
		rs, ws := mf.Response.Select([]int{g})
		for i, r := range rs {
			rel := relevances(p.Ranks[g], r)
			results = append(results, AgreementResult{
				Group:      g + 1,
				Node:       p.NodeIDs[g],
				Weight:     ws[i],
				KendallTau: KendallTau(p.Ranks[g], r),
				TopOne:     TopOne(p.Ranks[g], r),
				NDCG:       NDCG(rel, len(rel)),
				MRR:        MRR(rel, len(r)),
			})
		}
	}
	return results, nil
}

// Summarize aggregates agreement across rankings.
func (e *Evaluator) Summarize(results []AgreementResult) *AgreementSummary {
	if len(results) == 0 {
		return &AgreementSummary{}
	}

	summary := &AgreementSummary{RankingCount: len(results)}
	total := 0.0
	for _, r := range results {
		total += r.Weight
		summary.MeanKendallTau += r.Weight * r.KendallTau
		summary.MeanNDCG += r.Weight * r.NDCG
		summary.MeanMRR += r.Weight * r.MRR
		if r.TopOne {
			summary.TopOneAccuracy += r.Weight
		}
	}
	if total == 0 {
		return summary
	}

	summary.MeanKendallTau /= total
	summary.MeanNDCG /= total
	summary.MeanMRR /= total
	summary.TopOneAccuracy /= total
	return summary
}
