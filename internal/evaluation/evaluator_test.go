package evaluation

import (
	"context"
	"math"
	"testing"

	"github.com/ricesearch/rank-tree/internal/config"
	"github.com/ricesearch/rank-tree/internal/dataset"
	"github.com/ricesearch/rank-tree/internal/frame"
	"github.com/ricesearch/rank-tree/internal/itempar"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/plackett"
	"github.com/ricesearch/rank-tree/internal/ranking"
	"github.com/ricesearch/rank-tree/internal/tree"
)

var items = []string{"A", "B", "C"}

func leaf(t *testing.T, id int, worth ...float64) *tree.Node {
	t.Helper()
	coef := make([]float64, len(worth))
	for i, w := range worth {
		coef[i] = math.Log(w)
	}
	m, err := tree.NewRawCoefficients(items, coef, itempar.Reference{}, 1, len(items)-1)
	if err != nil {
		t.Fatal(err)
	}
	return &tree.Node{ID: id, Model: m}
}

func sampleTree(t *testing.T) *tree.Tree {
	t.Helper()
	tr := tree.New([]*tree.Node{
		{ID: 1, Split: &tree.Split{Covariate: "x", Kind: frame.Numeric, Threshold: 0}, Left: 2, Right: 3},
		leaf(t, 2, 0.5, 0.3, 0.2),
		leaf(t, 3, 0.2, 0.2, 0.6),
	})
	tr.Items = items
	tr.Formula = frame.Formula{Response: "rankings", Covariates: []string{"x"}}
	tr.FitOptions = plackett.Options{Tol: 1e-7, NPseudo: 0.5, MaxTied: 1}
	tr.Fitted = []int{2, 3}
	tr.LogLik = -4
	return tr
}

func data(t *testing.T, x []float64, rs []ranking.Ranking) *dataset.Dataset {
	t.Helper()
	return weightedData(t, x, rs, nil)
}

func weightedData(t *testing.T, x []float64, rs []ranking.Ranking, weights []float64) *dataset.Dataset {
	t.Helper()
	fr := frame.New(len(x))
	if err := fr.AddNumeric("x", x); err != nil {
		t.Fatal(err)
	}
	ds := &dataset.Dataset{Response: "rankings", Items: items, Covariates: fr}
	if rs != nil {
		group := make([]int, len(rs))
		for i := range group {
			group[i] = i
		}
		g, err := ranking.NewGrouped(items, rs, weights, group, len(x))
		if err != nil {
			t.Fatal(err)
		}
		ds.Rankings = g
	}
	return ds
}

func newEvaluator(f tree.Fitter) *Evaluator {
	return NewEvaluator(f, config.EvalConfig{Workers: 2}, nil)
}

func TestInformationCriterion_InSample(t *testing.T) {
	tr := sampleTree(t)
	res, err := newEvaluator(plackett.NewFitter(nil)).InformationCriterion(context.Background(), tr, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.InSample || res.AIC != tr.AIC() || res.DF != 5 || res.Groups != 2 {
		t.Errorf("in-sample result = %+v", res)
	}
}

func TestInformationCriterion_NewData(t *testing.T) {
	// A > B > C under node 2 worths (0.5, 0.3, 0.2)
	unit := -math.Log(0.5) - math.Log(0.3/0.5)

	tests := []struct {
		name    string
		weights []float64
		wantNLL float64
	}{
		{name: "unweighted", weights: nil, wantNLL: unit},
		{name: "weighted", weights: []float64{2.5}, wantNLL: 2.5 * unit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := sampleTree(t)
			// one group in node 2, none in node 3
			nd := weightedData(t, []float64{-1}, []ranking.Ranking{{{0}, {1}, {2}}}, tt.weights)

			res, err := newEvaluator(plackett.NewFitter(nil)).InformationCriterion(context.Background(), tr, nd)
			if err != nil {
				t.Fatalf("InformationCriterion() error = %v", err)
			}

			if math.Abs(res.LogLik+tt.wantNLL) > 1e-9 {
				t.Errorf("LogLik = %v, want %v", res.LogLik, -tt.wantNLL)
			}
			if want := 2*tt.wantNLL + 2*5; math.Abs(res.AIC-want) > 1e-9 {
				t.Errorf("AIC = %v, want %v", res.AIC, want)
			}
			if res.DF != tr.DF() {
				t.Errorf("DF = %d, want %d", res.DF, tr.DF())
			}
			if len(res.Nodes) != 2 || res.Nodes[1].Groups != 0 || res.Nodes[1].NegLogLik != 0 {
				t.Errorf("node scores = %+v", res.Nodes)
			}
		})
	}
}

func TestInformationCriterion_MissingResponse(t *testing.T) {
	nd := data(t, []float64{1, 2}, nil)
	_, err := newEvaluator(plackett.NewFitter(nil)).InformationCriterion(context.Background(), sampleTree(t), nd)
	if !errors.IsMissingResponse(err) {
		t.Fatalf("error = %v, want MISSING_RESPONSE", err)
	}
}

func TestInformationCriterion_ReproducesTrainingFit(t *testing.T) {
	const n = 30
	x := make([]float64, n)
	rs := make([]ranking.Ranking, n)
	for i := range x {
		x[i] = float64(i)
		switch i % 3 {
		case 0:
			rs[i] = ranking.Ranking{{0}, {1, 2}}
		case 1:
			rs[i] = ranking.Ranking{{1}, {0}, {2}}
		default:
			rs[i] = ranking.Ranking{{0}, {2}, {1}}
		}
		if i >= n/2 {
			rs[i] = ranking.Ranking{{2}, {1}, {0}}
		}
	}
	ds := data(t, x, rs)

	formula, _ := frame.ParseFormula("rankings ~ x")
	mf, err := ds.ModelFrame(formula, true)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.TreeConfig{Alpha: 0.05, MinSize: 5, MaxDepth: 2, MaxCandidates: 10, Bonferroni: true, Workers: 2}
	fitter := plackett.NewFitter(nil)
	tr, err := tree.NewBuilder(fitter, cfg, plackett.DefaultOptions(), nil).Build(context.Background(), mf, itempar.Reference{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	res, err := newEvaluator(fitter).InformationCriterion(context.Background(), tr, ds)
	if err != nil {
		t.Fatalf("InformationCriterion() error = %v", err)
	}
	if math.Abs(res.LogLik-tr.LogLik) > 1e-6 {
		t.Errorf("out-of-sample LogLik on training data = %v, want %v", res.LogLik, tr.LogLik)
	}
	if math.Abs(res.AIC-tr.AIC()) > 1e-5 {
		t.Errorf("AIC = %v, want %v", res.AIC, tr.AIC())
	}
}

type warningFitter struct {
	inner *plackett.Fitter
}

func (f warningFitter) Fit(ctx context.Context, items []string, rs []ranking.Ranking, opts plackett.Options) (*plackett.Model, error) {
	m, err := f.inner.Fit(ctx, items, rs, opts)
	if err != nil {
		return nil, err
	}
	m.Warnings = append(m.Warnings, plackett.Warning{Kind: plackett.WarnBoundary, Message: "weights are singular"})
	return m, nil
}

func TestInformationCriterion_Warnings(t *testing.T) {
	nd := data(t, []float64{-1, 1}, []ranking.Ranking{{{0}, {1}}, {{2}, {0}}})

	res, err := newEvaluator(warningFitter{plackett.NewFitter(nil)}).InformationCriterion(context.Background(), sampleTree(t), nd)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range res.Nodes {
		if len(s.Warnings) != 1 || s.Warnings[0] != "weights are singular" {
			t.Errorf("node %d warnings = %v, want only the boundary warning", s.NodeID, s.Warnings)
		}
	}
}

func TestInformationCriterion_ItemMismatch(t *testing.T) {
	fr := frame.New(1)
	_ = fr.AddNumeric("x", []float64{1})
	other := []string{"A", "B", "D"}
	g, _ := ranking.NewGrouped(other, []ranking.Ranking{{{0}, {1}}}, nil, []int{0}, 1)
	nd := &dataset.Dataset{Response: "rankings", Items: other, Rankings: g, Covariates: fr}

	_, err := newEvaluator(plackett.NewFitter(nil)).InformationCriterion(context.Background(), sampleTree(t), nd)
	if !errors.IsValidation(err) {
		t.Errorf("error = %v, want validation", err)
	}
}

func TestAgreement(t *testing.T) {
	e := newEvaluator(plackett.NewFitter(nil))
	nd := data(t, []float64{-1, 1}, []ranking.Ranking{{{0}, {1}, {2}}, {{0}, {1}, {2}}})

	results, err := e.Agreement(sampleTree(t), nd)
	if err != nil {
		t.Fatalf("Agreement() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	first := results[0]
	if first.KendallTau != 1 || !first.TopOne || first.MRR != 1 || math.Abs(first.NDCG-1) > 1e-12 {
		t.Errorf("perfect agreement = %+v", first)
	}

	second := results[1]
	if math.Abs(second.KendallTau+1.0/3) > 1e-12 {
		t.Errorf("KendallTau = %v, want -1/3", second.KendallTau)
	}
	if second.TopOne {
		t.Error("TopOne = true, want false")
	}
	if second.MRR != 0.5 {
		t.Errorf("MRR = %v, want 0.5", second.MRR)
	}

	sum := e.Summarize(results)
	if sum.RankingCount != 2 || sum.TopOneAccuracy != 0.5 || sum.MeanMRR != 0.75 {
		t.Errorf("summary = %+v", sum)
	}
	if math.Abs(sum.MeanKendallTau-1.0/3) > 1e-12 {
		t.Errorf("MeanKendallTau = %v, want 1/3", sum.MeanKendallTau)
	}

	if empty := e.Summarize(nil); empty.RankingCount != 0 {
		t.Errorf("Summarize(nil) = %+v", empty)
	}
}
