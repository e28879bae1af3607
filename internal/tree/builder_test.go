package tree

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/ricesearch/rank-tree/internal/config"
	"github.com/ricesearch/rank-tree/internal/dataset"
	"github.com/ricesearch/rank-tree/internal/frame"
	"github.com/ricesearch/rank-tree/internal/itempar"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/plackett"
	"github.com/ricesearch/rank-tree/internal/ranking"
)

type countingFitter struct {
	inner *plackett.Fitter
	calls atomic.Int64
}

func (f *countingFitter) Fit(ctx context.Context, items []string, rs []ranking.Ranking, opts plackett.Options) (*plackett.Model, error) {
	f.calls.Add(1)
	return f.inner.Fit(ctx, items, rs, opts)
}

// splitData has 40 groups. Groups with x <= 20 rank A > B > C, the rest
// C > B > A. z alternates between two levels and carries no signal.
func splitData(t *testing.T) *dataset.ModelFrame {
	t.Helper()
	const n = 40
	x := make([]float64, n)
	z := make([]string, n)
	rs := make([]ranking.Ranking, n)
	group := make([]int, n)
	for i := 0; i < n; i++ {
		x[i] = float64(i + 1)
		z[i] = []string{"even", "odd"}[i%2]
		if i < 20 {
			rs[i] = ranking.Ranking{{0}, {1}, {2}}
		} else {
			rs[i] = ranking.Ranking{{2}, {1}, {0}}
		}
		group[i] = i
	}

	fr := frame.New(n)
	if err := fr.AddNumeric("x", x); err != nil {
		t.Fatal(err)
	}
	if err := fr.AddFactor("z", z); err != nil {
		t.Fatal(err)
	}
	resp, err := ranking.NewGrouped(items, rs, nil, group, n)
	if err != nil {
		t.Fatal(err)
	}
	return &dataset.ModelFrame{
		Formula:    frame.Formula{Response: "rankings", Covariates: []string{"x", "z"}},
		Response:   resp,
		Covariates: fr,
	}
}

func testTreeConfig() config.TreeConfig {
	return config.TreeConfig{
		Alpha:         0.05,
		MinSize:       5,
		MaxDepth:      1,
		MaxCandidates: 20,
		Bonferroni:    true,
		Workers:       4,
	}
}

func TestBuilder_FindsSplit(t *testing.T) {
	fitter := &countingFitter{inner: plackett.NewFitter(nil)}
	b := NewBuilder(fitter, testTreeConfig(), plackett.DefaultOptions(), nil)

	tr, err := b.Build(context.Background(), splitData(t), itempar.RefLabel("B"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := tr.NumSplits(); got != 1 {
		t.Fatalf("NumSplits() = %d, want 1", got)
	}
	root, _ := tr.Node(RootID)
	if root.Split.Covariate != "x" || root.Split.Threshold != 20 {
		t.Errorf("root split = %s, want x <= 20", root.Split)
	}
	if root.Left != 2 || root.Right != 3 {
		t.Errorf("children = %d, %d, want 2, 3", root.Left, root.Right)
	}
	for i, id := range tr.Fitted {
		want := 2
		if i >= 20 {
			want = 3
		}
		if id != want {
			t.Errorf("Fitted[%d] = %d, want %d", i, id, want)
		}
	}

	left, _ := tr.Node(2)
	v, err := Extract(left, itempar.Reference{}, itempar.Log)
	if err != nil {
		t.Fatal(err)
	}
	if v.Ref != 1 {
		t.Errorf("node reference = %d, want 1 (B)", v.Ref)
	}
	if !(v.Values[0] > 0 && v.Values[2] < 0) {
		t.Errorf("left node log worths = %v, want A above B above C", v.Values)
	}

	if err := tr.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if tr.LogLik >= 0 {
		t.Errorf("LogLik = %v, want negative", tr.LogLik)
	}
	if got := tr.DF(); got != 5 {
		t.Errorf("DF() = %d, want 5", got)
	}
	if fitter.calls.Load() < 3 {
		t.Errorf("fitter called %d times", fitter.calls.Load())
	}
}

func TestBuilder_NoSignal(t *testing.T) {
	mf := splitData(t)
	mf.Formula.Covariates = []string{"z"}
	b := NewBuilder(plackett.NewFitter(nil), testTreeConfig(), plackett.DefaultOptions(), nil)

	tr, err := b.Build(context.Background(), mf, itempar.Reference{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if tr.NumSplits() != 0 {
		t.Errorf("NumSplits() = %d, want 0", tr.NumSplits())
	}
	if got := tr.Terminal(); len(got) != 1 || got[0] != RootID {
		t.Errorf("Terminal() = %v, want [1]", got)
	}
}

func TestBuilder_MinSize(t *testing.T) {
	cfg := testTreeConfig()
	cfg.MinSize = 21
	b := NewBuilder(plackett.NewFitter(nil), cfg, plackett.DefaultOptions(), nil)

	tr, err := b.Build(context.Background(), splitData(t), itempar.Reference{})
	if err != nil {
		t.Fatal(err)
	}
	if tr.NumSplits() != 0 {
		t.Errorf("NumSplits() = %d, want 0 when children would be too small", tr.NumSplits())
	}
}

func TestBuilder_Errors(t *testing.T) {
	b := NewBuilder(plackett.NewFitter(nil), testTreeConfig(), plackett.DefaultOptions(), nil)

	mf := splitData(t)
	if _, err := b.Build(context.Background(), mf, itempar.RefLabel("Z")); !errors.IsUnknownReference(err) {
		t.Errorf("unknown ref error = %v, want UNKNOWN_REFERENCE", err)
	}

	noResp := splitData(t)
	noResp.Response = nil
	if _, err := b.Build(context.Background(), noResp, itempar.Reference{}); !errors.IsMissingResponse(err) {
		t.Errorf("missing response error = %v, want MISSING_RESPONSE", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Build(ctx, splitData(t), itempar.Reference{}); errors.Code(err) != errors.CodeTimeout {
		t.Errorf("cancelled error = %v, want TIMEOUT", err)
	}
}
