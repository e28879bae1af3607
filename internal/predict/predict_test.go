package predict

import (
	"math"
	"slices"
	"testing"

	"github.com/ricesearch/rank-tree/internal/frame"
	"github.com/ricesearch/rank-tree/internal/itempar"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
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

// sampleTree sends x <= 0 to node 2 (worths 0.5, 0.3, 0.2) and the rest to
// node 3 (worths 0.2, 0.2, 0.6).
func sampleTree(t *testing.T) *tree.Tree {
	t.Helper()
	tr := tree.New([]*tree.Node{
		{ID: 1, Split: &tree.Split{Covariate: "x", Kind: frame.Numeric, Threshold: 0}, Left: 2, Right: 3},
		leaf(t, 2, 0.5, 0.3, 0.2),
		leaf(t, 3, 0.2, 0.2, 0.6),
	})
	tr.Items = items
	tr.Formula = frame.Formula{Response: "rankings", Covariates: []string{"x"}}
	tr.Fitted = []int{3, 2}
	return tr
}

func newData(t *testing.T, x ...float64) *frame.Frame {
	t.Helper()
	fr := frame.New(len(x))
	if err := fr.AddNumeric("x", x); err != nil {
		t.Fatal(err)
	}
	return fr
}

func TestPredict_Node(t *testing.T) {
	p, err := Predict(sampleTree(t), newData(t, -1, 1, 0), Options{Type: TypeNode})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	nodes := p.Nodes()
	want := map[string]string{"1": "2", "2": "3", "3": "2"}
	for k, v := range want {
		if nodes[k] != v {
			t.Errorf("node[%s] = %q, want %q", k, nodes[k], v)
		}
	}
	if p.ItemPar != nil || p.Ranks != nil || p.Best != nil {
		t.Error("node predictions carry other outputs")
	}
}

func TestPredict_RankAndBest(t *testing.T) {
	tr := sampleTree(t)
	data := newData(t, -1, 1)

	p, err := Predict(tr, data, Options{Type: TypeRank})
	if err != nil {
		t.Fatalf("Predict(rank) error = %v", err)
	}
	if !slices.Equal(p.Ranks[0], []int{1, 2, 3}) {
		t.Errorf("rank[1] = %v, want [1 2 3]", p.Ranks[0])
	}
	// worths (0.2, 0.2, 0.6): C ranks first, then the tied A and B in item
	// order, so A takes 2 and B takes 3
	if !slices.Equal(p.Ranks[1], []int{2, 3, 1}) {
		t.Errorf("rank[2] = %v, want [2 3 1]", p.Ranks[1])
	}
	for i, r := range p.Ranks {
		if best := slices.Index(r, 1); items[best] != []string{"A", "C"}[i] {
			t.Errorf("rank 1 in group %d is %s, want the best item", i+1, items[best])
		}
	}

	p, err = Predict(tr, data, Options{Type: TypeBest})
	if err != nil {
		t.Fatalf("Predict(best) error = %v", err)
	}
	if !slices.Equal(p.Best, []string{"A", "C"}) {
		t.Errorf("best = %v, want [A C]", p.Best)
	}
	if !slices.Equal(p.Keys, []string{"1", "2"}) {
		t.Errorf("keys = %v", p.Keys)
	}
}

func TestPredict_ItemPar(t *testing.T) {
	tr := sampleTree(t)

	p, err := Predict(tr, newData(t, 5), Options{})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if p.Type != TypeItempar {
		t.Errorf("Type = %q, want itempar", p.Type)
	}
	if math.Abs(p.ItemPar[0][2]-0.6) > 1e-9 {
		t.Errorf("worth C = %v, want 0.6", p.ItemPar[0][2])
	}
	if !slices.Equal(p.Columns, items) {
		t.Errorf("Columns = %v", p.Columns)
	}

	p, err = Predict(tr, newData(t, 5), Options{Scale: itempar.Log, Ref: itempar.RefLabel("C")})
	if err != nil {
		t.Fatal(err)
	}
	if p.ItemPar[0][2] != 0 || math.Abs(p.ItemPar[0][0]-math.Log(0.2/0.6)) > 1e-9 {
		t.Errorf("log itempar = %v", p.ItemPar[0])
	}

	if _, err := Predict(tr, newData(t, 5), Options{Ref: itempar.RefLabel("Z")}); !errors.IsUnknownReference(err) {
		t.Errorf("unknown ref error = %v, want UNKNOWN_REFERENCE", err)
	}
}

func TestPredict_Training(t *testing.T) {
	p, err := Predict(sampleTree(t), nil, Options{Type: TypeBest})
	if err != nil {
		t.Fatalf("Predict(nil) error = %v", err)
	}
	if !slices.Equal(p.Best, []string{"C", "A"}) {
		t.Errorf("best = %v, want [C A]", p.Best)
	}

	tr := sampleTree(t)
	tr.Fitted = nil
	if _, err := Predict(tr, nil, Options{}); !errors.IsValidation(err) {
		t.Errorf("no fitted error = %v, want validation", err)
	}
}

func TestPredict_Errors(t *testing.T) {
	tr := sampleTree(t)

	if _, err := Predict(tr, newData(t, 1), Options{Type: "median"}); !errors.IsValidation(err) {
		t.Errorf("bad type error = %v, want validation", err)
	}

	other := frame.New(1)
	_ = other.AddNumeric("y", []float64{1})
	_, err := Predict(tr, other, Options{})
	if !errors.IsValidation(err) {
		t.Fatalf("missing covariate error = %v, want validation", err)
	}
}

func TestRank(t *testing.T) {
	tests := []struct {
		values []float64
		want   []int
	}{
		{[]float64{0.5, 0.3, 0.2}, []int{1, 2, 3}},
		{[]float64{0.2, 0.2, 0.6}, []int{2, 3, 1}},
		{[]float64{1, 1, 1}, []int{1, 2, 3}},
		{[]float64{0.6, 0.2, 0.2}, []int{1, 2, 3}},
		{[]float64{0.1, 0.4, 0.1, 0.4}, []int{3, 1, 4, 2}},
		{[]float64{-1, 0, 2}, []int{3, 2, 1}},
	}
	for _, tt := range tests {
		if got := Rank(tt.values); !slices.Equal(got, tt.want) {
			t.Errorf("Rank(%v) = %v, want %v", tt.values, got, tt.want)
		}
	}

	if got := Best([]float64{0.2, 0.6, 0.6}); got != 1 {
		t.Errorf("Best() = %d, want 1", got)
	}
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"node", "itempar", "rank", "best", ""} {
		if _, err := ParseType(s); err != nil {
			t.Errorf("ParseType(%q) error = %v", s, err)
		}
	}
	if _, err := ParseType("worth"); err == nil {
		t.Error("ParseType(worth) error = nil")
	}
}
