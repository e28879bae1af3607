package evaluation

import (
	"math"
	"testing"

	"github.com/ricesearch/rank-tree/internal/ranking"
)

func TestKendallTau(t *testing.T) {
	tests := []struct {
		name      string
		predicted []int
		observed  ranking.Ranking
		want      float64
	}{
		{"identical", []int{1, 2, 3}, ranking.Ranking{{0}, {1}, {2}}, 1},
		{"reversed", []int{1, 2, 3}, ranking.Ranking{{2}, {1}, {0}}, -1},
		{"tied pair skipped", []int{1, 2, 3}, ranking.Ranking{{0}, {1, 2}}, 1},
		{"partial ranking", []int{3, 2, 1}, ranking.Ranking{{0}, {1}}, -1},
		{"no ordered pair", []int{1, 2, 3}, ranking.Ranking{{0, 1}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KendallTau(tt.predicted, tt.observed); got != tt.want {
				t.Errorf("KendallTau() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTopOne(t *testing.T) {
	if !TopOne([]int{2, 1, 3}, ranking.Ranking{{1}, {0}}) {
		t.Error("TopOne() = false for matching winner")
	}
	if !TopOne([]int{2, 1, 3}, ranking.Ranking{{0, 1}, {2}}) {
		t.Error("TopOne() = false for winner inside a tie")
	}
	// B is predicted best overall but not ranked; A beats C in prediction
	if !TopOne([]int{2, 1, 3}, ranking.Ranking{{0}, {2}}) {
		t.Error("TopOne() = false for best ranked item")
	}
	if TopOne([]int{1, 2, 3}, ranking.Ranking{{2}, {0}}) {
		t.Error("TopOne() = true for wrong winner")
	}
	if TopOne([]int{1, 2, 3}, nil) {
		t.Error("TopOne() = true for empty ranking")
	}
}

func TestNDCG(t *testing.T) {
	if got := NDCG([]int{3, 2, 1}, 3); got != 1 {
		t.Errorf("NDCG(ideal) = %v, want 1", got)
	}
	got := NDCG([]int{1, 2, 3}, 3)
	want := (1 + 2/math.Log2(3) + 3/math.Log2(4)) / (3 + 2/math.Log2(3) + 1/math.Log2(4))
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("NDCG(reversed) = %v, want %v", got, want)
	}
	if got := NDCG(nil, 3); got != 0 {
		t.Errorf("NDCG(empty) = %v, want 0", got)
	}
}

func TestMRR(t *testing.T) {
	if got := MRR([]int{1, 3, 2}, 3); got != 0.5 {
		t.Errorf("MRR() = %v, want 0.5", got)
	}
	if got := MRR([]int{1, 1}, 3); got != 0 {
		t.Errorf("MRR(no winner) = %v, want 0", got)
	}
}

func TestRelevances(t *testing.T) {
	rel := relevances([]int{2, 3, 1}, ranking.Ranking{{0}, {1}, {2}})
	want := []int{1, 3, 2}
	for i := range want {
		if rel[i] != want[i] {
			t.Fatalf("relevances() = %v, want %v", rel, want)
		}
	}
}
