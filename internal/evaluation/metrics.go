package evaluation

import (
	"math"
	"sort"

	"github.com/ricesearch/rank-tree/internal/ranking"
)

// positions maps each item in r to the index of its choice set, -1 when
// the item is not ranked.
func positions(r ranking.Ranking, nItems int) []int {
	pos := make([]int, nItems)
	for i := range pos {
		pos[i] = -1
	}
	for p, set := range r {
		for _, it := range set {
			pos[it] = p
		}
	}
	return pos
}

// KendallTau is the rank correlation between predicted ranks and an
// observed ranking over the pairs of ranked items the ranking orders.
// Tied pairs are skipped. It returns 0 when no pair is ordered.
func KendallTau(predicted []int, r ranking.Ranking) float64 {
	pos := positions(r, len(predicted))
	concordant, discordant := 0, 0
	for i := range pos {
		for j := i + 1; j < len(pos); j++ {
			if pos[i] < 0 || pos[j] < 0 || pos[i] == pos[j] {
				continue
			}
			if (pos[i] < pos[j]) == (predicted[i] < predicted[j]) {
				concordant++
			} else {
				discordant++
			}
		}
	}
	if concordant+discordant == 0 {
		return 0
	}
	return float64(concordant-discordant) / float64(concordant+discordant)
}

// predictedOrder lists the items of r by predicted rank.
func predictedOrder(predicted []int, r ranking.Ranking) []int {
	var ranked []int
	for _, set := range r {
		ranked = append(ranked, set...)
	}
	sort.Slice(ranked, func(a, b int) bool {
		return predicted[ranked[a]] < predicted[ranked[b]]
	})
	return ranked
}

// TopOne reports whether the ranked item predicted best is among the
// observed winners.
func TopOne(predicted []int, r ranking.Ranking) bool {
	if len(r) == 0 {
		return false
	}
	order := predictedOrder(predicted, r)
	for _, it := range r[0] {
		if it == order[0] {
			return true
		}
	}
	return false
}

// relevances grades the ranked items in predicted order: winners get the
// number of choice sets, the last set gets 1.
func relevances(predicted []int, r ranking.Ranking) []int {
	pos := positions(r, len(predicted))
	order := predictedOrder(predicted, r)
	rel := make([]int, len(order))
	for i, it := range order {
		rel[i] = len(r) - pos[it]
	}
	return rel
}

// NDCG calculates Normalized Discounted Cumulative Gain at K
func NDCG(relevances []int, k int) float64 {
	if k > len(relevances) {
		k = len(relevances)
	}
	if k == 0 {
		return 0
	}

	dcg := float64(relevances[0])
	for i := 1; i < k; i++ {
		dcg += float64(relevances[i]) / math.Log2(float64(i+2))
	}

	sorted := make([]int, len(relevances))
	copy(sorted, relevances)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	idcg := float64(sorted[0])
	for i := 1; i < k; i++ {
		idcg += float64(sorted[i]) / math.Log2(float64(i+2))
	}

	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

// MRR is the reciprocal predicted position of the first observed winner.
func MRR(relevances []int, threshold int) float64 {
	for i, r := range relevances {
		if r >= threshold {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}
