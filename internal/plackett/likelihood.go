package plackett

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/ranking"
)

// choice is one selection of a choice set from the items still available.
type choice struct {
	chosen []int
	avail  []int
	weight float64
}

// compile flattens rankings into weighted choices. Choices from a single
// remaining item carry no information and are dropped.
func compile(rankings []ranking.Ranking, weights []float64, maxTied int) ([]choice, error) {
	var out []choice
	for ri, r := range rankings {
		w := 1.0
		if weights != nil {
			w = weights[ri]
		}
		if w == 0 {
			continue
		}

		remaining := make([]int, 0, r.Len())
		for _, s := range r {
			remaining = append(remaining, s...)
		}
		for _, s := range r {
			if len(s) > maxTied {
				return nil, errors.ValidationError(fmt.Sprintf("ranking %d has a tie of order %d but only %d tie orders are modelled", ri+1, len(s), maxTied))
			}
			if len(remaining) > 1 {
				out = append(out, choice{chosen: s, avail: remaining, weight: w})
			}
			remaining = remaining[len(s):]
		}
	}
	return out, nil
}

// params is the full parameter vector: item log-worths and log tie
// parameters for orders 2..maxTied.
type params struct {
	logWorth []float64
	logTie   []float64
}

func (p params) logTieOf(order int) float64 {
	if order == 1 {
		return 0
	}
	return p.logTie[order-2]
}

// logF is the log choice weight of a set: tie parameter for its order plus
// the mean log-worth of its members.
func (p params) logF(set []int) float64 {
	sum := 0.0
	for _, i := range set {
		sum += p.logWorth[i]
	}
	return p.logTieOf(len(set)) + sum/float64(len(set))
}

// forEachSubset calls fn with every subset of avail of size 1..maxK. The
// slice passed to fn is reused between calls.
func forEachSubset(avail []int, maxK int, fn func(set []int)) {
	if maxK > len(avail) {
		maxK = len(avail)
	}
	set := make([]int, 0, maxK)
	var rec func(start, k int)
	rec = func(start, k int) {
		if len(set) == k {
			fn(set)
			return
		}
		for i := start; i <= len(avail)-(k-len(set)); i++ {
			set = append(set, avail[i])
			rec(i+1, k)
			set = set[:len(set)-1]
		}
	}
	for k := 1; k <= maxK; k++ {
		rec(0, k)
	}
}

// negLogLik returns the weighted negative log-likelihood of the choices and,
// when grad is non-nil, accumulates its gradient with respect to
// (logWorth, logTie) into grad.
func negLogLik(choices []choice, p params, maxTied int, grad []float64) float64 {
	nItems := len(p.logWorth)
	total := 0.0
	var logfs []float64

	for _, c := range choices {
		logfs = logfs[:0]
		forEachSubset(c.avail, maxTied, func(set []int) {
			logfs = append(logfs, p.logF(set))
		})
		lse := floats.LogSumExp(logfs)
		total -= c.weight * (p.logF(c.chosen) - lse)

		if grad == nil {
			continue
		}

		k := float64(len(c.chosen))
		for _, i := range c.chosen {
			grad[i] -= c.weight / k
		}
		if len(c.chosen) > 1 {
			grad[nItems+len(c.chosen)-2] -= c.weight
		}

		idx := 0
		forEachSubset(c.avail, maxTied, func(set []int) {
			prob := math.Exp(logfs[idx] - lse)
			idx++
			share := c.weight * prob / float64(len(set))
			for _, i := range set {
				grad[i] += share
			}
			if len(set) > 1 {
				grad[nItems+len(set)-2] += c.weight * prob
			}
		})
	}
	return total
}

// pseudoNegLogLik adds npseudo wins and npseudo losses of every item against
// a ghost item with log-worth zero.
func pseudoNegLogLik(p params, npseudo float64, grad []float64) float64 {
	if npseudo == 0 {
		return 0
	}
	total := 0.0
	for i, lw := range p.logWorth {
		// log(e^lw/(e^lw+1)) + log(1/(e^lw+1))
		total -= npseudo * (lw - 2*softplus(lw))
		if grad != nil {
			grad[i] -= npseudo * (1 - 2*sigmoid(lw))
		}
	}
	return total
}

func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
