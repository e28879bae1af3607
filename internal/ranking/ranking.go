// Package ranking holds ranking records grouped into observational units.
package ranking

import (
	"fmt"

	"github.com/ricesearch/rank-tree/internal/pkg/errors"
)

// Ranking is an ordered sequence of choice sets of item indices. The first
// set is ranked best; a set with several items is a tie. Items that do not
// appear were not ranked.
type Ranking [][]int

// Len returns the number of items ranked.
func (r Ranking) Len() int {
	n := 0
	for _, s := range r {
		n += len(s)
	}
	return n
}

// MaxTied returns the size of the largest choice set.
func (r Ranking) MaxTied() int {
	m := 0
	for _, s := range r {
		if len(s) > m {
			m = len(s)
		}
	}
	return m
}

// Validate checks item indices against nItems.
func (r Ranking) Validate(nItems int) error {
	if len(r) == 0 {
		return errors.ValidationError("empty ranking")
	}
	seen := make(map[int]bool, nItems)
	for pos, s := range r {
		if len(s) == 0 {
			return errors.ValidationError(fmt.Sprintf("empty choice set at position %d", pos+1))
		}
		for _, it := range s {
			if it < 0 || it >= nItems {
				return errors.ValidationError(fmt.Sprintf("item index %d out of range", it))
			}
			if seen[it] {
				return errors.ValidationError(fmt.Sprintf("item %d ranked twice", it+1))
			}
			seen[it] = true
		}
	}
	return nil
}

// FromLabels builds a Ranking from choice sets of item labels.
func FromLabels(items []string, sets [][]string) (Ranking, error) {
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it] = i
	}

	r := make(Ranking, 0, len(sets))
	for _, s := range sets {
		set := make([]int, 0, len(s))
		for _, label := range s {
			i, ok := index[label]
			if !ok {
				return nil, errors.ValidationError(fmt.Sprintf("unknown item %q", label))
			}
			set = append(set, i)
		}
		r = append(r, set)
	}
	return r, r.Validate(len(items))
}

// Grouped is a collection of rankings partitioned into groups. Each group
// corresponds to one covariate row. A Grouped is immutable once built.
type Grouped struct {
	items    []string
	rankings []Ranking
	weights  []float64 // nil when unweighted
	group    []int
	byGroup  [][]int
}

// NewGrouped validates and indexes rankings. group[i] is the group of
// rankings[i]; groups are numbered 0..nGroups-1. weights may be nil.
func NewGrouped(items []string, rankings []Ranking, weights []float64, group []int, nGroups int) (*Grouped, error) {
	if len(items) < 2 {
		return nil, errors.ValidationError("at least two items are required")
	}
	if len(group) != len(rankings) {
		return nil, errors.ValidationError(fmt.Sprintf("have %d rankings but %d group ids", len(rankings), len(group)))
	}
	if weights != nil && len(weights) != len(rankings) {
		return nil, errors.ValidationError(fmt.Sprintf("have %d rankings but %d weights", len(rankings), len(weights)))
	}

	byGroup := make([][]int, nGroups)
	for i, r := range rankings {
		if err := r.Validate(len(items)); err != nil {
			return nil, fmt.Errorf("ranking %d: %w", i+1, err)
		}
		g := group[i]
		if g < 0 || g >= nGroups {
			return nil, errors.ValidationError(fmt.Sprintf("ranking %d has group %d outside 0..%d", i+1, g, nGroups-1))
		}
		if weights != nil && weights[i] < 0 {
			return nil, errors.ValidationError(fmt.Sprintf("ranking %d has negative weight", i+1))
		}
		byGroup[g] = append(byGroup[g], i)
	}

	return &Grouped{
		items:    items,
		rankings: rankings,
		weights:  weights,
		group:    group,
		byGroup:  byGroup,
	}, nil
}

// Items returns the item labels.
func (g *Grouped) Items() []string { return g.items }

// NumGroups returns the number of groups.
func (g *Grouped) NumGroups() int { return len(g.byGroup) }

// NumRankings returns the number of rankings.
func (g *Grouped) NumRankings() int { return len(g.rankings) }

// Rankings returns all rankings in order.
func (g *Grouped) Rankings() []Ranking { return g.rankings }

// Weighted reports whether explicit weights were supplied.
func (g *Grouped) Weighted() bool { return g.weights != nil }

// Weights returns one weight per ranking, 1 when unweighted.
func (g *Grouped) Weights() []float64 {
	w := make([]float64, len(g.rankings))
	for i := range w {
		if g.weights != nil {
			w[i] = g.weights[i]
		} else {
			w[i] = 1
		}
	}
	return w
}

// MaxTied returns the largest tie order across all rankings.
func (g *Grouped) MaxTied() int {
	m := 1
	for _, r := range g.rankings {
		if t := r.MaxTied(); t > m {
			m = t
		}
	}
	return m
}

// Select returns the rankings of the listed groups with their weights.
func (g *Grouped) Select(groups []int) ([]Ranking, []float64) {
	var rs []Ranking
	var ws []float64
	for _, gi := range groups {
		for _, ri := range g.byGroup[gi] {
			rs = append(rs, g.rankings[ri])
			if g.weights != nil {
				ws = append(ws, g.weights[ri])
			} else {
				ws = append(ws, 1)
			}
		}
	}
	return rs, ws
}

// SelectMask is Select over a logical vector with one entry per group.
func (g *Grouped) SelectMask(mask []bool) ([]Ranking, []float64) {
	groups := make([]int, 0, len(mask))
	for i, keep := range mask {
		if keep && i < len(g.byGroup) {
			groups = append(groups, i)
		}
	}
	return g.Select(groups)
}

// Subset returns a new Grouped holding only the listed groups, renumbered
// in the order given.
func (g *Grouped) Subset(groups []int) *Grouped {
	out := &Grouped{
		items:   g.items,
		byGroup: make([][]int, len(groups)),
	}
	if g.weights != nil {
		out.weights = []float64{}
	}
	for newG, gi := range groups {
		for _, ri := range g.byGroup[gi] {
			out.byGroup[newG] = append(out.byGroup[newG], len(out.rankings))
			out.rankings = append(out.rankings, g.rankings[ri])
			out.group = append(out.group, newG)
			if g.weights != nil {
				out.weights = append(out.weights, g.weights[ri])
			}
		}
	}
	return out
}
