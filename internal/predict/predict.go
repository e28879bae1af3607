// Package predict routes covariate rows through a fitted tree and reports
// node ids, item parameters, predicted rankings or the best item.
package predict

import (
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/ricesearch/rank-tree/internal/frame"
	"github.com/ricesearch/rank-tree/internal/itempar"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/tree"
)

// Type selects the prediction output.
type Type string

const (
	TypeNode    Type = "node"
	TypeItempar Type = "itempar"
	TypeRank    Type = "rank"
	TypeBest    Type = "best"
)

// ParseType validates a prediction type name. "" means itempar.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case "":
		return TypeItempar, nil
	case TypeNode, TypeItempar, TypeRank, TypeBest:
		return t, nil
	default:
		return "", errors.ValidationError(fmt.Sprintf("unknown prediction type %q (must be node, itempar, rank or best)", s))
	}
}

// Options controls Predict.
type Options struct {
	Type  Type
	Scale itempar.Scale
	Ref   itempar.Reference
}

// Predictions holds one result per group, keyed by the group's one-based
// position.
type Predictions struct {
	Type Type
	Keys []string

	// NodeIDs is filled for every type.
	NodeIDs []int

	// Columns labels the entries of ItemPar rows (items then tie
	// parameters) or of Ranks rows (items).
	Columns []string
	ItemPar [][]float64

	// Ranks[g][i] is the predicted position of item i, 1 being best.
	Ranks [][]int

	Best []string
}

// Len returns the number of predicted groups.
func (p *Predictions) Len() int {
	return len(p.Keys)
}

// Nodes returns the terminal node id of each group as a string keyed by
// position.
func (p *Predictions) Nodes() map[string]string {
	out := make(map[string]string, len(p.Keys))
	for i, k := range p.Keys {
		out[k] = strconv.Itoa(p.NodeIDs[i])
	}
	return out
}

// Predict routes every row of covs through t. With nil covs the training
// groups are used via their stored terminal nodes.
func Predict(t *tree.Tree, covs *frame.Frame, opts Options) (*Predictions, error) {
	if opts.Type == "" {
		opts.Type = TypeItempar
	}
	if _, err := ParseType(string(opts.Type)); err != nil {
		return nil, err
	}

	ids, err := Route(t, covs)
	if err != nil {
		return nil, err
	}

	p := &Predictions{
		Type:    opts.Type,
		Keys:    make([]string, len(ids)),
		NodeIDs: ids,
	}
	for i := range ids {
		p.Keys[i] = strconv.Itoa(i + 1)
	}
	if opts.Type == TypeNode {
		return p, nil
	}

	// itempar, rank and best all derive from the node vectors
	cache := make(map[int]*itempar.Vector)
	vectors := make([]*itempar.Vector, len(ids))
	for i, id := range ids {
		v, ok := cache[id]
		if !ok {
			n, found := t.Node(id)
			if !found {
				return nil, errors.MalformedTreeError(fmt.Sprintf("node %d does not exist", id))
			}
			scale := opts.Scale
			if opts.Type != TypeItempar {
				scale = itempar.Worth
			}
			v, err = tree.Extract(n, opts.Ref, scale)
			if err != nil {
				return nil, fmt.Errorf("node %d: %w", id, err)
			}
			cache[id] = v
		}
		vectors[i] = v
	}

	switch opts.Type {
	case TypeItempar:
		p.ItemPar = make([][]float64, len(ids))
		for i, v := range vectors {
			p.ItemPar[i] = v.Full()
			if p.Columns == nil {
				p.Columns = v.Names()
			}
		}
	case TypeRank:
		p.Ranks = make([][]int, len(ids))
		for i, v := range vectors {
			p.Ranks[i] = Rank(v.Values)
		}
		if len(vectors) > 0 {
			p.Columns = vectors[0].Items
		}
	case TypeBest:
		p.Best = make([]string, len(ids))
		for i, v := range vectors {
			p.Best[i] = v.Items[Best(v.Values)]
		}
	}
	return p, nil
}

// Route returns the terminal node id of every row of covs, or the stored
// training assignment when covs is nil.
func Route(t *tree.Tree, covs *frame.Frame) ([]int, error) {
	if covs == nil {
		if t.Fitted == nil {
			return nil, errors.ValidationError("tree has no stored training assignment; new data is required")
		}
		return slices.Clone(t.Fitted), nil
	}

	for _, name := range t.Formula.Covariates {
		if _, ok := covs.Column(name); !ok {
			return nil, errors.ValidationError(fmt.Sprintf("new data is missing covariate %q", name)).WithDetail("column", name)
		}
	}

	ids := make([]int, covs.NumRows())
	for i := range ids {
		id, err := t.Route(covs.Row(i))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		ids[i] = id
	}
	return ids, nil
}

// Rank orders items by decreasing value and returns each item's position.
// Equal values keep their original order.
func Rank(values []float64) []int {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] > values[order[b]]
	})

	ranks := make([]int, len(values))
	for pos, i := range order {
		ranks[i] = pos + 1
	}
	return ranks
}

// Best returns the index of the first maximal value.
func Best(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
