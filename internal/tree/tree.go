// Package tree holds model-based recursive partitions whose terminal nodes
// carry Plackett-Luce ranking models.
package tree

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/ricesearch/rank-tree/internal/frame"
	"github.com/ricesearch/rank-tree/internal/itempar"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/plackett"
)

// RootID is the id of every tree's root node.
const RootID = 1

// Split sends a row to the left or right child on one covariate.
type Split struct {
	Covariate string
	Kind      frame.Kind

	// Numeric: values <= Threshold go left.
	Threshold float64

	// Factor: levels in Left go left, levels in Right go right.
	Left  []string
	Right []string

	// MissingLeft routes missing and unseen values left.
	MissingLeft bool
}

// goesLeft decides the direction of one row.
func (s *Split) goesLeft(row frame.Row) (bool, error) {
	switch s.Kind {
	case frame.Numeric:
		v, err := row.Float(s.Covariate)
		if err != nil {
			return false, err
		}
		if math.IsNaN(v) {
			return s.MissingLeft, nil
		}
		return v <= s.Threshold, nil
	default:
		l, err := row.Level(s.Covariate)
		if err != nil {
			return false, err
		}
		switch {
		case slices.Contains(s.Left, l):
			return true, nil
		case slices.Contains(s.Right, l):
			return false, nil
		default:
			return s.MissingLeft, nil
		}
	}
}

func (s *Split) String() string {
	if s.Kind == frame.Numeric {
		return fmt.Sprintf("%s <= %g", s.Covariate, s.Threshold)
	}
	return fmt.Sprintf("%s in %v", s.Covariate, s.Left)
}

// Node is an inner or terminal node. Inner nodes have a Split and child ids;
// terminal nodes have a Model.
type Node struct {
	ID    int
	Split *Split
	Left  int
	Right int
	Model NodeModel
	NObs  int // training groups reaching the node
}

// IsTerminal reports whether the node is a leaf.
func (n *Node) IsTerminal() bool {
	return n.Split == nil
}

// Tree is a fitted partition. Node ids are assigned in pre-order starting
// at RootID.
type Tree struct {
	Items   []string
	Formula frame.Formula // covariates expanded

	// Ref is the reference supplied when the tree was fitted.
	Ref itempar.Reference

	// FitOptions are the fitting options used for every node, without Start
	// or Weights.
	FitOptions plackett.Options

	// Fitted is the terminal node id of each training group.
	Fitted []int

	// LogLik is the summed log-likelihood of the terminal node models on the
	// training data.
	LogLik float64

	nodes []*Node
}

// New assembles a tree from nodes in any order.
func New(nodes []*Node) *Tree {
	sorted := slices.Clone(nodes)
	slices.SortFunc(sorted, func(a, b *Node) int { return a.ID - b.ID })
	return &Tree{nodes: sorted}
}

// Nodes returns every node ordered by id.
func (t *Tree) Nodes() []*Node {
	return t.nodes
}

// Node looks up a node by id.
func (t *Tree) Node(id int) (*Node, bool) {
	i, ok := slices.BinarySearchFunc(t.nodes, id, func(n *Node, id int) int { return n.ID - id })
	if !ok {
		return nil, false
	}
	return t.nodes[i], true
}

// Terminal returns the ids of the terminal nodes in increasing order.
func (t *Tree) Terminal() []int {
	var ids []int
	for _, n := range t.nodes {
		if n.IsTerminal() {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// NumSplits returns the number of inner nodes.
func (t *Tree) NumSplits() int {
	n := 0
	for _, node := range t.nodes {
		if !node.IsTerminal() {
			n++
		}
	}
	return n
}

// DF counts the free parameters of every terminal model plus one per split.
func (t *Tree) DF() int {
	df := t.NumSplits()
	for _, n := range t.nodes {
		if n.IsTerminal() && n.Model != nil {
			df += n.Model.DF()
		}
	}
	return df
}

// NObs returns the number of training groups.
func (t *Tree) NObs() int {
	return len(t.Fitted)
}

// AIC returns the in-sample information criterion -2 LogLik + 2 DF.
func (t *Tree) AIC() float64 {
	return -2*t.LogLik + 2*float64(t.DF())
}

// Route returns the terminal node a covariate row falls into.
func (t *Tree) Route(row frame.Row) (int, error) {
	id := RootID
	for depth := 0; depth <= len(t.nodes); depth++ {
		n, ok := t.Node(id)
		if !ok {
			return 0, errors.MalformedTreeError(fmt.Sprintf("node %d does not exist", id))
		}
		if n.IsTerminal() {
			return id, nil
		}
		left, err := n.Split.goesLeft(row)
		if err != nil {
			return 0, err
		}
		if left {
			id = n.Left
		} else {
			id = n.Right
		}
	}
	return 0, errors.MalformedTreeError("routing did not reach a terminal node")
}

// Validate checks that the node graph is a proper binary tree rooted at
// RootID whose terminal nodes all carry models over the tree's items.
func (t *Tree) Validate() error {
	if len(t.nodes) == 0 {
		return errors.MalformedTreeError("tree has no nodes")
	}
	if _, ok := t.Node(RootID); !ok {
		return errors.MalformedTreeError("tree has no root node")
	}

	seen := make(map[int]bool, len(t.nodes))
	stack := []int{RootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			return errors.MalformedTreeError(fmt.Sprintf("node %d is reachable twice", id))
		}
		seen[id] = true

		n, ok := t.Node(id)
		if !ok {
			return errors.MalformedTreeError(fmt.Sprintf("node %d does not exist", id))
		}
		if n.IsTerminal() {
			if n.Model == nil {
				return errors.MalformedTreeError(fmt.Sprintf("terminal node %d has no model", id))
			}
			if !slices.Equal(n.Model.Items(), t.Items) {
				return errors.MalformedTreeError(fmt.Sprintf("terminal node %d has items %v, tree has %v", id, n.Model.Items(), t.Items))
			}
			continue
		}
		stack = append(stack, n.Right, n.Left)
	}
	if len(seen) != len(t.nodes) {
		return errors.MalformedTreeError(fmt.Sprintf("%d of %d nodes are unreachable", len(t.nodes)-len(seen), len(t.nodes)))
	}
	return nil
}

// CoefOptions selects what Coefficients reports.
type CoefOptions struct {
	Nodes []int // terminal node ids; nil selects all
	Ref   itempar.Reference
	Scale itempar.Scale

	// Drop reports a single selected node as a vector instead of a
	// one-row table.
	Drop bool
}

// CoefTable has one row per node and one column per item followed by the
// tie parameters.
type CoefTable struct {
	NodeIDs []int
	Columns []string
	Values  *mat.Dense

	// Dropped is set when Drop was requested and exactly one node was
	// selected. Vector then holds the result.
	Dropped bool
}

// Row returns the coefficients of a node.
func (c *CoefTable) Row(id int) ([]float64, bool) {
	i := slices.Index(c.NodeIDs, id)
	if i < 0 {
		return nil, false
	}
	return mat.Row(nil, i, c.Values), true
}

// Vector returns the only row of a single-node table. ok is false when the
// table has more than one row.
func (c *CoefTable) Vector() ([]float64, bool) {
	if len(c.NodeIDs) != 1 {
		return nil, false
	}
	return mat.Row(nil, 0, c.Values), true
}

// Coefficients extracts the terminal node parameters into a table.
func (t *Tree) Coefficients(opts CoefOptions) (*CoefTable, error) {
	ids := opts.Nodes
	if ids == nil {
		ids = t.Terminal()
	}
	if len(ids) == 0 {
		return nil, errors.ValidationError("no nodes selected")
	}

	var rows [][]float64
	var cols []string
	for _, id := range ids {
		n, ok := t.Node(id)
		if !ok {
			return nil, errors.NotFoundError(fmt.Sprintf("node %d", id))
		}
		if !n.IsTerminal() {
			return nil, errors.ValidationError(fmt.Sprintf("node %d is not terminal", id))
		}
		v, err := Extract(n, opts.Ref, opts.Scale)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		full := v.Full()
		if cols != nil && len(full) != len(cols) {
			return nil, errors.MalformedTreeError(fmt.Sprintf("node %d has %d coefficients, other nodes %d", id, len(full), len(cols)))
		}
		cols = v.Names()
		rows = append(rows, full)
	}

	values := mat.NewDense(len(rows), len(cols), nil)
	for i, r := range rows {
		values.SetRow(i, r)
	}
	return &CoefTable{
		NodeIDs: slices.Clone(ids),
		Columns: cols,
		Values:  values,
		Dropped: opts.Drop && len(ids) == 1,
	}, nil
}
