package tree

import (
	"fmt"

	"github.com/ricesearch/rank-tree/internal/frame"
	"github.com/ricesearch/rank-tree/internal/itempar"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/plackett"
)

// SnapshotVersion is the current snapshot layout.
const SnapshotVersion = 1

// Snapshot is the persisted form of a tree. Terminal models are stored as
// log-scale coefficients and come back as RawCoefficients.
type Snapshot struct {
	Version    int            `json:"version"`
	Items      []string       `json:"items"`
	Response   string         `json:"response"`
	Covariates []string       `json:"covariates"`
	Ref        *RefSnapshot   `json:"ref,omitempty"`
	Fit        FitSnapshot    `json:"fit"`
	Nodes      []NodeSnapshot `json:"nodes"`
	Fitted     []int          `json:"fitted"`
	LogLik     float64        `json:"loglik"`
}

// RefSnapshot stores a reference by one-based index or by label.
type RefSnapshot struct {
	Index int    `json:"index,omitempty"`
	Label string `json:"label,omitempty"`
}

// FitSnapshot stores the node fitting options.
type FitSnapshot struct {
	MaxIter int     `json:"max_iter"`
	Tol     float64 `json:"tol"`
	NPseudo float64 `json:"npseudo"`
	MaxTied int     `json:"max_tied"`
}

// NodeSnapshot stores one node.
type NodeSnapshot struct {
	ID    int            `json:"id"`
	NObs  int            `json:"nobs"`
	Split *SplitSnapshot `json:"split,omitempty"`
	Left  int            `json:"left,omitempty"`
	Right int            `json:"right,omitempty"`

	Coef    []float64    `json:"coef,omitempty"`
	Ref     *RefSnapshot `json:"ref,omitempty"`
	MaxTied int          `json:"max_tied,omitempty"`
	DF      int          `json:"df,omitempty"`
}

// SplitSnapshot stores a split rule.
type SplitSnapshot struct {
	Covariate   string   `json:"covariate"`
	Kind        string   `json:"kind"`
	Threshold   float64  `json:"threshold,omitempty"`
	Left        []string `json:"left,omitempty"`
	Right       []string `json:"right,omitempty"`
	MissingLeft bool     `json:"missing_left"`
}

func refToSnapshot(r itempar.Reference) *RefSnapshot {
	if i, ok := r.Index(); ok {
		return &RefSnapshot{Index: i + 1}
	}
	if l, ok := r.Label(); ok {
		return &RefSnapshot{Label: l}
	}
	return nil
}

func refFromSnapshot(r *RefSnapshot) itempar.Reference {
	switch {
	case r == nil:
		return itempar.Reference{}
	case r.Label != "":
		return itempar.RefLabel(r.Label)
	case r.Index > 0:
		return itempar.RefIndex(r.Index - 1)
	default:
		return itempar.Reference{}
	}
}

// Snapshot converts the tree to its persisted form.
func (t *Tree) Snapshot() (*Snapshot, error) {
	s := &Snapshot{
		Version:    SnapshotVersion,
		Items:      t.Items,
		Response:   t.Formula.Response,
		Covariates: t.Formula.Covariates,
		Ref:        refToSnapshot(t.Ref),
		Fit: FitSnapshot{
			MaxIter: t.FitOptions.MaxIter,
			Tol:     t.FitOptions.Tol,
			NPseudo: t.FitOptions.NPseudo,
			MaxTied: t.FitOptions.MaxTied,
		},
		Fitted: t.Fitted,
		LogLik: t.LogLik,
	}

	for _, n := range t.nodes {
		ns := NodeSnapshot{ID: n.ID, NObs: n.NObs}
		if !n.IsTerminal() {
			ns.Left, ns.Right = n.Left, n.Right
			ns.Split = &SplitSnapshot{
				Covariate:   n.Split.Covariate,
				Kind:        n.Split.Kind.String(),
				Threshold:   n.Split.Threshold,
				Left:        n.Split.Left,
				Right:       n.Split.Right,
				MissingLeft: n.Split.MissingLeft,
			}
			s.Nodes = append(s.Nodes, ns)
			continue
		}

		if n.Model == nil {
			return nil, errors.MalformedTreeError(fmt.Sprintf("terminal node %d has no model", n.ID))
		}
		v, err := n.Model.Coefficients(itempar.RefIndex(0), itempar.Log)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", n.ID, err)
		}
		ns.Coef = v.Full()
		ns.Ref = refToSnapshot(n.Model.Reference())
		ns.MaxTied = n.Model.MaxTied()
		ns.DF = n.Model.DF()
		s.Nodes = append(s.Nodes, ns)
	}
	return s, nil
}

// FromSnapshot rebuilds a tree from its persisted form.
func FromSnapshot(s *Snapshot) (*Tree, error) {
	if s.Version != SnapshotVersion {
		return nil, errors.MalformedTreeError(fmt.Sprintf("unsupported snapshot version %d", s.Version))
	}

	nodes := make([]*Node, 0, len(s.Nodes))
	seen := make(map[int]bool, len(s.Nodes))
	for _, ns := range s.Nodes {
		if seen[ns.ID] {
			return nil, errors.MalformedTreeError(fmt.Sprintf("node %d appears twice", ns.ID))
		}
		seen[ns.ID] = true

		n := &Node{ID: ns.ID, NObs: ns.NObs}
		if ns.Split != nil {
			kind := frame.Numeric
			switch ns.Split.Kind {
			case frame.Numeric.String():
			case frame.Factor.String():
				kind = frame.Factor
			default:
				return nil, errors.MalformedTreeError(fmt.Sprintf("node %d has split kind %q", ns.ID, ns.Split.Kind))
			}
			n.Split = &Split{
				Covariate:   ns.Split.Covariate,
				Kind:        kind,
				Threshold:   ns.Split.Threshold,
				Left:        ns.Split.Left,
				Right:       ns.Split.Right,
				MissingLeft: ns.Split.MissingLeft,
			}
			n.Left, n.Right = ns.Left, ns.Right
		} else {
			m, err := NewRawCoefficients(s.Items, ns.Coef, refFromSnapshot(ns.Ref), ns.MaxTied, ns.DF)
			if err != nil {
				return nil, fmt.Errorf("node %d: %w", ns.ID, err)
			}
			n.Model = m
		}
		nodes = append(nodes, n)
	}

	t := New(nodes)
	t.Items = s.Items
	t.Formula = frame.Formula{Response: s.Response, Covariates: s.Covariates}
	t.Ref = refFromSnapshot(s.Ref)
	t.FitOptions = plackett.Options{
		MaxIter: s.Fit.MaxIter,
		Tol:     s.Fit.Tol,
		NPseudo: s.Fit.NPseudo,
		MaxTied: s.Fit.MaxTied,
		Ref:     t.Ref,
	}
	t.Fitted = s.Fitted
	t.LogLik = s.LogLik

	if err := t.Validate(); err != nil {
		return nil, err
	}
	for i, id := range t.Fitted {
		n, ok := t.Node(id)
		if !ok || !n.IsTerminal() {
			return nil, errors.MalformedTreeError(fmt.Sprintf("training group %d is fitted to node %d, which is not terminal", i+1, id))
		}
	}
	return t, nil
}
