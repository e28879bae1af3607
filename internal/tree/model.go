package tree

import (
	"fmt"
	"math"

	"github.com/ricesearch/rank-tree/internal/itempar"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/plackett"
)

// NodeModel is the ranking model held by a terminal node. Implementations
// receive an already resolved reference.
type NodeModel interface {
	Items() []string
	Coefficients(ref itempar.Reference, scale itempar.Scale) (*itempar.Vector, error)
	Reference() itempar.Reference
	MaxTied() int
	DF() int
}

// FullModel is a node model backed by a complete fit.
type FullModel struct {
	Model *plackett.Model
}

func (m FullModel) Items() []string             { return m.Model.Items }
func (m FullModel) Reference() itempar.Reference { return m.Model.Ref }
func (m FullModel) MaxTied() int                 { return m.Model.MaxTied }
func (m FullModel) DF() int                      { return m.Model.DF() }

func (m FullModel) Coefficients(ref itempar.Reference, scale itempar.Scale) (*itempar.Vector, error) {
	return m.Model.Coefficients(ref, scale)
}

// RawCoefficients is a node model known only through its stored
// log-scale coefficients: item log-worths followed by log tie parameters.
type RawCoefficients struct {
	items   []string
	coef    []float64
	ref     itempar.Reference
	maxTied int
	df      int
}

// NewRawCoefficients validates and wraps stored coefficients.
func NewRawCoefficients(items []string, coef []float64, ref itempar.Reference, maxTied, df int) (*RawCoefficients, error) {
	if maxTied < 1 {
		return nil, errors.MalformedTreeError(fmt.Sprintf("max tied %d must be positive", maxTied))
	}
	if len(coef) != len(items)+maxTied-1 {
		return nil, errors.MalformedTreeError(fmt.Sprintf("have %d coefficients for %d items and %d tie orders", len(coef), len(items), maxTied))
	}
	for i, c := range coef {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, errors.MalformedTreeError(fmt.Sprintf("coefficient %d is not finite", i+1))
		}
	}
	return &RawCoefficients{
		items:   items,
		coef:    coef,
		ref:     ref,
		maxTied: maxTied,
		df:      df,
	}, nil
}

func (r *RawCoefficients) Items() []string             { return r.items }
func (r *RawCoefficients) Reference() itempar.Reference { return r.ref }
func (r *RawCoefficients) MaxTied() int                 { return r.maxTied }
func (r *RawCoefficients) DF() int                      { return r.df }

// Coefficients exponentiates the stored values, renormalises the item part
// to sum to one and leaves tie parameters untouched before applying the
// reference and scale.
func (r *RawCoefficients) Coefficients(ref itempar.Reference, scale itempar.Scale) (*itempar.Vector, error) {
	n := len(r.items)
	worth := make([]float64, n)
	sum := 0.0
	for i := range worth {
		worth[i] = math.Exp(r.coef[i])
		sum += worth[i]
	}
	for i := range worth {
		worth[i] /= sum
	}
	ties := make([]float64, len(r.coef)-n)
	for i := range ties {
		ties[i] = math.Exp(r.coef[n+i])
	}

	logWorth, logTie, err := itempar.FromWorth(worth, ties)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedTree, "stored coefficients", err)
	}
	idx, err := itempar.Resolve(r.items, ref, r.ref)
	if err != nil {
		return nil, err
	}
	return itempar.FromLogWorth(r.items, logWorth, logTie, idx, scale)
}

// Extract returns a terminal node's coefficients on the requested scale. The
// reference is the caller's when set, else the one stored with the node's
// model, else the first item.
func Extract(n *Node, ref itempar.Reference, scale itempar.Scale) (*itempar.Vector, error) {
	if n == nil {
		return nil, errors.MalformedTreeError("nil node")
	}
	if n.Model == nil {
		return nil, errors.MalformedTreeError(fmt.Sprintf("node %d has no model", n.ID))
	}
	idx, err := itempar.Resolve(n.Model.Items(), ref, n.Model.Reference())
	if err != nil {
		return nil, err
	}
	return n.Model.Coefficients(itempar.RefIndex(idx), scale)
}
