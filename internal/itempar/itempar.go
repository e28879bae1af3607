// Package itempar normalises item-strength parameters onto a common scale
// and reference item.
//
// Two scales are supported. On the worth scale item parameters are
// non-negative and sum to one. On the log scale the reference item is pinned
// at zero. Conversion is always worth = exp(log) / sum(exp(log)) over items;
// tie parameters are carried alongside and never renormalised.
package itempar

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/ricesearch/rank-tree/internal/pkg/errors"
)

// Scale selects how parameters are reported.
type Scale int

const (
	// Worth reports item parameters summing to one.
	Worth Scale = iota
	// Log reports log-worth relative to the reference item.
	Log
)

func (s Scale) String() string {
	if s == Log {
		return "log"
	}
	return "worth"
}

// ParseScale parses "worth" or "log".
func ParseScale(s string) (Scale, error) {
	switch strings.ToLower(s) {
	case "worth", "":
		return Worth, nil
	case "log":
		return Log, nil
	default:
		return Worth, errors.ValidationError(fmt.Sprintf("unknown scale %q (must be worth or log)", s))
	}
}

type refKind uint8

const (
	refUnset refKind = iota
	refIndex
	refLabel
)

// Reference names the item whose log-worth is fixed at zero. The zero value
// is unset.
type Reference struct {
	kind  refKind
	index int
	label string
}

// RefIndex references an item by zero-based position.
func RefIndex(i int) Reference {
	return Reference{kind: refIndex, index: i}
}

// RefLabel references an item by label.
func RefLabel(label string) Reference {
	return Reference{kind: refLabel, label: label}
}

// ParseReference reads a CLI style reference: a positive integer is a
// one-based item position, anything else a label, and "" is unset.
func ParseReference(s string) Reference {
	s = strings.TrimSpace(s)
	if s == "" {
		return Reference{}
	}
	if n, err := strconv.Atoi(s); err == nil {
		return RefIndex(n - 1)
	}
	return RefLabel(s)
}

// IsSet reports whether the reference names an item.
func (r Reference) IsSet() bool {
	return r.kind != refUnset
}

// Index returns the zero-based position for an index reference.
func (r Reference) Index() (int, bool) {
	return r.index, r.kind == refIndex
}

// Label returns the label for a label reference.
func (r Reference) Label() (string, bool) {
	return r.label, r.kind == refLabel
}

func (r Reference) String() string {
	switch r.kind {
	case refIndex:
		return strconv.Itoa(r.index + 1)
	case refLabel:
		return r.label
	default:
		return ""
	}
}

// Resolve returns the index of the first set reference in refs. With no set
// reference it falls back to the first item. A set reference that does not
// match an item is an error; later candidates are not consulted.
func Resolve(items []string, refs ...Reference) (int, error) {
	for _, r := range refs {
		switch r.kind {
		case refIndex:
			if r.index < 0 || r.index >= len(items) {
				return 0, errors.UnknownReferenceError(r.String())
			}
			return r.index, nil
		case refLabel:
			for i, it := range items {
				if it == r.label {
					return i, nil
				}
			}
			return 0, errors.UnknownReferenceError(r.label)
		}
	}
	if len(items) == 0 {
		return 0, errors.ValidationError("no items to reference")
	}
	return 0, nil
}

// Vector is a normalised parameter set for one model.
type Vector struct {
	Items  []string
	Values []float64 // one per item
	Ties   []float64 // tie orders 2..maxTied
	Scale  Scale
	Ref    int
}

// Full returns item parameters followed by tie parameters.
func (v *Vector) Full() []float64 {
	out := make([]float64, 0, len(v.Values)+len(v.Ties))
	out = append(out, v.Values...)
	return append(out, v.Ties...)
}

// Names returns column labels matching Full.
func (v *Vector) Names() []string {
	return ColumnNames(v.Items, len(v.Ties)+1)
}

// ColumnNames labels items followed by tie orders 2..maxTied.
func ColumnNames(items []string, maxTied int) []string {
	names := make([]string, 0, len(items)+maxTied-1)
	names = append(names, items...)
	for k := 2; k <= maxTied; k++ {
		names = append(names, "tie"+strconv.Itoa(k))
	}
	return names
}

// FromLogWorth builds a Vector from unnormalised log-worths (any reference)
// and log tie parameters.
func FromLogWorth(items []string, logWorth, logTie []float64, ref int, scale Scale) (*Vector, error) {
	if len(items) != len(logWorth) {
		return nil, errors.ValidationError(fmt.Sprintf("have %d items but %d item parameters", len(items), len(logWorth)))
	}
	if ref < 0 || ref >= len(items) {
		return nil, errors.UnknownReferenceError(strconv.Itoa(ref + 1))
	}

	v := &Vector{
		Items:  items,
		Values: make([]float64, len(logWorth)),
		Ties:   make([]float64, len(logTie)),
		Scale:  scale,
		Ref:    ref,
	}

	switch scale {
	case Log:
		base := logWorth[ref]
		for i, lw := range logWorth {
			v.Values[i] = lw - base
		}
		copy(v.Ties, logTie)
	default:
		lse := floats.LogSumExp(logWorth)
		for i, lw := range logWorth {
			v.Values[i] = math.Exp(lw - lse)
		}
		for i, lt := range logTie {
			v.Ties[i] = math.Exp(lt)
		}
	}

	return v, nil
}

// FromWorth converts worth-scale items and raw tie parameters back to
// log-worth and log tie parameters.
func FromWorth(worth, ties []float64) (logWorth, logTie []float64, err error) {
	logWorth = make([]float64, len(worth))
	for i, w := range worth {
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, nil, errors.ValidationError(fmt.Sprintf("worth %d must be positive and finite, got %v", i+1, w))
		}
		logWorth[i] = math.Log(w)
	}
	logTie = make([]float64, len(ties))
	for i, d := range ties {
		if d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, nil, errors.ValidationError(fmt.Sprintf("tie parameter %d must be positive and finite, got %v", i+2, d))
		}
		logTie[i] = math.Log(d)
	}
	return logWorth, logTie, nil
}
