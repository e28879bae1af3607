// Package frame provides the covariate table used for splitting and the
// formula that ties it to a ranking response.
package frame

import (
	"fmt"
	"math"
	"sort"

	"github.com/ricesearch/rank-tree/internal/pkg/errors"
)

// Kind is the type of a covariate column.
type Kind int

const (
	Numeric Kind = iota
	Factor
)

func (k Kind) String() string {
	if k == Factor {
		return "factor"
	}
	return "numeric"
}

// Column is a single covariate. Numeric columns use NaN for missing values;
// factor columns use code -1.
type Column struct {
	Name   string
	Kind   Kind
	Num    []float64
	Levels []string
	Codes  []int
}

// Level returns the factor level of row i, or "" when missing.
func (c *Column) Level(i int) string {
	if c.Codes[i] < 0 {
		return ""
	}
	return c.Levels[c.Codes[i]]
}

// Frame is a table of covariates with one row per group.
type Frame struct {
	cols  []*Column
	index map[string]int
	nrows int
}

// New creates an empty frame with nrows rows.
func New(nrows int) *Frame {
	return &Frame{
		index: make(map[string]int),
		nrows: nrows,
	}
}

// NumRows returns the number of rows.
func (f *Frame) NumRows() int { return f.nrows }

// Names returns column names in insertion order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.cols[i], true
}

// AddNumeric appends a numeric column.
func (f *Frame) AddNumeric(name string, vals []float64) error {
	if err := f.checkNew(name, len(vals)); err != nil {
		return err
	}
	f.add(&Column{Name: name, Kind: Numeric, Num: vals})
	return nil
}

// AddFactor appends a factor column. Empty strings are missing. Levels are
// sorted lexically.
func (f *Frame) AddFactor(name string, vals []string) error {
	if err := f.checkNew(name, len(vals)); err != nil {
		return err
	}

	seen := make(map[string]bool)
	var levels []string
	for _, v := range vals {
		if v != "" && !seen[v] {
			seen[v] = true
			levels = append(levels, v)
		}
	}
	sort.Strings(levels)

	code := make(map[string]int, len(levels))
	for i, l := range levels {
		code[l] = i
	}
	codes := make([]int, len(vals))
	for i, v := range vals {
		if v == "" {
			codes[i] = -1
		} else {
			codes[i] = code[v]
		}
	}

	f.add(&Column{Name: name, Kind: Factor, Levels: levels, Codes: codes})
	return nil
}

func (f *Frame) checkNew(name string, n int) error {
	if name == "" {
		return errors.ValidationError("column name is empty")
	}
	if _, dup := f.index[name]; dup {
		return errors.ValidationError(fmt.Sprintf("duplicate column %q", name))
	}
	if n != f.nrows {
		return errors.ValidationError(fmt.Sprintf("column %q has %d rows, frame has %d", name, n, f.nrows))
	}
	return nil
}

func (f *Frame) add(c *Column) {
	f.index[c.Name] = len(f.cols)
	f.cols = append(f.cols, c)
}

// Row returns an accessor for row i.
func (f *Frame) Row(i int) Row {
	return Row{f: f, i: i}
}

// Row is a single covariate row.
type Row struct {
	f *Frame
	i int
}

// Index returns the zero-based row position.
func (r Row) Index() int { return r.i }

// Float returns a numeric covariate, NaN when missing.
func (r Row) Float(name string) (float64, error) {
	c, ok := r.f.Column(name)
	if !ok {
		return math.NaN(), errors.ValidationError(fmt.Sprintf("covariate %q not found", name))
	}
	if c.Kind != Numeric {
		return math.NaN(), errors.ValidationError(fmt.Sprintf("covariate %q is %s, not numeric", name, c.Kind))
	}
	return c.Num[r.i], nil
}

// Level returns a factor covariate, "" when missing.
func (r Row) Level(name string) (string, error) {
	c, ok := r.f.Column(name)
	if !ok {
		return "", errors.ValidationError(fmt.Sprintf("covariate %q not found", name))
	}
	if c.Kind != Factor {
		return "", errors.ValidationError(fmt.Sprintf("covariate %q is %s, not a factor", name, c.Kind))
	}
	return c.Level(r.i), nil
}
