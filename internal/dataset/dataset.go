// Package dataset loads grouped rankings together with their covariates.
//
// A dataset file is a JSON document:
//
//	{
//	  "items": ["A", "B", "C"],
//	  "response": "rankings",
//	  "groups": [
//	    {
//	      "covariates": {"age": 34, "region": "north"},
//	      "rankings": [{"ranking": [["A"], ["B", "C"]], "weight": 2}]
//	    }
//	  ]
//	}
//
// Each group is one observational unit and one covariate row. A group
// without "rankings" makes the whole file response-free, which is enough for
// prediction but not for likelihood evaluation.
package dataset

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ricesearch/rank-tree/internal/frame"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/pkg/hash"
	"github.com/ricesearch/rank-tree/internal/pkg/security"
	"github.com/ricesearch/rank-tree/internal/ranking"
)

// DefaultResponse names the response when the file does not.
const DefaultResponse = "rankings"

// Dataset is a covariate frame with an optional grouped-ranking response.
type Dataset struct {
	Response   string
	Items      []string
	Rankings   *ranking.Grouped // nil when the response is absent
	Covariates *frame.Frame
}

// ModelFrame is the data a formula selects from a Dataset.
type ModelFrame struct {
	Formula    frame.Formula
	Response   *ranking.Grouped // nil unless required or present
	Covariates *frame.Frame
}

// NumGroups returns the number of observational units.
func (d *Dataset) NumGroups() int {
	return d.Covariates.NumRows()
}

// HasResponse reports whether the dataset carries rankings.
func (d *Dataset) HasResponse() bool {
	return d.Rankings != nil
}

// ModelFrame resolves formula against the dataset. When requireResponse is
// set the dataset must hold the formula's response column.
func (d *Dataset) ModelFrame(f frame.Formula, requireResponse bool) (*ModelFrame, error) {
	expanded, err := f.Expand(d.Covariates)
	if err != nil {
		return nil, err
	}

	mf := &ModelFrame{Formula: expanded, Covariates: d.Covariates}
	hasResponse := d.Rankings != nil && d.Response == f.Response
	if hasResponse {
		mf.Response = d.Rankings
	} else if requireResponse {
		return nil, errors.MissingResponseError(f.Response)
	}
	return mf, nil
}

// Fingerprint identifies the dataset contents.
func (d *Dataset) Fingerprint() string {
	parts := []string{d.Response, strings.Join(d.Items, "\x1f")}
	for _, name := range d.Covariates.Names() {
		c, _ := d.Covariates.Column(name)
		var b strings.Builder
		b.WriteString(name)
		for i := 0; i < d.Covariates.NumRows(); i++ {
			b.WriteByte('\x1f')
			if c.Kind == frame.Numeric {
				b.WriteString(strconv.FormatFloat(c.Num[i], 'g', -1, 64))
			} else {
				b.WriteString(c.Level(i))
			}
		}
		parts = append(parts, b.String())
	}
	if d.Rankings != nil {
		ws := d.Rankings.Weights()
		for i, r := range d.Rankings.Rankings() {
			parts = append(parts, fmt.Sprint(r, ws[i]))
		}
	}
	return hash.Fingerprint(parts...)
}

type fileRanking struct {
	Ranking [][]string `json:"ranking"`
	Weight  *float64   `json:"weight,omitempty"`
}

type fileGroup struct {
	Covariates map[string]any `json:"covariates"`
	Rankings   []fileRanking  `json:"rankings"`
}

type file struct {
	Items    []string    `json:"items"`
	Response string      `json:"response"`
	Groups   []fileGroup `json:"groups"`
}

// Load reads a dataset file.
func Load(path string) (*Dataset, error) {
	if err := security.ValidateDataFile(path, security.MaxDataFileSize); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode reads a dataset document from r.
func Decode(r io.Reader) (*Dataset, error) {
	var doc file
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "decoding dataset", err)
	}
	return build(doc)
}

func build(doc file) (*Dataset, error) {
	if len(doc.Groups) == 0 {
		return nil, errors.ValidationError("dataset has no groups")
	}
	if doc.Response == "" {
		doc.Response = DefaultResponse
	}

	covs, err := buildFrame(doc.Groups)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		Response:   doc.Response,
		Items:      doc.Items,
		Covariates: covs,
	}

	withResponse := 0
	for _, g := range doc.Groups {
		if g.Rankings != nil {
			withResponse++
		}
	}
	switch {
	case withResponse == 0:
		return ds, nil
	case withResponse != len(doc.Groups):
		return nil, errors.ValidationError(fmt.Sprintf("%d of %d groups have rankings; either all or none must", withResponse, len(doc.Groups)))
	}

	var (
		rankings []ranking.Ranking
		groupIDs []int
		weights  []float64
		weighted bool
	)
	for gi, g := range doc.Groups {
		for ri, fr := range g.Rankings {
			r, err := ranking.FromLabels(doc.Items, fr.Ranking)
			if err != nil {
				return nil, fmt.Errorf("group %d ranking %d: %w", gi+1, ri+1, err)
			}
			w := 1.0
			if fr.Weight != nil {
				w = *fr.Weight
				weighted = true
			}
			rankings = append(rankings, r)
			groupIDs = append(groupIDs, gi)
			weights = append(weights, w)
		}
	}
	if !weighted {
		weights = nil
	}

	ds.Rankings, err = ranking.NewGrouped(doc.Items, rankings, weights, groupIDs, len(doc.Groups))
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// buildFrame infers a column per covariate key: numeric when every
// non-null value is a number, otherwise a factor.
func buildFrame(groups []fileGroup) (*frame.Frame, error) {
	keys := make(map[string]bool)
	for _, g := range groups {
		for k := range g.Covariates {
			keys[k] = true
		}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	fr := frame.New(len(groups))
	for _, name := range names {
		numeric := true
		for _, g := range groups {
			switch g.Covariates[name].(type) {
			case nil, json.Number:
			default:
				numeric = false
			}
		}

		if numeric {
			vals := make([]float64, len(groups))
			for i, g := range groups {
				vals[i] = math.NaN()
				if n, ok := g.Covariates[name].(json.Number); ok {
					v, err := n.Float64()
					if err != nil {
						return nil, errors.Wrap(errors.CodeValidation, fmt.Sprintf("covariate %q", name), err)
					}
					vals[i] = v
				}
			}
			if err := fr.AddNumeric(name, vals); err != nil {
				return nil, err
			}
			continue
		}

		vals := make([]string, len(groups))
		for i, g := range groups {
			switch v := g.Covariates[name].(type) {
			case nil:
			case string:
				vals[i] = v
			case bool, json.Number:
				vals[i] = fmt.Sprint(v)
			default:
				return nil, errors.ValidationError(fmt.Sprintf("covariate %q in group %d is not a scalar", name, i+1))
			}
		}
		if err := fr.AddFactor(name, vals); err != nil {
			return nil, err
		}
	}
	return fr, nil
}
