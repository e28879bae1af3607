package frame

import (
	"fmt"
	"strings"

	"github.com/ricesearch/rank-tree/internal/pkg/errors"
)

// Formula relates a ranking response to the covariates used for splitting,
// written "response ~ a + b" or "response ~ .".
type Formula struct {
	Response   string
	Covariates []string
	All        bool // "." on the right-hand side
}

// ParseFormula parses a formula string.
func ParseFormula(s string) (Formula, error) {
	lhs, rhs, ok := strings.Cut(s, "~")
	if !ok {
		return Formula{}, errors.ValidationError(fmt.Sprintf("formula %q has no ~", s))
	}

	f := Formula{Response: strings.TrimSpace(lhs)}
	if f.Response == "" {
		return Formula{}, errors.ValidationError(fmt.Sprintf("formula %q has no response", s))
	}

	seen := make(map[string]bool)
	for _, term := range strings.Split(rhs, "+") {
		term = strings.TrimSpace(term)
		switch {
		case term == "":
			return Formula{}, errors.ValidationError(fmt.Sprintf("formula %q has an empty term", s))
		case term == ".":
			f.All = true
		case term == f.Response:
			return Formula{}, errors.ValidationError(fmt.Sprintf("response %q cannot be a covariate", term))
		case !seen[term]:
			seen[term] = true
			f.Covariates = append(f.Covariates, term)
		}
	}
	return f, nil
}

// String renders the formula.
func (f Formula) String() string {
	terms := append([]string(nil), f.Covariates...)
	if f.All {
		terms = append([]string{"."}, terms...)
	}
	return f.Response + " ~ " + strings.Join(terms, " + ")
}

// Expand resolves "." against the frame and checks that every covariate is
// present. The result never has All set.
func (f Formula) Expand(fr *Frame) (Formula, error) {
	out := Formula{Response: f.Response}
	seen := make(map[string]bool)
	if f.All {
		for _, name := range fr.Names() {
			if name != f.Response {
				seen[name] = true
				out.Covariates = append(out.Covariates, name)
			}
		}
	}
	for _, name := range f.Covariates {
		if _, ok := fr.Column(name); !ok {
			return Formula{}, errors.ValidationError(fmt.Sprintf("covariate %q not found in data", name)).
				WithDetail("column", name)
		}
		if !seen[name] {
			seen[name] = true
			out.Covariates = append(out.Covariates, name)
		}
	}
	return out, nil
}
