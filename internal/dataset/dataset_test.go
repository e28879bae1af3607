package dataset

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ricesearch/rank-tree/internal/frame"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
)

const sample = `{
  "items": ["A", "B", "C"],
  "groups": [
    {"covariates": {"age": 34, "region": "north"},
     "rankings": [{"ranking": [["A"], ["B", "C"]], "weight": 2}]},
    {"covariates": {"age": null, "region": "south"},
     "rankings": [{"ranking": [["C"], ["B"], ["A"]]}, {"ranking": [["B"], ["A"]]}]},
    {"covariates": {"age": 51},
     "rankings": []}
  ]
}`

func TestDecode(t *testing.T) {
	ds, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if ds.Response != DefaultResponse {
		t.Errorf("Response = %q, want %q", ds.Response, DefaultResponse)
	}
	if ds.NumGroups() != 3 {
		t.Errorf("NumGroups() = %d, want 3", ds.NumGroups())
	}
	if !ds.HasResponse() {
		t.Fatal("HasResponse() = false")
	}
	if got := ds.Rankings.NumRankings(); got != 3 {
		t.Errorf("NumRankings() = %d, want 3", got)
	}
	if got := ds.Rankings.MaxTied(); got != 2 {
		t.Errorf("MaxTied() = %d, want 2", got)
	}
	ws := ds.Rankings.Weights()
	if ws[0] != 2 || ws[1] != 1 || ws[2] != 1 {
		t.Errorf("Weights() = %v, want [2 1 1]", ws)
	}

	age, ok := ds.Covariates.Column("age")
	if !ok || age.Kind != frame.Numeric {
		t.Fatalf("age column = %+v, want numeric", age)
	}
	if age.Num[0] != 34 || !math.IsNaN(age.Num[1]) || age.Num[2] != 51 {
		t.Errorf("age = %v", age.Num)
	}

	region, ok := ds.Covariates.Column("region")
	if !ok || region.Kind != frame.Factor {
		t.Fatalf("region column = %+v, want factor", region)
	}
	if region.Level(0) != "north" || region.Level(2) != "" {
		t.Errorf("region levels = %q, %q", region.Level(0), region.Level(2))
	}
}

func TestDecode_NoResponse(t *testing.T) {
	ds, err := Decode(strings.NewReader(`{"items":["A","B"],"groups":[{"covariates":{"x":1}},{"covariates":{"x":2}}]}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if ds.HasResponse() {
		t.Error("HasResponse() = true, want false")
	}

	f, _ := frame.ParseFormula("rankings ~ x")
	if _, err := ds.ModelFrame(f, false); err != nil {
		t.Errorf("ModelFrame(optional) error = %v", err)
	}

	_, err = ds.ModelFrame(f, true)
	if !errors.IsMissingResponse(err) {
		t.Fatalf("ModelFrame(required) error = %v, want MISSING_RESPONSE", err)
	}
	if !strings.Contains(err.Error(), "rankings") {
		t.Errorf("error %q does not name the response column", err)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"invalid json", `{`},
		{"no groups", `{"items":["A","B"],"groups":[]}`},
		{"partial response", `{"items":["A","B"],"groups":[{"rankings":[]},{}]}`},
		{"unknown item", `{"items":["A","B"],"groups":[{"rankings":[{"ranking":[["Z"],["A"]]}]}]}`},
		{"nested covariate", `{"items":["A","B"],"groups":[{"covariates":{"x":[1]}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(tt.doc)); err == nil {
				t.Error("Decode() error = nil")
			}
		})
	}
}

func TestModelFrame(t *testing.T) {
	ds, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}

	f, _ := frame.ParseFormula("rankings ~ .")
	mf, err := ds.ModelFrame(f, true)
	if err != nil {
		t.Fatalf("ModelFrame() error = %v", err)
	}
	if mf.Response == nil {
		t.Fatal("Response = nil")
	}
	if got := strings.Join(mf.Formula.Covariates, ","); got != "age,region" {
		t.Errorf("Covariates = %q, want age,region", got)
	}

	other, _ := frame.ParseFormula("prefs ~ age")
	if _, err := ds.ModelFrame(other, true); !errors.IsMissingResponse(err) {
		t.Errorf("ModelFrame(prefs) error = %v, want MISSING_RESPONSE", err)
	}

	missing, _ := frame.ParseFormula("rankings ~ income")
	if _, err := ds.ModelFrame(missing, false); !errors.IsValidation(err) {
		t.Errorf("ModelFrame(income) error = %v, want validation", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}

	ds, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	again, _ := Decode(strings.NewReader(sample))
	if ds.Fingerprint() != again.Fingerprint() {
		t.Error("fingerprint differs for identical data")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Load(missing) error = nil")
	}
}
