// Package features fits and applies the numeric encoding of housing records:
// standardised numeric columns, reference-dropped one-hot categorical
// columns and pass-through binary columns.
package features

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"
)

// NumericStat holds the standardisation parameters of one numeric feature.
type NumericStat struct {
	Name string  `json:"name"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Vocabulary lists the categories of one categorical feature in first-seen
// order. Values[0] is the reference category and gets no output column.
type Vocabulary struct {
	Name   string
	Values []string
}

// Reference returns the dropped reference category.
func (v Vocabulary) Reference() string {
	if len(v.Values) == 0 {
		return ""
	}
	return v.Values[0]
}

// Index returns the 0-based position of value in the vocabulary.
func (v Vocabulary) Index(value string) (int, bool) {
	i := slices.Index(v.Values, value)
	return i, i >= 0
}

// Schema is the frozen description of how records become vectors.
type Schema struct {
	Numeric     []NumericStat
	Categorical []Vocabulary
	Binary      []string
}

// FeatureNames returns the encoded vector's column names: numeric names,
// then "<feature>_<category>" for every non-reference category, then binary
// names.
func (s *Schema) FeatureNames() []string {
	names := make([]string, 0, s.Width())
	for _, n := range s.Numeric {
		names = append(names, n.Name)
	}
	for _, v := range s.Categorical {
		if len(v.Values) == 0 {
			continue
		}
		for _, c := range v.Values[1:] {
			names = append(names, v.Name+"_"+c)
		}
	}
	return append(names, s.Binary...)
}

// Width returns len(FeatureNames()).
func (s *Schema) Width() int {
	w := len(s.Numeric) + len(s.Binary)
	for _, v := range s.Categorical {
		if len(v.Values) > 0 {
			w += len(v.Values) - 1
		}
	}
	return w
}

// FeatureMap returns category -> index for every categorical feature, with
// the reference category at index 0.
func (s *Schema) FeatureMap() map[string]map[string]int {
	out := make(map[string]map[string]int, len(s.Categorical))
	for _, v := range s.Categorical {
		m := make(map[string]int, len(v.Values))
		for i, c := range v.Values {
			m[c] = i
		}
		out[v.Name] = m
	}
	return out
}

// Validate reports a schema that cannot encode anything reliably: no
// features, a categorical feature without vocabulary, a duplicated category,
// a non-positive or non-finite std, or colliding output column names.
func (s *Schema) Validate() error {
	if s == nil {
		return eris.New("features: schema is nil")
	}
	if len(s.Numeric)+len(s.Categorical)+len(s.Binary) == 0 {
		return eris.New("features: schema has no features")
	}
	for _, n := range s.Numeric {
		if !(n.Std > 0) || math.IsInf(n.Std, 0) || math.IsNaN(n.Mean) || math.IsInf(n.Mean, 0) {
			return eris.Errorf("features: numeric feature %q has invalid stats (mean=%v std=%v)", n.Name, n.Mean, n.Std)
		}
	}
	for _, v := range s.Categorical {
		if len(v.Values) == 0 {
			return eris.Errorf("features: categorical feature %q has empty vocabulary", v.Name)
		}
		seen := make(map[string]bool, len(v.Values))
		for _, c := range v.Values {
			if seen[c] {
				return eris.Errorf("features: categorical feature %q repeats category %q", v.Name, c)
			}
			seen[c] = true
		}
	}
	names := s.FeatureNames()
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return eris.Errorf("features: duplicate output column %q", n)
		}
		seen[n] = true
	}
	return nil
}
