package features

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/housing-model/internal/model"
)

// UnknownCategoryError reports a categorical value that was not in the fitted
// vocabulary.
type UnknownCategoryError struct {
	Feature string
	Value   string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("features: unknown category %q for feature %q", e.Value, e.Feature)
}

// Fit builds a Schema for spec. Numeric mean and std come from train only
// (population std, with 0 replaced by 1). Categorical vocabularies list the
// distinct values of full in first-seen order, so full must be the complete
// dataset in load order.
func Fit(train, full []model.Record, spec model.FeatureSpec) (*Schema, error) {
	if len(train) == 0 {
		return nil, eris.New("features: fit on empty training set")
	}

	s := &Schema{Binary: spec.BinaryNames()}

	for _, name := range spec.NumericNames() {
		var sum float64
		for i, r := range train {
			v, ok := r.Numeric(name)
			if !ok {
				return nil, eris.Errorf("features: training record %d lacks numeric feature %q", i, name)
			}
			sum += v
		}
		mean := sum / float64(len(train))

		var ss float64
		for _, r := range train {
			v, _ := r.Numeric(name)
			d := v - mean
			ss += d * d
		}
		std := math.Sqrt(ss / float64(len(train)))
		if std == 0 {
			std = 1
		}
		s.Numeric = append(s.Numeric, NumericStat{Name: name, Mean: mean, Std: std})
	}

	for _, name := range spec.CategoricalNames() {
		vocab := Vocabulary{Name: name}
		seen := make(map[string]bool)
		for i, r := range full {
			v, ok := r.Categorical(name)
			if !ok {
				return nil, eris.Errorf("features: record %d lacks categorical feature %q", i, name)
			}
			if !seen[v] {
				seen[v] = true
				vocab.Values = append(vocab.Values, v)
			}
		}
		s.Categorical = append(s.Categorical, vocab)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Transform encodes r with s. The vector is laid out as s.FeatureNames().
func Transform(s *Schema, r model.Record) ([]float64, error) {
	out := make([]float64, 0, s.Width())

	for _, n := range s.Numeric {
		v, ok := r.Numeric(n.Name)
		if !ok {
			return nil, eris.Errorf("features: record lacks numeric feature %q", n.Name)
		}
		out = append(out, (v-n.Mean)/n.Std)
	}

	for _, vocab := range s.Categorical {
		v, ok := r.Categorical(vocab.Name)
		if !ok {
			return nil, eris.Errorf("features: record lacks categorical feature %q", vocab.Name)
		}
		idx, ok := vocab.Index(v)
		if !ok {
			return nil, &UnknownCategoryError{Feature: vocab.Name, Value: v}
		}
		block := make([]float64, len(vocab.Values)-1)
		if idx > 0 {
			block[idx-1] = 1
		}
		out = append(out, block...)
	}

	for _, name := range s.Binary {
		v, ok := r.Binary(name)
		if !ok {
			return nil, eris.Errorf("features: record lacks binary feature %q", name)
		}
		out = append(out, v)
	}

	return out, nil
}

// TransformAll encodes every record and collects the price targets.
func TransformAll(s *Schema, records []model.Record) ([][]float64, []float64, error) {
	X := make([][]float64, len(records))
	y := make([]float64, len(records))
	for i, r := range records {
		x, err := Transform(s, r)
		if err != nil {
			return nil, nil, err
		}
		X[i] = x
		y[i] = r.Price()
	}
	return X, y, nil
}
