package model

import (
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Kind classifies how a feature column is encoded.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindCategorical Kind = "categorical"
	KindBinary      Kind = "binary"
)

// Column declares one feature column.
type Column struct {
	Name     string `yaml:"name"`
	Optional bool   `yaml:"optional,omitempty"`
}

// FeatureSpec declares, ahead of loading, which columns a dataset carries and
// how each is encoded. Order within each group is the order of the encoded
// vector.
type FeatureSpec struct {
	Target      string   `yaml:"target"`
	Numeric     []Column `yaml:"numeric"`
	Categorical []Column `yaml:"categorical"`
	Binary      []Column `yaml:"binary"`
	Ignore      []string `yaml:"ignore,omitempty"`
}

// HousingSpec returns the housing dataset spec.
func HousingSpec() FeatureSpec {
	return FeatureSpec{
		Target: "price",
		Numeric: []Column{
			{Name: "square_feet"},
			{Name: "bedrooms"},
			{Name: "bathrooms"},
			{Name: "year_built"},
			{Name: "lot_size", Optional: true},
		},
		Categorical: []Column{
			{Name: "ocean_proximity"},
			{Name: "property_type"},
		},
		Binary: []Column{
			{Name: "has_garage", Optional: true},
			{Name: "has_pool", Optional: true},
		},
	}
}

// LoadFeatureSpec reads a FeatureSpec from a YAML file and validates it.
func LoadFeatureSpec(path string) (FeatureSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FeatureSpec{}, eris.Wrapf(err, "model: read feature spec %s", path)
	}

	var spec FeatureSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return FeatureSpec{}, eris.Wrap(err, "model: parse feature spec")
	}
	if err := spec.Validate(); err != nil {
		return FeatureSpec{}, err
	}
	return spec, nil
}

// Validate checks that the spec names a target, at least one feature, and no
// column twice.
func (s FeatureSpec) Validate() error {
	if strings.TrimSpace(s.Target) == "" {
		return &SchemaError{Reason: "target column not declared"}
	}
	if len(s.Numeric)+len(s.Categorical)+len(s.Binary) == 0 {
		return &SchemaError{Reason: "no feature columns declared"}
	}

	seen := map[string]bool{s.Target: true}
	for _, name := range s.Ignore {
		if seen[name] {
			return &SchemaError{Column: name, Reason: "declared more than once"}
		}
		seen[name] = true
	}
	for _, group := range [][]Column{s.Numeric, s.Categorical, s.Binary} {
		for _, c := range group {
			if strings.TrimSpace(c.Name) == "" {
				return &SchemaError{Reason: "feature column with empty name"}
			}
			if seen[c.Name] {
				return &SchemaError{Column: c.Name, Reason: "declared more than once"}
			}
			seen[c.Name] = true
		}
	}
	return nil
}

// Resolve matches the spec against a source header. It fails on a missing
// target, a missing required feature, an unknown column or a duplicated
// header. Optional features absent from the header are removed from the
// returned spec and their names returned as dropped.
func (s FeatureSpec) Resolve(header []string) (FeatureSpec, []string, error) {
	if err := s.Validate(); err != nil {
		return FeatureSpec{}, nil, err
	}

	present := make(map[string]bool, len(header))
	for _, h := range header {
		name := strings.TrimSpace(h)
		if present[name] {
			return FeatureSpec{}, nil, &SchemaError{Column: name, Reason: "duplicated in header"}
		}
		present[name] = true
	}

	if !present[s.Target] {
		return FeatureSpec{}, nil, &SchemaError{Column: s.Target, Reason: "required target column missing"}
	}

	for _, h := range header {
		name := strings.TrimSpace(h)
		if _, ok := s.KindOf(name); ok || name == s.Target || slices.Contains(s.Ignore, name) {
			continue
		}
		return FeatureSpec{}, nil, &SchemaError{Column: name, Reason: "not declared in feature spec"}
	}

	var dropped []string
	keep := func(cols []Column) ([]Column, error) {
		var out []Column
		for _, c := range cols {
			if present[c.Name] {
				out = append(out, c)
				continue
			}
			if !c.Optional {
				return nil, &SchemaError{Column: c.Name, Reason: "required feature column missing"}
			}
			dropped = append(dropped, c.Name)
		}
		return out, nil
	}

	resolved := FeatureSpec{Target: s.Target, Ignore: slices.Clone(s.Ignore)}
	var err error
	if resolved.Numeric, err = keep(s.Numeric); err != nil {
		return FeatureSpec{}, nil, err
	}
	if resolved.Categorical, err = keep(s.Categorical); err != nil {
		return FeatureSpec{}, nil, err
	}
	if resolved.Binary, err = keep(s.Binary); err != nil {
		return FeatureSpec{}, nil, err
	}
	return resolved, dropped, nil
}

// KindOf reports how the named feature is encoded.
func (s FeatureSpec) KindOf(name string) (Kind, bool) {
	switch {
	case containsColumn(s.Numeric, name):
		return KindNumeric, true
	case containsColumn(s.Categorical, name):
		return KindCategorical, true
	case containsColumn(s.Binary, name):
		return KindBinary, true
	}
	return "", false
}

// NumericNames returns the numeric feature names in spec order.
func (s FeatureSpec) NumericNames() []string { return columnNames(s.Numeric) }

// CategoricalNames returns the categorical feature names in spec order.
func (s FeatureSpec) CategoricalNames() []string { return columnNames(s.Categorical) }

// BinaryNames returns the binary feature names in spec order.
func (s FeatureSpec) BinaryNames() []string { return columnNames(s.Binary) }

func containsColumn(cols []Column, name string) bool {
	return slices.ContainsFunc(cols, func(c Column) bool { return c.Name == name })
}

func columnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
