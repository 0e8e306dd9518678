package features

import (
	"encoding/json"
	"io"
	"os"
	"slices"

	"github.com/rotisserie/eris"
)

// CategoricalDoc is the serialised form of a Vocabulary: the reference
// category kept apart from the categories that get output columns.
type CategoricalDoc struct {
	Name       string   `json:"name"`
	Reference  string   `json:"reference"`
	Categories []string `json:"categories"`
}

// Document is the on-disk form of a Schema consumed by the serving side.
type Document struct {
	FeatureNames []string         `json:"feature_names"`
	Numeric      []NumericStat    `json:"numeric"`
	Categorical  []CategoricalDoc `json:"categorical"`
	Binary       []string         `json:"binary"`
}

// Document converts s to its serialised form.
func (s *Schema) Document() Document {
	doc := Document{
		FeatureNames: s.FeatureNames(),
		Numeric:      slices.Clone(s.Numeric),
		Binary:       slices.Clone(s.Binary),
	}
	for _, v := range s.Categorical {
		cats := []string{}
		if len(v.Values) > 1 {
			cats = slices.Clone(v.Values[1:])
		}
		doc.Categorical = append(doc.Categorical, CategoricalDoc{
			Name:       v.Name,
			Reference:  v.Reference(),
			Categories: cats,
		})
	}
	if doc.Numeric == nil {
		doc.Numeric = []NumericStat{}
	}
	if doc.Categorical == nil {
		doc.Categorical = []CategoricalDoc{}
	}
	if doc.Binary == nil {
		doc.Binary = []string{}
	}
	return doc
}

// Schema rebuilds the Schema a Document describes. It rejects documents whose
// recorded feature_names disagree with the ones the stats imply.
func (d Document) Schema() (*Schema, error) {
	s := &Schema{
		Numeric: slices.Clone(d.Numeric),
		Binary:  slices.Clone(d.Binary),
	}
	for _, c := range d.Categorical {
		s.Categorical = append(s.Categorical, Vocabulary{
			Name:   c.Name,
			Values: append([]string{c.Reference}, c.Categories...),
		})
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if !slices.Equal(s.FeatureNames(), d.FeatureNames) {
		return nil, eris.New("features: feature_names do not match schema contents")
	}
	return s, nil
}

// WriteSchema writes s as indented JSON.
func WriteSchema(w io.Writer, s *Schema) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(s.Document()), "features: encode schema")
}

// ReadSchema decodes a schema document.
func ReadSchema(r io.Reader) (*Schema, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "features: decode schema")
	}
	return doc.Schema()
}

// LoadSchema reads a schema document from path.
func LoadSchema(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "features: open schema %s", path)
	}
	defer f.Close()
	return ReadSchema(f)
}
