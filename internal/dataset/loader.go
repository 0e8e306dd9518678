package dataset

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/housing-model/internal/model"
)

// Load reads src and coerces its rows against spec. The returned spec is the
// one resolved against the source header, with absent optional columns
// removed; downstream stages must use it rather than the input spec.
func Load(ctx context.Context, src Source, spec model.FeatureSpec) ([]model.Record, model.FeatureSpec, error) {
	t, err := src.Read(ctx)
	if err != nil {
		return nil, model.FeatureSpec{}, eris.Wrap(err, "dataset: read source")
	}
	return Coerce(t, spec)
}

// Coerce turns a raw table into records. Numeric columns parse as float64,
// binary columns accept only true/false, categorical values are kept as-is.
// Any other content fails with a *model.DataFormatError naming the cell.
func Coerce(t *Table, spec model.FeatureSpec) ([]model.Record, model.FeatureSpec, error) {
	resolved, dropped, err := spec.Resolve(t.Header)
	if err != nil {
		return nil, model.FeatureSpec{}, err
	}
	if len(dropped) > 0 {
		zap.L().Info("dataset: optional columns absent", zap.Strings("columns", dropped))
	}
	if len(t.Rows) == 0 {
		return nil, model.FeatureSpec{}, &model.SchemaError{Reason: "dataset has no data rows"}
	}

	idx := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		idx[strings.TrimSpace(h)] = i
	}

	records := make([]model.Record, 0, len(t.Rows))
	for r, row := range t.Rows {
		rowNum := r + 1
		if len(row) != len(t.Header) {
			return nil, model.FeatureSpec{}, &model.DataFormatError{
				Row: rowNum,
				Err: eris.Errorf("expected %d fields, got %d", len(t.Header), len(row)),
			}
		}

		cell := func(name string) string { return strings.TrimSpace(row[idx[name]]) }

		price, err := parseNumber(cell(resolved.Target))
		if err != nil {
			return nil, model.FeatureSpec{}, &model.DataFormatError{Column: resolved.Target, Row: rowNum, Value: cell(resolved.Target), Err: err}
		}

		numeric := make(map[string]float64, len(resolved.Numeric))
		for _, name := range resolved.NumericNames() {
			v, err := parseNumber(cell(name))
			if err != nil {
				return nil, model.FeatureSpec{}, &model.DataFormatError{Column: name, Row: rowNum, Value: cell(name), Err: err}
			}
			numeric[name] = v
		}

		categorical := make(map[string]string, len(resolved.Categorical))
		for _, name := range resolved.CategoricalNames() {
			v := cell(name)
			if v == "" {
				return nil, model.FeatureSpec{}, &model.DataFormatError{Column: name, Row: rowNum, Value: v, Err: errEmpty}
			}
			categorical[name] = v
		}

		binary := make(map[string]float64, len(resolved.Binary))
		for _, name := range resolved.BinaryNames() {
			v, err := ParseBinary(cell(name))
			if err != nil {
				return nil, model.FeatureSpec{}, &model.DataFormatError{Column: name, Row: rowNum, Value: cell(name), Err: err}
			}
			binary[name] = v
		}

		records = append(records, model.NewRecord(price, numeric, categorical, binary))
	}

	return records, resolved, nil
}

var (
	errEmpty    = errors.New("empty value")
	errNotBool  = errors.New(`expected "true" or "false"`)
	errNotFloat = errors.New("not a number")
	errNotReal  = errors.New("not a finite decimal number")
)

// ParseBinary maps exactly "true" and "false" (surrounding space ignored) to
// 1 and 0.
func ParseBinary(s string) (float64, error) {
	switch strings.TrimSpace(s) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	case "":
		return 0, errEmpty
	}
	return 0, errNotBool
}

func parseNumber(s string) (float64, error) {
	if s == "" {
		return 0, errEmpty
	}
	if strings.ContainsAny(s, "xX") {
		return 0, errNotReal
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errNotFloat
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotReal
	}
	return v, nil
}
