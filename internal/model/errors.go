package model

import "fmt"

// SchemaError reports a dataset whose columns do not satisfy the feature spec:
// a required column (including the target) is absent, a column is unknown,
// or the spec itself is malformed.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("schema: column %q: %s", e.Column, e.Reason)
}

// DataFormatError reports a cell that could not be coerced to its declared
// kind. Row is the 1-based data row (header excluded).
type DataFormatError struct {
	Column string
	Row    int
	Value  string
	Err    error
}

func (e *DataFormatError) Error() string {
	msg := fmt.Sprintf("data format: row %d column %q value %q", e.Row, e.Column, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataFormatError) Unwrap() error {
	return e.Err
}
