package model

import "maps"

// Record is one coerced dataset row: feature values keyed by column name plus
// the price target. Fields are unexported so a Record cannot change after the
// loader builds it.
type Record struct {
	numeric     map[string]float64
	categorical map[string]string
	binary      map[string]float64
	price       float64
}

// NewRecord builds a Record from copies of the given maps.
func NewRecord(price float64, numeric map[string]float64, categorical map[string]string, binary map[string]float64) Record {
	return Record{
		numeric:     maps.Clone(numeric),
		categorical: maps.Clone(categorical),
		binary:      maps.Clone(binary),
		price:       price,
	}
}

// Price returns the target value.
func (r Record) Price() float64 { return r.price }

// Numeric returns the numeric value stored under name.
func (r Record) Numeric(name string) (float64, bool) {
	v, ok := r.numeric[name]
	return v, ok
}

// Categorical returns the category label stored under name.
func (r Record) Categorical(name string) (string, bool) {
	v, ok := r.categorical[name]
	return v, ok
}

// Binary returns the 0/1 value stored under name.
func (r Record) Binary(name string) (float64, bool) {
	v, ok := r.binary[name]
	return v, ok
}
