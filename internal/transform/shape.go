// Package transform implements the record reducer and the composable
// transformation pipeline that reshapes resolved study data into
// client-requested views. Every operator is a pure in-memory transform with
// a declared input and output shape.
package transform

import (
	"encoding/json"
	"strings"
)

// Shape states whether a dataset is a flat record array or an array of
// record groups.
type Shape string

const (
	// ShapeFlat is an array of records.
	ShapeFlat Shape = "flat"
	// ShapeGrouped is an array of arrays of records.
	ShapeGrouped Shape = "grouped"
	// ShapeAny marks shape-preserving operators.
	ShapeAny Shape = "any"
)

// Record is one data record flowing through a pipeline.
type Record map[string]interface{}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Lookup resolves a dot-separated path ("a.b.c") against the record,
// descending through nested objects.
func (r Record) Lookup(path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = map[string]interface{}(r)
	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Dataset is a pipeline value: either flat records or grouped records,
// discriminated by Shape.
type Dataset struct {
	Shape  Shape
	Flat   []Record
	Groups [][]Record
}

// NewFlat wraps records as a flat dataset.
func NewFlat(records []Record) Dataset {
	return Dataset{Shape: ShapeFlat, Flat: records}
}

// NewGrouped wraps record groups as a grouped dataset.
func NewGrouped(groups [][]Record) Dataset {
	return Dataset{Shape: ShapeGrouped, Groups: groups}
}

// MarshalJSON serialises the dataset as its underlying array form.
func (d Dataset) MarshalJSON() ([]byte, error) {
	if d.Shape == ShapeGrouped {
		if d.Groups == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(d.Groups)
	}
	if d.Flat == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d.Flat)
}
