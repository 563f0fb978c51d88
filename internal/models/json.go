package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONValue wraps an arbitrary JSON document stored in a jsonb column.
type JSONValue struct {
	V interface{}
}

// Value implements driver.Valuer.
func (j JSONValue) Value() (driver.Value, error) {
	if j.V == nil {
		return nil, nil
	}
	return json.Marshal(j.V)
}

// Scan implements sql.Scanner.
func (j *JSONValue) Scan(src interface{}) error {
	if src == nil {
		j.V = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source %T", src)
	}
	return json.Unmarshal(raw, &j.V)
}

// MarshalJSON serialises the wrapped value directly.
func (j JSONValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.V)
}

// UnmarshalJSON deserialises directly into the wrapped value.
func (j *JSONValue) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &j.V)
}
