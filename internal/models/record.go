package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kestrel-research/rdm-api/internal/formula"
)

// DataRow is one entry of the append-only event log. Rows are never mutated
// or physically removed: a logical delete inserts a fresh row with a
// tombstone marker, and committing a checkpoint stamps draft rows in place.
type DataRow struct {
	ID         string     `db:"id" json:"id"`
	StudyID    string     `db:"study_id" json:"study_id"`
	SubjectID  string     `db:"subject_id" json:"subject_id"`
	VisitID    string     `db:"visit_id" json:"visit_id"`
	FieldID    string     `db:"field_id" json:"field_id"`
	Value      JSONValue  `db:"value" json:"value"`
	VersionID  *string    `db:"version_id" json:"version_id,omitempty"`
	UploaderID string     `db:"uploader_id" json:"uploader_id"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	DeletedAt  *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Tombstone reports whether the row represents a logical delete.
func (r *DataRow) Tombstone() bool {
	return r.DeletedAt != nil
}

// Draft reports whether the row is not yet part of any committed checkpoint.
func (r *DataRow) Draft() bool {
	return r.VersionID == nil
}

// FieldVerifiers is the OR-of-AND verifier structure persisted on a field:
// a value passes when at least one inner list has all verifiers pass.
type FieldVerifiers [][]formula.Verifier

// Value implements driver.Valuer.
func (v FieldVerifiers) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner.
func (v *FieldVerifiers) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	var raw []byte
	switch s := src.(type) {
	case []byte:
		raw = s
	case string:
		raw = []byte(s)
	default:
		return fmt.Errorf("unsupported verifiers source %T", src)
	}
	return json.Unmarshal(raw, v)
}

// Field is a versioned field definition. Fields follow the same
// append-and-stamp lifecycle as data rows.
type Field struct {
	ID                 string         `db:"id" json:"id"`
	StudyID            string         `db:"study_id" json:"study_id"`
	FieldID            string         `db:"field_id" json:"field_id"`
	FieldName          string         `db:"field_name" json:"field_name"`
	DataType           string         `db:"data_type" json:"data_type"`
	CategoricalOptions pq.StringArray `db:"categorical_options" json:"categorical_options,omitempty"`
	Verifiers          FieldVerifiers `db:"verifiers" json:"verifiers,omitempty"`
	Properties         JSONValue      `db:"properties" json:"properties,omitempty"`
	VersionID          *string        `db:"version_id" json:"version_id,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	DeletedAt          *time.Time     `db:"deleted_at" json:"deleted_at,omitempty"`
}
