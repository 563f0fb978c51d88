package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Operation enumerates the data-access operations a role can grant.
type Operation string

const (
	// OperationRead grants read access to resolved data points.
	OperationRead Operation = "READ"
	// OperationWrite grants appending new data points to the event log.
	OperationWrite Operation = "WRITE"
	// OperationDelete grants inserting tombstone rows.
	OperationDelete Operation = "DELETE"
	// OperationPriority grants pinning queries to an explicit data version.
	OperationPriority Operation = "PRIORITY"
)

// DataPermission restricts which (subject, visit, field) triples and which
// uploaders a role exposes. Each list holds regular-expression patterns; a
// concrete id is covered when any pattern in its dimension matches.
type DataPermission struct {
	SubjectIDs   []string    `json:"subject_ids"`
	VisitIDs     []string    `json:"visit_ids"`
	FieldIDs     []string    `json:"field_ids"`
	Uploaders    []string    `json:"uploaders"`
	HasVersioned bool        `json:"has_versioned"`
	Operations   []Operation `json:"operations"`
}

// ManagePermission covers study administration grants.
type ManagePermission struct {
	Own  bool `json:"own"`
	Role bool `json:"role"`
}

// RolePermissions is the jsonb payload persisted on a role row.
type RolePermissions struct {
	Data   DataPermission   `json:"data"`
	Manage ManagePermission `json:"manage"`
}

// Value implements driver.Valuer.
func (p RolePermissions) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *RolePermissions) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported permissions source %T", src)
	}
	return json.Unmarshal(raw, p)
}

// Role grants access to exactly one study, optionally scoped to one project.
// Roles are only ever soft-deleted.
type Role struct {
	ID          string          `db:"id" json:"id"`
	StudyID     string          `db:"study_id" json:"study_id"`
	ProjectID   *string         `db:"project_id" json:"project_id,omitempty"`
	Name        string          `db:"name" json:"name"`
	Users       pq.StringArray  `db:"users" json:"users"`
	Permissions RolePermissions `db:"permissions" json:"permissions"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	DeletedAt   *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Grants reports whether the role's data permission includes the operation.
func (r *Role) Grants(op Operation) bool {
	for _, o := range r.Permissions.Data.Operations {
		if o == op {
			return true
		}
	}
	return false
}
