package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kestrel-research/rdm-api/internal/models"
)

// RoleRepository handles access-control role persistence.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new role repository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

const roleColumns = "id, study_id, project_id, name, users, permissions, created_at, deleted_at"

// ListForUser returns the non-deleted roles that cover the study for the
// given member and grant the requested operation, in creation order. Roles
// without a project scope apply to every project; a project-scoped query
// also matches them.
func (r *RoleRepository) ListForUser(ctx context.Context, studyID string, projectID *string, userID string, op models.Operation) ([]models.Role, error) {
	query := fmt.Sprintf(`SELECT %s FROM roles
        WHERE study_id = $1
          AND deleted_at IS NULL
          AND $2 = ANY(users)
          AND jsonb_exists(permissions->'data'->'operations', $3)`, roleColumns)
	args := []interface{}{studyID, userID, string(op)}

	if projectID != nil {
		query += fmt.Sprintf(" AND (project_id IS NULL OR project_id = $%d)", len(args)+1)
		args = append(args, *projectID)
	} else {
		query += " AND project_id IS NULL"
	}
	query += " ORDER BY created_at ASC"

	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query, args...); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}
