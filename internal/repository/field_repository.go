package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kestrel-research/rdm-api/internal/models"
)

// FieldRepository handles the versioned field dictionary.
type FieldRepository struct {
	db *sqlx.DB
}

// NewFieldRepository creates a new field repository.
func NewFieldRepository(db *sqlx.DB) *FieldRepository {
	return &FieldRepository{db: db}
}

const fieldColumns = "id, study_id, field_id, field_name, data_type, categorical_options, verifiers, properties, version_id, created_at, deleted_at"

// ListByStudy returns dictionary entries for the given version set, oldest
// first. Draft entries are included only when includeDraft is set.
func (r *FieldRepository) ListByStudy(ctx context.Context, studyID string, versionIDs []string, includeDraft bool) ([]models.Field, error) {
	query := fmt.Sprintf(`SELECT %s FROM fields
        WHERE study_id = $1
          AND (version_id = ANY($2) OR ($3 AND version_id IS NULL))
        ORDER BY created_at ASC`, fieldColumns)

	var fields []models.Field
	if err := r.db.SelectContext(ctx, &fields, query, studyID, pq.Array(versionIDs), includeDraft); err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	return fields, nil
}

// Append inserts a new dictionary entry as a draft.
func (r *FieldRepository) Append(ctx context.Context, field *models.Field) error {
	if field.ID == "" {
		field.ID = uuid.New().String()
	}
	if field.CreatedAt.IsZero() {
		field.CreatedAt = time.Now()
	}

	insert := `INSERT INTO fields (id, study_id, field_id, field_name, data_type, categorical_options, verifiers, properties, version_id, created_at, deleted_at)
        VALUES (:id, :study_id, :field_id, :field_name, :data_type, :categorical_options, :verifiers, :properties, :version_id, :created_at, :deleted_at)`
	if _, err := r.db.NamedExecContext(ctx, insert, field); err != nil {
		return fmt.Errorf("append field: %w", err)
	}
	return nil
}
