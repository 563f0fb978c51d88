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

// DataRowRepository handles the append-only data row log.
type DataRowRepository struct {
	db *sqlx.DB
}

// NewDataRowRepository creates a new data row repository.
func NewDataRowRepository(db *sqlx.DB) *DataRowRepository {
	return &DataRowRepository{db: db}
}

const dataRowColumns = "id, study_id, subject_id, visit_id, field_id, value, version_id, uploader_id, created_at, deleted_at"

// ListByStudy returns all rows belonging to the given version set, oldest
// first so that reduction sees history in insertion order. Draft rows
// (version_id IS NULL) are included only when includeDraft is set. An
// optional field filter narrows the scan for field-scoped queries.
func (r *DataRowRepository) ListByStudy(ctx context.Context, studyID string, versionIDs []string, includeDraft bool, fieldIDs []string) ([]models.DataRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM data_rows
        WHERE study_id = $1
          AND (version_id = ANY($2) OR ($3 AND version_id IS NULL))`, dataRowColumns)
	args := []interface{}{studyID, pq.Array(versionIDs), includeDraft}

	if len(fieldIDs) > 0 {
		query += fmt.Sprintf(" AND field_id = ANY($%d)", len(args)+1)
		args = append(args, pq.Array(fieldIDs))
	}
	query += " ORDER BY created_at ASC"

	var rows []models.DataRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list data rows: %w", err)
	}
	return rows, nil
}

// Append inserts a batch of rows as new log entries. Rows are never updated
// in place; corrections and deletions are expressed as newer entries for the
// same (subject, visit, field) key.
func (r *DataRowRepository) Append(ctx context.Context, rows []models.DataRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	insert := `INSERT INTO data_rows (id, study_id, subject_id, visit_id, field_id, value, version_id, uploader_id, created_at, deleted_at)
        VALUES (:id, :study_id, :subject_id, :visit_id, :field_id, :value, :version_id, :uploader_id, :created_at, :deleted_at)`

	now := time.Now()
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.New().String()
		}
		if rows[i].CreatedAt.IsZero() {
			rows[i].CreatedAt = now
		}
		if _, err := tx.NamedExecContext(ctx, insert, &rows[i]); err != nil {
			return fmt.Errorf("append data row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}
