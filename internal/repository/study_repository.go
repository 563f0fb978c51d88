package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kestrel-research/rdm-api/internal/models"
)

// StudyRepository handles study and data version persistence.
type StudyRepository struct {
	db *sqlx.DB
}

// NewStudyRepository creates a new study repository.
func NewStudyRepository(db *sqlx.DB) *StudyRepository {
	return &StudyRepository{db: db}
}

// FindByID loads a study together with its ordered version history. It
// returns sql.ErrNoRows when the study does not exist.
func (r *StudyRepository) FindByID(ctx context.Context, id string) (*models.Study, error) {
	var study models.Study
	query := `SELECT id, name, current_data_version, created_at FROM studies WHERE id = $1`
	if err := r.db.GetContext(ctx, &study, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find study: %w", err)
	}

	versionsQuery := `SELECT id, study_id, version, tag, content_id, position, created_at
        FROM data_versions WHERE study_id = $1 ORDER BY position ASC`
	if err := r.db.SelectContext(ctx, &study.DataVersions, versionsQuery, id); err != nil {
		return nil, fmt.Errorf("load data versions: %w", err)
	}
	return &study, nil
}

// CreateCheckpoint appends a new data version and stamps every draft row and
// field with it, in a single transaction. The study row is locked so that
// concurrent checkpoints serialize and positions stay dense.
func (r *StudyRepository) CreateCheckpoint(ctx context.Context, studyID string, version *models.DataVersion) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint: %w", err)
	}
	defer tx.Rollback()

	var current int
	lock := `SELECT current_data_version FROM studies WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &current, lock, studyID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock study: %w", err)
	}

	if version.ID == "" {
		version.ID = uuid.New().String()
	}
	version.StudyID = studyID
	version.Position = current + 1
	if version.Version == "" {
		version.Version = strconv.Itoa(version.Position + 1)
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now()
	}

	insert := `INSERT INTO data_versions (id, study_id, version, tag, content_id, position, created_at)
        VALUES (:id, :study_id, :version, :tag, :content_id, :position, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, version); err != nil {
		return fmt.Errorf("insert data version: %w", err)
	}

	stampRows := `UPDATE data_rows SET version_id = $1 WHERE study_id = $2 AND version_id IS NULL`
	if _, err := tx.ExecContext(ctx, stampRows, version.ID, studyID); err != nil {
		return fmt.Errorf("stamp draft rows: %w", err)
	}
	stampFields := `UPDATE fields SET version_id = $1 WHERE study_id = $2 AND version_id IS NULL`
	if _, err := tx.ExecContext(ctx, stampFields, version.ID, studyID); err != nil {
		return fmt.Errorf("stamp draft fields: %w", err)
	}

	advance := `UPDATE studies SET current_data_version = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, advance, version.Position, studyID); err != nil {
		return fmt.Errorf("advance study version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}
