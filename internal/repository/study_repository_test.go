package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-research/rdm-api/internal/models"
)

func TestStudyRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewStudyRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, current_data_version, created_at FROM studies")).
		WithArgs("study-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "current_data_version", "created_at"}).
			AddRow("study-1", "Hypertension Cohort", 1, time.Now()))

	versions := sqlmock.NewRows([]string{"id", "study_id", "version", "tag", "content_id", "position", "created_at"}).
		AddRow("ver-1", "study-1", "1", nil, "content-1", 0, time.Now()).
		AddRow("ver-2", "study-1", "2", "baseline", "content-2", 1, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM data_versions WHERE study_id = $1 ORDER BY position ASC")).
		WithArgs("study-1").
		WillReturnRows(versions)

	study, err := repo.FindByID(context.Background(), "study-1")
	require.NoError(t, err)
	require.Equal(t, 1, study.CurrentDataVersion)
	require.Len(t, study.DataVersions, 2)
	require.Equal(t, "ver-2", study.DataVersions[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudyRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewStudyRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM studies WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudyRepositoryCreateCheckpoint(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewStudyRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_data_version FROM studies WHERE id = $1 FOR UPDATE")).
		WithArgs("study-1").
		WillReturnRows(sqlmock.NewRows([]string{"current_data_version"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO data_versions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE data_rows SET version_id = $1 WHERE study_id = $2 AND version_id IS NULL")).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE fields SET version_id = $1 WHERE study_id = $2 AND version_id IS NULL")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE studies SET current_data_version = $1 WHERE id = $2")).
		WithArgs(2, "study-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	version := &models.DataVersion{ContentID: "content-3"}
	require.NoError(t, repo.CreateCheckpoint(context.Background(), "study-1", version))
	require.Equal(t, 2, version.Position)
	require.Equal(t, "3", version.Version)
	require.NotEmpty(t, version.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
