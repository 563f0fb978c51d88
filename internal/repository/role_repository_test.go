package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-research/rdm-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestRoleRepositoryListForUser(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRoleRepository(db)
	perms := `{"data":{"subject_ids":[".*"],"visit_ids":[".*"],"field_ids":[".*"],"operations":["READ"]}}`
	rows := sqlmock.NewRows([]string{"id", "study_id", "project_id", "name", "users", "permissions", "created_at", "deleted_at"}).
		AddRow("role-1", "study-1", nil, "investigator", "{user-1}", perms, time.Now(), nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, study_id, project_id, name, users, permissions, created_at, deleted_at FROM roles")).
		WithArgs("study-1", "user-1", "READ").
		WillReturnRows(rows)

	roles, err := repo.ListForUser(context.Background(), "study-1", nil, "user-1", models.OperationRead)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.Equal(t, "investigator", roles[0].Name)
	require.True(t, roles[0].Grants(models.OperationRead))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRepositoryListForUserProjectScope(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRoleRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("project_id IS NULL OR project_id = $4")).
		WithArgs("study-1", "user-1", "WRITE", "proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "study_id", "project_id", "name", "users", "permissions", "created_at", "deleted_at"}))

	projectID := "proj-1"
	roles, err := repo.ListForUser(context.Background(), "study-1", &projectID, "user-1", models.OperationWrite)
	require.NoError(t, err)
	require.Empty(t, roles)
	require.NoError(t, mock.ExpectationsWereMet())
}
