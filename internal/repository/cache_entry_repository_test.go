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

func TestCacheEntryRepositoryFindLatestByHash(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCacheEntryRepository(db)
	rows := sqlmock.NewRows([]string{"id", "key_hash", "uri", "keys", "status", "created_at", "deleted_at"}).
		AddRow("entry-2", "abc123", "file://results/entry-2.json", `{"study_id":"study-1"}`, "READY", time.Now(), nil)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT 1")).
		WithArgs("abc123", models.CacheStatusReady).
		WillReturnRows(rows)

	entry, err := repo.FindLatestByHash(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, "file://results/entry-2.json", entry.URI)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheEntryRepositoryFindLatestByHashMiss(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCacheEntryRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM cache_entries")).
		WithArgs("nope", models.CacheStatusReady).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindLatestByHash(context.Background(), "nope")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheEntryRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCacheEntryRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cache_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.CacheEntry{
		KeyHash: "abc123",
		URI:     "file://results/entry-3.json",
		Keys:    models.JSONValue{V: map[string]interface{}{"study_id": "study-1"}},
		Status:  models.CacheStatusReady,
	}
	require.NoError(t, repo.Insert(context.Background(), entry))
	require.NotEmpty(t, entry.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheEntryRepositorySoftDeleteByStudy(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCacheEntryRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("keys->>'study_id' = $2")).
		WithArgs(sqlmock.AnyArg(), "study-1").
		WillReturnRows(sqlmock.NewRows([]string{"key_hash"}).AddRow("abc123").AddRow("def456"))

	hashes, err := repo.SoftDeleteByStudy(context.Background(), "study-1")
	require.NoError(t, err)
	require.Equal(t, []string{"abc123", "def456"}, hashes)
	require.NoError(t, mock.ExpectationsWereMet())
}
