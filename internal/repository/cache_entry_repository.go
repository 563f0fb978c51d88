package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kestrel-research/rdm-api/internal/models"
)

// CacheEntryRepository handles the durable result cache index. Entries are
// insert-only; invalidation soft-deletes.
type CacheEntryRepository struct {
	db *sqlx.DB
}

// NewCacheEntryRepository creates a new cache entry repository.
func NewCacheEntryRepository(db *sqlx.DB) *CacheEntryRepository {
	return &CacheEntryRepository{db: db}
}

// FindLatestByHash returns the newest live entry for a key hash, or
// sql.ErrNoRows when none exists.
func (r *CacheEntryRepository) FindLatestByHash(ctx context.Context, keyHash string) (*models.CacheEntry, error) {
	query := `SELECT id, key_hash, uri, keys, status, created_at, deleted_at FROM cache_entries
        WHERE key_hash = $1 AND status = $2 AND deleted_at IS NULL
        ORDER BY created_at DESC LIMIT 1`

	var entry models.CacheEntry
	if err := r.db.GetContext(ctx, &entry, query, keyHash, models.CacheStatusReady); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find cache entry: %w", err)
	}
	return &entry, nil
}

// Insert records a freshly computed result. Older entries for the same hash
// are left in place; FindLatestByHash picks the newest.
func (r *CacheEntryRepository) Insert(ctx context.Context, entry *models.CacheEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	insert := `INSERT INTO cache_entries (id, key_hash, uri, keys, status, created_at)
        VALUES (:id, :key_hash, :uri, :keys, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, insert, entry); err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

// SoftDeleteByStudy retires every live entry whose query keys reference the
// study and returns the affected key hashes so the fast layer can be purged.
func (r *CacheEntryRepository) SoftDeleteByStudy(ctx context.Context, studyID string) ([]string, error) {
	query := `UPDATE cache_entries SET deleted_at = $1
        WHERE deleted_at IS NULL AND keys->>'study_id' = $2
        RETURNING key_hash`

	var hashes []string
	if err := r.db.SelectContext(ctx, &hashes, query, time.Now(), studyID); err != nil {
		return nil, fmt.Errorf("invalidate cache entries: %w", err)
	}
	return hashes, nil
}
