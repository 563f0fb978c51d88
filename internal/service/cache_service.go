package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrel-research/rdm-api/internal/models"
	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
)

type cacheEntryRepository interface {
	FindLatestByHash(ctx context.Context, keyHash string) (*models.CacheEntry, error)
	Insert(ctx context.Context, entry *models.CacheEntry) error
	SoftDeleteByStudy(ctx context.Context, studyID string) ([]string, error)
}

type lookasideCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type resultBlobStore interface {
	Put(name string, data []byte) (string, error)
	Get(uri string) ([]byte, error)
}

// QueryShape is the canonical description of a query: everything that can
// influence its result. Two requests with the same shape share one cache
// slot even when issued by different users, because the resolved permission
// patterns are part of the shape.
type QueryShape struct {
	StudyID         string          `json:"study_id"`
	ProjectID       *string         `json:"project_id,omitempty"`
	VersionID       *string         `json:"version_id,omitempty"`
	IncludeDraft    bool            `json:"include_draft"`
	VersionIDs      []string        `json:"version_ids"`
	SubjectPatterns []string        `json:"subject_patterns"`
	VisitPatterns   []string        `json:"visit_patterns"`
	FieldPatterns   []string        `json:"field_patterns"`
	Uploaders       []string        `json:"uploaders,omitempty"`
	FieldIDs        []string        `json:"field_ids,omitempty"`
	Aggregation     json.RawMessage `json:"aggregation,omitempty"`
}

// Key digests the shape into a stable hex key. Map keys are sorted during
// JSON encoding; the uploader and field selectors are sorted here (on copies,
// the caller's slices stay untouched) so reordered selectors digest the same.
func (q QueryShape) Key() string {
	q.Uploaders = sortedCopy(q.Uploaders)
	q.FieldIDs = sortedCopy(q.FieldIDs)
	payload, _ := json.Marshal(q)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(values []string) []string {
	if len(values) == 0 {
		return values
	}
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}

// CacheConfig tunes the result cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// CacheService memoizes computed query results. The durable layer is an
// insert-only entry table pointing at result blobs; Redis sits in front as a
// lookaside holding the blob bytes.
type CacheService struct {
	entries   cacheEntryRepository
	lookaside lookasideCache
	blobs     resultBlobStore
	logger    *zap.Logger
	config    CacheConfig
}

// NewCacheService constructs a CacheService.
func NewCacheService(entries cacheEntryRepository, lookaside lookasideCache, blobs resultBlobStore, logger *zap.Logger, config CacheConfig) *CacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{entries: entries, lookaside: lookaside, blobs: blobs, logger: logger, config: config}
}

func resultKey(hash string) string {
	return "result:" + hash
}

// GetOrCompute returns the cached result for the shape, computing and
// storing it on a miss. force recomputes unconditionally and appends a fresh
// entry; older entries stay behind it and are simply shadowed.
func (s *CacheService) GetOrCompute(ctx context.Context, shape QueryShape, force bool, compute func(ctx context.Context) (interface{}, error)) (json.RawMessage, bool, error) {
	if !s.config.Enabled {
		result, err := compute(ctx)
		if err != nil {
			return nil, false, err
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode result")
		}
		return payload, false, nil
	}

	hash := shape.Key()
	if !force {
		if payload, ok := s.lookup(ctx, hash); ok {
			return payload, true, nil
		}
	}

	result, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode result")
	}

	s.store(ctx, hash, shape, payload)
	return payload, false, nil
}

// lookup tries the lookaside first, then the durable entry table, warming
// the lookaside on a durable hit. Cache failures degrade to a miss.
func (s *CacheService) lookup(ctx context.Context, hash string) (json.RawMessage, bool) {
	var payload json.RawMessage
	err := s.lookaside.Get(ctx, resultKey(hash), &payload)
	if err == nil {
		return payload, true
	}
	if !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("lookaside cache read failed", zap.Error(err))
	}

	entry, err := s.entries.FindLatestByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("cache entry lookup failed", zap.Error(err))
		}
		return nil, false
	}

	data, err := s.blobs.Get(entry.URI)
	if err != nil {
		s.logger.Warn("cached result blob unreadable", zap.String("uri", entry.URI), zap.Error(err))
		return nil, false
	}

	if err := s.lookaside.Set(ctx, resultKey(hash), json.RawMessage(data), s.config.TTL); err != nil {
		s.logger.Warn("lookaside cache warm failed", zap.Error(err))
	}
	return data, true
}

func (s *CacheService) store(ctx context.Context, hash string, shape QueryShape, payload json.RawMessage) {
	uri, err := s.blobs.Put(fmt.Sprintf("results/%s-%s.json", hash[:16], uuid.NewString()), payload)
	if err != nil {
		s.logger.Warn("failed to persist result blob", zap.Error(err))
		return
	}

	keys, _ := json.Marshal(shape)
	var keyMap map[string]interface{}
	_ = json.Unmarshal(keys, &keyMap)

	entry := &models.CacheEntry{
		KeyHash: hash,
		URI:     uri,
		Keys:    models.JSONValue{V: keyMap},
		Status:  models.CacheStatusReady,
	}
	if err := s.entries.Insert(ctx, entry); err != nil {
		s.logger.Warn("failed to insert cache entry", zap.Error(err))
		return
	}

	if err := s.lookaside.Set(ctx, resultKey(hash), payload, s.config.TTL); err != nil {
		s.logger.Warn("lookaside cache write failed", zap.Error(err))
	}
}

// InvalidateStudy retires every cached result derived from the study's data
// and purges the lookaside copies.
func (s *CacheService) InvalidateStudy(ctx context.Context, studyID string) error {
	if !s.config.Enabled {
		return nil
	}

	hashes, err := s.entries.SoftDeleteByStudy(ctx, studyID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to invalidate cache entries")
	}

	keys := make([]string, 0, len(hashes))
	for _, h := range hashes {
		keys = append(keys, resultKey(h))
	}
	if err := s.lookaside.Delete(ctx, keys...); err != nil {
		s.logger.Warn("lookaside cache purge failed", zap.Error(err))
	}
	return nil
}
