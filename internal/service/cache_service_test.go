package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-research/rdm-api/internal/models"
	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
)

type cacheEntryRepoStub struct {
	entries []*models.CacheEntry
}

func (r *cacheEntryRepoStub) FindLatestByHash(ctx context.Context, keyHash string) (*models.CacheEntry, error) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].KeyHash == keyHash && r.entries[i].DeletedAt == nil {
			return r.entries[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *cacheEntryRepoStub) Insert(ctx context.Context, entry *models.CacheEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *cacheEntryRepoStub) SoftDeleteByStudy(ctx context.Context, studyID string) ([]string, error) {
	now := time.Now()
	var hashes []string
	for _, entry := range r.entries {
		if entry.DeletedAt != nil {
			continue
		}
		keys, _ := entry.Keys.V.(map[string]interface{})
		if keys["study_id"] == studyID {
			entry.DeletedAt = &now
			hashes = append(hashes, entry.KeyHash)
		}
	}
	return hashes, nil
}

type lookasideStub struct {
	values map[string][]byte
}

func newLookasideStub() *lookasideStub {
	return &lookasideStub{values: map[string][]byte{}}
}

func (l *lookasideStub) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := l.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (l *lookasideStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	l.values[key] = raw
	return nil
}

func (l *lookasideStub) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(l.values, key)
	}
	return nil
}

type blobStoreStub struct {
	blobs map[string][]byte
}

func newBlobStoreStub() *blobStoreStub {
	return &blobStoreStub{blobs: map[string][]byte{}}
}

func (b *blobStoreStub) Put(name string, data []byte) (string, error) {
	uri := "file://" + name
	b.blobs[uri] = data
	return uri, nil
}

func (b *blobStoreStub) Get(uri string) ([]byte, error) {
	data, ok := b.blobs[uri]
	if !ok {
		return nil, fmt.Errorf("no blob at %s", uri)
	}
	return data, nil
}

func testShape(studyID string) QueryShape {
	return QueryShape{
		StudyID:         studyID,
		VersionIDs:      []string{"ver-1"},
		SubjectPatterns: []string{".*"},
		VisitPatterns:   []string{".*"},
		FieldPatterns:   []string{".*"},
	}
}

func TestQueryShapeKeyStable(t *testing.T) {
	a := testShape("study-1")
	b := testShape("study-1")
	b.Uploaders = []string{"u2", "u1"}
	a.Uploaders = []string{"u1", "u2"}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), testShape("study-2").Key())

	pinned := testShape("study-1")
	ver := "ver-1"
	pinned.VersionID = &ver
	assert.NotEqual(t, testShape("study-1").Key(), pinned.Key())
}

func TestQueryShapeKeyFieldOrderInsensitive(t *testing.T) {
	a := testShape("study-1")
	a.FieldIDs = []string{"bp_sys", "hr"}
	b := testShape("study-1")
	b.FieldIDs = []string{"hr", "bp_sys"}

	assert.Equal(t, a.Key(), b.Key())

	c := testShape("study-1")
	c.FieldIDs = []string{"bp_sys"}
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestQueryShapeKeyLeavesSlicesAlone(t *testing.T) {
	shape := testShape("study-1")
	shape.Uploaders = []string{"tech-2", "tech-1"}
	shape.FieldIDs = []string{"hr", "bp_sys"}

	shape.Key()

	assert.Equal(t, []string{"tech-2", "tech-1"}, shape.Uploaders)
	assert.Equal(t, []string{"hr", "bp_sys"}, shape.FieldIDs)
}

func newTestCacheService() (*CacheService, *cacheEntryRepoStub, *lookasideStub, *blobStoreStub) {
	entries := &cacheEntryRepoStub{}
	lookaside := newLookasideStub()
	blobs := newBlobStoreStub()
	svc := NewCacheService(entries, lookaside, blobs, nil, CacheConfig{Enabled: true, TTL: time.Minute})
	return svc, entries, lookaside, blobs
}

func TestGetOrComputeStoresOnMiss(t *testing.T) {
	svc, entries, lookaside, blobs := newTestCacheService()

	calls := 0
	compute := func(ctx context.Context) (interface{}, error) {
		calls++
		return map[string]string{"answer": "42"}, nil
	}

	payload, hit, err := svc.GetOrCompute(context.Background(), testShape("study-1"), false, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.JSONEq(t, `{"answer":"42"}`, string(payload))
	assert.Equal(t, 1, calls)
	require.Len(t, entries.entries, 1)
	assert.Len(t, blobs.blobs, 1)

	// Second call is served without recomputation.
	payload, hit, err = svc.GetOrCompute(context.Background(), testShape("study-1"), false, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.JSONEq(t, `{"answer":"42"}`, string(payload))
	assert.Equal(t, 1, calls)

	// Even with the lookaside cold, the durable entry serves the hit.
	lookaside.values = map[string][]byte{}
	payload, hit, err = svc.GetOrCompute(context.Background(), testShape("study-1"), false, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.JSONEq(t, `{"answer":"42"}`, string(payload))
	assert.Equal(t, 1, calls)
}

func TestGetOrComputeForceAppendsEntry(t *testing.T) {
	svc, entries, _, _ := newTestCacheService()

	n := 0
	compute := func(ctx context.Context) (interface{}, error) {
		n++
		return map[string]int{"run": n}, nil
	}

	_, _, err := svc.GetOrCompute(context.Background(), testShape("study-1"), false, compute)
	require.NoError(t, err)

	payload, hit, err := svc.GetOrCompute(context.Background(), testShape("study-1"), true, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.JSONEq(t, `{"run":2}`, string(payload))
	// Both entries remain; the newer one shadows the older.
	assert.Len(t, entries.entries, 2)

	payload, hit, err = svc.GetOrCompute(context.Background(), testShape("study-1"), false, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.JSONEq(t, `{"run":2}`, string(payload))
}

func TestGetOrComputeDisabled(t *testing.T) {
	entries := &cacheEntryRepoStub{}
	svc := NewCacheService(entries, newLookasideStub(), newBlobStoreStub(), nil, CacheConfig{Enabled: false})

	calls := 0
	compute := func(ctx context.Context) (interface{}, error) {
		calls++
		return "plain", nil
	}

	_, hit, err := svc.GetOrCompute(context.Background(), testShape("study-1"), false, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	_, _, err = svc.GetOrCompute(context.Background(), testShape("study-1"), false, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Empty(t, entries.entries)
}

func TestInvalidateStudy(t *testing.T) {
	svc, entries, lookaside, _ := newTestCacheService()

	compute := func(ctx context.Context) (interface{}, error) { return "x", nil }
	_, _, err := svc.GetOrCompute(context.Background(), testShape("study-1"), false, compute)
	require.NoError(t, err)
	_, _, err = svc.GetOrCompute(context.Background(), testShape("study-2"), false, compute)
	require.NoError(t, err)

	require.NoError(t, svc.InvalidateStudy(context.Background(), "study-1"))
	assert.NotContains(t, lookaside.values, resultKey(testShape("study-1").Key()))
	require.NotNil(t, entries.entries[0].DeletedAt)

	calls := 0
	counting := func(ctx context.Context) (interface{}, error) {
		calls++
		return "y", nil
	}
	_, hit, err := svc.GetOrCompute(context.Background(), testShape("study-1"), false, counting)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, calls)

	// The other study's entry is untouched.
	_, hit, err = svc.GetOrCompute(context.Background(), testShape("study-2"), false, counting)
	require.NoError(t, err)
	assert.True(t, hit)
}
