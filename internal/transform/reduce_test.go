package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-research/rdm-api/internal/models"
)

func row(subject, visit, field string, value interface{}, createdAt int64) models.DataRow {
	return models.DataRow{
		ID:        subject + visit + field,
		SubjectID: subject,
		VisitID:   visit,
		FieldID:   field,
		Value:     models.JSONValue{V: value},
		CreatedAt: time.Unix(createdAt, 0),
	}
}

func TestReduceLatestWins(t *testing.T) {
	rows := []models.DataRow{
		row("A", "0", "F", "old", 10),
		row("A", "0", "F", "newest", 20),
		row("A", "0", "F", "middle", 15),
	}

	out := Reduce(rows, nil, false)
	require.Len(t, out, 1)
	assert.Equal(t, "newest", out[0].Value.V)

	// Array order must not matter.
	reversed := []models.DataRow{rows[2], rows[1], rows[0]}
	out = Reduce(reversed, nil, false)
	require.Len(t, out, 1)
	assert.Equal(t, "newest", out[0].Value.V)
}

func TestReduceIdempotent(t *testing.T) {
	rows := []models.DataRow{
		row("A", "0", "F", "1", 100),
		row("A", "0", "F", "2", 200),
		row("B", "0", "F", "3", 100),
		row("A", "1", "G", "4", 100),
	}

	once := Reduce(rows, nil, false)
	twice := Reduce(once, nil, false)
	assert.Equal(t, once, twice)
}

func TestReduceTieBreakLaterInputWins(t *testing.T) {
	first := row("A", "0", "F", "first", 100)
	second := row("A", "0", "F", "second", 100)

	out := Reduce([]models.DataRow{first, second}, nil, false)
	require.Len(t, out, 1)
	assert.Equal(t, "second", out[0].Value.V)
}

func TestReduceDropsTombstones(t *testing.T) {
	deletedAt := time.Unix(300, 0)
	tombstone := row("A", "0", "F", nil, 200)
	tombstone.DeletedAt = &deletedAt

	rows := []models.DataRow{
		row("A", "0", "F", "alive", 100),
		tombstone,
		row("B", "0", "F", "other", 100),
	}

	out := Reduce(rows, nil, false)
	require.Len(t, out, 1)
	assert.Equal(t, "other", out[0].Value.V)

	// Callers that ask for tombstones see the deletion marker.
	withTombstones := Reduce(rows, nil, true)
	require.Len(t, withTombstones, 2)
	assert.True(t, withTombstones[0].Tombstone())
}

func TestReduceCustomKey(t *testing.T) {
	rows := []models.DataRow{
		row("A", "0", "F", "1", 100),
		row("A", "1", "F", "2", 200),
	}

	// Grouping by subject+field alone collapses across visits.
	bySubjectField := func(r models.DataRow) string { return r.SubjectID + "|" + r.FieldID }
	out := Reduce(rows, bySubjectField, false)
	require.Len(t, out, 1)
	assert.Equal(t, "2", out[0].Value.V)
}

func TestReduceFieldsLatestDefinition(t *testing.T) {
	fields := []models.Field{
		{FieldID: "F", FieldName: "old name", CreatedAt: time.Unix(100, 0)},
		{FieldID: "F", FieldName: "new name", CreatedAt: time.Unix(200, 0)},
		{FieldID: "G", FieldName: "other", CreatedAt: time.Unix(100, 0)},
	}

	out := ReduceFields(fields, false)
	require.Len(t, out, 2)
	assert.Equal(t, "new name", out[0].FieldName)
	assert.Equal(t, "other", out[1].FieldName)
}

func TestReduceOutputPreservesGroupOrder(t *testing.T) {
	rows := []models.DataRow{
		row("B", "0", "F", "b", 100),
		row("A", "0", "F", "a", 100),
		row("B", "0", "F", "b2", 200),
	}

	out := Reduce(rows, nil, false)
	require.Len(t, out, 2)
	assert.Equal(t, "B", out[0].SubjectID)
	assert.Equal(t, "A", out[1].SubjectID)
}
