package transform

import (
	"strings"

	"github.com/kestrel-research/rdm-api/internal/models"
)

// RowKeyFunc derives the grouping key the reducer collapses on.
type RowKeyFunc func(models.DataRow) string

// EntryKey groups rows by (subject, visit, field), the standard data-point
// identity.
func EntryKey(row models.DataRow) string {
	return strings.Join([]string{row.SubjectID, row.VisitID, row.FieldID}, groupKeySeparator)
}

// Reduce collapses the append-only event log to the latest surviving row per
// group: within each group the row with the greatest CreatedAt wins, and on
// equal timestamps the later row in input order wins, so re-running reduce
// on its own output returns it unchanged. Tombstone rows are dropped from
// the result unless keepTombstones is set. Output preserves the order in
// which groups first appear.
func Reduce(rows []models.DataRow, key RowKeyFunc, keepTombstones bool) []models.DataRow {
	if key == nil {
		key = EntryKey
	}

	var order []string
	latest := make(map[string]models.DataRow)
	for _, row := range rows {
		k := key(row)
		best, seen := latest[k]
		if !seen {
			order = append(order, k)
			latest[k] = row
			continue
		}
		if !row.CreatedAt.Before(best.CreatedAt) {
			latest[k] = row
		}
	}

	out := make([]models.DataRow, 0, len(order))
	for _, k := range order {
		row := latest[k]
		if row.Tombstone() && !keepTombstones {
			continue
		}
		out = append(out, row)
	}
	return out
}

// ReduceFields collapses versioned field definitions to the latest surviving
// definition per field id, mirroring Reduce for the field dictionary.
func ReduceFields(fields []models.Field, keepTombstones bool) []models.Field {
	var order []string
	latest := make(map[string]models.Field)
	for _, field := range fields {
		best, seen := latest[field.FieldID]
		if !seen {
			order = append(order, field.FieldID)
			latest[field.FieldID] = field
			continue
		}
		if !field.CreatedAt.Before(best.CreatedAt) {
			latest[field.FieldID] = field
		}
	}

	out := make([]models.Field, 0, len(order))
	for _, k := range order {
		field := latest[k]
		if field.DeletedAt != nil && !keepTombstones {
			continue
		}
		out = append(out, field)
	}
	return out
}
