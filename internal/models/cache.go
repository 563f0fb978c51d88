package models

import "time"

// Cache entry lifecycle states.
const (
	CacheStatusReady = "READY"
)

// CacheEntry memoizes one computed query result. Entries are insert-only: a
// forced refresh writes a new row and leaves the old one to be soft-deleted,
// so concurrent readers never observe a half-written entry.
type CacheEntry struct {
	ID        string     `db:"id" json:"id"`
	KeyHash   string     `db:"key_hash" json:"key_hash"`
	URI       string     `db:"uri" json:"uri"`
	Keys      JSONValue  `db:"keys" json:"keys"`
	Status    string     `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}
