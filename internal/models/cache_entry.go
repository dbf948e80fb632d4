package models

import (
	"encoding/json"
	"time"
)

// CacheEntry is the last known good body of a successful read.
type CacheEntry struct {
	Key      string          `db:"key" json:"key"`
	Endpoint string          `db:"endpoint" json:"endpoint"`
	Body     json.RawMessage `db:"body" json:"body"`
	StoredAt int64           `db:"stored_at" json:"stored_at"` // unix nanoseconds
}

// TableName returns the table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "response_cache"
}

// StoredAtTime returns StoredAt as time.Time.
func (c *CacheEntry) StoredAtTime() time.Time {
	return time.Unix(0, c.StoredAt)
}

// Age returns how long ago the entry was stored, relative to now.
func (c *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(c.StoredAtTime())
}
