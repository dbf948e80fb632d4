// Package cache stores the last known good body of successful reads for offline fallback.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"net/url"
	"strings"
	"time"

	"github.com/kimhsiao/fieldcount/backend/internal/db"
	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/logging"
	"github.com/kimhsiao/fieldcount/backend/internal/models"
)

// Bucket is the store bucket holding cache entries.
var Bucket = models.CacheEntry{}.TableName()

// ResponseCache is a last-write-wins cache keyed by request identity.
// Entries are never evicted implicitly; MaxAge only hides stale entries from Get.
type ResponseCache struct {
	store  *db.Store
	maxAge time.Duration
	now    func() time.Time
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithMaxAge hides entries older than d from Get. Zero disables staleness.
func WithMaxAge(d time.Duration) Option {
	return func(c *ResponseCache) {
		c.maxAge = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		c.now = now
	}
}

// New creates a ResponseCache on store.
func New(store *db.Store, opts ...Option) *ResponseCache {
	c := &ResponseCache{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the cache key for endpoint and params.
// Parameter order does not matter; url.Values.Encode sorts by name.
func Key(endpoint string, params url.Values) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimRight(endpoint, "/")))
	if len(params) > 0 {
		h.Write([]byte{'?'})
		h.Write([]byte(params.Encode()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Put stores body under key, overwriting any previous entry.
func (c *ResponseCache) Put(ctx context.Context, key, endpoint string, body json.RawMessage) error {
	entry := models.CacheEntry{
		Key:      key,
		Endpoint: endpoint,
		Body:     body,
		StoredAt: c.now().UnixNano(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "response body is not valid JSON", err)
	}
	if err := c.store.Put(ctx, Bucket, key, data); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to store cache entry", err)
	}
	return nil
}

// Get returns the entry under key. ok is false when there is no entry or it is stale.
func (c *ResponseCache) Get(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	obj, err := c.store.Get(ctx, Bucket, key)
	if stderrors.Is(err, db.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrStorage, "failed to read cache entry", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(obj.Value, &entry); err != nil {
		logging.Warn("Ignoring unreadable cache entry", map[string]interface{}{"key": key, "error": err.Error()})
		return nil, false, nil
	}

	if c.maxAge > 0 && entry.Age(c.now()) > c.maxAge {
		logging.Debug("Cache entry is stale",
			map[string]interface{}{"key": key, "endpoint": entry.Endpoint, "max_age": c.maxAge.String()})
		return nil, false, nil
	}
	return &entry, true, nil
}

// Purge deletes entries written before olderThan and returns how many were removed.
func (c *ResponseCache) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := c.store.DeleteOlderThan(ctx, Bucket, olderThan)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to purge cache", err)
	}
	if n > 0 {
		logging.Info("Purged cache entries", map[string]interface{}{"removed": n})
	}
	return n, nil
}
