package cache

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/fieldcount/backend/internal/db"
	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newStore(t *testing.T, clock *fakeClock) (*db.Store, *db.DB) {
	t.Helper()
	database, err := db.OpenAndMigrate(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return db.NewStore(database.DB).WithClock(clock.Now), database
}

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("/locations/7/counts", url.Values{"page": {"2"}, "sku": {"A-1"}})
	b := Key("/locations/7/counts/", url.Values{"sku": {"A-1"}, "page": {"2"}})
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Key("/locations/7/counts", url.Values{"page": {"3"}, "sku": {"A-1"}}))
	assert.NotEqual(t, Key("/locations/7/counts", nil), a)
	assert.Len(t, a, 64)
}

func TestPutGetLastWriteWins(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	store, _ := newStore(t, clock)
	c := New(store, WithClock(clock.Now))

	key := Key("/items", nil)

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, key, "/items", json.RawMessage(`[1]`)))
	clock.Advance(time.Minute)
	require.NoError(t, c.Put(ctx, key, "/items", json.RawMessage(`[1,2]`)))

	entry, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[1,2]`, string(entry.Body))
	assert.Equal(t, "/items", entry.Endpoint)
	assert.True(t, clock.now.Equal(entry.StoredAtTime()))
}

func TestNoExpiryByDefault(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	store, _ := newStore(t, clock)
	c := New(store, WithClock(clock.Now))

	require.NoError(t, c.Put(ctx, "k", "/items", json.RawMessage(`{}`)))
	clock.Advance(365 * 24 * time.Hour)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMaxAgeHidesStaleEntries(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	store, _ := newStore(t, clock)
	c := New(store, WithClock(clock.Now), WithMaxAge(time.Hour))

	require.NoError(t, c.Put(ctx, "k", "/items", json.RawMessage(`{}`)))

	clock.Advance(59 * time.Minute)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	store, _ := newStore(t, clock)
	c := New(store, WithClock(clock.Now))

	require.NoError(t, c.Put(ctx, "old", "/a", json.RawMessage(`1`)))
	clock.Advance(2 * time.Hour)
	require.NoError(t, c.Put(ctx, "new", "/b", json.RawMessage(`2`)))

	n, err := c.Purge(ctx, clock.now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, ok, _ := c.Get(ctx, "old")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "new")
	assert.True(t, ok)
}

func TestUnavailableStore(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store, database := newStore(t, clock)
	c := New(store)
	require.NoError(t, database.Close())

	err := c.Put(context.Background(), "k", "/a", json.RawMessage(`1`))
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))

	_, _, err = c.Get(context.Background(), "k")
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))
}
