package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = stderrors.New("object not found")

// Object is one stored value with its insertion position.
type Object struct {
	Bucket    string
	Key       string
	Value     []byte
	Seq       int64
	UpdatedAt int64 // unix nanoseconds
}

// Store is a bucketed key-value store over the objects table.
// Each method is a single statement and therefore atomic on its own.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a Store on an open, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock returns a copy of the store stamping writes with now.
func (s *Store) WithClock(now func() time.Time) *Store {
	return &Store{db: s.db, now: now}
}

// Insert stores a new object and fails if the key already exists in the bucket.
// The returned sequence number orders objects by insertion.
func (s *Store) Insert(ctx context.Context, bucket, key string, value []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO objects (bucket, key, value, updated_at) VALUES (?, ?, ?, ?)`,
		bucket, key, value, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert %s/%s: %w", bucket, key, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s/%s: %w", bucket, key, err)
	}
	return seq, nil
}

// Put stores value under key, overwriting any existing value.
func (s *Store) Put(ctx context.Context, bucket, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO objects (bucket, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (bucket, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		bucket, key, value, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get returns the object stored under key or ErrNotFound.
func (s *Store) Get(ctx context.Context, bucket, key string) (*Object, error) {
	obj := &Object{Bucket: bucket, Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT value, seq, updated_at FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key).Scan(&obj.Value, &obj.Seq, &obj.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return obj, nil
}

// GetAll returns every object in the bucket in insertion order.
func (s *Store) GetAll(ctx context.Context, bucket string) ([]*Object, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, seq, updated_at FROM objects WHERE bucket = ? ORDER BY seq`, bucket)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	defer rows.Close()

	var objects []*Object
	for rows.Next() {
		obj := &Object{Bucket: bucket}
		if err := rows.Scan(&obj.Key, &obj.Value, &obj.Seq, &obj.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list %s: %w", bucket, err)
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	return objects, nil
}

// Delete removes the object under key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM objects WHERE bucket = ? AND key = ?`, bucket, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// DeleteOlderThan removes objects in the bucket last written before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, bucket string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM objects WHERE bucket = ? AND updated_at < ?`, bucket, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", bucket, err)
	}
	return res.RowsAffected()
}

// Count returns the number of objects in the bucket.
func (s *Store) Count(ctx context.Context, bucket string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM objects WHERE bucket = ?`, bucket).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", bucket, err)
	}
	return n, nil
}
