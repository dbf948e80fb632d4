// Package db provides the durable on-device store backing the action log and response cache.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "fieldcount.db"

//go:embed migrations/*.sql
var migrationFS embed.FS

// DB wraps the sql.DB with offline-store configuration.
type DB struct {
	*sql.DB
	path string
}

// Open opens the SQLite database in dataDir.
// The database is opened with:
// - WAL mode so readers do not block the single writer
// - synchronous=FULL so an acknowledged append survives power loss
// - a busy timeout for interleaved drain/append writers
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, FileName)

	// modernc.org/sqlite is pure Go, no CGO
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return &DB{DB: db, path: dbPath}, nil
}

// OpenAndMigrate opens the database and applies the embedded migrations.
func OpenAndMigrate(dataDir string) (*DB, error) {
	database, err := Open(dataDir)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Migrate applies all pending embedded migrations.
func (db *DB) Migrate() error {
	m := NewMigrator(db.DB, migrationFS, "migrations")
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// SetMaxPageCount caps the database size in pages. Writes past the cap fail with SQLITE_FULL,
// which is how a device storage quota shows up to the store.
func (db *DB) SetMaxPageCount(pages int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA max_page_count=%d;", pages))
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
