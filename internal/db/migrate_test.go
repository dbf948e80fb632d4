// Package db tests for database migration management.
package db

import (
	"database/sql"
	"testing"
	"testing/fstest"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"m/V1__create_a.up.sql":   {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"m/V1__create_a.down.sql": {Data: []byte("DROP TABLE a;")},
		"m/V2__create_b.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"m/V2__create_b.down.sql": {Data: []byte("DROP TABLE b;")},
		"m/README.md":             {Data: []byte("ignored")},
		"m/Vx__broken.up.sql":     {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n == 1
}

// TestMigrator_Up verifies migrations are applied in version order and recorded.
func TestMigrator_Up(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations(), "m")

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	if !tableExists(t, db, "a") || !tableExists(t, db, "b") {
		t.Fatal("expected tables a and b")
	}

	version, err := m.CurrentVersion()
	if err != nil || version != 2 {
		t.Errorf("CurrentVersion() = %d, %v; want 2", version, err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 2 || applied[0].Description != "create_a" || len(applied[0].Checksum) != 64 {
		t.Errorf("unexpected applied migrations: %+v", applied)
	}

	// Second run is a no-op.
	if err := m.Up(); err != nil {
		t.Fatalf("second Up() failed: %v", err)
	}
}

// TestMigrator_Down verifies the latest migration is rolled back.
func TestMigrator_Down(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations(), "m")
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.Up(); err != nil {
		t.Fatal(err)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	if tableExists(t, db, "b") {
		t.Error("table b should be dropped")
	}
	if !tableExists(t, db, "a") {
		t.Error("table a should remain")
	}

	version, _ := m.CurrentVersion()
	if version != 1 {
		t.Errorf("CurrentVersion() = %d, want 1", version)
	}
}

// TestMigrator_DownEmpty verifies rollback with nothing applied fails.
func TestMigrator_DownEmpty(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations(), "m")
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.Down(); err == nil {
		t.Error("Down() expected error with no migrations applied")
	}
}

// TestParseVersion covers filename parsing.
func TestParseVersion(t *testing.T) {
	tests := []struct {
		name string
		want int
		ok   bool
	}{
		{"V1__init.up.sql", 1, true},
		{"V12__add_index.up.sql", 12, true},
		{"V0__zero.up.sql", 0, false},
		{"init.up.sql", 0, false},
		{"Vx__bad.up.sql", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseVersion(tt.name, ".up.sql")
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseVersion(%q) = %d, %v; want %d, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}
