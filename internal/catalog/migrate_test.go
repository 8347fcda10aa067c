package catalog

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// seedLegacyV4 builds a database frozen at schema version 4, the last
// version with text category ids, and loads it with one numeric-id and one
// non-numeric-id category plus photos referencing both.
func seedLegacyV4(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open legacy db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE TABLE schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		t.Fatalf("schema_migrations: %v", err)
	}
	for _, m := range migrations[:4] {
		if err := m.apply(ctx, tx); err != nil {
			t.Fatalf("apply v%d: %v", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)",
			m.version, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			t.Fatalf("record v%d: %v", m.version, err)
		}
	}

	now := time.Now().UTC().UnixMilli()
	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO categories(id, name, position, active, created_at) VALUES(?, ?, ?, 1, ?)`, []any{"7", "Family", 1, now}},
		{`INSERT INTO categories(id, name, position, active, created_at) VALUES(?, ?, ?, 1, ?)`, []any{"trips-2019", "Trips", 2, now}},
		{`INSERT INTO photos(id, source_path, thumb_path, category_id, created_at, display_order) VALUES(?, ?, ?, ?, ?, 0)`,
			[]any{"p1", "/pics/a.jpg", "/thumbs/a.jpg", "7", now}},
		{`INSERT INTO photos(id, source_path, thumb_path, category_id, created_at, display_order) VALUES(?, ?, ?, ?, ?, 1)`,
			[]any{"p2", "/pics/b.jpg", "/thumbs/b.jpg", "trips-2019", now}},
		{`INSERT INTO photos(id, source_path, thumb_path, category_id, created_at, display_order) VALUES(?, ?, NULL, NULL, ?, 2)`,
			[]any{"p3", "/pics/c.jpg", now}},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.sql, s.args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestMigrateLegacyV4Chain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")
	seedLegacyV4(t, path)

	store, err := Open(path, Options{Keys: testKeys()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != TargetSchemaVersion {
		t.Fatalf("schema version = %d, want %d", version, TargetSchemaVersion)
	}

	// Numeric id survives verbatim.
	family, err := store.CategoryByID(ctx, 7)
	if err != nil {
		t.Fatalf("CategoryByID: %v", err)
	}
	if family == nil || family.Name != "Family" {
		t.Fatalf("expected Family at id 7, got %+v", family)
	}

	// Non-numeric id got a fresh id past the max and its photos follow.
	trips, err := store.CategoryByName(ctx, "Trips")
	if err != nil {
		t.Fatalf("CategoryByName: %v", err)
	}
	if trips == nil {
		t.Fatalf("Trips category missing after migration")
	}
	if trips.ID <= 7 {
		t.Fatalf("remapped id = %d, want > 7", trips.ID)
	}
	p2, err := store.PhotoByID(ctx, "p2")
	if err != nil {
		t.Fatalf("PhotoByID p2: %v", err)
	}
	if p2.CategoryID != trips.ID {
		t.Fatalf("p2 category = %d, want %d", p2.CategoryID, trips.ID)
	}
	p3, err := store.PhotoByID(ctx, "p3")
	if err != nil {
		t.Fatalf("PhotoByID p3: %v", err)
	}
	if p3.CategoryID != 0 {
		t.Fatalf("p3 should stay uncategorized, got %d", p3.CategoryID)
	}

	// v6 seeded primary join rows from the home references.
	assocs, err := store.CategoriesForPhoto(ctx, "p1")
	if err != nil {
		t.Fatalf("CategoriesForPhoto: %v", err)
	}
	if len(assocs) != 1 || assocs[0].CategoryID != 7 || !assocs[0].Primary {
		t.Fatalf("unexpected p1 associations: %+v", assocs)
	}

	// v7 dropped thumb_path.
	if _, err := store.db.Query("SELECT thumb_path FROM photos"); err == nil {
		t.Fatalf("thumb_path column should be gone")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")
	seedLegacyV4(t, path)

	store, err := Open(path, Options{Keys: testKeys()})
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	ctx := context.Background()
	before, err := store.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Re-running the chain against the target version is a no-op.
	store, err = Open(path, Options{Keys: testKeys()})
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer store.Close()
	after, err := store.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("category count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("category changed: %+v -> %+v", before[i], after[i])
		}
	}
	version, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != TargetSchemaVersion {
		t.Fatalf("schema version = %d", version)
	}
}

func TestMigrateFailureRollsBackChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")
	seedLegacyV4(t, path)

	// Fail v6 after v5 has run; the whole chain must roll back to v4.
	orig := migrations[5]
	migrations[5].apply = func(ctx context.Context, tx *sql.Tx) error {
		return errors.New("disk full")
	}
	defer func() { migrations[5] = orig }()

	if _, err := Open(path, Options{Keys: testKeys()}); err == nil {
		t.Fatalf("expected open to fail on the injected migration error")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	defer db.Close()
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != 4 {
		t.Fatalf("schema version = %d, want 4 after rollback", version)
	}
	// The v5 rebuild rolled back too: the text id is untouched.
	var id string
	if err := db.QueryRow("SELECT id FROM categories WHERE name='Trips'").Scan(&id); err != nil {
		t.Fatalf("read category: %v", err)
	}
	if id != "trips-2019" {
		t.Fatalf("category id = %q, want trips-2019", id)
	}

	// With the chain restored the same database migrates cleanly.
	migrations[5] = orig
	store, err := Open(path, Options{Keys: testKeys()})
	if err != nil {
		t.Fatalf("Open after restore: %v", err)
	}
	defer store.Close()
	got, err := store.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if got != TargetSchemaVersion {
		t.Fatalf("schema version = %d, want %d", got, TargetSchemaVersion)
	}
}

func TestMigrateRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")
	store, err := Open(path, Options{Keys: testKeys()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.db.Exec("INSERT INTO schema_migrations(version, applied_at) VALUES(99, 'future')"); err != nil {
		t.Fatalf("seed future version: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := Open(path, Options{Keys: testKeys()}); err == nil {
		t.Fatalf("expected open to fail against newer schema")
	}
}
