package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"time"
)

// migration is one versioned schema step. Steps run in order inside a single
// transaction covering the whole pending chain, so a failure anywhere leaves
// the store at the version it started from.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{1, "base tables", applyV1},
	{2, "photo ordering", applyV2},
	{3, "encrypted metadata fields", applyV3},
	{4, "file attributes and counters", applyV4},
	{5, "numeric category ids", applyV5},
	{6, "category join table", applyV6},
	{7, "drop thumb path", applyV7},
	{8, "deletion ledger", applyV8},
}

// TargetSchemaVersion is the schema version this build writes and reads.
const TargetSchemaVersion = 8

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("migrate", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`); err != nil {
		return storageErr("migrate", err)
	}

	var version int
	if err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return storageErr("migrate", err)
	}
	if version > TargetSchemaVersion {
		err = fmt.Errorf("catalog: database schema version %d is newer than supported %d", version, TargetSchemaVersion)
		return err
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		log.Printf("migrate: applying version=%d name=%q", m.version, m.name)
		if err = m.apply(ctx, tx); err != nil {
			err = fmt.Errorf("catalog: migration %d (%s): %w", m.version, m.name, err)
			return err
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)",
			m.version, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return storageErr("migrate", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

func execAll(ctx context.Context, tx *sql.Tx, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func applyV1(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`CREATE TABLE IF NOT EXISTS categories (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS categories_active_name_idx ON categories(name) WHERE active=1`,
		`CREATE TABLE IF NOT EXISTS photos (
			id TEXT PRIMARY KEY,
			source_path TEXT NOT NULL,
			thumb_path TEXT,
			category_id TEXT,
			created_at INTEGER NOT NULL,
			taken_at INTEGER
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS photos_source_path_idx ON photos(source_path)`,
		`CREATE INDEX IF NOT EXISTS photos_category_idx ON photos(category_id)`,
	})
}

func applyV2(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`ALTER TABLE photos ADD COLUMN display_order INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE photos ADD COLUMN is_cover INTEGER NOT NULL DEFAULT 0`,
		`CREATE INDEX IF NOT EXISTS photos_category_order_idx ON photos(category_id, display_order, created_at)`,
	})
}

func applyV3(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`ALTER TABLE photos ADD COLUMN favorite INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE photos ADD COLUMN child_name BLOB`,
		`ALTER TABLE photos ADD COLUMN child_age BLOB`,
		`ALTER TABLE photos ADD COLUMN notes BLOB`,
		`ALTER TABLE photos ADD COLUMN tags BLOB`,
		`ALTER TABLE photos ADD COLUMN milestone BLOB`,
		`ALTER TABLE photos ADD COLUMN location BLOB`,
		`ALTER TABLE photos ADD COLUMN extra BLOB`,
	})
}

func applyV4(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`ALTER TABLE photos ADD COLUMN file_size INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE photos ADD COLUMN width INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE photos ADD COLUMN height INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE photos ADD COLUMN deleted INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE photos ADD COLUMN deleted_at INTEGER`,
		`ALTER TABLE categories ADD COLUMN photo_count INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE categories ADD COLUMN cover_photo_id TEXT`,
		`CREATE INDEX IF NOT EXISTS photos_deleted_idx ON photos(deleted)`,
	})
}

// applyV5 converts category ids from text to integers. Numeric-looking ids
// are cast verbatim so externally recorded numeric ids stay valid;
// non-numeric ids get fresh ids allocated past the current maximum, and
// every photo referencing an old id is rewritten in the same transaction.
// Each remap is logged so external references can be reconciled.
func applyV5(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `CREATE TABLE categories_v5 (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		photo_count INTEGER NOT NULL DEFAULT 0,
		cover_photo_id TEXT
	)`); err != nil {
		return err
	}

	type oldCategory struct {
		id           string
		name         string
		position     int
		active       int
		createdAt    int64
		photoCount   int64
		coverPhotoID sql.NullString
	}
	rows, err := tx.QueryContext(ctx, `
SELECT id, name, position, active, created_at, photo_count, COALESCE(cover_photo_id, '')
FROM categories ORDER BY rowid`)
	if err != nil {
		return err
	}
	var old []oldCategory
	for rows.Next() {
		var c oldCategory
		var cover string
		if err := rows.Scan(&c.id, &c.name, &c.position, &c.active, &c.createdAt, &c.photoCount, &cover); err != nil {
			rows.Close()
			return err
		}
		c.coverPhotoID = sql.NullString{String: cover, Valid: cover != ""}
		old = append(old, c)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	insert := func(newID int64, c oldCategory) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO categories_v5(id, name, position, active, created_at, photo_count, cover_photo_id)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
			newID, c.name, c.position, c.active, c.createdAt, c.photoCount, c.coverPhotoID)
		return err
	}

	var maxID int64
	remap := make(map[string]int64)
	for _, c := range old {
		n, err := strconv.ParseInt(c.id, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		if err := insert(n, c); err != nil {
			return err
		}
		remap[c.id] = n
		if n > maxID {
			maxID = n
		}
	}
	converted := len(remap)
	for _, c := range old {
		if _, ok := remap[c.id]; ok {
			continue
		}
		maxID++
		if err := insert(maxID, c); err != nil {
			return err
		}
		remap[c.id] = maxID
		log.Printf("migrate: v5 remapped category old_id=%q new_id=%d name=%q", c.id, maxID, c.name)
		if _, err := tx.ExecContext(ctx, `UPDATE photos SET category_id=? WHERE category_id=?`, strconv.FormatInt(maxID, 10), c.id); err != nil {
			return err
		}
		converted++
		if converted%500 == 0 {
			log.Printf("migrate: v5 converted rows=%d/%d", converted, len(old))
		}
	}

	return execAll(ctx, tx, []string{
		// Normalize remaining numeric references to integer affinity.
		`UPDATE photos SET category_id=CAST(category_id AS INTEGER) WHERE category_id IS NOT NULL`,
		`DROP TABLE categories`,
		`ALTER TABLE categories_v5 RENAME TO categories`,
		`CREATE UNIQUE INDEX IF NOT EXISTS categories_active_name_idx ON categories(name) WHERE active=1`,
		`CREATE INDEX IF NOT EXISTS categories_position_idx ON categories(position, name)`,
	})
}

func applyV6(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`CREATE TABLE IF NOT EXISTS photo_categories (
			photo_id TEXT NOT NULL,
			category_id INTEGER NOT NULL,
			assigned_at INTEGER NOT NULL,
			is_primary INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (photo_id, category_id)
		)`,
		`CREATE INDEX IF NOT EXISTS photo_categories_category_idx ON photo_categories(category_id)`,
		`ALTER TABLE categories ADD COLUMN icon TEXT`,
		// Seed join rows from the existing home-category references.
		`INSERT OR IGNORE INTO photo_categories(photo_id, category_id, assigned_at, is_primary)
			SELECT id, category_id, created_at, 1 FROM photos WHERE category_id IS NOT NULL`,
	})
}

// applyV7 rebuilds the photos table to drop thumb_path and to change the
// category reference from cascade to set-null. SQLite cannot alter a
// constraint or drop a column of this vintage in place, so the rebuild uses
// the copy-filter-drop-rename pattern inside the chain's transaction.
func applyV7(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`CREATE TABLE photos_v7 (
			id TEXT PRIMARY KEY,
			source_path TEXT NOT NULL,
			category_id INTEGER REFERENCES categories(id) ON DELETE SET NULL,
			display_order INTEGER NOT NULL DEFAULT 0,
			is_cover INTEGER NOT NULL DEFAULT 0,
			favorite INTEGER NOT NULL DEFAULT 0,
			file_size INTEGER NOT NULL DEFAULT 0,
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			taken_at INTEGER,
			deleted INTEGER NOT NULL DEFAULT 0,
			deleted_at INTEGER,
			child_name BLOB,
			child_age BLOB,
			notes BLOB,
			tags BLOB,
			milestone BLOB,
			location BLOB,
			extra BLOB
		)`,
		`INSERT INTO photos_v7 (id, source_path, category_id, display_order, is_cover, favorite,
			file_size, width, height, created_at, taken_at, deleted, deleted_at,
			child_name, child_age, notes, tags, milestone, location, extra)
		SELECT id, source_path, category_id, display_order, is_cover, favorite,
			file_size, width, height, created_at, taken_at, deleted, deleted_at,
			child_name, child_age, notes, tags, milestone, location, extra
		FROM photos`,
		`DROP TABLE photos`,
		`ALTER TABLE photos_v7 RENAME TO photos`,
		`CREATE UNIQUE INDEX IF NOT EXISTS photos_source_path_idx ON photos(source_path)`,
		`CREATE INDEX IF NOT EXISTS photos_category_order_idx ON photos(category_id, display_order, created_at)`,
		`CREATE INDEX IF NOT EXISTS photos_deleted_idx ON photos(deleted)`,
	})
}

func applyV8(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`CREATE TABLE IF NOT EXISTS deletion_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			deleted_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS deletion_records_deleted_at_idx ON deletion_records(deleted_at)`,
		`CREATE TABLE IF NOT EXISTS deletion_archives (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			record_count INTEGER NOT NULL,
			oldest_deleted_at INTEGER,
			newest_deleted_at INTEGER,
			checksum BLOB NOT NULL,
			payload BLOB NOT NULL
		)`,
	})
}
