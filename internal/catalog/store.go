// Package catalog implements the embedded media catalog store: categories,
// photos, their many-to-many association, encrypted metadata fields, and the
// deletion ledger, all in one SQLite database file.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kk-code-lab/photocat/internal/cryptobox"
	"github.com/kk-code-lab/photocat/internal/keystore"
)

// fieldKeySalt binds the derived field key to this store's purpose.
var fieldKeySalt = []byte("photocat/field-key/v1")

// Options configures Open.
type Options struct {
	// Keys supplies the secret material for the field codec. Required.
	Keys keystore.Provider
}

// Store is the catalog database handle. It is safe for concurrent use;
// construct one per database file and pass it by reference.
type Store struct {
	db    *sql.DB
	codec *cryptobox.Codec
	notes notifier
}

// Open opens or creates the catalog database at the given path, applies
// pragmas, runs any pending migrations, and verifies the field codec with a
// canary round-trip. A migration failure rolls back entirely and fails Open.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("catalog: db path required")
	}
	if opts.Keys == nil {
		return nil, errors.New("catalog: key provider required")
	}
	// Pragmas ride the DSN so every pooled connection gets them;
	// busy_timeout in particular is per-connection.
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	ctx := context.Background()
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	secret, err := opts.Keys.Key(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	codec, err := cryptobox.New(secret, fieldKeySalt)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if !codec.Validate() {
		_ = db.Close()
		return nil, ErrCryptoSelfTest
	}
	store.codec = codec
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Flush forces a WAL checkpoint to durably persist changes.
func (s *Store) Flush() error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Codec exposes the field codec for diagnostics (ops verify).
func (s *Store) Codec() *cryptobox.Codec {
	return s.codec
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, storageErr("schema version", err)
	}
	return version, nil
}

// Stats returns catalog-wide counts for diagnostics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	stats.SchemaVersion = version
	row := s.db.QueryRowContext(ctx, `
SELECT
	(SELECT COUNT(*) FROM categories WHERE active=1),
	(SELECT COUNT(*) FROM photos WHERE deleted=0),
	(SELECT COUNT(*) FROM photos WHERE deleted=1),
	(SELECT COUNT(*) FROM deletion_records),
	(SELECT COUNT(*) FROM deletion_archives)`)
	if err := row.Scan(&stats.Categories, &stats.ActivePhotos, &stats.DeletedPhotos, &stats.LedgerRecords, &stats.Archives); err != nil {
		return nil, storageErr("stats", err)
	}
	return stats, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Timestamps are stored as unix milliseconds; zero means absent.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func escapeLike(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
