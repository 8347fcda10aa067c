package catalog

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"
)

// archivedRecord is the serialized form inside an archive payload.
type archivedRecord struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Snapshot   json.RawMessage `json:"snapshot"`
	DeletedAt  int64           `json:"deleted_at"`
}

// recordDeletion appends a ledger entry inside the caller's transaction so
// the record commits or rolls back together with the deletion it documents.
func recordDeletion(ctx context.Context, tx *sql.Tx, entityType, entityID string, snapshot any, at time.Time) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO deletion_records(entity_type, entity_id, snapshot, deleted_at)
VALUES(?, ?, ?, ?)`, entityType, entityID, string(raw), toMillis(at))
	return err
}

// DeletionRecords returns the un-compacted ledger, oldest first.
func (s *Store) DeletionRecords(ctx context.Context) ([]DeletionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, entity_type, entity_id, snapshot, deleted_at
FROM deletion_records ORDER BY id`)
	if err != nil {
		return nil, storageErr("deletion records", err)
	}
	defer rows.Close()
	var out []DeletionRecord
	for rows.Next() {
		var r DeletionRecord
		var snapshot string
		var deletedAt int64
		if err := rows.Scan(&r.ID, &r.EntityType, &r.EntityID, &snapshot, &deletedAt); err != nil {
			return nil, storageErr("deletion records", err)
		}
		r.Snapshot = []byte(snapshot)
		r.DeletedAt = fromMillis(deletedAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("deletion records", err)
	}
	return out, nil
}

// Archives returns all compacted archives, oldest first, payloads included.
func (s *Store) Archives(ctx context.Context) ([]Archive, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, created_at, record_count, COALESCE(oldest_deleted_at, 0), COALESCE(newest_deleted_at, 0), checksum, payload
FROM deletion_archives ORDER BY id`)
	if err != nil {
		return nil, storageErr("archives", err)
	}
	defer rows.Close()
	var out []Archive
	for rows.Next() {
		var a Archive
		var createdAt, oldest, newest int64
		if err := rows.Scan(&a.ID, &createdAt, &a.RecordCount, &oldest, &newest, &a.Checksum, &a.Payload); err != nil {
			return nil, storageErr("archives", err)
		}
		a.CreatedAt = fromMillis(createdAt)
		a.OldestAt = fromMillis(oldest)
		a.NewestAt = fromMillis(newest)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("archives", err)
	}
	return out, nil
}

// ArchiveRecords verifies the archive checksum, decompresses the payload,
// and reconstructs the original deletion records.
func (s *Store) ArchiveRecords(a *Archive) ([]DeletionRecord, error) {
	sum := blake3.Sum256(a.Payload)
	if !bytes.Equal(sum[:], a.Checksum) {
		return nil, fmt.Errorf("catalog: archive %d checksum mismatch", a.ID)
	}
	zr, err := gzip.NewReader(bytes.NewReader(a.Payload))
	if err != nil {
		return nil, fmt.Errorf("catalog: archive %d payload: %w", a.ID, err)
	}
	raw, err := io.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: archive %d payload: %w", a.ID, err)
	}
	var packed []archivedRecord
	if err := json.Unmarshal(raw, &packed); err != nil {
		return nil, fmt.Errorf("catalog: archive %d payload: %w", a.ID, err)
	}
	out := make([]DeletionRecord, 0, len(packed))
	for _, r := range packed {
		out = append(out, DeletionRecord{
			ID:         r.ID,
			EntityType: r.EntityType,
			EntityID:   r.EntityID,
			Snapshot:   []byte(r.Snapshot),
			DeletedAt:  fromMillis(r.DeletedAt),
		})
	}
	return out, nil
}

// CompactLedger folds all deletion records older than the cutoff into one
// compressed archive and removes the originals, atomically: a crash leaves
// either the pre- or post-compaction state, never both.
func (s *Store) CompactLedger(ctx context.Context, olderThan time.Time) (*CompactStats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("compact ledger", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cutoff := toMillis(olderThan)
	var rows *sql.Rows
	rows, err = tx.QueryContext(ctx, `
SELECT id, entity_type, entity_id, snapshot, deleted_at
FROM deletion_records
WHERE deleted_at < ?
ORDER BY id`, cutoff)
	if err != nil {
		return nil, storageErr("compact ledger", err)
	}
	var packed []archivedRecord
	var maxID, oldest, newest int64
	for rows.Next() {
		var r archivedRecord
		var snapshot string
		if err = rows.Scan(&r.ID, &r.EntityType, &r.EntityID, &snapshot, &r.DeletedAt); err != nil {
			rows.Close()
			return nil, storageErr("compact ledger", err)
		}
		r.Snapshot = json.RawMessage(snapshot)
		packed = append(packed, r)
		if r.ID > maxID {
			maxID = r.ID
		}
		if oldest == 0 || r.DeletedAt < oldest {
			oldest = r.DeletedAt
		}
		if r.DeletedAt > newest {
			newest = r.DeletedAt
		}
	}
	if err = rows.Close(); err != nil {
		return nil, storageErr("compact ledger", err)
	}
	if len(packed) == 0 {
		_ = tx.Rollback()
		return &CompactStats{}, nil
	}

	raw, err := json.Marshal(packed)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err = zw.Write(raw); err != nil {
		return nil, err
	}
	if err = zw.Close(); err != nil {
		return nil, err
	}
	payload := buf.Bytes()
	sum := blake3.Sum256(payload)

	var res sql.Result
	res, err = tx.ExecContext(ctx, `
INSERT INTO deletion_archives(created_at, record_count, oldest_deleted_at, newest_deleted_at, checksum, payload)
VALUES(?, ?, ?, ?, ?, ?)`,
		toMillis(nowUTC()), len(packed), oldest, newest, sum[:], payload)
	if err != nil {
		return nil, storageErr("compact ledger", err)
	}
	archiveID, err := res.LastInsertId()
	if err != nil {
		return nil, storageErr("compact ledger", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM deletion_records WHERE deleted_at < ? AND id <= ?", cutoff, maxID); err != nil {
		return nil, storageErr("compact ledger", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, storageErr("compact ledger", err)
	}
	s.notes.publish(TableDeletionRecords, TableDeletionArchives)
	return &CompactStats{Records: len(packed), ArchiveID: archiveID, PayloadBytes: len(payload)}, nil
}
