package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// photoColumns is the basic read path: it never touches the encrypted blob
// columns, so gallery-grid reads pay no decryption cost.
const photoColumns = `id, source_path, COALESCE(category_id, 0), display_order, favorite, is_cover,
	file_size, width, height, created_at, COALESCE(taken_at, 0), deleted, COALESCE(deleted_at, 0)`

func scanPhoto(row interface{ Scan(...any) error }) (*Photo, error) {
	var p Photo
	var favorite, isCover, deleted int
	var createdAt, takenAt, deletedAt int64
	err := row.Scan(&p.ID, &p.SourcePath, &p.CategoryID, &p.DisplayOrder, &favorite, &isCover,
		&p.FileSize, &p.Width, &p.Height, &createdAt, &takenAt, &deleted, &deletedAt)
	if err != nil {
		return nil, err
	}
	p.Favorite = favorite != 0
	p.IsCover = isCover != 0
	p.Deleted = deleted != 0
	p.CreatedAt = fromMillis(createdAt)
	p.TakenAt = fromMillis(takenAt)
	p.DeletedAt = fromMillis(deletedAt)
	return &p, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullableMillis(ms int64) any {
	if ms == 0 {
		return nil
	}
	return ms
}

func validatePhoto(p *Photo) error {
	if p == nil || p.ID == "" {
		return errors.New("catalog: photo id required")
	}
	if p.SourcePath == "" {
		return errors.New("catalog: photo source path required")
	}
	return nil
}

func insertPhotoTx(ctx context.Context, tx *sql.Tx, p *Photo) error {
	var clash int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM photos WHERE source_path=?", p.SourcePath).Scan(&clash); err != nil {
		return err
	}
	if clash > 0 {
		return ErrDuplicatePath
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = nowUTC()
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO photos(id, source_path, category_id, display_order, favorite, is_cover,
	file_size, width, height, created_at, taken_at, deleted, deleted_at)
VALUES(?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, 0, NULL)`,
		p.ID, p.SourcePath, nullableID(p.CategoryID), p.DisplayOrder, boolToInt(p.Favorite),
		p.FileSize, p.Width, p.Height, toMillis(p.CreatedAt), nullableMillis(toMillis(p.TakenAt))); err != nil {
		return err
	}
	if p.CategoryID != 0 {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO photo_categories(photo_id, category_id, assigned_at, is_primary)
VALUES(?, ?, ?, 1)`, p.ID, p.CategoryID, toMillis(p.CreatedAt)); err != nil {
			return err
		}
		// Stored counter; it only tracks inserts and is reconciled by
		// RecalcPhotoCounts.
		if _, err := tx.ExecContext(ctx, "UPDATE categories SET photo_count=photo_count+1 WHERE id=?", p.CategoryID); err != nil {
			return err
		}
	}
	return nil
}

// InsertPhoto adds one photo. A source path already in the catalog is
// rejected with ErrDuplicatePath before anything is written.
func (s *Store) InsertPhoto(ctx context.Context, p *Photo) error {
	return s.InsertPhotos(ctx, []*Photo{p})
}

// InsertPhotos adds a batch of photos in one transaction, all or nothing.
func (s *Store) InsertPhotos(ctx context.Context, photos []*Photo) error {
	if len(photos) == 0 {
		return nil
	}
	for _, p := range photos {
		if err := validatePhoto(p); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("insert photos", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, p := range photos {
		if err = insertPhotoTx(ctx, tx, p); err != nil {
			if errors.Is(err, ErrDuplicatePath) {
				return err
			}
			return storageErr("insert photos", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return storageErr("insert photos", err)
	}
	s.notes.publish(TablePhotos, TablePhotoCategories, TableCategories)
	return nil
}

// PhotoByID returns the photo or nil when absent. Encrypted fields are not
// read; see PhotoWithMetadata.
func (s *Store) PhotoByID(ctx context.Context, id string) (*Photo, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+photoColumns+" FROM photos WHERE id=?", id)
	p, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("photo by id", err)
	}
	return p, nil
}

// PhotoByPath returns the photo with the given source path, or nil.
func (s *Store) PhotoByPath(ctx context.Context, path string) (*Photo, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+photoColumns+" FROM photos WHERE source_path=?", path)
	p, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("photo by path", err)
	}
	return p, nil
}

func (s *Store) queryPhotos(ctx context.Context, op, query string, args ...any) ([]Photo, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()
	var out []Photo
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// ListPhotos returns non-deleted photos of a category ordered by display
// order then creation time, paginated by offset/limit. limit<=0 means a
// default page of 1000. Category zero lists uncategorized photos, which
// store a NULL home reference.
func (s *Store) ListPhotos(ctx context.Context, categoryID int64, offset, limit int) ([]Photo, error) {
	if limit <= 0 {
		limit = 1000
	}
	if categoryID == 0 {
		return s.queryPhotos(ctx, "list photos", `
SELECT `+photoColumns+` FROM photos
WHERE category_id IS NULL AND deleted=0
ORDER BY display_order, created_at, id
LIMIT ? OFFSET ?`, limit, offset)
	}
	return s.queryPhotos(ctx, "list photos", `
SELECT `+photoColumns+` FROM photos
WHERE category_id=? AND deleted=0
ORDER BY display_order, created_at, id
LIMIT ? OFFSET ?`, categoryID, limit, offset)
}

// ListPhotosByCategories returns non-deleted photos whose home category is
// any of the given ones.
func (s *Store) ListPhotosByCategories(ctx context.Context, categoryIDs []int64, offset, limit int) ([]Photo, error) {
	if len(categoryIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1000
	}
	placeholders := strings.Repeat("?,", len(categoryIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(categoryIDs)+2)
	for _, id := range categoryIDs {
		args = append(args, id)
	}
	args = append(args, limit, offset)
	return s.queryPhotos(ctx, "list photos by categories", `
SELECT `+photoColumns+` FROM photos
WHERE category_id IN (`+placeholders+`) AND deleted=0
ORDER BY category_id, display_order, created_at, id
LIMIT ? OFFSET ?`, args...)
}

// ListFavorites returns non-deleted favorite photos.
func (s *Store) ListFavorites(ctx context.Context, offset, limit int) ([]Photo, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.queryPhotos(ctx, "list favorites", `
SELECT `+photoColumns+` FROM photos
WHERE favorite=1 AND deleted=0
ORDER BY display_order, created_at, id
LIMIT ? OFFSET ?`, limit, offset)
}

// SearchPhotos returns photos matching the query predicates. The scan honors
// ctx cancellation so an abandoned search stops promptly.
func (s *Store) SearchPhotos(ctx context.Context, q PhotoQuery) ([]Photo, error) {
	where := []string{"1=1"}
	var args []any
	if !q.IncludeDeleted {
		where = append(where, "deleted=0")
	}
	if q.CategoryID != 0 {
		where = append(where, "category_id=?")
		args = append(args, q.CategoryID)
	}
	if q.PathPattern != "" {
		where = append(where, `source_path LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(q.PathPattern)+"%")
	}
	if !q.TakenAfter.IsZero() {
		where = append(where, "taken_at>=?")
		args = append(args, toMillis(q.TakenAfter))
	}
	if !q.TakenBefore.IsZero() {
		where = append(where, "taken_at<?")
		args = append(args, toMillis(q.TakenBefore))
	}
	if q.MinSize > 0 {
		where = append(where, "file_size>=?")
		args = append(args, q.MinSize)
	}
	if q.MaxSize > 0 {
		where = append(where, "file_size<=?")
		args = append(args, q.MaxSize)
	}
	if q.FavoritesOnly {
		where = append(where, "favorite=1")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit, q.Offset)
	return s.queryPhotos(ctx, "search photos", fmt.Sprintf(`
SELECT %s FROM photos
WHERE %s
ORDER BY display_order, created_at, id
LIMIT ? OFFSET ?`, photoColumns, strings.Join(where, " AND ")), args...)
}

// UpdatePhoto updates the mutable plain fields of a photo. Changing the
// source path onto an existing one is rejected with ErrDuplicatePath. A
// changed home category moves the primary association row in the same
// transaction so the join stays in step with the home reference.
func (s *Store) UpdatePhoto(ctx context.Context, p *Photo) error {
	if err := validatePhoto(p); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("update photo", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	var oldCategory int64
	err = tx.QueryRowContext(ctx, "SELECT COALESCE(category_id, 0) FROM photos WHERE id=?", p.ID).Scan(&oldCategory)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		_ = tx.Rollback()
		return nil
	}
	if err != nil {
		return storageErr("update photo", err)
	}
	var clash int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM photos WHERE source_path=? AND id<>?", p.SourcePath, p.ID).Scan(&clash); err != nil {
		return storageErr("update photo", err)
	}
	if clash > 0 {
		err = ErrDuplicatePath
		return err
	}
	_, err = tx.ExecContext(ctx, `
UPDATE photos SET source_path=?, category_id=?, display_order=?, favorite=?,
	file_size=?, width=?, height=?, taken_at=?
WHERE id=?`,
		p.SourcePath, nullableID(p.CategoryID), p.DisplayOrder, boolToInt(p.Favorite),
		p.FileSize, p.Width, p.Height, nullableMillis(toMillis(p.TakenAt)), p.ID)
	if err != nil {
		return storageErr("update photo", err)
	}
	moved := oldCategory != p.CategoryID
	if moved {
		if _, err = tx.ExecContext(ctx, "DELETE FROM photo_categories WHERE photo_id=? AND is_primary=1", p.ID); err != nil {
			return storageErr("update photo", err)
		}
		if p.CategoryID != 0 {
			if _, err = tx.ExecContext(ctx, `
INSERT INTO photo_categories(photo_id, category_id, assigned_at, is_primary)
VALUES(?, ?, ?, 1)
ON CONFLICT(photo_id, category_id) DO UPDATE SET is_primary=1`, p.ID, p.CategoryID, toMillis(nowUTC())); err != nil {
				return storageErr("update photo", err)
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return storageErr("update photo", err)
	}
	if moved {
		s.notes.publish(TablePhotos, TablePhotoCategories)
	} else {
		s.notes.publish(TablePhotos)
	}
	return nil
}

// SoftDeletePhoto flags the photo deleted and writes its ledger record in
// the same transaction. Already-deleted and unknown ids are no-ops.
func (s *Store) SoftDeletePhoto(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("soft delete photo", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, "SELECT "+photoColumns+" FROM photos WHERE id=? AND deleted=0", id)
	var snapshot *Photo
	snapshot, err = scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		_ = tx.Rollback()
		return nil
	}
	if err != nil {
		return storageErr("soft delete photo", err)
	}

	now := nowUTC()
	if _, err = tx.ExecContext(ctx, "UPDATE photos SET deleted=1, deleted_at=?, is_cover=0 WHERE id=?", toMillis(now), id); err != nil {
		return storageErr("soft delete photo", err)
	}
	if _, err = tx.ExecContext(ctx, "UPDATE categories SET cover_photo_id=NULL WHERE cover_photo_id=?", id); err != nil {
		return storageErr("soft delete photo", err)
	}
	if err = recordDeletion(ctx, tx, EntityPhoto, id, snapshot, now); err != nil {
		return storageErr("soft delete photo", err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr("soft delete photo", err)
	}
	s.notes.publish(TablePhotos, TableCategories, TableDeletionRecords)
	return nil
}

// HardDeletePhoto removes the row, its association rows, and any cover
// references, writing the ledger record in the same transaction.
func (s *Store) HardDeletePhoto(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("hard delete photo", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, "SELECT "+photoColumns+" FROM photos WHERE id=?", id)
	var snapshot *Photo
	snapshot, err = scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		_ = tx.Rollback()
		return nil
	}
	if err != nil {
		return storageErr("hard delete photo", err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM photos WHERE id=?", id); err != nil {
		return storageErr("hard delete photo", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM photo_categories WHERE photo_id=?", id); err != nil {
		return storageErr("hard delete photo", err)
	}
	if _, err = tx.ExecContext(ctx, "UPDATE categories SET cover_photo_id=NULL WHERE cover_photo_id=?", id); err != nil {
		return storageErr("hard delete photo", err)
	}
	if err = recordDeletion(ctx, tx, EntityPhoto, id, snapshot, nowUTC()); err != nil {
		return storageErr("hard delete photo", err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr("hard delete photo", err)
	}
	s.notes.publish(TablePhotos, TablePhotoCategories, TableCategories, TableDeletionRecords)
	return nil
}

// ReassignCategory moves one photo to a new home category; zero moves it to
// uncategorized. The association rows are kept in step.
func (s *Store) ReassignCategory(ctx context.Context, photoID string, categoryID int64) error {
	return s.ReassignCategories(ctx, []string{photoID}, categoryID)
}

// ReassignCategories moves a batch of photos to a new home category in one
// transaction.
func (s *Store) ReassignCategories(ctx context.Context, photoIDs []string, categoryID int64) error {
	if len(photoIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("reassign category", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	now := toMillis(nowUTC())
	for _, photoID := range photoIDs {
		if _, err = tx.ExecContext(ctx, "UPDATE photos SET category_id=?, is_cover=0 WHERE id=?", nullableID(categoryID), photoID); err != nil {
			return storageErr("reassign category", err)
		}
		if _, err = tx.ExecContext(ctx, "DELETE FROM photo_categories WHERE photo_id=? AND is_primary=1", photoID); err != nil {
			return storageErr("reassign category", err)
		}
		if categoryID != 0 {
			if _, err = tx.ExecContext(ctx, `
INSERT INTO photo_categories(photo_id, category_id, assigned_at, is_primary)
VALUES(?, ?, ?, 1)
ON CONFLICT(photo_id, category_id) DO UPDATE SET is_primary=1`, photoID, categoryID, now); err != nil {
				return storageErr("reassign category", err)
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return storageErr("reassign category", err)
	}
	s.notes.publish(TablePhotos, TablePhotoCategories)
	return nil
}

// SetCoverPhoto makes the photo the cover of its category: the previous
// cover flag for that category is cleared and the category's cover
// reference updated, all in one transaction.
func (s *Store) SetCoverPhoto(ctx context.Context, categoryID int64, photoID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("set cover photo", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM photos WHERE id=? AND deleted=0", photoID).Scan(&exists); err != nil {
		return storageErr("set cover photo", err)
	}
	if exists == 0 {
		err = fmt.Errorf("catalog: photo %s not found for cover", photoID)
		return err
	}
	if _, err = tx.ExecContext(ctx, "UPDATE photos SET is_cover=0 WHERE category_id=? AND is_cover=1", categoryID); err != nil {
		return storageErr("set cover photo", err)
	}
	if _, err = tx.ExecContext(ctx, "UPDATE photos SET is_cover=1 WHERE id=?", photoID); err != nil {
		return storageErr("set cover photo", err)
	}
	if _, err = tx.ExecContext(ctx, "UPDATE categories SET cover_photo_id=? WHERE id=?", photoID, categoryID); err != nil {
		return storageErr("set cover photo", err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr("set cover photo", err)
	}
	s.notes.publish(TablePhotos, TableCategories)
	return nil
}

// ReorderPhotos applies a batch of display-order updates in one transaction,
// all or nothing.
func (s *Store) ReorderPhotos(ctx context.Context, orders []PhotoOrder) error {
	if len(orders) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("reorder photos", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, o := range orders {
		if _, err = tx.ExecContext(ctx, "UPDATE photos SET display_order=? WHERE id=?", o.DisplayOrder, o.ID); err != nil {
			return storageErr("reorder photos", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return storageErr("reorder photos", err)
	}
	s.notes.publish(TablePhotos)
	return nil
}

// NextPhoto returns the neighbor after the given photo in its category's
// display order, or nil at the end. One indexed query, no list scan.
func (s *Store) NextPhoto(ctx context.Context, categoryID int64, photoID string) (*Photo, error) {
	return s.neighborPhoto(ctx, categoryID, photoID, true)
}

// PrevPhoto returns the neighbor before the given photo, or nil at the
// start.
func (s *Store) PrevPhoto(ctx context.Context, categoryID int64, photoID string) (*Photo, error) {
	return s.neighborPhoto(ctx, categoryID, photoID, false)
}

func (s *Store) neighborPhoto(ctx context.Context, categoryID int64, photoID string, forward bool) (*Photo, error) {
	cmp, dir := ">", "ASC"
	if !forward {
		cmp, dir = "<", "DESC"
	}
	const cols = `p.id, p.source_path, COALESCE(p.category_id, 0), p.display_order, p.favorite, p.is_cover,
	p.file_size, p.width, p.height, p.created_at, COALESCE(p.taken_at, 0), p.deleted, COALESCE(p.deleted_at, 0)`
	query := fmt.Sprintf(`
SELECT %s FROM photos p
WHERE p.category_id=? AND p.deleted=0 AND p.id<>? AND EXISTS (
	SELECT 1 FROM photos cur WHERE cur.id=?
	AND (p.display_order %[2]s cur.display_order
		OR (p.display_order = cur.display_order AND p.created_at %[2]s cur.created_at)
		OR (p.display_order = cur.display_order AND p.created_at = cur.created_at AND p.id %[2]s cur.id))
)
ORDER BY p.display_order %[3]s, p.created_at %[3]s, p.id %[3]s
LIMIT 1`, cols, cmp, dir)
	row := s.db.QueryRowContext(ctx, query, categoryID, photoID, photoID)
	p, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("neighbor photo", err)
	}
	return p, nil
}
