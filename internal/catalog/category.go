package catalog

import (
	"context"
	"database/sql"
	"errors"
)

const categoryColumns = `id, name, COALESCE(cover_photo_id, ''), COALESCE(icon, ''), position, active, photo_count, created_at`

func scanCategory(row interface{ Scan(...any) error }) (*Category, error) {
	var c Category
	var active int
	var createdAt int64
	err := row.Scan(&c.ID, &c.Name, &c.CoverPhotoID, &c.Icon, &c.Position, &active, &c.PhotoCount, &createdAt)
	if err != nil {
		return nil, err
	}
	c.Active = active != 0
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

// CreateCategory inserts a new active category. A name already used by an
// active category is rejected with ErrDuplicateName.
func (s *Store) CreateCategory(ctx context.Context, name string, position int) (*Category, error) {
	if name == "" {
		return nil, errors.New("catalog: category name required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("create category", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var clash int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM categories WHERE name=? AND active=1", name).Scan(&clash); err != nil {
		return nil, storageErr("create category", err)
	}
	if clash > 0 {
		err = ErrDuplicateName
		return nil, err
	}

	now := nowUTC()
	var res sql.Result
	res, err = tx.ExecContext(ctx, `
INSERT INTO categories(name, position, active, created_at, photo_count)
VALUES(?, ?, 1, ?, 0)`, name, position, toMillis(now))
	if err != nil {
		return nil, storageErr("create category", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageErr("create category", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, storageErr("create category", err)
	}
	s.notes.publish(TableCategories)
	return &Category{ID: id, Name: name, Position: position, Active: true, CreatedAt: now}, nil
}

// CategoryByID returns the category or nil when absent.
func (s *Store) CategoryByID(ctx context.Context, id int64) (*Category, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+categoryColumns+" FROM categories WHERE id=?", id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("category by id", err)
	}
	return c, nil
}

// CategoryByName returns the active category with the given name, or nil.
func (s *Store) CategoryByName(ctx context.Context, name string) (*Category, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+categoryColumns+" FROM categories WHERE name=? AND active=1", name)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("category by name", err)
	}
	return c, nil
}

// ListCategories returns active categories ordered by position then name,
// which keeps the order deterministic when positions collide.
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+categoryColumns+" FROM categories WHERE active=1 ORDER BY position, name")
	if err != nil {
		return nil, storageErr("list categories", err)
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, storageErr("list categories", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list categories", err)
	}
	return out, nil
}

// UpdateCategory updates name, cover, icon, position, and active flag.
// Renaming onto another active category's name is rejected.
func (s *Store) UpdateCategory(ctx context.Context, c *Category) error {
	if c == nil || c.ID == 0 {
		return errors.New("catalog: category id required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("update category", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if c.Active {
		var clash int
		if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM categories WHERE name=? AND active=1 AND id<>?", c.Name, c.ID).Scan(&clash); err != nil {
			return storageErr("update category", err)
		}
		if clash > 0 {
			err = ErrDuplicateName
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `
UPDATE categories SET name=?, cover_photo_id=?, icon=?, position=?, active=?
WHERE id=?`,
		c.Name, nullIfEmpty(c.CoverPhotoID), nullIfEmpty(c.Icon), c.Position, boolToInt(c.Active), c.ID)
	if err != nil {
		return storageErr("update category", err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr("update category", err)
	}
	s.notes.publish(TableCategories)
	return nil
}

// SoftDeleteCategory marks the category inactive, orphans its photos' home
// reference, and writes a deletion record, all in one transaction. Photo
// rows themselves are untouched.
func (s *Store) SoftDeleteCategory(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("soft delete category", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, "SELECT "+categoryColumns+" FROM categories WHERE id=? AND active=1", id)
	var snapshot *Category
	snapshot, err = scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		_ = tx.Rollback()
		return nil
	}
	if err != nil {
		return storageErr("soft delete category", err)
	}
	if _, err = tx.ExecContext(ctx, "UPDATE categories SET active=0 WHERE id=?", id); err != nil {
		return storageErr("soft delete category", err)
	}
	if _, err = tx.ExecContext(ctx, "UPDATE photos SET category_id=NULL WHERE category_id=?", id); err != nil {
		return storageErr("soft delete category", err)
	}
	if err = recordDeletion(ctx, tx, EntityCategory, formatID(id), snapshot, nowUTC()); err != nil {
		return storageErr("soft delete category", err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr("soft delete category", err)
	}
	s.notes.publish(TableCategories, TablePhotos, TableDeletionRecords)
	return nil
}

// ReactivateCategory turns an inactive category back on. Reactivation is
// rejected with ErrDuplicateName when an active category took the name in
// the meantime.
func (s *Store) ReactivateCategory(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("reactivate category", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var name string
	err = tx.QueryRowContext(ctx, "SELECT name FROM categories WHERE id=? AND active=0", id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		_ = tx.Rollback()
		return nil
	}
	if err != nil {
		return storageErr("reactivate category", err)
	}
	var clash int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM categories WHERE name=? AND active=1", name).Scan(&clash); err != nil {
		return storageErr("reactivate category", err)
	}
	if clash > 0 {
		err = ErrDuplicateName
		return err
	}
	if _, err = tx.ExecContext(ctx, "UPDATE categories SET active=1 WHERE id=?", id); err != nil {
		return storageErr("reactivate category", err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr("reactivate category", err)
	}
	s.notes.publish(TableCategories)
	return nil
}

// ReorderCategories applies a batch of position updates in one transaction.
func (s *Store) ReorderCategories(ctx context.Context, positions []CategoryPosition) error {
	if len(positions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("reorder categories", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, p := range positions {
		if _, err = tx.ExecContext(ctx, "UPDATE categories SET position=? WHERE id=?", p.Position, p.ID); err != nil {
			return storageErr("reorder categories", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return storageErr("reorder categories", err)
	}
	s.notes.publish(TableCategories)
	return nil
}

// PhotoCount returns the live count of non-deleted photos whose home
// category is the given one.
func (s *Store) PhotoCount(ctx context.Context, categoryID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM photos WHERE category_id=? AND deleted=0", categoryID).Scan(&n)
	if err != nil {
		return 0, storageErr("photo count", err)
	}
	return n, nil
}

// CategoriesWithPhotoCounts returns active categories with live photo counts
// that exclude soft-deleted photos. The stored PhotoCount counter is
// returned as-is and may lag until RecalcPhotoCounts runs.
func (s *Store) CategoriesWithPhotoCounts(ctx context.Context) ([]CategoryWithCount, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT c.id, c.name, COALESCE(c.cover_photo_id, ''), COALESCE(c.icon, ''), c.position, c.active, c.photo_count, c.created_at,
	(SELECT COUNT(*) FROM photos p WHERE p.category_id=c.id AND p.deleted=0)
FROM categories c
WHERE c.active=1
ORDER BY c.position, c.name`)
	if err != nil {
		return nil, storageErr("categories with counts", err)
	}
	defer rows.Close()
	var out []CategoryWithCount
	for rows.Next() {
		var cw CategoryWithCount
		var active int
		var createdAt int64
		if err := rows.Scan(&cw.ID, &cw.Name, &cw.CoverPhotoID, &cw.Icon, &cw.Position, &active, &cw.PhotoCount, &createdAt, &cw.ActualPhotoCount); err != nil {
			return nil, storageErr("categories with counts", err)
		}
		cw.Active = active != 0
		cw.CreatedAt = fromMillis(createdAt)
		out = append(out, cw)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("categories with counts", err)
	}
	return out, nil
}

// RecalcPhotoCounts rewrites every stored photo counter from the live data.
func (s *Store) RecalcPhotoCounts(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE categories SET photo_count=(SELECT COUNT(*) FROM photos p WHERE p.category_id=categories.id AND p.deleted=0)`)
	if err != nil {
		return storageErr("recalc photo counts", err)
	}
	s.notes.publish(TableCategories)
	return nil
}

// SafeDeleteCategory removes a category outright. With active photos still
// in it the call returns DeleteRefused and modifies nothing, unless force is
// set, in which case the photos are soft-deleted first in the same
// transaction. The removal and its ledger record commit atomically.
func (s *Store) SafeDeleteCategory(ctx context.Context, id int64, force bool) (DeleteOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DeleteRefused, storageErr("safe delete category", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, "SELECT "+categoryColumns+" FROM categories WHERE id=?", id)
	var snapshot *Category
	snapshot, err = scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		_ = tx.Rollback()
		return DeleteDone, nil
	}
	if err != nil {
		return DeleteRefused, storageErr("safe delete category", err)
	}

	var active int64
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM photos WHERE category_id=? AND deleted=0", id).Scan(&active); err != nil {
		return DeleteRefused, storageErr("safe delete category", err)
	}
	if active > 0 && !force {
		_ = tx.Rollback()
		return DeleteRefused, nil
	}

	now := nowUTC()
	if active > 0 {
		var ids []string
		var photoRows *sql.Rows
		photoRows, err = tx.QueryContext(ctx, "SELECT "+photoColumns+" FROM photos WHERE category_id=? AND deleted=0", id)
		if err != nil {
			return DeleteRefused, storageErr("safe delete category", err)
		}
		var snapshots []*Photo
		for photoRows.Next() {
			var p *Photo
			p, err = scanPhoto(photoRows)
			if err != nil {
				photoRows.Close()
				return DeleteRefused, storageErr("safe delete category", err)
			}
			ids = append(ids, p.ID)
			snapshots = append(snapshots, p)
		}
		if err = photoRows.Close(); err != nil {
			return DeleteRefused, storageErr("safe delete category", err)
		}
		for i, photoID := range ids {
			if _, err = tx.ExecContext(ctx, "UPDATE photos SET deleted=1, deleted_at=?, is_cover=0 WHERE id=?", toMillis(now), photoID); err != nil {
				return DeleteRefused, storageErr("safe delete category", err)
			}
			if err = recordDeletion(ctx, tx, EntityPhoto, photoID, snapshots[i], now); err != nil {
				return DeleteRefused, storageErr("safe delete category", err)
			}
		}
	}

	if _, err = tx.ExecContext(ctx, "UPDATE photos SET category_id=NULL WHERE category_id=?", id); err != nil {
		return DeleteRefused, storageErr("safe delete category", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM photo_categories WHERE category_id=?", id); err != nil {
		return DeleteRefused, storageErr("safe delete category", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM categories WHERE id=?", id); err != nil {
		return DeleteRefused, storageErr("safe delete category", err)
	}
	if err = recordDeletion(ctx, tx, EntityCategory, formatID(id), snapshot, now); err != nil {
		return DeleteRefused, storageErr("safe delete category", err)
	}
	if err = tx.Commit(); err != nil {
		return DeleteRefused, storageErr("safe delete category", err)
	}
	s.notes.publish(TableCategories, TablePhotos, TablePhotoCategories, TableDeletionRecords)
	return DeleteDone, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
