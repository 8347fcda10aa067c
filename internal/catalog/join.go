package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AssignCategories associates a photo with the given categories. With
// replace set, existing associations are dropped first; otherwise the new
// ones are added. primaryID, when non-zero, must be among categoryIDs and
// becomes the photo's home category; the previous primary row is cleared in
// the same transaction so at most one row stays primary.
func (s *Store) AssignCategories(ctx context.Context, photoID string, categoryIDs []int64, primaryID int64, replace bool) error {
	if photoID == "" {
		return errors.New("catalog: photo id required")
	}
	if primaryID != 0 {
		found := false
		for _, id := range categoryIDs {
			if id == primaryID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("catalog: primary category %d not in assignment", primaryID)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("assign categories", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if replace {
		if _, err = tx.ExecContext(ctx, "DELETE FROM photo_categories WHERE photo_id=?", photoID); err != nil {
			return storageErr("assign categories", err)
		}
	}
	now := toMillis(nowUTC())
	for _, categoryID := range categoryIDs {
		if _, err = tx.ExecContext(ctx, `
INSERT OR IGNORE INTO photo_categories(photo_id, category_id, assigned_at, is_primary)
VALUES(?, ?, ?, 0)`, photoID, categoryID, now); err != nil {
			return storageErr("assign categories", err)
		}
	}
	if primaryID != 0 {
		if err = setPrimaryTx(ctx, tx, photoID, primaryID); err != nil {
			return storageErr("assign categories", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return storageErr("assign categories", err)
	}
	s.notes.publish(TablePhotoCategories, TablePhotos)
	return nil
}

func setPrimaryTx(ctx context.Context, tx *sql.Tx, photoID string, categoryID int64) error {
	if _, err := tx.ExecContext(ctx, "UPDATE photo_categories SET is_primary=0 WHERE photo_id=? AND is_primary=1", photoID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE photo_categories SET is_primary=1 WHERE photo_id=? AND category_id=?", photoID, categoryID); err != nil {
		return err
	}
	// The home reference on the photo row follows the primary association.
	if _, err := tx.ExecContext(ctx, "UPDATE photos SET category_id=? WHERE id=?", categoryID, photoID); err != nil {
		return err
	}
	return nil
}

// SetPrimaryCategory moves the primary flag to an existing association,
// leaving exactly one primary row for the photo.
func (s *Store) SetPrimaryCategory(ctx context.Context, photoID string, categoryID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("set primary category", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	var exists int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM photo_categories WHERE photo_id=? AND category_id=?", photoID, categoryID).Scan(&exists); err != nil {
		return storageErr("set primary category", err)
	}
	if exists == 0 {
		err = fmt.Errorf("catalog: photo %s is not assigned to category %d", photoID, categoryID)
		return err
	}
	if err = setPrimaryTx(ctx, tx, photoID, categoryID); err != nil {
		return storageErr("set primary category", err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr("set primary category", err)
	}
	s.notes.publish(TablePhotoCategories, TablePhotos)
	return nil
}

// RemoveFromCategories drops the photo's association with the given
// categories. When the primary association is removed, the photo's home
// reference is orphaned rather than silently moved.
func (s *Store) RemoveFromCategories(ctx context.Context, photoID string, categoryIDs []int64) error {
	if photoID == "" || len(categoryIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("remove from categories", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, categoryID := range categoryIDs {
		var wasPrimary int
		if err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(is_primary), 0) FROM photo_categories WHERE photo_id=? AND category_id=?", photoID, categoryID).Scan(&wasPrimary); err != nil {
			return storageErr("remove from categories", err)
		}
		if _, err = tx.ExecContext(ctx, "DELETE FROM photo_categories WHERE photo_id=? AND category_id=?", photoID, categoryID); err != nil {
			return storageErr("remove from categories", err)
		}
		if wasPrimary != 0 {
			if _, err = tx.ExecContext(ctx, "UPDATE photos SET category_id=NULL WHERE id=?", photoID); err != nil {
				return storageErr("remove from categories", err)
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return storageErr("remove from categories", err)
	}
	s.notes.publish(TablePhotoCategories, TablePhotos)
	return nil
}

// CategoriesForPhoto returns all association rows for a photo, primary
// first.
func (s *Store) CategoriesForPhoto(ctx context.Context, photoID string) ([]PhotoCategory, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT photo_id, category_id, assigned_at, is_primary
FROM photo_categories
WHERE photo_id=?
ORDER BY is_primary DESC, category_id`, photoID)
	if err != nil {
		return nil, storageErr("categories for photo", err)
	}
	defer rows.Close()
	var out []PhotoCategory
	for rows.Next() {
		var pc PhotoCategory
		var assignedAt int64
		var primary int
		if err := rows.Scan(&pc.PhotoID, &pc.CategoryID, &assignedAt, &primary); err != nil {
			return nil, storageErr("categories for photo", err)
		}
		pc.AssignedAt = fromMillis(assignedAt)
		pc.Primary = primary != 0
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("categories for photo", err)
	}
	return out, nil
}

// JoinPhotoCount counts a category's association rows whose photos are not
// soft-deleted.
func (s *Store) JoinPhotoCount(ctx context.Context, categoryID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM photo_categories pc
JOIN photos p ON p.id = pc.photo_id
WHERE pc.category_id=? AND p.deleted=0`, categoryID).Scan(&n)
	if err != nil {
		return 0, storageErr("join photo count", err)
	}
	return n, nil
}
