package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"strconv"
)

// metaColumns are the encrypted blob columns, in struct order.
const metaColumns = `child_name, child_age, notes, tags, milestone, location, extra`

// metaBlobs is the encrypted column image of a PhotoMetadata. A nil entry
// stores NULL.
type metaBlobs struct {
	childName []byte
	childAge  []byte
	notes     []byte
	tags      []byte
	milestone []byte
	location  []byte
	extra     []byte
}

func (s *Store) encryptMetadata(m *PhotoMetadata) (*metaBlobs, error) {
	b := &metaBlobs{}
	if m == nil {
		return b, nil
	}
	seal := func(dst *[]byte, plaintext string) error {
		blob, err := s.codec.Encrypt(plaintext)
		if err != nil {
			return err
		}
		*dst = blob
		return nil
	}
	if m.ChildName != nil {
		if err := seal(&b.childName, *m.ChildName); err != nil {
			return nil, err
		}
	}
	if m.ChildAge != nil {
		if err := seal(&b.childAge, strconv.Itoa(*m.ChildAge)); err != nil {
			return nil, err
		}
	}
	if m.Notes != nil {
		if err := seal(&b.notes, *m.Notes); err != nil {
			return nil, err
		}
	}
	if len(m.Tags) > 0 {
		raw, err := json.Marshal(m.Tags)
		if err != nil {
			return nil, err
		}
		if err := seal(&b.tags, string(raw)); err != nil {
			return nil, err
		}
	}
	if m.Milestone != nil {
		if err := seal(&b.milestone, *m.Milestone); err != nil {
			return nil, err
		}
	}
	if m.Location != nil {
		if err := seal(&b.location, *m.Location); err != nil {
			return nil, err
		}
	}
	if len(m.Extra) > 0 {
		raw, err := json.Marshal(m.Extra)
		if err != nil {
			return nil, err
		}
		if err := seal(&b.extra, string(raw)); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// decryptMetadata opens each blob independently. A field that fails to
// decrypt is logged and left nil so one corrupted field never blocks
// reading the photo.
func (s *Store) decryptMetadata(photoID string, b *metaBlobs) *PhotoMetadata {
	m := &PhotoMetadata{}
	open := func(field string, blob []byte) (string, bool) {
		if blob == nil {
			return "", false
		}
		plaintext, err := s.codec.Decrypt(blob)
		if err != nil {
			log.Printf("catalog: decrypt failed photo=%s field=%s err=%v", photoID, field, err)
			return "", false
		}
		return plaintext, true
	}
	if v, ok := open("child_name", b.childName); ok {
		m.ChildName = &v
	}
	if v, ok := open("child_age", b.childAge); ok {
		if age, err := strconv.Atoi(v); err == nil {
			m.ChildAge = &age
		} else {
			log.Printf("catalog: bad child_age payload photo=%s err=%v", photoID, err)
		}
	}
	if v, ok := open("notes", b.notes); ok {
		m.Notes = &v
	}
	if v, ok := open("tags", b.tags); ok {
		var tags []string
		if err := json.Unmarshal([]byte(v), &tags); err == nil {
			m.Tags = tags
		} else {
			log.Printf("catalog: bad tags payload photo=%s err=%v", photoID, err)
		}
	}
	if v, ok := open("milestone", b.milestone); ok {
		m.Milestone = &v
	}
	if v, ok := open("location", b.location); ok {
		m.Location = &v
	}
	if v, ok := open("extra", b.extra); ok {
		var extra map[string]string
		if err := json.Unmarshal([]byte(v), &extra); err == nil {
			m.Extra = extra
		} else {
			log.Printf("catalog: bad extra payload photo=%s err=%v", photoID, err)
		}
	}
	return m
}

// InsertPhotoSecure inserts a photo together with its encrypted metadata in
// one transaction.
func (s *Store) InsertPhotoSecure(ctx context.Context, p *Photo, meta *PhotoMetadata) error {
	if err := validatePhoto(p); err != nil {
		return err
	}
	blobs, err := s.encryptMetadata(meta)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("insert photo secure", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = insertPhotoTx(ctx, tx, p); err != nil {
		if errors.Is(err, ErrDuplicatePath) {
			return err
		}
		return storageErr("insert photo secure", err)
	}
	if _, err = tx.ExecContext(ctx, `
UPDATE photos SET child_name=?, child_age=?, notes=?, tags=?, milestone=?, location=?, extra=?
WHERE id=?`,
		blobs.childName, blobs.childAge, blobs.notes, blobs.tags, blobs.milestone, blobs.location, blobs.extra, p.ID); err != nil {
		return storageErr("insert photo secure", err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr("insert photo secure", err)
	}
	s.notes.publish(TablePhotos, TablePhotoCategories, TableCategories)
	return nil
}

// UpdatePhotoMetadata re-encrypts and replaces all sensitive fields of a
// photo. Nil fields are stored as NULL.
func (s *Store) UpdatePhotoMetadata(ctx context.Context, photoID string, meta *PhotoMetadata) error {
	if photoID == "" {
		return errors.New("catalog: photo id required")
	}
	blobs, err := s.encryptMetadata(meta)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE photos SET child_name=?, child_age=?, notes=?, tags=?, milestone=?, location=?, extra=?
WHERE id=?`,
		blobs.childName, blobs.childAge, blobs.notes, blobs.tags, blobs.milestone, blobs.location, blobs.extra, photoID)
	if err != nil {
		return storageErr("update photo metadata", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.notes.publish(TablePhotos)
	}
	return nil
}

// PhotoWithMetadata returns the photo and its decrypted metadata, or
// (nil, nil, nil) when absent. Individual field failures degrade to nil
// fields; they never fail the read.
func (s *Store) PhotoWithMetadata(ctx context.Context, id string) (*Photo, *PhotoMetadata, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+photoColumns+", "+metaColumns+" FROM photos WHERE id=?", id)
	var p Photo
	var favorite, isCover, deleted int
	var createdAt, takenAt, deletedAt int64
	var b metaBlobs
	err := row.Scan(&p.ID, &p.SourcePath, &p.CategoryID, &p.DisplayOrder, &favorite, &isCover,
		&p.FileSize, &p.Width, &p.Height, &createdAt, &takenAt, &deleted, &deletedAt,
		&b.childName, &b.childAge, &b.notes, &b.tags, &b.milestone, &b.location, &b.extra)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, storageErr("photo with metadata", err)
	}
	p.Favorite = favorite != 0
	p.IsCover = isCover != 0
	p.Deleted = deleted != 0
	p.CreatedAt = fromMillis(createdAt)
	p.TakenAt = fromMillis(takenAt)
	p.DeletedAt = fromMillis(deletedAt)
	return &p, s.decryptMetadata(p.ID, &b), nil
}

// HasSensitiveData reports whether any encrypted field is present, without
// decrypting anything.
func (s *Store) HasSensitiveData(ctx context.Context, id string) (bool, error) {
	var has int
	err := s.db.QueryRowContext(ctx, `
SELECT (child_name IS NOT NULL OR child_age IS NOT NULL OR notes IS NOT NULL
	OR tags IS NOT NULL OR milestone IS NOT NULL OR location IS NOT NULL OR extra IS NOT NULL)
FROM photos WHERE id=?`, id).Scan(&has)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("has sensitive data", err)
	}
	return has != 0, nil
}

// SearchByChildName decrypts child_name across candidate rows looking for a
// substring match. The scan is cancellable through ctx since it decrypts
// row by row.
func (s *Store) SearchByChildName(ctx context.Context, needle string, limit int) ([]Photo, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+photoColumns+`, child_name FROM photos
WHERE deleted=0 AND child_name IS NOT NULL
ORDER BY created_at, id`)
	if err != nil {
		return nil, storageErr("search by child name", err)
	}
	defer rows.Close()
	var out []Photo
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var p Photo
		var favorite, isCover, deleted int
		var createdAt, takenAt, deletedAt int64
		var blob []byte
		if err := rows.Scan(&p.ID, &p.SourcePath, &p.CategoryID, &p.DisplayOrder, &favorite, &isCover,
			&p.FileSize, &p.Width, &p.Height, &createdAt, &takenAt, &deleted, &deletedAt, &blob); err != nil {
			return nil, storageErr("search by child name", err)
		}
		name, err := s.codec.Decrypt(blob)
		if err != nil {
			log.Printf("catalog: decrypt failed photo=%s field=child_name err=%v", p.ID, err)
			continue
		}
		if !containsFold(name, needle) {
			continue
		}
		p.Favorite = favorite != 0
		p.IsCover = isCover != 0
		p.Deleted = deleted != 0
		p.CreatedAt = fromMillis(createdAt)
		p.TakenAt = fromMillis(takenAt)
		p.DeletedAt = fromMillis(deletedAt)
		out = append(out, p)
		if len(out) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("search by child name", err)
	}
	return out, nil
}
