package catalog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func insertTestPhotos(t *testing.T, store *Store, categoryID int64, ids ...string) {
	t.Helper()
	ctx := context.Background()
	photos := make([]*Photo, 0, len(ids))
	for i, id := range ids {
		photos = append(photos, &Photo{
			ID:           id,
			SourcePath:   "/pics/" + id + ".jpg",
			CategoryID:   categoryID,
			DisplayOrder: i,
		})
	}
	if err := store.InsertPhotos(ctx, photos); err != nil {
		t.Fatalf("InsertPhotos: %v", err)
	}
}

func TestInsertPhotoDuplicatePath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.InsertPhoto(ctx, &Photo{ID: "p1", SourcePath: "/pics/a.jpg"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := store.InsertPhoto(ctx, &Photo{ID: "p2", SourcePath: "/pics/a.jpg"})
	if !errors.Is(err, ErrDuplicatePath) {
		t.Fatalf("expected ErrDuplicatePath, got %v", err)
	}
}

func TestInsertPhotosAllOrNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.InsertPhoto(ctx, &Photo{ID: "p1", SourcePath: "/pics/a.jpg"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := store.InsertPhotos(ctx, []*Photo{
		{ID: "p2", SourcePath: "/pics/b.jpg"},
		{ID: "p3", SourcePath: "/pics/a.jpg"}, // duplicate in the middle
		{ID: "p4", SourcePath: "/pics/c.jpg"},
	})
	if !errors.Is(err, ErrDuplicatePath) {
		t.Fatalf("expected ErrDuplicatePath, got %v", err)
	}
	// Nothing from the failed batch landed.
	for _, id := range []string{"p2", "p3", "p4"} {
		p, err := store.PhotoByID(ctx, id)
		if err != nil {
			t.Fatalf("PhotoByID %s: %v", id, err)
		}
		if p != nil {
			t.Fatalf("photo %s should not exist after failed batch", id)
		}
	}
}

func TestPhotoByPathAndNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.InsertPhoto(ctx, &Photo{ID: "p1", SourcePath: "/pics/a.jpg"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	p, err := store.PhotoByPath(ctx, "/pics/a.jpg")
	if err != nil {
		t.Fatalf("PhotoByPath: %v", err)
	}
	if p == nil || p.ID != "p1" {
		t.Fatalf("unexpected photo: %+v", p)
	}
	// Absent is nil, not an error.
	missing, err := store.PhotoByPath(ctx, "/pics/missing.jpg")
	if err != nil {
		t.Fatalf("PhotoByPath missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing path")
	}
}

func TestListPhotosPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cat, err := store.CreateCategory(ctx, "Family", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	insertTestPhotos(t, store, cat.ID, "p0", "p1", "p2", "p3", "p4")

	page, err := store.ListPhotos(ctx, cat.ID, 2, 2)
	if err != nil {
		t.Fatalf("ListPhotos: %v", err)
	}
	if len(page) != 2 || page[0].ID != "p2" || page[1].ID != "p3" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestReorderPhotos(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cat, err := store.CreateCategory(ctx, "Family", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	insertTestPhotos(t, store, cat.ID, "a", "b", "c")

	if err := store.ReorderPhotos(ctx, []PhotoOrder{
		{ID: "a", DisplayOrder: 20}, {ID: "b", DisplayOrder: 0}, {ID: "c", DisplayOrder: 10},
	}); err != nil {
		t.Fatalf("ReorderPhotos: %v", err)
	}
	got, err := store.ListPhotos(ctx, cat.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListPhotos: %v", err)
	}
	want := []string{"b", "c", "a"}
	if len(got) != len(want) {
		t.Fatalf("got %d photos", len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestUpdatePhotoMovesPrimaryAssociation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	from, err := store.CreateCategory(ctx, "From", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	to, err := store.CreateCategory(ctx, "To", 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	insertTestPhotos(t, store, from.ID, "p1")

	p, err := store.PhotoByID(ctx, "p1")
	if err != nil {
		t.Fatalf("PhotoByID: %v", err)
	}
	p.CategoryID = to.ID
	if err := store.UpdatePhoto(ctx, p); err != nil {
		t.Fatalf("UpdatePhoto: %v", err)
	}

	got, err := store.PhotoByID(ctx, "p1")
	if err != nil {
		t.Fatalf("PhotoByID: %v", err)
	}
	if got.CategoryID != to.ID {
		t.Fatalf("home category = %d, want %d", got.CategoryID, to.ID)
	}
	// The primary association row follows the home reference.
	assocs, err := store.CategoriesForPhoto(ctx, "p1")
	if err != nil {
		t.Fatalf("CategoriesForPhoto: %v", err)
	}
	primaries := 0
	for _, a := range assocs {
		if !a.Primary {
			continue
		}
		primaries++
		if a.CategoryID != to.ID {
			t.Fatalf("primary association points at %d, home is %d", a.CategoryID, to.ID)
		}
	}
	if primaries != 1 {
		t.Fatalf("got %d primary rows, want 1", primaries)
	}

	// Moving to uncategorized drops the primary row.
	got.CategoryID = 0
	if err := store.UpdatePhoto(ctx, got); err != nil {
		t.Fatalf("UpdatePhoto to uncategorized: %v", err)
	}
	assocs, err = store.CategoriesForPhoto(ctx, "p1")
	if err != nil {
		t.Fatalf("CategoriesForPhoto: %v", err)
	}
	for _, a := range assocs {
		if a.Primary {
			t.Fatalf("uncategorized photo still has a primary row: %+v", a)
		}
	}
}

func TestListPhotosUncategorized(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cat, err := store.CreateCategory(ctx, "Family", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	insertTestPhotos(t, store, 0, "o1", "o2")
	insertTestPhotos(t, store, cat.ID, "c1")

	got, err := store.ListPhotos(ctx, 0, 0, 0)
	if err != nil {
		t.Fatalf("ListPhotos: %v", err)
	}
	if len(got) != 2 || got[0].ID != "o1" || got[1].ID != "o2" {
		t.Fatalf("unexpected uncategorized listing: %+v", got)
	}
}

func TestSoftDeletePhotoExcludedAndLedgered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cat, err := store.CreateCategory(ctx, "Family", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	insertTestPhotos(t, store, cat.ID, "p1", "p2")

	if err := store.SoftDeletePhoto(ctx, "p1"); err != nil {
		t.Fatalf("SoftDeletePhoto: %v", err)
	}
	got, err := store.ListPhotos(ctx, cat.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListPhotos: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p2" {
		t.Fatalf("soft-deleted photo still listed: %+v", got)
	}
	n, err := store.PhotoCount(ctx, cat.ID)
	if err != nil {
		t.Fatalf("PhotoCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	records, err := store.DeletionRecords(ctx)
	if err != nil {
		t.Fatalf("DeletionRecords: %v", err)
	}
	if len(records) != 1 || records[0].EntityType != EntityPhoto || records[0].EntityID != "p1" {
		t.Fatalf("unexpected ledger: %+v", records)
	}

	// Repeated soft delete is a no-op, not a second record.
	if err := store.SoftDeletePhoto(ctx, "p1"); err != nil {
		t.Fatalf("second SoftDeletePhoto: %v", err)
	}
	records, err = store.DeletionRecords(ctx)
	if err != nil {
		t.Fatalf("DeletionRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
}

func TestHardDeletePhoto(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cat, err := store.CreateCategory(ctx, "Family", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	insertTestPhotos(t, store, cat.ID, "p1")
	if err := store.HardDeletePhoto(ctx, "p1"); err != nil {
		t.Fatalf("HardDeletePhoto: %v", err)
	}
	p, err := store.PhotoByID(ctx, "p1")
	if err != nil {
		t.Fatalf("PhotoByID: %v", err)
	}
	if p != nil {
		t.Fatalf("photo should be gone")
	}
	assocs, err := store.CategoriesForPhoto(ctx, "p1")
	if err != nil {
		t.Fatalf("CategoriesForPhoto: %v", err)
	}
	if len(assocs) != 0 {
		t.Fatalf("join rows should be gone: %+v", assocs)
	}
	records, err := store.DeletionRecords(ctx)
	if err != nil {
		t.Fatalf("DeletionRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
}

func TestSetCoverPhotoMovesFlag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cat, err := store.CreateCategory(ctx, "Family", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	insertTestPhotos(t, store, cat.ID, "p1", "p2")

	if err := store.SetCoverPhoto(ctx, cat.ID, "p1"); err != nil {
		t.Fatalf("SetCoverPhoto p1: %v", err)
	}
	if err := store.SetCoverPhoto(ctx, cat.ID, "p2"); err != nil {
		t.Fatalf("SetCoverPhoto p2: %v", err)
	}

	p1, _ := store.PhotoByID(ctx, "p1")
	p2, _ := store.PhotoByID(ctx, "p2")
	if p1.IsCover {
		t.Fatalf("previous cover flag should be cleared")
	}
	if !p2.IsCover {
		t.Fatalf("new cover flag should be set")
	}
	got, err := store.CategoryByID(ctx, cat.ID)
	if err != nil {
		t.Fatalf("CategoryByID: %v", err)
	}
	if got.CoverPhotoID != "p2" {
		t.Fatalf("cover reference = %q, want p2", got.CoverPhotoID)
	}
}

func TestNeighborNavigation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cat, err := store.CreateCategory(ctx, "Family", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	insertTestPhotos(t, store, cat.ID, "a", "b", "c")

	next, err := store.NextPhoto(ctx, cat.ID, "b")
	if err != nil {
		t.Fatalf("NextPhoto: %v", err)
	}
	if next == nil || next.ID != "c" {
		t.Fatalf("next of b = %+v, want c", next)
	}
	prev, err := store.PrevPhoto(ctx, cat.ID, "b")
	if err != nil {
		t.Fatalf("PrevPhoto: %v", err)
	}
	if prev == nil || prev.ID != "a" {
		t.Fatalf("prev of b = %+v, want a", prev)
	}
	end, err := store.NextPhoto(ctx, cat.ID, "c")
	if err != nil {
		t.Fatalf("NextPhoto end: %v", err)
	}
	if end != nil {
		t.Fatalf("expected nil at end, got %+v", end)
	}

	// Soft-deleted neighbors are skipped.
	if err := store.SoftDeletePhoto(ctx, "c"); err != nil {
		t.Fatalf("SoftDeletePhoto: %v", err)
	}
	next, err = store.NextPhoto(ctx, cat.ID, "b")
	if err != nil {
		t.Fatalf("NextPhoto after delete: %v", err)
	}
	if next != nil {
		t.Fatalf("expected nil after deleting c, got %+v", next)
	}
}

func TestSearchPhotos(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	photos := []*Photo{
		{ID: "p1", SourcePath: "/pics/beach_day.jpg", FileSize: 100, TakenAt: base, Favorite: true},
		{ID: "p2", SourcePath: "/pics/mountain.jpg", FileSize: 5000, TakenAt: base.AddDate(0, 1, 0)},
		{ID: "p3", SourcePath: "/pics/beach_night.jpg", FileSize: 900, TakenAt: base.AddDate(0, 2, 0)},
	}
	if err := store.InsertPhotos(ctx, photos); err != nil {
		t.Fatalf("InsertPhotos: %v", err)
	}

	byName, err := store.SearchPhotos(ctx, PhotoQuery{PathPattern: "beach"})
	if err != nil {
		t.Fatalf("search by name: %v", err)
	}
	if len(byName) != 2 {
		t.Fatalf("name search got %d, want 2", len(byName))
	}

	bySize, err := store.SearchPhotos(ctx, PhotoQuery{MinSize: 500, MaxSize: 1000})
	if err != nil {
		t.Fatalf("search by size: %v", err)
	}
	if len(bySize) != 1 || bySize[0].ID != "p3" {
		t.Fatalf("size search got %+v", bySize)
	}

	byDate, err := store.SearchPhotos(ctx, PhotoQuery{
		TakenAfter:  base.AddDate(0, 0, 15),
		TakenBefore: base.AddDate(0, 1, 15),
	})
	if err != nil {
		t.Fatalf("search by date: %v", err)
	}
	if len(byDate) != 1 || byDate[0].ID != "p2" {
		t.Fatalf("date search got %+v", byDate)
	}

	favs, err := store.ListFavorites(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListFavorites: %v", err)
	}
	if len(favs) != 1 || favs[0].ID != "p1" {
		t.Fatalf("favorites got %+v", favs)
	}
}

func TestSearchPhotosCancellation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertTestPhotos(t, store, 0, "p1", "p2", "p3")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := store.SearchPhotos(cancelled, PhotoQuery{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReassignCategories(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	from, err := store.CreateCategory(ctx, "From", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	to, err := store.CreateCategory(ctx, "To", 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	insertTestPhotos(t, store, from.ID, "p1", "p2")

	if err := store.ReassignCategories(ctx, []string{"p1", "p2"}, to.ID); err != nil {
		t.Fatalf("ReassignCategories: %v", err)
	}
	for _, id := range []string{"p1", "p2"} {
		p, err := store.PhotoByID(ctx, id)
		if err != nil {
			t.Fatalf("PhotoByID: %v", err)
		}
		if p.CategoryID != to.ID {
			t.Fatalf("photo %s category = %d, want %d", id, p.CategoryID, to.ID)
		}
	}
	n, err := store.PhotoCount(ctx, from.ID)
	if err != nil {
		t.Fatalf("PhotoCount: %v", err)
	}
	if n != 0 {
		t.Fatalf("source category count = %d, want 0", n)
	}
}

func TestListPhotosByCategories(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a, _ := store.CreateCategory(ctx, "A", 0)
	b, _ := store.CreateCategory(ctx, "B", 1)
	c, _ := store.CreateCategory(ctx, "C", 2)
	insertTestPhotos(t, store, a.ID, "pa")
	insertTestPhotos(t, store, b.ID, "pb")
	insertTestPhotos(t, store, c.ID, "pc")

	got, err := store.ListPhotosByCategories(ctx, []int64{a.ID, c.ID}, 0, 0)
	if err != nil {
		t.Fatalf("ListPhotosByCategories: %v", err)
	}
	if len(got) != 2 || got[0].ID != "pa" || got[1].ID != "pc" {
		t.Fatalf("unexpected result: %+v", got)
	}
}
