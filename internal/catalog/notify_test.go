package catalog

import (
	"context"
	"testing"
)

func drained(c <-chan struct{}) bool {
	select {
	case <-c:
		return false
	default:
		return true
	}
}

func TestSubscribeSignalsAfterWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sub := store.Subscribe(TablePhotos)
	defer sub.Cancel()

	insertTestPhotos(t, store, 0, "p1")
	select {
	case <-sub.C:
	default:
		t.Fatalf("expected a signal after insert")
	}
	if !drained(sub.C) {
		t.Fatalf("expected exactly one pending signal")
	}

	// Reads never signal.
	if _, err := store.ListPhotos(ctx, 0, 0, 0); err != nil {
		t.Fatalf("ListPhotos: %v", err)
	}
	if !drained(sub.C) {
		t.Fatalf("read should not signal")
	}
}

func TestSubscribeFiltersByTable(t *testing.T) {
	store := newTestStore(t)
	sub := store.Subscribe(TableDeletionArchives)
	defer sub.Cancel()

	insertTestPhotos(t, store, 0, "p1")
	if !drained(sub.C) {
		t.Fatalf("photo insert should not signal an archive watcher")
	}
}

func TestSubscribeNoTablesSeesEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sub := store.Subscribe()
	defer sub.Cancel()

	if _, err := store.CreateCategory(ctx, "Trips", 0); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	if drained(sub.C) {
		t.Fatalf("expected a signal for category write")
	}
}

func TestSignalsCoalesce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sub := store.Subscribe(TablePhotos)
	defer sub.Cancel()

	for _, id := range []string{"p1", "p2", "p3"} {
		if err := store.InsertPhoto(ctx, &Photo{ID: id, SourcePath: "/pics/" + id + ".jpg"}); err != nil {
			t.Fatalf("InsertPhoto: %v", err)
		}
	}
	// Three commits, one pending signal.
	if drained(sub.C) {
		t.Fatalf("expected a pending signal")
	}
	if !drained(sub.C) {
		t.Fatalf("signals should coalesce into one")
	}
}

func TestCancelStopsSignals(t *testing.T) {
	store := newTestStore(t)
	sub := store.Subscribe(TablePhotos)
	sub.Cancel()
	sub.Cancel() // idempotent

	insertTestPhotos(t, store, 0, "p1")
	if !drained(sub.C) {
		t.Fatalf("cancelled subscription should not receive signals")
	}
}
