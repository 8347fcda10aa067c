package catalog

import "time"

// Table names used by the change notification registry.
const (
	TableCategories       = "categories"
	TablePhotos           = "photos"
	TablePhotoCategories  = "photo_categories"
	TableDeletionRecords  = "deletion_records"
	TableDeletionArchives = "deletion_archives"
)

// Entity type tags recorded in the deletion ledger.
const (
	EntityCategory = "category"
	EntityPhoto    = "photo"
)

// Category is a named group of photos. Names are unique among active
// categories; Position defines UI ordering and need not be contiguous.
type Category struct {
	ID           int64
	Name         string
	CoverPhotoID string
	Icon         string
	Position     int
	Active       bool
	// PhotoCount is the stored counter maintained on insert. It may lag
	// behind reality after soft deletes; CategoriesWithPhotoCounts computes
	// the live value.
	PhotoCount int64
	CreatedAt  time.Time
}

// CategoryWithCount pairs a category with its live photo count, which
// excludes soft-deleted photos.
type CategoryWithCount struct {
	Category
	ActualPhotoCount int64
}

// Photo is a catalog entry for an image file that lives elsewhere on disk.
// IDs are caller-supplied so re-imports and restores stay idempotent.
// CategoryID is the home category; zero means uncategorized.
type Photo struct {
	ID           string
	SourcePath   string
	CategoryID   int64
	DisplayOrder int
	Favorite     bool
	IsCover      bool
	FileSize     int64
	Width        int
	Height       int
	CreatedAt    time.Time
	TakenAt      time.Time
	Deleted      bool
	DeletedAt    time.Time
}

// PhotoMetadata holds the sensitive per-photo fields. Each field is
// independently nullable and stored encrypted as its own blob.
type PhotoMetadata struct {
	ChildName *string
	ChildAge  *int
	Notes     *string
	Tags      []string
	Milestone *string
	Location  *string
	Extra     map[string]string
}

// Empty reports whether no sensitive field is set.
func (m *PhotoMetadata) Empty() bool {
	if m == nil {
		return true
	}
	return m.ChildName == nil && m.ChildAge == nil && m.Notes == nil &&
		len(m.Tags) == 0 && m.Milestone == nil && m.Location == nil && len(m.Extra) == 0
}

// PhotoCategory is one row of the many-to-many photo/category association.
// At most one row per photo has Primary set.
type PhotoCategory struct {
	PhotoID    string
	CategoryID int64
	AssignedAt time.Time
	Primary    bool
}

// CategoryPosition is one entry of a batch category reorder.
type CategoryPosition struct {
	ID       int64
	Position int
}

// PhotoOrder is one entry of a batch photo reorder.
type PhotoOrder struct {
	ID           string
	DisplayOrder int
}

// PhotoQuery selects photos by predicate. Zero values mean "no constraint".
type PhotoQuery struct {
	CategoryID     int64
	PathPattern    string // substring match on source path
	TakenAfter     time.Time
	TakenBefore    time.Time
	MinSize        int64
	MaxSize        int64
	FavoritesOnly  bool
	IncludeDeleted bool
	Offset         int
	Limit          int
}

// DeletionRecord is one append-only ledger entry, written in the same
// transaction as the deletion it documents. Snapshot is the JSON pre-image
// of the deleted entity.
type DeletionRecord struct {
	ID         int64
	EntityType string
	EntityID   string
	Snapshot   []byte
	DeletedAt  time.Time
}

// Archive is a compacted batch of older deletion records: a gzip-compressed
// JSON payload with a blake3 checksum.
type Archive struct {
	ID          int64
	CreatedAt   time.Time
	RecordCount int
	OldestAt    time.Time
	NewestAt    time.Time
	Checksum    []byte
	Payload     []byte
}

// CompactStats summarizes one ledger compaction pass.
type CompactStats struct {
	Records      int
	ArchiveID    int64
	PayloadBytes int
}

// Stats is a snapshot of catalog-wide counts for diagnostics.
type Stats struct {
	SchemaVersion int
	Categories    int64
	ActivePhotos  int64
	DeletedPhotos int64
	LedgerRecords int64
	Archives      int64
}

// DeleteOutcome is the result of a safe category deletion.
type DeleteOutcome int

const (
	// DeleteRefused means the category still has active photos and force
	// was not requested. Nothing was modified.
	DeleteRefused DeleteOutcome = iota
	// DeleteDone means the category was removed.
	DeleteDone
)

func (o DeleteOutcome) String() string {
	switch o {
	case DeleteRefused:
		return "refused"
	case DeleteDone:
		return "deleted"
	default:
		return "unknown"
	}
}
