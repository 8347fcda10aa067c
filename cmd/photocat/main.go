package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kk-code-lab/photocat/internal/catalog"
	"github.com/kk-code-lab/photocat/internal/keystore"
	"github.com/kk-code-lab/photocat/internal/ops"
)

const version = "0.3.0"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	mode := flag.String("mode", "status", "Mode: status|compact|verify|migrate|import")
	retention := flag.Duration("retention", 30*24*time.Hour, "Deletion record retention before compaction")
	importCategory := flag.String("import-category", "", "Category name for import mode")
	jsonOut := flag.Bool("json", false, "Output report as JSON")
	flag.Parse()

	if *showVersion {
		fmt.Printf("photocat %s\n", version)
		return
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "data dir error: %v\n", err)
		os.Exit(1)
	}

	keys, err := keystore.NewFileProvider(keystore.DefaultPath(*dataDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "keystore error: %v\n", err)
		os.Exit(1)
	}
	store, err := catalog.Open(filepath.Join(*dataDir, "catalog.db"), catalog.Options{Keys: keys})
	if err != nil {
		fmt.Fprintf(os.Stderr, "catalog open error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	var report *ops.Report
	switch *mode {
	case "status":
		report, err = ops.Status(ctx, store)
	case "compact":
		report, err = ops.Compact(ctx, store, *retention)
	case "verify":
		report, err = ops.Verify(ctx, store)
	case "migrate":
		// Open already ran the chain; report the resulting state.
		report, err = ops.Status(ctx, store)
		if err == nil {
			report.Mode = "migrate"
		}
	case "import":
		err = runImport(ctx, store, *importCategory, flag.Args())
		if err == nil {
			report, err = ops.Status(ctx, store)
			if err == nil {
				report.Mode = "import"
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ops error: %v\n", err)
		os.Exit(1)
	}

	if err := printReport(report, *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "report error: %v\n", err)
		os.Exit(1)
	}
}

// runImport catalogs image files given on the command line, generating
// client-side ids so a re-import of the same paths is rejected as duplicate
// rather than doubled.
func runImport(ctx context.Context, store *catalog.Store, categoryName string, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("import: no files given")
	}
	var categoryID int64
	if categoryName != "" {
		cat, err := store.CategoryByName(ctx, categoryName)
		if err != nil {
			return err
		}
		if cat == nil {
			cat, err = store.CreateCategory(ctx, categoryName, 0)
			if err != nil {
				return err
			}
		}
		categoryID = cat.ID
	}
	photos := make([]*catalog.Photo, 0, len(paths))
	for order, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return err
		}
		photos = append(photos, &catalog.Photo{
			ID:           uuid.NewString(),
			SourcePath:   abs,
			CategoryID:   categoryID,
			DisplayOrder: order,
			FileSize:     info.Size(),
			CreatedAt:    time.Now().UTC(),
			TakenAt:      info.ModTime().UTC(),
		})
	}
	return store.InsertPhotos(ctx, photos)
}
