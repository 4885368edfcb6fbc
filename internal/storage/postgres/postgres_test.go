package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/FranksOps/sitelayout/internal/storage"
)

func TestPostgresStore(t *testing.T) {
	// Only run this test if SITELAYOUT_TEST_PG_DSN is set
	dsn := os.Getenv("SITELAYOUT_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("Skipping Postgres store test: SITELAYOUT_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create Postgres store: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(ctx, true); err != nil {
		t.Fatalf("Failed to migrate fresh: %v", err)
	}

	site := &storage.Site{Name: "pg_example_com", Host: "pg.example.com", Rank: 7}
	if err := s.CreateSite(ctx, site); err != nil {
		t.Fatalf("Failed to create site: %v", err)
	}
	if site.ID == 0 {
		t.Fatalf("Expected ID to be assigned")
	}

	if err := s.CreateSite(ctx, &storage.Site{Name: "pg_example_com", Host: "pg.example.com"}); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}

	got, err := s.GetSiteByHost(ctx, "pg.example.com")
	if err != nil {
		t.Fatalf("Failed to get site: %v", err)
	}
	if got.ID != site.ID || got.Rank != 7 {
		t.Errorf("Unexpected site %+v", got)
	}

	shot := &storage.Screenshot{
		SiteID:  site.ID,
		Path:    "/tmp/greyscale/pg_example_com.png",
		Type:    storage.ScreenshotGreyscale,
		Elapsed: 2 * time.Second,
	}
	if err := s.SaveScreenshot(ctx, shot); err != nil {
		t.Fatalf("Failed to save screenshot: %v", err)
	}

	found, err := s.FindScreenshot(ctx, site.ID, storage.ScreenshotGreyscale)
	if err != nil {
		t.Fatalf("Failed to find screenshot: %v", err)
	}
	if found.Path != shot.Path || found.Elapsed != 2*time.Second {
		t.Errorf("Unexpected screenshot %+v", found)
	}

	if err := s.MarkProcessed(ctx, site.ID); err != nil {
		t.Fatalf("Failed to mark processed: %v", err)
	}
	processed := true
	sites, err := s.ListSites(ctx, storage.SiteFilter{Processed: &processed})
	if err != nil {
		t.Fatalf("Failed to list sites: %v", err)
	}
	if len(sites) != 1 {
		t.Fatalf("Expected 1 processed site, got %d", len(sites))
	}

	if _, err := s.GetSite(ctx, -1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
