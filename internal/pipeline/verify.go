package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/FranksOps/sitelayout/internal/storage"
)

// Integrity lists the inconsistencies found in the store.
type Integrity struct {
	// SitesWithoutScreenshot have no screenshot row of any type.
	SitesWithoutScreenshot []*storage.Site
	// OrphanGreyscale are GREYSCALE rows whose site no longer exists.
	OrphanGreyscale []*storage.Screenshot
	// MissingFiles are successful screenshots whose file is gone.
	MissingFiles []*storage.Screenshot
}

// OK reports whether nothing was found.
func (i *Integrity) OK() bool {
	return len(i.SitesWithoutScreenshot) == 0 && len(i.OrphanGreyscale) == 0 && len(i.MissingFiles) == 0
}

// Lister is the slice of storage.Store Verify reads.
type Lister interface {
	ListSites(ctx context.Context, filter storage.SiteFilter) ([]*storage.Site, error)
	ListScreenshots(ctx context.Context, filter storage.ScreenshotFilter) ([]*storage.Screenshot, error)
}

// Verify cross-checks sites, screenshot rows and screenshot files.
func Verify(ctx context.Context, store Lister) (*Integrity, error) {
	sites, err := store.ListSites(ctx, storage.SiteFilter{})
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	shots, err := store.ListScreenshots(ctx, storage.ScreenshotFilter{})
	if err != nil {
		return nil, fmt.Errorf("list screenshots: %w", err)
	}

	known := make(map[int64]bool, len(sites))
	for _, s := range sites {
		known[s.ID] = true
	}
	shotFor := make(map[int64]bool, len(shots))

	res := &Integrity{}
	for _, shot := range shots {
		shotFor[shot.SiteID] = true
		if shot.Type == storage.ScreenshotGreyscale && !known[shot.SiteID] {
			res.OrphanGreyscale = append(res.OrphanGreyscale, shot)
		}
		if shot.Failed || shot.Path == "" {
			continue
		}
		if _, err := os.Stat(shot.Path); errors.Is(err, fs.ErrNotExist) {
			res.MissingFiles = append(res.MissingFiles, shot)
		}
	}

	for _, s := range sites {
		if !shotFor[s.ID] {
			res.SitesWithoutScreenshot = append(res.SitesWithoutScreenshot, s)
		}
	}
	return res, nil
}
