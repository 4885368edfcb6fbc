package imaging

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/FranksOps/sitelayout/internal/storage"
	"go.uber.org/zap"
)

// Converter derives a GREYSCALE screenshot for every successful RGB capture
// that does not have one yet.
type Converter struct {
	store  storage.Store
	dir    string
	logger *zap.Logger
}

// NewConverter writes greyscale images into dir.
func NewConverter(store storage.Store, dir string, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{store: store, dir: dir, logger: logger}
}

// ConvertSummary counts the outcomes of a conversion run.
type ConvertSummary struct {
	Converted int
	Skipped   int
	Failed    int
}

// Run converts pending screenshots. An image that cannot be decoded or
// written is logged and counted; store errors stop the run.
func (c *Converter) Run(ctx context.Context) (*ConvertSummary, error) {
	ok := false
	shots, err := c.store.ListScreenshots(ctx, storage.ScreenshotFilter{Type: storage.ScreenshotRGB, Failed: &ok})
	if err != nil {
		return nil, fmt.Errorf("list rgb screenshots: %w", err)
	}

	sum := &ConvertSummary{}
	seen := make(map[int64]bool, len(shots))
	for _, shot := range shots {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if seen[shot.SiteID] {
			continue
		}
		seen[shot.SiteID] = true

		existing, err := c.store.FindScreenshot(ctx, shot.SiteID, storage.ScreenshotGreyscale)
		if err == nil {
			c.logger.Info("found greyscale version of screenshot, skipping", zap.Int64("screenshot_id", existing.ID))
			sum.Skipped++
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return sum, fmt.Errorf("find greyscale for site %d: %w", shot.SiteID, err)
		}

		site, err := c.store.GetSite(ctx, shot.SiteID)
		if err != nil {
			return sum, fmt.Errorf("get site %d: %w", shot.SiteID, err)
		}

		log := c.logger.With(zap.String("site", site.Name))
		log.Info("converting screenshot from RGB to GREYSCALE")

		start := time.Now()
		dst := filepath.Join(c.dir, site.Name+".png")
		if err := GreyFile(shot.Path, dst); err != nil {
			log.Error("conversion failed", zap.String("path", shot.Path), zap.Error(err))
			sum.Failed++
			continue
		}

		grey := &storage.Screenshot{
			SiteID:         shot.SiteID,
			Path:           dst,
			Type:           storage.ScreenshotGreyscale,
			ScrollHeight:   shot.ScrollHeight,
			ExceededHeight: shot.ExceededHeight,
			Elapsed:        time.Since(start),
		}
		if err := c.store.SaveScreenshot(ctx, grey); err != nil {
			return sum, fmt.Errorf("save greyscale for %s: %w", site.Host, err)
		}
		sum.Converted++
		log.Info("finished conversion", zap.String("path", dst), zap.Duration("elapsed", grey.Elapsed))
	}

	c.logger.Info("greyscale conversion finished",
		zap.Int("converted", sum.Converted),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))
	return sum, nil
}
