// Package clusterdata assembles the clustering input set: one greyscale
// image per unique host, optionally cropped to a common size.
package clusterdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/FranksOps/sitelayout/internal/imaging"
	"github.com/FranksOps/sitelayout/internal/storage"
	"go.uber.org/zap"
)

// Store is the slice of storage.Store the copier reads.
type Store interface {
	GetSiteByHost(ctx context.Context, host string) (*storage.Site, error)
	FindScreenshot(ctx context.Context, siteID int64, t storage.ScreenshotType) (*storage.Screenshot, error)
}

// Crop is a top-left anchored crop size. The zero value disables cropping.
type Crop struct {
	Width  int
	Height int
}

func (c Crop) enabled() bool { return c.Width > 0 && c.Height > 0 }

// Copier copies greyscale screenshots into the cluster data directory as
// <name>.png.
type Copier struct {
	store  Store
	dir    string
	crop   Crop
	logger *zap.Logger
}

// NewCopier creates a Copier writing into dir.
func NewCopier(store Store, dir string, crop Crop, logger *zap.Logger) *Copier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Copier{store: store, dir: dir, crop: crop, logger: logger}
}

// CopySummary counts the outcomes of a copy run.
type CopySummary struct {
	Copied  int
	Cropped int
	Missing []string
}

// Copy copies the greyscale image of every host. Hosts with no site or no
// greyscale screenshot are logged and reported in Missing.
func (c *Copier) Copy(ctx context.Context, hosts []string) (*CopySummary, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cluster dir: %w", err)
	}

	sum := &CopySummary{}
	for _, host := range hosts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		log := c.logger.With(zap.String("host", host))

		site, err := c.store.GetSiteByHost(ctx, host)
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("no site for host, skipping")
			sum.Missing = append(sum.Missing, host)
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("get site %s: %w", host, err)
		}

		shot, err := c.store.FindScreenshot(ctx, site.ID, storage.ScreenshotGreyscale)
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("no greyscale screenshot, skipping")
			sum.Missing = append(sum.Missing, host)
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("find greyscale for %s: %w", host, err)
		}

		dst := filepath.Join(c.dir, site.Name+".png")
		cropped, err := c.copyOne(shot.Path, dst)
		if err != nil {
			return sum, err
		}
		sum.Copied++
		if cropped {
			sum.Cropped++
		}
		log.Info("copied screenshot", zap.String("path", dst), zap.Bool("cropped", cropped))
	}

	c.logger.Info("cluster data ready",
		zap.String("dir", c.dir),
		zap.Int("copied", sum.Copied),
		zap.Int("cropped", sum.Cropped),
		zap.Int("missing", len(sum.Missing)))
	return sum, nil
}

func (c *Copier) copyOne(src, dst string) (bool, error) {
	if !c.crop.enabled() {
		return false, copyFile(src, dst)
	}

	img, err := imaging.Decode(src)
	if err != nil {
		return false, err
	}
	out, cropped, err := imaging.Crop(img, c.crop.Width, c.crop.Height)
	if err != nil {
		return false, err
	}
	return cropped, imaging.WritePNG(dst, out)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}

// ImageSize is the size of one image in the cluster directory.
type ImageSize struct {
	Name   string
	Width  int
	Height int
}

// Dimensions is the smallest width and height across a set of images.
type Dimensions struct {
	Width  int
	Height int
	Images []ImageSize
}

// initialConstraint seeds the minimum scan; anything larger is not a
// screenshot this pipeline produced.
const initialConstraint = 50000

// MinDimensions scans every .png in dir, in name order, and returns the
// smallest width and height found.
func MinDimensions(dir string, logger *zap.Logger) (*Dimensions, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read cluster dir: %w", err)
	}

	dims := &Dimensions{Width: initialConstraint, Height: initialConstraint}
	logger.Info("initializing constraints", zap.Int("height", dims.Height), zap.Int("width", dims.Width))

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		w, h, err := imaging.Size(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		logger.Debug("checking screenshot", zap.String("name", e.Name()), zap.Int("height", h), zap.Int("width", w))
		dims.Images = append(dims.Images, ImageSize{Name: e.Name(), Width: w, Height: h})

		if h < dims.Height {
			logger.Info("height below constraint, lowering", zap.String("name", e.Name()), zap.Int("height", h))
			dims.Height = h
		}
		if w < dims.Width {
			logger.Info("width below constraint, lowering", zap.String("name", e.Name()), zap.Int("width", w))
			dims.Width = w
		}
	}

	if len(dims.Images) == 0 {
		return &Dimensions{}, nil
	}
	logger.Info("dimension constraints", zap.Int("height", dims.Height), zap.Int("width", dims.Width))
	return dims, nil
}
