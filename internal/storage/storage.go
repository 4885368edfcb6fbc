package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a site with the same host already exists.
	ErrDuplicate = errors.New("storage: duplicate")
)

// ScreenshotType is the colour space of a stored screenshot.
type ScreenshotType string

const (
	ScreenshotRGB       ScreenshotType = "RGB"
	ScreenshotGreyscale ScreenshotType = "GREYSCALE"
)

// Site is one host queued for capture.
type Site struct {
	ID        int64
	Name      string
	Host      string
	Rank      int // 0 when the source carried no ranking
	Processed bool
	CreatedAt time.Time
}

// Screenshot is a captured or derived image of a Site.
type Screenshot struct {
	ID             int64
	SiteID         int64
	Path           string
	Type           ScreenshotType
	ScrollHeight   int
	Elapsed        time.Duration
	ExceededHeight bool
	Failed         bool
	DetectionSrc   string // e.g. "cloudflare", set when the probe hit a bot wall
	CreatedAt      time.Time
}

// SiteFilter narrows ListSites. Results are always ordered by host.
type SiteFilter struct {
	Processed *bool
	Limit     int
	Offset    int
}

// ScreenshotFilter narrows ListScreenshots. Results are ordered by id.
type ScreenshotFilter struct {
	SiteID int64
	Type   ScreenshotType
	Failed *bool
}

// Store defines the relational store for sites and their screenshots.
type Store interface {
	Migrate(ctx context.Context, fresh bool) error

	CreateSite(ctx context.Context, site *Site) error
	GetSite(ctx context.Context, id int64) (*Site, error)
	GetSiteByHost(ctx context.Context, host string) (*Site, error)
	ListSites(ctx context.Context, filter SiteFilter) ([]*Site, error)
	MarkProcessed(ctx context.Context, id int64) error

	SaveScreenshot(ctx context.Context, shot *Screenshot) error
	FindScreenshot(ctx context.Context, siteID int64, t ScreenshotType) (*Screenshot, error)
	ListScreenshots(ctx context.Context, filter ScreenshotFilter) ([]*Screenshot, error)

	Close() error
}

// NameForHost derives the display and file key of a site from its host.
func NameForHost(host string) string {
	return strings.Join(strings.Split(host, "."), "_")
}
