// Package capture renders sites in a headless browser and stores full-page
// RGB screenshots of their landing pages.
package capture

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Settings controls how a page is scrolled and photographed.
type Settings struct {
	ViewportWidth  int
	ViewportHeight int
	// ScrollPause is the wait after each jump to the bottom.
	ScrollPause time.Duration
	// MaxScrollHeight stops scrolling pages that keep growing.
	MaxScrollHeight int
	// RescrollPause and RescrollIncrement drive the top-to-bottom pass that
	// triggers lazy-loaded content.
	RescrollPause     time.Duration
	RescrollIncrement int
	// HeightPadding is added to the final height before the screenshot.
	HeightPadding int
	// PageTimeout bounds one whole capture.
	PageTimeout time.Duration
}

// DefaultSettings matches a 1440p desktop viewport.
func DefaultSettings() Settings {
	return Settings{
		ViewportWidth:     2560,
		ViewportHeight:    1440,
		ScrollPause:       2 * time.Second,
		MaxScrollHeight:   30000,
		RescrollPause:     250 * time.Millisecond,
		RescrollIncrement: 720,
		HeightPadding:     150,
		PageTimeout:       3 * time.Minute,
	}
}

// Page is the browser surface the scroll routine drives.
type Page interface {
	ScrollHeight(ctx context.Context) (int, error)
	ScrollToBottom(ctx context.Context) error
	ScrollTo(ctx context.Context, y int) error
	SetViewport(ctx context.Context, width, height int) error
	ScreenshotBody(ctx context.Context) ([]byte, error)
}

// Shot is a finished capture.
type Shot struct {
	PNG            []byte
	ScrollHeight   int
	ExceededHeight bool
}

// shoot scrolls page until its height settles, sweeps it once from the top
// for lazy content, grows the viewport to the full height and screenshots
// the body.
func shoot(ctx context.Context, page Page, s Settings, logger *zap.Logger) (*Shot, error) {
	shot := &Shot{}

	height, err := page.ScrollHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial scroll height: %w", err)
	}

	for {
		logger.Debug("scrolling to height", zap.Int("height", height))
		if err := page.ScrollToBottom(ctx); err != nil {
			return nil, fmt.Errorf("scroll: %w", err)
		}
		if err := sleep(ctx, s.ScrollPause); err != nil {
			return nil, err
		}

		next, err := page.ScrollHeight(ctx)
		if err != nil {
			return nil, fmt.Errorf("scroll height: %w", err)
		}
		shot.ScrollHeight = next
		if next == height {
			break
		}
		if s.MaxScrollHeight > 0 && next >= s.MaxScrollHeight {
			shot.ExceededHeight = true
			height = next
			break
		}
		height = next
	}

	if s.RescrollIncrement > 0 {
		for y := 0; y < height; y += s.RescrollIncrement {
			logger.Debug("rescrolling page", zap.Int("y", y))
			if err := page.ScrollTo(ctx, y); err != nil {
				return nil, fmt.Errorf("rescroll: %w", err)
			}
			if err := sleep(ctx, s.RescrollPause); err != nil {
				return nil, err
			}
		}
	}

	if err := page.SetViewport(ctx, s.ViewportWidth, height+s.HeightPadding); err != nil {
		return nil, fmt.Errorf("resize viewport: %w", err)
	}
	logger.Debug("viewport resized", zap.Int("width", s.ViewportWidth), zap.Int("height", height+s.HeightPadding))

	if err := page.ScrollToBottom(ctx); err != nil {
		return nil, fmt.Errorf("scroll: %w", err)
	}

	png, err := page.ScreenshotBody(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	shot.PNG = png
	return shot, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
