package capture

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Capturer renders url and returns a full-page screenshot.
type Capturer interface {
	Capture(ctx context.Context, url, userAgent string) (*Shot, error)
	Close() error
}

// BrowserConfig selects and launches the browser.
type BrowserConfig struct {
	// Bin is the browser executable; empty lets rod download or find one.
	Bin string
	// ControlURL connects to an already running browser instead of launching.
	ControlURL string
	Headless   bool
	NoSandbox  bool
}

// RodCapturer drives Chromium over the DevTools protocol. Each capture runs
// in its own incognito context so cookies never leak between sites.
type RodCapturer struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	settings Settings
	logger   *zap.Logger
}

var _ Capturer = (*RodCapturer)(nil)

// NewRodCapturer launches (or connects to) a browser.
func NewRodCapturer(cfg BrowserConfig, settings Settings, logger *zap.Logger) (*RodCapturer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &RodCapturer{settings: settings, logger: logger}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless).NoSandbox(cfg.NoSandbox)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		c.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		c.killLauncher()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	c.browser = browser

	logger.Info("browser ready", zap.String("control_url", controlURL), zap.Bool("headless", cfg.Headless))
	return c, nil
}

// Capture opens url in a fresh incognito page and runs the scroll routine.
func (c *RodCapturer) Capture(ctx context.Context, url, userAgent string) (*Shot, error) {
	if c.settings.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.settings.PageTimeout)
		defer cancel()
	}

	incognito, err := c.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	defer incognito.Close()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	if userAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}

	rp := &rodPage{page: page}
	if err := rp.SetViewport(ctx, c.settings.ViewportWidth, c.settings.ViewportHeight); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	c.logger.Debug("navigating", zap.String("url", url))
	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	return shoot(ctx, rp, c.settings, c.logger)
}

// Close shuts the browser down.
func (c *RodCapturer) Close() error {
	var err error
	if c.browser != nil {
		err = c.browser.Close()
	}
	c.killLauncher()
	return err
}

func (c *RodCapturer) killLauncher() {
	if c.launcher != nil {
		c.launcher.Kill()
		c.launcher.Cleanup()
	}
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) ScrollHeight(ctx context.Context) (int, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (p *rodPage) ScrollToBottom(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return err
}

func (p *rodPage) ScrollTo(ctx context.Context, y int) error {
	_, err := p.page.Context(ctx).Eval(`y => window.scrollTo(0, y)`, y)
	return err
}

func (p *rodPage) SetViewport(ctx context.Context, width, height int) error {
	return p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
}

func (p *rodPage) ScreenshotBody(ctx context.Context) ([]byte, error) {
	body, err := p.page.Context(ctx).Element("body")
	if err != nil {
		return nil, err
	}
	return body.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}
