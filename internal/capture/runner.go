package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/FranksOps/sitelayout/internal/metrics"
	"github.com/FranksOps/sitelayout/internal/probe"
	"github.com/FranksOps/sitelayout/internal/storage"
	"github.com/FranksOps/sitelayout/pkg/ratelimit"
	"github.com/FranksOps/sitelayout/pkg/useragent"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Dir receives <name>.png for every capture.
	Dir         string
	Concurrency int
	// RespectRobots skips sites whose robots.txt disallows the landing page.
	RespectRobots bool
}

// Runner captures every pending site in the store.
type Runner struct {
	cfg      RunnerConfig
	store    storage.Store
	capturer Capturer
	prober   *probe.Prober
	robots   *probe.RobotsAuditor
	limiter  *ratelimit.Limiter
	uas      *useragent.Pool
	logger   *zap.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithProber enables the pre-capture probe.
func WithProber(p *probe.Prober) Option {
	return func(r *Runner) { r.prober = p }
}

// WithRobots enables robots.txt checks through a.
func WithRobots(a *probe.RobotsAuditor) Option {
	return func(r *Runner) { r.robots = a }
}

// WithLimiter paces captures.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(r *Runner) { r.limiter = l }
}

// WithUserAgents sets the pool the browser's User-Agent is drawn from.
func WithUserAgents(p *useragent.Pool) Option {
	return func(r *Runner) { r.uas = p }
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig, store storage.Store, capturer Capturer, logger *zap.Logger, opts ...Option) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:      cfg,
		store:    store,
		capturer: capturer,
		logger:   logger,
		uas:      useragent.NewPool(nil, useragent.Sequential),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOptions selects which sites a run captures.
type RunOptions struct {
	// Failed recaptures sites whose last RGB capture failed instead of
	// unprocessed sites.
	Failed bool
	Limit  int
}

// Summary counts the outcomes of a run.
type Summary struct {
	Attempted int
	Captured  int
	Failed    int
	Skipped   int
}

// Run captures the selected sites. Per-site failures are recorded as failed
// screenshot rows; only store errors and cancellation stop the run.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	sites, err := r.pending(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot dir: %w", err)
	}

	r.logger.Info("capturing sites",
		zap.Int("sites", len(sites)),
		zap.Int("concurrency", r.cfg.Concurrency),
		zap.Bool("failed_only", opts.Failed))

	var mu sync.Mutex
	sum := &Summary{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, site := range sites {
		g.Go(func() error {
			outcome, err := r.captureSite(gctx, site)
			mu.Lock()
			defer mu.Unlock()
			sum.Attempted++
			switch outcome {
			case outcomeCaptured:
				sum.Captured++
			case outcomeFailed:
				sum.Failed++
			case outcomeSkipped:
				sum.Skipped++
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return sum, err
	}

	r.logger.Info("capture finished",
		zap.Int("captured", sum.Captured),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped))
	return sum, nil
}

func (r *Runner) pending(ctx context.Context, opts RunOptions) ([]*storage.Site, error) {
	if !opts.Failed {
		unprocessed := false
		sites, err := r.store.ListSites(ctx, storage.SiteFilter{Processed: &unprocessed, Limit: opts.Limit})
		if err != nil {
			return nil, fmt.Errorf("list sites: %w", err)
		}
		return sites, nil
	}

	failed := true
	shots, err := r.store.ListScreenshots(ctx, storage.ScreenshotFilter{Type: storage.ScreenshotRGB, Failed: &failed})
	if err != nil {
		return nil, fmt.Errorf("list failed screenshots: %w", err)
	}

	seen := make(map[int64]bool, len(shots))
	var sites []*storage.Site
	for _, shot := range shots {
		if seen[shot.SiteID] {
			continue
		}
		seen[shot.SiteID] = true

		// a later successful recapture supersedes the failure
		_, err := r.store.FindScreenshot(ctx, shot.SiteID, storage.ScreenshotRGB)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("find screenshot for site %d: %w", shot.SiteID, err)
		}

		site, err := r.store.GetSite(ctx, shot.SiteID)
		if err != nil {
			return nil, fmt.Errorf("get site %d: %w", shot.SiteID, err)
		}
		sites = append(sites, site)
		if opts.Limit > 0 && len(sites) >= opts.Limit {
			break
		}
	}
	return sites, nil
}

type outcome int

const (
	outcomeCaptured outcome = iota
	outcomeFailed
	outcomeSkipped
)

func (r *Runner) captureSite(ctx context.Context, site *storage.Site) (outcome, error) {
	log := r.logger.With(zap.String("site", site.Name), zap.String("host", site.Host))

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return outcomeSkipped, err
		}
	}

	url := probe.URLForHost(site.Host)
	ua := r.uas.Next()
	start := time.Now()

	shot := &storage.Screenshot{
		SiteID: site.ID,
		Path:   filepath.Join(r.cfg.Dir, site.Name+".png"),
		Type:   storage.ScreenshotRGB,
	}

	if r.robots != nil && r.cfg.RespectRobots {
		allowed, err := r.robots.IsAllowed(ctx, url, ua)
		if err == nil && !allowed {
			log.Warn("robots.txt disallows landing page, skipping")
			shot.Failed = true
			shot.DetectionSrc = "robots.txt"
			return outcomeSkipped, r.finish(ctx, log, site, shot, start)
		}
	}

	if r.prober != nil {
		res := r.prober.Probe(ctx, site.Host)
		shot.DetectionSrc = res.DetectionSrc
		if res.Error != "" {
			log.Warn("probe failed, capturing anyway", zap.String("error", res.Error))
		} else {
			log.Info("probe",
				zap.Int("status", res.StatusCode),
				zap.String("title", res.Title),
				zap.String("detection_src", res.DetectionSrc))
		}
	}

	log.Info("beginning site", zap.String("url", url))
	result, err := r.capturer.Capture(ctx, url, ua)
	if err == nil {
		err = writeFile(shot.Path, result.PNG)
	}
	if err != nil {
		if ctx.Err() != nil {
			return outcomeSkipped, ctx.Err()
		}
		log.Error("capture failed", zap.Error(err))
		shot.Failed = true
		return outcomeFailed, r.finish(ctx, log, site, shot, start)
	}

	shot.ScrollHeight = result.ScrollHeight
	shot.ExceededHeight = result.ExceededHeight
	return outcomeCaptured, r.finish(ctx, log, site, shot, start)
}

// finish records shot and marks the site processed whatever the outcome.
func (r *Runner) finish(ctx context.Context, log *zap.Logger, site *storage.Site, shot *storage.Screenshot, start time.Time) error {
	shot.Elapsed = time.Since(start)
	if err := r.store.SaveScreenshot(ctx, shot); err != nil {
		return fmt.Errorf("save screenshot for %s: %w", site.Host, err)
	}
	if err := r.store.MarkProcessed(ctx, site.ID); err != nil {
		return fmt.Errorf("mark %s processed: %w", site.Host, err)
	}
	metrics.RecordCapture(shot)

	log.Info("finished site",
		zap.Duration("elapsed", shot.Elapsed),
		zap.Int("scroll_height", shot.ScrollHeight),
		zap.Bool("exceeded_height", shot.ExceededHeight),
		zap.Bool("failed", shot.Failed))
	return nil
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
