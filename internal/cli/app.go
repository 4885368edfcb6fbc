package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/FranksOps/sitelayout/internal/capture"
	"github.com/FranksOps/sitelayout/internal/config"
	"github.com/FranksOps/sitelayout/internal/dedup"
	"github.com/FranksOps/sitelayout/internal/logger"
	"github.com/FranksOps/sitelayout/internal/metrics"
	"github.com/FranksOps/sitelayout/internal/oracle"
	"github.com/FranksOps/sitelayout/internal/probe"
	"github.com/FranksOps/sitelayout/internal/storage"
	"github.com/FranksOps/sitelayout/internal/storage/postgres"
	"github.com/FranksOps/sitelayout/internal/storage/sqlite"
	"github.com/FranksOps/sitelayout/pkg/httpclient"
	"github.com/FranksOps/sitelayout/pkg/ratelimit"
	"github.com/FranksOps/sitelayout/pkg/useragent"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app holds what a command run opens and must close again.
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg     *config.Config
	log     *zap.Logger
	logPath string
	store   storage.Store
	metrics *metrics.Server
	redis   *redis.Client

	// newCapturer is replaced in tests so no browser is launched.
	newCapturer func(cfg *config.Config, log *zap.Logger) (capture.Capturer, error)
}

func newApp() *app {
	return &app{v: config.New(), newCapturer: rodCapturer}
}

// setup loads configuration, opens the run log, the store and the metrics
// endpoint for command.
func (a *app) setup(ctx context.Context, command string) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, path, err := logger.NewRun(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty}, cfg.Paths.Logs, command)
	if err != nil {
		return err
	}
	a.log, a.logPath = log, path
	a.log.Info("run started", zap.String("log_file", path), zap.String("database", cfg.Database.Driver))

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	a.store = store

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Start(cfg.Metrics.Addr, a.log)
		if err != nil {
			return err
		}
		a.metrics = srv
	}
	return nil
}

// close releases everything setup opened, in reverse order.
func (a *app) close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metrics.Stop(ctx); err != nil {
			a.log.Warn("stop metrics server", zap.Error(err))
		}
		cancel()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close store", zap.Error(err))
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.New(ctx, cfg.DSN)
	case "sqlite":
		if dir := sqliteDir(cfg.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		return sqlite.New(cfg.DSN)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// sqliteDir is the directory a file DSN lives in, or "" for in-memory and
// URI DSNs.
func sqliteDir(dsn string) string {
	if dsn == "" || strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return ""
	}
	return filepath.Dir(dsn)
}

func (a *app) userAgents() *useragent.Pool {
	rotation, _ := useragent.ParseRotation(a.cfg.Capture.UARotation)
	return useragent.NewPool(a.cfg.Capture.UserAgents, rotation)
}

func (a *app) httpClient(timeout time.Duration) (*httpclient.Client, error) {
	return httpclient.New(httpclient.Config{
		Timeout:   timeout,
		UserAgent: a.userAgents().Next,
	})
}

func rodCapturer(cfg *config.Config, log *zap.Logger) (capture.Capturer, error) {
	c := cfg.Capture
	return capture.NewRodCapturer(capture.BrowserConfig{
		Bin:        c.Browser.Bin,
		ControlURL: c.Browser.ControlURL,
		Headless:   c.Browser.Headless,
		NoSandbox:  c.Browser.NoSandbox,
	}, captureSettings(c), log)
}

func captureSettings(c config.CaptureConfig) capture.Settings {
	return capture.Settings{
		ViewportWidth:     c.ViewportWidth,
		ViewportHeight:    c.ViewportHeight,
		ScrollPause:       c.ScrollPause,
		MaxScrollHeight:   c.MaxScrollHeight,
		RescrollPause:     c.RescrollPause,
		RescrollIncrement: c.RescrollIncrement,
		HeightPadding:     c.HeightPadding,
		PageTimeout:       c.Timeout,
	}
}

// runner builds the capture runner with the probe, robots check and pacing
// the configuration asks for.
func (a *app) runner(capturer capture.Capturer) (*capture.Runner, error) {
	c := a.cfg.Capture
	uas := a.userAgents()

	opts := []capture.Option{
		capture.WithUserAgents(uas),
		capture.WithLimiter(ratelimit.NewLimiter(c.RPS, c.Jitter)),
	}

	if c.Probe || c.RespectRobots {
		profile, err := probe.ParseProfile(c.Fingerprint)
		if err != nil {
			return nil, err
		}
		prober, err := probe.New(probe.Config{
			Timeout:     c.ProbeTimeout,
			Fingerprint: profile,
			InsecureTLS: c.InsecureTLS,
			UserAgents:  uas,
		}, a.log)
		if err != nil {
			return nil, err
		}
		if c.Probe {
			opts = append(opts, capture.WithProber(prober))
		}
		if c.RespectRobots {
			opts = append(opts, capture.WithRobots(probe.NewRobotsAuditor(prober, a.log)))
		}
	}

	return capture.NewRunner(capture.RunnerConfig{
		Dir:           a.cfg.Paths.ScreenshotsRGB,
		Concurrency:   c.Concurrency,
		RespectRobots: c.RespectRobots,
	}, a.store, capturer, a.log, opts...), nil
}

// oracle builds the similarity oracle, memoized through Redis when a cache
// address is configured.
func (a *app) oracle(ctx context.Context) (dedup.Oracle, error) {
	if a.cfg.Oracle.APIKey == "" {
		return nil, errors.New("oracle.api_key is required for dedup (set SITELAYOUT_ORACLE_API_KEY)")
	}
	hc, err := a.httpClient(a.cfg.Oracle.Timeout)
	if err != nil {
		return nil, err
	}
	client, err := oracle.NewClient(oracle.Config{
		URL:     a.cfg.Oracle.URL,
		APIKey:  a.cfg.Oracle.APIKey,
		Timeout: a.cfg.Oracle.Timeout,
		HTTP:    hc,
	}, a.log)
	if err != nil {
		return nil, err
	}

	cc := a.cfg.Cache
	if cc.RedisAddr == "" {
		return client, nil
	}
	rc, err := oracle.DialRedis(ctx, oracle.RedisOptions{Addr: cc.RedisAddr, Password: cc.Password, DB: cc.DB}, a.log)
	if err != nil {
		return nil, err
	}
	a.redis = rc
	return oracle.NewCached(client, oracle.NewRedisCache(rc, cc.TTL), a.log), nil
}
