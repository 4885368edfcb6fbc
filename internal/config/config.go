// Package config loads sitelayout settings. SITELAYOUT_* environment
// variables (optionally from a .env file) override the YAML file, which
// overrides the defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FranksOps/sitelayout/internal/dedup"
	"github.com/FranksOps/sitelayout/internal/probe"
	"github.com/FranksOps/sitelayout/pkg/useragent"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// SITELAYOUT_DEDUP_SIMILARITY_THRESHOLD.
const EnvPrefix = "SITELAYOUT"

// Config is the full application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type PathsConfig struct {
	ScreenshotsRGB  string `mapstructure:"screenshots_rgb"`
	ScreenshotsGrey string `mapstructure:"screenshots_grey"`
	ClusterData     string `mapstructure:"cluster_data"`
	Logs            string `mapstructure:"logs"`
	UniqueHosts     string `mapstructure:"unique_hosts"`
}

type BrowserConfig struct {
	Bin        string `mapstructure:"bin"`
	ControlURL string `mapstructure:"control_url"`
	Headless   bool   `mapstructure:"headless"`
	NoSandbox  bool   `mapstructure:"no_sandbox"`
}

type CaptureConfig struct {
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	ScrollPause       time.Duration `mapstructure:"scroll_pause"`
	MaxScrollHeight   int           `mapstructure:"max_scroll_height"`
	RescrollPause     time.Duration `mapstructure:"rescroll_pause"`
	RescrollIncrement int           `mapstructure:"rescroll_increment"`
	HeightPadding     int           `mapstructure:"height_padding"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
	RPS               float64       `mapstructure:"rps"`
	Jitter            float64       `mapstructure:"jitter"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	Probe             bool          `mapstructure:"probe"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	Fingerprint       string        `mapstructure:"fingerprint"`
	InsecureTLS       bool          `mapstructure:"insecure_tls"`
	UserAgents        []string      `mapstructure:"user_agents"`
	UARotation        string        `mapstructure:"ua_rotation"`
	Browser           BrowserConfig `mapstructure:"browser"`
}

type OracleConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheConfig configures the Redis distance cache. An empty RedisAddr
// disables it.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type DedupConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	CompareMode         string  `mapstructure:"compare_mode"`
}

// ClusterConfig is the crop applied by copy --crop.
type ClusterConfig struct {
	CropWidth  int `mapstructure:"crop_width"`
	CropHeight int `mapstructure:"crop_height"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./storage/sitelayout.db")

	v.SetDefault("paths.screenshots_rgb", "./storage/screenshots/original")
	v.SetDefault("paths.screenshots_grey", "./storage/screenshots/greyscale")
	v.SetDefault("paths.cluster_data", "./storage/cluster_data")
	v.SetDefault("paths.logs", "./storage/logs")
	v.SetDefault("paths.unique_hosts", "./storage/logs/unique_domains.log")

	v.SetDefault("capture.viewport_width", 2560)
	v.SetDefault("capture.viewport_height", 1440)
	v.SetDefault("capture.scroll_pause", 2*time.Second)
	v.SetDefault("capture.max_scroll_height", 30000)
	v.SetDefault("capture.rescroll_pause", 250*time.Millisecond)
	v.SetDefault("capture.rescroll_increment", 720)
	v.SetDefault("capture.height_padding", 150)
	v.SetDefault("capture.timeout", 3*time.Minute)
	v.SetDefault("capture.concurrency", 1)
	v.SetDefault("capture.rps", 0.0)
	v.SetDefault("capture.jitter", 0.0)
	v.SetDefault("capture.respect_robots", false)
	v.SetDefault("capture.probe", false)
	v.SetDefault("capture.probe_timeout", 20*time.Second)
	v.SetDefault("capture.fingerprint", string(probe.ProfileChrome))
	v.SetDefault("capture.insecure_tls", false)
	v.SetDefault("capture.user_agents", []string{})
	v.SetDefault("capture.ua_rotation", string(useragent.Sequential))
	v.SetDefault("capture.browser.bin", "")
	v.SetDefault("capture.browser.control_url", "")
	v.SetDefault("capture.browser.headless", true)
	v.SetDefault("capture.browser.no_sandbox", false)

	v.SetDefault("oracle.url", "https://api.deepai.org/api/image-similarity")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.timeout", 60*time.Second)

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 30*24*time.Hour)

	v.SetDefault("dedup.similarity_threshold", 50.0)
	v.SetDefault("dedup.compare_mode", string(dedup.CompareTruncate))

	v.SetDefault("cluster.crop_width", 2560)
	v.SetDefault("cluster.crop_height", 1440)

	v.SetDefault("metrics.addr", "")
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads configuration into v. An explicit path must exist; without
// one, sitelayout.yaml is looked up in . and ./config and may be absent.
// A .env file in the working directory is loaded first if present.
func Load(v *viper.Viper, path string) (*Config, error) {
	_ = godotenv.Load()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sitelayout")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no command could run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn: required"))
	}

	if _, err := dedup.ParseCompareMode(c.Dedup.CompareMode); err != nil {
		errs = append(errs, fmt.Errorf("dedup.compare_mode: %w", err))
	}
	if c.Dedup.SimilarityThreshold < 0 {
		errs = append(errs, fmt.Errorf("dedup.similarity_threshold: must not be negative, got %v", c.Dedup.SimilarityThreshold))
	}

	if c.Oracle.Timeout <= 0 {
		errs = append(errs, errors.New("oracle.timeout: must be positive"))
	}
	if c.Capture.Timeout <= 0 {
		errs = append(errs, errors.New("capture.timeout: must be positive"))
	}
	if c.Capture.Concurrency < 1 {
		errs = append(errs, errors.New("capture.concurrency: must be at least 1"))
	}
	if c.Capture.ViewportWidth <= 0 || c.Capture.ViewportHeight <= 0 {
		errs = append(errs, errors.New("capture.viewport: width and height must be positive"))
	}
	if _, err := probe.ParseProfile(c.Capture.Fingerprint); err != nil {
		errs = append(errs, fmt.Errorf("capture.fingerprint: %w", err))
	}
	if _, err := useragent.ParseRotation(c.Capture.UARotation); err != nil {
		errs = append(errs, fmt.Errorf("capture.ua_rotation: %w", err))
	}
	if c.Cluster.CropWidth < 0 || c.Cluster.CropHeight < 0 {
		errs = append(errs, errors.New("cluster: crop size must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
