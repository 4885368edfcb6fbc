package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/FranksOps/sitelayout/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// KeyPrefixDistance is the prefix for cached distance keys.
	KeyPrefixDistance = "sitelayout:distance:"
	// DefaultCacheTTL is how long a cached distance lives.
	DefaultCacheTTL = 30 * 24 * time.Hour
)

// Cache stores distances by an opaque key.
type Cache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, distance float64) error
}

// RedisCache is a Cache backed by Redis string keys.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache wraps client. ttl <= 0 uses DefaultCacheTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached distance. A miss is (0, false, nil).
func (c *RedisCache) Get(ctx context.Context, key string) (float64, bool, error) {
	val, err := c.client.Get(ctx, KeyPrefixDistance+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get cached distance: %w", err)
	}
	d, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse cached distance: %w", err)
	}
	return d, true, nil
}

// Set stores a distance under key.
func (c *RedisCache) Set(ctx context.Context, key string, distance float64) error {
	val := strconv.FormatFloat(distance, 'g', -1, 64)
	if err := c.client.Set(ctx, KeyPrefixDistance+key, val, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache distance: %w", err)
	}
	return nil
}

// RedisOptions configures DialRedis.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	PingTimeout time.Duration
}

// DialRedis connects to Redis and verifies the connection with a ping.
func DialRedis(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", opts.Addr, err)
	}

	logger.Info("connected to redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return client, nil
}

// Cached memoizes an Oracle by the content of both images, so re-running
// dedup over unchanged screenshots does not repeat remote calls. Cache
// errors are logged and fall through to the wrapped oracle.
type Cached struct {
	next   Oracle
	cache  Cache
	logger *zap.Logger
}

var _ Oracle = (*Cached)(nil)

// NewCached wraps next with cache.
func NewCached(next Oracle, cache Cache, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, cache: cache, logger: logger}
}

// Distance returns the cached distance for (pathA, pathB) or asks the
// wrapped oracle and stores the answer. Failures are never cached.
func (c *Cached) Distance(ctx context.Context, pathA, pathB string) (float64, error) {
	key, err := pairKey(pathA, pathB)
	if err != nil {
		return 0, err
	}

	d, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.Warn("distance cache read failed", zap.String("key", key), zap.Error(err))
	case ok:
		metrics.RecordCacheLookup(true)
		return d, nil
	default:
		metrics.RecordCacheLookup(false)
	}

	d, err = c.next.Distance(ctx, pathA, pathB)
	if err != nil {
		return 0, err
	}

	if err := c.cache.Set(ctx, key, d); err != nil {
		c.logger.Warn("distance cache write failed", zap.String("key", key), zap.Error(err))
	}
	return d, nil
}

// pairKey hashes both files. The pair is ordered: (a, b) and (b, a) are
// distinct keys.
func pairKey(pathA, pathB string) (string, error) {
	a, err := fileDigest(pathA)
	if err != nil {
		return "", err
	}
	b, err := fileDigest(pathB)
	if err != nil {
		return "", err
	}
	return a + ":" + b, nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("oracle: hash %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("oracle: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
