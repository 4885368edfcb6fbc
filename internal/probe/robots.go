package probe

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RobotsAuditor fetches and caches robots.txt per origin.
type RobotsAuditor struct {
	prober *Prober
	logger *zap.Logger
	group  singleflight.Group
	mu     sync.RWMutex
	cache  map[string]*robotstxt.RobotsData
}

// NewRobotsAuditor creates a new instance.
func NewRobotsAuditor(prober *Prober, logger *zap.Logger) *RobotsAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsAuditor{
		prober: prober,
		logger: logger,
		cache:  make(map[string]*robotstxt.RobotsData),
	}
}

// IsAllowed reports whether targetURL may be fetched by userAgent. A
// missing or unreachable robots.txt allows everything.
func (r *RobotsAuditor) IsAllowed(ctx context.Context, targetURL string, userAgent string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return false, fmt.Errorf("invalid url: %q is not absolute", targetURL)
	}

	origin := u.Scheme + "://" + u.Host
	data, err := r.getOrFetch(ctx, origin)
	if err != nil {
		r.logger.Debug("robots.txt fetch failed, defaulting to allow", zap.String("origin", origin), zap.Error(err))
		return true, nil
	}
	if data == nil {
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.FindGroup(userAgent).Test(path), nil
}

func (r *RobotsAuditor) getOrFetch(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	r.mu.RLock()
	data, ok := r.cache[origin]
	r.mu.RUnlock()
	if ok {
		return data, nil
	}

	v, err, _ := r.group.Do(origin, func() (any, error) {
		r.mu.RLock()
		data, ok := r.cache[origin]
		r.mu.RUnlock()
		if ok {
			return data, nil
		}

		data, err := r.fetch(ctx, origin)
		r.mu.Lock()
		r.cache[origin] = data
		r.mu.Unlock()
		return data, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*robotstxt.RobotsData), nil
}

func (r *RobotsAuditor) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	res := r.prober.Fetch(ctx, origin+"/robots.txt")
	if res.Error != "" {
		return nil, fmt.Errorf("fetch error: %s", res.Error)
	}
	if res.StatusCode >= 400 {
		return nil, nil
	}

	parsed, err := robotstxt.FromBytes(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return parsed, nil
}
