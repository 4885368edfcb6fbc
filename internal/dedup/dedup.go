// Package dedup groups captured sites by domain identity and drops hosts
// whose layout is visually indistinguishable from their group's base site.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/FranksOps/sitelayout/internal/metrics"
	"github.com/FranksOps/sitelayout/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrIncomplete is returned by Result.Err when any host could not be
// parsed or looked up.
var ErrIncomplete = errors.New("dedup: run incomplete")

// Store is the slice of storage.Store the deduplicator reads.
type Store interface {
	ListSites(ctx context.Context, filter storage.SiteFilter) ([]*storage.Site, error)
	FindScreenshot(ctx context.Context, siteID int64, t storage.ScreenshotType) (*storage.Screenshot, error)
}

// Oracle scores the visual distance between two images.
type Oracle interface {
	Distance(ctx context.Context, pathA, pathB string) (float64, error)
}

// CompareMode selects how a distance is compared to the threshold.
type CompareMode string

const (
	// CompareTruncate truncates distance and threshold to integers first.
	CompareTruncate CompareMode = "truncate"
	// CompareExact compares the raw floating point values.
	CompareExact CompareMode = "exact"
)

// Keep reports whether distance is far enough from the base to keep a host.
func (m CompareMode) Keep(distance, threshold float64) bool {
	if m == CompareExact {
		return distance >= threshold
	}
	return int64(distance) >= int64(threshold)
}

// ParseCompareMode parses a configured compare mode. Empty means truncate.
func ParseCompareMode(s string) (CompareMode, error) {
	switch CompareMode(s) {
	case "", CompareTruncate:
		return CompareTruncate, nil
	case CompareExact:
		return CompareExact, nil
	}
	return "", fmt.Errorf("dedup: unknown compare mode %q", s)
}

// Outcome is the decision recorded for one host.
type Outcome string

const (
	OutcomeUnique       Outcome = "unique"
	OutcomeBase         Outcome = "base"
	OutcomeKept         Outcome = "kept"
	OutcomeDropped      Outcome = "dropped"
	OutcomeParseFailed  Outcome = "parse_failed"
	OutcomeLookupFailed Outcome = "lookup_failed"
	OutcomeOracleFailed Outcome = "oracle_failed"
)

// Decision records what happened to a single host.
type Decision struct {
	Key      Key
	Host     string
	SiteID   int64
	BaseHost string
	Distance float64
	Compared bool
	Outcome  Outcome
	Err      string
}

// Result is the outcome of a deduplication run.
type Result struct {
	RunID          string
	Unique         []string
	Decisions      []Decision
	Groups         int
	PreFilterCount int
	Threshold      float64
	CompareMode    CompareMode
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Count returns the number of decisions with outcome o.
func (r *Result) Count(o Outcome) int {
	n := 0
	for _, d := range r.Decisions {
		if d.Outcome == o {
			n++
		}
	}
	return n
}

// Err returns ErrIncomplete if any parse or lookup failure occurred.
// Oracle failures leave hosts unresolved in Decisions but do not fail the
// run.
func (r *Result) Err() error {
	parse := r.Count(OutcomeParseFailed)
	lookup := r.Count(OutcomeLookupFailed)
	if parse+lookup == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d parse, %d lookup failures", ErrIncomplete, parse, lookup)
}

// Config controls the keep/drop boundary and oracle call budget.
type Config struct {
	Threshold     float64
	CompareMode   CompareMode
	OracleTimeout time.Duration
}

// Deduplicator selects one representative per domain group and keeps any
// other member whose screenshot is far enough from it.
type Deduplicator struct {
	cfg    Config
	store  Store
	oracle Oracle
	logger *zap.Logger
}

// New creates a Deduplicator.
func New(cfg Config, store Store, oracle Oracle, logger *zap.Logger) *Deduplicator {
	if cfg.CompareMode == "" {
		cfg.CompareMode = CompareTruncate
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{
		cfg:    cfg,
		store:  store,
		oracle: oracle,
		logger: logger,
	}
}

// Run evaluates every site in the store. Per-host failures are recorded in
// the Result and do not stop the run; only a store listing failure or
// context cancellation returns an error.
func (d *Deduplicator) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:       uuid.New().String(),
		Threshold:   d.cfg.Threshold,
		CompareMode: d.cfg.CompareMode,
		StartedAt:   time.Now().UTC(),
	}
	log := d.logger.With(zap.String("run_id", res.RunID))

	log.Info("identifying layout duplicates",
		zap.Float64("threshold", d.cfg.Threshold),
		zap.String("compare_mode", string(d.cfg.CompareMode)))

	sites, err := d.store.ListSites(ctx, storage.SiteFilter{})
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}

	hosts := make([]string, 0, len(sites))
	ids := make(map[string]int64, len(sites))
	for _, s := range sites {
		hosts = append(hosts, s.Host)
		ids[s.Host] = s.ID
	}

	groups, failures := BuildGroups(hosts)
	for _, f := range failures {
		log.Error("excluding host from grouping", zap.String("host", f.Host), zap.Error(f.Err))
		d.record(res, Decision{Host: f.Host, SiteID: ids[f.Host], Outcome: OutcomeParseFailed, Err: f.Err.Error()})
	}
	res.Groups = groups.Len()
	log.Debug("domains grouped", zap.Int("groups", groups.Len()), zap.Int("hosts", len(hosts)))

	for _, key := range groups.Keys() {
		if err := ctx.Err(); err != nil {
			res.FinishedAt = time.Now().UTC()
			return res, err
		}

		members := groups.Hosts(key)
		res.PreFilterCount += len(members)

		switch len(members) {
		case 0:
			log.Warn("no domain found, skipping", zap.String("key", string(key)))
		case 1:
			log.Info("unique domain", zap.String("host", members[0]))
			res.Unique = append(res.Unique, members[0])
			d.record(res, Decision{Key: key, Host: members[0], SiteID: ids[members[0]], Outcome: OutcomeUnique})
		default:
			d.filterGroup(ctx, log, res, key, members, ids)
		}
	}

	res.FinishedAt = time.Now().UTC()
	log.Info("layout duplicate identification finished",
		zap.Int("pre_filter_count", res.PreFilterCount),
		zap.Int("post_filter_count", len(res.Unique)),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))

	return res, nil
}

func (d *Deduplicator) filterGroup(ctx context.Context, log *zap.Logger, res *Result, key Key, members []string, ids map[string]int64) {
	byID := make(map[int64]string, len(members))
	siteIDs := make([]int64, 0, len(members))
	for _, host := range members {
		id, ok := ids[host]
		if !ok {
			log.Error("site not found for host, skipping entry", zap.String("host", host))
			d.record(res, Decision{Key: key, Host: host, Outcome: OutcomeLookupFailed, Err: storage.ErrNotFound.Error()})
			continue
		}
		byID[id] = host
		siteIDs = append(siteIDs, id)
	}
	if len(siteIDs) == 0 {
		return
	}

	slices.Sort(siteIDs)
	baseID := siteIDs[0]
	baseHost := byID[baseID]

	log.Info("base domain", zap.String("key", string(key)), zap.String("host", baseHost), zap.Int64("site_id", baseID))
	res.Unique = append(res.Unique, baseHost)
	d.record(res, Decision{Key: key, Host: baseHost, SiteID: baseID, BaseHost: baseHost, Outcome: OutcomeBase})

	baseShot, err := d.store.FindScreenshot(ctx, baseID, storage.ScreenshotGreyscale)
	if err != nil {
		log.Error("base screenshot lookup failed, aborting group",
			zap.String("host", baseHost), zap.Int64("site_id", baseID), zap.Error(err))
		for _, id := range siteIDs[1:] {
			d.record(res, Decision{
				Key: key, Host: byID[id], SiteID: id, BaseHost: baseHost,
				Outcome: OutcomeLookupFailed, Err: err.Error(),
			})
		}
		return
	}

	for _, id := range siteIDs[1:] {
		host := byID[id]
		decision := Decision{Key: key, Host: host, SiteID: id, BaseHost: baseHost}

		shot, err := d.store.FindScreenshot(ctx, id, storage.ScreenshotGreyscale)
		if err != nil {
			log.Error("screenshot lookup failed, skipping entry",
				zap.String("host", host), zap.Int64("site_id", id), zap.Error(err))
			decision.Outcome = OutcomeLookupFailed
			decision.Err = err.Error()
			d.record(res, decision)
			continue
		}

		distance, err := d.distance(ctx, baseShot.Path, shot.Path)
		if err != nil {
			log.Error("similarity oracle failed, host not evaluated",
				zap.String("base", baseHost), zap.String("host", host), zap.Error(err))
			decision.Outcome = OutcomeOracleFailed
			decision.Err = err.Error()
			d.record(res, decision)
			continue
		}

		decision.Compared = true
		decision.Distance = distance
		metrics.ObserveDistance(distance)
		log.Info("similarity distance",
			zap.String("base", baseHost), zap.String("host", host), zap.Float64("distance", distance))

		if d.cfg.CompareMode.Keep(distance, d.cfg.Threshold) {
			log.Info("appending host", zap.String("host", host))
			res.Unique = append(res.Unique, host)
			decision.Outcome = OutcomeKept
		} else {
			log.Info("dropping duplicate layout", zap.String("host", host), zap.String("base", baseHost))
			decision.Outcome = OutcomeDropped
		}
		d.record(res, decision)
	}
}

func (d *Deduplicator) distance(ctx context.Context, basePath, otherPath string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.OracleTimeout)
	defer cancel()
	return d.oracle.Distance(ctx, basePath, otherPath)
}

func (d *Deduplicator) record(res *Result, decision Decision) {
	res.Decisions = append(res.Decisions, decision)
	metrics.RecordDecision(string(decision.Outcome))
}
