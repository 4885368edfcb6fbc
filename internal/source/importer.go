package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/FranksOps/sitelayout/internal/metrics"
	"github.com/FranksOps/sitelayout/internal/storage"
	"go.uber.org/zap"
)

// SiteCreator is the slice of storage.Store the importer writes to.
type SiteCreator interface {
	CreateSite(ctx context.Context, site *storage.Site) error
}

// ImportSummary counts the outcomes of an import.
type ImportSummary struct {
	Created   int
	Duplicate int
	Invalid   int
}

// Importer creates one Site per entry.
type Importer struct {
	store  SiteCreator
	logger *zap.Logger
}

// NewImporter creates an Importer.
func NewImporter(store SiteCreator, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{store: store, logger: logger}
}

// Import stores entries as unprocessed sites. Hosts already in the store are
// skipped, hosts that cannot name a site are counted as invalid.
func (i *Importer) Import(ctx context.Context, entries []Entry) (*ImportSummary, error) {
	sum := &ImportSummary{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		if !validHost(e.Host) {
			i.logger.Warn("invalid host, skipping", zap.String("host", e.Host))
			metrics.RecordImport("invalid")
			sum.Invalid++
			continue
		}

		site := &storage.Site{Host: e.Host, Name: storage.NameForHost(e.Host), Rank: e.Rank}
		err := i.store.CreateSite(ctx, site)
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			i.logger.Info("site already exists, skipping", zap.String("host", e.Host))
			metrics.RecordImport("duplicate")
			sum.Duplicate++
		case err != nil:
			return sum, fmt.Errorf("create site %s: %w", e.Host, err)
		default:
			i.logger.Info("parsing site", zap.String("site", site.Name), zap.String("host", site.Host), zap.Int("rank", site.Rank))
			metrics.RecordImport("created")
			sum.Created++
		}
	}

	i.logger.Info("import finished",
		zap.Int("created", sum.Created),
		zap.Int("duplicate", sum.Duplicate),
		zap.Int("invalid", sum.Invalid))
	return sum, nil
}

func validHost(host string) bool {
	return host != "" && !strings.ContainsAny(host, " \t\r\n/\\:@?#") && strings.Contains(host, ".")
}
