package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/sitelayout/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresStore implements storage.Store
var _ storage.Store = (*postgresStore)(nil)

type postgresStore struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS sites (
	id BIGSERIAL PRIMARY KEY,
	name VARCHAR(255) NOT NULL UNIQUE,
	host VARCHAR(255) NOT NULL UNIQUE,
	rank INTEGER NOT NULL DEFAULT 0,
	processed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS screenshots (
	id BIGSERIAL PRIMARY KEY,
	site_id BIGINT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	path TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL CHECK (type IN ('RGB', 'GREYSCALE')),
	scroll_height INTEGER NOT NULL DEFAULT 0,
	elapsed_ms BIGINT NOT NULL DEFAULT 0,
	exceeded_height BOOLEAN NOT NULL DEFAULT FALSE,
	failed BOOLEAN NOT NULL DEFAULT FALSE,
	detection_src TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_screenshots_site_type ON screenshots(site_id, type);
`

const dropSchema = `DROP TABLE IF EXISTS screenshots, sites`

const siteColumns = `id, name, host, rank, processed, created_at`

const screenshotColumns = `id, site_id, path, type, scroll_height, elapsed_ms, exceeded_height, failed, detection_src, created_at`

// New creates a new Postgres-backed storage.Store and ensures the schema exists.
func New(ctx context.Context, dsn string) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	_, err = pool.Exec(ctx, schema)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Migrate(ctx context.Context, fresh bool) error {
	if fresh {
		if _, err := s.pool.Exec(ctx, dropSchema); err != nil {
			return fmt.Errorf("drop schema: %w", err)
		}
	}
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *postgresStore) CreateSite(ctx context.Context, site *storage.Site) error {
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO sites (name, host, rank, processed, created_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT DO NOTHING
	RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		site.Name,
		site.Host,
		site.Rank,
		site.Processed,
		site.CreatedAt,
	).Scan(&site.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("create site %q: %w", site.Host, storage.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create site %q: %w", site.Host, err)
	}

	return nil
}

func (s *postgresStore) GetSite(ctx context.Context, id int64) (*storage.Site, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = $1`, id)
	site, err := scanSite(row)
	if err != nil {
		return nil, fmt.Errorf("get site %d: %w", id, err)
	}
	return site, nil
}

func (s *postgresStore) GetSiteByHost(ctx context.Context, host string) (*storage.Site, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+siteColumns+` FROM sites WHERE host = $1`, host)
	site, err := scanSite(row)
	if err != nil {
		return nil, fmt.Errorf("get site %q: %w", host, err)
	}
	return site, nil
}

func (s *postgresStore) ListSites(ctx context.Context, filter storage.SiteFilter) ([]*storage.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.Processed != nil {
		query += fmt.Sprintf(` AND processed = $%d`, paramCount)
		args = append(args, *filter.Processed)
		paramCount++
	}

	query += ` ORDER BY host ASC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
		paramCount++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []*storage.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("list sites: %w", err)
		}
		sites = append(sites, site)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}

	return sites, nil
}

func (s *postgresStore) MarkProcessed(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sites SET processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark processed %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark processed %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *postgresStore) SaveScreenshot(ctx context.Context, shot *storage.Screenshot) error {
	if shot.CreatedAt.IsZero() {
		shot.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO screenshots (
		site_id, path, type, scroll_height, elapsed_ms, exceeded_height, failed, detection_src, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		shot.SiteID,
		shot.Path,
		string(shot.Type),
		shot.ScrollHeight,
		shot.Elapsed.Milliseconds(),
		shot.ExceededHeight,
		shot.Failed,
		shot.DetectionSrc,
		shot.CreatedAt,
	).Scan(&shot.ID)
	if err != nil {
		return fmt.Errorf("save screenshot for site %d: %w", shot.SiteID, err)
	}

	return nil
}

func (s *postgresStore) FindScreenshot(ctx context.Context, siteID int64, t storage.ScreenshotType) (*storage.Screenshot, error) {
	query := `SELECT ` + screenshotColumns + ` FROM screenshots
	WHERE site_id = $1 AND type = $2 AND failed = FALSE
	ORDER BY id ASC LIMIT 1`

	shot, err := scanScreenshot(s.pool.QueryRow(ctx, query, siteID, string(t)))
	if err != nil {
		return nil, fmt.Errorf("find %s screenshot for site %d: %w", t, siteID, err)
	}
	return shot, nil
}

func (s *postgresStore) ListScreenshots(ctx context.Context, filter storage.ScreenshotFilter) ([]*storage.Screenshot, error) {
	query := `SELECT ` + screenshotColumns + ` FROM screenshots WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.SiteID > 0 {
		query += fmt.Sprintf(` AND site_id = $%d`, paramCount)
		args = append(args, filter.SiteID)
		paramCount++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(` AND type = $%d`, paramCount)
		args = append(args, string(filter.Type))
		paramCount++
	}
	if filter.Failed != nil {
		query += fmt.Sprintf(` AND failed = $%d`, paramCount)
		args = append(args, *filter.Failed)
		paramCount++
	}

	query += ` ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list screenshots: %w", err)
	}
	defer rows.Close()

	var shots []*storage.Screenshot
	for rows.Next() {
		shot, err := scanScreenshot(rows)
		if err != nil {
			return nil, fmt.Errorf("list screenshots: %w", err)
		}
		shots = append(shots, shot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list screenshots: %w", err)
	}

	return shots, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanSite(row pgx.Row) (*storage.Site, error) {
	var site storage.Site
	err := row.Scan(&site.ID, &site.Name, &site.Host, &site.Rank, &site.Processed, &site.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func scanScreenshot(row pgx.Row) (*storage.Screenshot, error) {
	var shot storage.Screenshot
	var shotType string
	var elapsedMs int64

	err := row.Scan(
		&shot.ID, &shot.SiteID, &shot.Path, &shotType, &shot.ScrollHeight,
		&elapsedMs, &shot.ExceededHeight, &shot.Failed, &shot.DetectionSrc, &shot.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	shot.Type = storage.ScreenshotType(shotType)
	shot.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	return &shot, nil
}
