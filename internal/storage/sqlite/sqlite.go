package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/sitelayout/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteStore implements storage.Store
var _ storage.Store = (*sqliteStore)(nil)

type sqliteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sites (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	host TEXT NOT NULL UNIQUE,
	rank INTEGER NOT NULL DEFAULT 0,
	processed BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS screenshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	site_id INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	path TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	scroll_height INTEGER NOT NULL DEFAULT 0,
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	exceeded_height BOOLEAN NOT NULL DEFAULT 0,
	failed BOOLEAN NOT NULL DEFAULT 0,
	detection_src TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_screenshots_site_type ON screenshots(site_id, type);
`

const dropSchema = `
DROP TABLE IF EXISTS screenshots;
DROP TABLE IF EXISTS sites;
`

const siteColumns = `id, name, host, rank, processed, created_at`

const screenshotColumns = `id, site_id, path, type, scroll_height, elapsed_ms, exceeded_height, failed, detection_src, created_at`

// New creates a new SQLite-backed storage.Store and ensures the schema exists.
func New(dsn string) (storage.Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps in-memory databases and the foreign_keys
	// pragma consistent across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Migrate(ctx context.Context, fresh bool) error {
	if fresh {
		if _, err := s.db.ExecContext(ctx, dropSchema); err != nil {
			return fmt.Errorf("drop schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *sqliteStore) CreateSite(ctx context.Context, site *storage.Site) error {
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO sites (name, host, rank, processed, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT DO NOTHING
	RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		site.Name,
		site.Host,
		site.Rank,
		site.Processed,
		site.CreatedAt,
	).Scan(&site.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("create site %q: %w", site.Host, storage.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create site %q: %w", site.Host, err)
	}

	return nil
}

func (s *sqliteStore) GetSite(ctx context.Context, id int64) (*storage.Site, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = ?`, id)
	site, err := scanSite(row)
	if err != nil {
		return nil, fmt.Errorf("get site %d: %w", id, err)
	}
	return site, nil
}

func (s *sqliteStore) GetSiteByHost(ctx context.Context, host string) (*storage.Site, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE host = ?`, host)
	site, err := scanSite(row)
	if err != nil {
		return nil, fmt.Errorf("get site %q: %w", host, err)
	}
	return site, nil
}

func (s *sqliteStore) ListSites(ctx context.Context, filter storage.SiteFilter) ([]*storage.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE 1=1`
	args := []any{}

	if filter.Processed != nil {
		query += ` AND processed = ?`
		args = append(args, *filter.Processed)
	}

	query += ` ORDER BY host ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *sqliteStore) MarkProcessed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sites SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark processed %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark processed %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark processed %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) SaveScreenshot(ctx context.Context, shot *storage.Screenshot) error {
	if shot.CreatedAt.IsZero() {
		shot.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO screenshots (
		site_id, path, type, scroll_height, elapsed_ms, exceeded_height, failed, detection_src, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
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

func (s *sqliteStore) FindScreenshot(ctx context.Context, siteID int64, t storage.ScreenshotType) (*storage.Screenshot, error) {
	query := `SELECT ` + screenshotColumns + ` FROM screenshots
	WHERE site_id = ? AND type = ? AND failed = 0
	ORDER BY id ASC LIMIT 1`

	shot, err := scanScreenshot(s.db.QueryRowContext(ctx, query, siteID, string(t)))
	if err != nil {
		return nil, fmt.Errorf("find %s screenshot for site %d: %w", t, siteID, err)
	}
	return shot, nil
}

func (s *sqliteStore) ListScreenshots(ctx context.Context, filter storage.ScreenshotFilter) ([]*storage.Screenshot, error) {
	query := `SELECT ` + screenshotColumns + ` FROM screenshots WHERE 1=1`
	args := []any{}

	if filter.SiteID > 0 {
		query += ` AND site_id = ?`
		args = append(args, filter.SiteID)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Failed != nil {
		query += ` AND failed = ?`
		args = append(args, *filter.Failed)
	}

	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSite(row scanner) (*storage.Site, error) {
	var site storage.Site
	err := row.Scan(&site.ID, &site.Name, &site.Host, &site.Rank, &site.Processed, &site.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func scanScreenshot(row scanner) (*storage.Screenshot, error) {
	var shot storage.Screenshot
	var shotType string
	var elapsedMs int64

	err := row.Scan(
		&shot.ID, &shot.SiteID, &shot.Path, &shotType, &shot.ScrollHeight,
		&elapsedMs, &shot.ExceededHeight, &shot.Failed, &shot.DetectionSrc, &shot.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	shot.Type = storage.ScreenshotType(shotType)
	shot.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	return &shot, nil
}
