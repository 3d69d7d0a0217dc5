// Package sqlite implements store.SiteStore on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/makt28/mandown/internal/store"
)

// Store implements store.SiteStore for SQLite.
type Store struct {
	db *sql.DB
}

// New opens the database file at dataSourceName and runs migrations.
func New(ctx context.Context, dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// SQLite serialises writers; one connection also keeps the pragmas.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS sites (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	url          TEXT NOT NULL UNIQUE,
	status       INTEGER NOT NULL,
	last_checked TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS site_owners (
	site_id    INTEGER NOT NULL,
	chat_id    INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (site_id, chat_id),
	FOREIGN KEY(site_id) REFERENCES sites(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_site_owners_chat_id ON site_owners (chat_id);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) ListSitesPage(ctx context.Context, skip, limit int) ([]store.Site, error) {
	if err := store.CheckPage(skip, limit); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, status, last_checked FROM sites ORDER BY id LIMIT ? OFFSET ?`, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	return scanSites(rows)
}

func (s *Store) WriteBack(ctx context.Context, sites []store.Site) error {
	var errs []error
	for _, site := range sites {
		_, err := s.db.ExecContext(ctx,
			`UPDATE sites SET status = ?, last_checked = ? WHERE id = ?`,
			site.Status, site.LastChecked.UTC().Format(time.RFC3339Nano), site.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("update site %d: %w", site.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) OwnersOf(ctx context.Context, siteID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM site_owners WHERE site_id = ? ORDER BY chat_id`, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	owners := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

func (s *Store) TrackSite(ctx context.Context, url string, owner int64) (store.Site, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Site{}, false, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
INSERT INTO sites (url, status, last_checked)
VALUES (?, ?, ?)
ON CONFLICT(url) DO NOTHING`, url, store.DefaultStatus, now)
	if err != nil {
		return store.Site{}, false, fmt.Errorf("failed to insert site: %w", err)
	}

	var (
		site    store.Site
		checked string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, url, status, last_checked FROM sites WHERE url = ?`, url).
		Scan(&site.ID, &site.URL, &site.Status, &checked)
	if err != nil {
		return store.Site{}, false, fmt.Errorf("failed to load site: %w", err)
	}
	if site.LastChecked, err = time.Parse(time.RFC3339Nano, checked); err != nil {
		return store.Site{}, false, fmt.Errorf("failed to parse last_checked: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO site_owners (site_id, chat_id, created_at)
VALUES (?, ?, ?)
ON CONFLICT(site_id, chat_id) DO NOTHING`, site.ID, owner, now)
	if err != nil {
		return store.Site{}, false, fmt.Errorf("failed to link owner: %w", err)
	}
	linked, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return store.Site{}, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return site, linked > 0, nil
}

func (s *Store) UntrackSite(ctx context.Context, host string, owner int64) (int, error) {
	variants := store.SchemeVariants(host)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
DELETE FROM site_owners
WHERE chat_id = ? AND site_id IN (SELECT id FROM sites WHERE url IN (?, ?))`,
		owner, variants[0], variants[1])
	if err != nil {
		return 0, fmt.Errorf("failed to unlink owner: %w", err)
	}
	removed, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `
DELETE FROM sites
WHERE url IN (?, ?) AND id NOT IN (SELECT site_id FROM site_owners)`,
		variants[0], variants[1])
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned sites: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(removed), nil
}

func (s *Store) ListByOwner(ctx context.Context, owner int64) ([]store.Site, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.id, s.url, s.status, s.last_checked
FROM sites s
JOIN site_owners o ON o.site_id = s.id
WHERE o.chat_id = ?
ORDER BY s.url`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list owner sites: %w", err)
	}
	return scanSites(rows)
}

func (s *Store) ClearOwner(ctx context.Context, owner int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM site_owners WHERE chat_id = ?`, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to unlink owner: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sites WHERE id NOT IN (SELECT site_id FROM site_owners)`); err != nil {
		return 0, fmt.Errorf("failed to delete orphaned sites: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(removed), nil
}

func scanSites(rows *sql.Rows) ([]store.Site, error) {
	defer rows.Close()

	sites := []store.Site{}
	for rows.Next() {
		var (
			site    store.Site
			checked string
		)
		if err := rows.Scan(&site.ID, &site.URL, &site.Status, &checked); err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, checked)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_checked for site %d: %w", site.ID, err)
		}
		site.LastChecked = t
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return sites, nil
}
