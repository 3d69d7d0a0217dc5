// Package postgres implements store.SiteStore on PostgreSQL. Calls go
// through a circuit breaker and are retried with backoff.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
	_ "github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/makt28/mandown/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sites (
	id           BIGSERIAL PRIMARY KEY,
	url          TEXT NOT NULL UNIQUE,
	status       INTEGER NOT NULL,
	last_checked TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS site_owners (
	site_id    BIGINT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	chat_id    BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (site_id, chat_id)
);
CREATE INDEX IF NOT EXISTS idx_site_owners_chat_id ON site_owners (chat_id);
`

// Store implements store.SiteStore for PostgreSQL.
type Store struct {
	db     *sql.DB
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// New connects to connStr and ensures the schema exists.
func New(ctx context.Context, connStr string, logger *slog.Logger) (*Store, error) {
	logger = logger.With("component", "postgres")

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "PostgresDB",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	logger.Info("postgres store initialized")
	return &Store{db: db, cb: cb, logger: logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// do runs fn through the circuit breaker, retrying failed attempts with
// backoff. A cancelled context stops further attempts.
func (s *Store) do(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		func() error {
			_, err := s.cb.Execute(func() (interface{}, error) {
				return nil, fn()
			})
			return err
		},
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("retrying postgres operation", "op", op, "attempt", n+1, "error", err)
		}),
	)
}

func (s *Store) ListSitesPage(ctx context.Context, skip, limit int) ([]store.Site, error) {
	if err := store.CheckPage(skip, limit); err != nil {
		return nil, err
	}
	var sites []store.Site
	err := s.do(ctx, "list_sites_page", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, url, status, last_checked FROM sites ORDER BY id LIMIT $1 OFFSET $2`, limit, skip)
		if err != nil {
			return err
		}
		sites, err = scanSites(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}

func (s *Store) WriteBack(ctx context.Context, sites []store.Site) error {
	var errs []error
	for _, site := range sites {
		err := s.do(ctx, "write_back", func() error {
			_, err := s.db.ExecContext(ctx,
				`UPDATE sites SET status = $1, last_checked = $2 WHERE id = $3`,
				site.Status, site.LastChecked.UTC(), site.ID)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("update site %d: %w", site.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) OwnersOf(ctx context.Context, siteID int64) ([]int64, error) {
	var owners []int64
	err := s.do(ctx, "owners_of", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT chat_id FROM site_owners WHERE site_id = $1 ORDER BY chat_id`, siteID)
		if err != nil {
			return err
		}
		defer rows.Close()

		owners = []int64{}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			owners = append(owners, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}

func (s *Store) TrackSite(ctx context.Context, url string, owner int64) (store.Site, bool, error) {
	var (
		site  store.Site
		added bool
	)
	err := s.do(ctx, "track_site", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		// The no-op update makes RETURNING yield the existing row on conflict.
		err = tx.QueryRowContext(ctx, `
INSERT INTO sites (url, status, last_checked)
VALUES ($1, $2, NOW())
ON CONFLICT (url) DO UPDATE SET url = EXCLUDED.url
RETURNING id, url, status, last_checked`, url, store.DefaultStatus).
			Scan(&site.ID, &site.URL, &site.Status, &site.LastChecked)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO site_owners (site_id, chat_id)
VALUES ($1, $2)
ON CONFLICT (site_id, chat_id) DO NOTHING`, site.ID, owner)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		added = n > 0
		return tx.Commit()
	})
	if err != nil {
		return store.Site{}, false, fmt.Errorf("track site: %w", err)
	}
	return site, added, nil
}

func (s *Store) UntrackSite(ctx context.Context, host string, owner int64) (int, error) {
	variants := store.SchemeVariants(host)
	var removed int64
	err := s.do(ctx, "untrack_site", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `
DELETE FROM site_owners
WHERE chat_id = $1 AND site_id IN (SELECT id FROM sites WHERE url IN ($2, $3))`,
			owner, variants[0], variants[1])
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()

		if _, err := tx.ExecContext(ctx, `
DELETE FROM sites
WHERE url IN ($1, $2) AND NOT EXISTS (SELECT 1 FROM site_owners o WHERE o.site_id = sites.id)`,
			variants[0], variants[1]); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("untrack site: %w", err)
	}
	return int(removed), nil
}

func (s *Store) ListByOwner(ctx context.Context, owner int64) ([]store.Site, error) {
	var sites []store.Site
	err := s.do(ctx, "list_by_owner", func() error {
		rows, err := s.db.QueryContext(ctx, `
SELECT s.id, s.url, s.status, s.last_checked
FROM sites s
JOIN site_owners o ON o.site_id = s.id
WHERE o.chat_id = $1
ORDER BY s.url`, owner)
		if err != nil {
			return err
		}
		sites, err = scanSites(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list owner sites: %w", err)
	}
	return sites, nil
}

func (s *Store) ClearOwner(ctx context.Context, owner int64) (int, error) {
	var removed int64
	err := s.do(ctx, "clear_owner", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `DELETE FROM site_owners WHERE chat_id = $1`, owner)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()

		if _, err := tx.ExecContext(ctx, `
DELETE FROM sites
WHERE NOT EXISTS (SELECT 1 FROM site_owners o WHERE o.site_id = sites.id)`); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("clear owner: %w", err)
	}
	return int(removed), nil
}

func scanSites(rows *sql.Rows) ([]store.Site, error) {
	defer rows.Close()

	sites := []store.Site{}
	for rows.Next() {
		var site store.Site
		if err := rows.Scan(&site.ID, &site.URL, &site.Status, &site.LastChecked); err != nil {
			return nil, err
		}
		site.LastChecked = site.LastChecked.UTC()
		sites = append(sites, site)
	}
	return sites, rows.Err()
}
