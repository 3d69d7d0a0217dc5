// Package store defines the persisted site model and the SiteStore
// contract shared by every storage engine.
//
// Sites are shared records keyed by URL; owners (Telegram chat IDs) are
// linked to sites through an association. A site is removed together with
// its last owner.
package store

import (
	"context"
	"errors"
	"time"
)

// DefaultStatus is the status a newly tracked site starts with.
const DefaultStatus = 200

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPage is returned for a negative skip or a non-positive limit.
	ErrInvalidPage = errors.New("invalid page bounds")
)

// Site is one monitored URL and its last observed state.
type Site struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Status      int       `json:"status"`
	LastChecked time.Time `json:"last_checked"`
}

// SiteStore is implemented by every storage engine.
type SiteStore interface {
	// ListSitesPage returns up to limit sites ordered by ID, skipping the
	// first skip of them.
	ListSitesPage(ctx context.Context, skip, limit int) ([]Site, error)

	// WriteBack persists Status and LastChecked of each given site. Each
	// record is updated independently; sites that no longer exist are
	// ignored. Failures are joined into the returned error.
	WriteBack(ctx context.Context, sites []Site) error

	// OwnersOf returns the chat IDs linked to a site.
	OwnersOf(ctx context.Context, siteID int64) ([]int64, error)

	// TrackSite links owner to the site stored under url, creating the site
	// with DefaultStatus if needed. The boolean reports whether the link is
	// new.
	TrackSite(ctx context.Context, url string, owner int64) (Site, bool, error)

	// UntrackSite unlinks owner from the http and https variants of host
	// and returns how many links were removed.
	UntrackSite(ctx context.Context, host string, owner int64) (int, error)

	// ListByOwner returns the sites linked to owner ordered by URL.
	ListByOwner(ctx context.Context, owner int64) ([]Site, error)

	// ClearOwner removes every link of owner and returns how many were
	// removed.
	ClearOwner(ctx context.Context, owner int64) (int, error)

	Close() error
}

// CheckPage validates pagination bounds.
func CheckPage(skip, limit int) error {
	if skip < 0 || limit <= 0 {
		return ErrInvalidPage
	}
	return nil
}

// SchemeVariants returns the stored URLs a bare host can appear under.
func SchemeVariants(host string) [2]string {
	return [2]string{"http://" + host, "https://" + host}
}
