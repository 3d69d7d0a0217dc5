// Package tracker implements the per-owner tracking operations behind the
// chat commands.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/makt28/mandown/internal/store"
	"github.com/makt28/mandown/internal/urlutil"
)

// ErrInvalidURL is returned when the input does not normalize to a host.
var ErrInvalidURL = errors.New("invalid URL")

// StatusProber resolves a URL to its HTTP status, 0 meaning unreachable.
type StatusProber interface {
	Probe(ctx context.Context, url string) int
}

// Result is the outcome of tracking one scheme variant.
type Result struct {
	URL     string
	Status  int
	Tracked bool
	// Added is false when the owner already tracked this URL.
	Added   bool
}

// Service tracks and untracks sites for owners.
type Service struct {
	sites  store.SiteStore
	prober StatusProber
	logger *slog.Logger
}

// New creates a Service.
func New(sites store.SiteStore, prober StatusProber, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sites: sites, prober: prober, logger: logger.With("component", "tracker")}
}

// Track probes the http and https variants of input and links owner to
// each variant that answered 200. One result per variant is returned,
// http first.
func (s *Service) Track(ctx context.Context, input string, owner int64) ([]Result, error) {
	httpURL, httpsURL, ok := urlutil.ReadURL(input)
	if !ok {
		return nil, ErrInvalidURL
	}

	results := make([]Result, 0, 2)
	for _, u := range []string{httpURL, httpsURL} {
		r := Result{URL: u, Status: s.prober.Probe(ctx, u)}
		if r.Status == 200 {
			_, added, err := s.sites.TrackSite(ctx, u, owner)
			if err != nil {
				return results, fmt.Errorf("track %s: %w", u, err)
			}
			r.Tracked = true
			r.Added = added
			s.logger.Info("site tracked", "url", u, "chat_id", owner, "new_link", added)
		}
		results = append(results, r)
	}
	return results, nil
}

// Untrack unlinks owner from both scheme variants of input and returns the
// normalized host and how many links were removed.
func (s *Service) Untrack(ctx context.Context, input string, owner int64) (string, int, error) {
	host, err := urlutil.Normalize(input)
	if err != nil {
		return "", 0, ErrInvalidURL
	}
	removed, err := s.sites.UntrackSite(ctx, host, owner)
	if err != nil {
		return host, 0, fmt.Errorf("untrack %s: %w", host, err)
	}
	if removed > 0 {
		s.logger.Info("site untracked", "host", host, "chat_id", owner, "removed", removed)
	}
	return host, removed, nil
}

// List returns the sites owner tracks.
func (s *Service) List(ctx context.Context, owner int64) ([]store.Site, error) {
	sites, err := s.sites.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}

// Clear removes every site owner tracks.
func (s *Service) Clear(ctx context.Context, owner int64) (int, error) {
	removed, err := s.sites.ClearOwner(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("clear sites: %w", err)
	}
	s.logger.Info("owner cleared", "chat_id", owner, "removed", removed)
	return removed, nil
}
