// Package storetest holds a conformance suite run against every
// store.SiteStore implementation.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/makt28/mandown/internal/store"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.SiteStore

// Run exercises the SiteStore contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("TrackCreatesSiteWithDefaultStatus", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		site, added, err := s.TrackSite(ctx, "https://aaa.com", 1)
		require.NoError(t, err)
		require.True(t, added)
		require.NotZero(t, site.ID)
		require.Equal(t, "https://aaa.com", site.URL)
		require.Equal(t, store.DefaultStatus, site.Status)
	})

	t.Run("TrackDeduplicatesByURL", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		first, added, err := s.TrackSite(ctx, "https://aaa.com", 1)
		require.NoError(t, err)
		require.True(t, added)

		again, added, err := s.TrackSite(ctx, "https://aaa.com", 1)
		require.NoError(t, err)
		require.False(t, added)
		require.Equal(t, first.ID, again.ID)

		shared, added, err := s.TrackSite(ctx, "https://aaa.com", 2)
		require.NoError(t, err)
		require.True(t, added)
		require.Equal(t, first.ID, shared.ID)

		owners, err := s.OwnersOf(ctx, first.ID)
		require.NoError(t, err)
		require.Equal(t, []int64{1, 2}, owners)

		page, err := s.ListSitesPage(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, page, 1)
	})

	t.Run("OwnersOfUnknownSiteIsEmpty", func(t *testing.T) {
		s := open(t, newStore)
		owners, err := s.OwnersOf(context.Background(), 4242)
		require.NoError(t, err)
		require.Empty(t, owners)
	})

	t.Run("UntrackRemovesBothSchemes", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		_, _, err := s.TrackSite(ctx, "http://aaa.com", 1)
		require.NoError(t, err)
		_, _, err = s.TrackSite(ctx, "https://aaa.com", 1)
		require.NoError(t, err)
		_, _, err = s.TrackSite(ctx, "https://bbb.com", 1)
		require.NoError(t, err)

		removed, err := s.UntrackSite(ctx, "aaa.com", 1)
		require.NoError(t, err)
		require.Equal(t, 2, removed)

		sites, err := s.ListByOwner(ctx, 1)
		require.NoError(t, err)
		require.Len(t, sites, 1)
		require.Equal(t, "https://bbb.com", sites[0].URL)

		removed, err = s.UntrackSite(ctx, "aaa.com", 1)
		require.NoError(t, err)
		require.Zero(t, removed)
	})

	t.Run("UntrackKeepsSiteForOtherOwners", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		site, _, err := s.TrackSite(ctx, "https://aaa.com", 1)
		require.NoError(t, err)
		_, _, err = s.TrackSite(ctx, "https://aaa.com", 2)
		require.NoError(t, err)

		removed, err := s.UntrackSite(ctx, "aaa.com", 1)
		require.NoError(t, err)
		require.Equal(t, 1, removed)

		owners, err := s.OwnersOf(ctx, site.ID)
		require.NoError(t, err)
		require.Equal(t, []int64{2}, owners)

		removed, err = s.UntrackSite(ctx, "aaa.com", 2)
		require.NoError(t, err)
		require.Equal(t, 1, removed)

		page, err := s.ListSitesPage(ctx, 0, 10)
		require.NoError(t, err)
		require.Empty(t, page)
	})

	t.Run("ListByOwnerIsSortedByURL", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		for _, u := range []string{"https://ccc.com", "http://aaa.com", "https://bbb.com"} {
			_, _, err := s.TrackSite(ctx, u, 7)
			require.NoError(t, err)
		}
		_, _, err := s.TrackSite(ctx, "https://other.com", 8)
		require.NoError(t, err)

		sites, err := s.ListByOwner(ctx, 7)
		require.NoError(t, err)
		require.Equal(t, []string{"http://aaa.com", "https://bbb.com", "https://ccc.com"}, urls(sites))

		none, err := s.ListByOwner(ctx, 9)
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("ClearOwnerCascades", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		_, _, err := s.TrackSite(ctx, "https://aaa.com", 1)
		require.NoError(t, err)
		_, _, err = s.TrackSite(ctx, "https://bbb.com", 1)
		require.NoError(t, err)
		shared, _, err := s.TrackSite(ctx, "https://bbb.com", 2)
		require.NoError(t, err)

		removed, err := s.ClearOwner(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, 2, removed)

		page, err := s.ListSitesPage(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, page, 1)
		require.Equal(t, shared.ID, page[0].ID)

		removed, err = s.ClearOwner(ctx, 1)
		require.NoError(t, err)
		require.Zero(t, removed)
	})

	t.Run("WriteBackUpdatesOnlyGivenRecords", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		a, _, err := s.TrackSite(ctx, "https://aaa.com", 1)
		require.NoError(t, err)
		b, _, err := s.TrackSite(ctx, "https://bbb.com", 1)
		require.NoError(t, err)

		checked := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		a.Status = 503
		a.LastChecked = checked
		require.NoError(t, s.WriteBack(ctx, []store.Site{a}))

		page, err := s.ListSitesPage(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, page, 2)
		byID := map[int64]store.Site{}
		for _, site := range page {
			byID[site.ID] = site
		}
		require.Equal(t, 503, byID[a.ID].Status)
		require.True(t, checked.Equal(byID[a.ID].LastChecked))
		require.Equal(t, store.DefaultStatus, byID[b.ID].Status)
	})

	t.Run("WriteBackIgnoresRemovedSites", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		site, _, err := s.TrackSite(ctx, "https://aaa.com", 1)
		require.NoError(t, err)
		_, err = s.ClearOwner(ctx, 1)
		require.NoError(t, err)

		site.Status = 0
		require.NoError(t, s.WriteBack(ctx, []store.Site{site}))
		require.NoError(t, s.WriteBack(ctx, nil))
	})

	t.Run("PaginationVisitsEverySiteOnce", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		const total = 7
		want := make(map[int64]bool, total)
		for i := 0; i < total; i++ {
			site, _, err := s.TrackSite(ctx, fmt.Sprintf("https://site%d.com", i), 1)
			require.NoError(t, err)
			want[site.ID] = true
		}

		for limit := 1; limit <= total+1; limit++ {
			seen := make(map[int64]bool, total)
			var lastID int64
			for skip := 0; ; skip += limit {
				page, err := s.ListSitesPage(ctx, skip, limit)
				require.NoError(t, err)
				require.LessOrEqual(t, len(page), limit)
				for _, site := range page {
					require.False(t, seen[site.ID], "limit %d: site %d seen twice", limit, site.ID)
					require.Greater(t, site.ID, lastID, "limit %d: pages not ordered by id", limit)
					lastID = site.ID
					seen[site.ID] = true
				}
				if len(page) < limit {
					break
				}
			}
			require.Equal(t, want, seen, "limit %d", limit)
		}
	})

	t.Run("InvalidPageBounds", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		_, err := s.ListSitesPage(ctx, -1, 10)
		require.ErrorIs(t, err, store.ErrInvalidPage)
		_, err = s.ListSitesPage(ctx, 0, 0)
		require.ErrorIs(t, err, store.ErrInvalidPage)
	})
}

func open(t *testing.T, newStore Factory) store.SiteStore {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func urls(sites []store.Site) []string {
	out := make([]string, len(sites))
	for i, s := range sites {
		out[i] = s.URL
	}
	return out
}
