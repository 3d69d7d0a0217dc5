package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/makt28/mandown/internal/config"
	"github.com/makt28/mandown/internal/store"
	"github.com/stretchr/testify/require"
)

const baseline = "https://baseline.example"

func testSettings() Settings {
	return Settings{
		PollInterval:  time.Hour,
		ProbeTimeout:  time.Second,
		CycleTimeout:  10 * time.Second,
		PageSize:      100,
		BaselineSites: []string{baseline},
	}
}

func TestRunCycleAlertsAndWritesOnlyChangedSites(t *testing.T) {
	tr := newFakeTransport().
		set(baseline, 200).
		set("https://a.com", 404).
		set("https://b.com", 200)
	sites := &fakeSites{sites: []store.Site{
		{ID: 1, URL: "https://a.com", Status: 200},
		{ID: 2, URL: "https://b.com", Status: 200},
	}}
	alerter := &fakeAlerter{}
	s := NewScheduler(sites, alerter, tr, testSettings(), discardLogger(), nil)

	report := s.RunCycle(context.Background())

	require.NoError(t, report.Err)
	require.False(t, report.Skipped)
	require.NotEmpty(t, report.ID)
	require.Equal(t, 2, report.Checked)
	require.Equal(t, 1, report.Changed)

	msgs := alerter.sent()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0], "404")
	require.Contains(t, msgs[0], "https://a.com")

	writes := sites.writes()
	require.Len(t, writes, 1)
	require.Len(t, writes[0], 1)
	require.Equal(t, int64(1), writes[0][0].ID)
	require.Equal(t, 404, writes[0][0].Status)
	require.False(t, writes[0][0].LastChecked.IsZero())
}

func TestRunCycleNoChangesNoWrites(t *testing.T) {
	tr := newFakeTransport().set(baseline, 200).set("https://a.com", 200)
	sites := &fakeSites{sites: []store.Site{{ID: 1, URL: "https://a.com", Status: 200}}}
	alerter := &fakeAlerter{}
	s := NewScheduler(sites, alerter, tr, testSettings(), discardLogger(), nil)

	report := s.RunCycle(context.Background())
	require.NoError(t, report.Err)
	require.Zero(t, report.Changed)
	require.Empty(t, sites.writes())
	require.Zero(t, alerter.batches)
}

func TestRunCycleSkipsWhenBaselineUnavailable(t *testing.T) {
	tr := newFakeTransport().set(baseline, 0).set("https://a.com", 500)
	sites := &fakeSites{sites: []store.Site{{ID: 1, URL: "https://a.com", Status: 200}}}
	alerter := &fakeAlerter{}
	s := NewScheduler(sites, alerter, tr, testSettings(), discardLogger(), nil)

	report := s.RunCycle(context.Background())
	require.True(t, report.Skipped)
	require.Zero(t, sites.listCalls)
	require.Empty(t, sites.writes())
	require.Empty(t, alerter.sent())
	require.Zero(t, tr.callCount("https://a.com"))
}

func TestRunCycleEmptyBaselineSkips(t *testing.T) {
	settings := testSettings()
	settings.BaselineSites = nil
	sites := &fakeSites{sites: []store.Site{{ID: 1, URL: "https://a.com", Status: 200}}}
	s := NewScheduler(sites, &fakeAlerter{}, newFakeTransport(), settings, discardLogger(), nil)

	require.True(t, s.RunCycle(context.Background()).Skipped)
	require.Zero(t, sites.listCalls)
}

func TestRunCycleReadErrorAbortsWithoutSideEffects(t *testing.T) {
	settings := testSettings()
	settings.PageSize = 1
	tr := newFakeTransport().set(baseline, 200).set("https://a.com", 500).set("https://b.com", 500)
	sites := &fakeSites{
		sites: []store.Site{
			{ID: 1, URL: "https://a.com", Status: 200},
			{ID: 2, URL: "https://b.com", Status: 200},
		},
		listErrAt: 2,
	}
	alerter := &fakeAlerter{}
	s := NewScheduler(sites, alerter, tr, settings, discardLogger(), nil)

	report := s.RunCycle(context.Background())
	require.ErrorContains(t, report.Err, "database is locked")
	require.Empty(t, sites.writes())
	require.Empty(t, alerter.sent())
}

func TestRunCycleTimeoutAbortsWithoutSideEffects(t *testing.T) {
	settings := testSettings()
	settings.ProbeTimeout = time.Second
	settings.CycleTimeout = 50 * time.Millisecond
	tr := newFakeTransport().set(baseline, 200).set("https://slow.com", 200)
	tr.delay["https://slow.com"] = time.Second
	sites := &fakeSites{sites: []store.Site{{ID: 1, URL: "https://slow.com", Status: 200}}}
	alerter := &fakeAlerter{}
	s := NewScheduler(sites, alerter, tr, settings, discardLogger(), nil)

	report := s.RunCycle(context.Background())
	require.ErrorIs(t, report.Err, context.DeadlineExceeded)
	require.Empty(t, sites.writes())
	require.Empty(t, alerter.sent())
}

func TestRunCycleVisitsEveryPage(t *testing.T) {
	tr := newFakeTransport().set(baseline, 200)
	var all []store.Site
	for i := 1; i <= 7; i++ {
		url := fmt.Sprintf("https://site%d.com", i)
		tr.set(url, 503)
		all = append(all, store.Site{ID: int64(i), URL: url, Status: 200})
	}

	for _, pageSize := range []int{1, 3, 7, 8} {
		t.Run(fmt.Sprintf("page size %d", pageSize), func(t *testing.T) {
			settings := testSettings()
			settings.PageSize = pageSize
			sites := &fakeSites{sites: all}
			alerter := &fakeAlerter{}
			s := NewScheduler(sites, alerter, tr, settings, discardLogger(), nil)

			report := s.RunCycle(context.Background())
			require.NoError(t, report.Err)
			require.Equal(t, 7, report.Checked)
			require.Equal(t, 7, report.Changed)
			require.Equal(t, 1, alerter.batches, "alerts are sent once per cycle")

			writes := sites.writes()
			require.Len(t, writes, 1)
			seen := map[int64]bool{}
			for _, site := range writes[0] {
				require.False(t, seen[site.ID])
				seen[site.ID] = true
			}
			require.Len(t, seen, 7)
		})
	}
}

func TestRunCycleReportsWriteBackError(t *testing.T) {
	tr := newFakeTransport().set(baseline, 200).set("https://a.com", 0)
	sites := &fakeSites{
		sites:    []store.Site{{ID: 1, URL: "https://a.com", Status: 200}},
		writeErr: fmt.Errorf("update site 1: disk full"),
	}
	alerter := &fakeAlerter{}
	s := NewScheduler(sites, alerter, tr, testSettings(), discardLogger(), nil)

	report := s.RunCycle(context.Background())
	require.ErrorContains(t, report.Err, "disk full")
	require.Len(t, alerter.sent(), 1, "alerts go out before write-back")
}

func TestSchedulerStartTriggerStop(t *testing.T) {
	tr := newFakeTransport().set(baseline, 200).set("https://a.com", 200)
	sites := &fakeSites{sites: []store.Site{{ID: 1, URL: "https://a.com", Status: 200}}}
	s := NewScheduler(sites, &fakeAlerter{}, tr, testSettings(), discardLogger(), nil)

	s.Start()
	require.Eventually(t, func() bool { return tr.callCount("https://a.com") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.True(t, s.Trigger())
	require.Eventually(t, func() bool { return tr.callCount("https://a.com") == 2 }, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	s.Stop()
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(&fakeSites{}, &fakeAlerter{}, newFakeTransport(), testSettings(), discardLogger(), nil)
	s.Stop()
}

func TestSchedulerStartAfterStopIsNoop(t *testing.T) {
	tr := newFakeTransport().set(baseline, 200).set("https://a.com", 200)
	sites := &fakeSites{sites: []store.Site{{ID: 1, URL: "https://a.com", Status: 200}}}
	s := NewScheduler(sites, &fakeAlerter{}, tr, testSettings(), discardLogger(), nil)

	s.Stop()
	s.Start()
	s.Watch(mustManager(t))

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, tr.callCount(baseline))
	require.Zero(t, tr.callCount("https://a.com"))
	s.Stop()
}

func mustManager(t *testing.T) *config.Manager {
	t.Helper()
	mgr, err := config.NewManager(t.TempDir() + "/config.yaml")
	require.NoError(t, err)
	return mgr
}

func TestSchedulerWatchAppliesReload(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	mgr, err := config.NewManager(path)
	require.NoError(t, err)

	s := NewScheduler(&fakeSites{}, &fakeAlerter{}, newFakeTransport(), testSettings(), discardLogger(), nil)
	s.Watch(mgr)
	defer s.Stop()

	require.NoError(t, writeFile(path, "monitor:\n  page_size: 7\n"))
	require.NoError(t, mgr.Reload())
	require.Eventually(t, func() bool { return s.currentSettings().PageSize == 7 }, 2*time.Second, 10*time.Millisecond)
}

func TestSettingsFrom(t *testing.T) {
	cfg := config.DefaultConfig()
	st := SettingsFrom(cfg)
	require.Equal(t, 600*time.Second, st.PollInterval)
	require.Equal(t, 30*time.Second, st.ProbeTimeout)
	require.Equal(t, 100, st.PageSize)
	require.Equal(t, cfg.BaselineSites, st.BaselineSites)
}
