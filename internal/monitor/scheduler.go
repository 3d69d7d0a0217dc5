package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/makt28/mandown/internal/config"
	"github.com/makt28/mandown/internal/notify"
	"github.com/makt28/mandown/internal/store"
	"github.com/makt28/mandown/internal/telemetry"
)

// SiteSource is the part of the site store the poll loop reads and writes.
type SiteSource interface {
	ListSitesPage(ctx context.Context, skip, limit int) ([]store.Site, error)
	WriteBack(ctx context.Context, sites []store.Site) error
}

// Alerter delivers alerts for changed sites.
type Alerter interface {
	Notify(ctx context.Context, changed []store.Site) notify.DispatchReport
}

// Settings tune the poll loop.
type Settings struct {
	PollInterval  time.Duration
	ProbeTimeout  time.Duration
	RetryDelay    time.Duration
	CycleTimeout  time.Duration
	PageSize      int
	BaselineSites []string
}

// SettingsFrom extracts poll loop settings from cfg.
func SettingsFrom(cfg config.Config) Settings {
	return Settings{
		PollInterval:  cfg.Monitor.PollEvery(),
		ProbeTimeout:  cfg.Monitor.Timeout(),
		RetryDelay:    cfg.Monitor.RetryDelay(),
		CycleTimeout:  cfg.Monitor.CycleBound(),
		PageSize:      cfg.Monitor.PageSize,
		BaselineSites: append([]string(nil), cfg.BaselineSites...),
	}
}

// CycleReport describes one poll cycle.
type CycleReport struct {
	ID       string                `json:"id"`
	Skipped  bool                  `json:"skipped"`
	Checked  int                   `json:"checked"`
	Changed  int                   `json:"changed"`
	Dispatch notify.DispatchReport `json:"dispatch"`
	Duration time.Duration         `json:"duration"`
	Err      error                 `json:"-"`
}

// Scheduler runs poll cycles one after another, sleeping PollInterval
// after each completes. Cycles never overlap.
type Scheduler struct {
	sites     SiteSource
	alerter   Alerter
	transport Transport
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	mu       sync.RWMutex
	settings Settings
	cancel   context.CancelFunc

	trigger   chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// NewScheduler creates a Scheduler. metrics may be nil.
func NewScheduler(sites SiteSource, alerter Alerter, transport Transport, settings Settings, logger *slog.Logger, metrics *telemetry.Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sites:     sites,
		alerter:   alerter,
		transport: transport,
		logger:    logger.With("component", "scheduler"),
		metrics:   metrics,
		settings:  settings,
		trigger:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the poll loop. The first cycle runs immediately. Start
// after Stop does nothing.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped() {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go s.loop(ctx)
	})
}

// stopped reports whether Stop has been called. Callers must hold mu.
func (s *Scheduler) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Watch applies settings from cfgMgr whenever its config is reloaded.
func (s *Scheduler) Watch(cfgMgr *config.Manager) {
	onChange := cfgMgr.Subscribe()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stopCh:
				return
			case <-onChange:
				s.logger.Info("config changed, updating poll settings")
				s.UpdateSettings(SettingsFrom(cfgMgr.Get()))
			}
		}
	}()
}

// Stop cancels any running cycle and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.stopCh)
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
}

// Trigger cuts the current idle period short. It returns false if a
// trigger is already pending.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// UpdateSettings replaces the settings used from the next cycle on.
func (s *Scheduler) UpdateSettings(settings Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}

func (s *Scheduler) currentSettings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	s.logger.Info("poll loop started")

	for {
		s.RunCycle(ctx)

		timer := time.NewTimer(s.currentSettings().PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("poll loop stopped")
			return
		case <-s.trigger:
			timer.Stop()
			s.logger.Info("poll triggered")
		case <-timer.C:
		}
	}
}

// RunCycle performs one poll cycle: gate, paginated probe and diff, then
// alerts followed by write-back of the changed sites.
//
// A failed page read or a cycle that outlives CycleTimeout aborts before
// any alert or write.
func (s *Scheduler) RunCycle(ctx context.Context) (report CycleReport) {
	start := time.Now()
	settings := s.currentSettings()
	report.ID = uuid.NewString()
	logger := s.logger.With("cycle_id", report.ID)

	defer func() {
		report.Duration = time.Since(start)
		outcome := "ok"
		switch {
		case report.Err != nil:
			outcome = "error"
		case report.Skipped:
			outcome = "skipped"
		}
		s.metrics.CycleFinished(ctx, outcome, report.Duration)
	}()

	gate := NewGate(s.transport, settings.BaselineSites, settings.ProbeTimeout)
	if !gate.Available(ctx) {
		logger.Info("baseline sites unreachable, skipping cycle")
		report.Skipped = true
		return report
	}

	cycleCtx, cancel := context.WithTimeout(ctx, settings.CycleTimeout)
	defer cancel()

	prober := NewProber(s.transport, settings.ProbeTimeout, settings.RetryDelay, logger)
	var changed []store.Site
	for skip := 0; ; skip += settings.PageSize {
		page, err := s.sites.ListSitesPage(cycleCtx, skip, settings.PageSize)
		if err != nil {
			report.Err = fmt.Errorf("read sites at offset %d: %w", skip, err)
			logger.Error("cycle aborted", "error", report.Err)
			return report
		}
		if len(page) == 0 {
			break
		}

		fresh := s.probePage(cycleCtx, prober, page)
		if err := cycleCtx.Err(); err != nil {
			report.Err = fmt.Errorf("cycle interrupted: %w", err)
			logger.Error("cycle aborted", "error", report.Err, "checked", report.Checked)
			return report
		}

		changed = append(changed, Diff(page, fresh, time.Now().UTC())...)
		report.Checked += len(page)
		if len(page) < settings.PageSize {
			break
		}
	}

	report.Changed = len(changed)
	s.metrics.SitesChanged(ctx, len(changed))
	if len(changed) == 0 {
		logger.Info("cycle complete", "checked", report.Checked, "changed", 0)
		return report
	}

	report.Dispatch = s.alerter.Notify(ctx, changed)
	if err := s.sites.WriteBack(ctx, changed); err != nil {
		report.Err = fmt.Errorf("write back: %w", err)
		logger.Error("write back failed", "error", err)
	}

	logger.Info("cycle complete",
		"checked", report.Checked,
		"changed", report.Changed,
		"alerts_sent", report.Dispatch.Sent,
		"alerts_failed", report.Dispatch.Failed,
	)
	return report
}

// probePage probes every site of page concurrently.
func (s *Scheduler) probePage(ctx context.Context, prober *Prober, page []store.Site) map[int64]int {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		fresh = make(map[int64]int, len(page))
	)
	for _, site := range page {
		wg.Add(1)
		go func(site store.Site) {
			defer wg.Done()
			status := prober.Probe(ctx, site.URL)
			s.metrics.ProbeDone(ctx, status)

			mu.Lock()
			fresh[site.ID] = status
			mu.Unlock()
		}(site)
	}
	wg.Wait()
	return fresh
}
