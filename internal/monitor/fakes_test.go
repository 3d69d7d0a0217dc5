package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/makt28/mandown/internal/notify"
	"github.com/makt28/mandown/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport answers from per-URL scripts. Each call pops the next
// status; the last one repeats. A status of 0 is returned as an error.
type fakeTransport struct {
	mu      sync.Mutex
	scripts map[string][]int
	calls   map[string]int
	delay   map[string]time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		scripts: make(map[string][]int),
		calls:   make(map[string]int),
		delay:   make(map[string]time.Duration),
	}
}

func (f *fakeTransport) set(url string, statuses ...int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[url] = statuses
	return f
}

func (f *fakeTransport) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeTransport) StatusCode(ctx context.Context, url string) (int, error) {
	f.mu.Lock()
	n := f.calls[url]
	f.calls[url]++
	script := f.scripts[url]
	d := f.delay[url]
	f.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if len(script) == 0 {
		return 0, errors.New("no route to host")
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	if script[n] == 0 {
		return 0, errors.New("connection refused")
	}
	return script[n], nil
}

func (f *fakeTransport) CheckURL(ctx context.Context, url string) bool {
	_, err := f.StatusCode(ctx, url)
	return err == nil
}

// fakeSites is an in-memory SiteSource with failure injection.
type fakeSites struct {
	mu        sync.Mutex
	sites     []store.Site
	listErrAt int
	listCalls int
	written   [][]store.Site
	writeErr  error
}

func (f *fakeSites) ListSitesPage(ctx context.Context, skip, limit int) ([]store.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErrAt > 0 && f.listCalls == f.listErrAt {
		return nil, errors.New("database is locked")
	}
	if skip >= len(f.sites) {
		return nil, nil
	}
	end := skip + limit
	if end > len(f.sites) {
		end = len(f.sites)
	}
	return append([]store.Site(nil), f.sites[skip:end]...), nil
}

func (f *fakeSites) WriteBack(ctx context.Context, sites []store.Site) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]store.Site(nil), sites...))
	return f.writeErr
}

func (f *fakeSites) writes() [][]store.Site {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

// fakeAlerter renders messages the way the dispatcher does and records them.
type fakeAlerter struct {
	mu       sync.Mutex
	messages []string
	batches  int
}

func (f *fakeAlerter) Notify(ctx context.Context, changed []store.Site) notify.DispatchReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	for _, site := range changed {
		f.messages = append(f.messages, notify.StatusMessage(site.URL, site.Status))
	}
	return notify.DispatchReport{Sent: len(changed)}
}

func (f *fakeAlerter) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
