package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/makt28/mandown/internal/config"
	"github.com/makt28/mandown/internal/store"
)

type stubSites struct {
	sites []store.Site
	err   error
}

func (s *stubSites) ListSitesPage(_ context.Context, skip, limit int) ([]store.Site, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := store.CheckPage(skip, limit); err != nil {
		return nil, err
	}
	if skip >= len(s.sites) {
		return []store.Site{}, nil
	}
	end := skip + limit
	if end > len(s.sites) {
		end = len(s.sites)
	}
	return s.sites[skip:end], nil
}

type stubPoller struct{ calls atomic.Int32 }

func (p *stubPoller) Trigger() bool {
	return p.calls.Add(1) == 1
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T, yaml string) *config.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	m, err := config.NewManager(path)
	require.NoError(t, err)
	return m
}

func adminConfig(t *testing.T, password string, maxAttempts int) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return "storage:\n  driver: memory\nadmin:\n  username: root\n  password_hash: \"" + string(hash) + "\"\n" +
		"  max_login_attempts: " + strconv.Itoa(maxAttempts) + "\n"
}

type fixture struct {
	handler http.Handler
	sites   *stubSites
	poller  *stubPoller
}

func newFixture(t *testing.T, cfgYAML string, webhook http.Handler) *fixture {
	t.Helper()
	stopCh := make(chan struct{})
	t.Cleanup(func() { close(stopCh) })

	f := &fixture{
		sites: &stubSites{sites: []store.Site{
			{ID: 1, URL: "http://a.example", Status: 200},
			{ID: 2, URL: "http://b.example", Status: 500},
			{ID: 3, URL: "https://c.example", Status: 0},
		}},
		poller: &stubPoller{},
	}
	f.handler = NewRouter(Deps{
		Config:  newManager(t, cfgYAML),
		Sites:   f.sites,
		Poller:  f.poller,
		Webhook: webhook,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "mandown_cycles_total 1\n")
		}),
		Version: "test",
		Logger:  discardLogger(),
	}, stopCh)
	return f
}

func (f *fixture) do(method, target, user, pass string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "192.0.2.10:5555"
	if user != "" || pass != "" {
		req.SetBasicAuth(user, pass)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, "storage:\n  driver: memory\n", nil)

	rec := f.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "test", body["version"])
	require.Equal(t, "memory", body["storage_driver"])
	require.Contains(t, body, "uptime_seconds")
}

func TestHealthzDegradedWhenStoreFails(t *testing.T) {
	f := newFixture(t, "storage:\n  driver: memory\n", nil)
	f.sites.err = errors.New("connection refused")

	rec := f.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "degraded", body["status"])
	require.Equal(t, "connection refused", body["storage_error"])
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, "storage:\n  driver: memory\n", nil)

	rec := f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mandown_cycles_total")
}

func TestHookRoute(t *testing.T) {
	var hits atomic.Int32
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	f := newFixture(t, "storage:\n  driver: memory\n", hook)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/hook", "", "").Code)
	require.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/hook", "", "").Code)
	require.EqualValues(t, 1, hits.Load())
}

func TestAdminDisabledWithoutPasswordHash(t *testing.T) {
	f := newFixture(t, "storage:\n  driver: memory\n", nil)

	require.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/sites", "admin", "x").Code)
	require.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/poll", "admin", "x").Code)
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t, adminConfig(t, "s3cret", 5), nil)

	rec := f.do(http.MethodGet, "/api/sites", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/sites", "root", "wrong").Code)
	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/sites", "admin", "s3cret").Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/sites", "root", "s3cret").Code)
}

func TestAdminLockout(t *testing.T) {
	f := newFixture(t, adminConfig(t, "s3cret", 2), nil)

	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/sites", "root", "bad").Code)
	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/sites", "root", "bad").Code)
	// Locked even with the right password.
	rec := f.do(http.MethodGet, "/api/sites", "root", "s3cret")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "900", rec.Header().Get("Retry-After"))
}

func TestAdminLockoutIgnoresForwardingHeaders(t *testing.T) {
	f := newFixture(t, adminConfig(t, "s3cret", 2), nil)

	var codes []int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		req.Header.Set("X-Forwarded-For", "10.0.0."+strconv.Itoa(i))
		req.Header.Set("X-Real-IP", "10.0.1."+strconv.Itoa(i))
		req.SetBasicAuth("root", "bad")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{
		http.StatusUnauthorized,
		http.StatusUnauthorized,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
	}, codes)
}

func TestListSitesPagination(t *testing.T) {
	f := newFixture(t, adminConfig(t, "pw", 5), nil)

	rec := f.do(http.MethodGet, "/api/sites?skip=1&limit=1", "root", "pw")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Sites []store.Site `json:"sites"`
		Skip  int          `json:"skip"`
		Limit int          `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Skip)
	require.Equal(t, 1, body.Limit)
	require.Len(t, body.Sites, 1)
	require.Equal(t, "http://b.example", body.Sites[0].URL)

	rec = f.do(http.MethodGet, "/api/sites", "root", "pw")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 100, body.Limit)
	require.Len(t, body.Sites, 3)

	rec = f.do(http.MethodGet, "/api/sites?limit=5000", "root", "pw")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, maxPageLimit, body.Limit)
}

func TestListSitesBadQuery(t *testing.T) {
	f := newFixture(t, adminConfig(t, "pw", 5), nil)

	for _, q := range []string{"?skip=-1", "?limit=0", "?limit=abc", "?skip=x"} {
		rec := f.do(http.MethodGet, "/api/sites"+q, "root", "pw")
		require.Equal(t, http.StatusBadRequest, rec.Code, q)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, false, body["ok"])
	}
}

func TestTriggerPoll(t *testing.T) {
	f := newFixture(t, adminConfig(t, "pw", 5), nil)

	rec := f.do(http.MethodPost, "/api/poll", "root", "pw")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"triggered":true}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/poll", "root", "pw")
	require.JSONEq(t, `{"triggered":false}`, rec.Body.String())
}

func TestLockout(t *testing.T) {
	stopCh := make(chan struct{})
	defer close(stopCh)
	l := NewLockout(2, 60, stopCh)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Fail("10.0.0.1")
	require.Zero(t, l.Remaining("10.0.0.1"))
	l.Fail("10.0.0.1")
	require.Equal(t, 60*time.Second, l.Remaining("10.0.0.1"))
	require.Zero(t, l.Remaining("10.0.0.2"))

	// Further failures do not extend the window.
	now = now.Add(20 * time.Second)
	l.Fail("10.0.0.1")
	require.Equal(t, 40*time.Second, l.Remaining("10.0.0.1"))

	now = now.Add(41 * time.Second)
	require.Zero(t, l.Remaining("10.0.0.1"))

	l.Fail("10.0.0.3")
	l.Fail("10.0.0.3")
	l.Reset("10.0.0.3")
	require.Zero(t, l.Remaining("10.0.0.3"))
}
