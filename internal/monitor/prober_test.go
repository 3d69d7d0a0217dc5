package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProberRetriesOnceOnZero(t *testing.T) {
	tests := []struct {
		name      string
		script    []int
		want      int
		wantCalls int
	}{
		{name: "first attempt succeeds", script: []int{200}, want: 200, wantCalls: 1},
		{name: "http error status is not retried", script: []int{503}, want: 503, wantCalls: 1},
		{name: "retry recovers", script: []int{0, 200}, want: 200, wantCalls: 2},
		{name: "both attempts fail", script: []int{0, 0, 200}, want: 0, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport().set("https://aaa.com", tt.script...)
			p := NewProber(tr, time.Second, 0, discardLogger())

			require.Equal(t, tt.want, p.Probe(context.Background(), "https://aaa.com"))
			require.Equal(t, tt.wantCalls, tr.callCount("https://aaa.com"))
		})
	}
}

func TestProberTimeoutAppliesPerAttempt(t *testing.T) {
	tr := newFakeTransport().set("https://slow.com", 200)
	tr.delay["https://slow.com"] = 200 * time.Millisecond
	p := NewProber(tr, 20*time.Millisecond, 0, discardLogger())

	start := time.Now()
	require.Equal(t, 0, p.Probe(context.Background(), "https://slow.com"))
	require.Equal(t, 2, tr.callCount("https://slow.com"))
	require.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestProberStopsWhenContextCancelled(t *testing.T) {
	tr := newFakeTransport().set("https://aaa.com", 0, 200)
	p := NewProber(tr, time.Second, 0, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, 0, p.Probe(ctx, "https://aaa.com"))
	require.Equal(t, 1, tr.callCount("https://aaa.com"))
}

func TestHTTPTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "mandown/test" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/moved":
			http.Redirect(w, r, "/", http.StatusFound)
		default:
			w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport("mandown/test")
	ctx := context.Background()

	code, err := tr.StatusCode(ctx, srv.URL+"/missing")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, code)

	code, err = tr.StatusCode(ctx, srv.URL+"/moved")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)

	require.True(t, tr.CheckURL(ctx, srv.URL+"/missing"))
	require.False(t, tr.CheckURL(ctx, "http://127.0.0.1:1"))
}

func TestHTTPTransportStopsRedirectLoops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
	}))
	defer srv.Close()

	tr := NewHTTPTransport("")
	_, err := tr.StatusCode(context.Background(), srv.URL+"/loop")
	require.ErrorContains(t, err, "redirects")
}
