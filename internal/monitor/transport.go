package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Transport performs single HTTP reachability checks. Implementations must
// honour ctx cancellation and deadlines.
type Transport interface {
	// CheckURL reports whether url answered with any HTTP response.
	CheckURL(ctx context.Context, url string) bool
	// StatusCode fetches url and returns the response status.
	StatusCode(ctx context.Context, url string) (int, error)
}

const (
	maxRedirects = 10
	maxBodyBytes = 64 << 10
)

// HTTPTransport is the network Transport. It shares one pooled client
// across all probes.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

// NewHTTPTransport creates an HTTPTransport sending userAgent.
func NewHTTPTransport(userAgent string) *HTTPTransport {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &HTTPTransport{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.New("stopped after 10 redirects")
				}
				return nil
			},
		},
		userAgent: userAgent,
	}
}

func (t *HTTPTransport) StatusCode(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	// Drain a bounded amount so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	return resp.StatusCode, nil
}

func (t *HTTPTransport) CheckURL(ctx context.Context, url string) bool {
	_, err := t.StatusCode(ctx, url)
	return err == nil
}
