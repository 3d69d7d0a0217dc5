package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
)

var errNoStatus = errors.New("no status")

// Prober resolves a site URL to an HTTP status. Every failure collapses to
// status 0, and a 0 is retried exactly once.
type Prober struct {
	transport  Transport
	timeout    time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewProber creates a Prober applying timeout to each attempt.
func NewProber(transport Transport, timeout, retryDelay time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		transport:  transport,
		timeout:    timeout,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Probe returns the status of url, or 0 if both attempts fail.
func (p *Prober) Probe(ctx context.Context, url string) int {
	var status int
	_ = retry.Do(
		func() error {
			status = p.attempt(ctx, url)
			if status == 0 {
				return errNoStatus
			}
			return nil
		},
		retry.Attempts(2),
		retry.Delay(p.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Debug("probe failed, retrying", "url", url, "attempt", n+1)
		}),
	)
	return status
}

func (p *Prober) attempt(ctx context.Context, url string) int {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	code, err := p.transport.StatusCode(probeCtx, url)
	if err != nil {
		p.logger.Debug("probe attempt failed", "url", url, "error", err)
		return 0
	}
	return code
}
