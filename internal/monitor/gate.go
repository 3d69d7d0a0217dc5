package monitor

import (
	"context"
	"time"
)

// Gate checks that the monitor's own connectivity works before a cycle
// blames sites for being down.
type Gate struct {
	transport Transport
	sites     []string
	timeout   time.Duration
}

// NewGate creates a Gate over the baseline sites.
func NewGate(transport Transport, sites []string, timeout time.Duration) *Gate {
	return &Gate{transport: transport, sites: sites, timeout: timeout}
}

// Available probes every baseline site concurrently and returns true as
// soon as one answers. It returns false for an empty list or when all
// probes fail. Outstanding probes are cancelled on return.
func (g *Gate) Available(ctx context.Context) bool {
	if len(g.sites) == 0 {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan bool, len(g.sites))
	for _, site := range g.sites {
		go func(site string) {
			probeCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()
			results <- g.transport.CheckURL(probeCtx, site)
		}(site)
	}

	for range g.sites {
		if <-results {
			return true
		}
	}
	return false
}
