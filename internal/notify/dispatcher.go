package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/makt28/mandown/internal/store"
	"github.com/makt28/mandown/internal/telemetry"
)

const sendTimeout = 10 * time.Second

// DispatchReport summarises one fan-out.
type DispatchReport struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Dispatcher sends a status alert to every owner of each changed site.
// Delivery is best-effort: failures are logged and the fan-out continues.
type Dispatcher struct {
	owners    OwnerLookup
	messenger Messenger
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// NewDispatcher creates a Dispatcher. metrics may be nil.
func NewDispatcher(owners OwnerLookup, messenger Messenger, logger *slog.Logger, metrics *telemetry.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		owners:    owners,
		messenger: messenger,
		logger:    logger.With("component", "dispatcher"),
		metrics:   metrics,
	}
}

// Notify alerts the owners of each site in changed. Sites without owners,
// or whose owners cannot be resolved, are counted as skipped.
func (d *Dispatcher) Notify(ctx context.Context, changed []store.Site) DispatchReport {
	var report DispatchReport

	for _, site := range changed {
		owners, err := d.owners.OwnersOf(ctx, site.ID)
		if err != nil {
			d.logger.Error("owner lookup failed", "site_id", site.ID, "url", site.URL, "error", err)
			report.Skipped++
			continue
		}
		if len(owners) == 0 {
			d.logger.Debug("site has no owners, skipping notification", "site_id", site.ID)
			report.Skipped++
			continue
		}

		text := StatusMessage(site.URL, site.Status)
		for _, chatID := range owners {
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			err := d.messenger.Send(sendCtx, chatID, text)
			cancel()

			d.metrics.AlertSent(ctx, err == nil)
			if err != nil {
				d.logger.Error("notification send failed",
					"site_id", site.ID,
					"chat_id", chatID,
					"error", err,
				)
				report.Failed++
				continue
			}
			d.logger.Info("notification sent",
				"site_id", site.ID,
				"chat_id", chatID,
				"status", site.Status,
			)
			report.Sent++
		}
	}
	return report
}
