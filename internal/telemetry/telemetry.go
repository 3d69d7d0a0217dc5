// Package telemetry exposes poll and alert metrics through an
// OpenTelemetry meter backed by a Prometheus registry.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/makt28/mandown"

// Telemetry owns the meter provider and the registry it exports to.
type Telemetry struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider
	Meter    metric.Meter
}

// New creates a meter provider exporting to a fresh Prometheus registry.
func New() (*Telemetry, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return &Telemetry{
		registry: reg,
		provider: provider,
		Meter:    provider.Meter(meterName),
	}, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// Metrics records poll loop and alerting instruments. A nil *Metrics
// records nothing.
type Metrics struct {
	cycles        metric.Int64Counter
	cycleDuration metric.Float64Histogram
	probes        metric.Int64Counter
	changed       metric.Int64Counter
	alerts        metric.Int64Counter
}

// NewMetrics registers the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.cycles, err = meter.Int64Counter("mandown.cycles",
		metric.WithDescription("Poll cycles by outcome")); err != nil {
		return nil, err
	}
	if m.cycleDuration, err = meter.Float64Histogram("mandown.cycle.duration",
		metric.WithDescription("Poll cycle duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.probes, err = meter.Int64Counter("mandown.probes",
		metric.WithDescription("Site probes by status class")); err != nil {
		return nil, err
	}
	if m.changed, err = meter.Int64Counter("mandown.sites.changed",
		metric.WithDescription("Sites whose status changed")); err != nil {
		return nil, err
	}
	if m.alerts, err = meter.Int64Counter("mandown.alerts",
		metric.WithDescription("Alert messages by delivery result")); err != nil {
		return nil, err
	}
	return &m, nil
}

// CycleFinished records one poll cycle. outcome is "ok", "skipped" or "error".
func (m *Metrics) CycleFinished(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, d.Seconds(), attrs)
}

// ProbeDone records the status a probe settled on.
func (m *Metrics) ProbeDone(ctx context.Context, status int) {
	if m == nil {
		return
	}
	m.probes.Add(ctx, 1, metric.WithAttributes(attribute.String("class", StatusClass(status))))
}

// SitesChanged records the size of a cycle's changed set.
func (m *Metrics) SitesChanged(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.changed.Add(ctx, int64(n))
}

// AlertSent records one alert delivery attempt.
func (m *Metrics) AlertSent(ctx context.Context, delivered bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !delivered {
		result = "failed"
	}
	m.alerts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// StatusClass maps an HTTP status to a low-cardinality label.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
