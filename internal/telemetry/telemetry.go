// Package telemetry exposes connector metrics through OpenTelemetry with a
// Prometheus reader. A nil *Metrics records nothing, so components can be
// built without it.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/vrct-tts/connector"

// Metrics holds the connector instruments.
type Metrics struct {
	requests  metric.Int64Counter
	lookups   metric.Int64Counter
	synthesis metric.Float64Histogram
	playback  metric.Int64Counter
}

// Setup creates a meter provider backed by a private Prometheus registry
// and returns the instruments, the scrape handler and a shutdown func.
func Setup() (*Metrics, http.Handler, func(context.Context) error, error) {
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	m, err := newMetrics(provider.Meter(meterName))
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, nil, nil, err
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m, handler, provider.Shutdown, nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m    Metrics
		err  error
		errs []error
	)

	m.requests, err = meter.Int64Counter("vrct_tts_requests",
		metric.WithDescription("Requests handled, by command and status."))
	errs = append(errs, err)

	m.lookups, err = meter.Int64Counter("vrct_tts_cache_lookups",
		metric.WithDescription("Audio cache lookups, by serving tier."))
	errs = append(errs, err)

	m.synthesis, err = meter.Float64Histogram("vrct_tts_synthesis_duration",
		metric.WithDescription("Engine synthesis latency."),
		metric.WithUnit("s"))
	errs = append(errs, err)

	m.playback, err = meter.Int64Counter("vrct_tts_playback_sessions",
		metric.WithDescription("Local playback sessions started, by device target."))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	return &m, nil
}

// RecordRequest counts one handled request.
func (m *Metrics) RecordRequest(ctx context.Context, command, status string) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("status", status),
	))
}

// RecordCacheLookup counts a lookup served by result: memory, disk or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSynthesis observes one adapter call.
func (m *Metrics) RecordSynthesis(ctx context.Context, engine string, d time.Duration) {
	if m == nil {
		return
	}
	m.synthesis.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("engine", engine)))
}

// RecordPlayback counts a started playback session.
func (m *Metrics) RecordPlayback(ctx context.Context, device string) {
	if m == nil {
		return
	}
	m.playback.Add(ctx, 1, metric.WithAttributes(attribute.String("device", device)))
}
