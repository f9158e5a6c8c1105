package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Manager owns the tracer and metric set for one process.
// A Manager built from a nil config (or NoopManager) disables both.
type Manager struct {
	config        *Config
	tracer        *Tracer
	metrics       *Metrics
	meterProvider *sdkmetric.MeterProvider
}

// NewManager creates a Manager from configuration.
// Call Initialize before use.
func NewManager(cfg *Config) *Manager {
	return &Manager{config: cfg}
}

// Initialize starts the tracer and builds the metric set. When metrics
// are enabled an OpenTelemetry meter provider is installed globally,
// exporting through the same Prometheus registry as the native
// collectors so everything surfaces on one scrape endpoint.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.config == nil {
		return nil
	}

	var opts []TracerOption
	if m.config.Tracing.IsDebugExporterEnabled() {
		opts = append(opts, WithDebugExporter(NewDebugExporter()))
	}
	if m.config.Tracing.CapturePayloads {
		opts = append(opts, WithCapturePayloads(true))
	}

	tracer, err := NewTracer(ctx, &m.config.Tracing, opts...)
	if err != nil {
		return err
	}
	m.tracer = tracer

	m.metrics = NewMetrics(&m.config.Metrics)

	if m.metrics != nil {
		exporter, err := otelprom.New(
			otelprom.WithRegisterer(m.metrics.registry),
			otelprom.WithNamespace(m.config.Metrics.Namespace),
		)
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		m.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		otel.SetMeterProvider(m.meterProvider)

		if err := registerProcessInstruments(m.meterProvider); err != nil {
			return fmt.Errorf("failed to register process instruments: %w", err)
		}
	}

	return nil
}

// registerProcessInstruments publishes process-level gauges through the
// OpenTelemetry pipeline.
func registerProcessInstruments(mp *sdkmetric.MeterProvider) error {
	meter := mp.Meter("aide")
	start := time.Now()

	_, err := meter.Float64ObservableGauge(
		"uptime_seconds",
		metric.WithDescription("Seconds since observability was initialized."),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(time.Since(start).Seconds())
			return nil
		}),
	)
	return err
}

// Tracer returns the tracer. A nil tracer produces no-op spans.
func (m *Manager) Tracer() *Tracer {
	if m == nil {
		return nil
	}
	return m.tracer
}

// Metrics returns the metric set. A nil metric set records nothing.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// Recorder returns the metric set as a Recorder, substituting a no-op
// recorder when metrics are disabled.
func (m *Manager) Recorder() Recorder {
	if m == nil || m.metrics == nil {
		return NoopMetrics{}
	}
	return m.metrics
}

// MetricsHandler returns the Prometheus scrape handler.
func (m *Manager) MetricsHandler() http.Handler {
	return m.Metrics().Handler()
}

// MetricsPath returns the configured scrape path.
func (m *Manager) MetricsPath() string {
	if m == nil || m.config == nil || m.config.Metrics.Endpoint == "" {
		return DefaultMetricsPath
	}
	return m.config.Metrics.Endpoint
}

// DebugExporter returns the in-memory span exporter, or nil when disabled.
func (m *Manager) DebugExporter() *DebugExporter {
	return m.Tracer().DebugExporter()
}

// Shutdown flushes and stops the tracer and the meter provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}

	var errs []error
	if m.meterProvider != nil {
		if err := m.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
