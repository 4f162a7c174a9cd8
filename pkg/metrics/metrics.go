// Package metrics exposes the engine's OpenTelemetry instruments. When
// metrics are disabled every instrument is a no-op.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MeterName is the instrumentation scope for tasklink metrics.
const MeterName = "tasklink"

const (
	EventsTotal       = "tasklink.events"
	StoreCallDuration = "tasklink.store.duration"
	ReconnectsTotal   = "tasklink.transport.reconnects"
)

type Config struct {
	Enabled bool `yaml:"enabled"`
}

// Provider owns the meter provider and, when enabled, the reader used to
// summarise collected values.
type Provider struct {
	Meter    metric.Meter
	reader   *sdkmetric.ManualReader
	shutdown func(context.Context) error
}

// Init returns a no-op provider unless cfg.Enabled is set.
func Init(cfg Config) *Provider {
	if !cfg.Enabled {
		return &Provider{
			Meter:    noop.NewMeterProvider().Meter(MeterName),
			shutdown: func(context.Context) error { return nil },
		}
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return &Provider{
		Meter:    mp.Meter(MeterName),
		reader:   reader,
		shutdown: mp.Shutdown,
	}
}

// Shutdown flushes and releases the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Summary collects current values: counters report their sum, histograms
// their observation count. A disabled provider returns an empty summary.
func (p *Provider) Summary(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64)
	if p.reader == nil {
		return out, nil
	}

	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += float64(dp.Value)
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += float64(dp.Count)
				}
			}
		}
	}
	return out, nil
}

// Metrics holds the instruments. A nil *Metrics records nothing.
type Metrics struct {
	Events            metric.Int64Counter
	StoreCallDuration metric.Float64Histogram
	Reconnects        metric.Int64Counter
}

// NewMetrics creates all instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Events, err = meter.Int64Counter(EventsTotal,
		metric.WithDescription("Chat events handled, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.StoreCallDuration, err = meter.Float64Histogram(StoreCallDuration,
		metric.WithDescription("Task store call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.Reconnects, err = meter.Int64Counter(ReconnectsTotal,
		metric.WithDescription("Transport reconnect attempts"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordEvent(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.Events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// ObserveStoreCall records how long a store operation took and whether it failed.
func (m *Metrics) ObserveStoreCall(ctx context.Context, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.StoreCallDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("error", err != nil),
	))
}

func (m *Metrics) RecordReconnect(ctx context.Context, transport string) {
	if m == nil {
		return
	}
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}
