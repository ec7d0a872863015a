package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Provider implements Telemetry over the OpenTelemetry SDK with a periodic
// stdout exporter. Instruments are created lazily and cached by name.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// New creates a telemetry provider from the configuration. A disabled
// configuration yields a no-op implementation.
func New(cfg Config) (Telemetry, error) {
	return newProvider(cfg, nil)
}

// NewWithWriter is New with the metric export destination redirected,
// primarily for tests.
func NewWithWriter(cfg Config, w io.Writer) (Telemetry, error) {
	return newProvider(cfg, w)
}

func newProvider(cfg Config, w io.Writer) (Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	exporterOpts := []stdoutmetric.Option{stdoutmetric.WithPrettyPrint()}
	if w != nil {
		exporterOpts = append(exporterOpts, stdoutmetric.WithEncoder(json.NewEncoder(w)))
	}
	exporter, err := stdoutmetric.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	res, err := sdkresource.Merge(sdkresource.Default(),
		sdkresource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		))
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(cfg.ExportInterval))),
	)

	return &Provider{
		meterProvider: meterProvider,
		meter:         meterProvider.Meter(cfg.ServiceName),
		counters:      make(map[string]metric.Int64Counter),
		histograms:    make(map[string]metric.Float64Histogram),
	}, nil
}

// RecordCounter increments the named counter.
func (p *Provider) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	counter, err := p.counter(name)
	if err != nil {
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// RecordHistogram records a value in the named histogram.
func (p *Provider) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	histogram, err := p.histogram(name)
	if err != nil {
		return
	}
	histogram.Record(ctx, value, metric.WithAttributes(attrs...))
}

// Shutdown flushes pending metrics and stops the periodic reader.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.meterProvider.Shutdown(ctx)
}

func (p *Provider) counter(name string) (metric.Int64Counter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if counter, ok := p.counters[name]; ok {
		return counter, nil
	}
	counter, err := p.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	p.counters[name] = counter
	return counter, nil
}

func (p *Provider) histogram(name string) (metric.Float64Histogram, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if histogram, ok := p.histograms[name]; ok {
		return histogram, nil
	}
	histogram, err := p.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	p.histograms[name] = histogram
	return histogram, nil
}

var _ Telemetry = (*Provider)(nil)
