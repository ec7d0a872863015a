package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Telemetry is the metrics abstraction used by the storage components.
// Components record counters and histograms against this interface without
// depending directly on OpenTelemetry.
type Telemetry interface {
	// RecordCounter records a counter increment with optional attributes.
	RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)

	// RecordHistogram records a histogram value with optional attributes.
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)

	// Shutdown flushes pending exports and releases provider resources.
	Shutdown(ctx context.Context) error
}

// NoopTelemetry discards everything. Used when telemetry is disabled and in
// tests.
type NoopTelemetry struct{}

// NewNoop creates a no-operation telemetry instance.
func NewNoop() Telemetry {
	return &NoopTelemetry{}
}

// RecordCounter is a no-op.
func (n *NoopTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
}

// RecordHistogram is a no-op.
func (n *NoopTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
}

// Shutdown is a no-op.
func (n *NoopTelemetry) Shutdown(ctx context.Context) error {
	return nil
}

// RecordDuration records the time elapsed since start in a histogram, in
// seconds.
func RecordDuration(ctx context.Context, tel Telemetry, name string, start time.Time, attrs ...attribute.KeyValue) {
	tel.RecordHistogram(ctx, name, time.Since(start).Seconds(), attrs...)
}

// Common attribute keys for consistent naming across components
const (
	AttrComponent = "component"
	AttrOperation = "operation"
	AttrStatus    = "status"
)

// Common attribute values
const (
	StatusSuccess = "success"
	StatusError   = "error"

	ComponentBlockFile = "blockfile"
	ComponentFreespace = "freespace"
	ComponentListStore = "liststore"
	ComponentRTree     = "rtree"
	ComponentPostings  = "postings"
)
