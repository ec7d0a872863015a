package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/TectonDB/tecton/pkg/stats"
)

// PublishStats pushes a statistics snapshot into the telemetry sink as
// counters. Only numeric values are exported; the snapshot key becomes the
// metric name under the given component attribute.
//
// Counters in the snapshot are cumulative, so callers should publish a
// snapshot once (typically at shutdown) rather than repeatedly.
func PublishStats(ctx context.Context, tel Telemetry, provider stats.Provider, component string) {
	if tel == nil || provider == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String(AttrComponent, component)}
	for name, value := range provider.GetStats() {
		switch v := value.(type) {
		case uint64:
			tel.RecordCounter(ctx, name, int64(v), attrs...)
		case int64:
			tel.RecordCounter(ctx, name, v, attrs...)
		}
	}
}
