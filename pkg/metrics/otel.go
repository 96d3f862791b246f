package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kart-io/trackhub/pkg/logger"
)

// OTel records counters as OpenTelemetry Int64Counters, created lazily per
// metric name.
type OTel struct {
	meter  metric.Meter
	logger logger.Logger

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
}

// NewOTel creates a recorder on meter.
func NewOTel(meter metric.Meter, log logger.Logger) *OTel {
	return &OTel{
		meter:    meter,
		logger:   logger.OrDiscard(log),
		counters: make(map[string]metric.Int64Counter),
	}
}

// Increment implements Recorder
func (o *OTel) Increment(ctx context.Context, name string, tags map[string]string) {
	counter, ok := o.counter(name)
	if !ok {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attributes(tags)...))
}

func (o *OTel) counter(name string) (metric.Int64Counter, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if c, ok := o.counters[name]; ok {
		return c, true
	}
	c, err := o.meter.Int64Counter(name,
		metric.WithDescription("Number of "+strings.ReplaceAll(name, ".", " ")+" events"),
	)
	if err != nil {
		o.logger.Warn("Failed to create counter", "metric", name, "error", err)
		return nil, false
	}
	o.counters[name] = c
	return c, true
}

func attributes(tags map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, tags[k]))
	}
	return attrs
}
