// Package metrics records fire-and-forget counters about the dispatch
// pipeline. Recorders never return errors and never block the caller.
package metrics

import (
	"context"
)

// Counter names incremented by the pipeline.
const (
	Invoke                 = "trackhub.invoke"
	InvokeError            = "trackhub.invoke.error"
	IntegrationInvoke      = "trackhub.integration.invoke"
	IntegrationInvokeError = "trackhub.integration.invoke.error"
)

// Tag keys used with the counters above.
const (
	TagMethod          = "method"
	TagIntegrationName = "integration_name"
)

// Recorder increments named counters.
type Recorder interface {
	Increment(ctx context.Context, metric string, tags map[string]string)
}

// Noop discards every increment.
type Noop struct{}

// Increment implements Recorder
func (Noop) Increment(context.Context, string, map[string]string) {}

// OrNoop returns r, or Noop when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}
