package integration

import (
	"context"

	"github.com/kart-io/trackhub/pkg/errors"
	"github.com/kart-io/trackhub/pkg/message"
	"github.com/kart-io/trackhub/pkg/metrics"
	"github.com/kart-io/trackhub/pkg/middleware"
	"github.com/kart-io/trackhub/pkg/observability"
)

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeFiltered
	outcomeFailed
)

type target struct {
	name        string
	integration Integration
	failed      bool
	destination *middleware.Chain
}

// Invoke dispatches env: the source chain runs once on a copy, then every
// instantiated integration, in registration order, gets its own copy
// through the integration chain, its destination chain if one is
// registered, and finally its Invoke. The destination chain receives the
// integration chain's output, not the copy taken before that chain ran, so
// integration-chain rewrites are visible to destination stages. Each
// integration is isolated: an
// error or panic in its branch is logged and counted, and the remaining
// integrations still run. Nothing is returned as an error.
func (p *Pipeline) Invoke(ctx context.Context, method message.Type, env *message.Envelope) (report Report) {
	messageID := ""
	if env != nil {
		messageID = env.MessageID
	}
	ctx, span := p.telemetry.TraceInvoke(ctx, string(method), messageID)
	methodTags := map[string]string{metrics.TagMethod: string(method)}

	defer func() {
		if r := recover(); r != nil {
			report.Dropped = true
			report.Err = errors.FromPanic(r, errors.ErrMiddlewareFailed, "source middleware panicked")
		}
		if report.Err != nil {
			p.recorder.Increment(ctx, metrics.InvokeError, methodTags)
			p.logger.Error("Error invoking method", "method", method, "error", report.Err)
		}
		observability.End(span, report.Err)
	}()

	targets := p.targets()
	scope := middleware.Scope{Integrations: names(targets)}

	res, err := p.source.Apply(ctx, env, scope)
	if err != nil {
		return Report{Dropped: true, Err: err}
	}
	if res.Dropped() {
		p.logger.Debug("Payload was null and dropped by a source middleware", "method", method)
		return Report{Dropped: true}
	}
	result := res.Message()

	if p.onInvoke != nil {
		p.onInvoke(result.Clone())
	}
	p.recorder.Increment(ctx, metrics.Invoke, methodTags)

	for _, t := range targets {
		msg := result.Clone()

		if !msg.Enabled(t.name) {
			report.Disabled = append(report.Disabled, t.name)
			continue
		}
		if t.failed {
			p.logger.Debug("Skipping invocation, integration failed to initialize properly",
				"method", method, "integration", t.name)
			report.Skipped = append(report.Skipped, t.name)
			continue
		}

		switch out, err := p.invokeOne(ctx, method, t, msg, scope); out {
		case outcomeDelivered:
			report.Delivered = append(report.Delivered, t.name)
		case outcomeFiltered:
			report.Filtered = append(report.Filtered, t.name)
		case outcomeFailed:
			p.recorder.Increment(ctx, metrics.IntegrationInvokeError, map[string]string{
				metrics.TagMethod:          string(method),
				metrics.TagIntegrationName: t.name,
			})
			p.logger.Error("Error invoking integration", "method", method, "integration", t.name, "error", err)
			report.Failed = append(report.Failed, t.name)
		}
	}

	return report
}

// invokeOne runs one integration's branch inside its own failure boundary.
func (p *Pipeline) invokeOne(ctx context.Context, method message.Type, t target, msg *message.Envelope, scope middleware.Scope) (out outcome, err error) {
	ctx, span := p.telemetry.TraceIntegrationInvoke(ctx, string(method), t.name, msg.MessageID)
	defer func() {
		if r := recover(); r != nil {
			out = outcomeFailed
			err = errors.FromPanic(r, errors.ErrIntegrationPanic, "integration panicked").WithIntegration(t.name)
		}
		observability.End(span, err)
	}()

	scope.Integration = t.name

	res, err := p.integrations.Apply(ctx, msg, scope)
	if err != nil {
		return outcomeFailed, err
	}
	if res.Dropped() {
		p.logger.Debug("Payload to integration was null and dropped by a middleware", "integration", t.name)
		return outcomeFiltered, nil
	}
	msg = res.Message()

	if t.destination != nil {
		res, err = t.destination.Apply(ctx, msg, scope)
		if err != nil {
			return outcomeFailed, err
		}
		if res.Dropped() {
			p.logger.Debug("Payload to destination was null and dropped by a middleware", "integration", t.name)
			return outcomeFiltered, nil
		}
		msg = res.Message()
	}

	p.recorder.Increment(ctx, metrics.IntegrationInvoke, map[string]string{
		metrics.TagMethod:          string(method),
		metrics.TagIntegrationName: t.name,
	})
	if err := t.integration.Invoke(ctx, method, msg); err != nil {
		if _, coded := errors.GetCode(err); !coded {
			err = errors.Wrap(err, errors.ErrIntegrationInvoke, "integration invoke failed").WithIntegration(t.name)
		}
		return outcomeFailed, err
	}
	return outcomeDelivered, nil
}

// targets snapshots the instantiated integrations.
func (p *Pipeline) targets() []target {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]target, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, target{
			name:        rec.name,
			integration: rec.target,
			failed:      rec.state == StateFailed,
			destination: p.destinations[rec.name],
		})
	}
	return out
}

func names(targets []target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.name
	}
	return out
}
