package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "launchloop"

// Metrics holds all engine metric instruments. A nil *Metrics records
// nothing, so components can run without telemetry in tests.
type Metrics struct {
	Evaluations       metric.Int64Counter
	ProposalsCreated  metric.Int64Counter
	ProposalsResolved metric.Int64Counter
	MutationsApplied  metric.Int64Counter
	VersionConflicts  metric.Int64Counter
	CollectorFailures metric.Int64Counter
	DegradedEvents    metric.Int64Counter
	GraphVersion      metric.Int64Gauge
	PollDuration      metric.Float64Histogram
	EvalDuration      metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Evaluations, err = meter.Int64Counter("launchloop.trigger.evaluations",
		metric.WithDescription("Trigger evaluations by result"))
	if err != nil {
		return nil, err
	}

	m.ProposalsCreated, err = meter.Int64Counter("launchloop.proposals.created",
		metric.WithDescription("Proposals submitted to the approval gate"))
	if err != nil {
		return nil, err
	}

	m.ProposalsResolved, err = meter.Int64Counter("launchloop.proposals.resolved",
		metric.WithDescription("Proposals reaching a terminal status"))
	if err != nil {
		return nil, err
	}

	m.MutationsApplied, err = meter.Int64Counter("launchloop.graph.mutations",
		metric.WithDescription("Committed graph mutations by kind"))
	if err != nil {
		return nil, err
	}

	m.VersionConflicts, err = meter.Int64Counter("launchloop.graph.version_conflicts",
		metric.WithDescription("Mutations rejected because the graph moved"))
	if err != nil {
		return nil, err
	}

	m.CollectorFailures, err = meter.Int64Counter("launchloop.collector.failures",
		metric.WithDescription("Failed platform fetch attempts"))
	if err != nil {
		return nil, err
	}

	m.DegradedEvents, err = meter.Int64Counter("launchloop.collector.degraded",
		metric.WithDescription("Poll cycles that gave up after all retries"))
	if err != nil {
		return nil, err
	}

	m.GraphVersion, err = meter.Int64Gauge("launchloop.graph.version",
		metric.WithDescription("Current plan graph version"))
	if err != nil {
		return nil, err
	}

	m.PollDuration, err = meter.Float64Histogram("launchloop.collector.poll_seconds",
		metric.WithDescription("Channel poll duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.EvalDuration, err = meter.Float64Histogram("launchloop.trigger.eval_seconds",
		metric.WithDescription("Trigger evaluation duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Evaluated counts one trigger evaluation.
func (m *Metrics) Evaluated(ctx context.Context, result string, seconds float64) {
	if m == nil {
		return
	}
	m.Evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	m.EvalDuration.Record(ctx, seconds)
}

// ProposalCreated counts a submitted proposal.
func (m *Metrics) ProposalCreated(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.ProposalsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// ProposalResolved counts a terminal transition.
func (m *Metrics) ProposalResolved(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.ProposalsResolved.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// Committed counts a committed mutation and records the new version.
func (m *Metrics) Committed(ctx context.Context, kind string, version int64) {
	if m == nil {
		return
	}
	m.MutationsApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	m.GraphVersion.Record(ctx, version)
}

// Conflict counts a version conflict.
func (m *Metrics) Conflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.VersionConflicts.Add(ctx, 1)
}

// Polled records a finished poll cycle; failures is the number of failed
// attempts, degraded whether the cycle gave up.
func (m *Metrics) Polled(ctx context.Context, platform string, seconds float64, failures int, degraded bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("platform", platform))
	m.PollDuration.Record(ctx, seconds, attrs)
	if failures > 0 {
		m.CollectorFailures.Add(ctx, int64(failures), attrs)
	}
	if degraded {
		m.DegradedEvents.Add(ctx, 1, attrs)
	}
}
