package scheduler

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Meters holds the counters the scheduler and tool loop increment.
// SetupMetrics returns a no-op implementation when no provider has been
// configured via SetupTracing's OTLP exporter wiring, matching the
// ambient tracing setup's same degrade-to-no-op policy.
type Meters struct {
	HealthScansRun   metric.Int64Counter
	CompactionsRun   metric.Int64Counter
	ToolCallsRun     metric.Int64Counter
	ToolLoopTurns    metric.Int64Counter
}

// SetupMetrics builds the counters against the process-wide MeterProvider
// (set by an otel SDK meter provider when configured, otherwise the
// default no-op one).
func SetupMetrics(serviceName string) (*Meters, error) {
	meter := otel.GetMeterProvider().Meter(serviceName)
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(serviceName)
	}

	scans, err := meter.Int64Counter("mira.scheduler.health_scans_run")
	if err != nil {
		return nil, err
	}
	compactions, err := meter.Int64Counter("mira.scheduler.compactions_run")
	if err != nil {
		return nil, err
	}
	toolCalls, err := meter.Int64Counter("mira.toolloop.tool_calls_run")
	if err != nil {
		return nil, err
	}
	turns, err := meter.Int64Counter("mira.toolloop.turns_run")
	if err != nil {
		return nil, err
	}

	return &Meters{
		HealthScansRun: scans,
		CompactionsRun: compactions,
		ToolCallsRun:   toolCalls,
		ToolLoopTurns:  turns,
	}, nil
}

// RecordScan increments the health-scan counter by one.
func (m *Meters) RecordScan(ctx context.Context) {
	if m == nil {
		return
	}
	m.HealthScansRun.Add(ctx, 1)
}

// RecordCompaction increments the compaction counter by one.
func (m *Meters) RecordCompaction(ctx context.Context) {
	if m == nil {
		return
	}
	m.CompactionsRun.Add(ctx, 1)
}
