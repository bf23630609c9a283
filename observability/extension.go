// Package observability provides an ext.Extension that records
// OpenTelemetry metrics and traces for step, item (WorkflowRun), and
// group (RunGroup) lifecycle events. It is a pure side-channel: engine
// state transitions never depend on it, and its errors are never
// propagated back into the scheduler or worker.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/soliplex/ingester/ext"
	"github.com/soliplex/ingester/model"
)

// instrumentationName is the instrumentation scope name for engine
// metrics and traces.
const instrumentationName = "github.com/soliplex/ingester"

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.StepStarted    = (*MetricsExtension)(nil)
	_ ext.StepCompleted  = (*MetricsExtension)(nil)
	_ ext.StepFailed     = (*MetricsExtension)(nil)
	_ ext.StepRetrying   = (*MetricsExtension)(nil)
	_ ext.ItemStarted    = (*MetricsExtension)(nil)
	_ ext.ItemCompleted  = (*MetricsExtension)(nil)
	_ ext.ItemFailed     = (*MetricsExtension)(nil)
	_ ext.GroupStarted   = (*MetricsExtension)(nil)
	_ ext.GroupCompleted = (*MetricsExtension)(nil)
	_ ext.GroupFailed    = (*MetricsExtension)(nil)
)

// MetricsExtension records engine-wide lifecycle metrics and traces via
// the global OTel Meter/TracerProvider. Register it with an ext.Registry
// to automatically track step durations, retry counts, failure counts,
// and run/group throughput.
//
// Instruments:
//   - ingester.step.duration (Float64Histogram, seconds): per-step
//     execution time, attributes step_name, status
//   - ingester.step.executions (Int64Counter): total step completions,
//     attributes step_name, status
//   - ingester.step.retries (Int64Counter): total retry schedules,
//     attribute step_name
//   - ingester.run.duration (Float64Histogram, seconds): per-WorkflowRun
//     wall-clock time, attribute status
//   - ingester.group.duration (Float64Histogram, seconds): per-RunGroup
//     wall-clock time, attribute status
type MetricsExtension struct {
	tracer trace.Tracer

	stepDuration   metric.Float64Histogram
	stepExecutions metric.Int64Counter
	stepRetries    metric.Int64Counter
	runDuration    metric.Float64Histogram
	groupDuration  metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider and TracerProvider. If neither is configured, OTel's noop
// implementations are used and the extension becomes a pass-through.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithProvider(otel.Meter(instrumentationName), otel.Tracer(instrumentationName))
}

// NewMetricsExtensionWithProvider creates a MetricsExtension using the
// given Meter and Tracer. This variant allows injecting a specific
// MeterProvider/TracerProvider for testing.
func NewMetricsExtensionWithProvider(meter metric.Meter, tracer trace.Tracer) *MetricsExtension {
	stepDuration, _ := meter.Float64Histogram(
		"ingester.step.duration",
		metric.WithDescription("Duration of RunStep execution in seconds"),
		metric.WithUnit("s"),
	)
	stepExecutions, _ := meter.Int64Counter(
		"ingester.step.executions",
		metric.WithDescription("Total number of RunStep completions"),
		metric.WithUnit("{execution}"),
	)
	stepRetries, _ := meter.Int64Counter(
		"ingester.step.retries",
		metric.WithDescription("Total number of RunStep retry schedules"),
		metric.WithUnit("{retry}"),
	)
	runDuration, _ := meter.Float64Histogram(
		"ingester.run.duration",
		metric.WithDescription("Duration of WorkflowRun execution in seconds"),
		metric.WithUnit("s"),
	)
	groupDuration, _ := meter.Float64Histogram(
		"ingester.group.duration",
		metric.WithDescription("Duration of RunGroup execution in seconds"),
		metric.WithUnit("s"),
	)

	return &MetricsExtension{
		tracer:         tracer,
		stepDuration:   stepDuration,
		stepExecutions: stepExecutions,
		stepRetries:    stepRetries,
		runDuration:    runDuration,
		groupDuration:  groupDuration,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Step lifecycle hooks ─────────────────────────────

// OnStepStarted implements ext.StepStarted.
func (m *MetricsExtension) OnStepStarted(ctx context.Context, step *model.RunStep) error {
	_, span := m.tracer.Start(ctx, "ingester.step.start", trace.WithAttributes(
		attribute.String("ingester.step.id", step.ID.String()),
		attribute.String("ingester.step.name", step.StepName),
		attribute.Int("ingester.step.number", step.StepNumber),
	))
	span.End()
	return nil
}

// OnStepCompleted implements ext.StepCompleted.
func (m *MetricsExtension) OnStepCompleted(ctx context.Context, step *model.RunStep, elapsed time.Duration) error {
	attrs := metric.WithAttributes(
		attribute.String("step_name", step.StepName),
		attribute.String("status", "ok"),
	)
	m.stepDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.stepExecutions.Add(ctx, 1, attrs)

	_, span := m.tracer.Start(ctx, "ingester.step.execute", trace.WithAttributes(
		attribute.String("ingester.step.id", step.ID.String()),
		attribute.String("ingester.step.name", step.StepName),
	))
	span.SetStatus(codes.Ok, "")
	span.End()
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, step *model.RunStep, err error) error {
	attrs := metric.WithAttributes(
		attribute.String("step_name", step.StepName),
		attribute.String("status", "error"),
	)
	m.stepExecutions.Add(ctx, 1, attrs)

	_, span := m.tracer.Start(ctx, "ingester.step.execute", trace.WithAttributes(
		attribute.String("ingester.step.id", step.ID.String()),
		attribute.String("ingester.step.name", step.StepName),
	))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
	return nil
}

// OnStepRetrying implements ext.StepRetrying.
func (m *MetricsExtension) OnStepRetrying(ctx context.Context, step *model.RunStep, attempt int, nextAttemptAt time.Time) error {
	m.stepRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step_name", step.StepName),
	))
	return nil
}

// ── Item (WorkflowRun) lifecycle hooks ──────────────

// OnItemStarted implements ext.ItemStarted.
func (m *MetricsExtension) OnItemStarted(ctx context.Context, run *model.WorkflowRun) error {
	return nil
}

// OnItemCompleted implements ext.ItemCompleted.
func (m *MetricsExtension) OnItemCompleted(ctx context.Context, run *model.WorkflowRun, elapsed time.Duration) error {
	m.runDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("status", "completed"),
	))
	return nil
}

// OnItemFailed implements ext.ItemFailed.
func (m *MetricsExtension) OnItemFailed(ctx context.Context, run *model.WorkflowRun, err error) error {
	m.runDuration.Record(ctx, 0, metric.WithAttributes(
		attribute.String("status", "failed"),
	))
	return nil
}

// ── Group (RunGroup) lifecycle hooks ────────────────

// OnGroupStarted implements ext.GroupStarted.
func (m *MetricsExtension) OnGroupStarted(ctx context.Context, group *model.RunGroup) error {
	return nil
}

// OnGroupCompleted implements ext.GroupCompleted.
func (m *MetricsExtension) OnGroupCompleted(ctx context.Context, group *model.RunGroup, elapsed time.Duration) error {
	m.groupDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("status", string(group.Status)),
	))
	return nil
}

// OnGroupFailed implements ext.GroupFailed.
func (m *MetricsExtension) OnGroupFailed(ctx context.Context, group *model.RunGroup) error {
	m.groupDuration.Record(ctx, 0, metric.WithAttributes(
		attribute.String("status", string(group.Status)),
	))
	return nil
}
