package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/soliplex/ingester/ext"
	"github.com/soliplex/ingester/id"
	"github.com/soliplex/ingester/model"
	"github.com/soliplex/ingester/observability"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	reader, mp := setupTestMeter()
	sr, tracer := setupTestTracer()
	e := observability.NewMetricsExtensionWithProvider(mp.Meter("test"), tracer)
	return e, reader, sr
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func newTestStep() *model.RunStep {
	return &model.RunStep{
		ID:         id.NewRunStepID(),
		StepNumber: 1,
		StepName:   "parse",
	}
}

func newTestRun() *model.WorkflowRun {
	return &model.WorkflowRun{ID: id.NewWorkflowRunID()}
}

func newTestGroup(status model.RunStatus) *model.RunGroup {
	return &model.RunGroup{ID: id.NewRunGroupID(), Status: status}
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_StepCompleted_RecordsDurationAndExecutions(t *testing.T) {
	e, reader, _ := newTestExtension()
	step := newTestStep()

	if err := e.OnStepCompleted(context.Background(), step, 150*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)

	dur := findMetric(rm, "ingester.step.duration")
	if dur == nil {
		t.Fatal("ingester.step.duration metric not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatal("expected one histogram data point")
	}

	execs := findMetric(rm, "ingester.step.executions")
	if execs == nil {
		t.Fatal("ingester.step.executions metric not found")
	}
	sum, ok := execs.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatal("expected one counter data point")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("expected value=1, got %d", sum.DataPoints[0].Value)
	}

	found := false
	for _, attr := range sum.DataPoints[0].Attributes.ToSlice() {
		if string(attr.Key) == "status" && attr.Value.AsString() == "ok" {
			found = true
		}
	}
	if !found {
		t.Error("expected status=ok attribute on executions counter")
	}
}

func TestMetricsExtension_StepFailed_RecordsErrorStatus(t *testing.T) {
	e, reader, sr := newTestExtension()
	step := newTestStep()

	if err := e.OnStepFailed(context.Background(), step, errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)
	execs := findMetric(rm, "ingester.step.executions")
	if execs == nil {
		t.Fatal("ingester.step.executions metric not found")
	}
	sum := execs.Data.(metricdata.Sum[int64])
	found := false
	for _, attr := range sum.DataPoints[0].Attributes.ToSlice() {
		if string(attr.Key) == "status" && attr.Value.AsString() == "error" {
			found = true
		}
	}
	if !found {
		t.Error("expected status=error attribute on executions counter")
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected span status Error, got %v", spans[0].Status().Code)
	}
}

func TestMetricsExtension_StepRetrying_IncrementsRetryCounter(t *testing.T) {
	e, reader, _ := newTestExtension()
	step := newTestStep()

	if err := e.OnStepRetrying(context.Background(), step, 1, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)
	retries := findMetric(rm, "ingester.step.retries")
	if retries == nil {
		t.Fatal("ingester.step.retries metric not found")
	}
	sum, ok := retries.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatal("expected one retry recorded")
	}
}

func TestMetricsExtension_ItemCompleted_RecordsRunDuration(t *testing.T) {
	e, reader, _ := newTestExtension()
	run := newTestRun()

	if err := e.OnItemCompleted(context.Background(), run, 2*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)
	dur := findMetric(rm, "ingester.run.duration")
	if dur == nil {
		t.Fatal("ingester.run.duration metric not found")
	}
	hist := dur.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatal("expected one run duration data point")
	}
}

func TestMetricsExtension_GroupCompleted_RecordsGroupDuration(t *testing.T) {
	e, reader, _ := newTestExtension()
	group := newTestGroup(model.StatusCompleted)

	if err := e.OnGroupCompleted(context.Background(), group, 5*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)
	dur := findMetric(rm, "ingester.group.duration")
	if dur == nil {
		t.Fatal("ingester.group.duration metric not found")
	}
	hist := dur.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatal("expected one group duration data point")
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader, _ := newTestExtension()
	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	step := newTestStep()
	run := newTestRun()
	group := newTestGroup(model.StatusFailed)

	reg.EmitStepStarted(ctx, step)
	reg.EmitStepCompleted(ctx, step, 10*time.Millisecond)
	reg.EmitStepFailed(ctx, step, errors.New("fail"))
	reg.EmitStepRetrying(ctx, step, 1, time.Now())
	reg.EmitItemStarted(ctx, run)
	reg.EmitItemCompleted(ctx, run, time.Second)
	reg.EmitItemFailed(ctx, run, errors.New("run fail"))
	reg.EmitGroupStarted(ctx, group)
	reg.EmitGroupCompleted(ctx, group, time.Second)
	reg.EmitGroupFailed(ctx, group)

	rm := collectMetrics(t, reader)
	for _, name := range []string{
		"ingester.step.duration",
		"ingester.step.executions",
		"ingester.step.retries",
		"ingester.run.duration",
		"ingester.group.duration",
	} {
		if findMetric(rm, name) == nil {
			t.Errorf("%s metric not recorded via registry", name)
		}
	}
}

func TestMetricsExtension_DefaultNoopSafe(t *testing.T) {
	e := observability.NewMetricsExtension()
	step := newTestStep()

	if err := e.OnStepStarted(context.Background(), step); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnStepCompleted(context.Background(), step, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
