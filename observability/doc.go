// Package observability provides OpenTelemetry-based metrics and tracing
// for workflow execution. MetricsExtension implements the lifecycle
// extension hooks to record counters and histograms for step
// completions, failures, and retries and for workflow run and run group
// completions and failures; a step start records only a trace span.
package observability
