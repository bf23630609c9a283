// Package ext defines the optional extension system for the ingestion
// engine. Extensions are notified of step/item/group lifecycle events and
// can react to them — logging, metrics, external notification — without
// the engine itself depending on them. This is a side-channel: the
// LifecycleHistory table (see the lifecycle package) is the durable
// system-of-record; extensions never gate or delay a state transition and
// their errors are never propagated back into the engine.
//
// Each lifecycle hook is a separate interface so an extension opts in
// only to the events it cares about.
package ext

import (
	"context"
	"time"

	"github.com/soliplex/ingester/model"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepStarted is called when a worker claims and begins a RunStep.
type StepStarted interface {
	OnStepStarted(ctx context.Context, step *model.RunStep) error
}

// StepCompleted is called after a RunStep finishes successfully.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, step *model.RunStep, elapsed time.Duration) error
}

// StepFailed is called when a RunStep fails terminally (FAILED).
type StepFailed interface {
	OnStepFailed(ctx context.Context, step *model.RunStep, err error) error
}

// StepRetrying is called when a RunStep errors but is scheduled to retry.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, step *model.RunStep, attempt int, nextAttemptAt time.Time) error
}

// ──────────────────────────────────────────────────
// Item (WorkflowRun) lifecycle hooks
// ──────────────────────────────────────────────────

// ItemStarted is called when a WorkflowRun begins.
type ItemStarted interface {
	OnItemStarted(ctx context.Context, run *model.WorkflowRun) error
}

// ItemCompleted is called after a WorkflowRun finishes successfully.
type ItemCompleted interface {
	OnItemCompleted(ctx context.Context, run *model.WorkflowRun, elapsed time.Duration) error
}

// ItemFailed is called when a WorkflowRun fails terminally.
type ItemFailed interface {
	OnItemFailed(ctx context.Context, run *model.WorkflowRun, err error) error
}

// ──────────────────────────────────────────────────
// Group (RunGroup) lifecycle hooks
// ──────────────────────────────────────────────────

// GroupStarted is called when a RunGroup is created.
type GroupStarted interface {
	OnGroupStarted(ctx context.Context, group *model.RunGroup) error
}

// GroupCompleted is called when every run in a RunGroup completes.
type GroupCompleted interface {
	OnGroupCompleted(ctx context.Context, group *model.RunGroup, elapsed time.Duration) error
}

// GroupFailed is called when a RunGroup reaches FAILED.
type GroupFailed interface {
	OnGroupFailed(ctx context.Context, group *model.RunGroup) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful engine shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
