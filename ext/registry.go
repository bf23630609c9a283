package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/soliplex/ingester/model"
)

type stepStartedEntry struct {
	name string
	hook StepStarted
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type stepRetryingEntry struct {
	name string
	hook StepRetrying
}

type itemStartedEntry struct {
	name string
	hook ItemStarted
}

type itemCompletedEntry struct {
	name string
	hook ItemCompleted
}

type itemFailedEntry struct {
	name string
	hook ItemFailed
}

type groupStartedEntry struct {
	name string
	hook GroupStarted
}

type groupCompletedEntry struct {
	name string
	hook GroupCompleted
}

type groupFailedEntry struct {
	name string
	hook GroupFailed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	stepStarted    []stepStartedEntry
	stepCompleted  []stepCompletedEntry
	stepFailed     []stepFailedEntry
	stepRetrying   []stepRetryingEntry
	itemStarted    []itemStartedEntry
	itemCompleted  []itemCompletedEntry
	itemFailed     []itemFailedEntry
	groupStarted   []groupStartedEntry
	groupCompleted []groupCompletedEntry
	groupFailed    []groupFailedEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into every applicable
// hook cache. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(StepStarted); ok {
		r.stepStarted = append(r.stepStarted, stepStartedEntry{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, h})
	}
	if h, ok := e.(StepRetrying); ok {
		r.stepRetrying = append(r.stepRetrying, stepRetryingEntry{name, h})
	}
	if h, ok := e.(ItemStarted); ok {
		r.itemStarted = append(r.itemStarted, itemStartedEntry{name, h})
	}
	if h, ok := e.(ItemCompleted); ok {
		r.itemCompleted = append(r.itemCompleted, itemCompletedEntry{name, h})
	}
	if h, ok := e.(ItemFailed); ok {
		r.itemFailed = append(r.itemFailed, itemFailedEntry{name, h})
	}
	if h, ok := e.(GroupStarted); ok {
		r.groupStarted = append(r.groupStarted, groupStartedEntry{name, h})
	}
	if h, ok := e.(GroupCompleted); ok {
		r.groupCompleted = append(r.groupCompleted, groupCompletedEntry{name, h})
	}
	if h, ok := e.(GroupFailed); ok {
		r.groupFailed = append(r.groupFailed, groupFailedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitStepStarted notifies all extensions that implement StepStarted.
func (r *Registry) EmitStepStarted(ctx context.Context, step *model.RunStep) {
	for _, e := range r.stepStarted {
		if err := e.hook.OnStepStarted(ctx, step); err != nil {
			r.logHookError("OnStepStarted", e.name, err)
		}
	}
}

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, step *model.RunStep, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, step, elapsed); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, step *model.RunStep, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, step, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// EmitStepRetrying notifies all extensions that implement StepRetrying.
func (r *Registry) EmitStepRetrying(ctx context.Context, step *model.RunStep, attempt int, nextAttemptAt time.Time) {
	for _, e := range r.stepRetrying {
		if err := e.hook.OnStepRetrying(ctx, step, attempt, nextAttemptAt); err != nil {
			r.logHookError("OnStepRetrying", e.name, err)
		}
	}
}

// EmitItemStarted notifies all extensions that implement ItemStarted.
func (r *Registry) EmitItemStarted(ctx context.Context, run *model.WorkflowRun) {
	for _, e := range r.itemStarted {
		if err := e.hook.OnItemStarted(ctx, run); err != nil {
			r.logHookError("OnItemStarted", e.name, err)
		}
	}
}

// EmitItemCompleted notifies all extensions that implement ItemCompleted.
func (r *Registry) EmitItemCompleted(ctx context.Context, run *model.WorkflowRun, elapsed time.Duration) {
	for _, e := range r.itemCompleted {
		if err := e.hook.OnItemCompleted(ctx, run, elapsed); err != nil {
			r.logHookError("OnItemCompleted", e.name, err)
		}
	}
}

// EmitItemFailed notifies all extensions that implement ItemFailed.
func (r *Registry) EmitItemFailed(ctx context.Context, run *model.WorkflowRun, runErr error) {
	for _, e := range r.itemFailed {
		if err := e.hook.OnItemFailed(ctx, run, runErr); err != nil {
			r.logHookError("OnItemFailed", e.name, err)
		}
	}
}

// EmitGroupStarted notifies all extensions that implement GroupStarted.
func (r *Registry) EmitGroupStarted(ctx context.Context, group *model.RunGroup) {
	for _, e := range r.groupStarted {
		if err := e.hook.OnGroupStarted(ctx, group); err != nil {
			r.logHookError("OnGroupStarted", e.name, err)
		}
	}
}

// EmitGroupCompleted notifies all extensions that implement GroupCompleted.
func (r *Registry) EmitGroupCompleted(ctx context.Context, group *model.RunGroup, elapsed time.Duration) {
	for _, e := range r.groupCompleted {
		if err := e.hook.OnGroupCompleted(ctx, group, elapsed); err != nil {
			r.logHookError("OnGroupCompleted", e.name, err)
		}
	}
}

// EmitGroupFailed notifies all extensions that implement GroupFailed.
func (r *Registry) EmitGroupFailed(ctx context.Context, group *model.RunGroup) {
	for _, e := range r.groupFailed {
		if err := e.hook.OnGroupFailed(ctx, group); err != nil {
			r.logHookError("OnGroupFailed", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
