// Package worker provides the step execution runtime — an Executor that
// resolves a claimed RunStep to its registered handler and invokes it,
// and a Pool that manages concurrent worker goroutines claiming and
// executing steps.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/soliplex/ingester/ext"
	"github.com/soliplex/ingester/handler"
	"github.com/soliplex/ingester/model"
	"github.com/soliplex/ingester/scheduler"
	"github.com/soliplex/ingester/store"
)

// Executor runs a single claimed RunStep through its resolved handler,
// then advances the step via the Scheduler's claim/advance state machine.
type Executor struct {
	handlers   *handler.Registry
	scheduler  *scheduler.Scheduler
	store      store.Store
	extensions *ext.Registry
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(handlers *handler.Registry, sched *scheduler.Scheduler, s store.Store, extensions *ext.Registry, logger *slog.Logger) *Executor {
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	return &Executor{
		handlers:   handlers,
		scheduler:  sched,
		store:      s,
		extensions: extensions,
		logger:     logger,
	}
}

// Execute runs step through its resolved handler and advances it
// transactionally via the Scheduler. Execute does not return an error for
// a failed handler invocation: RetryableError/FatalError/plain errors are
// all converted into an Advance outcome and the step's new state is
// committed. Execute returns an error when persistence or step resolution
// fails; the step then remains RUNNING and crash recovery will eventually
// reclaim it.
func (e *Executor) Execute(ctx context.Context, step *model.RunStep) error {
	run, err := e.store.GetWorkflowRun(ctx, step.WorkflowRunID)
	if err != nil {
		return fmt.Errorf("worker: load run for step %s: %w", step.ID, err)
	}
	group, err := e.store.GetRunGroup(ctx, run.RunGroupID)
	if err != nil {
		return fmt.Errorf("worker: load group for step %s: %w", step.ID, err)
	}

	start := time.Now()
	e.extensions.EmitStepStarted(ctx, step)

	stepSpec, cfg, err := e.scheduler.StepSpecFor(ctx, run, group.WorkflowDefinitionID, group.ParamDefinitionID, step, start)
	if err != nil {
		return fmt.Errorf("worker: resolve step spec for %s: %w", step.ID, err)
	}

	fn, ok := e.handlers.Get(stepSpec.Handler)
	if !ok {
		return fmt.Errorf("worker: no handler registered for %q (step %s)", stepSpec.Handler, step.ID)
	}

	source := ""
	if !run.BatchID.IsNil() {
		batch, err := e.store.GetBatch(ctx, run.BatchID)
		switch {
		case err == nil:
			source = batch.Source
		case !errors.Is(err, store.ErrBatchNotFound):
			return fmt.Errorf("worker: load batch for step %s: %w", step.ID, err)
		}
	}

	req := handler.Request{
		BatchID:          run.BatchID,
		DocHash:          run.DocHash,
		Source:           source,
		StepType:         stepSpec.StepType,
		Config:           cfg.Config,
		CumulativeConfig: cfg.CumulativeConfig,
	}

	hctx := ctx
	if d := softDeadline(cfg.Config); d > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	meta, handlerErr := e.invoke(hctx, fn, req, stepSpec.Handler)
	now := time.Now()
	elapsed := now.Sub(start)

	if handlerErr != nil && errors.Is(handlerErr, context.DeadlineExceeded) {
		handlerErr = handler.NewRetryableError(handlerErr)
	}

	outcome := outcomeFromResult(meta, handlerErr)
	if advanceErr := e.scheduler.Advance(ctx, step.ID, now, outcome); advanceErr != nil {
		e.logger.Error("failed to advance run step",
			slog.String("step_id", step.ID.String()),
			slog.String("error", advanceErr.Error()),
		)
		return advanceErr
	}

	switch {
	case handlerErr == nil:
		e.extensions.EmitStepCompleted(ctx, step, elapsed)
	case outcome.Fatal || step.RetriesExhausted():
		e.extensions.EmitStepFailed(ctx, step, handlerErr)
	default:
		e.extensions.EmitStepRetrying(ctx, step, step.Retry+1, now)
	}
	return nil
}

// invoke calls fn and recovers from any panic inside it, converting the
// panic into a retryable error with a stack trace logged at error level.
// A handler that panics is a bug in the handler, not in the engine; the
// step still goes through the normal Advance path rather than crashing
// the worker process.
func (e *Executor) invoke(ctx context.Context, fn handler.Func, req handler.Request, handlerName string) (meta map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			e.logger.Error("step handler panicked",
				slog.String("handler", handlerName),
				slog.Any("panic", r),
				slog.String("stack", stack),
			)
			err = handler.NewRetryableError(fmt.Errorf("panic in handler %s: %v", handlerName, r))
		}
	}()
	return fn(ctx, req)
}

// softDeadline reads an optional "timeout_seconds" option from a step's
// resolved config and returns it as a duration. A step config with no
// such option (or a non-positive value) has no soft deadline.
func softDeadline(cfg map[string]any) time.Duration {
	v, ok := cfg["timeout_seconds"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return time.Duration(n * float64(time.Second))
	case int:
		return time.Duration(n) * time.Second
	case int64:
		return time.Duration(n) * time.Second
	default:
		return 0
	}
}

func outcomeFromResult(meta map[string]any, err error) scheduler.Outcome {
	if err == nil {
		return scheduler.Outcome{Completed: true, Meta: stringifyMeta(meta)}
	}
	return scheduler.Outcome{
		Completed: false,
		Fatal:     handler.IsFatal(err),
		Message:   err.Error(),
	}
}

func stringifyMeta(meta map[string]any) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
