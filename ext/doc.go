// Package ext defines the extension system for the ingestion engine.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc. Each
// lifecycle hook is a separate interface so extensions opt in only to the
// events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnStepCompleted(ctx context.Context, step *model.RunStep, elapsed time.Duration) error {
//	    log.Printf("step %s completed in %s", step.ID, elapsed)
//	    return nil
//	}
//
// # Step Lifecycle Hooks
//
//   - [StepStarted] — a worker claimed and began a RunStep
//   - [StepCompleted] — a RunStep finished successfully
//   - [StepFailed] — a RunStep failed terminally
//   - [StepRetrying] — a RunStep errored but will be retried
//
// # Item (WorkflowRun) Lifecycle Hooks
//
//   - [ItemStarted] — a WorkflowRun began
//   - [ItemCompleted] — a WorkflowRun finished successfully
//   - [ItemFailed] — a WorkflowRun failed terminally
//
// # Group (RunGroup) Lifecycle Hooks
//
//   - [GroupStarted] — a RunGroup was created
//   - [GroupCompleted] — every run in a RunGroup completed
//   - [GroupFailed] — a RunGroup reached FAILED
//
// # Other Hooks
//
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never propagated back into the engine.
package ext
