// Package scheduler implements the claim and advance state machine that
// drives RunStep execution: claiming eligible steps under the
// persistence layer's row-level lock, and — after a worker returns a
// terminal outcome — inserting the next step, completing a run/group, or
// scheduling a backoff retry, all inside one transaction alongside the
// LifecycleHistory row that records it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soliplex/ingester/backoff"
	"github.com/soliplex/ingester/id"
	"github.com/soliplex/ingester/lifecycle"
	"github.com/soliplex/ingester/model"
	"github.com/soliplex/ingester/registry"
	"github.com/soliplex/ingester/store"
)

// ErrUnknownWorkflow is returned when a RunGroup or StartWorkflows call
// names a workflow or parameter-set ID the Registry has not loaded.
var ErrUnknownWorkflow = errors.New("scheduler: unknown workflow or parameter set")

// Scheduler claims and advances RunSteps against a store.Store that also
// implements store.Transactor.
type Scheduler struct {
	tx       store.Transactor
	registry *registry.Registry
	backoff  backoff.Strategy
	logger   *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithBackoffStrategy overrides the default capped-exponential backoff.
func WithBackoffStrategy(b backoff.Strategy) Option {
	return func(s *Scheduler) { s.backoff = b }
}

// New creates a Scheduler. s must also implement store.Transactor; every
// postgres/sqlite/memory backend in this module does.
func New(s store.Store, reg *registry.Registry, opts ...Option) (*Scheduler, error) {
	tx, ok := s.(store.Transactor)
	if !ok {
		return nil, fmt.Errorf("scheduler: store %T does not implement store.Transactor", s)
	}
	sch := &Scheduler{
		tx:       tx,
		registry: reg,
		backoff:  backoff.DefaultStrategy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(sch)
	}
	return sch, nil
}

func (s *Scheduler) resolve(workflowID, paramSetID string, now time.Time) (registry.WorkflowDefinition, model.ParameterSet, error) {
	wf, ok := s.registry.GetWorkflow(workflowID)
	if !ok {
		return registry.WorkflowDefinition{}, model.ParameterSet{}, fmt.Errorf("%w: workflow %q", ErrUnknownWorkflow, workflowID)
	}
	spec, ok := s.registry.GetParameterSet(paramSetID)
	if !ok {
		return registry.WorkflowDefinition{}, model.ParameterSet{}, fmt.Errorf("%w: parameter set %q", ErrUnknownWorkflow, paramSetID)
	}
	ps, err := registry.ResolveParameterSet(wf, spec, now)
	if err != nil {
		return registry.WorkflowDefinition{}, model.ParameterSet{}, err
	}
	return wf, ps, nil
}

// StepSpecFor returns the declarative StepSpec and resolved StepConfig for
// a claimed RunStep, so the worker runtime can build a handler.Request
// without re-deriving the cumulative-config chain itself.
func (s *Scheduler) StepSpecFor(ctx context.Context, run *model.WorkflowRun, groupWorkflowID, groupParamID string, step *model.RunStep, now time.Time) (registry.StepSpec, model.StepConfig, error) {
	wf, ps, err := s.resolve(groupWorkflowID, groupParamID, now)
	if err != nil {
		return registry.StepSpec{}, model.StepConfig{}, err
	}
	idx := step.StepNumber - 1
	if idx < 0 || idx >= len(wf.ItemSteps) || idx >= len(ps.Steps) {
		return registry.StepSpec{}, model.StepConfig{}, fmt.Errorf("scheduler: step number %d out of range for workflow %q", step.StepNumber, wf.ID)
	}
	return wf.ItemSteps[idx], ps.Steps[idx], nil
}

// StartWorkflows materializes a RunGroup and one WorkflowRun per document
// hash, seeding each run's first RunStep as PENDING. It runs as a single
// transaction alongside the group_start and item_start lifecycle events.
func (s *Scheduler) StartWorkflows(ctx context.Context, batchID id.BatchID, workflowID, paramSetID string, docHashes []string, priority int, now time.Time) (*model.RunGroup, error) {
	wf, ps, err := s.resolve(workflowID, paramSetID, now)
	if err != nil {
		return nil, err
	}
	if len(wf.ItemSteps) == 0 {
		return nil, fmt.Errorf("scheduler: workflow %q has no steps", wf.ID)
	}

	group := &model.RunGroup{
		ID:                   id.NewRunGroupID(),
		Name:                 wf.Name,
		WorkflowDefinitionID: workflowID,
		ParamDefinitionID:    paramSetID,
		BatchID:              batchID,
		CreatedDate:          now,
		StartDate:            now,
		Status:               model.StatusPending,
		StatusDate:           now,
		Meta:                 map[string]string{},
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateRunGroup(ctx, group); err != nil {
			return err
		}
		rec := lifecycle.New(tx)
		if err := rec.GroupStart(ctx, group, now); err != nil {
			return err
		}

		firstStep := wf.ItemSteps[0]
		firstCfg := ps.Steps[0]
		for _, hash := range docHashes {
			run := &model.WorkflowRun{
				ID:                   id.NewWorkflowRunID(),
				WorkflowDefinitionID: workflowID,
				RunGroupID:           group.ID,
				BatchID:              batchID,
				DocHash:              hash,
				Priority:             priority,
				CreatedDate:          now,
				StartDate:            now,
				Status:               model.StatusPending,
				StatusDate:           now,
				Meta:                 map[string]string{},
				Params:               map[string]any{},
			}
			if err := tx.CreateWorkflowRun(ctx, run); err != nil {
				return err
			}
			if err := rec.ItemStart(ctx, run, now); err != nil {
				return err
			}

			step := &model.RunStep{
				ID:            id.NewRunStepID(),
				WorkflowRunID: run.ID,
				StepNumber:    1,
				StepName:      firstStep.Name,
				StepConfigID:  firstCfg.ID,
				StepType:      firstStep.StepType,
				IsLastStep:    len(wf.ItemSteps) == 1,
				CreatedDate:   now,
				Priority:      priority,
				Retries:       firstStep.Retries,
				Status:        model.StatusPending,
				Meta:          map[string]string{},
			}
			if err := tx.InsertRunStep(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// Claim attempts to claim up to n eligible RunSteps for workerID. It
// returns fewer than n (possibly zero) when fewer are claimable; it never
// blocks waiting for work to appear.
func (s *Scheduler) Claim(ctx context.Context, workerID string, n int, now time.Time) ([]*model.RunStep, error) {
	claimed := make([]*model.RunStep, 0, n)
	for i := 0; i < n; i++ {
		step, err := s.claimOne(ctx, workerID, now)
		if err != nil {
			return claimed, err
		}
		if step == nil {
			break
		}
		claimed = append(claimed, step)
	}
	return claimed, nil
}

// claimOne claims a single RunStep and, in the same transaction,
// transitions its WorkflowRun and RunGroup to RUNNING on their first
// claim and records the step_start LifecycleHistory row.
func (s *Scheduler) claimOne(ctx context.Context, workerID string, now time.Time) (*model.RunStep, error) {
	var claimed *model.RunStep
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		step, err := tx.ClaimNextRunStep(ctx, workerID, now)
		if err != nil {
			return err
		}
		if step == nil {
			return nil
		}

		run, err := tx.GetWorkflowRun(ctx, step.WorkflowRunID)
		if err != nil {
			return err
		}
		if run.Status == model.StatusPending {
			if err := tx.UpdateWorkflowRunStatus(ctx, run.ID, model.StatusRunning, "", nil, now); err != nil {
				return err
			}
			if err := s.maybeStartGroup(ctx, tx, run.RunGroupID, now); err != nil {
				return err
			}
		}

		rec := lifecycle.New(tx)
		if err := rec.StepStart(ctx, run.ID, run.RunGroupID, step, now); err != nil {
			return err
		}

		claimed = step
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// maybeStartGroup transitions a RunGroup from PENDING to RUNNING the
// first time any of its runs claims a step.
func (s *Scheduler) maybeStartGroup(ctx context.Context, tx store.Store, groupID id.RunGroupID, now time.Time) error {
	group, err := tx.GetRunGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.Status != model.StatusPending {
		return nil
	}
	return tx.UpdateRunGroupStatus(ctx, groupID, model.StatusRunning, "", nil, now)
}

// Outcome is the terminal result a worker reports for a claimed RunStep.
type Outcome struct {
	// Completed is true on success; false signals an error outcome.
	Completed bool
	// Fatal, when Completed is false, skips the retry budget and fails
	// the step immediately regardless of Retry/Retries.
	Fatal bool
	// Message is the human-readable status message to record.
	Message string
	// Meta is handler-returned metadata to attach to the step's status.
	Meta map[string]string
}

// Advance records a claimed step's terminal outcome and performs the
// corresponding state transition — inserting the next step, completing
// the run/group/batch, or scheduling a retry — inside one transaction
// alongside the LifecycleHistory rows it produces.
func (s *Scheduler) Advance(ctx context.Context, stepID id.RunStepID, now time.Time, outcome Outcome) error {
	return s.tx.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		step, err := tx.GetRunStep(ctx, stepID)
		if err != nil {
			return err
		}
		run, err := tx.GetWorkflowRun(ctx, step.WorkflowRunID)
		if err != nil {
			return err
		}
		group, err := tx.GetRunGroup(ctx, run.RunGroupID)
		if err != nil {
			return err
		}
		rec := lifecycle.New(tx)

		if outcome.Completed {
			return s.advanceCompleted(ctx, tx, rec, step, run, group, now, outcome)
		}
		return s.advanceFailed(ctx, tx, rec, step, run, group, now, outcome)
	})
}

func (s *Scheduler) advanceCompleted(ctx context.Context, tx store.Store, rec *lifecycle.Recorder, step *model.RunStep, run *model.WorkflowRun, group *model.RunGroup, now time.Time, outcome Outcome) error {
	if err := tx.UpdateRunStepStatus(ctx, step.ID, model.StatusCompleted, outcome.Message, outcome.Meta, now); err != nil {
		return err
	}
	step.Status = model.StatusCompleted
	step.StatusMessage = outcome.Message
	step.CompletedDate = &now
	if err := rec.StepEnd(ctx, run.ID, group.ID, step, now); err != nil {
		return err
	}

	if !step.IsLastStep {
		return s.insertNextStep(ctx, tx, step, run, group, now)
	}

	if err := tx.UpdateWorkflowRunStatus(ctx, run.ID, model.StatusCompleted, "", nil, now); err != nil {
		return err
	}
	run.Status = model.StatusCompleted
	run.CompletedDate = &now
	if err := rec.ItemEnd(ctx, run, now); err != nil {
		return err
	}
	return s.maybeCompleteGroup(ctx, tx, rec, group, run.RunGroupID, now)
}

func (s *Scheduler) insertNextStep(ctx context.Context, tx store.Store, step *model.RunStep, run *model.WorkflowRun, group *model.RunGroup, now time.Time) error {
	wf, ps, err := s.resolve(group.WorkflowDefinitionID, group.ParamDefinitionID, now)
	if err != nil {
		return err
	}
	idx := step.StepNumber // next step's 0-based index equals the current 1-based StepNumber
	if idx >= len(wf.ItemSteps) || idx >= len(ps.Steps) {
		return fmt.Errorf("scheduler: no step defined after step %d in workflow %q", step.StepNumber, wf.ID)
	}
	next := wf.ItemSteps[idx]
	cfg := ps.Steps[idx]

	return tx.InsertRunStep(ctx, &model.RunStep{
		ID:            id.NewRunStepID(),
		WorkflowRunID: run.ID,
		StepNumber:    step.StepNumber + 1,
		StepName:      next.Name,
		StepConfigID:  cfg.ID,
		StepType:      next.StepType,
		IsLastStep:    idx+1 == len(wf.ItemSteps),
		CreatedDate:   now,
		Priority:      run.Priority,
		Retries:       next.Retries,
		Status:        model.StatusPending,
		Meta:          map[string]string{},
	})
}

func (s *Scheduler) advanceFailed(ctx context.Context, tx store.Store, rec *lifecycle.Recorder, step *model.RunStep, run *model.WorkflowRun, group *model.RunGroup, now time.Time, outcome Outcome) error {
	retryable := !outcome.Fatal && !step.RetriesExhausted()
	if retryable {
		nextAttempt := now.Add(s.backoff.Delay(step.Retry + 1))
		if err := tx.ScheduleRunStepRetry(ctx, step.ID, nextAttempt, outcome.Message); err != nil {
			return err
		}
		step.Status = model.StatusError
		step.StatusMessage = outcome.Message
		return rec.StepFailed(ctx, run.ID, group.ID, step, now, "")
	}

	if err := tx.UpdateRunStepStatus(ctx, step.ID, model.StatusFailed, outcome.Message, outcome.Meta, now); err != nil {
		return err
	}
	step.Status = model.StatusFailed
	step.StatusMessage = outcome.Message
	step.CompletedDate = &now
	if err := rec.StepFailed(ctx, run.ID, group.ID, step, now, ""); err != nil {
		return err
	}

	if err := tx.UpdateWorkflowRunStatus(ctx, run.ID, model.StatusFailed, outcome.Message, nil, now); err != nil {
		return err
	}
	run.Status = model.StatusFailed
	run.StatusMessage = outcome.Message
	run.CompletedDate = &now
	if err := rec.ItemFailed(ctx, run, now); err != nil {
		return err
	}
	return s.maybeCompleteGroup(ctx, tx, rec, group, run.RunGroupID, now)
}

// maybeCompleteGroup inspects every WorkflowRun in the group and updates
// the group's status once all are terminal: COMPLETED if every run
// completed, FAILED if every run is terminal and at least one failed,
// ERROR if at least one run failed while others remain non-terminal.
func (s *Scheduler) maybeCompleteGroup(ctx context.Context, tx store.Store, rec *lifecycle.Recorder, group *model.RunGroup, groupID id.RunGroupID, now time.Time) error {
	runs, err := tx.ListWorkflowRunsForGroup(ctx, groupID)
	if err != nil {
		return err
	}

	allTerminal := true
	anyFailed := false
	for _, r := range runs {
		if !r.Status.Terminal() {
			allTerminal = false
		}
		if r.Status == model.StatusFailed {
			anyFailed = true
		}
	}

	var newStatus model.RunStatus
	switch {
	case allTerminal && anyFailed:
		newStatus = model.StatusFailed
	case allTerminal:
		newStatus = model.StatusCompleted
	case anyFailed:
		newStatus = model.StatusError
	default:
		return nil // group still has non-terminal, non-failed runs in flight
	}

	if err := tx.UpdateRunGroupStatus(ctx, groupID, newStatus, "", nil, now); err != nil {
		return err
	}
	group.Status = newStatus
	group.StatusDate = now

	if !allTerminal {
		return nil // ERROR is non-terminal; no group_end yet
	}
	group.CompletedDate = &now
	if err := rec.GroupEnd(ctx, group, now); err != nil {
		return err
	}
	return s.maybeCompleteBatch(ctx, tx, group.BatchID, now)
}

// maybeCompleteBatch marks a Batch completed once every RunGroup created
// under it has gone terminal. A RunGroup with no BatchID (started
// directly, not through a Batch ingest) skips this entirely;
// ErrBatchAlreadyCompleted is swallowed so a batch with multiple groups
// is only completed once, by whichever group's completion notices last.
func (s *Scheduler) maybeCompleteBatch(ctx context.Context, tx store.Store, batchID id.BatchID, now time.Time) error {
	if batchID.IsNil() {
		return nil
	}
	groups, err := tx.ListRunGroupsForBatch(ctx, batchID)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if !g.Status.Terminal() {
			return nil
		}
	}
	if err := tx.CompleteBatch(ctx, batchID, now); err != nil && !errors.Is(err, store.ErrBatchAlreadyCompleted) {
		return err
	}
	return nil
}

// Requeue releases a claimed RunStep back to PENDING, immediately
// claimable, without charging it against its retry budget. Used when a
// worker claims a step it cannot execute yet — e.g. its source is
// rate-limited — and must hand it back rather than sit on it RUNNING
// until crash recovery, since a live, heartbeating worker is never
// reclaimed by ReclaimAbandoned.
func (s *Scheduler) Requeue(ctx context.Context, stepID id.RunStepID, now time.Time) error {
	return s.tx.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.UpdateRunStepStatus(ctx, stepID, model.StatusPending, "", nil, now)
	})
}

// ReclaimAbandoned resets RUNNING RunSteps whose worker has no checkin
// within timeout (or never checked in) back to PENDING, recording a
// step_failed LifecycleHistory event explaining the reclaim for each.
// This is the crash-recovery path for steps whose worker is gone.
func (s *Scheduler) ReclaimAbandoned(ctx context.Context, timeout time.Duration, now time.Time) (int, error) {
	var reclaimed []*model.RunStep
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		steps, err := tx.ReclaimAbandonedSteps(ctx, timeout, now)
		if err != nil {
			return err
		}
		reclaimed = steps

		rec := lifecycle.New(tx)
		for _, step := range steps {
			run, err := tx.GetWorkflowRun(ctx, step.WorkflowRunID)
			if err != nil {
				return err
			}
			if err := rec.StepFailed(ctx, run.ID, run.RunGroupID, step, now, "reclaimed from stale worker"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(reclaimed) > 0 {
		s.logger.Warn("reclaimed abandoned run steps", "count", len(reclaimed), "timeout", timeout)
	}
	return len(reclaimed), nil
}
