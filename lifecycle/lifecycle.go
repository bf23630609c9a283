// Package lifecycle writes the append-only audit trail of group, item,
// and step transitions. Every record is written by the caller inside the
// same transaction as the state change it observes, so a LifecycleHistory
// row and the status it describes are always consistent with each other.
package lifecycle

import (
	"context"
	"time"

	"github.com/soliplex/ingester/id"
	"github.com/soliplex/ingester/model"
	"github.com/soliplex/ingester/store"
)

// Recorder writes LifecycleHistory rows. It holds no state of its own;
// callers are responsible for running Record inside the transaction that
// owns the state change being recorded.
type Recorder struct {
	store store.LifecycleStore
}

// New creates a Recorder backed by s. Pass the tx-scoped Store handed to
// a store.Transactor.WithTx callback so the history row commits or rolls
// back with the rest of the transition.
func New(s store.LifecycleStore) *Recorder {
	return &Recorder{store: s}
}

// Event describes one lifecycle transition to record.
type Event struct {
	Kind          model.LifecycleEvent
	RunGroupID    id.RunGroupID
	WorkflowRunID id.WorkflowRunID
	StepID        id.RunStepID
	StartDate     time.Time
	CompletedDate *time.Time
	Status        model.RunStatus
	StatusDate    time.Time
	StatusMessage string
	Meta          map[string]string
}

// Record writes ev as a new LifecycleHistory row.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	meta := ev.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	return r.store.RecordLifecycleEvent(ctx, &model.LifecycleHistory{
		ID:            id.NewLifecycleEventID(),
		Event:         ev.Kind,
		RunGroupID:    ev.RunGroupID,
		WorkflowRunID: ev.WorkflowRunID,
		StepID:        ev.StepID,
		StartDate:     ev.StartDate,
		CompletedDate: ev.CompletedDate,
		Status:        ev.Status,
		StatusDate:    ev.StatusDate,
		StatusMessage: ev.StatusMessage,
		Meta:          meta,
	})
}

// GroupStart records a group_start event for g.
func (r *Recorder) GroupStart(ctx context.Context, g *model.RunGroup, now time.Time) error {
	return r.Record(ctx, Event{
		Kind: model.EventGroupStart, RunGroupID: g.ID,
		StartDate: now, Status: g.Status, StatusDate: now,
	})
}

// GroupEnd records a group_end event for g in its terminal status.
func (r *Recorder) GroupEnd(ctx context.Context, g *model.RunGroup, now time.Time) error {
	return r.Record(ctx, Event{
		Kind: model.EventGroupEnd, RunGroupID: g.ID,
		StartDate: g.CreatedDate, CompletedDate: &now,
		Status: g.Status, StatusDate: now, StatusMessage: g.StatusMessage,
	})
}

// ItemStart records an item_start event for a WorkflowRun.
func (r *Recorder) ItemStart(ctx context.Context, run *model.WorkflowRun, now time.Time) error {
	return r.Record(ctx, Event{
		Kind: model.EventItemStart, RunGroupID: run.RunGroupID, WorkflowRunID: run.ID,
		StartDate: now, Status: run.Status, StatusDate: now,
	})
}

// ItemEnd records an item_end event for a WorkflowRun that completed.
func (r *Recorder) ItemEnd(ctx context.Context, run *model.WorkflowRun, now time.Time) error {
	return r.Record(ctx, Event{
		Kind: model.EventItemEnd, RunGroupID: run.RunGroupID, WorkflowRunID: run.ID,
		StartDate: run.StartDate, CompletedDate: &now,
		Status: run.Status, StatusDate: now, StatusMessage: run.StatusMessage,
	})
}

// ItemFailed records an item_failed event for a WorkflowRun that failed.
func (r *Recorder) ItemFailed(ctx context.Context, run *model.WorkflowRun, now time.Time) error {
	return r.Record(ctx, Event{
		Kind: model.EventItemFailed, RunGroupID: run.RunGroupID, WorkflowRunID: run.ID,
		StartDate: run.StartDate, CompletedDate: &now,
		Status: run.Status, StatusDate: now, StatusMessage: run.StatusMessage,
	})
}

// StepStart records a step_start event for a claimed RunStep.
func (r *Recorder) StepStart(ctx context.Context, runID id.WorkflowRunID, groupID id.RunGroupID, step *model.RunStep, now time.Time) error {
	return r.Record(ctx, Event{
		Kind: model.EventStepStart, RunGroupID: groupID, WorkflowRunID: runID, StepID: step.ID,
		StartDate: now, Status: step.Status, StatusDate: now,
	})
}

// StepEnd records a step_end event for a RunStep that completed.
func (r *Recorder) StepEnd(ctx context.Context, runID id.WorkflowRunID, groupID id.RunGroupID, step *model.RunStep, now time.Time) error {
	start := now
	if step.StartDate != nil {
		start = *step.StartDate
	}
	return r.Record(ctx, Event{
		Kind: model.EventStepEnd, RunGroupID: groupID, WorkflowRunID: runID, StepID: step.ID,
		StartDate: start, CompletedDate: &now,
		Status: step.Status, StatusDate: now, StatusMessage: step.StatusMessage,
	})
}

// StepFailed records a step_failed event for a RunStep that errored,
// retried, or was reclaimed from a stale worker. reason overrides the
// step's own StatusMessage when non-empty, used by crash recovery to
// record "reclaimed from stale worker" without mutating the step's own
// message.
func (r *Recorder) StepFailed(ctx context.Context, runID id.WorkflowRunID, groupID id.RunGroupID, step *model.RunStep, now time.Time, reason string) error {
	start := now
	if step.StartDate != nil {
		start = *step.StartDate
	}
	msg := step.StatusMessage
	if reason != "" {
		msg = reason
	}
	return r.Record(ctx, Event{
		Kind: model.EventStepFailed, RunGroupID: groupID, WorkflowRunID: runID, StepID: step.ID,
		StartDate: start, CompletedDate: &now,
		Status: step.Status, StatusDate: now, StatusMessage: msg,
	})
}
