// Package store defines the persistence contract implemented by the
// postgres (concurrent, production), sqlite (embedded, single-writer
// dev), and memory (tests) backends. All three provide identical claim,
// advance, and cascading-deletion semantics.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/soliplex/ingester/id"
	"github.com/soliplex/ingester/model"
)

// Sentinel errors returned by every backend for not-found conditions.
var (
	ErrBatchNotFound         = errors.New("store: batch not found")
	ErrDocumentNotFound      = errors.New("store: document not found")
	ErrDocumentURINotFound   = errors.New("store: document uri not found")
	ErrRunGroupNotFound      = errors.New("store: run group not found")
	ErrWorkflowRunNotFound   = errors.New("store: workflow run not found")
	ErrRunStepNotFound       = errors.New("store: run step not found")
	ErrBatchAlreadyCompleted = errors.New("store: batch already completed")
)

// DeleteCounts reports how many rows a cascading deletion removed, per
// table.
type DeleteCounts struct {
	RunSteps           int
	LifecycleHistory   int
	WorkflowRuns       int
	RunGroups          int
	DocumentURIs       int
	DocumentURIHistory int
	Documents          int
}

// BatchStore persists Batch rows.
type BatchStore interface {
	CreateBatch(ctx context.Context, b *model.Batch) error
	GetBatch(ctx context.Context, batchID id.BatchID) (*model.Batch, error)
	ListBatches(ctx context.Context) ([]*model.Batch, error)
	CompleteBatch(ctx context.Context, batchID id.BatchID, completedAt time.Time) error
}

// DocumentStore persists Document, DocumentURI, and DocumentURIHistory
// rows, and implements the source-status-diff and orphan-cleanup
// maintenance operations.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, d *model.Document) error
	GetDocument(ctx context.Context, hash string) (*model.Document, error)
	DeleteDocument(ctx context.Context, hash string) error
	// DeleteOrphanedDocuments removes every Document with no remaining
	// DocumentURI pointing at it, returning the count removed.
	DeleteOrphanedDocuments(ctx context.Context) (int, error)

	FindDocumentURI(ctx context.Context, uri, source string) (*model.DocumentURI, error)
	GetDocumentURI(ctx context.Context, uriID id.DocumentURIID) (*model.DocumentURI, error)
	UpsertDocumentURI(ctx context.Context, u *model.DocumentURI) error
	GetDocumentURIsByHash(ctx context.Context, hash string) ([]*model.DocumentURI, error)
	// GetURIsForSource lists every current DocumentURI known for a
	// source, used by the source-status-diff operation.
	GetURIsForSource(ctx context.Context, source string) ([]*model.DocumentURI, error)
	GetURIsForBatch(ctx context.Context, batchID id.BatchID) ([]*model.DocumentURI, error)
	// DeleteDocumentURI removes the URI and its DocumentURIHistory rows;
	// if this was the last URI referencing its Document, the Document
	// itself is removed too.
	DeleteDocumentURI(ctx context.Context, uriID id.DocumentURIID) (DeleteCounts, error)

	AddURIHistory(ctx context.Context, h *model.DocumentURIHistory) error
	GetURIHistory(ctx context.Context, uriID id.DocumentURIID) ([]*model.DocumentURIHistory, error)
}

// RunGroupStore persists RunGroup rows and performs cascading deletion.
type RunGroupStore interface {
	CreateRunGroup(ctx context.Context, g *model.RunGroup) error
	GetRunGroup(ctx context.Context, groupID id.RunGroupID) (*model.RunGroup, error)
	ListRunGroups(ctx context.Context) ([]*model.RunGroup, error)
	// ListRunGroupsForBatch lists every RunGroup created under batchID,
	// used to decide whether a Batch's last RunGroup has gone terminal.
	ListRunGroupsForBatch(ctx context.Context, batchID id.BatchID) ([]*model.RunGroup, error)
	UpdateRunGroupStatus(ctx context.Context, groupID id.RunGroupID, status model.RunStatus, message string, meta map[string]string, now time.Time) error
	// DeleteRunGroup removes the group and every WorkflowRun, RunStep,
	// and LifecycleHistory row beneath it.
	DeleteRunGroup(ctx context.Context, groupID id.RunGroupID) (DeleteCounts, error)
}

// WorkflowRunStore persists WorkflowRun rows.
type WorkflowRunStore interface {
	CreateWorkflowRun(ctx context.Context, r *model.WorkflowRun) error
	GetWorkflowRun(ctx context.Context, runID id.WorkflowRunID) (*model.WorkflowRun, error)
	ListWorkflowRunsForGroup(ctx context.Context, groupID id.RunGroupID) ([]*model.WorkflowRun, error)
	UpdateWorkflowRunStatus(ctx context.Context, runID id.WorkflowRunID, status model.RunStatus, message string, meta map[string]string, now time.Time) error
}

// RunStepStore persists RunStep rows and implements the claim predicate.
type RunStepStore interface {
	InsertRunStep(ctx context.Context, s *model.RunStep) error
	GetRunStep(ctx context.Context, stepID id.RunStepID) (*model.RunStep, error)
	ListRunStepsForRun(ctx context.Context, runID id.WorkflowRunID) ([]*model.RunStep, error)

	// ClaimNextRunStep atomically selects one claimable RunStep (PENDING,
	// due), marks it RUNNING with WorkerID and StartDate set, and
	// returns it. Returns nil, nil when nothing is claimable.
	ClaimNextRunStep(ctx context.Context, workerID string, now time.Time) (*model.RunStep, error)

	UpdateRunStepStatus(ctx context.Context, stepID id.RunStepID, status model.RunStatus, message string, meta map[string]string, now time.Time) error
	// ScheduleRunStepRetry moves a step whose attempt failed back to PENDING with
	// StatusDate set to nextAttemptAt, so Claimable is false until then,
	// and increments Retry.
	ScheduleRunStepRetry(ctx context.Context, stepID id.RunStepID, nextAttemptAt time.Time, message string) error

	// ResetRunStepForRetry moves a FAILED step back to PENDING,
	// immediately claimable, with Retry reset to 0 so it gets a fresh
	// retry budget. Used by the operator re-run-failed-group operation,
	// as opposed to ScheduleRunStepRetry's automatic-retry bookkeeping.
	ResetRunStepForRetry(ctx context.Context, stepID id.RunStepID, message string, now time.Time) error

	// ReclaimAbandonedSteps resets RUNNING steps whose worker's last
	// checkin is older than timeout back to PENDING, returning the
	// steps that were reset (post-reclaim state) so the caller can
	// record a LifecycleHistory event for each.
	ReclaimAbandonedSteps(ctx context.Context, timeout time.Duration, now time.Time) ([]*model.RunStep, error)
}

// WorkerStore persists WorkerCheckin heartbeat rows.
type WorkerStore interface {
	Checkin(ctx context.Context, workerID string, now time.Time) error
	ListDeadWorkers(ctx context.Context, timeout time.Duration, now time.Time) ([]*model.WorkerCheckin, error)
	ListWorkers(ctx context.Context) ([]*model.WorkerCheckin, error)
}

// LifecycleStore persists the append-only LifecycleHistory.
type LifecycleStore interface {
	RecordLifecycleEvent(ctx context.Context, h *model.LifecycleHistory) error
	ListLifecycleHistory(ctx context.Context, groupID id.RunGroupID) ([]*model.LifecycleHistory, error)
}

// Store is the full persistence contract.
type Store interface {
	BatchStore
	DocumentStore
	RunGroupStore
	WorkflowRunStore
	RunStepStore
	WorkerStore
	LifecycleStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Transactor is implemented by backends that can run a function inside
// one database transaction, rolling back on error. The Scheduler uses
// this to write a RunStep's state transition and its LifecycleHistory
// row atomically.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
