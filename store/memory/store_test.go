package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soliplex/ingester/id"
	"github.com/soliplex/ingester/model"
	"github.com/soliplex/ingester/store"
	"github.com/soliplex/ingester/store/memory"
)

func TestBatch_CreateGetComplete(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	b := &model.Batch{ID: id.NewBatchID(), Name: "nightly", Source: "sharepoint", StartDate: time.Now()}
	require.NoError(t, s.CreateBatch(ctx, b))

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.False(t, got.Completed())

	now := time.Now()
	require.NoError(t, s.CompleteBatch(ctx, b.ID, now))
	got, err = s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed())

	err = s.CompleteBatch(ctx, b.ID, now)
	assert.ErrorIs(t, err, store.ErrBatchAlreadyCompleted)
}

func TestGetBatch_NotFound(t *testing.T) {
	s := memory.New()
	_, err := s.GetBatch(context.Background(), id.NewBatchID())
	assert.ErrorIs(t, err, store.ErrBatchNotFound)
}

func TestDocumentURI_UpsertAndDeleteCascadesDocument(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	doc := &model.Document{Hash: "sha256-abc", MimeType: "application/pdf", FileSize: 100}
	require.NoError(t, s.UpsertDocument(ctx, doc))

	u := &model.DocumentURI{ID: id.NewDocumentURIID(), Hash: doc.Hash, URI: "/a.pdf", Source: "sp", Version: 1}
	require.NoError(t, s.UpsertDocumentURI(ctx, u))

	found, err := s.FindDocumentURI(ctx, "/a.pdf", "sp")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	counts, err := s.DeleteDocumentURI(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.DocumentURIs)
	assert.Equal(t, 1, counts.Documents)

	_, err = s.GetDocument(ctx, doc.Hash)
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)
}

func TestDocumentURI_DeleteKeepsDocumentIfStillReferenced(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	doc := &model.Document{Hash: "sha256-abc"}
	require.NoError(t, s.UpsertDocument(ctx, doc))

	u1 := &model.DocumentURI{ID: id.NewDocumentURIID(), Hash: doc.Hash, URI: "/a.pdf", Source: "sp"}
	u2 := &model.DocumentURI{ID: id.NewDocumentURIID(), Hash: doc.Hash, URI: "/b.pdf", Source: "sp"}
	require.NoError(t, s.UpsertDocumentURI(ctx, u1))
	require.NoError(t, s.UpsertDocumentURI(ctx, u2))

	counts, err := s.DeleteDocumentURI(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Documents)

	_, err = s.GetDocument(ctx, doc.Hash)
	require.NoError(t, err)
}

func TestDeleteOrphanedDocuments(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	orphan := &model.Document{Hash: "sha256-orphan"}
	referenced := &model.Document{Hash: "sha256-ref"}
	require.NoError(t, s.UpsertDocument(ctx, orphan))
	require.NoError(t, s.UpsertDocument(ctx, referenced))
	require.NoError(t, s.UpsertDocumentURI(ctx, &model.DocumentURI{ID: id.NewDocumentURIID(), Hash: referenced.Hash, URI: "/x", Source: "sp"}))

	n, err := s.DeleteOrphanedDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetDocument(ctx, referenced.Hash)
	require.NoError(t, err)
	_, err = s.GetDocument(ctx, orphan.Hash)
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)
}

func TestClaimNextRunStep_PicksHighestPriorityDueStep(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now()

	run := id.NewWorkflowRunID()
	low := &model.RunStep{ID: id.NewRunStepID(), WorkflowRunID: run, StepNumber: 1, Status: model.StatusPending, Priority: 1, CreatedDate: now}
	high := &model.RunStep{ID: id.NewRunStepID(), WorkflowRunID: run, StepNumber: 1, Status: model.StatusPending, Priority: 5, CreatedDate: now}
	notDue := &model.RunStep{ID: id.NewRunStepID(), WorkflowRunID: run, StepNumber: 1, Status: model.StatusPending, Priority: 9, CreatedDate: now}
	future := now.Add(time.Hour)
	notDue.StatusDate = &future

	require.NoError(t, s.InsertRunStep(ctx, low))
	require.NoError(t, s.InsertRunStep(ctx, high))
	require.NoError(t, s.InsertRunStep(ctx, notDue))

	claimed, err := s.ClaimNextRunStep(ctx, "worker-1", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, high.ID, claimed.ID)
	assert.Equal(t, model.StatusRunning, claimed.Status)
	assert.Equal(t, "worker-1", claimed.WorkerID)

	claimed2, err := s.ClaimNextRunStep(ctx, "worker-2", now)
	require.NoError(t, err)
	require.NotNil(t, claimed2)
	assert.Equal(t, low.ID, claimed2.ID)

	claimed3, err := s.ClaimNextRunStep(ctx, "worker-3", now)
	require.NoError(t, err)
	assert.Nil(t, claimed3)
}

func TestScheduleRunStepRetry_SetsPendingAndFutureStatusDate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now()

	step := &model.RunStep{ID: id.NewRunStepID(), Status: model.StatusRunning, Retry: 0, Retries: 3}
	require.NoError(t, s.InsertRunStep(ctx, step))

	next := now.Add(5 * time.Second)
	require.NoError(t, s.ScheduleRunStepRetry(ctx, step.ID, next, "transient failure"))

	got, err := s.GetRunStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 1, got.Retry)
	assert.False(t, got.Claimable(now))
	assert.True(t, got.Claimable(next.Add(time.Millisecond)))
}

func TestReclaimAbandonedSteps(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now()

	require.NoError(t, s.Checkin(ctx, "dead-worker", now.Add(-time.Hour)))

	step := &model.RunStep{ID: id.NewRunStepID(), Status: model.StatusRunning, WorkerID: "dead-worker"}
	require.NoError(t, s.InsertRunStep(ctx, step))

	n, err := s.ReclaimAbandonedSteps(ctx, time.Minute, now)
	require.NoError(t, err)
	assert.Len(t, n, 1)

	got, err := s.GetRunStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Empty(t, got.WorkerID)
}

func TestDeleteRunGroup_CascadesRunsAndSteps(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now()

	group := &model.RunGroup{ID: id.NewRunGroupID(), CreatedDate: now}
	require.NoError(t, s.CreateRunGroup(ctx, group))

	run := &model.WorkflowRun{ID: id.NewWorkflowRunID(), RunGroupID: group.ID}
	require.NoError(t, s.CreateWorkflowRun(ctx, run))

	step := &model.RunStep{ID: id.NewRunStepID(), WorkflowRunID: run.ID}
	require.NoError(t, s.InsertRunStep(ctx, step))

	require.NoError(t, s.RecordLifecycleEvent(ctx, &model.LifecycleHistory{ID: id.NewLifecycleEventID(), RunGroupID: group.ID, Event: model.EventGroupStart}))

	counts, err := s.DeleteRunGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.RunGroups)
	assert.Equal(t, 1, counts.WorkflowRuns)
	assert.Equal(t, 1, counts.RunSteps)
	assert.Equal(t, 1, counts.LifecycleHistory)

	_, err = s.GetRunGroup(ctx, group.ID)
	assert.ErrorIs(t, err, store.ErrRunGroupNotFound)
}
