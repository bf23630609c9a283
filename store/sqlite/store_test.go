package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soliplex/ingester/id"
	"github.com/soliplex/ingester/model"
	"github.com/soliplex/ingester/store"
	"github.com/soliplex/ingester/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	// A unique named in-memory database per test avoids cross-test
	// interference under cache=shared.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := sqlite.New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestMigrate_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestBatch_CreateGetComplete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	b := &model.Batch{ID: id.NewBatchID(), Name: "nightly", Source: "sharepoint", StartDate: time.Now().UTC().Truncate(time.Second), Params: map[string]string{"k": "v"}}
	require.NoError(t, s.CreateBatch(ctx, b))

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Name, got.Name)
	assert.Equal(t, "v", got.Params["k"])
	assert.False(t, got.Completed())

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.CompleteBatch(ctx, b.ID, now))

	got, err = s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed())

	err = s.CompleteBatch(ctx, b.ID, now)
	assert.ErrorIs(t, err, store.ErrBatchAlreadyCompleted)
}

func TestDocumentURI_UpsertAndDeleteCascadesDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

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

func TestClaimNextRunStep_PicksHighestPriorityDueStep(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	group := &model.RunGroup{ID: id.NewRunGroupID(), WorkflowDefinitionID: "wf", ParamDefinitionID: "pset", CreatedDate: now, StartDate: now, Status: model.StatusRunning, StatusDate: now}
	require.NoError(t, s.CreateRunGroup(ctx, group))

	run := &model.WorkflowRun{ID: id.NewWorkflowRunID(), RunGroupID: group.ID, WorkflowDefinitionID: "wf", DocHash: "sha256-x", CreatedDate: now, StartDate: now, Status: model.StatusRunning, StatusDate: now}
	require.NoError(t, s.CreateWorkflowRun(ctx, run))

	low := &model.RunStep{ID: id.NewRunStepID(), WorkflowRunID: run.ID, StepNumber: 1, StepName: "ingest", StepType: model.StepIngest, CreatedDate: now, Priority: 1, Status: model.StatusPending}
	high := &model.RunStep{ID: id.NewRunStepID(), WorkflowRunID: run.ID, StepNumber: 1, StepName: "ingest", StepType: model.StepIngest, CreatedDate: now, Priority: 5, Status: model.StatusPending}
	require.NoError(t, s.InsertRunStep(ctx, low))
	require.NoError(t, s.InsertRunStep(ctx, high))

	claimed, err := s.ClaimNextRunStep(ctx, "worker-1", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, high.ID, claimed.ID)
	assert.Equal(t, model.StatusRunning, claimed.Status)

	claimed2, err := s.ClaimNextRunStep(ctx, "worker-2", now)
	require.NoError(t, err)
	require.NotNil(t, claimed2)
	assert.Equal(t, low.ID, claimed2.ID)

	claimed3, err := s.ClaimNextRunStep(ctx, "worker-3", now)
	require.NoError(t, err)
	assert.Nil(t, claimed3)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	group := &model.RunGroup{ID: id.NewRunGroupID(), WorkflowDefinitionID: "wf", ParamDefinitionID: "pset", CreatedDate: now, StartDate: now, Status: model.StatusPending, StatusDate: now}

	boom := fmt.Errorf("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if txErr := tx.CreateRunGroup(ctx, group); txErr != nil {
			return txErr
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetRunGroup(ctx, group.ID)
	assert.ErrorIs(t, err, store.ErrRunGroupNotFound)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	group := &model.RunGroup{ID: id.NewRunGroupID(), WorkflowDefinitionID: "wf", ParamDefinitionID: "pset", CreatedDate: now, StartDate: now, Status: model.StatusPending, StatusDate: now}

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.CreateRunGroup(ctx, group)
	})
	require.NoError(t, err)

	got, err := s.GetRunGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, group.ID, got.ID)
}
