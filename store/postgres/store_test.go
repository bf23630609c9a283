//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/soliplex/ingester/id"
	"github.com/soliplex/ingester/model"
	"github.com/soliplex/ingester/store"
	"github.com/soliplex/ingester/store/postgres"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("ingester_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := postgres.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestStore_PingAndMigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Migrate(ctx))
}

func TestBatch_CreateGetComplete(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	b := &model.Batch{ID: id.NewBatchID(), Name: "nightly", Source: "sharepoint", StartDate: time.Now().UTC().Truncate(time.Microsecond), Params: map[string]string{"k": "v"}}
	require.NoError(t, s.CreateBatch(ctx, b))

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Name, got.Name)
	assert.Equal(t, "v", got.Params["k"])
	assert.False(t, got.Completed())

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, s.CompleteBatch(ctx, b.ID, now))

	err = s.CompleteBatch(ctx, b.ID, now)
	assert.ErrorIs(t, err, store.ErrBatchAlreadyCompleted)
}

func TestDocumentURI_UpsertAndDeleteCascadesDocument(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	doc := &model.Document{Hash: "sha256-abc", MimeType: "application/pdf", FileSize: 100}
	require.NoError(t, s.UpsertDocument(ctx, doc))

	u := &model.DocumentURI{ID: id.NewDocumentURIID(), Hash: doc.Hash, URI: "/a.pdf", Source: "sp", Version: 1}
	require.NoError(t, s.UpsertDocumentURI(ctx, u))

	counts, err := s.DeleteDocumentURI(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.DocumentURIs)
	assert.Equal(t, 1, counts.Documents)

	_, err = s.GetDocument(ctx, doc.Hash)
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)
}

func TestClaimNextRunStep_SkipsLockedRows(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

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
	s := setupTestStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	group := &model.RunGroup{ID: id.NewRunGroupID(), WorkflowDefinitionID: "wf", ParamDefinitionID: "pset", CreatedDate: now, StartDate: now, Status: model.StatusPending, StatusDate: now}

	boom := assert.AnError
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
