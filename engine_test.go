package ingester_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ingester "github.com/soliplex/ingester"
	"github.com/soliplex/ingester/artifact"
	"github.com/soliplex/ingester/handler"
	"github.com/soliplex/ingester/model"
	"github.com/soliplex/ingester/registry"
	"github.com/soliplex/ingester/store"
	"github.com/soliplex/ingester/store/memory"
)

func contentHashFor(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

const testWorkflow = `
id: ingest_only
name: Ingest Only
item_steps:
  - step_type: ingest
    name: ingest
    handler: test.echo
    retries: 1
  - step_type: validate
    name: validate
    handler: test.echo
    retries: 1
`

const testParams = `
id: default
name: Default
config:
  ingest:
    foo: bar
  validate: {}
`

func writeDef(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	wfDir, paramDir := t.TempDir(), t.TempDir()
	writeDef(t, wfDir, "ingest_only.yaml", testWorkflow)
	writeDef(t, paramDir, "default.yaml", testParams)

	r := registry.New(wfDir, t.TempDir(), paramDir, t.TempDir())
	require.NoError(t, r.Load())
	return r
}

func newTestEngine(t *testing.T) *ingester.Engine {
	t.Helper()
	eng, err := ingester.New(
		ingester.WithStore(memory.New()),
		ingester.WithArtifactStore(artifact.NewFSStore(t.TempDir())),
		ingester.WithRegistry(newTestRegistry(t)),
	)
	require.NoError(t, err)
	eng.RegisterHandler("test.echo", func(_ context.Context, req handler.Request) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})
	return eng
}

func TestEngine_New_RequiresStoreArtifactsRegistry(t *testing.T) {
	_, err := ingester.New()
	require.ErrorIs(t, err, ingester.ErrNoStore)

	_, err = ingester.New(ingester.WithStore(memory.New()))
	require.ErrorIs(t, err, ingester.ErrNoArtifactStore)

	_, err = ingester.New(
		ingester.WithStore(memory.New()),
		ingester.WithArtifactStore(artifact.NewFSStore(t.TempDir())),
	)
	require.ErrorIs(t, err, ingester.ErrNoRegistry)
}

func TestEngine_IngestDocument_NewDocument(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	batch, err := eng.CreateBatch(ctx, "b1", "sharepoint", nil)
	require.NoError(t, err)

	result, err := eng.IngestDocument(ctx, batch.ID, "sharepoint", "/a", []byte("hello"), "text/plain", nil)
	require.NoError(t, err)
	require.False(t, result.AlreadyExists)
	require.Equal(t, 1, result.DocumentURI.Version)
	require.Equal(t, "/a", result.DocumentURI.URI)

	doc, err := eng.Store().GetDocument(ctx, result.DocumentURI.Hash)
	require.NoError(t, err)
	require.Equal(t, int64(len("hello")), doc.FileSize)

	data, err := eng.ArtifactStore().Get(ctx, model.ArtifactRef{
		Hash: result.DocumentURI.Hash, Kind: model.ArtifactDocument, StorageRoot: "default",
	})
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestEngine_IngestDocument_Deduplication(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	batch1, err := eng.CreateBatch(ctx, "b1", "sharepoint", nil)
	require.NoError(t, err)
	batch2, err := eng.CreateBatch(ctx, "b2", "sharepoint", nil)
	require.NoError(t, err)

	r1, err := eng.IngestDocument(ctx, batch1.ID, "sharepoint", "/a", []byte("hello"), "text/plain", nil)
	require.NoError(t, err)
	require.False(t, r1.AlreadyExists)

	r2, err := eng.IngestDocument(ctx, batch2.ID, "sharepoint", "/b", []byte("hello"), "text/plain", nil)
	require.NoError(t, err)
	require.True(t, r2.AlreadyExists)
	require.Equal(t, batch1.ID, r2.OriginalBatchID)
	require.Equal(t, r1.DocumentURI.Hash, r2.DocumentURI.Hash)
	require.NotEqual(t, r1.DocumentURI.ID, r2.DocumentURI.ID)
}

func TestEngine_IngestDocument_ReingestSameURISameHashIsNoop(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	batch, err := eng.CreateBatch(ctx, "b1", "sharepoint", nil)
	require.NoError(t, err)

	r1, err := eng.IngestDocument(ctx, batch.ID, "sharepoint", "/a", []byte("hello"), "text/plain", nil)
	require.NoError(t, err)

	r2, err := eng.IngestDocument(ctx, batch.ID, "sharepoint", "/a", []byte("hello"), "text/plain", nil)
	require.NoError(t, err)
	require.Equal(t, r1.DocumentURI.Version, r2.DocumentURI.Version)

	history, err := eng.Store().GetURIHistory(ctx, r1.DocumentURI.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestEngine_IngestDocument_ChangedHashBumpsVersion(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	batch, err := eng.CreateBatch(ctx, "b1", "sharepoint", nil)
	require.NoError(t, err)

	r1, err := eng.IngestDocument(ctx, batch.ID, "sharepoint", "/a", []byte("hello"), "text/plain", nil)
	require.NoError(t, err)

	r2, err := eng.IngestDocument(ctx, batch.ID, "sharepoint", "/a", []byte("goodbye"), "text/plain", nil)
	require.NoError(t, err)
	require.Equal(t, r1.DocumentURI.ID, r2.DocumentURI.ID)
	require.Equal(t, 2, r2.DocumentURI.Version)
	require.NotEqual(t, r1.DocumentURI.Hash, r2.DocumentURI.Hash)

	history, err := eng.Store().GetURIHistory(ctx, r1.DocumentURI.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, model.ActionUpdated, history[1].Action)
}

func TestEngine_DiffSource(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	batch, err := eng.CreateBatch(ctx, "b1", "sharepoint", nil)
	require.NoError(t, err)

	_, err = eng.IngestDocument(ctx, batch.ID, "sharepoint", "/a", []byte("hello"), "text/plain", nil)
	require.NoError(t, err)
	_, err = eng.IngestDocument(ctx, batch.ID, "sharepoint", "/b", []byte("world"), "text/plain", nil)
	require.NoError(t, err)

	diff, err := eng.DiffSource(ctx, "sharepoint", map[string]string{
		"/a": contentHashFor("hello"),
		"/c": contentHashFor("new"),
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/c"}, diff.New)
	require.Empty(t, diff.Changed)
	require.ElementsMatch(t, []string{"/b"}, diff.Missing)

	diff, err = eng.DiffSource(ctx, "sharepoint", map[string]string{
		"/a": contentHashFor("changed"),
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/a"}, diff.Changed)
	require.ElementsMatch(t, []string{"/b"}, diff.Missing)
}

func TestEngine_DeleteDocumentURI_CascadesOnLastReference(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	batch, err := eng.CreateBatch(ctx, "b1", "sharepoint", nil)
	require.NoError(t, err)

	r1, err := eng.IngestDocument(ctx, batch.ID, "sharepoint", "/a", []byte("hello"), "text/plain", nil)
	require.NoError(t, err)

	group, err := eng.StartWorkflows(ctx, batch.ID, "ingest_only", "default", []string{r1.DocumentURI.Hash}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, group.ID)

	counts, err := eng.DeleteDocumentURI(ctx, r1.DocumentURI.ID)
	require.NoError(t, err)
	require.Equal(t, 1, counts.DocumentURIs)
	require.Equal(t, 1, counts.Documents)
	require.Equal(t, 1, counts.WorkflowRuns)
	require.Equal(t, 1, counts.RunSteps)

	_, err = eng.Store().GetDocument(ctx, r1.DocumentURI.Hash)
	require.ErrorIs(t, err, store.ErrDocumentNotFound)

	exists, err := eng.ArtifactStore().Exists(ctx, model.ArtifactRef{
		Hash: r1.DocumentURI.Hash, Kind: model.ArtifactDocument, StorageRoot: "default",
	})
	require.NoError(t, err)
	require.False(t, exists)
}

func TestEngine_DeleteRunGroup(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	batch, err := eng.CreateBatch(ctx, "b1", "sharepoint", nil)
	require.NoError(t, err)
	r1, err := eng.IngestDocument(ctx, batch.ID, "sharepoint", "/a", []byte("hello"), "text/plain", nil)
	require.NoError(t, err)

	group, err := eng.StartWorkflows(ctx, batch.ID, "ingest_only", "default", []string{r1.DocumentURI.Hash}, 0)
	require.NoError(t, err)

	counts, err := eng.DeleteRunGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Equal(t, 1, counts.RunGroups)
	require.Equal(t, 1, counts.WorkflowRuns)
	require.Equal(t, 1, counts.RunSteps)

	_, err = eng.Store().GetRunGroup(ctx, group.ID)
	require.Error(t, err)
}

func TestEngine_RetryRunGroup_ResetsFailedRuns(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	batch, err := eng.CreateBatch(ctx, "b1", "sharepoint", nil)
	require.NoError(t, err)
	r1, err := eng.IngestDocument(ctx, batch.ID, "sharepoint", "/a", []byte("hello"), "text/plain", nil)
	require.NoError(t, err)

	group, err := eng.StartWorkflows(ctx, batch.ID, "ingest_only", "default", []string{r1.DocumentURI.Hash}, 0)
	require.NoError(t, err)

	runs, err := eng.Store().ListWorkflowRunsForGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]

	steps, err := eng.Store().ListRunStepsForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	step := steps[0]

	now := time.Now().UTC()
	// Exhaust the step's retry budget before failing it, the way a real
	// run would after repeated transient errors.
	for range step.Retries {
		require.NoError(t, eng.Store().ScheduleRunStepRetry(ctx, step.ID, now, "transient"))
	}
	require.NoError(t, eng.Store().UpdateRunStepStatus(ctx, step.ID, model.StatusFailed, "boom", nil, now))
	require.NoError(t, eng.Store().UpdateWorkflowRunStatus(ctx, run.ID, model.StatusFailed, "boom", nil, now))

	exhausted, err := eng.Store().GetRunStep(ctx, step.ID)
	require.NoError(t, err)
	require.True(t, exhausted.RetriesExhausted())

	retried, err := eng.RetryRunGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Equal(t, 1, retried)

	gotRun, err := eng.Store().GetWorkflowRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusRunning, gotRun.Status)

	gotStep, err := eng.Store().GetRunStep(ctx, step.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, gotStep.Status)
	require.Equal(t, 0, gotStep.Retry)
	require.False(t, gotStep.RetriesExhausted(), "retry reset must give the re-run a fresh retry budget")

	// A run that is no longer FAILED (e.g. it went on to complete) is
	// left untouched by a second retry call.
	require.NoError(t, eng.Store().UpdateRunStepStatus(ctx, step.ID, model.StatusCompleted, "", nil, now))
	require.NoError(t, eng.Store().UpdateWorkflowRunStatus(ctx, run.ID, model.StatusCompleted, "", nil, now))
	retried, err = eng.RetryRunGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Equal(t, 0, retried)
}

func TestEngine_StartStop(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, eng.Stop(stopCtx))
}
