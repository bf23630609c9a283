package registry_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soliplex/ingester/registry"
)

const sampleWorkflow = `
id: batch_split
name: Batch Split Workflow
meta:
  owner: ingestion
item_steps:
  - step_type: ingest
    name: ingest
    handler: ingest.default
    retries: 3
  - step_type: parse
    name: parse
    handler: parse.docling
    retries: 1
  - step_type: chunk
    name: chunk
    handler: chunk.default
    retries: 1
`

const sampleParams = `
id: default
name: Default params
config:
  ingest:
    timeout_s: 30
  parse:
    server_url: http://localhost:5001
  chunk:
    max_tokens: 512
`

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestRegistry_LoadAndResolve(t *testing.T) {
	wfBuiltin := t.TempDir()
	wfUser := t.TempDir()
	paramBuiltin := t.TempDir()
	paramUser := t.TempDir()

	writeFile(t, wfBuiltin, "batch_split.yaml", sampleWorkflow)
	writeFile(t, paramBuiltin, "default.yaml", sampleParams)

	r := registry.New(wfBuiltin, wfUser, paramBuiltin, paramUser)
	require.NoError(t, r.Load())

	wf, ok := r.GetWorkflow("batch_split")
	require.True(t, ok)
	assert.Equal(t, registry.OriginBuiltIn, wf.Origin)
	assert.Len(t, wf.ItemSteps, 3)

	ps, ok := r.GetParameterSet("default")
	require.True(t, ok)

	resolved, err := registry.ResolveParameterSet(wf, ps, time.Now())
	require.NoError(t, err)
	require.Len(t, resolved.Steps, 3)

	assert.Equal(t, float64(30), resolved.Steps[0].Config["timeout_s"])
	assert.Empty(t, resolved.Steps[0].CumulativeConfig)

	// Step 2 (parse) should see step 1's (ingest) config in its
	// cumulative view.
	assert.Equal(t, float64(30), resolved.Steps[1].CumulativeConfig["timeout_s"])
	assert.Equal(t, "http://localhost:5001", resolved.Steps[1].Config["server_url"])

	// Step 3 (chunk) should see both prior steps' configs cumulatively.
	assert.Equal(t, float64(30), resolved.Steps[2].CumulativeConfig["timeout_s"])
	assert.Equal(t, "http://localhost:5001", resolved.Steps[2].CumulativeConfig["server_url"])
}

func TestRegistry_DuplicateIDAcrossOriginsIsHardError(t *testing.T) {
	wfBuiltin := t.TempDir()
	wfUser := t.TempDir()

	writeFile(t, wfBuiltin, "batch_split.yaml", sampleWorkflow)
	writeFile(t, wfUser, "batch_split_copy.yaml", sampleWorkflow)

	r := registry.New(wfBuiltin, wfUser, t.TempDir(), t.TempDir())
	err := r.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestRegistry_MissingDirectoryIsNotAnError(t *testing.T) {
	r := registry.New(filepath.Join(t.TempDir(), "missing"), t.TempDir(), t.TempDir(), t.TempDir())
	require.NoError(t, r.Load())
	assert.Empty(t, r.WorkflowNames())
}

func TestRegistry_BuiltinWorkflowUndeletable(t *testing.T) {
	wfBuiltin := t.TempDir()
	writeFile(t, wfBuiltin, "batch_split.yaml", sampleWorkflow)

	r := registry.New(wfBuiltin, t.TempDir(), t.TempDir(), t.TempDir())
	require.NoError(t, r.Load())

	err := r.DeleteUserWorkflow("batch_split")
	assert.Error(t, err)
}

func TestResolveParameterSet_MissingStepConfigIsError(t *testing.T) {
	wfBuiltin := t.TempDir()
	paramBuiltin := t.TempDir()
	writeFile(t, wfBuiltin, "batch_split.yaml", sampleWorkflow)
	writeFile(t, paramBuiltin, "incomplete.yaml", `
id: incomplete
name: Incomplete
config:
  ingest:
    timeout_s: 30
`)

	r := registry.New(wfBuiltin, t.TempDir(), paramBuiltin, t.TempDir())
	require.NoError(t, r.Load())

	wf, _ := r.GetWorkflow("batch_split")
	ps, _ := r.GetParameterSet("incomplete")

	_, err := registry.ResolveParameterSet(wf, ps, time.Now())
	assert.Error(t, err)
}
