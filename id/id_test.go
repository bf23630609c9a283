package id_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soliplex/ingester/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"BatchID", id.NewBatchID, "batch_"},
		{"DocumentID", id.NewDocumentID, "doc_"},
		{"DocumentURIID", id.NewDocumentURIID, "uri_"},
		{"RunGroupID", id.NewRunGroupID, "grp_"},
		{"WorkflowRunID", id.NewWorkflowRunID, "run_"},
		{"RunStepID", id.NewRunStepID, "step_"},
		{"StepConfigID", id.NewStepConfigID, "cfg_"},
		{"ParameterSetID", id.NewParameterSetID, "pset_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
		{"ArtifactID", id.NewArtifactID, "art_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			assert.True(t, strings.HasPrefix(got, tt.prefix), "expected prefix %q, got %q", tt.prefix, got)
		})
	}
}

func TestNew(t *testing.T) {
	i := id.New(id.PrefixBatch)
	assert.False(t, i.IsNil())
	assert.Equal(t, id.PrefixBatch, i.Prefix())
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"BatchID", id.NewBatchID, id.ParseBatchID},
		{"DocumentID", id.NewDocumentID, id.ParseDocumentID},
		{"DocumentURIID", id.NewDocumentURIID, id.ParseDocumentURIID},
		{"RunGroupID", id.NewRunGroupID, id.ParseRunGroupID},
		{"WorkflowRunID", id.NewWorkflowRunID, id.ParseWorkflowRunID},
		{"RunStepID", id.NewRunStepID, id.ParseRunStepID},
		{"StepConfigID", id.NewStepConfigID, id.ParseStepConfigID},
		{"ParameterSetID", id.NewParameterSetID, id.ParseParameterSetID},
		{"WorkerID", id.NewWorkerID, id.ParseWorkerID},
		{"ArtifactID", id.NewArtifactID, id.ParseArtifactID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			require.NoError(t, err)
			assert.Equal(t, original.String(), parsed.String())
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseBatchID rejects doc_", id.NewDocumentID().String(), id.ParseBatchID},
		{"ParseDocumentID rejects uri_", id.NewDocumentURIID().String(), id.ParseDocumentID},
		{"ParseRunGroupID rejects run_", id.NewWorkflowRunID().String(), id.ParseRunGroupID},
		{"ParseWorkflowRunID rejects step_", id.NewRunStepID().String(), id.ParseWorkflowRunID},
		{"ParseRunStepID rejects cfg_", id.NewStepConfigID().String(), id.ParseRunStepID},
		{"ParseStepConfigID rejects pset_", id.NewParameterSetID().String(), id.ParseStepConfigID},
		{"ParseWorkerID rejects batch_", id.NewBatchID().String(), id.ParseWorkerID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.parseFn(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestParseAny(t *testing.T) {
	ids := []id.ID{
		id.NewBatchID(),
		id.NewDocumentID(),
		id.NewRunGroupID(),
		id.NewWorkflowRunID(),
		id.NewRunStepID(),
		id.NewWorkerID(),
	}

	for _, i := range ids {
		t.Run(i.String(), func(t *testing.T) {
			parsed, err := id.ParseAny(i.String())
			require.NoError(t, err)
			assert.Equal(t, i.String(), parsed.String())
		})
	}
}

func TestParseWithPrefix(t *testing.T) {
	i := id.NewBatchID()
	parsed, err := id.ParseWithPrefix(i.String(), id.PrefixBatch)
	require.NoError(t, err)
	assert.Equal(t, i.String(), parsed.String())

	_, err = id.ParseWithPrefix(i.String(), id.PrefixDocument)
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	_, err := id.Parse("")
	assert.Error(t, err)
}

func TestNilID(t *testing.T) {
	var i id.ID
	assert.True(t, i.IsNil())
	assert.Empty(t, i.String())
	assert.Empty(t, i.Prefix())
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewBatchID()
	data, err := original.MarshalText()
	require.NoError(t, err)

	var restored id.ID
	require.NoError(t, restored.UnmarshalText(data))
	assert.Equal(t, original.String(), restored.String())

	var nilID id.ID
	data, err = nilID.MarshalText()
	require.NoError(t, err)

	var restored2 id.ID
	require.NoError(t, restored2.UnmarshalText(data))
	assert.True(t, restored2.IsNil())
}

func TestValueScan(t *testing.T) {
	original := id.NewDocumentID()
	val, err := original.Value()
	require.NoError(t, err)

	var scanned id.ID
	require.NoError(t, scanned.Scan(val))
	assert.Equal(t, original.String(), scanned.String())

	var nilID id.ID
	val, err = nilID.Value()
	require.NoError(t, err)
	assert.Nil(t, val)

	var scanned2 id.ID
	require.NoError(t, scanned2.Scan(nil))
	assert.True(t, scanned2.IsNil())
}

func TestUniqueness(t *testing.T) {
	a := id.NewBatchID()
	b := id.NewBatchID()
	assert.NotEqual(t, a.String(), b.String())
}
