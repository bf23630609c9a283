package artifact_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soliplex/ingester/artifact"
	"github.com/soliplex/ingester/model"
)

func TestFSStore_PutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := artifact.NewFSStore(dir)
	ctx := context.Background()

	ref := model.ArtifactRef{Hash: "sha256-abc", Kind: model.ArtifactDocument, StorageRoot: "raw"}
	require.NoError(t, store.Put(ctx, ref, []byte("hello")))

	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	exists, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFSStore_GetMissingReturnsErrNotFound(t *testing.T) {
	store := artifact.NewFSStore(t.TempDir())
	_, err := store.Get(context.Background(), model.ArtifactRef{Hash: "nope", Kind: model.ArtifactDocument, StorageRoot: "raw"})
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestFSStore_PutIsOverwriteIdempotent(t *testing.T) {
	dir := t.TempDir()
	store := artifact.NewFSStore(dir)
	ctx := context.Background()
	ref := model.ArtifactRef{Hash: "sha256-abc", Kind: model.ArtifactChunks, StorageRoot: "raw"}

	require.NoError(t, store.Put(ctx, ref, []byte("v1")))
	require.NoError(t, store.Put(ctx, ref, []byte("v2-longer")))

	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2-longer"), got)
}

func TestFSStore_DeleteAllForHash(t *testing.T) {
	dir := t.TempDir()
	store := artifact.NewFSStore(dir)
	ctx := context.Background()

	hash := "sha256-shared"
	refs := []model.ArtifactRef{
		{Hash: hash, Kind: model.ArtifactDocument, StorageRoot: "raw"},
		{Hash: hash, Kind: model.ArtifactParsedMarkdown, StorageRoot: "raw"},
		{Hash: hash, Kind: model.ArtifactChunks, StorageRoot: "raw"},
	}
	for _, ref := range refs {
		require.NoError(t, store.Put(ctx, ref, []byte("data")))
	}
	other := model.ArtifactRef{Hash: "sha256-other", Kind: model.ArtifactDocument, StorageRoot: "raw"}
	require.NoError(t, store.Put(ctx, other, []byte("other")))

	n, err := store.DeleteAllForHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, ref := range refs {
		exists, existsErr := store.Exists(ctx, ref)
		require.NoError(t, existsErr)
		assert.False(t, exists)
	}
	exists, err := store.Exists(ctx, other)
	require.NoError(t, err)
	assert.True(t, exists, "unrelated hash must survive DeleteAllForHash")
}

func TestFSStore_Validate(t *testing.T) {
	dir := t.TempDir()
	store := artifact.NewFSStore(dir)
	ctx := context.Background()

	present := model.ArtifactRef{Hash: "sha256-present", Kind: model.ArtifactDocument, StorageRoot: "raw"}
	extra := model.ArtifactRef{Hash: "sha256-extra", Kind: model.ArtifactDocument, StorageRoot: "raw"}
	missing := model.ArtifactRef{Hash: "sha256-missing", Kind: model.ArtifactChunks, StorageRoot: "raw"}

	require.NoError(t, store.Put(ctx, present, []byte("x")))
	require.NoError(t, store.Put(ctx, extra, []byte("y")))

	gotMissing, gotExtra, err := store.Validate(ctx, []model.ArtifactRef{present, missing})
	require.NoError(t, err)
	assert.Equal(t, []model.ArtifactRef{missing}, gotMissing)
	assert.Equal(t, []model.ArtifactRef{extra}, gotExtra)
}

func TestFSStore_PathLayout(t *testing.T) {
	dir := t.TempDir()
	store := artifact.NewFSStore(dir)
	ref := model.ArtifactRef{Hash: "sha256-abc", Kind: model.ArtifactEmbeddings, StorageRoot: "raw"}
	require.NoError(t, store.Put(context.Background(), ref, []byte("x")))

	want := filepath.Join(dir, "raw", "sh", "sha256-abc", "embeddings")
	data, err := filepath.Glob(want)
	require.NoError(t, err)
	assert.Len(t, data, 1)
}
