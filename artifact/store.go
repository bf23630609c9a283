// Package artifact provides the pluggable blob-storage abstraction used
// to persist step outputs (raw documents, parsed markdown/JSON, chunks,
// embeddings, RAG receipts). Every backend keys blobs by
// (hash, kind, storage_root) and treats Put as overwrite-idempotent:
// writing the same key twice with the same bytes is a no-op in effect,
// and writing it with different bytes simply replaces the prior blob.
package artifact

import (
	"context"
	"errors"

	"github.com/soliplex/ingester/model"
)

// ErrNotFound is returned by Get when no blob exists for the given ref.
var ErrNotFound = errors.New("artifact: not found")

// Store is the Artifact Store contract. All methods must be safe for
// concurrent use.
type Store interface {
	// Put writes data under ref, creating or overwriting it.
	Put(ctx context.Context, ref model.ArtifactRef, data []byte) error

	// Get returns the bytes stored under ref, or ErrNotFound.
	Get(ctx context.Context, ref model.ArtifactRef) ([]byte, error)

	// Exists reports whether a blob is stored under ref.
	Exists(ctx context.Context, ref model.ArtifactRef) (bool, error)

	// Delete removes the blob stored under ref. Deleting a missing ref
	// is not an error.
	Delete(ctx context.Context, ref model.ArtifactRef) error

	// DeleteAllForHash removes every artifact kind stored under hash,
	// across all storage roots this Store instance was constructed
	// with. It returns the number of blobs removed. Used only by
	// cascading deletion of a Document.
	DeleteAllForHash(ctx context.Context, hash string) (int, error)
}

// Validator is implemented by backends that can cross-check their blob
// inventory against an expected set of refs, for maintenance-only
// "validate storage" tooling.
type Validator interface {
	// Validate compares the backend's actual inventory against want and
	// reports refs that are missing (expected but absent) and extra
	// (present but not expected).
	Validate(ctx context.Context, want []model.ArtifactRef) (missing, extra []model.ArtifactRef, err error)
}
