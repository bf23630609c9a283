package model

// ArtifactRef identifies one blob in the Artifact Store: a Document's
// content hash, the kind of artifact, and the storage root it was
// written under (storage roots are never mixed at lookup time, allowing
// the same hash+kind pair to exist independently in, e.g., a "raw" and
// a "reprocessed" root).
type ArtifactRef struct {
	Hash         string       `json:"hash"`
	Kind         ArtifactType `json:"artifact_type"`
	StorageRoot  string       `json:"storage_root"`
}

// FileSize, when known, is tracked alongside the blob by the store
// backend; ArtifactRef itself only identifies the blob, it does not
// carry its bytes.
