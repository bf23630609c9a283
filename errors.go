package ingester

import "errors"

var (
	// ErrNoStore is returned by New when no persistence backend was
	// configured via WithStore.
	ErrNoStore = errors.New("ingester: no store configured")

	// ErrNoRegistry is returned by New when no workflow/parameter-set
	// registry was configured via WithRegistry.
	ErrNoRegistry = errors.New("ingester: no registry configured")

	// ErrNoArtifactStore is returned by New when no Artifact Store was
	// configured via WithArtifactStore.
	ErrNoArtifactStore = errors.New("ingester: no artifact store configured")

	// ErrNotStarted is returned by Stop when Start was never called.
	ErrNotStarted = errors.New("ingester: engine not started")
)
