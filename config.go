package ingester

import "time"

// Config holds tunable parameters for the worker pool and its
// heartbeat/reclaim loops.
type Config struct {
	// Concurrency is the number of worker goroutines claiming and
	// executing RunSteps concurrently.
	Concurrency int

	// ClaimBatch is how many RunSteps each worker goroutine tries to
	// claim per poll tick.
	ClaimBatch int

	// PollInterval is how long an idle worker sleeps between claim
	// attempts when nothing was claimable.
	PollInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight RunSteps
	// to finish before cancelling them.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often the pool records a WorkerCheckin.
	// Zero disables heartbeats.
	HeartbeatInterval time.Duration

	// StaleStepTimeout is the threshold after which a RUNNING RunStep
	// with no live worker checkin is reclaimed back to PENDING. Zero
	// disables the reaper loop. Per spec §4.6, this must exceed
	// HeartbeatInterval, recommended at least 5x.
	StaleStepTimeout time.Duration

	// StorageRoot labels which Artifact Store root new raw-document
	// artifacts are written under.
	StorageRoot string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		ClaimBatch:        1,
		PollInterval:      time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleStepTimeout:  60 * time.Second,
		StorageRoot:       "default",
	}
}
