package ingester

import (
	"log/slog"
	"time"

	"github.com/soliplex/ingester/artifact"
	"github.com/soliplex/ingester/backoff"
	"github.com/soliplex/ingester/ext"
	"github.com/soliplex/ingester/handler"
	"github.com/soliplex/ingester/ratelimit"
	"github.com/soliplex/ingester/registry"
	"github.com/soliplex/ingester/store"
)

// Option configures an Engine during New.
type Option func(*Engine)

// WithStore sets the persistence backend. Required.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithArtifactStore sets the content-addressed blob store used for raw
// document bytes and step outputs. Required.
func WithArtifactStore(a artifact.Store) Option {
	return func(e *Engine) { e.artifacts = a }
}

// WithRegistry sets the workflow-definition and parameter-set registry.
// Required; the caller is responsible for calling Load on it before or
// after passing it here.
func WithRegistry(r *registry.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithHandlerRegistry sets a pre-populated handler registry. If not
// provided, New creates an empty one that must be populated via
// RegisterHandler before Start.
func WithHandlerRegistry(h *handler.Registry) Option {
	return func(e *Engine) { e.handlers = h }
}

// WithExtension registers a lifecycle extension (e.g. the observability
// package's MetricsExtension) with the engine's extension registry.
func WithExtension(ext ext.Extension) Option {
	return func(e *Engine) { e.pendingExtensions = append(e.pendingExtensions, ext) }
}

// WithBackoffStrategy overrides the default capped-exponential retry
// backoff used by the scheduler.
func WithBackoffStrategy(b backoff.Strategy) Option {
	return func(e *Engine) { e.backoff = b }
}

// WithRateLimiter configures per-source rate limiting and concurrency
// caps for the worker pool.
func WithRateLimiter(configs ...ratelimit.Config) Option {
	return func(e *Engine) { e.rateLimiter = ratelimit.NewManager(configs...) }
}

// WithLogger sets the structured logger used throughout the engine and
// its subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.config.Concurrency = n }
}

// WithClaimBatch sets how many RunSteps each worker tries to claim per
// poll tick.
func WithClaimBatch(n int) Option {
	return func(e *Engine) { e.config.ClaimBatch = n }
}

// WithPollInterval sets the idle-worker poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.config.PollInterval = d }
}

// WithHeartbeatInterval sets the worker checkin interval. Zero disables
// heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(e *Engine) { e.config.HeartbeatInterval = d }
}

// WithStaleStepTimeout sets the abandoned-step reclaim threshold. Zero
// disables the reaper loop.
func WithStaleStepTimeout(d time.Duration) Option {
	return func(e *Engine) { e.config.StaleStepTimeout = d }
}

// WithShutdownTimeout sets how long Stop waits for in-flight RunSteps
// before cancelling them.
func WithShutdownTimeout(d time.Duration) Option {
	return func(e *Engine) { e.config.ShutdownTimeout = d }
}

// WithStorageRoot sets the Artifact Store root label new raw-document
// artifacts are written under.
func WithStorageRoot(root string) Option {
	return func(e *Engine) { e.config.StorageRoot = root }
}
