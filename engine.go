package ingester

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soliplex/ingester/artifact"
	"github.com/soliplex/ingester/backoff"
	"github.com/soliplex/ingester/ext"
	"github.com/soliplex/ingester/handler"
	"github.com/soliplex/ingester/id"
	"github.com/soliplex/ingester/lifecycle"
	"github.com/soliplex/ingester/model"
	"github.com/soliplex/ingester/ratelimit"
	"github.com/soliplex/ingester/registry"
	"github.com/soliplex/ingester/scheduler"
	"github.com/soliplex/ingester/store"
	"github.com/soliplex/ingester/worker"
)

// Engine is the central coordinator: it wires the persistence layer,
// workflow registry, scheduler, worker pool, and artifact store, and
// exposes the operations applications use to submit work.
//
// Create one with New and functional options, register step handlers,
// then call Start.
type Engine struct {
	config Config
	logger *slog.Logger

	store     store.Store
	artifacts artifact.Store
	registry  *registry.Registry
	handlers  *handler.Registry

	backoff     backoff.Strategy
	rateLimiter *ratelimit.Manager

	extensions        *ext.Registry
	pendingExtensions []ext.Extension

	scheduler *scheduler.Scheduler
	pool      *worker.Pool

	started bool
}

// New creates an Engine from the given options. WithStore,
// WithArtifactStore, and WithRegistry are required.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		return nil, ErrNoStore
	}
	if e.artifacts == nil {
		return nil, ErrNoArtifactStore
	}
	if e.registry == nil {
		return nil, ErrNoRegistry
	}
	if e.handlers == nil {
		e.handlers = handler.NewRegistry()
	}
	if e.backoff == nil {
		e.backoff = backoff.DefaultStrategy()
	}

	e.extensions = ext.NewRegistry(e.logger)
	for _, ex := range e.pendingExtensions {
		e.extensions.Register(ex)
	}

	sched, err := scheduler.New(e.store, e.registry,
		scheduler.WithBackoffStrategy(e.backoff),
		scheduler.WithLogger(e.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("ingester: build scheduler: %w", err)
	}
	e.scheduler = sched

	executor := worker.NewExecutor(e.handlers, e.scheduler, e.store, e.extensions, e.logger)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(e.config.Concurrency),
		worker.WithClaimBatch(e.config.ClaimBatch),
		worker.WithPollInterval(e.config.PollInterval),
		worker.WithHeartbeatInterval(e.config.HeartbeatInterval),
		worker.WithStaleStepTimeout(e.config.StaleStepTimeout),
	}
	if e.rateLimiter != nil {
		poolOpts = append(poolOpts, worker.WithRateLimiter(e.rateLimiter))
	}
	e.pool = worker.NewPool(e.store, e.scheduler, executor, e.extensions, e.logger, poolOpts...)

	return e, nil
}

// RegisterHandler registers a step handler under name, the value a
// WorkflowDefinition's step entries reference via their "handler"
// field. Call this before Start.
func (e *Engine) RegisterHandler(name string, fn handler.Func) {
	e.handlers.Register(name, fn)
}

// Store returns the engine's persistence backend.
func (e *Engine) Store() store.Store { return e.store }

// ArtifactStore returns the engine's artifact blob store.
func (e *Engine) ArtifactStore() artifact.Store { return e.artifacts }

// Registry returns the engine's workflow/parameter-set registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Extensions returns the engine's lifecycle extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// Logger returns the engine's structured logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Start migrates the store if needed and begins claiming and executing
// RunSteps.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("ingester: migrate store: %w", err)
	}
	if err := e.pool.Start(ctx); err != nil {
		return fmt.Errorf("ingester: start worker pool: %w", err)
	}
	e.started = true
	e.logger.Info("ingester engine started",
		slog.Int("concurrency", e.config.Concurrency),
		slog.String("worker_id", e.pool.WorkerID().String()),
	)
	return nil
}

// Stop gracefully shuts down the worker pool, waiting up to
// Config.ShutdownTimeout for in-flight RunSteps to finish before
// cancelling them.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started {
		return ErrNotStarted
	}
	stopCtx, cancel := context.WithTimeout(ctx, e.config.ShutdownTimeout)
	defer cancel()
	if err := e.pool.Stop(stopCtx); err != nil {
		return fmt.Errorf("ingester: stop worker pool: %w", err)
	}
	return e.store.Close()
}

// CreateBatch creates and persists a new Batch.
func (e *Engine) CreateBatch(ctx context.Context, name, source string, params map[string]string) (*model.Batch, error) {
	b := &model.Batch{
		ID:        id.NewBatchID(),
		Name:      name,
		Source:    source,
		StartDate: time.Now().UTC(),
		Params:    params,
	}
	if err := e.store.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("ingester: create batch: %w", err)
	}
	return b, nil
}

// StartWorkflows materializes a RunGroup and one WorkflowRun per
// document hash under batchID, seeding each run's first RunStep as
// PENDING.
func (e *Engine) StartWorkflows(ctx context.Context, batchID id.BatchID, workflowID, paramSetID string, docHashes []string, priority int) (*model.RunGroup, error) {
	return e.scheduler.StartWorkflows(ctx, batchID, workflowID, paramSetID, docHashes, priority, time.Now().UTC())
}

// IngestResult reports the outcome of an IngestDocument call.
type IngestResult struct {
	// DocumentURI is the created or updated URI mapping.
	DocumentURI *model.DocumentURI

	// AlreadyExists is true when a Document with this content hash was
	// already known before this call — no new Document row or raw
	// Artifact was written.
	AlreadyExists bool

	// OriginalBatchID is the batch that first ingested this content
	// hash, set only when AlreadyExists is true.
	OriginalBatchID id.BatchID
}

// IngestDocument content-addresses data, creating a Document and raw
// Artifact on first sight of its hash, and creates or updates the
// DocumentURI mapping (uri, source) points to, recording a
// DocumentURIHistory row for the transition. Re-ingesting the same
// bytes at the same (uri, source) is a no-op beyond reporting the
// existing mapping.
func (e *Engine) IngestDocument(ctx context.Context, batchID id.BatchID, source, uri string, data []byte, mimeType string, meta map[string]string) (*IngestResult, error) {
	hash := contentHash(data)
	now := time.Now().UTC()

	existingDoc, err := e.store.GetDocument(ctx, hash)
	alreadyExists := err == nil
	if err != nil && !errors.Is(err, store.ErrDocumentNotFound) {
		return nil, fmt.Errorf("ingester: lookup document %s: %w", hash, err)
	}

	if !alreadyExists {
		doc := &model.Document{
			Hash:     hash,
			MimeType: mimeType,
			FileSize: int64(len(data)),
			Meta:     meta,
			BatchID:  batchID,
		}
		if err := e.store.UpsertDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("ingester: upsert document: %w", err)
		}
		ref := model.ArtifactRef{Hash: hash, Kind: model.ArtifactDocument, StorageRoot: e.config.StorageRoot}
		if err := e.artifacts.Put(ctx, ref, data); err != nil {
			return nil, fmt.Errorf("ingester: store raw artifact for %s: %w", hash, err)
		}
	}

	docURI, err := e.store.FindDocumentURI(ctx, uri, source)
	switch {
	case err == nil && docURI.Hash == hash:
		// Unchanged re-ingest at the same (uri, source): no version
		// bump, no history row.
	case err == nil:
		docURI.Hash = hash
		docURI.Version++
		docURI.BatchID = batchID
		if err := e.store.UpsertDocumentURI(ctx, docURI); err != nil {
			return nil, fmt.Errorf("ingester: update document uri: %w", err)
		}
		if err := e.recordURIHistory(ctx, docURI, model.ActionUpdated, now); err != nil {
			return nil, err
		}
	case errors.Is(err, store.ErrDocumentURINotFound):
		docURI = &model.DocumentURI{
			ID:      id.NewDocumentURIID(),
			Hash:    hash,
			URI:     uri,
			Source:  source,
			Version: 1,
			BatchID: batchID,
		}
		if err := e.store.UpsertDocumentURI(ctx, docURI); err != nil {
			return nil, fmt.Errorf("ingester: create document uri: %w", err)
		}
		if err := e.recordURIHistory(ctx, docURI, model.ActionCreated, now); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("ingester: lookup document uri: %w", err)
	}

	result := &IngestResult{DocumentURI: docURI, AlreadyExists: alreadyExists}
	if alreadyExists {
		result.OriginalBatchID = existingDoc.BatchID
	}
	return result, nil
}

func (e *Engine) recordURIHistory(ctx context.Context, docURI *model.DocumentURI, action string, now time.Time) error {
	h := &model.DocumentURIHistory{
		ID:          id.NewURIHistoryID(),
		DocURIID:    docURI.ID,
		Version:     docURI.Version,
		Hash:        docURI.Hash,
		ProcessDate: now,
		Action:      action,
		BatchID:     docURI.BatchID,
		Meta:        map[string]string{},
	}
	if err := e.store.AddURIHistory(ctx, h); err != nil {
		return fmt.Errorf("ingester: record uri history: %w", err)
	}
	return nil
}

// SourceDiff reports how a source's current URI→hash mapping compares
// to the persisted state.
type SourceDiff struct {
	// New lists URIs present in the input but not yet persisted.
	New []string
	// Changed lists URIs present in both but with a different hash.
	Changed []string
	// Missing lists URIs persisted under this source but absent from
	// the input.
	Missing []string
}

// DiffSource compares uriHashes against the persisted DocumentURIs for
// source and reports which are new, changed, or missing. Read-only;
// used by ingest agents to decide what to re-ingest.
func (e *Engine) DiffSource(ctx context.Context, source string, uriHashes map[string]string) (*SourceDiff, error) {
	persisted, err := e.store.GetURIsForSource(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("ingester: list uris for source %q: %w", source, err)
	}

	byURI := make(map[string]*model.DocumentURI, len(persisted))
	for _, u := range persisted {
		byURI[u.URI] = u
	}

	diff := &SourceDiff{}
	for uri, hash := range uriHashes {
		existing, ok := byURI[uri]
		switch {
		case !ok:
			diff.New = append(diff.New, uri)
		case existing.Hash != hash:
			diff.Changed = append(diff.Changed, uri)
		}
	}
	for uri := range byURI {
		if _, ok := uriHashes[uri]; !ok {
			diff.Missing = append(diff.Missing, uri)
		}
	}
	return diff, nil
}

// DeleteRunGroup removes a RunGroup and every WorkflowRun, RunStep, and
// LifecycleHistory row beneath it, atomically.
func (e *Engine) DeleteRunGroup(ctx context.Context, groupID id.RunGroupID) (store.DeleteCounts, error) {
	counts, err := e.store.DeleteRunGroup(ctx, groupID)
	if err != nil {
		return counts, fmt.Errorf("ingester: delete run group %s: %w", groupID, err)
	}
	return counts, nil
}

// DeleteDocumentURI removes a DocumentURI. If this was the last URI
// referencing its Document, the Document, its dependent WorkflowRuns
// (and their RunSteps and LifecycleHistory), and every Artifact stored
// under its hash are removed too.
func (e *Engine) DeleteDocumentURI(ctx context.Context, uriID id.DocumentURIID) (store.DeleteCounts, error) {
	docURI, err := e.store.GetDocumentURI(ctx, uriID)
	if err != nil {
		return store.DeleteCounts{}, fmt.Errorf("ingester: lookup document uri %s: %w", uriID, err)
	}

	counts, err := e.store.DeleteDocumentURI(ctx, uriID)
	if err != nil {
		return counts, fmt.Errorf("ingester: delete document uri %s: %w", uriID, err)
	}

	if counts.Documents > 0 {
		if _, err := e.artifacts.DeleteAllForHash(ctx, docURI.Hash); err != nil {
			return counts, fmt.Errorf("ingester: delete artifacts for orphaned document %s: %w", docURI.Hash, err)
		}
	}
	return counts, nil
}

// RetryRunGroup resets every FAILED WorkflowRun in groupID back to
// RUNNING by moving its last RunStep back to PENDING, and resumes the
// group if at least one run was reset. COMPLETED runs are left alone.
// It returns the number of WorkflowRuns reset.
func (e *Engine) RetryRunGroup(ctx context.Context, groupID id.RunGroupID) (int, error) {
	runs, err := e.store.ListWorkflowRunsForGroup(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("ingester: list workflow runs for group %s: %w", groupID, err)
	}

	now := time.Now().UTC()
	rec := lifecycle.New(e.store)
	retried := 0
	for _, run := range runs {
		if run.Status != model.StatusFailed {
			continue
		}
		steps, err := e.store.ListRunStepsForRun(ctx, run.ID)
		if err != nil {
			return retried, fmt.Errorf("ingester: list run steps for run %s: %w", run.ID, err)
		}
		if len(steps) == 0 {
			continue
		}
		last := steps[len(steps)-1]
		if last.Status != model.StatusFailed {
			continue
		}

		if err := e.store.ResetRunStepForRetry(ctx, last.ID, "retried by operator", now); err != nil {
			return retried, fmt.Errorf("ingester: reset run step %s: %w", last.ID, err)
		}
		if err := e.store.UpdateWorkflowRunStatus(ctx, run.ID, model.StatusRunning, "retried by operator", nil, now); err != nil {
			return retried, fmt.Errorf("ingester: reset workflow run %s: %w", run.ID, err)
		}
		run.Status = model.StatusRunning
		if err := rec.ItemStart(ctx, run, now); err != nil {
			return retried, fmt.Errorf("ingester: record retry for run %s: %w", run.ID, err)
		}
		retried++
	}

	if retried > 0 {
		if err := e.store.UpdateRunGroupStatus(ctx, groupID, model.StatusRunning, "retried by operator", nil, now); err != nil {
			return retried, fmt.Errorf("ingester: reset run group %s: %w", groupID, err)
		}
	}
	return retried, nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
