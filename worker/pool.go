package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soliplex/ingester/ext"
	"github.com/soliplex/ingester/id"
	"github.com/soliplex/ingester/model"
	"github.com/soliplex/ingester/ratelimit"
	"github.com/soliplex/ingester/scheduler"
	"github.com/soliplex/ingester/store"
)

// Pool manages a set of concurrent worker goroutines that claim RunSteps
// and execute them through the Executor.
type Pool struct {
	store        store.Store
	scheduler    *scheduler.Scheduler
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	claimBatch   int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	heartbeatInterval time.Duration
	staleStepTimeout  time.Duration

	rateLimiter *ratelimit.Manager

	stopCh      chan struct{}
	group       *errgroup.Group
	mu          sync.Mutex
	running     bool
	activeSteps map[string]context.CancelFunc
	activeMu    sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithClaimBatch sets how many RunSteps each dequeueLoop tick tries to
// claim at once.
func WithClaimBatch(n int) PoolOption {
	return func(p *Pool) { p.claimBatch = n }
}

// WithPollInterval sets how often idle workers poll for newly claimable
// RunSteps.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool records a WorkerCheckin.
// A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleStepTimeout sets the threshold after which a RUNNING step with
// no live worker checkin is reclaimed back to PENDING. A zero value
// disables reclaim.
func WithStaleStepTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleStepTimeout = d }
}

// WithRateLimiter sets the per-source rate limiter and concurrency cap.
func WithRateLimiter(m *ratelimit.Manager) PoolOption {
	return func(p *Pool) { p.rateLimiter = m }
}

// NewPool creates a worker pool.
func NewPool(
	s store.Store,
	sched *scheduler.Scheduler,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        s,
		scheduler:    sched,
		executor:     executor,
		extensions:   extensions,
		concurrency:  10,
		claimBatch:   1,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeSteps:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if p.heartbeatInterval > 0 {
		// Check in before launching the dequeue loops: otherwise a step
		// claimed in the window before this worker's first heartbeat
		// tick has no checkin row at all, making it indistinguishable
		// from an abandoned worker to ReclaimAbandonedSteps.
		if err := p.store.Checkin(context.Background(), p.workerID.String(), time.Now()); err != nil {
			return fmt.Errorf("worker: initial checkin: %w", err)
		}
	}

	p.running = true
	p.group = &errgroup.Group{}

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.group.Go(p.dequeueLoop)
	}

	if p.heartbeatInterval > 0 {
		p.group.Go(p.heartbeatLoop)
	}

	if p.staleStepTimeout > 0 {
		p.group.Go(p.reaperLoop)
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish. If the
// context has a deadline, active steps are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active steps")
		p.cancelActiveSteps()
		p.group.Wait()
	}

	p.extensions.EmitShutdown(context.Background())
	return nil
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() error {
	for {
		select {
		case <-p.stopCh:
			return nil
		default:
		}

		steps, err := p.scheduler.Claim(context.Background(), p.workerID.String(), p.claimBatch, time.Now())
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if len(steps) == 0 {
			p.sleep()
			continue
		}

		for _, step := range steps {
			p.runStep(step)
		}
	}
}

func (p *Pool) runStep(step *model.RunStep) {
	source := p.sourceForStep(step)

	if p.rateLimiter != nil && !p.rateLimiter.Acquire(source) {
		// Already claimed and RUNNING; hand it back rather than sit on
		// it, since this worker keeps heartbeating and would never be
		// reclaimed by the stale-worker reaper.
		if err := p.scheduler.Requeue(context.Background(), step.ID, time.Now()); err != nil {
			p.logger.Error("requeue after throttle failed",
				slog.String("step_id", step.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		p.sleep()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.trackStep(step.ID.String(), cancel)

	execErr := p.executor.Execute(ctx, step)
	if execErr != nil {
		p.logger.Error("step execution failed",
			slog.String("step_id", step.ID.String()),
			slog.String("step_name", step.StepName),
			slog.String("error", execErr.Error()),
		)
	}

	p.untrackStep(step.ID.String())
	cancel()

	if p.rateLimiter != nil {
		p.rateLimiter.Release(source)
	}
}

func (p *Pool) sourceForStep(step *model.RunStep) string {
	run, err := p.store.GetWorkflowRun(context.Background(), step.WorkflowRunID)
	if err != nil || run.BatchID.IsNil() {
		return ""
	}
	batch, err := p.store.GetBatch(context.Background(), run.BatchID)
	if err != nil {
		return ""
	}
	return batch.Source
}

// heartbeatLoop periodically records a WorkerCheckin for this pool.
func (p *Pool) heartbeatLoop() error {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.store.Checkin(context.Background(), p.workerID.String(), time.Now()); err != nil {
				p.logger.Warn("heartbeat failed", slog.String("error", err.Error()))
			}
		}
	}
}

// reaperLoop periodically reclaims RunSteps abandoned by crashed workers.
func (p *Pool) reaperLoop() error {
	ticker := time.NewTicker(p.staleStepTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			n, err := p.scheduler.ReclaimAbandoned(context.Background(), p.staleStepTimeout, time.Now())
			if err != nil {
				p.logger.Error("reclaim abandoned steps error", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				p.logger.Info("reclaimed abandoned run steps", slog.Int("count", n))
			}
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackStep(stepID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeSteps[stepID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackStep(stepID string) {
	p.activeMu.Lock()
	delete(p.activeSteps, stepID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveSteps() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for stepID, cancel := range p.activeSteps {
		p.logger.Warn("cancelling active step", slog.String("step_id", stepID))
		cancel()
	}
}
