// Package memory is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit tests and local
// development without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soliplex/ingester/id"
	"github.com/soliplex/ingester/model"
	"github.com/soliplex/ingester/store"
)

// Store is the in-memory backend. The whole store is guarded by one
// mutex, which each method holds for its own duration.
type Store struct {
	mu sync.Mutex

	batches   map[string]*model.Batch
	documents map[string]*model.Document
	uris      map[string]*model.DocumentURI
	uriByKey  map[string]string // "source\x00uri" -> uri id string
	uriHist   map[string][]*model.DocumentURIHistory
	groups    map[string]*model.RunGroup
	runs      map[string]*model.WorkflowRun
	runsByGrp map[string][]string
	steps     map[string]*model.RunStep
	stepsByRun map[string][]string
	workers   map[string]*model.WorkerCheckin
	lifecycle map[string][]*model.LifecycleHistory
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		batches:    make(map[string]*model.Batch),
		documents:  make(map[string]*model.Document),
		uris:       make(map[string]*model.DocumentURI),
		uriByKey:   make(map[string]string),
		uriHist:    make(map[string][]*model.DocumentURIHistory),
		groups:     make(map[string]*model.RunGroup),
		runs:       make(map[string]*model.WorkflowRun),
		runsByGrp:  make(map[string][]string),
		steps:      make(map[string]*model.RunStep),
		stepsByRun: make(map[string][]string),
		workers:    make(map[string]*model.WorkerCheckin),
		lifecycle:  make(map[string][]*model.LifecycleHistory),
	}
}

var _ store.Store = (*Store)(nil)

func uriKey(source, uri string) string { return source + "\x00" + uri }

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// WithTx runs fn directly against the same Store. The mutex is taken per
// method call, not for fn's whole duration, so the calls inside fn are
// not isolated from concurrent callers, and nothing is rolled back when
// fn returns an error.
func (m *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, m)
}

// ──────────────────────────────────────────────────
// BatchStore
// ──────────────────────────────────────────────────

func (m *Store) CreateBatch(_ context.Context, b *model.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.batches[b.ID.String()] = &cp
	return nil
}

func (m *Store) GetBatch(_ context.Context, batchID id.BatchID) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID.String()]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Store) ListBatches(_ context.Context) ([]*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *Store) CompleteBatch(_ context.Context, batchID id.BatchID, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID.String()]
	if !ok {
		return store.ErrBatchNotFound
	}
	if b.CompletedDate != nil {
		return store.ErrBatchAlreadyCompleted
	}
	t := completedAt
	b.CompletedDate = &t
	return nil
}

// ──────────────────────────────────────────────────
// DocumentStore
// ──────────────────────────────────────────────────

func (m *Store) UpsertDocument(_ context.Context, d *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.documents[d.Hash] = &cp
	return nil
}

func (m *Store) GetDocument(_ context.Context, hash string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[hash]
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Store) DeleteDocument(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[hash]; !ok {
		return store.ErrDocumentNotFound
	}
	delete(m.documents, hash)
	return nil
}

func (m *Store) DeleteOrphanedDocuments(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	referenced := make(map[string]bool)
	for _, u := range m.uris {
		referenced[u.Hash] = true
	}

	count := 0
	for hash := range m.documents {
		if !referenced[hash] {
			delete(m.documents, hash)
			count++
		}
	}
	return count, nil
}

func (m *Store) FindDocumentURI(_ context.Context, uri, source string) (*model.DocumentURI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uriID, ok := m.uriByKey[uriKey(source, uri)]
	if !ok {
		return nil, store.ErrDocumentURINotFound
	}
	cp := *m.uris[uriID]
	return &cp, nil
}

func (m *Store) GetDocumentURI(_ context.Context, uriID id.DocumentURIID) (*model.DocumentURI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uris[uriID.String()]
	if !ok {
		return nil, store.ErrDocumentURINotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Store) UpsertDocumentURI(_ context.Context, u *model.DocumentURI) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.uris[u.ID.String()] = &cp
	m.uriByKey[uriKey(u.Source, u.URI)] = u.ID.String()
	return nil
}

func (m *Store) GetDocumentURIsByHash(_ context.Context, hash string) ([]*model.DocumentURI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DocumentURI
	for _, u := range m.uris {
		if u.Hash == hash {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Store) GetURIsForSource(_ context.Context, source string) ([]*model.DocumentURI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DocumentURI
	for _, u := range m.uris {
		if u.Source == source {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Store) GetURIsForBatch(_ context.Context, batchID id.BatchID) ([]*model.DocumentURI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DocumentURI
	for _, u := range m.uris {
		if u.BatchID == batchID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Store) DeleteDocumentURI(_ context.Context, uriID id.DocumentURIID) (store.DeleteCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.uris[uriID.String()]
	if !ok {
		return store.DeleteCounts{}, store.ErrDocumentURINotFound
	}

	delete(m.uris, uriID.String())
	delete(m.uriByKey, uriKey(u.Source, u.URI))
	delete(m.uriHist, uriID.String())

	counts := store.DeleteCounts{DocumentURIs: 1}

	stillReferenced := false
	for _, other := range m.uris {
		if other.Hash == u.Hash {
			stillReferenced = true
			break
		}
	}
	if !stillReferenced {
		if _, exists := m.documents[u.Hash]; exists {
			delete(m.documents, u.Hash)
			counts.Documents = 1
		}

		// The document is now orphaned: remove every WorkflowRun (and its
		// RunSteps and LifecycleHistory rows) that processed it. Artifact
		// deletion for the hash is the caller's responsibility, since the
		// Artifact Store is a separate abstraction from this Store.
		for runID, run := range m.runs {
			if run.DocHash != u.Hash {
				continue
			}
			for _, stepID := range m.stepsByRun[runID] {
				delete(m.steps, stepID)
				counts.RunSteps++
			}
			delete(m.stepsByRun, runID)

			grpKey := run.RunGroupID.String()
			kept := m.lifecycle[grpKey][:0]
			for _, h := range m.lifecycle[grpKey] {
				if h.WorkflowRunID == run.ID {
					counts.LifecycleHistory++
					continue
				}
				kept = append(kept, h)
			}
			m.lifecycle[grpKey] = kept

			if runIDs := m.runsByGrp[grpKey]; len(runIDs) > 0 {
				for i, rid := range runIDs {
					if rid == runID {
						m.runsByGrp[grpKey] = append(runIDs[:i], runIDs[i+1:]...)
						break
					}
				}
			}
			delete(m.runs, runID)
			counts.WorkflowRuns++
		}
	}

	return counts, nil
}

func (m *Store) AddURIHistory(_ context.Context, h *model.DocumentURIHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	key := h.DocURIID.String()
	m.uriHist[key] = append(m.uriHist[key], &cp)
	return nil
}

func (m *Store) GetURIHistory(_ context.Context, uriID id.DocumentURIID) ([]*model.DocumentURIHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.uriHist[uriID.String()]
	out := make([]*model.DocumentURIHistory, len(rows))
	for i, r := range rows {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// RunGroupStore
// ──────────────────────────────────────────────────

func (m *Store) CreateRunGroup(_ context.Context, g *model.RunGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.groups[g.ID.String()] = &cp
	return nil
}

func (m *Store) GetRunGroup(_ context.Context, groupID id.RunGroupID) (*model.RunGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID.String()]
	if !ok {
		return nil, store.ErrRunGroupNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *Store) ListRunGroups(_ context.Context) ([]*model.RunGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.RunGroup, 0, len(m.groups))
	for _, g := range m.groups {
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedDate.Before(out[j].CreatedDate) })
	return out, nil
}

func (m *Store) ListRunGroupsForBatch(_ context.Context, batchID id.BatchID) ([]*model.RunGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RunGroup
	for _, g := range m.groups {
		if g.BatchID == batchID {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedDate.Before(out[j].CreatedDate) })
	return out, nil
}

func (m *Store) UpdateRunGroupStatus(_ context.Context, groupID id.RunGroupID, status model.RunStatus, message string, meta map[string]string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID.String()]
	if !ok {
		return store.ErrRunGroupNotFound
	}
	g.Status = status
	g.StatusMessage = message
	g.StatusDate = now
	if meta != nil {
		g.Meta = meta
	}
	if status.Terminal() && g.CompletedDate == nil {
		g.CompletedDate = &now
	}
	return nil
}

func (m *Store) DeleteRunGroup(_ context.Context, groupID id.RunGroupID) (store.DeleteCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[groupID.String()]; !ok {
		return store.DeleteCounts{}, store.ErrRunGroupNotFound
	}

	counts := store.DeleteCounts{}
	runIDs := m.runsByGrp[groupID.String()]
	for _, runID := range runIDs {
		stepIDs := m.stepsByRun[runID]
		for _, stepID := range stepIDs {
			delete(m.steps, stepID)
			counts.RunSteps++
		}
		delete(m.stepsByRun, runID)
		delete(m.runs, runID)
		counts.WorkflowRuns++
	}
	delete(m.runsByGrp, groupID.String())

	counts.LifecycleHistory = len(m.lifecycle[groupID.String()])
	delete(m.lifecycle, groupID.String())

	delete(m.groups, groupID.String())
	counts.RunGroups = 1

	return counts, nil
}

// ──────────────────────────────────────────────────
// WorkflowRunStore
// ──────────────────────────────────────────────────

func (m *Store) CreateWorkflowRun(_ context.Context, r *model.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.runs[r.ID.String()] = &cp
	m.runsByGrp[r.RunGroupID.String()] = append(m.runsByGrp[r.RunGroupID.String()], r.ID.String())
	return nil
}

func (m *Store) GetWorkflowRun(_ context.Context, runID id.WorkflowRunID) (*model.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, store.ErrWorkflowRunNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Store) ListWorkflowRunsForGroup(_ context.Context, groupID id.RunGroupID) ([]*model.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.runsByGrp[groupID.String()]
	out := make([]*model.WorkflowRun, 0, len(ids))
	for _, rid := range ids {
		cp := *m.runs[rid]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Store) UpdateWorkflowRunStatus(_ context.Context, runID id.WorkflowRunID, status model.RunStatus, message string, meta map[string]string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID.String()]
	if !ok {
		return store.ErrWorkflowRunNotFound
	}
	r.Status = status
	r.StatusMessage = message
	r.StatusDate = now
	if meta != nil {
		r.Meta = meta
	}
	if status.Terminal() && r.CompletedDate == nil {
		r.CompletedDate = &now
	}
	return nil
}

// ──────────────────────────────────────────────────
// RunStepStore
// ──────────────────────────────────────────────────

func (m *Store) InsertRunStep(_ context.Context, s *model.RunStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.steps[s.ID.String()] = &cp
	m.stepsByRun[s.WorkflowRunID.String()] = append(m.stepsByRun[s.WorkflowRunID.String()], s.ID.String())
	return nil
}

func (m *Store) GetRunStep(_ context.Context, stepID id.RunStepID) (*model.RunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[stepID.String()]
	if !ok {
		return nil, store.ErrRunStepNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Store) ListRunStepsForRun(_ context.Context, runID id.WorkflowRunID) ([]*model.RunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.stepsByRun[runID.String()]
	out := make([]*model.RunStep, 0, len(ids))
	for _, sid := range ids {
		cp := *m.steps[sid]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (m *Store) ClaimNextRunStep(_ context.Context, workerID string, now time.Time) (*model.RunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*model.RunStep
	for _, s := range m.steps {
		if s.Claimable(now) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedDate.Equal(b.CreatedDate) {
			return a.CreatedDate.Before(b.CreatedDate)
		}
		if a.WorkflowRunID.String() != b.WorkflowRunID.String() {
			return a.WorkflowRunID.String() < b.WorkflowRunID.String()
		}
		return a.ID.String() < b.ID.String()
	})

	s := candidates[0]
	s.Status = model.StatusRunning
	t := now
	s.StartDate = &t
	s.StatusDate = &t
	s.WorkerID = workerID

	cp := *s
	return &cp, nil
}

func (m *Store) UpdateRunStepStatus(_ context.Context, stepID id.RunStepID, status model.RunStatus, message string, meta map[string]string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[stepID.String()]
	if !ok {
		return store.ErrRunStepNotFound
	}
	s.Status = status
	s.StatusMessage = message
	t := now
	s.StatusDate = &t
	if meta != nil {
		s.Meta = meta
	}
	if status.Terminal() && s.CompletedDate == nil {
		s.CompletedDate = &t
	}
	return nil
}

func (m *Store) ScheduleRunStepRetry(_ context.Context, stepID id.RunStepID, nextAttemptAt time.Time, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[stepID.String()]
	if !ok {
		return store.ErrRunStepNotFound
	}
	s.Status = model.StatusPending
	s.StatusMessage = message
	t := nextAttemptAt
	s.StatusDate = &t
	s.Retry++
	return nil
}

func (m *Store) ResetRunStepForRetry(_ context.Context, stepID id.RunStepID, message string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[stepID.String()]
	if !ok {
		return store.ErrRunStepNotFound
	}
	s.Status = model.StatusPending
	s.StatusMessage = message
	t := now
	s.StatusDate = &t
	s.Retry = 0
	s.CompletedDate = nil
	return nil
}

func (m *Store) ReclaimAbandonedSteps(_ context.Context, timeout time.Duration, now time.Time) ([]*model.RunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reclaimed []*model.RunStep
	for _, s := range m.steps {
		if s.Status != model.StatusRunning || s.WorkerID == "" {
			continue
		}
		w, ok := m.workers[s.WorkerID]
		if !ok || w.Dead(now, timeout) {
			s.Status = model.StatusPending
			s.WorkerID = ""
			t := now
			s.StatusDate = &t
			cp := *s
			reclaimed = append(reclaimed, &cp)
		}
	}
	return reclaimed, nil
}

// ──────────────────────────────────────────────────
// WorkerStore
// ──────────────────────────────────────────────────

func (m *Store) Checkin(_ context.Context, workerID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		m.workers[workerID] = &model.WorkerCheckin{ID: workerID, FirstCheckin: now, LastCheckin: now}
		return nil
	}
	w.LastCheckin = now
	return nil
}

func (m *Store) ListDeadWorkers(_ context.Context, timeout time.Duration, now time.Time) ([]*model.WorkerCheckin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.WorkerCheckin
	for _, w := range m.workers {
		if w.Dead(now, timeout) {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Store) ListWorkers(_ context.Context) ([]*model.WorkerCheckin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.WorkerCheckin, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// LifecycleStore
// ──────────────────────────────────────────────────

func (m *Store) RecordLifecycleEvent(_ context.Context, h *model.LifecycleHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.lifecycle[h.RunGroupID.String()] = append(m.lifecycle[h.RunGroupID.String()], &cp)
	return nil
}

func (m *Store) ListLifecycleHistory(_ context.Context, groupID id.RunGroupID) ([]*model.LifecycleHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.lifecycle[groupID.String()]
	out := make([]*model.LifecycleHistory, len(rows))
	for i, r := range rows {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}
