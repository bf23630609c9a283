package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/soliplex/ingester/id"
	"github.com/soliplex/ingester/model"
	"github.com/soliplex/ingester/store"
)

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStringMap(s string, dst *map[string]string) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}

func unmarshalAnyMap(s string, dst *map[string]any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// ──────────────────────────────────────────────────
// BatchStore
// ──────────────────────────────────────────────────

func (e execer) CreateBatch(ctx context.Context, b *model.Batch) error {
	params, err := marshalJSON(b.Params)
	if err != nil {
		return fmt.Errorf("ingester/postgres: marshal batch params: %w", err)
	}
	_, err = e.q.Exec(ctx, `
		INSERT INTO batches (id, name, source, start_date, completed_date, params)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID.String(), b.Name, b.Source, b.StartDate, b.CompletedDate, params,
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: create batch: %w", err)
	}
	return nil
}

func (e execer) GetBatch(ctx context.Context, batchID id.BatchID) (*model.Batch, error) {
	row := e.q.QueryRow(ctx, `SELECT id, name, source, start_date, completed_date, params FROM batches WHERE id = $1`, batchID.String())
	return scanBatch(row)
}

func (e execer) ListBatches(ctx context.Context) ([]*model.Batch, error) {
	rows, err := e.q.Query(ctx, `SELECT id, name, source, start_date, completed_date, params FROM batches ORDER BY start_date ASC`)
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: list batches: %w", err)
	}
	defer rows.Close()

	var out []*model.Batch
	for rows.Next() {
		b, scanErr := scanBatch(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (e execer) CompleteBatch(ctx context.Context, batchID id.BatchID, completedAt time.Time) error {
	tag, err := e.q.Exec(ctx, `UPDATE batches SET completed_date = $2 WHERE id = $1 AND completed_date IS NULL`, batchID.String(), completedAt)
	if err != nil {
		return fmt.Errorf("ingester/postgres: complete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		_ = e.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM batches WHERE id = $1)`, batchID.String()).Scan(&exists)
		if !exists {
			return store.ErrBatchNotFound
		}
		return store.ErrBatchAlreadyCompleted
	}
	return nil
}

func scanBatch(row pgx.Row) (*model.Batch, error) {
	var (
		b        model.Batch
		idStr    string
		paramsJS string
	)
	err := row.Scan(&idStr, &b.Name, &b.Source, &b.StartDate, &b.CompletedDate, &paramsJS)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrBatchNotFound
		}
		return nil, fmt.Errorf("ingester/postgres: scan batch: %w", err)
	}
	parsed, err := id.ParseBatchID(idStr)
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: parse batch id %q: %w", idStr, err)
	}
	b.ID = parsed
	if err := unmarshalStringMap(paramsJS, &b.Params); err != nil {
		return nil, fmt.Errorf("ingester/postgres: unmarshal batch params: %w", err)
	}
	return &b, nil
}

// ──────────────────────────────────────────────────
// DocumentStore
// ──────────────────────────────────────────────────

func (e execer) UpsertDocument(ctx context.Context, d *model.Document) error {
	meta, err := marshalJSON(d.Meta)
	if err != nil {
		return fmt.Errorf("ingester/postgres: marshal document meta: %w", err)
	}
	_, err = e.q.Exec(ctx, `
		INSERT INTO documents (hash, mime_type, file_size, meta, rag_id, batch_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (hash) DO UPDATE SET
			mime_type = excluded.mime_type,
			file_size = excluded.file_size,
			meta = excluded.meta,
			rag_id = excluded.rag_id,
			batch_id = excluded.batch_id`,
		d.Hash, d.MimeType, d.FileSize, meta, d.RAGID, nullableID(d.BatchID),
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: upsert document: %w", err)
	}
	return nil
}

func (e execer) GetDocument(ctx context.Context, hash string) (*model.Document, error) {
	row := e.q.QueryRow(ctx, `SELECT hash, mime_type, file_size, meta, rag_id, batch_id FROM documents WHERE hash = $1`, hash)
	return scanDocument(row)
}

func (e execer) DeleteDocument(ctx context.Context, hash string) error {
	tag, err := e.q.Exec(ctx, `DELETE FROM documents WHERE hash = $1`, hash)
	if err != nil {
		return fmt.Errorf("ingester/postgres: delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrDocumentNotFound
	}
	return nil
}

func (e execer) DeleteOrphanedDocuments(ctx context.Context) (int, error) {
	tag, err := e.q.Exec(ctx, `
		DELETE FROM documents
		WHERE hash NOT IN (SELECT DISTINCT hash FROM document_uris)`)
	if err != nil {
		return 0, fmt.Errorf("ingester/postgres: delete orphaned documents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (e execer) FindDocumentURI(ctx context.Context, uri, source string) (*model.DocumentURI, error) {
	row := e.q.QueryRow(ctx, `SELECT id, hash, uri, source, version, batch_id FROM document_uris WHERE uri = $1 AND source = $2`, uri, source)
	return scanDocumentURI(row)
}

func (e execer) GetDocumentURI(ctx context.Context, uriID id.DocumentURIID) (*model.DocumentURI, error) {
	row := e.q.QueryRow(ctx, `SELECT id, hash, uri, source, version, batch_id FROM document_uris WHERE id = $1`, uriID.String())
	return scanDocumentURI(row)
}

func (e execer) UpsertDocumentURI(ctx context.Context, u *model.DocumentURI) error {
	_, err := e.q.Exec(ctx, `
		INSERT INTO document_uris (id, hash, uri, source, version, batch_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source, uri) DO UPDATE SET
			hash = excluded.hash, version = excluded.version, batch_id = excluded.batch_id`,
		u.ID.String(), u.Hash, u.URI, u.Source, u.Version, nullableID(u.BatchID),
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: upsert document uri: %w", err)
	}
	return nil
}

func (e execer) GetDocumentURIsByHash(ctx context.Context, hash string) ([]*model.DocumentURI, error) {
	rows, err := e.q.Query(ctx, `SELECT id, hash, uri, source, version, batch_id FROM document_uris WHERE hash = $1`, hash)
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: get document uris by hash: %w", err)
	}
	defer rows.Close()
	return collectDocumentURIs(rows)
}

func (e execer) GetURIsForSource(ctx context.Context, source string) ([]*model.DocumentURI, error) {
	rows, err := e.q.Query(ctx, `SELECT id, hash, uri, source, version, batch_id FROM document_uris WHERE source = $1`, source)
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: get uris for source: %w", err)
	}
	defer rows.Close()
	return collectDocumentURIs(rows)
}

func (e execer) GetURIsForBatch(ctx context.Context, batchID id.BatchID) ([]*model.DocumentURI, error) {
	rows, err := e.q.Query(ctx, `SELECT id, hash, uri, source, version, batch_id FROM document_uris WHERE batch_id = $1`, batchID.String())
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: get uris for batch: %w", err)
	}
	defer rows.Close()
	return collectDocumentURIs(rows)
}

func (e execer) DeleteDocumentURI(ctx context.Context, uriID id.DocumentURIID) (store.DeleteCounts, error) {
	var hash string
	err := e.q.QueryRow(ctx, `SELECT hash FROM document_uris WHERE id = $1`, uriID.String()).Scan(&hash)
	if err != nil {
		if isNoRows(err) {
			return store.DeleteCounts{}, store.ErrDocumentURINotFound
		}
		return store.DeleteCounts{}, fmt.Errorf("ingester/postgres: lookup document uri: %w", err)
	}

	tag, err := e.q.Exec(ctx, `DELETE FROM document_uris WHERE id = $1`, uriID.String())
	if err != nil {
		return store.DeleteCounts{}, fmt.Errorf("ingester/postgres: delete document uri: %w", err)
	}
	counts := store.DeleteCounts{DocumentURIs: int(tag.RowsAffected())}

	var stillReferenced bool
	err = e.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM document_uris WHERE hash = $1)`, hash).Scan(&stillReferenced)
	if err != nil {
		return counts, fmt.Errorf("ingester/postgres: check remaining references: %w", err)
	}
	if !stillReferenced {
		// The document is now orphaned: remove every WorkflowRun (and its
		// RunSteps and LifecycleHistory rows) that processed it before
		// deleting the Document itself. Artifact deletion for the hash is
		// the caller's responsibility, since the Artifact Store is a
		// separate abstraction from this Store.
		stepTag, stepErr := e.q.Exec(ctx, `
			DELETE FROM run_steps
			WHERE workflow_run_id IN (SELECT id FROM workflow_runs WHERE doc_hash = $1)`, hash)
		if stepErr != nil {
			return counts, fmt.Errorf("ingester/postgres: delete run steps for orphaned document: %w", stepErr)
		}
		counts.RunSteps = int(stepTag.RowsAffected())

		lcTag, lcErr := e.q.Exec(ctx, `
			DELETE FROM lifecycle_history
			WHERE workflow_run_id IN (SELECT id FROM workflow_runs WHERE doc_hash = $1)`, hash)
		if lcErr != nil {
			return counts, fmt.Errorf("ingester/postgres: delete lifecycle history for orphaned document: %w", lcErr)
		}
		counts.LifecycleHistory = int(lcTag.RowsAffected())

		runTag, runErr := e.q.Exec(ctx, `DELETE FROM workflow_runs WHERE doc_hash = $1`, hash)
		if runErr != nil {
			return counts, fmt.Errorf("ingester/postgres: delete workflow runs for orphaned document: %w", runErr)
		}
		counts.WorkflowRuns = int(runTag.RowsAffected())

		docTag, docErr := e.q.Exec(ctx, `DELETE FROM documents WHERE hash = $1`, hash)
		if docErr != nil {
			return counts, fmt.Errorf("ingester/postgres: delete now-orphaned document: %w", docErr)
		}
		counts.Documents = int(docTag.RowsAffected())
	}
	return counts, nil
}

func (e execer) AddURIHistory(ctx context.Context, h *model.DocumentURIHistory) error {
	meta, err := marshalJSON(h.Meta)
	if err != nil {
		return fmt.Errorf("ingester/postgres: marshal uri history meta: %w", err)
	}
	_, err = e.q.Exec(ctx, `
		INSERT INTO document_uri_history (id, doc_uri_id, version, hash, process_date, action, batch_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.ID.String(), h.DocURIID.String(), h.Version, h.Hash, h.ProcessDate, h.Action, nullableID(h.BatchID), meta,
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: add uri history: %w", err)
	}
	return nil
}

func (e execer) GetURIHistory(ctx context.Context, uriID id.DocumentURIID) ([]*model.DocumentURIHistory, error) {
	rows, err := e.q.Query(ctx, `
		SELECT id, doc_uri_id, version, hash, process_date, action, batch_id, meta
		FROM document_uri_history WHERE doc_uri_id = $1 ORDER BY process_date ASC`, uriID.String())
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: get uri history: %w", err)
	}
	defer rows.Close()

	var out []*model.DocumentURIHistory
	for rows.Next() {
		var (
			h             model.DocumentURIHistory
			idStr, uriStr string
			batchStr      *string
			metaJS        string
		)
		if scanErr := rows.Scan(&idStr, &uriStr, &h.Version, &h.Hash, &h.ProcessDate, &h.Action, &batchStr, &metaJS); scanErr != nil {
			return nil, fmt.Errorf("ingester/postgres: scan uri history: %w", scanErr)
		}
		h.ID, _ = id.Parse(idStr)
		h.DocURIID, _ = id.Parse(uriStr)
		if batchStr != nil {
			h.BatchID, _ = id.Parse(*batchStr)
		}
		if unmarshalErr := unmarshalStringMap(metaJS, &h.Meta); unmarshalErr != nil {
			return nil, fmt.Errorf("ingester/postgres: unmarshal uri history meta: %w", unmarshalErr)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var (
		d        model.Document
		metaJS   string
		ragID    *string
		batchStr *string
	)
	err := row.Scan(&d.Hash, &d.MimeType, &d.FileSize, &metaJS, &ragID, &batchStr)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("ingester/postgres: scan document: %w", err)
	}
	if ragID != nil {
		d.RAGID = *ragID
	}
	if batchStr != nil {
		d.BatchID, _ = id.Parse(*batchStr)
	}
	if err := unmarshalStringMap(metaJS, &d.Meta); err != nil {
		return nil, fmt.Errorf("ingester/postgres: unmarshal document meta: %w", err)
	}
	return &d, nil
}

func scanDocumentURI(row pgx.Row) (*model.DocumentURI, error) {
	var (
		u        model.DocumentURI
		idStr    string
		batchStr *string
	)
	err := row.Scan(&idStr, &u.Hash, &u.URI, &u.Source, &u.Version, &batchStr)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrDocumentURINotFound
		}
		return nil, fmt.Errorf("ingester/postgres: scan document uri: %w", err)
	}
	u.ID, _ = id.Parse(idStr)
	if batchStr != nil {
		u.BatchID, _ = id.Parse(*batchStr)
	}
	return &u, nil
}

func collectDocumentURIs(rows pgx.Rows) ([]*model.DocumentURI, error) {
	var out []*model.DocumentURI
	for rows.Next() {
		u, err := scanDocumentURI(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func nullableID(v id.ID) any {
	if v.IsNil() {
		return nil
	}
	return v.String()
}

// ──────────────────────────────────────────────────
// RunGroupStore
// ──────────────────────────────────────────────────

func (e execer) CreateRunGroup(ctx context.Context, g *model.RunGroup) error {
	meta, err := marshalJSON(g.Meta)
	if err != nil {
		return fmt.Errorf("ingester/postgres: marshal run group meta: %w", err)
	}
	_, err = e.q.Exec(ctx, `
		INSERT INTO run_groups (
			id, name, workflow_definition_id, param_definition_id, batch_id,
			created_date, start_date, completed_date, status, status_date, status_message, meta
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		g.ID.String(), g.Name, g.WorkflowDefinitionID, g.ParamDefinitionID, nullableID(g.BatchID),
		g.CreatedDate, g.StartDate, g.CompletedDate, string(g.Status), g.StatusDate, g.StatusMessage, meta,
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: create run group: %w", err)
	}
	return nil
}

func (e execer) GetRunGroup(ctx context.Context, groupID id.RunGroupID) (*model.RunGroup, error) {
	row := e.q.QueryRow(ctx, `
		SELECT id, name, workflow_definition_id, param_definition_id, batch_id,
		       created_date, start_date, completed_date, status, status_date, status_message, meta
		FROM run_groups WHERE id = $1`, groupID.String())
	return scanRunGroup(row)
}

func (e execer) ListRunGroups(ctx context.Context) ([]*model.RunGroup, error) {
	rows, err := e.q.Query(ctx, `
		SELECT id, name, workflow_definition_id, param_definition_id, batch_id,
		       created_date, start_date, completed_date, status, status_date, status_message, meta
		FROM run_groups ORDER BY created_date ASC`)
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: list run groups: %w", err)
	}
	defer rows.Close()

	var out []*model.RunGroup
	for rows.Next() {
		g, scanErr := scanRunGroup(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (e execer) ListRunGroupsForBatch(ctx context.Context, batchID id.BatchID) ([]*model.RunGroup, error) {
	rows, err := e.q.Query(ctx, `
		SELECT id, name, workflow_definition_id, param_definition_id, batch_id,
		       created_date, start_date, completed_date, status, status_date, status_message, meta
		FROM run_groups WHERE batch_id = $1 ORDER BY created_date ASC`, batchID.String())
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: list run groups for batch: %w", err)
	}
	defer rows.Close()

	var out []*model.RunGroup
	for rows.Next() {
		g, scanErr := scanRunGroup(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (e execer) UpdateRunGroupStatus(ctx context.Context, groupID id.RunGroupID, status model.RunStatus, message string, meta map[string]string, now time.Time) error {
	metaJS, err := marshalJSON(meta)
	if err != nil {
		return fmt.Errorf("ingester/postgres: marshal run group meta: %w", err)
	}
	var completedExpr string
	if status.Terminal() {
		completedExpr = `, completed_date = COALESCE(completed_date, $5)`
	}
	tag, err := e.q.Exec(ctx, `
		UPDATE run_groups SET status = $2, status_message = $3, status_date = $4, meta = $6`+completedExpr+`
		WHERE id = $1`,
		groupID.String(), string(status), message, now, now, metaJS,
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: update run group status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRunGroupNotFound
	}
	return nil
}

func (e execer) DeleteRunGroup(ctx context.Context, groupID id.RunGroupID) (store.DeleteCounts, error) {
	var counts store.DeleteCounts

	stepTag, err := e.q.Exec(ctx, `
		DELETE FROM run_steps WHERE workflow_run_id IN (SELECT id FROM workflow_runs WHERE run_group_id = $1)`, groupID.String())
	if err != nil {
		return counts, fmt.Errorf("ingester/postgres: delete run steps: %w", err)
	}
	counts.RunSteps = int(stepTag.RowsAffected())

	runTag, err := e.q.Exec(ctx, `DELETE FROM workflow_runs WHERE run_group_id = $1`, groupID.String())
	if err != nil {
		return counts, fmt.Errorf("ingester/postgres: delete workflow runs: %w", err)
	}
	counts.WorkflowRuns = int(runTag.RowsAffected())

	lcTag, err := e.q.Exec(ctx, `DELETE FROM lifecycle_history WHERE run_group_id = $1`, groupID.String())
	if err != nil {
		return counts, fmt.Errorf("ingester/postgres: delete lifecycle history: %w", err)
	}
	counts.LifecycleHistory = int(lcTag.RowsAffected())

	groupTag, err := e.q.Exec(ctx, `DELETE FROM run_groups WHERE id = $1`, groupID.String())
	if err != nil {
		return counts, fmt.Errorf("ingester/postgres: delete run group: %w", err)
	}
	if groupTag.RowsAffected() == 0 {
		return counts, store.ErrRunGroupNotFound
	}
	counts.RunGroups = int(groupTag.RowsAffected())
	return counts, nil
}

func scanRunGroup(row pgx.Row) (*model.RunGroup, error) {
	var (
		g         model.RunGroup
		idStr     string
		batchStr  *string
		statusStr string
		metaJS    string
	)
	err := row.Scan(&idStr, &g.Name, &g.WorkflowDefinitionID, &g.ParamDefinitionID, &batchStr,
		&g.CreatedDate, &g.StartDate, &g.CompletedDate, &statusStr, &g.StatusDate, &g.StatusMessage, &metaJS)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrRunGroupNotFound
		}
		return nil, fmt.Errorf("ingester/postgres: scan run group: %w", err)
	}
	g.ID, _ = id.Parse(idStr)
	if batchStr != nil {
		g.BatchID, _ = id.Parse(*batchStr)
	}
	g.Status = model.RunStatus(statusStr)
	if err := unmarshalStringMap(metaJS, &g.Meta); err != nil {
		return nil, fmt.Errorf("ingester/postgres: unmarshal run group meta: %w", err)
	}
	return &g, nil
}

// ──────────────────────────────────────────────────
// WorkflowRunStore
// ──────────────────────────────────────────────────

func (e execer) CreateWorkflowRun(ctx context.Context, r *model.WorkflowRun) error {
	meta, err := marshalJSON(r.Meta)
	if err != nil {
		return fmt.Errorf("ingester/postgres: marshal workflow run meta: %w", err)
	}
	params, err := marshalJSON(r.Params)
	if err != nil {
		return fmt.Errorf("ingester/postgres: marshal workflow run params: %w", err)
	}
	_, err = e.q.Exec(ctx, `
		INSERT INTO workflow_runs (
			id, workflow_definition_id, run_group_id, batch_id, doc_hash, priority,
			created_date, start_date, completed_date, status, status_date, status_message, meta, params
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID.String(), r.WorkflowDefinitionID, r.RunGroupID.String(), nullableID(r.BatchID), r.DocHash, r.Priority,
		r.CreatedDate, r.StartDate, r.CompletedDate, string(r.Status), r.StatusDate, r.StatusMessage, meta, params,
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: create workflow run: %w", err)
	}
	return nil
}

func (e execer) GetWorkflowRun(ctx context.Context, runID id.WorkflowRunID) (*model.WorkflowRun, error) {
	row := e.q.QueryRow(ctx, `
		SELECT id, workflow_definition_id, run_group_id, batch_id, doc_hash, priority,
		       created_date, start_date, completed_date, status, status_date, status_message, meta, params
		FROM workflow_runs WHERE id = $1`, runID.String())
	return scanWorkflowRun(row)
}

func (e execer) ListWorkflowRunsForGroup(ctx context.Context, groupID id.RunGroupID) ([]*model.WorkflowRun, error) {
	rows, err := e.q.Query(ctx, `
		SELECT id, workflow_definition_id, run_group_id, batch_id, doc_hash, priority,
		       created_date, start_date, completed_date, status, status_date, status_message, meta, params
		FROM workflow_runs WHERE run_group_id = $1`, groupID.String())
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: list workflow runs for group: %w", err)
	}
	defer rows.Close()

	var out []*model.WorkflowRun
	for rows.Next() {
		r, scanErr := scanWorkflowRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (e execer) UpdateWorkflowRunStatus(ctx context.Context, runID id.WorkflowRunID, status model.RunStatus, message string, meta map[string]string, now time.Time) error {
	metaJS, err := marshalJSON(meta)
	if err != nil {
		return fmt.Errorf("ingester/postgres: marshal workflow run meta: %w", err)
	}
	var completedExpr string
	if status.Terminal() {
		completedExpr = `, completed_date = COALESCE(completed_date, $5)`
	}
	tag, err := e.q.Exec(ctx, `
		UPDATE workflow_runs SET status = $2, status_message = $3, status_date = $4, meta = $6`+completedExpr+`
		WHERE id = $1`,
		runID.String(), string(status), message, now, now, metaJS,
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: update workflow run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrWorkflowRunNotFound
	}
	return nil
}

func scanWorkflowRun(row pgx.Row) (*model.WorkflowRun, error) {
	var (
		r             model.WorkflowRun
		idStr, grpStr string
		batchStr      *string
		statusStr     string
		metaJS        string
		paramsJS      string
	)
	err := row.Scan(&idStr, &r.WorkflowDefinitionID, &grpStr, &batchStr, &r.DocHash, &r.Priority,
		&r.CreatedDate, &r.StartDate, &r.CompletedDate, &statusStr, &r.StatusDate, &r.StatusMessage, &metaJS, &paramsJS)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrWorkflowRunNotFound
		}
		return nil, fmt.Errorf("ingester/postgres: scan workflow run: %w", err)
	}
	r.ID, _ = id.Parse(idStr)
	r.RunGroupID, _ = id.Parse(grpStr)
	if batchStr != nil {
		r.BatchID, _ = id.Parse(*batchStr)
	}
	r.Status = model.RunStatus(statusStr)
	if err := unmarshalStringMap(metaJS, &r.Meta); err != nil {
		return nil, fmt.Errorf("ingester/postgres: unmarshal workflow run meta: %w", err)
	}
	if err := unmarshalAnyMap(paramsJS, &r.Params); err != nil {
		return nil, fmt.Errorf("ingester/postgres: unmarshal workflow run params: %w", err)
	}
	return &r, nil
}

// ──────────────────────────────────────────────────
// RunStepStore
// ──────────────────────────────────────────────────

func (e execer) InsertRunStep(ctx context.Context, s *model.RunStep) error {
	meta, err := marshalJSON(s.Meta)
	if err != nil {
		return fmt.Errorf("ingester/postgres: marshal run step meta: %w", err)
	}
	_, err = e.q.Exec(ctx, `
		INSERT INTO run_steps (
			id, workflow_run_id, step_number, step_name, step_config_id, step_type, is_last_step,
			created_date, priority, start_date, status_date, completed_date,
			retry, retries, status, status_message, meta, worker_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		s.ID.String(), s.WorkflowRunID.String(), s.StepNumber, s.StepName, nullableID(s.StepConfigID), string(s.StepType), s.IsLastStep,
		s.CreatedDate, s.Priority, s.StartDate, s.StatusDate, s.CompletedDate,
		s.Retry, s.Retries, string(s.Status), s.StatusMessage, meta, s.WorkerID,
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: insert run step: %w", err)
	}
	return nil
}

const runStepColumns = `
	id, workflow_run_id, step_number, step_name, step_config_id, step_type, is_last_step,
	created_date, priority, start_date, status_date, completed_date,
	retry, retries, status, status_message, meta, worker_id`

func (e execer) GetRunStep(ctx context.Context, stepID id.RunStepID) (*model.RunStep, error) {
	row := e.q.QueryRow(ctx, `SELECT `+runStepColumns+` FROM run_steps WHERE id = $1`, stepID.String())
	return scanRunStep(row)
}

func (e execer) ListRunStepsForRun(ctx context.Context, runID id.WorkflowRunID) ([]*model.RunStep, error) {
	rows, err := e.q.Query(ctx, `SELECT `+runStepColumns+` FROM run_steps WHERE workflow_run_id = $1 ORDER BY step_number ASC`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: list run steps for run: %w", err)
	}
	defer rows.Close()

	var out []*model.RunStep
	for rows.Next() {
		s, scanErr := scanRunStep(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ClaimNextRunStep uses SELECT ... FOR UPDATE SKIP LOCKED inside an
// UPDATE ... RETURNING CTE, so concurrently-running worker processes
// never block on each other's claim and never double-claim the same
// step.
func (e execer) ClaimNextRunStep(ctx context.Context, workerID string, now time.Time) (*model.RunStep, error) {
	row := e.q.QueryRow(ctx, `
		WITH claimed AS (
			UPDATE run_steps
			SET status = 'RUNNING', start_date = $2, status_date = $2, worker_id = $1
			WHERE id = (
				SELECT id FROM run_steps
				WHERE status = 'PENDING' AND (status_date IS NULL OR status_date <= $2)
				ORDER BY priority DESC, created_date ASC, workflow_run_id ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING `+runStepColumns+`
		)
		SELECT * FROM claimed`,
		workerID, now,
	)
	s, err := scanRunStep(row)
	if err != nil {
		if errors.Is(err, store.ErrRunStepNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (e execer) UpdateRunStepStatus(ctx context.Context, stepID id.RunStepID, status model.RunStatus, message string, meta map[string]string, now time.Time) error {
	metaJS, err := marshalJSON(meta)
	if err != nil {
		return fmt.Errorf("ingester/postgres: marshal run step meta: %w", err)
	}
	var completedExpr string
	if status.Terminal() {
		completedExpr = `, completed_date = COALESCE(completed_date, $5)`
	}
	tag, err := e.q.Exec(ctx, `
		UPDATE run_steps SET status = $2, status_message = $3, status_date = $4, meta = $6`+completedExpr+`
		WHERE id = $1`,
		stepID.String(), string(status), message, now, now, metaJS,
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: update run step status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRunStepNotFound
	}
	return nil
}

func (e execer) ScheduleRunStepRetry(ctx context.Context, stepID id.RunStepID, nextAttemptAt time.Time, message string) error {
	tag, err := e.q.Exec(ctx, `
		UPDATE run_steps SET status = 'PENDING', status_message = $2, status_date = $3, retry = retry + 1
		WHERE id = $1`,
		stepID.String(), message, nextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: schedule run step retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRunStepNotFound
	}
	return nil
}

func (e execer) ResetRunStepForRetry(ctx context.Context, stepID id.RunStepID, message string, now time.Time) error {
	tag, err := e.q.Exec(ctx, `
		UPDATE run_steps SET status = 'PENDING', status_message = $2, status_date = $3, retry = 0, completed_date = NULL
		WHERE id = $1`,
		stepID.String(), message, now,
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: reset run step for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRunStepNotFound
	}
	return nil
}

func (e execer) ReclaimAbandonedSteps(ctx context.Context, timeout time.Duration, now time.Time) ([]*model.RunStep, error) {
	// A RUNNING step is abandoned if its worker never checked in at all,
	// or its last checkin is older than the threshold — matching the
	// memory backend, which reclaims on !ok || w.Dead(now, timeout).
	rows, err := e.q.Query(ctx, `
		UPDATE run_steps SET status = 'PENDING', status_date = $2, worker_id = ''
		WHERE status = 'RUNNING'
		  AND worker_id <> ''
		  AND NOT EXISTS (
		      SELECT 1 FROM worker_checkins wc
		      WHERE wc.id = run_steps.worker_id AND wc.last_checkin >= $1
		  )
		RETURNING `+runStepColumns,
		now.Add(-timeout), now,
	)
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: reclaim abandoned steps: %w", err)
	}
	defer rows.Close()

	var reclaimed []*model.RunStep
	for rows.Next() {
		s, err := scanRunStep(rows)
		if err != nil {
			return nil, fmt.Errorf("ingester/postgres: reclaim abandoned steps: %w", err)
		}
		reclaimed = append(reclaimed, s)
	}
	return reclaimed, rows.Err()
}

func scanRunStep(row pgx.Row) (*model.RunStep, error) {
	var (
		s                    model.RunStep
		idStr, runStr        string
		cfgStr               *string
		stepTypeStr          string
		statusStr            string
		metaJS               string
		workerStr            *string
	)
	err := row.Scan(
		&idStr, &runStr, &s.StepNumber, &s.StepName, &cfgStr, &stepTypeStr, &s.IsLastStep,
		&s.CreatedDate, &s.Priority, &s.StartDate, &s.StatusDate, &s.CompletedDate,
		&s.Retry, &s.Retries, &statusStr, &s.StatusMessage, &metaJS, &workerStr,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrRunStepNotFound
		}
		return nil, fmt.Errorf("ingester/postgres: scan run step: %w", err)
	}
	s.ID, _ = id.Parse(idStr)
	s.WorkflowRunID, _ = id.Parse(runStr)
	if cfgStr != nil {
		s.StepConfigID, _ = id.Parse(*cfgStr)
	}
	s.StepType = model.WorkflowStepType(stepTypeStr)
	s.Status = model.RunStatus(statusStr)
	if workerStr != nil {
		s.WorkerID = *workerStr
	}
	if err := unmarshalStringMap(metaJS, &s.Meta); err != nil {
		return nil, fmt.Errorf("ingester/postgres: unmarshal run step meta: %w", err)
	}
	return &s, nil
}

// ──────────────────────────────────────────────────
// WorkerStore
// ──────────────────────────────────────────────────

func (e execer) Checkin(ctx context.Context, workerID string, now time.Time) error {
	_, err := e.q.Exec(ctx, `
		INSERT INTO worker_checkins (id, first_checkin, last_checkin)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO UPDATE SET last_checkin = excluded.last_checkin`,
		workerID, now,
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: worker checkin: %w", err)
	}
	return nil
}

func (e execer) ListDeadWorkers(ctx context.Context, timeout time.Duration, now time.Time) ([]*model.WorkerCheckin, error) {
	rows, err := e.q.Query(ctx, `SELECT id, first_checkin, last_checkin FROM worker_checkins WHERE last_checkin < $1`, now.Add(-timeout))
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: list dead workers: %w", err)
	}
	defer rows.Close()
	return collectWorkers(rows)
}

func (e execer) ListWorkers(ctx context.Context) ([]*model.WorkerCheckin, error) {
	rows, err := e.q.Query(ctx, `SELECT id, first_checkin, last_checkin FROM worker_checkins`)
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: list workers: %w", err)
	}
	defer rows.Close()
	return collectWorkers(rows)
}

func collectWorkers(rows pgx.Rows) ([]*model.WorkerCheckin, error) {
	var out []*model.WorkerCheckin
	for rows.Next() {
		var w model.WorkerCheckin
		if err := rows.Scan(&w.ID, &w.FirstCheckin, &w.LastCheckin); err != nil {
			return nil, fmt.Errorf("ingester/postgres: scan worker checkin: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// ──────────────────────────────────────────────────
// LifecycleStore
// ──────────────────────────────────────────────────

func (e execer) RecordLifecycleEvent(ctx context.Context, h *model.LifecycleHistory) error {
	meta, err := marshalJSON(h.Meta)
	if err != nil {
		return fmt.Errorf("ingester/postgres: marshal lifecycle meta: %w", err)
	}
	_, err = e.q.Exec(ctx, `
		INSERT INTO lifecycle_history (
			id, event, run_group_id, workflow_run_id, step_id,
			start_date, completed_date, status, status_date, status_message, meta
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		h.ID.String(), string(h.Event), h.RunGroupID.String(), nullableID(h.WorkflowRunID), nullableID(h.StepID),
		h.StartDate, h.CompletedDate, string(h.Status), h.StatusDate, h.StatusMessage, meta,
	)
	if err != nil {
		return fmt.Errorf("ingester/postgres: record lifecycle event: %w", err)
	}
	return nil
}

func (e execer) ListLifecycleHistory(ctx context.Context, groupID id.RunGroupID) ([]*model.LifecycleHistory, error) {
	rows, err := e.q.Query(ctx, `
		SELECT id, event, run_group_id, workflow_run_id, step_id,
		       start_date, completed_date, status, status_date, status_message, meta
		FROM lifecycle_history WHERE run_group_id = $1 ORDER BY start_date ASC`, groupID.String())
	if err != nil {
		return nil, fmt.Errorf("ingester/postgres: list lifecycle history: %w", err)
	}
	defer rows.Close()

	var out []*model.LifecycleHistory
	for rows.Next() {
		var (
			h                      model.LifecycleHistory
			idStr, grpStr          string
			runStr, stepStr        *string
			eventStr, statusStr    string
			metaJS                 string
		)
		if scanErr := rows.Scan(&idStr, &eventStr, &grpStr, &runStr, &stepStr,
			&h.StartDate, &h.CompletedDate, &statusStr, &h.StatusDate, &h.StatusMessage, &metaJS); scanErr != nil {
			return nil, fmt.Errorf("ingester/postgres: scan lifecycle history: %w", scanErr)
		}
		h.ID, _ = id.Parse(idStr)
		h.RunGroupID, _ = id.Parse(grpStr)
		if runStr != nil {
			h.WorkflowRunID, _ = id.Parse(*runStr)
		}
		if stepStr != nil {
			h.StepID, _ = id.Parse(*stepStr)
		}
		h.Event = model.LifecycleEvent(eventStr)
		h.Status = model.RunStatus(statusStr)
		if err := unmarshalStringMap(metaJS, &h.Meta); err != nil {
			return nil, fmt.Errorf("ingester/postgres: unmarshal lifecycle meta: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}
