package model

import (
	"time"

	"github.com/soliplex/ingester/id"
)

// WorkflowRun is a single instance of a workflow that processes one
// Document within a RunGroup. Its RunSteps progress strictly linearly;
// at most one RunStep per WorkflowRun may be RUNNING at a time.
type WorkflowRun struct {
	ID                   id.WorkflowRunID `json:"id"`
	WorkflowDefinitionID string           `json:"workflow_definition_id"`
	RunGroupID           id.RunGroupID    `json:"run_group_id"`
	BatchID              id.BatchID       `json:"batch_id"`
	// DocHash is the content hash of the Document this run processes.
	DocHash       string            `json:"doc_id"`
	Priority      int               `json:"priority"`
	CreatedDate   time.Time         `json:"created_date"`
	StartDate     time.Time         `json:"start_date"`
	CompletedDate *time.Time        `json:"completed_date,omitempty"`
	Status        RunStatus         `json:"status"`
	StatusDate    time.Time         `json:"status_date"`
	StatusMessage string            `json:"status_message,omitempty"`
	Meta          map[string]string `json:"status_meta"`
	Params        map[string]any    `json:"run_params"`
}

// Duration returns the elapsed time between StartDate and CompletedDate.
func (r *WorkflowRun) Duration() time.Duration {
	if r.CompletedDate == nil {
		return 0
	}
	return r.CompletedDate.Sub(r.StartDate)
}
