package model

import (
	"time"

	"github.com/soliplex/ingester/id"
)

// LifecycleHistory is one append-only row recording a group/run/step
// lifecycle transition. Rows are never updated or deleted except by
// cascading deletion of the owning RunGroup.
type LifecycleHistory struct {
	ID            id.LifecycleEventID `json:"id"`
	Event         LifecycleEvent      `json:"event"`
	RunGroupID    id.RunGroupID       `json:"run_group_id"`
	WorkflowRunID id.WorkflowRunID    `json:"workflow_run_id,omitempty"`
	StepID        id.RunStepID        `json:"step_id,omitempty"`
	StartDate     time.Time           `json:"start_date"`
	CompletedDate *time.Time          `json:"completed_date,omitempty"`
	Status        RunStatus           `json:"status"`
	StatusDate    time.Time           `json:"status_date"`
	StatusMessage string              `json:"status_message,omitempty"`
	Meta          map[string]string   `json:"status_meta"`
}
