package model

import (
	"time"

	"github.com/soliplex/ingester/id"
)

// RunStep is one step in a WorkflowRun. Steps are inserted one at a time
// by the Scheduler as the preceding step completes; a RunStep's
// StepNumber and StepName are fixed at insert time and never mutated.
type RunStep struct {
	ID              id.RunStepID     `json:"id"`
	WorkflowRunID   id.WorkflowRunID `json:"workflow_run_id"`
	StepNumber      int              `json:"workflow_step_number"`
	StepName        string           `json:"workflow_step_name"`
	StepConfigID    id.StepConfigID  `json:"step_config_id"`
	StepType        WorkflowStepType `json:"step_type"`
	IsLastStep      bool             `json:"is_last_step"`
	CreatedDate     time.Time        `json:"created_date"`
	Priority        int              `json:"priority"`
	StartDate       *time.Time       `json:"start_date,omitempty"`
	StatusDate      *time.Time       `json:"status_date,omitempty"`
	CompletedDate   *time.Time       `json:"completed_date,omitempty"`
	Retry           int               `json:"retry"`
	Retries         int               `json:"retries"`
	Status          RunStatus         `json:"status"`
	StatusMessage   string            `json:"status_message,omitempty"`
	Meta            map[string]string `json:"status_meta"`
	// WorkerID is the ID of the worker process currently (or most
	// recently) claiming this step. Empty when never claimed.
	WorkerID string `json:"worker_id,omitempty"`
}

// Duration returns the elapsed time between StartDate and CompletedDate.
// Returns zero if either is unset.
func (s *RunStep) Duration() time.Duration {
	if s.StartDate == nil || s.CompletedDate == nil {
		return 0
	}
	return s.CompletedDate.Sub(*s.StartDate)
}

// RetriesExhausted reports whether Retry has reached Retries, meaning the
// next ERROR outcome must transition this step to FAILED rather than
// scheduling another retry.
func (s *RunStep) RetriesExhausted() bool {
	return s.Retry >= s.Retries
}

// Claimable reports whether this step is eligible to be claimed by a
// worker: PENDING, and due (its StatusDate, if set by a prior retry
// schedule, is not in the future).
func (s *RunStep) Claimable(now time.Time) bool {
	if s.Status != StatusPending {
		return false
	}
	if s.StatusDate != nil && s.StatusDate.After(now) {
		return false
	}
	return true
}
