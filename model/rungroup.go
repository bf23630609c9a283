package model

import (
	"time"

	"github.com/soliplex/ingester/id"
)

// RunGroup is the unit of submission: one (workflow definition, parameter
// set) pair applied to every Document in a Batch. It owns one WorkflowRun
// per Document and completes when all of them reach a terminal status.
type RunGroup struct {
	ID                    id.RunGroupID     `json:"id"`
	Name                  string            `json:"name,omitempty"`
	WorkflowDefinitionID  string            `json:"workflow_definition_id"`
	ParamDefinitionID     string            `json:"param_definition_id"`
	BatchID               id.BatchID        `json:"batch_id,omitempty"`
	CreatedDate           time.Time         `json:"created_date"`
	StartDate             time.Time         `json:"start_date"`
	CompletedDate         *time.Time        `json:"completed_date,omitempty"`
	Status                RunStatus         `json:"status"`
	StatusDate            time.Time         `json:"status_date"`
	StatusMessage         string            `json:"status_message,omitempty"`
	Meta                  map[string]string `json:"status_meta"`
}

// Duration returns the elapsed time between StartDate and CompletedDate.
func (g *RunGroup) Duration() time.Duration {
	if g.CompletedDate == nil {
		return 0
	}
	return g.CompletedDate.Sub(g.StartDate)
}
