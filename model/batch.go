package model

import (
	"time"

	"github.com/soliplex/ingester/id"
)

// Batch is a named group of documents submitted together from one source.
// A Batch does not itself carry workflow state; each document ingested
// under it gets its own WorkflowRun inside a RunGroup.
type Batch struct {
	ID            id.BatchID        `json:"id"`
	Name          string            `json:"name"`
	Source        string            `json:"source"`
	StartDate     time.Time         `json:"start_date"`
	CompletedDate *time.Time        `json:"completed_date,omitempty"`
	Params        map[string]string `json:"batch_params"`
}

// Duration returns the elapsed time between StartDate and CompletedDate.
// It returns zero if the batch has not completed yet.
func (b *Batch) Duration() time.Duration {
	if b.CompletedDate == nil {
		return 0
	}
	return b.CompletedDate.Sub(b.StartDate)
}

// Completed reports whether the batch has a CompletedDate set.
func (b *Batch) Completed() bool {
	return b.CompletedDate != nil
}
