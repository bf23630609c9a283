package model

import (
	"time"

	"github.com/soliplex/ingester/id"
)

// StepConfig is the resolved configuration for one step type within one
// ParameterSet. CumulativeConfig additionally carries every preceding
// step's config in the same WorkflowRun, precomputed at RunStep-insert
// time so handlers don't need to query backward through the run.
type StepConfig struct {
	ID                id.StepConfigID  `json:"id"`
	CreatedDate       time.Time        `json:"created_date"`
	StepType          WorkflowStepType `json:"step_type"`
	Config            map[string]any   `json:"config_json"`
	CumulativeConfig  map[string]any   `json:"cuml_config_json,omitempty"`
}

// ParameterSet is a named, ordered collection of StepConfig rows resolved
// from a parameter-set definition file. The Registry loads the definition
// files at startup; the Scheduler resolves a ParameterSet each time it
// inserts a RunStep and records the matching StepConfig's ID on the step.
// The store does not persist StepConfig rows.
type ParameterSet struct {
	ID          id.ParameterSetID `json:"id"`
	Name        string            `json:"name"`
	Meta        map[string]string `json:"meta,omitempty"`
	CreatedDate time.Time         `json:"created_date"`
	// Steps is ordered by WorkflowDefinition.ItemSteps order, one entry
	// per step type the owning workflow definition names.
	Steps []StepConfig `json:"steps"`
}

// ConfigFor returns the StepConfig for the given step type, if present.
func (p *ParameterSet) ConfigFor(t WorkflowStepType) (StepConfig, bool) {
	for _, sc := range p.Steps {
		if sc.StepType == t {
			return sc, true
		}
	}
	return StepConfig{}, false
}
