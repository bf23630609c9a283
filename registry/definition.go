// Package registry loads workflow and parameter-set definitions from
// declarative YAML files in two configured directories — one for
// built-in definitions (immutable, undeletable) and one for
// user-uploaded definitions (freely modifiable). A definition ID
// colliding across the two origins is a hard error at load time.
package registry

import "github.com/soliplex/ingester/model"

// Origin names where a definition was loaded from.
type Origin string

const (
	// OriginBuiltIn marks a definition loaded from the built-in
	// directory. Built-in definitions cannot be deleted or overwritten
	// by a later load of a user definition with the same ID.
	OriginBuiltIn Origin = "builtin"
	// OriginUser marks a definition loaded from the user directory.
	OriginUser Origin = "user"
)

// EventHandlerSpec names one handler invocation: the registered handler
// name to call, how many attempts it gets, and the static parameters
// to pass it. Handler is a name looked up in a handler.Registry at
// dispatch time, not an import path.
type EventHandlerSpec struct {
	Name       string         `yaml:"name"`
	Handler    string         `yaml:"handler"`
	Retries    int            `yaml:"retries"`
	Parameters map[string]any `yaml:"parameters"`
}

// StepSpec is one entry in a WorkflowDefinition's ordered step sequence.
type StepSpec struct {
	StepType   model.WorkflowStepType `yaml:"step_type"`
	Name       string                 `yaml:"name"`
	Handler    string                 `yaml:"handler"`
	Retries    int                    `yaml:"retries"`
	Parameters map[string]any         `yaml:"parameters"`
}

// WorkflowDefinition is the declarative shape of one workflow: an
// ordered list of steps applied to every Document in a RunGroup, plus
// optional lifecycle event handlers fired at group/item/step
// transitions.
type WorkflowDefinition struct {
	ID              string                                      `yaml:"id"`
	Name            string                                      `yaml:"name"`
	Meta            map[string]string                           `yaml:"meta"`
	ItemSteps       []StepSpec                                  `yaml:"item_steps"`
	LifecycleEvents map[model.LifecycleEvent][]EventHandlerSpec `yaml:"lifecycle_events"`

	Origin   Origin `yaml:"-"`
	FilePath string `yaml:"-"`
}

// StepByType returns the first StepSpec with the given type, and false
// if the WorkflowDefinition names no step of that type.
func (d *WorkflowDefinition) StepByType(t model.WorkflowStepType) (StepSpec, bool) {
	for _, s := range d.ItemSteps {
		if s.StepType == t {
			return s, true
		}
	}
	return StepSpec{}, false
}

// ParameterSetSpec is the declarative shape of one parameter set: a
// per-step-type config block, resolved at RunGroup creation time into
// concrete model.StepConfig rows.
type ParameterSetSpec struct {
	ID     string                                    `yaml:"id"`
	Name   string                                    `yaml:"name"`
	Meta   map[string]string                         `yaml:"meta"`
	Config map[model.WorkflowStepType]map[string]any `yaml:"config"`

	Origin   Origin `yaml:"-"`
	FilePath string `yaml:"-"`
}
