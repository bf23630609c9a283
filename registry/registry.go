package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/soliplex/ingester/id"
	"github.com/soliplex/ingester/model"
)

// Registry holds every loaded WorkflowDefinition and ParameterSetSpec,
// keyed by ID. It is safe for concurrent use after Load completes;
// built-in definitions are immutable once loaded — DeleteUserWorkflow
// refuses to remove them.
type Registry struct {
	mu          sync.RWMutex
	workflows   map[string]WorkflowDefinition
	paramSets   map[string]ParameterSetSpec
	builtinDir  string
	userDir     string
	paramBDir   string
	paramUDir   string
}

// New creates an empty Registry bound to the four configured
// directories (workflow builtin/user, parameter-set builtin/user).
func New(workflowBuiltinDir, workflowUserDir, paramBuiltinDir, paramUserDir string) *Registry {
	return &Registry{
		workflows:  make(map[string]WorkflowDefinition),
		paramSets:  make(map[string]ParameterSetSpec),
		builtinDir: workflowBuiltinDir,
		userDir:    workflowUserDir,
		paramBDir:  paramBuiltinDir,
		paramUDir:  paramUserDir,
	}
}

// Load reads both workflow directories and both parameter-set
// directories, populating the Registry. A duplicate ID across the two
// origins for the same definition kind is a hard error; Load leaves the
// Registry untouched (all-or-nothing) if it fails.
func (r *Registry) Load() error {
	builtinWF, err := loadWorkflowDir(r.builtinDir, OriginBuiltIn)
	if err != nil {
		return err
	}
	userWF, err := loadWorkflowDir(r.userDir, OriginUser)
	if err != nil {
		return err
	}
	workflows, err := mergeByID(builtinWF, userWF, func(d WorkflowDefinition) string { return d.ID })
	if err != nil {
		return fmt.Errorf("registry: workflow definitions: %w", err)
	}

	builtinPS, err := loadParameterSetDir(r.paramBDir, OriginBuiltIn)
	if err != nil {
		return err
	}
	userPS, err := loadParameterSetDir(r.paramUDir, OriginUser)
	if err != nil {
		return err
	}
	paramSets, err := mergeByID(builtinPS, userPS, func(p ParameterSetSpec) string { return p.ID })
	if err != nil {
		return fmt.Errorf("registry: parameter sets: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows = workflows
	r.paramSets = paramSets
	return nil
}

func mergeByID[T any](builtin, user []T, idOf func(T) string) (map[string]T, error) {
	merged := make(map[string]T, len(builtin)+len(user))
	for _, d := range builtin {
		merged[idOf(d)] = d
	}
	for _, d := range user {
		if _, exists := merged[idOf(d)]; exists {
			return nil, fmt.Errorf("duplicate id %q across builtin and user origins", idOf(d))
		}
		merged[idOf(d)] = d
	}
	return merged, nil
}

// GetWorkflow returns the WorkflowDefinition with the given ID.
func (r *Registry) GetWorkflow(workflowID string) (WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.workflows[workflowID]
	return d, ok
}

// GetParameterSet returns the ParameterSetSpec with the given ID.
func (r *Registry) GetParameterSet(paramID string) (ParameterSetSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.paramSets[paramID]
	return p, ok
}

// WorkflowNames returns every loaded workflow definition ID.
func (r *Registry) WorkflowNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	return names
}

// DeleteUserWorkflow removes a user-origin workflow definition. It
// returns an error if the ID does not exist or belongs to a built-in
// definition — built-in definitions are undeletable.
func (r *Registry) DeleteUserWorkflow(workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.workflows[workflowID]
	if !ok {
		return fmt.Errorf("registry: workflow %q not found", workflowID)
	}
	if d.Origin == OriginBuiltIn {
		return fmt.Errorf("registry: workflow %q is built-in and cannot be deleted", workflowID)
	}
	delete(r.workflows, workflowID)
	return nil
}

// ResolveParameterSet turns a ParameterSetSpec plus the WorkflowDefinition
// it will be applied to into an ordered model.ParameterSet: one
// model.StepConfig per step in the workflow's ItemSteps, each carrying
// that step's Config and the CumulativeConfig of every step before it.
// It is an error for the parameter set to be missing a config block for
// any step type the workflow names.
func ResolveParameterSet(wf WorkflowDefinition, spec ParameterSetSpec, now time.Time) (model.ParameterSet, error) {
	ps := model.ParameterSet{
		ID:          id.NewParameterSetID(),
		Name:        spec.Name,
		Meta:        spec.Meta,
		CreatedDate: now,
		Steps:       make([]model.StepConfig, 0, len(wf.ItemSteps)),
	}

	cumulative := map[string]any{}
	for _, step := range wf.ItemSteps {
		cfg, ok := spec.Config[step.StepType]
		if !ok {
			return model.ParameterSet{}, fmt.Errorf(
				"registry: parameter set %q has no config for step type %q required by workflow %q",
				spec.ID, step.StepType, wf.ID,
			)
		}

		stepCumulative := make(map[string]any, len(cumulative))
		for k, v := range cumulative {
			stepCumulative[k] = v
		}

		ps.Steps = append(ps.Steps, model.StepConfig{
			ID:               id.NewStepConfigID(),
			CreatedDate:      now,
			StepType:         step.StepType,
			Config:           cfg,
			CumulativeConfig: stepCumulative,
		})

		for k, v := range cfg {
			cumulative[k] = v
		}
	}

	return ps, nil
}
