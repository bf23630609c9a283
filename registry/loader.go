package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadWorkflowDir reads every *.yaml/*.yml file in dir as a
// WorkflowDefinition, tagging each with origin. A missing directory is
// not an error — it is treated as empty, matching the original's
// optional workflow_dir/param_dir configuration.
func loadWorkflowDir(dir string, origin Origin) ([]WorkflowDefinition, error) {
	paths, err := yamlFiles(dir)
	if err != nil {
		return nil, err
	}

	defs := make([]WorkflowDefinition, 0, len(paths))
	for _, p := range paths {
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil, fmt.Errorf("registry: read %s: %w", p, readErr)
		}

		var def WorkflowDefinition
		if decodeErr := yaml.Unmarshal(data, &def); decodeErr != nil {
			return nil, fmt.Errorf("registry: decode workflow definition %s: %w", p, decodeErr)
		}
		if def.ID == "" {
			return nil, fmt.Errorf("registry: workflow definition %s: missing id", p)
		}
		def.Origin = origin
		def.FilePath = p
		defs = append(defs, def)
	}
	return defs, nil
}

// loadParameterSetDir reads every *.yaml/*.yml file in dir as a
// ParameterSetSpec, tagging each with origin.
func loadParameterSetDir(dir string, origin Origin) ([]ParameterSetSpec, error) {
	paths, err := yamlFiles(dir)
	if err != nil {
		return nil, err
	}

	specs := make([]ParameterSetSpec, 0, len(paths))
	for _, p := range paths {
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil, fmt.Errorf("registry: read %s: %w", p, readErr)
		}

		var spec ParameterSetSpec
		if decodeErr := yaml.Unmarshal(data, &spec); decodeErr != nil {
			return nil, fmt.Errorf("registry: decode parameter set %s: %w", p, decodeErr)
		}
		if spec.ID == "" {
			return nil, fmt.Errorf("registry: parameter set %s: missing id", p)
		}
		spec.Origin = origin
		spec.FilePath = p
		specs = append(specs, spec)
	}
	return specs, nil
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: read dir %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
