package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MaciWP/treeflow/pkg/models"
)

// LoadSpecFile reads a workflow definition from a YAML file and validates its
// dependency graph. The file mirrors the POST /v1/workflows payload.
func LoadSpecFile(path string) (*models.WorkflowSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	var spec models.WorkflowSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse workflow file %s: %w", path, err)
	}
	if err := ValidateSpec(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ValidateSpec checks the fields the executor and worktree manager rely on.
func ValidateSpec(spec *models.WorkflowSpec) error {
	if spec.Branch == "" {
		return fmt.Errorf("workflow has no branch")
	}
	_, err := buildGraph(spec.Steps)
	return err
}
