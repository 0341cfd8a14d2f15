package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSpecFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "wf.yaml")
	content := `name: refactor
branch: feature/refactor
max_parallel: 2
steps:
  - id: plan
    prompt: "Plan the refactor"
  - id: apply
    prompt: "Apply the plan"
    depends_on: [plan]
    timeout_sec: 300
    max_retries: 1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	spec, err := LoadSpecFile(path)
	if err != nil {
		t.Fatalf("LoadSpecFile: %v", err)
	}
	if spec.Name != "refactor" || spec.Branch != "feature/refactor" || spec.MaxParallel != 2 {
		t.Fatalf("spec: %+v", spec)
	}
	if len(spec.Steps) != 2 || spec.Steps[1].DependsOn[0] != "plan" || spec.Steps[1].TimeoutSec != 300 {
		t.Fatalf("steps: %+v", spec.Steps)
	}
}

func TestLoadSpecFile_errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if _, err := LoadSpecFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}

	noBranch := filepath.Join(dir, "nobranch.yaml")
	if err := os.WriteFile(noBranch, []byte("steps:\n  - id: a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSpecFile(noBranch); err == nil {
		t.Fatal("spec without branch accepted")
	}

	cyclic := filepath.Join(dir, "cycle.yaml")
	content := `branch: feature/x
steps:
  - id: a
    depends_on: [b]
  - id: b
    depends_on: [a]
`
	if err := os.WriteFile(cyclic, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSpecFile(cyclic); !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("err = %v, want ErrDependencyCycle", err)
	}
}
