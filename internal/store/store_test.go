package store

import (
	"context"
	"testing"
	"time"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWorktreeRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	wt := Worktree{
		Path:      "/tmp/wt1",
		Branch:    "feature/a",
		BaseRef:   "main",
		BaseSHA:   "abc123",
		Status:    "active",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveWorktree(ctx, wt); err != nil {
		t.Fatalf("SaveWorktree: %v", err)
	}

	got, err := s.GetWorktree(ctx, "/tmp/wt1")
	if err != nil {
		t.Fatalf("GetWorktree: %v", err)
	}
	if got == nil || got.Branch != "feature/a" || got.Status != "active" {
		t.Fatalf("GetWorktree: got %+v", got)
	}

	missing, err := s.GetWorktree(ctx, "/tmp/nope")
	if err != nil {
		t.Fatalf("GetWorktree missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unregistered path, got %+v", missing)
	}

	if err := s.UpdateWorktreeStatus(ctx, "/tmp/wt1", "stale"); err != nil {
		t.Fatalf("UpdateWorktreeStatus: %v", err)
	}
	all, err := s.ListWorktrees(ctx)
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	if len(all) != 1 || all[0].Status != "stale" {
		t.Fatalf("ListWorktrees: got %+v", all)
	}

	if err := s.DeleteWorktree(ctx, "/tmp/wt1"); err != nil {
		t.Fatalf("DeleteWorktree: %v", err)
	}
	all, _ = s.ListWorktrees(ctx)
	if len(all) != 0 {
		t.Fatalf("expected empty list after delete, got %+v", all)
	}
}

func TestWorktree_activeBranchUnique(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.SaveWorktree(ctx, Worktree{Path: "/a", Branch: "b1", Status: "active", CreatedAt: now}); err != nil {
		t.Fatalf("SaveWorktree: %v", err)
	}
	// Second active worktree on the same branch violates the partial unique index.
	if err := s.SaveWorktree(ctx, Worktree{Path: "/b", Branch: "b1", Status: "active", CreatedAt: now}); err == nil {
		t.Fatal("expected unique violation for second active worktree on branch b1")
	}
	// A removed entry on the same branch is allowed.
	if err := s.SaveWorktree(ctx, Worktree{Path: "/c", Branch: "b1", Status: "removed", CreatedAt: now}); err != nil {
		t.Fatalf("SaveWorktree removed: %v", err)
	}
}

func TestWorkflowAndSteps(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	wf := Workflow{
		ID:        "wf-1",
		Name:      "demo",
		Branch:    "feature/x",
		Status:    "created",
		CreatedAt: now,
	}
	steps := []Step{
		{WorkflowID: "wf-1", StepID: "plan", Prompt: "plan it", Status: "pending"},
		{WorkflowID: "wf-1", StepID: "build", Prompt: "build it", DependsOn: "plan", Status: "pending", MaxRetries: 2},
	}
	if err := s.CreateWorkflow(ctx, wf, steps); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	got, err := s.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got == nil || got.Status != "created" || got.Branch != "feature/x" {
		t.Fatalf("GetWorkflow: got %+v", got)
	}

	missing, err := s.GetWorkflow(ctx, "wf-none")
	if err != nil {
		t.Fatalf("GetWorkflow missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil workflow, got %+v", missing)
	}

	listed, err := s.ListSteps(ctx, "wf-1")
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(listed) != 2 || listed[0].StepID != "plan" || listed[1].DependsOn != "plan" {
		t.Fatalf("ListSteps: got %+v", listed)
	}

	started := now
	if err := s.UpdateStep(ctx, "wf-1", "build", StepUpdate{Status: "running", Attempts: 1, StartedAt: &started}); err != nil {
		t.Fatalf("UpdateStep: %v", err)
	}
	listed, _ = s.ListSteps(ctx, "wf-1")
	if listed[1].Status != "running" || listed[1].Attempts != 1 || listed[1].StartedAt == nil {
		t.Fatalf("UpdateStep not applied: %+v", listed[1])
	}

	wtPath := "/tmp/wt"
	ended := now.Add(time.Minute)
	if err := s.UpdateWorkflowStatus(ctx, "wf-1", WorkflowUpdate{
		Status: "completed", WorktreePath: &wtPath, StartedAt: &started, EndedAt: &ended,
	}); err != nil {
		t.Fatalf("UpdateWorkflowStatus: %v", err)
	}
	got, _ = s.GetWorkflow(ctx, "wf-1")
	if got.Status != "completed" || got.WorktreePath != "/tmp/wt" || got.EndedAt == nil {
		t.Fatalf("workflow update not applied: %+v", got)
	}

	wfs, err := s.ListWorkflows(ctx, 0)
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	if len(wfs) != 1 {
		t.Fatalf("ListWorkflows: got %d", len(wfs))
	}
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	if err := EnsureSchema(home); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	// Second run is a no-op (migrations already applied).
	if err := EnsureSchema(home); err != nil {
		t.Fatalf("EnsureSchema again: %v", err)
	}
}
