package store

import "context"

// Store is the persistence interface for worktrees, workflows, and steps.
// Implementations: the SQLite store in this package and *postgres.Store.
// State persisted here survives process restart so the worktree registry can
// be reconciled against git's own worktree list after a crash.
type Store interface {
	// Worktrees
	SaveWorktree(ctx context.Context, wt Worktree) error
	GetWorktree(ctx context.Context, path string) (*Worktree, error)
	ListWorktrees(ctx context.Context) ([]Worktree, error)
	UpdateWorktreeStatus(ctx context.Context, path, status string) error
	DeleteWorktree(ctx context.Context, path string) error

	// Workflows
	CreateWorkflow(ctx context.Context, wf Workflow, steps []Step) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, limit int) ([]Workflow, error)
	UpdateWorkflowStatus(ctx context.Context, id string, upd WorkflowUpdate) error

	// Steps
	ListSteps(ctx context.Context, workflowID string) ([]Step, error)
	UpdateStep(ctx context.Context, workflowID, stepID string, upd StepUpdate) error

	// Lifecycle
	Close() error
}
