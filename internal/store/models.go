// Package store defines the persistence interface and shared models for
// worktrees, workflows, and workflow steps.
package store

import "time"

// Worktree is one registry entry: an isolated checkout bound to a branch.
type Worktree struct {
	Path      string
	Branch    string
	BaseRef   string
	BaseSHA   string
	Status    string // active, stale, removed
	CreatedAt time.Time
}

// Workflow is a persisted workflow record.
type Workflow struct {
	ID           string
	Name         string
	Branch       string
	WorktreePath string
	Status       string // created, running, completed, failed, cancelled
	MaxParallel  int
	StartedAt    *time.Time
	EndedAt      *time.Time
	CreatedAt    time.Time
}

// Step is a persisted workflow step: the declaration plus execution state.
type Step struct {
	WorkflowID string
	StepID     string
	Prompt     string
	Model      string
	DependsOn  string // comma-separated step IDs
	TimeoutSec int
	MaxRetries int
	Status     string // pending, running, completed, failed, skipped, cancelled
	Attempts   int
	LastError  string
	StartedAt  *time.Time
	EndedAt    *time.Time
}

// WorkflowUpdate carries a workflow state transition.
type WorkflowUpdate struct {
	Status       string
	WorktreePath *string
	StartedAt    *time.Time
	EndedAt      *time.Time
}

// StepUpdate carries a step state transition.
type StepUpdate struct {
	Status    string
	Attempts  int
	LastError string
	StartedAt *time.Time
	EndedAt   *time.Time
}
