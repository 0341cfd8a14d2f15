// Package models provides shared types for the Treeflow HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// Worktree is an isolated checkout bound to exactly one branch.
type Worktree struct {
	Path      string    `json:"path"`
	Branch    string    `json:"branch"`
	BaseRef   string    `json:"base_ref,omitempty"`
	BaseSHA   string    `json:"base_sha,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// StepSpec declares one agent invocation within a workflow.
type StepSpec struct {
	ID         string   `json:"id" yaml:"id"`
	Prompt     string   `json:"prompt" yaml:"prompt"`
	Model      string   `json:"model,omitempty" yaml:"model,omitempty"`
	DependsOn  []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	TimeoutSec int      `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
	MaxRetries int      `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// WorkflowSpec is the submission payload: steps plus the target branch.
type WorkflowSpec struct {
	Name        string     `json:"name,omitempty" yaml:"name,omitempty"`
	Branch      string     `json:"branch" yaml:"branch"`
	BaseRef     string     `json:"base_ref,omitempty" yaml:"base_ref,omitempty"`
	MaxParallel int        `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	Steps       []StepSpec `json:"steps" yaml:"steps"`
}

// Step is the queryable state of one workflow step.
type Step struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Workflow is the queryable state of a submitted workflow.
type Workflow struct {
	ID           string     `json:"id"`
	Name         string     `json:"name,omitempty"`
	Branch       string     `json:"branch"`
	WorktreePath string     `json:"worktree_path,omitempty"`
	Status       string     `json:"status"`
	Steps        []Step     `json:"steps,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at,omitempty"`
}

// Conflict is one divergent region between a worktree branch and its target.
type Conflict struct {
	ID     string `json:"id"` // stable within one attempt: "<path>:<index>"
	Path   string `json:"path"`
	Index  int    `json:"index"`
	Source string `json:"source"` // content on the worktree-branch side
	Target string `json:"target"` // content on the integration-target side
}

// Resolution settles one conflict: a strategy, plus content for "custom".
type Resolution struct {
	Strategy string `json:"strategy"` // take-source | take-target | custom
	Content  string `json:"content,omitempty"`
}

// MergeRequest asks the server to resolve previously detected conflicts.
type MergeRequest struct {
	WorktreePath string                `json:"worktree_path"`
	Resolutions  map[string]Resolution `json:"resolutions,omitempty"`
}

// MergeResult is the outcome of an integration attempt.
type MergeResult struct {
	Status    string     `json:"status"`
	Commit    string     `json:"commit,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// Event is one streamed occurrence (step output chunk, state transition, etc.).
type Event struct {
	Type       string    `json:"type"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	StepID     string    `json:"step_id,omitempty"`
	Stream     string    `json:"stream,omitempty"` // stdout | stderr
	Text       string    `json:"text,omitempty"`
	Status     string    `json:"status,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
