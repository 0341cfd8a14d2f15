package models

// Workflow statuses.
const (
	WorkflowCreated   = "created"
	WorkflowRunning   = "running"
	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
	WorkflowCancelled = "cancelled"
)

// Step statuses.
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
	StepCancelled = "cancelled"
)

// Worktree statuses.
const (
	WorktreeActive  = "active"
	WorktreeStale   = "stale"
	WorktreeRemoved = "removed"
)

// Merge result statuses.
const (
	MergeClean            = "merged-clean"
	MergeWithResolutions  = "merged-with-resolutions"
	MergeAborted          = "aborted"
	MergeConflictsPending = "conflicts-pending"
)

// Conflict resolution strategies.
const (
	ResolveTakeSource = "take-source"
	ResolveTakeTarget = "take-target"
	ResolveCustom     = "custom"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultMaxParallelSteps    = 4
	DefaultSSEChannelBuffer    = 256
	DefaultWorkflowListLimit   = 200
)
