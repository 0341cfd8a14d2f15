// Package runtime abstracts the external agent process. The executor depends
// on the Spawner capability, not on a concrete launch mechanism, so tests can
// substitute deterministic doubles that simulate exit codes and timeouts.
package runtime

import (
	"context"
	"errors"
	"time"
)

// ErrSpawnFailed marks an agent process that could not start at all (missing
// executable, invalid working directory). It is distinct from a process that
// started and exited non-zero, which is reported as a normal SpawnResult.
var ErrSpawnFailed = errors.New("agent spawn failed")

// Chunk is one piece of agent output, delivered in the order the process
// produced it, before the process exits.
type Chunk struct {
	Stream    string // stdout | stderr
	Text      string
	Timestamp time.Time
}

// SpawnConfig binds one agent invocation to a working directory.
type SpawnConfig struct {
	Prompt    string
	Dir       string // working directory (a worktree path)
	Model     string // optional model selector, passed to the agent
	SessionID string // correlates output with a workflow step
}

// SpawnResult is the outcome of a completed agent process.
type SpawnResult struct {
	ExitCode int
	Output   string
	Stderr   string
	Elapsed  time.Duration
}

// Spawner launches exactly one external agent process per call.
type Spawner interface {
	Name() string
	Spawn(ctx context.Context, cfg SpawnConfig, emit func(Chunk)) (SpawnResult, error)
}
