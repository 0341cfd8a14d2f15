package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	agentrt "github.com/MaciWP/treeflow/internal/agent/runtime"
	"github.com/MaciWP/treeflow/internal/otel"
	"github.com/MaciWP/treeflow/internal/store"
	"github.com/MaciWP/treeflow/pkg/models"
)

// Executor runs one workflow's step DAG inside a worktree. A step is
// dispatched once all of its dependencies completed; at most MaxParallel
// steps run at once. A step that exhausts its retry budget fails and marks
// every transitive dependent skipped.
type Executor struct {
	ID      string
	Spec    models.WorkflowSpec
	Dir     string // worktree path; working directory for every step
	Spawner agentrt.Spawner
	Store   store.Store        // optional
	Emit    func(models.Event) // optional; receives output chunks and transitions

	g *graph

	mu       sync.Mutex
	statuses []string
	attempts []int
	lastErrs []string
}

// Result is the terminal report of one workflow run: the workflow status plus
// the final state of every step, including what failed and what was skipped.
type Result struct {
	Status string
	Steps  []models.Step
}

// NewExecutor validates the spec's dependency graph. A cyclic graph is
// rejected here, before any worktree or subprocess work.
func NewExecutor(id string, spec models.WorkflowSpec, dir string, spawner agentrt.Spawner) (*Executor, error) {
	g, err := buildGraph(spec.Steps)
	if err != nil {
		return nil, err
	}
	n := len(spec.Steps)
	e := &Executor{
		ID:       id,
		Spec:     spec,
		Dir:      dir,
		Spawner:  spawner,
		g:        g,
		statuses: make([]string, n),
		attempts: make([]int, n),
		lastErrs: make([]string, n),
	}
	for i := range e.statuses {
		e.statuses[i] = models.StepPending
	}
	return e, nil
}

type stepResult struct {
	idx int
	err error // nil on success; ctx error on cancellation
}

// Run executes the DAG to a terminal state and reports every step's outcome.
// Cancelling ctx stops dispatching, interrupts running steps, and marks the
// rest cancelled; Run still waits for in-flight steps to wind down.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	maxParallel := e.Spec.MaxParallel
	if maxParallel <= 0 {
		maxParallel = models.DefaultMaxParallelSteps
	}
	start := time.Now()
	slog.Info("workflow started", "workflow_id", e.ID, "steps", len(e.Spec.Steps), "max_parallel", maxParallel)

	indeg := make([]int, len(e.g.indegree))
	copy(indeg, e.g.indegree)
	ready := e.g.roots()
	results := make(chan stepResult)
	sem := make(chan struct{}, maxParallel)

	remaining := len(e.Spec.Steps)
	running := 0
	cancelled := false
	done := ctx.Done()
	for remaining > 0 {
		// Dispatch everything ready while slots are free.
		for !cancelled && len(ready) > 0 {
			select {
			case sem <- struct{}{}:
			default:
				goto wait
			}
			idx := ready[0]
			ready = ready[1:]
			running++
			e.transition(ctx, idx, models.StepRunning, "")
			go func(idx int) {
				defer func() { <-sem }()
				results <- stepResult{idx: idx, err: e.runStep(ctx, idx)}
			}(idx)
		}
	wait:
		if running == 0 {
			// Nothing in flight and nothing dispatchable: the rest were
			// skipped or cancellation emptied the ready list.
			if cancelled {
				e.cancelPending(ctx)
			}
			break
		}
		select {
		case res := <-results:
			running--
			remaining--
			if res.err == nil {
				e.transition(ctx, res.idx, models.StepCompleted, "")
				for _, dep := range e.g.dependents[res.idx] {
					indeg[dep]--
					if indeg[dep] == 0 && e.status(dep) == models.StepPending {
						ready = append(ready, dep)
					}
				}
			} else if ctx.Err() != nil {
				e.transition(ctx, res.idx, models.StepCancelled, res.err.Error())
			} else {
				e.transition(ctx, res.idx, models.StepFailed, res.err.Error())
				remaining -= e.skipDescendants(ctx, res.idx)
			}
		case <-done:
			// Stop dispatching; in-flight steps unwind via their own ctx.
			cancelled = true
			ready = nil
			done = nil
		}
	}
	if cancelled {
		e.cancelPending(ctx)
	}

	res := e.result(ctx)
	otel.RecordWorkflowRun(ctx, res.Status, time.Since(start))
	slog.Info("workflow finished", "workflow_id", e.ID, "status", res.Status, "elapsed", time.Since(start))
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}

// runStep runs one step's attempt loop. Each attempt gets its own timeout
// context; a timed-out attempt consumes retry budget like any other failure.
func (e *Executor) runStep(ctx context.Context, idx int) error {
	spec := e.g.steps[idx]
	budget := spec.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.mu.Lock()
		e.attempts[idx] = attempt
		e.mu.Unlock()

		attemptCtx := ctx
		var cancel context.CancelFunc
		if spec.TimeoutSec > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutSec)*time.Second)
		}
		attemptStart := time.Now()
		result, err := e.Spawner.Spawn(attemptCtx, agentrt.SpawnConfig{
			Prompt:    spec.Prompt,
			Dir:       e.Dir,
			Model:     spec.Model,
			SessionID: e.ID + "/" + spec.ID,
		}, func(c agentrt.Chunk) {
			e.emit(models.Event{
				Type:       "step_output",
				WorkflowID: e.ID,
				StepID:     spec.ID,
				Stream:     c.Stream,
				Text:       c.Text,
				Timestamp:  c.Timestamp,
			})
		})
		if cancel != nil {
			cancel()
		}
		otel.RecordStepAttempt(ctx, spec.Model, err == nil && result.ExitCode == 0, time.Since(attemptStart))

		switch {
		case err == nil && result.ExitCode == 0:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			lastErr = err
		default:
			lastErr = fmt.Errorf("step %s exited with code %d", spec.ID, result.ExitCode)
		}
		slog.Warn("step attempt failed", "workflow_id", e.ID, "step", spec.ID,
			"attempt", attempt, "of", budget, "err", lastErr)
	}
	return lastErr
}

// skipDescendants marks everything downstream of a failed step skipped and
// returns how many steps it settled.
func (e *Executor) skipDescendants(ctx context.Context, idx int) int {
	n := 0
	for _, d := range e.g.descendants(idx) {
		if e.status(d) == models.StepPending {
			e.transition(ctx, d, models.StepSkipped, "dependency "+e.g.steps[idx].ID+" failed")
			n++
		}
	}
	return n
}

func (e *Executor) cancelPending(ctx context.Context) {
	for i := range e.g.steps {
		if e.status(i) == models.StepPending {
			e.transition(ctx, i, models.StepCancelled, "")
		}
	}
}

func (e *Executor) status(idx int) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statuses[idx]
}

// transition records a step state change, persists it, and publishes it.
func (e *Executor) transition(ctx context.Context, idx int, status, lastErr string) {
	now := time.Now().UTC()
	e.mu.Lock()
	e.statuses[idx] = status
	if lastErr != "" {
		e.lastErrs[idx] = lastErr
	}
	attempts := e.attempts[idx]
	e.mu.Unlock()

	if e.Store != nil {
		upd := store.StepUpdate{Status: status, Attempts: attempts, LastError: lastErr}
		if status == models.StepRunning {
			upd.StartedAt = &now
		} else {
			upd.EndedAt = &now
		}
		// Detached from ctx so terminal states still persist after cancellation.
		if err := e.Store.UpdateStep(context.WithoutCancel(ctx), e.ID, e.g.steps[idx].ID, upd); err != nil {
			slog.Error("persist step update failed", "workflow_id", e.ID,
				"step", e.g.steps[idx].ID, "err", err)
		}
	}
	e.emit(models.Event{
		Type:       "step_update",
		WorkflowID: e.ID,
		StepID:     e.g.steps[idx].ID,
		Status:     status,
		Timestamp:  now,
	})
}

func (e *Executor) emit(ev models.Event) {
	if e.Emit != nil {
		e.Emit(ev)
	}
}

// result derives the workflow status from the step states: completed only
// when every step completed, cancelled when cancellation reached any step,
// failed otherwise.
func (e *Executor) result(ctx context.Context) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := &Result{Steps: make([]models.Step, len(e.g.steps))}
	allCompleted := true
	for i, s := range e.g.steps {
		res.Steps[i] = models.Step{
			ID:        s.ID,
			Status:    e.statuses[i],
			Attempts:  e.attempts[i],
			LastError: e.lastErrs[i],
		}
		if e.statuses[i] != models.StepCompleted {
			allCompleted = false
		}
	}
	switch {
	case ctx.Err() != nil:
		res.Status = models.WorkflowCancelled
	case allCompleted:
		res.Status = models.WorkflowCompleted
	default:
		res.Status = models.WorkflowFailed
	}
	return res
}
