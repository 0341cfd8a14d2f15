package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	agentrt "github.com/MaciWP/treeflow/internal/agent/runtime"
	"github.com/MaciWP/treeflow/internal/store"
	"github.com/MaciWP/treeflow/internal/worktree"
	"github.com/MaciWP/treeflow/pkg/models"
)

// ErrWorkflowNotFound is returned when an id matches no submitted workflow.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Service owns the lifecycle of submitted workflows: it provisions a worktree
// per workflow, runs the executor in the background, and exposes cancel and
// query operations to the API and CLI layers.
type Service struct {
	Store    store.Store
	Worktree *worktree.Manager
	Spawner  agentrt.Spawner
	Emit     func(models.Event) // optional; forwarded to every executor

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewService returns a Service dispatching onto the given spawner.
func NewService(st store.Store, wts *worktree.Manager, spawner agentrt.Spawner, emit func(models.Event)) *Service {
	return &Service{
		Store:    st,
		Worktree: wts,
		Spawner:  spawner,
		Emit:     emit,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Submit validates the spec, provisions the workflow's worktree, persists the
// record, and starts execution in the background. The run is detached from
// ctx (which is typically a request context); it stops via Cancel.
func (s *Service) Submit(ctx context.Context, spec models.WorkflowSpec) (*models.Workflow, error) {
	if err := ValidateSpec(&spec); err != nil {
		return nil, err
	}
	id := uuid.NewString()

	wt, err := s.Worktree.Create(ctx, worktree.CreateOptions{Branch: spec.Branch, BaseRef: spec.BaseRef})
	if err != nil {
		return nil, fmt.Errorf("provision worktree: %w", err)
	}

	// The worktree is latched for the whole run; merges wait for a terminal
	// state. Latching before anything is persisted means every failure below
	// can roll back to a clean slate.
	if err := s.Worktree.Acquire(wt.Path); err != nil {
		_ = s.Worktree.Remove(ctx, wt.Path, true)
		return nil, err
	}

	exec, err := NewExecutor(id, spec, wt.Path, s.Spawner)
	if err != nil {
		s.Worktree.Release(wt.Path)
		_ = s.Worktree.Remove(ctx, wt.Path, true)
		return nil, err
	}
	exec.Store = s.Store
	exec.Emit = s.Emit

	now := time.Now().UTC()
	rec := store.Workflow{
		ID:           id,
		Name:         spec.Name,
		Branch:       spec.Branch,
		WorktreePath: wt.Path,
		Status:       models.WorkflowCreated,
		MaxParallel:  spec.MaxParallel,
		CreatedAt:    now,
	}
	if s.Store != nil {
		steps := make([]store.Step, len(spec.Steps))
		for i, st := range spec.Steps {
			steps[i] = store.Step{
				WorkflowID: id,
				StepID:     st.ID,
				Prompt:     st.Prompt,
				Model:      st.Model,
				DependsOn:  joinDeps(st.DependsOn),
				TimeoutSec: st.TimeoutSec,
				MaxRetries: st.MaxRetries,
				Status:     models.StepPending,
			}
		}
		if err := s.Store.CreateWorkflow(ctx, rec, steps); err != nil {
			s.Worktree.Release(wt.Path)
			_ = s.Worktree.Remove(ctx, wt.Path, true)
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	go s.run(runCtx, exec, wt.Path)

	return &models.Workflow{
		ID:           id,
		Name:         spec.Name,
		Branch:       spec.Branch,
		WorktreePath: wt.Path,
		Status:       models.WorkflowCreated,
		CreatedAt:    now,
	}, nil
}

func (s *Service) run(ctx context.Context, exec *Executor, wtPath string) {
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.cancels[exec.ID]; ok {
			cancel()
			delete(s.cancels, exec.ID)
		}
		s.mu.Unlock()
		s.Worktree.Release(wtPath)
	}()

	started := time.Now().UTC()
	s.setWorkflowStatus(ctx, exec.ID, store.WorkflowUpdate{Status: models.WorkflowRunning, StartedAt: &started})
	s.emit(models.Event{Type: "workflow_update", WorkflowID: exec.ID, Status: models.WorkflowRunning, Timestamp: started})

	res, err := exec.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("workflow run failed", "workflow_id", exec.ID, "err", err)
	}

	ended := time.Now().UTC()
	s.setWorkflowStatus(ctx, exec.ID, store.WorkflowUpdate{Status: res.Status, EndedAt: &ended})
	s.emit(models.Event{Type: "workflow_update", WorkflowID: exec.ID, Status: res.Status, Timestamp: ended})
}

// Cancel stops a running workflow. Unknown or already-finished ids return
// ErrWorkflowNotFound; querying the workflow afterwards shows which steps
// were interrupted versus never started.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s (not running)", ErrWorkflowNotFound, id)
	}
	cancel()
	return nil
}

// Get returns the persisted workflow with its step states.
func (s *Service) Get(ctx context.Context, id string) (*models.Workflow, error) {
	rec, err := s.Store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	steps, err := s.Store.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	wf := workflowModel(rec)
	for _, st := range steps {
		wf.Steps = append(wf.Steps, models.Step{
			ID:        st.StepID,
			Status:    st.Status,
			Attempts:  st.Attempts,
			LastError: st.LastError,
			StartedAt: st.StartedAt,
			EndedAt:   st.EndedAt,
		})
	}
	return wf, nil
}

// List returns recent workflows, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]models.Workflow, error) {
	if limit <= 0 {
		limit = models.DefaultWorkflowListLimit
	}
	recs, err := s.Store.ListWorkflows(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Workflow, 0, len(recs))
	for i := range recs {
		out = append(out, *workflowModel(&recs[i]))
	}
	return out, nil
}

func (s *Service) setWorkflowStatus(ctx context.Context, id string, upd store.WorkflowUpdate) {
	if s.Store == nil {
		return
	}
	if err := s.Store.UpdateWorkflowStatus(context.WithoutCancel(ctx), id, upd); err != nil {
		slog.Error("persist workflow update failed", "workflow_id", id, "err", err)
	}
}

func (s *Service) emit(ev models.Event) {
	if s.Emit != nil {
		s.Emit(ev)
	}
}

func workflowModel(rec *store.Workflow) *models.Workflow {
	return &models.Workflow{
		ID:           rec.ID,
		Name:         rec.Name,
		Branch:       rec.Branch,
		WorktreePath: rec.WorktreePath,
		Status:       rec.Status,
		StartedAt:    rec.StartedAt,
		EndedAt:      rec.EndedAt,
		CreatedAt:    rec.CreatedAt,
	}
}

func joinDeps(deps []string) string {
	return strings.Join(deps, ",")
}
