package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MaciWP/treeflow/internal/store"
)

func unixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}

// --- Worktrees ---

func (s *Store) SaveWorktree(ctx context.Context, wt store.Worktree) error {
	_, err := s.Pool.Exec(ctx, `
INSERT INTO worktrees (path, branch, base_ref, base_sha, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (path) DO UPDATE SET
  branch = EXCLUDED.branch,
  base_ref = EXCLUDED.base_ref,
  base_sha = EXCLUDED.base_sha,
  status = EXCLUDED.status`,
		wt.Path, wt.Branch, wt.BaseRef, wt.BaseSHA, wt.Status, wt.CreatedAt.Unix())
	return err
}

func (s *Store) GetWorktree(ctx context.Context, path string) (*store.Worktree, error) {
	row := s.Pool.QueryRow(ctx, `
SELECT path, branch, base_ref, base_sha, status, created_at
FROM worktrees WHERE path = $1`, path)
	var wt store.Worktree
	var createdAt int64
	if err := row.Scan(&wt.Path, &wt.Branch, &wt.BaseRef, &wt.BaseSHA, &wt.Status, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	wt.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &wt, nil
}

func (s *Store) ListWorktrees(ctx context.Context) ([]store.Worktree, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT path, branch, base_ref, base_sha, status, created_at
FROM worktrees ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Worktree
	for rows.Next() {
		var wt store.Worktree
		var createdAt int64
		if err := rows.Scan(&wt.Path, &wt.Branch, &wt.BaseRef, &wt.BaseSHA, &wt.Status, &createdAt); err != nil {
			return nil, err
		}
		wt.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, wt)
	}
	return out, rows.Err()
}

func (s *Store) UpdateWorktreeStatus(ctx context.Context, path, status string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE worktrees SET status = $1 WHERE path = $2`, status, path)
	return err
}

func (s *Store) DeleteWorktree(ctx context.Context, path string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM worktrees WHERE path = $1`, path)
	return err
}

// --- Workflows ---

func (s *Store) CreateWorkflow(ctx context.Context, wf store.Workflow, steps []store.Step) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO workflows (workflow_id, name, branch, worktree_path, status, max_parallel, started_at, ended_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		wf.ID, wf.Name, wf.Branch, wf.WorktreePath, wf.Status, wf.MaxParallel,
		unixPtr(wf.StartedAt), unixPtr(wf.EndedAt), wf.CreatedAt.Unix()); err != nil {
		return err
	}
	for i, st := range steps {
		if _, err := tx.Exec(ctx, `
INSERT INTO steps (workflow_id, step_id, seq, prompt, model, depends_on, timeout_sec, max_retries, status, attempts, last_error, started_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			wf.ID, st.StepID, i, st.Prompt, st.Model, st.DependsOn, st.TimeoutSec, st.MaxRetries,
			st.Status, st.Attempts, st.LastError, unixPtr(st.StartedAt), unixPtr(st.EndedAt)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	row := s.Pool.QueryRow(ctx, `
SELECT workflow_id, name, branch, worktree_path, status, max_parallel, started_at, ended_at, created_at
FROM workflows WHERE workflow_id = $1`, id)
	var wf store.Workflow
	var createdAt int64
	var started, ended sql.NullInt64
	if err := row.Scan(&wf.ID, &wf.Name, &wf.Branch, &wf.WorktreePath, &wf.Status,
		&wf.MaxParallel, &started, &ended, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	wf.StartedAt = timeFromNull(started)
	wf.EndedAt = timeFromNull(ended)
	wf.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &wf, nil
}

func (s *Store) ListWorkflows(ctx context.Context, limit int) ([]store.Workflow, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.Pool.Query(ctx, `
SELECT workflow_id, name, branch, worktree_path, status, max_parallel, started_at, ended_at, created_at
FROM workflows ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Workflow
	for rows.Next() {
		var wf store.Workflow
		var createdAt int64
		var started, ended sql.NullInt64
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Branch, &wf.WorktreePath, &wf.Status,
			&wf.MaxParallel, &started, &ended, &createdAt); err != nil {
			return nil, err
		}
		wf.StartedAt = timeFromNull(started)
		wf.EndedAt = timeFromNull(ended)
		wf.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *Store) UpdateWorkflowStatus(ctx context.Context, id string, upd store.WorkflowUpdate) error {
	if upd.WorktreePath != nil {
		if _, err := s.Pool.Exec(ctx,
			`UPDATE workflows SET worktree_path = $1 WHERE workflow_id = $2`, *upd.WorktreePath, id); err != nil {
			return err
		}
	}
	_, err := s.Pool.Exec(ctx, `
UPDATE workflows SET
  status = $1,
  started_at = COALESCE($2, started_at),
  ended_at = COALESCE($3, ended_at)
WHERE workflow_id = $4`,
		upd.Status, unixPtr(upd.StartedAt), unixPtr(upd.EndedAt), id)
	return err
}

// --- Steps ---

func (s *Store) ListSteps(ctx context.Context, workflowID string) ([]store.Step, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT workflow_id, step_id, prompt, model, depends_on, timeout_sec, max_retries, status, attempts, last_error, started_at, ended_at
FROM steps WHERE workflow_id = $1 ORDER BY seq ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Step
	for rows.Next() {
		var st store.Step
		var started, ended sql.NullInt64
		if err := rows.Scan(&st.WorkflowID, &st.StepID, &st.Prompt, &st.Model, &st.DependsOn,
			&st.TimeoutSec, &st.MaxRetries, &st.Status, &st.Attempts, &st.LastError, &started, &ended); err != nil {
			return nil, err
		}
		st.StartedAt = timeFromNull(started)
		st.EndedAt = timeFromNull(ended)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStep(ctx context.Context, workflowID, stepID string, upd store.StepUpdate) error {
	_, err := s.Pool.Exec(ctx, `
UPDATE steps SET
  status = $1,
  attempts = $2,
  last_error = $3,
  started_at = COALESCE($4, started_at),
  ended_at = COALESCE($5, ended_at)
WHERE workflow_id = $6 AND step_id = $7`,
		upd.Status, upd.Attempts, upd.LastError, unixPtr(upd.StartedAt), unixPtr(upd.EndedAt),
		workflowID, stepID)
	return err
}
