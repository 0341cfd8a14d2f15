package store

import (
	"context"
	"database/sql"
	"time"
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

func (s *sqliteStore) SaveWorktree(ctx context.Context, wt Worktree) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO worktrees (path, branch, base_ref, base_sha, status, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
  branch = excluded.branch,
  base_ref = excluded.base_ref,
  base_sha = excluded.base_sha,
  status = excluded.status`,
		wt.Path, wt.Branch, wt.BaseRef, wt.BaseSHA, wt.Status, wt.CreatedAt.Unix())
	return err
}

func (s *sqliteStore) GetWorktree(ctx context.Context, path string) (*Worktree, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT path, branch, base_ref, base_sha, status, created_at
FROM worktrees WHERE path = ?`, path)
	var wt Worktree
	var createdAt int64
	if err := row.Scan(&wt.Path, &wt.Branch, &wt.BaseRef, &wt.BaseSHA, &wt.Status, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	wt.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &wt, nil
}

func (s *sqliteStore) ListWorktrees(ctx context.Context) ([]Worktree, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT path, branch, base_ref, base_sha, status, created_at
FROM worktrees ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Worktree
	for rows.Next() {
		var wt Worktree
		var createdAt int64
		if err := rows.Scan(&wt.Path, &wt.Branch, &wt.BaseRef, &wt.BaseSHA, &wt.Status, &createdAt); err != nil {
			return nil, err
		}
		wt.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, wt)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateWorktreeStatus(ctx context.Context, path, status string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE worktrees SET status = ? WHERE path = ?`, status, path)
	return err
}

func (s *sqliteStore) DeleteWorktree(ctx context.Context, path string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM worktrees WHERE path = ?`, path)
	return err
}

// --- Workflows ---

func (s *sqliteStore) CreateWorkflow(ctx context.Context, wf Workflow, steps []Step) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO workflows (workflow_id, name, branch, worktree_path, status, max_parallel, started_at, ended_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, wf.Branch, wf.WorktreePath, wf.Status, wf.MaxParallel,
		unixPtr(wf.StartedAt), unixPtr(wf.EndedAt), wf.CreatedAt.Unix()); err != nil {
		_ = tx.Rollback()
		return err
	}
	for i, st := range steps {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO steps (workflow_id, step_id, seq, prompt, model, depends_on, timeout_sec, max_retries, status, attempts, last_error, started_at, ended_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			wf.ID, st.StepID, i, st.Prompt, st.Model, st.DependsOn, st.TimeoutSec, st.MaxRetries,
			st.Status, st.Attempts, st.LastError, unixPtr(st.StartedAt), unixPtr(st.EndedAt)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func scanWorkflow(scan func(dest ...any) error) (*Workflow, error) {
	var wf Workflow
	var createdAt int64
	var started, ended sql.NullInt64
	if err := scan(&wf.ID, &wf.Name, &wf.Branch, &wf.WorktreePath, &wf.Status,
		&wf.MaxParallel, &started, &ended, &createdAt); err != nil {
		return nil, err
	}
	wf.StartedAt = timeFromNull(started)
	wf.EndedAt = timeFromNull(ended)
	wf.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &wf, nil
}

func (s *sqliteStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT workflow_id, name, branch, worktree_path, status, max_parallel, started_at, ended_at, created_at
FROM workflows WHERE workflow_id = ?`, id)
	wf, err := scanWorkflow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

func (s *sqliteStore) ListWorkflows(ctx context.Context, limit int) ([]Workflow, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT workflow_id, name, branch, worktree_path, status, max_parallel, started_at, ended_at, created_at
FROM workflows ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *wf)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateWorkflowStatus(ctx context.Context, id string, upd WorkflowUpdate) error {
	if upd.WorktreePath != nil {
		if _, err := s.DB.ExecContext(ctx,
			`UPDATE workflows SET worktree_path = ? WHERE workflow_id = ?`, *upd.WorktreePath, id); err != nil {
			return err
		}
	}
	_, err := s.DB.ExecContext(ctx, `
UPDATE workflows SET
  status = ?,
  started_at = COALESCE(?, started_at),
  ended_at = COALESCE(?, ended_at)
WHERE workflow_id = ?`,
		upd.Status, unixPtr(upd.StartedAt), unixPtr(upd.EndedAt), id)
	return err
}

// --- Steps ---

func (s *sqliteStore) ListSteps(ctx context.Context, workflowID string) ([]Step, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT workflow_id, step_id, prompt, model, depends_on, timeout_sec, max_retries, status, attempts, last_error, started_at, ended_at
FROM steps WHERE workflow_id = ? ORDER BY seq ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Step
	for rows.Next() {
		var st Step
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

func (s *sqliteStore) UpdateStep(ctx context.Context, workflowID, stepID string, upd StepUpdate) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE steps SET
  status = ?,
  attempts = ?,
  last_error = ?,
  started_at = COALESCE(?, started_at),
  ended_at = COALESCE(?, ended_at)
WHERE workflow_id = ? AND step_id = ?`,
		upd.Status, upd.Attempts, upd.LastError, unixPtr(upd.StartedAt), unixPtr(upd.EndedAt),
		workflowID, stepID)
	return err
}
