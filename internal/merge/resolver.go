// Package merge detects and settles divergence between a worktree's branch
// and its integration target. One attempt is a scoped transaction: detection
// opens it and latches the worktree, resolve or abort closes it, and the git
// state is restored on every exit path.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/MaciWP/treeflow/internal/git"
	"github.com/MaciWP/treeflow/internal/otel"
	"github.com/MaciWP/treeflow/internal/worktree"
	"github.com/MaciWP/treeflow/pkg/models"
)

var (
	// ErrResolutionIncomplete is returned when a detected conflict has no
	// entry in the resolution mapping; partial resolution is never accepted.
	ErrResolutionIncomplete = errors.New("resolution does not cover every detected conflict")
	// ErrNoAttempt is returned by Resolve when DetectConflicts has not run.
	ErrNoAttempt = errors.New("no merge attempt in progress")
	// ErrConflictsChanged is returned when the conflict set no longer matches
	// what detection recorded (the branch or target moved underneath us).
	ErrConflictsChanged = errors.New("conflict set changed since detection")
)

// attempt is the per-worktree transaction opened by DetectConflicts.
type attempt struct {
	branch    string
	conflicts []models.Conflict
}

// Resolver integrates worktree branches into the branch checked out at the
// repository root. All git work happens at the root; the worktree itself is
// never mutated.
type Resolver struct {
	gw  *git.Gateway
	wts *worktree.Manager

	// commit attribution for merge commits
	CommitterName  string
	CommitterEmail string

	mu       sync.Mutex
	attempts map[string]*attempt

	// applyMu serializes the merge/commit span at the repository root; the
	// per-worktree latch does not order two Resolve calls on one attempt.
	applyMu sync.Mutex
}

// NewResolver returns a Resolver over the manager's worktrees.
func NewResolver(gw *git.Gateway, wts *worktree.Manager) *Resolver {
	return &Resolver{gw: gw, wts: wts, attempts: make(map[string]*attempt)}
}

// DetectConflicts dry-runs the integration of the worktree's branch and
// returns the ordered conflict list (empty means clean). The merge is aborted
// before returning, so detection is side-effect-free and repeatable. The
// first detection on a worktree latches it until Resolve or Abort.
func (r *Resolver) DetectConflicts(ctx context.Context, worktreePath string) ([]models.Conflict, error) {
	wt, ok := r.wts.Get(worktreePath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", worktree.ErrWorktreeNotFound, worktreePath)
	}

	r.mu.Lock()
	_, open := r.attempts[worktreePath]
	r.mu.Unlock()
	if !open {
		// A merge while an agent is mid-edit is undefined; the latch rejects it.
		if err := r.wts.Acquire(worktreePath); err != nil {
			return nil, err
		}
	}

	conflicts, _, err := r.detect(ctx, wt.Branch)
	if err != nil {
		if !open {
			r.wts.Release(worktreePath)
		}
		return nil, err
	}

	r.mu.Lock()
	r.attempts[worktreePath] = &attempt{branch: wt.Branch, conflicts: conflicts}
	r.mu.Unlock()
	otel.RecordMergeConflicts(ctx, wt.Branch, len(conflicts))
	return conflicts, nil
}

// detect runs the dry-run merge and always aborts it before returning.
func (r *Resolver) detect(ctx context.Context, branch string) (conflicts []models.Conflict, files map[string]*parsedFile, err error) {
	defer func() {
		if abortErr := r.gw.MergeAbort(ctx); abortErr != nil && err == nil {
			err = abortErr
		}
	}()

	conflicted, err := r.gw.MergeNoCommit(ctx, branch)
	if err != nil {
		return nil, nil, err
	}
	if !conflicted {
		return nil, nil, nil
	}
	paths, err := r.gw.UnmergedPaths(ctx)
	if err != nil {
		return nil, nil, err
	}
	files = make(map[string]*parsedFile, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(r.gw.RepoDir, p))
		if err != nil {
			return nil, nil, fmt.Errorf("read conflicted file %s: %w", p, err)
		}
		pf, err := parseConflictFile(p, string(data))
		if err != nil {
			return nil, nil, err
		}
		files[p] = pf
		for i, reg := range pf.regions() {
			conflicts = append(conflicts, models.Conflict{
				ID:     conflictID(p, i),
				Path:   p,
				Index:  i,
				Source: reg.source,
				Target: reg.target,
			})
		}
	}
	return conflicts, files, nil
}

// Resolve applies the caller's decisions to the previously detected conflict
// set, completes the integration, and closes the attempt. The resolution
// mapping must cover every detected conflict.
func (r *Resolver) Resolve(ctx context.Context, worktreePath string, resolutions map[string]models.Resolution) (*models.MergeResult, error) {
	r.mu.Lock()
	att, ok := r.attempts[worktreePath]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAttempt, worktreePath)
	}

	// Completeness and strategy validation happen before any git state is
	// touched, so an incomplete mapping leaves the pre-resolution state intact.
	for _, c := range att.conflicts {
		res, ok := resolutions[c.ID]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrResolutionIncomplete, c.ID)
		}
		switch res.Strategy {
		case models.ResolveTakeSource, models.ResolveTakeTarget, models.ResolveCustom:
		default:
			return nil, fmt.Errorf("unknown resolution strategy %q for %s", res.Strategy, c.ID)
		}
	}

	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	// A concurrent Resolve may have completed the attempt while we waited.
	r.mu.Lock()
	cur, ok := r.attempts[worktreePath]
	r.mu.Unlock()
	if !ok || cur != att {
		return nil, fmt.Errorf("%w: %s", ErrNoAttempt, worktreePath)
	}

	result, err := r.applyAndCommit(ctx, att, resolutions)
	if err != nil {
		return nil, err
	}

	r.close(worktreePath)
	slog.Info("merge completed", "worktree", worktreePath, "branch", att.branch,
		"status", result.Status, "commit", result.Commit)
	return result, nil
}

func (r *Resolver) applyAndCommit(ctx context.Context, att *attempt, resolutions map[string]models.Resolution) (res *models.MergeResult, err error) {
	// Any failure below leaves a half-done merge at the root; roll it back.
	defer func() {
		if err != nil {
			_ = r.gw.MergeAbort(ctx)
		}
	}()

	conflicted, err := r.gw.MergeNoCommit(ctx, att.branch)
	if err != nil {
		return nil, err
	}
	if !conflicted && !r.gw.MergeInProgress(ctx) {
		// Already up to date: nothing staged, nothing to commit.
		head, err := r.gw.Head(ctx, "")
		if err != nil {
			return nil, err
		}
		return &models.MergeResult{Status: models.MergeClean, Commit: head}, nil
	}

	status := models.MergeClean
	if conflicted {
		if len(att.conflicts) == 0 {
			return nil, ErrConflictsChanged
		}
		status = models.MergeWithResolutions
		paths, err := r.gw.UnmergedPaths(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			data, err := os.ReadFile(filepath.Join(r.gw.RepoDir, p))
			if err != nil {
				return nil, err
			}
			pf, err := parseConflictFile(p, string(data))
			if err != nil {
				return nil, err
			}
			resolved, err := resolveFile(pf, resolutions)
			if err != nil {
				return nil, err
			}
			if err := os.WriteFile(filepath.Join(r.gw.RepoDir, p), []byte(resolved), 0o644); err != nil {
				return nil, err
			}
			if err := r.gw.Add(ctx, p); err != nil {
				return nil, err
			}
		}
		// Everything detected must now be staged.
		if left, err := r.gw.UnmergedPaths(ctx); err != nil {
			return nil, err
		} else if len(left) > 0 {
			return nil, fmt.Errorf("%w: %v still unmerged", ErrConflictsChanged, left)
		}
	}

	sha, err := r.gw.Commit(ctx, "Merge branch '"+att.branch+"'", r.CommitterName, r.CommitterEmail)
	if err != nil {
		return nil, err
	}
	return &models.MergeResult{Status: status, Commit: sha, Conflicts: att.conflicts}, nil
}

// resolveFile rebuilds one conflicted file from the mapped decisions.
func resolveFile(pf *parsedFile, resolutions map[string]models.Resolution) (string, error) {
	var missing error
	content := pf.rebuild(func(idx int, reg *region) string {
		res, ok := resolutions[conflictID(pf.path, idx)]
		if !ok {
			// A region detection never saw: the conflict set drifted.
			missing = fmt.Errorf("%w: %s", ErrConflictsChanged, conflictID(pf.path, idx))
			return ""
		}
		switch res.Strategy {
		case models.ResolveTakeSource:
			return reg.source
		case models.ResolveTakeTarget:
			return reg.target
		default:
			return res.Content
		}
	})
	if missing != nil {
		return "", missing
	}
	return content, nil
}

// Abort reverts any in-progress integration and closes the attempt. It is an
// idempotent no-op when nothing is underway.
func (r *Resolver) Abort(ctx context.Context, worktreePath string) error {
	if err := r.gw.MergeAbort(ctx); err != nil {
		return err
	}
	r.close(worktreePath)
	return nil
}

func (r *Resolver) close(worktreePath string) {
	r.mu.Lock()
	_, open := r.attempts[worktreePath]
	delete(r.attempts, worktreePath)
	r.mu.Unlock()
	if open {
		r.wts.Release(worktreePath)
	}
}

func conflictID(path string, idx int) string {
	return fmt.Sprintf("%s:%d", path, idx)
}
