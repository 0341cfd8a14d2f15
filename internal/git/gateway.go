// Package git is the sole point of contact with the git tool. It issues
// subprocess commands against a repository (or one of its worktrees) and
// parses their textual output into structured results.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Gateway issues git commands against one repository. The zero value is not
// usable; construct with NewGateway so RepoDir is validated once.
type Gateway struct {
	RepoDir string
}

// NewGateway returns a Gateway for the repository at repoDir. Fails if the
// directory is not inside a git work tree.
func NewGateway(ctx context.Context, repoDir string) (*Gateway, error) {
	g := &Gateway{RepoDir: repoDir}
	if _, err := g.run(ctx, repoDir, "rev-parse", "--show-toplevel"); err != nil {
		return nil, fmt.Errorf("not a git repository: %s: %w", repoDir, err)
	}
	return g, nil
}

// run executes git with args in dir and returns trimmed combined output.
// Errors are tagged with the originating subcommand so callers can report
// which operation failed without re-deriving it.
func (g *Gateway) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		op := "git"
		if len(args) > 0 {
			op = "git " + args[0]
		}
		return text, fmt.Errorf("%s: %w: %s", op, err, text)
	}
	return text, nil
}

// RevParse resolves ref to a full commit SHA. An unresolvable ref is an error.
func (g *Gateway) RevParse(ctx context.Context, ref string) (string, error) {
	out, err := g.run(ctx, g.RepoDir, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("rev-parse %s: %w", ref, err)
	}
	return out, nil
}

// Head returns the commit SHA at HEAD in dir (the repo root when dir is empty).
func (g *Gateway) Head(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		dir = g.RepoDir
	}
	return g.run(ctx, dir, "rev-parse", "HEAD")
}

// BranchExists reports whether a local branch exists.
func (g *Gateway) BranchExists(ctx context.Context, branch string) bool {
	_, err := g.run(ctx, g.RepoDir, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// CurrentBranch returns the branch checked out in dir, or "" for detached HEAD.
func (g *Gateway) CurrentBranch(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		dir = g.RepoDir
	}
	out, err := g.run(ctx, dir, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return out, nil
}

// WorktreeAdd creates a worktree at path with a new branch created from base.
func (g *Gateway) WorktreeAdd(ctx context.Context, path, branch, base string) error {
	_, err := g.run(ctx, g.RepoDir, "worktree", "add", "-b", branch, path, base)
	return err
}

// WorktreeAddExisting creates a worktree at path checking out an existing
// branch. git itself rejects a branch already checked out elsewhere.
func (g *Gateway) WorktreeAddExisting(ctx context.Context, path, branch string) error {
	_, err := g.run(ctx, g.RepoDir, "worktree", "add", path, branch)
	return err
}

// WorktreeEntry is one record from `git worktree list --porcelain`.
type WorktreeEntry struct {
	Path     string
	Head     string
	Branch   string // short name; "" when detached or bare
	Bare     bool
	Prunable bool
}

// WorktreeList returns git's own record of worktrees, including the main one.
func (g *Gateway) WorktreeList(ctx context.Context) ([]WorktreeEntry, error) {
	out, err := g.run(ctx, g.RepoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var entries []WorktreeEntry
	var cur *WorktreeEntry
	flush := func() {
		if cur != nil {
			entries = append(entries, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur = &WorktreeEntry{Path: strings.TrimPrefix(line, "worktree ")}
		case cur == nil:
			// malformed block; skip until next "worktree" header
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			cur.Bare = true
		case strings.HasPrefix(line, "prunable"):
			cur.Prunable = true
		}
	}
	flush()
	return entries, nil
}

// WorktreeRemove removes the worktree at path. force discards local changes.
func (g *Gateway) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := g.run(ctx, g.RepoDir, args...)
	return err
}

// WorktreePrune drops worktree records whose directories are gone.
func (g *Gateway) WorktreePrune(ctx context.Context) error {
	_, err := g.run(ctx, g.RepoDir, "worktree", "prune")
	return err
}

// IsDirty reports whether dir has uncommitted changes (staged, unstaged, or untracked).
func (g *Gateway) IsDirty(ctx context.Context, dir string) (bool, error) {
	out, err := g.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// MergeNoCommit starts a merge of branch into the branch checked out at
// RepoDir without committing. Returns conflicted=true when the merge stopped
// on conflicts (MERGE_HEAD is left in place either way, except for the
// already-up-to-date case); any other failure is an error.
func (g *Gateway) MergeNoCommit(ctx context.Context, branch string) (conflicted bool, err error) {
	out, runErr := g.run(ctx, g.RepoDir, "merge", "--no-commit", "--no-ff", branch)
	if runErr == nil {
		return false, nil
	}
	if strings.Contains(out, "CONFLICT") || strings.Contains(out, "Automatic merge failed") {
		return true, nil
	}
	return false, runErr
}

// MergeInProgress reports whether a merge is underway at RepoDir.
func (g *Gateway) MergeInProgress(ctx context.Context) bool {
	_, err := g.run(ctx, g.RepoDir, "rev-parse", "--verify", "--quiet", "MERGE_HEAD")
	return err == nil
}

// MergeAbort reverts an in-progress merge. No-op when none is underway.
func (g *Gateway) MergeAbort(ctx context.Context) error {
	if !g.MergeInProgress(ctx) {
		return nil
	}
	_, err := g.run(ctx, g.RepoDir, "merge", "--abort")
	return err
}

// UnmergedPaths lists files left conflicted by the current merge, in git's order.
func (g *Gateway) UnmergedPaths(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, g.RepoDir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Add stages paths at RepoDir.
func (g *Gateway) Add(ctx context.Context, paths ...string) error {
	_, err := g.run(ctx, g.RepoDir, append([]string{"add", "--"}, paths...)...)
	return err
}

// Commit records the staged state at RepoDir and returns the new commit SHA.
// name/email override commit attribution when non-empty.
func (g *Gateway) Commit(ctx context.Context, message, name, email string) (string, error) {
	args := []string{}
	if name != "" {
		args = append(args, "-c", "user.name="+name)
	}
	if email != "" {
		args = append(args, "-c", "user.email="+email)
	}
	args = append(args, "commit", "--no-verify", "-m", message)
	if _, err := g.run(ctx, g.RepoDir, args...); err != nil {
		return "", err
	}
	return g.Head(ctx, "")
}
