package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// initRepo creates a real git repository with one commit on main.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustGit(t, dir, "init", "-b", "main")
	mustGit(t, dir, "config", "user.name", "test")
	mustGit(t, dir, "config", "user.email", "test@example.com")
	writeFile(t, dir, "README.md", "hello\n")
	mustGit(t, dir, "add", ".")
	mustGit(t, dir, "commit", "-m", "initial")
	return dir
}

func mustGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewGateway_notARepo(t *testing.T) {
	t.Parallel()
	if _, err := NewGateway(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error for non-repo dir")
	}
}

func TestRevParse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	g, err := NewGateway(ctx, repo)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	sha, err := g.RevParse(ctx, "HEAD")
	if err != nil {
		t.Fatalf("RevParse HEAD: %v", err)
	}
	if len(sha) != 40 {
		t.Fatalf("RevParse HEAD: got %q", sha)
	}
	if _, err := g.RevParse(ctx, "no-such-ref"); err == nil {
		t.Fatal("expected error for bad ref")
	}
}

func TestWorktreeAddListRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	g, _ := NewGateway(ctx, repo)

	wt := filepath.Join(t.TempDir(), "wt1")
	if err := g.WorktreeAdd(ctx, wt, "feature/x", "main"); err != nil {
		t.Fatalf("WorktreeAdd: %v", err)
	}
	entries, err := g.WorktreeList(ctx)
	if err != nil {
		t.Fatalf("WorktreeList: %v", err)
	}
	// main checkout plus the new worktree
	if len(entries) != 2 {
		t.Fatalf("WorktreeList: got %d entries, want 2", len(entries))
	}
	var found bool
	for _, e := range entries {
		if e.Branch == "feature/x" {
			found = true
			if e.Head == "" {
				t.Error("worktree entry missing HEAD")
			}
		}
	}
	if !found {
		t.Fatalf("worktree for feature/x not listed: %+v", entries)
	}

	// Adding a second worktree on the same branch must fail (git enforces it).
	if err := g.WorktreeAdd(ctx, filepath.Join(t.TempDir(), "wt2"), "feature/x", "main"); err == nil {
		t.Fatal("expected error creating branch that already exists")
	}

	if err := g.WorktreeRemove(ctx, wt, false); err != nil {
		t.Fatalf("WorktreeRemove: %v", err)
	}
	entries, _ = g.WorktreeList(ctx)
	if len(entries) != 1 {
		t.Fatalf("after remove: got %d entries, want 1", len(entries))
	}
}

func TestIsDirty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	g, _ := NewGateway(ctx, repo)

	dirty, err := g.IsDirty(ctx, "")
	if err != nil {
		t.Fatalf("IsDirty: %v", err)
	}
	if dirty {
		t.Fatal("fresh repo should be clean")
	}
	writeFile(t, repo, "new.txt", "x\n")
	dirty, err = g.IsDirty(ctx, "")
	if err != nil {
		t.Fatalf("IsDirty: %v", err)
	}
	if !dirty {
		t.Fatal("untracked file should make repo dirty")
	}
}

func TestMergeConflictCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	g, _ := NewGateway(ctx, repo)

	// Branch edits README one way, main the other.
	mustGit(t, repo, "checkout", "-b", "feature/y")
	writeFile(t, repo, "README.md", "branch side\n")
	mustGit(t, repo, "commit", "-am", "branch edit")
	mustGit(t, repo, "checkout", "main")
	writeFile(t, repo, "README.md", "main side\n")
	mustGit(t, repo, "commit", "-am", "main edit")

	conflicted, err := g.MergeNoCommit(ctx, "feature/y")
	if err != nil {
		t.Fatalf("MergeNoCommit: %v", err)
	}
	if !conflicted {
		t.Fatal("expected conflict")
	}
	if !g.MergeInProgress(ctx) {
		t.Fatal("expected merge in progress")
	}
	paths, err := g.UnmergedPaths(ctx)
	if err != nil {
		t.Fatalf("UnmergedPaths: %v", err)
	}
	if len(paths) != 1 || paths[0] != "README.md" {
		t.Fatalf("UnmergedPaths: got %v", paths)
	}

	if err := g.MergeAbort(ctx); err != nil {
		t.Fatalf("MergeAbort: %v", err)
	}
	if g.MergeInProgress(ctx) {
		t.Fatal("merge should be aborted")
	}
	// Abort again is a no-op.
	if err := g.MergeAbort(ctx); err != nil {
		t.Fatalf("MergeAbort idempotent: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(repo, "README.md"))
	if string(data) != "main side\n" {
		t.Fatalf("abort should restore target content, got %q", data)
	}
}

func TestMergeNoCommit_clean(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	g, _ := NewGateway(ctx, repo)

	mustGit(t, repo, "checkout", "-b", "feature/z")
	writeFile(t, repo, "other.txt", "z\n")
	mustGit(t, repo, "add", ".")
	mustGit(t, repo, "commit", "-m", "add other")
	mustGit(t, repo, "checkout", "main")

	conflicted, err := g.MergeNoCommit(ctx, "feature/z")
	if err != nil {
		t.Fatalf("MergeNoCommit: %v", err)
	}
	if conflicted {
		t.Fatal("unexpected conflict")
	}
	if !g.MergeInProgress(ctx) {
		t.Fatal("expected MERGE_HEAD after --no-commit --no-ff")
	}
	sha, err := g.Commit(ctx, "merge feature/z", "bot", "bot@example.com")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(sha) != 40 {
		t.Fatalf("Commit: got %q", sha)
	}
}

func TestCurrentBranch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	g, _ := NewGateway(ctx, repo)
	br, err := g.CurrentBranch(ctx, "")
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if br != "main" {
		t.Fatalf("CurrentBranch: got %q", br)
	}
}

func TestRunError_taggedWithOperation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := initRepo(t)
	g, _ := NewGateway(ctx, repo)
	err := g.WorktreeRemove(ctx, "/no/such/worktree", false)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "git worktree") {
		t.Fatalf("error not tagged with operation: %v", err)
	}
}
