package sandbox

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"testing"
)

func TestWrapCommand_plainWithoutRepoDir(t *testing.T) {
	t.Parallel()
	cmd := WrapCommand(context.Background(), "", "", "echo", []string{"hi"})
	if !strings.HasSuffix(cmd.Path, "echo") {
		t.Fatalf("expected plain echo command, got %q", cmd.Path)
	}
}

func TestWrapCommand_sandboxedWhenAvailable(t *testing.T) {
	t.Parallel()
	repo := t.TempDir()
	wt := t.TempDir()
	cmd := WrapCommand(context.Background(), repo, wt, "echo", []string{"hi"})

	if runtime.GOOS != "linux" {
		if !strings.HasSuffix(cmd.Path, "echo") {
			t.Fatalf("non-linux should not sandbox, got %q", cmd.Path)
		}
		return
	}
	if _, err := exec.LookPath("bwrap"); err != nil {
		if !strings.HasSuffix(cmd.Path, "echo") {
			t.Fatalf("without bwrap should run plain, got %q", cmd.Path)
		}
		return
	}
	if !strings.Contains(cmd.Path, "bwrap") {
		t.Fatalf("expected bwrap wrapper, got %q", cmd.Path)
	}
	joined := strings.Join(cmd.Args, " ")
	if !strings.Contains(joined, "--ro-bind "+repo) {
		t.Errorf("repo should be read-only: %s", joined)
	}
	if !strings.Contains(joined, "--bind "+wt) {
		t.Errorf("worktree should be writable: %s", joined)
	}
}
