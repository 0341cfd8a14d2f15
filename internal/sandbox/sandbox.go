// Package sandbox confines agent processes so a step can only write inside
// its own worktree.
package sandbox

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
)

// WrapCommand returns an *exec.Cmd that runs binary with args. If repoDir is
// non-empty and bubblewrap (bwrap) is available on Linux, the command runs
// inside a minimal bubblewrap sandbox: the repository is read-only and only
// worktreeDir is writable, so an agent cannot touch the shared history or a
// sibling worktree. Anywhere else this degrades to a plain command.
func WrapCommand(ctx context.Context, repoDir, worktreeDir, binary string, args []string) *exec.Cmd {
	if repoDir == "" || worktreeDir == "" || runtime.GOOS != "linux" {
		return exec.CommandContext(ctx, binary, args...)
	}
	bwrap, err := exec.LookPath("bwrap")
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	absRepo, err := filepath.Abs(repoDir)
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	absWorktree, err := filepath.Abs(worktreeDir)
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	bwrapArgs := []string{
		"--ro-bind", absRepo, absRepo,
		"--bind", absWorktree, absWorktree,
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/lib", "/lib",
		"--ro-bind", "/lib64", "/lib64",
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--unshare-pid",
		"--", binary,
	}
	bwrapArgs = append(bwrapArgs, args...)
	return exec.CommandContext(ctx, bwrap, bwrapArgs...)
}
