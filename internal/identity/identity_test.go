package identity

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestPath(t *testing.T) {
	t.Parallel()
	if got := Path("/home"); got != filepath.Join("/home", "identity.yaml") {
		t.Fatalf("Path: got %q", got)
	}
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	home := t.TempDir()

	c, err := Load(home)
	if err != nil || c != nil {
		t.Fatalf("Load on empty home: %v, %+v", err, c)
	}

	want := Committer{Name: "Alice", Email: "alice@example.com", Source: "git"}
	if err := Save(home, &want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || *got != want {
		t.Fatalf("Load: got %+v, want %+v", got, want)
	}
}

func TestDetectFromGit(t *testing.T) {
	t.Parallel()
	repo := t.TempDir()
	mustGit(t, repo, "init")
	mustGit(t, repo, "config", "user.name", "Test User")
	mustGit(t, repo, "config", "user.email", "test@example.com")

	c := DetectFromGit(repo)
	if c.Name != "Test User" || c.Email != "test@example.com" || c.Source != "git" {
		t.Fatalf("DetectFromGit: %+v", c)
	}
}

func TestResolve_cachesDetection(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	repo := t.TempDir()
	mustGit(t, repo, "init")
	mustGit(t, repo, "config", "user.name", "First")
	mustGit(t, repo, "config", "user.email", "first@example.com")

	c, err := Resolve(home, repo)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.Name != "First" {
		t.Fatalf("Resolve: %+v", c)
	}

	// A later config change does not affect the cached identity.
	mustGit(t, repo, "config", "user.name", "Second")
	c2, err := Resolve(home, repo)
	if err != nil {
		t.Fatalf("Resolve (cached): %v", err)
	}
	if c2.Name != "First" {
		t.Fatalf("cached identity changed: %+v", c2)
	}
	if _, err := os.Stat(Path(home)); err != nil {
		t.Fatalf("identity file missing: %v", err)
	}
}

func mustGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
}
