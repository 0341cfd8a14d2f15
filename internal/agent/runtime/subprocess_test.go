package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSubprocessSpawner_Name(t *testing.T) {
	t.Parallel()
	s := SubprocessSpawner{}
	if s.Name() != "subprocess" {
		t.Errorf("Name: got %q", s.Name())
	}
}

func TestSubprocessSpawner_emptyCommand(t *testing.T) {
	t.Parallel()
	s := SubprocessSpawner{}
	_, err := s.Spawn(context.Background(), SpawnConfig{}, nil)
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("want ErrSpawnFailed, got %v", err)
	}
}

func TestSubprocessSpawner_badWorkingDirectory(t *testing.T) {
	t.Parallel()
	s := SubprocessSpawner{Command: "true"}
	_, err := s.Spawn(context.Background(), SpawnConfig{Dir: "/no/such/dir"}, nil)
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("want ErrSpawnFailed, got %v", err)
	}
}

func TestSubprocessSpawner_missingBinary(t *testing.T) {
	t.Parallel()
	s := SubprocessSpawner{Command: "/no/such/binary"}
	_, err := s.Spawn(context.Background(), SpawnConfig{Dir: t.TempDir()}, nil)
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("want ErrSpawnFailed, got %v", err)
	}
}

func TestSubprocessSpawner_streamsOutputInOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script := filepath.Join(dir, "agent.sh")
	content := `#!/bin/sh
read prompt
echo "got: $prompt"
echo "line two"
echo "oops" >&2
`
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	s := SubprocessSpawner{Command: script}
	var stdoutChunks []string
	res, err := s.Spawn(context.Background(), SpawnConfig{Prompt: "hello", Dir: dir}, func(c Chunk) {
		if c.Stream == "stdout" {
			stdoutChunks = append(stdoutChunks, c.Text)
		}
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode: got %d, stderr %q", res.ExitCode, res.Stderr)
	}
	if len(stdoutChunks) != 2 || stdoutChunks[0] != "got: hello" || stdoutChunks[1] != "line two" {
		t.Fatalf("stdout chunks out of order: %v", stdoutChunks)
	}
	if res.Stderr != "oops" {
		t.Fatalf("Stderr: got %q", res.Stderr)
	}
	if res.Elapsed <= 0 {
		t.Fatal("Elapsed not recorded")
	}
}

func TestSubprocessSpawner_nonZeroExitIsAResultNotAnError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script := filepath.Join(dir, "fail.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	s := SubprocessSpawner{Command: script}
	res, err := s.Spawn(context.Background(), SpawnConfig{Dir: dir}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("ExitCode: got %d, want 3", res.ExitCode)
	}
}

func TestSubprocessSpawner_timeoutKillsProcess(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script := filepath.Join(dir, "slow.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	s := SubprocessSpawner{Command: script}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := s.Spawn(ctx, SpawnConfig{Dir: dir}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("process not killed promptly on timeout")
	}
}
