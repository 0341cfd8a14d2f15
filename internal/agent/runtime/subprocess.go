package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/MaciWP/treeflow/internal/sandbox"
)

// SubprocessSpawner runs a local agent binary: the prompt goes to stdin,
// stdout and stderr are streamed line by line as Chunks. If SandboxRepoDir is
// set (and bubblewrap is available on Linux), the process runs inside a
// minimal bwrap sandbox where only the step's worktree is writable.
type SubprocessSpawner struct {
	Command        string
	Args           []string
	SandboxRepoDir string // if set, repo is read-only and only cfg.Dir is writable
}

func (s SubprocessSpawner) Name() string { return "subprocess" }

func (s SubprocessSpawner) Spawn(ctx context.Context, cfg SpawnConfig, emit func(Chunk)) (SpawnResult, error) {
	if s.Command == "" {
		return SpawnResult{}, fmt.Errorf("%w: command is required", ErrSpawnFailed)
	}
	if cfg.Dir != "" {
		if fi, err := os.Stat(cfg.Dir); err != nil || !fi.IsDir() {
			return SpawnResult{}, fmt.Errorf("%w: working directory %s", ErrSpawnFailed, cfg.Dir)
		}
	}

	var cmd *exec.Cmd
	if s.SandboxRepoDir != "" {
		cmd = sandbox.WrapCommand(ctx, s.SandboxRepoDir, cfg.Dir, s.Command, s.Args)
	} else {
		cmd = exec.CommandContext(ctx, s.Command, s.Args...)
	}
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(),
		"TREEFLOW_MODEL="+cfg.Model,
		"TREEFLOW_SESSION_ID="+cfg.SessionID,
	)
	cmd.Stdin = strings.NewReader(cfg.Prompt + "\n")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return SpawnResult{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return SpawnResult{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return SpawnResult{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	// emit may be called from both stream readers; serialize it so chunk
	// delivery order matches production order within each stream.
	var emitMu sync.Mutex
	var out, errOut strings.Builder
	var wg sync.WaitGroup
	read := func(stream string, r *bufio.Scanner, sink *strings.Builder) {
		defer wg.Done()
		for r.Scan() {
			line := r.Text()
			emitMu.Lock()
			sink.WriteString(line)
			sink.WriteString("\n")
			if emit != nil {
				emit(Chunk{Stream: stream, Text: line, Timestamp: time.Now().UTC()})
			}
			emitMu.Unlock()
		}
	}
	wg.Add(2)
	go read("stdout", bufio.NewScanner(stdout), &out)
	go read("stderr", bufio.NewScanner(stderr), &errOut)

	// If the context kills the agent but an orphaned child still holds the
	// pipes, force-close them after a short grace so Spawn cannot hang.
	readersDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			grace := time.NewTimer(2 * time.Second)
			defer grace.Stop()
			select {
			case <-grace.C:
				_ = stdout.Close()
				_ = stderr.Close()
			case <-readersDone:
			}
		case <-readersDone:
		}
	}()
	wg.Wait()
	close(readersDone)

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	result := SpawnResult{
		Output:  strings.TrimRight(out.String(), "\n"),
		Stderr:  strings.TrimRight(errOut.String(), "\n"),
		Elapsed: elapsed,
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, ctxErr
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, waitErr
	}
	return result, nil
}
