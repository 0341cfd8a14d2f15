package runtime

import (
	"context"
	"time"
)

// StubSpawner is a deterministic Spawner that emits plausible chunks without
// spawning real processes. Script, when set, replaces the default behavior
// entirely; otherwise the stub waits Delay (honoring ctx) and reports ExitCode.
type StubSpawner struct {
	Delay    time.Duration
	ExitCode int
	Err      error
	Script   func(ctx context.Context, cfg SpawnConfig, emit func(Chunk)) (SpawnResult, error)
}

func (s StubSpawner) Name() string { return "stub" }

func (s StubSpawner) Spawn(ctx context.Context, cfg SpawnConfig, emit func(Chunk)) (SpawnResult, error) {
	if s.Script != nil {
		return s.Script(ctx, cfg, emit)
	}
	start := time.Now()
	if emit != nil {
		emit(Chunk{Stream: "stdout", Text: "stub: started", Timestamp: start.UTC()})
	}
	sleep(ctx, s.Delay)
	if err := ctx.Err(); err != nil {
		return SpawnResult{ExitCode: -1, Elapsed: time.Since(start)}, err
	}
	if s.Err != nil {
		return SpawnResult{}, s.Err
	}
	if emit != nil {
		emit(Chunk{Stream: "stdout", Text: "stub: ok", Timestamp: time.Now().UTC()})
	}
	return SpawnResult{ExitCode: s.ExitCode, Output: "stub: ok", Elapsed: time.Since(start)}, nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
