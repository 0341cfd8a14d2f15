package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	workflowRunsCounter metric.Int64Counter
	workflowDuration    metric.Float64Histogram
	stepAttemptsCounter metric.Int64Counter
	stepDuration        metric.Float64Histogram
	worktreeOpsCounter  metric.Int64Counter
	mergeConflicts      metric.Int64Counter
	sseEventsCounter    metric.Int64Counter
	sseConnectionsGauge metric.Int64ObservableGauge
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		workflowRunsCounter, err = m.Int64Counter("treeflow_workflow_runs_total", metric.WithDescription("Total workflow runs by terminal status"))
		if err != nil {
			return
		}
		workflowDuration, err = m.Float64Histogram("treeflow_workflow_duration_seconds", metric.WithDescription("Workflow run duration in seconds"))
		if err != nil {
			return
		}
		stepAttemptsCounter, err = m.Int64Counter("treeflow_step_attempts_total", metric.WithDescription("Total step attempts, including retries"))
		if err != nil {
			return
		}
		stepDuration, err = m.Float64Histogram("treeflow_step_attempt_duration_seconds", metric.WithDescription("Step attempt duration in seconds"))
		if err != nil {
			return
		}
		worktreeOpsCounter, err = m.Int64Counter("treeflow_worktree_operations_total", metric.WithDescription("Total worktree operations (create, remove, etc.)"))
		if err != nil {
			return
		}
		mergeConflicts, err = m.Int64Counter("treeflow_merge_conflicts_total", metric.WithDescription("Total conflicts surfaced by merge detection"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("treeflow_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("treeflow_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordWorkflowRun records a workflow reaching a terminal status.
func RecordWorkflowRun(ctx context.Context, status string, duration time.Duration) {
	if workflowRunsCounter != nil {
		workflowRunsCounter.Add(ctx, 1, metric.WithAttributes(AttrStatus.String(status)))
	}
	if workflowDuration != nil {
		workflowDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrStatus.String(status)))
	}
}

// RecordStepAttempt records one step attempt and its duration.
func RecordStepAttempt(ctx context.Context, model string, ok bool, duration time.Duration) {
	status := "failed"
	if ok {
		status = "completed"
	}
	if stepAttemptsCounter != nil {
		stepAttemptsCounter.Add(ctx, 1, metric.WithAttributes(AttrModel.String(model), AttrStatus.String(status)))
	}
	if stepDuration != nil {
		stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrModel.String(model), AttrStatus.String(status)))
	}
}

// RecordWorktreeOp records a worktree operation (create, remove, reconcile).
func RecordWorktreeOp(ctx context.Context, op, branch string) {
	if worktreeOpsCounter != nil {
		worktreeOpsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			AttrBranch.String(branch),
		))
	}
}

// RecordMergeConflicts records the conflict count of one detection pass.
func RecordMergeConflicts(ctx context.Context, branch string, n int) {
	if mergeConflicts != nil && n > 0 {
		mergeConflicts.Add(ctx, int64(n), metric.WithAttributes(AttrBranch.String(branch)))
	}
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}
