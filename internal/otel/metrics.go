package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	taskOpsCounter      metric.Int64Counter
	attemptsCounter     metric.Int64Counter
	stageDuration       metric.Float64Histogram
	sseConnectionsGauge metric.Int64ObservableGauge
	sseEventsCounter    metric.Int64Counter
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		taskOpsCounter, err = m.Int64Counter("researcher_task_operations_total", metric.WithDescription("Task lifecycle operations (create, start, succeed, fail)"))
		if err != nil {
			return
		}
		attemptsCounter, err = m.Int64Counter("researcher_attempts_total", metric.WithDescription("Pipeline attempts by mode and validator verdict"))
		if err != nil {
			return
		}
		stageDuration, err = m.Float64Histogram("researcher_stage_duration_seconds", metric.WithDescription("Stage run duration in seconds"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("researcher_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("researcher_sse_connections", metric.WithDescription("Current SSE subscriber count"))
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
	})
	return err
}

// RecordTaskOp records a task lifecycle operation and the status it left the task in.
func RecordTaskOp(ctx context.Context, op, status string) {
	if taskOpsCounter == nil {
		return
	}
	taskOpsCounter.Add(ctx, 1, metric.WithAttributes(AttrOperation.String(op), AttrStatus.String(status)))
}

// RecordAttempt records one finished pipeline attempt.
func RecordAttempt(ctx context.Context, mode, verdict string) {
	if attemptsCounter == nil {
		return
	}
	attemptsCounter.Add(ctx, 1, metric.WithAttributes(AttrMode.String(mode), AttrVerdict.String(verdict)))
}

// RecordStage records how long one stage run took and whether it failed.
func RecordStage(ctx context.Context, stage string, duration time.Duration, err error) {
	if stageDuration == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrStage.String(stage), AttrOutcome.String(outcome)))
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

// TaskCountFunc returns the number of live tasks keyed by status.
type TaskCountFunc func() map[string]int64

// InitMetricsWithTaskCount creates instruments and, when taskCount is non-nil, registers
// the researcher_tasks gauge fed by it.
func InitMetricsWithTaskCount(ctx context.Context, taskCount TaskCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if taskCount == nil {
		return nil
	}
	m := Meter()
	tasksGauge, err := m.Int64ObservableGauge("researcher_tasks", metric.WithDescription("Number of live tasks by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for status, n := range taskCount() {
			o.ObserveInt64(tasksGauge, n, metric.WithAttributes(AttrStatus.String(status)))
		}
		return nil
	}, tasksGauge)
	return err
}
