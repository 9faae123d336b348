// Package manager is the task submission facade: it creates tasks and drives each one
// through the pipeline on its own goroutine.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ankittk/researcher/internal/archive"
	"github.com/ankittk/researcher/internal/events"
	"github.com/ankittk/researcher/internal/otel"
	"github.com/ankittk/researcher/internal/task"
)

// ErrEmptyQuery is returned by CreateTask for a blank query.
var ErrEmptyQuery = errors.New("query must not be empty")

// archiveTimeout bounds the best-effort snapshot write after a task finishes.
const archiveTimeout = 10 * time.Second

// Runner executes the pipeline for one task. *pipeline.Executor implements it.
type Runner interface {
	Run(ctx context.Context, taskID, query string, forced *task.Mode) (string, error)
}

// Options configures a Manager. Store and Runner are required.
type Options struct {
	Store   *task.Store
	Runner  Runner
	Archive archive.Archive  // optional; receives terminal snapshots
	Events  events.Publisher // optional; receives task_update events
}

// Manager accepts queries and runs them in the background.
type Manager struct {
	store   *task.Store
	runner  Runner
	archive archive.Archive
	events  events.Publisher

	wg sync.WaitGroup
}

// New returns a Manager. It panics when Store or Runner is nil.
func New(opts Options) *Manager {
	if opts.Store == nil || opts.Runner == nil {
		panic("manager: Store and Runner are required")
	}
	m := &Manager{store: opts.Store, runner: opts.Runner, archive: opts.Archive, events: opts.Events}
	if m.archive == nil {
		m.archive = archive.None{}
	}
	if m.events == nil {
		m.events = events.Discard{}
	}
	return m
}

// Store returns the live task store.
func (m *Manager) Store() *task.Store { return m.store }

// CreateTask records a pending task and starts it in the background. It returns as soon as
// the record exists; the task keeps running after ctx is done.
func (m *Manager) CreateTask(ctx context.Context, query string, forced *task.Mode) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}
	if forced != nil {
		mode, err := task.ParseMode(string(*forced))
		if err != nil {
			return "", err
		}
		forced = &mode
	}
	id := m.store.Create(query)
	otel.RecordTaskOp(ctx, "create", string(task.StatusPending))
	m.events.PublishJSON(events.TaskUpdate(id, string(task.StatusPending)))
	slog.Info("task created", "task_id", id, "forced_mode", modeAttr(forced))

	m.wg.Add(1)
	go m.drive(context.WithoutCancel(ctx), id, query, forced)
	return id, nil
}

// GetTask returns the current snapshot of a task. Tasks finished by an earlier process are
// served from the archive.
func (m *Manager) GetTask(ctx context.Context, id string) (task.View, error) {
	v, err := m.store.Get(id)
	if err == nil || !errors.Is(err, task.ErrNotFound) {
		return v, err
	}
	v, aerr := m.archive.Get(ctx, id)
	if aerr == nil {
		return v, nil
	}
	if !errors.Is(aerr, archive.ErrNotFound) {
		slog.Warn("archive lookup failed", "task_id", id, "err", aerr)
	}
	return task.View{}, err
}

// ListTasks returns up to limit live tasks, newest first. A non-positive limit returns all.
func (m *Manager) ListTasks(limit int) []task.View {
	return m.store.List(limit)
}

// Wait blocks until every started task has reached a terminal state.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) drive(ctx context.Context, id, query string, forced *task.Mode) {
	defer m.wg.Done()
	start := time.Now()

	if !m.transition(ctx, id, "start", func(r *task.Record) error { return r.MarkRunning() }) {
		return
	}

	result, err := m.run(ctx, id, query, forced)
	if err != nil {
		m.transition(ctx, id, "fail", func(r *task.Record) error { return r.Fail(err.Error()) })
		slog.Warn("task failed", "task_id", id, "duration_ms", time.Since(start).Milliseconds(), "err", err)
	} else {
		m.transition(ctx, id, "succeed", func(r *task.Record) error { return r.Succeed(result) })
		slog.Info("task succeeded", "task_id", id, "duration_ms", time.Since(start).Milliseconds())
	}
	m.archiveSnapshot(ctx, id)
}

// run calls the runner, turning a panic into an error so the task still terminates.
func (m *Manager) run(ctx context.Context, id, query string, forced *task.Mode) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("pipeline panic", "task_id", id, "panic", p)
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	return m.runner.Run(ctx, id, query, forced)
}

func (m *Manager) transition(ctx context.Context, id, op string, fn func(*task.Record) error) bool {
	var status task.Status
	err := m.store.Update(id, func(r *task.Record) error {
		if err := fn(r); err != nil {
			return err
		}
		status = r.Status
		return nil
	})
	if err != nil {
		slog.Error("task transition failed", "task_id", id, "op", op, "err", err)
		return false
	}
	otel.RecordTaskOp(ctx, op, string(status))
	m.events.PublishJSON(events.TaskUpdate(id, string(status)))
	return true
}

func (m *Manager) archiveSnapshot(ctx context.Context, id string) {
	v, err := m.store.Get(id)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()
	if err := m.archive.Save(ctx, v); err != nil {
		slog.Warn("archive save failed", "task_id", id, "err", err)
	}
}

func modeAttr(m *task.Mode) string {
	if m == nil {
		return "auto"
	}
	return string(*m)
}
