package task

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ankittk/researcher/internal/events"
)

var errAttemptRange = errors.New("attempt number out of range")

// Recorder turns pipeline progress into Details mutations. Every mutation is a single
// Store.Update, so a concurrent Get never sees a half-written attempt. Recording is
// best-effort: failures are logged and dropped, never returned to the pipeline.
type Recorder struct {
	Store  *Store
	Events events.Publisher // optional; receives a task_step event per recorded step
}

// SetMode records the mode of the current attempt, overwriting an earlier one.
func (r *Recorder) SetMode(id string, mode Mode) {
	r.update(id, "set_mode", func(rec *Record) error {
		m := mode
		rec.ensureDetails().Mode = &m
		return nil
	})
}

// AppendThought adds a line to the flat, human-readable thoughts log.
func (r *Recorder) AppendThought(id, message string) {
	r.update(id, "append_thought", func(rec *Record) error {
		d := rec.ensureDetails()
		if d.Thoughts == "" {
			d.Thoughts = message
		} else {
			d.Thoughts += "\n" + message
		}
		return nil
	})
}

// AddStep appends a step to attempt number. Asking for the attempt after the last one
// opens it; any still-open previous attempt is closed as failed first so only the last
// attempt can be in progress. Numbers that would leave a gap are dropped.
func (r *Recorder) AddStep(id string, attempt int, typ StepType, message string, data StepData) {
	var step Step
	ok := r.update(id, "add_step", func(rec *Record) error {
		n := 0
		if rec.Details != nil {
			n = len(rec.Details.Attempts)
		}
		if attempt < 1 || attempt > n+1 {
			return fmt.Errorf("%w: %d (have %d)", errAttemptRange, attempt, n)
		}
		d := rec.ensureDetails()
		if attempt == n+1 {
			if n > 0 && d.Attempts[n-1].Status == AttemptInProgress {
				d.Attempts[n-1].Status = AttemptFailed
			}
			d.Attempts = append(d.Attempts, Attempt{Number: attempt, Status: AttemptInProgress, Steps: []Step{}})
		}
		step = Step{Type: typ, Message: message, Timestamp: r.Store.now(), Data: data}
		a := &d.Attempts[attempt-1]
		a.Steps = append(a.Steps, step)
		return nil
	})
	if ok && r.Events != nil {
		r.Events.PublishJSON(map[string]any{
			"type":    "task_step",
			"task_id": id,
			"attempt": attempt,
			"step":    step,
		})
	}
}

// SetAttemptStatus closes attempt number as completed or failed. An attempt that is
// already closed keeps its status, and unknown attempt numbers are ignored.
func (r *Recorder) SetAttemptStatus(id string, attempt int, status AttemptStatus) {
	if status == AttemptInProgress {
		return
	}
	r.update(id, "set_attempt_status", func(rec *Record) error {
		if rec.Details == nil || attempt < 1 || attempt > len(rec.Details.Attempts) {
			return nil
		}
		a := &rec.Details.Attempts[attempt-1]
		if a.Status == AttemptInProgress {
			a.Status = status
		}
		return nil
	})
}

func (r *Recorder) update(id, op string, fn func(*Record) error) bool {
	if r == nil || r.Store == nil {
		return false
	}
	err := r.Store.Update(id, fn)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrNotFound):
		slog.Error("progress update for unknown task", "task_id", id, "op", op)
	default:
		slog.Warn("progress update dropped", "task_id", id, "op", op, "err", err)
	}
	return false
}
