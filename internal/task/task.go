// Package task holds the in-memory task registry and the structured progress log that
// the pipeline writes while a query is being answered.
package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Mode is the processing pipeline chosen for an attempt.
type Mode string

const (
	ModeDirect   Mode = "direct"
	ModeResearch Mode = "research"
)

// ParseMode accepts "direct"/"research" and the legacy front-end names "simple"/"pro".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "simple":
		return ModeDirect, nil
	case "research", "pro":
		return ModeResearch, nil
	}
	return "", fmt.Errorf("unknown mode %q (want direct or research)", s)
}

// AttemptStatus is the state of one pass through the retry loop.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptFailed     AttemptStatus = "failed"
)

// StepType tags a progress step. The set is open; these are the ones the pipeline emits.
type StepType string

const (
	StepMode          StepType = "mode"
	StepProgress      StepType = "progress"
	StepDecomposition StepType = "decomposition"
	StepValidation    StepType = "validation"
	StepWarning       StepType = "warning"
	StepError         StepType = "error"
	StepCompletion    StepType = "completion"
)

var (
	// ErrNotFound is returned for task ids the store never issued.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a status change would leave a terminal state
	// or skip the running state.
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Step is one progress event inside an attempt.
type Step struct {
	Type      StepType  `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Data      StepData  `json:"data,omitempty"`
}

// Attempt groups the steps of one routing/answer/validation pass.
type Attempt struct {
	Number int           `json:"number"`
	Status AttemptStatus `json:"status"`
	Steps  []Step        `json:"steps"`
}

// Details is attached to a record once the pipeline starts reporting progress.
type Details struct {
	Mode     *Mode     `json:"mode"`
	Thoughts string    `json:"thoughts"`
	Attempts []Attempt `json:"attempts"`
}

// Record is the store-owned task. Callers only ever see it inside Store.Update.
type Record struct {
	ID        string
	Query     string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	Result    *string
	Error     *string
	Details   *Details
}

// View is an immutable snapshot of a record, safe to hand to any goroutine.
type View struct {
	TaskID    string    `json:"task_id"`
	Query     string    `json:"query"`
	Status    Status    `json:"status"`
	Details   *Details  `json:"details"`
	Result    *string   `json:"result"`
	Error     *string   `json:"error"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MarkRunning moves a pending task to running.
func (r *Record) MarkRunning() error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusRunning)
	}
	r.Status = StatusRunning
	return nil
}

// Succeed records the final answer. Only a running task can succeed.
func (r *Record) Succeed(result string) error {
	if r.Status != StatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusSucceeded)
	}
	r.Status = StatusSucceeded
	r.Result = &result
	r.Error = nil
	return nil
}

// Fail records a failure message. Pending and running tasks can fail. An attempt still
// in progress is closed as failed, so a failed task never shows an open attempt.
func (r *Record) Fail(msg string) error {
	if r.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusFailed)
	}
	r.Status = StatusFailed
	r.Error = &msg
	r.Result = nil
	if r.Details != nil {
		for i := range r.Details.Attempts {
			if r.Details.Attempts[i].Status == AttemptInProgress {
				r.Details.Attempts[i].Status = AttemptFailed
			}
		}
	}
	return nil
}

// ensureDetails attaches empty details on first use.
func (r *Record) ensureDetails() *Details {
	if r.Details == nil {
		r.Details = &Details{Attempts: []Attempt{}}
	}
	return r.Details
}

func (r *Record) view() View {
	v := View{
		TaskID:    r.ID,
		Query:     r.Query,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Result != nil {
		s := *r.Result
		v.Result = &s
	}
	if r.Error != nil {
		s := *r.Error
		v.Error = &s
	}
	// Details stay hidden until a mode has been chosen.
	if r.Details != nil && r.Details.Mode != nil {
		v.Details = r.Details.clone()
	}
	return v
}

func (d *Details) clone() *Details {
	out := &Details{Thoughts: d.Thoughts}
	if d.Mode != nil {
		m := *d.Mode
		out.Mode = &m
	}
	out.Attempts = make([]Attempt, len(d.Attempts))
	for i, a := range d.Attempts {
		steps := make([]Step, len(a.Steps))
		copy(steps, a.Steps)
		out.Attempts[i] = Attempt{Number: a.Number, Status: a.Status, Steps: steps}
	}
	return out
}

// Terminal reports whether the viewed task has finished.
func (v View) Terminal() bool { return v.Status.Terminal() }
