// Package pipeline drives one task through routing, answering and validation, retrying
// on a negative verdict up to a configured number of attempts.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ankittk/researcher/internal/task"
)

// Verdict is the validator's judgement of an answer.
type Verdict string

const (
	VerdictYes Verdict = "yes"
	VerdictNo  Verdict = "no"
)

// Decomposition is the metadata a decomposer reports alongside its sub-questions.
type Decomposition struct {
	Reasoning string
	Total     int
}

// FactSet is the facts extracted for one sub-question.
type FactSet struct {
	Question string
	Summary  string
	Facts    []string
}

// State is the working state of one attempt. Stages never mutate it; they return a
// Delta which the executor folds into the next State.
type State struct {
	Input              string
	Decision           task.Mode
	Output             string
	SubQuestions       []string
	Decomposition      *Decomposition
	Facts              []FactSet
	Verdict            Verdict
	ValidationAttempts int
}

// Delta is a partial state update. Nil fields leave the state unchanged.
type Delta struct {
	Decision      *task.Mode
	Output        *string
	SubQuestions  []string
	Decomposition *Decomposition
	Facts         []FactSet
	Verdict       *Verdict
}

// Apply returns a copy of s with d folded in.
func (s State) Apply(d Delta) State {
	next := s
	if d.Decision != nil {
		next.Decision = *d.Decision
	}
	if d.Output != nil {
		next.Output = *d.Output
	}
	if d.SubQuestions != nil {
		next.SubQuestions = append([]string(nil), d.SubQuestions...)
	}
	if d.Decomposition != nil {
		dec := *d.Decomposition
		next.Decomposition = &dec
	}
	if d.Facts != nil {
		next.Facts = append([]FactSet(nil), d.Facts...)
	}
	if d.Verdict != nil {
		next.Verdict = *d.Verdict
	}
	return next
}

// DecisionDelta sets the routing decision.
func DecisionDelta(m task.Mode) Delta { return Delta{Decision: &m} }

// OutputDelta sets the answer text.
func OutputDelta(s string) Delta { return Delta{Output: &s} }

// VerdictDelta sets the validation verdict.
func VerdictDelta(v Verdict) Delta { return Delta{Verdict: &v} }

// Stage is one pluggable step of the pipeline. Implementations hold no task state and
// only report results through the returned Delta.
type Stage interface {
	Name() string
	Run(ctx context.Context, st State) (Delta, error)
}

// StageFunc adapts a function to Stage.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, st State) (Delta, error)
}

func (f StageFunc) Name() string { return f.StageName }

func (f StageFunc) Run(ctx context.Context, st State) (Delta, error) { return f.Fn(ctx, st) }

// Stages is the full set the executor needs. Decompose, Facts and Aggregate together
// form the research composite.
type Stages struct {
	Router    Stage
	Direct    Stage
	Decompose Stage
	Facts     Stage
	Aggregate Stage
	Validate  Stage
}

// Check reports the first missing stage.
func (s Stages) Check() error {
	for _, c := range []struct {
		name  string
		stage Stage
	}{
		{"router", s.Router},
		{"direct", s.Direct},
		{"decompose", s.Decompose},
		{"facts", s.Facts},
		{"aggregate", s.Aggregate},
		{"validate", s.Validate},
	} {
		if c.stage == nil {
			return fmt.Errorf("pipeline: %s stage not configured", c.name)
		}
	}
	return nil
}

// ErrValidationExhausted is the task error when every attempt was rejected and no
// usable answer was produced.
var ErrValidationExhausted = errors.New("validation failed after maximum attempts")

// StageError wraps a failure raised by a stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }
