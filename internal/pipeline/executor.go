package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ankittk/researcher/internal/otel"
	"github.com/ankittk/researcher/internal/task"
)

// DefaultMaxAttempts bounds the retry loop when Executor.MaxAttempts is unset.
const DefaultMaxAttempts = 3

// Executor runs the attempt loop for one task at a time. It is safe to share between
// goroutines: all per-task state lives on the stack of Run.
type Executor struct {
	Stages      Stages
	Recorder    *task.Recorder
	MaxAttempts int
}

func (e *Executor) maxAttempts() int {
	if e.MaxAttempts > 0 {
		return e.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Run answers query, recording progress under taskID. A non-nil forced mode skips the
// router. It returns the accepted answer, the final attempt's answer when every attempt
// was rejected, or an error: a *StageError when a stage failed, ErrValidationExhausted
// when all attempts were rejected and the final attempt produced no answer.
func (e *Executor) Run(ctx context.Context, taskID, query string, forced *task.Mode) (string, error) {
	if err := e.Stages.Check(); err != nil {
		return "", err
	}
	limit := e.maxAttempts()
	var last string

	for n := 1; n <= limit; n++ {
		st, err := e.attempt(ctx, taskID, n, State{Input: query, ValidationAttempts: n}, forced)
		if err != nil {
			e.fail(taskID, n, err)
			return "", err
		}
		last = st.Output
		otel.RecordAttempt(ctx, string(st.Decision), string(st.Verdict))

		if st.Verdict == VerdictYes {
			e.Recorder.SetAttemptStatus(taskID, n, task.AttemptCompleted)
			return st.Output, nil
		}
		if n == limit {
			e.step(taskID, n, task.StepWarning, "Reached maximum validation attempts. Returning last draft.", nil)
			e.Recorder.SetAttemptStatus(taskID, n, task.AttemptCompleted)
			break
		}
		e.step(taskID, n, task.StepProgress, "Validator requested another attempt. Retrying...", nil)
		e.Recorder.SetAttemptStatus(taskID, n, task.AttemptFailed)
		slog.Info("answer rejected, retrying", "task_id", taskID, "attempt", n, "mode", st.Decision)
	}

	if strings.TrimSpace(last) == "" {
		return "", ErrValidationExhausted
	}
	return last, nil
}

func (e *Executor) attempt(ctx context.Context, taskID string, n int, st State, forced *task.Mode) (State, error) {
	var err error
	if forced != nil {
		st.Decision = *forced
		e.Recorder.SetMode(taskID, *forced)
		e.step(taskID, n, task.StepMode, fmt.Sprintf("Forced mode set to %s.", modeLabel(*forced)), nil)
	} else {
		if st, err = e.run(ctx, e.Stages.Router, st); err != nil {
			return st, err
		}
		if st.Decision != task.ModeDirect && st.Decision != task.ModeResearch {
			return st, &StageError{Stage: e.Stages.Router.Name(), Err: fmt.Errorf("unknown decision %q", st.Decision)}
		}
		e.Recorder.SetMode(taskID, st.Decision)
		e.step(taskID, n, task.StepMode, fmt.Sprintf("Routed query to %s mode.", modeLabel(st.Decision)), nil)
	}

	switch st.Decision {
	case task.ModeResearch:
		if st, err = e.research(ctx, taskID, n, st); err != nil {
			return st, err
		}
	default:
		if st, err = e.run(ctx, e.Stages.Direct, st); err != nil {
			return st, err
		}
		e.step(taskID, n, task.StepCompletion, "Direct mode produced an answer.", nil)
	}

	if strings.TrimSpace(st.Output) == "" {
		st.Verdict = VerdictNo
		e.step(taskID, n, task.StepValidation, "Validator response: no (empty answer, validation skipped).", nil)
		return st, nil
	}
	if st, err = e.run(ctx, e.Stages.Validate, st); err != nil {
		return st, err
	}
	if st.Verdict != VerdictYes {
		st.Verdict = VerdictNo
	}
	e.step(taskID, n, task.StepValidation, fmt.Sprintf("Validator response: %s.", st.Verdict), nil)
	return st, nil
}

// research runs the decompose, facts and aggregate composite.
func (e *Executor) research(ctx context.Context, taskID string, n int, st State) (State, error) {
	var err error
	if st, err = e.run(ctx, e.Stages.Decompose, st); err != nil {
		return st, err
	}
	if st.Decomposition != nil {
		data := task.DecompositionData{
			Reasoning:         st.Decomposition.Reasoning,
			TotalSubquestions: st.Decomposition.Total,
			Subquestions:      make([]task.Subquestion, 0, len(st.SubQuestions)),
		}
		var b strings.Builder
		fmt.Fprintf(&b, "[Attempt %d] Query decomposition:\nReasoning: %s\nTotal subquestions: %d", n, st.Decomposition.Reasoning, st.Decomposition.Total)
		for i, q := range st.SubQuestions {
			data.Subquestions = append(data.Subquestions, task.Subquestion{Number: i + 1, Text: q})
			fmt.Fprintf(&b, "\n%d. %s", i+1, q)
		}
		e.Recorder.AppendThought(taskID, b.String())
		e.Recorder.AddStep(taskID, n, task.StepDecomposition, fmt.Sprintf("[Attempt %d] Query decomposed into %d subquestions.", n, len(st.SubQuestions)), data)
	} else {
		e.step(taskID, n, task.StepWarning, "WARNING: decomposition metadata not found.", nil)
	}

	e.step(taskID, n, task.StepProgress, "Retrieving facts for subquestions...", nil)
	if st, err = e.run(ctx, e.Stages.Facts, st); err != nil {
		return st, err
	}
	facts := 0
	for _, fs := range st.Facts {
		facts += len(fs.Facts)
	}
	e.step(taskID, n, task.StepProgress, fmt.Sprintf("Facts retrieved: %d fact sets collected.", len(st.Facts)),
		task.FactsData{FactSets: len(st.Facts), Facts: facts})

	e.step(taskID, n, task.StepProgress, "Aggregating facts into final answer...", nil)
	if st, err = e.run(ctx, e.Stages.Aggregate, st); err != nil {
		return st, err
	}
	e.step(taskID, n, task.StepCompletion, "Answer synthesized successfully.", nil)
	if strings.TrimSpace(st.Output) == "" {
		e.step(taskID, n, task.StepWarning, "WARNING: answer is empty after aggregation.", nil)
	}
	e.step(taskID, n, task.StepCompletion, "Research mode collected and synthesized information.", nil)
	return st, nil
}

// run invokes one stage and folds its delta into st. On error st is returned unchanged.
func (e *Executor) run(ctx context.Context, s Stage, st State) (State, error) {
	start := time.Now()
	d, err := s.Run(ctx, st)
	otel.RecordStage(ctx, s.Name(), time.Since(start), err)
	if err != nil {
		return st, &StageError{Stage: s.Name(), Err: err}
	}
	return st.Apply(d), nil
}

// fail records err against attempt n and closes it as failed.
func (e *Executor) fail(taskID string, n int, err error) {
	msg := err.Error()
	var se *StageError
	data := task.ErrorData{Error: msg}
	if errors.As(err, &se) {
		data.Stage = se.Stage
		data.Error = se.Err.Error()
	}
	e.Recorder.AppendThought(taskID, fmt.Sprintf("[Attempt %d] ERROR: %s", n, msg))
	e.Recorder.AddStep(taskID, n, task.StepError, fmt.Sprintf("[Attempt %d] ERROR: %s", n, msg), data)
	e.Recorder.SetAttemptStatus(taskID, n, task.AttemptFailed)
	slog.Warn("pipeline attempt failed", "task_id", taskID, "attempt", n, "err", err)
}

// step records a step whose message is prefixed with the attempt number, and mirrors the
// message into the thoughts log.
func (e *Executor) step(taskID string, n int, typ task.StepType, message string, data task.StepData) {
	msg := fmt.Sprintf("[Attempt %d] %s", n, message)
	e.Recorder.AppendThought(taskID, msg)
	e.Recorder.AddStep(taskID, n, typ, msg, data)
}

func modeLabel(m task.Mode) string { return strings.ToUpper(string(m)) }
