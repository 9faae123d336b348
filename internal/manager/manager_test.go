package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankittk/researcher/internal/archive"
	"github.com/ankittk/researcher/internal/pipeline"
	"github.com/ankittk/researcher/internal/task"
)

type script struct {
	route     task.Mode
	answer    string
	verdict   func(n int) (pipeline.Verdict, error)
	aggregate string
	delay     time.Duration
	gate      chan struct{}
}

func (s *script) stages() pipeline.Stages {
	wait := func(ctx context.Context) {
		if s.gate != nil {
			<-s.gate
		}
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
	}
	return pipeline.Stages{
		Router: pipeline.StageFunc{StageName: "router", Fn: func(ctx context.Context, _ pipeline.State) (pipeline.Delta, error) {
			wait(ctx)
			return pipeline.DecisionDelta(s.route), nil
		}},
		Direct: pipeline.StageFunc{StageName: "direct", Fn: func(ctx context.Context, _ pipeline.State) (pipeline.Delta, error) {
			wait(ctx)
			return pipeline.OutputDelta(s.answer), nil
		}},
		Decompose: pipeline.StageFunc{StageName: "decompose", Fn: func(ctx context.Context, _ pipeline.State) (pipeline.Delta, error) {
			wait(ctx)
			return pipeline.Delta{
				SubQuestions:  []string{"first?", "second?"},
				Decomposition: &pipeline.Decomposition{Reasoning: "split", Total: 2},
			}, nil
		}},
		Facts: pipeline.StageFunc{StageName: "facts", Fn: func(ctx context.Context, st pipeline.State) (pipeline.Delta, error) {
			wait(ctx)
			return pipeline.Delta{Facts: []pipeline.FactSet{{Question: st.SubQuestions[0]}, {Question: st.SubQuestions[1]}}}, nil
		}},
		Aggregate: pipeline.StageFunc{StageName: "aggregate", Fn: func(ctx context.Context, _ pipeline.State) (pipeline.Delta, error) {
			wait(ctx)
			return pipeline.OutputDelta(s.aggregate), nil
		}},
		Validate: pipeline.StageFunc{StageName: "validate", Fn: func(ctx context.Context, st pipeline.State) (pipeline.Delta, error) {
			wait(ctx)
			v, err := s.verdict(st.ValidationAttempts)
			if err != nil {
				return pipeline.Delta{}, err
			}
			return pipeline.VerdictDelta(v), nil
		}},
	}
}

func yes(int) (pipeline.Verdict, error) { return pipeline.VerdictYes, nil }

func newManager(t *testing.T, s *script, arch archive.Archive) *Manager {
	t.Helper()
	st := task.NewStore()
	rec := &task.Recorder{Store: st}
	m := New(Options{
		Store:   st,
		Runner:  &pipeline.Executor{Stages: s.stages(), Recorder: rec},
		Archive: arch,
	})
	t.Cleanup(m.Wait)
	return m
}

func modePtr(m task.Mode) *task.Mode { return &m }

func TestManager_ForcedDirectParis(t *testing.T) {
	t.Parallel()
	m := newManager(t, &script{answer: "Paris", verdict: yes}, nil)
	ctx := context.Background()

	id, err := m.CreateTask(ctx, "What is the capital of France?", modePtr(task.ModeDirect))
	require.NoError(t, err)
	m.Wait()

	v, err := m.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, v.Status)
	require.NotNil(t, v.Result)
	assert.Equal(t, "Paris", *v.Result)
	assert.Nil(t, v.Error)
	require.Len(t, v.Details.Attempts, 1)
	assert.Equal(t, task.AttemptCompleted, v.Details.Attempts[0].Status)
}

func TestManager_ForcedResearchEmptyAggregationFails(t *testing.T) {
	t.Parallel()
	m := newManager(t, &script{aggregate: "", verdict: yes}, nil)
	ctx := context.Background()

	id, err := m.CreateTask(ctx, "Compare two things", modePtr(task.ModeResearch))
	require.NoError(t, err)
	m.Wait()

	v, err := m.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, v.Status)
	assert.Nil(t, v.Result)
	require.NotNil(t, v.Error)
	assert.Equal(t, pipeline.ErrValidationExhausted.Error(), *v.Error)
	require.Len(t, v.Details.Attempts, 3)
	for i, a := range v.Details.Attempts {
		assert.Equal(t, i+1, a.Number)
	}
}

func TestManager_ValidatorErrorFailsTask(t *testing.T) {
	t.Parallel()
	s := &script{route: task.ModeDirect, answer: "draft", verdict: func(int) (pipeline.Verdict, error) {
		return "", errors.New("validator exploded")
	}}
	m := newManager(t, s, nil)
	ctx := context.Background()

	id, err := m.CreateTask(ctx, "anything", nil)
	require.NoError(t, err)
	m.Wait()

	v, err := m.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, v.Status)
	require.NotNil(t, v.Error)
	assert.Contains(t, *v.Error, "validator exploded")
	require.Len(t, v.Details.Attempts, 1)
	assert.Equal(t, task.AttemptFailed, v.Details.Attempts[0].Status)
}

func TestManager_CreateTaskDoesNotBlock(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	m := newManager(t, &script{answer: "ok", verdict: yes, gate: gate}, nil)
	ctx := context.Background()

	id, err := m.CreateTask(ctx, "q", modePtr(task.ModeDirect))
	require.NoError(t, err)
	v, err := m.GetTask(ctx, id)
	require.NoError(t, err)
	assert.False(t, v.Terminal(), "task finished before its stages were released")
	assert.Nil(t, v.Result)
	assert.Nil(t, v.Error)

	close(gate)
	m.Wait()
	v, _ = m.GetTask(ctx, id)
	assert.Equal(t, task.StatusSucceeded, v.Status)
}

func TestManager_RejectsBadInput(t *testing.T) {
	t.Parallel()
	m := newManager(t, &script{verdict: yes}, nil)
	ctx := context.Background()

	_, err := m.CreateTask(ctx, "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)
	_, err = m.CreateTask(ctx, "q", modePtr(task.Mode("auto")))
	assert.Error(t, err)
	assert.Empty(t, m.ListTasks(0))
}

func TestManager_ModeAliasNormalized(t *testing.T) {
	t.Parallel()
	m := newManager(t, &script{answer: "a", verdict: yes}, nil)
	ctx := context.Background()

	id, err := m.CreateTask(ctx, "q", modePtr(task.Mode("simple")))
	require.NoError(t, err)
	m.Wait()
	v, _ := m.GetTask(ctx, id)
	require.NotNil(t, v.Details)
	assert.Equal(t, task.ModeDirect, *v.Details.Mode)
}

func TestManager_UnknownTask(t *testing.T) {
	t.Parallel()
	m := newManager(t, &script{verdict: yes}, nil)
	_, err := m.GetTask(context.Background(), "never-created")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

type panicRunner struct{}

func (panicRunner) Run(context.Context, string, string, *task.Mode) (string, error) {
	panic("stage bug")
}

func TestManager_PanicFailsTask(t *testing.T) {
	t.Parallel()
	m := New(Options{Store: task.NewStore(), Runner: panicRunner{}})
	ctx := context.Background()

	id, err := m.CreateTask(ctx, "q", nil)
	require.NoError(t, err)
	m.Wait()
	v, err := m.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, v.Status)
	require.NotNil(t, v.Error)
	assert.Contains(t, *v.Error, "stage bug")
}

// midAttemptPanic opens an attempt through the recorder and then panics.
type midAttemptPanic struct{ rec *task.Recorder }

func (p midAttemptPanic) Run(_ context.Context, id, _ string, _ *task.Mode) (string, error) {
	p.rec.SetMode(id, task.ModeDirect)
	p.rec.AddStep(id, 1, task.StepMode, "[Attempt 1] Routed query to DIRECT mode.", nil)
	panic("stage bug")
}

func TestManager_PanicClosesOpenAttempt(t *testing.T) {
	t.Parallel()
	st := task.NewStore()
	m := New(Options{Store: st, Runner: midAttemptPanic{rec: &task.Recorder{Store: st}}})
	ctx := context.Background()

	id, err := m.CreateTask(ctx, "q", nil)
	require.NoError(t, err)
	m.Wait()

	v, err := m.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, v.Status)
	require.NotNil(t, v.Details)
	require.Len(t, v.Details.Attempts, 1)
	assert.Equal(t, task.AttemptFailed, v.Details.Attempts[0].Status)
}

type eventLog struct {
	mu     sync.Mutex
	status []string
}

func (e *eventLog) PublishJSON(v any) {
	m, ok := v.(map[string]any)
	if !ok || m["type"] != "task_update" {
		return
	}
	e.mu.Lock()
	e.status = append(e.status, m["status"].(string))
	e.mu.Unlock()
}

func TestManager_PublishesStatusChanges(t *testing.T) {
	t.Parallel()
	s := &script{answer: "a", verdict: yes}
	st := task.NewStore()
	log := &eventLog{}
	m := New(Options{
		Store:  st,
		Runner: &pipeline.Executor{Stages: s.stages(), Recorder: &task.Recorder{Store: st}},
		Events: log,
	})
	_, err := m.CreateTask(context.Background(), "q", modePtr(task.ModeDirect))
	require.NoError(t, err)
	m.Wait()

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []string{"pending", "running", "succeeded"}, log.status)
}

func TestManager_ArchiveServesFinishedTasks(t *testing.T) {
	t.Parallel()
	arch, err := archive.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = arch.Close() })
	ctx := context.Background()

	first := newManager(t, &script{answer: "Paris", verdict: yes}, arch)
	id, err := first.CreateTask(ctx, "capital?", modePtr(task.ModeDirect))
	require.NoError(t, err)
	first.Wait()

	// A fresh manager has an empty store but shares the archive.
	second := newManager(t, &script{verdict: yes}, arch)
	v, err := second.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, v.Status)
	require.NotNil(t, v.Result)
	assert.Equal(t, "Paris", *v.Result)
	require.NotNil(t, v.Details)
	assert.Len(t, v.Details.Attempts, 1)
}

func TestManager_PollingNeverRegresses(t *testing.T) {
	t.Parallel()
	s := &script{
		route:     task.ModeResearch,
		aggregate: "draft",
		delay:     time.Millisecond,
		verdict:   func(int) (pipeline.Verdict, error) { return pipeline.VerdictNo, nil },
	}
	m := newManager(t, s, nil)
	ctx := context.Background()
	id, err := m.CreateTask(ctx, "q", nil)
	require.NoError(t, err)

	steps := map[int]int{}
	closed := map[int]bool{}
	for {
		v, err := m.GetTask(ctx, id)
		require.NoError(t, err)
		if v.Details != nil {
			inProgress := 0
			for i, a := range v.Details.Attempts {
				require.Equal(t, i+1, a.Number)
				require.GreaterOrEqual(t, len(a.Steps), steps[a.Number], "steps shrank")
				steps[a.Number] = len(a.Steps)
				if a.Status == task.AttemptInProgress {
					inProgress++
					require.Equal(t, len(v.Details.Attempts)-1, i, "only the last attempt may be in progress")
					require.False(t, closed[a.Number], "attempt %d reopened", a.Number)
				} else {
					closed[a.Number] = true
				}
			}
			require.LessOrEqual(t, inProgress, 1)
		}
		if v.Terminal() {
			assert.Equal(t, task.StatusSucceeded, v.Status)
			require.NotNil(t, v.Result)
			assert.Equal(t, "draft", *v.Result)
			assert.Len(t, v.Details.Attempts, pipeline.DefaultMaxAttempts)
			return
		}
		time.Sleep(200 * time.Microsecond)
	}
}
