package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ankittk/researcher/internal/task"
)

func finishedTask(t *testing.T, query string, answer string) task.View {
	t.Helper()
	st := task.NewStore()
	rec := &task.Recorder{Store: st}
	id := st.Create(query)
	rec.SetMode(id, task.ModeResearch)
	rec.AppendThought(id, "[Attempt 1] Query decomposition:")
	rec.AddStep(id, 1, task.StepDecomposition, "[Attempt 1] Query decomposed into 1 subquestions.", task.DecompositionData{
		Reasoning: "one part", TotalSubquestions: 1, Subquestions: []task.Subquestion{{Number: 1, Text: "who?"}},
	})
	rec.AddStep(id, 1, task.StepValidation, "[Attempt 1] Validator response: yes.", nil)
	rec.SetAttemptStatus(id, 1, task.AttemptCompleted)
	_ = st.Update(id, func(r *task.Record) error { return r.MarkRunning() })
	_ = st.Update(id, func(r *task.Record) error { return r.Succeed(answer) })
	v, err := st.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return v
}

func TestSQLiteArchive_SaveGetList(t *testing.T) {
	t.Parallel()
	home := filepath.Join(t.TempDir(), "home")
	a, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = a.Close() }()
	ctx := context.Background()

	if _, err := os.Stat(filepath.Join(home, "protected", "archive.sqlite")); err != nil {
		t.Fatalf("archive file: %v", err)
	}
	if _, err := a.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: got %v, want ErrNotFound", err)
	}

	v := finishedTask(t, "What is the capital of France?", "Paris")
	if err := a.Save(ctx, v); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := a.Get(ctx, v.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusSucceeded || got.Result == nil || *got.Result != "Paris" || got.Error != nil {
		t.Fatalf("round trip: got %+v", got)
	}
	if !got.CreatedAt.Equal(v.CreatedAt) || !got.UpdatedAt.Equal(v.UpdatedAt) {
		t.Fatalf("timestamps: got %v/%v want %v/%v", got.CreatedAt, got.UpdatedAt, v.CreatedAt, v.UpdatedAt)
	}
	if got.Details == nil || got.Details.Mode == nil || *got.Details.Mode != task.ModeResearch {
		t.Fatalf("details: got %+v", got.Details)
	}
	d, ok := got.Details.Attempts[0].Steps[0].Data.(task.DecompositionData)
	if !ok || d.Subquestions[0].Text != "who?" {
		t.Fatalf("step data: got %#v", got.Details.Attempts[0].Steps[0].Data)
	}

	// Save again overwrites.
	msg := "late failure"
	v.Error = &msg
	if err := a.Save(ctx, v); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	list, err := a.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Error == nil || *list[0].Error != msg {
		t.Fatalf("List after overwrite: got %+v", list)
	}
}

func TestSQLiteArchive_ListNewestFirst(t *testing.T) {
	t.Parallel()
	a, err := OpenWithOptions(OpenOptions{DSN: filepath.Join(t.TempDir(), "a.sqlite")})
	if err != nil {
		t.Fatalf("OpenWithOptions: %v", err)
	}
	defer func() { _ = a.Close() }()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		if err := a.Save(ctx, task.View{TaskID: id, Query: id, Status: task.StatusFailed, CreatedAt: at, UpdatedAt: at}); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	list, err := a.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].TaskID != "c" || list[1].TaskID != "b" {
		t.Fatalf("List(2): got %+v", list)
	}
	if list[0].Details != nil {
		t.Fatalf("task without mode should have nil details, got %+v", list[0].Details)
	}
}

func TestSQLiteArchive_ReopenKeepsData(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	a, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v := finishedTask(t, "q", "answer")
	if err := a.Save(context.Background(), v); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = a.Close()

	b, err := Open(home)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = b.Close() }()
	if _, err := b.Get(context.Background(), v.TaskID); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
}

func TestOpenWithOptions_Drivers(t *testing.T) {
	t.Parallel()
	a, err := OpenWithOptions(OpenOptions{Driver: "none"})
	if err != nil {
		t.Fatalf("none: %v", err)
	}
	if _, err := a.Get(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("none Get: got %v", err)
	}
	if _, err := OpenWithOptions(OpenOptions{Driver: "postgres"}); err == nil {
		t.Fatal("postgres via OpenWithOptions: expected error")
	}
	if _, err := OpenWithOptions(OpenOptions{Driver: "mongo"}); err == nil {
		t.Fatal("unknown driver: expected error")
	}
	if _, err := OpenWithOptions(OpenOptions{Driver: "sqlite"}); err == nil {
		t.Fatal("sqlite without home: expected error")
	}
}

func TestParseMigrationVersion(t *testing.T) {
	t.Parallel()
	if v, err := parseMigrationVersion("001_tasks.sql"); err != nil || v != 1 {
		t.Fatalf("got %d, %v", v, err)
	}
	if _, err := parseMigrationVersion("tasks.sql"); err == nil {
		t.Fatal("expected error for missing version")
	}
}
