package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ankittk/researcher/internal/task"
)

// legacyTask is the task shape the web front-end polls on /debug/tasks/{id}: modes are
// named "pro"/"simple" and the attempt log sits under details.thoughts_data.
type legacyTask struct {
	TaskID    string         `json:"task_id"`
	Status    task.Status    `json:"status"`
	Details   *legacyDetails `json:"details"`
	Result    *string        `json:"result"`
	Error     *string        `json:"error"`
	CreatedAt time.Time      `json:"created_at"`
}

type legacyDetails struct {
	Mode         string       `json:"mode"`
	Thoughts     string       `json:"thoughts"`
	ThoughtsData thoughtsData `json:"thoughts_data"`
}

type thoughtsData struct {
	Attempts       []task.Attempt `json:"attempts"`
	CurrentAttempt int            `json:"current_attempt"`
}

func legacyMode(m task.Mode) string {
	if m == task.ModeResearch {
		return "pro"
	}
	return "simple"
}

func toLegacy(v task.View) legacyTask {
	out := legacyTask{
		TaskID:    v.TaskID,
		Status:    v.Status,
		Result:    v.Result,
		Error:     v.Error,
		CreatedAt: v.CreatedAt,
	}
	if v.Details != nil && v.Details.Mode != nil {
		attempts := v.Details.Attempts
		if attempts == nil {
			attempts = []task.Attempt{}
		}
		out.Details = &legacyDetails{
			Mode:     legacyMode(*v.Details.Mode),
			Thoughts: v.Details.Thoughts,
			ThoughtsData: thoughtsData{
				Attempts:       attempts,
				CurrentAttempt: len(attempts),
			},
		}
	}
	return out
}

func (a *App) getLegacyTask(w http.ResponseWriter, r *http.Request) {
	v, err := a.Manager.GetTask(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, task.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, task.ErrNotFound.Error())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, toLegacy(v))
}
