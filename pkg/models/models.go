// Package models provides shared types for the researcher HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import (
	"encoding/json"
	"time"
)

// CreateTaskRequest is the body of POST /tasks. Mode is optional; empty lets the router decide.
type CreateTaskRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
}

// CreateTaskResponse is returned with 202 Accepted.
type CreateTaskResponse struct {
	TaskID string `json:"task_id"`
}

// Task is the polled view of one submitted query.
type Task struct {
	TaskID    string    `json:"task_id"`
	Query     string    `json:"query"`
	Status    string    `json:"status"`
	Details   *Details  `json:"details"`
	Result    *string   `json:"result"`
	Error     *string   `json:"error"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the task has finished.
func (t Task) Terminal() bool { return IsTerminal(t.Status) }

// Details is null until the pipeline has chosen a mode.
type Details struct {
	Mode     *string   `json:"mode"`
	Thoughts string    `json:"thoughts"`
	Attempts []Attempt `json:"attempts"`
}

// Attempt is one routing, answering and validation pass.
type Attempt struct {
	Number int    `json:"number"`
	Status string `json:"status"`
	Steps  []Step `json:"steps"`
}

// Step is one progress event. Data depends on Type; decode it with DecompositionData,
// FactsData or ErrorData.
type Step struct {
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Subquestion is one numbered part of a decomposed query.
type Subquestion struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// DecompositionData is attached to "decomposition" steps.
type DecompositionData struct {
	Reasoning         string        `json:"reasoning"`
	TotalSubquestions int           `json:"total_subquestions"`
	Subquestions      []Subquestion `json:"subquestions"`
}

// FactsData is attached to the "progress" step that reports retrieved facts.
type FactsData struct {
	FactSets int `json:"fact_sets"`
	Facts    int `json:"facts"`
}

// ErrorData is attached to "error" steps.
type ErrorData struct {
	Stage string `json:"stage,omitempty"`
	Error string `json:"error"`
}

// Event is a message on the /stream SSE feed: task_update (Status set) or task_step
// (Attempt and Step set).
type Event struct {
	Type    string `json:"type"`
	TaskID  string `json:"task_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Step    *Step  `json:"step,omitempty"`
}
