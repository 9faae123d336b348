package task

import (
	"encoding/json"
	"time"
)

// StepData is the structured payload of a step. Each step type that carries a payload
// has its own variant; Fields covers ad hoc diagnostics.
type StepData interface {
	stepData()
}

// Subquestion is one numbered entry of a decomposition.
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

// FactsData is attached to the progress step reporting retrieved fact sets.
type FactsData struct {
	FactSets int `json:"fact_sets"`
	Facts    int `json:"facts"`
}

// ErrorData is attached to "error" steps.
type ErrorData struct {
	Stage string `json:"stage,omitempty"`
	Error string `json:"error"`
}

// Fields is an open key/value payload.
type Fields map[string]any

func (DecompositionData) stepData() {}
func (FactsData) stepData()         {}
func (ErrorData) stepData()         {}
func (Fields) stepData()            {}

// UnmarshalJSON restores the typed payload from the step type, so archived snapshots
// round-trip with the same variants they were written with.
func (s *Step) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type      StepType        `json:"type"`
		Message   string          `json:"message"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.Type = raw.Type
	s.Message = raw.Message
	s.Timestamp = raw.Timestamp
	s.Data = nil
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return nil
	}
	switch raw.Type {
	case StepDecomposition:
		var d DecompositionData
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return err
		}
		s.Data = d
	case StepProgress:
		var d FactsData
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return err
		}
		s.Data = d
	case StepError:
		var d ErrorData
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return err
		}
		s.Data = d
	default:
		var f Fields
		if err := json.Unmarshal(raw.Data, &f); err != nil {
			return err
		}
		s.Data = f
	}
	return nil
}
