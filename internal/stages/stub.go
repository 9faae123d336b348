package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/ankittk/researcher/internal/pipeline"
	"github.com/ankittk/researcher/internal/task"
)

// Stub returns deterministic offline stages. Queries joining several parts with " and "
// or running past twelve words go to research mode; everything else is answered directly.
// Every non-empty answer is accepted.
func Stub() pipeline.Stages {
	return pipeline.Stages{
		Router: pipeline.StageFunc{StageName: "router", Fn: func(_ context.Context, st pipeline.State) (pipeline.Delta, error) {
			q := strings.ToLower(st.Input)
			if strings.Contains(q, " and ") || len(strings.Fields(q)) > 12 {
				return pipeline.DecisionDelta(task.ModeResearch), nil
			}
			return pipeline.DecisionDelta(task.ModeDirect), nil
		}},
		Direct: pipeline.StageFunc{StageName: "direct", Fn: func(_ context.Context, st pipeline.State) (pipeline.Delta, error) {
			return pipeline.OutputDelta("Stub answer to: " + strings.TrimSpace(st.Input)), nil
		}},
		Decompose: pipeline.StageFunc{StageName: "decompose", Fn: func(_ context.Context, st pipeline.State) (pipeline.Delta, error) {
			var qs []string
			for _, part := range strings.Split(st.Input, " and ") {
				if p := strings.TrimSpace(part); p != "" {
					qs = append(qs, p)
				}
			}
			return pipeline.Delta{
				SubQuestions:  qs,
				Decomposition: &pipeline.Decomposition{Reasoning: "split on conjunctions", Total: len(qs)},
			}, nil
		}},
		Facts: pipeline.StageFunc{StageName: "facts", Fn: func(_ context.Context, st pipeline.State) (pipeline.Delta, error) {
			sets := make([]pipeline.FactSet, 0, len(st.SubQuestions))
			for _, q := range st.SubQuestions {
				sets = append(sets, pipeline.FactSet{Question: q, Facts: []string{"stub fact about " + q}})
			}
			return pipeline.Delta{Facts: sets}, nil
		}},
		Aggregate: pipeline.StageFunc{StageName: "aggregate", Fn: func(_ context.Context, st pipeline.State) (pipeline.Delta, error) {
			var b strings.Builder
			for i, fs := range st.Facts {
				if i > 0 {
					b.WriteString(" ")
				}
				fmt.Fprintf(&b, "%d) %s", i+1, strings.Join(fs.Facts, "; "))
			}
			return pipeline.OutputDelta(b.String()), nil
		}},
		Validate: pipeline.StageFunc{StageName: "validate", Fn: func(_ context.Context, st pipeline.State) (pipeline.Delta, error) {
			if strings.TrimSpace(st.Output) == "" {
				return pipeline.VerdictDelta(pipeline.VerdictNo), nil
			}
			return pipeline.VerdictDelta(pipeline.VerdictYes), nil
		}},
	}
}
