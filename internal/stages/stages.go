// Package stages implements the pipeline stages on top of an LLM and a web search client.
package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/ankittk/researcher/internal/llm"
	"github.com/ankittk/researcher/internal/pipeline"
	"github.com/ankittk/researcher/internal/search"
	"github.com/ankittk/researcher/internal/task"
)

// DefaultMaxQuestionLen caps the length of a sub-question sent to search.
const DefaultMaxQuestionLen = 399

// Searcher is the retrieval side the stages need. *search.Client implements it.
type Searcher interface {
	Search(ctx context.Context, query, country string) ([]search.Result, error)
	FetchAndExtract(ctx context.Context, questions []string, foreignQuery, country string) ([]search.Bundle, error)
}

// Deps are the collaborators shared by the stages. Search may be nil, in which case the
// direct stage answers from the model alone and the facts stage fails.
type Deps struct {
	LLM            llm.Completer
	Search         Searcher
	MaxQuestionLen int
	Concurrency    int
	Now            func() time.Time
}

// New returns the full stage set.
func New(d Deps) pipeline.Stages {
	if d.MaxQuestionLen <= 0 {
		d.MaxQuestionLen = DefaultMaxQuestionLen
	}
	if d.Concurrency <= 0 {
		d.Concurrency = search.DefaultConcurrency
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return pipeline.Stages{
		Router:    &Router{llm: d.LLM},
		Direct:    &Direct{llm: d.LLM, search: d.Search, now: d.Now},
		Decompose: &Decompose{llm: d.LLM},
		Facts:     &Facts{llm: d.LLM, search: d.Search, maxLen: d.MaxQuestionLen, concurrency: d.Concurrency},
		Aggregate: &Aggregate{llm: d.LLM},
		Validate:  &Validate{llm: d.LLM},
	}
}

// Router picks direct or research mode.
type Router struct{ llm llm.Completer }

func (*Router) Name() string { return "router" }

func (r *Router) Run(ctx context.Context, st pipeline.State) (pipeline.Delta, error) {
	var out route
	if err := r.llm.CompleteJSON(ctx, []llm.Message{llm.System(routerPrompt), llm.User(st.Input)}, routeSchema, &out); err != nil {
		return pipeline.Delta{}, err
	}
	mode, err := task.ParseMode(out.Step)
	if err != nil {
		return pipeline.Delta{}, err
	}
	return pipeline.DecisionDelta(mode), nil
}

// Direct answers in one call, grounded on search results when a searcher is configured.
type Direct struct {
	llm    llm.Completer
	search Searcher
	now    func() time.Time
}

func (*Direct) Name() string { return "direct" }

func (d *Direct) Run(ctx context.Context, st pipeline.State) (pipeline.Delta, error) {
	system := fmt.Sprintf(directPrompt, d.now().Format("January 02, 2006"))
	if d.search != nil {
		results, err := d.search.Search(ctx, st.Input, "")
		if err != nil {
			return pipeline.Delta{}, err
		}
		if len(results) > 0 {
			var b strings.Builder
			b.WriteString(system)
			b.WriteString("\n\nSEARCH RESULTS:")
			for i, r := range results {
				fmt.Fprintf(&b, "\n[%d] %s (%s)\n%s", i+1, r.Title, r.URL, r.Content)
			}
			system = b.String()
		}
	}
	answer, err := d.llm.Complete(ctx, []llm.Message{llm.System(system), llm.User(st.Input)})
	if err != nil {
		return pipeline.Delta{}, err
	}
	return pipeline.OutputDelta(strings.TrimSpace(answer)), nil
}

// Decompose splits the query into sub-questions.
type Decompose struct{ llm llm.Completer }

func (*Decompose) Name() string { return "decompose" }

func (d *Decompose) Run(ctx context.Context, st pipeline.State) (pipeline.Delta, error) {
	var out breakdown
	if err := d.llm.CompleteJSON(ctx, []llm.Message{llm.System(decomposePrompt), llm.User(st.Input)}, breakdownSchema, &out); err != nil {
		return pipeline.Delta{}, err
	}
	qs := make([]string, 0, len(out.Subquestions))
	for _, q := range out.Subquestions {
		if t := strings.TrimSpace(q.Text); t != "" {
			qs = append(qs, t)
		}
	}
	if len(qs) == 0 {
		return pipeline.Delta{}, errors.New("decomposition produced no sub-questions")
	}
	return pipeline.Delta{
		SubQuestions:  qs,
		Decomposition: &pipeline.Decomposition{Reasoning: out.Reasoning, Total: out.TotalSubquestions},
	}, nil
}

// Facts translates the query for a second-locale search, retrieves pages for every
// sub-question and extracts facts from each bundle.
type Facts struct {
	llm         llm.Completer
	search      Searcher
	maxLen      int
	concurrency int
}

func (*Facts) Name() string { return "facts" }

func (f *Facts) Run(ctx context.Context, st pipeline.State) (pipeline.Delta, error) {
	if f.search == nil {
		return pipeline.Delta{}, errors.New("search is not configured")
	}
	questions := make([]string, len(st.SubQuestions))
	for i, q := range st.SubQuestions {
		questions[i] = truncate(q, f.maxLen)
	}

	var fq foreignQuestion
	translate := []llm.Message{
		llm.System(translatePrompt),
		llm.User("QUERY TO TRANSLATE:\n" + st.Input + "\n\nIdentify the original language, translate it following the protocol and report the language classification."),
	}
	if err := f.llm.CompleteJSON(ctx, translate, foreignSchema, &fq); err != nil {
		return pipeline.Delta{}, fmt.Errorf("translate: %w", err)
	}
	country := "united states"
	if fq.Language == "eng" {
		country = "russia"
	}

	bundles, err := f.search.FetchAndExtract(ctx, questions, fq.TranslatedQuestion, country)
	if err != nil {
		return pipeline.Delta{}, err
	}

	sets := make([]pipeline.FactSet, len(bundles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, b := range bundles {
		sets[i] = pipeline.FactSet{Question: b.Query, Facts: []string{}}
		text := b.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		g.Go(func() error {
			var out facts
			msgs := []llm.Message{
				llm.System(factsPrompt),
				llm.User("ORIGINAL QUESTION: " + st.Input + "\n\nTEXT TO ANALYZE:\n" + text +
					"\n\nTASK: Extract all relevant facts from the text above that help answer the original question."),
			}
			if err := f.llm.CompleteJSON(gctx, msgs, factsSchema, &out); err != nil {
				return fmt.Errorf("extract facts for %q: %w", b.Query, err)
			}
			for _, fact := range out.Facts {
				sets[i].Facts = append(sets[i].Facts, fact.Text)
			}
			sets[i].Summary = out.Summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pipeline.Delta{}, err
	}
	return pipeline.Delta{Facts: sets}, nil
}

// Aggregate synthesizes the final answer from the fact sets.
type Aggregate struct{ llm llm.Completer }

func (*Aggregate) Name() string { return "aggregate" }

func (a *Aggregate) Run(ctx context.Context, st pipeline.State) (pipeline.Delta, error) {
	var b strings.Builder
	b.WriteString("RESEARCH TASK\n\nORIGINAL QUESTION:\n")
	b.WriteString(st.Input)
	b.WriteString("\n\nSUBQUERIES TO ANSWER:")
	for _, q := range st.SubQuestions {
		b.WriteString("\n- " + q)
	}
	b.WriteString("\n\nCOLLECTED FACTS BY SUBQUERY:")
	for i, fs := range st.Facts {
		fmt.Fprintf(&b, "\n---\nSUBQUERY %d: %s\nFACTS: %s", i+1, fs.Question, strings.Join(fs.Facts, " | "))
	}
	b.WriteString("\n\nAnalyze all subqueries and their facts, then answer the original question comprehensively.")

	var out result
	if err := a.llm.CompleteJSON(ctx, []llm.Message{llm.System(aggregatePrompt), llm.User(b.String())}, resultSchema, &out); err != nil {
		return pipeline.Delta{}, err
	}
	return pipeline.OutputDelta(strings.TrimSpace(out.FullAnswer)), nil
}

// Validate judges whether the answer addresses the query.
type Validate struct{ llm llm.Completer }

func (*Validate) Name() string { return "validate" }

func (v *Validate) Run(ctx context.Context, st pipeline.State) (pipeline.Delta, error) {
	var out verdict
	msgs := []llm.Message{llm.System(validatePrompt), llm.User(st.Input), llm.Assistant(st.Output)}
	if err := v.llm.CompleteJSON(ctx, msgs, validateSchema, &out); err != nil {
		return pipeline.Delta{}, err
	}
	if out.Step == string(pipeline.VerdictYes) {
		return pipeline.VerdictDelta(pipeline.VerdictYes), nil
	}
	return pipeline.VerdictDelta(pipeline.VerdictNo), nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
