package stages

import "github.com/ankittk/researcher/internal/llm"

var (
	routeSchema = llm.MustSchema("route", `{
  "type": "object",
  "properties": {
    "reasoning": {"type": "string", "description": "Step-by-step reasoning behind the routing decision"},
    "step": {"type": "string", "enum": ["pro", "simple"], "description": "pro for complex research questions, simple for plain knowledge questions"}
  },
  "required": ["reasoning", "step"],
  "additionalProperties": false
}`)

	breakdownSchema = llm.MustSchema("question_breakdown", `{
  "type": "object",
  "properties": {
    "reasoning": {"type": "string", "description": "The logical process for decomposing the main question into subquestions"},
    "total_subquestions": {"type": "integer", "description": "The number of subquestions generated"},
    "subquestions": {
      "type": "array",
      "description": "Sequential, focused subquestions whose answers will solve the main question",
      "items": {
        "type": "object",
        "properties": {"text": {"type": "string", "description": "A focused subquery that helps answer the main question"}},
        "required": ["text"],
        "additionalProperties": false
      }
    }
  },
  "required": ["reasoning", "total_subquestions", "subquestions"],
  "additionalProperties": false
}`)

	foreignSchema = llm.MustSchema("foreign_question", `{
  "type": "object",
  "properties": {
    "translated_question": {"type": "string", "description": "English queries translated to Russian, any other language translated to English"},
    "language": {"type": "string", "enum": ["eng", "other"], "description": "eng when the original query is English, other otherwise"}
  },
  "required": ["translated_question", "language"],
  "additionalProperties": false
}`)

	factsSchema = llm.MustSchema("facts", `{
  "type": "object",
  "properties": {
    "summary": {"type": "string", "description": "Concise overview of the most relevant information in relation to the query"},
    "facts": {
      "type": "array",
      "description": "All relevant factual statements extracted from the text",
      "items": {
        "type": "object",
        "properties": {"text": {"type": "string", "description": "A single self-contained, verifiable fact"}},
        "required": ["text"],
        "additionalProperties": false
      }
    }
  },
  "required": ["summary", "facts"],
  "additionalProperties": false
}`)

	resultSchema = llm.MustSchema("result", `{
  "type": "object",
  "properties": {
    "answers": {
      "type": "array",
      "description": "One answer per subquery",
      "items": {
        "type": "object",
        "properties": {"answer": {"type": "string"}},
        "required": ["answer"],
        "additionalProperties": false
      }
    },
    "full_answer": {"type": "string", "description": "Final answer to the original question integrating all subquery answers"}
  },
  "required": ["answers", "full_answer"],
  "additionalProperties": false
}`)

	validateSchema = llm.MustSchema("validate", `{
  "type": "object",
  "properties": {"step": {"type": "string", "enum": ["yes", "no"]}},
  "required": ["step"],
  "additionalProperties": false
}`)
)

type route struct {
	Reasoning string `json:"reasoning"`
	Step      string `json:"step"`
}

type textItem struct {
	Text string `json:"text"`
}

type breakdown struct {
	Reasoning         string     `json:"reasoning"`
	TotalSubquestions int        `json:"total_subquestions"`
	Subquestions      []textItem `json:"subquestions"`
}

type foreignQuestion struct {
	TranslatedQuestion string `json:"translated_question"`
	Language           string `json:"language"`
}

type facts struct {
	Summary string     `json:"summary"`
	Facts   []textItem `json:"facts"`
}

type result struct {
	Answers []struct {
		Answer string `json:"answer"`
	} `json:"answers"`
	FullAnswer string `json:"full_answer"`
}

type verdict struct {
	Step string `json:"step"`
}
