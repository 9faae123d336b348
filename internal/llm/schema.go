package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a compiled JSON Schema for structured model output.
type Schema struct {
	Name     string
	raw      map[string]any
	compiled *jsonschema.Schema
}

// MustSchema compiles raw and panics if it is not a valid schema. Intended for
// package-level schema definitions.
func MustSchema(name, raw string) *Schema {
	s, err := NewSchema(name, raw)
	if err != nil {
		panic(err)
	}
	return s
}

// NewSchema compiles raw under name.
func NewSchema(name, raw string) (*Schema, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	res := name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(res, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(res)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{Name: name, raw: doc, compiled: compiled}, nil
}

// Decode validates content against the schema and unmarshals it into out. Markdown code
// fences around the JSON are tolerated.
func (s *Schema) Decode(content string, out any) error {
	content = stripFence(content)
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("llm: %s reply is not JSON: %w", s.Name, err)
	}
	if err := s.compiled.Validate(inst); err != nil {
		return fmt.Errorf("llm: %s reply does not match schema: %w", s.Name, err)
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("llm: decode %s: %w", s.Name, err)
	}
	return nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
