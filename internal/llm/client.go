// Package llm is a small client for OpenAI-compatible chat completion APIs, with
// schema-checked structured output.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single completion request.
const DefaultTimeout = 2 * time.Minute

// ErrEmptyResponse is returned when the API answers without any choice.
var ErrEmptyResponse = errors.New("llm: empty response")

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System, User and Assistant build messages for the matching role.
func System(content string) Message    { return Message{Role: "system", Content: content} }
func User(content string) Message      { return Message{Role: "user", Content: content} }
func Assistant(content string) Message { return Message{Role: "assistant", Content: content} }

// Completer is what the pipeline stages need from a model.
type Completer interface {
	Complete(ctx context.Context, msgs []Message) (string, error)
	CompleteJSON(ctx context.Context, msgs []Message, schema *Schema, out any) error
}

// Options configures the client (OpenAI-compatible API).
type Options struct {
	BaseURL    string // e.g. https://api.openai.com/v1
	APIKey     string
	Model      string // e.g. gpt-4o-mini
	HTTPClient *http.Client
}

// Client talks to /v1/chat/completions.
type Client struct {
	url   string
	key   string
	model string
	http  *http.Client
}

// New returns a client. BaseURL and Model are required.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" || opts.Model == "" {
		return nil, errors.New("llm: base URL and model are required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return &Client{url: base + "/chat/completions", key: opts.APIKey, model: opts.Model, http: hc}, nil
}

// APIError is a non-200 reply from the completion endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: API returned %d: %s", e.StatusCode, e.Body)
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete returns the text of the first choice.
func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	return c.do(ctx, chatRequest{Model: c.model, Messages: msgs})
}

// CompleteJSON asks for output matching schema, validates the reply against it and
// decodes it into out.
func (c *Client) CompleteJSON(ctx context.Context, msgs []Message, schema *Schema, out any) error {
	content, err := c.do(ctx, chatRequest{
		Model:    c.model,
		Messages: msgs,
		ResponseFormat: &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchema{Name: schema.Name, Schema: schema.raw, Strict: true},
		},
	})
	if err != nil {
		return err
	}
	return schema.Decode(content, out)
}

func (c *Client) do(ctx context.Context, body chatRequest) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	slog.Debug("llm completion", "model", c.model, "duration_ms", time.Since(start).Milliseconds())
	return out.Choices[0].Message.Content, nil
}
