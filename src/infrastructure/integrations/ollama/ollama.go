// Package ollama adapts an Ollama server to the embedding and reasoning
// contracts of the pipeline.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"agentrag/src/core/agent"
	"agentrag/src/core/semanticcache"
	"agentrag/src/log"
)

const (
	DefaultURL            = "http://localhost:11434"
	DefaultLLMModel       = "llama3.1"
	DefaultEmbeddingModel = "bge-m3"
)

var ErrEmptyEmbedding = errors.New("ollama returned no embedding")

// Client wraps the official Ollama API client with fixed model names.
type Client struct {
	api            *api.Client
	llmModel       string
	embeddingModel string
	options        map[string]interface{}
}

type Option func(*Client)

func WithLLMModel(name string) Option {
	return func(c *Client) { c.llmModel = name }
}

func WithEmbeddingModel(name string) Option {
	return func(c *Client) { c.embeddingModel = name }
}

// WithTemperature sets the sampling temperature for chat calls.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.options["temperature"] = t }
}

// NewClient creates a client for the server at baseURL. A zero timeout
// leaves request deadlines to the caller's context.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	c := &Client{
		api:            api.NewClient(u, &http.Client{Timeout: timeout}),
		llmModel:       DefaultLLMModel,
		embeddingModel: DefaultEmbeddingModel,
		options:        map[string]interface{}{"temperature": 0.0},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) LLMModel() string { return c.llmModel }

func (c *Client) EmbeddingModel() string { return c.embeddingModel }

// Ready checks that the server answers.
func (c *Client) Ready(ctx context.Context) error {
	return c.api.Heartbeat(ctx)
}

// Embed returns the unit-normalized embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.Embed(ctx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("error embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return semanticcache.Normalize(resp.Embeddings[0]), nil
}

// Decide runs one reasoning step. The model is offered the prompt's tools
// through the structured tool-call API; a reply without tool calls is the
// final answer.
func (c *Client) Decide(ctx context.Context, p agent.Prompt) (agent.Decision, error) {
	tools, err := toolDefinitions(p.Tools)
	if err != nil {
		return nil, err
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.llmModel,
		Messages: messages(p),
		Stream:   &stream,
		Tools:    tools,
		Options:  c.options,
	}

	var reply api.Message
	err = c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.Content += resp.Message.Content
		reply.ToolCalls = append(reply.ToolCalls, resp.Message.ToolCalls...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error calling chat: %w", err)
	}

	thought := strings.TrimSpace(reply.Content)
	if len(reply.ToolCalls) > 0 && len(p.Tools) > 0 {
		call := reply.ToolCalls[0].Function
		log.Debug("model requested tool", "tool", call.Name, "calls", len(reply.ToolCalls))
		return agent.ToolCall{
			Thought: thought,
			Tool:    call.Name,
			Input:   toolInput(call.Arguments),
		}, nil
	}
	return agent.FinalAnswer{Text: thought}, nil
}

// messages replays earlier steps as assistant tool calls followed by
// their observations.
func messages(p agent.Prompt) []api.Message {
	msgs := []api.Message{
		{Role: "system", Content: p.System},
		{Role: "user", Content: p.Question},
	}
	for _, s := range p.Steps {
		msgs = append(msgs,
			api.Message{
				Role:    "assistant",
				Content: s.Thought,
				ToolCalls: []api.ToolCall{{
					Function: api.ToolCallFunction{
						Name:      s.Action.Tool,
						Arguments: api.ToolCallFunctionArguments{"query": s.Action.Input},
					},
				}},
			},
			api.Message{Role: "tool", Content: s.Observation},
		)
	}
	return msgs
}

type toolSchema struct {
	Type     string         `json:"type"`
	Function functionSchema `json:"function"`
}

type functionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// toolDefinitions describes every tool as a function taking one string
// "query" argument.
func toolDefinitions(specs []agent.ToolSpec) (api.Tools, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	defs := make([]toolSchema, 0, len(specs))
	for _, s := range specs {
		defs = append(defs, toolSchema{
			Type: "function",
			Function: functionSchema{
				Name:        s.Name,
				Description: s.Description,
				Parameters: map[string]any{
					"type":     "object",
					"required": []string{"query"},
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "Search query",
						},
					},
				},
			},
		})
	}
	raw, err := json.Marshal(defs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tools: %w", err)
	}
	var tools api.Tools
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, fmt.Errorf("failed to decode tools: %w", err)
	}
	return tools, nil
}

func toolInput(args api.ToolCallFunctionArguments) string {
	if q, ok := args["query"].(string); ok {
		return q
	}
	for _, v := range args {
		if s, ok := v.(string); ok {
			return s
		}
	}
	raw, _ := json.Marshal(args)
	return string(raw)
}
