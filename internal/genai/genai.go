// Package genai provides the Generation Service client used by ClinicFlow
// agents, backed by the OpenAI API.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/carebridge/clinicflow/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ClientInterface defines the operations the orchestration core needs from
// the Generation Service. Implementations must be safe for concurrent use.
type ClientInterface interface {
	// Generate produces the agent's reply from a system script and the
	// conversation transcript.
	Generate(ctx context.Context, system string, history []models.Turn) (string, error)
	// GenerateLabel runs a fixed labeling instruction over input and returns
	// the model's label, trimmed and lowercased. The label is advisory; the
	// caller validates it and falls back deterministically.
	GenerateLabel(ctx context.Context, instruction, input string) (string, error)
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model overrides the default chat model.
	Model string
}

// Option configures client construction.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	client openai.Client
	model  string
}

// NewClient initializes a new GenAI client from the provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		slog.Error("GenAI client API key not set")
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	slog.Debug("genai.NewClient: creating client", "model", model)
	return &Client{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  model,
	}, nil
}

// Generate produces the agent's reply from a system script and transcript.
func (c *Client) Generate(ctx context.Context, system string, history []models.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(system))
	for _, t := range history {
		switch t.Speaker {
		case models.SpeakerPatient:
			messages = append(messages, openai.UserMessage(t.Text))
		case models.SpeakerAgent:
			messages = append(messages, openai.AssistantMessage(t.Text))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("genai.Generate: chat completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.Generate: no choices returned")
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateLabel runs a fixed labeling instruction over input.
func (c *Client) GenerateLabel(ctx context.Context, instruction, input string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instruction),
			openai.UserMessage(input),
		},
	})
	if err != nil {
		slog.Error("genai.GenerateLabel: chat completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.GenerateLabel: no choices returned")
		return "", fmt.Errorf("no choices returned")
	}
	return strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content)), nil
}
