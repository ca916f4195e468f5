// Package agents implements the story analysis and enhancement agents.
// Triage is a deterministic label-driven decision; analysis and enhancement
// call OpenAI chat completions and parse structured JSON answers.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Config holds the LLM settings shared by the analysis and update agents.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// llmClient wraps the OpenAI SDK for single-turn JSON completions.
type llmClient struct {
	client    *openai.Client
	model     string
	maxTokens int64
}

func newLLMClient(cfg Config) (*llmClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}

	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &llmClient{
		client:    &client,
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}, nil
}

// completeJSON runs one system+user exchange and returns the raw JSON text
// of the reply, with any markdown fences stripped.
func (c *llmClient) completeJSON(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxTokens: openai.Int(c.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return extractJSON(resp.Choices[0].Message.Content), nil
}

// extractJSON strips markdown code fences and surrounding prose from a
// model reply, returning the outermost JSON object when one is present.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
