package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nathandonaldson/storytriage/internal/logging"
	"github.com/nathandonaldson/storytriage/internal/shortcut"
)

const enhancementSystemPrompt = `You are a senior product manager improving user stories.
Given a story and a quality analysis of it, rewrite the title and description so they
address the analysis' weaknesses and recommendations. Preserve the author's intent and
any technical details; add acceptance criteria if they are missing.
Respond with a single JSON object matching this shape exactly:
{
  "enhanced_title": "<improved title>",
  "enhanced_description": "<improved description in Markdown>",
  "changes_made": ["<short description of each change>", ...]
}
Return only JSON, no prose outside the object.`

// EnhancementResult is the rewritten story content produced by the update agent.
type EnhancementResult struct {
	EnhancedTitle       string   `json:"enhanced_title"`
	EnhancedDescription string   `json:"enhanced_description"`
	ChangesMade         []string `json:"changes_made"`
}

// UpdateAgent rewrites story content based on an analysis.
type UpdateAgent struct {
	llm    *llmClient
	logger *logging.Logger
}

// NewUpdateAgent creates an update agent from the given LLM config.
func NewUpdateAgent(cfg Config) (*UpdateAgent, error) {
	llm, err := newLLMClient(cfg)
	if err != nil {
		return nil, err
	}
	return &UpdateAgent{llm: llm, logger: logging.Component("update")}, nil
}

// Enhance produces improved story content guided by the analysis.
func (a *UpdateAgent) Enhance(ctx context.Context, story *shortcut.Story, analysis *AnalysisResult) (*EnhancementResult, error) {
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return nil, fmt.Errorf("encoding analysis: %w", err)
	}

	user := fmt.Sprintf("Story to improve.\n\nTitle: %s\n\nDescription:\n%s\n\nQuality analysis:\n%s",
		story.Name, story.Description, analysisJSON)

	raw, err := a.llm.completeJSON(ctx, enhancementSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("enhancing story %d: %w", story.ID, err)
	}

	var result EnhancementResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parsing enhancement response: %w", err)
	}
	if result.EnhancedTitle == "" {
		result.EnhancedTitle = story.Name
	}
	if result.EnhancedDescription == "" {
		result.EnhancedDescription = story.Description
	}

	a.logger.InfoCtx("story enhanced", map[string]any{
		"story_id": story.ID,
		"changes":  len(result.ChangesMade),
	})
	return &result, nil
}

// FormatEnhancementComment renders the applied changes as a Markdown comment.
func FormatEnhancementComment(result *EnhancementResult) string {
	var b strings.Builder

	b.WriteString("## ✨ Story Enhancement Applied\n\n")
	b.WriteString("This story was automatically improved based on its quality analysis.\n\n")

	if len(result.ChangesMade) > 0 {
		b.WriteString("**Changes made:**\n")
		for _, change := range result.ChangesMade {
			fmt.Fprintf(&b, "- %s\n", change)
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n*Enhancement by [Story Triage](https://app.shortcut.com)*\n")
	return b.String()
}
