// Package pipeline connects the queue to the story workflows. Each handler
// processes one task type: triage routes webhook events, analysis reviews
// story quality, enhancement rewrites story content, and update applies
// arbitrary field changes.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nathandonaldson/storytriage/internal/agents"
	"github.com/nathandonaldson/storytriage/internal/logging"
	"github.com/nathandonaldson/storytriage/internal/queue"
	"github.com/nathandonaldson/storytriage/internal/shortcut"
	"github.com/nathandonaldson/storytriage/internal/trace"
)

// TokenSource resolves the Shortcut API token for a workspace.
type TokenSource func(workspaceID string) string

// Pipeline holds the agents and clients the task handlers share.
type Pipeline struct {
	manager  *queue.Manager
	tokens   TokenSource
	triage   *agents.TriageAgent
	analysis *agents.AnalysisAgent
	update   *agents.UpdateAgent
	logger   *logging.Logger

	// newClient is swapped out by tests to point at a fake API.
	newClient func(token string) *shortcut.Client
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithClientFactory overrides how Shortcut clients are built.
func WithClientFactory(f func(token string) *shortcut.Client) Option {
	return func(p *Pipeline) {
		p.newClient = f
	}
}

// New creates a pipeline. The LLM config is shared by the analysis and
// update agents.
func New(manager *queue.Manager, tokens TokenSource, llm agents.Config, opts ...Option) (*Pipeline, error) {
	analysis, err := agents.NewAnalysisAgent(llm)
	if err != nil {
		return nil, err
	}
	update, err := agents.NewUpdateAgent(llm)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		manager:  manager,
		tokens:   tokens,
		triage:   agents.NewTriageAgent(),
		analysis: analysis,
		update:   update,
		logger:   logging.Component("pipeline"),
		newClient: func(token string) *shortcut.Client {
			return shortcut.NewClient(token)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// clientFor builds a Shortcut client authenticated for the workspace.
func (p *Pipeline) clientFor(workspaceID string) (*shortcut.Client, error) {
	token := p.tokens(workspaceID)
	if token == "" {
		return nil, fmt.Errorf("no API token configured for workspace %q", workspaceID)
	}
	return p.newClient(token), nil
}

// Triage routes a webhook event to the matching workflow by enqueueing the
// follow-up task.
func (p *Pipeline) Triage(ctx context.Context, task *queue.Task, info trace.Info) (map[string]any, error) {
	webhook, ok := task.Payload["webhook_data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("task %s has no webhook_data payload", task.ID)
	}

	decision := p.triage.Decide(webhook)
	if !decision.Processed {
		return map[string]any{"processed": false, "reason": decision.Reason}, nil
	}

	var nextType queue.Type
	switch decision.Workflow {
	case agents.WorkflowAnalyse:
		nextType = queue.TypeAnalysis
	case agents.WorkflowEnhance:
		nextType = queue.TypeEnhancement
	default:
		return nil, fmt.Errorf("triage returned unknown workflow %q", decision.Workflow)
	}

	next := queue.NewTask(task.WorkspaceID, task.StoryID, nextType,
		queue.WithPayload(map[string]any{"trace_id": info.TraceID}))
	nextID, err := p.manager.AddTask(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("enqueueing %s task: %w", nextType, err)
	}

	p.logger.InfoCtx("triage routed story", map[string]any{
		"story_id":  task.StoryID,
		"workflow":  decision.Workflow,
		"next_task": nextID,
	})
	return map[string]any{
		"processed":    true,
		"workflow":     decision.Workflow,
		"next_task_id": nextID,
	}, nil
}

// Analysis fetches the story, scores it, posts the analysis as a comment,
// and swaps the trigger label for its completed form.
func (p *Pipeline) Analysis(ctx context.Context, task *queue.Task, info trace.Info) (map[string]any, error) {
	client, err := p.clientFor(task.WorkspaceID)
	if err != nil {
		return nil, err
	}

	story, err := p.fetchStory(ctx, client, task)
	if err != nil {
		return nil, err
	}

	result, err := p.analysis.Analyze(ctx, story)
	if err != nil {
		return nil, err
	}

	if _, err := client.AddComment(ctx, task.StoryID, agents.FormatAnalysisComment(result)); err != nil {
		return nil, fmt.Errorf("posting analysis comment: %w", err)
	}

	// Label updates are best-effort; the analysis itself already landed.
	params := shortcut.SwapLabels(story, []string{"analysed"}, []string{"analyse", "analyze"})
	if _, err := client.UpdateStory(ctx, task.StoryID, params); err != nil {
		p.logger.Err(err).Str("story_id", task.StoryID).Msg("updating labels after analysis")
	}

	return map[string]any{
		"overall_score": result.OverallScore,
		"summary":       result.Summary,
	}, nil
}

// Enhancement analyzes the story, rewrites its title and description, and
// records the applied changes in a comment.
func (p *Pipeline) Enhancement(ctx context.Context, task *queue.Task, info trace.Info) (map[string]any, error) {
	client, err := p.clientFor(task.WorkspaceID)
	if err != nil {
		return nil, err
	}

	story, err := p.fetchStory(ctx, client, task)
	if err != nil {
		return nil, err
	}

	analysis, err := p.analysisFor(ctx, task, story)
	if err != nil {
		return nil, err
	}

	enhanced, err := p.update.Enhance(ctx, story, analysis)
	if err != nil {
		return nil, err
	}

	labels := shortcut.SwapLabels(story, []string{"enhanced"}, []string{"enhance"})
	params := shortcut.UpdateStoryParams{
		Name:        &enhanced.EnhancedTitle,
		Description: &enhanced.EnhancedDescription,
		Labels:      labels.Labels,
	}
	if _, err := client.UpdateStory(ctx, task.StoryID, params); err != nil {
		return nil, fmt.Errorf("applying enhancement: %w", err)
	}

	if _, err := client.AddComment(ctx, task.StoryID, agents.FormatEnhancementComment(enhanced)); err != nil {
		p.logger.Err(err).Str("story_id", task.StoryID).Msg("posting enhancement comment")
	}

	return map[string]any{
		"enhanced_title": enhanced.EnhancedTitle,
		"changes_made":   enhanced.ChangesMade,
	}, nil
}

// Update applies the field changes carried in the task payload to the story.
func (p *Pipeline) Update(ctx context.Context, task *queue.Task, info trace.Info) (map[string]any, error) {
	updates, ok := task.Payload["updates"].(map[string]any)
	if !ok || len(updates) == 0 {
		return nil, fmt.Errorf("task %s has no updates payload", task.ID)
	}

	client, err := p.clientFor(task.WorkspaceID)
	if err != nil {
		return nil, err
	}

	var params shortcut.UpdateStoryParams
	raw, err := json.Marshal(updates)
	if err != nil {
		return nil, fmt.Errorf("encoding updates: %w", err)
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decoding updates: %w", err)
	}

	if _, err := client.UpdateStory(ctx, task.StoryID, params); err != nil {
		return nil, fmt.Errorf("updating story: %w", err)
	}

	return map[string]any{"applied": len(updates)}, nil
}

// analysisFor returns the quality analysis for the story, reusing one
// carried in the task payload before paying for a fresh LLM call.
func (p *Pipeline) analysisFor(ctx context.Context, task *queue.Task, story *shortcut.Story) (*agents.AnalysisResult, error) {
	if snapshot, ok := task.Payload["analysis"].(map[string]any); ok {
		raw, err := json.Marshal(snapshot)
		if err == nil {
			var result agents.AnalysisResult
			if err := json.Unmarshal(raw, &result); err == nil && result.OverallScore > 0 {
				return &result, nil
			}
		}
	}
	return p.analysis.Analyze(ctx, story)
}

// fetchStory loads the story from the API, preferring a snapshot carried in
// the task payload.
func (p *Pipeline) fetchStory(ctx context.Context, client *shortcut.Client, task *queue.Task) (*shortcut.Story, error) {
	if snapshot, ok := task.Payload["story"].(map[string]any); ok {
		raw, err := json.Marshal(snapshot)
		if err == nil {
			var story shortcut.Story
			if err := json.Unmarshal(raw, &story); err == nil && story.ID != 0 {
				return &story, nil
			}
		}
	}

	story, err := client.GetStory(ctx, task.StoryID)
	if err != nil {
		return nil, fmt.Errorf("fetching story %s: %w", task.StoryID, err)
	}
	return story, nil
}
