package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nathandonaldson/storytriage/internal/logging"
	"github.com/nathandonaldson/storytriage/internal/shortcut"
)

const analysisSystemPrompt = `You are a senior product manager reviewing user stories for quality.
Score each section of the story from 1 to 10 and give concrete, actionable feedback.
Respond with a single JSON object matching this shape exactly:
{
  "overall_score": <number 1-10>,
  "summary": "<one paragraph summary of the story's quality>",
  "title_analysis": {"score": <1-10>, "strengths": [...], "weaknesses": [...], "recommendations": [...]},
  "description_analysis": {"score": <1-10>, "strengths": [...], "weaknesses": [...], "recommendations": [...]},
  "acceptance_criteria_analysis": {"score": <1-10>, "strengths": [...], "weaknesses": [...], "recommendations": [...]},
  "priority_areas": ["<most important improvement>", ...]
}
Return only JSON, no prose outside the object.`

// SectionAnalysis scores one aspect of a story.
type SectionAnalysis struct {
	Score           int      `json:"score"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
}

// AnalysisResult is the structured output of a story quality review.
type AnalysisResult struct {
	OverallScore               float64         `json:"overall_score"`
	Summary                    string          `json:"summary"`
	TitleAnalysis              SectionAnalysis `json:"title_analysis"`
	DescriptionAnalysis        SectionAnalysis `json:"description_analysis"`
	AcceptanceCriteriaAnalysis SectionAnalysis `json:"acceptance_criteria_analysis"`
	PriorityAreas              []string        `json:"priority_areas"`
}

// AnalysisAgent reviews story quality using an LLM.
type AnalysisAgent struct {
	llm    *llmClient
	logger *logging.Logger
}

// NewAnalysisAgent creates an analysis agent from the given LLM config.
func NewAnalysisAgent(cfg Config) (*AnalysisAgent, error) {
	llm, err := newLLMClient(cfg)
	if err != nil {
		return nil, err
	}
	return &AnalysisAgent{llm: llm, logger: logging.Component("analysis")}, nil
}

// Analyze scores the story and returns section-level feedback.
func (a *AnalysisAgent) Analyze(ctx context.Context, story *shortcut.Story) (*AnalysisResult, error) {
	user := fmt.Sprintf("Review this user story.\n\nTitle: %s\n\nType: %s\n\nDescription:\n%s",
		story.Name, story.StoryType, story.Description)

	raw, err := a.llm.completeJSON(ctx, analysisSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("analyzing story %d: %w", story.ID, err)
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parsing analysis response: %w", err)
	}

	a.logger.InfoCtx("story analyzed", map[string]any{
		"story_id":      story.ID,
		"overall_score": result.OverallScore,
	})
	return &result, nil
}

// FormatAnalysisComment renders the analysis as a Markdown comment for the story.
func FormatAnalysisComment(result *AnalysisResult) string {
	var b strings.Builder

	b.WriteString("## 📊 Story Analysis Results\n\n")
	fmt.Fprintf(&b, "**Overall Score: %.1f/10**\n\n", result.OverallScore)
	if result.Summary != "" {
		b.WriteString(result.Summary)
		b.WriteString("\n\n")
	}

	writeSection(&b, "Title", result.TitleAnalysis)
	writeSection(&b, "Description", result.DescriptionAnalysis)
	writeSection(&b, "Acceptance Criteria", result.AcceptanceCriteriaAnalysis)

	if len(result.PriorityAreas) > 0 {
		b.WriteString("### 🎯 Priority Improvements\n\n")
		for i, area := range result.PriorityAreas {
			fmt.Fprintf(&b, "%d. %s\n", i+1, area)
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n*Analysis by [Story Triage](https://app.shortcut.com)*\n")
	return b.String()
}

func writeSection(b *strings.Builder, name string, section SectionAnalysis) {
	fmt.Fprintf(b, "### %s — %d/10\n\n", name, section.Score)
	writeBullets(b, "**Strengths:**", section.Strengths)
	writeBullets(b, "**Weaknesses:**", section.Weaknesses)
	writeBullets(b, "**Recommendations:**", section.Recommendations)
}

func writeBullets(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(heading)
	b.WriteString("\n")
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}
