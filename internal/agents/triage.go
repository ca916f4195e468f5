package agents

import (
	"strings"

	"github.com/nathandonaldson/storytriage/internal/logging"
)

// Workflow names a triage decision outcome.
const (
	WorkflowEnhance = "enhance"
	WorkflowAnalyse = "analyse"
)

// TriageDecision is the outcome of triaging one webhook event.
type TriageDecision struct {
	Processed bool   `json:"processed"`
	Workflow  string `json:"workflow,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// TriageAgent decides whether a story webhook should trigger the analysis
// or enhancement workflow. The decision is label-driven: a story update that
// adds an "analyse"/"analyze" label routes to analysis, an "enhance" label
// to enhancement.
type TriageAgent struct {
	logger *logging.Logger
}

// TriageOption configures a TriageAgent.
type TriageOption func(*TriageAgent)

// WithTriageLogger sets the logger.
func WithTriageLogger(l *logging.Logger) TriageOption {
	return func(a *TriageAgent) {
		a.logger = l
	}
}

// NewTriageAgent creates a triage agent.
func NewTriageAgent(opts ...TriageOption) *TriageAgent {
	a := &TriageAgent{logger: logging.Component("triage")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Decide inspects a webhook body and returns the workflow decision.
func (a *TriageAgent) Decide(webhook map[string]any) TriageDecision {
	data := webhook
	// Webhook logs sometimes nest the event under a "data" field.
	if nested, ok := webhook["data"].(map[string]any); ok {
		data = nested
	}

	// Labels named in the references section, indexed by ID so label_ids
	// changes can be resolved.
	labelsByID := make(map[any]string)
	triggered := make(map[string]bool)

	if refs, ok := data["references"].([]any); ok {
		for _, r := range refs {
			ref, ok := r.(map[string]any)
			if !ok || ref["entity_type"] != "label" {
				continue
			}
			name, _ := ref["name"].(string)
			labelsByID[ref["id"]] = name
			markLabel(triggered, name)
		}
	}

	// Labels added by an update action, resolved through the references.
	if actions, ok := data["actions"].([]any); ok {
		for _, act := range actions {
			action, ok := act.(map[string]any)
			if !ok || action["action"] != "update" {
				continue
			}
			changes, ok := action["changes"].(map[string]any)
			if !ok {
				continue
			}
			labelIDs, ok := changes["label_ids"].(map[string]any)
			if !ok {
				continue
			}
			adds, ok := labelIDs["adds"].([]any)
			if !ok {
				continue
			}
			for _, id := range adds {
				markLabel(triggered, labelsByID[id])
			}
		}
	}

	switch {
	case triggered[WorkflowAnalyse]:
		a.logger.InfoCtx("triage decision", map[string]any{"workflow": WorkflowAnalyse})
		return TriageDecision{Processed: true, Workflow: WorkflowAnalyse}
	case triggered[WorkflowEnhance]:
		a.logger.InfoCtx("triage decision", map[string]any{"workflow": WorkflowEnhance})
		return TriageDecision{Processed: true, Workflow: WorkflowEnhance}
	default:
		return TriageDecision{Processed: false, Reason: "no relevant labels found"}
	}
}

// markLabel records a workflow trigger for recognized label names.
func markLabel(triggered map[string]bool, name string) {
	switch strings.ToLower(name) {
	case "analyse", "analyze":
		triggered[WorkflowAnalyse] = true
	case "enhance":
		triggered[WorkflowEnhance] = true
	}
}
