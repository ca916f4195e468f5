// Package shortcut is a thin client for the Shortcut v3 REST API, covering
// the handful of story operations the pipeline needs: fetching a story,
// commenting, and updating fields/labels.
package shortcut

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nathandonaldson/storytriage/internal/logging"
)

// DefaultBaseURL is the public Shortcut API endpoint.
const DefaultBaseURL = "https://api.app.shortcut.com/api/v3"

// Client talks to the Shortcut API for one workspace token.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (used in tests).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a Shortcut API client.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  logging.Component("shortcut"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Label is a story label.
type Label struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
}

// Story is the subset of story fields the pipeline reads and writes.
type Story struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	StoryType   string  `json:"story_type,omitempty"`
	Labels      []Label `json:"labels,omitempty"`
	AppURL      string  `json:"app_url,omitempty"`
	WorkflowID  int64   `json:"workflow_id,omitempty"`
}

// Comment is a story comment.
type Comment struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// UpdateStoryParams carries the mutable story fields. Nil pointers are
// omitted; Labels, when non-nil, replaces the story's full label set.
type UpdateStoryParams struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Labels      []Label `json:"labels,omitempty"`
}

// GetStory fetches a story by ID.
func (c *Client) GetStory(ctx context.Context, storyID string) (*Story, error) {
	var story Story
	if err := c.do(ctx, http.MethodGet, "/stories/"+storyID, nil, &story); err != nil {
		return nil, fmt.Errorf("get story %s: %w", storyID, err)
	}
	return &story, nil
}

// AddComment posts a comment on a story.
func (c *Client) AddComment(ctx context.Context, storyID, text string) (*Comment, error) {
	body := map[string]string{"text": text}
	var comment Comment
	if err := c.do(ctx, http.MethodPost, "/stories/"+storyID+"/comments", body, &comment); err != nil {
		return nil, fmt.Errorf("add comment to story %s: %w", storyID, err)
	}
	return &comment, nil
}

// UpdateStory applies the given changes to a story.
func (c *Client) UpdateStory(ctx context.Context, storyID string, params UpdateStoryParams) (*Story, error) {
	var story Story
	if err := c.do(ctx, http.MethodPut, "/stories/"+storyID, params, &story); err != nil {
		return nil, fmt.Errorf("update story %s: %w", storyID, err)
	}
	return &story, nil
}

// do performs one API request, encoding body as JSON when present and
// decoding the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Shortcut-Token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// SwapLabels returns params replacing the story's labels with adds applied
// and removes dropped. Comparison is by name, case-insensitive.
func SwapLabels(story *Story, adds, removes []string) UpdateStoryParams {
	removeSet := make(map[string]bool, len(removes))
	for _, name := range removes {
		removeSet[strings.ToLower(name)] = true
	}

	labels := make([]Label, 0, len(story.Labels)+len(adds))
	seen := make(map[string]bool)
	for _, l := range story.Labels {
		key := strings.ToLower(l.Name)
		if removeSet[key] || seen[key] {
			continue
		}
		seen[key] = true
		labels = append(labels, Label{Name: l.Name})
	}
	for _, name := range adds {
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		labels = append(labels, Label{Name: name})
	}

	return UpdateStoryParams{Labels: labels}
}
