// Package ai calls the Claude Messages API to produce email summaries,
// replies, rewrites and task lists.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"

	"github.com/jaytaylor/html2text"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 1024
	defaultBaseURL   = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
)

// Action names one kind of generation.
type Action string

const (
	ActionSummarize Action = "summarize"
	ActionReply     Action = "reply"
	ActionRewrite   Action = "rewrite"
	ActionTasks     Action = "tasks"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionSummarize, ActionReply, ActionRewrite, ActionTasks:
		return true
	}
	return false
}

// Request is the input for one generation. EmailContext carries the email
// being worked on; RawText is the user's own draft for rewrite.
type Request struct {
	Action       Action
	Locale       string
	Tone         string
	EmailContext string
	RawText      string
	Notes        string
	Template     string
}

// Result is the generated content in both renderings.
type Result struct {
	HTML string
	Text string
}

// Client is a Claude Messages API client.
type Client struct {
	apiKey    string
	model     string
	maxTokens int
	baseURL   string
	client    *http.Client
}

// New creates a client. Empty model and non-positive maxTokens select the
// defaults.
func New(apiKey, modelName string, maxTokens int) *Client {
	if modelName == "" {
		modelName = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		apiKey:    apiKey,
		model:     modelName,
		maxTokens: maxTokens,
		baseURL:   defaultBaseURL,
		client:    &http.Client{},
	}
}

// WithBaseURL points the client at a different endpoint.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// Generate runs one request and returns the HTML and plain-text renderings
// of the model's answer.
func (c *Client) Generate(ctx context.Context, req Request) (Result, error) {
	if !req.Action.Valid() {
		return Result{}, fmt.Errorf("unknown action %q", req.Action)
	}
	if c.apiKey == "" {
		return Result{}, fmt.Errorf("calling Claude API: no API key configured")
	}

	user, err := buildUserPrompt(req)
	if err != nil {
		return Result{}, err
	}

	resp, err := c.callAPI(ctx, apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt(req),
		Messages: []apiMessage{{
			Role:    "user",
			Content: []apiContentBlock{{Type: "text", Text: user}},
		}},
	})
	if err != nil {
		return Result{}, err
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	out := strings.TrimSpace(strings.Join(parts, ""))
	if out == "" {
		return Result{}, fmt.Errorf("empty response from model")
	}

	return render(out)
}

// render turns the model output into a Result. Output that is not HTML is
// treated as plain text and wrapped in paragraphs.
func render(out string) (Result, error) {
	out = stripFence(out)

	if !looksLikeHTML(out) {
		var sb strings.Builder
		for _, para := range strings.Split(out, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			sb.WriteString("<p>")
			sb.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
			sb.WriteString("</p>")
		}
		return Result{HTML: sb.String(), Text: out}, nil
	}

	text, err := html2text.FromString(out, html2text.Options{OmitLinks: true})
	if err != nil {
		return Result{}, fmt.Errorf("converting response to text: %w", err)
	}
	return Result{HTML: out, Text: text}, nil
}

// stripFence removes a surrounding ```html fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func looksLikeHTML(s string) bool {
	s = strings.ToLower(s)
	for _, tag := range []string{"<p", "<div", "<ul", "<ol", "<br", "<table", "<h1", "<h2", "<h3", "<span", "<strong"} {
		if strings.Contains(s, tag) {
			return true
		}
	}
	return false
}

// callAPI makes a single request to the Claude Messages API.
func (c *Client) callAPI(ctx context.Context, reqBody apiRequest) (*apiResponse, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &result, nil
}

// --- Claude API types ---

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []apiContentBlock `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
