package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 1024
	defaultAPIURL    = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
)

const systemPrompt = `You are an email filter that sorts a user's incoming mail into "spam" or "inbox".
Use the user's profile to judge whether each email is something the user wants to read.
Promotional, unsolicited or irrelevant mail is "spam". Mail related to the user's job, interests or declared usage is "inbox".
When unsure, answer "inbox".
Respond with a single JSON object mapping every email id to "spam" or "inbox" and nothing else.`

// LLMClassifier classifies a batch with a single Messages API call.
type LLMClassifier struct {
	apiKey    string
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewLLMClassifier creates a classifier for the Messages API. Empty model
// and non-positive maxTokens fall back to defaults; url may be empty.
func NewLLMClassifier(apiKey, url, modelName string, maxTokens int, client *http.Client) *LLMClassifier {
	if url == "" {
		url = defaultAPIURL
	}
	if modelName == "" {
		modelName = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if client == nil {
		client = &http.Client{}
	}
	return &LLMClassifier{
		apiKey:    apiKey,
		url:       url,
		model:     modelName,
		maxTokens: maxTokens,
		client:    client,
	}
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system"`
	Messages  []apiMessage `json:"messages"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	Content    []apiContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Classify asks the model for a JSON id to label map and decodes its reply.
func (c *LLMClassifier) Classify(ctx context.Context, items []Item, profile Profile) (map[string]string, error) {
	prompt, err := buildUserPrompt(items, profile)
	if err != nil {
		return nil, err
	}

	bodyBytes, err := json.Marshal(apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages:  []apiMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, &Error{Kind: KindStatus, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", apiErr.Error.Message)}
		}
		return nil, &Error{Kind: KindStatus, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", string(respBody))}
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, malformed("decoding response: %w", err)
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, malformed("empty response (stop reason %q)", result.StopReason)
	}

	return decodeLabels([]byte(stripFences(text.String())))
}

func buildUserPrompt(items []Item, profile Profile) (string, error) {
	emails, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshaling items: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("User profile:\n")
	fmt.Fprintf(&sb, "- Job: %s\n", orNone(profile.Job))
	fmt.Fprintf(&sb, "- Interests: %s\n", orNone(strings.Join(profile.Interests, ", ")))
	fmt.Fprintf(&sb, "- Usage: %s\n\n", orNone(profile.Usage))
	sb.WriteString("Emails:\n")
	sb.Write(emails)
	return sb.String(), nil
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

// stripFences removes markdown code fences the model sometimes wraps its
// JSON answer in.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
