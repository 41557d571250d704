package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPClassifier posts a batch to a classification endpoint. The endpoint
// answers with a JSON object mapping item id to label.
type HTTPClassifier struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPClassifier creates a new classifier posting to url. A nil client
// uses http.DefaultClient.
func NewHTTPClassifier(url, apiKey string, client *http.Client) *HTTPClassifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClassifier{url: url, apiKey: apiKey, client: client}
}

type httpRequest struct {
	Items   []Item  `json:"items"`
	Profile Profile `json:"profile"`
}

// Classify posts the batch and decodes the id to label map.
func (c *HTTPClassifier) Classify(ctx context.Context, items []Item, profile Profile) (map[string]string, error) {
	body, err := json.Marshal(httpRequest{Items: items, Profile: profile})
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

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
		return nil, &Error{Kind: KindStatus, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(respBody))}
	}

	return decodeLabels(respBody)
}

// decodeLabels parses a flat {"id": "label"} object.
func decodeLabels(data []byte) (map[string]string, error) {
	var labels map[string]string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, malformed("decode labels: %w", err)
	}
	if labels == nil {
		return nil, malformed("classifier returned null")
	}
	return labels, nil
}
