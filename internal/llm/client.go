package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 2 * time.Minute

// Caller is the converse contract the orchestrator depends on. Failures here
// are turn-fatal; they are never folded into the conversation.
type Caller interface {
	Converse(ctx context.Context, req Request) (*Response, error)
}

// Client calls a converse-compatible model endpoint over HTTP with bearer
// authentication.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// ClientConfig configures the model service endpoint.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

// Converse posts the request to /model/{modelId}/converse and decodes the
// reply. Any transport failure or non-2xx status is returned as an error.
func (c *Client) Converse(ctx context.Context, req Request) (*Response, error) {
	if req.ModelID == "" {
		return nil, fmt.Errorf("converse: model id is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("converse: encode request: %w", err)
	}

	endpoint := c.baseURL + "/model/" + url.PathEscape(req.ModelID) + "/converse"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("converse: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("converse: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("converse: model service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("converse: decode response: %w", err)
	}
	return &out, nil
}

var _ Caller = (*Client)(nil)
