// Package generate provides the HTTP client for the external
// image-generation API. The call is opaque to admission: it either succeeds
// with a composite image or fails, and only the outcome matters for
// metering.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

// Client implements ports.Generator against an HTTP generation endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Config configures the generation client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// New creates a generation client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model      string `json:"model"`
	PhotoURL   string `json:"photo_url"`
	TemplateID string `json:"template_id"`
}

type generateResponse struct {
	ImageURL string `json:"image_url"`
	Error    string `json:"error,omitempty"`
}

// Generate submits one composite job and waits for the result. Any error,
// including context cancellation, means the operation must not be charged.
func (c *Client) Generate(ctx context.Context, req ports.GenerateRequest) (ports.GenerateResult, error) {
	body, err := json.Marshal(generateRequest{
		Model:      req.Model.String(),
		PhotoURL:   req.PhotoURL,
		TemplateID: req.TemplateID,
	})
	if err != nil {
		return ports.GenerateResult{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return ports.GenerateResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.TraceID != "" {
		httpReq.Header.Set("X-Trace-Id", req.TraceID)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ports.GenerateResult{}, fmt.Errorf("generation call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ports.GenerateResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ports.GenerateResult{}, fmt.Errorf("generation failed: status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return ports.GenerateResult{}, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return ports.GenerateResult{}, fmt.Errorf("generation failed: %s", out.Error)
	}
	if out.ImageURL == "" {
		return ports.GenerateResult{}, fmt.Errorf("generation failed: empty result")
	}

	return ports.GenerateResult{
		ImageURL:  out.ImageURL,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Ensure interface compliance.
var _ ports.Generator = (*Client)(nil)
