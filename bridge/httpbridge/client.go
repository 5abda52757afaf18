// Package httpbridge provides a thin net/http client that lets an external,
// non-Go collaborator participate via the Collaboration Tools surface (C7)
// without joining the in-process Hub directly.
//
// Interface contract (replace base URL with your operator's deployment):
//
//	POST /v1/search
//	  Body: SearchRequest JSON
//	  Response: SearchResponse JSON
//
//	POST /v1/collaborate
//	  Body: CollaborateRequest JSON
//	  Response: CollaborateResponse JSON
//
//	GET  /v1/collaborate/{request_id}
//	  Response: CollaborateResponse JSON
package httpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a remote collaborator's entry point into one agent's
// Collaboration Tools, exposed over HTTP by an operator-run bridge server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	agentID    string
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the Bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout overrides the default HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithAgentID sets the caller agent_id attached to outgoing requests.
func WithAgentID(id string) Option {
	return func(c *Client) { c.agentID = id }
}

// NewClient creates an httpbridge client targeting baseURL (e.g. "https://bridge.example.com").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ------------------------------------------------------------------ API types

// SearchRequest is the JSON payload sent to POST /v1/search.
type SearchRequest struct {
	AgentID        string  `json:"agent_id"`
	CapabilityName string  `json:"capability_name"`
	Limit          int     `json:"limit,omitempty"`
	Threshold      float64 `json:"threshold,omitempty"`
}

// AgentMatch mirrors collab.AgentMatch over the wire.
type AgentMatch struct {
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
}

// SearchResponse is the JSON body returned by POST /v1/search.
type SearchResponse struct {
	Matches []AgentMatch `json:"matches,omitempty"`
	Message string       `json:"message,omitempty"`
}

// CollaborateRequest is the JSON payload sent to POST /v1/collaborate.
type CollaborateRequest struct {
	AgentID       string            `json:"agent_id"`
	TargetAgentID string            `json:"target_agent_id"`
	Task          string            `json:"task"`
	TimeoutSeconds int              `json:"timeout_seconds,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CollaborateResponse mirrors collab.CollaborationOutcome over the wire.
type CollaborateResponse struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	Response  string `json:"response,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ------------------------------------------------------------------ public API

// SearchForAgents asks the bridge to run search_for_agents on the caller's behalf.
func (c *Client) SearchForAgents(ctx context.Context, capabilityName string, limit int, threshold float64) (*SearchResponse, error) {
	req := SearchRequest{
		AgentID:        c.agentID,
		CapabilityName: capabilityName,
		Limit:          limit,
		Threshold:      threshold,
	}
	var resp SearchResponse
	if err := c.post(ctx, "/v1/search", req, &resp); err != nil {
		return nil, fmt.Errorf("httpbridge SearchForAgents: %w", err)
	}
	return &resp, nil
}

// SendCollaborationRequest asks the bridge to run send_collaboration_request
// on the caller's behalf.
func (c *Client) SendCollaborationRequest(ctx context.Context, targetAgentID, task string, timeout time.Duration, metadata map[string]string) (*CollaborateResponse, error) {
	req := CollaborateRequest{
		AgentID:        c.agentID,
		TargetAgentID:  targetAgentID,
		Task:           task,
		TimeoutSeconds: int(timeout.Seconds()),
		Metadata:       metadata,
	}
	var resp CollaborateResponse
	if err := c.post(ctx, "/v1/collaborate", req, &resp); err != nil {
		return nil, fmt.Errorf("httpbridge SendCollaborationRequest: %w", err)
	}
	return &resp, nil
}

// CheckCollaborationResult asks the bridge to run check_collaboration_result
// for a previously issued request_id.
func (c *Client) CheckCollaborationResult(ctx context.Context, requestID string) (*CollaborateResponse, error) {
	var resp CollaborateResponse
	path := "/v1/collaborate/" + url.PathEscape(requestID)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("httpbridge CheckCollaborationResult: %w", err)
	}
	return &resp, nil
}

// ------------------------------------------------------------------ HTTP helpers

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
