// Package cmdutil provides the bundled CLI's shared control-service client
// and single-instance spawn-or-reuse logic, per SPEC_FULL.md §4.17.
package cmdutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/unbrowse-ai/unbrowse-core/internal/unbrowseerr"
)

// Client talks to a running control service over its HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client against baseURL.
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// Health probes /health with a short timeout, for the spawn-or-reuse wait
// loop and for `unbrowsectl status`.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return unbrowseerr.Internal("building health request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unbrowseerr.UpstreamUnavailable("control service unreachable", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return unbrowseerr.UpstreamUnavailable(fmt.Sprintf("control service unhealthy: status %d", resp.StatusCode), nil)
	}
	return nil
}

// ResolveIntent posts to /v1/intent/resolve and decodes the response into
// out (typically a map[string]any — the CLI reprints it as JSON).
func (c *Client) ResolveIntent(ctx context.Context, body any, out any) error {
	return c.postJSON(ctx, "/v1/intent/resolve", body, out)
}

// ExecuteSkill posts to /v1/skills/:id/execute.
func (c *Client) ExecuteSkill(ctx context.Context, skillID string, body any, out any) error {
	return c.postJSON(ctx, "/v1/skills/"+skillID+"/execute", body, out)
}

// Feedback posts to /v1/feedback.
func (c *Client) Feedback(ctx context.Context, body any) error {
	var discard any
	return c.postJSON(ctx, "/v1/feedback", body, &discard)
}

// Search posts to /v1/search/domain when scoped is true, else to
// /v1/search.
func (c *Client) Search(ctx context.Context, scoped bool, body any, out any) error {
	path := "/v1/search"
	if scoped {
		path = "/v1/search/domain"
	}
	return c.postJSON(ctx, path, body, out)
}

// Login posts to /v1/auth/login and blocks until the interactive session
// completes or the server times it out.
func (c *Client) Login(ctx context.Context, body any, out any) error {
	return c.postJSON(ctx, "/v1/auth/login", body, out)
}

// ListSkills fetches GET /v1/skills.
func (c *Client) ListSkills(ctx context.Context, out any) error {
	return c.getJSON(ctx, "/v1/skills", out)
}

// GetSkill fetches GET /v1/skills/:id.
func (c *Client) GetSkill(ctx context.Context, skillID string, out any) error {
	return c.getJSON(ctx, "/v1/skills/"+skillID, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return unbrowseerr.Internal("encoding request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return unbrowseerr.Internal("building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return unbrowseerr.Internal("building request", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unbrowseerr.UpstreamUnavailable("control service unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return unbrowseerr.Internal("reading response", err)
	}

	if resp.StatusCode >= 400 {
		return classifyErrorBody(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func classifyErrorBody(statusCode int, raw []byte) error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)
	message := body.Error
	if message == "" {
		message = fmt.Sprintf("control service returned status %d", statusCode)
	}

	switch statusCode {
	case http.StatusNotFound:
		return unbrowseerr.NotFound(message)
	case http.StatusConflict:
		return unbrowseerr.CaptureInFlight(message)
	case http.StatusBadRequest, http.StatusPreconditionFailed:
		return unbrowseerr.InputError(message)
	case http.StatusGatewayTimeout, http.StatusBadGateway:
		return unbrowseerr.UpstreamUnavailable(message, nil)
	default:
		return unbrowseerr.Internal(message, nil)
	}
}
