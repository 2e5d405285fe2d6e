// Package marketplace implements the HTTP client for the skill index
// described in spec.md §6: POST /skills/search, POST /skills/search/domain,
// GET /skills/:id, POST /skills/publish.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
	"github.com/unbrowse-ai/unbrowse-core/internal/orchestrator"
	"github.com/unbrowse-ai/unbrowse-core/internal/unbrowseerr"
)

// Client talks to the marketplace index and satisfies
// orchestrator.MarketplaceClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ orchestrator.MarketplaceClient = (*Client)(nil)

// New builds a Client against indexURL, using httpClient for requests (or,
// when nil, a new client with a 15-second timeout).
func New(indexURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: indexURL, httpClient: httpClient}
}

type searchRequest struct {
	Intent string `json:"intent"`
	Domain string `json:"domain,omitempty"`
	K      int    `json:"k"`
}

type searchHit struct {
	ID     string         `json:"id"`
	Domain string         `json:"domain"`
	Score  float64        `json:"score"`
	Meta   map[string]any `json:"metadata"`
}

// SearchDomain issues a domain-scoped search for top-k candidates.
func (c *Client) SearchDomain(ctx context.Context, domain, intent string, k int) ([]orchestrator.MarketplaceCandidate, error) {
	return c.search(ctx, "/skills/search/domain", searchRequest{Intent: intent, Domain: domain, K: k})
}

// SearchGlobal issues an un-scoped search for top-k candidates.
func (c *Client) SearchGlobal(ctx context.Context, intent string, k int) ([]orchestrator.MarketplaceCandidate, error) {
	return c.search(ctx, "/skills/search", searchRequest{Intent: intent, K: k})
}

func (c *Client) search(ctx context.Context, path string, body searchRequest) ([]orchestrator.MarketplaceCandidate, error) {
	var hits []searchHit
	if err := c.postJSON(ctx, path, body, &hits); err != nil {
		return nil, err
	}
	candidates := make([]orchestrator.MarketplaceCandidate, 0, len(hits))
	for _, h := range hits {
		candidates = append(candidates, orchestrator.MarketplaceCandidate{SkillID: h.ID, Domain: h.Domain})
	}
	return candidates, nil
}

// GetSkill fetches a skill manifest by id.
func (c *Client) GetSkill(ctx context.Context, skillID string) (*models.SkillManifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/skills/"+skillID, nil)
	if err != nil {
		return nil, unbrowseerr.Internal("building get-skill request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, unbrowseerr.NotFound(fmt.Sprintf("skill %s not found", skillID))
	}
	if resp.StatusCode >= 400 {
		return nil, classifyStatusError(resp.StatusCode)
	}

	var skill models.SkillManifest
	if err := json.NewDecoder(resp.Body).Decode(&skill); err != nil {
		return nil, unbrowseerr.Internal("decoding skill manifest", err)
	}
	return &skill, nil
}

// Publish uploads a skill manifest for listing.
func (c *Client) Publish(ctx context.Context, skill *models.SkillManifest) error {
	var discard any
	return c.postJSON(ctx, "/skills/publish", skill, &discard)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return unbrowseerr.Internal("encoding marketplace request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return unbrowseerr.Internal("building marketplace request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return classifyStatusError(resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// BackoffFor classifies an UpstreamUnavailable failure into a retry delay,
// per spec.md §7 kind 5: 24h for quality-gate rejection (422), 30m for
// auth failures (401/403), 10m for 5xx, 5m for anything else unknown.
func BackoffFor(statusCode int) time.Duration {
	switch {
	case statusCode == http.StatusUnprocessableEntity:
		return 24 * time.Hour
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return 30 * time.Minute
	case statusCode >= 500:
		return 10 * time.Minute
	default:
		return 5 * time.Minute
	}
}

func classifyStatusError(statusCode int) error {
	return unbrowseerr.UpstreamUnavailable(
		fmt.Sprintf("marketplace returned status %d", statusCode),
		fmt.Errorf("retry after %s", BackoffFor(statusCode)),
	)
}

func classifyTransportError(err error) error {
	return unbrowseerr.UpstreamUnavailable("marketplace unreachable", err)
}
