package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// HTTPExecutor replays a RefreshConfig's token-refresh call over a real
// HTTP client, satisfying Executor.
type HTTPExecutor struct {
	client *http.Client
}

var _ Executor = (*HTTPExecutor)(nil)

// NewHTTPExecutor builds an Executor with a bounded per-call timeout, per
// spec.md §5's outbound-call timeout table.
func NewHTTPExecutor(timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{client: &http.Client{Timeout: timeout}}
}

// Execute replays cfg's refresh call and extracts the resulting token set.
func (e *HTTPExecutor) Execute(ctx context.Context, cfg *models.RefreshConfig) (*models.TokenInfo, error) {
	var bodyReader io.Reader
	if cfg.Body != nil {
		raw, err := json.Marshal(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding refresh body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("building refresh request: %w", err)
	}
	for name, value := range cfg.Headers {
		req.Header.Set(name, value)
	}
	if req.Header.Get("Content-Type") == "" && bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading refresh response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("refresh call returned status %d", resp.StatusCode)
	}

	info := extractTokenInfo(string(raw))
	if info == nil {
		return nil, fmt.Errorf("refresh response carried no recognizable token fields")
	}
	return info, nil
}
