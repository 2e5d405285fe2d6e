package replay

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

	"github.com/unbrowse-ai/unbrowse-core/internal/creds"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
	"github.com/unbrowse-ai/unbrowse-core/internal/orchestrator"
	"github.com/unbrowse-ai/unbrowse-core/internal/unbrowseerr"
)

var _ orchestrator.Executor = (*HTTPExecutor)(nil)

// HTTPExecutor runs one SkillEndpoint over a real HTTP client, satisfying
// orchestrator.Executor for C9's replay path at request time.
type HTTPExecutor struct {
	client *http.Client
	creds  creds.Provider // may be nil: the skill is tried unauthenticated
}

// NewHTTPExecutor builds an Executor with a bounded per-call timeout.
// credProvider may be nil when no credential source is configured.
func NewHTTPExecutor(timeout time.Duration, credProvider creds.Provider) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{client: &http.Client{Timeout: timeout}, creds: credProvider}
}

// Execute builds and sends the HTTP request for endpointID, substituting
// params into its path/query template and, for mutating methods, into its
// JSON body, per spec.md §4.8's request-time replay step.
func (e *HTTPExecutor) Execute(ctx context.Context, skill *models.SkillManifest, endpointID string, params map[string]any) (any, *models.ExecutionTrace, error) {
	endpoint := skill.EndpointByID(endpointID)
	if endpoint == nil {
		return nil, nil, unbrowseerr.NotFound(fmt.Sprintf("endpoint %q not found on skill %q", endpointID, skill.SkillID))
	}

	rawURL, remaining, err := buildRequestURL(skill.Domain, endpoint, params)
	if err != nil {
		return nil, nil, unbrowseerr.InputError(err.Error())
	}

	var bodyReader io.Reader
	if isMutatingMethod(endpoint.Method) && len(remaining) > 0 {
		raw, err := json.Marshal(remaining)
		if err != nil {
			return nil, nil, unbrowseerr.InputError("encoding request body: " + err.Error())
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, endpoint.Method, rawURL, bodyReader)
	if err != nil {
		return nil, nil, unbrowseerr.Internal("building replay request", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	e.applyCredentials(req, skill.Domain)

	started := time.Now()
	resp, err := e.client.Do(req)
	trace := &models.ExecutionTrace{
		SkillID:      skill.SkillID,
		EndpointID:   endpointID,
		StartedAt:    started,
		TraceVersion: models.CurrentTraceVersion,
	}
	if err != nil {
		trace.CompletedAt = time.Now()
		return nil, trace, unbrowseerr.UpstreamUnavailable("replay call failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	trace.CompletedAt = time.Now()
	trace.StatusCode = resp.StatusCode
	trace.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if err != nil {
		return nil, trace, unbrowseerr.Internal("reading replay response", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isJSONContent(contentType, string(raw)) {
		return string(raw), trace, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw), trace, nil
	}
	return decoded, trace, nil
}

func isMutatingMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// buildRequestURL substitutes {name} path placeholders from params, then, for
// non-mutating methods, sets the endpoint's declared query params from
// params, returning whatever of params was not consumed (the remainder
// becomes the body for mutating methods).
func buildRequestURL(domain string, endpoint *models.SkillEndpoint, params map[string]any) (string, map[string]any, error) {
	path := endpoint.URLTemplate
	remaining := make(map[string]any, len(params))
	for k, v := range params {
		remaining[k] = v
	}

	for _, p := range endpoint.PathParams {
		value, ok := remaining[p.Name]
		if !ok {
			return "", nil, fmt.Errorf("missing required path param %q", p.Name)
		}
		path = strings.ReplaceAll(path, "{"+p.Name+"}", fmt.Sprint(value))
		delete(remaining, p.Name)
	}
	if strings.Contains(path, "{") {
		return "", nil, fmt.Errorf("unresolved path placeholder in %q", path)
	}

	base := domain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return "", nil, fmt.Errorf("building replay URL: %w", err)
	}

	if !isMutatingMethod(endpoint.Method) {
		q := u.Query()
		for _, qp := range endpoint.QueryParams {
			if value, ok := remaining[qp.Name]; ok {
				q.Set(qp.Name, fmt.Sprint(value))
				delete(remaining, qp.Name)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), remaining, nil
}

// applyCredentials attaches a bearer token for domain when a credential
// provider is configured and holds one, per C12's header-injection
// convention for AuthMethodBearer skills.
func (e *HTTPExecutor) applyCredentials(req *http.Request, domain string) {
	if e.creds == nil {
		return
	}
	cred, found, err := e.creds.LookupCredentials(domain, "api")
	if err != nil || !found || cred.Secret == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+cred.Secret)
}
