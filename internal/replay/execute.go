package replay

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// TransportResponse is what a Transport returns for one prepared request.
type TransportResponse struct {
	Status      int
	Headers     map[string]string
	Cookies     map[string]string
	BodyText    string
	ContentType string
}

// Transport sends a PreparedRequest and returns the observed response. The
// real implementation lives behind internal/browser/internal network
// collaborators; tests supply a fake.
type Transport func(prepared *models.PreparedRequest) (*TransportResponse, error)

// Step is one executed link in a capture chain: the request that was sent
// and the response that came back (nil Response on transport error).
type Step struct {
	Index    int
	Prepared *models.PreparedRequest
	Response *TransportResponse
	Err      error
}

// ExecuteCaptureChainForTarget replays every exchange targetIndex transitively
// depends on, then targetIndex itself, per spec.md §4.8.
func ExecuteCaptureChainForTarget(exchanges []models.CapturedExchange, graph *models.CorrelationGraphV1, targetIndex int, transport Transport) (final *models.StepResponseRuntime, steps []Step) {
	needed := topologicalOrder(graph, targetIndex)
	runtime := make(map[int]models.StepResponseRuntime, len(needed))

	for _, i := range needed {
		prepared := PrepareRequestForStep(exchanges, graph, i, runtime, nil)
		step := Step{Index: i, Prepared: prepared}
		if prepared == nil {
			steps = append(steps, step)
			continue
		}

		resp, err := transport(prepared)
		step.Response = resp
		step.Err = err
		steps = append(steps, step)
		if err != nil {
			continue
		}

		runtime[i] = buildRuntime(prepared, resp)
	}

	if r, ok := runtime[targetIndex]; ok {
		final = &r
	}
	return final, steps
}

func buildRuntime(prepared *models.PreparedRequest, resp *TransportResponse) models.StepResponseRuntime {
	hasJSON := isJSONContent(resp.ContentType, resp.BodyText)
	var bodyJSON any
	if hasJSON {
		if err := json.Unmarshal([]byte(resp.BodyText), &bodyJSON); err != nil {
			hasJSON = false
			bodyJSON = nil
		}
	}

	return models.StepResponseRuntime{
		Status:         resp.Status,
		Headers:        resp.Headers,
		BodyText:       resp.BodyText,
		ContentType:    resp.ContentType,
		BodyJSON:       bodyJSON,
		HasJSON:        hasJSON,
		Cookies:        resp.Cookies,
		RequestURL:     prepared.URL,
		RequestQuery:   parseURLQuery(prepared.URL),
		RequestCookies: extractRequestCookies(prepared),
	}
}

// parseURLQuery returns the flat (first-value) query parameters of rawURL.
func parseURLQuery(rawURL string) map[string]string {
	out := map[string]string{}
	u, err := url.Parse(rawURL)
	if err != nil {
		return out
	}
	for key, values := range u.Query() {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}

// extractRequestCookies parses the prepared request's Cookie header, if any,
// so a later step can resolve a correlation link sourced from it.
func extractRequestCookies(prepared *models.PreparedRequest) map[string]string {
	out := map[string]string{}
	for name, value := range prepared.Headers {
		if !strings.EqualFold(name, "cookie") {
			continue
		}
		header := http.Header{"Cookie": []string{value}}
		req := &http.Request{Header: header}
		for _, c := range req.Cookies() {
			out[c.Name] = c.Value
		}
	}
	return out
}

// isJSONContent reports whether a response should be treated as JSON, per
// spec.md §4.8 step 2.
func isJSONContent(contentType, body string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "application/json") || strings.HasSuffix(ct, "+json") {
		return true
	}
	trimmed := strings.TrimSpace(body)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// topologicalOrder computes the ascending index order over targetIndex and
// its transitive sources — valid because the correlation graph only ever
// links backward (property P4).
func topologicalOrder(graph *models.CorrelationGraphV1, targetIndex int) []int {
	set := map[int]bool{targetIndex: true}
	if graph != nil {
		for _, idx := range graph.Sources(targetIndex) {
			set[idx] = true
		}
	}
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
