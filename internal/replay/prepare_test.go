package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

func mkExchange(idx int, method, rawURL, bodyRaw string) models.CapturedExchange {
	headers := models.NewHeaderMap()
	headers.Set("Host", "example.com")
	headers.Set("Connection", "keep-alive")
	headers.Set("Cookie", "session=abc")
	headers.Set("Accept", "application/json")
	return models.CapturedExchange{
		Index: idx,
		Request: models.RequestRecord{
			Method:  method,
			URL:     rawURL,
			Headers: headers,
			BodyRaw: bodyRaw,
		},
	}
}

// TestPrepareRequestForStep_StripsTransportHeaders is property P5: the
// prepared request never carries a hop-by-hop header.
func TestPrepareRequestForStep_StripsTransportHeaders(t *testing.T) {
	exchanges := []models.CapturedExchange{mkExchange(0, "GET", "https://example.com/items/1", "")}
	prepared := PrepareRequestForStep(exchanges, nil, 0, nil, nil)

	assert.NotNil(t, prepared)
	for name := range prepared.Headers {
		assert.NotEqual(t, "host", name)
		assert.NotEqual(t, "connection", name)
		assert.NotEqual(t, "cookie", name)
	}
	assert.Contains(t, prepared.Headers, "Accept")
}

func TestPrepareRequestForStep_MissingIndexReturnsNil(t *testing.T) {
	exchanges := []models.CapturedExchange{mkExchange(0, "GET", "https://example.com/a", "")}
	assert.Nil(t, PrepareRequestForStep(exchanges, nil, 5, nil, nil))
}

// TestPrepareRequestForStep_HeaderInjectionAddsBearerPrefix covers the
// authorization-header special case from spec.md §4.7 step 4.
func TestPrepareRequestForStep_HeaderInjectionAddsBearerPrefix(t *testing.T) {
	exchanges := []models.CapturedExchange{
		mkExchange(0, "POST", "https://example.com/login", ""),
		mkExchange(1, "GET", "https://example.com/profile", ""),
	}
	graph := &models.CorrelationGraphV1{Links: []models.CorrelationLinkV1{
		{SourceRequestIndex: 0, SourceLocation: models.LocationBody, SourcePath: "token", TargetRequestIndex: 1, TargetLocation: models.LocationHeader, TargetPath: "Authorization"},
	}}
	runtime := map[int]models.StepResponseRuntime{
		0: {BodyText: `{"token":"xyz123"}`},
	}

	prepared := PrepareRequestForStep(exchanges, graph, 1, runtime, nil)

	assert.Equal(t, "Bearer xyz123", prepared.Headers["Authorization"])
}

// TestPrepareRequestForStep_URLSegmentInjectionPreservesSuffix covers the
// hashed-candidate segment replacement from spec.md §4.7 step 4.
func TestPrepareRequestForStep_URLSegmentInjectionPreservesSuffix(t *testing.T) {
	exchanges := []models.CapturedExchange{
		mkExchange(0, "GET", "https://hn.example.com/v0/topstories.json", `[12345678]`),
		mkExchange(1, "GET", "https://hn.example.com/v0/item/12345678.json", ""),
	}
	sum := hashValue("12345678")
	graph := &models.CorrelationGraphV1{Links: []models.CorrelationLinkV1{
		{SourceRequestIndex: 0, SourceLocation: models.LocationBody, SourcePath: "[]", TargetRequestIndex: 1, TargetLocation: models.LocationURL, TargetPath: "url.path.2", ValueHash: sum},
	}}
	runtime := map[int]models.StepResponseRuntime{
		0: {BodyText: `[12345678]`},
	}

	prepared := PrepareRequestForStep(exchanges, graph, 1, runtime, nil)

	assert.Equal(t, "https://hn.example.com/v0/item/12345678.json", prepared.URL)
}

// TestPrepareRequestForStep_QueryInjection covers flat query-param
// injection from a prior response body leaf.
func TestPrepareRequestForStep_QueryInjection(t *testing.T) {
	exchanges := []models.CapturedExchange{
		mkExchange(0, "GET", "https://example.com/session", ""),
		mkExchange(1, "GET", "https://example.com/data?token=old", ""),
	}
	graph := &models.CorrelationGraphV1{Links: []models.CorrelationLinkV1{
		{SourceRequestIndex: 0, SourceLocation: models.LocationBody, SourcePath: "token", TargetRequestIndex: 1, TargetLocation: models.LocationQuery, TargetPath: "query.token"},
	}}
	runtime := map[int]models.StepResponseRuntime{
		0: {BodyText: `{"token":"fresh-token-value"}`},
	}

	prepared := PrepareRequestForStep(exchanges, graph, 1, runtime, nil)

	assert.Contains(t, prepared.URL, "token=fresh-token-value")
}

// TestPrepareRequestForStep_BodyInjectionPatchesNestedPath covers nested
// JSON body patching via sjson.
func TestPrepareRequestForStep_BodyInjectionPatchesNestedPath(t *testing.T) {
	exchanges := []models.CapturedExchange{
		mkExchange(0, "GET", "https://example.com/session", ""),
		mkExchange(1, "POST", "https://example.com/order", `{"payload":{"userId":"old"}}`),
	}
	graph := &models.CorrelationGraphV1{Links: []models.CorrelationLinkV1{
		{SourceRequestIndex: 0, SourceLocation: models.LocationBody, SourcePath: "id", TargetRequestIndex: 1, TargetLocation: models.LocationBody, TargetPath: "body.payload.userId"},
	}}
	runtime := map[int]models.StepResponseRuntime{
		0: {BodyText: `{"id":"user-999"}`},
	}

	prepared := PrepareRequestForStep(exchanges, graph, 1, runtime, nil)

	assert.JSONEq(t, `{"payload":{"userId":"user-999"}}`, prepared.BodyText)
}

func TestPrepareRequestForStep_SessionHeaderOverlay(t *testing.T) {
	exchanges := []models.CapturedExchange{mkExchange(0, "GET", "https://example.com/a", "")}
	opts := &Options{SessionHeaders: map[string]string{"X-Session": "live-session"}}

	prepared := PrepareRequestForStep(exchanges, nil, 0, nil, opts)

	assert.Equal(t, "live-session", prepared.Headers["X-Session"])
}

func TestPrepareRequestForStep_BodyOverrideTakesPriority(t *testing.T) {
	exchanges := []models.CapturedExchange{mkExchange(0, "POST", "https://example.com/a", `{"a":1}`)}
	opts := &Options{BodyOverrideText: `{"b":2}`, HasBodyOverride: true}

	prepared := PrepareRequestForStep(exchanges, nil, 0, nil, opts)

	assert.Equal(t, `{"b":2}`, prepared.BodyText)
}
