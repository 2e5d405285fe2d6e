package browser

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbrowse-ai/unbrowse-core/internal/driven"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// fakeCaller stubs the browser-control RPC channel with canned replies
// keyed by op, so Session/Capturer tests don't need a real websocket.Hub.
type fakeCaller struct {
	connected bool
	replies   map[string]any
	calls     []string
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{connected: true, replies: map[string]any{}}
}

func (f *fakeCaller) Call(ctx context.Context, op string, params any) (json.RawMessage, error) {
	f.calls = append(f.calls, op)
	reply, ok := f.replies[op]
	if !ok {
		return json.Marshal(true)
	}
	return json.Marshal(reply)
}

func (f *fakeCaller) IsConnected() bool { return f.connected }

func TestSession_NavigateSendsURL(t *testing.T) {
	caller := newFakeCaller()
	session := NewSession(caller)

	err := session.Navigate(context.Background(), "https://example.com")

	require.NoError(t, err)
	assert.Contains(t, caller.calls, "navigate")
}

func TestSession_RequestsDecodesCapturedList(t *testing.T) {
	caller := newFakeCaller()
	caller.replies["requests"] = []capturedRequestWire{
		{Method: "GET", URL: "https://api.example.com/things", Status: 200, ResourceType: "xhr"},
	}
	session := NewSession(caller)

	out, err := session.Requests(context.Background(), true)

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "GET", out[0].Method)
}

type fakeExecutor struct {
	result any
	trace  *models.ExecutionTrace
	err    error
}

func (e *fakeExecutor) Execute(ctx context.Context, skill *models.SkillManifest, endpointID string, params map[string]any) (any, *models.ExecutionTrace, error) {
	return e.result, e.trace, e.err
}

func sampleAuthedExchange(status int) models.CapturedExchange {
	headers := models.NewHeaderMap()
	headers.Set("Authorization", "Bearer sometoken12345")
	headers.Set("Content-Type", "application/json")
	respHeaders := models.NewHeaderMap()
	respHeaders.Set("Content-Type", "application/json")
	return models.CapturedExchange{
		Request: models.RequestRecord{
			Method:      "GET",
			URL:         "https://api.example.com/v1/things",
			Headers:     headers,
			Cookies:     map[string]string{"session": "abc123"},
			ContentType: "application/json",
		},
		Response: models.ResponseRecord{
			Status:  status,
			Headers: respHeaders,
			Body:    map[string]any{"ok": true},
		},
	}
}

func TestCapture_BuildsSkillAndExecutesFirstEndpoint(t *testing.T) {
	caller := newFakeCaller()
	caller.replies["requests"] = []capturedRequestWire{
		{Method: "GET", URL: "https://api.example.com/v1/things", Status: 200, ResourceType: "xhr",
			Headers:         map[string]string{"Authorization": "Bearer sometoken12345"},
			ResponseHeaders: map[string]string{"Content-Type": "application/json"}},
	}
	caller.replies["cookies"] = map[string]string{"session": "abc123"}
	caller.replies["storage"] = map[string]string{}

	executor := &fakeExecutor{
		result: map[string]any{"ok": true},
		trace:  &models.ExecutionTrace{TraceID: "t1", Success: true, TraceVersion: models.CurrentTraceVersion},
	}

	capturer := NewCapturer(NewSession(caller), executor, nil)

	outcome, err := capturer.Capture(context.Background(), "https://api.example.com/", nil)

	require.NoError(t, err)
	require.NotNil(t, outcome.LearnedSkill)
	assert.Equal(t, "api.example.com", outcome.LearnedSkill.Domain)
	assert.Equal(t, models.LifecycleDraft, outcome.LearnedSkill.Lifecycle)
	require.NotEmpty(t, outcome.LearnedSkill.Endpoints)
	assert.Equal(t, outcome.Result, map[string]any{"ok": true})
	assert.NotNil(t, outcome.LearnedSkill.DiscoveryCost)
}

func TestCapture_NoTrafficReturnsUpstreamUnavailable(t *testing.T) {
	caller := newFakeCaller()
	capturer := NewCapturer(NewSession(caller), &fakeExecutor{}, nil)

	_, err := capturer.Capture(context.Background(), "https://api.example.com/", nil)

	assert.Error(t, err)
}

func TestAnalyzeExchanges_InfersMixedAuthMethodForBearerPlusCookie(t *testing.T) {
	exchanges := []models.CapturedExchange{sampleAuthedExchange(200)}

	set := AnalyzeExchanges(exchanges, nil, nil, nil, nil)

	assert.Equal(t, models.AuthMethodMixed, set.AuthMethod) // bearer header + session cookie
	assert.Contains(t, set.Domains, "api.example.com")
}

func TestAnalyzeExchanges_PopulatesDomainContext(t *testing.T) {
	exchanges := []models.CapturedExchange{sampleAuthedExchange(200)}
	manager := driven.NewDomainContextManager()
	defer manager.Stop()

	set := AnalyzeExchanges(exchanges, nil, nil, nil, manager)

	require.Contains(t, set.DomainContexts, "api.example.com")
	ctx := set.DomainContexts["api.example.com"]
	assert.Equal(t, int64(1), ctx.RequestCount)
	require.Contains(t, ctx.Resources, "/v1/things")
	assert.Equal(t, "read", ctx.Resources["/v1/things"].Operations["GET"])

	// The same manager keeps accumulating state across further captures.
	again := AnalyzeExchanges(exchanges, nil, nil, nil, manager)
	assert.Equal(t, int64(2), again.DomainContexts["api.example.com"].RequestCount)
}

func TestInferAuthMethod_NoneWhenNothingObserved(t *testing.T) {
	method := inferAuthMethod(map[string]string{}, map[string]string{})

	assert.Equal(t, models.AuthMethodNone, method)
}

func TestLooksAuthGated_TrueOn401Or403(t *testing.T) {
	assert.True(t, looksAuthGated([]models.CapturedExchange{sampleAuthedExchange(401)}))
	assert.False(t, looksAuthGated([]models.CapturedExchange{sampleAuthedExchange(200)}))
}

func TestLoginCapturer_AwaitLoginReturnsOnSessionCookie(t *testing.T) {
	caller := newFakeCaller()
	caller.replies["cookies"] = map[string]string{"sid": "xyz"}
	caller.replies["storage"] = map[string]string{}
	capturer := NewLoginCapturer(NewSession(caller), 5*time.Millisecond)

	outcome, err := capturer.AwaitLogin(context.Background(), "https://example.com/login", "sid")

	require.NoError(t, err)
	assert.True(t, outcome.SessionFound)
	assert.Equal(t, "xyz", outcome.Cookies["sid"])
}

func TestLoginCapturer_TimesOutWithoutSession(t *testing.T) {
	caller := newFakeCaller()
	caller.replies["cookies"] = map[string]string{}
	capturer := NewLoginCapturer(NewSession(caller), 2*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := capturer.AwaitLogin(ctx, "https://example.com/login", "sid")

	assert.Error(t, err)
}
