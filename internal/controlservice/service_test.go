package controlservice

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbrowse-ai/unbrowse-core/internal/browser"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
	"github.com/unbrowse-ai/unbrowse-core/internal/orchestrator"
	"github.com/unbrowse-ai/unbrowse-core/internal/projection"
)

type fakeStore struct {
	byDomain map[string]*models.SkillManifest
	byID     map[string]*models.SkillManifest
}

func newFakeStore() *fakeStore {
	return &fakeStore{byDomain: map[string]*models.SkillManifest{}, byID: map[string]*models.SkillManifest{}}
}

func (s *fakeStore) LoadForDomain(domain string) (*models.SkillManifest, bool, error) {
	skill, ok := s.byDomain[domain]
	return skill, ok, nil
}

func (s *fakeStore) LoadByID(id string) (*models.SkillManifest, bool, error) {
	skill, ok := s.byID[id]
	return skill, ok, nil
}

func (s *fakeStore) Save(skill *models.SkillManifest) error {
	s.byID[skill.SkillID] = skill
	s.byDomain[skill.Domain] = skill
	return nil
}

func (s *fakeStore) List() ([]*models.SkillManifest, error) {
	out := make([]*models.SkillManifest, 0, len(s.byID))
	for _, skill := range s.byID {
		out = append(out, skill)
	}
	return out, nil
}

type fakeMarketplace struct {
	hits []orchestrator.MarketplaceCandidate
	err  error
}

func (m *fakeMarketplace) SearchDomain(ctx context.Context, domain, intent string, k int) ([]orchestrator.MarketplaceCandidate, error) {
	return m.hits, m.err
}
func (m *fakeMarketplace) SearchGlobal(ctx context.Context, intent string, k int) ([]orchestrator.MarketplaceCandidate, error) {
	return m.hits, m.err
}
func (m *fakeMarketplace) GetSkill(ctx context.Context, skillID string) (*models.SkillManifest, error) {
	return nil, nil
}

type fakeExecutor struct {
	result any
	trace  *models.ExecutionTrace
}

func (e *fakeExecutor) Execute(ctx context.Context, skill *models.SkillManifest, endpointID string, params map[string]any) (any, *models.ExecutionTrace, error) {
	return e.result, e.trace, nil
}

type fakeBrowser struct{}

func (fakeBrowser) Capture(ctx context.Context, url string, actions []orchestrator.ScriptedAction) (*orchestrator.CaptureOutcome, error) {
	return nil, orchestrator.ErrCaptureRequiresURL
}

type fakeRecipeStore struct {
	saved map[string]projection.Recipe
}

func newFakeRecipeStore() *fakeRecipeStore {
	return &fakeRecipeStore{saved: map[string]projection.Recipe{}}
}

func (f *fakeRecipeStore) SaveRecipe(skillID, endpointID string, recipe projection.Recipe) error {
	f.saved[skillID+"::"+endpointID] = recipe
	return nil
}

func (f *fakeRecipeStore) LoadRecipe(skillID, endpointID string) (projection.Recipe, bool) {
	r, ok := f.saved[skillID+"::"+endpointID]
	return r, ok
}

type fakeLogin struct {
	outcome *browser.LoginOutcome
	err     error
}

func (f *fakeLogin) AwaitLogin(ctx context.Context, loginURL, sessionCookie string) (*browser.LoginOutcome, error) {
	return f.outcome, f.err
}

func newTestService(store *fakeStore, executor orchestrator.Executor) *Service {
	resolver := orchestrator.NewResolver(store, &fakeMarketplace{}, executor, fakeBrowser{}, nil, nil, nil)
	return New(resolver, store, &fakeMarketplace{}, newFakeRecipeStore(), nil, nil)
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	service := newTestService(newFakeStore(), &fakeExecutor{})
	rec := doRequest(t, service.Router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleListAndGetSkills(t *testing.T) {
	store := newFakeStore()
	skill := &models.SkillManifest{SkillID: "sk_1", Domain: "api.example.com"}
	require.NoError(t, store.Save(skill))
	service := newTestService(store, &fakeExecutor{})

	listRec := doRequest(t, service.Router(), http.MethodGet, "/v1/skills", nil)
	assert.Equal(t, http.StatusOK, listRec.Code)

	getRec := doRequest(t, service.Router(), http.MethodGet, "/v1/skills/sk_1", nil)
	assert.Equal(t, http.StatusOK, getRec.Code)

	missRec := doRequest(t, service.Router(), http.MethodGet, "/v1/skills/sk_nope", nil)
	assert.Equal(t, http.StatusNotFound, missRec.Code)
}

func TestHandleExecuteSkill_UnknownSkillReturns404(t *testing.T) {
	service := newTestService(newFakeStore(), &fakeExecutor{})
	rec := doRequest(t, service.Router(), http.MethodPost, "/v1/skills/sk_nope/execute", map[string]any{"params": map[string]any{}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleExecuteSkill_MutatingWithoutConfirmReturns412(t *testing.T) {
	store := newFakeStore()
	skill := &models.SkillManifest{
		SkillID: "sk_1", Domain: "api.example.com",
		Endpoints: []models.SkillEndpoint{{EndpointID: "ep1", Method: "POST"}},
	}
	require.NoError(t, store.Save(skill))
	service := newTestService(store, &fakeExecutor{})

	rec := doRequest(t, service.Router(), http.MethodPost, "/v1/skills/sk_1/execute", map[string]any{"params": map[string]any{}})

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestHandleResolveIntent_DiskCacheHitAppliesProjection(t *testing.T) {
	store := newFakeStore()
	skill := &models.SkillManifest{
		SkillID: "sk_1", Domain: "api.example.com",
		Endpoints: []models.SkillEndpoint{{EndpointID: "ep1", Method: "GET"}},
	}
	require.NoError(t, store.Save(skill))
	executor := &fakeExecutor{
		result: map[string]any{"items": []any{map[string]any{"id": "1"}}},
		trace:  &models.ExecutionTrace{TraceID: "t1", SkillID: "sk_1", Success: true, TraceVersion: models.CurrentTraceVersion},
	}
	service := newTestService(store, executor)

	body := map[string]any{
		"intent":  "list things",
		"context": map[string]any{"url": "https://api.example.com/things"},
		"projection": map[string]any{
			"path": "items",
		},
	}
	rec := doRequest(t, service.Router(), http.MethodPost, "/v1/intent/resolve", body)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp["result"])
}

func TestHandleResolveIntent_MissingIntentReturns400(t *testing.T) {
	service := newTestService(newFakeStore(), &fakeExecutor{})
	rec := doRequest(t, service.Router(), http.MethodPost, "/v1/intent/resolve", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleResolveIntent_NoRouteNoDiskNoURLReturns400(t *testing.T) {
	service := newTestService(newFakeStore(), &fakeExecutor{})
	rec := doRequest(t, service.Router(), http.MethodPost, "/v1/intent/resolve", map[string]any{"intent": "do a thing"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFeedback_AdjustsReliabilityAndSaves(t *testing.T) {
	store := newFakeStore()
	skill := &models.SkillManifest{
		SkillID: "sk_1", Domain: "api.example.com",
		Endpoints: []models.SkillEndpoint{{EndpointID: "ep1", ReliabilityScore: 0.5}},
	}
	require.NoError(t, store.Save(skill))
	service := newTestService(store, &fakeExecutor{})

	rec := doRequest(t, service.Router(), http.MethodPost, "/v1/feedback", map[string]any{
		"skill_id": "sk_1", "endpoint_id": "ep1", "rating": 5,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.7, store.byID["sk_1"].Endpoints[0].ReliabilityScore, 1e-9)
}

func TestHandleFeedback_InvalidRatingReturns400(t *testing.T) {
	service := newTestService(newFakeStore(), &fakeExecutor{})
	rec := doRequest(t, service.Router(), http.MethodPost, "/v1/feedback", map[string]any{"skill_id": "sk_1", "rating": 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearch_ReturnsHits(t *testing.T) {
	store := newFakeStore()
	resolver := orchestrator.NewResolver(store, &fakeMarketplace{}, &fakeExecutor{}, fakeBrowser{}, nil, nil, nil)
	service := New(resolver, store, &fakeMarketplace{hits: []orchestrator.MarketplaceCandidate{{SkillID: "sk_9", Domain: "x.com"}}}, newFakeRecipeStore(), nil, nil)

	rec := doRequest(t, service.Router(), http.MethodPost, "/v1/search", map[string]any{"intent": "find stuff", "k": 5})

	require.Equal(t, http.StatusOK, rec.Code)
	var hits []searchHitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "sk_9", hits[0].ID)
}

func TestHandleSaveRecipe_UnknownSkillReturns404(t *testing.T) {
	service := newTestService(newFakeStore(), &fakeExecutor{})
	rec := doRequest(t, service.Router(), http.MethodPost, "/v1/skills/sk_nope/endpoints/ep1/recipe", map[string]any{"path": "items"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSaveRecipe_PersistsThroughStore(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Save(&models.SkillManifest{SkillID: "sk_1", Domain: "x.com"}))
	recipes := newFakeRecipeStore()
	resolver := orchestrator.NewResolver(store, &fakeMarketplace{}, &fakeExecutor{}, fakeBrowser{}, nil, nil, nil)
	service := New(resolver, store, &fakeMarketplace{}, recipes, nil, nil)

	rec := doRequest(t, service.Router(), http.MethodPost, "/v1/skills/sk_1/endpoints/ep1/recipe", map[string]any{"path": "items", "limit": 3})

	require.Equal(t, http.StatusOK, rec.Code)
	stored, found := recipes.LoadRecipe("sk_1", "ep1")
	require.True(t, found)
	assert.Equal(t, 3, stored.Limit)
}

func TestHandleLogin_NoSessionConfiguredReturnsUpstreamUnavailable(t *testing.T) {
	service := newTestService(newFakeStore(), &fakeExecutor{})
	rec := doRequest(t, service.Router(), http.MethodPost, "/v1/auth/login", map[string]any{"url": "https://example.com/login"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleLogin_MissingURLReturns400(t *testing.T) {
	service := newTestService(newFakeStore(), &fakeExecutor{})
	rec := doRequest(t, service.Router(), http.MethodPost, "/v1/auth/login", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLogin_SucceedsWithSession(t *testing.T) {
	store := newFakeStore()
	resolver := orchestrator.NewResolver(store, &fakeMarketplace{}, &fakeExecutor{}, fakeBrowser{}, nil, nil, nil)
	service := New(resolver, store, &fakeMarketplace{}, newFakeRecipeStore(), &fakeLogin{outcome: &browser.LoginOutcome{SessionFound: true, Cookies: map[string]string{"sid": "1"}}}, nil)

	rec := doRequest(t, service.Router(), http.MethodPost, "/v1/auth/login", map[string]any{"url": "https://example.com/login"})

	require.Equal(t, http.StatusOK, rec.Code)
	var outcome browser.LoginOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.True(t, outcome.SessionFound)
}
