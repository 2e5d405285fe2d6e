// Package controlservice implements C14: the local HTTP control service
// spec.md §4.12 documents, routed with chi and backed by the orchestrator,
// skill store, marketplace client, and browser session.
package controlservice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unbrowse-ai/unbrowse-core/internal/browser"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
	"github.com/unbrowse-ai/unbrowse-core/internal/orchestrator"
	"github.com/unbrowse-ai/unbrowse-core/internal/projection"
	"github.com/unbrowse-ai/unbrowse-core/internal/unbrowseerr"
)

// SkillStore is the control service's view of skill persistence, wider
// than orchestrator.SkillStore since the list/get/recipe endpoints need it.
type SkillStore interface {
	orchestrator.SkillStore
	List() ([]*models.SkillManifest, error)
}

// RecipeStore persists per-endpoint extraction recipes set via
// POST /v1/skills/:id/endpoints/:eid/recipe.
type RecipeStore interface {
	SaveRecipe(skillID, endpointID string, recipe projection.Recipe) error
	LoadRecipe(skillID, endpointID string) (projection.Recipe, bool)
}

// LoginSession drives the one streaming exception, POST /v1/auth/login.
type LoginSession interface {
	AwaitLogin(ctx context.Context, loginURL, sessionCookie string) (*browser.LoginOutcome, error)
}

// Service wires C14's handlers to the rest of the system.
type Service struct {
	resolver    *orchestrator.Resolver
	skills      SkillStore
	marketplace orchestrator.MarketplaceClient
	recipes     RecipeStore
	login       LoginSession
	logger      *slog.Logger
	loginTimeout time.Duration
}

// New builds a Service. login may be nil, in which case /v1/auth/login
// always reports the browser control channel unavailable.
func New(resolver *orchestrator.Resolver, skills SkillStore, marketplace orchestrator.MarketplaceClient, recipes RecipeStore, login LoginSession, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver:     resolver,
		skills:       skills,
		marketplace:  marketplace,
		recipes:      recipes,
		login:        login,
		logger:       logger,
		loginTimeout: 120 * time.Second,
	}
}

// Router builds the chi router spec.md §4.12's endpoint table describes.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/intent/resolve", s.handleResolveIntent)
	r.Post("/v1/skills/{id}/execute", s.handleExecuteSkill)
	r.Post("/v1/feedback", s.handleFeedback)
	r.Post("/v1/search", s.handleSearchGlobal)
	r.Post("/v1/search/domain", s.handleSearchDomain)
	r.Post("/v1/skills/{id}/endpoints/{eid}/recipe", s.handleSaveRecipe)
	r.Post("/v1/auth/login", s.handleLogin)
	r.Get("/v1/skills", s.handleListSkills)
	r.Get("/v1/skills/{id}", s.handleGetSkill)
	r.Get("/v1/sessions/{domain}", s.handleSessions)

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(started).Milliseconds())
		})
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resolveRequest struct {
	Intent       string                     `json:"intent"`
	Params       map[string]any             `json:"params"`
	Context      *captureContextWire        `json:"context"`
	Projection   *recipeWire                `json:"projection"`
	DryRun       bool                       `json:"dry_run"`
	ForceCapture bool                       `json:"force_capture"`
}

type captureContextWire struct {
	URL     string           `json:"url"`
	Actions []actionWire     `json:"actions"`
}

type actionWire struct {
	Kind   string   `json:"kind"`
	Ref    string   `json:"ref"`
	Text   string   `json:"text"`
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

type recipeWire struct {
	Path    string   `json:"path"`
	Extract []string `json:"extract"`
	Limit   int      `json:"limit"`
	Filter  *struct {
		Field  string `json:"field"`
		Equals any    `json:"equals"`
	} `json:"filter"`
	Require []string `json:"require"`
	Compact bool     `json:"compact"`
}

func (w *recipeWire) toRecipe() projection.Recipe {
	if w == nil {
		return projection.Recipe{}
	}
	recipe := projection.Recipe{
		Path:    w.Path,
		Extract: w.Extract,
		Limit:   w.Limit,
		Require: w.Require,
		Compact: w.Compact,
	}
	if w.Filter != nil {
		recipe.Filter = &projection.FilterSpec{Field: w.Filter.Field, Equals: w.Filter.Equals}
	}
	return recipe
}

type resolveResponse struct {
	Result             any                            `json:"result,omitempty"`
	Trace              *models.ExecutionTrace         `json:"trace,omitempty"`
	Skill              *models.SkillManifest          `json:"skill,omitempty"`
	Source             models.OrchestrationSource     `json:"source,omitempty"`
	Timing             models.OrchestrationTiming     `json:"timing"`
	AvailableEndpoints []orchestrator.EndpointChoice  `json:"available_endpoints,omitempty"`
	AuthRecommended    bool                           `json:"auth_recommended,omitempty"`
	AuthHint           string                         `json:"auth_hint,omitempty"`
}

func (s *Service) handleResolveIntent(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, unbrowseerr.InputError("malformed request body: "+err.Error()))
		return
	}
	if req.Intent == "" {
		writeError(w, unbrowseerr.InputError("intent is required"))
		return
	}

	resolveReq := orchestrator.ResolveRequest{
		Intent:       req.Intent,
		Params:       req.Params,
		ForceCapture: req.ForceCapture,
	}
	if req.Context != nil {
		resolveReq.Context = &orchestrator.CaptureContext{URL: req.Context.URL, Actions: toScriptedActions(req.Context.Actions)}
	}

	result, err := s.resolver.ResolveAndExecute(r.Context(), resolveReq)
	s.respondResolved(w, result, req.Projection.toRecipe(), err)
}

type executeRequest struct {
	Params        map[string]any `json:"params"`
	DryRun        bool           `json:"dry_run"`
	ConfirmUnsafe bool           `json:"confirm_unsafe"`
	Projection    *recipeWire    `json:"projection"`
}

func (s *Service) handleExecuteSkill(w http.ResponseWriter, r *http.Request) {
	skillID := chi.URLParam(r, "id")
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, unbrowseerr.InputError("malformed request body: "+err.Error()))
		return
	}

	skill, found, err := s.skills.LoadByID(skillID)
	if err != nil {
		writeError(w, unbrowseerr.Internal("loading skill", err))
		return
	}
	if !found {
		writeError(w, unbrowseerr.NotFound("unknown skill: "+skillID))
		return
	}
	if isMutating(skill) && !req.ConfirmUnsafe {
		writeJSON(w, http.StatusPreconditionFailed, map[string]string{
			"error": "mutating request requires confirm_unsafe",
			"code":  "precondition_failed",
		})
		return
	}

	result, err := s.resolver.ResolveAndExecute(r.Context(), orchestrator.ResolveRequest{
		Intent: skill.IntentSignature,
		Params: req.Params,
	})
	s.respondResolved(w, result, req.Projection.toRecipe(), err)
}

func isMutating(skill *models.SkillManifest) bool {
	for _, ep := range skill.Endpoints {
		switch ep.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			return true
		}
	}
	return false
}

func (s *Service) respondResolved(w http.ResponseWriter, result *orchestrator.ResolveResult, recipe projection.Recipe, err error) {
	if err != nil {
		writeError(w, err)
		return
	}

	resp := resolveResponse{
		Trace:              result.Trace,
		Skill:              result.Skill,
		Source:             result.Source,
		Timing:             result.Timing,
		AvailableEndpoints: result.AvailableEndpoints,
	}

	resp.Result = result.Result
	if !recipe.IsZero() {
		if projected, ran := projection.Apply(result.Result, recipe); ran {
			resp.Result = projected
			if result.Trace != nil {
				resp.Trace = projection.SlimTrace(result.Trace)
			}
		}
	}

	if result.AuthRequired {
		resp.AuthRecommended = true
		resp.AuthHint = "/v1/auth/login"
	}

	writeJSON(w, http.StatusOK, resp)
}

type feedbackRequest struct {
	SkillID     string         `json:"skill_id"`
	EndpointID  string         `json:"endpoint_id"`
	Rating      int            `json:"rating"`
	Outcome     string         `json:"outcome"`
	Diagnostics map[string]any `json:"diagnostics"`
}

func (s *Service) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, unbrowseerr.InputError("malformed request body: "+err.Error()))
		return
	}
	if req.SkillID == "" || req.Rating < 1 || req.Rating > 5 {
		writeError(w, unbrowseerr.InputError("skill_id required and rating must be in [1,5]"))
		return
	}

	skill, found, err := s.skills.LoadByID(req.SkillID)
	if err != nil {
		writeError(w, unbrowseerr.Internal("loading skill", err))
		return
	}
	if found {
		adjustReliability(skill, req.EndpointID, req.Rating)
		if err := s.skills.Save(skill); err != nil {
			writeError(w, unbrowseerr.Internal("saving feedback", err))
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{})
}

func adjustReliability(skill *models.SkillManifest, endpointID string, rating int) {
	delta := (float64(rating) - 3) / 10 // +0.2 for a 5, -0.2 for a 1
	for i := range skill.Endpoints {
		if skill.Endpoints[i].EndpointID != endpointID {
			continue
		}
		next := skill.Endpoints[i].ReliabilityScore + delta
		if next < 0 {
			next = 0
		}
		if next > 1 {
			next = 1
		}
		skill.Endpoints[i].ReliabilityScore = next
	}
}

type searchRequest struct {
	Intent string `json:"intent"`
	K      int    `json:"k"`
	Domain string `json:"domain"`
}

type searchHitResponse struct {
	ID       string `json:"id"`
	Score    float64 `json:"score"`
	Metadata any    `json:"metadata,omitempty"`
}

func (s *Service) handleSearchGlobal(w http.ResponseWriter, r *http.Request) {
	s.search(w, r, false)
}

func (s *Service) handleSearchDomain(w http.ResponseWriter, r *http.Request) {
	s.search(w, r, true)
}

func (s *Service) search(w http.ResponseWriter, r *http.Request, scoped bool) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, unbrowseerr.InputError("malformed request body: "+err.Error()))
		return
	}
	if req.Intent == "" || (scoped && req.Domain == "") {
		writeError(w, unbrowseerr.InputError("intent (and domain, for scoped search) are required"))
		return
	}
	if req.K <= 0 {
		req.K = 10
	}

	var (
		candidates []orchestrator.MarketplaceCandidate
		err        error
	)
	if scoped {
		candidates, err = s.marketplace.SearchDomain(r.Context(), req.Domain, req.Intent, req.K)
	} else {
		candidates, err = s.marketplace.SearchGlobal(r.Context(), req.Intent, req.K)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	hits := make([]searchHitResponse, 0, len(candidates))
	for _, c := range candidates {
		hits = append(hits, searchHitResponse{ID: c.SkillID, Metadata: map[string]string{"domain": c.Domain}})
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *Service) handleSaveRecipe(w http.ResponseWriter, r *http.Request) {
	skillID, endpointID := chi.URLParam(r, "id"), chi.URLParam(r, "eid")
	if s.recipes == nil {
		writeError(w, unbrowseerr.Internal("recipe storage not configured", nil))
		return
	}

	var wire recipeWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, unbrowseerr.InputError("malformed request body: "+err.Error()))
		return
	}

	if _, found, err := s.skills.LoadByID(skillID); err != nil {
		writeError(w, unbrowseerr.Internal("loading skill", err))
		return
	} else if !found {
		writeError(w, unbrowseerr.NotFound("unknown skill: "+skillID))
		return
	}

	if err := s.recipes.SaveRecipe(skillID, endpointID, wire.toRecipe()); err != nil {
		writeError(w, unbrowseerr.Internal("saving recipe", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

type loginRequest struct {
	URL           string `json:"url"`
	SessionCookie string `json:"session_cookie"`
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, unbrowseerr.InputError("malformed request body: "+err.Error()))
		return
	}
	if req.URL == "" {
		writeError(w, unbrowseerr.InputError("url is required"))
		return
	}
	if s.login == nil {
		writeError(w, unbrowseerr.UpstreamUnavailable("no browser control session connected", nil))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.loginTimeout)
	defer cancel()

	outcome, err := s.login.AwaitLogin(ctx, req.URL, req.SessionCookie)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "login timed out", "code": "timeout"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Service) handleListSkills(w http.ResponseWriter, r *http.Request) {
	skills, err := s.skills.List()
	if err != nil {
		writeError(w, unbrowseerr.Internal("listing skills", err))
		return
	}
	writeJSON(w, http.StatusOK, skills)
}

func (s *Service) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	skill, found, err := s.skills.LoadByID(id)
	if err != nil {
		writeError(w, unbrowseerr.Internal("loading skill", err))
		return
	}
	if !found {
		writeError(w, unbrowseerr.NotFound("unknown skill: "+id))
		return
	}
	writeJSON(w, http.StatusOK, skill)
}

func (s *Service) handleSessions(w http.ResponseWriter, r *http.Request) {
	// Debug endpoint: no session history is retained beyond the in-flight
	// capture lock, so there is nothing to enumerate yet.
	writeJSON(w, http.StatusOK, []any{})
}

func toScriptedActions(wire []actionWire) []orchestrator.ScriptedAction {
	out := make([]orchestrator.ScriptedAction, 0, len(wire))
	for _, a := range wire {
		out = append(out, orchestrator.ScriptedAction{Kind: a.Kind, Ref: a.Ref, Text: a.Text, Key: a.Key, Values: a.Values})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	kErr, ok := unbrowseerr.As(classify(err))
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error(), "code": "internal"})
		return
	}
	writeJSON(w, statusFor(kErr.Kind), map[string]string{"error": kErr.Error(), "code": kErr.Code})
}

// classify maps the orchestrator's plain sentinel errors onto the
// unbrowseerr taxonomy, since Resolver (unlike internal/marketplace)
// returns its own narrow sentinels rather than *unbrowseerr.Error.
func classify(err error) error {
	if _, ok := unbrowseerr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, orchestrator.ErrCaptureInFlight):
		return unbrowseerr.CaptureInFlight(err.Error())
	case errors.Is(err, orchestrator.ErrCaptureRequiresURL):
		return unbrowseerr.InputError(err.Error())
	default:
		return unbrowseerr.Internal("resolving intent", err)
	}
}

func statusFor(kind unbrowseerr.Kind) int {
	switch kind {
	case unbrowseerr.KindInput:
		return http.StatusBadRequest
	case unbrowseerr.KindNotFound:
		return http.StatusNotFound
	case unbrowseerr.KindCaptureInFlight:
		return http.StatusConflict
	case unbrowseerr.KindUpstreamUnavailable:
		return http.StatusBadGateway
	case unbrowseerr.KindReplayMismatch:
		return http.StatusUnprocessableEntity
	case unbrowseerr.KindScheduleError, unbrowseerr.KindInternal:
		return http.StatusInternalServerError
	case unbrowseerr.KindAuthRequired:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
