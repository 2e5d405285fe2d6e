// Package browser implements the external browser-control capability from
// spec.md §6: navigate/wait/act/requests/cookies/storage, driven over a
// single RPC session (internal/websocket.Hub) to the browser extension
// process. It also glues C1-C5's per-exchange analysis into the
// AnalyzedExchangeSet that feeds C10's generator, since that assembly
// belongs to whichever component actually observes a live capture.
package browser

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unbrowse-ai/unbrowse-core/internal/auth"
	"github.com/unbrowse-ai/unbrowse-core/internal/driven"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
	"github.com/unbrowse-ai/unbrowse-core/internal/orchestrator"
	"github.com/unbrowse-ai/unbrowse-core/internal/routes"
	"github.com/unbrowse-ai/unbrowse-core/internal/skill"
	"github.com/unbrowse-ai/unbrowse-core/internal/unbrowseerr"
	"github.com/unbrowse-ai/unbrowse-core/internal/utils"
)

// Caller is the RPC transport a Session drives commands over; satisfied by
// *websocket.Hub without this package depending on gorilla/websocket
// directly.
type Caller interface {
	Call(ctx context.Context, op string, params any) (json.RawMessage, error)
	IsConnected() bool
}

// Session drives one browser-control channel per spec.md §6's operation
// table.
type Session struct {
	caller Caller
}

// NewSession wraps caller (typically a *websocket.Hub) as a browser
// control session.
func NewSession(caller Caller) *Session {
	return &Session{caller: caller}
}

func (s *Session) call(ctx context.Context, op string, params any, out any) error {
	raw, err := s.caller.Call(ctx, op, params)
	if err != nil {
		return unbrowseerr.UpstreamUnavailable("browser control channel call failed: "+op, err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return unbrowseerr.Internal("decoding browser control reply: "+op, err)
	}
	return nil
}

// Navigate drives the browser to url.
func (s *Session) Navigate(ctx context.Context, targetURL string) error {
	var ok bool
	return s.call(ctx, "navigate", map[string]any{"url": targetURL}, &ok)
}

// WaitIdle waits for the page's load state to settle.
func (s *Session) WaitIdle(ctx context.Context, timeoutMs int) error {
	var ok bool
	return s.call(ctx, "wait", map[string]any{"loadState": "idle", "timeoutMs": timeoutMs}, &ok)
}

// Act performs one scripted browser action.
func (s *Session) Act(ctx context.Context, action orchestrator.ScriptedAction) error {
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	err := s.call(ctx, "act", map[string]any{
		"kind":   action.Kind,
		"ref":    action.Ref,
		"text":   action.Text,
		"key":    action.Key,
		"values": action.Values,
	}, &result)
	if err != nil {
		return err
	}
	if !result.OK {
		return unbrowseerr.UpstreamUnavailable("browser action failed: "+result.Error, nil)
	}
	return nil
}

type capturedRequestWire struct {
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Status          int               `json:"status"`
	ResourceType    string            `json:"resourceType"`
	Headers         map[string]string `json:"headers"`
	ResponseHeaders map[string]string `json:"responseHeaders"`
	PostData        string            `json:"postData"`
}

// Requests drains the network log captured since the last call (or since
// navigation start), optionally clearing it.
func (s *Session) Requests(ctx context.Context, clear bool) ([]capturedRequestWire, error) {
	var out []capturedRequestWire
	if err := s.call(ctx, "requests", map[string]any{"clear": clear}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Cookies returns the current cookie jar as name -> value.
func (s *Session) Cookies(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	if err := s.call(ctx, "cookies", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Storage returns localStorage or sessionStorage as name -> value.
func (s *Session) Storage(ctx context.Context, kind string) (map[string]string, error) {
	var out map[string]string
	if err := s.call(ctx, "storage", kind, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Capturer drives a full live-capture session and turns its result into a
// learned skill, satisfying orchestrator.BrowserCapturer.
type Capturer struct {
	session  *Session
	executor orchestrator.Executor
	logger   *slog.Logger
	domains  *driven.DomainContextManager
}

// NewCapturer builds a Capturer over session, replaying the learned
// skill's first endpoint through executor to produce an initial result. The
// Capturer keeps one DomainContextManager across every Capture call it
// makes, so repeated captures against the same domain accumulate resource
// and form witnesses instead of starting over each time.
func NewCapturer(session *Session, executor orchestrator.Executor, logger *slog.Logger) *Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{session: session, executor: executor, logger: logger, domains: driven.NewDomainContextManager()}
}

var _ orchestrator.BrowserCapturer = (*Capturer)(nil)

// Capture implements spec.md §4.11 step 5's browser-capture-skill call:
// navigate, wait for idle, run any scripted actions, then analyze the
// network log into a skill manifest.
func (c *Capturer) Capture(ctx context.Context, targetURL string, actions []orchestrator.ScriptedAction) (*orchestrator.CaptureOutcome, error) {
	started := time.Now()

	if err := c.session.Navigate(ctx, targetURL); err != nil {
		return nil, err
	}
	if err := c.session.WaitIdle(ctx, 10_000); err != nil {
		return nil, err
	}
	for _, action := range actions {
		if err := c.session.Act(ctx, action); err != nil {
			return nil, err
		}
	}
	if err := c.session.WaitIdle(ctx, 5_000); err != nil {
		return nil, err
	}

	wireRequests, err := c.session.Requests(ctx, true)
	if err != nil {
		return nil, err
	}
	cookies, err := c.session.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	localStorage, err := c.session.Storage(ctx, "local")
	if err != nil {
		return nil, err
	}
	sessionStorage, err := c.session.Storage(ctx, "session")
	if err != nil {
		return nil, err
	}

	exchanges := toExchanges(wireRequests, cookies)
	if len(exchanges) == 0 {
		return nil, unbrowseerr.UpstreamUnavailable("live capture observed no network traffic", nil)
	}

	set := AnalyzeExchanges(exchanges, localStorage, sessionStorage, nil, c.domains)
	set.Seal()

	domain := firstDomainFrom(set.Domains, targetURL)
	learned := skill.GenerateSkill(set, "sk_"+uuid.NewString(), "captured: "+domain, "handle requests against "+domain)
	learned.Lifecycle = models.LifecycleDraft
	learned.DiscoveryCost = &models.DiscoveryCost{
		CaptureMs:     time.Since(started).Milliseconds(),
		ResponseBytes: totalResponseBytes(exchanges),
		CapturedAt:    time.Now(),
	}

	outcome := &orchestrator.CaptureOutcome{LearnedSkill: learned}

	if hasDOMExtraction(learned) {
		outcome.Trace = &models.ExecutionTrace{
			TraceID:      uuid.NewString(),
			SkillID:      learned.SkillID,
			Success:      true,
			TraceVersion: models.CurrentTraceVersion,
			StartedAt:    started,
			CompletedAt:  time.Now(),
		}
		outcome.Result = map[string]any{"note": "dom-extraction capture; see learned_skill for selectors"}
		return outcome, nil
	}

	if len(learned.Endpoints) == 0 {
		outcome.AuthRequired = looksAuthGated(exchanges)
		return outcome, nil
	}

	result, trace, err := c.executor.Execute(ctx, learned, learned.Endpoints[0].EndpointID, nil)
	if err != nil {
		c.logger.Warn("initial capture replay failed", "skill_id", learned.SkillID, "err", err)
		outcome.AuthRequired = looksAuthGated(exchanges)
		return outcome, nil
	}
	outcome.Result = result
	outcome.Trace = trace
	return outcome, nil
}

func hasDOMExtraction(s *models.SkillManifest) bool {
	for _, ep := range s.Endpoints {
		if ep.DOMExtraction != nil {
			return true
		}
	}
	return false
}

func looksAuthGated(exchanges []models.CapturedExchange) bool {
	for _, ex := range exchanges {
		if ex.Response.Status == 401 || ex.Response.Status == 403 {
			return true
		}
	}
	return false
}

func totalResponseBytes(exchanges []models.CapturedExchange) int64 {
	var total int64
	for _, ex := range exchanges {
		total += int64(len(ex.Response.BodyRaw))
	}
	return total
}

func toExchanges(wire []capturedRequestWire, cookies map[string]string) []models.CapturedExchange {
	exchanges := make([]models.CapturedExchange, 0, len(wire))
	for i, w := range wire {
		if w.ResourceType != "" && w.ResourceType != "xhr" && w.ResourceType != "fetch" {
			continue
		}
		reqHeaders := models.NewHeaderMap()
		for k, v := range w.Headers {
			reqHeaders.Set(k, v)
		}
		respHeaders := models.NewHeaderMap()
		for k, v := range w.ResponseHeaders {
			respHeaders.Set(k, v)
		}

		u, _ := url.Parse(w.URL)
		query := map[string]string{}
		if u != nil {
			for k := range u.Query() {
				query[k] = u.Query().Get(k)
			}
		}

		exchanges = append(exchanges, models.CapturedExchange{
			Index:     i,
			Timestamp: int64(i),
			Request: models.RequestRecord{
				Method:      w.Method,
				URL:         w.URL,
				Headers:     reqHeaders,
				Cookies:     cookies,
				QueryParams: query,
				BodyRaw:     w.PostData,
				Body:        parseJSONLoose(w.PostData),
				BodyFormat:  bodyFormatOf(reqHeaders),
				ContentType: contentTypeOf(reqHeaders),
			},
			Response: models.ResponseRecord{
				Status:      w.Status,
				Headers:     respHeaders,
				BodyFormat:  bodyFormatOf(respHeaders),
				ContentType: contentTypeOf(respHeaders),
			},
		})
	}
	return exchanges
}

func parseJSONLoose(raw string) any {
	if raw == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	return v
}

func contentTypeOf(h *models.HeaderMap) string {
	ct, _ := h.Get("Content-Type")
	return ct
}

func bodyFormatOf(h *models.HeaderMap) models.BodyFormat {
	ct, _ := h.Get("Content-Type")
	switch {
	case strings.Contains(ct, "json"):
		return models.BodyFormatJSON
	case strings.Contains(ct, "form-urlencoded"):
		return models.BodyFormatForm
	case strings.Contains(ct, "multipart"):
		return models.BodyFormatMultipart
	case ct == "":
		return models.BodyFormatText
	default:
		return models.BodyFormatText
	}
}

// AnalyzeExchanges runs C2-C5's per-exchange analysis and assembles the
// AnalyzedExchangeSet that feeds C10's skill generator, per spec.md §3's
// "built by C1-C5 during capture" lifecycle note. When manager is non-nil,
// each exchange also feeds that domain's incremental DomainContext: CRUD
// resource mapping, extracted HTML forms, and a bounded recent-exchange
// history, so a long-running capture session builds up per-domain state
// beyond the single sealed set returned here.
func AnalyzeExchanges(exchanges []models.CapturedExchange, localStorage, sessionStorage, metaTokens map[string]string, manager *driven.DomainContextManager) *models.AnalyzedExchangeSet {
	authHeaders := auth.ExtractAuthHeaders(exchanges, localStorage, sessionStorage, metaTokens)
	cookies := map[string]string{}
	domains := map[string]bool{}
	baseURLs := map[string]bool{}

	for _, ex := range exchanges {
		for k, v := range ex.Request.Cookies {
			cookies[k] = v
		}
		if u, err := url.Parse(ex.Request.URL); err == nil && u.Host != "" {
			domains[u.Host] = true
			baseURLs[u.Scheme+"://"+u.Host] = true
		}
	}

	set := &models.AnalyzedExchangeSet{
		Exchanges:      exchanges,
		AuthHeaders:    authHeaders,
		Cookies:        cookies,
		LocalStorage:   localStorage,
		SessionStorage: sessionStorage,
		MetaTokens:     metaTokens,
		AuthMethod:     inferAuthMethod(authHeaders, cookies),
		EndpointGroups: routes.BuildEndpointGroups(exchanges),
		BaseURLs:       keysOf(baseURLs),
		Domains:        keysOf(domains),
	}

	if csrfName, csrfValue, ok := findCSRFHeader(authHeaders); ok {
		set.CSRFProvenance = auth.InferCSRFProvenance(csrfValue, csrfName, cookies, localStorage, sessionStorage, metaTokens, priorResponseBodies(exchanges))
	}

	if manager != nil {
		set.DomainContexts = updateDomainContexts(manager, exchanges)
	}

	return set
}

// updateDomainContexts feeds every exchange through manager's per-domain
// CRUD mapping and form extraction, returning the contexts touched so
// callers downstream of this one capture can inspect what changed without
// walking every domain the manager has ever seen.
func updateDomainContexts(manager *driven.DomainContextManager, exchanges []models.CapturedExchange) map[string]*models.DomainContext {
	mapper := utils.NewCRUDMapper()
	forms := utils.NewFormExtractor()
	touched := map[string]*models.DomainContext{}

	for _, ex := range exchanges {
		u, err := url.Parse(ex.Request.URL)
		if err != nil || u.Host == "" {
			continue
		}

		ctx := manager.GetOrCreate(u.Host)
		touched[u.Host] = ctx

		ctx.AddExchange(models.TimedExchangeRef{
			ExchangeIndex: ex.Index,
			Timestamp:     ex.Timestamp,
			Method:        ex.Request.Method,
			NormalizedURL: u.Path,
			StatusCode:    ex.Response.Status,
		})
		mapper.UpdateResourceMapping(ctx, ex.Request.Method, u.Path)

		if strings.Contains(contentTypeOf(ex.Response.Headers), "html") {
			for _, form := range forms.ExtractForms(ex.Response.BodyRaw) {
				ctx.AddForm(form)
			}
		}
	}

	return touched
}

func findCSRFHeader(headers map[string]string) (name, value string, ok bool) {
	for k, v := range headers {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "csrf") || strings.Contains(lower, "xsrf") {
			return k, v, true
		}
	}
	return "", "", false
}

func priorResponseBodies(exchanges []models.CapturedExchange) []any {
	bodies := make([]any, 0, len(exchanges))
	for _, ex := range exchanges {
		if ex.Response.Body != nil {
			bodies = append(bodies, ex.Response.Body)
		}
	}
	return bodies
}

func inferAuthMethod(authHeaders, cookies map[string]string) models.AuthMethod {
	hasBearer, hasAPIKey := false, false
	for k, v := range authHeaders {
		lower := strings.ToLower(k)
		switch {
		case lower == "authorization" && strings.HasPrefix(v, "Bearer "):
			hasBearer = true
		case lower == "authorization":
			hasAPIKey = true
		default:
			hasAPIKey = true
		}
	}
	hasCookie := len(cookies) > 0

	switch {
	case hasBearer && hasCookie, hasAPIKey && hasCookie:
		return models.AuthMethodMixed
	case hasBearer:
		return models.AuthMethodBearer
	case hasAPIKey:
		return models.AuthMethodAPIKey
	case hasCookie:
		return models.AuthMethodCookie
	default:
		return models.AuthMethodNone
	}
}

func keysOf(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func firstDomainFrom(domains []string, fallbackURL string) string {
	if len(domains) > 0 {
		return domains[0]
	}
	if u, err := url.Parse(fallbackURL); err == nil {
		return u.Host
	}
	return fallbackURL
}

