// Package orchestrator implements spec.md §4.11's resolver: the entry point
// that turns an agent's intent into an executed API call, checking caches,
// locally learned skills, the marketplace, and finally a live browser
// capture, in that order.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

const (
	routeCacheSize  = 10_000
	domainCacheSize = 10_000
	cacheTTL        = 5 * time.Minute

	domainSearchK    = 5
	globalSearchK    = 10
	candidateRaceN   = 3
	candidateTimeout = 30 * time.Second

	autoExecuteMinScore  = 15.0
	autoExecuteMinMargin = 3.0
)

// Resolver is C13: the composed resolveAndExecute pipeline.
type Resolver struct {
	RouteCache  *Cache[RouteEntry]
	DomainCache *Cache[*models.SkillManifest]

	store       SkillStore
	marketplace MarketplaceClient
	executor    Executor
	browser     BrowserCapturer
	scorer      IntentScorer
	telemetry   TelemetrySink
	logger      *slog.Logger

	captureFlight singleflight.Group
	inFlight      sync.Map // domain -> struct{}
}

// NewResolver wires C13's collaborators. telemetry may be nil (timing is
// simply dropped).
func NewResolver(store SkillStore, marketplace MarketplaceClient, executor Executor, browser BrowserCapturer, scorer IntentScorer, telemetry TelemetrySink, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		RouteCache:  NewCache[RouteEntry](routeCacheSize, cacheTTL),
		DomainCache: NewCache[*models.SkillManifest](domainCacheSize, cacheTTL),
		store:       store,
		marketplace: marketplace,
		executor:    executor,
		browser:     browser,
		scorer:      scorer,
		telemetry:   telemetry,
		logger:      logger,
	}
}

func routeCacheKey(domain, intent string) string {
	if domain == "" {
		domain = "global"
	}
	return domain + ":" + intent
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// ResolveAndExecute implements spec.md §4.11's seven-step pipeline.
func (r *Resolver) ResolveAndExecute(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	start := time.Now()
	domain := ""
	if req.Context != nil {
		domain = hostOf(req.Context.URL)
	}
	timing := models.OrchestrationTiming{}

	if !req.ForceCapture {
		if result, err := r.tryRouteCache(ctx, req, domain, &timing); err != nil {
			return nil, err
		} else if result != nil {
			return r.finish(result, start)
		}

		if result, err := r.tryDiskCache(ctx, req, domain, &timing); err != nil {
			return nil, err
		} else if result != nil {
			return r.finish(result, start)
		}

		if result, err := r.tryMarketplace(ctx, req, domain, &timing); err != nil {
			return nil, err
		} else if result != nil {
			return r.finish(result, start)
		}
	}

	result, err := r.tryLiveCapture(ctx, req, domain, &timing)
	if err != nil {
		return nil, err
	}
	return r.finish(result, start)
}

func (r *Resolver) finish(result *ResolveResult, start time.Time) (*ResolveResult, error) {
	result.Timing.TotalMs = time.Since(start).Milliseconds()
	result.Timing.SkillID = ""
	if result.Skill != nil {
		result.Timing.SkillID = result.Skill.SkillID
	}
	result.Timing.TokensSaved, result.Timing.TokensSavedPct = tokenSavings(result.Skill, result.Timing.ResponseBytes)
	if r.telemetry != nil {
		timing := result.Timing
		go r.telemetry.EmitTiming(timing)
	}
	return result, nil
}

// tokenSavings estimates tokens saved by calling an API directly instead of
// re-driving a browser, per spec.md §4.11 step 7: baseline taken from the
// skill's own discovery_cost when present, else the documented defaults.
func tokenSavings(skill *models.SkillManifest, responseBytes int64) (int64, float64) {
	baseline := models.DefaultBaselineCaptureTokens
	if skill != nil && skill.DiscoveryCost != nil && skill.DiscoveryCost.CaptureTokens > 0 {
		baseline = skill.DiscoveryCost.CaptureTokens
	}
	responseTokens := responseBytes / 4 // ~4 bytes/token heuristic
	saved := baseline - responseTokens
	if saved < 0 {
		saved = 0
	}
	pct := 0.0
	if baseline > 0 {
		pct = float64(saved) / float64(baseline) * 100
	}
	return saved, pct
}

// tryRouteCache implements step 1.
func (r *Resolver) tryRouteCache(ctx context.Context, req ResolveRequest, domain string, timing *models.OrchestrationTiming) (*ResolveResult, error) {
	key := routeCacheKey(domain, req.Intent)
	entry, ok := r.RouteCache.Get(key)
	if !ok {
		return nil, nil
	}

	skill, found, err := r.store.LoadByID(entry.SkillID)
	if err != nil || !found {
		r.RouteCache.Evict(key)
		return nil, nil
	}

	execStart := time.Now()
	result, trace, execErr := r.executor.Execute(ctx, skill, req.EndpointID, req.Params)
	timing.ExecuteMs = time.Since(execStart).Milliseconds()
	timing.CacheHit = true
	if execErr != nil {
		r.RouteCache.Evict(key)
		return nil, nil
	}
	timing.Source = models.SourceRouteCache
	timing.ResponseBytes = estimateResponseBytes(result)
	return &ResolveResult{
		Result: result,
		Trace:  trace,
		Skill:  skill,
		Source: models.SourceRouteCache,
		Timing: *timing,
	}, nil
}

// tryDiskCache implements step 2: a previously learned local skill for the
// domain, even without a route-cache hit for this exact intent.
func (r *Resolver) tryDiskCache(ctx context.Context, req ResolveRequest, domain string, timing *models.OrchestrationTiming) (*ResolveResult, error) {
	if domain == "" {
		return nil, nil
	}
	skill, found, err := r.store.LoadForDomain(domain)
	if err != nil || !found || len(skill.Endpoints) == 0 {
		return nil, nil
	}

	execStart := time.Now()
	result, trace, execErr := r.executor.Execute(ctx, skill, req.EndpointID, req.Params)
	timing.ExecuteMs = time.Since(execStart).Milliseconds()
	if execErr != nil {
		return nil, nil
	}

	r.RouteCache.Put(routeCacheKey(domain, req.Intent), RouteEntry{SkillID: skill.SkillID, Domain: domain})
	timing.Source = models.SourceDiskCache
	timing.ResponseBytes = estimateResponseBytes(result)
	return &ResolveResult{
		Result: result,
		Trace:  trace,
		Skill:  skill,
		Source: models.SourceDiskCache,
		Timing: *timing,
	}, nil
}

// tryMarketplace implements steps 3 and 4: search, filter, score, race.
func (r *Resolver) tryMarketplace(ctx context.Context, req ResolveRequest, domain string, timing *models.OrchestrationTiming) (*ResolveResult, error) {
	searchStart := time.Now()
	candidates, err := r.searchAndFetch(ctx, req.Intent, domain)
	timing.SearchMs = time.Since(searchStart).Milliseconds()
	if err != nil || len(candidates) == 0 {
		return nil, nil
	}
	timing.CandidatesFound = len(candidates)

	scored := r.scoreCandidates(ctx, req.Intent, candidates)
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	top := scored
	if len(top) > candidateRaceN {
		top = top[:candidateRaceN]
	}
	var runners []*models.SkillManifest
	for _, c := range top {
		if c.score >= ConfidenceThreshold {
			runners = append(runners, c.skill)
		}
	}
	if len(runners) == 0 {
		return nil, nil
	}
	timing.CandidatesTried = len(runners)

	execStart := time.Now()
	skill, result, trace, ok := r.raceExecute(ctx, runners, req)
	timing.ExecuteMs = time.Since(execStart).Milliseconds()
	if !ok {
		return nil, nil
	}

	r.RouteCache.Put(routeCacheKey(domain, req.Intent), RouteEntry{SkillID: skill.SkillID, Domain: domain})
	timing.Source = models.SourceMarketplace
	timing.ResponseBytes = estimateResponseBytes(result)
	return &ResolveResult{
		Result: result,
		Trace:  trace,
		Skill:  skill,
		Source: models.SourceMarketplace,
		Timing: *timing,
	}, nil
}

// searchAndFetch runs the domain-scoped and global searches concurrently,
// merges/dedupes, fetches each candidate skill in parallel, and drops
// unusable ones.
func (r *Resolver) searchAndFetch(ctx context.Context, intent, domain string) ([]*models.SkillManifest, error) {
	var domainHits, globalHits []MarketplaceCandidate
	g, gctx := errgroup.WithContext(ctx)
	if domain != "" {
		g.Go(func() error {
			hits, err := r.marketplace.SearchDomain(gctx, domain, intent, domainSearchK)
			if err != nil {
				return nil // a dead marketplace shouldn't sink the whole search
			}
			domainHits = hits
			return nil
		})
	}
	g.Go(func() error {
		hits, err := r.marketplace.SearchGlobal(gctx, intent, globalSearchK)
		if err != nil {
			return nil
		}
		globalHits = hits
		return nil
	})
	_ = g.Wait()

	merged := mergeCandidates(domainHits, globalHits)
	if len(merged) == 0 {
		return nil, nil
	}

	skills := make([]*models.SkillManifest, len(merged))
	fg, fgctx := errgroup.WithContext(ctx)
	for i, c := range merged {
		i, c := i, c
		fg.Go(func() error {
			skill, err := r.marketplace.GetSkill(fgctx, c.SkillID)
			if err != nil {
				return nil
			}
			skills[i] = skill
			return nil
		})
	}
	_ = fg.Wait()

	usable := make([]*models.SkillManifest, 0, len(skills))
	for _, skill := range skills {
		if skill != nil && candidateUsable(skill, domain) {
			usable = append(usable, skill)
		}
	}
	return usable, nil
}

type scoredCandidate struct {
	skill *models.SkillManifest
	score float64
}

func (r *Resolver) scoreCandidates(ctx context.Context, intent string, candidates []*models.SkillManifest) []scoredCandidate {
	scored := make([]scoredCandidate, len(candidates))
	var wg sync.WaitGroup
	for i, skill := range candidates {
		wg.Add(1)
		go func(i int, skill *models.SkillManifest) {
			defer wg.Done()
			embeddingScore := 0.0
			if r.scorer != nil {
				embeddingScore = r.scorer.Score(ctx, intent, skill)
			}
			scored[i] = scoredCandidate{skill: skill, score: CompositeScore(embeddingScore, newSkillSummary(skill))}
		}(i, skill)
	}
	wg.Wait()
	return scored
}

// raceExecute runs up to candidateRaceN candidates concurrently, each with
// its own candidateTimeout, and returns the first successful trace.
func (r *Resolver) raceExecute(ctx context.Context, candidates []*models.SkillManifest, req ResolveRequest) (*models.SkillManifest, any, *models.ExecutionTrace, bool) {
	type raceResult struct {
		skill  *models.SkillManifest
		result any
		trace  *models.ExecutionTrace
		err    error
	}

	results := make(chan raceResult, len(candidates))
	cancels := make([]context.CancelFunc, 0, len(candidates))
	var mu sync.Mutex

	for _, skill := range candidates {
		cctx, cancel := context.WithTimeout(ctx, candidateTimeout)
		mu.Lock()
		cancels = append(cancels, cancel)
		mu.Unlock()

		skill := skill
		go func() {
			result, trace, err := r.executor.Execute(cctx, skill, req.EndpointID, req.Params)
			results <- raceResult{skill: skill, result: result, trace: trace, err: err}
		}()
	}

	defer func() {
		mu.Lock()
		for _, cancel := range cancels {
			cancel()
		}
		mu.Unlock()
	}()

	for range candidates {
		res := <-results
		if res.err == nil {
			return res.skill, res.result, res.trace, true
		}
	}
	return nil, nil, nil, false
}

// tryLiveCapture implements steps 5 and 6.
func (r *Resolver) tryLiveCapture(ctx context.Context, req ResolveRequest, domain string, timing *models.OrchestrationTiming) (*ResolveResult, error) {
	if req.Context == nil || req.Context.URL == "" {
		return nil, ErrCaptureRequiresURL
	}

	if cached, ok := r.DomainCache.Get(domain); ok {
		execStart := time.Now()
		result, trace, err := r.executor.Execute(ctx, cached, req.EndpointID, req.Params)
		timing.ExecuteMs = time.Since(execStart).Milliseconds()
		if err == nil {
			timing.Source = models.SourceLiveCapture
			timing.ResponseBytes = estimateResponseBytes(result)
			return &ResolveResult{Result: result, Trace: trace, Skill: cached, Source: models.SourceLiveCapture, Timing: *timing}, nil
		}
	}

	if _, loaded := r.inFlight.LoadOrStore(domain, struct{}{}); loaded {
		return nil, ErrCaptureInFlight
	}
	defer r.inFlight.Delete(domain)

	captureStart := time.Now()
	v, err, _ := r.captureFlight.Do(domain, func() (interface{}, error) {
		return r.browser.Capture(ctx, req.Context.URL, req.Context.Actions)
	})
	timing.ExecuteMs = time.Since(captureStart).Milliseconds()
	if err != nil {
		return nil, err
	}
	outcome, _ := v.(*CaptureOutcome)
	if outcome == nil {
		return nil, errors.New("browser capture returned no outcome")
	}

	if outcome.LearnedSkill != nil {
		outcome.LearnedSkill.DiscoveryCost = &models.DiscoveryCost{
			CaptureMs:  timing.ExecuteMs,
			CapturedAt: time.Now(),
		}
		if r.store != nil {
			_ = r.store.Save(outcome.LearnedSkill)
		}
		r.DomainCache.Put(domain, outcome.LearnedSkill)
	}

	return r.postCaptureDecision(outcome, req, timing)
}

// postCaptureDecision implements step 6.
func (r *Resolver) postCaptureDecision(outcome *CaptureOutcome, req ResolveRequest, timing *models.OrchestrationTiming) (*ResolveResult, error) {
	skill := outcome.LearnedSkill
	timing.ResponseBytes = estimateResponseBytes(outcome.Result)

	if skill != nil && skill.ExecutionType == models.ExecutionTypeDOMExtraction {
		timing.Source = models.SourceDOMFallback
		return &ResolveResult{Result: outcome.Result, Trace: outcome.Trace, Skill: skill, Source: models.SourceDOMFallback, Timing: *timing, AuthRequired: outcome.AuthRequired}, nil
	}

	timing.Source = models.SourceLiveCapture

	if req.EndpointID != "" || skill == nil || len(skill.Endpoints) == 0 {
		return &ResolveResult{Result: outcome.Result, Trace: outcome.Trace, Skill: skill, Source: models.SourceLiveCapture, Timing: *timing, AuthRequired: outcome.AuthRequired}, nil
	}

	ranked := rankEndpoints(skill)
	if shouldAutoExecute(ranked, outcome.AuthRequired) {
		top := ranked[0]
		result, trace, err := r.executor.Execute(context.Background(), skill, top.EndpointID, req.Params)
		if err == nil {
			return &ResolveResult{Result: result, Trace: trace, Skill: skill, Source: models.SourceLiveCapture, Timing: *timing}, nil
		}
	}

	return &ResolveResult{
		Result:             outcome.Result,
		Trace:              outcome.Trace,
		Skill:              skill,
		Source:             models.SourceLiveCapture,
		Timing:             *timing,
		AvailableEndpoints: ranked,
		AuthRequired:       outcome.AuthRequired,
	}, nil
}

func rankEndpoints(skill *models.SkillManifest) []EndpointChoice {
	choices := make([]EndpointChoice, len(skill.Endpoints))
	for i, e := range skill.Endpoints {
		choices[i] = EndpointChoice{
			EndpointID:        e.EndpointID,
			HasResponseSchema: len(e.ResponseSchema) > 0,
			Score: endpointRank(
				e.ReliabilityScore,
				len(e.ResponseSchema) > 0,
				e.VerificationStatus == models.VerificationVerified,
				e.Method == "GET",
			),
		}
	}
	sort.Slice(choices, func(i, j int) bool { return choices[i].Score > choices[j].Score })
	return choices
}

// shouldAutoExecute implements spec.md §4.11 step 6's auto-execute gate.
func shouldAutoExecute(ranked []EndpointChoice, authRequired bool) bool {
	if authRequired || len(ranked) == 0 {
		return false
	}
	if !ranked[0].HasResponseSchema {
		return false
	}
	if ranked[0].Score < autoExecuteMinScore {
		return false
	}
	if len(ranked) > 1 && ranked[0].Score-ranked[1].Score < autoExecuteMinMargin {
		return false
	}
	return true
}

func estimateResponseBytes(result any) int64 {
	if result == nil {
		return 0
	}
	if s, ok := result.(string); ok {
		return int64(len(s))
	}
	if b, ok := result.([]byte); ok {
		return int64(len(b))
	}
	return 0
}
