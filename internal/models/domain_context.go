package models

import (
	"sync"
	"time"

	"github.com/unbrowse-ai/unbrowse-core/internal/limits"
)

// TimedExchangeRef is a lightweight, bounded-history snapshot of one
// exchange, kept for incremental endpoint analysis during a live session —
// generalizes the teacher's TimedRequest.
type TimedExchangeRef struct {
	ExchangeIndex int
	Timestamp     int64
	Method        string
	NormalizedURL string
	StatusCode    int
}

// FormWitness is an extracted, security-relevant HTML form — generalizes
// the teacher's HTMLForm, kept for C5's CSRF-token-source heuristics and
// C10's dom_extraction candidates.
type FormWitness struct {
	FormID        string
	Action        string
	Method        string
	HasCSRFToken  bool
	CSRFTokenName string
	FieldNames    []string
	FirstSeen     int64
}

// ResourceWitness is the CRUD-operation mapping detected for one resource
// path — generalizes the teacher's ResourceMapping.
type ResourceWitness struct {
	ResourcePath string
	Operations   map[string]string // "GET" -> "read", etc.
	RelatedPaths []string
	DetectedAt   int64
}

// DomainContext accumulates incremental, bounded state about one domain
// during a live capture session, so the endpoint analyzer (C3) doesn't need
// to hold every exchange in memory to keep building EndpointGroups.
type DomainContext struct {
	Domain          string
	RecentExchanges []TimedExchangeRef
	Forms           map[string]*FormWitness
	Resources       map[string]*ResourceWitness
	RequestCount    int64
	LastActivity    int64

	mu      sync.RWMutex
	limiter *limits.ContextLimiter
}

// NewDomainContext returns an empty context for domain using the given
// limiter, or the default limiter when nil.
func NewDomainContext(domain string, limiter *limits.ContextLimiter) *DomainContext {
	if limiter == nil {
		limiter = limits.NewContextLimiter(nil)
	}
	return &DomainContext{
		Domain:       domain,
		Forms:        make(map[string]*FormWitness),
		Resources:    make(map[string]*ResourceWitness),
		limiter:      limiter,
		LastActivity: time.Now().Unix(),
	}
}

// AddExchange records a new exchange snapshot, enforcing the recent-history
// bound.
func (dc *DomainContext) AddExchange(ref TimedExchangeRef) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.limiter.ShouldCleanup(ref.Timestamp) {
		return
	}

	dc.RecentExchanges = append(dc.RecentExchanges, ref)
	lim := dc.limiter.GetLimits()
	if len(dc.RecentExchanges) > lim.MaxRecentRequests {
		dc.RecentExchanges = dc.RecentExchanges[len(dc.RecentExchanges)-lim.MaxRecentRequests:]
	}
	dc.RequestCount++
	dc.LastActivity = time.Now().Unix()
}

// AddForm records a form witness, evicting the oldest when over the bound.
func (dc *DomainContext) AddForm(form *FormWitness) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	lim := dc.limiter.GetLimits()
	if len(dc.Forms) >= lim.MaxForms {
		var oldestKey string
		oldestTime := time.Now().Unix()
		for key, f := range dc.Forms {
			if f.FirstSeen < oldestTime {
				oldestTime = f.FirstSeen
				oldestKey = key
			}
		}
		if oldestKey != "" {
			delete(dc.Forms, oldestKey)
		}
	}
	dc.Forms[form.FormID] = form
	dc.LastActivity = time.Now().Unix()
}

// AddResource records or updates the operations observed for a resource.
func (dc *DomainContext) AddResource(path, method, operation string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	lim := dc.limiter.GetLimits()
	res, ok := dc.Resources[path]
	if !ok {
		if len(dc.Resources) >= lim.MaxResources {
			var oldestKey string
			oldestTime := time.Now().Unix()
			for k, r := range dc.Resources {
				if r.DetectedAt < oldestTime {
					oldestTime = r.DetectedAt
					oldestKey = k
				}
			}
			if oldestKey != "" {
				delete(dc.Resources, oldestKey)
			}
		}
		res = &ResourceWitness{
			ResourcePath: path,
			Operations:   make(map[string]string),
			DetectedAt:   time.Now().Unix(),
		}
		dc.Resources[path] = res
	}
	if _, exists := res.Operations[method]; !exists {
		res.Operations[method] = operation
		res.RelatedPaths = appendUniqueString(res.RelatedPaths, path)
	}
	dc.LastActivity = time.Now().Unix()
}

func appendUniqueString(list []string, item string) []string {
	for _, s := range list {
		if s == item {
			return list
		}
	}
	return append(list, item)
}

// Cleanup drops entries older than the limiter's max age.
func (dc *DomainContext) Cleanup() {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	var kept []TimedExchangeRef
	for _, ref := range dc.RecentExchanges {
		if !dc.limiter.ShouldCleanup(ref.Timestamp) {
			kept = append(kept, ref)
		}
	}
	dc.RecentExchanges = kept

	for key, form := range dc.Forms {
		if dc.limiter.ShouldCleanup(form.FirstSeen) {
			delete(dc.Forms, key)
		}
	}
	for key, res := range dc.Resources {
		if dc.limiter.ShouldCleanup(res.DetectedAt) {
			delete(dc.Resources, key)
		}
	}
}

// Stats returns a snapshot summary, mirroring the teacher's GetStats shape.
func (dc *DomainContext) Stats() map[string]any {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	return map[string]any{
		"domain":        dc.Domain,
		"recent":        len(dc.RecentExchanges),
		"forms":         len(dc.Forms),
		"resources":     len(dc.Resources),
		"request_count": dc.RequestCount,
		"last_activity": dc.LastActivity,
	}
}
