// Package driven holds capture-time support components that are driven by
// the browser session rather than by the marketplace or control-service
// request path: incremental per-domain analysis state.
package driven

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/unbrowse-ai/unbrowse-core/internal/limits"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// DomainContextManager owns one bounded models.DomainContext per captured
// domain, with thread-safe access and periodic eviction, so a long-running
// capture session (C1-C5) doesn't accumulate unbounded per-domain state.
type DomainContextManager struct {
	contexts          map[string]*models.DomainContext
	mutex             sync.RWMutex
	cleanupTicker     *time.Ticker
	stopChan          chan struct{}
	limiter           *limits.ContextLimiter
	maxContexts       int
	lastGlobalCleanup int64
}

// DomainContextManagerOptions configures a DomainContextManager.
type DomainContextManagerOptions struct {
	MaxContexts     int
	CleanupInterval time.Duration
	Limits          *limits.ContextLimiter
}

// DefaultDomainContextManagerOptions returns the manager's default bounds.
func DefaultDomainContextManagerOptions() *DomainContextManagerOptions {
	return &DomainContextManagerOptions{
		MaxContexts:     100,
		CleanupInterval: 15 * time.Minute,
		Limits:          limits.NewContextLimiter(nil),
	}
}

// NewDomainContextManager builds a manager using the default options.
func NewDomainContextManager() *DomainContextManager {
	return NewDomainContextManagerWithOptions(nil)
}

// NewDomainContextManagerWithOptions builds a manager using opts, falling
// back to the defaults for any nil field.
func NewDomainContextManagerWithOptions(opts *DomainContextManagerOptions) *DomainContextManager {
	if opts == nil {
		opts = DefaultDomainContextManagerOptions()
	}
	limiter := opts.Limits
	if limiter == nil {
		limiter = limits.NewContextLimiter(nil)
	}

	manager := &DomainContextManager{
		contexts:          make(map[string]*models.DomainContext),
		stopChan:          make(chan struct{}),
		limiter:           limiter,
		maxContexts:       opts.MaxContexts,
		lastGlobalCleanup: time.Now().Unix(),
	}

	if opts.CleanupInterval > 0 {
		manager.startCleanupRoutine(opts.CleanupInterval)
	}

	return manager
}

func (m *DomainContextManager) startCleanupRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	m.cleanupTicker = ticker
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.PerformGlobalCleanup()
			case <-m.stopChan:
				return
			}
		}
	}()
}

// Stop ends the cleanup routine and runs one final cleanup pass over every
// held context.
func (m *DomainContextManager) Stop() {
	if m.cleanupTicker != nil {
		close(m.stopChan)
		m.cleanupTicker.Stop()
		m.cleanupTicker = nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, ctx := range m.contexts {
		ctx.Cleanup()
	}
}

// GetOrCreate returns the context for domain, creating one (and evicting
// the oldest context if at capacity) if none exists yet.
func (m *DomainContextManager) GetOrCreate(domain string) *models.DomainContext {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if ctx, exists := m.contexts[domain]; exists {
		return ctx
	}

	if len(m.contexts) >= m.maxContexts {
		m.evictOldestContext()
	}

	ctx := models.NewDomainContext(domain, m.limiter)
	m.contexts[domain] = ctx
	return ctx
}

// Get returns the context for domain, or nil if none has been created.
func (m *DomainContextManager) Get(domain string) *models.DomainContext {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.contexts[domain]
}

func (m *DomainContextManager) evictOldestContext() {
	var oldestDomain string
	oldestTime := time.Now().Unix()

	for domain, ctx := range m.contexts {
		stats := ctx.Stats()
		if lastActivity, ok := stats["last_activity"].(int64); ok && (oldestDomain == "" || lastActivity < oldestTime) {
			oldestTime = lastActivity
			oldestDomain = domain
		}
	}

	if oldestDomain != "" {
		delete(m.contexts, oldestDomain)
		log.Printf("evicted oldest domain context: %s", oldestDomain)
	}
}

// PerformGlobalCleanup runs Cleanup on every context and drops ones that
// have gone fully stale.
func (m *DomainContextManager) PerformGlobalCleanup() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	cleanupCount, evictionCount := 0, 0

	for domain, ctx := range m.contexts {
		ctx.Cleanup()
		cleanupCount++

		stats := ctx.Stats()
		if lastActivity, ok := stats["last_activity"].(int64); ok {
			if m.limiter.ShouldCleanup(lastActivity) {
				delete(m.contexts, domain)
				evictionCount++
			}
		}
	}

	if len(m.contexts) > m.maxContexts {
		m.evictOldestContext()
		evictionCount++
	}

	m.lastGlobalCleanup = time.Now().Unix()

	if cleanupCount > 0 || evictionCount > 0 {
		log.Printf("domain context cleanup: %d cleaned, %d evicted, %d remaining", cleanupCount, evictionCount, len(m.contexts))
	}
}

// GetStats summarizes the manager's held contexts for operability
// dashboards.
func (m *DomainContextManager) GetStats() map[string]any {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var totalRequests int64
	var totalForms, totalResources int

	for _, ctx := range m.contexts {
		stats := ctx.Stats()
		if req, ok := stats["request_count"].(int64); ok {
			totalRequests += req
		}
		if forms, ok := stats["forms"].(int); ok {
			totalForms += forms
		}
		if resources, ok := stats["resources"].(int); ok {
			totalResources += resources
		}
	}

	return map[string]any{
		"total_contexts":      len(m.contexts),
		"max_contexts":        m.maxContexts,
		"total_requests":      totalRequests,
		"total_forms":         totalForms,
		"total_resources":     totalResources,
		"last_global_cleanup": m.lastGlobalCleanup,
	}
}

// GetAllDomains returns every domain currently tracked.
func (m *DomainContextManager) GetAllDomains() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	domains := make([]string, 0, len(m.contexts))
	for domain := range m.contexts {
		domains = append(domains, domain)
	}
	return domains
}

// RemoveContext drops the context for domain.
func (m *DomainContextManager) RemoveContext(domain string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if ctx, exists := m.contexts[domain]; exists {
		ctx.Cleanup()
		delete(m.contexts, domain)
		log.Printf("removed domain context: %s", domain)
	}
}

// UpdateLimits replaces the bounds shared by every context this manager
// holds (and every context it creates afterward).
func (m *DomainContextManager) UpdateLimits(newLimits *limits.ContextLimits) error {
	if err := m.limiter.UpdateLimits(newLimits); err != nil {
		return fmt.Errorf("updating context limits: %w", err)
	}
	return nil
}
