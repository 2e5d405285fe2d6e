package driven

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbrowse-ai/unbrowse-core/internal/limits"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

func TestNewDomainContextManager(t *testing.T) {
	manager := NewDomainContextManager()
	defer manager.Stop()

	require.NotNil(t, manager, "Manager should not be nil")
	assert.NotNil(t, manager.contexts, "Contexts map should be initialized")
	assert.NotNil(t, manager.stopChan, "Stop channel should be initialized")
	assert.NotNil(t, manager.limiter, "Limiter should be initialized")
	assert.Equal(t, 100, manager.maxContexts, "Max contexts should be 100")
	assert.NotNil(t, manager.cleanupTicker, "Cleanup ticker should be initialized")
}

func TestNewDomainContextManagerWithOptions(t *testing.T) {
	customLimits := &limits.ContextLimits{
		MaxRecentRequests: 25,
		MaxForms:          15,
		MaxResources:      20,
		MaxAgeHours:       12 * time.Hour,
		MaxURLPatterns:    80,
		MaxNotesPerURL:    50,
	}

	opts := &DomainContextManagerOptions{
		MaxContexts:     50,
		CleanupInterval: 5 * time.Minute,
		Limits:          limits.NewContextLimiter(customLimits),
	}

	manager := NewDomainContextManagerWithOptions(opts)
	defer manager.Stop()

	require.NotNil(t, manager)
	assert.Equal(t, 50, manager.maxContexts, "Max contexts should match options")
	assert.NotNil(t, manager.cleanupTicker, "Cleanup ticker should be initialized")
}

func TestDomainContextManager_GetOrCreate(t *testing.T) {
	opts := &DomainContextManagerOptions{
		MaxContexts:     5,
		CleanupInterval: 0, // disable auto cleanup for the test
		Limits:          limits.NewContextLimiter(nil),
	}

	manager := NewDomainContextManagerWithOptions(opts)
	defer manager.Stop()

	domain1 := "example.com"
	domain2 := "test.com"

	ctx1 := manager.GetOrCreate(domain1)
	require.NotNil(t, ctx1, "First call should create context")
	assert.Equal(t, domain1, ctx1.Domain, "Context domain should match")

	ctx1Again := manager.GetOrCreate(domain1)
	assert.Same(t, ctx1, ctx1Again, "Should return same context instance")

	ctx2 := manager.GetOrCreate(domain2)
	require.NotNil(t, ctx2, "Should create new context for different domain")
	assert.Equal(t, domain2, ctx2.Domain, "Context domain should match")
	assert.NotSame(t, ctx1, ctx2, "Should be different instances")

	for i := 0; i < 10; i++ {
		domain := fmt.Sprintf("site%d.com", i)
		manager.GetOrCreate(domain)
	}

	assert.LessOrEqual(t, len(manager.contexts), manager.maxContexts, "Should not exceed max contexts")
}

func TestDomainContextManager_Get(t *testing.T) {
	manager := NewDomainContextManager()
	defer manager.Stop()

	domain := "example.com"

	ctx := manager.Get(domain)
	assert.Nil(t, ctx, "Getting non-existent context should return nil")

	created := manager.GetOrCreate(domain)
	require.NotNil(t, created)

	retrieved := manager.Get(domain)
	assert.Same(t, created, retrieved, "Should return same context instance")
}

func TestDomainContextManager_PerformGlobalCleanup(t *testing.T) {
	opts := &DomainContextManagerOptions{
		MaxContexts:     10,
		CleanupInterval: 0,
		Limits:          limits.NewContextLimiter(nil),
	}

	manager := NewDomainContextManagerWithOptions(opts)
	defer manager.Stop()

	oldTimestamp := time.Now().Add(-25 * time.Hour).Unix()

	for i := 0; i < 5; i++ {
		domain := fmt.Sprintf("old-site%d.com", i)
		ctx := manager.GetOrCreate(domain)
		ctx.AddExchange(models.TimedExchangeRef{
			ExchangeIndex: i,
			Timestamp:     oldTimestamp,
			Method:        "GET",
			NormalizedURL: "/api/old",
			StatusCode:    200,
		})
		ctx.LastActivity = oldTimestamp
	}

	activeDomain := "active-site.com"
	activeCtx := manager.GetOrCreate(activeDomain)
	activeCtx.AddExchange(models.TimedExchangeRef{
		Timestamp:     time.Now().Unix(),
		Method:        "GET",
		NormalizedURL: "/api/active",
		StatusCode:    200,
	})

	initialCount := len(manager.contexts)
	assert.Equal(t, 6, initialCount, "Should have 6 contexts before cleanup")

	manager.PerformGlobalCleanup()

	remaining := len(manager.contexts)
	assert.Less(t, remaining, initialCount, "Old contexts should be evicted")

	assert.NotNil(t, manager.Get(activeDomain), "Active context should remain")
}

func TestDomainContextManager_GetStats(t *testing.T) {
	manager := NewDomainContextManager()
	defer manager.Stop()

	for i := 0; i < 3; i++ {
		domain := fmt.Sprintf("site%d.com", i)
		ctx := manager.GetOrCreate(domain)
		ctx.AddExchange(models.TimedExchangeRef{
			Timestamp:     time.Now().Unix(),
			Method:        "GET",
			NormalizedURL: fmt.Sprintf("/api/test%d", i),
			StatusCode:    200,
		})
	}

	stats := manager.GetStats()

	require.NotNil(t, stats, "Stats should not be nil")
	assert.Equal(t, 3, stats["total_contexts"], "Should have 3 total contexts")
	assert.Equal(t, 100, stats["max_contexts"], "Max contexts should be 100")
	assert.Equal(t, int64(3), stats["total_requests"], "Should have 3 total requests")
	assert.Greater(t, stats["last_global_cleanup"], int64(0), "Last cleanup should be set")
}

func TestDomainContextManager_GetAllDomains(t *testing.T) {
	manager := NewDomainContextManager()
	defer manager.Stop()

	domains := []string{"site1.com", "site2.com", "site3.com"}
	for _, domain := range domains {
		manager.GetOrCreate(domain)
	}

	all := manager.GetAllDomains()

	require.NotNil(t, all, "Domain list should not be nil")
	assert.Len(t, all, len(domains), "Should have correct number of domains")

	seen := make(map[string]bool)
	for _, domain := range all {
		seen[domain] = true
	}
	for _, expected := range domains {
		assert.True(t, seen[expected], "Domain %s should be present", expected)
	}
}

func TestDomainContextManager_RemoveContext(t *testing.T) {
	manager := NewDomainContextManager()
	defer manager.Stop()

	domain := "example.com"
	ctx := manager.GetOrCreate(domain)
	require.NotNil(t, ctx, "Context should be created")

	assert.Same(t, ctx, manager.Get(domain), "Context should exist before removal")

	manager.RemoveContext(domain)

	assert.Nil(t, manager.Get(domain), "Context should be nil after removal")
}

func TestDomainContextManager_UpdateLimits(t *testing.T) {
	manager := NewDomainContextManager()
	defer manager.Stop()

	manager.GetOrCreate("example.com")

	newLimits := &limits.ContextLimits{
		MaxRecentRequests: 100,
		MaxForms:          50,
		MaxResources:      75,
		MaxAgeHours:       48 * time.Hour,
		MaxURLPatterns:    200,
		MaxNotesPerURL:    150,
	}

	err := manager.UpdateLimits(newLimits)
	assert.NoError(t, err, "Updating valid limits should not error")

	invalidLimits := &limits.ContextLimits{
		MaxRecentRequests: -1,
	}

	err = manager.UpdateLimits(invalidLimits)
	assert.Error(t, err, "Updating invalid limits should error")
	assert.Contains(t, err.Error(), "updating context limits")
}

func TestDomainContextManager_Stop(t *testing.T) {
	manager := NewDomainContextManager()

	for i := 0; i < 3; i++ {
		domain := fmt.Sprintf("site%d.com", i)
		manager.GetOrCreate(domain)
	}

	assert.NotPanics(t, manager.Stop, "Stop should not panic")
	assert.Nil(t, manager.cleanupTicker, "Cleanup ticker should be nil after stop")
}

func TestDomainContextManager_ContextEviction(t *testing.T) {
	opts := &DomainContextManagerOptions{
		MaxContexts:     3,
		CleanupInterval: 0,
		Limits:          limits.NewContextLimiter(nil),
	}

	manager := NewDomainContextManagerWithOptions(opts)
	defer manager.Stop()

	for i := 0; i < 3; i++ {
		domain := fmt.Sprintf("site%d.com", i)
		ctx := manager.GetOrCreate(domain)
		ctx.LastActivity = time.Now().Add(-time.Duration(i) * time.Hour).Unix()
	}

	assert.Equal(t, 3, len(manager.contexts), "Should have 3 contexts")

	newDomain := "new-site.com"
	newCtx := manager.GetOrCreate(newDomain)

	assert.NotNil(t, newCtx, "New context should be created")
	assert.Equal(t, 3, len(manager.contexts), "Should still have 3 contexts")
	assert.Same(t, newCtx, manager.Get(newDomain), "New context should be retrievable")
}
