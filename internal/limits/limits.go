package limits

import (
	"fmt"
	"time"
)

// ContextLimits bounds how much per-domain state a DomainContext may hold.
type ContextLimits struct {
	MaxRecentRequests int           `json:"max_recent_requests"`
	MaxForms          int           `json:"max_forms"`
	MaxResources      int           `json:"max_resources"`
	MaxAgeHours       time.Duration `json:"max_age_hours"`
	MaxURLPatterns    int           `json:"max_url_patterns"`
	MaxNotesPerURL    int           `json:"max_notes_per_url"`
}

// DefaultContextLimits returns the bounds used when no override is given.
func DefaultContextLimits() *ContextLimits {
	return &ContextLimits{
		MaxRecentRequests: 50,
		MaxForms:          20,
		MaxResources:      30,
		MaxAgeHours:       24 * time.Hour,
		MaxURLPatterns:    100,
		MaxNotesPerURL:    100,
	}
}

// ContextLimiter enforces ContextLimits against a DomainContext.
type ContextLimiter struct {
	limits *ContextLimits
}

// NewContextLimiter wraps limits, falling back to DefaultContextLimits when
// nil.
func NewContextLimiter(limits *ContextLimits) *ContextLimiter {
	if limits == nil {
		limits = DefaultContextLimits()
	}
	return &ContextLimiter{
		limits: limits,
	}
}

// GetLimits returns the active limits.
func (cl *ContextLimiter) GetLimits() *ContextLimits {
	return cl.limits
}

// UpdateLimits replaces the active limits after validating them.
func (cl *ContextLimiter) UpdateLimits(limits *ContextLimits) error {
	if limits.MaxRecentRequests <= 0 {
		return fmt.Errorf("MaxRecentRequests must be positive")
	}
	if limits.MaxForms <= 0 {
		return fmt.Errorf("MaxForms must be positive")
	}
	if limits.MaxResources <= 0 {
		return fmt.Errorf("MaxResources must be positive")
	}
	if limits.MaxAgeHours <= 0 {
		return fmt.Errorf("MaxAgeHours must be positive")
	}
	if limits.MaxURLPatterns <= 0 {
		return fmt.Errorf("MaxURLPatterns must be positive")
	}
	if limits.MaxNotesPerURL <= 0 {
		return fmt.Errorf("MaxNotesPerURL must be positive")
	}

	cl.limits = limits
	return nil
}

// ShouldCleanup reports whether timestamp is older than MaxAgeHours.
func (cl *ContextLimiter) ShouldCleanup(timestamp int64) bool {
	cutoff := time.Now().Add(-cl.limits.MaxAgeHours).Unix()
	return timestamp < cutoff
}

// CleanupRequests trims requests down to MaxRecentRequests, dropping the
// oldest entries.
func (cl *ContextLimiter) CleanupRequests(requests []interface{}) []interface{} {
	if len(requests) <= cl.limits.MaxRecentRequests {
		return requests
	}
	return requests[len(requests)-cl.limits.MaxRecentRequests:]
}

// CleanupMap trims m down to the smaller of MaxForms/MaxResources.
//
// TODO: this drops arbitrary entries rather than the oldest, since the plain
// map carries no insertion order; callers that need LRU-accurate eviction
// track timestamps themselves (see DomainContext.AddForm).
func (cl *ContextLimiter) CleanupMap(m map[string]interface{}) map[string]interface{} {
	if len(m) <= cl.limits.MaxForms && len(m) <= cl.limits.MaxResources {
		return m
	}

	maxSize := cl.limits.MaxForms
	if cl.limits.MaxResources < maxSize {
		maxSize = cl.limits.MaxResources
	}

	result := make(map[string]interface{})
	count := 0
	for k, v := range m {
		if count >= maxSize {
			break
		}
		result[k] = v
		count++
	}

	return result
}

// GetMemoryUsage estimates the bytes held by a context bounded by these
// limits.
func (cl *ContextLimiter) GetMemoryUsage() int64 {
	baseSize := int64(1024)

	requestsSize := int64(cl.limits.MaxRecentRequests * 200)
	formsSize := int64(cl.limits.MaxForms * 500)
	resourcesSize := int64(cl.limits.MaxResources * 300)
	urlPatternsSize := int64(cl.limits.MaxURLPatterns * 400)
	notesSize := int64(cl.limits.MaxURLPatterns * cl.limits.MaxNotesPerURL * 150)

	return baseSize + requestsSize + formsSize + resourcesSize + urlPatternsSize + notesSize
}

// ValidateLimits rejects limits set unreasonably high.
func (cl *ContextLimiter) ValidateLimits() error {
	if cl.limits.MaxRecentRequests > 1000 {
		return fmt.Errorf("MaxRecentRequests too large (> 1000)")
	}
	if cl.limits.MaxForms > 500 {
		return fmt.Errorf("MaxForms too large (> 500)")
	}
	if cl.limits.MaxResources > 500 {
		return fmt.Errorf("MaxResources too large (> 500)")
	}
	if cl.limits.MaxURLPatterns > 1000 {
		return fmt.Errorf("MaxURLPatterns too large (> 1000)")
	}
	if cl.limits.MaxNotesPerURL > 1000 {
		return fmt.Errorf("MaxNotesPerURL too large (> 1000)")
	}
	return nil
}
