package models

import "time"

// ExecutionTrace records one endpoint invocation, whatever its source.
type ExecutionTrace struct {
	TraceID        string    `json:"trace_id"`
	SkillID        string    `json:"skill_id"`
	EndpointID     string    `json:"endpoint_id"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	Success        bool      `json:"success"`
	StatusCode     int       `json:"status_code"`
	TokensUsed     int64     `json:"tokens_used,omitempty"`
	TokensSaved    int64     `json:"tokens_saved,omitempty"`
	TokensSavedPct float64   `json:"tokens_saved_pct,omitempty"`
	TraceVersion   int       `json:"trace_version"`
}

// CurrentTraceVersion is stamped onto every ExecutionTrace C9/C13 produce.
const CurrentTraceVersion = 1

// OrchestrationSource names the branch of resolveAndExecute that produced a
// result.
type OrchestrationSource string

const (
	SourceRouteCache   OrchestrationSource = "route-cache"
	SourceDiskCache    OrchestrationSource = "disk-cache"
	SourceMarketplace  OrchestrationSource = "marketplace"
	SourceLiveCapture  OrchestrationSource = "live-capture"
	SourceDOMFallback  OrchestrationSource = "dom-fallback"
)

// OrchestrationTiming is the per-request accounting record emitted by C13 on
// every branch.
type OrchestrationTiming struct {
	SearchMs        int64               `json:"search_ms,omitempty"`
	GetSkillMs      int64               `json:"get_skill_ms,omitempty"`
	ExecuteMs       int64               `json:"execute_ms,omitempty"`
	TotalMs         int64               `json:"total_ms"`
	Source          OrchestrationSource `json:"source"`
	CacheHit        bool                `json:"cache_hit"`
	CandidatesFound int                 `json:"candidates_found,omitempty"`
	CandidatesTried int                 `json:"candidates_tried,omitempty"`
	TokensSaved     int64               `json:"tokens_saved"`
	ResponseBytes   int64               `json:"response_bytes,omitempty"`
	TokensSavedPct  float64             `json:"tokens_saved_pct"`
	TimeSavedPct    float64             `json:"time_saved_pct,omitempty"`
	SkillID         string              `json:"skill_id"`
}

// Default discovery-cost baselines used when a skill carries none, per
// spec.md §4.11 step 7.
const (
	DefaultBaselineCaptureMs     int64 = 22000
	DefaultBaselineCaptureTokens int64 = 30000
)
