package models

import "time"

// ExecutionType classifies how a skill's endpoints are expected to be
// invoked at replay time.
type ExecutionType string

const (
	ExecutionTypeAPI          ExecutionType = "api"
	ExecutionTypeBrowserCapture ExecutionType = "browser-capture"
	ExecutionTypeDOMExtraction ExecutionType = "dom-extraction"
)

// VerificationStatus is per-endpoint, set by C11.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationVerified   VerificationStatus = "verified"
	VerificationFailing    VerificationStatus = "failing"
)

// SkillLifecycle tracks a skill's maturity.
type SkillLifecycle string

const (
	LifecycleDraft      SkillLifecycle = "draft"
	LifecycleActive     SkillLifecycle = "active"
	LifecycleDeprecated SkillLifecycle = "deprecated"
)

// DiscoveryCost records what it cost to learn a skill via live capture.
type DiscoveryCost struct {
	CaptureMs     int64     `json:"capture_ms"`
	CaptureTokens int64     `json:"capture_tokens"`
	ResponseBytes int64     `json:"response_bytes"`
	CapturedAt    time.Time `json:"captured_at"`
}

// DOMExtractionSpec describes a skill endpoint whose data comes from parsing
// a browser snapshot rather than an API response body.
type DOMExtractionSpec struct {
	Selector string            `json:"selector"`
	Fields   map[string]string `json:"fields"` // field name -> relative selector/attribute
}

// SkillEndpoint is one callable HTTP endpoint inside a SkillManifest.
type SkillEndpoint struct {
	EndpointID         string              `json:"endpoint_id"`
	Method             string              `json:"method"`
	URLTemplate        string              `json:"url_template"`
	PathParams         []PathParamInfo     `json:"path_params,omitempty"`
	QueryParams        []QueryParamInfo    `json:"query_params,omitempty"`
	RequestBodySchema  map[string]string   `json:"request_body_schema,omitempty"`
	ResponseSchema     map[string]string   `json:"response_schema,omitempty"`
	Produces           []string            `json:"produces,omitempty"`
	Consumes           []string            `json:"consumes,omitempty"`
	ReliabilityScore   float64             `json:"reliability_score"` // in [0,1]
	VerificationStatus VerificationStatus  `json:"verification_status"`
	DOMExtraction      *DOMExtractionSpec  `json:"dom_extraction,omitempty"`
	RefreshConfig      *RefreshConfig      `json:"refresh_config,omitempty"`
}

// SkillManifest is the reproducible, parametrized set of HTTP endpoints
// with schemas and auth hooks that can be replayed without a browser.
type SkillManifest struct {
	SkillID         string         `json:"skill_id"`
	Version         string         `json:"version"` // content hash of stable fields
	SchemaVersion   int            `json:"schema_version"`
	Name            string         `json:"name"`
	IntentSignature string         `json:"intent_signature"`
	Domain          string         `json:"domain"`
	Description     string         `json:"description"`
	OwnerType       string         `json:"owner_type"`
	ExecutionType   ExecutionType  `json:"execution_type"`
	Endpoints       []SkillEndpoint `json:"endpoints"`
	Lifecycle       SkillLifecycle `json:"lifecycle"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DiscoveryCost   *DiscoveryCost `json:"discovery_cost,omitempty"`
}

// EndpointByID returns the endpoint with the given id, or nil.
func (s *SkillManifest) EndpointByID(id string) *SkillEndpoint {
	for i := range s.Endpoints {
		if s.Endpoints[i].EndpointID == id {
			return &s.Endpoints[i]
		}
	}
	return nil
}

// AverageReliability is the mean ReliabilityScore across endpoints, or 0.5
// when the skill has none (matching C13's composite-score default).
func (s *SkillManifest) AverageReliability() float64 {
	if len(s.Endpoints) == 0 {
		return 0.5
	}
	var sum float64
	for _, e := range s.Endpoints {
		sum += e.ReliabilityScore
	}
	return sum / float64(len(s.Endpoints))
}

// VerificationBonus is 1.0 if all endpoints verified, 0.5 if some, else 0.
func (s *SkillManifest) VerificationBonus() float64 {
	if len(s.Endpoints) == 0 {
		return 0
	}
	verified, any := 0, false
	for _, e := range s.Endpoints {
		if e.VerificationStatus == VerificationVerified {
			verified++
			any = true
		}
	}
	switch {
	case verified == len(s.Endpoints):
		return 1.0
	case any:
		return 0.5
	default:
		return 0
	}
}
