package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// ErrCaptureInFlight is returned when a live capture is requested for a
// domain that already has one running, per spec.md §7's CaptureInFlight
// kind.
var ErrCaptureInFlight = errors.New("capture already in flight for this domain")

// ErrCaptureRequiresURL is returned when live capture is reached (route
// cache, disk cache, and marketplace all missed) without a context URL to
// navigate to.
var ErrCaptureRequiresURL = errors.New("live capture requires context.url")

// ScriptedAction is one browser action performed during a live capture, per
// spec.md §6's act() contract.
type ScriptedAction struct {
	Kind   string // click, type, press, select
	Ref    string
	Text   string
	Key    string
	Values []string
}

// CaptureContext carries the live-capture inputs an agent supplies alongside
// an intent.
type CaptureContext struct {
	URL     string
	Actions []ScriptedAction
}

// ResolveRequest is resolveAndExecute's input, per spec.md §4.11.
type ResolveRequest struct {
	Intent       string
	Params       map[string]any
	Context      *CaptureContext
	EndpointID   string
	ForceCapture bool
}

// EndpointChoice is one ranked candidate endpoint offered back to the agent
// when the post-capture decision defers instead of auto-executing.
type EndpointChoice struct {
	EndpointID        string
	Score             float64
	HasResponseSchema bool
}

// ResolveResult is resolveAndExecute's output.
type ResolveResult struct {
	Result             any
	Trace              *models.ExecutionTrace
	Skill              *models.SkillManifest
	Source             models.OrchestrationSource
	Timing             models.OrchestrationTiming
	AvailableEndpoints []EndpointChoice
	// AuthRequired is set when a live capture observed no usable auth state,
	// per spec.md §7's AuthRequired kind: conveyed in a 200 payload rather
	// than an HTTP error so the caller can react (e.g. drive /v1/auth/login).
	AuthRequired bool
}

// SkillStore is C13's view of skill persistence: locally learned skills
// keyed by domain or id.
type SkillStore interface {
	LoadForDomain(domain string) (*models.SkillManifest, bool, error)
	LoadByID(skillID string) (*models.SkillManifest, bool, error)
	Save(skill *models.SkillManifest) error
}

// MarketplaceCandidate is the metadata a marketplace search result carries
// before the full skill is fetched.
type MarketplaceCandidate struct {
	SkillID string
	Domain  string
}

// MarketplaceClient is spec.md §6's marketplace HTTP API, narrowed to what
// C13 calls.
type MarketplaceClient interface {
	SearchDomain(ctx context.Context, domain, intent string, k int) ([]MarketplaceCandidate, error)
	SearchGlobal(ctx context.Context, intent string, k int) ([]MarketplaceCandidate, error)
	GetSkill(ctx context.Context, skillID string) (*models.SkillManifest, error)
}

// Executor runs one skill endpoint and reports its trace, C9's replay path
// (or a DOM-extraction path) seen from C13.
type Executor interface {
	Execute(ctx context.Context, skill *models.SkillManifest, endpointID string, params map[string]any) (result any, trace *models.ExecutionTrace, err error)
}

// CaptureOutcome is what a live browser capture returns.
type CaptureOutcome struct {
	Trace        *models.ExecutionTrace
	Result       any
	LearnedSkill *models.SkillManifest
	AuthRequired bool
}

// BrowserCapturer drives a live capture session, per spec.md §6's browser
// control capability.
type BrowserCapturer interface {
	Capture(ctx context.Context, url string, actions []ScriptedAction) (*CaptureOutcome, error)
}

// IntentScorer rates how well a candidate skill matches a requested intent;
// satisfied by *similarity.Scorer.
type IntentScorer interface {
	Score(ctx context.Context, intent string, candidate *models.SkillManifest) float64
}

// TelemetrySink receives fire-and-forget performance records, per spec.md
// §4.11 step 7.
type TelemetrySink interface {
	EmitTiming(timing models.OrchestrationTiming)
}

// skillSummary is the subset of a skill's signals CompositeScore needs,
// kept separate from models.SkillManifest so scoring stays unit-testable
// without constructing full manifests.
type skillSummary struct {
	avgReliability    float64
	updatedAt         time.Time
	verificationBonus float64
}

func newSkillSummary(skill *models.SkillManifest) *skillSummary {
	return &skillSummary{
		avgReliability:    skill.AverageReliability(),
		updatedAt:         skill.UpdatedAt,
		verificationBonus: skill.VerificationBonus(),
	}
}
