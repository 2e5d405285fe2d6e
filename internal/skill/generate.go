// Package skill builds, merges, and verifies SkillManifests — the
// reproducible, parametrized HTTP endpoint set that lets an agent replay
// an API without a browser. Deterministic byte-for-byte serialization
// (relying on encoding/json's sorted map-key output) grounds the version
// hash, matching the teacher's own preference for content hashing over
// opaque incrementing ids (internal/models's exchange/response hashing).
package skill

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// GenerateSkill builds a SkillManifest from a sealed AnalyzedExchangeSet,
// per spec.md §4.9. The version hash is deterministic given the same
// exchange set.
func GenerateSkill(set *models.AnalyzedExchangeSet, skillID, name, intentSignature string) *models.SkillManifest {
	endpoints := make([]models.SkillEndpoint, 0, len(set.EndpointGroups))
	for _, g := range set.EndpointGroups {
		endpoints = append(endpoints, fromGroup(g))
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Method != endpoints[j].Method {
			return endpoints[i].Method < endpoints[j].Method
		}
		return endpoints[i].URLTemplate < endpoints[j].URLTemplate
	})

	baseURLs := append([]string(nil), set.BaseURLs...)
	sort.Strings(baseURLs)

	now := time.Now()
	manifest := &models.SkillManifest{
		SkillID:         skillID,
		SchemaVersion:   1,
		Name:            name,
		IntentSignature: intentSignature,
		Domain:          firstDomain(set.Domains),
		ExecutionType:   models.ExecutionTypeAPI,
		Endpoints:       endpoints,
		Lifecycle:       models.LifecycleDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	manifest.Version = versionHash(endpoints, set.AuthMethod, baseURLs)
	return manifest
}

func firstDomain(domains []string) string {
	if len(domains) == 0 {
		return ""
	}
	return domains[0]
}

func fromGroup(g *models.EndpointGroup) models.SkillEndpoint {
	return models.SkillEndpoint{
		EndpointID:         endpointID(g.Method, g.NormalizedPath),
		Method:             g.Method,
		URLTemplate:        g.NormalizedPath,
		PathParams:         append([]models.PathParamInfo(nil), g.PathParams...),
		QueryParams:        append([]models.QueryParamInfo(nil), g.QueryParams...),
		RequestBodySchema:  cloneSchema(g.RequestBodySchema),
		ResponseSchema:     cloneSchema(g.ResponseBodySchema),
		Produces:           append([]string(nil), g.Produces...),
		Consumes:           append([]string(nil), g.Consumes...),
		ReliabilityScore:   0.5,
		VerificationStatus: models.VerificationUnverified,
	}
}

func endpointID(method, normalizedPath string) string {
	slug := strings.ToLower(strings.Trim(normalizedPath, "/"))
	slug = strings.NewReplacer("/", "-", "{", "", "}", "").Replace(slug)
	if slug == "" {
		slug = "root"
	}
	return strings.ToLower(method) + "-" + slug
}

func cloneSchema(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// canonicalEndpoint is the stable subset of a SkillEndpoint that feeds the
// version hash — excludes ReliabilityScore/VerificationStatus, which
// change as the skill is used without representing a different API.
type canonicalEndpoint struct {
	Method            string
	URLTemplate       string
	PathParams        []models.PathParamInfo
	QueryParams       []models.QueryParamInfo
	RequestBodySchema map[string]string
	ResponseSchema    map[string]string
}

func versionHash(endpoints []models.SkillEndpoint, authMethod models.AuthMethod, baseURLs []string) string {
	canon := make([]canonicalEndpoint, len(endpoints))
	for i, e := range endpoints {
		canon[i] = canonicalEndpoint{
			Method:            e.Method,
			URLTemplate:       e.URLTemplate,
			PathParams:        e.PathParams,
			QueryParams:       e.QueryParams,
			RequestBodySchema: e.RequestBodySchema,
			ResponseSchema:    e.ResponseSchema,
		}
	}
	payload := struct {
		Endpoints  []canonicalEndpoint
		AuthMethod models.AuthMethod
		BaseURLs   []string
	}{canon, authMethod, baseURLs}

	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ManifestDocSchema reflects models.SkillManifest into a JSON schema
// document, for publishing alongside a skill store as machine-readable
// field documentation (consumed by tooling, not by VerifyEndpoints, which
// validates live bodies against each endpoint's own inferred
// ResponseSchema instead).
func ManifestDocSchema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(&models.SkillManifest{})
	return json.MarshalIndent(schema, "", "  ")
}

// MergeSkill unions incoming into existing per spec.md §4.9's merge
// semantics, returning the merged manifest and a diff summary string.
func MergeSkill(existing, incoming *models.SkillManifest) (*models.SkillManifest, string) {
	merged := *existing
	merged.Endpoints = nil
	merged.UpdatedAt = time.Now()

	byKey := make(map[string]models.SkillEndpoint, len(existing.Endpoints))
	order := make([]string, 0, len(existing.Endpoints)+len(incoming.Endpoints))
	for _, e := range existing.Endpoints {
		key := e.Method + " " + e.URLTemplate
		byKey[key] = e
		order = append(order, key)
	}

	added, changed := 0, 0
	for _, incomingEP := range incoming.Endpoints {
		key := incomingEP.Method + " " + incomingEP.URLTemplate
		existingEP, ok := byKey[key]
		if !ok {
			byKey[key] = incomingEP
			order = append(order, key)
			added++
			continue
		}
		mergedEP := mergeEndpoint(existingEP, incomingEP)
		if !endpointEqual(mergedEP, existingEP) {
			changed++
		}
		byKey[key] = mergedEP
	}

	merged.Endpoints = make([]models.SkillEndpoint, 0, len(order))
	for _, key := range order {
		merged.Endpoints = append(merged.Endpoints, byKey[key])
	}
	sort.Slice(merged.Endpoints, func(i, j int) bool {
		if merged.Endpoints[i].Method != merged.Endpoints[j].Method {
			return merged.Endpoints[i].Method < merged.Endpoints[j].Method
		}
		return merged.Endpoints[i].URLTemplate < merged.Endpoints[j].URLTemplate
	})

	// AuthMethod lives on AnalyzedExchangeSet, not SkillManifest, so a
	// re-merge has no new auth signal to fold in here.
	baseURLs := append([]string(nil), existing.Domain, incoming.Domain)
	merged.Version = versionHash(merged.Endpoints, models.AuthMethodNone, baseURLs)

	// Merge only ever unions endpoints (spec.md §4.9) — nothing is dropped
	// here. Removal happens separately, when C11 prunes a failing endpoint.
	diff := fmt.Sprintf("added=%d changed=%d removed=0", added, changed)
	return &merged, diff
}

// mergeEndpoint applies spec.md §4.9's per-endpoint merge rules: prefer
// verified examples, keep the first source's param examples, union
// produces/consumes, take the max reliability score.
func mergeEndpoint(existing, incoming models.SkillEndpoint) models.SkillEndpoint {
	out := existing

	if existing.VerificationStatus != models.VerificationVerified && incoming.VerificationStatus == models.VerificationVerified {
		out.ResponseSchema = incoming.ResponseSchema
		out.RequestBodySchema = incoming.RequestBodySchema
		out.VerificationStatus = incoming.VerificationStatus
	}

	out.Produces = unionStrings(existing.Produces, incoming.Produces)
	out.Consumes = unionStrings(existing.Consumes, incoming.Consumes)

	if incoming.ReliabilityScore > existing.ReliabilityScore {
		out.ReliabilityScore = incoming.ReliabilityScore
	}

	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		seen[v] = true
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// endpointEqual reports whether two endpoint records are identical across
// method, URL template, request and response schemas, produces/consumes and
// reliability score; verification status and example params are not compared
// (used for diff's "changed" count, which is a broader comparison than the
// manifest version hash's stable subset).
func endpointEqual(a, b models.SkillEndpoint) bool {
	type comparable struct {
		Method            string
		URLTemplate       string
		RequestBodySchema map[string]string
		ResponseSchema    map[string]string
		Produces          []string
		Consumes          []string
		ReliabilityScore  float64
	}
	ab, _ := json.Marshal(comparable{a.Method, a.URLTemplate, a.RequestBodySchema, a.ResponseSchema, a.Produces, a.Consumes, a.ReliabilityScore})
	bb, _ := json.Marshal(comparable{b.Method, b.URLTemplate, b.RequestBodySchema, b.ResponseSchema, b.Produces, b.Consumes, b.ReliabilityScore})
	return string(ab) == string(bb)
}
