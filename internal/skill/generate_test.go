package skill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

func mkSet(groups ...*models.EndpointGroup) *models.AnalyzedExchangeSet {
	return &models.AnalyzedExchangeSet{
		EndpointGroups: groups,
		AuthMethod:     models.AuthMethodBearer,
		BaseURLs:       []string{"https://api.example.com"},
		Domains:        []string{"api.example.com"},
	}
}

func mkGroup(method, path string) *models.EndpointGroup {
	return &models.EndpointGroup{
		Method:             method,
		NormalizedPath:     path,
		RequestBodySchema:  map[string]string{},
		ResponseBodySchema: map[string]string{"id": "string"},
	}
}

// TestGenerateSkill_VersionHashDeterministic is round-trip law R2: the same
// exchange set always yields the same version hash.
func TestGenerateSkill_VersionHashDeterministic(t *testing.T) {
	set := mkSet(mkGroup("GET", "/items/{id}"), mkGroup("POST", "/items"))

	a := GenerateSkill(set, "skill-1", "items", "manage items")
	b := GenerateSkill(set, "skill-1", "items", "manage items")

	assert.Equal(t, a.Version, b.Version)
	assert.NotEmpty(t, a.Version)
}

func TestGenerateSkill_VersionHashChangesWithEndpoints(t *testing.T) {
	setA := mkSet(mkGroup("GET", "/items/{id}"))
	setB := mkSet(mkGroup("GET", "/items/{id}"), mkGroup("DELETE", "/items/{id}"))

	a := GenerateSkill(setA, "skill-1", "items", "manage items")
	b := GenerateSkill(setB, "skill-1", "items", "manage items")

	assert.NotEqual(t, a.Version, b.Version)
}

// TestManifestDocSchema_EmitsEndpointsField guards the JSON-schema
// reflection used to publish SkillManifest field documentation: the
// "endpoints" property must be present and describe an array.
func TestManifestDocSchema_EmitsEndpointsField(t *testing.T) {
	doc, err := ManifestDocSchema()

	assert.NoError(t, err)
	assert.Contains(t, string(doc), `"endpoints"`)
	assert.Contains(t, string(doc), `"array"`)
}

func TestMergeSkill_UnionsAndCounts(t *testing.T) {
	existing := GenerateSkill(mkSet(mkGroup("GET", "/items/{id}")), "skill-1", "items", "manage items")
	incoming := GenerateSkill(mkSet(mkGroup("GET", "/items/{id}"), mkGroup("POST", "/items")), "skill-1", "items", "manage items")

	merged, diff := MergeSkill(existing, incoming)

	assert.Len(t, merged.Endpoints, 2)
	assert.Equal(t, "added=1 changed=0 removed=0", diff)
}

func TestMergeSkill_PrefersVerifiedOverUnverified(t *testing.T) {
	existing := GenerateSkill(mkSet(mkGroup("GET", "/items/{id}")), "skill-1", "items", "manage items")

	incoming := *existing
	incoming.Endpoints = append([]models.SkillEndpoint(nil), existing.Endpoints...)
	incoming.Endpoints[0].VerificationStatus = models.VerificationVerified
	incoming.Endpoints[0].ResponseSchema = map[string]string{"id": "string", "name": "string"}

	merged, diff := MergeSkill(existing, &incoming)

	assert.Equal(t, models.VerificationVerified, merged.Endpoints[0].VerificationStatus)
	assert.Equal(t, "added=0 changed=1 removed=0", diff)
}
