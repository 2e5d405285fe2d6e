package skill

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

func TestVerifyEndpoints_SkipsTemplatedEndpoints(t *testing.T) {
	manifest := &models.SkillManifest{
		Endpoints: []models.SkillEndpoint{
			{EndpointID: "get-items-id", Method: "GET", URLTemplate: "/items/{id}"},
		},
	}

	probeCalled := false
	probe := func(url string, h map[string]string) (int, []byte, error) {
		probeCalled = true
		return 200, nil, nil
	}

	verified, results := VerifyEndpoints(manifest, "https://api.example.com", nil, nil, probe)

	assert.False(t, probeCalled, "templated endpoints are not probed")
	assert.Len(t, verified.Endpoints, 1, "templated endpoints are kept, not pruned")
	assert.Equal(t, models.VerificationUnverified, verified.Endpoints[0].VerificationStatus)
	assert.Empty(t, results)
}

func TestVerifyEndpoints_RemovesFailingConcreteEndpoint(t *testing.T) {
	manifest := &models.SkillManifest{
		Endpoints: []models.SkillEndpoint{
			{EndpointID: "get-health", Method: "GET", URLTemplate: "/health"},
			{EndpointID: "get-status", Method: "GET", URLTemplate: "/status"},
		},
	}

	probe := func(url string, h map[string]string) (int, []byte, error) {
		if url == "https://api.example.com/health" {
			return 200, []byte(`{}`), nil
		}
		return 500, nil, nil
	}

	verified, results := VerifyEndpoints(manifest, "https://api.example.com", nil, nil, probe)

	assert.Len(t, verified.Endpoints, 1)
	assert.Equal(t, "get-health", verified.Endpoints[0].EndpointID)
	assert.Equal(t, models.VerificationVerified, verified.Endpoints[0].VerificationStatus)
	assert.Len(t, results, 2)
}

func TestVerifyEndpoints_TransportErrorCountsAsFailure(t *testing.T) {
	manifest := &models.SkillManifest{
		Endpoints: []models.SkillEndpoint{
			{EndpointID: "get-items", Method: "GET", URLTemplate: "/items"},
		},
	}

	probe := func(url string, h map[string]string) (int, []byte, error) {
		return 0, nil, errors.New("connection refused")
	}

	verified, results := VerifyEndpoints(manifest, "https://api.example.com", nil, nil, probe)

	assert.Empty(t, verified.Endpoints)
	assert.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestVerifyEndpoints_NonGETSkipped(t *testing.T) {
	manifest := &models.SkillManifest{
		Endpoints: []models.SkillEndpoint{
			{EndpointID: "post-items", Method: "POST", URLTemplate: "/items"},
		},
	}
	probeCalled := false
	probe := func(url string, h map[string]string) (int, []byte, error) {
		probeCalled = true
		return 200, nil, nil
	}

	verified, _ := VerifyEndpoints(manifest, "https://api.example.com", nil, nil, probe)

	assert.False(t, probeCalled)
	assert.Len(t, verified.Endpoints, 1)
}

// TestVerifyEndpoints_SchemaMismatchIsRecordedNotPruned guards the optional
// nature of response-schema verification: a body that doesn't match the
// endpoint's inferred ResponseSchema is flagged on the ProbeResult but the
// endpoint still survives verification.
func TestVerifyEndpoints_SchemaMismatchIsRecordedNotPruned(t *testing.T) {
	manifest := &models.SkillManifest{
		Endpoints: []models.SkillEndpoint{
			{
				EndpointID:     "get-profile",
				Method:         "GET",
				URLTemplate:    "/profile",
				ResponseSchema: map[string]string{"id": "string", "age": "number"},
			},
		},
	}

	probe := func(url string, h map[string]string) (int, []byte, error) {
		return 200, []byte(`{"id": "u1", "age": "not-a-number"}`), nil
	}

	verified, results := VerifyEndpoints(manifest, "https://api.example.com", nil, nil, probe)

	require.Len(t, verified.Endpoints, 1, "schema mismatch does not prune the endpoint")
	assert.Equal(t, models.VerificationVerified, verified.Endpoints[0].VerificationStatus)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].SchemaValid)
	assert.False(t, *results[0].SchemaValid)
	assert.NotEmpty(t, results[0].SchemaErrors)
}

// TestVerifyEndpoints_SchemaMatchIsRecordedValid is the matching-body
// counterpart: a conforming body marks SchemaValid true.
func TestVerifyEndpoints_SchemaMatchIsRecordedValid(t *testing.T) {
	manifest := &models.SkillManifest{
		Endpoints: []models.SkillEndpoint{
			{
				EndpointID:     "get-profile",
				Method:         "GET",
				URLTemplate:    "/profile",
				ResponseSchema: map[string]string{"id": "string", "age": "number"},
			},
		},
	}

	probe := func(url string, h map[string]string) (int, []byte, error) {
		return 200, []byte(`{"id": "u1", "age": 42}`), nil
	}

	_, results := VerifyEndpoints(manifest, "https://api.example.com", nil, nil, probe)

	require.Len(t, results, 1)
	require.NotNil(t, results[0].SchemaValid)
	assert.True(t, *results[0].SchemaValid)
	assert.Empty(t, results[0].SchemaErrors)
}
