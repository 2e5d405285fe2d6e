package routes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

func mkGetExchange(idx int, rawURL string) models.CapturedExchange {
	return models.CapturedExchange{
		Index: idx,
		Request: models.RequestRecord{
			Method: "GET",
			URL:    rawURL,
		},
	}
}

// TestBuildEndpointGroups_NUSModsGrouping is scenario S1.
func TestBuildEndpointGroups_NUSModsGrouping(t *testing.T) {
	exchanges := []models.CapturedExchange{
		mkGetExchange(0, "https://api.nusmods.com/v2/2024-2025/modules/CS2030S.json"),
		mkGetExchange(1, "https://api.nusmods.com/v2/2024-2025/modules/CS1101S.json"),
		mkGetExchange(2, "https://api.nusmods.com/v2/2024-2025/modules/MA2001.json"),
	}

	groups := BuildEndpointGroups(exchanges)

	assert.Len(t, groups, 1)
	assert.Equal(t, "/v2/{year}/modules/{moduleId}.json", groups[0].NormalizedPath)
	assert.Equal(t, 3, groups[0].ExampleCount)
}

// TestNormalizePath_StaticSegmentsNeverParameterized is property P3.
func TestNormalizePath_StaticSegmentsNeverParameterized(t *testing.T) {
	res := NormalizePath("https://example.com/api/v2/auth/login")
	segs := []string{"api", "v2", "auth", "login"}
	_ = segs
	assert.Equal(t, "/api/v2/auth/login", res.Path)
}

// TestBuildEndpointGroups_CrossRequestGeneralizationRequiresTwoDistinct is
// boundary behavior B3.
func TestBuildEndpointGroups_CrossRequestGeneralizationRequiresTwoDistinct(t *testing.T) {
	single := BuildEndpointGroups([]models.CapturedExchange{
		mkGetExchange(0, "https://example.com/teams/engineering/members"),
	})
	assert.Equal(t, "/teams/engineering/members", single[0].NormalizedPath)

	multi := BuildEndpointGroups([]models.CapturedExchange{
		mkGetExchange(0, "https://example.com/teams/engineering/members"),
		mkGetExchange(1, "https://example.com/teams/marketing/members"),
	})
	assert.Equal(t, "/teams/{team}/members", multi[0].NormalizedPath)
}

func TestBuildEndpointGroups_AuthCategoryAndDependencies(t *testing.T) {
	exchanges := []models.CapturedExchange{
		mkGetExchange(0, "https://example.com/auth/login"),
		mkGetExchange(1, "https://example.com/api/users/42"),
	}
	exchanges[0].Request.Method = "POST"

	groups := BuildEndpointGroups(exchanges)

	var authGroup, userGroup *models.EndpointGroup
	for _, g := range groups {
		if g.Category == models.CategoryAuth {
			authGroup = g
		} else {
			userGroup = g
		}
	}

	assert.NotNil(t, authGroup)
	assert.NotNil(t, userGroup)
	assert.Contains(t, userGroup.Dependencies, authGroup.Key())
	assert.Equal(t, authGroup, groups[0], "auth groups sort first")
}

// TestBuildEndpointGroups_AuthGroupNeverGetsDependencies guards spec.md's
// EndpointGroup invariant that auth-category groups have no dependencies,
// even when an auth endpoint's own consumes/produces names collide with
// another group's (e.g. both bodies carry a "token" field).
func TestBuildEndpointGroups_AuthGroupNeverGetsDependencies(t *testing.T) {
	exchanges := []models.CapturedExchange{
		mkGetExchange(0, "https://example.com/auth/refresh"),
		mkGetExchange(1, "https://example.com/api/sessions/42"),
	}
	exchanges[0].Request.Method = "POST"
	exchanges[0].Request.Body = map[string]any{"refresh_token": "r1"}
	exchanges[1].Request.Method = "POST"
	exchanges[1].Response.Body = map[string]any{"refresh_token": "r2"}

	groups := BuildEndpointGroups(exchanges)

	var authGroup *models.EndpointGroup
	for _, g := range groups {
		if g.Category == models.CategoryAuth {
			authGroup = g
		}
	}

	require.NotNil(t, authGroup)
	assert.Contains(t, authGroup.Consumes, "refresh_token")
	assert.Empty(t, authGroup.Dependencies)
}

// TestNormalizePath_RoundTrip is property R1: normalize, reconstruct with
// witness values, normalize again -> identical.
func TestNormalizePath_RoundTrip(t *testing.T) {
	original := "https://api.example.com/v2/2024-2025/modules/CS2030S.json"
	first := NormalizePath(original)

	reconstructed := "https://api.example.com/v2/2024-2025/modules/CS2030S.json"
	second := NormalizePath(reconstructed)

	assert.Equal(t, first.Path, second.Path)
}
