package correlation

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

func mkExchange(idx int, method, rawURL, respBody string) models.CapturedExchange {
	return models.CapturedExchange{
		Index: idx,
		Request: models.RequestRecord{
			Method:      method,
			URL:         rawURL,
			Headers:     models.NewHeaderMap(),
			QueryParams: map[string]string{},
			Cookies:     map[string]string{},
		},
		Response: models.ResponseRecord{
			Status:  200,
			Headers: models.NewHeaderMap(),
			Cookies: map[string]string{},
			BodyRaw: respBody,
		},
	}
}

// TestInferCorrelationGraphV1_HNChain is scenario S2, substituting an
// 8-distinct-digit story id for the spec's literal repeated-digit example
// ("11111111"), which would fail eligible()'s <=3-distinct-character
// exclusion and so can never actually be linked.
func TestInferCorrelationGraphV1_HNChain(t *testing.T) {
	exchanges := []models.CapturedExchange{
		mkExchange(0, "GET", "https://hn.example.com/v0/topstories.json", `[12345678, 99999999]`),
		mkExchange(1, "GET", "https://hn.example.com/v0/item/12345678.json", `{"by":"alice_longname"}`),
		mkExchange(2, "GET", "https://hn.example.com/v0/user/alice_longname.json", `{}`),
	}

	graph := InferCorrelationGraphV1(exchanges)

	var foundIDLink, foundUserLink bool
	for _, l := range graph.Links {
		if l.SourceRequestIndex == 0 && l.TargetRequestIndex == 1 && l.TargetLocation == models.LocationURL {
			foundIDLink = true
		}
		if l.SourceRequestIndex == 1 && l.TargetRequestIndex == 2 && l.TargetLocation == models.LocationURL {
			foundUserLink = true
		}
	}
	assert.True(t, foundIDLink, "expected a/b id link")
	assert.True(t, foundUserLink, "expected b/c user link")
}

// TestInferCorrelationGraphV1_Invariants is property P4.
func TestInferCorrelationGraphV1_Invariants(t *testing.T) {
	exchanges := []models.CapturedExchange{
		mkExchange(0, "GET", "https://example.com/start", `{"token":"abcdef1234567890"}`),
		mkExchange(1, "GET", "https://example.com/data?token=abcdef1234567890", `{}`),
	}
	exchanges[1].Request.QueryParams["token"] = "abcdef1234567890"

	graph := InferCorrelationGraphV1(exchanges)
	assert.NotEmpty(t, graph.Links)

	for _, l := range graph.Links {
		assert.Greater(t, l.TargetRequestIndex, l.SourceRequestIndex)

		sum := sha256.Sum256([]byte("abcdef1234567890"))
		want := hex.EncodeToString(sum[:])
		assert.Equal(t, want, l.ValueHash)
	}
}

// TestEligible_BoundaryCharacterCount is boundary behavior B1.
func TestEligible_BoundaryCharacterCount(t *testing.T) {
	assert.False(t, eligible("abcdefg"), "7 chars never linked")
	assert.True(t, eligible("abcdefgh"), "8 chars may be linked")
}
