// Package similarity provides C13's embeddingScore feeder: a genkit flow
// that rates how well a marketplace candidate skill matches a requested
// intent, with a no-network fallback when the LLM call fails.
package similarity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// DefaultModel matches the teacher's genkit.WithDefaultModel wiring.
const DefaultModel = "googleai/gemini-2.5-flash"

// scoreRequest is the flow's input: intent text plus the candidate fields
// that describe what it does.
type scoreRequest struct {
	Intent          string `json:"intent"`
	IntentSignature string `json:"intent_signature"`
	Description     string `json:"description"`
}

// SimilarityScore is the flow's structured output.
type SimilarityScore struct {
	Score float64 `json:"score" jsonschema:"description=Similarity between intent and candidate in [0,1],minimum=0,maximum=1"`
}

type flowFunc func(ctx context.Context, req *scoreRequest) (*SimilarityScore, error)

// Scorer rates intent/candidate similarity, degrading to a lexical fallback
// when the underlying flow errors or is unset.
type Scorer struct {
	flow flowFunc
}

// NewScorer registers the semanticSimilarityFlow against g, calling
// modelName (or DefaultModel) for every invocation.
func NewScorer(g *genkit.Genkit, modelName string) *Scorer {
	if modelName == "" {
		modelName = DefaultModel
	}

	flow := genkit.DefineFlow(
		g,
		"semanticSimilarityFlow",
		func(ctx context.Context, req *scoreRequest) (*SimilarityScore, error) {
			prompt := buildSimilarityPrompt(req)
			result, _, err := genkit.GenerateData[SimilarityScore](
				ctx,
				g,
				ai.WithModelName(modelName),
				ai.WithPrompt(prompt),
			)
			if err != nil {
				return nil, fmt.Errorf("similarity LLM failed: %w", err)
			}
			return result, nil
		},
	)

	return &Scorer{flow: func(ctx context.Context, req *scoreRequest) (*SimilarityScore, error) {
		return flow.Run(ctx, req)
	}}
}

func buildSimilarityPrompt(req *scoreRequest) string {
	var b strings.Builder
	b.WriteString("Rate how well the following API skill matches the requested intent.\n")
	b.WriteString("Intent: " + req.Intent + "\n")
	b.WriteString("Candidate intent signature: " + req.IntentSignature + "\n")
	b.WriteString("Candidate description: " + req.Description + "\n")
	b.WriteString("Respond with a single similarity score between 0 and 1.")
	return b.String()
}

// Score returns a [0,1] match score for candidate against intent. On any
// flow error (including an unconfigured Scorer) it falls back to a Jaccard
// token-overlap score over intent and the candidate's intent signature and
// description, so the caller always has a usable number.
func (s *Scorer) Score(ctx context.Context, intent string, candidate *models.SkillManifest) float64 {
	if s != nil && s.flow != nil {
		result, err := s.flow(ctx, &scoreRequest{
			Intent:          intent,
			IntentSignature: candidate.IntentSignature,
			Description:     candidate.Description,
		})
		if err == nil && result != nil {
			return clamp01(result.Score)
		}
	}
	return jaccardSimilarity(intent, candidate.IntentSignature+" "+candidate.Description)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// jaccardSimilarity tokenizes both strings on non-alphanumeric runs,
// lowercases, and returns |intersection|/|union| over the resulting token
// sets. Stdlib-only and deliberately so: this is the no-network degrade path
// and must never itself depend on an external service.
func jaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	union := make(map[string]struct{}, len(setA)+len(setB))
	intersection := 0
	for tok := range setA {
		union[tok] = struct{}{}
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	for tok := range setB {
		union[tok] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	sort.Strings(fields)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}
