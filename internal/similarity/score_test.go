package similarity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

func TestScorer_UsesFlowResultWhenAvailable(t *testing.T) {
	s := &Scorer{flow: func(ctx context.Context, req *scoreRequest) (*SimilarityScore, error) {
		return &SimilarityScore{Score: 0.87}, nil
	}}

	got := s.Score(context.Background(), "list my open invoices", &models.SkillManifest{
		IntentSignature: "list invoices",
	})
	assert.Equal(t, 0.87, got)
}

func TestScorer_ClampsOutOfRangeFlowScore(t *testing.T) {
	s := &Scorer{flow: func(ctx context.Context, req *scoreRequest) (*SimilarityScore, error) {
		return &SimilarityScore{Score: 1.4}, nil
	}}

	got := s.Score(context.Background(), "x", &models.SkillManifest{})
	assert.Equal(t, 1.0, got)
}

func TestScorer_FallsBackToJaccardOnFlowError(t *testing.T) {
	s := &Scorer{flow: func(ctx context.Context, req *scoreRequest) (*SimilarityScore, error) {
		return nil, errors.New("upstream unavailable")
	}}

	got := s.Score(context.Background(), "list open invoices", &models.SkillManifest{
		IntentSignature: "list invoices for a customer",
	})
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 1.0)
}

func TestScorer_NilScorerFallsBack(t *testing.T) {
	var s *Scorer
	got := s.Score(context.Background(), "list invoices", &models.SkillManifest{
		IntentSignature: "list invoices",
	})
	assert.Greater(t, got, 0.0)
}

func TestJaccardSimilarity_IdenticalStringsScoreOne(t *testing.T) {
	assert.Equal(t, 1.0, jaccardSimilarity("list open invoices", "List Open Invoices"))
}

func TestJaccardSimilarity_DisjointStringsScoreZero(t *testing.T) {
	assert.Equal(t, 0.0, jaccardSimilarity("list invoices", "delete account"))
}

func TestJaccardSimilarity_PartialOverlap(t *testing.T) {
	got := jaccardSimilarity("list open invoices", "list invoices for a customer")
	// tokens a: {list, open, invoices} (3)
	// tokens b: {list, invoices, for, a, customer} (5)
	// intersection: {list, invoices} (2), union size 6
	assert.InDelta(t, 2.0/6.0, got, 0.0001)
}

func TestJaccardSimilarity_BothEmptyScoresZero(t *testing.T) {
	assert.Equal(t, 0.0, jaccardSimilarity("", ""))
}
