package orchestrator

import "time"

// ConfidenceThreshold is the minimum composite score a marketplace
// candidate needs to enter the candidate race, per spec.md §4.11.
const ConfidenceThreshold = 0.3

// CompositeScore combines a candidate's embedding match against a skill's
// own reliability, freshness, and verification signals, per spec.md §4.11's
// weighting: 0.40 embedding + 0.30 avg reliability + 0.15 freshness +
// 0.15 verification bonus.
func CompositeScore(embeddingScore float64, skill *skillSummary) float64 {
	return 0.40*embeddingScore +
		0.30*skill.avgReliability +
		0.15*freshnessScore(skill.updatedAt) +
		0.15*skill.verificationBonus
}

// freshnessScore decays toward 0 as a skill ages, as 1/(1 + days/30): 0.5
// at 30 days, about 0.33 at 60 days, per spec.md §4.11.
func freshnessScore(updatedAt time.Time) float64 {
	if updatedAt.IsZero() {
		return 0
	}
	daysSinceUpdate := time.Since(updatedAt).Hours() / 24
	if daysSinceUpdate < 0 {
		daysSinceUpdate = 0
	}
	return 1 / (1 + daysSinceUpdate/30)
}

// endpointRank heuristically orders a learned skill's endpoints for the
// post-capture auto-execute decision (spec.md §4.11 step 6). The spec names
// the decision thresholds (top score >= 15, beats runner-up by >= 3) but not
// the scoring formula itself; this mirrors C11's verification signals and
// C10's reliability scoring on a 0-25 scale so those thresholds are
// meaningful. Recorded as an Open Question decision in DESIGN.md.
func endpointRank(reliabilityScore float64, hasResponseSchema bool, verified bool, isGET bool) float64 {
	score := reliabilityScore * 10
	if hasResponseSchema {
		score += 5
	}
	if verified {
		score += 5
	}
	if isGET {
		score += 5
	}
	return score
}
