package orchestrator

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// mergeCandidates deduplicates domain and global search results by skill
// id, domain-first, per spec.md §4.11 step 3.
func mergeCandidates(domainHits, globalHits []MarketplaceCandidate) []MarketplaceCandidate {
	seen := make(map[string]struct{}, len(domainHits)+len(globalHits))
	merged := make([]MarketplaceCandidate, 0, len(domainHits)+len(globalHits))
	for _, c := range domainHits {
		if _, ok := seen[c.SkillID]; ok {
			continue
		}
		seen[c.SkillID] = struct{}{}
		merged = append(merged, c)
	}
	for _, c := range globalHits {
		if _, ok := seen[c.SkillID]; ok {
			continue
		}
		seen[c.SkillID] = struct{}{}
		merged = append(merged, c)
	}
	return merged
}

// shareRegistrableDomain reports whether a and b resolve to the same
// effective-TLD-plus-one label, e.g. "api.example.com" and "www.example.com"
// both reduce to "example.com". Bare hostnames without a public suffix
// (localhost, single-label test domains) compare equal only when identical.
func shareRegistrableDomain(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ra, errA := publicsuffix.EffectiveTLDPlusOne(a)
	rb, errB := publicsuffix.EffectiveTLDPlusOne(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return strings.EqualFold(ra, rb)
}

// candidateUsable applies spec.md §4.11 step 3's drop rules: the skill must
// be active, have at least one on-domain endpoint, and carry either an
// API-shaped endpoint (response schema over an "/api/" path) or a
// dom_extraction endpoint.
func candidateUsable(skill *models.SkillManifest, targetDomain string) bool {
	if skill.Lifecycle != models.LifecycleActive {
		return false
	}
	if targetDomain != "" && !shareRegistrableDomain(skill.Domain, targetDomain) {
		return false
	}

	anyOnDomain := false
	anyAPIShaped := false
	anyDOMExtraction := false
	for _, e := range skill.Endpoints {
		if endpointOnDomain(e, skill.Domain) {
			anyOnDomain = true
		}
		if len(e.ResponseSchema) > 0 && strings.Contains(e.URLTemplate, "/api/") {
			anyAPIShaped = true
		}
		if e.DOMExtraction != nil {
			anyDOMExtraction = true
		}
	}
	if !anyOnDomain {
		return false
	}
	return anyAPIShaped || anyDOMExtraction
}

// endpointOnDomain reports whether e's URL template targets domain. Relative
// templates (no scheme/host) are always considered on-domain.
func endpointOnDomain(e models.SkillEndpoint, domain string) bool {
	u, err := url.Parse(e.URLTemplate)
	if err != nil || u.Host == "" {
		return true
	}
	return shareRegistrableDomain(u.Hostname(), domain)
}
