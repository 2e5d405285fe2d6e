package headers

import (
	"sort"
	"strings"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

const commonHeaderThreshold = 0.8

// excludedFromProfile is the set of categories BuildHeaderProfile and
// resolveHeaders's override pass never surface, per spec.md §4.1.
func excludedFromProfile(cat HeaderCategory) bool {
	switch cat {
	case CategoryProtocol, CategoryBrowser, CategoryCookie, CategoryAuth:
		return true
	default:
		return false
	}
}

// BuildHeaderProfile is a pure function of exchanges: for domain, it
// computes commonHeaders (the most frequent value of each eligible header
// name, included only when its frequency is >= 80% of the domain's request
// count) and endpointOverrides (values that differ from the common value at
// a specific "METHOD path").
func BuildHeaderProfile(exchanges []models.CapturedExchange, domain string, hostOf func(url string) string, pathOf func(url string) string) *models.HeaderProfile {
	profile := models.NewHeaderProfile(domain)

	type valueCounts map[string]int
	nameValueCounts := make(map[string]valueCounts)
	requestCount := 0

	type endpointValues map[string]map[string]int // "METHOD path" -> name -> value -> count
	epCounts := make(map[string]map[string]map[string]int)

	for _, ex := range exchanges {
		if hostOf(ex.Request.URL) != domain {
			continue
		}
		requestCount++
		epKey := ex.Request.Method + " " + pathOf(ex.Request.URL)

		ex.Request.Headers.Each(func(name, value string) {
			cat := Classify(name)
			if excludedFromProfile(cat) {
				return
			}
			lower := strings.ToLower(name)
			if nameValueCounts[lower] == nil {
				nameValueCounts[lower] = make(valueCounts)
			}
			nameValueCounts[lower][value]++

			if epCounts[epKey] == nil {
				epCounts[epKey] = make(map[string]map[string]int)
			}
			if epCounts[epKey][lower] == nil {
				epCounts[epKey][lower] = make(map[string]int)
			}
			epCounts[epKey][lower][value]++
		})
	}

	profile.RequestCount = requestCount
	if requestCount == 0 {
		return profile
	}

	commonValue := make(map[string]string)
	for name, counts := range nameValueCounts {
		best, bestCount := mostFrequent(counts)
		if float64(bestCount)/float64(requestCount) >= commonHeaderThreshold {
			profile.CommonHeaders[name] = best
			commonValue[name] = best
		}
	}

	for epKey, names := range epCounts {
		for name, counts := range names {
			best, _ := mostFrequent(counts)
			if common, ok := commonValue[name]; ok && common == best {
				continue
			}
			if profile.EndpointOverrides[epKey] == nil {
				profile.EndpointOverrides[epKey] = make(map[string]string)
			}
			profile.EndpointOverrides[epKey][name] = best
		}
	}

	return profile
}

func mostFrequent(counts map[string]int) (string, int) {
	var best string
	var bestCount int
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic tie-break
	for _, k := range keys {
		if counts[k] > bestCount {
			best = k
			bestCount = counts[k]
		}
	}
	return best, bestCount
}

// ResolveHeaders builds the header set to send for one request, per
// spec.md §4.1's four-step contract.
func ResolveHeaders(profile *models.HeaderProfile, method, path string, authHeaders map[string]string, cookies map[string]string, mode models.HeaderResolveMode) map[string]string {
	out := make(map[string]string)
	if profile == nil {
		profile = models.NewHeaderProfile("")
	}

	for name, value := range profile.CommonHeaders {
		if !keepForMode(name, mode) {
			continue
		}
		out[name] = value
	}

	epKey := method + " " + path
	if overrides, ok := profile.EndpointOverrides[epKey]; ok {
		for name, value := range overrides {
			if !keepForMode(name, mode) {
				continue
			}
			out[name] = value
		}
	}

	for name, value := range authHeaders {
		out[strings.ToLower(name)] = value
	}

	if len(cookies) > 0 {
		names := make([]string, 0, len(cookies))
		for name := range cookies {
			names = append(names, name)
		}
		sort.Strings(names)
		var sb strings.Builder
		for i, name := range names {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(name)
			sb.WriteByte('=')
			sb.WriteString(cookies[name])
		}
		out["cookie"] = sb.String()
	}

	return out
}

func keepForMode(name string, mode models.HeaderResolveMode) bool {
	cat := Classify(name)
	switch mode {
	case models.HeaderModeNode:
		return cat == CategoryApp
	case models.HeaderModeBrowser:
		return cat == CategoryApp || cat == CategoryContext
	default:
		return true
	}
}

// SanitizeHeaderProfile returns a copy of profile where every auth-category
// header's value has been blanked, so it's safe to publish.
func SanitizeHeaderProfile(profile *models.HeaderProfile) *models.HeaderProfile {
	clone := profile.Clone()
	for name := range clone.CommonHeaders {
		if Classify(name) == CategoryAuth {
			clone.CommonHeaders[name] = ""
		}
	}
	for _, overrides := range clone.EndpointOverrides {
		for name := range overrides {
			if Classify(name) == CategoryAuth {
				overrides[name] = ""
			}
		}
	}
	return clone
}

// LiveHeaderCapturer supplies a fresh snapshot of current header values for
// a domain, used by PrimeHeaders to favor live values over captured samples.
type LiveHeaderCapturer interface {
	CaptureHeaders(domain string, port int) (map[string]string, error)
}

// PrimeHeaders asks capturer for a live snapshot of header values for url's
// domain; for each key present in profile, the live value wins, falling
// back to the profile's sample value.
func PrimeHeaders(domain string, profile *models.HeaderProfile, port int, capturer LiveHeaderCapturer) (map[string]string, error) {
	out := make(map[string]string, len(profile.CommonHeaders))
	for name, value := range profile.CommonHeaders {
		out[name] = value
	}
	if capturer == nil {
		return out, nil
	}
	live, err := capturer.CaptureHeaders(domain, port)
	if err != nil {
		return out, err
	}
	for name := range out {
		if v, ok := live[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}
