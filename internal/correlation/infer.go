// Package correlation builds the CorrelationGraphV1 that links a value
// observed in one exchange to its reappearance in a later one — the graph
// the replay preparer (C8) walks to decide what to inject. Leaf-walking a
// captured JSON body by dot-path is the same shape of problem the teacher
// solves with ad hoc map walks in internal/driven/analyzer.go; here it's
// done with tidwall/gjson, which the rest of the pack (and the teacher's
// own go.mod) already carries for exactly this "address an arbitrary JSON
// leaf by path" need.
package correlation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

const minCandidateLength = 8
const minDistinctChars = 4 // "consisting of <=3 distinct characters" is excluded, so >=4 required

type candidate struct {
	requestIndex int
	location     models.CorrelationLocation
	path         string
	rawValue     string
}

func hashValue(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

func distinctChars(s string) int {
	seen := map[rune]bool{}
	for _, r := range s {
		seen[r] = true
	}
	return len(seen)
}

func eligible(v string) bool {
	return len(v) >= minCandidateLength && distinctChars(v) >= minDistinctChars
}

// normalizeValue trims v and, for a bearer-prefixed token, also returns the
// stripped form so both register in the index.
func normalizeValue(v string) []string {
	trimmed := strings.TrimSpace(v)
	forms := []string{trimmed}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "bearer ") {
		forms = append(forms, strings.TrimSpace(trimmed[len("bearer "):]))
	}
	return forms
}

// sourceCandidates enumerates every candidate source value in exchange S,
// per spec.md §4.6 step 1.
func sourceCandidates(idx int, ex models.CapturedExchange) []candidate {
	var out []candidate

	ex.Request.Headers.Each(func(name, value string) {
		if eligible(value) {
			out = append(out, candidate{idx, models.LocationHeader, strings.ToLower(name), value})
		}
	})
	for name, value := range ex.Request.Cookies {
		if eligible(value) {
			out = append(out, candidate{idx, models.LocationCookie, name, value})
		}
	}
	for name, value := range ex.Request.QueryParams {
		if eligible(value) {
			out = append(out, candidate{idx, models.LocationQuery, name, value})
		}
	}
	for i, seg := range pathSegments(ex.Request.URL) {
		if eligible(seg) {
			out = append(out, candidate{idx, models.LocationURL, fmt.Sprintf("url.path.%d", i), seg})
		}
	}

	for name, value := range ex.Response.Cookies {
		if eligible(value) {
			out = append(out, candidate{idx, models.LocationCookie, name, value})
		}
	}
	ex.Response.Headers.Each(func(name, value string) {
		if eligible(value) {
			out = append(out, candidate{idx, models.LocationHeader, strings.ToLower(name), value})
		}
	})
	walkJSONLeaves(ex.Response.BodyRaw, func(path, value string) {
		if eligible(value) {
			out = append(out, candidate{idx, models.LocationBody, path, value})
		}
	})

	return out
}

func pathSegments(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	var out []string
	for _, seg := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// walkJSONLeaves calls fn(dotPath, value) for every string leaf in the JSON
// document in raw, using "[]" to mark array membership in the path.
func walkJSONLeaves(raw string, fn func(path, value string)) {
	if strings.TrimSpace(raw) == "" || !gjson.Valid(raw) {
		return
	}
	var walk func(path string, result gjson.Result)
	walk = func(path string, result gjson.Result) {
		switch {
		case result.IsObject():
			result.ForEach(func(key, value gjson.Result) bool {
				childPath := key.String()
				if path != "" {
					childPath = path + "." + key.String()
				}
				walk(childPath, value)
				return true
			})
		case result.IsArray():
			result.ForEach(func(_, value gjson.Result) bool {
				walk(path+"[]", value)
				return true
			})
		case result.Type == gjson.String || result.Type == gjson.Number:
			fn(path, result.String())
		}
	}
	walk("", gjson.Parse(raw))
}

type indexEntry struct {
	requestIndex int
	location     models.CorrelationLocation
	path         string
	rawValue     string
	hash         string
}

// InferCorrelationGraphV1 is C7's entry point, per spec.md §4.6.
func InferCorrelationGraphV1(exchanges []models.CapturedExchange) *models.CorrelationGraphV1 {
	index := make(map[string][]indexEntry)

	for i, ex := range exchanges {
		for _, c := range sourceCandidates(i, ex) {
			for _, form := range normalizeValue(c.rawValue) {
				entry := indexEntry{c.requestIndex, c.location, c.path, c.rawValue, hashValue(c.rawValue)}
				index[form] = append(index[form], entry)
			}
		}
	}

	seen := make(map[string]bool)
	var links []models.CorrelationLinkV1

	for t := range exchanges {
		for _, target := range targetSlots(t, exchanges[t]) {
			matchWhole(index, target, t, &links, seen)
			if target.location == models.LocationURL {
				matchSubstring(index, target, t, &links, seen)
			}
		}
	}

	return &models.CorrelationGraphV1{Version: 1, Links: links}
}

type targetSlot struct {
	location models.CorrelationLocation
	path     string
	value    string
}

func targetSlots(t int, ex models.CapturedExchange) []targetSlot {
	var out []targetSlot

	ex.Request.Headers.Each(func(name, value string) {
		out = append(out, targetSlot{models.LocationHeader, strings.ToLower(name), value})
	})
	for i, seg := range pathSegments(ex.Request.URL) {
		out = append(out, targetSlot{models.LocationURL, fmt.Sprintf("url.path.%d", i), seg})
	}
	for name, value := range ex.Request.QueryParams {
		out = append(out, targetSlot{models.LocationQuery, "query." + name, value})
	}
	for name, value := range ex.Request.Cookies {
		out = append(out, targetSlot{models.LocationCookie, name, value})
	}
	walkJSONLeaves(ex.Request.BodyRaw, func(path, value string) {
		out = append(out, targetSlot{models.LocationBody, "body." + path, value})
	})

	return out
}

func matchWhole(index map[string][]indexEntry, target targetSlot, t int, links *[]models.CorrelationLinkV1, seen map[string]bool) {
	entries, ok := index[strings.TrimSpace(target.value)]
	if !ok {
		return
	}
	for _, e := range entries {
		if e.requestIndex >= t {
			continue
		}
		emit(links, seen, e, target, t, e.hash)
	}
}

// matchSubstring handles the URL-path "longer segment contains the needle"
// case, hashing the needle (not the full segment) so replay can reconstruct
// the substring replacement.
func matchSubstring(index map[string][]indexEntry, target targetSlot, t int, links *[]models.CorrelationLinkV1, seen map[string]bool) {
	for needle, entries := range index {
		if needle == target.value || !strings.Contains(target.value, needle) {
			continue
		}
		for _, e := range entries {
			if e.requestIndex >= t {
				continue
			}
			emit(links, seen, e, target, t, hashValue(needle))
		}
	}
}

func emit(links *[]models.CorrelationLinkV1, seen map[string]bool, e indexEntry, target targetSlot, t int, valueHash string) {
	key := fmt.Sprintf("%d|%d|%s|%s|%s|%s", e.requestIndex, t, e.location, e.path, target.location, target.path)
	if seen[key] {
		return
	}
	seen[key] = true
	*links = append(*links, models.CorrelationLinkV1{
		SourceRequestIndex: e.requestIndex,
		SourceLocation:     e.location,
		SourcePath:         e.path,
		TargetRequestIndex: t,
		TargetLocation:     target.location,
		TargetPath:         target.path,
		ValueHash:          valueHash,
	})
}
