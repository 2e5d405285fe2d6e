// Package auth extracts authentication headers from captured exchanges,
// promotes JWT-like storage values to suggested Authorization headers, and
// infers where an observed CSRF token value actually came from. It follows
// the teacher's internal/utils/form_extractor.go in spirit — regex-driven
// heuristics over captured browser state — generalized from forms to the
// full storage/cookie/meta surface spec.md §4.4 describes.
package auth

import (
	"regexp"
	"strings"

	"github.com/unbrowse-ai/unbrowse-core/internal/headers"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

var jwtThreeSegment = regexp.MustCompile(`^[^.]{10,}\.[^.]{10,}\.[^.]{10,}$`)

func looksLikeJWT(value string) bool {
	return strings.HasPrefix(value, "eyJ") || jwtThreeSegment.MatchString(value)
}

var accessTokenKeyMarkers = []string{"access", "auth", "token"}
var csrfKeyMarkers = []string{"csrf", "xsrf"}

func containsAny(haystack string, markers []string) bool {
	lower := strings.ToLower(haystack)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ExtractAuthHeaders scans every request in exchanges and returns the
// union of headers classified as auth, keyed by lowercase name, plus any
// JWT/CSRF promotions derived from localStorage/sessionStorage/meta values.
func ExtractAuthHeaders(exchanges []models.CapturedExchange, localStorage, sessionStorage, metaTokens map[string]string) map[string]string {
	out := make(map[string]string)
	hasExplicitAuthorization := false

	for _, ex := range exchanges {
		ex.Request.Headers.Each(func(name, value string) {
			if headers.Classify(name) != headers.CategoryAuth {
				return
			}
			lower := strings.ToLower(name)
			out[lower] = value
			if lower == "authorization" {
				hasExplicitAuthorization = true
			}
		})
	}

	if !hasExplicitAuthorization {
		for key, value := range mergeStorage(localStorage, sessionStorage) {
			if looksLikeJWT(value) && containsAny(key, accessTokenKeyMarkers) {
				out["authorization"] = "Bearer " + value
				break
			}
		}
	}

	for key, value := range mergeStorage(localStorage, sessionStorage, metaTokens) {
		if containsAny(key, csrfKeyMarkers) {
			out["x-csrf-token"] = value
		}
	}

	return out
}

func mergeStorage(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// InferCSRFProvenance examines csrfValue against the observed browser state
// and returns the first matching source, per spec.md §4.4's priority order:
// cookie, localStorage, sessionStorage, meta, prior response body, else
// unknown.
func InferCSRFProvenance(csrfValue, headerName string, cookies, localStorage, sessionStorage, metaTokens map[string]string, priorResponseBodies []any) *models.CSRFProvenance {
	if key, ok := findByValue(cookies, csrfValue); ok {
		return &models.CSRFProvenance{Source: models.CSRFSourceCookie, Key: key, HeaderName: headerName}
	}
	if key, ok := findByValue(localStorage, csrfValue); ok {
		return &models.CSRFProvenance{Source: models.CSRFSourceLocalStorage, Key: key, HeaderName: headerName}
	}
	if key, ok := findByValue(sessionStorage, csrfValue); ok {
		return &models.CSRFProvenance{Source: models.CSRFSourceSessionStorage, Key: key, HeaderName: headerName}
	}
	if key, ok := findByValue(metaTokens, csrfValue); ok {
		return &models.CSRFProvenance{Source: models.CSRFSourceMeta, Key: key, HeaderName: headerName}
	}
	if path, ok := findInResponseBodies(priorResponseBodies, csrfValue); ok {
		return &models.CSRFProvenance{Source: models.CSRFSourceResponseBody, Key: path, HeaderName: headerName}
	}
	return &models.CSRFProvenance{Source: models.CSRFSourceUnknown, HeaderName: headerName}
}

func findByValue(m map[string]string, value string) (string, bool) {
	for k, v := range m {
		if v == value {
			return k, true
		}
	}
	return "", false
}

func findInResponseBodies(bodies []any, value string) (string, bool) {
	for _, body := range bodies {
		if path, ok := findLeafPath(body, "", value); ok {
			return path, true
		}
	}
	return "", false
}

func findLeafPath(node any, path, value string) (string, bool) {
	switch v := node.(type) {
	case string:
		if v == value {
			return path, true
		}
	case map[string]any:
		for k, child := range v {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if p, ok := findLeafPath(child, childPath, value); ok {
				return p, true
			}
		}
	case []any:
		for i, child := range v {
			childPath := path + "[]"
			_ = i
			if p, ok := findLeafPath(child, childPath, value); ok {
				return p, true
			}
		}
	}
	return "", false
}
