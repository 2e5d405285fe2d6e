// Package headers classifies HTTP header names into the categories used
// throughout capture and replay (protocol/browser/cookie/auth/context/app),
// and builds/resolves/sanitizes the per-domain HeaderProfile derived from
// them. The classification table and the ordered-rule-list style it's built
// with follow the teacher's internal/utils/url_normalizer.go, which applies
// the same "first matching rule wins" shape to URL segments instead of
// header names.
package headers

import (
	"strings"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

type HeaderCategory = models.HeaderCategory

const (
	CategoryProtocol = models.HeaderCategoryProtocol
	CategoryBrowser  = models.HeaderCategoryBrowser
	CategoryCookie   = models.HeaderCategoryCookie
	CategoryAuth     = models.HeaderCategoryAuth
	CategoryContext  = models.HeaderCategoryContext
	CategoryApp      = models.HeaderCategoryApp
)

var protocolExact = map[string]bool{
	"host":              true,
	"connection":        true,
	"content-length":    true,
	"transfer-encoding": true,
}

var browserPrefixes = []string{
	"accept-encoding",
	"sec-fetch-",
	"sec-ch-ua",
}

var cookieExact = map[string]bool{
	"cookie":     true,
	"set-cookie": true,
}

var authExact = map[string]bool{
	"authorization":   true,
	"x-api-key":       true,
	"api-key":         true,
	"apikey":          true,
	"x-auth-token":    true,
	"access-token":    true,
	"x-access-token":  true,
	"token":           true,
	"x-token":         true,
	"x-csrf-token":    true,
	"x-xsrf-token":    true,
	"bearer":          true,
}

var authSubstrings = []string{
	"token",
	"api-key",
	"apikey",
	"auth",
	"csrf",
	"xsrf",
}

var contextKnown = map[string]bool{
	"accept":          true,
	"user-agent":      true,
	"referer":         true,
	"origin":          true,
	"accept-language": true,
	"dnt":             true,
	"cache-control":   true,
	"pragma":          true,
}

// Classify returns the category of header name, which need not be
// lowercased — classification always operates on a lowercased copy.
func Classify(name string) HeaderCategory {
	lower := strings.ToLower(name)

	if strings.HasPrefix(lower, ":") || protocolExact[lower] {
		return CategoryProtocol
	}
	for _, prefix := range browserPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return CategoryBrowser
		}
	}
	if cookieExact[lower] {
		return CategoryCookie
	}
	if authExact[lower] {
		return CategoryAuth
	}
	for _, sub := range authSubstrings {
		if strings.Contains(lower, sub) {
			return CategoryAuth
		}
	}
	if contextKnown[lower] {
		return CategoryContext
	}
	return CategoryApp
}
