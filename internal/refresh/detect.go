// Package refresh detects OAuth/JWT token-refresh and initial-grant
// exchanges, builds a replayable RefreshConfig from them, and schedules
// background refresh via robfig/cron/v3 — the same scheduling library the
// teacher's go.mod already carries for periodic maintenance work.
package refresh

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

var refreshURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/oauth/token`),
	regexp.MustCompile(`/oauth2/v\d+/token`),
	regexp.MustCompile(`securetoken\.googleapis\.com`),
	regexp.MustCompile(`identitytoolkit\.googleapis\.com`),
	regexp.MustCompile(`/auth/refresh`),
	regexp.MustCompile(`/auth/.*`),
	regexp.MustCompile(`/token/refresh`),
	regexp.MustCompile(`/refresh[-_]?token`),
	regexp.MustCompile(`/v\d+/auth/token`),
	regexp.MustCompile(`/api/.*/refresh`),
}

var refreshBodyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)grant_type=refresh_token`),
	regexp.MustCompile(`(?i)refresh_?token[=:]`),
}

var grantTypeAuthCode = regexp.MustCompile(`grant_type=authorization_code`)

// DetectRefreshEndpoint classifies one exchange as a refresh call, an
// initial grant call, or neither, per spec.md §4.5.
func DetectRefreshEndpoint(rawURL, method, body, responseBody string) models.RefreshDetection {
	method = strings.ToUpper(method)
	isPostLike := method == "POST" || method == "PUT"

	urlMatches := false
	for _, p := range refreshURLPatterns {
		if p.MatchString(rawURL) {
			urlMatches = true
			break
		}
	}
	if !urlMatches {
		if u, err := url.Parse(rawURL); err == nil && strings.Contains(u.Path, "/token") && u.RawQuery != "" {
			urlMatches = true
		}
	}

	bodyMatches := false
	for _, p := range refreshBodyPatterns {
		if p.MatchString(body) {
			bodyMatches = true
			break
		}
	}

	detection := models.RefreshDetection{}

	// A bare OAuth token endpoint serves both refresh and initial-grant
	// calls, so the refresh URL patterns alone can't disambiguate them —
	// when the body carries an authorization_code grant, that takes
	// priority over the URL-only refresh match.
	if isPostLike && urlMatches && grantTypeAuthCode.MatchString(body) {
		detection.IsInitialGrant = true
	} else {
		detection.IsRefresh = isPostLike && (urlMatches || bodyMatches)
	}

	if responseBody != "" {
		detection.TokenInfo = extractTokenInfo(responseBody)
	}

	return detection
}

var (
	accessTokenFallback  = regexp.MustCompile(`"access_token"\s*:\s*"(.+?)"`)
	refreshTokenFallback = regexp.MustCompile(`"refresh_token"\s*:\s*"(.+?)"`)
	idTokenFallback      = regexp.MustCompile(`"id_token"\s*:\s*"(.+?)"`)
	expiresInFallback    = regexp.MustCompile(`"expires_in"\s*:\s*(\d+)`)
)

func extractTokenInfo(responseBody string) *models.TokenInfo {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(responseBody), &parsed); err == nil {
		info := &models.TokenInfo{
			AccessToken:  firstStringField(parsed, "access_token", "accessToken", "token"),
			RefreshToken: firstStringField(parsed, "refresh_token", "refreshToken"),
			IDToken:      firstStringField(parsed, "id_token", "idToken"),
			TokenType:    firstStringField(parsed, "token_type", "tokenType"),
		}
		if info.TokenType == "" {
			info.TokenType = "Bearer"
		}
		if v, ok := parsed["expires_in"]; ok {
			info.ExpiresIn = toInt64(v)
		} else if v, ok := parsed["expiresIn"]; ok {
			info.ExpiresIn = toInt64(v)
		}
		return info
	}

	info := &models.TokenInfo{TokenType: "Bearer"}
	if m := accessTokenFallback.FindStringSubmatch(responseBody); m != nil {
		info.AccessToken = m[1]
	}
	if m := refreshTokenFallback.FindStringSubmatch(responseBody); m != nil {
		info.RefreshToken = m[1]
	}
	if m := idTokenFallback.FindStringSubmatch(responseBody); m != nil {
		info.IDToken = m[1]
	}
	if m := expiresInFallback.FindStringSubmatch(responseBody); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			info.ExpiresIn = n
		}
	}
	if info.AccessToken == "" && info.RefreshToken == "" && info.IDToken == "" {
		return nil
	}
	return info
}

func firstStringField(obj map[string]any, names ...string) string {
	for _, name := range names {
		if v, ok := obj[name]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

var authRelevantHeaderNames = []string{"token", "api-key", "x-auth", "csrf"}

// ExtractRefreshConfig builds a RefreshConfig from a captured exchange,
// returning nil unless the response succeeded and the exchange is detected
// as a refresh call.
func ExtractRefreshConfig(ex models.CapturedExchange) *models.RefreshConfig {
	if ex.Response.Status < 200 || ex.Response.Status > 299 {
		return nil
	}
	detection := DetectRefreshEndpoint(ex.Request.URL, ex.Request.Method, ex.Request.BodyRaw, ex.Response.BodyRaw)
	if !detection.IsRefresh {
		return nil
	}

	cfg := &models.RefreshConfig{
		URL:     ex.Request.URL,
		Method:  ex.Request.Method,
		Headers: make(map[string]string),
	}

	ex.Request.Headers.Each(func(name, value string) {
		lower := strings.ToLower(name)
		if lower == "authorization" || lower == "content-type" {
			cfg.Headers[lower] = value
			return
		}
		for _, marker := range authRelevantHeaderNames {
			if strings.Contains(lower, marker) {
				cfg.Headers[lower] = value
				return
			}
		}
	})

	body := parseRequestBody(ex.Request)
	cfg.Body = body
	if obj, ok := body.(map[string]any); ok {
		cfg.ClientID = firstStringField(obj, "client_id", "clientId")
		cfg.ClientSecret = firstStringField(obj, "client_secret", "clientSecret")
		cfg.Scope = firstStringField(obj, "scope")
		cfg.RefreshToken = firstStringField(obj, "refresh_token", "refreshToken")
	}

	if detection.TokenInfo != nil && detection.TokenInfo.ExpiresIn > 0 {
		cfg.ExpiresInSeconds = detection.TokenInfo.ExpiresIn
		expiresAt := time.Now().Add(time.Duration(detection.TokenInfo.ExpiresIn) * time.Second)
		cfg.ExpiresAt = &expiresAt
	}

	cfg.Provider = inferProvider(ex.Request.URL)
	return cfg
}

func parseRequestBody(req models.RequestRecord) any {
	if strings.Contains(strings.ToLower(req.ContentType), "form") {
		values, err := url.ParseQuery(req.BodyRaw)
		if err != nil {
			return req.BodyRaw
		}
		out := make(map[string]any, len(values))
		for k, v := range values {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
		return out
	}
	if req.Body != nil {
		return req.Body
	}
	var parsed any
	if err := json.Unmarshal([]byte(req.BodyRaw), &parsed); err == nil {
		return parsed
	}
	return req.BodyRaw
}

func inferProvider(rawURL string) models.RefreshProvider {
	u, err := url.Parse(rawURL)
	if err != nil {
		return models.ProviderGeneric
	}
	switch u.Host {
	case "accounts.google.com":
		return models.ProviderGoogle
	case "securetoken.googleapis.com", "identitytoolkit.googleapis.com":
		return models.ProviderFirebase
	default:
		return models.ProviderGeneric
	}
}

// NeedsRefresh reports whether cfg's token should be refreshed now, given a
// buffer window, per spec.md §4.5 / invariant P6.
func NeedsRefresh(cfg *models.RefreshConfig, bufferMinutes int) bool {
	if cfg == nil || cfg.ExpiresAt == nil {
		return false
	}
	return !time.Now().Add(time.Duration(bufferMinutes) * time.Minute).Before(*cfg.ExpiresAt)
}
