// Package replay turns a captured exchange and its correlation graph into
// a replayable HTTP request, injecting values discovered by C7 into the
// slot they were observed leaving. Nested JSON patching uses tidwall/sjson,
// the pack's counterpart to the gjson reads already used in
// internal/correlation.
package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

var strippedRequestHeaders = map[string]bool{
	"host":              true,
	"connection":        true,
	"content-length":    true,
	"transfer-encoding": true,
	"cookie":            true,
}

var trimmableExtensions = []string{".json", ".xml", ".csv", ".txt", ".html"}

// Options carries the per-step overrides prepareRequestForStep accepts.
type Options struct {
	SessionHeaders   map[string]string
	BodyOverrideText string
	HasBodyOverride  bool
}

// PrepareRequestForStep builds the PreparedRequest for exchanges[stepIndex],
// injecting every incoming correlation link's value, per spec.md §4.7.
func PrepareRequestForStep(exchanges []models.CapturedExchange, graph *models.CorrelationGraphV1, stepIndex int, runtimeByIndex map[int]models.StepResponseRuntime, opts *Options) *models.PreparedRequest {
	var exchange *models.CapturedExchange
	for i := range exchanges {
		if exchanges[i].Index == stepIndex {
			exchange = &exchanges[i]
			break
		}
	}
	if exchange == nil {
		return nil
	}

	headers := make(map[string]string)
	exchange.Request.Headers.Each(func(name, value string) {
		lower := strings.ToLower(name)
		if strippedRequestHeaders[lower] || strings.HasPrefix(name, ":") {
			return
		}
		headers[name] = value
	})
	if opts != nil {
		for name, value := range opts.SessionHeaders {
			headers[name] = value
		}
	}

	urlText := exchange.Request.URL

	var bodyText string
	hasBody := false
	switch {
	case opts != nil && opts.HasBodyOverride:
		bodyText = opts.BodyOverrideText
		hasBody = true
	case exchange.Request.BodyRaw != "":
		bodyText = exchange.Request.BodyRaw
		hasBody = true
	case exchange.Request.Body != nil:
		if b, err := json.Marshal(exchange.Request.Body); err == nil {
			bodyText = string(b)
			hasBody = true
		}
	}

	if graph != nil {
		for _, link := range graph.IncomingLinks(stepIndex) {
			value, ok := extractFromRuntime(runtimeByIndex, link)
			if !ok || value == "" {
				continue
			}
			switch link.TargetLocation {
			case models.LocationHeader:
				applyHeaderInjection(headers, link.TargetPath, value)
			case models.LocationURL:
				urlText = applyURLInjection(urlText, link, value)
			case models.LocationQuery:
				urlText = applyQueryInjection(urlText, link.TargetPath, value)
			case models.LocationBody:
				bodyText = applyBodyInjection(bodyText, link.TargetPath, value)
				hasBody = true
			}
		}
	}

	return &models.PreparedRequest{
		Method:   exchange.Request.Method,
		URL:      urlText,
		Headers:  headers,
		BodyText: bodyText,
		HasBody:  hasBody,
	}
}

// extractFromRuntime resolves link's source value from the already-executed
// source step's runtime: its response headers, JSON body or cookies, or its
// request's cookies, query or URL path.
func extractFromRuntime(runtimeByIndex map[int]models.StepResponseRuntime, link models.CorrelationLinkV1) (string, bool) {
	runtime, ok := runtimeByIndex[link.SourceRequestIndex]
	if !ok {
		return "", false
	}

	switch link.SourceLocation {
	case models.LocationHeader:
		for name, value := range runtime.Headers {
			if strings.EqualFold(name, link.SourcePath) {
				return value, true
			}
		}
		return "", false
	case models.LocationBody:
		if !gjson.Valid(runtime.BodyText) {
			return "", false
		}
		return resolveBodyPath(runtime.BodyText, link.SourcePath)
	case models.LocationCookie:
		if value, ok := runtime.Cookies[link.SourcePath]; ok {
			return value, true
		}
		value, ok := runtime.RequestCookies[link.SourcePath]
		return value, ok
	case models.LocationQuery:
		key := strings.TrimPrefix(link.SourcePath, "query.")
		value, ok := runtime.RequestQuery[key]
		return value, ok
	case models.LocationURL:
		idx, ok := pathSegmentIndex(link.SourcePath)
		if !ok || runtime.RequestURL == "" {
			return "", false
		}
		u, err := url.Parse(runtime.RequestURL)
		if err != nil {
			return "", false
		}
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if idx < 0 || idx >= len(segments) {
			return "", false
		}
		return segments[idx], true
	default:
		return "", false
	}
}

// resolveBodyPath walks a dot path where a token suffixed "[]" means
// "descend into this array, any item", returning the first matching leaf.
func resolveBodyPath(body, path string) (string, bool) {
	if !gjson.Valid(body) {
		return "", false
	}
	result := gjson.Parse(body)
	if path == "" {
		if !result.Exists() {
			return "", false
		}
		return result.String(), true
	}

	for _, tok := range strings.Split(path, ".") {
		key := strings.TrimSuffix(tok, "[]")
		if key != "" {
			result = result.Get(key)
		}
		if strings.HasSuffix(tok, "[]") {
			if !result.IsArray() {
				return "", false
			}
			arr := result.Array()
			if len(arr) == 0 {
				return "", false
			}
			result = arr[0]
		}
	}
	if !result.Exists() {
		return "", false
	}
	return result.String(), true
}

func applyHeaderInjection(headers map[string]string, headerName, value string) {
	resolvedName := headerName
	for existing := range headers {
		if strings.EqualFold(existing, headerName) {
			resolvedName = existing
			break
		}
	}
	if strings.EqualFold(headerName, "authorization") && !strings.HasPrefix(strings.ToLower(value), "bearer") {
		value = "Bearer " + value
	}
	headers[resolvedName] = value
}

// applyURLInjection replaces the path segment named by targetPath
// ("url.path.<i>"), matching against the hashed needle when valueHash is
// present so a segment suffix (an extension, an id embedded in a slug) is
// preserved.
func applyURLInjection(rawURL string, link models.CorrelationLinkV1, value string) string {
	idx, ok := pathSegmentIndex(link.TargetPath)
	if !ok {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if idx < 0 || idx >= len(segments) {
		return rawURL
	}

	segment := segments[idx]
	replacement := value
	if link.ValueHash != "" {
		candidates := []string{segment}
		for _, ext := range trimmableExtensions {
			if strings.HasSuffix(strings.ToLower(segment), ext) {
				candidates = append(candidates, segment[:len(segment)-len(ext)])
			}
		}
		for _, candidate := range candidates {
			if hashValue(candidate) == link.ValueHash {
				suffix := segment[len(candidate):]
				replacement = value + suffix
				break
			}
		}
	}
	segments[idx] = replacement

	u.Path = "/" + strings.Join(segments, "/")
	return u.String()
}

func pathSegmentIndex(targetPath string) (int, bool) {
	const prefix = "url.path."
	if !strings.HasPrefix(targetPath, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(targetPath, prefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

// applyQueryInjection sets the query parameter named by targetPath
// ("query.<key>" or "query.<key>.<nested...>").
func applyQueryInjection(rawURL, targetPath, value string) string {
	const prefix = "query."
	if !strings.HasPrefix(targetPath, prefix) {
		return rawURL
	}
	rest := strings.TrimPrefix(targetPath, prefix)
	key, nestedPath, nested := strings.Cut(rest, ".")

	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()

	if nested {
		existing := q.Get(key)
		if existing == "" {
			existing = "{}"
		}
		patched, err := sjson.Set(existing, nestedPath, value)
		if err != nil {
			return rawURL
		}
		q.Set(key, patched)
	} else {
		q.Set(key, value)
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// applyBodyInjection sets the nested path named by targetPath ("body.<path>")
// in bodyText, parsing it as JSON.
func applyBodyInjection(bodyText, targetPath, value string) string {
	const prefix = "body."
	if !strings.HasPrefix(targetPath, prefix) {
		return bodyText
	}
	path := strings.TrimPrefix(targetPath, prefix)
	if strings.TrimSpace(bodyText) == "" {
		bodyText = "{}"
	}
	patched, err := sjson.Set(bodyText, path, value)
	if err != nil {
		return bodyText
	}
	return patched
}

func hashValue(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
