// Package routes normalizes captured URL paths into parameterized patterns
// and groups exchanges into EndpointGroups. The segment-classification
// approach — an ordered list of "first rule to match wins" detectors over
// each path segment — follows the teacher's
// internal/utils/url_normalizer.go; the static-segment exclusion list and
// CRUD-oriented category rules follow internal/utils/crud_mapper.go.
package routes

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

var (
	uuidPattern      = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	emailPattern     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	timestampPattern = regexp.MustCompile(`^\d{10,13}$`)
	hexPattern       = regexp.MustCompile(`^[0-9a-fA-F]{8,}$`)
	integerPattern   = regexp.MustCompile(`^\d+$`)
	yearRangePattern = regexp.MustCompile(`^\d{4}-\d{4}$`)
	versionedPrefix  = regexp.MustCompile(`^v\d+$`)
)

// staticSegments is the closed set of segments that are never
// parameterized, regardless of what they look like.
var staticSegments = map[string]bool{
	"api":      true,
	"search":   true,
	"me":       true,
	"auth":     true,
	"login":    true,
	"logout":   true,
	"token":    true,
	"refresh":  true,
	"graphql":  true,
	"oauth":    true,
	"session":  true,
	"sessions": true,
	"register": true,
	"signup":   true,
	"signin":   true,
}

var preservedExtensions = map[string]bool{
	"json": true,
	"xml":  true,
	"csv":  true,
	"txt":  true,
	"html": true,
}

// NormalizeResult is the outcome of normalizing a single URL path.
type NormalizeResult struct {
	Path   string
	Params []models.PathParamInfo
}

// NormalizePath applies single-request pattern detection to rawURL's path,
// per spec.md §4.2. It never inspects other requests — cross-request
// generalization is a separate pass (see GeneralizeGroup).
func NormalizePath(rawURL string) NormalizeResult {
	parsed, err := url.Parse(rawURL)
	path := rawURL
	if err == nil {
		path = parsed.Path
	}
	if path == "" {
		path = "/"
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, len(segments))
	var params []models.PathParamInfo

	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if isStaticSegment(seg) {
			out = append(out, seg)
			continue
		}

		base, ext := splitExtension(seg)
		kind, ok := classifySegment(base)
		if !ok {
			out = append(out, seg)
			continue
		}

		name := kind
		if i > 0 {
			prev := segments[i-1]
			if isPlural(prev) {
				name = singularize(prev) + "Id"
			}
		}

		token := "{" + name + "}"
		if ext != "" {
			token += "." + ext
		}
		out = append(out, token)
		params = append(params, models.PathParamInfo{Name: name, Kind: kind})
	}

	return NormalizeResult{Path: "/" + strings.Join(out, "/"), Params: params}
}

func isStaticSegment(seg string) bool {
	lower := strings.ToLower(seg)
	if staticSegments[lower] {
		return true
	}
	return versionedPrefix.MatchString(lower)
}

func splitExtension(seg string) (base, ext string) {
	idx := strings.LastIndex(seg, ".")
	if idx < 0 {
		return seg, ""
	}
	candidate := strings.ToLower(seg[idx+1:])
	if !preservedExtensions[candidate] {
		return seg, ""
	}
	return seg[:idx], candidate
}

// classifySegment runs the ordered single-request detectors over base (a
// path segment with any preserved extension already stripped). The year
// range check exists outside spec.md's listed set — it is needed to
// parameterize academic-year segments like "2024-2025", which match none of
// uuid/email/timestamp/hex/alphanumeric/integer since they mix digits and a
// hyphen but contain no letters.
func classifySegment(base string) (kind string, matched bool) {
	switch {
	case yearRangePattern.MatchString(base):
		return "year", true
	case uuidPattern.MatchString(base):
		return "uuid", true
	case emailPattern.MatchString(base):
		return "email", true
	case timestampPattern.MatchString(base):
		return "timestamp", true
	case hexPattern.MatchString(base):
		return "hex", true
	case isMixedAlphanumeric(base):
		return "alphanumeric", true
	case integerPattern.MatchString(base):
		return "integer", true
	default:
		return "", false
	}
}

func isMixedAlphanumeric(s string) bool {
	hasLetter, hasDigit := false, false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

func isPlural(seg string) bool {
	lower := strings.ToLower(seg)
	return strings.HasSuffix(lower, "s") && !strings.HasSuffix(lower, "ss")
}

// singularize strips a plural suffix from seg using the handful of English
// rules common in REST resource names. It is not a general-purpose
// pluralization library — just enough to name path parameters sensibly.
func singularize(seg string) string {
	lower := strings.ToLower(seg)
	switch {
	case strings.HasSuffix(lower, "ies"):
		return seg[:len(seg)-3] + "y"
	case strings.HasSuffix(lower, "ses"), strings.HasSuffix(lower, "xes"),
		strings.HasSuffix(lower, "ches"), strings.HasSuffix(lower, "shes"):
		return seg[:len(seg)-2]
	case strings.HasSuffix(lower, "s") && !strings.HasSuffix(lower, "ss"):
		return seg[:len(seg)-1]
	default:
		return seg
	}
}
