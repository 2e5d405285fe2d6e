package routes

import (
	"sort"
	"strings"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
	"github.com/unbrowse-ai/unbrowse-core/internal/schema"
)

var authPathMarkers = []string{
	"login", "logout", "signin", "signup", "register", "oauth",
	"/session", "/token", "/refresh",
}

const queryParamRequiredThreshold = 0.8

var idLikeSuffixes = []string{"id", "token", "uuid", "key"}

// isIDLike reports whether name matches the produces/consumes suffix rule:
// equal to "id" or ending in id/token/uuid/key, case-insensitive.
func isIDLike(name string) bool {
	lower := strings.ToLower(name)
	if lower == "id" {
		return true
	}
	for _, suffix := range idLikeSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func categoryFor(method, normalizedPath string) models.EndpointCategory {
	lower := strings.ToLower(normalizedPath)
	for _, marker := range authPathMarkers {
		if strings.Contains(lower, marker) {
			return models.CategoryAuth
		}
	}
	switch strings.ToUpper(method) {
	case "DELETE":
		return models.CategoryDelete
	case "POST", "PUT", "PATCH":
		return models.CategoryWrite
	default:
		return models.CategoryRead
	}
}

type pathSegments struct {
	exchangeIdx int
	method      string
	segments    []string // normalized, param placeholders like "{id}"
	params      []models.PathParamInfo
}

// GeneralizeGroup runs cross-request generalization (spec.md §4.2) over
// already single-request-normalized paths, grouped by method and segment
// count. It mutates segs in place, replacing literal segments that vary
// across the group with a shared parameter placeholder.
func GeneralizeGroup(segs []*pathSegments) {
	byKey := make(map[string][]*pathSegments)
	for _, s := range segs {
		key := s.method + "#" + sizeKey(len(s.segments))
		byKey[key] = append(byKey[key], s)
	}

	for _, group := range byKey {
		if len(group) < 2 {
			continue
		}
		width := len(group[0].segments)
		for pos := 0; pos < width; pos++ {
			generalizePosition(group, pos)
		}
	}
}

func sizeKey(n int) string {
	return string(rune('0' + n))
}

func generalizePosition(group []*pathSegments, pos int) {
	values := map[string]bool{}
	for _, s := range group {
		seg := s.segments[pos]
		if strings.HasPrefix(seg, "{") {
			return // already parameterized at this position
		}
		values[seg] = true
	}
	if len(values) < 2 {
		return // B3: requires >= 2 distinct values
	}
	if !onlyPureLetters(values) {
		return
	}
	if !shareStructureElsewhere(group, pos) {
		return
	}

	for _, s := range group {
		name := positionalName(s.segments, pos)
		s.segments[pos] = "{" + name + "}"
		s.params = append(s.params, models.PathParamInfo{Name: name, Kind: "generalized"})
	}
}

func onlyPureLetters(values map[string]bool) bool {
	for v := range values {
		for _, r := range v {
			if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
				return false
			}
		}
	}
	return true
}

func shareStructureElsewhere(group []*pathSegments, pos int) bool {
	reference := group[0].segments
	for _, s := range group[1:] {
		for i, seg := range s.segments {
			if i == pos {
				continue
			}
			if seg != reference[i] {
				return false
			}
		}
	}
	return true
}

// positionalName names a cross-request-generalized segment from the
// previous segment singularized, per spec.md §4.2 — unlike single-request
// naming, this does not append "Id".
func positionalName(segments []string, pos int) string {
	if pos > 0 {
		prev := segments[pos-1]
		if !strings.HasPrefix(prev, "{") {
			return singularize(prev)
		}
	}
	return "p" + sizeKey(pos+1)
}

// BuildEndpointGroups is C3's entry point: classify every exchange's path,
// generalize across the set, then group and annotate per spec.md §4.2.
func BuildEndpointGroups(exchanges []models.CapturedExchange) []*models.EndpointGroup {
	normalized := make([]*pathSegments, len(exchanges))
	for i, ex := range exchanges {
		res := NormalizePath(ex.Request.URL)
		normalized[i] = &pathSegments{
			exchangeIdx: i,
			method:      strings.ToUpper(ex.Request.Method),
			segments:    strings.Split(strings.Trim(res.Path, "/"), "/"),
			params:      res.Params,
		}
	}
	GeneralizeGroup(normalized)

	groups := make(map[string]*models.EndpointGroup)
	order := make([]string, 0)
	queryCounts := make(map[string]map[string]int) // group key -> param name -> count

	for i, ex := range exchanges {
		ns := normalized[i]
		normalizedPath := "/" + strings.Join(ns.segments, "/")
		key := ns.method + " " + normalizedPath

		group, ok := groups[key]
		if !ok {
			group = &models.EndpointGroup{
				Method:             ns.method,
				NormalizedPath:     normalizedPath,
				Category:           categoryFor(ns.method, normalizedPath),
				PathParams:         dedupParams(ns.params),
				RequestBodySchema:  map[string]string{},
				ResponseBodySchema: map[string]string{},
			}
			groups[key] = group
			order = append(order, key)
			queryCounts[key] = make(map[string]int)
		}

		group.ExampleCount++
		if len(group.Examples) < 5 {
			exCopy := ex
			group.Examples = append(group.Examples, &exCopy)
		}
		accumulateQueryParams(group, queryCounts[key], ex.Request.QueryParams)
	}

	for _, key := range order {
		group := groups[key]
		finalizeQueryParams(group, queryCounts[key])
		finalizeSchemas(group)
		finalizeProducesConsumes(group)
	}

	applyDependencies(groups, order)

	out := make([]*models.EndpointGroup, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	sortGroups(out)
	return out
}

func dedupParams(params []models.PathParamInfo) []models.PathParamInfo {
	seen := map[string]bool{}
	out := make([]models.PathParamInfo, 0, len(params))
	for _, p := range params {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out
}

func accumulateQueryParams(group *models.EndpointGroup, counts map[string]int, observed map[string]string) {
	index := make(map[string]*models.QueryParamInfo, len(group.QueryParams))
	for i := range group.QueryParams {
		index[group.QueryParams[i].Name] = &group.QueryParams[i]
	}
	for name, value := range observed {
		counts[name]++
		if p, ok := index[name]; ok {
			p.Example = firstNonEmpty(p.Example, value)
			continue
		}
		group.QueryParams = append(group.QueryParams, models.QueryParamInfo{Name: name, Example: value})
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// finalizeQueryParams marks Required using the frequency observed across
// every exchange in the group, matching spec.md §4.2's >=80% rule (B2).
func finalizeQueryParams(group *models.EndpointGroup, counts map[string]int) {
	if group.ExampleCount == 0 {
		return
	}
	for i := range group.QueryParams {
		freq := float64(counts[group.QueryParams[i].Name]) / float64(group.ExampleCount)
		group.QueryParams[i].Required = freq >= queryParamRequiredThreshold
	}
}

func finalizeSchemas(group *models.EndpointGroup) {
	var reqBodies, respBodies []any
	for _, ex := range group.Examples {
		if ex.Request.Body != nil {
			reqBodies = append(reqBodies, ex.Request.Body)
		}
		if ex.Response.Body != nil {
			respBodies = append(respBodies, ex.Response.Body)
		}
	}
	for field, tag := range schema.InferSchema(reqBodies) {
		group.RequestBodySchema[field] = string(tag)
	}
	for field, tag := range schema.InferSchema(respBodies) {
		group.ResponseBodySchema[field] = string(tag)
	}
}

func finalizeProducesConsumes(group *models.EndpointGroup) {
	seenProduces := map[string]bool{}
	for field := range group.ResponseBodySchema {
		if isIDLike(field) {
			seenProduces[field] = true
		}
	}
	for field := range seenProduces {
		group.Produces = append(group.Produces, field)
	}
	sort.Strings(group.Produces)

	seenConsumes := map[string]bool{}
	for _, p := range group.PathParams {
		seenConsumes[p.Name] = true
	}
	for _, q := range group.QueryParams {
		if isIDLike(q.Name) {
			seenConsumes[q.Name] = true
		}
	}
	for field := range group.RequestBodySchema {
		if isIDLike(field) {
			seenConsumes[field] = true
		}
	}
	for field := range seenConsumes {
		group.Consumes = append(group.Consumes, field)
	}
	sort.Strings(group.Consumes)
}

// applyDependencies wires every non-auth group to every auth group, then
// adds a dependency from consumer to producer for each shared consumes/
// produces name, never adding a self-dependency. Auth groups skip both
// steps entirely: spec.md requires category=auth groups to carry no
// dependencies, even when an auth endpoint's own body fields happen to
// look ID-like (e.g. a refresh endpoint's "refresh_token").
func applyDependencies(groups map[string]*models.EndpointGroup, order []string) {
	var authKeys []string
	for _, key := range order {
		if groups[key].Category == models.CategoryAuth {
			authKeys = append(authKeys, key)
		}
	}

	producerOf := make(map[string][]string) // produced name -> group keys
	for _, key := range order {
		for _, name := range groups[key].Produces {
			producerOf[name] = append(producerOf[name], key)
		}
	}

	for _, key := range order {
		group := groups[key]
		deps := map[string]bool{}

		if group.Category != models.CategoryAuth {
			for _, authKey := range authKeys {
				deps[authKey] = true
			}
		}

		if group.Category != models.CategoryAuth {
			for _, name := range group.Consumes {
				for _, producerKey := range producerOf[name] {
					if producerKey == key {
						continue
					}
					deps[producerKey] = true
				}
			}
		}

		for dep := range deps {
			group.Dependencies = append(group.Dependencies, dep)
		}
		sort.Strings(group.Dependencies)
	}
}

var categoryOrder = map[models.EndpointCategory]int{
	models.CategoryRead:   0,
	models.CategoryWrite:  1,
	models.CategoryDelete: 2,
}

// sortGroups applies spec.md §4.2's emission order: auth first, then
// ascending by dependency count, then category order, then alphabetical
// path.
func sortGroups(groups []*models.EndpointGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		aAuth, bAuth := a.Category == models.CategoryAuth, b.Category == models.CategoryAuth
		if aAuth != bAuth {
			return aAuth
		}
		if len(a.Dependencies) != len(b.Dependencies) {
			return len(a.Dependencies) < len(b.Dependencies)
		}
		if categoryOrder[a.Category] != categoryOrder[b.Category] {
			return categoryOrder[a.Category] < categoryOrder[b.Category]
		}
		return a.NormalizedPath < b.NormalizedPath
	})
}
