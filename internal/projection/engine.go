// Package projection implements C15: the post-execution shaping pipeline
// (path walk, extract, limit, filter, require, compact) applied to a
// skill's raw result before it reaches an agent.
package projection

import (
	"strings"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// FilterSpec keeps items whose Field equals Equals.
type FilterSpec struct {
	Field  string
	Equals any
}

// Recipe is either a stored extraction recipe or the ad-hoc
// {path?, extract?, limit?} an agent supplies inline, per spec.md §4.13.
type Recipe struct {
	Path    string
	Extract []string
	Limit   int
	Filter  *FilterSpec
	Require []string
	Compact bool
}

// IsZero reports whether the recipe has no transform to apply.
func (r Recipe) IsZero() bool {
	return r.Path == "" && len(r.Extract) == 0 && r.Limit == 0 && r.Filter == nil && len(r.Require) == 0 && !r.Compact
}

// Apply runs recipe's steps over result in spec.md §4.13's fixed order and
// reports whether any transform actually ran.
func Apply(result any, recipe Recipe) (any, bool) {
	if recipe.IsZero() {
		return result, false
	}

	transformed := false

	if recipe.Path != "" {
		result = ResolvePath(result, recipe.Path)
		transformed = true
	}
	if len(recipe.Extract) > 0 {
		result = applyExtract(result, ParseExtractSpec(recipe.Extract))
		transformed = true
	}
	if recipe.Limit > 0 {
		result = applyLimit(result, recipe.Limit)
		transformed = true
	}
	if recipe.Filter != nil {
		result = applyFilter(result, *recipe.Filter)
		transformed = true
	}
	if len(recipe.Require) > 0 {
		result = applyRequire(result, recipe.Require)
		transformed = true
	}
	if recipe.Compact {
		result = Compact(result)
		transformed = true
	}

	return result, transformed
}

// SlimTrace replaces a trace with the fields-only copy spec.md §4.13 step 7
// calls for, once any transform has run.
func SlimTrace(trace *models.ExecutionTrace) *models.ExecutionTrace {
	if trace == nil {
		return nil
	}
	return &models.ExecutionTrace{
		TraceID:      trace.TraceID,
		SkillID:      trace.SkillID,
		EndpointID:   trace.EndpointID,
		Success:      trace.Success,
		StatusCode:   trace.StatusCode,
		TraceVersion: trace.TraceVersion,
	}
}

// ResolvePath walks value with a dot-path, where a "[]"-suffixed segment
// flattens the current array and applies the remaining path to each
// element, dropping elements that resolve to nothing, per spec.md §4.13
// step 1.
func ResolvePath(value any, path string) any {
	if path == "" {
		return value
	}
	return resolveTokens(value, strings.Split(path, "."))
}

func resolveTokens(value any, tokens []string) any {
	if len(tokens) == 0 {
		return value
	}
	tok := tokens[0]
	rest := tokens[1:]

	expand := strings.HasSuffix(tok, "[]")
	key := strings.TrimSuffix(tok, "[]")

	if key != "" {
		value = fieldOf(value, key)
	}
	if value == nil {
		return nil
	}
	if !expand {
		return resolveTokens(value, rest)
	}

	arr, ok := value.([]any)
	if !ok {
		return nil
	}

	out := make([]any, 0, len(arr))
	for _, item := range arr {
		resolved := resolveTokens(item, rest)
		if resolved == nil {
			continue
		}
		if sub, ok := resolved.([]any); ok {
			out = append(out, sub...)
		} else {
			out = append(out, resolved)
		}
	}
	return out
}

func fieldOf(value any, key string) any {
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	return v
}

// ExtractField is one "alias:path" entry from a recipe's extract list.
type ExtractField struct {
	Alias string
	Path  string
}

// ParseExtractSpec parses "alias:path" entries, defaulting alias to path's
// last dot-segment when omitted.
func ParseExtractSpec(spec []string) []ExtractField {
	fields := make([]ExtractField, 0, len(spec))
	for _, s := range spec {
		if idx := strings.Index(s, ":"); idx >= 0 {
			fields = append(fields, ExtractField{Alias: s[:idx], Path: s[idx+1:]})
			continue
		}
		parts := strings.Split(s, ".")
		alias := strings.TrimSuffix(parts[len(parts)-1], "[]")
		fields = append(fields, ExtractField{Alias: alias, Path: s})
	}
	return fields
}

func applyExtract(value any, fields []ExtractField) any {
	if arr, ok := value.([]any); ok {
		out := make([]any, 0, len(arr))
		for _, row := range arr {
			extracted := extractRow(row, fields)
			if allNil(extracted) {
				continue
			}
			out = append(out, extracted)
		}
		return out
	}
	return extractRow(value, fields)
}

func extractRow(row any, fields []ExtractField) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.Alias] = ResolvePath(row, f.Path)
	}
	return out
}

func allNil(row map[string]any) bool {
	for _, v := range row {
		if v != nil {
			return false
		}
	}
	return true
}

func applyLimit(value any, limit int) any {
	arr, ok := value.([]any)
	if !ok {
		return value
	}
	if len(arr) > limit {
		return arr[:limit]
	}
	return arr
}

func applyFilter(value any, filter FilterSpec) any {
	arr, ok := value.([]any)
	if !ok {
		return value
	}
	out := make([]any, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if equalValue(m[filter.Field], filter.Equals) {
			out = append(out, item)
		}
	}
	return out
}

func equalValue(a, b any) bool {
	return a == b
}

func applyRequire(value any, required []string) any {
	arr, ok := value.([]any)
	if !ok {
		return value
	}
	out := make([]any, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if hasAllRequired(m, required) {
			out = append(out, item)
		}
	}
	return out
}

func hasAllRequired(m map[string]any, required []string) bool {
	for _, field := range required {
		v, ok := m[field]
		if !ok || v == nil {
			return false
		}
		if s, ok := v.(string); ok && s == "" {
			return false
		}
	}
	return true
}

// Compact recursively strips null, empty-string, empty-array, and
// empty-object values/elements, per spec.md §4.13 step 6.
func Compact(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			cv := Compact(val)
			if isEmptyValue(cv) {
				continue
			}
			out[key] = cv
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			ci := Compact(item)
			if isEmptyValue(ci) {
				continue
			}
			out = append(out, ci)
		}
		return out
	default:
		return value
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
