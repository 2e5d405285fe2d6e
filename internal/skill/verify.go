package skill

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/unbrowse-ai/unbrowse-core/internal/headers"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// ProbeResult is one endpoint verification outcome. SchemaValid is nil when
// the endpoint carries no ResponseSchema to check against (schema
// conformance is optional, never a removal criterion).
type ProbeResult struct {
	EndpointID   string
	Status       int
	Err          error
	SchemaValid  *bool
	SchemaErrors []string
}

// Prober issues a GET against url with headers and reports the observed
// status and response body. The real implementation lives behind
// internal/browser's network collaborator; tests supply a fake.
type Prober func(url string, headers map[string]string) (status int, body []byte, err error)

// VerifyEndpoints probes every concrete GET endpoint in skill, per spec.md
// §4.9's endpoint-verification paragraph: templated endpoints are skipped
// (not testable, not pruned); failing endpoints are removed from the
// returned manifest. Results for every attempted probe are also returned.
//
// When an endpoint carries a ResponseSchema, the probed body is checked
// against it with gojsonschema as an optional structural sanity check —
// a mismatch is recorded on the ProbeResult but never removes the
// endpoint, since a live response can legitimately vary from the
// inferred schema (extra fields, nulled-out optionals) without the
// endpoint having broken.
func VerifyEndpoints(skill *models.SkillManifest, baseURL string, profile *models.HeaderProfile, cookies map[string]string, probe Prober) (*models.SkillManifest, []ProbeResult) {
	verified := *skill
	verified.Endpoints = nil

	var results []ProbeResult
	for _, ep := range skill.Endpoints {
		if ep.Method != "GET" || strings.Contains(ep.URLTemplate, "{") {
			verified.Endpoints = append(verified.Endpoints, ep)
			continue
		}

		reqHeaders := headers.ResolveHeaders(profile, ep.Method, ep.URLTemplate, nil, cookies, models.HeaderModeNode)
		status, body, err := probe(baseURL+ep.URLTemplate, reqHeaders)
		result := ProbeResult{EndpointID: ep.EndpointID, Status: status, Err: err}

		if err != nil || status < 200 || status > 299 {
			results = append(results, result)
			continue // removed: neither appended nor kept
		}

		if len(ep.ResponseSchema) > 0 {
			valid, schemaErrs := validateResponseBody(ep.ResponseSchema, body)
			result.SchemaValid = &valid
			result.SchemaErrors = schemaErrs
		}
		results = append(results, result)

		ep.VerificationStatus = models.VerificationVerified
		verified.Endpoints = append(verified.Endpoints, ep)
	}

	return &verified, results
}

// validateResponseBody checks body against the JSON-schema document derived
// from a response-body field-type map (see responseSchemaDocument), and
// reports whether it passed plus any gojsonschema failure descriptions. A
// malformed body or schema-build error counts as invalid, reported as a
// single error string, rather than panicking the caller.
func validateResponseBody(fieldTypes map[string]string, body []byte) (bool, []string) {
	if len(body) == 0 {
		return false, []string{"empty response body"}
	}

	schemaLoader := gojsonschema.NewGoLoader(responseSchemaDocument(fieldTypes))
	documentLoader := gojsonschema.NewBytesLoader(body)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return false, []string{err.Error()}
	}
	if result.Valid() {
		return true, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return false, errs
}

// responseSchemaDocument builds a permissive draft-4 JSON schema from the
// type tags schema.InferSchema assigned to each response field: an object
// schema constraining only the declared fields' types, with no "required"
// list, since a live probe legitimately may omit optional fields.
func responseSchemaDocument(fieldTypes map[string]string) map[string]any {
	properties := make(map[string]any, len(fieldTypes))
	for field, tag := range fieldTypes {
		properties[field] = map[string]any{"type": jsonSchemaType(tag)}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
	}
}

// jsonSchemaType maps an internal/schema.TypeTag string to the JSON-schema
// type vocabulary gojsonschema expects; unrecognized tags fall back to
// accepting any type rather than failing validation on an inference gap.
func jsonSchemaType(tag string) any {
	switch tag {
	case "string", "number", "boolean", "null", "array", "object":
		return tag
	default:
		return []string{"string", "number", "boolean", "null", "array", "object"}
	}
}
