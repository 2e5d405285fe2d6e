// Package utils holds small, self-contained analysis helpers shared by the
// capture pipeline (C2-C5): resource/CRUD classification and form
// extraction.
package utils

import (
	"net/url"
	"strings"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// OperationType is the CRUD operation a request maps to.
type OperationType string

const (
	OperationRead   OperationType = "read"
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// CRUDMapper classifies requests by resource path and CRUD operation, feeding
// a domain's ResourceWitness map during capture so EndpointGroup generation
// (C3) sees which paths cluster into the same resource.
type CRUDMapper struct{}

func NewCRUDMapper() *CRUDMapper {
	return &CRUDMapper{}
}

// MapRequest analyzes an HTTP request and maps it to a CRUD operation.
func (cm *CRUDMapper) MapRequest(method, path string) (resource string, operation OperationType, detected bool) {
	method = strings.ToUpper(method)

	resource = cm.extractResourcePath(path)
	if resource == "" {
		return "", "", false
	}

	switch method {
	case "GET":
		operation = OperationRead
	case "POST":
		operation = OperationCreate
	case "PUT", "PATCH":
		operation = OperationUpdate
	case "DELETE":
		operation = OperationDelete
	default:
		operation = OperationType(method)
	}

	return resource, operation, true
}

func (cm *CRUDMapper) extractResourcePath(path string) string {
	parsedURL, err := url.Parse(path)
	if err != nil {
		return ""
	}

	path = parsedURL.Path
	if path == "" || path == "/" {
		return ""
	}
	path = strings.TrimSuffix(path, "/")

	if cm.isStaticResource(path) {
		return ""
	}

	if strings.HasPrefix(path, "/api/") {
		return cm.extractAPIResource(path)
	}

	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) >= 2 {
		if !cm.looksLikeID(parts[1]) {
			return "/" + parts[0] + "/" + parts[1]
		}
		return "/" + parts[0]
	}

	if len(parts) == 1 && !cm.looksLikeStatic(parts[0]) {
		return "/" + parts[0]
	}

	return ""
}

func (cm *CRUDMapper) isStaticResource(path string) bool {
	staticPatterns := []string{
		"/static/", "/assets/", "/css/", "/js/", "/img/", "/images/",
		"/public/", "/files/", "/uploads/", "/media/",
	}
	for _, pattern := range staticPatterns {
		if strings.HasPrefix(path, pattern) {
			return true
		}
	}

	if strings.Contains(path, ".") {
		parts := strings.Split(path, ".")
		ext := strings.ToLower(parts[len(parts)-1])
		staticExts := []string{"css", "js", "png", "jpg", "jpeg", "gif", "ico", "svg", "woff", "ttf"}
		for _, staticExt := range staticExts {
			if ext == staticExt {
				return true
			}
		}
	}
	return false
}

func (cm *CRUDMapper) looksLikeID(s string) bool {
	if len(s) <= 10 && isAllDigits(s) {
		return true
	}
	if len(s) >= 8 && len(s) <= 36 && isHexadecimal(s) {
		return true
	}
	return false
}

func (cm *CRUDMapper) looksLikeStatic(s string) bool {
	staticWords := []string{"static", "assets", "css", "js", "img", "images", "public", "files"}
	for _, word := range staticWords {
		if s == word {
			return true
		}
	}
	return false
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isHexadecimal(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

func (cm *CRUDMapper) extractAPIResource(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/api/"), "/")
	if len(parts) == 0 {
		return ""
	}

	if parts[0] == "v1" || parts[0] == "v2" {
		if len(parts) >= 2 {
			return "/api/" + parts[0] + "/" + parts[1]
		}
		return ""
	}

	if parts[0] == "" {
		return ""
	}
	return "/api/" + parts[0]
}

// UpdateResourceMapping records the detected resource/operation onto ctx's
// per-domain ResourceWitness map. ctx already serializes concurrent access.
func (cm *CRUDMapper) UpdateResourceMapping(ctx *models.DomainContext, method, path string) {
	resource, operation, detected := cm.MapRequest(method, path)
	if !detected {
		return
	}
	ctx.AddResource(resource, strings.ToUpper(method), string(operation))
}

// HasFullCRUD reports whether a resource's observed operations cover the
// full CRUD set, treating PATCH as a substitute for PUT.
func (cm *CRUDMapper) HasFullCRUD(res *models.ResourceWitness) bool {
	required := []string{"GET", "POST", "PUT", "DELETE"}
	for _, method := range required {
		if _, exists := res.Operations[method]; !exists {
			if method == "PUT" && res.Operations["PATCH"] != "" {
				continue
			}
			return false
		}
	}
	return true
}

// ResourceStats summarizes how many of ctx's detected resources support the
// full CRUD surface versus a partial one.
func (cm *CRUDMapper) ResourceStats(ctx *models.DomainContext) map[string]int {
	stats := make(map[string]int)
	for _, res := range ctx.Resources {
		if cm.HasFullCRUD(res) {
			stats["full_crud"]++
		} else {
			stats["partial_crud"]++
		}
	}
	stats["total_resources"] = len(ctx.Resources)
	return stats
}
