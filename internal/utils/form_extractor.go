package utils

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// FormExtractor finds security-relevant HTML forms (CSRF-token carriers,
// login/credential forms) in a captured response body, feeding C5's
// CSRF-provenance inference and C10's dom_extraction candidates.
type FormExtractor struct {
	csrfPatterns []*regexp.Regexp
}

func NewFormExtractor() *FormExtractor {
	return &FormExtractor{
		csrfPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(csrf[_-]?token|_token|authenticity_token)`),
			regexp.MustCompile(`(?i)(x-csrf-token|csrf)`),
		},
	}
}

// ExtractForms finds and extracts security-relevant forms from an HTML body.
func (fe *FormExtractor) ExtractForms(htmlContent string) []*models.FormWitness {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil
	}

	var forms []*models.FormWitness

	doc.Find("form").Each(func(i int, s *goquery.Selection) {
		action, _ := s.Attr("action")
		method, _ := s.Attr("method")
		if method == "" {
			method = "GET"
		}

		if action == "" || action == "#" {
			return
		}

		form := &models.FormWitness{
			FormID:    fe.generateFormID(action, method),
			Action:    action,
			Method:    strings.ToUpper(method),
			FirstSeen: time.Now().Unix(),
		}

		hasSensitiveField := false
		s.Find("input, select, textarea").Each(func(j int, field *goquery.Selection) {
			fieldType, _ := field.Attr("type")
			if fieldType == "" {
				fieldType = "text"
			}

			name, _ := field.Attr("name")
			if name == "" {
				return
			}

			if !form.HasCSRFToken {
				for _, pattern := range fe.csrfPatterns {
					if pattern.MatchString(name) {
						form.HasCSRFToken = true
						form.CSRFTokenName = name
					}
				}
			}

			if fe.isSensitiveField(fieldType, name) {
				hasSensitiveField = true
			}
			form.FieldNames = append(form.FieldNames, name)
		})

		// Only keep forms with CSRF tokens or sensitive (login/credential)
		// fields — everything else is noise for the capture pipeline.
		if form.HasCSRFToken || hasSensitiveField {
			forms = append(forms, form)
		}
	})

	return forms
}

func (fe *FormExtractor) generateFormID(action, method string) string {
	hash := sha256.Sum256([]byte(action + "|" + method))
	return fmt.Sprintf("%x", hash)[:16]
}

func (fe *FormExtractor) isSensitiveField(fieldType, name string) bool {
	name = strings.ToLower(name)
	fieldType = strings.ToLower(fieldType)

	if fieldType == "password" || fieldType == "email" || fieldType == "tel" {
		return true
	}

	sensitivePatterns := []string{"password", "pass", "secret", "token", "key", "ssn", "credit"}
	for _, pattern := range sensitivePatterns {
		if strings.Contains(name, pattern) {
			return true
		}
	}

	return false
}
