package policy

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RedactedPlaceholder replaces every credential value on its way out.
const RedactedPlaceholder = "[REDACTED]"

var sensitiveDataAttrs = []string{
	"data-password", "data-secret", "data-token",
	"data-api-key", "data-credential", "data-auth",
}

var bearerJWTRe = regexp.MustCompile(`Bearer\s+eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`)

// Redactor scrubs credential material from HTML and element values before
// they reach the client. A disabled redactor passes everything through.
type Redactor struct {
	Disabled bool

	audit *AuditLog
}

// NewRedactor builds a redactor; disabled is a per-deployment opt-out.
func NewRedactor(disabled bool, audit *AuditLog) *Redactor {
	return &Redactor{Disabled: disabled, audit: audit}
}

// RedactHTML scrubs an HTML document: password input values, inputs marked
// data-sensitive, sensitive data-* attribute values, and bearer tokens. On a
// parse failure the string-level patterns still apply.
func (r *Redactor) RedactHTML(html string) string {
	if r.Disabled || html == "" {
		return html
	}
	redacted := 0

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		doc.Find(`input[type="password"], input[data-sensitive]`).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr("value"); ok && v != "" {
				s.SetAttr("value", RedactedPlaceholder)
				redacted++
			}
		})
		for _, attr := range sensitiveDataAttrs {
			doc.Find("[" + attr + "]").Each(func(_ int, s *goquery.Selection) {
				if v, ok := s.Attr(attr); ok && v != "" {
					s.SetAttr(attr, RedactedPlaceholder)
					redacted++
				}
			})
		}
		if out, err := doc.Html(); err == nil {
			html = out
		}
	}

	if bearerJWTRe.MatchString(html) {
		html = bearerJWTRe.ReplaceAllString(html, "Bearer "+RedactedPlaceholder)
		redacted++
	}
	if redacted > 0 {
		r.audit.Record(AuditValueRedacted, map[string]any{"count": redacted, "surface": "html"})
	}
	return html
}

// RedactText applies the string-level patterns to non-HTML text output.
func (r *Redactor) RedactText(text string) string {
	if r.Disabled {
		return text
	}
	if bearerJWTRe.MatchString(text) {
		r.audit.Record(AuditValueRedacted, map[string]any{"surface": "text"})
		return bearerJWTRe.ReplaceAllString(text, "Bearer "+RedactedPlaceholder)
	}
	return text
}

// ShouldRedactValue reports whether the value of an element with the given
// input type and attributes must be replaced by the placeholder.
func (r *Redactor) ShouldRedactValue(inputType string, attrs map[string]string) bool {
	if r.Disabled {
		return false
	}
	if strings.EqualFold(inputType, "password") {
		return true
	}
	if _, ok := attrs["data-sensitive"]; ok {
		return true
	}
	return false
}

// RedactElementValue replaces the value surface of a sensitive element and
// audits the replacement.
func (r *Redactor) RedactElementValue(inputType string, attrs map[string]string, value string) string {
	if !r.ShouldRedactValue(inputType, attrs) {
		return value
	}
	r.audit.Record(AuditValueRedacted, map[string]any{"surface": "element"})
	return RedactedPlaceholder
}
