package policy

import (
	"regexp"
	"strings"

	"github.com/agentbrowser/bap/protocol"
	"github.com/agentbrowser/bap/selector"
)

const maxSelectorLength = 10000

var (
	cssURLJavascriptRe = regexp.MustCompile(`(?i)url\s*\(\s*['"]?\s*javascript:`)
	cssExpressionRe    = regexp.MustCompile(`(?i)expression\s*\(`)
	xpathDocumentRe    = regexp.MustCompile(`(?i)document\s*\(`)
)

// SelectorGuard rejects selector values that are empty, oversized, or carry
// injection patterns.
type SelectorGuard struct {
	audit *AuditLog
}

// NewSelectorGuard builds a selector guard.
func NewSelectorGuard(audit *AuditLog) *SelectorGuard {
	return &SelectorGuard{audit: audit}
}

// Check validates a selector variant prior to resolution.
func (g *SelectorGuard) Check(sel selector.Selector) error {
	value := sel.Value
	if sel.Type == selector.TypeRef {
		value = sel.Ref
	}
	if sel.Type == selector.TypeRole {
		value = sel.Role + sel.Name
	}
	if sel.Type != selector.TypeCoordinates && strings.TrimSpace(value) == "" {
		return protocol.ErrInvalidParams("selector value is empty")
	}
	if len(value) > maxSelectorLength {
		g.audit.Record(AuditSelectorTooLong, map[string]any{
			"type":   string(sel.Type),
			"length": len(value),
		})
		return protocol.ErrInvalidParams("selector value too long").
			WithDetails(map[string]any{"maxLength": maxSelectorLength})
	}

	switch sel.Type {
	case selector.TypeCSS:
		if cssURLJavascriptRe.MatchString(value) || cssExpressionRe.MatchString(value) {
			g.audit.Record(AuditSelectorInjection, map[string]any{"type": "css"})
			return protocol.ErrInvalidParams("selector contains an injection pattern")
		}
	case selector.TypeXPath:
		if xpathDocumentRe.MatchString(value) {
			g.audit.Record(AuditSelectorInjection, map[string]any{"type": "xpath"})
			return protocol.ErrInvalidParams("selector contains an injection pattern")
		}
	}
	return nil
}
