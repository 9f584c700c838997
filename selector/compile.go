package selector

import (
	"fmt"
	"strings"
)

// LocatorKind tells the engine which query mechanism a compiled selector
// needs.
type LocatorKind int

const (
	// LocatorCSS is a CSS query.
	LocatorCSS LocatorKind = iota
	// LocatorXPath is an XPath query.
	LocatorXPath
	// LocatorCoordinates skips element lookup; click/hover use the raw point.
	LocatorCoordinates
)

// Compiled is the engine-facing form of a selector.
type Compiled struct {
	Kind  LocatorKind
	Query string
	X, Y  float64
}

// Implicit ARIA roles for common tags, used when compiling role selectors.
var roleTags = map[string][]string{
	"button":   {"button", "input[type='button']", "input[type='submit']"},
	"link":     {"a[href]"},
	"textbox":  {"input:not([type])", "input[type='text']", "input[type='email']", "input[type='password']", "input[type='search']", "input[type='tel']", "input[type='url']", "textarea"},
	"checkbox": {"input[type='checkbox']"},
	"radio":    {"input[type='radio']"},
	"combobox": {"select"},
	"listbox":  {"select[multiple]"},
	"heading":  {"h1", "h2", "h3", "h4", "h5", "h6"},
	"img":      {"img"},
}

// Compile lowers a selector variant into an engine locator. Ref selectors
// must be resolved against the element registry before compilation; semantic
// selectors fall back to a text match, which the caller is expected to log.
func Compile(s Selector) (Compiled, error) {
	if err := s.Validate(); err != nil {
		return Compiled{}, err
	}
	switch s.Type {
	case TypeCSS:
		return Compiled{Kind: LocatorCSS, Query: s.Value}, nil
	case TypeXPath:
		return Compiled{Kind: LocatorXPath, Query: s.Value}, nil
	case TypeTestID:
		return Compiled{Kind: LocatorCSS, Query: fmt.Sprintf("[data-testid=%q]", s.Value)}, nil
	case TypePlaceholder:
		return Compiled{Kind: LocatorCSS, Query: fmt.Sprintf("[placeholder=%q]", s.Value)}, nil
	case TypeCoordinates:
		return Compiled{Kind: LocatorCoordinates, X: s.X, Y: s.Y}, nil
	case TypeText, TypeSemantic:
		return Compiled{Kind: LocatorXPath, Query: textXPath(s.Value, s.Exact)}, nil
	case TypeLabel:
		return Compiled{Kind: LocatorXPath, Query: labelXPath(s.Value)}, nil
	case TypeRole:
		return Compiled{Kind: LocatorXPath, Query: roleXPath(s.Role, s.Name, s.Exact)}, nil
	case TypeRef:
		return Compiled{}, fmt.Errorf("ref selector %s must be resolved via the element registry", s.Ref)
	default:
		return Compiled{}, fmt.Errorf("unknown selector type %q", s.Type)
	}
}

func textXPath(value string, exact bool) string {
	lit := xpathLiteral(value)
	if exact {
		return fmt.Sprintf("//*[normalize-space(.)=%s][not(.//*[normalize-space(.)=%s])]", lit, lit)
	}
	return fmt.Sprintf("//*[contains(normalize-space(.),%s)][not(.//*[contains(normalize-space(.),%s)])]", lit, lit)
}

func labelXPath(value string) string {
	lit := xpathLiteral(value)
	// Three association forms: for/id, wrapping label, aria-label.
	return fmt.Sprintf(
		"//*[@id=//label[normalize-space(.)=%s]/@for]"+
			" | //label[normalize-space(.)=%s]//input"+
			" | //label[normalize-space(.)=%s]//textarea"+
			" | //label[normalize-space(.)=%s]//select"+
			" | //*[@aria-label=%s]",
		lit, lit, lit, lit, lit)
}

func roleXPath(role, name string, exact bool) string {
	var alternatives []string
	alternatives = append(alternatives, fmt.Sprintf("@role=%s", xpathLiteral(role)))
	for _, css := range roleTags[role] {
		alternatives = append(alternatives, cssTagToXPathPredicate(css))
	}
	rolePred := strings.Join(alternatives, " or ")

	if name == "" {
		return fmt.Sprintf("//*[%s]", rolePred)
	}
	lit := xpathLiteral(name)
	var namePred string
	if exact {
		namePred = fmt.Sprintf("@aria-label=%s or normalize-space(.)=%s or @value=%s", lit, lit, lit)
	} else {
		namePred = fmt.Sprintf("contains(@aria-label,%s) or contains(normalize-space(.),%s) or contains(@value,%s)", lit, lit, lit)
	}
	return fmt.Sprintf("//*[%s][%s]", rolePred, namePred)
}

// cssTagToXPathPredicate converts the simple tag[attr='v'] patterns of
// roleTags into an XPath predicate on the current node.
func cssTagToXPathPredicate(css string) string {
	if tag, ok := strings.CutSuffix(css, ":not([type])"); ok {
		// Untyped inputs count as textboxes.
		return fmt.Sprintf("(local-name()=%s and not(@type))", xpathLiteral(tag))
	}
	tag, attr, has := strings.Cut(css, "[")
	if !has {
		return fmt.Sprintf("local-name()=%s", xpathLiteral(tag))
	}
	attr = strings.TrimSuffix(attr, "]")
	switch {
	case strings.HasPrefix(attr, "type="):
		val := strings.Trim(strings.TrimPrefix(attr, "type="), "'")
		return fmt.Sprintf("(local-name()=%s and @type=%s)", xpathLiteral(tag), xpathLiteral(val))
	case attr == "href":
		return fmt.Sprintf("(local-name()=%s and @href)", xpathLiteral(tag))
	case attr == "multiple":
		return fmt.Sprintf("(local-name()=%s and @multiple)", xpathLiteral(tag))
	default:
		return fmt.Sprintf("local-name()=%s", xpathLiteral(tag))
	}
}

// xpathLiteral quotes a string for embedding in an XPath expression,
// handling values that contain both quote characters via concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`,"'",`)
		}
		b.WriteString("'" + p + "'")
	}
	b.WriteString(")")
	return b.String()
}
