package selector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var positionalRefRe = regexp.MustCompile(`^e\d+$`)

// Parse recognizes the CLI string forms:
//
//	role:button:"Sign in"   text:"Save"       label:"Email"
//	placeholder:"Search"    testid:submit      css:.btn.primary
//	xpath://button          coords:10,20       ref:@save  @save  e3
//	#id  .class             (CSS shorthand)
//
// Quoted names are unquoted; everything else is taken verbatim.
func Parse(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Selector{}, fmt.Errorf("empty selector")
	}

	switch {
	case strings.HasPrefix(s, "@"):
		return Selector{Type: TypeRef, Ref: s}, nil
	case positionalRefRe.MatchString(s):
		// Positional ref compatibility: "e3" addresses the element indexed 3
		// in the last observation.
		return Selector{Type: TypeRef, Ref: "@" + s}, nil
	case strings.HasPrefix(s, "#"), strings.HasPrefix(s, "."):
		return Selector{Type: TypeCSS, Value: s}, nil
	}

	head, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Selector{}, fmt.Errorf("unrecognized selector %q", s)
	}
	switch head {
	case "css":
		return Selector{Type: TypeCSS, Value: rest}, nil
	case "xpath":
		return Selector{Type: TypeXPath, Value: rest}, nil
	case "testid":
		return Selector{Type: TypeTestID, Value: rest}, nil
	case "text":
		return Selector{Type: TypeText, Value: unquote(rest)}, nil
	case "label":
		return Selector{Type: TypeLabel, Value: unquote(rest)}, nil
	case "placeholder":
		return Selector{Type: TypePlaceholder, Value: unquote(rest)}, nil
	case "semantic":
		return Selector{Type: TypeSemantic, Value: unquote(rest)}, nil
	case "ref":
		return Selector{Type: TypeRef, Ref: rest}, nil
	case "coords":
		x, y, err := parseCoords(rest)
		if err != nil {
			return Selector{}, err
		}
		return Selector{Type: TypeCoordinates, X: x, Y: y}, nil
	case "role":
		role, name, hasName := strings.Cut(rest, ":")
		sel := Selector{Type: TypeRole, Role: role}
		if hasName {
			sel.Name = unquote(name)
		}
		return sel, nil
	default:
		return Selector{}, fmt.Errorf("unrecognized selector %q", s)
	}
}

// Format renders the canonical string form; Format(Parse(s)) == s for every
// canonical form.
func Format(s Selector) string {
	switch s.Type {
	case TypeCSS:
		return "css:" + s.Value
	case TypeXPath:
		return "xpath:" + s.Value
	case TypeTestID:
		return "testid:" + s.Value
	case TypeText:
		return "text:" + quote(s.Value)
	case TypeLabel:
		return "label:" + quote(s.Value)
	case TypePlaceholder:
		return "placeholder:" + quote(s.Value)
	case TypeSemantic:
		return "semantic:" + quote(s.Value)
	case TypeRef:
		return "ref:" + s.Ref
	case TypeCoordinates:
		return fmt.Sprintf("coords:%s,%s", formatFloat(s.X), formatFloat(s.Y))
	case TypeRole:
		if s.Name != "" {
			return fmt.Sprintf("role:%s:%s", s.Role, quote(s.Name))
		}
		return "role:" + s.Role
	default:
		return ""
	}
}

func parseCoords(s string) (float64, float64, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("coords requires X,Y, got %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid X coordinate %q", xs)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid Y coordinate %q", ys)
	}
	return x, y, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func quote(s string) string {
	return `"` + s + `"`
}
