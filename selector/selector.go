// Package selector models the BAP selector variants as a tagged union and
// translates them into engine locators.
package selector

import (
	"encoding/json"
	"fmt"
)

// Type discriminates the selector union.
type Type string

const (
	TypeCSS         Type = "css"
	TypeXPath       Type = "xpath"
	TypeRole        Type = "role"
	TypeText        Type = "text"
	TypeLabel       Type = "label"
	TypePlaceholder Type = "placeholder"
	TypeTestID      Type = "testId"
	TypeCoordinates Type = "coordinates"
	TypeRef         Type = "ref"
	TypeSemantic    Type = "semantic"
)

// Selector is one variant of the selector union. Which fields are meaningful
// depends on Type; Validate enforces that.
type Selector struct {
	Type  Type    `json:"type"`
	Value string  `json:"value,omitempty"`
	Role  string  `json:"role,omitempty"`
	Name  string  `json:"name,omitempty"`
	Exact bool    `json:"exact,omitempty"`
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`
	Ref   string  `json:"ref,omitempty"`
}

// UnmarshalJSON rejects unknown tags at the parser, keeping the union closed.
func (s *Selector) UnmarshalJSON(data []byte) error {
	type plain Selector
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	switch p.Type {
	case TypeCSS, TypeXPath, TypeRole, TypeText, TypeLabel,
		TypePlaceholder, TypeTestID, TypeCoordinates, TypeRef, TypeSemantic:
	default:
		return fmt.Errorf("unknown selector type %q", p.Type)
	}
	*s = Selector(p)
	return nil
}

// Validate checks that the fields required by the variant are present.
func (s Selector) Validate() error {
	switch s.Type {
	case TypeCSS, TypeXPath, TypeText, TypeLabel, TypePlaceholder, TypeTestID, TypeSemantic:
		if s.Value == "" {
			return fmt.Errorf("selector %s requires a value", s.Type)
		}
	case TypeRole:
		if s.Role == "" {
			return fmt.Errorf("role selector requires a role")
		}
	case TypeCoordinates:
		if s.X < 0 || s.Y < 0 {
			return fmt.Errorf("coordinates must be non-negative")
		}
	case TypeRef:
		if s.Ref == "" {
			return fmt.Errorf("ref selector requires a ref")
		}
	default:
		return fmt.Errorf("unknown selector type %q", s.Type)
	}
	return nil
}

// CSS is a convenience constructor used by the observe pipeline.
func CSS(value string) Selector { return Selector{Type: TypeCSS, Value: value} }

// Text builds a text selector.
func Text(value string, exact bool) Selector {
	return Selector{Type: TypeText, Value: value, Exact: exact}
}

// Role builds a role selector with an optional accessible name.
func Role(role, name string) Selector {
	return Selector{Type: TypeRole, Role: role, Name: name}
}

// TestID builds a data-testid selector.
func TestID(value string) Selector { return Selector{Type: TypeTestID, Value: value} }

// RefSelector builds a stable-ref selector.
func RefSelector(ref string) Selector { return Selector{Type: TypeRef, Ref: ref} }
