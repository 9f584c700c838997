package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Selector
	}{
		{`role:button:"Sign in"`, Selector{Type: TypeRole, Role: "button", Name: "Sign in"}},
		{`role:textbox`, Selector{Type: TypeRole, Role: "textbox"}},
		{`text:"Save"`, Selector{Type: TypeText, Value: "Save"}},
		{`label:"Email"`, Selector{Type: TypeLabel, Value: "Email"}},
		{`placeholder:"Search"`, Selector{Type: TypePlaceholder, Value: "Search"}},
		{`testid:submit`, Selector{Type: TypeTestID, Value: "submit"}},
		{`css:.btn.primary`, Selector{Type: TypeCSS, Value: ".btn.primary"}},
		{`xpath://button[@type="submit"]`, Selector{Type: TypeXPath, Value: `//button[@type="submit"]`}},
		{`coords:10,20`, Selector{Type: TypeCoordinates, X: 10, Y: 20}},
		{`ref:@save`, Selector{Type: TypeRef, Ref: "@save"}},
		{`@save`, Selector{Type: TypeRef, Ref: "@save"}},
		{`e3`, Selector{Type: TypeRef, Ref: "@e3"}},
		{`#login`, Selector{Type: TypeCSS, Value: "#login"}},
		{`.card`, Selector{Type: TypeCSS, Value: ".card"}},
		{`semantic:"the big red button"`, Selector{Type: TypeSemantic, Value: "the big red button"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "   ", "nonsense", "coords:10", "coords:a,b"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

// Format(Parse(s)) must reproduce every canonical form byte-for-byte.
func TestFormatRoundTrip(t *testing.T) {
	t.Parallel()
	canonical := []string{
		`role:button:"Sign in"`,
		`role:textbox`,
		`text:"Save"`,
		`label:"Email"`,
		`placeholder:"Search"`,
		`semantic:"submit the form"`,
		`testid:submit`,
		`css:#login`,
		`css:.btn.primary`,
		`xpath://button`,
		`coords:10,20`,
		`coords:10.5,20.25`,
		`ref:@save`,
	}
	for _, s := range canonical {
		sel, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, Format(sel))
	}
}

func TestUnmarshalRejectsUnknownTag(t *testing.T) {
	t.Parallel()
	var s Selector
	err := s.UnmarshalJSON([]byte(`{"type":"telepathy","value":"x"}`))
	require.Error(t, err)

	err = s.UnmarshalJSON([]byte(`{"type":"css","value":"#x"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeCSS, s.Type)
}
