package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/log"
	"github.com/agentbrowser/bap/registry"
	"github.com/agentbrowser/bap/selector"
)

func TestPreferredSelectorPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  rawElement
		want string
	}{
		{
			"testId first",
			rawElement{TestID: "login", AriaLabel: "Log in", ID: "btn", Text: "Log in", TagName: "button"},
			`testid:login`,
		},
		{
			"aria label with role",
			rawElement{Role: "button", AriaLabel: "Close dialog", ID: "x", Text: "X", TagName: "button"},
			`role:button:"Close dialog"`,
		},
		{
			"short visible text",
			rawElement{Role: "link", Text: "Pricing", ID: "nav-pricing", TagName: "a"},
			`text:"Pricing"`,
		},
		{
			"long text falls through to id",
			rawElement{Role: "link", Text: strings.Repeat("long ", 20), ID: "tos", TagName: "a"},
			`css:#tos`,
		},
		{
			"name attribute",
			rawElement{Role: "textbox", NameAttr: "email", TagName: "input"},
			`css:input[name="email"]`,
		},
		{
			"structural path fallback",
			rawElement{Role: "button", TagName: "button", CSSPath: "body > div:nth-of-type(2) > button"},
			`css:body > div:nth-of-type(2) > button`,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, selector.Format(preferredSelector(tc.raw)))
		})
	}
}

// observePage fakes the engine surface the observe pipeline touches. The
// embedded interface panics on everything else, which is what we want.
type observePage struct {
	engine.Page

	url      string
	title    string
	raws     []rawElement
	png      []byte
	lastEval string
}

func (p *observePage) URL(context.Context) (string, error)   { return p.url, nil }
func (p *observePage) Title(context.Context) (string, error) { return p.title, nil }

func (p *observePage) ViewportSize(context.Context) (int, int, error) { return 1280, 720, nil }

func (p *observePage) Screenshot(context.Context, engine.ScreenshotOptions) ([]byte, error) {
	return p.png, nil
}

func (p *observePage) Evaluate(_ context.Context, _ string, script string, out any) error {
	p.lastEval = script
	switch v := out.(type) {
	case *[]rawElement:
		*v = p.raws
	case *string:
		*v = "annotated-base64"
	}
	return nil
}

func TestObserveElements(t *testing.T) {
	t.Parallel()

	page := &observePage{
		url:   "https://example.com/",
		title: "Example",
		raws: []rawElement{
			{Role: "button", Name: "Submit", TagName: "button", TestID: "submit", Text: "Submit",
				Clickable: true, Bounds: &registry.Bounds{X: 10, Y: 20, Width: 80, Height: 30}},
			{Role: "textbox", Name: "Email", TagName: "input", NameAttr: "email", InputType: "email",
				Editable: true, Bounds: &registry.Bounds{X: 10, Y: 60, Width: 200, Height: 30}},
		},
	}

	o := NewObserver(log.NewNullLogger())
	reg := registry.New()

	obs, err := o.Observe(context.Background(), page, "", reg, ObserveOptions{IncludeMetadata: true})
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/", obs.URL)
	assert.Equal(t, "Example", obs.Title)
	require.NotNil(t, obs.Viewport)
	assert.Equal(t, 1280, obs.Viewport.Width)

	require.Len(t, obs.Elements, 2)
	submit := obs.Elements[0]
	assert.Equal(t, "@submit", submit.Ref)
	assert.Equal(t, registry.StabilityNew, submit.Stability)
	assert.Equal(t, "testid:submit", submit.Selector)
	assert.True(t, submit.Clickable)
	assert.Nil(t, submit.Bounds, "bounds are omitted unless requested")

	assert.Equal(t, 2, obs.RegistrySize)

	// Second pass over the same page reports the elements stable.
	obs, err = o.Observe(context.Background(), page, "", reg, ObserveOptions{})
	require.NoError(t, err)
	assert.Equal(t, registry.StabilityStable, obs.Elements[0].Stability)
}

func TestObserveElementsOptOut(t *testing.T) {
	t.Parallel()

	page := &observePage{url: "https://example.com/"}
	o := NewObserver(log.NewNullLogger())

	off := false
	obs, err := o.Observe(context.Background(), page, "", registry.New(), ObserveOptions{IncludeElements: &off})
	require.NoError(t, err)

	assert.Empty(t, obs.Elements)
	assert.Empty(t, page.lastEval, "enumeration must not run when elements are excluded")
}

func TestObserveMaxElementsClamped(t *testing.T) {
	t.Parallel()

	page := &observePage{url: "https://example.com/"}
	o := NewObserver(log.NewNullLogger())

	_, err := o.Observe(context.Background(), page, "", registry.New(), ObserveOptions{MaxElements: 10000})
	require.NoError(t, err)

	// The evaluated script embeds its options as JSON.
	i := strings.LastIndex(page.lastEval, ")(")
	require.Greater(t, i, 0)
	var args struct {
		MaxElements int `json:"maxElements"`
	}
	require.NoError(t, json.Unmarshal([]byte(page.lastEval[i+2:len(page.lastEval)-1]), &args))
	assert.Equal(t, MaxElementsCap, args.MaxElements)
}

func TestObserveScreenshotWithAnnotation(t *testing.T) {
	t.Parallel()

	page := &observePage{
		url: "https://example.com/",
		png: []byte("fake-png-bytes"),
		raws: []rawElement{
			{Role: "button", Name: "Go", TagName: "button", TestID: "go",
				Bounds: &registry.Bounds{X: 1, Y: 2, Width: 50, Height: 20}},
		},
	}
	o := NewObserver(log.NewNullLogger())

	obs, err := o.Observe(context.Background(), page, "", registry.New(), ObserveOptions{
		IncludeScreenshot:  true,
		AnnotateScreenshot: true,
	})
	require.NoError(t, err)

	require.NotNil(t, obs.Screenshot)
	assert.True(t, obs.Screenshot.Annotated)
	assert.Equal(t, "annotated-base64", obs.Screenshot.Data)
	require.Len(t, obs.AnnotationMap, 1)
	assert.Equal(t, "1", obs.AnnotationMap[0].Label)
	assert.Equal(t, "@go", obs.AnnotationMap[0].Ref)
}

func TestObserveAnnotationWithoutBounds(t *testing.T) {
	t.Parallel()

	// No element carries drawable bounds, so no marks exist and the
	// screenshot must not claim to be annotated.
	page := &observePage{
		url:  "https://example.com/",
		png:  []byte("fake-png-bytes"),
		raws: []rawElement{{Role: "button", Name: "Go", TagName: "button", TestID: "go"}},
	}
	o := NewObserver(log.NewNullLogger())

	obs, err := o.Observe(context.Background(), page, "", registry.New(), ObserveOptions{
		IncludeScreenshot:  true,
		AnnotateScreenshot: true,
	})
	require.NoError(t, err)

	require.NotNil(t, obs.Screenshot)
	assert.False(t, obs.Screenshot.Annotated)
	assert.Empty(t, obs.AnnotationMap)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("fake-png-bytes")), obs.Screenshot.Data)
}

func TestObserveScreenshotWithoutAnnotation(t *testing.T) {
	t.Parallel()

	page := &observePage{url: "https://example.com/", png: []byte("fake-png-bytes")}
	o := NewObserver(log.NewNullLogger())

	off := false
	obs, err := o.Observe(context.Background(), page, "", registry.New(), ObserveOptions{
		IncludeScreenshot: true,
		IncludeElements:   &off,
	})
	require.NoError(t, err)

	require.NotNil(t, obs.Screenshot)
	assert.False(t, obs.Screenshot.Annotated)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("fake-png-bytes")), obs.Screenshot.Data)
}

func TestObserveRefreshResetsRegistry(t *testing.T) {
	t.Parallel()

	page := &observePage{
		url:  "https://example.com/",
		raws: []rawElement{{Role: "button", TagName: "button", TestID: "go"}},
	}
	o := NewObserver(log.NewNullLogger())
	reg := registry.New()

	_, err := o.Observe(context.Background(), page, "", reg, ObserveOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())

	page.raws = nil
	obs, err := o.Observe(context.Background(), page, "", reg, ObserveOptions{RefreshRefs: true})
	require.NoError(t, err)
	assert.Zero(t, obs.RegistrySize)
}
