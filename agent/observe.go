// Package agent implements the coarse AI-facing operations: page
// observation with stable element refs, Set-of-Marks screenshot annotation,
// composite multi-step actions, and heuristic data extraction.
package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/log"
	"github.com/agentbrowser/bap/registry"
	"github.com/agentbrowser/bap/selector"
)

const (
	// DefaultMaxElements caps enumeration when the caller does not ask.
	DefaultMaxElements = 50
	// MaxElementsCap is the hard ceiling regardless of what the caller asks.
	MaxElementsCap = 200
	// nameAsSelectorLimit bounds visible text used as a text selector.
	nameAsSelectorLimit = 50
)

// ObserveOptions selects which facets of the page an observation returns.
type ObserveOptions struct {
	IncludeMetadata      bool     `json:"includeMetadata"`
	IncludeAccessibility bool     `json:"includeAccessibility"`
	IncludeElements      *bool    `json:"includeElements,omitempty"`
	IncludeScreenshot    bool     `json:"includeScreenshot"`
	IncludeBounds        bool     `json:"includeBounds"`
	FilterRoles          []string `json:"filterRoles,omitempty"`
	MaxElements          int      `json:"maxElements,omitempty"`
	RefreshRefs          bool     `json:"refreshRefs"`
	FullPage             bool     `json:"fullPage"`

	AnnotateScreenshot bool             `json:"annotateScreenshot"`
	LabelFormat        string           `json:"labelFormat,omitempty"` // number, ref, both
	MaxLabels          int              `json:"maxLabels,omitempty"`
	AnnotationStyle    *AnnotationStyle `json:"annotationStyle,omitempty"`
}

// Element is one interactive element as reported to the client.
type Element struct {
	Ref         string           `json:"ref"`
	Stability   string           `json:"stability"`
	PreviousRef string           `json:"previousRef,omitempty"`
	Role        string           `json:"role"`
	Name        string           `json:"name,omitempty"`
	Value       string           `json:"value,omitempty"`
	TagName     string           `json:"tagName"`
	Selector    string           `json:"selector"`
	Focused     bool             `json:"focused,omitempty"`
	Disabled    bool             `json:"disabled,omitempty"`
	Clickable   bool             `json:"clickable,omitempty"`
	Editable    bool             `json:"editable,omitempty"`
	Selectable  bool             `json:"selectable,omitempty"`
	Checkable   bool             `json:"checkable,omitempty"`
	Bounds      *registry.Bounds `json:"bounds,omitempty"`
}

// Screenshot is the image facet of an observation.
type Screenshot struct {
	Data      string `json:"data"`
	Format    string `json:"format"`
	Annotated bool   `json:"annotated"`
}

// Observation is the agent/observe result.
type Observation struct {
	URL           string           `json:"url,omitempty"`
	Title         string           `json:"title,omitempty"`
	Viewport      *engine.Viewport `json:"viewport,omitempty"`
	Accessibility *engine.AXNode   `json:"accessibility,omitempty"`
	Elements      []Element        `json:"elements,omitempty"`
	Screenshot    *Screenshot      `json:"screenshot,omitempty"`
	AnnotationMap []Annotation     `json:"annotationMap,omitempty"`
	RegistrySize  int              `json:"registrySize"`
}

// rawElement is what the in-page enumerator returns per element.
type rawElement struct {
	Role         string           `json:"role"`
	Name         string           `json:"name"`
	Value        string           `json:"value"`
	TagName      string           `json:"tagName"`
	TestID       string           `json:"testId"`
	ID           string           `json:"id"`
	AriaLabel    string           `json:"ariaLabel"`
	NameAttr     string           `json:"nameAttr"`
	Text         string           `json:"text"`
	InputType    string           `json:"inputType"`
	ParentRole   string           `json:"parentRole"`
	SiblingIndex int              `json:"siblingIndex"`
	Focused      bool             `json:"focused"`
	Disabled     bool             `json:"disabled"`
	Clickable    bool             `json:"clickable"`
	Editable     bool             `json:"editable"`
	Selectable   bool             `json:"selectable"`
	Checkable    bool             `json:"checkable"`
	CSSPath      string           `json:"cssPath"`
	Bounds       *registry.Bounds `json:"bounds"`
}

// Observer runs the observe pipeline against a page and its registry.
type Observer struct {
	logger *log.Logger
}

// NewObserver creates an observer.
func NewObserver(logger *log.Logger) *Observer {
	return &Observer{logger: logger}
}

// Observe performs a full observation. The registry is reset when the page
// URL changed or refreshRefs is set, stale entries are evicted, and every
// enumerated element is recorded for ref stability.
func (o *Observer) Observe(ctx context.Context, page engine.Page, frameID string, reg *registry.Registry, opts ObserveOptions) (*Observation, error) {
	url, err := page.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading page url: %w", err)
	}
	obs := &Observation{}
	if opts.IncludeMetadata {
		obs.URL = url
		if title, err := page.Title(ctx); err == nil {
			obs.Title = title
		}
		if w, h, err := page.ViewportSize(ctx); err == nil {
			obs.Viewport = &engine.Viewport{Width: w, Height: h}
		}
	}

	reset := reg.BeginObservation(url, opts.RefreshRefs)
	if reset {
		o.logger.Debugf("agent:observe", "registry reset url=%s refresh=%t", url, opts.RefreshRefs)
	}

	includeElements := opts.IncludeElements == nil || *opts.IncludeElements
	if includeElements {
		elements, err := o.enumerate(ctx, page, frameID, reg, opts)
		if err != nil {
			return nil, err
		}
		obs.Elements = elements
	}

	if opts.IncludeAccessibility {
		tree, err := page.AccessibilityTree(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading accessibility tree: %w", err)
		}
		obs.Accessibility = tree
	}

	if opts.IncludeScreenshot {
		shot, err := page.Screenshot(ctx, engine.ScreenshotOptions{Format: "png", FullPage: opts.FullPage})
		if err != nil {
			return nil, fmt.Errorf("capturing screenshot: %w", err)
		}
		obs.Screenshot = &Screenshot{Data: base64.StdEncoding.EncodeToString(shot), Format: "png"}
		if opts.AnnotateScreenshot && len(obs.Elements) > 0 {
			annotated, annMap, err := Annotate(ctx, page, frameID, obs.Screenshot.Data, obs.Elements, AnnotateOptions{
				LabelFormat: opts.LabelFormat,
				MaxLabels:   opts.MaxLabels,
				Style:       opts.AnnotationStyle,
			})
			if err != nil {
				o.logger.Warnf("agent:observe", "annotation failed: %v", err)
			} else {
				// Annotate passes the image through untouched when no
				// element had drawable bounds.
				obs.Screenshot.Data = annotated
				obs.Screenshot.Annotated = len(annMap) > 0
				obs.AnnotationMap = annMap
			}
		}
	}

	obs.RegistrySize = reg.Len()
	return obs, nil
}

func (o *Observer) enumerate(ctx context.Context, page engine.Page, frameID string, reg *registry.Registry, opts ObserveOptions) ([]Element, error) {
	max := opts.MaxElements
	if max <= 0 {
		max = DefaultMaxElements
	}
	if max > MaxElementsCap {
		max = MaxElementsCap
	}
	args, err := json.Marshal(map[string]any{
		"filterRoles":   opts.FilterRoles,
		"maxElements":   max,
		"includeBounds": opts.IncludeBounds || opts.AnnotateScreenshot,
	})
	if err != nil {
		return nil, err
	}
	var raws []rawElement
	script := "(" + enumerateScript + ")(" + string(args) + ")"
	if err := page.Evaluate(ctx, frameID, script, &raws); err != nil {
		return nil, fmt.Errorf("enumerating elements: %w", err)
	}

	elements := make([]Element, 0, len(raws))
	for _, raw := range raws {
		id := registry.Identity{
			TestID:       raw.TestID,
			ID:           raw.ID,
			AriaLabel:    raw.AriaLabel,
			Role:         raw.Role,
			Name:         raw.Name,
			TagName:      raw.TagName,
			ParentRole:   raw.ParentRole,
			SiblingIndex: raw.SiblingIndex,
		}
		sel := preferredSelector(raw)
		ref, stability, previousRef := reg.Record(id, sel, raw.Bounds, opts.RefreshRefs)
		el := Element{
			Ref:         ref,
			Stability:   stability,
			PreviousRef: previousRef,
			Role:        raw.Role,
			Name:        raw.Name,
			Value:       raw.Value,
			TagName:     raw.TagName,
			Selector:    selector.Format(sel),
			Focused:     raw.Focused,
			Disabled:    raw.Disabled,
			Clickable:   raw.Clickable,
			Editable:    raw.Editable,
			Selectable:  raw.Selectable,
			Checkable:   raw.Checkable,
		}
		if opts.IncludeBounds || opts.AnnotateScreenshot {
			el.Bounds = raw.Bounds
		}
		elements = append(elements, el)
	}
	return elements, nil
}

// preferredSelector picks a pre-computed selector for an element following
// the fixed priority chain: testId, aria-label role, short text, id, name
// attribute, structural CSS path.
func preferredSelector(raw rawElement) selector.Selector {
	switch {
	case raw.TestID != "":
		return selector.TestID(raw.TestID)
	case raw.AriaLabel != "":
		return selector.Role(raw.Role, raw.AriaLabel)
	case len(raw.Text) > 0 && len(raw.Text) < nameAsSelectorLimit:
		return selector.Text(raw.Text, false)
	case raw.ID != "":
		return selector.CSS("#" + raw.ID)
	case raw.NameAttr != "":
		return selector.CSS(fmt.Sprintf("%s[name=%q]", raw.TagName, raw.NameAttr))
	default:
		return selector.CSS(raw.CSSPath)
	}
}
