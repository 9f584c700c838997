package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/registry"
)

// DefaultMaxLabels caps how many elements an annotated screenshot marks.
const DefaultMaxLabels = 50

// Label formats for annotation badges.
const (
	LabelNumber = "number"
	LabelRef    = "ref"
	LabelBoth   = "both"
)

// AnnotationStyle configures the Set-of-Marks overlay.
type AnnotationStyle struct {
	BadgeColor string  `json:"badgeColor,omitempty"`
	TextColor  string  `json:"textColor,omitempty"`
	FontSize   int     `json:"fontSize,omitempty"`
	Font       string  `json:"font,omitempty"`
	BoxColor   string  `json:"boxColor,omitempty"`
	BoxWidth   int     `json:"boxWidth,omitempty"`
	Dashed     bool    `json:"dashed"`
	Opacity    float64 `json:"opacity,omitempty"`
}

// AnnotateOptions configures one annotation pass.
type AnnotateOptions struct {
	LabelFormat string
	MaxLabels   int
	Style       *AnnotationStyle
}

// Annotation is one entry of the annotation map returned to the client.
type Annotation struct {
	Label    string   `json:"label"`
	Ref      string   `json:"ref"`
	Position Position `json:"position"`
}

// Position is the badge anchor point in page coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type annotationMark struct {
	Label  string          `json:"label"`
	Bounds registry.Bounds `json:"bounds"`
}

func defaultStyle() AnnotationStyle {
	return AnnotationStyle{
		BadgeColor: "#e11d48",
		TextColor:  "#ffffff",
		FontSize:   14,
		Font:       "sans-serif",
		BoxColor:   "#e11d48",
		BoxWidth:   2,
		Opacity:    0.9,
	}
}

// Annotate renders numbered badges and bounding boxes over the screenshot
// for elements that carry bounds, via an in-page canvas evaluator. It
// returns the annotated PNG as base64 plus the label-to-ref map.
func Annotate(ctx context.Context, page engine.Page, frameID, imageBase64 string, elements []Element, opts AnnotateOptions) (string, []Annotation, error) {
	maxLabels := opts.MaxLabels
	if maxLabels <= 0 {
		maxLabels = DefaultMaxLabels
	}
	style := defaultStyle()
	if opts.Style != nil {
		override := *opts.Style
		if override.BadgeColor != "" {
			style.BadgeColor = override.BadgeColor
		}
		if override.TextColor != "" {
			style.TextColor = override.TextColor
		}
		if override.FontSize > 0 {
			style.FontSize = override.FontSize
		}
		if override.Font != "" {
			style.Font = override.Font
		}
		if override.BoxColor != "" {
			style.BoxColor = override.BoxColor
		}
		if override.BoxWidth > 0 {
			style.BoxWidth = override.BoxWidth
		}
		if override.Opacity > 0 {
			style.Opacity = override.Opacity
		}
		style.Dashed = override.Dashed
	}

	var marks []annotationMark
	var annMap []Annotation
	n := 0
	for _, el := range elements {
		if el.Bounds == nil || el.Bounds.Width <= 0 || el.Bounds.Height <= 0 {
			continue
		}
		n++
		if n > maxLabels {
			break
		}
		var label string
		switch opts.LabelFormat {
		case LabelRef:
			label = el.Ref
		case LabelBoth:
			label = strconv.Itoa(n) + " " + el.Ref
		default:
			label = strconv.Itoa(n)
		}
		marks = append(marks, annotationMark{Label: label, Bounds: *el.Bounds})
		annMap = append(annMap, Annotation{
			Label:    label,
			Ref:      el.Ref,
			Position: Position{X: el.Bounds.X, Y: el.Bounds.Y},
		})
	}
	if len(marks) == 0 {
		return imageBase64, nil, nil
	}

	args, err := json.Marshal(map[string]any{
		"image": imageBase64,
		"marks": marks,
		"style": style,
	})
	if err != nil {
		return "", nil, err
	}
	var annotated string
	script := "(" + annotateScript + ")(" + string(args) + ")"
	if err := page.Evaluate(ctx, frameID, script, &annotated); err != nil {
		return "", nil, fmt.Errorf("rendering annotation overlay: %w", err)
	}
	return annotated, annMap, nil
}
