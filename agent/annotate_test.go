package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrowser/bap/registry"
)

func boundedElement(ref string, x float64) Element {
	return Element{Ref: ref, Bounds: &registry.Bounds{X: x, Y: 5, Width: 40, Height: 20}}
}

func TestAnnotateLabelFormats(t *testing.T) {
	t.Parallel()

	elements := []Element{boundedElement("@save", 10), boundedElement("@cancel", 60)}

	tests := []struct {
		format string
		want   []string
	}{
		{LabelNumber, []string{"1", "2"}},
		{LabelRef, []string{"@save", "@cancel"}},
		{LabelBoth, []string{"1 @save", "2 @cancel"}},
		{"", []string{"1", "2"}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run("format "+tc.format, func(t *testing.T) {
			t.Parallel()

			page := &observePage{}
			out, annMap, err := Annotate(context.Background(), page, "", "png-base64", elements, AnnotateOptions{LabelFormat: tc.format})
			require.NoError(t, err)
			assert.Equal(t, "annotated-base64", out)

			require.Len(t, annMap, 2)
			for i, a := range annMap {
				assert.Equal(t, tc.want[i], a.Label)
			}
			assert.Equal(t, "@save", annMap[0].Ref)
			assert.Equal(t, 10.0, annMap[0].Position.X)
		})
	}
}

func TestAnnotateSkipsElementsWithoutBounds(t *testing.T) {
	t.Parallel()

	elements := []Element{
		{Ref: "@hidden"},
		{Ref: "@zero", Bounds: &registry.Bounds{}},
		boundedElement("@visible", 10),
	}

	page := &observePage{}
	_, annMap, err := Annotate(context.Background(), page, "", "png", elements, AnnotateOptions{})
	require.NoError(t, err)

	require.Len(t, annMap, 1)
	assert.Equal(t, "@visible", annMap[0].Ref)
	assert.Equal(t, "1", annMap[0].Label)
}

func TestAnnotateMaxLabels(t *testing.T) {
	t.Parallel()

	var elements []Element
	for i := 0; i < 10; i++ {
		elements = append(elements, boundedElement("@e", float64(i*50)))
	}

	page := &observePage{}
	_, annMap, err := Annotate(context.Background(), page, "", "png", elements, AnnotateOptions{MaxLabels: 3})
	require.NoError(t, err)
	assert.Len(t, annMap, 3)
}

func TestAnnotateNoMarksPassthrough(t *testing.T) {
	t.Parallel()

	page := &observePage{}
	out, annMap, err := Annotate(context.Background(), page, "", "original", []Element{{Ref: "@x"}}, AnnotateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "original", out)
	assert.Empty(t, annMap)
	assert.Empty(t, page.lastEval, "no overlay script runs without marks")
}
