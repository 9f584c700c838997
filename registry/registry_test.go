package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrowser/bap/selector"
)

func cssSel(value string) selector.Selector {
	return selector.Selector{Type: selector.TypeCSS, Value: value}
}

func TestRegistryRecordAndResolve(t *testing.T) {
	t.Parallel()

	r := New()
	r.BeginObservation("https://example.com/", false)

	id := Identity{TestID: "search", Role: "textbox", TagName: "input"}
	ref, stability, prev := r.Record(id, cssSel(`[data-testid="search"]`), nil, true)

	assert.Equal(t, "@search", ref)
	assert.Equal(t, StabilityNew, stability)
	assert.Empty(t, prev)

	entry, ok := r.Resolve("@search")
	require.True(t, ok)
	assert.Equal(t, `[data-testid="search"]`, entry.Selector.Value)

	_, ok = r.Resolve("@missing")
	assert.False(t, ok)
}

func TestRegistryStableAcrossObservations(t *testing.T) {
	t.Parallel()

	r := New()
	r.BeginObservation("https://example.com/", false)

	id := Identity{ID: "cta", Role: "button", Name: "Buy", TagName: "button"}
	_, stability, _ := r.Record(id, cssSel("#cta"), nil, true)
	require.Equal(t, StabilityNew, stability)

	r.BeginObservation("https://example.com/", false)
	ref, stability, _ := r.Record(id, cssSel("#cta"), nil, true)
	assert.Equal(t, "@cta", ref)
	assert.Equal(t, StabilityStable, stability)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryCollisionDisambiguation(t *testing.T) {
	t.Parallel()

	r := New()
	r.BeginObservation("https://example.com/", false)

	first := Identity{AriaLabel: "Delete", Role: "button", TagName: "button", SiblingIndex: 0}
	second := Identity{AriaLabel: "Delete", Role: "link", Name: "Delete account", TagName: "a", ParentRole: "list", SiblingIndex: 7}

	ref1, _, _ := r.Record(first, cssSel("button.delete"), nil, false)
	require.Equal(t, "@delete", ref1)

	ref2, stability, _ := r.Record(second, cssSel("a.delete"), nil, false)
	assert.Equal(t, "@delete_2", ref2)
	assert.Equal(t, StabilityNew, stability)

	// The disambiguated element keeps its ref on the next pass.
	ref2again, stability, _ := r.Record(second, cssSel("a.delete"), nil, false)
	assert.Equal(t, "@delete_2", ref2again)
	assert.Equal(t, StabilityStable, stability)
}

func TestRegistryMovedElement(t *testing.T) {
	t.Parallel()

	r := New()
	r.BeginObservation("https://example.com/", false)

	// No testId/id/aria-label, so the ref comes from the tuple hash and a
	// position change produces a different ref for the same element.
	id := Identity{Role: "button", Name: "Save", TagName: "button", ParentRole: "form", SiblingIndex: 1}
	refOld, _, _ := r.Record(id, cssSel("form button:nth-of-type(2)"), nil, true)

	moved := id
	moved.SiblingIndex = 3
	refNew, stability, prev := r.Record(moved, cssSel("form button:nth-of-type(4)"), nil, true)

	assert.NotEqual(t, refOld, refNew)
	assert.Equal(t, StabilityMoved, stability)
	assert.Equal(t, refOld, prev)

	_, ok := r.Resolve(refOld)
	assert.False(t, ok, "old ref must be evicted after the move")
}

func TestRegistryStaleness(t *testing.T) {
	t.Parallel()

	r := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r.SetNowFunc(func() time.Time { return now })
	r.BeginObservation("https://example.com/", false)

	id := Identity{ID: "hero", Role: "button", TagName: "button"}
	r.Record(id, cssSel("#hero"), nil, false)

	now = now.Add(59 * time.Second)
	_, ok := r.Resolve("@hero")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = r.Resolve("@hero")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistryResetOnNavigation(t *testing.T) {
	t.Parallel()

	r := New()
	r.BeginObservation("https://example.com/a", false)
	r.Record(Identity{ID: "x", Role: "button", TagName: "button"}, cssSel("#x"), nil, false)
	require.Equal(t, 1, r.Len())

	reset := r.BeginObservation("https://example.com/b", false)
	assert.True(t, reset)
	assert.Zero(t, r.Len())
	assert.Equal(t, "https://example.com/b", r.PageURL())

	// Same URL with an explicit refresh also resets.
	r.Record(Identity{ID: "y", Role: "button", TagName: "button"}, cssSel("#y"), nil, false)
	reset = r.BeginObservation("https://example.com/b", true)
	assert.True(t, reset)
	assert.Zero(t, r.Len())
}

func TestRegistryRecordIndexed(t *testing.T) {
	t.Parallel()

	r := New()
	r.BeginObservation("https://example.com/", false)

	ref := r.RecordIndexed(1, Identity{Role: "link", TagName: "a"}, cssSel("a:nth-of-type(1)"), nil)
	assert.Equal(t, "@e1", ref)

	entry, ok := r.Resolve("@e1")
	require.True(t, ok)
	assert.Equal(t, "a:nth-of-type(1)", entry.Selector.Value)
}

func TestRegistryExplicitReset(t *testing.T) {
	t.Parallel()

	r := New()
	r.BeginObservation("https://example.com/a", false)
	r.Record(Identity{ID: "x", Role: "button", TagName: "button"}, cssSel("#x"), nil, false)

	r.Reset("https://example.com/next")
	assert.Zero(t, r.Len())
	assert.Equal(t, "https://example.com/next", r.PageURL())
}
