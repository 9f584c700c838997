// Package registry tracks interactive elements per page under short stable
// refs so agents can address them across observations.
package registry

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// Identity is the attribute tuple used both to derive a ref and to compare
// elements across observations.
type Identity struct {
	TestID       string `json:"testId,omitempty"`
	ID           string `json:"id,omitempty"`
	AriaLabel    string `json:"ariaLabel,omitempty"`
	Role         string `json:"role"`
	Name         string `json:"name,omitempty"`
	TagName      string `json:"tagName"`
	ParentRole   string `json:"parentRole,omitempty"`
	SiblingIndex int    `json:"siblingIndex,omitempty"`
}

// Ref derives the stable ref: "@" plus a normalized attribute picked by
// priority, or "@e" plus a 6-char base-36 hash of the full tuple.
func (id Identity) Ref() string {
	for _, attr := range []string{id.TestID, id.ID, id.AriaLabel} {
		if norm := normalizeRefAttr(attr); norm != "" {
			return "@" + norm
		}
	}
	return "@e" + id.hash()
}

func (id Identity) hash() string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%s|%d",
		id.TestID, id.ID, id.AriaLabel, id.Role, id.Name, id.TagName, id.ParentRole, id.SiblingIndex)
	s := strconv.FormatUint(uint64(h.Sum32()), 36)
	for len(s) < 6 {
		s = "0" + s
	}
	return s[:6]
}

// normalizeRefAttr lowercases, strips non-alphanumerics and caps the length
// at 12, returning "" when nothing survives.
func normalizeRefAttr(attr string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(attr) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == 12 {
				break
			}
		}
	}
	return b.String()
}

// Similarity weights. Fields absent from both identities do not count
// against the score.
var similarityWeights = []struct {
	weight float64
	get    func(Identity) string
}{
	{0.30, func(i Identity) string { return i.TestID }},
	{0.25, func(i Identity) string { return i.ID }},
	{0.15, func(i Identity) string { return i.AriaLabel }},
	{0.10, func(i Identity) string { return i.Role }},
	{0.08, func(i Identity) string { return i.Name }},
	{0.07, func(i Identity) string { return i.TagName }},
	{0.03, func(i Identity) string { return i.ParentRole }},
}

const siblingWeight = 0.02

// SameElementThreshold is the similarity at or above which two observations
// are treated as the same element.
const SameElementThreshold = 0.8

// Similarity returns a weighted match ratio in [0,1].
func Similarity(a, b Identity) float64 {
	var total, matched float64
	for _, w := range similarityWeights {
		av, bv := w.get(a), w.get(b)
		if av == "" && bv == "" {
			continue
		}
		total += w.weight
		if av == bv {
			matched += w.weight
		}
	}
	total += siblingWeight
	if a.SiblingIndex == b.SiblingIndex {
		matched += siblingWeight
	}
	if total == 0 {
		return 0
	}
	return matched / total
}
