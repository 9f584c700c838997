package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentbrowser/bap/selector"
)

// DefaultStaleAfter is how long an entry survives without being observed.
const DefaultStaleAfter = 60 * time.Second

// Stability labels reported per element.
const (
	StabilityStable = "stable"
	StabilityNew    = "new"
	StabilityMoved  = "moved"
)

// Bounds is an element bounding box in page coordinates.
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Entry binds a stable ref to the selector that addressed the element when
// it was last observed.
type Entry struct {
	Ref      string            `json:"ref"`
	Selector selector.Selector `json:"selector"`
	Identity Identity          `json:"identity"`
	LastSeen time.Time         `json:"lastSeen"`
	Bounds   *Bounds           `json:"bounds,omitempty"`
}

// Registry is the per-page ref table. It is keyed by page URL: a navigation
// resets it. All methods are safe for concurrent use, although in practice a
// session serializes access.
type Registry struct {
	mu              sync.Mutex
	pageURL         string
	entries         map[string]*Entry
	lastObservation time.Time
	staleAfter      time.Duration
	now             func() time.Time
}

// New creates an empty registry with the default staleness threshold.
func New() *Registry {
	return &Registry{
		entries:    make(map[string]*Entry),
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
}

// BeginObservation prepares the registry for an observe pass: resets it when
// the page URL changed or a refresh was requested, then evicts stale
// entries. It returns true when the registry was reset.
func (r *Registry) BeginObservation(pageURL string, refresh bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reset := refresh || (r.pageURL != "" && r.pageURL != pageURL)
	if reset || r.pageURL == "" {
		if reset {
			r.entries = make(map[string]*Entry)
		}
		r.pageURL = pageURL
	}

	now := r.now()
	for ref, e := range r.entries {
		if now.Sub(e.LastSeen) > r.staleAfter {
			delete(r.entries, ref)
		}
	}
	r.lastObservation = now
	return reset
}

// Record upserts an observed element and returns its ref and stability label.
// When history is requested and the element moved to a new ref, previousRef
// carries the old one.
func (r *Registry) Record(id Identity, sel selector.Selector, bounds *Bounds, history bool) (ref, stability, previousRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidate := id.Ref()
	ref = candidate
	stability = StabilityNew

	if existing, ok := r.entries[candidate]; ok {
		if Similarity(existing.Identity, id) >= SameElementThreshold {
			stability = StabilityStable
		} else {
			// Ref collision between different identities: disambiguate with
			// an appended index.
			for i := 2; ; i++ {
				next := fmt.Sprintf("%s_%d", candidate, i)
				e, taken := r.entries[next]
				if !taken {
					ref = next
					break
				}
				if Similarity(e.Identity, id) >= SameElementThreshold {
					ref = next
					stability = StabilityStable
					break
				}
			}
		}
	}

	if history && stability == StabilityNew {
		for oldRef, e := range r.entries {
			if oldRef == ref {
				continue
			}
			if Similarity(e.Identity, id) >= SameElementThreshold {
				previousRef = oldRef
				stability = StabilityMoved
				delete(r.entries, oldRef)
				break
			}
		}
	}

	r.entries[ref] = &Entry{
		Ref:      ref,
		Selector: sel,
		Identity: id,
		LastSeen: r.now(),
		Bounds:   bounds,
	}
	return ref, stability, previousRef
}

// RecordIndexed stores an element under a positional ref (@e1, @e2, ...)
// used when stable refs are not requested.
func (r *Registry) RecordIndexed(index int, id Identity, sel selector.Selector, bounds *Bounds) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := fmt.Sprintf("@e%d", index)
	r.entries[ref] = &Entry{
		Ref:      ref,
		Selector: sel,
		Identity: id,
		LastSeen: r.now(),
		Bounds:   bounds,
	}
	return ref
}

// Resolve looks up a ref, treating entries past the staleness threshold as
// absent.
func (r *Registry) Resolve(ref string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ref]
	if !ok {
		return nil, false
	}
	if r.now().Sub(e.LastSeen) > r.staleAfter {
		delete(r.entries, ref)
		return nil, false
	}
	return e, true
}

// Reset drops all entries, for page navigations detected outside an observe.
func (r *Registry) Reset(pageURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*Entry)
	r.pageURL = pageURL
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// PageURL returns the URL the registry is keyed by.
func (r *Registry) PageURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pageURL
}

// LastObservation returns when the registry last saw an observe pass.
func (r *Registry) LastObservation() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastObservation
}

// SetStaleAfter overrides the staleness threshold.
func (r *Registry) SetStaleAfter(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staleAfter = d
}

// SetNowFunc overrides the clock, for tests.
func (r *Registry) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
