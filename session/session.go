// Package session holds the per-connection state of the BAP server: the
// browser tree (browser, contexts, pages), element registries, frame
// contexts, streams, approvals, and the two rate-limit windows.
package session

import (
	"sync"
	"time"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/env"
	"github.com/agentbrowser/bap/ratelimit"
	"github.com/agentbrowser/bap/registry"
)

// MainFrame is the frame context value addressing the page's main frame.
const MainFrame = "main"

// Context is one isolation context owned by a session.
type Context struct {
	ID      string
	Context engine.BrowserContext
	Options engine.ContextOptions
	PageIDs []string
}

// Page is one open tab owned by a session.
type Page struct {
	ID        string
	Page      engine.Page
	ContextID string
}

// Stream is an in-flight chunked transfer.
type Stream struct {
	ID          string
	ContentType string
	Data        []byte
	ChunkSize   int
	Sent        int
	Cancelled   bool
}

// PendingApproval is a request suspended on a human decision.
type PendingApproval struct {
	RequestID       string
	OriginalRequest map[string]any
	Rule            env.ApprovalRule
	Decision        chan ApprovalDecision
	ExpiresAt       time.Time
}

// ApprovalDecision is the human answer to a pending approval.
type ApprovalDecision struct {
	Decision string // approve, deny, approve-once, approve-session
	Reason   string
}

// Session is the per-connection state. Request handling for one session is
// serialized by the server, but timers and the event fan-out touch it
// concurrently, so every access goes through the mutex.
type Session struct {
	ID         string
	RemoteAddr string

	mu sync.Mutex

	initialized  bool
	scopes       []string
	startTime    time.Time
	lastActivity time.Time

	browser    engine.Browser
	contexts   map[string]*Context
	pages      map[string]*Page
	activePage string

	subscribedEvents map[string]bool
	registries       map[string]*registry.Registry
	frameContexts    map[string]string
	streams          map[string]*Stream
	pendingApprovals map[string]*PendingApproval
	approvedRules    map[string]bool

	Limiter *ratelimit.Limiter
}

// New creates a session with its two sliding windows configured.
func New(id, remoteAddr string, cfg env.Config) *Session {
	lim := ratelimit.New()
	lim.Configure(ratelimit.DimensionRequest, cfg.RequestsPerSecond, time.Second)
	lim.Configure(ratelimit.DimensionScreenshot, cfg.ScreenshotsPerMinute, time.Minute)
	now := time.Now()
	return &Session{
		ID:               id,
		RemoteAddr:       remoteAddr,
		startTime:        now,
		lastActivity:     now,
		contexts:         make(map[string]*Context),
		pages:            make(map[string]*Page),
		subscribedEvents: make(map[string]bool),
		registries:       make(map[string]*registry.Registry),
		frameContexts:    make(map[string]string),
		streams:          make(map[string]*Stream),
		pendingApprovals: make(map[string]*PendingApproval),
		approvedRules:    make(map[string]bool),
		Limiter:          lim,
	}
}

// Initialize marks the session initialized with its granted scopes.
func (s *Session) Initialize(scopes []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return false
	}
	s.initialized = true
	s.scopes = append([]string(nil), scopes...)
	return true
}

// Initialized reports whether initialize has completed.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Scopes returns the granted scope set.
func (s *Session) Scopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scopes...)
}

// Touch refreshes the idle timer.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// Expired reports whether the session exceeded its maximum duration or sat
// idle past the idle timeout, and which of the two fired.
func (s *Session) Expired(maxDuration, idleTimeout time.Duration) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if maxDuration > 0 && now.Sub(s.startTime) >= maxDuration {
		return true, "max_duration"
	}
	if idleTimeout > 0 && now.Sub(s.lastActivity) >= idleTimeout {
		return true, "idle_timeout"
	}
	return false, ""
}

// SetBrowser installs the launched browser; fails when one exists.
func (s *Session) SetBrowser(b engine.Browser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser != nil {
		return false
	}
	s.browser = b
	return true
}

// Browser returns the session browser or nil.
func (s *Session) Browser() engine.Browser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser
}

// ClearBrowser drops the browser handle and all state cascading from it.
func (s *Session) ClearBrowser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.browser = nil
	s.contexts = make(map[string]*Context)
	s.pages = make(map[string]*Page)
	s.registries = make(map[string]*registry.Registry)
	s.frameContexts = make(map[string]string)
	s.streams = make(map[string]*Stream)
	s.activePage = ""
	for _, pa := range s.pendingApprovals {
		close(pa.Decision)
	}
	s.pendingApprovals = make(map[string]*PendingApproval)
}

// AddContext registers a context; fails when the per-connection cap is hit.
func (s *Session) AddContext(c *Context, max int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max > 0 && len(s.contexts) >= max {
		return false
	}
	s.contexts[c.ID] = c
	return true
}

// GetContext looks a context up.
func (s *Session) GetContext(id string) (*Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[id]
	return c, ok
}

// Contexts snapshots all contexts.
func (s *Session) Contexts() []*Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c)
	}
	return out
}

// RemoveContext drops a context and every page bound to it, returning the
// removed pages.
func (s *Session) RemoveContext(id string) []*Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[id]
	if !ok {
		return nil
	}
	delete(s.contexts, id)
	var removed []*Page
	for _, pid := range c.PageIDs {
		if p, ok := s.pages[pid]; ok {
			removed = append(removed, p)
			s.dropPageLocked(pid)
		}
	}
	return removed
}

// AddPage registers a page; fails when the per-client page cap is hit.
func (s *Session) AddPage(p *Page, max int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max > 0 && len(s.pages) >= max {
		return false
	}
	s.pages[p.ID] = p
	if c, ok := s.contexts[p.ContextID]; ok {
		c.PageIDs = append(c.PageIDs, p.ID)
	}
	if s.activePage == "" {
		s.activePage = p.ID
	}
	return true
}

// GetPage looks a page up.
func (s *Session) GetPage(id string) (*Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	return p, ok
}

// ActivePage returns the active page, falling back to any page.
func (s *Session) ActivePage() (*Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pages[s.activePage]; ok {
		return p, true
	}
	for _, p := range s.pages {
		return p, true
	}
	return nil, false
}

// SetActivePage switches the active page.
func (s *Session) SetActivePage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[id]; !ok {
		return false
	}
	s.activePage = id
	return true
}

// Pages snapshots all pages.
func (s *Session) Pages() []*Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Page, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p)
	}
	return out
}

// PageCount returns the number of open pages.
func (s *Session) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// RemovePage evicts a page along with its registry and frame context.
func (s *Session) RemovePage(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropPageLocked(id)
}

func (s *Session) dropPageLocked(id string) {
	p, ok := s.pages[id]
	if ok {
		if c, exists := s.contexts[p.ContextID]; exists {
			for i, pid := range c.PageIDs {
				if pid == id {
					c.PageIDs = append(c.PageIDs[:i], c.PageIDs[i+1:]...)
					break
				}
			}
		}
	}
	delete(s.pages, id)
	delete(s.registries, id)
	delete(s.frameContexts, id)
	if s.activePage == id {
		s.activePage = ""
		for pid := range s.pages {
			s.activePage = pid
			break
		}
	}
}

// Registry returns the element registry of a page, creating it on first use.
func (s *Session) Registry(pageID string) *registry.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registries[pageID]
	if !ok {
		r = registry.New()
		s.registries[pageID] = r
	}
	return r
}

// FrameContext returns the frame the page's actions currently target.
func (s *Session) FrameContext(pageID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.frameContexts[pageID]; ok {
		return f
	}
	return MainFrame
}

// SetFrameContext switches the page's target frame.
func (s *Session) SetFrameContext(pageID, frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frame == "" || frame == MainFrame {
		delete(s.frameContexts, pageID)
		return
	}
	s.frameContexts[pageID] = frame
}

// Subscribe replaces the event filter set.
func (s *Session) Subscribe(events []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribedEvents = make(map[string]bool, len(events))
	for _, e := range events {
		s.subscribedEvents[e] = true
	}
}

// Subscribed reports whether an event kind passes the filter.
func (s *Session) Subscribed(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribedEvents[event]
}

// AddStream registers an active stream.
func (s *Session) AddStream(st *Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[st.ID] = st
}

// GetStream looks a stream up.
func (s *Session) GetStream(id string) (*Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	return st, ok
}

// RemoveStream drops a stream.
func (s *Session) RemoveStream(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, id)
}

// CancelStream marks a stream cancelled; the emitter checks the flag
// between chunks.
func (s *Session) CancelStream(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return false
	}
	st.Cancelled = true
	return true
}

// StreamCancelled reads the cancellation flag. The second return is false
// when the stream no longer exists.
func (s *Session) StreamCancelled(id string) (cancelled, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return false, false
	}
	return st.Cancelled, true
}

// AddApproval registers a pending approval.
func (s *Session) AddApproval(pa *PendingApproval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingApprovals[pa.RequestID] = pa
}

// TakeApproval removes and returns a pending approval.
func (s *Session) TakeApproval(requestID string) (*PendingApproval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pa, ok := s.pendingApprovals[requestID]
	if ok {
		delete(s.pendingApprovals, requestID)
	}
	return pa, ok
}

// ApproveRuleForSession caches a rule as pre-approved for this connection.
func (s *Session) ApproveRuleForSession(rule string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvedRules[rule] = true
}

// RuleApproved reports whether a rule was pre-approved for the session.
func (s *Session) RuleApproved(rule string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approvedRules[rule]
}

// PendingApprovals snapshots the pending approvals, for teardown.
func (s *Session) PendingApprovals() []*PendingApproval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PendingApproval, 0, len(s.pendingApprovals))
	for _, pa := range s.pendingApprovals {
		out = append(out, pa)
	}
	return out
}
