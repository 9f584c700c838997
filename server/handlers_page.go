package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agentbrowser/bap/agent"
	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/protocol"
	"github.com/agentbrowser/bap/session"
)

// pageRef is the common way handlers address a page: an explicit pageId or
// the session's active page.
type pageRef struct {
	PageID string `json:"pageId,omitempty"`
}

func (s *Server) pageFor(c *conn, ref pageRef) (*session.Page, error) {
	if c.sess.Browser() == nil {
		return nil, protocol.ErrBrowserNotLaunched()
	}
	if ref.PageID != "" {
		p, ok := c.sess.GetPage(ref.PageID)
		if !ok {
			return nil, protocol.ErrInvalidParams("unknown pageId " + ref.PageID)
		}
		return p, nil
	}
	p, ok := c.sess.ActivePage()
	if !ok {
		return nil, protocol.ErrInvalidParams("no open page")
	}
	return p, nil
}

// frameFor maps the session's frame context onto the engine's frame
// addressing, where the empty string is the main frame.
func frameFor(c *conn, pageID string) string {
	f := c.sess.FrameContext(pageID)
	if f == session.MainFrame {
		return ""
	}
	return f
}

func (s *Server) timeoutFor(ms int) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return s.cfg.DefaultTimeout
}

func (s *Server) handlePageCreate(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	b := c.sess.Browser()
	if b == nil {
		return nil, protocol.ErrBrowserNotLaunched()
	}
	var p struct {
		ContextID string `json:"contextId,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	var sc *session.Context
	if p.ContextID != "" {
		existing, ok := c.sess.GetContext(p.ContextID)
		if !ok {
			return nil, protocol.ErrContextNotFound(p.ContextID)
		}
		sc = existing
	} else if contexts := c.sess.Contexts(); len(contexts) > 0 {
		sc = contexts[0]
	} else {
		bctx, err := b.NewContext(ctx, engine.ContextOptions{})
		if err != nil {
			return nil, protocol.FromEngineError(err)
		}
		sc = &session.Context{ID: uuid.NewString(), Context: bctx}
		if !c.sess.AddContext(sc, s.cfg.MaxContextsPerConnection) {
			_ = bctx.Close(ctx)
			return nil, protocol.ErrResourceLimit("contexts", s.cfg.MaxContextsPerConnection)
		}
	}

	page, err := sc.Context.NewPage(ctx)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	sp := &session.Page{ID: uuid.NewString(), Page: page, ContextID: sc.ID}
	if !c.sess.AddPage(sp, s.cfg.MaxPagesPerClient) {
		_ = page.Close(ctx)
		return nil, protocol.ErrResourceLimit("pages", s.cfg.MaxPagesPerClient)
	}
	c.bindPageEvents(sp)
	return map[string]any{"pageId": sp.ID, "contextId": sc.ID}, nil
}

func (s *Server) handlePageNavigate(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		URL       string                `json:"url"`
		WaitUntil string                `json:"waitUntil,omitempty"`
		Timeout   int                   `json:"timeout,omitempty"`
		Observe   *agent.ObserveOptions `json:"observe,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.urlGuard.Check(p.URL); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	if err := sp.Page.Goto(ctx, p.URL, p.WaitUntil, s.timeoutFor(p.Timeout)); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	// Navigation invalidates every ref on the page.
	url, _ := sp.Page.URL(ctx)
	c.sess.Registry(sp.ID).Reset(url)
	c.sess.SetFrameContext(sp.ID, session.MainFrame)

	result := map[string]any{"url": url}
	if title, err := sp.Page.Title(ctx); err == nil {
		result["title"] = title
	}
	if p.Observe != nil {
		obs, obsErr := s.observer.Observe(ctx, sp.Page, frameFor(c, sp.ID), c.sess.Registry(sp.ID), *p.Observe)
		if obsErr != nil {
			s.logger.Warnf("server", "fused observe failed: %v", obsErr)
		} else {
			result["observation"] = obs
		}
	}
	return result, nil
}

func (s *Server) handlePageReload(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	return s.navHistory(ctx, c, params, func(ctx context.Context, p engine.Page, timeout time.Duration) error {
		return p.Reload(ctx, timeout)
	})
}

func (s *Server) handlePageGoBack(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	return s.navHistory(ctx, c, params, func(ctx context.Context, p engine.Page, timeout time.Duration) error {
		return p.GoBack(ctx, timeout)
	})
}

func (s *Server) handlePageGoForward(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	return s.navHistory(ctx, c, params, func(ctx context.Context, p engine.Page, timeout time.Duration) error {
		return p.GoForward(ctx, timeout)
	})
}

func (s *Server) navHistory(ctx context.Context, c *conn, params json.RawMessage, nav func(context.Context, engine.Page, time.Duration) error) (any, error) {
	var p struct {
		pageRef
		Timeout int `json:"timeout,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	if err := nav(ctx, sp.Page, s.timeoutFor(p.Timeout)); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	url, _ := sp.Page.URL(ctx)
	c.sess.Registry(sp.ID).Reset(url)
	c.sess.SetFrameContext(sp.ID, session.MainFrame)
	result := map[string]any{"url": url}
	if title, err := sp.Page.Title(ctx); err == nil {
		result["title"] = title
	}
	return result, nil
}

func (s *Server) handlePageClose(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p pageRef
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p)
	if err != nil {
		return nil, err
	}
	if err := sp.Page.Close(ctx); err != nil {
		s.logger.Warnf("server", "page close: %v", err)
	}
	c.sess.RemovePage(sp.ID)
	return map[string]any{"closed": true}, nil
}

func (s *Server) handlePageList(ctx context.Context, c *conn, _ json.RawMessage) (any, error) {
	type entry struct {
		PageID    string `json:"pageId"`
		ContextID string `json:"contextId"`
		URL       string `json:"url,omitempty"`
		Title     string `json:"title,omitempty"`
		Active    bool   `json:"active"`
	}
	active, _ := c.sess.ActivePage()
	out := []entry{}
	for _, sp := range c.sess.Pages() {
		e := entry{PageID: sp.ID, ContextID: sp.ContextID, Active: active != nil && active.ID == sp.ID}
		e.URL, _ = sp.Page.URL(ctx)
		e.Title, _ = sp.Page.Title(ctx)
		out = append(out, e)
	}
	return map[string]any{"pages": out}, nil
}

func (s *Server) handlePageActivate(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		PageID string `json:"pageId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, ok := c.sess.GetPage(p.PageID)
	if !ok {
		return nil, protocol.ErrInvalidParams("unknown pageId " + p.PageID)
	}
	if err := sp.Page.Activate(ctx); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	c.sess.SetActivePage(p.PageID)
	return map[string]any{"activated": true}, nil
}

func (s *Server) handleFrameList(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p pageRef
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p)
	if err != nil {
		return nil, err
	}
	frames, err := sp.Page.Frames(ctx)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{
		"frames":  frames,
		"current": c.sess.FrameContext(sp.ID),
	}, nil
}

func (s *Server) handleFrameSwitch(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		FrameID string `json:"frameId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	frames, err := sp.Page.Frames(ctx)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	for _, f := range frames {
		if f.ID == p.FrameID {
			c.sess.SetFrameContext(sp.ID, p.FrameID)
			return map[string]any{"frameId": p.FrameID}, nil
		}
	}
	return nil, protocol.ErrFrameNotFound(p.FrameID)
}

func (s *Server) handleFrameMain(_ context.Context, c *conn, params json.RawMessage) (any, error) {
	var p pageRef
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p)
	if err != nil {
		return nil, err
	}
	c.sess.SetFrameContext(sp.ID, session.MainFrame)
	return map[string]any{"frameId": session.MainFrame}, nil
}

// bindPageEvents registers the engine callback translating page events into
// client notifications and evicting state when the page dies externally.
func (c *conn) bindPageEvents(sp *session.Page) {
	pageID := sp.ID
	forward := func(ev engine.Event) {
		if ev.Type == "close" {
			c.sess.RemovePage(pageID)
		}
		if !c.sess.Subscribed(ev.Type) {
			return
		}
		ev.PageID = pageID
		c.notify("event/"+ev.Type, ev)
	}
	for _, event := range []string{
		"load", "domcontentloaded", "close", "console", "dialog",
		"download", "request", "response", "requestfailed",
	} {
		sp.Page.On(event, forward)
	}
}
