package server

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/protocol"
	"github.com/agentbrowser/bap/session"
)

func (s *Server) handleBrowserLaunch(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		Headless      *bool    `json:"headless,omitempty"`
		Args          []string `json:"args,omitempty"`
		DownloadsPath string   `json:"downloadsPath,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.launchArgs.Check(p.Args); err != nil {
		return nil, err
	}
	opts := engine.LaunchOptions{Headless: s.cfg.Headless, Args: p.Args}
	if p.Headless != nil {
		opts.Headless = *p.Headless
	}
	if p.DownloadsPath != "" {
		canonical, err := s.pathGuard.Check(p.DownloadsPath)
		if err != nil {
			return nil, err
		}
		opts.DownloadsPath = canonical
	}

	b, err := s.eng.Launch(ctx, opts)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	if !c.sess.SetBrowser(b) {
		_ = b.Close(ctx)
		return nil, protocol.ErrInvalidRequest("browser already launched")
	}
	version := b.Version()
	s.logger.Infof("server", "browser launched session=%s version=%s", c.sess.ID, version)
	return map[string]any{
		"launched": true,
		"version":  version,
		"headless": opts.Headless,
	}, nil
}

func (s *Server) handleBrowserClose(ctx context.Context, c *conn, _ json.RawMessage) (any, error) {
	b := c.sess.Browser()
	if b == nil {
		return nil, protocol.ErrBrowserNotLaunched()
	}
	if err := b.Close(ctx); err != nil {
		s.logger.Warnf("server", "browser close: %v", err)
	}
	c.sess.ClearBrowser()
	return map[string]any{"closed": true}, nil
}

func (s *Server) handleContextCreate(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	b := c.sess.Browser()
	if b == nil {
		return nil, protocol.ErrBrowserNotLaunched()
	}
	var opts engine.ContextOptions
	if err := decodeParams(params, &opts); err != nil {
		return nil, err
	}
	bctx, err := b.NewContext(ctx, opts)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	sc := &session.Context{ID: uuid.NewString(), Context: bctx, Options: opts}
	if !c.sess.AddContext(sc, s.cfg.MaxContextsPerConnection) {
		_ = bctx.Close(ctx)
		return nil, protocol.ErrResourceLimit("contexts", s.cfg.MaxContextsPerConnection)
	}
	return map[string]any{"contextId": sc.ID}, nil
}

func (s *Server) handleContextList(_ context.Context, c *conn, _ json.RawMessage) (any, error) {
	type entry struct {
		ContextID string   `json:"contextId"`
		PageIDs   []string `json:"pageIds"`
	}
	var out []entry
	for _, sc := range c.sess.Contexts() {
		out = append(out, entry{ContextID: sc.ID, PageIDs: sc.PageIDs})
	}
	if out == nil {
		out = []entry{}
	}
	return map[string]any{"contexts": out}, nil
}

func (s *Server) handleContextDestroy(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		ContextID string `json:"contextId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sc, ok := c.sess.GetContext(p.ContextID)
	if !ok {
		return nil, protocol.ErrContextNotFound(p.ContextID)
	}
	removed := c.sess.RemoveContext(p.ContextID)
	if err := sc.Context.Close(ctx); err != nil {
		s.logger.Warnf("server", "context close: %v", err)
	}
	return map[string]any{"destroyed": true, "closedPages": len(removed)}, nil
}
