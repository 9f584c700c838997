package server

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/policy"
	"github.com/agentbrowser/bap/protocol"
	"github.com/agentbrowser/bap/session"
)

// contextFor resolves the context a storage or trace operation targets: an
// explicit contextId, or the context owning the active page.
func (s *Server) contextFor(c *conn, contextID string) (*session.Context, error) {
	if c.sess.Browser() == nil {
		return nil, protocol.ErrBrowserNotLaunched()
	}
	if contextID != "" {
		sc, ok := c.sess.GetContext(contextID)
		if !ok {
			return nil, protocol.ErrContextNotFound(contextID)
		}
		return sc, nil
	}
	if sp, ok := c.sess.ActivePage(); ok {
		if sc, ok := c.sess.GetContext(sp.ContextID); ok {
			return sc, nil
		}
	}
	if contexts := c.sess.Contexts(); len(contexts) > 0 {
		return contexts[0], nil
	}
	return nil, protocol.ErrInvalidParams("no browser context")
}

type contextRef struct {
	ContextID string `json:"contextId,omitempty"`
}

func (s *Server) handleStorageGetState(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p contextRef
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sc, err := s.contextFor(c, p.ContextID)
	if err != nil {
		return nil, err
	}
	if s.cfg.DisableStorageState {
		s.audit.Record(policy.AuditStorageStateBlocked, map[string]any{"sessionId": c.sess.ID})
		return nil, protocol.ErrUnauthorized("storage/getState", []string{"storage:read"})
	}
	state, err := sc.Context.StorageState(ctx)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	s.audit.Record(policy.AuditStorageStateExtracted, map[string]any{
		"sessionId": c.sess.ID,
		"cookies":   len(state.Cookies),
		"origins":   len(state.Origins),
	})
	return map[string]any{"state": state}, nil
}

func (s *Server) handleStorageSetState(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		contextRef
		State *engine.StorageState `json:"state"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.State == nil {
		return nil, protocol.ErrInvalidParams("state is required")
	}
	sc, err := s.contextFor(c, p.ContextID)
	if err != nil {
		return nil, err
	}
	if err := sc.Context.SetStorageState(ctx, p.State); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"applied": true}, nil
}

func (s *Server) handleStorageGetCookies(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p contextRef
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sc, err := s.contextFor(c, p.ContextID)
	if err != nil {
		return nil, err
	}
	cookies, err := sc.Context.Cookies(ctx)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	if cookies == nil {
		cookies = []engine.Cookie{}
	}
	return map[string]any{"cookies": cookies}, nil
}

func (s *Server) handleStorageSetCookies(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		contextRef
		Cookies []engine.Cookie `json:"cookies"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.Cookies) == 0 {
		return nil, protocol.ErrInvalidParams("cookies is required")
	}
	sc, err := s.contextFor(c, p.ContextID)
	if err != nil {
		return nil, err
	}
	if err := sc.Context.SetCookies(ctx, p.Cookies); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"set": len(p.Cookies)}, nil
}

func (s *Server) handleStorageClearCookies(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p contextRef
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sc, err := s.contextFor(c, p.ContextID)
	if err != nil {
		return nil, err
	}
	if err := sc.Context.ClearCookies(ctx); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"cleared": true}, nil
}

func (s *Server) handleNetworkIntercept(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		Enabled  *bool    `json:"enabled,omitempty"`
		Patterns []string `json:"patterns,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	if p.Enabled != nil && !*p.Enabled {
		if err := sp.Page.DisableInterception(ctx); err != nil {
			return nil, protocol.FromEngineError(err)
		}
		return map[string]any{"intercepting": false}, nil
	}
	if err := sp.Page.EnableInterception(ctx, p.Patterns); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"intercepting": true}, nil
}

func (s *Server) handleNetworkContinue(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		RequestID string                   `json:"requestId"`
		Overrides *engine.RequestOverrides `json:"overrides,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	if p.Overrides != nil && p.Overrides.URL != "" {
		if err := s.urlGuard.Check(p.Overrides.URL); err != nil {
			return nil, err
		}
	}
	if err := sp.Page.ContinueRequest(ctx, p.RequestID, p.Overrides); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"continued": true}, nil
}

func (s *Server) handleNetworkFulfill(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		RequestID string                  `json:"requestId"`
		Response  *engine.FulfillResponse `json:"response"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Response == nil {
		return nil, protocol.ErrInvalidParams("response is required")
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	if err := sp.Page.FulfillRequest(ctx, p.RequestID, p.Response); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"fulfilled": true}, nil
}

func (s *Server) handleNetworkAbort(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		RequestID string `json:"requestId"`
		Reason    string `json:"reason,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	if err := sp.Page.AbortRequest(ctx, p.RequestID, p.Reason); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"aborted": true}, nil
}

func (s *Server) handleEmulateSetViewport(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, protocol.ErrInvalidParams("width and height must be positive")
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	if err := sp.Page.SetViewportSize(ctx, p.Width, p.Height); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"width": p.Width, "height": p.Height}, nil
}

func (s *Server) handleEmulateSetUserAgent(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		contextRef
		UserAgent string `json:"userAgent"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.UserAgent == "" {
		return nil, protocol.ErrInvalidParams("userAgent is required")
	}
	sc, err := s.contextFor(c, p.ContextID)
	if err != nil {
		return nil, err
	}
	if err := sc.Context.SetUserAgent(ctx, p.UserAgent); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"applied": true}, nil
}

func (s *Server) handleEmulateSetGeolocation(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		contextRef
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Accuracy  float64 `json:"accuracy,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sc, err := s.contextFor(c, p.ContextID)
	if err != nil {
		return nil, err
	}
	if err := sc.Context.SetGeolocation(ctx, p.Latitude, p.Longitude, p.Accuracy); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"applied": true}, nil
}

func (s *Server) handleEmulateSetOffline(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		contextRef
		Offline bool `json:"offline"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sc, err := s.contextFor(c, p.ContextID)
	if err != nil {
		return nil, err
	}
	if err := sc.Context.SetOffline(ctx, p.Offline); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"offline": p.Offline}, nil
}

func (s *Server) handleDialogHandle(_ context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		Accept     bool   `json:"accept"`
		PromptText string `json:"promptText,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	sp.Page.HandleDialogs(p.Accept, p.PromptText)
	return map[string]any{"accept": p.Accept}, nil
}

func (s *Server) handleTraceStart(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		contextRef
		Screenshots bool `json:"screenshots,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sc, err := s.contextFor(c, p.ContextID)
	if err != nil {
		return nil, err
	}
	if err := sc.Context.StartTracing(ctx, p.Screenshots); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"tracing": true}, nil
}

func (s *Server) handleTraceStop(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		contextRef
		Stream bool `json:"stream,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sc, err := s.contextFor(c, p.ContextID)
	if err != nil {
		return nil, err
	}
	data, err := sc.Context.StopTracing(ctx)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	if p.Stream && len(data) > streamThreshold {
		return c.startStream("application/json", data), nil
	}
	return map[string]any{"data": base64.StdEncoding.EncodeToString(data)}, nil
}
