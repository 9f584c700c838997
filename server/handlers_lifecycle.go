package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentbrowser/bap/policy"
	"github.com/agentbrowser/bap/protocol"
)

func (s *Server) handleInitialize(_ context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name,omitempty"`
			Version string `json:"version,omitempty"`
		} `json:"clientInfo"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ProtocolVersion == "" {
		return nil, protocol.ErrInvalidRequest("protocolVersion is required")
	}
	warning, err := protocol.CheckVersion(p.ProtocolVersion)
	if err != nil {
		return nil, protocol.ErrInvalidRequest(err.Error())
	}

	scopes := s.cfg.Scopes
	if len(scopes) == 0 {
		scopes = policy.ProfileScopes(s.cfg.ScopeProfile)
	}
	if !c.sess.Initialize(scopes) {
		return nil, protocol.ErrAlreadyInitialized()
	}
	s.logger.Infof("server", "session %s initialized client=%s/%s", c.sess.ID, p.ClientInfo.Name, p.ClientInfo.Version)

	result := map[string]any{
		"protocolVersion": protocol.ProtocolVersion,
		"sessionId":       c.sess.ID,
		"scopes":          scopes,
		"serverInfo": map[string]string{
			"name":    "bap",
			"version": Version,
		},
		"capabilities": map[string]bool{
			"streams":     true,
			"approvals":   len(s.cfg.ApprovalRules) > 0,
			"annotations": true,
		},
	}
	if warning != "" {
		result["warning"] = warning
	}
	return result, nil
}

func (s *Server) handleShutdown(ctx context.Context, c *conn, _ json.RawMessage) (any, error) {
	if b := c.sess.Browser(); b != nil {
		if err := b.Close(ctx); err != nil {
			s.logger.Warnf("server", "browser close during shutdown: %v", err)
		}
		c.sess.ClearBrowser()
	}
	// The response still goes out; the socket closes once it is flushed.
	go func() {
		time.Sleep(250 * time.Millisecond)
		c.closeSocket()
	}()
	return map[string]any{"ok": true}, nil
}

func (s *Server) handleEventsSubscribe(_ context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		Events []string `json:"events"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	c.sess.Subscribe(p.Events)
	return map[string]any{"subscribed": p.Events}, nil
}
