package server

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentbrowser/bap/env"
	"github.com/agentbrowser/bap/policy"
	"github.com/agentbrowser/bap/protocol"
	"github.com/agentbrowser/bap/session"
)

// approvalContext is the page snapshot attached to approval/required so a
// human can judge the request.
type approvalContext struct {
	PageURL   string `json:"pageUrl,omitempty"`
	PageTitle string `json:"pageTitle,omitempty"`
}

type approvalRequired struct {
	RequestID       string           `json:"requestId"`
	OriginalRequest map[string]any   `json:"originalRequest"`
	Rule            env.ApprovalRule `json:"rule"`
	Context         approvalContext  `json:"context"`
	ExpiresAt       string           `json:"expiresAt"`
}

// gateApproval suspends the request when a configured rule matches, until a
// human decision arrives or the approval times out.
func (s *Server) gateApproval(ctx context.Context, c *conn, method string, params json.RawMessage) error {
	rule, matched := s.matchApprovalRule(ctx, c, method, params)
	if !matched {
		return nil
	}
	if c.sess.RuleApproved(rule.Name) {
		return nil
	}

	expiresAt := time.Now().Add(s.cfg.ApprovalTimeout)
	pending := &session.PendingApproval{
		RequestID: uuid.NewString(),
		OriginalRequest: map[string]any{
			"method": method,
			"params": json.RawMessage(params),
		},
		Rule:      rule,
		Decision:  make(chan session.ApprovalDecision, 1),
		ExpiresAt: expiresAt,
	}
	c.sess.AddApproval(pending)

	actx := approvalContext{}
	if p, ok := c.sess.ActivePage(); ok {
		actx.PageURL, _ = p.Page.URL(ctx)
		actx.PageTitle, _ = p.Page.Title(ctx)
	}
	c.notifyEssential("approval/required", approvalRequired{
		RequestID:       pending.RequestID,
		OriginalRequest: pending.OriginalRequest,
		Rule:            rule,
		Context:         actx,
		ExpiresAt:       expiresAt.UTC().Format(time.RFC3339),
	})

	timer := time.NewTimer(s.cfg.ApprovalTimeout)
	defer timer.Stop()
	select {
	case decision, ok := <-pending.Decision:
		if !ok {
			return protocol.ErrTargetClosed()
		}
		s.audit.Record(policy.AuditApprovalDecision, map[string]any{
			"sessionId": c.sess.ID,
			"requestId": pending.RequestID,
			"rule":      rule.Name,
			"decision":  decision.Decision,
		})
		switch decision.Decision {
		case "approve", "approve-once":
			return nil
		case "approve-session":
			c.sess.ApproveRuleForSession(rule.Name)
			return nil
		default:
			return protocol.ErrApprovalDenied(decision.Reason)
		}
	case <-timer.C:
		c.sess.TakeApproval(pending.RequestID)
		s.audit.Record(policy.AuditApprovalDecision, map[string]any{
			"sessionId": c.sess.ID,
			"requestId": pending.RequestID,
			"rule":      rule.Name,
			"decision":  "timeout",
		})
		return protocol.ErrApprovalTimeout()
	case <-ctx.Done():
		c.sess.TakeApproval(pending.RequestID)
		return protocol.ErrTargetClosed()
	}
}

func (s *Server) matchApprovalRule(ctx context.Context, c *conn, method string, params json.RawMessage) (env.ApprovalRule, bool) {
	for _, rule := range s.cfg.ApprovalRules {
		if !methodMatches(rule.Method, method) {
			continue
		}
		if rule.URLGlob != "" && !s.urlGlobMatches(ctx, c, rule.URLGlob, params) {
			continue
		}
		return rule, true
	}
	return env.ApprovalRule{}, false
}

func methodMatches(pattern, method string) bool {
	if pattern == "*" || pattern == method {
		return true
	}
	if category, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(method, category+"/")
	}
	return false
}

// urlGlobMatches tests the rule glob against the request's url parameter
// when present, otherwise against the active page URL.
func (s *Server) urlGlobMatches(ctx context.Context, c *conn, glob string, params json.RawMessage) bool {
	var target string
	var withURL struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(params, &withURL); err == nil && withURL.URL != "" {
		target = withURL.URL
	} else if p, ok := c.sess.ActivePage(); ok {
		target, _ = p.Page.URL(ctx)
	}
	if target == "" {
		return false
	}
	if matched, err := path.Match(glob, target); err == nil && matched {
		return true
	}
	// path.Match stops * at separators; fall back to a substring test for
	// the common "*host*" spelling.
	trimmed := strings.Trim(glob, "*")
	return trimmed != "" && strings.Contains(target, trimmed)
}

// handleApprovalRespond resolves a pending approval. It runs out-of-band so
// the decision can reach the suspended request.
func (s *Server) handleApprovalRespond(_ context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		RequestID string `json:"requestId"`
		Decision  string `json:"decision"`
		Reason    string `json:"reason,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	switch p.Decision {
	case "approve", "deny", "approve-once", "approve-session":
	default:
		return nil, protocol.ErrInvalidParams("decision must be approve, deny, approve-once or approve-session")
	}
	pending, ok := c.sess.TakeApproval(p.RequestID)
	if !ok {
		return nil, protocol.ErrInvalidParams("no pending approval with id " + p.RequestID)
	}
	select {
	case pending.Decision <- session.ApprovalDecision{Decision: p.Decision, Reason: p.Reason}:
	default:
	}
	return map[string]any{"acknowledged": true}, nil
}
