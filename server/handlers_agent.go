package server

import (
	"context"
	"encoding/json"

	"github.com/agentbrowser/bap/agent"
	"github.com/agentbrowser/bap/policy"
	"github.com/agentbrowser/bap/protocol"
	"github.com/agentbrowser/bap/ratelimit"
)

func (s *Server) handleAgentObserve(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		agent.ObserveOptions
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	if p.IncludeScreenshot {
		if ok, retryAfter := c.sess.Limiter.Allow(ratelimit.DimensionScreenshot); !ok {
			return nil, protocol.ErrRateLimited(ratelimit.DimensionScreenshot, retryAfter.Milliseconds())
		}
	}
	obs, err := s.observer.Observe(ctx, sp.Page, frameFor(c, sp.ID), c.sess.Registry(sp.ID), p.ObserveOptions)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return obs, nil
}

func (s *Server) handleAgentAct(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var opts agent.ActOptions
	if err := decodeParams(params, &opts); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, pageRef{})
	if err != nil {
		return nil, err
	}

	runner := agent.NewRunner(
		s.logger,
		func(ctx context.Context, method string, stepParams json.RawMessage) (any, error) {
			return s.invoke(ctx, c, method, stepParams, false)
		},
		func(method string) error {
			if !policy.CheckScope(c.sess.Scopes(), method) {
				required, _ := policy.RequiredScopes(method)
				s.audit.Record(policy.AuditAuthorizationDenied, map[string]any{
					"sessionId": c.sess.ID,
					"method":    method,
				})
				return protocol.ErrUnauthorized(method, required)
			}
			return nil
		},
		s.waitCondition(c),
		s.cfg.DefaultTimeout,
	)
	if err := runner.Validate(opts); err != nil {
		return nil, err
	}
	observe := func(ctx context.Context, o agent.ObserveOptions) (*agent.Observation, error) {
		page, err := s.pageFor(c, pageRef{})
		if err != nil {
			return nil, err
		}
		return s.observer.Observe(ctx, page.Page, frameFor(c, page.ID), c.sess.Registry(page.ID), o)
	}
	s.logger.Debugf("server:agent", "act session=%s steps=%d page=%s", c.sess.ID, len(opts.Steps), sp.ID)
	return runner.Run(ctx, observe, opts)
}

func (s *Server) handleAgentExtract(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		agent.ExtractOptions
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	html, err := sp.Page.Content(ctx)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return agent.Extract(s.redactor.RedactHTML(html), p.ExtractOptions)
}
