package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/protocol"
	"github.com/agentbrowser/bap/selector"
	"github.com/agentbrowser/bap/session"
)

// selectorParams is the common shape of action requests: a selector string
// plus an optional page and timeout.
type selectorParams struct {
	pageRef
	Selector string `json:"selector"`
	Timeout  int    `json:"timeout,omitempty"`
}

// resolveLocator parses and guards a selector string, resolves refs through
// the page's registry, and compiles the result into an engine locator.
func (s *Server) resolveLocator(c *conn, sp *session.Page, selStr string) (engine.Locator, selector.Selector, error) {
	sel, err := selector.Parse(selStr)
	if err != nil {
		return nil, selector.Selector{}, protocol.ErrInvalidParams(err.Error())
	}
	if err := s.selectorGuard.Check(sel); err != nil {
		return nil, selector.Selector{}, err
	}
	if sel.Type == selector.TypeSemantic {
		s.logger.Warnf("server", "semantic selector %q resolved as text match", sel.Value)
	}
	if sel.Type == selector.TypeRef {
		entry, ok := c.sess.Registry(sp.ID).Resolve(sel.Ref)
		if !ok {
			return nil, sel, protocol.ErrElementNotFound(selStr)
		}
		sel = entry.Selector
	}
	compiled, err := selector.Compile(sel)
	if err != nil {
		return nil, sel, protocol.ErrInvalidParams(err.Error())
	}
	return sp.Page.Locator(frameFor(c, sp.ID), compiled), sel, nil
}

// locatorFor is resolveLocator plus the page lookup shared by every action.
func (s *Server) locatorFor(c *conn, p selectorParams) (engine.Locator, *session.Page, time.Duration, error) {
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, nil, 0, err
	}
	loc, _, err := s.resolveLocator(c, sp, p.Selector)
	if err != nil {
		return nil, nil, 0, err
	}
	return loc, sp, s.timeoutFor(p.Timeout), nil
}

func (s *Server) handleActionClick(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		selectorParams
		Button   string           `json:"button,omitempty"`
		Position *engine.Position `json:"position,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	loc, _, timeout, err := s.locatorFor(c, p.selectorParams)
	if err != nil {
		return nil, err
	}
	opts := engine.ClickOptions{Button: p.Button, Count: 1, Position: p.Position, Timeout: timeout}
	if err := loc.Click(ctx, opts); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"clicked": true}, nil
}

func (s *Server) handleActionDblclick(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p selectorParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	loc, _, timeout, err := s.locatorFor(c, p)
	if err != nil {
		return nil, err
	}
	if err := loc.Dblclick(ctx, engine.ClickOptions{Count: 2, Timeout: timeout}); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"clicked": true}, nil
}

func (s *Server) handleActionFill(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		selectorParams
		Value string `json:"value"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	loc, _, timeout, err := s.locatorFor(c, p.selectorParams)
	if err != nil {
		return nil, err
	}
	if err := loc.Fill(ctx, p.Value, timeout); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	s.logger.Debugf("server:action", "fill %s value=%s", p.Selector, s.redactor.RedactText(p.Value))
	return map[string]any{"filled": true}, nil
}

func (s *Server) handleActionType(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		selectorParams
		Text  string `json:"text"`
		Delay int    `json:"delay,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	loc, _, timeout, err := s.locatorFor(c, p.selectorParams)
	if err != nil {
		return nil, err
	}
	delay := time.Duration(p.Delay) * time.Millisecond
	if err := loc.Type(ctx, p.Text, delay, timeout); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"typed": true}, nil
}

func (s *Server) handleActionClear(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p selectorParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	loc, _, timeout, err := s.locatorFor(c, p)
	if err != nil {
		return nil, err
	}
	if err := loc.Clear(ctx, timeout); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"cleared": true}, nil
}

func (s *Server) handleActionPress(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		selectorParams
		Key string `json:"key"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, protocol.ErrInvalidParams("key is required")
	}
	// Pressing without a selector targets the focused element.
	if p.Selector == "" {
		sp, err := s.pageFor(c, p.pageRef)
		if err != nil {
			return nil, err
		}
		if err := sp.Page.KeyboardPress(ctx, p.Key); err != nil {
			return nil, protocol.FromEngineError(err)
		}
		return map[string]any{"pressed": true}, nil
	}
	loc, _, timeout, err := s.locatorFor(c, p.selectorParams)
	if err != nil {
		return nil, err
	}
	if err := loc.Press(ctx, p.Key, timeout); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"pressed": true}, nil
}

func (s *Server) handleActionHover(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p selectorParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	loc, _, timeout, err := s.locatorFor(c, p)
	if err != nil {
		return nil, err
	}
	if err := loc.Hover(ctx, timeout); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"hovered": true}, nil
}

func (s *Server) handleActionScroll(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		Selector string  `json:"selector,omitempty"`
		DeltaX   float64 `json:"deltaX,omitempty"`
		DeltaY   float64 `json:"deltaY,omitempty"`
		Timeout  int     `json:"timeout,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	if p.Selector != "" {
		loc, _, err := s.resolveLocator(c, sp, p.Selector)
		if err != nil {
			return nil, err
		}
		if err := loc.ScrollIntoView(ctx, s.timeoutFor(p.Timeout)); err != nil {
			return nil, protocol.FromEngineError(err)
		}
		return map[string]any{"scrolled": true}, nil
	}
	if err := sp.Page.Scroll(ctx, p.DeltaX, p.DeltaY); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"scrolled": true}, nil
}

func (s *Server) handleActionSelect(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		selectorParams
		Values []string `json:"values"`
		Value  string   `json:"value,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	values := p.Values
	if len(values) == 0 && p.Value != "" {
		values = []string{p.Value}
	}
	if len(values) == 0 {
		return nil, protocol.ErrInvalidParams("values is required")
	}
	loc, _, timeout, err := s.locatorFor(c, p.selectorParams)
	if err != nil {
		return nil, err
	}
	if err := loc.SelectOption(ctx, values, timeout); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"selected": values}, nil
}

func (s *Server) handleActionCheck(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	return s.setChecked(ctx, c, params, true)
}

func (s *Server) handleActionUncheck(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	return s.setChecked(ctx, c, params, false)
}

func (s *Server) setChecked(ctx context.Context, c *conn, params json.RawMessage, checked bool) (any, error) {
	var p selectorParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	loc, _, timeout, err := s.locatorFor(c, p)
	if err != nil {
		return nil, err
	}
	if checked {
		err = loc.Check(ctx, timeout)
	} else {
		err = loc.Uncheck(ctx, timeout)
	}
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"checked": checked}, nil
}

func (s *Server) handleActionUpload(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		selectorParams
		Files []string `json:"files"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.Files) == 0 {
		return nil, protocol.ErrInvalidParams("files is required")
	}
	canonical := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		path, err := s.pathGuard.Check(f)
		if err != nil {
			return nil, err
		}
		canonical = append(canonical, path)
	}
	loc, _, timeout, err := s.locatorFor(c, p.selectorParams)
	if err != nil {
		return nil, err
	}
	if err := loc.SetInputFiles(ctx, canonical, timeout); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"uploaded": len(canonical)}, nil
}

func (s *Server) handleActionDrag(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		Source  string `json:"source"`
		Target  string `json:"target"`
		Timeout int    `json:"timeout,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	source, _, err := s.resolveLocator(c, sp, p.Source)
	if err != nil {
		return nil, err
	}
	target, _, err := s.resolveLocator(c, sp, p.Target)
	if err != nil {
		return nil, err
	}
	if err := source.DragTo(ctx, target, s.timeoutFor(p.Timeout)); err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"dragged": true}, nil
}

// waitCondition backs act step conditions: wait for a selector to reach a
// state within a timeout.
func (s *Server) waitCondition(c *conn) func(ctx context.Context, selStr, state string, timeout time.Duration) error {
	return func(ctx context.Context, selStr, state string, timeout time.Duration) error {
		sp, err := s.pageFor(c, pageRef{})
		if err != nil {
			return err
		}
		loc, _, err := s.resolveLocator(c, sp, selStr)
		if err != nil {
			return err
		}
		return loc.WaitFor(ctx, state, timeout)
	}
}
