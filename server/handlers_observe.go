package server

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/policy"
	"github.com/agentbrowser/bap/protocol"
	"github.com/agentbrowser/bap/ratelimit"
)

func (s *Server) handleObserveScreenshot(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		FullPage bool         `json:"fullPage,omitempty"`
		Format   string       `json:"format,omitempty"`
		Quality  int          `json:"quality,omitempty"`
		Clip     *engine.Clip `json:"clip,omitempty"`
		Stream   bool         `json:"stream,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if ok, retryAfter := c.sess.Limiter.Allow(ratelimit.DimensionScreenshot); !ok {
		return nil, protocol.ErrRateLimited(ratelimit.DimensionScreenshot, retryAfter.Milliseconds())
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	format := p.Format
	if format == "" {
		format = "png"
	}
	data, err := sp.Page.Screenshot(ctx, engine.ScreenshotOptions{
		FullPage: p.FullPage,
		Format:   format,
		Quality:  p.Quality,
		Clip:     p.Clip,
	})
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	if p.Stream && len(data) > streamThreshold {
		return c.startStream("image/"+format, data), nil
	}
	return map[string]any{
		"data":   base64.StdEncoding.EncodeToString(data),
		"format": format,
	}, nil
}

func (s *Server) handleObserveAccessibility(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p pageRef
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p)
	if err != nil {
		return nil, err
	}
	tree, err := sp.Page.AccessibilityTree(ctx)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"tree": tree}, nil
}

func (s *Server) handleObserveDOM(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		Selector string `json:"selector,omitempty"`
		Stream   bool   `json:"stream,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	var html string
	if p.Selector != "" {
		loc, _, err := s.resolveLocator(c, sp, p.Selector)
		if err != nil {
			return nil, err
		}
		if err := loc.Evaluate(ctx, "el.outerHTML", &html); err != nil {
			return nil, protocol.FromEngineError(err)
		}
	} else {
		var err error
		html, err = sp.Page.Content(ctx)
		if err != nil {
			return nil, protocol.FromEngineError(err)
		}
	}
	html = s.redactor.RedactHTML(html)
	if p.Stream && len(html) > streamThreshold {
		return c.startStream("text/html", []byte(html)), nil
	}
	return map[string]any{"html": html}, nil
}

func (s *Server) handleObserveElement(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p selectorParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	loc, sel, err := s.resolveLocator(c, sp, p.Selector)
	if err != nil {
		return nil, err
	}
	count, err := loc.Count(ctx)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	if count == 0 {
		return nil, protocol.ErrElementNotFound(p.Selector)
	}

	result := map[string]any{"selector": p.Selector, "count": count, "type": sel.Type}
	if text, err := loc.InnerText(ctx); err == nil {
		result["text"] = s.redactor.RedactText(text)
	}
	if visible, err := loc.IsVisible(ctx); err == nil {
		result["visible"] = visible
	}
	if enabled, err := loc.IsEnabled(ctx); err == nil {
		result["enabled"] = enabled
	}
	if checked, err := loc.IsChecked(ctx); err == nil {
		result["checked"] = checked
	}
	if value, err := loc.InputValue(ctx); err == nil {
		inputType, _, _ := loc.GetAttribute(ctx, "type")
		var attrs map[string]string
		if v, present, _ := loc.GetAttribute(ctx, "data-sensitive"); present {
			attrs = map[string]string{"data-sensitive": v}
		}
		redacted := s.redactor.RedactElementValue(inputType, attrs, value)
		result["value"] = redacted
		if redacted != value {
			s.audit.Record(policy.AuditValueRedacted, map[string]any{
				"sessionId": c.sess.ID,
				"selector":  p.Selector,
			})
		}
	}
	if x, y, w, h, err := loc.BoundingBox(ctx); err == nil {
		result["bounds"] = map[string]float64{"x": x, "y": y, "width": w, "height": h}
	}
	return result, nil
}

func (s *Server) handleObservePDF(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		engine.PDFOptions
		Stream bool `json:"stream,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	data, err := sp.Page.PDF(ctx, p.PDFOptions)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	if p.Stream && len(data) > streamThreshold {
		return c.startStream("application/pdf", data), nil
	}
	return map[string]any{"data": base64.StdEncoding.EncodeToString(data)}, nil
}

func (s *Server) handleObserveContent(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		Format string `json:"format,omitempty"` // text or html
		Stream bool   `json:"stream,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	var content string
	if p.Format == "html" {
		html, err := sp.Page.Content(ctx)
		if err != nil {
			return nil, protocol.FromEngineError(err)
		}
		content = s.redactor.RedactHTML(html)
	} else {
		text, err := sp.Page.InnerText(ctx)
		if err != nil {
			return nil, protocol.FromEngineError(err)
		}
		content = s.redactor.RedactText(text)
	}
	if p.Stream && len(content) > streamThreshold {
		return c.startStream("text/plain", []byte(content)), nil
	}
	return map[string]any{"content": content}, nil
}

func (s *Server) handleObserveAriaSnapshot(ctx context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		pageRef
		Selector string `json:"selector,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sp, err := s.pageFor(c, p.pageRef)
	if err != nil {
		return nil, err
	}
	sel := p.Selector
	if sel == "" {
		sel = "css:body"
	}
	loc, _, err := s.resolveLocator(c, sp, sel)
	if err != nil {
		return nil, err
	}
	snapshot, err := loc.AriaSnapshot(ctx)
	if err != nil {
		return nil, protocol.FromEngineError(err)
	}
	return map[string]any{"snapshot": snapshot}, nil
}
