package server

import (
	"context"
	"encoding/json"

	"github.com/agentbrowser/bap/policy"
	"github.com/agentbrowser/bap/protocol"
	"github.com/agentbrowser/bap/ratelimit"
)

// handlerFunc executes one method against the connection's session.
type handlerFunc func(ctx context.Context, c *conn, params json.RawMessage) (any, error)

// handlerTable builds the closed method table. Every method the scope table
// knows has exactly one handler here; anything else is MethodNotFound.
func (s *Server) handlerTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"initialize":                s.handleInitialize,
		"shutdown":                  s.handleShutdown,
		"browser/launch":            s.handleBrowserLaunch,
		"browser/close":             s.handleBrowserClose,
		"context/create":            s.handleContextCreate,
		"context/list":              s.handleContextList,
		"context/destroy":           s.handleContextDestroy,
		"page/create":               s.handlePageCreate,
		"page/navigate":             s.handlePageNavigate,
		"page/reload":               s.handlePageReload,
		"page/goBack":               s.handlePageGoBack,
		"page/goForward":            s.handlePageGoForward,
		"page/close":                s.handlePageClose,
		"page/list":                 s.handlePageList,
		"page/activate":             s.handlePageActivate,
		"frame/list":                s.handleFrameList,
		"frame/switch":              s.handleFrameSwitch,
		"frame/main":                s.handleFrameMain,
		"action/click":              s.handleActionClick,
		"action/dblclick":           s.handleActionDblclick,
		"action/type":               s.handleActionType,
		"action/fill":               s.handleActionFill,
		"action/clear":              s.handleActionClear,
		"action/press":              s.handleActionPress,
		"action/hover":              s.handleActionHover,
		"action/scroll":             s.handleActionScroll,
		"action/select":             s.handleActionSelect,
		"action/check":              s.handleActionCheck,
		"action/uncheck":            s.handleActionUncheck,
		"action/upload":             s.handleActionUpload,
		"action/drag":               s.handleActionDrag,
		"observe/screenshot":        s.handleObserveScreenshot,
		"observe/accessibility":     s.handleObserveAccessibility,
		"observe/dom":               s.handleObserveDOM,
		"observe/element":           s.handleObserveElement,
		"observe/pdf":               s.handleObservePDF,
		"observe/content":           s.handleObserveContent,
		"observe/ariaSnapshot":      s.handleObserveAriaSnapshot,
		"storage/getState":          s.handleStorageGetState,
		"storage/setState":          s.handleStorageSetState,
		"storage/getCookies":        s.handleStorageGetCookies,
		"storage/setCookies":        s.handleStorageSetCookies,
		"storage/clearCookies":      s.handleStorageClearCookies,
		"network/intercept":         s.handleNetworkIntercept,
		"network/fulfill":           s.handleNetworkFulfill,
		"network/abort":             s.handleNetworkAbort,
		"network/continue":          s.handleNetworkContinue,
		"emulate/setViewport":       s.handleEmulateSetViewport,
		"emulate/setUserAgent":      s.handleEmulateSetUserAgent,
		"emulate/setGeolocation":    s.handleEmulateSetGeolocation,
		"emulate/setOffline":        s.handleEmulateSetOffline,
		"dialog/handle":             s.handleDialogHandle,
		"trace/start":               s.handleTraceStart,
		"trace/stop":                s.handleTraceStop,
		"events/subscribe":          s.handleEventsSubscribe,
		"stream/cancel":             s.handleStreamCancel,
		"approval/respond":          s.handleApprovalRespond,
		"agent/act":                 s.handleAgentAct,
		"agent/observe":             s.handleAgentObserve,
		"agent/extract":             s.handleAgentExtract,
		"notifications/initialized": nil, // notification, never dispatched as a request
	}
}

// dispatch runs the policy pipeline and the handler for one request, then
// writes the response. A failed step never leaks internals to the wire.
func (c *conn) dispatch(msg *protocol.Message) {
	result, err := c.srv.invoke(c.ctx, c, msg.Method, msg.Params, true)
	if err != nil {
		c.reply(protocol.NewErrorResponse(msg.ID, protocol.AsError(err)))
		return
	}
	resp, encErr := protocol.NewResponse(msg.ID, result)
	if encErr != nil {
		c.srv.logger.Errorf("server:dispatch", "%s result encode failed: %v", msg.Method, encErr)
		c.reply(protocol.NewErrorResponse(msg.ID, protocol.ErrInternal()))
		return
	}
	c.reply(resp)
}

// invoke is the single entry point for every method, both from the wire and
// from composite action steps. Order: method known, initialized, scope,
// rate limit, approval gate, handler. Composite steps already consumed one
// rate-limit token for the enclosing request, so they skip that check.
func (s *Server) invoke(ctx context.Context, c *conn, method string, params json.RawMessage, fromWire bool) (any, error) {
	h, known := s.handlers[method]
	if !known || h == nil || !policy.KnownMethod(method) {
		return nil, protocol.ErrMethodNotFound(method)
	}
	if !c.sess.Initialized() && !methodAllowedBeforeInit(method) {
		return nil, protocol.ErrNotInitialized()
	}
	if !policy.CheckScope(c.sess.Scopes(), method) {
		required, _ := policy.RequiredScopes(method)
		s.audit.Record(policy.AuditAuthorizationDenied, map[string]any{
			"sessionId": c.sess.ID,
			"method":    method,
			"required":  required,
		})
		return nil, protocol.ErrUnauthorized(method, required)
	}
	if fromWire {
		if ok, retryAfter := c.sess.Limiter.Allow(ratelimit.DimensionRequest); !ok {
			return nil, protocol.ErrRateLimited(ratelimit.DimensionRequest, retryAfter.Milliseconds())
		}
	}
	if err := s.gateApproval(ctx, c, method, params); err != nil {
		return nil, err
	}
	return h(ctx, c, params)
}

// decodeParams unmarshals request params, treating absent params as empty.
func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return protocol.ErrInvalidParams("params do not match the method schema")
	}
	return nil
}
