package policy

import "strings"

// Scope profiles. BAP_SCOPES overrides the profile with an explicit list.
var profiles = map[string][]string{
	"readonly": {
		"browser:read", "context:read", "page:read", "frame:read",
		"observe:*", "events:*", "stream:*",
	},
	"standard": {
		"browser:*", "context:*", "page:*", "frame:*", "action:*",
		"observe:*", "storage:read", "emulate:*", "dialog:*",
		"events:*", "stream:*", "agent:*",
	},
	"full": {
		"browser:*", "context:*", "page:*", "frame:*", "action:*",
		"observe:*", "storage:*", "network:*", "emulate:*", "dialog:*",
		"trace:*", "events:*", "stream:*", "agent:*",
	},
	"privileged": {"*"},
}

// ProfileScopes returns the scope set of a named profile, defaulting to
// "standard" for unknown names.
func ProfileScopes(profile string) []string {
	if scopes, ok := profiles[profile]; ok {
		return append([]string(nil), scopes...)
	}
	return append([]string(nil), profiles["standard"]...)
}

// methodScopes maps every method to the scopes that admit it (any-of).
// Methods absent from the table require the "*" wildcard; the lifecycle
// handshake and client-driven control methods require none.
var methodScopes = map[string][]string{
	"initialize":                nil,
	"shutdown":                  nil,
	"notifications/initialized": nil,
	"stream/cancel":             nil,
	"approval/respond":          nil,

	"browser/launch": {"browser:launch"},
	"browser/close":  {"browser:close"},

	"context/create":  {"context:create"},
	"context/list":    {"context:read"},
	"context/destroy": {"context:destroy"},

	"page/create":    {"page:create"},
	"page/navigate":  {"page:navigate"},
	"page/reload":    {"page:navigate"},
	"page/goBack":    {"page:navigate"},
	"page/goForward": {"page:navigate"},
	"page/close":     {"page:close"},
	"page/list":      {"page:read"},
	"page/activate":  {"page:activate"},

	"frame/list":   {"frame:read"},
	"frame/switch": {"frame:switch"},
	"frame/main":   {"frame:switch"},

	"action/click":    {"action:click"},
	"action/dblclick": {"action:click"},
	"action/type":     {"action:type"},
	"action/fill":     {"action:fill"},
	"action/clear":    {"action:fill"},
	"action/press":    {"action:press"},
	"action/hover":    {"action:hover"},
	"action/scroll":   {"action:scroll"},
	"action/select":   {"action:select"},
	"action/check":    {"action:check"},
	"action/uncheck":  {"action:check"},
	"action/upload":   {"action:upload"},
	"action/drag":     {"action:drag"},

	"observe/screenshot":    {"observe:screenshot"},
	"observe/accessibility": {"observe:accessibility"},
	"observe/dom":           {"observe:dom"},
	"observe/element":       {"observe:element"},
	"observe/pdf":           {"observe:pdf"},
	"observe/content":       {"observe:content"},
	"observe/ariaSnapshot":  {"observe:accessibility"},

	"storage/getState":     {"storage:read"},
	"storage/setState":     {"storage:write"},
	"storage/getCookies":   {"storage:read"},
	"storage/setCookies":   {"storage:write"},
	"storage/clearCookies": {"storage:write"},

	"network/intercept": {"network:intercept"},
	"network/fulfill":   {"network:intercept"},
	"network/abort":     {"network:intercept"},
	"network/continue":  {"network:intercept"},

	"emulate/setViewport":    {"emulate:viewport"},
	"emulate/setUserAgent":   {"emulate:useragent"},
	"emulate/setGeolocation": {"emulate:geolocation"},
	"emulate/setOffline":     {"emulate:network"},

	"dialog/handle": {"dialog:handle"},

	"trace/start": {"trace:start"},
	"trace/stop":  {"trace:stop"},

	"events/subscribe": {"events:subscribe"},

	"agent/act":     {"agent:act"},
	"agent/observe": {"agent:observe"},
	"agent/extract": {"agent:extract"},
}

// RequiredScopes returns the scopes admitting the method. The second return
// is false for methods outside the closed set; those require "*".
func RequiredScopes(method string) ([]string, bool) {
	scopes, ok := methodScopes[method]
	return scopes, ok
}

// KnownMethod reports whether the method belongs to the closed set.
func KnownMethod(method string) bool {
	_, ok := methodScopes[method]
	return ok
}

// Methods returns all method names of the closed set.
func Methods() []string {
	out := make([]string, 0, len(methodScopes))
	for m := range methodScopes {
		out = append(out, m)
	}
	return out
}

// CheckScope reports whether granted admits the method: any-of over the
// required set, with "*" granting everything and "category:*" granting a
// whole category. Unknown methods require "*".
func CheckScope(granted []string, method string) bool {
	required, known := RequiredScopes(method)
	if !known {
		return hasScope(granted, "*")
	}
	if len(required) == 0 {
		return true
	}
	for _, req := range required {
		if hasScope(granted, req) {
			return true
		}
	}
	return false
}

func hasScope(granted []string, required string) bool {
	category, _, _ := strings.Cut(required, ":")
	for _, g := range granted {
		if g == "*" || g == required {
			return true
		}
		if gc, ga, ok := strings.Cut(g, ":"); ok && ga == "*" && gc == category {
			return true
		}
	}
	return false
}
