package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/env"
	"github.com/agentbrowser/bap/log"
	"github.com/agentbrowser/bap/policy"
	"github.com/agentbrowser/bap/selector"
	"github.com/agentbrowser/bap/session"
)

func newTestServer(t *testing.T, cfg env.Config) *Server {
	t.Helper()
	s := New(cfg, nil, log.NewNullLogger())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Every method of the authorization table must have a handler, and every
// handler must be authorized by the table. A mismatch either way means an
// unreachable or an unguarded method.
func TestHandlerTableMatchesScopeTable(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, env.NewConfig())

	for _, m := range policy.Methods() {
		_, ok := s.handlers[m]
		assert.True(t, ok, "method %s has no handler", m)
	}
	for m := range s.handlers {
		assert.True(t, policy.KnownMethod(m), "handler %s is not in the scope table", m)
	}
}

func TestMethodAllowedBeforeInit(t *testing.T) {
	t.Parallel()

	assert.True(t, methodAllowedBeforeInit("initialize"))
	assert.False(t, methodAllowedBeforeInit("browser/launch"))
	assert.False(t, methodAllowedBeforeInit("page/navigate"))
}

func TestMethodMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		method  string
		want    bool
	}{
		{"*", "action/click", true},
		{"action/click", "action/click", true},
		{"action/*", "action/click", true},
		{"action/*", "action/fill", true},
		{"action/*", "page/navigate", false},
		{"page/navigate", "page/reload", false},
		{"storage/*", "storage/getState", true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, methodMatches(tc.pattern, tc.method), "%s vs %s", tc.pattern, tc.method)
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	cfg := env.NewConfig()
	cfg.AuthToken = "tok-123"
	s := newTestServer(t, cfg)

	mkReq := func(mod func(*http.Request)) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:9322/", nil)
		mod(r)
		return r
	}

	assert.True(t, s.authenticate(mkReq(func(r *http.Request) {
		r.Header.Set(TokenHeader, "tok-123")
	})))
	assert.True(t, s.authenticate(mkReq(func(r *http.Request) {
		r.URL.RawQuery = "token=tok-123"
	})))
	assert.False(t, s.authenticate(mkReq(func(r *http.Request) {
		r.Header.Set(TokenHeader, "wrong")
	})))
	assert.False(t, s.authenticate(mkReq(func(*http.Request) {})))

	open := newTestServer(t, env.NewConfig())
	assert.True(t, open.authenticate(mkReq(func(*http.Request) {})), "no configured token accepts everyone")
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	cfg := env.NewConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	s := newTestServer(t, cfg)

	mkReq := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:9322/", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, s.checkOrigin(mkReq("https://app.example.com")))
	assert.True(t, s.checkOrigin(mkReq("HTTPS://APP.EXAMPLE.COM")))
	assert.True(t, s.checkOrigin(mkReq("")), "non-browser clients send no origin")
	assert.False(t, s.checkOrigin(mkReq("https://evil.example.com")))

	unrestricted := newTestServer(t, env.NewConfig())
	assert.True(t, unrestricted.checkOrigin(mkReq("https://anything.example")))
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, env.NewConfig())

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestHandleWSRejections(t *testing.T) {
	t.Parallel()

	cfg := env.NewConfig()
	cfg.AuthToken = "tok"
	cfg.RequireTLS = true
	s := newTestServer(t, cfg)

	// TLS gate fires before anything else.
	rec := httptest.NewRecorder()
	s.handleWS(rec, httptest.NewRequest(http.MethodGet, "http://h/", nil))
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)

	// A forwarded HTTPS proto passes the gate and hits authentication.
	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "http://h/", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	s.handleWS(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// elementLocator fakes the locator surface handleObserveElement reads. The
// embedded interface panics on everything else.
type elementLocator struct {
	engine.Locator

	value     string
	inputType string
	attrs     map[string]string
}

func (l *elementLocator) Count(context.Context) (int, error) { return 1, nil }

func (l *elementLocator) InnerText(context.Context) (string, error) { return "label text", nil }

func (l *elementLocator) IsVisible(context.Context) (bool, error) { return true, nil }

func (l *elementLocator) IsEnabled(context.Context) (bool, error) { return true, nil }

func (l *elementLocator) IsChecked(context.Context) (bool, error) { return false, nil }

func (l *elementLocator) InputValue(context.Context) (string, error) { return l.value, nil }

func (l *elementLocator) GetAttribute(_ context.Context, name string) (string, bool, error) {
	if name == "type" {
		return l.inputType, l.inputType != "", nil
	}
	v, ok := l.attrs[name]
	return v, ok, nil
}

func (l *elementLocator) BoundingBox(context.Context) (float64, float64, float64, float64, error) {
	return 10, 20, 80, 30, nil
}

type elementPage struct {
	engine.Page

	loc engine.Locator
}

func (p *elementPage) Locator(string, selector.Compiled) engine.Locator { return p.loc }

func TestHandleObserveElementRedactsSensitiveValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		loc  *elementLocator
		want string
	}{
		{
			"password input",
			&elementLocator{value: "hunter2", inputType: "password"},
			policy.RedactedPlaceholder,
		},
		{
			"data-sensitive attribute without input type",
			&elementLocator{value: "4111-1111", attrs: map[string]string{"data-sensitive": "true"}},
			policy.RedactedPlaceholder,
		},
		{
			"plain text input",
			&elementLocator{value: "alice", inputType: "text"},
			"alice",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer(t, env.NewConfig())
			sess := session.New("sess-1", "127.0.0.1", env.NewConfig())
			require.True(t, sess.SetBrowser(struct{ engine.Browser }{}))
			require.True(t, sess.AddPage(&session.Page{ID: "pg-1", Page: &elementPage{loc: tc.loc}}, 5))
			c := &conn{srv: s, sess: sess}

			res, err := s.handleObserveElement(context.Background(), c, json.RawMessage(`{"selector":"css:#field"}`))
			require.NoError(t, err)

			result, ok := res.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tc.want, result["value"])
		})
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "10.0.0.5", clientIP("10.0.0.5:61234"))
	assert.Equal(t, "::1", clientIP("[::1]:8080"))
	assert.Equal(t, "bare-host", clientIP("bare-host"))
}

func TestForwardedTLS(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "http://h/", nil)
	assert.False(t, forwardedTLS(r))
	r.Header.Set("X-Forwarded-Proto", "https")
	assert.True(t, forwardedTLS(r))
	r.Header.Set("X-Forwarded-Proto", "HTTPS")
	assert.True(t, forwardedTLS(r))
}
