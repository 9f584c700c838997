// Package server hosts the Browser Agent Protocol: a JSON-RPC 2.0 service
// over WebSocket plus a small HTTP surface (health check). Each accepted
// socket is bound to one session; requests within a session are serialized
// while sessions progress independently.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentbrowser/bap/agent"
	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/env"
	"github.com/agentbrowser/bap/log"
	"github.com/agentbrowser/bap/policy"
	"github.com/agentbrowser/bap/session"
)

// Version is the server build version reported by initialize and /health.
const Version = "1.2.0"

// TokenHeader carries the auth token when the query parameter is not used.
const TokenHeader = "X-BAP-Token"

// Server accepts WebSocket connections and runs the protocol.
type Server struct {
	cfg      env.Config
	logger   *log.Logger
	audit    *policy.AuditLog
	eng      engine.Engine
	sessions *session.Manager

	observer *agent.Observer

	urlGuard      *policy.URLGuard
	launchArgs    *policy.LaunchArgGuard
	pathGuard     *policy.PathGuard
	selectorGuard *policy.SelectorGuard
	redactor      *policy.Redactor

	upgrader websocket.Upgrader
	handlers map[string]handlerFunc

	connMu sync.Mutex
	conns  map[string]*conn

	httpSrv *http.Server
}

// New wires a server from configuration, an engine and a logger.
func New(cfg env.Config, eng engine.Engine, logger *log.Logger) *Server {
	audit := policy.NewAuditLog()
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		audit:         audit,
		eng:           eng,
		observer:      agent.NewObserver(logger),
		urlGuard:      policy.NewURLGuard(cfg.AllowedProtocols, cfg.BlockedProtocols, cfg.AllowedHosts, cfg.BlockedHosts, audit, logger),
		launchArgs:    policy.NewLaunchArgGuard(cfg.LaunchArgAllowList, audit),
		pathGuard:     policy.NewPathGuard(cfg.AllowedDownloadDirs, audit),
		selectorGuard: policy.NewSelectorGuard(audit),
		redactor:      policy.NewRedactor(cfg.DisableRedaction, audit),
		conns:         make(map[string]*conn),
	}
	s.sessions = session.NewManager(cfg, logger, audit, s.expireSession)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.handlers = s.handlerTable()
	return s
}

// ListenAndServe runs the HTTP listener until it fails or Shutdown is
// called. TLS is used when cert and key files are configured.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleWS)

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	scheme := "ws"
	if s.cfg.CertFile != "" {
		scheme = "wss"
	}
	s.logger.Infof("server", "listening on %s://%s", scheme, s.cfg.Addr())
	if s.cfg.CertFile != "" {
		return s.httpSrv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
	}
	return s.httpSrv.ListenAndServe()
}

// Close stops the listener and the session sweeper.
func (s *Server) Close() error {
	s.sessions.Stop()
	if s.httpSrv != nil {
		return s.httpSrv.Close()
	}
	return nil
}

func securityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Cache-Control", "no-store")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	securityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	securityHeaders(w)

	if s.cfg.RequireTLS && r.TLS == nil && !forwardedTLS(r) {
		s.audit.Record(policy.AuditTLSRequired, map[string]any{"remote": r.RemoteAddr})
		http.Error(w, "TLS required", http.StatusUpgradeRequired)
		return
	}
	if !s.authenticate(r) {
		s.audit.Record(policy.AuditAuthFailed, map[string]any{"remote": r.RemoteAddr})
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ip := clientIP(r.RemoteAddr)
	sess, ok := s.sessions.Open(ip, r.RemoteAddr)
	if !ok {
		s.audit.Record(policy.AuditConnectionLimit, map[string]any{"ip": ip})
		http.Error(w, "connection limit reached", http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.sessions.Close(sess, ip)
		s.logger.Warnf("server", "upgrade failed: %v", err)
		return
	}
	s.audit.Record(policy.AuditAuthSuccess, map[string]any{"ip": ip, "sessionId": sess.ID})
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	c := newConn(s, ws, sess, ip)
	s.registerConn(c)
	go c.writePump()
	c.readPump()
}

// authenticate compares the presented token against the configured one in
// constant time. A server without a configured token accepts everyone.
func (s *Server) authenticate(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get(TokenHeader)
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	s.audit.Record(policy.AuditOriginRejected, map[string]any{"origin": origin})
	return false
}

func (s *Server) expireSession(sess *session.Session, reason string) {
	s.connMu.Lock()
	c := s.conns[sess.ID]
	s.connMu.Unlock()
	if c == nil {
		return
	}
	s.logger.Infof("server", "session %s expired: %s", sess.ID, reason)
	c.closeWithPolicy("session expired: " + reason)
}

func (s *Server) registerConn(c *conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conns[c.sess.ID] = c
}

func (s *Server) unregisterConn(c *conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.conns, c.sess.ID)
}

func forwardedTLS(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// preInitMethods lists the methods allowed before initialize completes.
var preInitMethods = map[string]bool{
	"initialize": true,
}

func methodAllowedBeforeInit(method string) bool {
	return preInitMethods[method]
}
