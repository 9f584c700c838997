package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentbrowser/bap/env"
	"github.com/agentbrowser/bap/log"
	"github.com/agentbrowser/bap/policy"
)

// ExpireFunc is called when a session hits max duration or idle timeout.
// The server closes the socket with policy code 1008.
type ExpireFunc func(s *Session, reason string)

// Manager tracks live sessions and enforces the per-IP connection cap and
// the session duration and idle timeouts.
type Manager struct {
	cfg    env.Config
	logger *log.Logger
	audit  *policy.AuditLog

	mu       sync.Mutex
	sessions map[string]*Session
	perIP    map[string]int

	cancel context.CancelFunc
}

// NewManager starts the expiry sweeper and returns the manager.
func NewManager(cfg env.Config, logger *log.Logger, audit *policy.AuditLog, onExpire ExpireFunc) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		audit:    audit,
		sessions: make(map[string]*Session),
		perIP:    make(map[string]int),
		cancel:   cancel,
	}
	go m.sweep(ctx, onExpire)
	return m
}

// Open admits a new connection, or returns false when the per-IP cap is hit.
func (m *Manager) Open(ip, remoteAddr string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxConnectionsPerIP > 0 && m.perIP[ip] >= m.cfg.MaxConnectionsPerIP {
		return nil, false
	}
	s := New(uuid.NewString(), remoteAddr, m.cfg)
	m.sessions[s.ID] = s
	m.perIP[ip]++
	m.logger.Debugf("session:open", "id=%s ip=%s live=%d", s.ID, ip, len(m.sessions))
	return s, true
}

// Close tears a session down: resolves pending approvals as denied, closes
// the browser and releases the IP slot.
func (m *Manager) Close(s *Session, ip string) {
	m.mu.Lock()
	if _, ok := m.sessions[s.ID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.ID)
	if m.perIP[ip] > 0 {
		m.perIP[ip]--
		if m.perIP[ip] == 0 {
			delete(m.perIP, ip)
		}
	}
	m.mu.Unlock()

	for _, pa := range s.PendingApprovals() {
		select {
		case pa.Decision <- ApprovalDecision{Decision: "deny", Reason: "session closed"}:
		default:
		}
	}
	if b := s.Browser(); b != nil {
		if err := b.Close(context.Background()); err != nil {
			m.logger.Warnf("session:close", "browser close failed: %v", err)
		}
	}
	s.ClearBrowser()
	m.logger.Debugf("session:close", "id=%s", s.ID)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stop halts the expiry sweeper.
func (m *Manager) Stop() {
	m.cancel()
}

func (m *Manager) sweep(ctx context.Context, onExpire ExpireFunc) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		m.mu.Lock()
		live := make([]*Session, 0, len(m.sessions))
		for _, s := range m.sessions {
			live = append(live, s)
		}
		m.mu.Unlock()
		for _, s := range live {
			if expired, reason := s.Expired(m.cfg.SessionMaxDuration, m.cfg.SessionIdleTimeout); expired {
				m.audit.Record(policy.AuditSessionExpired, map[string]any{
					"sessionId": s.ID,
					"reason":    reason,
				})
				if onExpire != nil {
					onExpire(s, reason)
				}
			}
		}
	}
}
