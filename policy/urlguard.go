package policy

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/agentbrowser/bap/log"
	"github.com/agentbrowser/bap/protocol"
)

// Defaults applied when no explicit allow/block lists are configured.
var (
	defaultBlockedProtocols = []string{"file", "javascript", "data", "vbscript"}

	// Cloud metadata endpoints; reaching them from an agent-driven browser is
	// a classic SSRF escalation.
	defaultBlockedHosts = []string{
		"169.254.169.254",
		"metadata.google.internal",
		"metadata.goog",
		"100.100.100.200",
		"fd00:ec2::254",
	}
)

// URLGuard validates navigation targets.
type URLGuard struct {
	AllowedProtocols []string
	BlockedProtocols []string
	AllowedHosts     []string
	BlockedHosts     []string

	audit  *AuditLog
	logger *log.Logger
}

// NewURLGuard builds a guard; empty lists fall back to the defaults.
func NewURLGuard(allowedProtocols, blockedProtocols, allowedHosts, blockedHosts []string, audit *AuditLog, logger *log.Logger) *URLGuard {
	g := &URLGuard{
		AllowedProtocols: allowedProtocols,
		BlockedProtocols: blockedProtocols,
		AllowedHosts:     allowedHosts,
		BlockedHosts:     blockedHosts,
		audit:            audit,
		logger:           logger,
	}
	if len(g.BlockedProtocols) == 0 {
		g.BlockedProtocols = defaultBlockedProtocols
	}
	if len(g.BlockedHosts) == 0 {
		g.BlockedHosts = defaultBlockedHosts
	}
	return g
}

// Check validates a navigation URL, returning a BAP error on denial.
func (g *URLGuard) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return protocol.ErrInvalidParams(fmt.Sprintf("invalid URL %q", rawURL))
	}
	scheme := strings.ToLower(u.Scheme)

	if len(g.AllowedProtocols) > 0 {
		if !containsFold(g.AllowedProtocols, scheme) {
			g.deny(rawURL, "protocol", scheme)
			return protocol.ErrInvalidParams("URL protocol not allowed").
				WithDetails(map[string]any{"blocked": scheme})
		}
	} else if containsFold(g.BlockedProtocols, scheme) {
		g.deny(rawURL, "protocol", scheme)
		return protocol.ErrInvalidParams("URL protocol blocked").
			WithDetails(map[string]any{"blocked": scheme})
	}

	host := strings.ToLower(u.Hostname())
	if len(g.AllowedHosts) > 0 {
		if !hostAllowed(g.AllowedHosts, host) {
			g.deny(rawURL, "host", host)
			return protocol.ErrInvalidParams("URL host not allowed").
				WithDetails(map[string]any{"blocked": host})
		}
	} else if hostAllowed(g.BlockedHosts, host) {
		g.deny(rawURL, "host", host)
		return protocol.ErrInvalidParams("URL host blocked").
			WithDetails(map[string]any{"blocked": host})
	}

	if isPrivateHost(host) {
		g.logger.Warnf("URLGuard:Check", "navigation to private address %q", host)
	}
	return nil
}

func (g *URLGuard) deny(rawURL, kind, value string) {
	g.audit.Record(AuditURLBlocked, map[string]any{
		"url":  rawURL,
		kind:   value,
		"kind": kind,
	})
}

// hostAllowed matches exactly or against "*.suffix" patterns.
func hostAllowed(patterns []string, host string) bool {
	for _, p := range patterns {
		p = strings.ToLower(p)
		if p == host {
			return true
		}
		if suffix, ok := strings.CutPrefix(p, "*."); ok {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return true
			}
		}
	}
	return false
}

// isPrivateHost reports loopback and RFC1918 addresses, which are allowed
// but logged.
func isPrivateHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
