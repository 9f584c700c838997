package policy

import (
	"path/filepath"
	"runtime"
	"strings"

	"github.com/agentbrowser/bap/protocol"
)

var blockedPathPrefixes = []string{
	"/etc", "/usr", "/bin", "/sbin", "/var", "/root", "/home",
	"/tmp", "/sys", "/proc", "/dev",
}

var blockedWindowsPrefixes = []string{
	`c:\windows`, `c:\program files`, `c:\program files (x86)`, `c:\programdata`,
}

// PathGuard validates the downloads path passed to browser/launch.
type PathGuard struct {
	// AllowedDirs, when set, is the only place downloads may land.
	AllowedDirs []string

	audit *AuditLog
}

// NewPathGuard builds a guard with an optional directory allow list.
func NewPathGuard(allowedDirs []string, audit *AuditLog) *PathGuard {
	return &PathGuard{AllowedDirs: allowedDirs, audit: audit}
}

// Check resolves the input to a canonical path (following symlinks when the
// target exists) and rejects traversal patterns and system directories.
func (g *PathGuard) Check(input string) (string, error) {
	if strings.Contains(input, "..") || strings.Contains(input, "//") {
		g.audit.Record(AuditPathTraversalAttempt, map[string]any{"path": input})
		return "", protocol.ErrInvalidParams("path contains traversal pattern").
			WithDetails(map[string]any{"path": input})
	}

	canonical, err := filepath.Abs(input)
	if err != nil {
		return "", protocol.ErrInvalidParams("path cannot be resolved")
	}
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}

	if g.systemPath(canonical) {
		g.audit.Record(AuditPathBlocked, map[string]any{"path": input, "resolved": canonical})
		return "", protocol.ErrInvalidParams("path under a blocked system directory").
			WithDetails(map[string]any{"path": input})
	}

	if len(g.AllowedDirs) > 0 && !g.underAllowed(canonical) {
		g.audit.Record(AuditPathNotAllowed, map[string]any{"path": input, "resolved": canonical})
		return "", protocol.ErrInvalidParams("path outside allowed download directories").
			WithDetails(map[string]any{"path": input})
	}
	return canonical, nil
}

func (g *PathGuard) systemPath(canonical string) bool {
	if runtime.GOOS == "windows" {
		lower := strings.ToLower(filepath.ToSlash(canonical))
		lower = strings.ReplaceAll(lower, "/", `\`)
		for _, p := range blockedWindowsPrefixes {
			if strings.HasPrefix(lower, p) {
				return true
			}
		}
		return false
	}
	for _, p := range blockedPathPrefixes {
		if canonical == p || strings.HasPrefix(canonical, p+"/") {
			return true
		}
	}
	return false
}

func (g *PathGuard) underAllowed(canonical string) bool {
	for _, dir := range g.AllowedDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if canonical == abs || strings.HasPrefix(canonical, abs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
