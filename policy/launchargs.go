package policy

import (
	"regexp"
	"strings"

	"github.com/agentbrowser/bap/protocol"
)

// Launch arguments that must never reach the browser process: they disable
// the same-origin policy, open debugging backdoors, or point the profile at
// attacker-controlled paths.
var blockedLaunchArgs = []string{
	"--disable-web-security",
	"--disable-site-isolation-trials",
	"--allow-running-insecure-content",
	"--user-data-dir",
	"--load-extension",
	"--disable-extensions-except",
	"--proxy-pac-url",
	"--host-rules",
	"--no-sandbox-and-elevated",
}

var blockedLaunchArgPrefixes = []string{
	"--remote-debugging-",
	"--load-extension=",
	"--user-data-dir=",
	"--disable-extensions-except=",
}

// Arguments the server itself is allowed to forward. Entries starting and
// ending with '/' are treated as regular expressions.
var defaultLaunchArgAllowList = []string{
	"--headless",
	"--disable-gpu",
	"--disable-dev-shm-usage",
	"--no-sandbox",
	"--hide-scrollbars",
	"--mute-audio",
	"/^--window-size=\\d+,\\d+$/",
	"/^--lang=[a-zA-Z-]+$/",
	"/^--proxy-server=.+$/",
	"/^--user-agent=.+$/",
}

// LaunchArgGuard validates browser launch arguments.
type LaunchArgGuard struct {
	allowExact []string
	allowRe    []*regexp.Regexp
	audit      *AuditLog
}

// NewLaunchArgGuard builds a guard from the configured allow list, falling
// back to the default list.
func NewLaunchArgGuard(allowList []string, audit *AuditLog) *LaunchArgGuard {
	if len(allowList) == 0 {
		allowList = defaultLaunchArgAllowList
	}
	g := &LaunchArgGuard{audit: audit}
	for _, entry := range allowList {
		if len(entry) > 2 && strings.HasPrefix(entry, "/") && strings.HasSuffix(entry, "/") {
			if re, err := regexp.Compile(entry[1 : len(entry)-1]); err == nil {
				g.allowRe = append(g.allowRe, re)
			}
			continue
		}
		g.allowExact = append(g.allowExact, entry)
	}
	return g
}

// Check validates every launch argument; the first offending one fails the
// whole launch.
func (g *LaunchArgGuard) Check(args []string) error {
	for _, arg := range args {
		if g.blocked(arg) {
			g.audit.Record(AuditLaunchArgBlocked, map[string]any{"arg": arg, "reason": "blocked"})
			return protocol.ErrInvalidParams("launch argument blocked").
				WithDetails(map[string]any{"arg": arg})
		}
		if !g.allowed(arg) {
			g.audit.Record(AuditLaunchArgBlocked, map[string]any{"arg": arg, "reason": "not-allowed"})
			return protocol.ErrInvalidParams("launch argument not in allow list").
				WithDetails(map[string]any{"arg": arg})
		}
	}
	return nil
}

func (g *LaunchArgGuard) blocked(arg string) bool {
	name, _, _ := strings.Cut(arg, "=")
	for _, b := range blockedLaunchArgs {
		if name == b {
			return true
		}
	}
	for _, p := range blockedLaunchArgPrefixes {
		if strings.HasPrefix(arg, p) {
			return true
		}
	}
	return false
}

func (g *LaunchArgGuard) allowed(arg string) bool {
	for _, a := range g.allowExact {
		if arg == a {
			return true
		}
	}
	for _, re := range g.allowRe {
		if re.MatchString(arg) {
			return true
		}
	}
	return false
}
