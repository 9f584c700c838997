package policy

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrowser/bap/protocol"
)

func TestLaunchArgGuardBlocked(t *testing.T) {
	t.Parallel()

	for _, arg := range []string{
		"--disable-web-security",
		"--disable-web-security=true",
		"--remote-debugging-port=9222",
		"--remote-debugging-address=0.0.0.0",
		"--user-data-dir=/tmp/profile",
		"--load-extension=/tmp/ext",
		"--proxy-pac-url",
	} {
		arg := arg
		t.Run(arg, func(t *testing.T) {
			t.Parallel()

			buf := &bytes.Buffer{}
			g := NewLaunchArgGuard(nil, NewAuditLogTo(buf))

			err := g.Check([]string{arg})
			var perr *protocol.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, protocol.CodeInvalidParams, perr.Code)
			require.NotNil(t, perr.Data)
			assert.Equal(t, arg, perr.Data.Details["arg"])
			assert.Contains(t, buf.String(), AuditLaunchArgBlocked)
		})
	}
}

func TestLaunchArgGuardDefaultAllowList(t *testing.T) {
	t.Parallel()

	g := NewLaunchArgGuard(nil, NewAuditLogTo(&bytes.Buffer{}))

	assert.NoError(t, g.Check([]string{
		"--headless",
		"--disable-gpu",
		"--window-size=1280,720",
		"--lang=en-US",
		"--proxy-server=http://proxy:8080",
	}))

	// Not blocked, but not on the allow list either.
	assert.Error(t, g.Check([]string{"--enable-experimental-web-platform-features"}))
	assert.Error(t, g.Check([]string{"--window-size=wide"}))
}

func TestLaunchArgGuardCustomAllowList(t *testing.T) {
	t.Parallel()

	g := NewLaunchArgGuard([]string{"--kiosk", `/^--force-device-scale-factor=\d+(\.\d+)?$/`}, NewAuditLogTo(&bytes.Buffer{}))

	assert.NoError(t, g.Check([]string{"--kiosk"}))
	assert.NoError(t, g.Check([]string{"--force-device-scale-factor=1.5"}))
	assert.Error(t, g.Check([]string{"--headless"}))

	// Blocked arguments stay blocked no matter the allow list.
	assert.Error(t, g.Check([]string{"--disable-web-security"}))
}

func TestLaunchArgGuardFirstOffenderFails(t *testing.T) {
	t.Parallel()

	g := NewLaunchArgGuard(nil, NewAuditLogTo(&bytes.Buffer{}))

	err := g.Check([]string{"--headless", "--remote-debugging-port=1234", "--disable-gpu"})
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "--remote-debugging-port=1234", perr.Data.Details["arg"])
}
