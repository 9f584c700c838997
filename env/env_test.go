package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestNewConfigDefaults(t *testing.T) {
	t.Parallel()

	c := NewConfig()

	assert.Equal(t, "127.0.0.1", c.Host)
	assert.Equal(t, 9322, c.Port)
	assert.Equal(t, "standard", c.ScopeProfile)
	assert.True(t, c.Headless)
	assert.False(t, c.RequireTLS)
	assert.Equal(t, 10, c.MaxConnectionsPerIP)
	assert.Equal(t, int64(10<<20), c.MaxMessageSize)
	assert.Equal(t, time.Hour, c.SessionMaxDuration)
	assert.Equal(t, 10*time.Minute, c.SessionIdleTimeout)
	assert.Equal(t, 50, c.RequestsPerSecond)
	assert.Equal(t, 30, c.ScreenshotsPerMinute)
	assert.Equal(t, 5, c.MaxContextsPerConnection)
	assert.Equal(t, 20, c.MaxPagesPerClient)
	assert.Equal(t, "127.0.0.1:9322", c.Addr())
}

func TestReadEnvOverlay(t *testing.T) {
	t.Parallel()

	c := NewConfig()
	err := c.ReadEnv(mapLookup(map[string]string{
		"BAP_HOST":       "0.0.0.0",
		"BAP_PORT":       "8443",
		"BAP_AUTH_TOKEN": "secret-token",
		"BAP_HEADLESS":   "false",
		"BAP_DEBUG":      "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, 8443, c.Port)
	assert.Equal(t, "secret-token", c.AuthToken)
	assert.False(t, c.Headless)
	assert.True(t, c.Debug)
}

func TestReadEnvProductionRequiresTLS(t *testing.T) {
	t.Parallel()

	c := NewConfig()
	require.NoError(t, c.ReadEnv(mapLookup(map[string]string{"NODE_ENV": "production"})))
	assert.True(t, c.RequireTLS)

	c = NewConfig()
	require.NoError(t, c.ReadEnv(mapLookup(map[string]string{"NODE_ENV": "development"})))
	assert.False(t, c.RequireTLS)
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: 10.1.2.3
port: 9000
scopeProfile: readonly
allowedHosts:
  - example.com
  - "*.trusted.org"
approvalRules:
  - name: purchases
    method: action/click
    urlGlob: "*checkout*"
    reason: money leaves the account
`), 0o600))

	c := NewConfig()
	require.NoError(t, c.ReadFile(path))

	assert.Equal(t, "10.1.2.3", c.Host)
	assert.Equal(t, 9000, c.Port)
	assert.Equal(t, "readonly", c.ScopeProfile)
	assert.Equal(t, []string{"example.com", "*.trusted.org"}, c.AllowedHosts)
	require.Len(t, c.ApprovalRules, 1)
	assert.Equal(t, "purchases", c.ApprovalRules[0].Name)
	assert.Equal(t, "action/click", c.ApprovalRules[0].Method)
	assert.Equal(t, "*checkout*", c.ApprovalRules[0].URLGlob)

	// Unset keys keep their defaults.
	assert.True(t, c.Headless)
}

func TestReadFileMissing(t *testing.T) {
	t.Parallel()

	c := NewConfig()
	assert.NoError(t, c.ReadFile(""))
	assert.Error(t, c.ReadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	c := NewConfig()
	assert.NoError(t, c.Validate())

	c.Port = 0
	assert.Error(t, c.Validate())

	c = NewConfig()
	c.Port = 70000
	assert.Error(t, c.Validate())

	c = NewConfig()
	c.CertFile = "/certs/server.pem"
	assert.Error(t, c.Validate())

	c.KeyFile = "/certs/server.key"
	assert.NoError(t, c.Validate())
}
