// Package env holds the server configuration and its BAP_* environment
// variable bindings.
package env

import (
	"fmt"
	"os"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/yaml.v3"
)

// LookupFunc defines a function to look up a key from the environment.
type LookupFunc func(key string) (string, bool)

// Config carries every tunable of the BAP server. Fields without an
// envconfig tag are set from defaults, the YAML config file or CLI flags.
type Config struct {
	Host                string   `yaml:"host" envconfig:"BAP_HOST" default:"127.0.0.1"`
	Port                int      `yaml:"port" envconfig:"BAP_PORT" default:"9322"`
	AuthToken           string   `yaml:"authToken" envconfig:"BAP_AUTH_TOKEN"`
	Scopes              []string `yaml:"scopes" envconfig:"BAP_SCOPES"`
	ScopeProfile        string   `yaml:"scopeProfile" envconfig:"BAP_SCOPE_PROFILE" default:"standard"`
	AllowedOrigins      []string `yaml:"allowedOrigins" envconfig:"BAP_ALLOWED_ORIGINS"`
	AllowedDownloadDirs []string `yaml:"allowedDownloadDirs" envconfig:"BAP_ALLOWED_DOWNLOAD_DIRS"`
	MaxConnectionsPerIP int      `yaml:"maxConnectionsPerIP" envconfig:"BAP_MAX_CONNECTIONS_PER_IP" default:"10"`
	MaxMessageSize      int64    `yaml:"maxMessageSize" envconfig:"BAP_MAX_MESSAGE_SIZE" default:"10485760"`
	Headless            bool     `yaml:"headless" envconfig:"BAP_HEADLESS" default:"true"`
	Debug               bool     `yaml:"debug" envconfig:"BAP_DEBUG"`
	Environment         string   `yaml:"environment" envconfig:"NODE_ENV"`

	// TLS. RequireTLS defaults to true when Environment is "production".
	RequireTLS bool   `yaml:"requireTLS"`
	CertFile   string `yaml:"certFile" envconfig:"BAP_TLS_CERT"`
	KeyFile    string `yaml:"keyFile" envconfig:"BAP_TLS_KEY"`

	// Session lifetime.
	SessionMaxDuration time.Duration `yaml:"sessionMaxDuration"`
	SessionIdleTimeout time.Duration `yaml:"sessionIdleTimeout"`

	// Operation deadlines.
	DefaultTimeout  time.Duration `yaml:"defaultTimeout"`
	ApprovalTimeout time.Duration `yaml:"approvalTimeout"`

	// Rate limits.
	RequestsPerSecond    int `yaml:"requestsPerSecond"`
	ScreenshotsPerMinute int `yaml:"screenshotsPerMinute"`

	// Resource caps.
	MaxContextsPerConnection int `yaml:"maxContextsPerConnection"`
	MaxPagesPerClient        int `yaml:"maxPagesPerClient"`

	// Policy toggles.
	AllowedProtocols    []string       `yaml:"allowedProtocols"`
	BlockedProtocols    []string       `yaml:"blockedProtocols"`
	AllowedHosts        []string       `yaml:"allowedHosts"`
	BlockedHosts        []string       `yaml:"blockedHosts"`
	DisableRedaction    bool           `yaml:"disableRedaction"`
	DisableStorageState bool           `yaml:"disableStorageState"`
	LaunchArgAllowList  []string       `yaml:"launchArgAllowList"`
	ApprovalRules       []ApprovalRule `yaml:"approvalRules"`
}

// ApprovalRule suspends matching requests until a human decision arrives.
type ApprovalRule struct {
	Name    string `yaml:"name" json:"name"`
	Method  string `yaml:"method" json:"method"`                       // method name or "category/*"
	URLGlob string `yaml:"urlGlob,omitempty" json:"urlGlob,omitempty"` // matched against the page URL
	Reason  string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// NewConfig returns a Config carrying the built-in defaults.
func NewConfig() Config {
	return Config{
		Host:                     "127.0.0.1",
		Port:                     9322,
		ScopeProfile:             "standard",
		MaxConnectionsPerIP:      10,
		MaxMessageSize:           10 << 20,
		Headless:                 true,
		SessionMaxDuration:       time.Hour,
		SessionIdleTimeout:       10 * time.Minute,
		DefaultTimeout:           30 * time.Second,
		ApprovalTimeout:          60 * time.Second,
		RequestsPerSecond:        50,
		ScreenshotsPerMinute:     30,
		MaxContextsPerConnection: 5,
		MaxPagesPerClient:        20,
	}
}

// ReadEnv overlays the BAP_* environment variables onto c using the given
// lookup function (os.LookupEnv in production, a map in tests).
func (c *Config) ReadEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := envconfig.Process("", c, func(key string) (string, bool) {
		return lookup(key)
	}); err != nil {
		return fmt.Errorf("reading environment config: %w", err)
	}
	if c.Environment == "production" {
		c.RequireTLS = true
	}
	return nil
}

// ReadFile overlays a YAML config file onto c. An empty path is not an
// error; an unreadable file is.
func (c *Config) ReadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("certFile and keyFile must be set together")
	}
	return nil
}
