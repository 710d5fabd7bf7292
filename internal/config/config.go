// Package config defines all configuration for the Deribit HTTP client.
// Config is loaded from an optional YAML file with every field overridable
// via DERIBIT_* environment variables (e.g. DERIBIT_AUTH_MODE). The
// well-known variables DERIBIT_CLIENT_ID, DERIBIT_CLIENT_SECRET,
// DERIBIT_TESTNET, DERIBIT_HTTP_TIMEOUT, DERIBIT_HTTP_MAX_RETRIES and
// DERIBIT_HTTP_USER_AGENT are honoured as well.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Deribit endpoints.
const (
	ProductionURL   = "https://www.deribit.com/api/v2"
	TestnetURL      = "https://test.deribit.com/api/v2"
	ProductionWSURL = "wss://www.deribit.com/ws/api/v2"
	TestnetWSURL    = "wss://test.deribit.com/ws/api/v2"
)

// Authentication modes.
const (
	AuthModeOAuth     = "oauth"     // bearer token from public/auth
	AuthModeSignature = "signature" // every private request HMAC-signed
)

// RateLimitCategories are the keys accepted under rate_limits.
var RateLimitCategories = []string{"trading", "market_data", "account", "auth", "general"}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Testnet     bool                   `mapstructure:"testnet"`
	BaseURL     string                 `mapstructure:"base_url"` // overrides the testnet switch
	Timeout     time.Duration          `mapstructure:"timeout"`
	MaxRetries  int                    `mapstructure:"max_retries"`
	UserAgent   string                 `mapstructure:"user_agent"`
	DryRun      bool                   `mapstructure:"dry_run"`
	Credentials CredentialsConfig      `mapstructure:"credentials"`
	Auth        AuthConfig             `mapstructure:"auth"`
	RateLimits  map[string]LimitConfig `mapstructure:"rate_limits"`
	WS          WSConfig               `mapstructure:"ws"`
	Logging     LoggingConfig          `mapstructure:"logging"`
	Monitor     MonitorConfig          `mapstructure:"monitor"`
}

// CredentialsConfig is the API key pair. Prefer DERIBIT_CLIENT_ID and
// DERIBIT_CLIENT_SECRET over putting these in the file.
type CredentialsConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// AuthConfig controls how private requests are authenticated.
//
//   - Mode: "oauth" (bearer token) or "signature" (per-request HMAC).
//   - Grant: public/auth grant for oauth mode, "client_credentials" or
//     "client_signature".
//   - ExpiryMargin: tokens are renewed this long before they expire.
//   - TokenCacheDir: when set, tokens are persisted here across restarts.
type AuthConfig struct {
	Mode          string        `mapstructure:"mode"`
	Grant         string        `mapstructure:"grant"`
	Scope         string        `mapstructure:"scope"`
	ExpiryMargin  time.Duration `mapstructure:"expiry_margin"`
	TokenCacheDir string        `mapstructure:"token_cache_dir"`
}

// LimitConfig overrides one rate limit bucket.
type LimitConfig struct {
	Capacity   int `mapstructure:"capacity"`
	RefillRate int `mapstructure:"refill_rate"` // tokens per second
}

// WSConfig controls the optional websocket subscription feed.
type WSConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	URL               string        `mapstructure:"url"` // overrides the testnet switch
	Channels          []string      `mapstructure:"channels"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MonitorConfig controls the health/metrics HTTP server.
type MonitorConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		UserAgent:  "deribit-http/1.0",
		Auth: AuthConfig{
			Mode:         AuthModeOAuth,
			Grant:        "client_credentials",
			ExpiryMargin: 60 * time.Second,
		},
		WS: WSConfig{
			HeartbeatInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Monitor: MonitorConfig{Port: 8090},
	}
}

// Load reads config from a YAML file with env var overrides. An empty path
// skips the file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix("DERIBIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("testnet", d.Testnet)
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("dry_run", d.DryRun)
	v.SetDefault("credentials.client_id", "")
	v.SetDefault("credentials.client_secret", "")
	v.SetDefault("auth.mode", d.Auth.Mode)
	v.SetDefault("auth.grant", d.Auth.Grant)
	v.SetDefault("auth.scope", d.Auth.Scope)
	v.SetDefault("auth.expiry_margin", d.Auth.ExpiryMargin)
	v.SetDefault("auth.token_cache_dir", d.Auth.TokenCacheDir)
	v.SetDefault("ws.enabled", d.WS.Enabled)
	v.SetDefault("ws.url", d.WS.URL)
	v.SetDefault("ws.heartbeat_interval", d.WS.HeartbeatInterval)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("monitor.enabled", d.Monitor.Enabled)
	v.SetDefault("monitor.port", d.Monitor.Port)
}

// applyEnv applies the well-known variables that don't follow the
// section_key naming.
func applyEnv(cfg *Config) error {
	if id := os.Getenv("DERIBIT_CLIENT_ID"); id != "" {
		cfg.Credentials.ClientID = id
	}
	if secret := os.Getenv("DERIBIT_CLIENT_SECRET"); secret != "" {
		cfg.Credentials.ClientSecret = secret
	}
	if tn := os.Getenv("DERIBIT_TESTNET"); tn != "" {
		cfg.Testnet = tn == "true" || tn == "1"
	}
	if s := os.Getenv("DERIBIT_HTTP_TIMEOUT"); s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%w: DERIBIT_HTTP_TIMEOUT must be whole seconds: %v", ErrInvalidConfig, err)
		}
		cfg.Timeout = time.Duration(secs) * time.Second
	}
	if s := os.Getenv("DERIBIT_HTTP_MAX_RETRIES"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%w: DERIBIT_HTTP_MAX_RETRIES: %v", ErrInvalidConfig, err)
		}
		cfg.MaxRetries = n
	}
	if ua := os.Getenv("DERIBIT_HTTP_USER_AGENT"); ua != "" {
		cfg.UserAgent = ua
	}
	return nil
}

// APIURL returns the REST base URL, honouring BaseURL before Testnet.
func (c *Config) APIURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.Testnet {
		return TestnetURL
	}
	return ProductionURL
}

// WSURL returns the websocket URL, honouring WS.URL before Testnet.
func (c *Config) WSURL() string {
	if c.WS.URL != "" {
		return c.WS.URL
	}
	if c.Testnet {
		return TestnetWSURL
	}
	return ProductionWSURL
}

// HasCredentials reports whether both halves of the API key are set.
func (c *Config) HasCredentials() bool {
	return c.Credentials.ClientID != "" && c.Credentials.ClientSecret != ""
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL())
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base_url %q must be an absolute http(s) URL", ErrInvalidConfig, c.APIURL())
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be > 0", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0", ErrInvalidConfig)
	}
	if (c.Credentials.ClientID == "") != (c.Credentials.ClientSecret == "") {
		return fmt.Errorf("%w: credentials.client_id and credentials.client_secret must be set together", ErrInvalidConfig)
	}

	switch c.Auth.Mode {
	case AuthModeOAuth:
	case AuthModeSignature:
		if !c.HasCredentials() {
			return fmt.Errorf("%w: auth.mode signature requires credentials (set DERIBIT_CLIENT_ID/DERIBIT_CLIENT_SECRET)", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: auth.mode must be one of: oauth, signature", ErrInvalidConfig)
	}
	switch c.Auth.Grant {
	case "client_credentials", "client_signature":
	default:
		return fmt.Errorf("%w: auth.grant must be one of: client_credentials, client_signature", ErrInvalidConfig)
	}
	if c.Auth.ExpiryMargin < 0 {
		return fmt.Errorf("%w: auth.expiry_margin must be >= 0", ErrInvalidConfig)
	}

	for name, l := range c.RateLimits {
		if !slices.Contains(RateLimitCategories, name) {
			return fmt.Errorf("%w: rate_limits.%s: unknown category (want one of %s)",
				ErrInvalidConfig, name, strings.Join(RateLimitCategories, ", "))
		}
		if l.Capacity < 1 || l.RefillRate < 1 {
			return fmt.Errorf("%w: rate_limits.%s: capacity and refill_rate must be >= 1", ErrInvalidConfig, name)
		}
	}

	if c.WS.Enabled && c.WS.HeartbeatInterval != 0 && c.WS.HeartbeatInterval < 10*time.Second {
		return fmt.Errorf("%w: ws.heartbeat_interval must be >= 10s", ErrInvalidConfig)
	}
	if c.Monitor.Enabled && (c.Monitor.Port < 1 || c.Monitor.Port > 65535) {
		return fmt.Errorf("%w: monitor.port must be in 1..65535", ErrInvalidConfig)
	}
	return nil
}
