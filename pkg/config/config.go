package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for datasaki-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// CORSOrigins is a comma-separated list of allowed browser origins.
	CORSOrigins string `yaml:"cors_origins" env:"CORS_ORIGINS" env-default:"http://localhost:3000"`

	// CookieDomain is the domain for auth cookies (optional).
	CookieDomain string `yaml:"cookie_domain" env:"COOKIE_DOMAIN" env-default:""`

	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	Auth        AuthConfig        `yaml:"auth"`
	GoogleOAuth GoogleOAuthConfig `yaml:"google_oauth"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Connectors  ConnectorsConfig  `yaml:"connectors"`
	LLM         LLMConfig         `yaml:"llm"`

	// CredentialsKey encrypts connector details and LLM API keys at rest.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// TokenSecret signs HS256 access tokens issued by this service.
	TokenSecret string `yaml:"-" env:"SECRET_KEY"`
	// TokenTTLMinutes is the lifetime of issued access tokens.
	TokenTTLMinutes int `yaml:"token_ttl_minutes" env:"ACCESS_TOKEN_EXPIRE_MINUTES" env-default:"60"`
	// SessionSecret signs the short-lived OAuth state cookie.
	SessionSecret string `yaml:"-" env:"SESSION_SECRET"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs for
	// federated RS256 tokens. Empty disables federation.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`
	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// TokenTTL returns the access token lifetime.
func (a *AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// GoogleOAuthConfig holds Google sign-in client settings.
type GoogleOAuthConfig struct {
	ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID" env-default:""`
	ClientSecret string `yaml:"-" env:"GOOGLE_CLIENT_SECRET"`
	RedirectURI  string `yaml:"redirect_uri" env:"GOOGLE_REDIRECT_URI" env-default:""`
}

// IsConfigured returns true if Google sign-in can be offered.
func (g *GoogleOAuthConfig) IsConfigured() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.RedirectURI != ""
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"datasaki"`
	Password       string `yaml:"-" env:"PGPASSWORD"`
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"datasaki"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	// MinConnections keeps warm connections for the per-request scopes.
	MinConnections    int32         `yaml:"min_connections" env:"PGMIN_CONNECTIONS" env-default:"2"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime" env:"PGMAX_CONN_LIFETIME" env-default:"1h"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time" env:"PGMAX_CONN_IDLE_TIME" env-default:"30m"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period" env:"PGHEALTH_CHECK_PERIOD" env-default:"1m"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" env:"PGCONNECT_TIMEOUT" env-default:"10s"`
}

// RedisConfig holds Redis configuration. An empty Host disables caching.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// ConnectorsConfig bounds the work done against external data backends.
type ConnectorsConfig struct {
	// SampleRows caps how many rows schema inference reads from a file-like source.
	SampleRows int `yaml:"sample_rows" env:"CONNECTOR_SAMPLE_ROWS" env-default:"1000"`
	// PreviewRows is the default row count for previews.
	PreviewRows int `yaml:"preview_rows" env:"CONNECTOR_PREVIEW_ROWS" env-default:"5"`
	// AllowedRoot restricts file connectors to paths below it when set.
	AllowedRoot string `yaml:"allowed_root" env:"CONNECTOR_ALLOWED_ROOT" env-default:""`

	TestTimeout  time.Duration `yaml:"test_timeout" env:"CONNECTOR_TEST_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"CONNECTOR_WRITE_TIMEOUT" env-default:"2m"`
	InferTimeout time.Duration `yaml:"infer_timeout" env:"CONNECTOR_INFER_TIMEOUT" env-default:"1m"`

	// PreviewCacheTTL is how long previews stay in Redis.
	PreviewCacheTTL time.Duration `yaml:"preview_cache_ttl" env:"CONNECTOR_PREVIEW_CACHE_TTL" env-default:"5m"`
}

// LLMConfig holds provider endpoints and server-level API keys.
// Keys configured here are used when a user's LLM configuration has none.
type LLMConfig struct {
	OpenAIBaseURL    string `yaml:"openai_base_url" env:"OPENAI_BASE_URL" env-default:"https://api.openai.com/v1"`
	AnthropicBaseURL string `yaml:"anthropic_base_url" env:"ANTHROPIC_BASE_URL" env-default:"https://api.anthropic.com/v1"`
	GoogleBaseURL    string `yaml:"google_base_url" env:"GOOGLE_AI_BASE_URL" env-default:"https://generativelanguage.googleapis.com/v1beta/openai"`

	OpenAIAPIKey    string `yaml:"-" env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"`
	GoogleAPIKey    string `yaml:"-" env:"GOOGLE_AI_API_KEY"`

	RequestTimeout time.Duration `yaml:"request_timeout" env:"LLM_REQUEST_TIMEOUT" env-default:"60s"`
	MaxRetries     int           `yaml:"max_retries" env:"LLM_MAX_RETRIES" env-default:"2"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds configuration from environment variables only.
// Used when no config.yaml is present (containers, CI).
func LoadFromEnv(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)

	if err := c.validateTLS(); err != nil {
		return fmt.Errorf("invalid TLS configuration: %w", err)
	}
	if err := c.validateConnectors(); err != nil {
		return fmt.Errorf("invalid connectors configuration: %w", err)
	}

	if c.BaseURL == "" {
		scheme := "http"
		if c.TLSCertPath != "" {
			scheme = "https"
		}
		c.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + c.Port,
		}).String()
	}
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

func (c *Config) validateConnectors() error {
	if c.Connectors.SampleRows <= 0 {
		return fmt.Errorf("sample_rows must be positive, got %d", c.Connectors.SampleRows)
	}
	if c.Connectors.PreviewRows <= 0 {
		return fmt.Errorf("preview_rows must be positive, got %d", c.Connectors.PreviewRows)
	}
	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return endpoints
}

// AllowedOrigins returns the parsed CORS origin list.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
