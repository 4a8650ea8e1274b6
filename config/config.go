package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Database      *DatabaseConfig // Optional: audit trail is disabled when nil
	DemoAPI       DemoAPIConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	PublicOrigin    string // Origin handed to the identity provider as redirect_uri/returnTo; derived from the request when empty
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// AuthConfig holds settings for the auth session controller
type AuthConfig struct {
	ConfigFile     string        // File served at /auth_config.json
	ConfigOrigin   string        // Origin the controller fetches /auth_config.json from
	HTTPTimeout    time.Duration // Timeout for config, token and protected API calls
	SessionCookie  string
	SessionMaxAge  time.Duration
	TransactionTTL time.Duration // Lifetime of a pending login (state, nonce, PKCE verifier)
}

// DatabaseConfig holds PostgreSQL configuration for the audit trail
type DatabaseConfig struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// DemoAPIConfig controls the bundled /api/demo backend
type DemoAPIConfig struct {
	Enabled        bool
	AllowedOrigins []string
	JWKSCacheTTL   time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel          string
	LogFormat         string // json or console
	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	port := getPort()
	publicOrigin := getEnv("PUBLIC_ORIGIN", "")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            port,
			PublicOrigin:    strings.TrimSuffix(publicOrigin, "/"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Auth: AuthConfig{
			ConfigFile:     getEnv("AUTH_CONFIG_FILE", "content/auth_config.json"),
			ConfigOrigin:   strings.TrimSuffix(getEnv("AUTH_CONFIG_ORIGIN", defaultOrigin(publicOrigin, port)), "/"),
			HTTPTimeout:    getEnvAsDuration("AUTH_HTTP_TIMEOUT", 10*time.Second),
			SessionCookie:  getEnv("SESSION_COOKIE_NAME", "auth_session"),
			SessionMaxAge:  getEnvAsDuration("SESSION_MAX_AGE", 24*time.Hour),
			TransactionTTL: getEnvAsDuration("LOGIN_TRANSACTION_TTL", 10*time.Minute),
		},
		Database: loadDatabaseConfig(),
		DemoAPI: DemoAPIConfig{
			Enabled:        getEnvAsBool("DEMO_API_ENABLED", true),
			AllowedOrigins: getEnvAsList("DEMO_API_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://*"}),
			JWKSCacheTTL:   getEnvAsDuration("JWKS_CACHE_TTL", time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogFormat:         getEnv("LOG_FORMAT", "json"),
			TracingEnabled:    getEnvAsBool("TRACING_ENABLED", false),
			TracingEndpoint:   getEnv("TRACING_ENDPOINT", ""),
			TracingSampleRate: getEnvAsFloat("TRACING_SAMPLE_RATE", 0.1),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Auth.ConfigOrigin == "" {
		return fmt.Errorf("auth config origin is required")
	}
	if _, err := url.ParseRequestURI(c.Auth.ConfigOrigin); err != nil {
		return fmt.Errorf("invalid auth config origin %q: %w", c.Auth.ConfigOrigin, err)
	}
	if c.Server.PublicOrigin != "" {
		if _, err := url.ParseRequestURI(c.Server.PublicOrigin); err != nil {
			return fmt.Errorf("invalid public origin %q: %w", c.Server.PublicOrigin, err)
		}
	}
	if c.Auth.SessionCookie == "" {
		return fmt.Errorf("session cookie name is required")
	}
	if c.Auth.HTTPTimeout <= 0 {
		return fmt.Errorf("auth http timeout must be positive")
	}

	// Public origin must be pinned in production; deriving it from Host headers is for local use only
	if c.IsProduction() && c.Server.PublicOrigin == "" {
		return fmt.Errorf("public origin is required in production")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}
	if c.Observability.TracingEnabled && c.Observability.TracingEndpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return c.ConnectionString
}

// LogString returns a safe string for logging (no password).
func (c *DatabaseConfig) LogString() string {
	u, err := url.Parse(c.ConnectionString)
	if err != nil {
		return "host=<from DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	db := strings.TrimPrefix(u.Path, "/")
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, db)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// loadDatabaseConfig loads the audit database config from DATABASE_URL.
// Returns nil when not set.
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

func defaultOrigin(publicOrigin string, port int) string {
	if publicOrigin != "" {
		return publicOrigin
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
