// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment. One
// struct serves both the auth server and the gateway; each binary reads the
// fields it needs.
type Config struct {
	// HTTPAddr is the address the auth service listens on (e.g. :8081).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GatewayAddr is the address the edge gateway listens on (e.g. :8080).
	GatewayAddr string `mapstructure:"GATEWAY_ADDR"`
	// DatabaseURL is the Postgres DSN for the auth service.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded signing key (RSA or ECDSA) or a file path. Auth service only.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded verification key or a file path. Needed by both binaries.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim; validated by the gateway.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim; validated by the gateway.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// AccessTokenTTL is the access credential lifetime (e.g. "15m").
	AccessTokenTTL string `mapstructure:"ACCESS_TOKEN_TTL"`
	// RefreshTokenTTL is the refresh credential lifetime (e.g. "720h" for 30 days).
	RefreshTokenTTL string `mapstructure:"REFRESH_TOKEN_TTL"`
	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// CookieDomain is the optional Domain attribute of the refresh cookie.
	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`
	// CookieSecure controls the Secure attribute of the refresh cookie. Disable for plain-HTTP development only.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`

	// RedisAddr enables the login limiter and password-reset store when set (e.g. localhost:6379).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional redis auth password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// LoginMaxAttempts is how many login attempts per identifier are allowed inside LoginWindow.
	LoginMaxAttempts int `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	// LoginWindow is the login limiter window (e.g. "1m").
	LoginWindow string `mapstructure:"LOGIN_WINDOW"`
	// RegisterMaxAttempts is how many registration attempts per client address are allowed inside RegisterWindow.
	RegisterMaxAttempts int `mapstructure:"REGISTER_MAX_ATTEMPTS"`
	// RegisterWindow is the registration limiter window (e.g. "1h").
	RegisterWindow string `mapstructure:"REGISTER_WINDOW"`
	// ResetTokenTTL is the password-reset token lifetime (e.g. "30m").
	ResetTokenTTL string `mapstructure:"RESET_TOKEN_TTL"`
	// ResetTokenReturnToClient returns reset tokens in the HTTP response instead of delivering
	// them out of band. Development convenience; refused when Env is production.
	ResetTokenReturnToClient bool `mapstructure:"RESET_TOKEN_RETURN_TO_CLIENT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// AuditKafkaBrokers is a comma-separated broker list; empty disables the audit trail.
	AuditKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the Kafka topic for auth audit events.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`

	// OTLPEndpoint enables OpenTelemetry export when set (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Gateway route targets. Auth is required; the others are optional collaborators.
	AuthServiceURL  string `mapstructure:"AUTH_SERVICE_URL"`
	AdminServiceURL string `mapstructure:"ADMIN_SERVICE_URL"`
	UserServiceURL  string `mapstructure:"USER_SERVICE_URL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("GATEWAY_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ISSUER", "skillforge-auth")
	v.SetDefault("JWT_AUDIENCE", "skillforge-api")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 10)
	v.SetDefault("LOGIN_WINDOW", "1m")
	v.SetDefault("REGISTER_MAX_ATTEMPTS", 5)
	v.SetDefault("REGISTER_WINDOW", "1h")
	v.SetDefault("RESET_TOKEN_TTL", "30m")
	v.SetDefault("RESET_TOKEN_RETURN_TO_CLIENT", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "skillforge-auth-audit")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("AUTH_SERVICE_URL", "http://localhost:8081")
	v.SetDefault("ADMIN_SERVICE_URL", "")
	v.SetDefault("USER_SERVICE_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.GatewayAddr == "" {
		return nil, errors.New("config: GATEWAY_ADDR must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.ResetTokenReturnToClient && cfg.Env == "production" {
		return nil, errors.New("config: RESET_TOKEN_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}

	return &cfg, nil
}

// AccessTTL parses AccessTokenTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.AccessTokenTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses RefreshTokenTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.RefreshTokenTTL)
	if err != nil || d <= 0 {
		return 720 * time.Hour
	}
	return d
}

// LoginLimiterWindow parses LoginWindow as a time.Duration. Returns 1m if unset or invalid.
func (c *Config) LoginLimiterWindow() time.Duration {
	d, err := time.ParseDuration(c.LoginWindow)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// RegisterLimiterWindow parses RegisterWindow as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) RegisterLimiterWindow() time.Duration {
	d, err := time.ParseDuration(c.RegisterWindow)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// ResetTTL parses ResetTokenTTL as a time.Duration. Returns 30m if unset or invalid.
func (c *Config) ResetTTL() time.Duration {
	d, err := time.ParseDuration(c.ResetTokenTTL)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// AuditBrokerList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the audit trail.
func (c *Config) AuditBrokerList() []string {
	if c == nil || c.AuditKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.AuditKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
