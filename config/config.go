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

// Config represents the complete portal configuration
type Config struct {
	Server        ServerConfig
	RecordsAPI    RecordsAPIConfig
	Session       SessionConfig
	Redis         *RedisConfig    // Optional: when nil, tokens are kept in memory
	Database      *DatabaseConfig // Optional: when nil, the access audit trail is disabled
	Audit         AuditConfig
	LoginThrottle LoginThrottleConfig
	CORS          CORSConfig
	Static        StaticConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// RecordsAPIConfig points the portal at the records REST backend
type RecordsAPIConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// SessionConfig controls browser sessions and the in-memory holder registry
type SessionConfig struct {
	CookieName      string
	CookieSecure    bool
	IdleTTL         time.Duration
	MaxSessions     int
	InitTimeout     time.Duration
	CleanupInterval time.Duration
	TokenTTL        time.Duration
}

// RedisConfig holds the token store connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuditConfig sizes the asynchronous audit writer
type AuditConfig struct {
	BufferSize int
	Workers    int
}

// LoginThrottleConfig caps failed sign-in attempts. A zero limit disables
// that window.
type LoginThrottleConfig struct {
	Enabled         bool
	EmailPerMinute  int
	EmailPerHour    int
	ClientPerMinute int
}

// CORSConfig lists the SPA origins allowed to call the API
type CORSConfig struct {
	AllowedOrigins []string
}

// StaticConfig locates the single-page application shell
type StaticConfig struct {
	ShellPath string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
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
		RecordsAPI: RecordsAPIConfig{
			BaseURL:      strings.TrimRight(getEnv("RECORDS_API_URL", ""), "/"),
			Timeout:      getEnvAsDuration("RECORDS_API_TIMEOUT", 10*time.Second),
			RetryMax:     getEnvAsInt("RECORDS_API_RETRY_MAX", 2),
			RetryWaitMin: getEnvAsDuration("RECORDS_API_RETRY_WAIT_MIN", 100*time.Millisecond),
			RetryWaitMax: getEnvAsDuration("RECORDS_API_RETRY_WAIT_MAX", 2*time.Second),
		},
		Session: SessionConfig{
			CookieName:      getEnv("SESSION_COOKIE_NAME", "portal_session"),
			CookieSecure:    getEnvAsBool("SESSION_COOKIE_SECURE", false),
			IdleTTL:         getEnvAsDuration("SESSION_IDLE_TTL", 30*time.Minute),
			MaxSessions:     getEnvAsInt("SESSION_MAX", 10000),
			InitTimeout:     getEnvAsDuration("SESSION_INIT_TIMEOUT", 10*time.Second),
			CleanupInterval: getEnvAsDuration("SESSION_CLEANUP_INTERVAL", time.Minute),
			TokenTTL:        getEnvAsDuration("SESSION_TOKEN_TTL", 24*time.Hour),
		},
		Redis:    loadRedisConfig(),
		Database: loadDatabaseConfig(),
		Audit: AuditConfig{
			BufferSize: getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			Workers:    getEnvAsInt("AUDIT_WORKERS", 2),
		},
		LoginThrottle: LoginThrottleConfig{
			Enabled:         getEnvAsBool("LOGIN_THROTTLE_ENABLED", true),
			EmailPerMinute:  getEnvAsInt("LOGIN_THROTTLE_EMAIL_PER_MINUTE", 5),
			EmailPerHour:    getEnvAsInt("LOGIN_THROTTLE_EMAIL_PER_HOUR", 20),
			ClientPerMinute: getEnvAsInt("LOGIN_THROTTLE_CLIENT_PER_MINUTE", 30),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Static: StaticConfig{
			ShellPath: getEnv("STATIC_SHELL_PATH", "web/dist/index.html"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.RecordsAPI.BaseURL == "" {
		return fmt.Errorf("records API URL is required: set RECORDS_API_URL")
	}
	if u, err := url.Parse(c.RecordsAPI.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("records API URL must be an absolute URL")
	}

	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("session max must be positive")
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("session idle TTL must be positive")
	}

	// Insecure cookies are only acceptable for local development
	if c.IsProduction() && !c.Session.CookieSecure {
		return fmt.Errorf("secure session cookies are required in production")
	}

	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Audit.Workers <= 0 || c.Audit.BufferSize <= 0 {
		return fmt.Errorf("audit workers and buffer size must be positive")
	}

	lt := c.LoginThrottle
	if lt.EmailPerMinute < 0 || lt.EmailPerHour < 0 || lt.ClientPerMinute < 0 {
		return fmt.Errorf("login throttle limits cannot be negative")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
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
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads the audit database from DATABASE_URL or DB_HOST.
// Returns nil when neither is set.
func loadDatabaseConfig() *DatabaseConfig {
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		return &DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	host := getEnv("DB_HOST", "")
	if host == "" {
		return nil
	}
	return &DatabaseConfig{
		Host:            host,
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", ""),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "portal_audit"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadRedisConfig returns nil when REDIS_ADDR is unset.
func loadRedisConfig() *RedisConfig {
	addr := getEnv("REDIS_ADDR", "")
	if addr == "" {
		return nil
	}
	return &RedisConfig{
		Addr:     addr,
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvAsInt("REDIS_DB", 0),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
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

// getEnvAsList splits a comma-separated value, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
