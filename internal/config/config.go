package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Env        string         `envconfig:"APP_ENV" default:"development"`
	Server     ServerConfig   `envconfig:"SERVER"`
	Database   DatabaseConfig `envconfig:"DB"`
	Redis      RedisConfig    `envconfig:"REDIS"`
	Auth       AuthConfig     `envconfig:"AUTH"`
	License    LicenseConfig  `envconfig:"LICENSE"`
	Log        LogConfig      `envconfig:"LOG"`
	Sentry     SentryConfig   `envconfig:"SENTRY"`
	Jobs       JobsConfig     `envconfig:"JOBS"`
	CORSOrigin []string       `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`
}

type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     string `envconfig:"PORT" default:"5432"`
	User     string `envconfig:"USER" default:"postgres"`
	Password string `envconfig:"PASSWORD" default:"postgres"`
	Name     string `envconfig:"NAME" default:"emr"`
	SSLMode  string `envconfig:"SSLMODE" default:"disable"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"warn"`

	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"5m"`
}

// DSN renders the libpq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

// RedisConfig selects the authorization cache backend. An empty Addr keeps the cache in memory.
type RedisConfig struct {
	Addr     string `envconfig:"ADDR"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

type AuthConfig struct {
	JWTSecret       string        `envconfig:"JWT_SECRET"`
	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"24h"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"168h"`
	GrantCacheTTL   time.Duration `envconfig:"GRANT_CACHE_TTL" default:"5m"`
}

type LicenseConfig struct {
	// ActivationSecret keys the HMAC that derives activation codes.
	ActivationSecret    string  `envconfig:"ACTIVATION_SECRET"`
	ActivationRateLimit float64 `envconfig:"ACTIVATION_RPS" default:"0.2"`
	ActivationBurst     int     `envconfig:"ACTIVATION_BURST" default:"5"`
	DefaultStrategy     string  `envconfig:"KEY_STRATEGY" default:"standard"`
	KeyPrefix           string  `envconfig:"KEY_PREFIX" default:"MEDI"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

type SentryConfig struct {
	DSN string `envconfig:"DSN"`
}

type JobsConfig struct {
	Enabled          bool          `envconfig:"ENABLED" default:"true"`
	MaintenanceEvery time.Duration `envconfig:"MAINTENANCE_INTERVAL" default:"1h"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", f, err)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction reports whether development fallbacks must be refused.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate fills development secrets or, in production, rejects their absence.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("AUTH_JWT_SECRET is required in production"))
		}
		c.Auth.JWTSecret = "dev-jwt-secret"
	}
	if c.License.ActivationSecret == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("LICENSE_ACTIVATION_SECRET is required in production"))
		}
		c.License.ActivationSecret = "dev-activation-secret"
	}
	if c.License.ActivationRateLimit <= 0 || c.License.ActivationBurst <= 0 {
		errs = append(errs, errors.New("license activation rate limit must be positive"))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("AUTH_ACCESS_TOKEN_TTL must be positive"))
	}
	return errors.Join(errs...)
}
