// Package config assembles the runtime settings: built-in defaults, then an
// optional YAML file named by CONFIG_FILE, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/safeplay/safeplay-api/internal/mail"
	"github.com/safeplay/safeplay-api/pkg/database"
	"github.com/safeplay/safeplay-api/pkg/utilities"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env           string           `yaml:"env"`
	Addr          string           `yaml:"addr"`
	BaseURL       string           `yaml:"base_url"`
	SnowflakeNode int64            `yaml:"snowflake_node"`
	Database      database.Config  `yaml:"database"`
	Log           utilities.Config `yaml:"log"`
	Mail          mail.Config      `yaml:"mail"`
	Auth          Auth             `yaml:"auth"`
	RateLimit     RateLimit        `yaml:"rate_limit"`
}

type Auth struct {
	JWTSecret                string        `yaml:"jwt_secret"`
	JWTExpire                time.Duration `yaml:"jwt_expire"`
	VerifyTTL                time.Duration `yaml:"verify_ttl"`
	ResetTTL                 time.Duration `yaml:"reset_ttl"`
	RequireEmailVerification bool          `yaml:"require_email_verification"`
	PasswordPolicy           bool          `yaml:"password_policy"`
	MaxFailedLogins          int           `yaml:"max_failed_logins"`
}

// RateLimit applies per client IP to the unauthenticated auth endpoints.
// PerMinute 0 disables it.
type RateLimit struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`

	// ProxyHeader keys clients on a header set by a trusted reverse proxy.
	ProxyHeader string `yaml:"proxy_header"`
}

// Dev reports whether the service runs in development mode.
func (c Config) Dev() bool { return c.Env == EnvDevelopment }

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Env:           EnvProduction,
		Addr:          "0.0.0.0:3000",
		BaseURL:       "http://localhost:3000",
		SnowflakeNode: 1,
		Database:      database.DefaultConfig(),
		Log:           utilities.Config{Level: "info", Rotate: utilities.RotateDaily},
		Mail:          mail.Config{Provider: mail.ProviderLog, SMTPPort: 587},
		Auth: Auth{
			JWTExpire:                24 * time.Hour,
			VerifyTTL:                24 * time.Hour,
			ResetTTL:                 30 * time.Minute,
			RequireEmailVerification: true,
			PasswordPolicy:           true,
			MaxFailedLogins:          3,
		},
		RateLimit: RateLimit{PerMinute: 20, Burst: 10},
	}
}

// Load reads .env if present and resolves the configuration from the
// process environment.
func Load() (Config, error) {
	// best-effort: a missing .env is normal outside local development
	_ = godotenv.Load()
	return LoadFromEnv(osEnv{})
}

func LoadFromEnv(env Env) (Config, error) {
	cfg := Default()

	if path := env.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Mail.ResetTTLMinutes = int(cfg.Auth.ResetTTL / time.Minute)
	return cfg, nil
}

func applyEnv(cfg *Config, env Env) error {
	p := parser{env: env}

	p.strVar("APP_ENV", &cfg.Env)
	if port := env.Getenv("PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return errors.New("invalid PORT")
		}
		cfg.Addr = "0.0.0.0:" + port
	}
	p.strVar("HTTP_ADDR", &cfg.Addr)
	p.strVar("BASE_URL", &cfg.BaseURL)
	p.int64Var("SNOWFLAKE_NODE", &cfg.SnowflakeNode)

	p.strVar("DB_DRIVER", &cfg.Database.Driver)
	p.strVar("DATABASE_URL", &cfg.Database.DSN)
	p.strVar("DATABASE_TIMEZONE", &cfg.Database.TimeZone)
	p.strVar("DATABASE_CLIENT_ENCODING", &cfg.Database.ClientEncoding)
	p.intVar("DB_MAX_CONNS", &cfg.Database.MaxConns)
	p.durationVar("DB_TIMEOUT", &cfg.Database.Timeout)

	p.strVar("LOG_LEVEL", &cfg.Log.Level)
	p.boolVar("LOG_DEV", &cfg.Log.Dev)
	p.strVar("LOG_FILE", &cfg.Log.File)
	p.strVar("LOG_ROTATE", &cfg.Log.Rotate)
	p.intVar("LOG_MAX_AGE_DAYS", &cfg.Log.MaxAgeDays)
	p.intVar("LOG_MAX_SIZE_MB", &cfg.Log.MaxSizeMB)

	p.strVar("MAIL_PROVIDER", &cfg.Mail.Provider)
	p.strVar("EMAIL_FROM", &cfg.Mail.From)
	p.strVar("RESEND_API_KEY", &cfg.Mail.ResendAPIKey)
	p.strVar("SMTP_HOST", &cfg.Mail.SMTPHost)
	p.intVar("SMTP_PORT", &cfg.Mail.SMTPPort)
	p.strVar("SMTP_USER", &cfg.Mail.SMTPUser)
	p.strVar("SMTP_PASS", &cfg.Mail.SMTPPass)

	p.strVar("JWT_SECRET", &cfg.Auth.JWTSecret)
	p.durationVar("JWT_EXPIRE", &cfg.Auth.JWTExpire)
	p.durationVar("EMAIL_TOKEN_TTL", &cfg.Auth.VerifyTTL)
	p.durationVar("RESET_TOKEN_TTL", &cfg.Auth.ResetTTL)
	p.boolVar("REQUIRE_EMAIL_VERIFICATION", &cfg.Auth.RequireEmailVerification)
	p.boolVar("PASSWORD_POLICY_ENFORCED", &cfg.Auth.PasswordPolicy)
	p.intVar("MAX_FAILED_LOGINS", &cfg.Auth.MaxFailedLogins)

	p.intVar("RATE_LIMIT", &cfg.RateLimit.PerMinute)
	p.intVar("RATE_LIMIT_BURST", &cfg.RateLimit.Burst)
	p.strVar("RATE_LIMIT_PROXY_HEADER", &cfg.RateLimit.ProxyHeader)

	return p.err
}

func (c Config) validate() error {
	switch {
	case c.Auth.JWTSecret == "":
		return errors.New("JWT_SECRET is required")
	case c.Auth.JWTExpire <= 0:
		return errors.New("JWT_EXPIRE must be positive")
	case c.Auth.VerifyTTL <= 0 || c.Auth.ResetTTL <= 0:
		return errors.New("token TTLs must be positive")
	case c.Auth.MaxFailedLogins <= 0:
		return errors.New("MAX_FAILED_LOGINS must be positive")
	case c.Env != EnvDevelopment && c.Env != EnvProduction:
		return fmt.Errorf("APP_ENV must be %s or %s", EnvDevelopment, EnvProduction)
	case c.Database.Driver != database.DriverPostgres && c.Database.Driver != database.DriverSQLite:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	case c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0:
		return errors.New("RATE_LIMIT must not be negative")
	}
	return nil
}

// parser records the first malformed variable and ignores the rest.
type parser struct {
	env Env
	err error
}

func (p *parser) lookup(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v := strings.TrimSpace(p.env.Getenv(key))
	return v, v != ""
}

func (p *parser) strVar(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}

func (p *parser) intVar(key string, dst *int) {
	if v, ok := p.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.err = fmt.Errorf("invalid %s", key)
			return
		}
		*dst = n
	}
}

func (p *parser) int64Var(key string, dst *int64) {
	if v, ok := p.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.err = fmt.Errorf("invalid %s", key)
			return
		}
		*dst = n
	}
}

func (p *parser) boolVar(key string, dst *bool) {
	if v, ok := p.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.err = fmt.Errorf("invalid %s", key)
			return
		}
		*dst = b
	}
}

// durationVar accepts Go durations ("30m") or a bare number of seconds.
func (p *parser) durationVar(key string, dst *time.Duration) {
	if v, ok := p.lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			p.err = fmt.Errorf("invalid %s", key)
			return
		}
		*dst = d
	}
}
