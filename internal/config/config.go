// Package config loads API settings from defaults, an optional TOML file and
// RECRUIT_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"recruitportal.org/internal/auth"
	"recruitportal.org/internal/throttle"
)

const (
	EnvPrefix     = "RECRUIT_"
	EnvConfigPath = EnvPrefix + "CONFIG"
)

// Config holds runtime settings for the auth API.
type Config struct {
	HTTPAddr string `toml:"http_addr"`
	// GRPCAddr enables the gRPC health endpoint when non-empty.
	GRPCAddr string `toml:"grpc_addr"`

	DatabaseDSN     string        `toml:"database_dsn"`
	DBMaxOpenConns  int           `toml:"db_max_open_conns"`
	DBMaxIdleConns  int           `toml:"db_max_idle_conns"`
	DBConnMaxIdle   time.Duration `toml:"db_conn_max_idle"`
	MigrateOnStart  bool          `toml:"migrate_on_start"`
	RedisAddr       string        `toml:"redis_addr"`
	RedisPassword   string        `toml:"redis_password"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`

	AccessTokenSecret  string        `toml:"access_token_secret"`
	RefreshTokenSecret string        `toml:"refresh_token_secret"`
	AccessTokenTTL     time.Duration `toml:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `toml:"refresh_token_ttl"`
	TokenIssuer        string        `toml:"token_issuer"`

	PasswordHasher string `toml:"password_hasher"`
	BcryptCost     int    `toml:"bcrypt_cost"`

	LoginMaxAttempts int           `toml:"login_max_attempts"`
	LoginWindow      time.Duration `toml:"login_window"`

	FrontendOrigin    string `toml:"frontend_origin"`
	TrustProxyHeaders bool   `toml:"trust_proxy_headers"`
	MaxBodyBytes      int64  `toml:"max_body_bytes"`
	RateLimitBurst    int    `toml:"rate_limit_burst"`
	RateLimitPerSec   int    `toml:"rate_limit_per_sec"`
}

// Defaults returns development settings. Token secrets are left empty and
// must be supplied.
func Defaults() Config {
	return Config{
		HTTPAddr:         ":8080",
		DBMaxOpenConns:   20,
		DBMaxIdleConns:   10,
		DBConnMaxIdle:    30 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		AccessTokenTTL:   auth.DefaultAccessTTL,
		RefreshTokenTTL:  auth.DefaultRefreshTTL,
		TokenIssuer:      auth.DefaultIssuer,
		PasswordHasher:   auth.HasherBcrypt,
		BcryptCost:       auth.DefaultBcryptCost,
		LoginMaxAttempts: throttle.DefaultLimit,
		LoginWindow:      throttle.DefaultWindow,
		FrontendOrigin:   "http://localhost:3000",
		MaxBodyBytes:     1 << 20,
		RateLimitBurst:   20,
		RateLimitPerSec:  10,
	}
}

// Load applies defaults, then the TOML file at path (if any), then the
// process environment, and validates the result.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path, _ = lookup(EnvConfigPath)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the API cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AccessTokenSecret) == "" {
		errs = append(errs, errors.New("access_token_secret is required"))
	}
	if strings.TrimSpace(c.RefreshTokenSecret) == "" {
		errs = append(errs, errors.New("refresh_token_secret is required"))
	}
	if c.AccessTokenSecret != "" && c.AccessTokenSecret == c.RefreshTokenSecret {
		errs = append(errs, errors.New("access and refresh token secrets must differ"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token ttls must be positive"))
	}
	if c.LoginMaxAttempts <= 0 || c.LoginWindow <= 0 {
		errs = append(errs, errors.New("login_max_attempts and login_window must be positive"))
	}
	switch strings.ToLower(c.PasswordHasher) {
	case auth.HasherBcrypt, auth.HasherArgon2id:
	default:
		errs = append(errs, fmt.Errorf("unknown password_hasher %q", c.PasswordHasher))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// TokenConfig projects the token settings.
func (c Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  c.AccessTokenSecret,
		RefreshSecret: c.RefreshTokenSecret,
		AccessTTL:     c.AccessTokenTTL,
		RefreshTTL:    c.RefreshTokenTTL,
		Issuer:        c.TokenIssuer,
	}
}

// ThrottlePolicy projects the login attempt budget.
func (c Config) ThrottlePolicy() throttle.Policy {
	return throttle.Policy{Limit: c.LoginMaxAttempts, Window: c.LoginWindow}
}

type envBinding struct {
	name string
	set  func(*Config, string) error
}

var envBindings = []envBinding{
	{"HTTP_ADDR", func(c *Config, v string) error { c.HTTPAddr = v; return nil }},
	{"GRPC_ADDR", func(c *Config, v string) error { c.GRPCAddr = v; return nil }},
	{"DATABASE_DSN", func(c *Config, v string) error { c.DatabaseDSN = v; return nil }},
	{"DB_MAX_OPEN_CONNS", intSetter(func(c *Config) *int { return &c.DBMaxOpenConns })},
	{"DB_MAX_IDLE_CONNS", intSetter(func(c *Config) *int { return &c.DBMaxIdleConns })},
	{"DB_CONN_MAX_IDLE", durationSetter(func(c *Config) *time.Duration { return &c.DBConnMaxIdle })},
	{"MIGRATE_ON_START", boolSetter(func(c *Config) *bool { return &c.MigrateOnStart })},
	{"REDIS_ADDR", func(c *Config, v string) error { c.RedisAddr = v; return nil }},
	{"REDIS_PASSWORD", func(c *Config, v string) error { c.RedisPassword = v; return nil }},
	{"SHUTDOWN_TIMEOUT", durationSetter(func(c *Config) *time.Duration { return &c.ShutdownTimeout })},
	{"ACCESS_TOKEN_SECRET", func(c *Config, v string) error { c.AccessTokenSecret = v; return nil }},
	{"REFRESH_TOKEN_SECRET", func(c *Config, v string) error { c.RefreshTokenSecret = v; return nil }},
	{"ACCESS_TOKEN_TTL", durationSetter(func(c *Config) *time.Duration { return &c.AccessTokenTTL })},
	{"REFRESH_TOKEN_TTL", durationSetter(func(c *Config) *time.Duration { return &c.RefreshTokenTTL })},
	{"TOKEN_ISSUER", func(c *Config, v string) error { c.TokenIssuer = v; return nil }},
	{"PASSWORD_HASHER", func(c *Config, v string) error { c.PasswordHasher = v; return nil }},
	{"BCRYPT_COST", intSetter(func(c *Config) *int { return &c.BcryptCost })},
	{"LOGIN_MAX_ATTEMPTS", intSetter(func(c *Config) *int { return &c.LoginMaxAttempts })},
	{"LOGIN_WINDOW", durationSetter(func(c *Config) *time.Duration { return &c.LoginWindow })},
	{"FRONTEND_ORIGIN", func(c *Config, v string) error { c.FrontendOrigin = v; return nil }},
	{"TRUST_PROXY_HEADERS", boolSetter(func(c *Config) *bool { return &c.TrustProxyHeaders })},
	{"MAX_BODY_BYTES", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.MaxBodyBytes = n
		return nil
	}},
	{"RATE_LIMIT_BURST", intSetter(func(c *Config) *int { return &c.RateLimitBurst })},
	{"RATE_LIMIT_PER_SEC", intSetter(func(c *Config) *int { return &c.RateLimitPerSec })},
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func durationSetter(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}
