package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLUB_"

type Config struct {
	Name string `yaml:"name" json:"name"`

	Server ServerConfig `yaml:"server" json:"server"`

	Database DatabaseConfig `yaml:"database" json:"database"`

	Redis RedisConfig `yaml:"redis" json:"redis"`

	Line LineConfig `yaml:"line" json:"line"`

	Session SessionConfig `yaml:"session" json:"session"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr" json:"addr"`
	LoginPath   string   `yaml:"login_path" json:"login_path"`
	ProfilePath string   `yaml:"profile_path" json:"profile_path"`
	PublicPaths []string `yaml:"public_paths" json:"public_paths"`
	CSRF        bool     `yaml:"csrf" json:"csrf"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"` // sqlite, postgres
	DSN    string `yaml:"dsn" json:"-"`
	Debug  bool   `yaml:"debug" json:"debug"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	DB      int    `yaml:"db" json:"db"`
	Prefix  string `yaml:"prefix" json:"prefix"`
}

type LineConfig struct {
	ChannelID     string `yaml:"channel_id" json:"channel_id"`
	ChannelSecret string `yaml:"channel_secret" json:"-"`
	LiffAppID     string `yaml:"liff_app_id" json:"liff_app_id"`
	CallbackURL   string `yaml:"callback_url" json:"callback_url"`
	JWKSURL       string `yaml:"jwks_url" json:"jwks_url"`
	ProfileURL    string `yaml:"profile_url" json:"profile_url"`
	Timeout       string `yaml:"timeout" json:"timeout"`
}

type SessionConfig struct {
	SigningKey       string `yaml:"signing_key" json:"-"`
	CookiePrefix     string `yaml:"cookie_prefix" json:"cookie_prefix"`
	DeviceCookie     string `yaml:"device_cookie" json:"device_cookie"`
	PersistentTTL    string `yaml:"persistent_ttl" json:"persistent_ttl"`
	Secure           bool   `yaml:"secure" json:"secure"`
	SameSite         string `yaml:"same_site" json:"same_site"`
	IDTokenCookie    string `yaml:"id_token_cookie" json:"id_token_cookie"`
	AccessTokenParam string `yaml:"access_token_param" json:"access_token_param"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, console
}

// Default returns a configuration usable for local development.
func Default() *Config {
	return &Config{
		Name: "clubauth",
		Server: ServerConfig{
			Addr:        ":8080",
			LoginPath:   "/login",
			ProfilePath: "/profile",
			PublicPaths: []string{"/auth", "/healthz"},
			CSRF:        true,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:clubauth.db?cache=shared",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "club:auth:",
		},
		Line: LineConfig{
			CallbackURL: "http://localhost:8080/auth/line/callback",
			JWKSURL:     "https://api.line.me/oauth2/v2.1/certs",
			ProfileURL:  "https://api.line.me/v2/profile",
			Timeout:     "5s",
		},
		Session: SessionConfig{
			CookiePrefix:     "club_",
			DeviceCookie:     "club_device",
			PersistentTTL:    "720h",
			SameSite:         "Lax",
			IDTokenCookie:    "line_id_token",
			AccessTokenParam: "line_access_token",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := env("ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := env("CSRF"); v != "" {
		c.Server.CSRF, _ = strconv.ParseBool(v)
	}
	if v := env("DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := env("DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := env("DB_DEBUG"); v != "" {
		c.Database.Debug, _ = strconv.ParseBool(v)
	}
	if v := env("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := env("LINE_CHANNEL_ID"); v != "" {
		c.Line.ChannelID = v
	}
	if v := env("LINE_CHANNEL_SECRET"); v != "" {
		c.Line.ChannelSecret = v
	}
	if v := env("LIFF_APP_ID"); v != "" {
		c.Line.LiffAppID = v
	}
	if v := env("SIGNING_KEY"); v != "" {
		c.Session.SigningKey = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// placeholderSigningKeys are sample values that must never sign cookies.
var placeholderSigningKeys = []string{
	"change-me-please-change-me",
	"change-me",
	"changeme",
	"secret",
}

func notPlaceholder(value any) error {
	s, _ := value.(string)
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range placeholderSigningKeys {
		if s == p {
			return fmt.Errorf("must not be a placeholder value")
		}
	}
	return nil
}

// GenerateSigningKey returns a random hex encoded key.
func GenerateSigningKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate signing key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}

// Validate checks the configuration before the server starts.
func (c *Config) Validate() error {
	errs := validation.Errors{
		"server": validation.ValidateStruct(&c.Server,
			validation.Field(&c.Server.Addr, validation.Required),
			validation.Field(&c.Server.LoginPath, validation.Required),
			validation.Field(&c.Server.ProfilePath, validation.Required),
		),
		"database": validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Driver, validation.Required, validation.In("sqlite", "postgres")),
			validation.Field(&c.Database.DSN, validation.Required),
		),
		"redis": validation.ValidateStruct(&c.Redis,
			validation.Field(&c.Redis.Addr, validation.By(func(value any) error {
				if s, _ := value.(string); c.Redis.Enabled && s == "" {
					return fmt.Errorf("cannot be blank when redis is enabled")
				}
				return nil
			})),
		),
		"line": validation.ValidateStruct(&c.Line,
			validation.Field(&c.Line.JWKSURL, validation.Required, is.URL),
			validation.Field(&c.Line.ProfileURL, validation.Required, is.URL),
			validation.Field(&c.Line.CallbackURL, is.URL),
			validation.Field(&c.Line.Timeout, validation.By(duration)),
		),
		"session": validation.ValidateStruct(&c.Session,
			validation.Field(&c.Session.SigningKey, validation.Required, validation.Length(16, 0), validation.By(notPlaceholder)),
			validation.Field(&c.Session.DeviceCookie, validation.Required),
			validation.Field(&c.Session.PersistentTTL, validation.By(duration)),
			validation.Field(&c.Session.SameSite, validation.In("Lax", "Strict", "None")),
		),
		"logging": validation.ValidateStruct(&c.Logging,
			validation.Field(&c.Logging.Level, validation.In("debug", "info", "warn", "error")),
			validation.Field(&c.Logging.Format, validation.In("json", "console")),
		),
	}

	for k, err := range errs {
		if err == nil {
			delete(errs, k)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func duration(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("must be a duration")
	}
	return nil
}

// GetLineTimeout is the timeout for calls to the LINE platform.
func (c *Config) GetLineTimeout() time.Duration {
	d, err := time.ParseDuration(c.Line.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GetPersistentTTL is how long persistent client storage survives.
func (c *Config) GetPersistentTTL() time.Duration {
	d, err := time.ParseDuration(c.Session.PersistentTTL)
	if err != nil || d <= 0 {
		return 30 * 24 * time.Hour
	}
	return d
}

// LineEnabled reports whether a LINE channel is configured.
func (c *Config) LineEnabled() bool {
	return c.Line.ChannelID != ""
}

// GetExternalAppID returns the LIFF app id passed to the LINE capability.
func (c *Config) GetExternalAppID() string {
	return c.Line.LiffAppID
}

// IsDebug reports whether verbose logging was requested.
func (c *Config) IsDebug() bool {
	return strings.EqualFold(c.Logging.Level, "debug")
}
