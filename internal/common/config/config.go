package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/amoylab/oauthd/pkg/helper"
	"github.com/amoylab/oauthd/pkg/trace"
)

type (
	// Config is the root configuration of the oauthd service
	Config struct {
		Server    ServerConfig    `yaml:"server" toml:"server"`
		Logger    LoggerConfig    `yaml:"logger" toml:"logger"`
		Storage   StorageConfig   `yaml:"storage" toml:"storage"`
		OAuth     OAuthConfig     `yaml:"oauth" toml:"oauth"`
		Session   SessionConfig   `yaml:"session" toml:"session"`
		RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
		CORS      CORSConfig      `yaml:"cors" toml:"cors"`
		Cleanup   CleanupConfig   `yaml:"cleanup" toml:"cleanup"`
		Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
		Tracing   trace.Config    `yaml:"tracing" toml:"tracing"`
		I18n      I18nConfig      `yaml:"i18n" toml:"i18n"`
	}

	// ServerConfig represents the HTTP listener configuration
	ServerConfig struct {
		Host            string        `yaml:"host" toml:"host"`
		Port            int           `yaml:"port" toml:"port"`
		Issuer          string        `yaml:"issuer" toml:"issuer"`
		PID             string        `yaml:"pid" toml:"pid"`
		TrustedProxies  []string      `yaml:"trusted_proxies" toml:"trusted_proxies"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
		Mode            string        `yaml:"mode" toml:"mode"` // debug, release, test
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level" toml:"level"`             // debug, info, warn, error
		Format     string `yaml:"format" toml:"format"`           // json, console
		Output     string `yaml:"output" toml:"output"`           // stdout, file
		FilePath   string `yaml:"file_path" toml:"file_path"`     // path to log file when output is file
		MaxSize    int    `yaml:"max_size" toml:"max_size"`       // max size of log file in MB
		MaxBackups int    `yaml:"max_backups" toml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age" toml:"max_age"`         // max age of backup files in days
		Compress   bool   `yaml:"compress" toml:"compress"`       // whether to compress backup files
		Color      bool   `yaml:"color" toml:"color"`             // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace" toml:"stacktrace"`   // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone" toml:"time_zone"`     // time zone for log timestamps, default is local
		TimeFormat string `yaml:"time_format" toml:"time_format"` // default is "2006-01-02 15:04:05"
	}

	// StorageConfig selects the persistent store for clients, users, codes and tokens
	StorageConfig struct {
		Type     string         `yaml:"type" toml:"type"` // memory, redis or db
		Database DatabaseConfig `yaml:"database" toml:"database"`
		Redis    RedisConfig    `yaml:"redis" toml:"redis"`
	}

	// DatabaseConfig represents a relational database connection
	DatabaseConfig struct {
		Type     string `yaml:"type" toml:"type"`         // mysql, postgres, sqlite
		Host     string `yaml:"host" toml:"host"`         // localhost
		Port     int    `yaml:"port" toml:"port"`         // 3306 (for mysql), 5432 (for postgres)
		User     string `yaml:"user" toml:"user"`         // root (for mysql), postgres (for postgres)
		Password string `yaml:"password" toml:"password"` // password
		DBName   string `yaml:"dbname" toml:"dbname"`     // database name, or file path for sqlite
		SSLMode  string `yaml:"sslmode" toml:"sslmode"`   // disable (for postgres)
	}

	// RedisConfig represents a redis connection (single, sentinel or cluster)
	RedisConfig struct {
		ClusterType string `yaml:"cluster_type" toml:"cluster_type"`
		Addr        string `yaml:"addr" toml:"addr"` // ; or , separated for sentinel and cluster
		MasterName  string `yaml:"master_name" toml:"master_name"`
		Username    string `yaml:"username" toml:"username"`
		Password    string `yaml:"password" toml:"password"`
		DB          int    `yaml:"db" toml:"db"`
		Prefix      string `yaml:"prefix" toml:"prefix"`
	}

	// OAuthConfig holds credential lifetimes and the seeded clients and users
	OAuthConfig struct {
		CodeTTL           time.Duration `yaml:"code_ttl" toml:"code_ttl"`
		AccessTokenTTL    time.Duration `yaml:"access_token_ttl" toml:"access_token_ttl"`
		RefreshWindow     time.Duration `yaml:"refresh_window" toml:"refresh_window"`
		EarlyRefresh      time.Duration `yaml:"early_refresh" toml:"early_refresh"`
		RevokeOnCodeReuse *bool         `yaml:"revoke_on_code_reuse" toml:"revoke_on_code_reuse"`
		Scopes            []string      `yaml:"scopes" toml:"scopes"`
		Clients           []ClientSeed  `yaml:"clients" toml:"clients"`
		Users             []UserSeed    `yaml:"users" toml:"users"`
	}

	// ClientSeed is a trusted client registered at start-up. Either Secret or
	// SecretHash (bcrypt) must be set.
	ClientSeed struct {
		ID            string   `yaml:"id" toml:"id"`
		Name          string   `yaml:"name" toml:"name"`
		Secret        string   `yaml:"secret" toml:"secret"`
		SecretHash    string   `yaml:"secret_hash" toml:"secret_hash"`
		RedirectURIs  []string `yaml:"redirect_uris" toml:"redirect_uris"`
		AllowedScopes []string `yaml:"allowed_scopes" toml:"allowed_scopes"`
	}

	// UserSeed is a resource owner known to the service
	UserSeed struct {
		ID        string `yaml:"id" toml:"id"`
		Email     string `yaml:"email" toml:"email"`
		Name      string `yaml:"name" toml:"name"`
		AvatarURL string `yaml:"avatar_url" toml:"avatar_url"`
	}

	// SessionConfig configures verification of end-user login sessions
	SessionConfig struct {
		SecretKey  string        `yaml:"secret_key" toml:"secret_key"`
		CookieName string        `yaml:"cookie_name" toml:"cookie_name"`
		Duration   time.Duration `yaml:"duration" toml:"duration"`
	}

	// RateLimitConfig configures the fixed-window limiter
	RateLimitConfig struct {
		Enabled  *bool                   `yaml:"enabled" toml:"enabled"`
		Store    string                  `yaml:"store" toml:"store"` // memory or redis
		Redis    RedisConfig             `yaml:"redis" toml:"redis"`
		Policies map[string]PolicyConfig `yaml:"policies" toml:"policies"`
		// SweepInterval bounds how often the memory store drops ended windows; zero sweeps on every check
		SweepInterval time.Duration `yaml:"sweep_interval" toml:"sweep_interval"`
	}

	// PolicyConfig is a per-endpoint request budget
	PolicyConfig struct {
		Window      time.Duration `yaml:"window" toml:"window"`
		MaxRequests int           `yaml:"max_requests" toml:"max_requests"`
	}

	// CORSConfig is the allow-list applied to the OAuth endpoints
	CORSConfig struct {
		AllowOrigins     []string `yaml:"allow_origins" toml:"allow_origins"`
		AllowMethods     []string `yaml:"allow_methods" toml:"allow_methods"`
		AllowHeaders     []string `yaml:"allow_headers" toml:"allow_headers"`
		ExposeHeaders    []string `yaml:"expose_headers" toml:"expose_headers"`
		AllowCredentials bool     `yaml:"allow_credentials" toml:"allow_credentials"`
		MaxAge           int      `yaml:"max_age" toml:"max_age"`
	}

	// CleanupConfig configures removal of expired tokens and codes
	CleanupConfig struct {
		Mode       string        `yaml:"mode" toml:"mode"` // timer, sampled or off
		Interval   time.Duration `yaml:"interval" toml:"interval"`
		BatchSize  int           `yaml:"batch_size" toml:"batch_size"`
		SampleRate float64       `yaml:"sample_rate" toml:"sample_rate"`
	}

	// MetricsConfig configures the prometheus endpoint
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled" toml:"enabled"`
		Namespace string    `yaml:"namespace" toml:"namespace"`
		Addr      string    `yaml:"addr" toml:"addr"` // separate admin listener, empty serves /metrics on the API port
		Buckets   []float64 `yaml:"buckets" toml:"buckets"`
	}

	// I18nConfig configures localized error descriptions
	I18nConfig struct {
		Path        string `yaml:"path" toml:"path"` // extra translation files, optional
		DefaultLang string `yaml:"default_lang" toml:"default_lang"`
	}
)

// IsEnabled reports whether rate limiting is switched on (default true)
func (c RateLimitConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ShouldRevokeOnCodeReuse reports whether a replayed code revokes issued tokens (default true)
func (c OAuthConfig) ShouldRevokeOnCodeReuse() bool {
	return c.RevokeOnCodeReuse == nil || *c.RevokeOnCodeReuse
}

// Addr returns the listen address of the API server
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig loads configuration from a YAML or TOML file with environment variable support
func LoadConfig(filename string) (*Config, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	cfg, err := Parse(resolveEnv(data), filepath.Ext(cfgPath))
	if err != nil {
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}

// Parse decodes raw configuration, applies defaults and validates the result.
// ext selects the decoder: ".toml" uses TOML, anything else YAML.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode toml config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode yaml config: %w", err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveEnv replaces ${ENV} and ${ENV:default} placeholders
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	switch c.Type {
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	case "sqlite":
		return c.DBName
	default:
		return ""
	}
}
