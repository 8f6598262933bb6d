package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBearer = "bearer"
)

// Log format constants
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// DefaultToken is the development token used when none is configured.
const DefaultToken = "dev-token-change-me"

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type  string `mapstructure:"type"` // AuthTypeNone or AuthTypeBearer
	Token string `mapstructure:"token"`
}

// SearchSettings configuration for ranking and retrieval
type SearchSettings struct {
	DefaultLimit    int  `mapstructure:"default_limit"`
	MaxLimit        int  `mapstructure:"max_limit"`
	Workers         int  `mapstructure:"workers"`
	ChunkSize       int  `mapstructure:"chunk_size"`
	CacheSize       int  `mapstructure:"cache_size"`
	FullTextEnabled bool `mapstructure:"fulltext_enabled"`
}

// RateLimitSettings configuration for per-client request throttling.
// A zero RequestsPerSecond disables rate limiting.
type RateLimitSettings struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// TrustProxy keys clients by X-Forwarded-For / X-Real-IP instead of the
	// connection address. Only enable behind a proxy that sets these headers.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

// LogSettings configuration for the process logger
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MCPSettings configuration for the MCP endpoint
type MCPSettings struct {
	Enabled bool `mapstructure:"enabled"`
}

// Settings application settings
type Settings struct {
	Host         string            `mapstructure:"host"`
	Port         int               `mapstructure:"port"`
	MaxBodyBytes int64             `mapstructure:"max_body_bytes"`
	Auth         AuthSettings      `mapstructure:"auth"`
	Search       SearchSettings    `mapstructure:"search"`
	RateLimit    RateLimitSettings `mapstructure:"rate_limit"`
	Log          LogSettings       `mapstructure:"log"`
	MCP          MCPSettings       `mapstructure:"mcp"`
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("max_body_bytes", int64(32*1024*1024)) // 32MB
	v.SetDefault("auth.type", AuthTypeBearer)
	v.SetDefault("auth.token", DefaultToken)

	v.SetDefault("search.default_limit", 10)
	v.SetDefault("search.max_limit", 100)
	v.SetDefault("search.workers", 4)
	v.SetDefault("search.chunk_size", 512)
	v.SetDefault("search.cache_size", 256)
	v.SetDefault("search.fulltext_enabled", true)

	v.SetDefault("rate_limit.requests_per_second", 0.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.trust_proxy", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", LogFormatText)

	v.SetDefault("mcp.enabled", true)

	// Environment variables
	v.SetEnvPrefix("ACE_API")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific env vars for nested config. PORT and ACE_API_TOKEN are
	// accepted as legacy names.
	_ = v.BindEnv("port", "ACE_API_PORT", "PORT")
	_ = v.BindEnv("auth.type", "ACE_API_AUTH_TYPE")
	_ = v.BindEnv("auth.token", "ACE_API_AUTH_TOKEN", "ACE_API_TOKEN")

	_ = v.BindEnv("search.default_limit", "ACE_API_SEARCH_DEFAULT_LIMIT")
	_ = v.BindEnv("search.max_limit", "ACE_API_SEARCH_MAX_LIMIT")
	_ = v.BindEnv("search.workers", "ACE_API_SEARCH_WORKERS")
	_ = v.BindEnv("search.chunk_size", "ACE_API_SEARCH_CHUNK_SIZE")
	_ = v.BindEnv("search.cache_size", "ACE_API_SEARCH_CACHE_SIZE")
	_ = v.BindEnv("search.fulltext_enabled", "ACE_API_SEARCH_FULLTEXT_ENABLED")

	_ = v.BindEnv("rate_limit.requests_per_second", "ACE_API_RATE_LIMIT_REQUESTS_PER_SECOND")
	_ = v.BindEnv("rate_limit.burst", "ACE_API_RATE_LIMIT_BURST")
	_ = v.BindEnv("rate_limit.trust_proxy", "ACE_API_RATE_LIMIT_TRUST_PROXY")

	_ = v.BindEnv("log.level", "ACE_API_LOG_LEVEL")
	_ = v.BindEnv("log.format", "ACE_API_LOG_FORMAT")

	_ = v.BindEnv("mcp.enabled", "ACE_API_MCP_ENABLED")

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		_ = v.BindPFlag("host", flags.Lookup("host"))
		_ = v.BindPFlag("port", flags.Lookup("port"))
		_ = v.BindPFlag("max_body_bytes", flags.Lookup("max-body-bytes"))
		_ = v.BindPFlag("auth.type", flags.Lookup("auth-type"))
		_ = v.BindPFlag("auth.token", flags.Lookup("auth-token"))

		_ = v.BindPFlag("search.default_limit", flags.Lookup("search-default-limit"))
		_ = v.BindPFlag("search.max_limit", flags.Lookup("search-max-limit"))
		_ = v.BindPFlag("search.workers", flags.Lookup("search-workers"))
		_ = v.BindPFlag("search.cache_size", flags.Lookup("search-cache-size"))
		_ = v.BindPFlag("search.fulltext_enabled", flags.Lookup("search-fulltext-enabled"))

		_ = v.BindPFlag("rate_limit.requests_per_second", flags.Lookup("rate-limit-rps"))
		_ = v.BindPFlag("rate_limit.burst", flags.Lookup("rate-limit-burst"))
		_ = v.BindPFlag("rate_limit.trust_proxy", flags.Lookup("rate-limit-trust-proxy"))

		_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
		_ = v.BindPFlag("log.format", flags.Lookup("log-format"))

		_ = v.BindPFlag("mcp.enabled", flags.Lookup("mcp-enabled"))
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	settings.Auth.Token = strings.TrimSpace(settings.Auth.Token)
	settings.Auth.Type = strings.ToLower(strings.TrimSpace(settings.Auth.Type))
	settings.Log.Format = strings.ToLower(strings.TrimSpace(settings.Log.Format))

	return &settings, nil
}

// ValidateSettings checks for conflicting or out-of-range configurations.
func ValidateSettings(s *Settings) error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got: %d", s.Port)
	}

	if s.MaxBodyBytes <= 0 {
		return errors.New("max-body-bytes must be positive")
	}

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if s.Auth.Token != "" && s.Auth.Token != DefaultToken {
			return errors.New("auth-type 'none' is incompatible with an auth token")
		}
	case AuthTypeBearer:
		if s.Auth.Token == "" {
			return errors.New("auth-type 'bearer' requires a non-empty auth token")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	if err := validateSearchSettings(&s.Search); err != nil {
		return err
	}

	if s.RateLimit.RequestsPerSecond < 0 {
		return errors.New("rate-limit-rps cannot be negative")
	}
	if s.RateLimit.RequestsPerSecond > 0 && s.RateLimit.Burst <= 0 {
		return errors.New("rate-limit-burst must be positive when rate limiting is enabled")
	}

	if _, err := ParseLevel(s.Log.Level); err != nil {
		return err
	}
	switch s.Log.Format {
	case LogFormatText, LogFormatJSON:
		// valid
	default:
		return errors.New("log-format must be 'text' or 'json', got: " + s.Log.Format)
	}

	return nil
}

// validateSearchSettings validates the search configuration
func validateSearchSettings(s *SearchSettings) error {
	if s.DefaultLimit <= 0 {
		return errors.New("search-default-limit must be positive")
	}
	if s.MaxLimit <= 0 {
		return errors.New("search-max-limit must be positive")
	}
	if s.DefaultLimit > s.MaxLimit {
		return errors.New("search-default-limit cannot exceed search-max-limit")
	}
	if s.Workers <= 0 {
		return errors.New("search-workers must be positive")
	}
	if s.ChunkSize <= 0 {
		return errors.New("search-chunk-size must be positive")
	}
	if s.CacheSize < 0 {
		return errors.New("search-cache-size cannot be negative")
	}
	return nil
}

// UsesDefaultToken reports whether bearer auth is on with the built-in development token.
func UsesDefaultToken(s *Settings) bool {
	return s.Auth.Type == AuthTypeBearer && s.Auth.Token == DefaultToken && os.Getenv("ACE_API_TOKEN") == ""
}
