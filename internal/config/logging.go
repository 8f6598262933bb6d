package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// maskedValue replaces secrets in log output
const maskedValue = "****"

// ParseLevel converts a level name (debug, info, warn, error) to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return l, fmt.Errorf("invalid log level: %q", level)
	}
	return l, nil
}

// NewLogger builds the process logger. Text output goes through tint with
// colors only when the destination is a terminal.
func NewLogger(s LogSettings, w io.Writer) *slog.Logger {
	level, err := ParseLevel(s.Level)
	if err != nil {
		level = slog.LevelInfo
	}

	if s.Format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	}))
}

// LogWithLogger logs the resolved settings as one record with secrets masked
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Resolved configuration", "config", SettingsLogValue(*s))
	if UsesDefaultToken(s) {
		logger.WarnContext(ctx, "Using the default development token; set ACE_API_TOKEN in production")
	}
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	token := ""
	if s.Token != "" {
		token = maskedValue
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.String("token", token),
	)
}

// SearchSettingsLogValue returns a slog.Value for SearchSettings
func SearchSettingsLogValue(s SearchSettings) slog.Value {
	return slog.GroupValue(
		slog.Int("default_limit", s.DefaultLimit),
		slog.Int("max_limit", s.MaxLimit),
		slog.Int("workers", s.Workers),
		slog.Int("chunk_size", s.ChunkSize),
		slog.Int("cache_size", s.CacheSize),
		slog.Bool("fulltext_enabled", s.FullTextEnabled),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	attrs := []slog.Attr{
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.Int64("max_body_bytes", s.MaxBodyBytes),
		{Key: "auth", Value: AuthSettingsLogValue(s.Auth)},
		{Key: "search", Value: SearchSettingsLogValue(s.Search)},
	}
	if s.RateLimit.RequestsPerSecond > 0 {
		attrs = append(attrs, slog.Group("rate_limit",
			slog.Float64("rps", s.RateLimit.RequestsPerSecond),
			slog.Int("burst", s.RateLimit.Burst),
			slog.Bool("trust_proxy", s.RateLimit.TrustProxy),
		))
	}
	attrs = append(attrs,
		slog.String("log_level", s.Log.Level),
		slog.String("log_format", s.Log.Format),
		slog.Bool("mcp_enabled", s.MCP.Enabled),
	)
	return slog.GroupValue(attrs...)
}
