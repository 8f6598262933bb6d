package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("host", "H", "", "Host to listen on")
	flags.IntP("port", "p", 0, "Port to listen on")
	flags.Int64("max-body-bytes", 0, "Maximum request body size in bytes")
	flags.StringP("auth-type", "a", "", "Authentication type: none or bearer")
	flags.StringP("auth-token", "k", "", "Bearer token required on API requests")

	flags.Int("search-default-limit", 0, "Result limit used when a search omits one")
	flags.Int("search-max-limit", 0, "Upper bound for requested search limits")
	flags.Int("search-workers", 0, "Size of the scoring worker pool")
	flags.Int("search-cache-size", 0, "Number of retrieval digests to cache (0 disables)")
	flags.Bool("search-fulltext-enabled", true, "Maintain the full-text index for mode=fulltext searches")

	flags.Float64("rate-limit-rps", 0, "Requests per second allowed per client IP (0 disables)")
	flags.Int("rate-limit-burst", 0, "Burst size for the per-client rate limit")
	flags.Bool("rate-limit-trust-proxy", false, "Identify clients by X-Forwarded-For/X-Real-IP (only behind a trusted proxy)")

	flags.StringP("log-level", "l", "", "Log level: debug, info, warn, or error")
	flags.String("log-format", "", "Log format: text or json")

	flags.Bool("mcp-enabled", true, "Serve MCP tools over SSE at /sse")
}
