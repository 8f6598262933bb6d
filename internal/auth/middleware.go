package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/sha1n/ace-mcp-api/internal/apierror"
	"github.com/sha1n/ace-mcp-api/internal/config"
)

// bearerPrefix is stripped from the Authorization header before comparison
const bearerPrefix = "Bearer "

// excludedPaths are paths that bypass authentication (e.g., health checks)
var excludedPaths = map[string]bool{
	"/":       true,
	"/health": true,
}

// isExcludedPath checks if the request path should bypass authentication
func isExcludedPath(path string) bool {
	return excludedPaths[path]
}

// NewMiddleware creates a new authentication middleware based on settings
func NewMiddleware(settings config.AuthSettings) (func(http.Handler) http.Handler, error) {
	switch settings.Type {
	case config.AuthTypeNone, "":
		return func(next http.Handler) http.Handler {
			return next
		}, nil
	case config.AuthTypeBearer:
		if settings.Token == "" {
			return nil, fmt.Errorf("bearer auth requires a non-empty token")
		}
		return withExclusions(bearerMiddleware(settings.Token)), nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", settings.Type)
	}
}

// withExclusions wraps an auth middleware to skip auth for excluded paths
func withExclusions(authMiddleware func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		authedHandler := authMiddleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExcludedPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			authedHandler.ServeHTTP(w, r)
		})
	}
}

// ExtractToken returns the presented token: the header value with a leading
// "Bearer " removed and surrounding whitespace trimmed.
func ExtractToken(header string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimLeft(header, " \t"), bearerPrefix))
}

func bearerMiddleware(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "Missing authorization header")
				return
			}

			if subtle.ConstantTimeCompare([]byte(ExtractToken(header)), expected) != 1 {
				unauthorized(w, "Invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="ace-mcp-api"`)
	apierror.Write(w, apierror.Unauthorized(message))
}
